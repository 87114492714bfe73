//go:generate go run ./gen
package bledb

// This file exists to declare the package and trigger the generator.
// All the generated data and Lookup API will appear in bledb_generated.go.
// You can import this package and call bledb.LookupService(uuid),
// bledb.LookupCharacteristic(uuid) or bledb.LookupDescriptor(uuid), or check
// bledb.DataVersion for the data version.

// Plejd's primary mesh service and its five characteristics, registered
// here so bledb.Lookup* resolves them to friendly names in logs exactly as
// it resolves Bluetooth SIG UUIDs. Short forms are the 128-bit UUIDs with
// dashes stripped, matching NormalizeUUID's output for a non-SIG-base UUID.
const (
	plejdServiceShort      = "31ba000160854726be45040c957391b5"
	plejdCharPollShort     = "31ba000360854726be45040c957391b5"
	plejdCharDataShort     = "31ba000460854726be45040c957391b5"
	plejdCharLastDataShort = "31ba000560854726be45040c957391b5"
	plejdCharAuthShort     = "31ba000960854726be45040c957391b5"
	plejdCharPingShort     = "31ba000a60854726be45040c957391b5"
)
