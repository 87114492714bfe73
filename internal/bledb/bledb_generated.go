package bledb

import "strings"

// DataVersion identifies the snapshot of UUID data baked into this file.
// The teacher's gen/main.go normally produces this file by downloading
// Nordic Semiconductor's bluetooth-numbers-database and the Bluetooth SIG
// YAML registries at `go generate` time; that step needs network access
// this build doesn't have, so this file instead hand-carries the small
// fixed subset of entries the rest of this module actually looks up:
// the few Bluetooth SIG services/characteristics/descriptors exercised by
// this package's own tests, plus the Plejd mesh's service and five
// characteristics (see uuids.go's sibling set in internal/meshsession).
const DataVersion = "plejdctl-manual-1"

// sigBase is the 128-bit Bluetooth Base UUID suffix; a 128-bit UUID whose
// bytes equal this suffix outside its first 4 bytes reduces to its 16-bit
// short form, exactly as NormalizeUUID's generated counterpart does.
const sigBase = "00001000800000805f9b34fb"

var serviceNames = map[string]string{
	"180d": "Heart Rate",
	"180f": "Battery Service",

	plejdServiceShort: "Plejd Mesh",
}

var characteristicNames = map[string]string{
	"2a37": "Heart Rate Measurement",
	"2a19": "Battery Level",
	"2a01": "Appearance",

	plejdCharPollShort:     "Plejd Lightlevel/Poll",
	plejdCharDataShort:     "Plejd Data",
	plejdCharLastDataShort: "Plejd Last Data",
	plejdCharAuthShort:     "Plejd Auth",
	plejdCharPingShort:     "Plejd Ping",
}

var descriptorNames = map[string]string{
	"2902": "Client Characteristic Configuration",
	"2901": "Characteristic User Descriptor",
}

var appearanceNames = map[uint16]string{
	0:   "Unknown",
	64:  "Phone",
	128: "Computer",
	576: "Heart Rate Sensor",
}

// NormalizeUUID canonicalises a UUID string to the lower-case form used as
// the key in the lookup tables above: braces and dashes stripped, an "0x"
// prefix dropped, and a 128-bit UUID built on the Bluetooth Base UUID
// collapsed to its 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(uuid)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasSuffix(s, sigBase) && s[:4] == "0000" {
		return s[4:8]
	}
	return s
}

// LookupService resolves a service UUID to its human-readable name, or ""
// if unknown.
func LookupService(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// LookupCharacteristic resolves a characteristic UUID to its human-readable
// name, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}

// LookupDescriptor resolves a descriptor UUID to its human-readable name,
// or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptorNames[NormalizeUUID(uuid)]
}

// LookupAppearanceCode resolves a GAP Appearance characteristic value to
// its human-readable category, or "" if unknown.
func LookupAppearanceCode(code uint16) string {
	return appearanceNames[code]
}
