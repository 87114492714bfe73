package roster

// Hardware-id fallback tables, grounded in const.py's DEVICES class. Used
// when a device's output type is missing from the roster document and
// must be inferred from its hardware id alone.
var hardwareName = map[string]string{
	"0":  "-unknown-",
	"1":  "DIM-01",
	"2":  "DIM-02",
	"3":  "CTR-01",
	"4":  "GWY-01",
	"5":  "LED-10",
	"6":  "WPH-01",
	"7":  "REL-01",
	"8":  "SPR-01",
	"10": "WRT-01",
	"11": "DIM-01-2P",
	"13": "Generic",
	"14": "DIM-01-LC",
	"15": "DIM-02-LC",
	"17": "REL-01-2P",
	"18": "REL-02",
	"20": "SPR-01",
	"36": "LED_75",
}

var hardwareType = map[string]DeviceType{
	"-unknown-":  DeviceUnknown,
	"DIM-01":     DeviceLight,
	"DIM-02":     DeviceLight,
	"CTR-01":     DeviceLight,
	"GWY-01":     DeviceUnknown,
	"LED-10":     DeviceLight,
	"WPH-01":     DeviceButton,
	"REL-01":     DeviceRelay,
	"SPR-01":     DeviceRelay,
	"WRT-01":     DeviceButton,
	"DIM-01-2P":  DeviceLight,
	"Generic":    DeviceLight,
	"DIM-01-LC":  DeviceLight,
	"DIM-02-LC":  DeviceLight,
	"REL-01-2P":  DeviceRelay,
	"REL-02":     DeviceRelay,
	"LED_75":     DeviceLight,
}

var dimmableHardware = map[string]bool{
	"DIM-01":    true,
	"DIM-02":    true,
	"LED-10":    true,
	"DIM-01-2P": true,
	"DIM-01-LC": true,
	"DIM-02-LC": true,
	"LED_75":    true,
}

// HardwareName resolves a numeric hardware id to its model name.
func HardwareName(hardwareID string) string {
	if name, ok := hardwareName[hardwareID]; ok {
		return name
	}
	return "-unknown-"
}

// HardwareTypeFor resolves a model name to its fallback device type.
func HardwareTypeFor(name string) DeviceType {
	if t, ok := hardwareType[name]; ok {
		return t
	}
	return DeviceUnknown
}

// HardwareDimmable reports whether the named hardware model is dimmable.
func HardwareDimmable(name string) bool {
	return dimmableHardware[name]
}
