package roster

import "strconv"

// RosterDocument is the projection of the cloud-provided site descriptor
// the core actually consumes, per spec.md §6: "{site, plejdMesh:
// {cryptoKey}, rooms, scenes, devices, plejdDevices, inputSettings,
// outputSettings, motionSensors, inputAddress, outputAddress,
// deviceAddress, rxAddress, roomAddress, sceneIndex}". Field shapes are
// grounded in cloud/site_details.py's SiteDetails model; a caller may
// re-supply a previously-saved document to support offline startup.
type RosterDocument struct {
	Site struct {
		Title string `json:"title"`
		SiteID string `json:"siteId"`
	} `json:"site"`

	PlejdMesh struct {
		CryptoKey string `json:"cryptoKey"`
	} `json:"plejdMesh"`

	Rooms []Room  `json:"rooms"`
	Scenes []SceneRecord `json:"scenes"`

	Devices      []DeviceRecord       `json:"devices"`
	PlejdDevices []PlejdDeviceRecord  `json:"plejdDevices"`

	InputSettings  []InputSettingRecord  `json:"inputSettings"`
	OutputSettings []OutputSettingRecord `json:"outputSettings"`
	MotionSensors  []MotionSensorRecord  `json:"motionSensors"`

	// Address maps: [physicalDeviceId][output-or-input-index] -> mesh address.
	InputAddress  map[string]map[string]int `json:"inputAddress"`
	OutputAddress map[string]map[string]int `json:"outputAddress"`
	// RxAddress: [physicalDeviceId][output-index] -> the address this
	// output listens on in addition to its own (group membership).
	RxAddress map[string]map[string]int `json:"rxAddress"`

	DeviceAddress map[string]int `json:"deviceAddress"`
	RoomAddress   map[string]int `json:"roomAddress"`
	SceneIndex    map[string]int `json:"sceneIndex"`
}

// Room mirrors cloud/site_details.py's Room.
type Room struct {
	RoomID string `json:"roomId"`
	Title  string `json:"title"`
}

// SceneRecord mirrors cloud/site_details.py's Scene.
type SceneRecord struct {
	SceneID            string `json:"sceneId"`
	Title              string `json:"title"`
	HiddenFromSceneList bool  `json:"hiddenFromSceneList"`
}

// DeviceRecord mirrors cloud/site_details.py's Device: one logical output
// or input slot, with its own title/traits/outputType/room.
type DeviceRecord struct {
	ObjectID               string `json:"objectId"`
	DeviceID               string `json:"deviceId"`
	Title                  string `json:"title"`
	Traits                 int    `json:"traits"`
	HiddenFromRoomList     bool   `json:"hiddenFromRoomList"`
	RoomID                 string `json:"roomId"`
	HiddenFromIntegrations bool   `json:"hiddenFromIntegrations"`
	OutputType             string `json:"outputType"`
}

// PlejdDeviceRecord mirrors cloud/site_details.py's PlejdDevice: the
// physical hardware unit.
type PlejdDeviceRecord struct {
	DeviceID             string `json:"deviceId"`
	HardwareID           string `json:"hardwareId"`
	IsFellowshipFollower bool   `json:"isFellowshipFollower"`
	Firmware             struct {
		Notes   string `json:"notes"`
		Version string `json:"version"`
	} `json:"firmware"`
}

// OutputSettingRecord mirrors PlejdDeviceOutputSetting. DeviceParseID
// points at the logical DeviceRecord.ObjectID this output setting
// configures; DeviceID identifies the owning physical hardware unit.
type OutputSettingRecord struct {
	DeviceID       string              `json:"deviceId"`
	DeviceParseID  string              `json:"deviceParseId"`
	Output         int                 `json:"output"`
	ColorTemp      *ColorTemperature   `json:"colorTemperature"`
	Coverable      *CoverableSettings  `json:"coverableSettings"`
}

// ColorTemperature mirrors cloud/site_details.py's ColorTemperature.
type ColorTemperature struct {
	MinTemperature int `json:"minTemperature"`
	MaxTemperature int `json:"maxTemperature"`
}

// CoverableSettings mirrors cloud/site_details.py's CoverableSettings.
type CoverableSettings struct {
	TiltStart *int `json:"coverableTiltStart"`
	TiltEnd   *int `json:"coverableTiltEnd"`
}

// InputSettingRecord mirrors PlejdDeviceInputSetting.
type InputSettingRecord struct {
	DeviceID      string `json:"deviceId"`
	DeviceParseID string `json:"deviceParseId"`
	Input         int    `json:"input"`
	ButtonType    string `json:"buttonType"`
}

// MotionSensorRecord mirrors cloud/site_details.py's MotionSensor.
type MotionSensorRecord struct {
	DeviceID string `json:"deviceId"`
	Input    int    `json:"input"`
}

func (d *RosterDocument) findDeviceByObjectID(id string) *DeviceRecord {
	for i := range d.Devices {
		if d.Devices[i].ObjectID == id {
			return &d.Devices[i]
		}
	}
	return nil
}

func (d *RosterDocument) findPlejdDevice(deviceID string) *PlejdDeviceRecord {
	for i := range d.PlejdDevices {
		if d.PlejdDevices[i].DeviceID == deviceID {
			return &d.PlejdDevices[i]
		}
	}
	return nil
}

func (d *RosterDocument) findRoom(roomID string) *Room {
	for i := range d.Rooms {
		if d.Rooms[i].RoomID == roomID {
			return &d.Rooms[i]
		}
	}
	return nil
}

func addressOf(table map[string]map[string]int, deviceID string, index int) (int, bool) {
	byIndex, ok := table[deviceID]
	if !ok {
		return 0, false
	}
	v, ok := byIndex[strconv.Itoa(index)]
	return v, ok
}

// Build constructs the closed set of Device/Scene variants described by
// this roster document, classifying each output/input per const.py's
// HARDWARE_TYPE fallback, the device record's own outputType field and
// the motionSensors list. Addresses and rx-addresses are joined through the outputAddress/
// inputAddress/rxAddress maps keyed by physical hardware id.
func (d *RosterDocument) Build() ([]Device, []*Scene, string) {
	var devices []Device

	for _, os := range d.OutputSettings {
		logical := d.findDeviceByObjectID(os.DeviceParseID)
		hw := d.findPlejdDevice(os.DeviceID)
		if logical == nil || hw == nil {
			continue
		}
		addr, ok := addressOf(d.OutputAddress, os.DeviceID, os.Output)
		if !ok {
			continue
		}
		rx, _ := addressOf(d.RxAddress, os.DeviceID, os.Output)

		room := ""
		if r := d.findRoom(logical.RoomID); r != nil {
			room = r.Title
		}
		caps := PlejdTraits(logical.Traits)
		hidden := logical.HiddenFromRoomList

		kind := classifyOutput(logical, hw)
		switch kind {
		case DeviceClimate:
			devices = append(devices, NewClimate(byte(addr), byte(rx), byte(addr), logical.Title, room, hidden, caps))
		case DeviceCover:
			devices = append(devices, NewCover(byte(addr), byte(rx), byte(addr), logical.Title, room, hidden, caps))
		case DeviceRelay:
			devices = append(devices, NewRelay(byte(addr), byte(rx), byte(addr), logical.Title, room, hidden, caps))
		case DeviceLight:
			devices = append(devices, NewLight(byte(addr), byte(rx), byte(addr), logical.Title, room, hidden, caps))
		default:
			if hw.IsFellowshipFollower {
				devices = append(devices, NewFellowshipFollower(byte(addr), byte(rx), byte(addr), logical.Title, room, hidden, caps))
			}
		}
	}

	for _, is := range d.InputSettings {
		logical := d.findDeviceByObjectID(is.DeviceParseID)
		hw := d.findPlejdDevice(is.DeviceID)
		if logical == nil || hw == nil {
			continue
		}
		meshAddr, ok := d.DeviceAddress[is.DeviceID]
		if !ok {
			continue
		}
		room := ""
		if r := d.findRoom(logical.RoomID); r != nil {
			room = r.Title
		}
		caps := PlejdTraits(logical.Traits)

		isMotion := false
		for _, m := range d.MotionSensors {
			if m.DeviceID == is.DeviceID && m.Input == is.Input {
				isMotion = true
			}
		}
		if isMotion {
			devices = append(devices, NewMotion(byte(meshAddr), 0, byte(meshAddr), logical.Title, room, logical.HiddenFromRoomList, caps))
		} else {
			devices = append(devices, NewButton(byte(meshAddr), 0, byte(meshAddr), byte(is.Input), logical.Title, room, logical.HiddenFromRoomList, caps))
		}
	}

	var scenes []*Scene
	for _, s := range d.Scenes {
		index, ok := d.SceneIndex[s.SceneID]
		if !ok {
			continue
		}
		scenes = append(scenes, NewScene(byte(index), s.Title, s.HiddenFromSceneList))
	}

	return devices, scenes, d.PlejdMesh.CryptoKey
}

// classifyOutput mirrors interface/__init__.py's outputDeviceClass: a
// fellowship follower always wins regardless of outputType, otherwise the
// device record's own outputType decides, falling back to the hardware
// model's HARDWARE_TYPE table when outputType is absent.
func classifyOutput(logical *DeviceRecord, hw *PlejdDeviceRecord) DeviceType {
	if hw.IsFellowshipFollower {
		return DeviceUnknown
	}
	switch DeviceType(logical.OutputType) {
	case DeviceLight, DeviceRelay, DeviceCover, DeviceClimate:
		return DeviceType(logical.OutputType)
	}
	return HardwareTypeFor(HardwareName(hw.HardwareID))
}
