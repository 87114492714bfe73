package meshcodec

import (
	"encoding/binary"
	"fmt"
)

// Thermostat mode byte values carried by OpThermostatMode.
const (
	ThermostatModeOff  byte = 0x00
	ThermostatModeHeat byte = 0x01
)

// ButtonAction distinguishes a press from a release in an EventFired frame.
type ButtonAction int

const (
	ButtonPress ButtonAction = iota
	ButtonRelease
)

// EventFired is the decoded payload of an OpEventFired frame:
// addr(1) btn(1) [action(1)].
type EventFired struct {
	Addr   byte
	Button byte
	Action ButtonAction
}

// DecodeEventFired decodes an OpEventFired payload.
func DecodeEventFired(payload []byte) (EventFired, error) {
	if len(payload) < 2 {
		return EventFired{}, fmt.Errorf("meshcodec: event-fired payload too short: %d bytes", len(payload))
	}
	action := ButtonPress
	if len(payload) >= 3 && payload[2] == 0 {
		action = ButtonRelease
	}
	return EventFired{Addr: payload[0], Button: payload[1], Action: action}, nil
}

// NewEventPrepareFrame builds the empty event-prepare request.
func NewEventPrepareFrame() Frame {
	return NewFrame(AddrBroadcast, OpEventPrepare, nil)
}

// TimePayloadLen is the length of the time broadcast/read payload: 5-byte
// little-endian seconds-since-epoch (see DESIGN.md's resolution of the
// time-broadcast Open Question).
const TimePayloadLen = 5

// EncodeTime encodes a Unix timestamp into the 5-byte little-endian form
// used for both broadcasting the time (address 0) and the device's
// time-read response.
func EncodeTime(unixSeconds int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(unixSeconds))
	return buf[:TimePayloadLen]
}

// DecodeTime decodes a 4- or 5-byte little-endian timestamp payload.
func DecodeTime(payload []byte) (int64, error) {
	if len(payload) != 4 && len(payload) != 5 {
		return 0, fmt.Errorf("meshcodec: time payload must be 4 or 5 bytes, got %d", len(payload))
	}
	var buf [8]byte
	copy(buf[:], payload)
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// NewTimeBroadcastFrame builds the address-0 time broadcast frame.
func NewTimeBroadcastFrame(unixSeconds int64) Frame {
	f := NewFrame(AddrBroadcast, OpTime, EncodeTime(unixSeconds))
	f.CmdType = CmdWrite
	return f
}

// NewTimeReadFrame builds a read-style time request to addr (used by
// poll_time to check a device's clock drift).
func NewTimeReadFrame(addr byte) Frame {
	f := NewFrame(addr, OpTime, nil)
	f.CmdType = CmdRead
	return f
}

// NewSceneFrame builds a scene-trigger/observe frame for the given index.
func NewSceneFrame(index byte) Frame {
	return NewFrame(AddrScene, OpScene, []byte{index})
}

// NewGroupOutputStateFrame builds a plain on/off command.
func NewGroupOutputStateFrame(addr byte, on bool) Frame {
	var b byte
	if on {
		b = 1
	}
	return NewFrame(addr, OpGroupOutputState, []byte{b})
}

// NewGroupOutputStateLevelFrame builds a state+level command. dim is
// duplicated into both the low and high byte of the 16-bit level field,
// matching the wire layout the original uses for a single dim value.
func NewGroupOutputStateLevelFrame(addr byte, on bool, dim byte) Frame {
	var b byte
	if on {
		b = 1
	}
	return NewFrame(addr, OpGroupOutputStateLevel, []byte{b, dim, dim})
}

// OutputStateLevel is the decoded payload of an inbound 0x0098/0x00C8 frame
// for a non-climate device: on(1) low(1) high(1) [extra...].
type OutputStateLevel struct {
	On            bool
	Dim           byte
	CoverPosition int16
	CoverAngle    *int
}

// DecodeOutputStateLevel decodes a non-climate 0x0098/0x00C8 payload.
func DecodeOutputStateLevel(payload []byte) (OutputStateLevel, error) {
	if len(payload) < 3 {
		return OutputStateLevel{}, fmt.Errorf("meshcodec: output-state-level payload too short: %d bytes", len(payload))
	}
	result := OutputStateLevel{
		On:            payload[0] != 0,
		Dim:           payload[2],
		CoverPosition: int16(binary.LittleEndian.Uint16(payload[1:3])),
	}
	if len(payload) > 3 {
		angle := decodeCoverAngle(payload[3])
		result.CoverAngle = &angle
	}
	return result, nil
}

// decodeCoverAngle decodes the unverified 6-bit cover tilt angle (see
// DESIGN.md Open Question (b)): bit 5 marks a negative value, whose
// magnitude is the ones' complement of the low 5 bits. Treated as
// advisory only, never used to suppress a "lost position" reading.
func decodeCoverAngle(b byte) int {
	angle := int(b)
	sign := 1
	if angle&0x20 != 0 {
		angle = ^angle
		sign = -1
	}
	return (angle & 0x1F) * sign
}

// ClimateStatus is the decoded payload of an inbound 0x0098 frame for a
// device classified as Climate.
type ClimateStatus struct {
	On                 bool
	CurrentTemperature int
	Heating            bool
}

// ThermostatTempMask isolates the temperature bits of a climate status2
// byte; the status2 byte also carries other, currently-unused flag bits.
const ThermostatTempMask = 0x3F

// DecodeClimateStatus decodes a 0x0098 payload destined for a Climate
// device: payload[0] is on/off, status2=payload[2] & mask - 10 is the
// current temperature, heating is payload[3]==0x80 when present.
func DecodeClimateStatus(payload []byte) (ClimateStatus, error) {
	if len(payload) < 3 {
		return ClimateStatus{}, fmt.Errorf("meshcodec: climate status payload too short: %d bytes", len(payload))
	}
	status := ClimateStatus{
		On:                 payload[0] != 0,
		CurrentTemperature: int(payload[2]&ThermostatTempMask) - 10,
	}
	if len(payload) > 3 {
		status.Heating = payload[3] == 0x80
	}
	return status, nil
}

// NewTunableWhiteFrame builds the tunable-white setpoint command.
func NewTunableWhiteFrame(addr byte, kelvin int) Frame {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(kelvin))
	return NewFrame(addr, OpTunableWhiteSetpoint, buf[:])
}

// NewAmbientLightReadFrame requests an ambient-light-level read, issued
// after every OutputSet frame that changed a motion sensor's state.
func NewAmbientLightReadFrame(addr byte) Frame {
	f := NewFrame(addr, OpAmbientLightLevel, nil)
	f.CmdType = CmdRead
	return f
}

// NewThermostatSetpointFrame encodes a target temperature in tenths of a
// degree, little-endian, as the thermostat setpoint command.
func NewThermostatSetpointFrame(addr byte, tenthsOfDegree int16) Frame {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(tenthsOfDegree))
	return NewFrame(addr, OpThermostatSetpoint, buf[:])
}

// NewThermostatSetpointReadFrame requests a read of the current setpoint.
func NewThermostatSetpointReadFrame(addr byte) Frame {
	f := NewFrame(addr, OpThermostatSetpoint, nil)
	f.CmdType = CmdRead
	return f
}

// DecodeThermostatSetpoint decodes a setpoint payload into degrees Celsius.
func DecodeThermostatSetpoint(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("meshcodec: thermostat setpoint payload too short: %d bytes", len(payload))
	}
	tenths := int16(binary.LittleEndian.Uint16(payload[:2]))
	return float64(tenths) / 10.0, nil
}

// NewThermostatModeFrame builds a thermostat mode-change command.
func NewThermostatModeFrame(addr byte, mode byte) Frame {
	return NewFrame(addr, OpThermostatMode, []byte{mode})
}

// NewThermostatLimitsReadFrame requests one of the three thermostat limit
// sub-records (sub_id 0, 1, or 2), matching read_thermostat_limits.
func NewThermostatLimitsReadFrame(addr byte, subID byte) Frame {
	f := NewFrame(addr, OpThermostatLimits, []byte{subID})
	f.CmdType = CmdRead
	return f
}

// ThermostatLimits is the decoded payload of an inbound OpThermostatLimits
// frame: sub(1) followed by a min/max block (2 bytes each, tenths of a
// degree, little-endian).
type ThermostatLimits struct {
	SubID byte
	Min   float64
	Max   float64
}

// DecodeThermostatLimits decodes one thermostat-limits sub-record.
func DecodeThermostatLimits(payload []byte) (ThermostatLimits, error) {
	if len(payload) < 5 {
		return ThermostatLimits{}, fmt.Errorf("meshcodec: thermostat limits payload too short: %d bytes", len(payload))
	}
	minT := int16(binary.LittleEndian.Uint16(payload[1:3]))
	maxT := int16(binary.LittleEndian.Uint16(payload[3:5]))
	return ThermostatLimits{
		SubID: payload[0],
		Min:   float64(minT) / 10.0,
		Max:   float64(maxT) / 10.0,
	}, nil
}

// NewThermostatResetModeFrame requests the thermostat's operating mode be
// reset to its device default.
func NewThermostatResetModeFrame(addr byte) Frame {
	return NewFrame(addr, OpThermostatResetMode, nil)
}
