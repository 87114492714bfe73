// Package meshcodec implements the Plejd mesh wire format: the outer
// command frame, the mini-package TLV payload used by the composite
// OutputSet opcode, and the fixed-size poll/lightlevel batch records.
package meshcodec

import (
	"encoding/binary"
	"fmt"
)

// CmdType is the third byte of every frame, distinguishing write/ack/read
// and whether the sender expects a reply.
type CmdType byte

const (
	CmdWrite       CmdType = 0x00
	CmdAck         CmdType = 0x01
	CmdRead        CmdType = 0x02
	CmdDontRespond CmdType = 0x10
)

// Opcode identifies the command carried by a frame's payload.
type Opcode uint16

const (
	OpEventPrepare           Opcode = 0x0015
	OpEventFired             Opcode = 0x0016
	OpTime                   Opcode = 0x001B
	OpScene                  Opcode = 0x0021
	OpGroupOutputState       Opcode = 0x0097
	OpGroupOutputStateLevel  Opcode = 0x0098
	OpOutputStateLevel       Opcode = 0x00C8
	OpTunableWhiteSetpoint   Opcode = 0x0101
	OpOutputSet              Opcode = 0x0420
	OpAmbientLightLevel      Opcode = 0x0434
	OpThermostatSetpoint     Opcode = 0x045C
	OpThermostatMode         Opcode = 0x045F
	OpThermostatLimits       Opcode = 0x0460
	OpThermostatResetMode    Opcode = 0x047E
)

func (o Opcode) String() string {
	switch o {
	case OpEventPrepare:
		return "event-prepare"
	case OpEventFired:
		return "event-fired"
	case OpTime:
		return "time"
	case OpScene:
		return "scene"
	case OpGroupOutputState:
		return "group-output-state"
	case OpGroupOutputStateLevel:
		return "group-output-state-level"
	case OpOutputStateLevel:
		return "output-state-level"
	case OpTunableWhiteSetpoint:
		return "tunable-white-setpoint"
	case OpOutputSet:
		return "output-set"
	case OpAmbientLightLevel:
		return "ambient-light-level"
	case OpThermostatSetpoint:
		return "thermostat-setpoint"
	case OpThermostatMode:
		return "thermostat-mode"
	case OpThermostatLimits:
		return "thermostat-limits"
	case OpThermostatResetMode:
		return "thermostat-reset-mode"
	default:
		return fmt.Sprintf("opcode(0x%04x)", uint16(o))
	}
}

// Pseudo mesh addresses with special meaning.
const (
	AddrBroadcast = 0x00
	AddrTime      = 0x01
	AddrScene     = 0x02
)

// FrameVersion is the constant version byte of every frame.
const FrameVersion = 0x01

// Frame is one decoded command frame:
//
//	ADDR(1) VER=0x01(1) CMDTYPE(1) OPCODE(2, big-endian) PAYLOAD(n)
type Frame struct {
	Addr    byte
	CmdType CmdType
	Opcode  Opcode
	Payload []byte
}

// NewFrame builds a frame defaulting to CmdDontRespond, matching the
// original's default for freshly constructed outbound commands.
func NewFrame(addr byte, opcode Opcode, payload []byte) Frame {
	return Frame{Addr: addr, CmdType: CmdDontRespond, Opcode: opcode, Payload: payload}
}

// Encode serialises the frame to its wire bytes.
func (f Frame) Encode() []byte {
	out := make([]byte, 0, 5+len(f.Payload))
	out = append(out, f.Addr, FrameVersion, byte(f.CmdType))
	var opBuf [2]byte
	binary.BigEndian.PutUint16(opBuf[:], uint16(f.Opcode))
	out = append(out, opBuf[:]...)
	out = append(out, f.Payload...)
	return out
}

// DecodeFrame parses the wire bytes of a single frame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 5 {
		return Frame{}, fmt.Errorf("meshcodec: frame too short: %d bytes", len(data))
	}
	return Frame{
		Addr:    data[0],
		CmdType: CmdType(data[2]),
		Opcode:  Opcode(binary.BigEndian.Uint16(data[3:5])),
		Payload: append([]byte(nil), data[5:]...),
	}, nil
}

// MiniPkgs decodes the frame's payload as a sequence of mini-packages. Only
// meaningful for OpOutputSet frames.
func (f Frame) MiniPkgs() ([]MiniPkg, error) {
	return DecodeMiniPkgs(f.Payload)
}

// NewOutputSetFrame builds an OpOutputSet frame from a list of mini-packages.
func NewOutputSetFrame(addr byte, pkgs ...MiniPkg) Frame {
	return NewFrame(addr, OpOutputSet, EncodeMiniPkgs(pkgs))
}
