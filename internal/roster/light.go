package roster

import (
	"encoding/binary"
	"sync"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// LightState is the outward projection of a Light device.
type LightState struct {
	Available bool
	State     bool
	Dim       *int // 0..255, nil when unknown
	ColorTemp *int // Kelvin, nil when the device isn't white-tunable or unset
}

// Light is a dimmable, optionally white-tunable output. Grounded in
// interface/plejd_light.py's PlejdLight.
type Light struct {
	base
	mu         sync.Mutex
	dimmable   bool
	tunable    bool
	colorRange [2]int

	state LightState
}

// NewLight constructs a Light device.
func NewLight(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *Light {
	return &Light{
		base:     newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceLight),
		dimmable: caps.Has(TraitDim),
		tunable:  caps.Has(TraitTemp),
	}
}

func (l *Light) Project() any {
	l.mu.Lock()
	snapshot := l.state
	l.mu.Unlock()
	snapshot.Available = l.Available()
	return snapshot
}

// Apply decodes an inbound frame against this light's current state.
func (l *Light) Apply(f meshcodec.Frame) ([]Command, bool) {
	l.mu.Lock()
	changed := true

	switch f.Opcode {
	case meshcodec.OpGroupOutputState:
		if len(f.Payload) < 1 {
			changed = false
			break
		}
		l.state.State = f.Payload[0] != 0
	case meshcodec.OpGroupOutputStateLevel, meshcodec.OpOutputStateLevel:
		decoded, err := meshcodec.DecodeOutputStateLevel(f.Payload)
		if err != nil {
			changed = false
			break
		}
		l.state.State = decoded.On
		if decoded.On {
			dim := int(decoded.Dim)
			l.state.Dim = &dim
		}
	case meshcodec.OpOutputSet:
		pkgs, err := f.MiniPkgs()
		if err != nil {
			changed = false
			break
		}
		changed = false
		for _, p := range pkgs {
			if p.Type == meshcodec.TypeWhiteBalance && len(p.Payload) == 2 {
				ct := int(binary.BigEndian.Uint16(p.Payload))
				l.state.ColorTemp = &ct
				changed = true
			}
		}
	default:
		changed = false
	}

	snapshot := l.state
	l.mu.Unlock()
	if !changed {
		return nil, false
	}
	snapshot.Available = l.Available()
	l.notify(snapshot)
	return nil, true
}

// ApplyPoll updates state from a poll/lightlevel batch record.
func (l *Light) ApplyPoll(rec meshcodec.PollRecord) bool {
	l.mu.Lock()
	l.state.State = rec.On
	if rec.On {
		dim := int(rec.Dim)
		l.state.Dim = &dim
	}
	snapshot := l.state
	l.mu.Unlock()
	snapshot.Available = l.Available()
	l.notify(snapshot)
	return true
}

// TurnOn builds the commands to switch the light on, optionally setting a
// dim level and/or a white-balance color temperature (Kelvin).
func (l *Light) TurnOn(dim *int, colorTempKelvin *int) []Command {
	var cmds []Command
	if dim != nil {
		d := byte(*dim)
		cmds = append(cmds, Command{Frame: meshcodec.NewGroupOutputStateLevelFrame(l.address, true, d)})
	} else {
		cmds = append(cmds, Command{Frame: meshcodec.NewGroupOutputStateFrame(l.address, true)})
	}
	if colorTempKelvin != nil && l.tunable {
		cmds = append(cmds, Command{Frame: meshcodec.NewOutputSetFrame(l.address,
			meshcodec.MiniPkg{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceManual}},
			miniPkgWhiteBalance(*colorTempKelvin),
		)})
	}
	return cmds
}

// TurnOff builds the command to switch the light off.
func (l *Light) TurnOff() []Command {
	return []Command{{Frame: meshcodec.NewGroupOutputStateFrame(l.address, false)}}
}

func miniPkgWhiteBalance(kelvin int) meshcodec.MiniPkg {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(kelvin))
	return meshcodec.MiniPkg{Type: meshcodec.TypeWhiteBalance, Payload: buf[:]}
}
