package roster

import (
	"sync"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// RelayState is the outward projection of a Relay device.
type RelayState struct {
	Available bool
	State     bool
}

// Relay is a plain on/off output. Grounded in interface/plejd_relay.py.
type Relay struct {
	base
	mu    sync.Mutex
	state RelayState
}

// NewRelay constructs a Relay device.
func NewRelay(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *Relay {
	return &Relay{base: newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceRelay)}
}

func (r *Relay) Project() any {
	r.mu.Lock()
	snapshot := r.state
	r.mu.Unlock()
	snapshot.Available = r.Available()
	if !snapshot.Available {
		snapshot.State = false
	}
	return snapshot
}

func (r *Relay) Apply(f meshcodec.Frame) ([]Command, bool) {
	var on bool
	switch f.Opcode {
	case meshcodec.OpGroupOutputState:
		if len(f.Payload) < 1 {
			return nil, false
		}
		on = f.Payload[0] != 0
	case meshcodec.OpGroupOutputStateLevel, meshcodec.OpOutputStateLevel:
		decoded, err := meshcodec.DecodeOutputStateLevel(f.Payload)
		if err != nil {
			return nil, false
		}
		on = decoded.On
	default:
		return nil, false
	}

	r.mu.Lock()
	r.state.State = on
	snapshot := r.state
	r.mu.Unlock()
	snapshot.Available = r.Available()
	r.notify(snapshot)
	return nil, true
}

func (r *Relay) ApplyPoll(rec meshcodec.PollRecord) bool {
	r.mu.Lock()
	r.state.State = rec.On
	snapshot := r.state
	r.mu.Unlock()
	snapshot.Available = r.Available()
	r.notify(snapshot)
	return true
}

// TurnOn builds the command to switch the relay on.
func (r *Relay) TurnOn() []Command {
	return []Command{{Frame: meshcodec.NewGroupOutputStateFrame(r.address, true)}}
}

// TurnOff builds the command to switch the relay off.
func (r *Relay) TurnOff() []Command {
	return []Command{{Frame: meshcodec.NewGroupOutputStateFrame(r.address, false)}}
}
