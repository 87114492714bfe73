package roster

import (
	"sync"
	"time"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// MotionTimeout is the auto-clear window for a triggered motion sensor.
// Motion sensors themselves time out at 25-35s; by the Nyquist criterion
// the clear timeout needs to be at least double that to avoid missing a
// sustained-occupancy event, hence 75s (interface/plejd_motion_sensor.py).
const MotionTimeout = 75 * time.Second

// MotionState is the outward projection of a Motion device.
type MotionState struct {
	Available bool
	Motion    bool
	Luminance *bool // true == bright, matching TypeLux payload[0]==2
	Battery   *int
}

// Motion is a PIR/motion input. Grounded in
// interface/plejd_motion_sensor.py.
type Motion struct {
	base
	mu          sync.Mutex
	state       MotionState
	lastTrigger time.Time
}

// NewMotion constructs a Motion device.
func NewMotion(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *Motion {
	return &Motion{base: newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceMotion)}
}

func (m *Motion) Project() any {
	m.mu.Lock()
	snapshot := m.state
	m.mu.Unlock()
	snapshot.Available = m.Available()
	return snapshot
}

// MatchFrame restricts matching to this input's own deviceAddress, since
// motion events arrive addressed to the physical device, not m.address.
func (m *Motion) MatchFrame(f meshcodec.Frame) bool {
	return f.Addr == m.deviceAddress || f.Addr == meshcodec.AddrBroadcast
}

// Apply handles a TypeSource/TypeBatteryInfo/TypeLux mini-package set
// carried by an OutputSet frame, issuing an ambient-light read follow-up
// whenever the frame changed state (a motion trigger, battery or lux).
func (m *Motion) Apply(f meshcodec.Frame) ([]Command, bool) {
	if f.Opcode != meshcodec.OpOutputSet {
		return nil, false
	}
	pkgs, err := f.MiniPkgs()
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	changed := false
	triggered := false
	for _, p := range pkgs {
		switch p.Type {
		case meshcodec.TypeSource:
			if len(p.Payload) > 0 && p.Payload[0] == meshcodec.SourceMotion {
				triggered = true
			}
		case meshcodec.TypeBatteryInfo:
			if len(p.Payload) == 2 {
				v := int(p.Payload[0])<<8 | int(p.Payload[1])
				m.state.Battery = &v
				changed = true
			}
		case meshcodec.TypeLux:
			if len(p.Payload) > 0 {
				bright := p.Payload[0] == 2
				m.state.Luminance = &bright
				changed = true
			}
		}
	}
	if triggered {
		m.state.Motion = true
		m.lastTrigger = time.Now()
		changed = true
	}
	snapshot := m.state
	m.mu.Unlock()

	if !changed {
		return nil, false
	}
	snapshot.Available = m.Available()
	m.notify(snapshot)

	// The ambient-light read follows every OutputSet frame that changed
	// state, not just motion-triggered ones (a battery- or lux-only update
	// still triggers it); a frame that changed nothing returned above.
	cmds := []Command{{Frame: meshcodec.NewAmbientLightReadFrame(m.address)}}
	return cmds, true
}

// ApplyPoll is a no-op: motion sensors don't appear in poll/lightlevel
// batches.
func (m *Motion) ApplyPoll(meshcodec.PollRecord) bool { return false }

// Sweep clears a stale "motion detected" flag once MotionTimeout has
// elapsed since the last trigger.
func (m *Motion) Sweep(now time.Time) bool {
	m.mu.Lock()
	if !m.state.Motion || now.Sub(m.lastTrigger) < MotionTimeout {
		m.mu.Unlock()
		return false
	}
	m.state.Motion = false
	snapshot := m.state
	m.mu.Unlock()
	snapshot.Available = m.Available()
	m.notify(snapshot)
	return true
}
