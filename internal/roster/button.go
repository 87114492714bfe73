package roster

import "github.com/srg/plejdctl/internal/meshcodec"

// ButtonEvent is the transient payload delivered to Button subscribers; it
// is never retained as device state.
type ButtonEvent struct {
	Button int
	Action string // "press" or "release"
}

// Button is a physical input paired to one button index on a device.
// Grounded in interface/plejd_button.py. Unlike other variants, matching
// requires both the frame's decoded input address AND button index to
// agree with this input's own (deviceAddress, buttonIndex) pair — the
// spec.md §4.4 exception to the address-only matching rule.
type Button struct {
	base
	buttonIndex byte
}

// NewButton constructs a Button input.
func NewButton(address, rxAddress, deviceAddress, buttonIndex byte, name, room string, hidden bool, caps PlejdTraits) *Button {
	return &Button{
		base:        newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceButton),
		buttonIndex: buttonIndex,
	}
}

// MatchFrame overrides the default address-only rule: a button frame
// carries its own (addr, button) pair in the payload, not in Frame.Addr.
func (b *Button) MatchFrame(f meshcodec.Frame) bool {
	if f.Opcode != meshcodec.OpEventFired {
		return false
	}
	ev, err := meshcodec.DecodeEventFired(f.Payload)
	if err != nil {
		return false
	}
	return ev.Addr == b.deviceAddress && ev.Button == b.buttonIndex
}

// Apply decodes the event-fired payload and emits a transient ButtonEvent
// plus the event-prepare follow-up the mesh always issues after a button
// press, per spec.md §4.4.
func (b *Button) Apply(f meshcodec.Frame) ([]Command, bool) {
	ev, err := meshcodec.DecodeEventFired(f.Payload)
	if err != nil {
		return nil, false
	}
	action := "press"
	if ev.Action == meshcodec.ButtonRelease {
		action = "release"
	}
	b.notify(ButtonEvent{Button: int(ev.Button), Action: action})
	return []Command{{Frame: meshcodec.NewEventPrepareFrame()}}, true
}

// ApplyPoll is a no-op: buttons don't appear in poll/lightlevel batches.
func (b *Button) ApplyPoll(meshcodec.PollRecord) bool { return false }

// Project returns nil: a Button carries no retained state, only the
// transient events delivered to subscribers.
func (b *Button) Project() any { return nil }
