// Package meshdispatch routes decoded mesh frames to the roster devices
// they address, per spec.md §4.4. It holds no protocol knowledge of its
// own: matching, state mutation, and subscriber fan-out all live on the
// roster.Device reducers; the dispatcher only fans a single inbound event
// out to every device that claims it and collects the follow-up commands
// they produce.
package meshdispatch

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

// Dispatcher is the single-threaded ingress router a mesh session owns.
// It is not safe for concurrent use by design: the owning session is
// expected to serialise calls on its one event loop (spec.md §5).
type Dispatcher struct {
	log     *logrus.Entry
	devices []roster.Device
}

// New constructs a Dispatcher over a roster's devices. The slice is kept
// by reference; the roster is read-only after init so this is safe.
func New(log *logrus.Entry, devices []roster.Device) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{log: log, devices: devices}
}

// Dispatch routes one decoded inbound frame to every device that matches
// it, in roster order, and returns the concatenation of the follow-up
// commands the matched devices produced. A frame matching nothing is
// logged and otherwise discarded; per spec.md §4.4 this is not an error.
func (d *Dispatcher) Dispatch(f meshcodec.Frame) []roster.Command {
	var cmds []roster.Command
	matched := false

	for _, dev := range d.devices {
		if !dev.MatchFrame(f) {
			continue
		}
		matched = true
		follow, changed := dev.Apply(f)
		if !changed {
			continue
		}
		cmds = append(cmds, follow...)
	}

	if !matched {
		if f.Addr == meshcodec.AddrBroadcast {
			d.log.WithField("opcode", f.Opcode).Warn("unknown command")
		} else {
			d.log.WithFields(logrus.Fields{"addr": f.Addr, "opcode": f.Opcode}).Debug("frame matched no device")
		}
	}

	return cmds
}

// pollKind reports which PollRecord interpretation applies to addr, by
// looking up the device (if any) whose own address is addr. Devices with
// no dedicated poll semantics (Button, Scene, FellowshipFollower) fall
// through to PollUnknown, under which DecodePollBatch fills only Addr, On
// and Dim and leaves Position and Temperature zero.
func (d *Dispatcher) pollKind(addr byte) meshcodec.PollKind {
	for _, dev := range d.devices {
		if dev.Address() != addr {
			continue
		}
		switch dev.Kind() {
		case roster.DeviceClimate:
			return meshcodec.PollClimate
		case roster.DeviceCover:
			return meshcodec.PollCover
		case roster.DeviceLight, roster.DeviceRelay:
			return meshcodec.PollLight
		}
	}
	return meshcodec.PollUnknown
}

// DispatchPollBatch decodes a poll/lightlevel payload and applies each
// record to every device whose address or rx-address it carries, via
// ApplyPoll. A truncated batch still applies the records that did decode;
// the truncation is returned as a non-fatal error for the caller to log,
// matching the UnknownOpcode/malformed-frame policy of spec.md §7.
func (d *Dispatcher) DispatchPollBatch(data []byte) error {
	records, err := meshcodec.DecodePollBatch(data, d.pollKind)
	for _, rec := range records {
		for _, dev := range d.devices {
			if dev.Address() != rec.Addr && dev.RxAddress() != rec.Addr {
				continue
			}
			dev.ApplyPoll(rec)
		}
	}
	return err
}

// SetAvailable propagates a connect/disconnect transition to every
// registered device and collects the follow-up commands from devices
// that react to it (Climate's deferred setpoint/limit reads).
func (d *Dispatcher) SetAvailable(available bool) []roster.Command {
	var cmds []roster.Command
	for _, dev := range d.devices {
		dev.SetAvailable(available)
		if aw, ok := dev.(roster.AvailabilityAware); ok {
			cmds = append(cmds, aw.OnAvailable(available)...)
		}
	}
	return cmds
}

// Sweep ticks every device holding time-based transient state (Motion's
// auto-clearing detector) and reports whether any of them changed. Devices
// arm no timer of their own; nothing in meshsession or plejd.Manager calls
// Sweep on a timer.
func (d *Dispatcher) Sweep(now time.Time) bool {
	changed := false
	for _, dev := range d.devices {
		if sw, ok := dev.(roster.Sweeper); ok {
			if sw.Sweep(now) {
				changed = true
			}
		}
	}
	return changed
}
