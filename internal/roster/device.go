package roster

import (
	"sync"
	"time"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// Sender is the narrow capability a Device holds instead of a strong
// reference back to the owning mesh manager/session, breaking the
// Device<->Manager reference cycle documented in spec.md §9.
type Sender interface {
	Send(frames ...meshcodec.Frame) error
}

// Command is an outbound frame a device wants emitted, optionally after a
// delay (e.g. the setpoint/limit reads a Climate schedules after it
// becomes available, or the ambient-light read a Motion sensor issues
// after every OutputSet frame that changed its state). The mesh session is the single owner
// of timing; devices only describe intent.
type Command struct {
	Frame meshcodec.Frame
	Delay float64 // seconds; 0 means "send now"
}

// Device is the shared reducer interface every device variant implements:
// apply/project plus a Plejd mesh address match rule.
type Device interface {
	Address() byte
	RxAddress() byte
	Kind() DeviceType
	Traits() PlejdTraits
	Name() string
	Hidden() bool

	// MatchFrame reports whether this device should process f.
	MatchFrame(f meshcodec.Frame) bool

	// Apply updates the device's internal state from a matched frame,
	// returning any follow-up commands to enqueue and whether state
	// changed (subscribers are only notified when it has).
	Apply(f meshcodec.Frame) ([]Command, bool)

	// ApplyPoll updates state from one decoded poll/lightlevel record.
	ApplyPoll(rec meshcodec.PollRecord) bool

	// Project returns an immutable outward snapshot of current state.
	Project() any

	// Subscribe registers a listener invoked after every state change,
	// in subscription order. It returns an unsubscribe function.
	Subscribe(fn func(any)) func()

	SetAvailable(available bool)
}

// AvailabilityAware is implemented by variants that need to react to an
// availability transition with follow-up reads (Climate's setpoint/limit
// reads on (re)connect). The dispatch layer type-asserts for this after
// calling SetAvailable.
type AvailabilityAware interface {
	OnAvailable(available bool) []Command
}

// Sweeper is implemented by variants holding time-based transient state
// (Motion's auto-clearing "motion detected" flag). Devices arm no timer of
// their own; Dispatcher.Sweep ticks every registered Sweeper. Nothing in
// meshsession or plejd.Manager calls Dispatcher.Sweep on a timer.
type Sweeper interface {
	Sweep(now time.Time) bool
}

// base implements the address bookkeeping, subscriber fan-out, and default
// match rule shared by every variant; variants embed it and override Apply/
// ApplyPoll/Project.
type base struct {
	listenersMu sync.Mutex

	address       byte
	rxAddress     byte
	deviceAddress byte
	name          string
	room          string
	hidden        bool
	capabilities  PlejdTraits
	kind          DeviceType
	available     bool

	listeners []func(any)
}

func newBase(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits, kind DeviceType) base {
	return base{
		address:       address,
		rxAddress:     rxAddress,
		deviceAddress: deviceAddress,
		name:          name,
		room:          room,
		hidden:        hidden,
		capabilities:  caps,
		kind:          kind,
	}
}

func (b *base) Address() byte          { return b.address }
func (b *base) RxAddress() byte        { return b.rxAddress }
func (b *base) DeviceAddress() byte    { return b.deviceAddress }
func (b *base) Kind() DeviceType       { return b.kind }
func (b *base) Traits() PlejdTraits    { return b.capabilities }
func (b *base) Name() string           { return b.name }
func (b *base) Room() string           { return b.room }
func (b *base) Hidden() bool           { return b.hidden }

// MatchFrame implements the default matching rule of spec.md §4.4: the
// frame's address is this device's address, its rx address, or the
// broadcast pseudo-address.
func (b *base) MatchFrame(f meshcodec.Frame) bool {
	return f.Addr == b.address || f.Addr == b.rxAddress || f.Addr == meshcodec.AddrBroadcast
}

func (b *base) Available() bool {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	return b.available
}

func (b *base) SetAvailable(available bool) {
	b.listenersMu.Lock()
	b.available = available
	b.listenersMu.Unlock()
}

func (b *base) Subscribe(fn func(any)) func() {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, fn)
	idx := len(b.listeners) - 1
	return func() {
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		if idx < len(b.listeners) {
			b.listeners[idx] = nil
		}
	}
}

// notify fans a snapshot out to every still-subscribed listener, in
// subscription order. Safe to call while a variant's own state mutex is
// held, since it never touches that mutex.
func (b *base) notify(snapshot any) {
	b.listenersMu.Lock()
	listeners := append([]func(any){}, b.listeners...)
	b.listenersMu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(snapshot)
		}
	}
}
