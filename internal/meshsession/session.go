// Package meshsession implements the Plejd mesh session state machine of
// spec.md §4.3: gateway selection over BLE, connect/authenticate/keep-alive/
// reconnect/disconnect, and the serialised write path every higher-level
// mesh operation goes through. It is built on internal/device's generic
// GATT capability layer (Connection/Characteristic) rather than talking to
// go-ble directly, grounded in github.com/srg/blim's own layering and
// documented in DESIGN.md. Protocol knowledge (framing, crypto, dispatch)
// stays in meshcodec/meshcrypto/meshdispatch; this package only sequences
// GATT operations and owns the one mutable session.
package meshsession

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/plejdctl/internal/device"
	"github.com/srg/plejdctl/internal/groutine"
	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/meshcrypto"
	"github.com/srg/plejdctl/internal/roster"
)

// DefaultPingInterval is the keep-alive cycle spec.md §4.3 names as the
// default: "every keep-alive cycle (default 10 minutes)".
const DefaultPingInterval = 10 * time.Minute

// DefaultConnectTimeout bounds a single gateway candidate's connect
// attempt (service discovery included).
const DefaultConnectTimeout = 10 * time.Second

// DefaultGATTTimeout bounds a single GATT read/write operation, per
// spec.md §5: "A single short timeout ... applies to each GATT op."
const DefaultGATTTimeout = 5 * time.Second

// FrameHandler receives every decrypted, decoded inbound frame from the
// data/lastdata characteristic.
type FrameHandler func(meshcodec.Frame)

// PollBatchHandler receives the raw bytes of a poll/lightlevel
// notification; poll batches are never encrypted (see DESIGN.md).
type PollBatchHandler func([]byte)

// StateHandler is invoked on every connect/disconnect transition.
type StateHandler func(connected bool)

// DeviceFactory constructs a device.Device for a BLE address; overridden
// in tests to avoid touching a real radio, matching internal/devicefactory's
// own seam.
type DeviceFactory func(bleAddress string) device.Device

// Options configures a Mesh.
type Options struct {
	NewDevice      DeviceFactory
	Logger         *logrus.Logger
	ConnectTimeout time.Duration
	GATTTimeout    time.Duration
	PingInterval   time.Duration
}

// Mesh is the single mesh session a Manager owns: at most one gateway
// connection at a time, serialised outbound writes, and ingress dispatch
// to the handlers registered via SetHandlers.
type Mesh struct {
	log            *logrus.Entry
	newDevice      DeviceFactory
	connectTimeout time.Duration
	gattTimeout    time.Duration
	pingInterval   time.Duration

	// writeMu serialises every GATT write that is part of a higher-level
	// operation (spec.md §4.3 "Write serialisation"): at most one
	// in-flight write-with-response, and multi-frame operations hold it
	// for their full sequence.
	writeMu sync.Mutex

	// mu guards the mutable session fields below; egress is additionally
	// serialised by writeMu, ingress runs on the BLE stack's notification
	// goroutine and only ever touches these fields through mu.
	mu          sync.Mutex
	key         [meshcrypto.KeySize]byte
	dev         device.Device
	conn        device.Connection
	gatewayNode *roster.MeshNode
	gatewayAddr [meshcrypto.AddressSize]byte
	connected   bool

	pollChar     device.Characteristic
	dataChar     device.Characteristic
	lastDataChar device.Characteristic
	authChar     device.Characteristic
	pingChar     device.Characteristic

	onFrame      FrameHandler
	onPollBatch  PollBatchHandler
	onState      StateHandler
	buttonSeenMu sync.Mutex
	buttonSeen   bool

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
}

// New constructs a Mesh keyed by the site's crypto key.
func New(key [meshcrypto.KeySize]byte, opts Options) *Mesh {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	newDevice := opts.NewDevice
	if newDevice == nil {
		panic("meshsession: Options.NewDevice is required")
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	gattTimeout := opts.GATTTimeout
	if gattTimeout <= 0 {
		gattTimeout = DefaultGATTTimeout
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Mesh{
		log:            log.WithField("component", "meshsession"),
		newDevice:      newDevice,
		connectTimeout: connectTimeout,
		gattTimeout:    gattTimeout,
		pingInterval:   pingInterval,
		key:            key,
	}
}

// SetHandlers registers the dispatch callbacks invoked from notification
// delivery. Must be called before Connect.
func (m *Mesh) SetHandlers(onFrame FrameHandler, onPollBatch PollBatchHandler, onState StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = onFrame
	m.onPollBatch = onPollBatch
	m.onState = onState
}

// Connected reports whether a gateway session is currently established.
func (m *Mesh) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// GatewayNode returns the MeshNode currently acting as gateway, or nil.
func (m *Mesh) GatewayNode() *roster.MeshNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gatewayNode
}

// Connect implements spec.md §4.3's gateway selection: candidates are
// sorted by RSSI descending among connectable, non-blacklisted nodes with
// a known RSSI, and attempted in order until one succeeds authentication
// and its post-auth ping. ErrNoCandidateGateway is returned immediately if
// the filtered/sorted candidate list is empty.
func (m *Mesh) Connect(ctx context.Context, candidates []*roster.MeshNode) error {
	if m.Connected() {
		return nil
	}
	ordered := sortedEligible(candidates)
	if len(ordered) == 0 {
		return ErrNoCandidateGateway
	}

	var lastErr error
	for _, node := range ordered {
		if err := m.tryConnect(ctx, node); err != nil {
			m.log.WithFields(logrus.Fields{"node": node.BLEAddress, "error": err}).Warn("gateway candidate failed")
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrNoCandidateGateway
	}
	return lastErr
}

// sortedEligible returns candidates eligible per roster.MeshNode.EligibleGateway,
// sorted by RSSI descending (spec.md §4.3).
func sortedEligible(candidates []*roster.MeshNode) []*roster.MeshNode {
	var eligible []*roster.MeshNode
	for _, n := range candidates {
		if n.EligibleGateway() {
			eligible = append(eligible, n)
		}
	}
	for i := 1; i < len(eligible); i++ {
		for j := i; j > 0 && *eligible[j].RSSI() > *eligible[j-1].RSSI(); j-- {
			eligible[j], eligible[j-1] = eligible[j-1], eligible[j]
		}
	}
	return eligible
}

// tryConnect attempts to establish the session on a single candidate node:
// GATT connect, authenticate+ping, subscribe, seed poll. Any failure
// disconnects the underlying device and returns without mutating session
// state, so the caller may move to the next candidate.
func (m *Mesh) tryConnect(ctx context.Context, node *roster.MeshNode) error {
	gatewayAddr, err := meshcrypto.ParseAddress(node.BLEAddress)
	if err != nil {
		return fmt.Errorf("meshsession: parse gateway address %q: %w", node.BLEAddress, err)
	}

	dev := m.newDevice(node.BLEAddress)
	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	err = dev.Connect(connectCtx, &device.ConnectOptions{
		Address:        node.BLEAddress,
		ConnectTimeout: m.connectTimeout,
		Services:       []device.SubscribeOptions{{Service: ServiceUUID}},
	})
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	conn := dev.GetConnection()
	chars, err := resolveCharacteristics(conn)
	if err != nil {
		_ = dev.Disconnect()
		return &TransportError{Op: "resolve characteristics", Err: err}
	}

	if err := m.authenticate(chars.auth); err != nil {
		_ = dev.Disconnect()
		return &AuthFailureError{Node: node.BLEAddress, Kind: AuthFailureChallenge, Err: err}
	}
	if ok, err := m.pingChannel(chars.ping); err != nil || !ok {
		_ = dev.Disconnect()
		return &AuthFailureError{Node: node.BLEAddress, Kind: AuthFailurePing, Err: err}
	}

	if err := conn.Subscribe([]*device.SubscribeOptions{{Service: ServiceUUID, Characteristics: []string{CharLastData}}},
		device.StreamEveryUpdate, 0, m.notificationCallback(gatewayAddr, chars.lastData)); err != nil {
		_ = dev.Disconnect()
		return &TransportError{Op: "subscribe lastdata", Err: err}
	}
	if err := conn.Subscribe([]*device.SubscribeOptions{{Service: ServiceUUID, Characteristics: []string{CharPoll}}},
		device.StreamEveryUpdate, 0, m.pollCallback(chars.poll)); err != nil {
		_ = dev.Disconnect()
		return &TransportError{Op: "subscribe poll", Err: err}
	}

	node.IsGateway = true

	m.mu.Lock()
	m.dev = dev
	m.conn = conn
	m.gatewayNode = node
	m.gatewayAddr = gatewayAddr
	m.dataChar = chars.data
	m.lastDataChar = chars.lastData
	m.pollChar = chars.poll
	m.authChar = chars.auth
	m.pingChar = chars.ping
	m.connected = true
	onState := m.onState
	m.mu.Unlock()

	if err := m.requestPoll(); err != nil {
		m.log.WithError(err).Warn("failed to seed poll after connect")
	}

	if onState != nil {
		onState(true)
	}

	m.startKeepAlive()
	return nil
}

type resolvedChars struct {
	poll, data, lastData, auth, ping device.Characteristic
}

func resolveCharacteristics(conn device.Connection) (resolvedChars, error) {
	var out resolvedChars
	var err error
	if out.poll, err = conn.GetCharacteristic(ServiceUUID, CharPoll); err != nil {
		return out, err
	}
	if out.data, err = conn.GetCharacteristic(ServiceUUID, CharData); err != nil {
		return out, err
	}
	if out.lastData, err = conn.GetCharacteristic(ServiceUUID, CharLastData); err != nil {
		return out, err
	}
	if out.auth, err = conn.GetCharacteristic(ServiceUUID, CharAuth); err != nil {
		return out, err
	}
	if out.ping, err = conn.GetCharacteristic(ServiceUUID, CharPing); err != nil {
		return out, err
	}
	return out, nil
}

// authenticate runs the challenge/response handshake of spec.md §4.1/§4.3:
// write one arbitrary byte, read the 16-byte challenge, compute and write
// the response.
func (m *Mesh) authenticate(auth device.Characteristic) error {
	if err := auth.Write([]byte{0x00}, true, m.gattTimeout); err != nil {
		return err
	}
	challenge, err := auth.Read(m.gattTimeout)
	if err != nil {
		return err
	}
	if len(challenge) != 16 {
		return fmt.Errorf("meshsession: challenge must be 16 bytes, got %d", len(challenge))
	}
	var c [16]byte
	copy(c[:], challenge)

	response := meshcrypto.AuthResponse(m.key, c)
	return auth.Write(response[:], true, m.gattTimeout)
}

// pingChannel performs one keep-alive cycle on the given characteristic:
// write a random byte, read it back, and verify (written+1)&0xFF == read.
func (m *Mesh) pingChannel(ping device.Characteristic) (bool, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, err
	}
	if err := ping.Write(b[:], true, m.gattTimeout); err != nil {
		return false, &TransportError{Op: "ping write", Err: err}
	}
	pong, err := ping.Read(m.gattTimeout)
	if err != nil {
		return false, &TransportError{Op: "ping read", Err: err}
	}
	if len(pong) != 1 {
		return false, fmt.Errorf("meshsession: ping response must be 1 byte, got %d", len(pong))
	}
	return (b[0]+1)&0xFF == pong[0], nil
}

// notificationCallback decrypts inbound lastdata notifications with the
// gateway's keystream, decodes the frame, and hands it to onFrame.
func (m *Mesh) notificationCallback(gatewayAddr [meshcrypto.AddressSize]byte, lastData device.Characteristic) func(*device.Record) {
	key := device.NormalizeUUID(CharLastData)
	return func(rec *device.Record) {
		raw, ok := rec.Values[key]
		if !ok || len(raw) == 0 {
			return
		}
		plain, err := meshcrypto.XORCrypt(m.key, gatewayAddr, raw)
		if err != nil {
			m.log.WithError(err).Warn("failed to decrypt inbound frame")
			return
		}
		frame, err := meshcodec.DecodeFrame(plain)
		if err != nil {
			m.log.WithError(err).Warn("failed to decode inbound frame")
			return
		}

		if frame.Opcode == meshcodec.OpEventFired {
			m.buttonSeenMu.Lock()
			m.buttonSeen = true
			m.buttonSeenMu.Unlock()
		}

		m.mu.Lock()
		onFrame := m.onFrame
		m.mu.Unlock()
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// pollCallback forwards raw poll/lightlevel batch bytes; these are never
// encrypted, per DESIGN.md's grounding on ble/__init__.py's _poll_listener.
func (m *Mesh) pollCallback(pollChar device.Characteristic) func(*device.Record) {
	key := device.NormalizeUUID(CharPoll)
	return func(rec *device.Record) {
		raw, ok := rec.Values[key]
		if !ok {
			return
		}
		m.mu.Lock()
		onPollBatch := m.onPollBatch
		m.mu.Unlock()
		if onPollBatch != nil {
			onPollBatch(raw)
		}
	}
}

// requestPoll writes the single byte that requests a poll/lightlevel
// batch, seeding device state right after (re)connect and after every
// successful keep-alive.
func (m *Mesh) requestPoll() error {
	m.mu.Lock()
	pollChar := m.pollChar
	m.mu.Unlock()
	if pollChar == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return pollChar.Write([]byte{0x01}, true, m.gattTimeout)
}

// Send encrypts and writes one or more frames under the write mutex, so a
// multi-frame composite operation is atomic with respect to any other
// higher-level operation (spec.md §4.3/§5).
func (m *Mesh) Send(frames ...meshcodec.Frame) error {
	m.mu.Lock()
	dataChar := m.dataChar
	gatewayAddr := m.gatewayAddr
	connected := m.connected
	m.mu.Unlock()
	if !connected || dataChar == nil {
		return ErrNotConnected
	}

	opID := uuid.New()
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for i, f := range frames {
		wire, err := meshcrypto.XORCrypt(m.key, gatewayAddr, f.Encode())
		if err != nil {
			return fmt.Errorf("meshsession: encrypt frame %d/%d (op %s): %w", i+1, len(frames), opID, err)
		}
		if err := dataChar.Write(wire, true, m.gattTimeout); err != nil {
			return &TransportError{Op: fmt.Sprintf("send frame %d/%d (op %s)", i+1, len(frames), opID), Err: err}
		}
	}
	return nil
}

// PollNow issues a poll request outside of the keep-alive cycle, used by
// Manager.Ping after a successful keep-alive.
func (m *Mesh) PollNow() error {
	return m.requestPoll()
}

// EventPrepare issues the event-prepare broadcast that reveals coalesced
// button presses, per spec.md §4.4's button fan-out rule and §4.3's
// keep-alive "if button events have been seen" rule.
func (m *Mesh) EventPrepare() error {
	return m.Send(meshcodec.NewEventPrepareFrame())
}

// KeepAlive performs one ping cycle directly (used by Manager.Ping, which
// follows a successful cycle with a poll and an event-prepare).
func (m *Mesh) KeepAlive() (bool, error) {
	m.mu.Lock()
	pingChar := m.pingChar
	m.mu.Unlock()
	if pingChar == nil {
		return false, ErrNotConnected
	}

	m.writeMu.Lock()
	ok, err := m.pingChannel(pingChar)
	m.writeMu.Unlock()
	if err != nil {
		m.log.WithError(err).Warn("keep-alive ping failed")
		m.Disconnect()
		return false, err
	}
	if !ok {
		m.log.Warn("keep-alive ping mismatch, treating session as lost")
		m.Disconnect()
		return false, nil
	}
	return true, nil
}

// PollTime implements spec.md §4.3's poll_time: send a read-style 0x001B,
// read the next lastdata frame, and compare against now, reporting drift
// beyond 60 seconds. Manager.BroadcastTime passes local wall-clock plus the
// DST offset as now.
func (m *Mesh) PollTime(addr byte, now time.Time) (bool, error) {
	m.mu.Lock()
	lastDataChar := m.lastDataChar
	gatewayAddr := m.gatewayAddr
	connected := m.connected
	m.mu.Unlock()
	if !connected || lastDataChar == nil {
		return false, ErrNotConnected
	}

	if err := m.Send(meshcodec.NewTimeReadFrame(addr)); err != nil {
		return false, err
	}

	raw, err := lastDataChar.Read(m.gattTimeout)
	if err != nil {
		return false, &TransportError{Op: "read time response", Err: err}
	}
	plain, err := meshcrypto.XORCrypt(m.key, gatewayAddr, raw)
	if err != nil {
		return false, err
	}
	frame, err := meshcodec.DecodeFrame(plain)
	if err != nil {
		return false, err
	}
	ts, err := meshcodec.DecodeTime(frame.Payload)
	if err != nil {
		return false, err
	}
	reported := time.Unix(ts, 0)
	drift := now.Sub(reported)
	if drift < 0 {
		drift = -drift
	}
	return drift > 60*time.Second, nil
}

// startKeepAlive launches the named background goroutine that pings the
// session on m.pingInterval, per spec.md §5's single-event-loop discipline
// (every goroutine still carries a name via internal/groutine).
func (m *Mesh) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.keepAliveCancel = cancel
	m.keepAliveDone = done
	m.mu.Unlock()

	groutine.Go(ctx, "meshsession-keepalive", func(ctx context.Context) {
		defer close(done)
		ticker := time.NewTicker(m.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ok, _ := m.KeepAlive(); !ok {
					return
				}
				_ = m.requestPoll()
				m.buttonSeenMu.Lock()
				seen := m.buttonSeen
				m.buttonSeen = false
				m.buttonSeenMu.Unlock()
				if seen {
					_ = m.EventPrepare()
				}
			}
		}
	})
}

// Disconnect tears down the gateway session: unsubscribe, close the
// underlying device, clear session state, and notify the registered state
// handler with connected=false. Safe to call when already disconnected.
func (m *Mesh) Disconnect() error {
	m.mu.Lock()
	dev := m.dev
	node := m.gatewayNode
	wasConnected := m.connected
	onState := m.onState
	cancel := m.keepAliveCancel
	m.dev = nil
	m.conn = nil
	m.gatewayNode = nil
	m.pollChar = nil
	m.dataChar = nil
	m.lastDataChar = nil
	m.authChar = nil
	m.pingChar = nil
	m.connected = false
	m.keepAliveCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if node != nil {
		node.IsGateway = false
	}
	if dev != nil {
		_ = dev.Disconnect()
	}
	if wasConnected && onState != nil {
		onState(false)
	}
	return nil
}
