// Package plejd is the public façade a caller embeds: it owns the single
// mesh session, the roster-derived device set, and the MeshNode table, and
// wires the cloud fetcher, the mesh session, and the dispatcher together,
// grounded in pyplejd/__init__.py's PlejdManager.
package plejd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/plejdctl/internal/cloud"
	"github.com/srg/plejdctl/internal/groutine"
	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/meshcrypto"
	"github.com/srg/plejdctl/internal/meshdispatch"
	"github.com/srg/plejdctl/internal/meshsession"
	"github.com/srg/plejdctl/internal/roster"
)

// PingInterval is the keep-alive cycle a caller should drive Ping on,
// per spec.md §4.6's "ping_interval → 10 min".
const PingInterval = meshsession.DefaultPingInterval

// deferredKey identifies one device's pending background task (e.g. a
// Climate's deferred setpoint read versus its deferred limit read), so a
// newer command for the same key cancels a stale one instead of both
// firing, per spec.md §5's per-device-identity cancellation rule.
type deferredKey struct {
	addr   byte
	opcode meshcodec.Opcode
}

// Options configures a Manager.
type Options struct {
	Username string
	Password string
	SiteID   string

	Logger         *logrus.Logger
	NewDevice      meshsession.DeviceFactory
	ConnectTimeout time.Duration
	GATTTimeout    time.Duration
	PingInterval   time.Duration
}

// Manager is the public façade wiring the cloud roster fetcher, the mesh
// session, and the frame dispatcher into the single runtime spec.md §4.6
// describes. It owns the MeshNode table (one entry per expected physical
// device, keyed by BLE address) and every device's deferred follow-up
// tasks.
type Manager struct {
	opts Options
	log  *logrus.Entry

	cloudClient *cloud.Client

	mu         sync.Mutex
	doc        *roster.RosterDocument
	devices    []roster.Device
	scenes     []*roster.Scene
	dispatcher *meshdispatch.Dispatcher
	mesh       *meshsession.Mesh
	nodes      map[string]*roster.MeshNode

	deferredMu sync.Mutex
	deferred   map[deferredKey]int
}

// New constructs a Manager; Init must be called before any other method.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		opts:        opts,
		log:         log.WithField("component", "plejd"),
		cloudClient: cloud.NewClient(log),
		nodes:       make(map[string]*roster.MeshNode),
		deferred:    make(map[deferredKey]int),
	}
}

// SetCloudClientForTest points a Manager's cloud client at a test server,
// mirroring internal/cloud's own SetBaseURLForTest seam so Init can be
// exercised in manager_test.go without a live connection.
func SetCloudClientForTest(m *Manager, baseURL string) {
	cloud.SetBaseURLForTest(m.cloudClient, baseURL)
}

// Init loads the site roster (preferring a live cloud fetch, falling back
// to backup if the fetch fails and a snapshot was supplied), builds the
// device/scene set and crypto key, and registers every physical device's
// BLE address as an expected MeshNode, per spec.md §4.6's init contract.
func (m *Manager) Init(ctx context.Context, backup []byte) error {
	if m.opts.SiteID == "" {
		return ErrNoSiteID
	}

	doc, _, err := m.cloudClient.LoadSiteOrFallback(ctx, m.opts.Username, m.opts.Password, m.opts.SiteID, backup)
	if err != nil {
		return fmt.Errorf("plejd: loading site: %w", err)
	}

	devices, scenes, keyHex := doc.Build()
	key, err := meshcrypto.ParseKey(keyHex)
	if err != nil {
		return fmt.Errorf("plejd: parsing crypto key: %w", err)
	}

	dispatcher := meshdispatch.New(m.log, devices)

	mesh := meshsession.New(key, meshsession.Options{
		NewDevice:      m.opts.NewDevice,
		Logger:         m.log.Logger,
		ConnectTimeout: m.opts.ConnectTimeout,
		GATTTimeout:    m.opts.GATTTimeout,
		PingInterval:   m.opts.PingInterval,
	})

	nodes := make(map[string]*roster.MeshNode, len(doc.PlejdDevices))
	for _, hw := range doc.PlejdDevices {
		nodes[hw.DeviceID] = &roster.MeshNode{
			BLEAddress:  hw.DeviceID,
			Connectable: true,
		}
	}

	m.mu.Lock()
	m.doc = doc
	m.devices = devices
	m.scenes = scenes
	m.dispatcher = dispatcher
	m.mesh = mesh
	m.nodes = nodes
	m.mu.Unlock()

	mesh.SetHandlers(m.onFrame, m.onPollBatch, m.onState)
	return nil
}

// AddMeshDevice records a scan observation for a known physical device's
// BLE address, returning true the first time this peer is seen, matching
// `see_device`'s "newly seen" return and spec.md §4.6's
// `add_mesh_device(ble_peer, rssi) -> bool`.
func (m *Manager) AddMeshDevice(bleAddress string, rssi int) bool {
	m.mu.Lock()
	node, known := m.nodes[bleAddress]
	m.mu.Unlock()
	if !known {
		return false
	}
	firstSeen := node.RSSI() == nil
	node.See(rssi, time.Now())
	return firstSeen
}

// Connected reports whether a gateway session is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	mesh := m.mesh
	m.mu.Unlock()
	if mesh == nil {
		return false
	}
	return mesh.Connected()
}

// SiteData returns the roster document loaded by Init, or nil.
func (m *Manager) SiteData() *roster.RosterDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc
}

// Scenes returns the scenes loaded by Init.
func (m *Manager) Scenes() []*roster.Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scenes
}

// Devices returns every device loaded by Init, in roster order.
func (m *Manager) Devices() []roster.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices
}

// FindDevice looks up a loaded device by name, matched case-insensitively,
// for CLI commands that address devices by their roster title rather than
// their raw mesh address.
func (m *Manager) FindDevice(name string) (roster.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if strings.EqualFold(d.Name(), name) {
			return d, true
		}
	}
	return nil, false
}

// Execute ensures a session is connected, then sends every zero-delay
// command immediately and arms any delayed ones, the same path a mesh
// notification's follow-up commands take. CLI device commands use this to
// issue a device's own Set*/TurnOn/TurnOff commands.
func (m *Manager) Execute(ctx context.Context, cmds []roster.Command) error {
	m.mu.Lock()
	mesh := m.mesh
	m.mu.Unlock()
	if mesh == nil {
		return ErrNotInitialized
	}
	if err := m.ensureSession(ctx); err != nil {
		return err
	}
	m.scheduleCommands(cmds)
	return nil
}

// ensureSession connects to the strongest eligible candidate if no session
// is currently established.
func (m *Manager) ensureSession(ctx context.Context) error {
	m.mu.Lock()
	mesh := m.mesh
	candidates := make([]*roster.MeshNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		candidates = append(candidates, n)
	}
	m.mu.Unlock()
	if mesh == nil {
		return ErrNotInitialized
	}
	if mesh.Connected() {
		return nil
	}
	return mesh.Connect(ctx, candidates)
}

// Ping ensures a session, runs one keep-alive, then a poll and an
// event-prepare; the poll and event-prepare are issued only if the
// keep-alive succeeded. Each GATT write takes the session's write mutex on
// its own; the sequence as a whole is not held under it.
func (m *Manager) Ping(ctx context.Context) (bool, error) {
	m.mu.Lock()
	mesh := m.mesh
	m.mu.Unlock()
	if mesh == nil {
		return false, ErrNotInitialized
	}

	if err := m.ensureSession(ctx); err != nil {
		return false, err
	}

	ok, err := mesh.KeepAlive()
	if err != nil || !ok {
		return false, err
	}
	if err := mesh.PollNow(); err != nil {
		m.log.WithError(err).Warn("poll after keep-alive failed")
	}
	if err := mesh.EventPrepare(); err != nil {
		m.log.WithError(err).Debug("event-prepare after ping failed")
	}
	return true, nil
}

// BroadcastTime implements spec.md §4.6's broadcast_time contract: iterate
// powered devices, and for the first one whose poll_time reports drift
// beyond 60s, broadcast the current time to the mesh broadcast address.
func (m *Manager) BroadcastTime(ctx context.Context) error {
	m.mu.Lock()
	mesh := m.mesh
	devices := m.devices
	m.mu.Unlock()
	if mesh == nil {
		return ErrNotInitialized
	}
	if !mesh.Connected() {
		return meshsession.ErrNotConnected
	}

	now := time.Now()
	for _, dev := range devices {
		if !isPowered(dev.Kind()) {
			continue
		}
		drifted, err := mesh.PollTime(dev.Address(), time.Unix(broadcastTimestamp(now), 0))
		if err != nil {
			m.log.WithError(err).WithField("address", dev.Address()).Debug("poll_time failed")
			continue
		}
		if !drifted {
			continue
		}
		m.log.WithField("address", dev.Address()).Info("device clock drifted, broadcasting time")
		return mesh.Send(meshcodec.NewTimeBroadcastFrame(broadcastTimestamp(now)))
	}
	return nil
}

// broadcastTimestamp adds the standing DST hour offset to now before
// encoding it, mirroring payload_encode.py's set_time: a fixed one-hour
// correction applied whenever the local zone observes daylight saving,
// not a "DST is active right now" check (see DESIGN.md's Open Question
// (a) resolution).
func broadcastTimestamp(now time.Time) int64 {
	if dstObserved(now.Location()) {
		return now.Unix() + 3600
	}
	return now.Unix()
}

func dstObserved(loc *time.Location) bool {
	jan := time.Date(time.Now().Year(), time.January, 1, 0, 0, 0, 0, loc)
	jul := time.Date(time.Now().Year(), time.July, 1, 0, 0, 0, 0, loc)
	_, janOffset := jan.Zone()
	_, julOffset := jul.Zone()
	return janOffset != julOffset
}

func isPowered(kind roster.DeviceType) bool {
	switch kind {
	case roster.DeviceLight, roster.DeviceRelay, roster.DeviceCover, roster.DeviceClimate:
		return true
	}
	return false
}

// SetBlacklist updates every known MeshNode's blacklisted flag. If the
// current gateway is newly blacklisted, the session is force-disconnected
// so the next ping's reconnect picks a different candidate, then a ping
// is attempted immediately, per spec.md §4.6.
func (m *Manager) SetBlacklist(ctx context.Context, blacklisted map[string]bool) error {
	m.mu.Lock()
	mesh := m.mesh
	var gatewayNewlyBlacklisted bool
	for addr, node := range m.nodes {
		want := blacklisted[addr]
		if want && !node.Blacklisted && node.IsGateway {
			gatewayNewlyBlacklisted = true
		}
		node.Blacklisted = want
	}
	m.mu.Unlock()
	if mesh == nil {
		return ErrNotInitialized
	}

	if gatewayNewlyBlacklisted {
		if err := mesh.Disconnect(); err != nil {
			return err
		}
	}
	_, err := m.Ping(ctx)
	return err
}

// Disconnect tears down the mesh session and notifies every device
// unavailable, per spec.md §4.6.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	mesh := m.mesh
	m.mu.Unlock()
	if mesh == nil {
		return ErrNotInitialized
	}
	return mesh.Disconnect()
}

// onFrame is the mesh session's FrameHandler: dispatch to the matching
// device(s) and schedule any follow-up commands they produce.
func (m *Manager) onFrame(f meshcodec.Frame) {
	m.mu.Lock()
	dispatcher := m.dispatcher
	m.mu.Unlock()
	if dispatcher == nil {
		return
	}
	m.scheduleCommands(dispatcher.Dispatch(f))
}

// onPollBatch is the mesh session's PollBatchHandler.
func (m *Manager) onPollBatch(data []byte) {
	m.mu.Lock()
	dispatcher := m.dispatcher
	m.mu.Unlock()
	if dispatcher == nil {
		return
	}
	if err := dispatcher.DispatchPollBatch(data); err != nil {
		m.log.WithError(err).Debug("poll batch decode error")
	}
}

// onState is the mesh session's StateHandler: on disconnect, every device
// is marked unavailable and any of their own pending deferred tasks
// (Climate's setpoint/limit reads) are cancelled along with it.
func (m *Manager) onState(connected bool) {
	m.mu.Lock()
	dispatcher := m.dispatcher
	m.mu.Unlock()
	if dispatcher == nil {
		return
	}
	cmds := dispatcher.SetAvailable(connected)
	if !connected {
		m.cancelAllDeferred()
	}
	m.scheduleCommands(cmds)
}

// scheduleCommands sends every zero-delay command immediately and arms a
// cancellable background task for every delayed one, per spec.md §5's
// per-device-identity deferred-task cancellation rule: arming a new task
// for the same (address, opcode) key supersedes whatever was pending.
func (m *Manager) scheduleCommands(cmds []roster.Command) {
	for _, cmd := range cmds {
		if cmd.Delay <= 0 {
			m.send(cmd.Frame)
			continue
		}
		m.armDeferred(cmd)
	}
}

func (m *Manager) send(f meshcodec.Frame) {
	m.mu.Lock()
	mesh := m.mesh
	m.mu.Unlock()
	if mesh == nil {
		return
	}
	if err := mesh.Send(f); err != nil {
		m.log.WithError(err).WithField("opcode", f.Opcode).Warn("sending follow-up command failed")
	}
}

func (m *Manager) armDeferred(cmd roster.Command) {
	key := deferredKey{addr: cmd.Frame.Addr, opcode: cmd.Frame.Opcode}

	m.deferredMu.Lock()
	m.deferred[key]++
	generation := m.deferred[key]
	m.deferredMu.Unlock()

	delay := time.Duration(cmd.Delay * float64(time.Second))
	groutine.Go(context.Background(), "plejd-deferred-command", func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.deferredMu.Lock()
		superseded := m.deferred[key] != generation
		m.deferredMu.Unlock()
		if superseded {
			return
		}
		m.send(cmd.Frame)
	})
}

// cancelAllDeferred marks every pending deferred task as superseded so its
// fire check drops it silently; used when a device/session becomes
// unavailable, per spec.md §5's cancellation rule.
func (m *Manager) cancelAllDeferred() {
	m.deferredMu.Lock()
	for key := range m.deferred {
		m.deferred[key]++
	}
	m.deferredMu.Unlock()
}

// ListSites enumerates the sites reachable by a username/password, per
// spec.md §6's `list_sites` helper.
func ListSites(ctx context.Context, username, password string, log *logrus.Logger) ([]cloud.Site, error) {
	return cloud.NewClient(log).ListSites(ctx, username, password)
}

// VerifyCredentials checks a username/password pair against the cloud
// API without selecting a site, per spec.md §6's `verify_credentials`
// helper.
func VerifyCredentials(ctx context.Context, username, password string, log *logrus.Logger) error {
	return cloud.NewClient(log).VerifyCredentials(ctx, username, password)
}
