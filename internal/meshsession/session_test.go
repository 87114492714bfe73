package meshsession_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/device"
	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/meshcrypto"
	"github.com/srg/plejdctl/internal/meshsession"
	"github.com/srg/plejdctl/internal/roster"
)

// fakeCharacteristic is a minimal device.Characteristic backed by a script
// of responses, enough to drive the authenticate/ping/send code paths
// without a real BLE stack.
type fakeCharacteristic struct {
	uuid string

	writes   [][]byte
	readResp [][]byte
	readIdx  int

	// echoIncrement models the ping characteristic: Read always returns
	// (last Write byte + 1) & 0xFF instead of a scripted response, since
	// the byte written is chosen at random.
	echoIncrement bool
}

func (c *fakeCharacteristic) UUID() string                        { return c.uuid }
func (c *fakeCharacteristic) KnownName() string                   { return "" }
func (c *fakeCharacteristic) GetProperties() device.Properties    { return nil }
func (c *fakeCharacteristic) GetDescriptors() []device.Descriptor { return nil }
func (c *fakeCharacteristic) Write(data []byte, _ bool, _ time.Duration) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}
func (c *fakeCharacteristic) Read(_ time.Duration) ([]byte, error) {
	if c.echoIncrement {
		var last byte
		if len(c.writes) > 0 {
			last = c.writes[len(c.writes)-1][0]
		}
		return []byte{(last + 1) & 0xFF}, nil
	}
	if c.readIdx >= len(c.readResp) {
		return nil, meshsession.ErrNotConnected
	}
	r := c.readResp[c.readIdx]
	c.readIdx++
	return r, nil
}

// fakeConnection hands out a fixed set of characteristics and records
// subscribe callbacks so a test can fire synthetic notifications.
type fakeConnection struct {
	chars map[string]*fakeCharacteristic

	subs map[string]func(*device.Record)
}

func (c *fakeConnection) Services() []device.Service { return nil }
func (c *fakeConnection) GetService(string) (device.Service, error) { return nil, nil }
func (c *fakeConnection) GetCharacteristic(_ string, uuid string) (device.Characteristic, error) {
	ch, ok := c.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, assert.AnError
	}
	return ch, nil
}
func (c *fakeConnection) Subscribe(opts []*device.SubscribeOptions, _ device.StreamMode, _ time.Duration, cb func(*device.Record)) error {
	if c.subs == nil {
		c.subs = make(map[string]func(*device.Record))
	}
	for _, o := range opts {
		for _, ch := range o.Characteristics {
			c.subs[device.NormalizeUUID(ch)] = cb
		}
	}
	return nil
}

func (c *fakeConnection) deliver(charUUID string, values map[string][]byte) {
	cb := c.subs[device.NormalizeUUID(charUUID)]
	if cb == nil {
		return
	}
	cb(&device.Record{Values: values})
}

// fakeDevice implements device.Device around a fakeConnection.
type fakeDevice struct {
	address    string
	conn       *fakeConnection
	connected  bool
	connectErr error
}

func (d *fakeDevice) ID() string                       { return d.address }
func (d *fakeDevice) Name() string                     { return "fake" }
func (d *fakeDevice) Address() string                  { return d.address }
func (d *fakeDevice) RSSI() int                         { return 0 }
func (d *fakeDevice) TxPower() *int                     { return nil }
func (d *fakeDevice) IsConnectable() bool               { return true }
func (d *fakeDevice) AdvertisedServices() []string      { return nil }
func (d *fakeDevice) ManufacturerData() []byte          { return nil }
func (d *fakeDevice) ServiceData() map[string][]byte    { return nil }
func (d *fakeDevice) Update(device.Advertisement)       {}
func (d *fakeDevice) GetConnection() device.Connection  { return d.conn }
func (d *fakeDevice) IsConnected() bool                 { return d.connected }

func (d *fakeDevice) Connect(_ context.Context, _ *device.ConnectOptions) error {
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect() error {
	d.connected = false
	return nil
}

var testKey = [meshcrypto.KeySize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

func newFakeGateway(t *testing.T, addr string) (*fakeDevice, *fakeConnection, [meshcrypto.AddressSize]byte) {
	t.Helper()
	gatewayAddr, err := meshcrypto.ParseAddress(addr)
	require.NoError(t, err)

	challenge := [16]byte{}
	for i := range challenge {
		challenge[i] = byte(i)
	}

	authChar := &fakeCharacteristic{
		uuid:     meshsession.CharAuth,
		readResp: [][]byte{challenge[:]},
	}
	pingChar := &fakeCharacteristic{uuid: meshsession.CharPing}
	dataChar := &fakeCharacteristic{uuid: meshsession.CharData}
	pollChar := &fakeCharacteristic{uuid: meshsession.CharPoll}
	lastDataChar := &fakeCharacteristic{uuid: meshsession.CharLastData}

	conn := &fakeConnection{
		chars: map[string]*fakeCharacteristic{
			device.NormalizeUUID(meshsession.CharAuth):     authChar,
			device.NormalizeUUID(meshsession.CharPing):     pingChar,
			device.NormalizeUUID(meshsession.CharData):     dataChar,
			device.NormalizeUUID(meshsession.CharPoll):     pollChar,
			device.NormalizeUUID(meshsession.CharLastData): lastDataChar,
		},
	}
	dev := &fakeDevice{address: addr, conn: conn}
	pingChar.echoIncrement = true
	return dev, conn, gatewayAddr
}

func TestConnect_SucceedsAgainstHighestRSSICandidate(t *testing.T) {
	dev, _, _ := newFakeGateway(t, "aa:bb:cc:dd:ee:01")

	low := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:02", Connectable: true}
	low.See(-80, time.Now())
	high := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:01", Connectable: true}
	high.See(-40, time.Now())

	var built []string
	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(addr string) device.Device {
			built = append(built, addr)
			return dev
		},
	})

	stateCh := make(chan bool, 1)
	mesh.SetHandlers(nil, nil, func(connected bool) { stateCh <- connected })

	err := mesh.Connect(context.Background(), []*roster.MeshNode{low, high})
	require.NoError(t, err)
	assert.True(t, mesh.Connected())
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01"}, built)

	select {
	case connected := <-stateCh:
		assert.True(t, connected)
	default:
		t.Fatal("expected a state notification")
	}

	require.NoError(t, mesh.Disconnect())
	assert.False(t, mesh.Connected())
}

// TestConnect_FallsBackWhenStrongestCandidateFailsAuth mirrors spec.md §8
// scenario F: three expected-connectable nodes at RSSI -60, -80, -55; the
// strongest (-55) fails authentication, so the session is established on
// the -60 node, which becomes gateway, and the -80 node is never attempted.
func TestConnect_FallsBackWhenStrongestCandidateFailsAuth(t *testing.T) {
	strongest, strongestConn, _ := newFakeGateway(t, "aa:bb:cc:dd:ee:01")
	strongestConn.chars[device.NormalizeUUID(meshsession.CharAuth)] = &fakeCharacteristic{
		uuid: meshsession.CharAuth,
		// No scripted challenge response: Read fails immediately, so
		// authenticate() returns an error and this candidate is skipped.
	}

	second, _, _ := newFakeGateway(t, "aa:bb:cc:dd:ee:02")

	weakest, _, _ := newFakeGateway(t, "aa:bb:cc:dd:ee:03")

	nodeStrongest := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:01", Connectable: true}
	nodeStrongest.See(-55, time.Now())
	nodeSecond := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:02", Connectable: true}
	nodeSecond.See(-60, time.Now())
	nodeWeakest := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:03", Connectable: true}
	nodeWeakest.See(-80, time.Now())

	var built []string
	devices := map[string]*fakeDevice{
		"aa:bb:cc:dd:ee:01": strongest,
		"aa:bb:cc:dd:ee:02": second,
		"aa:bb:cc:dd:ee:03": weakest,
	}
	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(addr string) device.Device {
			built = append(built, addr)
			return devices[addr]
		},
	})

	err := mesh.Connect(context.Background(), []*roster.MeshNode{nodeWeakest, nodeStrongest, nodeSecond})
	require.NoError(t, err)
	assert.True(t, mesh.Connected())
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, built)
	assert.Equal(t, "aa:bb:cc:dd:ee:02", mesh.GatewayNode().BLEAddress)
}

func TestConnect_NoEligibleCandidatesReturnsSentinel(t *testing.T) {
	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(string) device.Device { t.Fatal("should not construct a device"); return nil },
	})

	blacklisted := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:03", Connectable: true, Blacklisted: true}
	blacklisted.See(-50, time.Now())

	err := mesh.Connect(context.Background(), []*roster.MeshNode{blacklisted})
	assert.ErrorIs(t, err, meshsession.ErrNoCandidateGateway)
}

func TestSend_FailsWhenNotConnected(t *testing.T) {
	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(string) device.Device { return nil },
	})
	err := mesh.Send(meshcodec.NewEventPrepareFrame())
	assert.ErrorIs(t, err, meshsession.ErrNotConnected)
}

func TestNotificationCallback_DecryptsAndDecodesInboundFrames(t *testing.T) {
	dev, conn, gatewayAddr := newFakeGateway(t, "aa:bb:cc:dd:ee:04")

	node := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:04", Connectable: true}
	node.See(-40, time.Now())

	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(string) device.Device { return dev },
	})

	frames := make(chan meshcodec.Frame, 1)
	mesh.SetHandlers(func(f meshcodec.Frame) { frames <- f }, nil, nil)

	require.NoError(t, mesh.Connect(context.Background(), []*roster.MeshNode{node}))

	plain := meshcodec.NewEventPrepareFrame().Encode()
	wire, err := meshcrypto.XORCrypt(testKey, gatewayAddr, plain)
	require.NoError(t, err)

	conn.deliver(meshsession.CharLastData, map[string][]byte{
		device.NormalizeUUID(meshsession.CharLastData): wire,
	})

	select {
	case f := <-frames:
		assert.Equal(t, meshcodec.OpEventPrepare, f.Opcode)
	case <-time.After(time.Second):
		t.Fatal("expected a decoded frame")
	}
}

func TestPollCallback_ForwardsRawBytesUndecrypted(t *testing.T) {
	dev, conn, _ := newFakeGateway(t, "aa:bb:cc:dd:ee:05")

	node := &roster.MeshNode{BLEAddress: "aa:bb:cc:dd:ee:05", Connectable: true}
	node.See(-40, time.Now())

	mesh := meshsession.New(testKey, meshsession.Options{
		NewDevice: func(string) device.Device { return dev },
	})

	batches := make(chan []byte, 1)
	mesh.SetHandlers(nil, func(b []byte) { batches <- b }, nil)

	require.NoError(t, mesh.Connect(context.Background(), []*roster.MeshNode{node}))

	raw := make([]byte, meshcodec.PollRecordLen)
	raw[0] = 0x01
	conn.deliver(meshsession.CharPoll, map[string][]byte{
		device.NormalizeUUID(meshsession.CharPoll): raw,
	})

	select {
	case b := <-batches:
		assert.Equal(t, raw, b)
	case <-time.After(time.Second):
		t.Fatal("expected a poll batch")
	}
}
