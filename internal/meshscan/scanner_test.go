package meshscan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/device"
	"github.com/srg/plejdctl/internal/meshscan"
	"github.com/srg/plejdctl/internal/meshsession"
)

type fakeAdvertisement struct {
	addr         string
	rssi         int
	connectable  bool
	services     []string
	localName    string
}

func (a fakeAdvertisement) LocalName() string          { return a.localName }
func (a fakeAdvertisement) ManufacturerData() []byte    { return nil }
func (a fakeAdvertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	return nil
}
func (a fakeAdvertisement) Services() []string        { return a.services }
func (a fakeAdvertisement) OverflowService() []string  { return nil }
func (a fakeAdvertisement) TxPowerLevel() int           { return 0 }
func (a fakeAdvertisement) Connectable() bool           { return a.connectable }
func (a fakeAdvertisement) SolicitedService() []string  { return nil }
func (a fakeAdvertisement) RSSI() int                   { return a.rssi }
func (a fakeAdvertisement) Addr() string                { return a.addr }

type fakeScanningDevice struct {
	advertisements []device.Advertisement
}

func (d *fakeScanningDevice) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	for _, adv := range d.advertisements {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	return nil
}

func TestScan_FiltersToPlejdServiceByDefault(t *testing.T) {
	meshscan.DeviceFactory = func() (device.ScanningDevice, error) {
		return &fakeScanningDevice{advertisements: []device.Advertisement{
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:01", rssi: -40, connectable: true, services: []string{meshsession.ServiceUUID}},
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:02", rssi: -50, connectable: true, services: []string{"180d"}},
		}}, nil
	}

	s := meshscan.New(nil)
	nodes, err := s.Scan(context.Background(), meshscan.DefaultOptions(), nil)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	node, ok := nodes["aa:bb:cc:dd:ee:01"]
	require.True(t, ok)
	assert.Equal(t, -40, *node.RSSI())
	assert.True(t, node.Connectable)
}

func TestScan_AllowAndBlockLists(t *testing.T) {
	meshscan.DeviceFactory = func() (device.ScanningDevice, error) {
		return &fakeScanningDevice{advertisements: []device.Advertisement{
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:01", rssi: -40, connectable: true, services: []string{meshsession.ServiceUUID}},
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:02", rssi: -50, connectable: true, services: []string{meshsession.ServiceUUID}},
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:03", rssi: -45, connectable: true, services: []string{meshsession.ServiceUUID}},
		}}, nil
	}

	s := meshscan.New(nil)
	nodes, err := s.Scan(context.Background(), &meshscan.Options{
		Duration:    time.Second,
		AllowList:   []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"},
		BlockList:   []string{"aa:bb:cc:dd:ee:02"},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	_, blocked := nodes["aa:bb:cc:dd:ee:02"]
	assert.False(t, blocked)
	_, notAllowed := nodes["aa:bb:cc:dd:ee:03"]
	assert.False(t, notAllowed)
}

func TestScan_TracksPeakRSSIAcrossSightings(t *testing.T) {
	meshscan.DeviceFactory = func() (device.ScanningDevice, error) {
		return &fakeScanningDevice{advertisements: []device.Advertisement{
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:01", rssi: -60, connectable: true, services: []string{meshsession.ServiceUUID}},
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:01", rssi: -30, connectable: true, services: []string{meshsession.ServiceUUID}},
			fakeAdvertisement{addr: "aa:bb:cc:dd:ee:01", rssi: -70, connectable: true, services: []string{meshsession.ServiceUUID}},
		}}, nil
	}

	s := meshscan.New(nil)
	nodes, err := s.Scan(context.Background(), &meshscan.Options{Duration: time.Second}, nil)
	require.NoError(t, err)
	node := nodes["aa:bb:cc:dd:ee:01"]
	assert.Equal(t, -30, *node.PeakRSSI())
	assert.Equal(t, -70, *node.RSSI())
}
