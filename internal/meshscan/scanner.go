// Package meshscan discovers Plejd mesh nodes over BLE advertisements,
// adapted from the teacher's scanner/scanner.go: the same
// cornelk/hashmap-backed concurrent device table and allow/block
// filtering, generalised from generic device.Device discovery to
// roster.MeshNode discovery (RSSI/peak-RSSI tracking, connectability,
// and whether a node advertises the Plejd mesh service at all).
package meshscan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/plejdctl/internal/device"
	"github.com/srg/plejdctl/internal/meshsession"
	"github.com/srg/plejdctl/internal/roster"
)

// DeviceFactory constructs the ScanningDevice used to drive a scan;
// a var so tests can override it, matching internal/devicefactory's own
// var-based seam.
var DeviceFactory = func() (device.ScanningDevice, error) {
	return nil, errors.New("meshscan: no ScanningDevice factory configured")
}

// ProgressCallback reports scan phase changes to a CLI progress printer.
type ProgressCallback func(phase string)

// NodeEventType marks whether a node sighting is new or an update to a
// previously seen node.
type NodeEventType int

const (
	NodeNew NodeEventType = iota
	NodeUpdated
)

// NodeEvent is emitted for every advertisement processed during a scan.
type NodeEvent struct {
	Type NodeEventType
	Node *roster.MeshNode
}

// Options configures one scan pass.
type Options struct {
	Duration        time.Duration
	DuplicateFilter bool
	// RequirePlejdService restricts discovery to advertisements carrying
	// the Plejd mesh service UUID; set false to see every BLE
	// advertisement nearby (useful for `scan --all`).
	RequirePlejdService bool
	AllowList           []string
	BlockList           []string
}

// DefaultOptions returns the scan defaults: 10s duration, duplicate
// filtering on, restricted to Plejd-service advertisers.
func DefaultOptions() *Options {
	return &Options{
		Duration:            10 * time.Second,
		DuplicateFilter:     true,
		RequirePlejdService: true,
	}
}

// Scanner discovers MeshNodes over BLE advertisements.
type Scanner struct {
	nodes  *hashmap.Map[string, *roster.MeshNode]
	log    *logrus.Logger
	events chan NodeEvent

	opts *Options
}

// New constructs a Scanner.
func New(log *logrus.Logger) *Scanner {
	if log == nil {
		log = logrus.New()
	}
	return &Scanner{
		nodes:  hashmap.New[string, *roster.MeshNode](),
		log:    log,
		events: make(chan NodeEvent, 100),
	}
}

// Scan runs BLE discovery for opts.Duration (or until ctx is cancelled)
// and returns every MeshNode seen, filtered by opts.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progress ProgressCallback) (map[string]*roster.MeshNode, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	s.opts = opts
	defer func() { s.opts = nil }()

	s.log.WithField("duration", opts.Duration).Info("starting mesh scan")
	progress("Scanning")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("meshscan: creating scanning device: %w", err)
	}

	scanCtx := ctx
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("meshscan: scan failed: %w", err)
	}

	progress("Processing results")
	s.log.WithField("node_count", s.nodes.Len()).Info("mesh scan completed")

	out := make(map[string]*roster.MeshNode, s.nodes.Len())
	s.nodes.Range(func(addr string, node *roster.MeshNode) bool {
		out[addr] = node
		return true
	})
	return out, nil
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := adv.Addr()

	if s.opts != nil && !s.shouldInclude(adv) {
		return
	}

	node, existing := s.nodes.Get(addr)
	if !existing {
		node = &roster.MeshNode{BLEAddress: addr}
		node, existing = s.nodes.GetOrInsert(addr, node)
	}

	node.Connectable = adv.Connectable()
	node.See(adv.RSSI(), time.Now())

	evt := NodeEvent{Node: node}
	if existing {
		evt.Type = NodeUpdated
	} else {
		evt.Type = NodeNew
		s.log.WithFields(logrus.Fields{
			"address": addr,
			"rssi":    adv.RSSI(),
		}).Info("discovered mesh node")
	}

	select {
	case s.events <- evt:
	default:
	}
}

func (s *Scanner) shouldInclude(adv device.Advertisement) bool {
	addr := adv.Addr()
	opts := s.opts

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.RequirePlejdService {
		found := false
		for _, svc := range adv.Services() {
			if device.NormalizeUUID(svc) == device.NormalizeUUID(meshsession.ServiceUUID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Events returns a read-only channel of node discovery events emitted
// during the most recent (or current) Scan call.
func (s *Scanner) Events() <-chan NodeEvent {
	return s.events
}

// Nodes returns a snapshot of every node discovered so far across all
// Scan calls made on this Scanner.
func (s *Scanner) Nodes() []*roster.MeshNode {
	nodes := make([]*roster.MeshNode, 0, s.nodes.Len())
	s.nodes.Range(func(_ string, node *roster.MeshNode) bool {
		nodes = append(nodes, node)
		return true
	})
	return nodes
}
