package roster

import (
	"sync"
	"time"
)

// MeshNode is one physical BLE-addressable device participating in the
// mesh. A node may host zero or more logical Devices (a single physical
// unit can expose several outputs/inputs).
type MeshNode struct {
	mu sync.Mutex

	BLEAddress  string
	Connectable bool
	Blacklisted bool
	IsGateway   bool

	rssi     *int
	peakRSSI *int
	lastSeen time.Time
}

// See records an advertisement/connection sighting, updating last-seen and
// peak-tracked RSSI.
func (n *MeshNode) See(rssi int, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	r := rssi
	n.rssi = &r
	if n.peakRSSI == nil || r > *n.peakRSSI {
		peak := r
		n.peakRSSI = &peak
	}
	n.lastSeen = at
}

// RSSI returns the most recently observed signal strength, or nil if the
// node has never been seen.
func (n *MeshNode) RSSI() *int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rssi
}

// PeakRSSI returns the strongest signal strength ever observed for this
// node.
func (n *MeshNode) PeakRSSI() *int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peakRSSI
}

// LastSeen returns the timestamp of the most recent sighting.
func (n *MeshNode) LastSeen() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSeen
}

// EligibleGateway reports whether this node can be selected as the next
// connection target: connectable, not blacklisted, and has a known RSSI.
func (n *MeshNode) EligibleGateway() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Connectable && !n.Blacklisted && n.rssi != nil
}

// SelectGateway picks the strongest-RSSI eligible node from candidates,
// implementing the gateway-selection rule of spec.md §4.3: sort by RSSI
// descending among connectable, non-null-RSSI, non-blacklisted nodes.
func SelectGateway(candidates []*MeshNode) *MeshNode {
	var best *MeshNode
	var bestRSSI int
	for _, n := range candidates {
		if !n.EligibleGateway() {
			continue
		}
		rssi := *n.RSSI()
		if best == nil || rssi > bestRSSI {
			best = n
			bestRSSI = rssi
		}
	}
	return best
}
