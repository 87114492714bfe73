package roster

import "github.com/srg/plejdctl/internal/meshcodec"

// FellowshipFollower is a passive member of a grouped output (e.g. several
// DWN-01 units ganged together with one leader and the rest followers):
// registered so the BLE connection can be made through any member, but it
// has no output of its own to control or report. Grounded in
// interface/plejd_fellowship_follower.py.
type FellowshipFollower struct {
	base
}

// NewFellowshipFollower constructs a FellowshipFollower.
func NewFellowshipFollower(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *FellowshipFollower {
	return &FellowshipFollower{base: newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceUnknown)}
}

// Apply never changes state: followers don't project meaningful output.
func (f *FellowshipFollower) Apply(meshcodec.Frame) ([]Command, bool) { return nil, false }

// ApplyPoll is a no-op.
func (f *FellowshipFollower) ApplyPoll(meshcodec.PollRecord) bool { return false }

// Project returns nil: a follower has no outward state.
func (f *FellowshipFollower) Project() any { return nil }
