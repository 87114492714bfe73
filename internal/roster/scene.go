package roster

import "github.com/srg/plejdctl/internal/meshcodec"

// Scene is a mesh-stored scene: fire-and-forget activation, plus a
// notification when some other client triggers it. Grounded in
// interface/plejd_scene.py.
type Scene struct {
	base
	index byte
}

// NewScene constructs a Scene. Index is the scene's 0-255 mesh index.
func NewScene(index byte, name string, hidden bool) *Scene {
	return &Scene{
		base:  newBase(meshcodec.AddrScene, 0, 0, name, "", hidden, 0, DeviceScene),
		index: index,
	}
}

// Index returns the scene's mesh index.
func (s *Scene) Index() byte { return s.index }

// MatchFrame matches a scene broadcast carrying this scene's own index.
func (s *Scene) MatchFrame(f meshcodec.Frame) bool {
	return f.Opcode == meshcodec.OpScene && len(f.Payload) > 0 && f.Payload[0] == s.index
}

// Apply notifies subscribers that this scene was triggered (by any
// client, not necessarily this one).
func (s *Scene) Apply(f meshcodec.Frame) ([]Command, bool) {
	s.notify(struct{ Triggered bool }{true})
	return nil, true
}

// ApplyPoll is a no-op: scenes never appear in poll batches.
func (s *Scene) ApplyPoll(meshcodec.PollRecord) bool { return false }

// Project returns nil: a Scene carries no retained state.
func (s *Scene) Project() any { return nil }

// Activate builds the broadcast frame that fires this scene.
func (s *Scene) Activate() []Command {
	return []Command{{Frame: meshcodec.NewSceneFrame(s.index)}}
}
