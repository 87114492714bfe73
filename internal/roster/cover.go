package roster

import (
	"sync"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// CoverState is the outward projection of a Cover device. Position is a
// percentage (0..100, fully closed to fully open); it is nil when the last
// report's direction/position pair was internally inconsistent ("lost"),
// per interface/plejd_cover.py's _parse_state.
type CoverState struct {
	Available bool
	Moving    bool
	Opening   bool
	Position  *float64
	Angle     *int // advisory only, per spec.md §9 Open Question (b)
}

// Cover is a motorized shade/blind output with optional tilt. Grounded in
// interface/plejd_cover.py.
type Cover struct {
	base
	mu    sync.Mutex
	state CoverState
}

// NewCover constructs a Cover device.
func NewCover(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *Cover {
	return &Cover{base: newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceCover)}
}

func (c *Cover) Project() any {
	c.mu.Lock()
	snapshot := c.state
	c.mu.Unlock()
	snapshot.Available = c.Available()
	return snapshot
}

// decodeCoverState implements plejd_cover.py's _parse_state: payload[0] is
// moving/state, payload[1] packs direction (bit 7) and position (low 7
// bits), payload[2] packs stop (bit 7) and target (low 7 bits). Position is
// considered lost (nil) when it disagrees with target in the direction of
// travel, since the device hasn't settled on a consistent reading yet.
func decodeCoverState(payload []byte) (moving bool, opening bool, position *float64) {
	if len(payload) < 3 {
		return false, false, nil
	}
	moving = payload[0] != 0
	opening = payload[1]&0x80 != 0
	pos := int(payload[1] & 0x7F)
	target := int(payload[2] & 0x7F)

	lost := pos > target
	if !opening {
		lost = target > pos
	}
	if lost {
		return moving, opening, nil
	}
	pct := float64(pos) / 0x7F * 100
	return moving, opening, &pct
}

func (c *Cover) Apply(f meshcodec.Frame) ([]Command, bool) {
	switch f.Opcode {
	case meshcodec.OpOutputStateLevel, meshcodec.OpGroupOutputStateLevel:
	case meshcodec.OpOutputSet:
		return nil, false // mini-package cover telemetry, no positional state to extract here
	default:
		return nil, false
	}
	if len(f.Payload) < 3 {
		return nil, false
	}
	moving, opening, position := decodeCoverState(f.Payload)

	c.mu.Lock()
	c.state.Moving = moving
	c.state.Opening = opening
	c.state.Position = position
	snapshot := c.state
	c.mu.Unlock()
	snapshot.Available = c.Available()
	c.notify(snapshot)
	return nil, true
}

// ApplyPoll updates state from a poll/lightlevel batch record; the cover's
// 16-bit position field is carried in PollRecord.Position.
func (c *Cover) ApplyPoll(rec meshcodec.PollRecord) bool {
	c.mu.Lock()
	c.state.Moving = rec.On
	pct := float64(rec.Position) / 0x7F * 100
	c.state.Position = &pct
	snapshot := c.state
	c.mu.Unlock()
	snapshot.Available = c.Available()
	c.notify(snapshot)
	return true
}

// Open requests full-open (position 100).
func (c *Cover) Open() []Command {
	open := 100
	return c.SetPosition(&open, nil)
}

// Close requests full-closed (position 0).
func (c *Cover) Close() []Command {
	closed := 0
	return c.SetPosition(&closed, nil)
}

// Stop cancels any in-progress movement.
func (c *Cover) Stop() []Command {
	return []Command{{Frame: meshcodec.NewOutputSetFrame(c.address,
		meshcodec.MiniPkg{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceApp}},
		meshcodec.MiniPkg{Type: meshcodec.TypeWindowControl, Payload: []byte{0}},
	)}}
}

// SetPosition requests a target position (0..100) and/or tilt angle.
func (c *Cover) SetPosition(position *int, tilt *int) []Command {
	pkgs := []meshcodec.MiniPkg{{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceApp}}}
	if position != nil {
		level := byte((255 * *position / 100) & 0xFF)
		pkgs = append(pkgs, meshcodec.MiniPkg{Type: meshcodec.TypeWindowControl, Payload: []byte{1, level, level}})
	}
	if tilt != nil {
		pkgs = append(pkgs, meshcodec.MiniPkg{Type: meshcodec.TypeTilt, Payload: []byte{byte(*tilt & 0xFF)}})
	}
	return []Command{{Frame: meshcodec.NewOutputSetFrame(c.address, pkgs...)}}
}
