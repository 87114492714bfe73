package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestCover_SetPositionBuildsWindowControlMiniPkg(t *testing.T) {
	c := roster.NewCover(0x0A, 0, 0x0A, "Blind", "Bedroom", false, roster.TraitCover)
	pos := 50
	cmds := c.SetPosition(&pos, nil)
	require.Len(t, cmds, 1)

	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	pkgs, err := decoded.MiniPkgs()
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, meshcodec.TypeWindowControl, pkgs[1].Type)
	assert.Equal(t, byte(127), pkgs[1].Payload[1]) // 255*50/100 == 127
}

func TestCover_AppliesMovingStateWithConsistentPosition(t *testing.T) {
	c := roster.NewCover(0x0A, 0, 0x0A, "Blind", "Bedroom", false, roster.TraitCover)
	// moving=1, dir=up(0x80)|position=64, stop=0|target=100
	f := meshcodec.NewFrame(0x0A, meshcodec.OpOutputStateLevel, []byte{0x01, 0x80 | 64, 100})
	_, changed := c.Apply(f)
	assert.True(t, changed)

	state := c.Project().(roster.CoverState)
	assert.True(t, state.Moving)
	assert.True(t, state.Opening)
	require.NotNil(t, state.Position)
}

func TestCover_LostPositionIsNilOnDirectionDisagreement(t *testing.T) {
	c := roster.NewCover(0x0A, 0, 0x0A, "Blind", "Bedroom", false, roster.TraitCover)
	// opening (dir bit set) but position(100) > target(50): lost.
	f := meshcodec.NewFrame(0x0A, meshcodec.OpOutputStateLevel, []byte{0x01, 0x80 | 100, 50})
	_, changed := c.Apply(f)
	assert.True(t, changed)

	state := c.Project().(roster.CoverState)
	assert.Nil(t, state.Position)
}
