package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestButton_ScenarioD_FanOut(t *testing.T) {
	b := roster.NewButton(0x00, 0, 0x05, 0x02, "Hall switch", "Hall", false, 0)
	raw := []byte{0x00, 0x01, 0x10, 0x00, 0x16, 0x05, 0x02, 0x00}
	f, err := meshcodec.DecodeFrame(raw)
	require.NoError(t, err)

	assert.True(t, b.MatchFrame(f))

	var got roster.ButtonEvent
	b.Subscribe(func(v any) { got = v.(roster.ButtonEvent) })

	cmds, changed := b.Apply(f)
	assert.True(t, changed)
	assert.Equal(t, 2, got.Button)
	assert.Equal(t, "release", got.Action)

	require.Len(t, cmds, 1)
	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, meshcodec.OpEventPrepare, decoded.Opcode)
}

func TestButton_DoesNotMatchOtherButtonIndex(t *testing.T) {
	b := roster.NewButton(0x00, 0, 0x05, 0x01, "Hall switch", "Hall", false, 0)
	raw := []byte{0x00, 0x01, 0x10, 0x00, 0x16, 0x05, 0x02, 0x01}
	f, err := meshcodec.DecodeFrame(raw)
	require.NoError(t, err)
	assert.False(t, b.MatchFrame(f))
}
