package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestLight_ScenarioA_TurnOnDim(t *testing.T) {
	l := roster.NewLight(0x05, 0, 0x05, "Kitchen", "Kitchen", false, roster.TraitPower|roster.TraitDim)
	dim := 128
	cmds := l.TurnOn(&dim, nil)
	require.Len(t, cmds, 1)
	assert.Equal(t, []byte{0x05, 0x01, 0x10, 0x00, 0x98, 0x01, 0x80, 0x80}, cmds[0].Frame.Encode())
}

func TestLight_AppliesGroupOutputStateLevel(t *testing.T) {
	l := roster.NewLight(0x05, 0, 0x05, "Kitchen", "Kitchen", false, roster.TraitPower|roster.TraitDim)
	var got roster.LightState
	l.Subscribe(func(v any) { got = v.(roster.LightState) })

	f := meshcodec.NewGroupOutputStateLevelFrame(0x05, true, 64)
	_, changed := l.Apply(f)
	assert.True(t, changed)
	assert.True(t, got.State)
	require.NotNil(t, got.Dim)
	assert.Equal(t, 64, *got.Dim)
}

func TestLight_TurnOffForcesStateFalse(t *testing.T) {
	l := roster.NewLight(0x05, 0, 0x05, "Kitchen", "Kitchen", false, roster.TraitPower|roster.TraitDim)
	cmds := l.TurnOff()
	require.Len(t, cmds, 1)
	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, byte(0), decoded.Payload[0])
}

func TestLight_ColorTempUpdatesFromOutputSet(t *testing.T) {
	l := roster.NewLight(0x09, 0, 0x09, "Office", "Office", false, roster.TraitPower|roster.TraitDim|roster.TraitTemp)
	f := meshcodec.NewOutputSetFrame(0x09, meshcodec.MiniPkg{Type: meshcodec.TypeWhiteBalance, Payload: []byte{0x0E, 0x10}})
	_, changed := l.Apply(f)
	assert.True(t, changed)
	state := l.Project().(roster.LightState)
	require.NotNil(t, state.ColorTemp)
	assert.Equal(t, 0x0E10, *state.ColorTemp)
}
