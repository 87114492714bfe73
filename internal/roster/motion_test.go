package roster_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestMotion_TriggerEmitsAmbientLightRead(t *testing.T) {
	m := roster.NewMotion(0x0B, 0, 0x0B, "Hall PIR", "Hall", false, 0)
	f := meshcodec.NewOutputSetFrame(0x0B, meshcodec.MiniPkg{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceMotion}})

	cmds, changed := m.Apply(f)
	assert.True(t, changed)
	require.Len(t, cmds, 1)

	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, meshcodec.OpAmbientLightLevel, decoded.Opcode)

	state := m.Project().(roster.MotionState)
	assert.True(t, state.Motion)
}

func TestMotion_BatteryOnlyUpdateEmitsAmbientLightRead(t *testing.T) {
	m := roster.NewMotion(0x0B, 0, 0x0B, "Hall PIR", "Hall", false, 0)
	f := meshcodec.NewOutputSetFrame(0x0B, meshcodec.MiniPkg{Type: meshcodec.TypeBatteryInfo, Payload: []byte{0x00, 0x64}})

	cmds, changed := m.Apply(f)
	assert.True(t, changed)
	require.Len(t, cmds, 1)

	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, meshcodec.OpAmbientLightLevel, decoded.Opcode)

	state := m.Project().(roster.MotionState)
	assert.False(t, state.Motion)
	require.NotNil(t, state.Battery)
	assert.Equal(t, 100, *state.Battery)
}

func TestMotion_SweepClearsAfterTimeout(t *testing.T) {
	m := roster.NewMotion(0x0B, 0, 0x0B, "Hall PIR", "Hall", false, 0)
	f := meshcodec.NewOutputSetFrame(0x0B, meshcodec.MiniPkg{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceMotion}})
	m.Apply(f)

	assert.False(t, m.Sweep(time.Now()))
	cleared := m.Sweep(time.Now().Add(roster.MotionTimeout + time.Second))
	assert.True(t, cleared)

	state := m.Project().(roster.MotionState)
	assert.False(t, state.Motion)
}
