package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestRelay_ProjectsUnavailableAsOff(t *testing.T) {
	r := roster.NewRelay(0x03, 0, 0x03, "Pump", "Garage", false, roster.TraitPower)
	_, changed := r.Apply(meshcodec.NewGroupOutputStateFrame(0x03, true))
	require.True(t, changed)

	// Still unavailable (SetAvailable was never called): projected state
	// must report off regardless of the cached on/off bit.
	state := r.Project().(roster.RelayState)
	assert.False(t, state.Available)
	assert.False(t, state.State)

	r.SetAvailable(true)
	state = r.Project().(roster.RelayState)
	assert.True(t, state.Available)
	assert.True(t, state.State)
}

func TestRelay_TurnOnOffBuildsFrames(t *testing.T) {
	r := roster.NewRelay(0x03, 0, 0x03, "Pump", "Garage", false, roster.TraitPower)
	on := r.TurnOn()
	off := r.TurnOff()
	require.Len(t, on, 1)
	require.Len(t, off, 1)
	assert.Equal(t, byte(1), on[0].Frame.Payload[0])
	assert.Equal(t, byte(0), off[0].Frame.Payload[0])
}
