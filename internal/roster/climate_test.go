package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/roster"
)

func TestClimate_ScenarioE_Disambiguation(t *testing.T) {
	c := roster.NewClimate(0x07, 0, 0x07, "Thermostat", "Hall", false, roster.TraitClimate)
	raw := []byte{0x07, 0x01, 0x10, 0x00, 0x98, 0x01, 0x00, 0x1E, 0x80}
	f, err := meshcodec.DecodeFrame(raw)
	require.NoError(t, err)

	_, changed := c.Apply(f)
	assert.True(t, changed)

	state := c.Project().(roster.ClimateState)
	require.NotNil(t, state.CurrentTemperature)
	assert.Equal(t, 20.0, *state.CurrentTemperature)
	assert.True(t, state.Heating)
}

func TestClimate_RejectsStaleReadbackAfterRecentWrite(t *testing.T) {
	c := roster.NewClimate(0x07, 0, 0x07, "Thermostat", "Hall", false, roster.TraitClimate)
	c.SetTemperature(21.0)

	// A push arriving just after the write, more than the strict 0.5C
	// window away from the cached value, must be rejected as stale.
	f := meshcodec.NewThermostatSetpointFrame(0x07, 230) // 23.0C, 2.0C away
	f.CmdType = meshcodec.CmdDontRespond
	_, changed := c.Apply(f)
	assert.False(t, changed)

	state := c.Project().(roster.ClimateState)
	require.NotNil(t, state.Setpoint)
	assert.Equal(t, 21.0, *state.Setpoint)
}

func TestClimate_AcceptsWriteAckRegardlessOfThreshold(t *testing.T) {
	c := roster.NewClimate(0x07, 0, 0x07, "Thermostat", "Hall", false, roster.TraitClimate)
	c.SetTemperature(21.0)

	f := meshcodec.NewThermostatSetpointFrame(0x07, 230)
	f.CmdType = meshcodec.CmdAck
	_, changed := c.Apply(f)
	assert.True(t, changed)

	state := c.Project().(roster.ClimateState)
	assert.Equal(t, 23.0, *state.Setpoint)
}

func TestClimate_OnAvailableSchedulesReads(t *testing.T) {
	c := roster.NewClimate(0x07, 0, 0x07, "Thermostat", "Hall", false, roster.TraitClimate)
	cmds := c.OnAvailable(true)
	require.Len(t, cmds, 2)
	assert.Equal(t, roster.SetpointReadDelay, cmds[0].Delay)
	assert.Equal(t, roster.LimitReadDelay, cmds[1].Delay)
}

func TestClimate_SetModeIsNoOpWhenAlreadyTarget(t *testing.T) {
	c := roster.NewClimate(0x07, 0, 0x07, "Thermostat", "Hall", false, roster.TraitClimate)
	assert.Empty(t, c.SetMode(roster.ModeOff))
	require.Len(t, c.TurnOn(), 1)
	assert.Empty(t, c.TurnOn())
}
