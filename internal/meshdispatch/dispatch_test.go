package meshdispatch_test

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
	"github.com/srg/plejdctl/internal/meshdispatch"
	"github.com/srg/plejdctl/internal/roster"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// TestScenarioC_PollDecoding mirrors spec.md §8 scenario C end-to-end: a
// 20-byte poll batch addressing a light at 0x05 and a light at 0x07
// yields {state:true, dim:64} and {state:false, dim:0} respectively.
func TestScenarioC_PollDecoding(t *testing.T) {
	five := roster.NewLight(0x05, 0, 0x05, "Five", "", false, roster.TraitDim)
	seven := roster.NewLight(0x07, 0, 0x07, "Seven", "", false, roster.TraitDim)
	d := meshdispatch.New(discardLog(), []roster.Device{five, seven})

	data := []byte{
		0x05, 0x01, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00,
		0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	err := d.DispatchPollBatch(data)
	require.NoError(t, err)

	stateFive := five.Project().(roster.LightState)
	assert.True(t, stateFive.State)
	require.NotNil(t, stateFive.Dim)
	assert.Equal(t, 64, *stateFive.Dim)

	stateSeven := seven.Project().(roster.LightState)
	assert.False(t, stateSeven.State)
}

// TestScenarioD_ButtonFanOut mirrors spec.md §8 scenario D: the frame
// notifies the matching button input and the dispatcher's returned
// commands include the outbound event-prepare.
func TestScenarioD_ButtonFanOut(t *testing.T) {
	btn := roster.NewButton(0x00, 0, 0x05, 0x02, "Hall switch", "Hall", false, 0)
	d := meshdispatch.New(discardLog(), []roster.Device{btn})

	var got roster.ButtonEvent
	btn.Subscribe(func(v any) { got = v.(roster.ButtonEvent) })

	f, err := meshcodec.DecodeFrame([]byte{0x00, 0x01, 0x10, 0x00, 0x16, 0x05, 0x02, 0x00})
	require.NoError(t, err)

	cmds := d.Dispatch(f)
	assert.Equal(t, 2, got.Button)
	assert.Equal(t, "release", got.Action)

	require.Len(t, cmds, 1)
	decoded, err := meshcodec.DecodeFrame(cmds[0].Frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, meshcodec.OpEventPrepare, decoded.Opcode)
}

// TestScenarioE_ClimateVsLightDisambiguation mirrors spec.md §8 scenario
// E: the identical 0x0098 bytes are interpreted differently depending on
// which device variant is registered at that address.
func TestScenarioE_ClimateVsLightDisambiguation(t *testing.T) {
	f, err := meshcodec.DecodeFrame([]byte{0x07, 0x01, 0x10, 0x00, 0x98, 0x01, 0x00, 0x1E, 0x80})
	require.NoError(t, err)

	climate := roster.NewClimate(0x07, 0, 0x07, "Floor heat", "", false, roster.TraitClimate)
	dClimate := meshdispatch.New(discardLog(), []roster.Device{climate})
	dClimate.Dispatch(f)
	cs := climate.Project().(roster.ClimateState)
	assert.Equal(t, roster.ModeHeating, cs.Mode)
	require.NotNil(t, cs.CurrentTemperature)
	assert.Equal(t, 20.0, *cs.CurrentTemperature)

	light := roster.NewLight(0x07, 0, 0x07, "Strip", "", false, roster.TraitDim)
	dLight := meshdispatch.New(discardLog(), []roster.Device{light})
	dLight.Dispatch(f)
	ls := light.Project().(roster.LightState)
	assert.True(t, ls.State)
	require.NotNil(t, ls.Dim)
	assert.Equal(t, 30, *ls.Dim)
}

// TestDispatch_UnmatchedBroadcastIsNotFatal exercises the UnknownOpcode
// policy of spec.md §7: a broadcast frame nothing recognises is logged
// and discarded, never panics or errors.
func TestDispatch_UnmatchedBroadcastIsNotFatal(t *testing.T) {
	d := meshdispatch.New(discardLog(), nil)
	f := meshcodec.NewFrame(meshcodec.AddrBroadcast, meshcodec.Opcode(0x9999), nil)
	assert.Empty(t, d.Dispatch(f))
}

// TestSetAvailable_CollectsClimateDeferredReads exercises the
// AvailabilityAware path: becoming available schedules Climate's
// setpoint/limit reads as returned commands rather than spawned timers.
func TestSetAvailable_CollectsClimateDeferredReads(t *testing.T) {
	climate := roster.NewClimate(0x07, 0, 0x07, "Floor heat", "", false, roster.TraitClimate)
	d := meshdispatch.New(discardLog(), []roster.Device{climate})

	cmds := d.SetAvailable(true)
	require.Len(t, cmds, 2)
	assert.Equal(t, roster.SetpointReadDelay, cmds[0].Delay)
	assert.Equal(t, roster.LimitReadDelay, cmds[1].Delay)
}

// TestSweep_ClearsMotionAcrossDispatcher confirms the dispatcher's Sweep
// reaches registered Sweeper devices without the caller needing to know
// which variants implement it.
func TestSweep_ClearsMotionAcrossDispatcher(t *testing.T) {
	motion := roster.NewMotion(0x0B, 0, 0x0B, "Hall PIR", "Hall", false, 0)
	light := roster.NewLight(0x05, 0, 0x05, "Five", "", false, roster.TraitDim)
	d := meshdispatch.New(discardLog(), []roster.Device{motion, light})

	d.Dispatch(meshcodec.NewOutputSetFrame(0x0B, meshcodec.MiniPkg{Type: meshcodec.TypeSource, Payload: []byte{meshcodec.SourceMotion}}))
	assert.False(t, d.Sweep(time.Now()))
	assert.True(t, d.Sweep(time.Now().Add(roster.MotionTimeout+time.Second)))
	assert.False(t, motion.Project().(roster.MotionState).Motion)
}
