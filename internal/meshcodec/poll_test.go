package meshcodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcodec"
)

func TestScenarioC_PollDecoding(t *testing.T) {
	batch := []byte{
		0x05, 0x01, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00,
		0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	records, err := meshcodec.DecodePollBatch(batch, func(byte) meshcodec.PollKind { return meshcodec.PollLight })
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, byte(5), records[0].Addr)
	assert.True(t, records[0].On)
	assert.Equal(t, byte(64), records[0].Dim)

	assert.Equal(t, byte(7), records[1].Addr)
	assert.False(t, records[1].On)
	assert.Equal(t, byte(0), records[1].Dim)
}

func TestDecodePollBatch_ReportsTruncation(t *testing.T) {
	batch := make([]byte, meshcodec.PollRecordLen+3)
	records, err := meshcodec.DecodePollBatch(batch, nil)
	assert.Error(t, err)
	assert.Len(t, records, 1)
}

func TestDecodePollBatch_ClimateTemperature(t *testing.T) {
	rec := []byte{0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 30, 0x00, 0x00, 0x00}
	records, err := meshcodec.DecodePollBatch(rec, func(byte) meshcodec.PollKind { return meshcodec.PollClimate })
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 20, records[0].Temperature)
}

func TestDecodePollBatch_CoverPosition(t *testing.T) {
	rec := []byte{0x0A, 0x01, 0x00, 0x00, 0x00, 0x32, 0x00, 0x00, 0x00, 0x00}
	records, err := meshcodec.DecodePollBatch(rec, func(byte) meshcodec.PollKind { return meshcodec.PollCover })
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(0x32), records[0].Position)
}
