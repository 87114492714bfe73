package meshcodec

import (
	"encoding/binary"
	"fmt"
)

// PollRecordLen is the fixed size of one record in a lightlevel/poll batch.
const PollRecordLen = 10

// PollKind distinguishes how PollRecord.Dim and PollRecord.Extra should be
// interpreted; the wire layout is identical across kinds, only the meaning
// of a handful of bytes changes.
type PollKind int

const (
	PollUnknown PollKind = iota
	PollLight
	PollCover
	PollClimate
)

// PollRecord is one decoded 10-byte poll/lightlevel record:
//
//	addr(1) state(1) _(3) pos_lo(1) dim(1) pos_hi-ish(1) _(2)
//
// Cover devices read Position from the 16-bit little-endian pair at
// offset 5:7 instead of the single Dim byte; climate devices read a
// temperature out of the Dim byte's low 6 bits.
type PollRecord struct {
	Addr       byte
	On         bool
	Dim        byte
	Position   uint16
	Kind       PollKind
	Temperature int
}

// DecodePollBatch splits a poll/lightlevel payload into fixed 10-byte
// records. A length not divisible by PollRecordLen is truncated to the
// largest whole multiple, and the truncation is reported via the returned
// error (the caller may choose to log and continue with the records that
// did decode).
func DecodePollBatch(data []byte, kindOf func(addr byte) PollKind) ([]PollRecord, error) {
	whole := (len(data) / PollRecordLen) * PollRecordLen
	var truncErr error
	if whole != len(data) {
		truncErr = fmt.Errorf("meshcodec: poll batch length %d not a multiple of %d, truncating %d trailing bytes", len(data), PollRecordLen, len(data)-whole)
	}

	records := make([]PollRecord, 0, whole/PollRecordLen)
	for offset := 0; offset < whole; offset += PollRecordLen {
		rec := decodePollRecord(data[offset : offset+PollRecordLen])
		if kindOf != nil {
			rec.Kind = kindOf(rec.Addr)
		}
		switch rec.Kind {
		case PollClimate:
			rec.Temperature = int(rec.Dim&ThermostatTempMask) - 10
		case PollCover:
			rec.Position = binary.LittleEndian.Uint16(data[offset+5 : offset+7])
		}
		records = append(records, rec)
	}
	return records, truncErr
}

func decodePollRecord(rec []byte) PollRecord {
	return PollRecord{
		Addr: rec[0],
		On:   rec[1] != 0,
		Dim:  rec[6],
	}
}
