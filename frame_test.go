package lbard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShortFrame(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeBadTag(t *testing.T) {
	frame := EncodeHeader(nil, SIDPrefix{0xAA}, 1, false)
	frame = append(frame, 'Z')
	_, _, err := Decode(frame)
	assert.ErrorIs(t, err, ErrBadTag)
}

func TestIsSelfLoop(t *testing.T) {
	self := SIDPrefix{1, 2, 3, 4, 5, 6}
	frame := EncodeHeader(nil, self, 7, false)
	assert.True(t, IsSelfLoop(frame, self))

	other := SIDPrefix{9, 9, 9, 9, 9, 9}
	frame2 := EncodeHeader(nil, other, 7, false)
	assert.False(t, IsSelfLoop(frame2, self))
}

func TestEncodeDecodeHeaderMessageNumberAndRetransmission(t *testing.T) {
	sender := SIDPrefix{0xAA, 0x11, 0, 0, 0, 0}
	frame := EncodeHeader(nil, sender, 0x3FFF, true)
	hdr, recs, err := Decode(frame)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, sender, hdr.Sender)
	assert.Equal(t, uint16(0x3FFF), hdr.MessageNumber)
	assert.True(t, hdr.Retransmission)
}

func TestEncodeDecodeBARRecord(t *testing.T) {
	bid := BIDPrefix{1, 2, 3, 4, 5, 6, 7, 8}
	recip := RecipientPrefix{9, 9, 9, 9}
	frame := EncodeHeader(nil, SIDPrefix{}, 1, false)
	frame = AppendBAR(frame, bid, 42, recip)

	hdr, recs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(1), hdr.MessageNumber)
	require.Equal(t, RecordBAR, recs[0].Kind)
	assert.Equal(t, bid, recs[0].BAR.BID)
	assert.Equal(t, uint64(42), recs[0].BAR.Version)
	assert.Equal(t, recip, recs[0].BAR.Recipient)
}

func TestEncodeDecodePieceRecordEndBelow1MB(t *testing.T) {
	bid := BIDPrefix{1, 1, 1, 1, 1, 1, 1, 1}
	payload := []byte("hello, mesh")
	frame := EncodeHeader(nil, SIDPrefix{}, 2, false)
	var err error
	frame, err = AppendPiece(frame, bid, 7, 32, true, true, payload)
	require.NoError(t, err)

	_, recs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, RecordPiece, recs[0].Kind)
	p := recs[0].Piece
	assert.Equal(t, bid, p.BID)
	assert.Equal(t, uint64(7), p.Version)
	assert.Equal(t, uint32(32), p.Offset)
	assert.True(t, p.IsManifest)
	assert.True(t, p.IsEnd)
	assert.Equal(t, payload, p.Payload)
}

func TestEncodeDecodePieceRecordAbove1MB(t *testing.T) {
	bid := BIDPrefix{2, 2, 2, 2, 2, 2, 2, 2}
	payload := []byte("body chunk")
	offset := uint32(3_000_000) // forces the above-1MB high bytes
	frame := EncodeHeader(nil, SIDPrefix{}, 3, false)
	var err error
	frame, err = AppendPiece(frame, bid, 1, offset, false, false, payload)
	require.NoError(t, err)

	_, recs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	p := recs[0].Piece
	assert.Equal(t, offset, p.Offset)
	assert.False(t, p.IsManifest)
	assert.False(t, p.IsEnd)
	assert.Equal(t, payload, p.Payload)
}

func TestDecodeMultiRecordFrame(t *testing.T) {
	bid1 := BIDPrefix{1}
	bid2 := BIDPrefix{2}
	frame := EncodeHeader(nil, SIDPrefix{}, 4, false)
	frame = AppendBAR(frame, bid1, 1, RecipientPrefix{})
	var err error
	frame, err = AppendPiece(frame, bid2, 1, 0, true, true, []byte("x"))
	require.NoError(t, err)

	_, recs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, RecordBAR, recs[0].Kind)
	assert.Equal(t, RecordPiece, recs[1].Kind)
}

func TestDecodeTruncatedPieceKeepsEarlierRecords(t *testing.T) {
	bid1 := BIDPrefix{1}
	frame := EncodeHeader(nil, SIDPrefix{}, 5, false)
	frame = AppendBAR(frame, bid1, 1, RecipientPrefix{})
	frame = append(frame, 'p') // start a piece record with no body
	frame = append(frame, 0, 0, 0)

	_, recs, err := Decode(frame)
	assert.ErrorIs(t, err, ErrTruncated)
	require.Len(t, recs, 1)
	assert.Equal(t, RecordBAR, recs[0].Kind)
}

func TestAppendPieceRejectsOversizedPayload(t *testing.T) {
	_, err := AppendPiece(nil, BIDPrefix{}, 0, 0, true, true, make([]byte, MaxPieceBytes+1))
	assert.ErrorIs(t, err, ErrPieceTooLarge)
}
