package lbard

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Frame parsing errors. Per spec, a short or malformed frame is dropped
// but any records already applied before the error remain applied.
var (
	ErrShortFrame    = errors.New("lbard: frame shorter than 8-byte header")
	ErrBadTag        = errors.New("lbard: unknown record tag")
	ErrTruncated     = errors.New("lbard: record truncated before expected end")
	ErrPieceTooLarge = errors.New("lbard: piece payload exceeds 11-bit length field")
)

// RecordKind distinguishes the two record shapes a frame can carry.
type RecordKind uint8

const (
	RecordBAR RecordKind = iota
	RecordPiece
)

// BARRecord is a bundle-advertisement record: "I have this bundle."
type BARRecord struct {
	BID       BIDPrefix
	Version   uint64
	Recipient RecipientPrefix
}

// PieceRecord is a fragment of a manifest or body stream at a specific
// offset.
type PieceRecord struct {
	BID        BIDPrefix
	Version    uint64
	Offset     uint32
	IsManifest bool
	IsEnd      bool
	Payload    []byte
}

// Record is a decoded wire record: exactly one of BAR or Piece is set,
// selected by Kind.
type Record struct {
	Kind  RecordKind
	BAR   *BARRecord
	Piece *PieceRecord
}

// FrameHeader is the 8-byte header every frame carries ahead of its
// records.
type FrameHeader struct {
	Sender         SIDPrefix
	MessageNumber  uint16 // 15-bit counter
	Retransmission bool
}

// IsSelfLoop reports whether frame was sent by self — its first
// SIDPrefixLen bytes match self. Per spec §4.1, such frames are discarded
// before any record parsing, so callers should check this ahead of
// Decode.
func IsSelfLoop(frame []byte, self SIDPrefix) bool {
	if len(frame) < SIDPrefixLen {
		return false
	}
	return bytes.Equal(frame[:SIDPrefixLen], self[:])
}

// Decode parses a frame's header and its sequence of records. The parser
// consumes records until it reaches the end of the frame; an unknown tag
// or a record truncated before its declared length aborts the frame, but
// whatever records were already decoded are still returned alongside the
// error — the caller applies them and drops the rest (spec §4.1: "partial
// acceptance is acceptable because records are independent").
func Decode(frame []byte) (FrameHeader, []Record, error) {
	var hdr FrameHeader
	if len(frame) < 8 {
		return hdr, nil, ErrShortFrame
	}
	copy(hdr.Sender[:], frame[0:SIDPrefixLen])
	raw16 := binary.LittleEndian.Uint16(frame[6:8])
	hdr.MessageNumber = raw16 & 0x7FFF
	hdr.Retransmission = raw16&0x8000 != 0

	var records []Record
	i := 8
	for i < len(frame) {
		tag := frame[i]
		i++
		switch {
		case tag == 'B':
			const barBody = BIDPrefixLen + 8 + RecipientPrefixLen
			if len(frame)-i < barBody {
				return hdr, records, ErrTruncated
			}
			var r BARRecord
			copy(r.BID[:], frame[i:i+BIDPrefixLen])
			i += BIDPrefixLen
			r.Version = binary.LittleEndian.Uint64(frame[i : i+8])
			i += 8
			copy(r.Recipient[:], frame[i:i+RecipientPrefixLen])
			i += RecipientPrefixLen
			records = append(records, Record{Kind: RecordBAR, BAR: &r})

		case tag == 'P' || tag == 'p' || tag == 'Q' || tag == 'q':
			rec, n, err := decodePiece(tag, frame[i:])
			if err != nil {
				return hdr, records, err
			}
			i += n
			records = append(records, Record{Kind: RecordPiece, Piece: &rec})

		default:
			return hdr, records, ErrBadTag
		}
	}
	return hdr, records, nil
}

// decodePiece decodes one piece record's body (everything after the tag
// byte). See §4.1 and §9's open question on offset-compound ordering: the
// on-wire truth implemented here is 4 bytes offset-compound, then (if tag
// bit 5 is clear, marking an above-1MB offset) 2 additional high-offset
// bytes, then payload. This
// has not been cross-checked against a reference LBARD peer.
func decodePiece(tag byte, buf []byte) (PieceRecord, int, error) {
	const fixedLen = BIDPrefixLen + 8 + 4
	if len(buf) < fixedLen {
		return PieceRecord{}, 0, ErrTruncated
	}
	var rec PieceRecord
	copy(rec.BID[:], buf[0:BIDPrefixLen])
	cursor := BIDPrefixLen
	rec.Version = binary.LittleEndian.Uint64(buf[cursor : cursor+8])
	cursor += 8
	lowc := binary.LittleEndian.Uint32(buf[cursor : cursor+4])
	cursor += 4

	aboveMB := tag&0x20 == 0
	var highc uint64
	if aboveMB {
		if len(buf)-cursor < 2 {
			return PieceRecord{}, 0, ErrTruncated
		}
		highc = uint64(binary.LittleEndian.Uint16(buf[cursor : cursor+2]))
		cursor += 2
	}

	c := uint64(lowc) | highc<<32
	rec.Offset = uint32((c & 0xFFFFF) | ((c >> 12) & 0xFFF00000))
	length := uint16((c >> 20) & 0x7FF)
	rec.IsManifest = c&0x80000000 != 0
	rec.IsEnd = tag&0x01 == 0

	if len(buf)-cursor < int(length) {
		return PieceRecord{}, 0, ErrTruncated
	}
	rec.Payload = append([]byte(nil), buf[cursor:cursor+int(length)]...)
	cursor += int(length)
	return rec, cursor, nil
}

// EncodeHeader appends an 8-byte frame header to buf and returns the
// extended slice.
func EncodeHeader(buf []byte, sender SIDPrefix, messageNumber uint16, retransmission bool) []byte {
	buf = append(buf, sender[:]...)
	v := messageNumber & 0x7FFF
	if retransmission {
		v |= 0x8000
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// AppendBAR appends a BAR record to buf.
func AppendBAR(buf []byte, bid BIDPrefix, version uint64, recipient RecipientPrefix) []byte {
	buf = append(buf, 'B')
	buf = append(buf, bid[:]...)
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], version)
	buf = append(buf, v[:]...)
	return append(buf, recipient[:]...)
}

// AppendPiece appends a piece record to buf.
func AppendPiece(buf []byte, bid BIDPrefix, version uint64, offset uint32, isManifest, isEnd bool, payload []byte) ([]byte, error) {
	if len(payload) > MaxPieceBytes {
		return buf, ErrPieceTooLarge
	}
	aboveMB := offset>>20 != 0
	buf = append(buf, pieceTag(isEnd, aboveMB))
	buf = append(buf, bid[:]...)
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], version)
	buf = append(buf, v[:]...)

	low20 := offset & 0xFFFFF
	lengthField := uint32(len(payload)) & 0x7FF
	var manifestBit uint32
	if isManifest {
		manifestBit = 0x80000000
	}
	lowc := low20 | (lengthField << 20) | manifestBit
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], lowc)
	buf = append(buf, lb[:]...)

	if aboveMB {
		highBits := uint16((offset >> 20) & 0xFFF)
		var hb [2]byte
		binary.LittleEndian.PutUint16(hb[:], highBits)
		buf = append(buf, hb[:]...)
	}
	return append(buf, payload...), nil
}

// pieceTag selects the tag byte for a piece record: bit 0 clear means end
// piece, bit 5 clear means an above-1MB offset (extra high-offset bytes
// follow).
func pieceTag(isEnd, aboveMB bool) byte {
	switch {
	case isEnd && aboveMB:
		return 'P'
	case isEnd && !aboveMB:
		return 'p'
	case !isEnd && aboveMB:
		return 'Q'
	default:
		return 'q'
	}
}
