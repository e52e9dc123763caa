package lbard

// Segment is a contiguous received byte range of one stream (a manifest or
// a body).
type Segment struct {
	Start  uint32
	Length uint32
	Data   []byte
}

// End returns the exclusive end offset of the segment.
func (s Segment) End() uint32 {
	return s.Start + s.Length
}

// SegmentList holds the disjoint, non-adjacent, start-offset-sorted
// segments of one stream. Every mutating method restores the coalesced
// invariant before returning: no two adjacent segments may ever satisfy
// a.Start+a.Length == b.Start (spec §3, §4.2). Overlap bytes are never
// re-verified — the first-seen bytes win, since peers are assumed honest.
type SegmentList struct {
	segments []Segment
}

// NewSegmentList returns an empty segment list.
func NewSegmentList() *SegmentList {
	return &SegmentList{}
}

// Segments returns the current segments in ascending, disjoint,
// non-adjacent order. The returned slice is owned by the list and must
// not be mutated by the caller.
func (l *SegmentList) Segments() []Segment {
	return l.segments
}

// Insert adds the byte range [offset, offset+len(data)) to the list,
// coalescing it with any segment it touches or overlaps. A piece that is
// fully contained within an existing segment is redundant and discarded
// without allocating (spec §4.2 first bullet). Insert is idempotent, and
// the covered ranges do not depend on delivery order; where pieces
// overlap, the bytes kept are those of the first piece delivered, so only
// non-overlapping pieces give identical data in any order (spec P2-P4).
func (l *SegmentList) Insert(offset uint32, data []byte) {
	length := uint32(len(data))
	if length == 0 {
		return
	}
	end := offset + length

	for _, s := range l.segments {
		if s.Start <= offset && s.End() >= end {
			return
		}
	}

	lo := 0
	for lo < len(l.segments) && l.segments[lo].End() < offset {
		lo++
	}
	hi := lo
	for hi < len(l.segments) && l.segments[hi].Start <= end {
		hi++
	}

	mergedStart, mergedEnd := offset, end
	for _, s := range l.segments[lo:hi] {
		if s.Start < mergedStart {
			mergedStart = s.Start
		}
		if s.End() > mergedEnd {
			mergedEnd = s.End()
		}
	}

	buf := make([]byte, mergedEnd-mergedStart)
	// New piece's bytes first, so earlier-arrived segments (first-seen)
	// can overwrite them in any overlap region below.
	copy(buf[offset-mergedStart:], data)
	for _, s := range l.segments[lo:hi] {
		copy(buf[s.Start-mergedStart:], s.Data)
	}
	merged := Segment{Start: mergedStart, Length: mergedEnd - mergedStart, Data: buf}

	out := make([]Segment, 0, len(l.segments)-(hi-lo)+1)
	out = append(out, l.segments[:lo]...)
	out = append(out, merged)
	out = append(out, l.segments[hi:]...)
	l.segments = out
}

// CompleteSpan returns the single contiguous [0, total) byte slice when
// the list is complete for the given known total length, and reports
// whether it is.
func (l *SegmentList) CompleteSpan(total int64) ([]byte, bool) {
	if total < 0 || len(l.segments) != 1 {
		return nil, false
	}
	s := l.segments[0]
	if s.Start != 0 || uint32(total) != s.Length {
		return nil, false
	}
	return s.Data, true
}
