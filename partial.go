package lbard

import (
	"context"
	"fmt"
)

// Partial is an in-progress reconstruction of one bundle from one peer
// (spec §3). A Partial is complete once both stream lengths are known and
// each segment list holds exactly one segment spanning the full stream.
type Partial struct {
	BIDPrefix        BIDPrefix
	Version          uint64
	ManifestLength   int64 // -1 = unknown
	BodyLength       int64 // -1 = unknown
	ManifestSegments *SegmentList
	BodySegments     *SegmentList
}

// NewPartial returns a fresh, empty Partial for (bidPrefix, version).
func NewPartial(bidPrefix BIDPrefix, version uint64) *Partial {
	return &Partial{
		BIDPrefix:        bidPrefix,
		Version:          version,
		ManifestLength:   -1,
		BodyLength:       -1,
		ManifestSegments: NewSegmentList(),
		BodySegments:     NewSegmentList(),
	}
}

// ManifestBytes returns the complete manifest, if known and fully
// received.
func (p *Partial) ManifestBytes() ([]byte, bool) {
	return p.ManifestSegments.CompleteSpan(p.ManifestLength)
}

// BodyBytes returns the complete body, if known and fully received.
func (p *Partial) BodyBytes() ([]byte, bool) {
	return p.BodySegments.CompleteSpan(p.BodyLength)
}

// IsComplete reports whether both streams are fully reconstructed.
func (p *Partial) IsComplete() bool {
	if p.ManifestLength < 0 || p.BodyLength < 0 {
		return false
	}
	_, mOK := p.ManifestBytes()
	_, bOK := p.BodyBytes()
	return mOK && bOK
}

// handlePieceRecord implements the per-piece algorithm of spec §4.3.
func (e *Engine) handlePieceRecord(peer *PeerState, rec *PieceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	held, haveHeld := e.inventory[rec.BID]

	// Step 1: we already hold this bundle at version >= the piece's
	// version — fast-ACK and stop, no Partial touched.
	if haveHeld && held.Version >= rec.Version {
		held.AnnounceNow = true
		return nil
	}

	partial := peer.FindPartial(rec.BID, rec.Version)

	// Step 2: journal preload. Only a body piece can trigger it, only
	// when we hold an older in-range journal version, and only while the
	// partial (new or existing) has no body segments yet.
	if !rec.IsManifest && haveHeld && held.isJournalInRange() {
		noBodyYet := partial == nil || len(partial.BodySegments.Segments()) == 0
		if noBodyYet {
			cached, err := e.store.PrimeBodyCache(context.Background(), *held)
			if err != nil {
				e.logger.Warn("journal body prefetch failed, dropping piece",
					"bid", rec.BID, "peer", peer.SIDPrefix, "err", err)
				return fmt.Errorf("%w: %v", ErrStorePrefetchFailed, err)
			}
			if partial == nil {
				partial = peer.AllocPartial(rec.BID, rec.Version, e.rng)
			}
			if len(partial.BodySegments.Segments()) == 0 {
				partial.BodySegments.Insert(0, cached)
			}
		}
	}

	// Step 3: locate or allocate the slot.
	if partial == nil {
		partial = peer.AllocPartial(rec.BID, rec.Version, e.rng)
	}

	// Step 4 & 5: record the known length on an end piece, then insert.
	end := rec.Offset + uint32(len(rec.Payload))
	if rec.IsManifest {
		if rec.IsEnd {
			partial.ManifestLength = int64(end)
		}
		partial.ManifestSegments.Insert(rec.Offset, rec.Payload)
	} else {
		if rec.IsEnd {
			partial.BodyLength = int64(end)
		}
		partial.BodySegments.Insert(rec.Offset, rec.Payload)
	}

	if e.verbosePieces {
		e.logger.Debug("applied piece",
			"peer", peer.SIDPrefix, "bid", rec.BID, "offset", rec.Offset,
			"len", len(rec.Payload), "manifest", rec.IsManifest, "end", rec.IsEnd)
	}

	// Step 6: commit and release on completion.
	if partial.IsComplete() {
		manifestBytes, _ := partial.ManifestBytes()
		bodyBytes, _ := partial.BodyBytes()
		if err := e.store.CommitBundle(context.Background(), manifestBytes, bodyBytes); err != nil {
			e.logger.Warn("commit failed, retaining partial for retry", "bid", rec.BID, "err", err)
			return fmt.Errorf("%w: %v", ErrStoreCommitFailed, err)
		}
		peer.ReleasePartial(partial)
		e.logger.Info("committed bundle", "bid", rec.BID, "peer", peer.SIDPrefix, "version", rec.Version)
	}

	return nil
}
