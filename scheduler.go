package lbard

import (
	"sort"
	"time"
)

// PieceChunkSize is the payload size used for outgoing piece records. It
// is conservative: LinkMTU minus the 8-byte frame header, the 1-byte tag,
// the 8-byte BID prefix, the 8-byte version and the largest possible
// 6-byte offset-compound still leaves comfortable room under MTU even
// after the teacher-style extra logging/bookkeeping bytes implementations
// tend to reserve.
const PieceChunkSize = 160

// SmallBundleThreshold is the total manifest+body size at or below which a
// bundle is treated as a small, MeshMS-like message and preferred by the
// scheduler (spec §4.7: "Small (MeshMS) bundles are preferred"). The spec
// does not name an exact boundary; this is a deliberate, documented
// heuristic choice (see DESIGN.md).
const SmallBundleThreshold = 4096

// TransferState is the per-outbound-transfer state machine of spec §4.7.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferSendingManifest
	TransferSendingBody
	TransferDone
)

type transferKey struct {
	Peer SIDPrefix
	BID  BIDPrefix
}

// Transfer tracks how much of one bundle we have sent to one peer.
type Transfer struct {
	Peer           SIDPrefix
	BID            BIDPrefix
	State          TransferState
	ManifestOffset uint32
	BodyOffset     uint32
}

// retransmitWindow is how soon after emitting a BAR for the same bundle a
// repeat emission is flagged with the retransmission bit (spec §4.7: "set
// when re-emitting an identical record within a short window").
const retransmitWindow = 2 * time.Second

type schedulerState struct {
	transfers     map[transferKey]*Transfer
	lastAnnounced map[BIDPrefix]time.Time
	rrCursor      int
}

func newSchedulerState() schedulerState {
	return schedulerState{
		transfers:     make(map[transferKey]*Transfer),
		lastAnnounced: make(map[BIDPrefix]time.Time),
	}
}

// isRetransmitLocked reports whether a BAR for prefix was already emitted
// within retransmitWindow of now, updating the last-announced time either
// way.
func (e *Engine) isRetransmitLocked(prefix BIDPrefix, now time.Time) bool {
	prev, ok := e.scheduler.lastAnnounced[prefix]
	e.scheduler.lastAnnounced[prefix] = now
	return ok && now.Sub(prev) < retransmitWindow
}

// NextOutgoingFrame selects and encodes exactly one outgoing frame per
// spec §4.7, or reports false if there is nothing to send. In monitor
// mode the scheduler never fires (spec §6, SPEC_FULL.md §C).
func (e *Engine) NextOutgoingFrame(now time.Time) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.monitor {
		return nil, false
	}

	if frame, ok := e.selectAnnounceNowLocked(now); ok {
		return frame, true
	}
	if frame, ok := e.selectPieceLocked(now); ok {
		return frame, true
	}
	if frame, ok := e.selectBARLocked(now); ok {
		return frame, true
	}
	return nil, false
}

// nextHeader builds a frame header with the next message number.
func (e *Engine) nextHeader(retransmission bool) []byte {
	e.msgCounter = (e.msgCounter + 1) & 0x7FFF
	return EncodeHeader(nil, e.self, e.msgCounter, retransmission)
}

// selectAnnounceNowLocked implements priority 1: force-ACK any bundle
// whose AnnounceNow flag is set.
func (e *Engine) selectAnnounceNowLocked(now time.Time) ([]byte, bool) {
	for prefix, bundle := range e.inventory {
		if !bundle.AnnounceNow {
			continue
		}
		retransmission := e.isRetransmitLocked(prefix, now)
		frame := e.nextHeader(retransmission)
		frame = AppendBAR(frame, prefix, bundle.Version, bundle.RecipientPrefix)
		bundle.AnnounceNow = false
		return frame, true
	}
	return nil, false
}

// selectPieceLocked implements priority 2: advance a transfer to the
// most-recently-heard peer who, per their BAR ledger, lacks one of our
// bundles.
func (e *Engine) selectPieceLocked(now time.Time) ([]byte, bool) {
	e.purgeStaleTransfersLocked()

	peers := e.peers.Peers()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastMessageTime.After(peers[j].LastMessageTime)
	})

	for _, peer := range peers {
		candidates := e.lackingBundlesLocked(peer)
		if len(candidates) == 0 {
			continue
		}
		for attempt := 0; attempt < len(candidates); attempt++ {
			idx := (e.scheduler.rrCursor + attempt) % len(candidates)
			prefix := candidates[idx]
			bundle := e.inventory[prefix]
			key := transferKey{Peer: peer.SIDPrefix, BID: prefix}
			transfer := e.scheduler.transfers[key]
			if transfer == nil {
				transfer = &Transfer{Peer: peer.SIDPrefix, BID: prefix, State: TransferSendingManifest}
				e.scheduler.transfers[key] = transfer
			}
			if transfer.State == TransferDone {
				delete(e.scheduler.transfers, key)
				continue
			}
			if frame, ok := e.buildPieceFrameLocked(transfer, bundle); ok {
				e.scheduler.rrCursor++
				return frame, true
			}
		}
	}
	return nil, false
}

// lackingBundlesLocked returns the BID prefixes of bundles we hold that
// peer appears not to have, small/MeshMS bundles first (spec §4.7),
// otherwise sorted by prefix for a stable round-robin order.
func (e *Engine) lackingBundlesLocked(peer *PeerState) []BIDPrefix {
	var out []BIDPrefix
	for prefix, bundle := range e.inventory {
		if peer.Lacks(prefix, bundle.Version) {
			out = append(out, prefix)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si := e.inventory[out[i]].isSmall()
		sj := e.inventory[out[j]].isSmall()
		if si != sj {
			return si
		}
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

func (b *Bundle) isSmall() bool {
	return len(b.ManifestBytes)+len(b.BodyBytes) <= SmallBundleThreshold
}

// buildPieceFrameLocked emits the next chunk of transfer's current phase.
// Manifest pieces precede body pieces for the same bundle (spec §4.7).
func (e *Engine) buildPieceFrameLocked(transfer *Transfer, bundle *Bundle) ([]byte, bool) {
	if transfer.State == TransferIdle {
		transfer.State = TransferSendingManifest
	}

	switch transfer.State {
	case TransferSendingManifest:
		chunk, isEnd := nextChunk(bundle.ManifestBytes, transfer.ManifestOffset)
		frame := e.nextHeader(false)
		frame, err := AppendPiece(frame, transfer.BID, bundle.Version, transfer.ManifestOffset, true, isEnd, chunk)
		if err != nil {
			return nil, false
		}
		transfer.ManifestOffset += uint32(len(chunk))
		if isEnd {
			transfer.State = TransferSendingBody
		}
		return frame, true

	case TransferSendingBody:
		chunk, isEnd := nextChunk(bundle.BodyBytes, transfer.BodyOffset)
		frame := e.nextHeader(false)
		frame, err := AppendPiece(frame, transfer.BID, bundle.Version, transfer.BodyOffset, false, isEnd, chunk)
		if err != nil {
			return nil, false
		}
		transfer.BodyOffset += uint32(len(chunk))
		if isEnd {
			transfer.State = TransferDone
		}
		return frame, true
	}
	return nil, false
}

// nextChunk returns the next PieceChunkSize-or-fewer bytes of data
// starting at offset, and whether this chunk reaches the end of data.
func nextChunk(data []byte, offset uint32) ([]byte, bool) {
	if offset >= uint32(len(data)) {
		return nil, true
	}
	end := offset + PieceChunkSize
	if end >= uint32(len(data)) {
		return data[offset:], true
	}
	return data[offset:end], false
}

// purgeStaleTransfersLocked drops transfers whose peer has been evicted
// from the peer table (spec §4.7 state machine: "any state → Idle on peer
// eviction" — for a discarded PeerState that is equivalent to discarding
// the transfer outright, since a fresh peer arriving at that slot starts
// with no transfers of its own).
func (e *Engine) purgeStaleTransfersLocked() {
	live := make(map[SIDPrefix]bool)
	for _, p := range e.peers.Peers() {
		live[p.SIDPrefix] = true
	}
	for key := range e.scheduler.transfers {
		if !live[key.Peer] {
			delete(e.scheduler.transfers, key)
		}
	}
}

// selectBARLocked implements priority 3: announce some bundle we hold,
// biased toward bundles not recently announced.
func (e *Engine) selectBARLocked(now time.Time) ([]byte, bool) {
	var chosenPrefix BIDPrefix
	var chosenBundle *Bundle
	var oldest time.Time

	for prefix, bundle := range e.inventory {
		t, announced := e.scheduler.lastAnnounced[prefix]
		if !announced {
			chosenPrefix, chosenBundle = prefix, bundle
			break
		}
		if chosenBundle == nil || t.Before(oldest) {
			chosenPrefix, chosenBundle, oldest = prefix, bundle, t
		}
	}
	if chosenBundle == nil {
		return nil, false
	}

	retransmission := e.isRetransmitLocked(chosenPrefix, now)
	frame := e.nextHeader(retransmission)
	frame = AppendBAR(frame, chosenPrefix, chosenBundle.Version, chosenBundle.RecipientPrefix)
	return frame, true
}

// PacingInterval returns the next message-update interval with jitter
// applied, per spec §2/§4.7: base ms plus a uniform 0-250ms jitter to
// break lock-step among synchronous radios.
func (e *Engine) PacingInterval(base time.Duration) time.Duration {
	e.mu.Lock()
	jitter := time.Duration(e.rng.Intn(251)) * time.Millisecond
	e.mu.Unlock()
	return base + jitter
}
