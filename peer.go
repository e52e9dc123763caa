package lbard

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// PeerState is everything the engine tracks about one sender we have
// heard from (spec §3, §4.4). BID-prefix comparisons throughout this
// package operate on raw bytes, not hex text, so there is no separate
// "case-insensitive" comparison to perform — byte equality already
// subsumes it.
type PeerState struct {
	SIDPrefix         SIDPrefix
	LastMessageTime   time.Time
	LastMessageNumber uint16
	Partials          [MaxBundlesInFlight]*Partial
	Bars              []BAREntry
}

// FindPartial returns the in-flight Partial tracking (bidPrefix, version)
// for this peer, or nil.
func (p *PeerState) FindPartial(bidPrefix BIDPrefix, version uint64) *Partial {
	for _, s := range p.Partials {
		if s != nil && s.BIDPrefix == bidPrefix && s.Version == version {
			return s
		}
	}
	return nil
}

// AllocPartial allocates a slot for (bidPrefix, version): an empty slot if
// one exists, else a uniformly random one of the four, discarding whatever
// it held (spec §4.3 step 3, §9 "random eviction ... needs no LRU
// metadata").
func (p *PeerState) AllocPartial(bidPrefix BIDPrefix, version uint64, rng *rand.Rand) *Partial {
	for i, s := range p.Partials {
		if s == nil {
			np := NewPartial(bidPrefix, version)
			p.Partials[i] = np
			return np
		}
	}
	idx := rng.Intn(MaxBundlesInFlight)
	np := NewPartial(bidPrefix, version)
	p.Partials[idx] = np
	return np
}

// ReleasePartial frees pt's slot, if it belongs to this peer.
func (p *PeerState) ReleasePartial(pt *Partial) {
	for i, s := range p.Partials {
		if s == pt {
			p.Partials[i] = nil
			return
		}
	}
}

// PeerTable is the bounded, keyed-by-SID-prefix set of known peers (spec
// §3, §4.4). It is not safe for concurrent use from more than one
// goroutine at a time without external synchronization beyond its own
// mutex — callers outside the single-threaded main loop (e.g. a
// background I/O helper) must hand results back through a channel, per
// spec §5.
type PeerTable struct {
	mu     sync.Mutex
	logger *slog.Logger
	rng    *rand.Rand
	peers  []*PeerState
}

// NewPeerTable returns an empty peer table. rng drives eviction and must
// be supplied by the caller for determinism under test (spec §9).
func NewPeerTable(rng *rand.Rand, logger *slog.Logger) *PeerTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerTable{rng: rng, logger: logger}
}

// FindOrCreate returns the PeerState for prefix, creating one if this is
// the first frame seen from it. Once the table is at capacity, creating a
// new peer evicts a uniformly random existing one, freeing all of its
// Partials and BARs (spec P7).
func (t *PeerTable) FindOrCreate(prefix SIDPrefix) *PeerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.peers {
		if p.SIDPrefix == prefix {
			return p
		}
	}

	fresh := &PeerState{SIDPrefix: prefix}
	if len(t.peers) < MaxPeers {
		t.peers = append(t.peers, fresh)
		return fresh
	}

	idx := t.rng.Intn(len(t.peers))
	evicted := t.peers[idx]
	t.logger.Debug("evicting peer for new arrival", "evicted", evicted.SIDPrefix, "arrival", prefix)
	t.peers[idx] = fresh
	return fresh
}

// Peers returns a snapshot of the current peer set.
func (t *PeerTable) Peers() []*PeerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*PeerState, len(t.peers))
	copy(out, t.peers)
	return out
}

// Len reports the current peer count.
func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Touch records receipt of a non-self frame from a peer: last-seen time
// always advances, and the last message number advances unless the frame
// is marked as a retransmission (spec §4.4 — the retransmission bit is a
// hint only, it never suppresses record processing).
func (p *PeerState) Touch(now time.Time, messageNumber uint16, retransmission bool) {
	p.LastMessageTime = now
	if !retransmission {
		p.LastMessageNumber = messageNumber
	}
}
