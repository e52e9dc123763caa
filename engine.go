package lbard

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Engine owns every piece of process-wide mutable state the core needs:
// the peer table, in-flight partials, BAR ledgers and local inventory
// (spec §9 "bundle into a single owning Engine value created at startup").
// Nothing outside the main loop that constructs it may read or write its
// fields directly; all access goes through its exported methods. Those
// that read or change the inventory, partials, BAR ledgers or scheduler
// state take an internal mutex, and the peer table guards its own peer
// list. HandleFrame's update of a peer's last-seen time and message
// number, and InFlightPartialCount's read of the partial slots, are not
// taken under that mutex, so the Engine is not safe for concurrent calls
// from more than one goroutine.
type Engine struct {
	mu     sync.Mutex
	logger *slog.Logger
	rng    *rand.Rand

	self          SIDPrefix
	monitor       bool
	verbosePieces bool

	store          StoreAdapter
	inventory      map[BIDPrefix]*Bundle
	inventoryToken string

	peers *PeerTable

	scheduler  schedulerState
	msgCounter uint16
}

// EngineConfig configures a new Engine.
type EngineConfig struct {
	Self          SIDPrefix
	Store         StoreAdapter
	Logger        *slog.Logger
	Rand          *rand.Rand
	Monitor       bool
	VerbosePieces bool
}

var (
	ErrStorePrefetchFailed = errors.New("lbard: journal body prefetch failed")
	ErrStoreCommitFailed   = errors.New("lbard: bundle commit failed")
)

// NewEngine constructs an Engine ready to process frames. cfg.Rand should
// be a fixed-seed source in tests and a process-seeded one in production
// (spec §9).
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Engine{
		logger:        logger,
		rng:           rng,
		self:          cfg.Self,
		monitor:       cfg.Monitor,
		verbosePieces: cfg.VerbosePieces,
		store:         cfg.Store,
		inventory:     make(map[BIDPrefix]*Bundle),
		peers:         NewPeerTable(rng, logger),
		scheduler:     newSchedulerState(),
	}
}

// PeerCount reports the current peer table size, for the C8 progress
// summary.
func (e *Engine) PeerCount() int {
	return e.peers.Len()
}

// InFlightPartialCount reports how many Partial slots are currently
// occupied across every peer, for the C8 progress summary.
func (e *Engine) InFlightPartialCount() int {
	count := 0
	for _, peer := range e.peers.Peers() {
		for _, p := range peer.Partials {
			if p != nil {
				count++
			}
		}
	}
	return count
}

// UpsertInventory merges freshly-listed bundles into the local inventory,
// keyed by BID prefix. It is the engine-side half of C6's refresh_inventory
// contract; cmd/lbard calls RefreshInventory, which calls this.
func (e *Engine) UpsertInventory(bundles []Bundle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range bundles {
		b := bundles[i]
		e.inventory[b.BID.Prefix()] = &b
	}
}

// RefreshInventory calls the store adapter with a deadline clamped to
// [100ms,500ms] (spec §4.6, §4.8) and merges the result into local
// inventory.
func (e *Engine) RefreshInventory(ctx context.Context, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, ClampRefreshDeadline(budget))
	defer cancel()

	e.mu.Lock()
	token := e.inventoryToken
	e.mu.Unlock()

	bundles, nextToken, err := e.store.RefreshInventory(ctx, e.self, token)
	if err != nil {
		e.logger.Warn("inventory refresh failed", "err", err)
		return err
	}
	e.UpsertInventory(bundles)
	e.mu.Lock()
	e.inventoryToken = nextToken
	e.mu.Unlock()
	return nil
}

// HandleFrame is the single entry point for a received frame (spec §4.1,
// §4.3, §4.4, §4.5). Self-addressed frames are dropped before any parsing
// (P5). Malformed frames apply whatever records were decoded before the
// error and drop the rest (§4.1); none of that is fatal (§7).
func (e *Engine) HandleFrame(raw []byte, now time.Time) error {
	if IsSelfLoop(raw, e.self) {
		return nil
	}

	hdr, records, decodeErr := Decode(raw)
	if errors.Is(decodeErr, ErrShortFrame) {
		// Too short even to have a usable header — nothing to act on.
		e.logger.Debug("dropped frame", "err", decodeErr)
		return decodeErr
	}

	peer := e.peers.FindOrCreate(hdr.Sender)
	peer.Touch(now, hdr.MessageNumber, hdr.Retransmission)

	for _, rec := range records {
		switch rec.Kind {
		case RecordBAR:
			e.handleBARRecord(peer, rec.BAR)
		case RecordPiece:
			if err := e.handlePieceRecord(peer, rec.Piece); err != nil {
				e.logger.Debug("piece not applied", "peer", peer.SIDPrefix, "err", err)
			}
		}
	}

	if decodeErr != nil {
		e.logger.Debug("frame truncated after applying decoded records", "peer", hdr.Sender, "err", decodeErr)
		return decodeErr
	}
	return nil
}
