package lbard

import (
	"context"
	"time"
)

// BundleID is the full 32-byte content identifier of a bundle, as held by
// the local store. Only its leading BIDPrefixLen bytes ever appear on the
// wire.
type BundleID [32]byte

// Prefix returns the on-wire BID prefix for this bundle identifier.
func (b BundleID) Prefix() BIDPrefix {
	var p BIDPrefix
	copy(p[:], b[:BIDPrefixLen])
	return p
}

// Bundle is one entry of the local inventory, as surfaced by the store
// adapter (spec §3).
type Bundle struct {
	BID             BundleID
	Version         uint64
	RecipientPrefix RecipientPrefix
	ManifestBytes   []byte
	BodyBytes       []byte
	IsJournal       bool

	// AnnounceNow is raised when a peer offered a version we already hold
	// at least as new, to force-ACK them on the next scheduler firing
	// (spec §4.3 step 1). It is transient engine state, not store state.
	AnnounceNow bool
}

// isJournalInRange reports whether this bundle qualifies for journal-body
// prefetch under spec §4.3 step 2: it must be flagged as a journal bundle
// and its version must fall within the normal (sub-2^32) range.
func (b *Bundle) isJournalInRange() bool {
	return b.IsJournal && b.Version < journalVersionCeiling
}

// StoreAdapter is the contract the engine uses to reach the external
// bundle store (spec §4.6, §6 "out of scope" collaborator). Implementations
// live outside this package — cmd/lbard's is an HTTP client against a
// store endpoint addressed by <endpoint> with <credential> as a bearer
// token.
type StoreAdapter interface {
	// RefreshInventory lists bundles held locally since token, returning a
	// new opaque token for incremental refresh. self is the engine's own
	// SID prefix, passed through in case the store scopes results by
	// owner. Callers must apply ClampRefreshDeadline to ctx's deadline.
	RefreshInventory(ctx context.Context, self SIDPrefix, token string) (bundles []Bundle, nextToken string, err error)

	// PrimeBodyCache loads the current body of a journal bundle into a
	// single-slot cache and returns it. The caller must copy the result
	// out before the next call — the next PrimeBodyCache call may
	// overwrite the same underlying buffer (spec §5).
	PrimeBodyCache(ctx context.Context, bundle Bundle) ([]byte, error)

	// CommitBundle atomically inserts or updates a completed bundle. The
	// engine does not inspect manifest structure; it trusts the store to
	// validate it.
	CommitBundle(ctx context.Context, manifestBytes, bodyBytes []byte) error
}

// ClampRefreshDeadline bounds a store-refresh deadline to the [100ms,500ms]
// window spec §4.6/§8 requires.
func ClampRefreshDeadline(d time.Duration) time.Duration {
	switch {
	case d < 100*time.Millisecond:
		return 100 * time.Millisecond
	case d > 500*time.Millisecond:
		return 500 * time.Millisecond
	default:
		return d
	}
}
