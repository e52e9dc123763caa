// Package lbard implements the piece-reassembly and peer-state engine for
// a low-bandwidth asynchronous bundle synchronizer. Nodes exchange
// content-addressed bundles (a manifest plus a body) over narrow, lossy,
// half-duplex transports by broadcasting one short frame at a time: either
// a bundle-advertisement record or a piece of a manifest or body currently
// being offered.
//
// The package owns the wire-frame codec, the per-peer partial-bundle
// tracker, the peer table, the BAR ledger and the broadcast scheduler. It
// does not open a serial port, watch a directory, or talk to a bundle
// store directly — those are external collaborators reached through the
// StoreAdapter interface and supplied by cmd/lbard.
package lbard

// Wire-format constants, shared across the codec, the peer table and the
// scheduler.
const (
	// LinkMTU is the largest frame this protocol will ever emit or accept.
	LinkMTU = 200

	// SIDPrefixLen is the length in bytes of the on-wire SID prefix.
	SIDPrefixLen = 6

	// BIDPrefixLen is the length in bytes of the on-wire BID prefix.
	BIDPrefixLen = 8

	// RecipientPrefixLen is the length in bytes of the on-wire
	// recipient-SID-of-BID prefix carried in a BAR record.
	RecipientPrefixLen = 4

	// MaxPeers is the fixed capacity of the peer table.
	MaxPeers = 16

	// MaxBundlesInFlight is the number of concurrent Partial slots held
	// per peer.
	MaxBundlesInFlight = 4

	// MaxBARsPerPeer bounds the BAR ledger's per-peer entry count.
	MaxBARsPerPeer = 64

	// MaxPieceBytes is the largest payload a single piece record can
	// carry (11-bit length field in the offset-compound).
	MaxPieceBytes = 0x7FF

	// journalVersionCeiling is the boundary below which a version number
	// identifies a journal bundle (spec §4.3 step 2: "version < 2^32").
	journalVersionCeiling = uint64(1) << 32
)

// SIDPrefix is the 6-byte on-wire identifier of a node.
type SIDPrefix [SIDPrefixLen]byte

// BIDPrefix is the 8-byte on-wire identifier of a bundle.
type BIDPrefix [BIDPrefixLen]byte

// RecipientPrefix is the 4-byte on-wire identifier of a direct-addressed
// recipient.
type RecipientPrefix [RecipientPrefixLen]byte
