package lbard

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct{}

func (stubStore) RefreshInventory(ctx context.Context, self SIDPrefix, token string) ([]Bundle, string, error) {
	return nil, token, nil
}
func (stubStore) PrimeBodyCache(ctx context.Context, bundle Bundle) ([]byte, error) {
	return nil, nil
}
func (stubStore) CommitBundle(ctx context.Context, manifestBytes, bodyBytes []byte) error {
	return nil
}

func newTestEngine(t *testing.T, self SIDPrefix) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{
		Self:  self,
		Store: stubStore{},
		Rand:  rand.New(rand.NewSource(7)),
	})
}

func sidPrefixFor(b byte) SIDPrefix {
	var s SIDPrefix
	for i := range s {
		s[i] = b
	}
	return s
}

func bidPrefixFor(b byte) BIDPrefix {
	var p BIDPrefix
	for i := range p {
		p[i] = b
	}
	return p
}

func bundleIDFor(prefixByte byte) BundleID {
	var id BundleID
	for i := 0; i < BIDPrefixLen; i++ {
		id[i] = prefixByte
	}
	return id
}

func TestScheduler_PriorityOneAnnounceNow(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0xAA)
	e.UpsertInventory([]Bundle{{BID: bid, Version: 3, ManifestBytes: []byte("m"), BodyBytes: []byte("b")}})
	e.inventory[bid.Prefix()].AnnounceNow = true

	frame, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)

	hdr, records, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, self, hdr.Sender)
	require.Len(t, records, 1)
	require.Equal(t, RecordBAR, records[0].Kind)
	assert.Equal(t, bid.Prefix(), records[0].BAR.BID)
	assert.False(t, e.inventory[bid.Prefix()].AnnounceNow)
}

func TestScheduler_PriorityTwoSendsManifestBeforeBody(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0xBB)
	manifest := []byte("manifest-bytes")
	body := []byte("body-bytes")
	e.UpsertInventory([]Bundle{{BID: bid, Version: 1, ManifestBytes: manifest, BodyBytes: body}})

	peerSID := sidPrefixFor(0x02)
	peer := e.peers.FindOrCreate(peerSID)
	peer.Touch(time.Now(), 1, false)
	// Peer has not advertised this bundle at all, so it "lacks" it.

	frame, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)
	_, records, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, RecordPiece, records[0].Kind)
	assert.True(t, records[0].Piece.IsManifest)
	assert.Equal(t, manifest, records[0].Piece.Payload)
	assert.True(t, records[0].Piece.IsEnd)
}

func TestScheduler_PriorityTwoSkipsPeerThatHasIt(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0xCC)
	e.UpsertInventory([]Bundle{{BID: bid, Version: 1, ManifestBytes: []byte("m"), BodyBytes: []byte("b")}})

	peerSID := sidPrefixFor(0x02)
	peer := e.peers.FindOrCreate(peerSID)
	peer.Touch(time.Now(), 1, false)
	peer.RecordBAR(BAREntry{BID: bid.Prefix(), Version: 1})

	// No AnnounceNow, peer already has it at the same version, so priority
	// 2 has nothing to send; falls through to priority 3 (a BAR).
	frame, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)
	_, records, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, RecordBAR, records[0].Kind)
}

func TestScheduler_PriorityThreeAnnouncesWhatWeHold(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0xDD)
	e.UpsertInventory([]Bundle{{BID: bid, Version: 5, ManifestBytes: []byte("m"), BodyBytes: []byte("b")}})

	frame, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)
	_, records, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, RecordBAR, records[0].Kind)
	assert.Equal(t, uint64(5), records[0].BAR.Version)
}

func TestScheduler_MonitorModeNeverSends(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := NewEngine(EngineConfig{Self: self, Store: stubStore{}, Rand: rand.New(rand.NewSource(1)), Monitor: true})
	bid := bundleIDFor(0xEE)
	e.UpsertInventory([]Bundle{{BID: bid, Version: 1, ManifestBytes: []byte("m"), BodyBytes: []byte("b")}})
	e.inventory[bid.Prefix()].AnnounceNow = true

	_, ok := e.NextOutgoingFrame(time.Now())
	assert.False(t, ok)
}

func TestScheduler_TransferAdvancesAcrossFirings(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0xFF)
	manifest := make([]byte, PieceChunkSize+10)
	for i := range manifest {
		manifest[i] = byte(i)
	}
	e.UpsertInventory([]Bundle{{BID: bid, Version: 1, ManifestBytes: manifest, BodyBytes: []byte("body")}})

	peerSID := sidPrefixFor(0x02)
	peer := e.peers.FindOrCreate(peerSID)
	peer.Touch(time.Now(), 1, false)

	frame1, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)
	_, recs1, err := Decode(frame1)
	require.NoError(t, err)
	require.Len(t, recs1, 1)
	assert.False(t, recs1[0].Piece.IsEnd)
	assert.Equal(t, uint32(0), recs1[0].Piece.Offset)

	frame2, ok := e.NextOutgoingFrame(time.Now())
	require.True(t, ok)
	_, recs2, err := Decode(frame2)
	require.NoError(t, err)
	require.Len(t, recs2, 1)
	assert.True(t, recs2[0].Piece.IsManifest)
	assert.True(t, recs2[0].Piece.IsEnd)
	assert.Equal(t, uint32(PieceChunkSize), recs2[0].Piece.Offset)
}

func TestScheduler_RetransmissionBitOnRepeatAnnounce(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := newTestEngine(t, self)
	bid := bundleIDFor(0x11)
	e.UpsertInventory([]Bundle{{BID: bid, Version: 1, ManifestBytes: []byte("m"), BodyBytes: []byte("b")}})

	now := time.Now()
	frame1, ok := e.NextOutgoingFrame(now)
	require.True(t, ok)
	hdr1, _, err := Decode(frame1)
	require.NoError(t, err)
	assert.False(t, hdr1.Retransmission)

	frame2, ok := e.NextOutgoingFrame(now.Add(time.Millisecond))
	require.True(t, ok)
	hdr2, _, err := Decode(frame2)
	require.NoError(t, err)
	assert.True(t, hdr2.Retransmission)
	assert.NotEqual(t, hdr1.MessageNumber, hdr2.MessageNumber)
}

func TestScheduler_PeerEvictionDropsStaleTransfer(t *testing.T) {
	self := sidPrefixFor(0x01)
	e := NewEngine(EngineConfig{Self: self, Store: stubStore{}, Rand: rand.New(rand.NewSource(2))})

	staleKey := transferKey{Peer: sidPrefixFor(0x99), BID: bidPrefixFor(0x22)}
	e.scheduler.transfers[staleKey] = &Transfer{Peer: staleKey.Peer, BID: staleKey.BID, State: TransferSendingManifest}

	livePeer := e.peers.FindOrCreate(sidPrefixFor(0x02))
	liveKey := transferKey{Peer: livePeer.SIDPrefix, BID: bidPrefixFor(0x33)}
	e.scheduler.transfers[liveKey] = &Transfer{Peer: liveKey.Peer, BID: liveKey.BID, State: TransferSendingManifest}

	e.mu.Lock()
	e.purgeStaleTransfersLocked()
	_, staleRemains := e.scheduler.transfers[staleKey]
	_, liveRemains := e.scheduler.transfers[liveKey]
	e.mu.Unlock()

	assert.False(t, staleRemains)
	assert.True(t, liveRemains)
}
