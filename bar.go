package lbard

// BAREntry is one bundle-advertisement observed from a peer (spec §3, §4.5).
type BAREntry struct {
	BID       BIDPrefix
	Version   uint64
	Recipient RecipientPrefix
}

// RecordBAR appends e to the peer's BAR ledger, deduplicating exact
// repeats and enforcing the per-peer cap with least-recently-added
// eviction (spec §9: "enforce a per-peer cap ... with LRU eviction").
func (p *PeerState) RecordBAR(e BAREntry) {
	for _, existing := range p.Bars {
		if existing == e {
			return
		}
	}
	p.Bars = append(p.Bars, e)
	if len(p.Bars) > MaxBARsPerPeer {
		p.Bars = p.Bars[len(p.Bars)-MaxBARsPerPeer:]
	}
}

// NewestAdvertisedVersion returns the highest version of bid this peer has
// advertised, and whether it has advertised bid at all.
func (p *PeerState) NewestAdvertisedVersion(bid BIDPrefix) (version uint64, ok bool) {
	for _, e := range p.Bars {
		if e.BID == bid && (!ok || e.Version > version) {
			version = e.Version
			ok = true
		}
	}
	return version, ok
}

// Lacks reports whether, per this peer's BAR ledger, they appear not to
// hold bid at least at ourVersion — i.e. they either never advertised it
// or advertised an older version. This drives the scheduler's "do they
// need this?" decision (spec §4.5).
func (p *PeerState) Lacks(bid BIDPrefix, ourVersion uint64) bool {
	theirVersion, ok := p.NewestAdvertisedVersion(bid)
	return !ok || theirVersion < ourVersion
}

// handleBARRecord implements spec §4.5/P6: a BAR is recorded against the
// peer's ledger, and if we already hold that bundle at an equal-or-greater
// version than the peer just advertised, we raise AnnounceNow to force an
// ACK on the next scheduler firing.
func (e *Engine) handleBARRecord(peer *PeerState, rec *BARRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	peer.RecordBAR(BAREntry{BID: rec.BID, Version: rec.Version, Recipient: rec.Recipient})

	if held, ok := e.inventory[rec.BID]; ok && held.Version >= rec.Version {
		held.AnnounceNow = true
	}

	// A peer advertising a version at least as new as what we are sending
	// them supersedes that transfer (spec §4.7 state machine).
	key := transferKey{Peer: peer.SIDPrefix, BID: rec.BID}
	if transfer, ok := e.scheduler.transfers[key]; ok {
		if bundle, ok := e.inventory[rec.BID]; ok && rec.Version >= bundle.Version {
			transfer.State = TransferDone
		}
	}
}
