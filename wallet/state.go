package wallet

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut07"
	"github.com/Routstr/sixty-nuts/crypto"
	"github.com/Routstr/sixty-nuts/nostr"
)

// ProofRecord is one proof the reconstructor folded out of the holder's
// relay-sourced events, annotated with which mint issued it and which live
// kind-7375 event currently carries it (so a later rollover knows what to
// supersede).
type ProofRecord struct {
	Proof   cashu.Proof
	MintURL string
	EventID string
}

// WalletState is the result of folding a holder's nostr events into a
// current balance, per §4.5.
type WalletState struct {
	Proofs   []ProofRecord
	MintURLs []string
	Unit     cashu.Unit

	// WalletMetaID is the id of the newest kind-17375 event, if any, so a
	// metadata update can be published as a replacement.
	WalletMetaID string
}

// Balance sums every proof's amount, grouped implicitly by nothing — the
// caller decides whether to break it out per mint.
func (s *WalletState) Balance() uint64 {
	var total uint64
	for _, r := range s.Proofs {
		total += r.Proof.Amount
	}
	return total
}

// BalanceByMint sums proof amounts per mint URL.
func (s *WalletState) BalanceByMint() map[string]uint64 {
	out := make(map[string]uint64)
	for _, r := range s.Proofs {
		out[r.MintURL] += r.Proof.Amount
	}
	return out
}

// proofFingerprint is the dedup key for a proof occurring in more than one
// live event: the (secret, C) pair is what makes a proof unique regardless
// of which event carries it.
func proofFingerprint(p cashu.Proof) string { return p.Secret + ":" + p.C }

// proofStateCache remembers a mint's last-known UNSPENT/SPENT/UNKNOWN
// answer for a proof, keyed by its Y value (hex), so the reconstructor
// doesn't re-ask the mint about proofs it just checked. SPENT entries get a
// long TTL since a mint practically never un-spends a proof; UNSPENT and
// UNKNOWN have shorter TTLs per §4.5. The UNSPENT TTL is configurable; the
// UNKNOWN TTL is the fixed unknownStateTTL.
type proofStateCache struct {
	spent   *expirable.LRU[string, struct{}]
	unspent *expirable.LRU[string, struct{}]
	unknown *expirable.LRU[string, struct{}]
}

const unknownStateTTL = time.Minute

func newProofStateCache(unspentTTL time.Duration) *proofStateCache {
	if unspentTTL <= 0 {
		unspentTTL = defaultCacheTTL
	}
	return &proofStateCache{
		spent:   expirable.NewLRU[string, struct{}](8192, nil, 24*time.Hour),
		unspent: expirable.NewLRU[string, struct{}](8192, nil, unspentTTL),
		unknown: expirable.NewLRU[string, struct{}](8192, nil, unknownStateTTL),
	}
}

func (c *proofStateCache) cached(y string) (nut07.State, bool) {
	if _, ok := c.spent.Get(y); ok {
		return nut07.Spent, true
	}
	if _, ok := c.unspent.Get(y); ok {
		return nut07.Unspent, true
	}
	if _, ok := c.unknown.Get(y); ok {
		return nut07.Unknown, true
	}
	return nut07.Unknown, false
}

func (c *proofStateCache) record(y string, state nut07.State) {
	switch state {
	case nut07.Spent:
		c.spent.Add(y, struct{}{})
	case nut07.Unspent:
		c.unspent.Add(y, struct{}{})
	default:
		c.unknown.Add(y, struct{}{})
	}
}

// reconstructState rebuilds the wallet's proof multiset from its relay
// events, per the five-step procedure in §4.5.
func (w *Wallet) reconstructState(ctx context.Context) (*WalletState, error) {
	pubkeyHex := w.pubkeyHex

	events, err := w.pool.FetchAll(ctx, []nostr.Filter{{
		Authors: []string{pubkeyHex},
		Kinds:   []int{int(nostr.KindWalletMeta), int(nostr.KindTokenBundle), int(nostr.KindDeletion)},
	}})
	if err != nil {
		return nil, err
	}

	var metaEvents, tokenEvents, deletionEvents []*nostr.Event
	for _, e := range events {
		if e.PubKey != pubkeyHex {
			continue
		}
		if err := e.Verify(); err != nil {
			continue
		}
		switch nostr.Kind(e.Kind) {
		case nostr.KindWalletMeta:
			metaEvents = append(metaEvents, e)
		case nostr.KindTokenBundle:
			tokenEvents = append(tokenEvents, e)
		case nostr.KindDeletion:
			deletionEvents = append(deletionEvents, e)
		}
	}

	state := &WalletState{Unit: w.unit}

	meta := newestEvent(metaEvents)
	if meta != nil {
		var content walletMetaContent
		if err := decryptEventContent(w.priv, meta, &content); err == nil {
			state.MintURLs = content.MintURLs
			state.WalletMetaID = meta.ID
		}
	}
	if len(state.MintURLs) == 0 {
		state.MintURLs = w.configMintURLs
	}

	deleted := make(map[string]bool)
	for _, e := range deletionEvents {
		for _, id := range referencedIds(e) {
			deleted[id] = true
		}
	}

	byID := make(map[string]*nostr.Event, len(tokenEvents))
	decoded := make(map[string]tokenBundleContent, len(tokenEvents))
	for _, e := range tokenEvents {
		byID[e.ID] = e
		var content tokenBundleContent
		if err := decryptEventContent(w.priv, e, &content); err != nil {
			continue
		}
		decoded[e.ID] = content
	}

	// Fixed-point expansion: a live event's `del` field supersedes its
	// predecessors, but whether an event counts as "live" depends on this
	// same computation, so iterate until the deleted set stops growing.
	for {
		grew := false
		for id, content := range decoded {
			if deleted[id] {
				continue
			}
			for _, supersededID := range content.Del {
				if !deleted[supersededID] {
					deleted[supersededID] = true
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}

	type candidate struct {
		record    ProofRecord
		createdAt int64
	}
	bestByFingerprint := make(map[string]candidate)

	for id, content := range decoded {
		if deleted[id] {
			continue
		}
		event := byID[id]
		for _, bp := range content.Proofs {
			proof := cashu.Proof{Id: bp.Id, Amount: bp.Amount, Secret: bp.Secret, C: bp.C}
			fp := proofFingerprint(proof)
			rec := ProofRecord{Proof: proof, MintURL: content.Mint, EventID: id}
			existing, ok := bestByFingerprint[fp]
			if !ok || event.CreatedAt > existing.createdAt ||
				(event.CreatedAt == existing.createdAt && id > existing.record.EventID) {
				bestByFingerprint[fp] = candidate{record: rec, createdAt: event.CreatedAt}
			}
		}
	}

	records := make([]ProofRecord, 0, len(bestByFingerprint))
	for _, c := range bestByFingerprint {
		records = append(records, c.record)
	}

	records, err = w.validateAgainstMints(ctx, records)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].MintURL != records[j].MintURL {
			return records[i].MintURL < records[j].MintURL
		}
		return records[i].Proof.Amount < records[j].Proof.Amount
	})
	state.Proofs = records

	return state, nil
}

func newestEvent(events []*nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for _, e := range events {
		if newest == nil || e.CreatedAt > newest.CreatedAt ||
			(e.CreatedAt == newest.CreatedAt && e.ID > newest.ID) {
			newest = e
		}
	}
	return newest
}

func referencedIds(deletionEvent *nostr.Event) []string {
	var ids []string
	for _, t := range deletionEvent.Tags {
		if len(t) >= 2 && t[0] == "e" {
			ids = append(ids, t[1])
		}
	}
	return ids
}

// validateAgainstMints drops proofs the issuing mint reports SPENT and
// returns the surviving set, batching /v1/checkstate calls per mint and
// consulting the wallet's proof-state cache first (§4.5).
func (w *Wallet) validateAgainstMints(ctx context.Context, records []ProofRecord) ([]ProofRecord, error) {
	byMint := make(map[string][]ProofRecord)
	for _, r := range records {
		byMint[r.MintURL] = append(byMint[r.MintURL], r)
	}

	var surviving []ProofRecord
	for mintURL, mintRecords := range byMint {
		toCheck := make([]ProofRecord, 0, len(mintRecords))
		yOf := make(map[string]string, len(mintRecords))

		for _, r := range mintRecords {
			y, err := crypto.YValue([]byte(r.Proof.Secret))
			if err != nil {
				continue
			}
			yOf[proofFingerprint(r.Proof)] = y

			if state, ok := w.proofCache.cached(y); ok {
				if state == nut07.Spent {
					continue
				}
				surviving = append(surviving, r)
				continue
			}
			toCheck = append(toCheck, r)
		}

		if len(toCheck) == 0 {
			continue
		}

		ys := make([]string, len(toCheck))
		for i, r := range toCheck {
			ys[i] = yOf[proofFingerprint(r.Proof)]
		}

		resp, err := PostCheckProofState(ctx, mintURL, nut07.PostCheckStateRequest{Ys: ys})
		if err != nil {
			// Mint unreachable: trust the relay-sourced state rather than
			// dropping proofs on a transient network error.
			surviving = append(surviving, toCheck...)
			continue
		}

		stateByY := make(map[string]nut07.State, len(resp.States))
		for _, s := range resp.States {
			stateByY[s.Y] = s.State
		}

		for _, r := range toCheck {
			y := yOf[proofFingerprint(r.Proof)]
			state, ok := stateByY[y]
			if !ok {
				state = nut07.Unknown
			}
			w.proofCache.record(y, state)
			if state != nut07.Spent {
				surviving = append(surviving, r)
			}
		}
	}

	return surviving, nil
}

// pubkeyHex derives the holder's x-only pubkey hex from priv, the form
// nostr events and filters address the holder by.
func pubkeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}
