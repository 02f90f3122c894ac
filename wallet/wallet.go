// Package wallet implements a stateless Chaumian ecash wallet: a client
// for a Cashu mint (C4), a nostr relay pool it uses as its only persistent
// store (C2/C3), a state reconstructor that folds the holder's relay
// events into a current balance (C5), and the proof lifecycle engine (C6)
// that composes those into mint/send/receive/melt operations.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut03"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut04"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut05"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut08"
	"github.com/Routstr/sixty-nuts/crypto"
	"github.com/Routstr/sixty-nuts/nostr"
	"github.com/Routstr/sixty-nuts/relay"
)

// Wallet is the top-level engine: one holder key, one relay pool, and a
// cached view of the mints it trusts. All exported balance-changing
// methods serialize on mu so that a rollover's publish-then-delete pair
// never interleaves with a concurrent operation building on stale state.
type Wallet struct {
	priv      *btcec.PrivateKey
	pubkeyHex string

	pool *relay.Pool

	unit           cashu.Unit
	configMintURLs []string

	keysetMu        sync.Mutex
	activeKeysets   map[string]*crypto.Keyset
	inactiveKeysets map[string]map[string]crypto.Keyset
	keysetFetchedAt map[string]time.Time

	proofCache *proofStateCache

	mu    sync.Mutex
	state *WalletState

	mintedQuotes sync.Map // quoteId string -> struct{}
}

var (
	ErrUntrustedMint    = errors.New("wallet: mint is not in the trusted set")
	ErrQuoteNotPaid     = errors.New("wallet: mint quote not yet paid")
	ErrMeltNotPaid      = errors.New("wallet: melt quote invoice was not paid")
	ErrNoMintConfigured = errors.New("wallet: no mint configured")
)

// New constructs a Wallet from cfg: resolves the holder's signing key,
// dials every configured relay, and reconstructs the current proof set
// from whatever the relays already hold. If no wallet-metadata event is
// found, one is published using cfg's mint list.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	priv, generated, err := resolveSigningKey(cfg)
	if err != nil {
		return nil, err
	}
	if generated {
		nsec, encErr := EncodeNsec(priv)
		if encErr == nil {
			fmt.Printf("wallet: generated ephemeral signing key %s — save this to NUTW_NSEC to reuse this wallet\n", nsec)
		}
	}

	relayURLs := cfg.RelayURLs
	if len(relayURLs) == 0 {
		if !cfg.AutoInit {
			return nil, fmt.Errorf("wallet: no relays configured")
		}
		relayURLs = DefaultRelays
	}

	pool := relay.NewPool(cfg.RelayBurstInterval)
	for _, url := range relayURLs {
		if err := pool.Add(ctx, url); err != nil {
			// one unreachable relay should not abort startup; the pool
			// still functions against whichever relays did connect.
			fmt.Printf("wallet: could not connect to relay %s: %v\n", url, err)
		}
	}
	if len(pool.URLs()) == 0 {
		pool.Close()
		return nil, relay.ErrUnreachable
	}

	w := &Wallet{
		priv:            priv,
		pubkeyHex:       pubkeyHex(priv),
		pool:            pool,
		unit:            cfg.Unit,
		configMintURLs:  cfg.MintURLs,
		activeKeysets:   make(map[string]*crypto.Keyset),
		inactiveKeysets: make(map[string]map[string]crypto.Keyset),
		keysetFetchedAt: make(map[string]time.Time),
		proofCache:      newProofStateCache(cfg.CacheTTL),
	}

	if err := w.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return w, nil
}

// Init (re)loads the wallet's state from its relays, publishing an initial
// kind-17375 wallet-metadata event (and a kind-10019 relay list) if none
// exists yet.
func (w *Wallet) Init(ctx context.Context) error {
	state, err := w.reconstructState(ctx)
	if err != nil {
		return fmt.Errorf("wallet: reconstruct state: %w", err)
	}

	if state.WalletMetaID == "" {
		mints := state.MintURLs
		if len(mints) == 0 {
			mints = w.configMintURLs
		}
		event, err := newWalletMetaEvent(w.priv, time.Now(), mints, w.unit)
		if err == nil {
			if accepted, pubErr := w.pool.PublishAll(ctx, event); pubErr == nil && accepted {
				state.WalletMetaID = event.ID
				state.MintURLs = mints
			}
		}
		if relayEvent, err := newRelayListEvent(w.priv, time.Now(), w.pool.URLs()); err == nil {
			_, _ = w.pool.PublishAll(ctx, relayEvent)
		}
	}

	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	return nil
}

// Close tears down the wallet's relay connections.
func (w *Wallet) Close() error {
	return w.pool.Close()
}

// Refresh re-derives the wallet's state from its relays, discarding the
// cached view. Balance-changing methods keep the cache updated
// incrementally; call Refresh when another client sharing this holder key
// may have changed the log.
func (w *Wallet) Refresh(ctx context.Context) error {
	return w.Init(ctx)
}

// Balance returns the wallet's total balance across every trusted mint,
// from the cached state.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Balance()
}

// BalanceByMint returns the wallet's balance broken out per mint.
func (w *Wallet) BalanceByMint() map[string]uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.BalanceByMint()
}

// Mints returns the wallet's trusted mint URLs.
func (w *Wallet) Mints() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.state.MintURLs...)
}

// Relays returns the relay URLs this wallet is currently connected to.
func (w *Wallet) Relays() []string {
	return w.pool.URLs()
}

func (w *Wallet) defaultMint() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.state.MintURLs) == 0 {
		return "", ErrNoMintConfigured
	}
	return w.state.MintURLs[0], nil
}

// feePpkForMint builds the input-fee-ppk table for every keyset (active or
// inactive) the wallet knows about for mintURL, used by fee-aware
// selection and swap/melt change calculations.
func (w *Wallet) feePpkForMint(ctx context.Context, mintURL string) (map[string]uint, error) {
	active, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return nil, err
	}
	fees := map[string]uint{active.Id: active.InputFeePpk}

	inactive, err := GetMintInactiveKeysets(ctx, mintURL, w.unit)
	if err == nil {
		for id, ks := range inactive {
			fees[id] = ks.InputFeePpk
		}
	}
	return fees, nil
}

func (w *Wallet) inactiveKeysetIds(mintURL string) map[string]bool {
	w.keysetMu.Lock()
	defer w.keysetMu.Unlock()
	ids := make(map[string]bool)
	for id := range w.inactiveKeysets[mintURL] {
		ids[id] = true
	}
	return ids
}

// MintQuote tracks an in-flight mint-invoice request.
type MintQuote struct {
	MintURL        string
	QuoteId        string
	Invoice        string
	Amount         uint64
	Expiry         int64
	trackerEventID string
}

// CreateMintQuote requests a mint invoice for amount on mintURL and
// publishes a kind-7374 tracker referencing it (§4.6.3 step 1).
func (w *Wallet) CreateMintQuote(ctx context.Context, mintURL string, amount uint64) (*MintQuote, error) {
	resp, err := PostMintQuoteBolt11(ctx, mintURL, nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   w.unit.String(),
	})
	if err != nil {
		return nil, err
	}

	quote := &MintQuote{
		MintURL: mintURL,
		QuoteId: resp.Quote,
		Invoice: resp.Request,
		Amount:  amount,
		Expiry:  resp.Expiry,
	}

	if event, err := newMintQuoteTrackerEvent(w.priv, time.Now(), quote.QuoteId, mintURL, amount, resp.Expiry); err == nil {
		if accepted, _ := w.pool.PublishAll(ctx, event); accepted {
			quote.trackerEventID = event.ID
		}
	}

	return quote, nil
}

// LookupMintQuote re-fetches a previously created mint quote from the
// wallet's own kind-7374 tracker events, so a CLI or other short-lived
// process can resume AwaitMintQuote across restarts knowing only the quote
// id — the amount and expiry never need to be remembered locally, they
// live on the relays like everything else in this wallet.
func (w *Wallet) LookupMintQuote(ctx context.Context, quoteId string) (*MintQuote, error) {
	events, err := w.pool.FetchAll(ctx, []nostr.Filter{{
		Authors: []string{w.pubkeyHex},
		Kinds:   []int{int(nostr.KindMintQuoteTracker)},
	}})
	if err != nil {
		return nil, fmt.Errorf("wallet: fetch mint quote trackers: %w", err)
	}

	for _, event := range events {
		if event.PubKey != w.pubkeyHex || event.Verify() != nil {
			continue
		}
		var content mintQuoteTrackerContent
		if err := decryptEventContent(w.priv, event, &content); err != nil {
			continue
		}
		if content.QuoteId == quoteId {
			return &MintQuote{
				MintURL:        content.Mint,
				QuoteId:        content.QuoteId,
				Amount:         content.Amount,
				Expiry:         content.Expiry,
				trackerEventID: event.ID,
			}, nil
		}
	}

	return nil, fmt.Errorf("wallet: no tracked mint quote found for id %s", quoteId)
}

// AwaitMintQuote polls the mint for quote's payment state at pollInterval
// until it is paid, ctx is cancelled, or the quote expires, then completes
// the mint and returns the wallet's new total balance.
func (w *Wallet) AwaitMintQuote(ctx context.Context, quote *MintQuote, pollInterval time.Duration) (uint64, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := GetMintQuoteState(ctx, quote.MintURL, quote.QuoteId)
		if err == nil && state.Paid {
			return w.completeMintQuote(ctx, quote)
		}
		if quote.Expiry > 0 && time.Now().Unix() > quote.Expiry {
			return 0, fmt.Errorf("%w: quote %s expired", ErrQuoteNotPaid, quote.QuoteId)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Wallet) completeMintQuote(ctx context.Context, quote *MintQuote) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, already := w.mintedQuotes.Load(quote.QuoteId); already {
		return w.state.Balance(), nil
	}

	keyset, err := w.activeKeyset(ctx, quote.MintURL)
	if err != nil {
		return 0, err
	}

	outputs, err := planOutputs(keyset.Id, 0, quote.Amount, 0)
	if err != nil {
		return 0, err
	}

	resp, err := PostMintBolt11(ctx, quote.MintURL, nut04.PostMintBolt11Request{
		Quote:   quote.QuoteId,
		Outputs: outputMessages(outputs),
	})
	if err != nil {
		return 0, err
	}

	proofs, err := constructProofs(outputs, resp.Signatures, keyset)
	if err != nil {
		return 0, err
	}

	// Recorded before publishing so a concurrent or repeated AwaitMintQuote
	// call in this process observes this quote as already handled instead
	// of minting it twice (§4.6.3 step 3). The record is held in memory only.
	w.mintedQuotes.Store(quote.QuoteId, struct{}{})

	var supersedes []string
	if quote.trackerEventID != "" {
		supersedes = []string{quote.trackerEventID}
	}

	_, records, err := w.rollover(ctx, quote.MintURL, proofs, supersedes)
	if err != nil {
		return 0, err
	}

	w.state.Proofs = append(w.state.Proofs, records...)
	_ = w.publishHistory(ctx, "in", quote.Amount, 0, nil)

	return w.state.Balance(), nil
}

// Send selects proofs totaling amount from mintURL, swapping at the mint
// if necessary to produce an exact split, and returns the serialized v4
// token the recipient redeems (§4.6.4).
func (w *Wallet) Send(ctx context.Context, mintURL string, amount uint64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	feePpk, err := w.feePpkForMint(ctx, mintURL)
	if err != nil {
		return "", err
	}

	var mintRecords []ProofRecord
	for _, r := range w.state.Proofs {
		if r.MintURL == mintURL {
			mintRecords = append(mintRecords, r)
		}
	}

	ordered := orderForSpending(mintRecords, w.inactiveKeysetIds(mintURL))
	selected, err := selectProofs(ordered, amount, feePpk)
	if err != nil {
		return "", err
	}

	selectedSum := selected.Amount()
	fee := cashu.InputFee(selected, feePpk)
	changeAmount := selectedSum - amount - fee

	var sendProofs, changeProofs cashu.Proofs
	if selectedSum == amount && fee == 0 {
		sendProofs = selected
	} else {
		keyset, err := w.activeKeyset(ctx, mintURL)
		if err != nil {
			return "", err
		}
		outputs, err := planOutputs(keyset.Id, amount, changeAmount, 0)
		if err != nil {
			return "", err
		}
		resp, err := PostSwap(ctx, mintURL, nut03.PostSwapRequest{
			Inputs:  selected,
			Outputs: outputMessages(outputs),
		})
		if err != nil {
			return "", err
		}
		allProofs, err := constructProofs(outputs, resp.Signatures, keyset)
		if err != nil {
			return "", err
		}
		sendProofs, changeProofs, _ = splitByRole(outputs, allProofs)
	}

	supersedes := consumedEventIDs(selected, mintRecords)
	survivors := survivorsOf(w.state, supersedes, selected)
	newProofsForEvent := append(survivors, changeProofs...)

	newEventID, newRecords, err := w.rollover(ctx, mintURL, newProofsForEvent, supersedes)
	if err != nil {
		return "", err
	}

	w.removeSuperseded(supersedes)
	w.state.Proofs = append(w.state.Proofs, newRecords...)

	var refs []string
	if newEventID != "" {
		refs = []string{newEventID}
	}
	_ = w.publishHistory(ctx, "out", amount, fee, refs)

	token, err := cashu.NewTokenV4(sendProofs, mintURL, w.unit, false)
	if err != nil {
		return "", err
	}
	return token.Serialize()
}

// Redeem decodes a serialized token and swaps its proofs into the wallet
// at the token's issuing mint (§4.6.5). Tokens from mints outside the
// wallet's trusted set are still accepted and the mint is added to the
// trusted set, rather than rejected, per the accept-and-trust policy
// chosen for this wallet.
func (w *Wallet) Redeem(ctx context.Context, tokenStr string) (uint64, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return 0, err
	}
	proofs := token.Proofs()
	mintURL := token.Mint()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range proofs {
		if _, err := w.keysetById(ctx, mintURL, p.Id); err != nil {
			return 0, fmt.Errorf("wallet: token references unknown keyset %s at %s: %w", p.Id, mintURL, err)
		}
	}

	feePpk, err := w.feePpkForMint(ctx, mintURL)
	if err != nil {
		return 0, err
	}
	fee := cashu.InputFee(proofs, feePpk)
	total := proofs.Amount()
	if total <= fee {
		return 0, fmt.Errorf("wallet: token amount %d does not cover redeem fee %d", total, fee)
	}
	receiveAmount := total - fee

	keyset, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return 0, err
	}
	outputs, err := planOutputs(keyset.Id, 0, receiveAmount, 0)
	if err != nil {
		return 0, err
	}

	resp, err := PostSwap(ctx, mintURL, nut03.PostSwapRequest{
		Inputs:  proofs,
		Outputs: outputMessages(outputs),
	})
	if err != nil {
		return 0, err
	}

	received, err := constructProofs(outputs, resp.Signatures, keyset)
	if err != nil {
		return 0, err
	}

	newEventID, records, err := w.rollover(ctx, mintURL, received, nil)
	if err != nil {
		return 0, err
	}

	w.state.Proofs = append(w.state.Proofs, records...)
	if !contains(w.state.MintURLs, mintURL) {
		w.state.MintURLs = append(w.state.MintURLs, mintURL)
		if event, err := newWalletMetaEvent(w.priv, time.Now(), w.state.MintURLs, w.unit); err == nil {
			_, _ = w.pool.PublishAll(ctx, event)
		}
	}

	var refs []string
	if newEventID != "" {
		refs = []string{newEventID}
	}
	_ = w.publishHistory(ctx, "in", receiveAmount, fee, refs)

	return receiveAmount, nil
}

// Melt pays invoice via mintURL, spending proofs and receiving back any
// unspent fee-reserve change (§4.6.6).
func (w *Wallet) Melt(ctx context.Context, mintURL, invoice string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	quote, err := PostMeltQuoteBolt11(ctx, mintURL, nut05.PostMeltQuoteBolt11Request{
		Request: invoice,
		Unit:    w.unit.String(),
	})
	if err != nil {
		return "", err
	}
	need := quote.Amount + quote.FeeReserve

	feePpk, err := w.feePpkForMint(ctx, mintURL)
	if err != nil {
		return "", err
	}

	var mintRecords []ProofRecord
	for _, r := range w.state.Proofs {
		if r.MintURL == mintURL {
			mintRecords = append(mintRecords, r)
		}
	}
	ordered := orderForSpending(mintRecords, w.inactiveKeysetIds(mintURL))
	selected, err := selectProofs(ordered, need, feePpk)
	if err != nil {
		return "", err
	}

	selectedSum := selected.Amount()
	inputFeeSelected := cashu.InputFee(selected, feePpk)
	changeAmount := selectedSum - need - inputFeeSelected

	blankCount := nut08.BlankOutputCount(quote.FeeReserve)

	keyset, err := w.activeKeyset(ctx, mintURL)
	if err != nil {
		return "", err
	}
	outputs, err := planOutputs(keyset.Id, 0, changeAmount, blankCount)
	if err != nil {
		return "", err
	}

	resp, err := PostMeltBolt11(ctx, mintURL, nut05.PostMeltBolt11Request{
		Quote:   quote.Quote,
		Inputs:  selected,
		Outputs: outputMessages(outputs),
	})
	if err != nil {
		return "", err
	}
	if !resp.Paid {
		return "", ErrMeltNotPaid
	}

	var changeProofs, feeReturnProofs cashu.Proofs
	if len(resp.Change) > 0 {
		allProofs, err := constructProofs(outputs, resp.Change, keyset)
		if err != nil {
			return "", err
		}
		_, changeProofs, feeReturnProofs = splitByRole(outputs, allProofs)
	}

	supersedes := consumedEventIDs(selected, mintRecords)
	survivors := survivorsOf(w.state, supersedes, selected)
	newProofsForEvent := append(survivors, append(changeProofs, feeReturnProofs...)...)

	newEventID, newRecords, err := w.rollover(ctx, mintURL, newProofsForEvent, supersedes)
	if err != nil {
		return "", err
	}

	w.removeSuperseded(supersedes)
	w.state.Proofs = append(w.state.Proofs, newRecords...)

	// The lightning-routing fee actually paid is whatever of the fee
	// reserve was not handed back via blank outputs, plus the mint's own
	// input fee for spending these proofs.
	lightningFee := quote.FeeReserve - feeReturnProofs.Amount()
	var refs []string
	if newEventID != "" {
		refs = []string{newEventID}
	}
	_ = w.publishHistory(ctx, "out", quote.Amount, lightningFee+inputFeeSelected, refs)

	return resp.Preimage, nil
}

// CrossMintPartial reports that Melt on the source mint succeeded but the
// paired mint on the destination has not yet completed. The destination
// mint quote is already paid, so retrying AwaitMintQuote against it
// succeeds without spending further source proofs.
type CrossMintPartial struct {
	SourceMint string
	DestMint   string
	Amount     uint64
	DestQuote  *MintQuote
	Err        error
}

func (e *CrossMintPartial) Error() string {
	return fmt.Sprintf("wallet: cross-mint swap partial: source %s melted but destination %s mint incomplete: %v",
		e.SourceMint, e.DestMint, e.Err)
}

func (e *CrossMintPartial) Unwrap() error { return e.Err }

// SwapMint moves amount of value from sourceMint to destMint (§4.6.7) by
// creating a mint quote at the destination and paying its invoice with a
// melt at the source. If the destination mint step fails after the source
// melt succeeds, the destination quote is already paid and safe to retry
// via AwaitMintQuote — no source funds are at risk, they are simply
// pending as the destination's change proofs until the mint completes.
func (w *Wallet) SwapMint(ctx context.Context, sourceMint, destMint string, amount uint64) (uint64, error) {
	destQuote, err := w.CreateMintQuote(ctx, destMint, amount)
	if err != nil {
		return 0, fmt.Errorf("wallet: create destination mint quote: %w", err)
	}

	if _, err := w.Melt(ctx, sourceMint, destQuote.Invoice); err != nil {
		return 0, fmt.Errorf("wallet: pay destination invoice from source mint: %w", err)
	}

	newBalance, err := w.AwaitMintQuote(ctx, destQuote, time.Second)
	if err != nil {
		return 0, &CrossMintPartial{SourceMint: sourceMint, DestMint: destMint, Amount: amount, DestQuote: destQuote, Err: err}
	}
	return newBalance, nil
}

// removeSuperseded drops every record belonging to one of the superseded
// event ids, whether or not the proof itself was spent in this operation —
// survivors among them are already present in the records a rollover just
// returned, tagged under the new event id, so the old copy must go or the
// balance would double-count them.
func (w *Wallet) removeSuperseded(supersedes []string) {
	supersedeSet := make(map[string]bool, len(supersedes))
	for _, id := range supersedes {
		supersedeSet[id] = true
	}

	kept := w.state.Proofs[:0]
	for _, r := range w.state.Proofs {
		if supersedeSet[r.EventID] {
			continue
		}
		kept = append(kept, r)
	}
	w.state.Proofs = kept
}

// consumedEventIDs returns the deduplicated set of event ids that owned
// any of the selected proofs, i.e. the events a rollover must supersede.
func consumedEventIDs(selected cashu.Proofs, records []ProofRecord) []string {
	selectedFP := make(map[string]bool, len(selected))
	for _, p := range selected {
		selectedFP[proofFingerprint(p)] = true
	}

	seen := make(map[string]bool)
	var ids []string
	for _, r := range records {
		if selectedFP[proofFingerprint(r.Proof)] && !seen[r.EventID] {
			seen[r.EventID] = true
			ids = append(ids, r.EventID)
		}
	}
	return ids
}

// survivorsOf returns proofs belonging to any event in supersedes that are
// not themselves being consumed — proofs that would otherwise be lost when
// the superseded events are deleted, and so must be carried into the
// replacement event.
func survivorsOf(state *WalletState, supersedes []string, consumed cashu.Proofs) cashu.Proofs {
	consumedFP := make(map[string]bool, len(consumed))
	for _, p := range consumed {
		consumedFP[proofFingerprint(p)] = true
	}
	supersedeSet := make(map[string]bool, len(supersedes))
	for _, id := range supersedes {
		supersedeSet[id] = true
	}

	var survivors cashu.Proofs
	for _, r := range state.Proofs {
		if supersedeSet[r.EventID] && !consumedFP[proofFingerprint(r.Proof)] {
			survivors = append(survivors, r.Proof)
		}
	}
	return survivors
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
