package wallet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/nostr"
	"github.com/Routstr/sixty-nuts/nostr/nip44"
)

// walletMetaContent is the decrypted content of a kind-17375 event: the
// wallet's mint list and unit. privkey is carried for forward compatibility
// with nutzap unwrapping but unused by this wallet.
type walletMetaContent struct {
	Privkey  string   `json:"privkey,omitempty"`
	MintURLs []string `json:"mints"`
	Unit     string   `json:"unit"`
}

// tokenBundleProof is one proof as carried inside a kind-7375 event.
type tokenBundleProof struct {
	Id     string `json:"id"`
	Amount uint64 `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// tokenBundleContent is the decrypted content of a kind-7375 event.
type tokenBundleContent struct {
	Mint   string             `json:"mint"`
	Unit   string             `json:"unit"`
	Proofs []tokenBundleProof `json:"proofs"`
	Del    []string           `json:"del,omitempty"`
}

// spendingHistoryContent is the decrypted content of a kind-7376 event.
type spendingHistoryContent struct {
	Direction string   `json:"direction"` // "in" or "out"
	Amount    uint64   `json:"amount"`
	Fee       uint64   `json:"fee"`
	Refs      []string `json:"token_event_refs,omitempty"`
}

// mintQuoteTrackerContent is the decrypted content of a kind-7374 event.
type mintQuoteTrackerContent struct {
	QuoteId string `json:"quote_id"`
	Mint    string `json:"mint"`
	Amount  uint64 `json:"amount"`
	Expiry  int64  `json:"expiry"`
}

func encryptedEvent(priv *btcec.PrivateKey, createdAt int64, kind nostr.Kind, tags []nostr.Tag, payload any) (*nostr.Event, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal %d content: %w", kind, err)
	}

	shared := nip44.SelfSharedSecret(priv)
	content, err := nip44.Encrypt(shared, plaintext)
	if err != nil {
		return nil, fmt.Errorf("wallet: encrypt %d content: %w", kind, err)
	}

	return nostr.NewEvent(priv, createdAt, kind, tags, content)
}

func decryptEventContent(priv *btcec.PrivateKey, event *nostr.Event, out any) error {
	shared := nip44.SelfSharedSecret(priv)
	plaintext, err := nip44.Decrypt(shared, event.Content)
	if err != nil {
		return fmt.Errorf("wallet: decrypt kind %d event %s: %w", event.Kind, event.ID, err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("wallet: unmarshal kind %d event %s content: %w", event.Kind, event.ID, err)
	}
	return nil
}

func newWalletMetaEvent(priv *btcec.PrivateKey, now time.Time, mintURLs []string, unit cashu.Unit) (*nostr.Event, error) {
	content := walletMetaContent{MintURLs: mintURLs, Unit: unit.String()}
	return encryptedEvent(priv, now.Unix(), nostr.KindWalletMeta, nil, content)
}

// newTokenBundleEvent builds a kind-7375 event carrying proofs for one
// mint. The ids of the events it supersedes are listed in the encrypted
// content's del field; the event carries no tags.
func newTokenBundleEvent(priv *btcec.PrivateKey, now time.Time, mintURL string, unit cashu.Unit,
	proofs cashu.Proofs, supersedes []string) (*nostr.Event, error) {

	bundle := make([]tokenBundleProof, len(proofs))
	for i, p := range proofs {
		bundle[i] = tokenBundleProof{Id: p.Id, Amount: p.Amount, Secret: p.Secret, C: p.C}
	}

	content := tokenBundleContent{
		Mint:   mintURL,
		Unit:   unit.String(),
		Proofs: bundle,
		Del:    supersedes,
	}

	return encryptedEvent(priv, now.Unix(), nostr.KindTokenBundle, nil, content)
}

func newSpendingHistoryEvent(priv *btcec.PrivateKey, now time.Time, direction string, amount, fee uint64,
	refs []string) (*nostr.Event, error) {

	content := spendingHistoryContent{Direction: direction, Amount: amount, Fee: fee, Refs: refs}
	return encryptedEvent(priv, now.Unix(), nostr.KindSpendingHistory, nil, content)
}

func newMintQuoteTrackerEvent(priv *btcec.PrivateKey, now time.Time, quoteId, mintURL string, amount uint64,
	expiry int64) (*nostr.Event, error) {

	content := mintQuoteTrackerContent{QuoteId: quoteId, Mint: mintURL, Amount: amount, Expiry: expiry}
	tags := []nostr.Tag{{"quote", quoteId}}
	return encryptedEvent(priv, now.Unix(), nostr.KindMintQuoteTracker, tags, content)
}

// newRelayListEvent builds a plaintext kind-10019 relay recommendation
// event; unlike the other kinds this one is never encrypted, so other
// clients can discover the holder's relays.
func newRelayListEvent(priv *btcec.PrivateKey, now time.Time, relays []string) (*nostr.Event, error) {
	tags := make([]nostr.Tag, len(relays))
	for i, r := range relays {
		tags[i] = nostr.Tag{"relay", r}
	}
	return nostr.NewEvent(priv, now.Unix(), nostr.KindRelayList, tags, "")
}

// newDeletionEvent builds a NIP-09 kind-5 request asking relays to drop the
// given event ids, used to retire superseded token/tracker events.
func newDeletionEvent(priv *btcec.PrivateKey, now time.Time, ids []string) (*nostr.Event, error) {
	tags := make([]nostr.Tag, len(ids))
	for i, id := range ids {
		tags[i] = nostr.Tag{"e", id}
	}
	return nostr.NewEvent(priv, now.Unix(), nostr.KindDeletion, tags, "deleted")
}
