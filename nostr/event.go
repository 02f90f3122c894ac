// Package nostr implements the minimal slice of the nostr protocol the
// wallet needs to use relays as its state store: event construction,
// canonical-JSON ids, Schnorr signing/verification, and the websocket wire
// message shapes relays speak.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Kind enumerates the event kinds this wallet reads or writes.
type Kind int

const (
	KindWalletMeta       Kind = 17375 // replaceable wallet metadata: mint urls, unit
	KindTokenBundle      Kind = 7375  // encrypted proof bundle
	KindSpendingHistory  Kind = 7376  // append-only spending history entry
	KindMintQuoteTracker Kind = 7374  // in-flight mint quote tracker
	KindRelayList        Kind = 10019 // plaintext relay recommendations
	KindDeletion         Kind = 5     // deletion request (NIP-09)
)

// Tag is a single nostr tag: a non-empty list of strings, tag[0] is the key.
type Tag []string

// Event is a signed nostr event as defined by NIP-01.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

var ErrInvalidSignature = errors.New("nostr: invalid event signature")

// serializationArray is the exact 6-element array whose canonical JSON
// encoding is hashed to produce an event id. Field order and the absence
// of whitespace are both load-bearing.
type serializationArray [6]any

func canonicalID(pubkey string, createdAt int64, kind int, tags []Tag, content string) ([32]byte, error) {
	if tags == nil {
		tags = []Tag{}
	}
	arr := serializationArray{0, pubkey, createdAt, kind, tags, content}

	b, err := json.Marshal(arr)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// NewEvent builds and signs an event of the given kind with the supplied
// content and tags, using privKey as the holder's long-lived signing key.
// createdAt is passed in rather than computed here so callers control
// clock access at the edges.
func NewEvent(privKey *btcec.PrivateKey, createdAt int64, kind Kind, tags []Tag, content string) (*Event, error) {
	pubKeyBytes := schnorr.SerializePubKey(privKey.PubKey())
	pubkeyHex := hex.EncodeToString(pubKeyBytes)

	idHash, err := canonicalID(pubkeyHex, createdAt, int(kind), tags, content)
	if err != nil {
		return nil, err
	}

	sig, err := schnorr.Sign(privKey, idHash[:])
	if err != nil {
		return nil, fmt.Errorf("nostr: sign event: %w", err)
	}

	if tags == nil {
		tags = []Tag{}
	}

	return &Event{
		ID:        hex.EncodeToString(idHash[:]),
		PubKey:    pubkeyHex,
		CreatedAt: createdAt,
		Kind:      int(kind),
		Tags:      tags,
		Content:   content,
		Sig:       hex.EncodeToString(sig.Serialize()),
	}, nil
}

// Verify recomputes the event's id from its fields and checks the Schnorr
// signature against the embedded pubkey, rejecting events whose id was
// tampered with independently of their signature.
func (e *Event) Verify() error {
	idHash, err := canonicalID(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
	if err != nil {
		return err
	}
	if hex.EncodeToString(idHash[:]) != e.ID {
		return errors.New("nostr: event id does not match its fields")
	}

	pubkeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("nostr: invalid pubkey hex: %w", err)
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return fmt.Errorf("nostr: invalid pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("nostr: invalid signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("nostr: invalid signature: %w", err)
	}

	if !sig.Verify(idHash[:], pubkey) {
		return ErrInvalidSignature
	}
	return nil
}

// FirstTagValue returns the first value (index 1) of the first tag whose
// key (index 0) matches name, and ok=false if no such tag exists.
func (e *Event) FirstTagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}
