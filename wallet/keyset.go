package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/crypto"
)

// keysetCacheTTL bounds how long a mint's active keyset is trusted before
// re-fetching; mints rotate keysets infrequently but the wallet must notice
// a rotation before it mints into a retired keyset.
const keysetCacheTTL = 5 * time.Minute

// GetMintActiveKeyset gets the active keyset with the specified unit.
func GetMintActiveKeyset(ctx context.Context, mintURL string, unit cashu.Unit) (*crypto.Keyset, error) {
	keysets, err := GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	for _, keyset := range keysets.Keysets {
		if !keyset.Active || keyset.Unit != unit.String() {
			continue
		}
		if _, err := hex.DecodeString(keyset.Id); err != nil {
			continue
		}

		keys, err := GetKeysetKeys(ctx, mintURL, keyset.Id)
		if err != nil {
			return nil, err
		}
		return &crypto.Keyset{
			Id:          keyset.Id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  keys,
			InputFeePpk: keyset.InputFeePpk,
		}, nil
	}

	return nil, errors.New("could not find an active keyset for the unit")
}

// GetMintInactiveKeysets returns the mint's retired keysets for unit, keyed
// by id; a wallet still holding proofs under a retired keyset id needs these
// to verify and spend them.
func GetMintInactiveKeysets(ctx context.Context, mintURL string, unit cashu.Unit) (map[string]crypto.Keyset, error) {
	keysetsResponse, err := GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactive := make(map[string]crypto.Keyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if keysetRes.Active || keysetRes.Unit != unit.String() {
			continue
		}
		if _, err := hex.DecodeString(keysetRes.Id); err != nil {
			continue
		}
		inactive[keysetRes.Id] = crypto.Keyset{
			Id:          keysetRes.Id,
			MintURL:     mintURL,
			Unit:        keysetRes.Unit,
			Active:      false,
			InputFeePpk: keysetRes.InputFeePpk,
		}
	}
	return inactive, nil
}

// GetKeysetKeys fetches and validates one keyset's public keys, rejecting
// any keyset whose advertised id doesn't match what DeriveKeysetId computes
// from the keys themselves.
func GetKeysetKeys(ctx context.Context, mintURL, id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetsResponse, err := GetKeysetById(ctx, mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}
	if len(keysetsResponse.Keysets) == 0 {
		return nil, fmt.Errorf("mint returned no keys for keyset %s", id)
	}

	keys := map[uint64]*secp256k1.PublicKey(keysetsResponse.Keysets[0].Keys)

	derivedId := crypto.DeriveKeysetId(keys)
	if id != derivedId {
		return nil, fmt.Errorf("invalid keyset from mint: derived id '%v' does not match advertised id '%v'",
			derivedId, id)
	}

	return keys, nil
}

// activeKeyset returns the wallet's cached active keyset for mintURL,
// refreshing from the mint when the cache is stale or missing. A detected
// rotation demotes the previously active keyset to the inactive set rather
// than discarding it, since proofs already minted under it remain spendable.
func (w *Wallet) activeKeyset(ctx context.Context, mintURL string) (*crypto.Keyset, error) {
	w.keysetMu.Lock()
	defer w.keysetMu.Unlock()

	cached, ok := w.activeKeysets[mintURL]
	if ok && time.Since(w.keysetFetchedAt[mintURL]) < keysetCacheTTL {
		return cached, nil
	}

	fresh, err := GetMintActiveKeyset(ctx, mintURL, w.unit)
	if err != nil {
		if ok {
			// stale cache beats a transient mint error
			return cached, nil
		}
		return nil, err
	}

	if ok && cached.Id != fresh.Id {
		cached.Active = false
		if w.inactiveKeysets[mintURL] == nil {
			w.inactiveKeysets[mintURL] = make(map[string]crypto.Keyset)
		}
		w.inactiveKeysets[mintURL][cached.Id] = *cached
	}

	w.activeKeysets[mintURL] = fresh
	w.keysetFetchedAt[mintURL] = time.Now()
	return fresh, nil
}

// keysetById returns the keyset (active or inactive) identified by id for
// mintURL, fetching and caching it if not already known.
func (w *Wallet) keysetById(ctx context.Context, mintURL, id string) (*crypto.Keyset, error) {
	w.keysetMu.Lock()
	if active, ok := w.activeKeysets[mintURL]; ok && active.Id == id {
		w.keysetMu.Unlock()
		return active, nil
	}
	if ks, ok := w.inactiveKeysets[mintURL][id]; ok {
		w.keysetMu.Unlock()
		return &ks, nil
	}
	w.keysetMu.Unlock()

	keys, err := GetKeysetKeys(ctx, mintURL, id)
	if err != nil {
		return nil, err
	}

	all, err := GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, err
	}
	var inputFeePpk uint
	var unit string
	for _, ks := range all.Keysets {
		if ks.Id == id {
			inputFeePpk = ks.InputFeePpk
			unit = ks.Unit
			break
		}
	}

	ks := crypto.Keyset{
		Id:          id,
		MintURL:     mintURL,
		Unit:        unit,
		Active:      false,
		PublicKeys:  keys,
		InputFeePpk: inputFeePpk,
	}

	w.keysetMu.Lock()
	if w.inactiveKeysets[mintURL] == nil {
		w.inactiveKeysets[mintURL] = make(map[string]crypto.Keyset)
	}
	w.inactiveKeysets[mintURL][id] = ks
	w.keysetMu.Unlock()

	return &ks, nil
}
