package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MAX_ORDER is the number of power-of-two denominations a mint keyset
// covers (2^0 .. 2^(MAX_ORDER-1)).
const MAX_ORDER = 60

// PublicKeys maps a denomination amount to the mint's public signing key
// for that amount within one keyset.
type PublicKeys map[uint64]*secp256k1.PublicKey

// Custom marshaller to display sorted keys
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, len(pks))
	i := 0
	for k := range pks {
		amounts[i] = k
		i++
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')

		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

// DeriveKeysetId returns the string ID derived from a keyset's public keys.
// The steps to derive the ID are:
//   - sort (amount, pubkey) pairs by amount in ascending order
//   - concatenate, per pair, the hex encoding of the amount as 8-byte
//     big-endian with the hex encoding of the compressed public key
//   - SHA-256 the bytes of that hex string
//   - take the first 7 bytes (14 hex characters) of the hash
//   - prefix with the keyset ID version byte "00"
func DeriveKeysetId(keyset PublicKeys) string {
	type entry struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	entries := make([]entry, len(keyset))
	i := 0
	for amount, key := range keyset {
		entries[i] = entry{amount, key}
		i++
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].amount < entries[j].amount
	})

	var preimage bytes.Buffer
	var amountBuf [8]byte
	for _, e := range entries {
		binary.BigEndian.PutUint64(amountBuf[:], e.amount)
		preimage.WriteString(hex.EncodeToString(amountBuf[:]))
		preimage.WriteString(hex.EncodeToString(e.pk.SerializeCompressed()))
	}

	hash := sha256.Sum256(preimage.Bytes())
	return "00" + hex.EncodeToString(hash[:])[:14]
}

// KeysetsMap maps a mint url to the keysets a wallet has seen advertised
// by that mint.
type KeysetsMap map[string][]Keyset

// Keyset is a mint's advertised set of per-denomination public keys, as
// tracked by the wallet. Unlike a mint's own keyset, a wallet never holds
// the private half and never derives ids deterministically from a seed —
// it only records what a mint reports and validates the id matches.
type Keyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	InputFeePpk uint
}

type keysetTemp struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64][]byte
	InputFeePpk uint
}

func (ks *Keyset) MarshalJSON() ([]byte, error) {
	temp := &keysetTemp{
		Id:      ks.Id,
		MintURL: ks.MintURL,
		Unit:    ks.Unit,
		Active:  ks.Active,
		PublicKeys: func() map[uint64][]byte {
			m := make(map[uint64][]byte)
			for k, v := range ks.PublicKeys {
				m[k] = v.SerializeCompressed()
			}
			return m
		}(),
		InputFeePpk: ks.InputFeePpk,
	}

	return json.Marshal(temp)
}

func (ks *Keyset) UnmarshalJSON(data []byte) error {
	temp := &keysetTemp{}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	ks.Id = temp.Id
	ks.MintURL = temp.MintURL
	ks.Unit = temp.Unit
	ks.Active = temp.Active
	ks.InputFeePpk = temp.InputFeePpk

	ks.PublicKeys = make(map[uint64]*secp256k1.PublicKey)
	for k, v := range temp.PublicKeys {
		pk, err := secp256k1.ParsePubKey(v)
		if err != nil {
			return err
		}
		ks.PublicKeys[k] = pk
	}

	return nil
}

// AsPublicKeys returns the keyset's public keys in the form DeriveKeysetId
// expects.
func (ks *Keyset) AsPublicKeys() PublicKeys {
	return PublicKeys(ks.PublicKeys)
}
