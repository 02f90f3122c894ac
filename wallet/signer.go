package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// resolveSigningKey parses the holder's long-lived nostr signing key from
// whichever of the config's key fields is set (hex takes precedence over
// nsec), or generates a fresh ephemeral key when cfg.AutoInit allows it.
func resolveSigningKey(cfg Config) (*btcec.PrivateKey, bool, error) {
	if cfg.SigningKeyHex != "" {
		key, err := parseHexPrivateKey(cfg.SigningKeyHex)
		if err != nil {
			return nil, false, err
		}
		return key, false, nil
	}

	if cfg.SigningKeyNsec != "" {
		key, err := parseNsec(cfg.SigningKeyNsec)
		if err != nil {
			return nil, false, err
		}
		return key, false, nil
	}

	if !cfg.AutoInit {
		return nil, false, fmt.Errorf("wallet: no signing key configured (set NUTW_PRIVATE_KEY or NUTW_NSEC)")
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, false, fmt.Errorf("wallet: generate ephemeral signing key: %w", err)
	}
	return key, true, nil
}

func parseHexPrivateKey(s string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid hex signing key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("wallet: signing key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// parseNsec decodes a NIP-19 "nsec1..." bech32-encoded private key.
func parseNsec(nsec string) (*btcec.PrivateKey, error) {
	hrp, data, err := bech32.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid nsec: %w", err)
	}
	if hrp != "nsec" {
		return nil, fmt.Errorf("wallet: expected nsec1... key, got hrp %q", hrp)
	}

	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode nsec payload: %w", err)
	}
	if len(converted) != 32 {
		return nil, fmt.Errorf("wallet: nsec payload must be 32 bytes, got %d", len(converted))
	}

	priv, _ := btcec.PrivKeyFromBytes(converted)
	return priv, nil
}

// EncodeNsec bech32-encodes a private key as "nsec1...", the inverse of
// parseNsec, for printing a freshly generated ephemeral key to the holder.
func EncodeNsec(priv *btcec.PrivateKey) (string, error) {
	converted, err := bech32.ConvertBits(priv.Serialize(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode("nsec", converted)
}
