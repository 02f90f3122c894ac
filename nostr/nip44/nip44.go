// Package nip44 implements the NIP-44 v2 authenticated encryption scheme
// this wallet uses for self-encryption: every wallet-private event kind is
// encrypted and decrypted under a conversation key the holder shares only
// with itself, derived by ECDH between the holder's secret key and its own
// x-only public key.
package nip44

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	version    = 0x02
	nonceSize  = 12
	keySize    = 32
	macSize    = 32
	minPlainSize = 1
	maxPlainSize = 65535
)

var (
	ErrPlaintextTooLong  = errors.New("nip44: plaintext exceeds maximum size")
	ErrPlaintextEmpty    = errors.New("nip44: plaintext cannot be empty")
	ErrInvalidPayload    = errors.New("nip44: malformed ciphertext payload")
	ErrUnsupportedVersion = errors.New("nip44: unsupported version byte")
	ErrMACMismatch       = errors.New("nip44: authentication tag mismatch")
)

// SharedSecret computes the ECDH shared x-coordinate between priv and pub,
// the input keying material for conversation-key derivation.
func SharedSecret(priv *btcec.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	return result.X.Bytes()[:]
}

// SelfSharedSecret returns the ECDH shared secret between priv and priv's
// own public key, used for the wallet's self-encrypted event kinds.
func SelfSharedSecret(priv *btcec.PrivateKey) []byte {
	return SharedSecret(priv, priv.PubKey())
}

// messageKeys derives the per-message (chacha_key, chacha_nonce, hmac_key)
// triple from the shared secret and a fresh per-message nonce.
func messageKeys(sharedSecret, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	reader := hkdf.New(sha256.New, sharedSecret, []byte("nip44-v2"), nonce)
	buf := make([]byte, 76)
	if _, err := reader.Read(buf); err != nil {
		return nil, nil, nil, fmt.Errorf("nip44: derive message keys: %w", err)
	}
	return buf[0:32], buf[32:44], buf[44:76], nil
}

// calcPaddedLen rounds unpaddedLen up to its NIP-44 size class: 32 bytes
// minimum, multiples of 32 up to 256, then 8 chunks per power-of-two range
// above that.
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}

	nextPower := 1 << bits.Len(uint(unpaddedLen-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}

	return chunk * ((unpaddedLen-1)/chunk + 1)
}

func pad(plaintext []byte) []byte {
	unpaddedLen := len(plaintext)
	padded := make([]byte, 2+calcPaddedLen(unpaddedLen))
	binary.BigEndian.PutUint16(padded[0:2], uint16(unpaddedLen))
	copy(padded[2:], plaintext)
	return padded
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPayload
	}
	unpaddedLen := int(binary.BigEndian.Uint16(padded[0:2]))
	if unpaddedLen < minPlainSize || unpaddedLen > maxPlainSize {
		return nil, ErrInvalidPayload
	}
	if 2+unpaddedLen > len(padded) {
		return nil, ErrInvalidPayload
	}
	if len(padded) != 2+calcPaddedLen(unpaddedLen) {
		return nil, ErrInvalidPayload
	}
	return padded[2 : 2+unpaddedLen], nil
}

// Encrypt encrypts plaintext under the given ECDH shared secret, generating
// a fresh random 12-byte nonce, and returns the base64 wire payload
// version‖nonce‖ciphertext‖tag.
func Encrypt(sharedSecret, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrPlaintextEmpty
	}
	if len(plaintext) > maxPlainSize {
		return "", ErrPlaintextTooLong
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nip44: generate nonce: %w", err)
	}

	return encryptWithNonce(sharedSecret, plaintext, nonce)
}

func encryptWithNonce(sharedSecret, plaintext, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(sharedSecret, nonce)
	if err != nil {
		return "", err
	}

	padded := pad(plaintext)

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("nip44: init cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	tag := computeTag(hmacKey, nonce, ciphertext)

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext)+len(tag))
	payload = append(payload, version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, tag...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

func computeTag(hmacKey, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// Decrypt reverses Encrypt, verifying the authentication tag before
// returning the original plaintext.
func Decrypt(sharedSecret []byte, payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if len(raw) < 1+nonceSize+macSize {
		return nil, ErrInvalidPayload
	}
	if raw[0] != version {
		return nil, ErrUnsupportedVersion
	}

	nonce := raw[1 : 1+nonceSize]
	ciphertext := raw[1+nonceSize : len(raw)-macSize]
	tag := raw[len(raw)-macSize:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(sharedSecret, nonce)
	if err != nil {
		return nil, err
	}

	expectedTag := computeTag(hmacKey, nonce, ciphertext)
	if !hmac.Equal(expectedTag, tag) {
		return nil, ErrMACMismatch
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return nil, fmt.Errorf("nip44: init cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	return unpad(padded)
}
