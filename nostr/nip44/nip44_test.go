package nip44

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func randomSharedSecret(t *testing.T) []byte {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return SelfSharedSecret(priv)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := randomSharedSecret(t)

	plaintexts := [][]byte{
		[]byte("a"),
		[]byte("hello world"),
		bytes.Repeat([]byte("x"), 32),
		bytes.Repeat([]byte("y"), 33),
		bytes.Repeat([]byte("z"), 1000),
		bytes.Repeat([]byte("w"), 65535),
	}

	for _, pt := range plaintexts {
		ciphertext, err := Encrypt(secret, pt)
		if err != nil {
			t.Fatalf("Encrypt(len=%d): %v", len(pt), err)
		}

		decrypted, err := Decrypt(secret, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(len=%d): %v", len(pt), err)
		}

		if !bytes.Equal(decrypted, pt) {
			t.Fatalf("round trip mismatch for len=%d", len(pt))
		}
	}
}

func TestEncryptRejectsOversizedPlaintext(t *testing.T) {
	secret := randomSharedSecret(t)
	_, err := Encrypt(secret, bytes.Repeat([]byte("a"), 65536))
	if err != ErrPlaintextTooLong {
		t.Fatalf("expected ErrPlaintextTooLong, got %v", err)
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	secret := randomSharedSecret(t)
	_, err := Encrypt(secret, nil)
	if err != ErrPlaintextEmpty {
		t.Fatalf("expected ErrPlaintextEmpty, got %v", err)
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	secret := randomSharedSecret(t)
	ciphertext, err := Encrypt(secret, []byte("sensitive content"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := decodePayload(ciphertext)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0xFF

		_, err := Decrypt(secret, encodePayload(tampered))
		if err == nil {
			t.Fatalf("expected tampering at byte %d to be detected", i)
		}
	}
}

func TestPaddedLengthMonotoneAndMinimum(t *testing.T) {
	prev := 0
	for n := 1; n <= 2048; n++ {
		padded := calcPaddedLen(n)
		if padded < 32 {
			t.Fatalf("calcPaddedLen(%d) = %d, below minimum 32", n, padded)
		}
		if padded < n {
			t.Fatalf("calcPaddedLen(%d) = %d, shorter than input", n, padded)
		}
		if padded < prev {
			t.Fatalf("calcPaddedLen not monotone at n=%d: got %d after %d", n, padded, prev)
		}
		prev = padded
	}
}

func TestWrongSharedSecretFailsDecrypt(t *testing.T) {
	secretA := randomSharedSecret(t)
	secretB := randomSharedSecret(t)

	ciphertext, err := Encrypt(secretA, []byte("only for A"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(secretB, ciphertext); err == nil {
		t.Fatal("expected decryption under the wrong shared secret to fail")
	}
}

// decodePayload/encodePayload expose the raw wire bytes for the tampering
// test without duplicating Encrypt/Decrypt's base64 framing logic.
func decodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

func encodePayload(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
