package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestHashToCurveIsOnCurveAndDeterministic(t *testing.T) {
	messages := [][]byte{
		[]byte("0000000000000000000000000000000000000000000000000000000000000000"),
		[]byte("0000000000000000000000000000000000000000000000000000000000000001"),
		[]byte("some-proof-secret"),
	}

	for _, msg := range messages {
		p1, err := HashToCurve(msg)
		if err != nil {
			t.Fatalf("HashToCurve(%q): %v", msg, err)
		}
		if !p1.IsOnCurve() {
			t.Fatalf("HashToCurve(%q) returned a point not on the curve", msg)
		}

		p2, err := HashToCurve(msg)
		if err != nil {
			t.Fatalf("HashToCurve(%q) second call: %v", msg, err)
		}
		if !bytes.Equal(p1.SerializeCompressed(), p2.SerializeCompressed()) {
			t.Errorf("HashToCurve(%q) not deterministic", msg)
		}
	}
}

func TestHashToCurveDomainSeparationFromRawSHA256(t *testing.T) {
	msg := []byte("test_message")
	point, err := HashToCurve(msg)
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}

	if len(point.SerializeCompressed()) != 33 {
		t.Fatalf("expected a compressed 33-byte point, got %d bytes", len(point.SerializeCompressed()))
	}

	// Run the same counter search from SHA256(msg) with no domain separator;
	// HashToCurve must not land on that point.
	h0 := sha256.Sum256(msg)
	counter := make([]byte, 4)
	for i := 0; i < maxCounter; i++ {
		binary.LittleEndian.PutUint32(counter, uint32(i))
		candidate := sha256.Sum256(append(h0[:], counter...))
		undomained, err := btcec.ParsePubKey(append([]byte{0x02}, candidate[:]...))
		if err != nil {
			continue
		}
		if bytes.Equal(undomained.SerializeCompressed(), point.SerializeCompressed()) {
			t.Fatal("HashToCurve ignores the domain separator")
		}
		break
	}
}

func TestHashToCurveDistinctMessagesDistinctPoints(t *testing.T) {
	a, err := HashToCurve([]byte("message-a"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}
	b, err := HashToCurve([]byte("message-b"))
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}

	if bytes.Equal(a.SerializeCompressed(), b.SerializeCompressed()) {
		t.Error("expected distinct messages to hash to distinct curve points")
	}
}

func TestBlindSignUnblindVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		secret         []byte
		blindingFactor string
		mintPrivKey    string
	}{
		{
			secret:         []byte("test_message"),
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			mintPrivKey:    "0000000000000000000000000000000000000000000000000000000000000001",
		},
		{
			secret:         []byte("hello"),
			blindingFactor: "6d7e0abffc83267de28ed8ecc8760f17697e51252e13333ba69b4ddad1f95d05",
			mintPrivKey:    "7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f",
		},
	}

	for _, test := range tests {
		rbytes, err := hex.DecodeString(test.blindingFactor)
		if err != nil {
			t.Fatalf("decode blinding factor: %v", err)
		}

		B_, r, err := BlindMessage(test.secret, rbytes)
		if err != nil {
			t.Fatalf("BlindMessage: %v", err)
		}

		kbytes, err := hex.DecodeString(test.mintPrivKey)
		if err != nil {
			t.Fatalf("decode mint key: %v", err)
		}
		k, _ := btcec.PrivKeyFromBytes(kbytes)

		C_ := SignBlindedMessage(B_, k)
		C := UnblindSignature(C_, r, k.PubKey())

		ok, err := Verify(test.secret, k, C)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !ok {
			t.Errorf("round trip failed for secret %q", test.secret)
		}
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	secret := []byte("test_message")
	rbytes, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000002")

	B_, r, err := BlindMessage(secret, rbytes)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	khex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	k, _ := btcec.PrivKeyFromBytes(khex)

	otherHex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000003")
	other, _ := btcec.PrivKeyFromBytes(otherHex)

	C_ := SignBlindedMessage(B_, k)
	C := UnblindSignature(C_, r, k.PubKey())

	ok, err := Verify(secret, other, C)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected verification to fail with the wrong mint key")
	}
}

func TestYValueMatchesHashToCurve(t *testing.T) {
	secret := []byte("check-state-secret")

	point, err := HashToCurve(secret)
	if err != nil {
		t.Fatalf("HashToCurve: %v", err)
	}

	y, err := YValue(secret)
	if err != nil {
		t.Fatalf("YValue: %v", err)
	}

	if y != hex.EncodeToString(point.SerializeCompressed()) {
		t.Error("YValue does not match HashToCurve output")
	}
}
