package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/crypto"
)

func mintSign(outputs []plannedOutput, k *secp256k1.PrivateKey, keysetId string) (cashu.BlindedSignatures, error) {
	sigs := make(cashu.BlindedSignatures, len(outputs))
	for i, o := range outputs {
		BBytes, err := hex.DecodeString(o.Message.B_)
		if err != nil {
			return nil, err
		}
		B_, err := secp256k1.ParsePubKey(BBytes)
		if err != nil {
			return nil, err
		}
		C_ := crypto.SignBlindedMessage(B_, k)
		sigs[i] = cashu.BlindedSignature{
			Amount: o.Message.Amount,
			Id:     keysetId,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
		}
	}
	return sigs, nil
}

func TestPlanOutputsPreservesRoleAcrossSort(t *testing.T) {
	outputs, err := planOutputs("ks1", 7, 100, 2)
	if err != nil {
		t.Fatalf("planOutputs: %v", err)
	}

	var sendTotal, changeTotal, blankCount int
	for i, o := range outputs {
		if i > 0 && outputs[i-1].Message.Amount > o.Message.Amount {
			t.Fatalf("outputs not sorted ascending at index %d", i)
		}
		switch o.Role {
		case roleSend:
			sendTotal += int(o.Message.Amount)
		case roleChange:
			changeTotal += int(o.Message.Amount)
		case roleBlank:
			blankCount++
			if o.Message.Amount != 0 {
				t.Errorf("blank output should have amount 0, got %v", o.Message.Amount)
			}
		}
	}

	if sendTotal != 7 {
		t.Errorf("expected send outputs to total 7, got %v", sendTotal)
	}
	if changeTotal != 100 {
		t.Errorf("expected change outputs to total 100, got %v", changeTotal)
	}
	if blankCount != 2 {
		t.Errorf("expected 2 blank outputs, got %v", blankCount)
	}
}

func TestConstructProofsRoundTrip(t *testing.T) {
	kBytes := make([]byte, 32)
	if _, err := rand.Read(kBytes); err != nil {
		t.Fatal(err)
	}
	k := secp256k1.PrivKeyFromBytes(kBytes)

	keyset := &crypto.Keyset{
		Id:         "ks1",
		PublicKeys: map[uint64]*secp256k1.PublicKey{1: k.PubKey(), 4: k.PubKey()},
	}

	outputs, err := planOutputs(keyset.Id, 5, 0, 0)
	if err != nil {
		t.Fatalf("planOutputs: %v", err)
	}

	sigs, err := mintSign(outputs, k, keyset.Id)
	if err != nil {
		t.Fatalf("mintSign: %v", err)
	}

	proofs, err := constructProofs(outputs, sigs, keyset)
	if err != nil {
		t.Fatalf("constructProofs: %v", err)
	}
	if proofs.Amount() != 5 {
		t.Errorf("expected proof total 5, got %v", proofs.Amount())
	}

	for i, p := range proofs {
		CBytes, err := hex.DecodeString(p.C)
		if err != nil {
			t.Fatalf("decode proof %d C: %v", i, err)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			t.Fatalf("parse proof %d C: %v", i, err)
		}

		ok, err := crypto.Verify([]byte(p.Secret), k, C)
		if err != nil {
			t.Fatalf("verify proof %d: %v", i, err)
		}
		if !ok {
			t.Errorf("proof %d did not verify against mint key", i)
		}
	}
}

func TestConstructProofsRejectsSignatureCountMismatch(t *testing.T) {
	keyset := &crypto.Keyset{Id: "ks1", PublicKeys: map[uint64]*secp256k1.PublicKey{}}
	outputs, err := planOutputs(keyset.Id, 5, 0, 0)
	if err != nil {
		t.Fatalf("planOutputs: %v", err)
	}

	if _, err := constructProofs(outputs, cashu.BlindedSignatures{}, keyset); err == nil {
		t.Error("expected error on signature/output count mismatch")
	}
}
