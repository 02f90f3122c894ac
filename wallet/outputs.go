package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/crypto"
)

// outputRole records which bucket a blinded output belongs to once the
// send/change/blank outputs for one request are merged and sorted into a
// single ascending-amount list for privacy (§4.6.2).
type outputRole int

const (
	roleSend outputRole = iota
	roleChange
	roleBlank
)

// plannedOutput is one blinded output still awaiting the mint's signature,
// along with everything needed to unblind it afterward.
type plannedOutput struct {
	Message cashu.BlindedMessage
	Secret  string
	R       *secp256k1.PrivateKey
	Role    outputRole
}

// planOutputs builds blinded outputs for sendAmount and changeAmount under
// keysetId, plus blankCount NUT-08 zero-amount blank outputs for melt
// fee-reserve overpayment return, all interleaved into one ascending-amount
// list per §4.6.2 (so the blanks come first).
func planOutputs(keysetId string, sendAmount, changeAmount uint64, blankCount int) ([]plannedOutput, error) {
	var outputs []plannedOutput

	for _, amt := range cashu.AmountSplit(sendAmount) {
		out, err := newPlannedOutput(keysetId, amt, roleSend)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	for _, amt := range cashu.AmountSplit(changeAmount) {
		out, err := newPlannedOutput(keysetId, amt, roleChange)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	for i := 0; i < blankCount; i++ {
		out, err := newPlannedOutput(keysetId, 0, roleBlank)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	sort.SliceStable(outputs, func(i, j int) bool {
		return outputs[i].Message.Amount < outputs[j].Message.Amount
	})

	return outputs, nil
}

func newPlannedOutput(keysetId string, amount uint64, role outputRole) (plannedOutput, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return plannedOutput{}, fmt.Errorf("wallet: generate output secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	blindingFactor := make([]byte, 32)
	if _, err := rand.Read(blindingFactor); err != nil {
		return plannedOutput{}, fmt.Errorf("wallet: generate blinding factor: %w", err)
	}

	// x_bytes = hex(secret) encoded as ASCII, per the proof-secret
	// convention the mint and wallet share.
	B_, r, err := crypto.BlindMessage([]byte(secret), blindingFactor)
	if err != nil {
		return plannedOutput{}, fmt.Errorf("wallet: blind output: %w", err)
	}

	return plannedOutput{
		Message: cashu.NewBlindedMessage(keysetId, amount, B_),
		Secret:  secret,
		R:       r,
		Role:    role,
	}, nil
}

// outputMessages extracts the wire BlindedMessages in planned order, the order
// the mint is expected to echo signatures back in.
func outputMessages(outputs []plannedOutput) cashu.BlindedMessages {
	msgs := make(cashu.BlindedMessages, len(outputs))
	for i, o := range outputs {
		msgs[i] = o.Message
	}
	return msgs
}

// constructProofs unblinds signatures (assumed aligned index-for-index
// with the BlindedMessages submitted from outputs) into proofs, using
// keyset's per-amount public keys to unblind each signature.
func constructProofs(outputs []plannedOutput, signatures cashu.BlindedSignatures, keyset *crypto.Keyset) (cashu.Proofs, error) {
	if len(signatures) != len(outputs) {
		return nil, fmt.Errorf("wallet: mint returned %d signatures for %d outputs", len(signatures), len(outputs))
	}

	proofs := make(cashu.Proofs, len(outputs))
	for i, sig := range signatures {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid blind signature C_: %w", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid blind signature C_: %w", err)
		}

		K, ok := keyset.PublicKeys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("wallet: keyset %s has no key for amount %d", keyset.Id, sig.Amount)
		}

		C := crypto.UnblindSignature(C_, outputs[i].R, K)

		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: outputs[i].Secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}

	return proofs, nil
}

// splitByRole partitions proofs (in the same order as the planned outputs
// that produced them) back into their send/change/blank buckets.
func splitByRole(outputs []plannedOutput, proofs cashu.Proofs) (send, change, blank cashu.Proofs) {
	for i, o := range outputs {
		switch o.Role {
		case roleSend:
			send = append(send, proofs[i])
		case roleChange:
			change = append(change, proofs[i])
		case roleBlank:
			blank = append(blank, proofs[i])
		}
	}
	return
}
