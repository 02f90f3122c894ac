package wallet

import (
	"errors"
	"sort"

	"github.com/Routstr/sixty-nuts/cashu"
)

var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// selectProofs picks proofs from candidates (already ordered by the
// caller's spending preference, e.g. inactive-keyset proofs before active
// ones) summing to at least amount plus the input fee the selection itself
// incurs, per §4.6.1.
//
// Because each additional proof can both raise the sum and (if its keyset
// charges a fee) raise the required total, the two are recomputed together
// on every addition rather than in a separate fixed-point pass afterward:
// the loop only terminates once the running sum already covers the running
// fee-adjusted target, which is equivalent to the iterate-until-fixed-point
// procedure but doesn't need a second pass.
func selectProofs(candidates cashu.Proofs, amount uint64, feePpkByKeyset map[string]uint) (cashu.Proofs, error) {
	var selected cashu.Proofs
	var sum uint64

	for _, p := range candidates {
		needed := amount + cashu.InputFee(selected, feePpkByKeyset)
		if sum >= needed {
			break
		}
		selected = append(selected, p)
		sum += p.Amount
	}

	needed := amount + cashu.InputFee(selected, feePpkByKeyset)
	if sum < needed {
		return nil, ErrInsufficientFunds
	}
	return selected, nil
}

// orderForSpending sorts records so that proofs under a keyset id present
// in inactiveKeysetIds are spent first, and within each group smaller
// proofs are preferred first to favor using up small denominations.
func orderForSpending(records []ProofRecord, inactiveKeysetIds map[string]bool) cashu.Proofs {
	ordered := make([]ProofRecord, len(records))
	copy(ordered, records)

	sort.SliceStable(ordered, func(i, j int) bool {
		iInactive := inactiveKeysetIds[ordered[i].Proof.Id]
		jInactive := inactiveKeysetIds[ordered[j].Proof.Id]
		if iInactive != jInactive {
			return iInactive
		}
		return ordered[i].Proof.Amount < ordered[j].Proof.Amount
	})

	proofs := make(cashu.Proofs, len(ordered))
	for i, r := range ordered {
		proofs[i] = r.Proof
	}
	return proofs
}
