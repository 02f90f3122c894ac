package wallet

import (
	"testing"

	"github.com/Routstr/sixty-nuts/cashu"
)

func TestSelectProofsExactMatchNoFee(t *testing.T) {
	candidates := cashu.Proofs{
		{Amount: 1, Id: "ks1", Secret: "a"},
		{Amount: 2, Id: "ks1", Secret: "b"},
		{Amount: 4, Id: "ks1", Secret: "c"},
	}

	selected, err := selectProofs(candidates, 3, nil)
	if err != nil {
		t.Fatalf("selectProofs: %v", err)
	}
	if got := selected.Amount(); got != 3 {
		t.Errorf("expected selected sum 3, got %v", got)
	}
}

func TestSelectProofsAccountsForInputFee(t *testing.T) {
	candidates := cashu.Proofs{
		{Amount: 1, Id: "ks1", Secret: "a"},
		{Amount: 1, Id: "ks1", Secret: "b"},
		{Amount: 1, Id: "ks1", Secret: "c"},
		{Amount: 8, Id: "ks1", Secret: "d"},
	}
	// 1000 ppk => each proof costs exactly 1 sat of fee, so three 1-sat
	// proofs alone (sum 3) can never cover an amount of 3: the selection
	// must keep pulling in more until sum >= amount + fee(selected).
	fees := map[string]uint{"ks1": 1000}

	selected, err := selectProofs(candidates, 3, fees)
	if err != nil {
		t.Fatalf("selectProofs: %v", err)
	}
	fee := cashu.InputFee(selected, fees)
	if selected.Amount() < 3+fee {
		t.Errorf("selection %v (fee %v) does not cover amount+fee", selected, fee)
	}
}

func TestSelectProofsInsufficientFunds(t *testing.T) {
	candidates := cashu.Proofs{
		{Amount: 1, Id: "ks1", Secret: "a"},
	}
	if _, err := selectProofs(candidates, 100, nil); err != ErrInsufficientFunds {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestOrderForSpendingPrefersInactiveKeysetsThenSmallerAmounts(t *testing.T) {
	records := []ProofRecord{
		{Proof: cashu.Proof{Amount: 8, Id: "active"}},
		{Proof: cashu.Proof{Amount: 1, Id: "inactive"}},
		{Proof: cashu.Proof{Amount: 2, Id: "active"}},
		{Proof: cashu.Proof{Amount: 4, Id: "inactive"}},
	}
	inactive := map[string]bool{"inactive": true}

	ordered := orderForSpending(records, inactive)

	want := []uint64{1, 4, 2, 8}
	if len(ordered) != len(want) {
		t.Fatalf("expected %d proofs, got %d", len(want), len(ordered))
	}
	for i, amt := range want {
		if ordered[i].Amount != amt {
			t.Errorf("position %d: expected amount %v, got %v", i, amt, ordered[i].Amount)
		}
	}
}
