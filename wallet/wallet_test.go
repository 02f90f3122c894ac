package wallet

import (
	"testing"

	"github.com/Routstr/sixty-nuts/cashu"
)

func TestConsumedEventIDsDedupesAndIgnoresUnselected(t *testing.T) {
	records := []ProofRecord{
		{Proof: cashu.Proof{Secret: "a", C: "ca"}, EventID: "ev1"},
		{Proof: cashu.Proof{Secret: "b", C: "cb"}, EventID: "ev1"},
		{Proof: cashu.Proof{Secret: "c", C: "cc"}, EventID: "ev2"},
	}
	selected := cashu.Proofs{
		{Secret: "a", C: "ca"},
		{Secret: "c", C: "cc"},
	}

	ids := consumedEventIDs(selected, records)

	if len(ids) != 2 {
		t.Fatalf("expected 2 superseded events, got %v", ids)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen["ev1"] || !seen["ev2"] {
		t.Errorf("expected ev1 and ev2, got %v", ids)
	}
}

func TestSurvivorsOfReturnsUnconsumedProofsFromSupersededEvents(t *testing.T) {
	state := &WalletState{
		Proofs: []ProofRecord{
			{Proof: cashu.Proof{Secret: "a", C: "ca", Amount: 1}, EventID: "ev1"},
			{Proof: cashu.Proof{Secret: "b", C: "cb", Amount: 2}, EventID: "ev1"},
			{Proof: cashu.Proof{Secret: "c", C: "cc", Amount: 4}, EventID: "ev2"},
		},
	}
	consumed := cashu.Proofs{{Secret: "a", C: "ca", Amount: 1}}

	survivors := survivorsOf(state, []string{"ev1"}, consumed)

	if len(survivors) != 1 || survivors[0].Secret != "b" {
		t.Errorf("expected only proof b to survive, got %v", survivors)
	}
}

func TestSurvivorsOfIgnoresEventsNotBeingSuperseded(t *testing.T) {
	state := &WalletState{
		Proofs: []ProofRecord{
			{Proof: cashu.Proof{Secret: "a", C: "ca", Amount: 1}, EventID: "ev1"},
			{Proof: cashu.Proof{Secret: "b", C: "cb", Amount: 2}, EventID: "ev2"},
		},
	}

	survivors := survivorsOf(state, []string{"ev1"}, cashu.Proofs{{Secret: "a", C: "ca", Amount: 1}})

	if len(survivors) != 0 {
		t.Errorf("expected no survivors, got %v", survivors)
	}
}

func TestRemoveSupersededDropsWholeEventRegardlessOfConsumption(t *testing.T) {
	w := &Wallet{state: &WalletState{
		Proofs: []ProofRecord{
			{Proof: cashu.Proof{Secret: "a", C: "ca", Amount: 1}, EventID: "ev1"},
			{Proof: cashu.Proof{Secret: "b", C: "cb", Amount: 2}, EventID: "ev1"},
			{Proof: cashu.Proof{Secret: "c", C: "cc", Amount: 4}, EventID: "ev2"},
		},
	}}

	w.removeSuperseded([]string{"ev1"})

	if len(w.state.Proofs) != 1 || w.state.Proofs[0].EventID != "ev2" {
		t.Errorf("expected only ev2's proof to remain, got %v", w.state.Proofs)
	}
}

func TestContains(t *testing.T) {
	list := []string{"a", "b", "c"}
	if !contains(list, "b") {
		t.Error("expected list to contain b")
	}
	if contains(list, "z") {
		t.Error("expected list to not contain z")
	}
}
