package wallet

import (
	"testing"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut07"
	"github.com/Routstr/sixty-nuts/nostr"
)

func TestProofFingerprintDistinguishesSecretAndC(t *testing.T) {
	a := cashu.Proof{Secret: "s1", C: "c1"}
	b := cashu.Proof{Secret: "s1", C: "c2"}
	if proofFingerprint(a) == proofFingerprint(b) {
		t.Error("proofs with different C should not share a fingerprint")
	}

	c := cashu.Proof{Secret: "s1", C: "c1"}
	if proofFingerprint(a) != proofFingerprint(c) {
		t.Error("identical proofs should share a fingerprint")
	}
}

func TestNewestEventPrefersHigherCreatedAtThenId(t *testing.T) {
	events := []*nostr.Event{
		{ID: "aaa", CreatedAt: 100},
		{ID: "zzz", CreatedAt: 100},
		{ID: "bbb", CreatedAt: 50},
	}
	newest := newestEvent(events)
	if newest.ID != "zzz" {
		t.Errorf("expected zzz (tie-break by id) to win, got %v", newest.ID)
	}
}

func TestNewestEventEmpty(t *testing.T) {
	if newestEvent(nil) != nil {
		t.Error("expected nil for an empty event list")
	}
}

func TestReferencedIdsExtractsETags(t *testing.T) {
	event := &nostr.Event{
		Tags: []nostr.Tag{
			{"e", "event1"},
			{"p", "somepubkey"},
			{"e", "event2"},
		},
	}
	ids := referencedIds(event)
	if len(ids) != 2 || ids[0] != "event1" || ids[1] != "event2" {
		t.Errorf("expected [event1 event2], got %v", ids)
	}
}

func TestProofStateCacheRoundTrip(t *testing.T) {
	c := newProofStateCache(0)

	if _, ok := c.cached("y1"); ok {
		t.Fatal("expected no cached entry yet")
	}

	c.record("y1", nut07.Spent)
	state, ok := c.cached("y1")
	if !ok || state != nut07.Spent {
		t.Errorf("expected cached spent state, got %v ok=%v", state, ok)
	}
}
