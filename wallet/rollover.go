package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/Routstr/sixty-nuts/cashu"
)

// rollover performs the durability commit every balance-changing operation
// ends with (§4.6 intro): publish a new kind-7375 carrying newProofs and
// naming supersedes in its del field, and only once that publish is
// acknowledged by at least one relay, request deletion of the superseded
// events. If newProofs is empty there is nothing to publish — the
// superseded events are simply deleted, since no replacement proof set
// needs to out-live them.
//
// Returns the new event's id (empty if newProofs was empty) and any
// produced ProofRecords for the caller's in-memory state.
func (w *Wallet) rollover(ctx context.Context, mintURL string, newProofs cashu.Proofs, supersedes []string) (newEventID string, records []ProofRecord, err error) {
	now := time.Now()

	if len(newProofs) > 0 {
		event, err := newTokenBundleEvent(w.priv, now, mintURL, w.unit, newProofs, supersedes)
		if err != nil {
			return "", nil, fmt.Errorf("wallet: build token bundle event: %w", err)
		}

		accepted, err := w.pool.PublishAll(ctx, event)
		if err != nil || !accepted {
			return "", nil, fmt.Errorf("wallet: publish token bundle event: %w", err)
		}

		newEventID = event.ID
		records = make([]ProofRecord, len(newProofs))
		for i, p := range newProofs {
			records[i] = ProofRecord{Proof: p, MintURL: mintURL, EventID: event.ID}
		}
	}

	if len(supersedes) > 0 {
		deletion, err := newDeletionEvent(w.priv, now, supersedes)
		if err != nil {
			return newEventID, records, fmt.Errorf("wallet: build deletion event: %w", err)
		}
		// Best-effort: relays are not required to honor kind-5 (§9 open
		// question), and the reconstructor's del-field handling already
		// makes correctness independent of whether they do.
		_, _ = w.pool.PublishAll(ctx, deletion)
	}

	return newEventID, records, nil
}

// publishHistory appends a kind-7376 spending-history entry. Callers
// discard its error, so a failure never rolls back the balance-changing operation
// that already completed — history is a record of what happened, not a
// precondition for it.
func (w *Wallet) publishHistory(ctx context.Context, direction string, amount, fee uint64, refs []string) error {
	event, err := newSpendingHistoryEvent(w.priv, time.Now(), direction, amount, fee, refs)
	if err != nil {
		return fmt.Errorf("wallet: build spending history event: %w", err)
	}
	_, err = w.pool.PublishAll(ctx, event)
	return err
}
