package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/txn2/groupcart/pkg/catalog"
)

// Terminator tears sessions down on the leader's request.
type Terminator struct {
	store  Store
	ledger catalog.Ledger
}

// NewTerminator creates a Terminator.
func NewTerminator(store Store, ledger catalog.Ledger) *Terminator {
	return &Terminator{store: store, ledger: ledger}
}

// Terminate deletes the session with its memberships and line items and
// returns the units its lines held to stock. Only the leader may do this.
func (t *Terminator) Terminate(ctx context.Context, sessionID SessionID, requester UserID) error {
	sess, err := t.store.SessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return notFound(CodeSessionNotFound, "group not found")
	}
	if err != nil {
		return fmt.Errorf("looking up session: %w", err)
	}
	if err := sess.AuthorizeLeader(requester); err != nil {
		return err
	}

	err = t.store.DeleteSession(ctx, sessionID, t.release)
	if errors.Is(err, ErrNotFound) {
		return notFound(CodeSessionNotFound, "group not found")
	}
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// release returns holds in variant order so concurrent terminations lock
// variant rows in the same sequence.
func (t *Terminator) release(ctx context.Context, holds map[catalog.VariantID]int) error {
	ids := make([]catalog.VariantID, 0, len(holds))
	for id, units := range holds {
		if units > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		err := t.ledger.TryAdjust(ctx, id, -holds[id])
		if errors.Is(err, catalog.ErrVariantNotFound) {
			slog.Warn("releasing stock for removed variant", "variant_id", id, "units", holds[id])
			continue
		}
		if err != nil {
			return fmt.Errorf("releasing %d units of %s: %w", holds[id], id, err)
		}
	}
	return nil
}
