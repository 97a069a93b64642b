package group

import (
	"context"
	"errors"

	"github.com/txn2/groupcart/pkg/catalog"
)

// Store sentinel errors. Stores translate constraint violations into these.
var (
	ErrNotFound      = errors.New("not found")
	ErrTokenTaken    = errors.New("join token already in use")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
)

// ItemMutator computes the line item to store from the one currently stored
// (nil when there is none). It runs inside the store's atomic unit and ctx
// carries that unit, so stock ledger calls made through ctx commit or roll
// back together with the item. Returning an error aborts the write.
type ItemMutator func(ctx context.Context, prev *LineItem) (*LineItem, error)

// HoldReleaser returns reserved units, keyed by variant, to the stock
// ledger. It runs inside the termination unit.
type HoldReleaser func(ctx context.Context, holds map[catalog.VariantID]int) error

// Store persists sessions, memberships and line items.
type Store interface {
	// CreateSession stores a session and its leader membership atomically.
	// Returns ErrTokenTaken when the join token is already in use.
	CreateSession(ctx context.Context, s *Session, leader *Member) error

	SessionByID(ctx context.Context, id SessionID) (*Session, error)
	SessionByToken(ctx context.Context, token string) (*Session, error)

	// AddMember returns ErrAlreadyMember when the pair exists and
	// ErrNotFound when the session does not.
	AddMember(ctx context.Context, m *Member) error
	Member(ctx context.Context, sessionID SessionID, userID UserID) (*Member, error)
	Members(ctx context.Context, sessionID SessionID) ([]Member, error)

	// ApplyItem serializes writers for the same member, passes the current
	// item to mutate and stores the result. Returns ErrNotMember when the
	// membership no longer exists.
	ApplyItem(ctx context.Context, key ItemKey, mutate ItemMutator) (*LineItem, error)

	// Items lists the session's active line items, newest first.
	Items(ctx context.Context, sessionID SessionID) ([]LineItem, error)

	// DeleteSession hands the session's reserved units to release and then
	// removes its items, memberships and the session itself in one unit.
	// Returns ErrNotFound when the session does not exist.
	DeleteSession(ctx context.Context, id SessionID, release HoldReleaser) error
}
