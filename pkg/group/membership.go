package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MembershipRegistry records who has joined which session.
type MembershipRegistry struct {
	store Store
	now   func() time.Time
}

// NewMembershipRegistry creates a MembershipRegistry.
func NewMembershipRegistry(store Store, now func() time.Time) *MembershipRegistry {
	if now == nil {
		now = time.Now
	}
	return &MembershipRegistry{store: store, now: now}
}

// Join adds user to the session identified by token. Joining twice is a
// conflict, not a no-op.
func (r *MembershipRegistry) Join(ctx context.Context, token string, user UserID) (SessionID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", validation("joinToken is required")
	}
	if user == "" {
		return "", validation("user is required")
	}

	sess, err := r.store.SessionByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", notFound(CodeSessionNotFound, "group not found")
	}
	if err != nil {
		return "", fmt.Errorf("looking up join token: %w", err)
	}

	err = r.store.AddMember(ctx, &Member{SessionID: sess.ID, UserID: user, JoinedAt: r.now().UTC()})
	switch {
	case err == nil:
		return sess.ID, nil
	case errors.Is(err, ErrAlreadyMember):
		return "", conflict(CodeAlreadyJoined, "already joined this group", err)
	case errors.Is(err, ErrNotFound):
		return "", notFound(CodeSessionNotFound, "group not found")
	default:
		return "", fmt.Errorf("adding member: %w", err)
	}
}

// RequireMember returns the session when user is one of its members.
func (r *MembershipRegistry) RequireMember(ctx context.Context, sessionID SessionID, user UserID) (*Session, error) {
	sess, err := r.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	_, err = r.store.Member(ctx, sessionID, user)
	if errors.Is(err, ErrNotFound) {
		return nil, forbidden(CodeNotMember, "you are not a member of this group")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up membership: %w", err)
	}
	return sess, nil
}

// Members lists the session's members in join order.
func (r *MembershipRegistry) Members(ctx context.Context, sessionID SessionID) ([]Member, error) {
	members, err := r.store.Members(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

func (r *MembershipRegistry) session(ctx context.Context, id SessionID) (*Session, error) {
	sess, err := r.store.SessionByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(CodeSessionNotFound, "group not found")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	return sess, nil
}
