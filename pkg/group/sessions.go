package group

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTokenBytes is the number of random bytes in a join token.
	DefaultTokenBytes = 12
	// DefaultTokenAttempts bounds join token allocation retries.
	DefaultTokenAttempts = 10
)

// TokenSource produces candidate join tokens.
type TokenSource func() (string, error)

// RandomTokens returns a TokenSource of n random bytes, hex encoded.
func RandomTokens(n int) TokenSource {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	return func() (string, error) {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		return hex.EncodeToString(b), nil
	}
}

// CreateSessionInput holds the caller-supplied fields of a new session.
type CreateSessionInput struct {
	Name        string
	ScheduledAt string
	Mode        string
}

// SessionManager creates sessions and allocates their join tokens.
type SessionManager struct {
	store       Store
	tokens      TokenSource
	maxAttempts int
	now         func() time.Time
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(store Store, tokens TokenSource, maxAttempts int, now func() time.Time) *SessionManager {
	if tokens == nil {
		tokens = RandomTokens(DefaultTokenBytes)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultTokenAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, tokens: tokens, maxAttempts: maxAttempts, now: now}
}

// Create validates in and stores a new UPCOMING session led by leader, with
// the leader as its first member.
func (m *SessionManager) Create(ctx context.Context, in CreateSessionInput, leader UserID) (*Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.ScheduledAt == "" || in.Mode == "" {
		return nil, validation("name, scheduledAt and mode are required")
	}
	if leader == "" {
		return nil, validation("leader is required")
	}

	mode, err := ParseMode(in.Mode)
	if err != nil {
		return nil, validation("mode must be DINE_IN or PARCEL")
	}

	now := m.now().UTC()
	at, err := time.Parse(time.RFC3339, in.ScheduledAt)
	if err != nil || !at.After(now) {
		return nil, validation("scheduled time must be a valid future date/time")
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		token, err := m.tokens()
		if err != nil {
			return nil, fmt.Errorf("generating join token: %w", err)
		}

		sess := &Session{
			ID:          SessionID(uuid.NewString()),
			Name:        name,
			LeaderID:    leader,
			ScheduledAt: at.UTC(),
			JoinToken:   token,
			Status:      StatusUpcoming,
			Mode:        mode,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		lead := &Member{SessionID: sess.ID, UserID: leader, JoinedAt: now}

		err = m.store.CreateSession(ctx, sess, lead)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrTokenTaken) {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		slog.Warn("join token collision", "attempt", attempt)
	}

	return nil, conflict(CodeTokenExhausted, "could not allocate a unique join token", nil)
}
