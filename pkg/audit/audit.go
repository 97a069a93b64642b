// Package audit records the activity of group sessions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names an audited operation.
type Action string

// Audited actions.
const (
	ActionSessionCreated    Action = "session.created"
	ActionMemberJoined      Action = "member.joined"
	ActionItemSet           Action = "item.set"
	ActionSessionTerminated Action = "session.terminated"
)

// Event is one audited operation. ErrorCode is empty on success.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    string    `json:"userId"`
	VariantID string    `json:"productVariantId,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Success   bool      `json:"success"`
	ErrorCode string    `json:"errorCode,omitempty"`
}

// NewEvent creates an event for action stamped with the current time.
func NewEvent(action Action) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
	}
}

// WithSession sets the session and acting user.
func (e *Event) WithSession(sessionID, userID string) *Event {
	e.SessionID = sessionID
	e.UserID = userID
	return e
}

// WithItem sets the variant and quantity of an item change.
func (e *Event) WithItem(variantID string, quantity int) *Event {
	e.VariantID = variantID
	e.Quantity = quantity
	return e
}

// WithResult sets the outcome.
func (e *Event) WithResult(success bool, errorCode string) *Event {
	e.Success = success
	e.ErrorCode = errorCode
	return e
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	SessionID string
	UserID    string
	Action    Action
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ActionCount is the number of events recorded for an action.
type ActionCount struct {
	Action Action `json:"action"`
	Count  int    `json:"count"`
}

// Logger records events.
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// Store records and queries events.
type Store interface {
	Logger

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of matching events ignoring Limit and Offset.
	Count(ctx context.Context, filter QueryFilter) (int, error)

	// CountByAction groups matching events by action.
	CountByAction(ctx context.Context, filter QueryFilter) ([]ActionCount, error)
}
