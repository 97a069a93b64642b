// Package group implements group ordering sessions: creation with a
// shareable join token, membership, a shared cart whose lines hold stock
// reservations, read-only consolidation into a summary, and leader-only
// termination.
package group

import (
	"fmt"
	"time"

	"github.com/txn2/groupcart/pkg/catalog"
)

// SessionID identifies a group session.
type SessionID string

// UserID identifies an authenticated participant.
type UserID string

// Status is the lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusUpcoming  Status = "UPCOMING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUpcoming, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Mode is how the group will receive the order.
type Mode string

// Order modes.
const (
	ModeDineIn Mode = "DINE_IN"
	ModeParcel Mode = "PARCEL"
)

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDineIn, ModeParcel:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Session is a collaborative ordering session.
type Session struct {
	ID          SessionID `json:"id"`
	Name        string    `json:"name"`
	LeaderID    UserID    `json:"leaderId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	JoinToken   string    `json:"joinToken"`
	Status      Status    `json:"status"`
	Mode        Mode      `json:"mode"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AuthorizeLeader returns nil only when user leads the session.
func (s *Session) AuthorizeLeader(user UserID) error {
	if user == "" || user != s.LeaderID {
		return forbidden(CodeNotLeader, "only the group leader can perform this action")
	}
	return nil
}

// Member is a user's membership in a session.
type Member struct {
	SessionID SessionID  `json:"sessionId"`
	UserID    UserID     `json:"userId"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

// LineItem is one member's quantity of one variant in a session.
// ReservedQuantity is the number of units this line holds in the stock
// ledger.
type LineItem struct {
	ID               string            `json:"id"`
	SessionID        SessionID         `json:"sessionId"`
	UserID           UserID            `json:"userId"`
	VariantID        catalog.VariantID `json:"productVariantId"`
	Quantity         int               `json:"quantity"`
	ReservedQuantity int               `json:"reservedQuantity"`
	PriceSnapshot    int64             `json:"priceSnapshot"`
	LabelSnapshot    string            `json:"labelSnapshot"`
	AddedAt          time.Time         `json:"addedAt"`
	IsActive         bool              `json:"isActive"`
}

// ItemKey identifies a line item slot.
type ItemKey struct {
	SessionID SessionID
	UserID    UserID
	VariantID catalog.VariantID
}

// Details is a session together with its members.
type Details struct {
	Session *Session `json:"session"`
	Members []Member `json:"members"`
}
