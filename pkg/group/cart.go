package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/groupcart/pkg/catalog"
)

// UpsertItemInput sets a member's quantity of one variant.
type UpsertItemInput struct {
	SessionID SessionID
	UserID    UserID
	VariantID catalog.VariantID
	Quantity  int
}

// CartLedger maintains members' line items and the stock they hold.
type CartLedger struct {
	store   Store
	members *MembershipRegistry
	catalog catalog.Reader
	ledger  catalog.Ledger
	now     func() time.Time
}

// NewCartLedger creates a CartLedger.
func NewCartLedger(store Store, members *MembershipRegistry, reader catalog.Reader, ledger catalog.Ledger, now func() time.Time) *CartLedger {
	if now == nil {
		now = time.Now
	}
	return &CartLedger{store: store, members: members, catalog: reader, ledger: ledger, now: now}
}

// UpsertItem replaces the member's quantity of the variant. Only the net
// difference from what the line already holds is reserved or released, and
// the reservation commits together with the line or not at all.
func (c *CartLedger) UpsertItem(ctx context.Context, in UpsertItemInput) (*LineItem, error) {
	if in.VariantID == "" {
		return nil, validation("productVariantId is required")
	}
	if in.Quantity <= 0 {
		return nil, validation("quantity must be greater than 0")
	}

	if _, err := c.members.RequireMember(ctx, in.SessionID, in.UserID); err != nil {
		return nil, err
	}

	variant, err := c.catalog.Variant(ctx, in.VariantID)
	if errors.Is(err, catalog.ErrVariantNotFound) {
		return nil, notFound(CodeVariantNotFound, "product variant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading variant: %w", err)
	}
	if !variant.IsActive {
		return nil, invalid(CodeVariantInactive, "product variant is not available")
	}

	key := ItemKey{SessionID: in.SessionID, UserID: in.UserID, VariantID: in.VariantID}
	item, err := c.store.ApplyItem(ctx, key, func(ctx context.Context, prev *LineItem) (*LineItem, error) {
		id, held := uuid.NewString(), 0
		if prev != nil {
			id, held = prev.ID, prev.ReservedQuantity
		}

		delta := in.Quantity - held
		if err := c.ledger.TryAdjust(ctx, in.VariantID, delta); err != nil {
			switch {
			case errors.Is(err, catalog.ErrInsufficientStock):
				return nil, conflict(CodeInsufficientStock,
					fmt.Sprintf("not enough stock to add %d more of %s", delta, variant.Label), err)
			case errors.Is(err, catalog.ErrVariantNotFound):
				return nil, notFound(CodeVariantNotFound, "product variant not found")
			default:
				return nil, fmt.Errorf("reserving stock: %w", err)
			}
		}

		return &LineItem{
			ID:               id,
			SessionID:        in.SessionID,
			UserID:           in.UserID,
			VariantID:        in.VariantID,
			Quantity:         in.Quantity,
			ReservedQuantity: in.Quantity,
			PriceSnapshot:    variant.DiscountedPrice,
			LabelSnapshot:    variant.Label,
			AddedAt:          c.now().UTC(),
			IsActive:         true,
		}, nil
	})
	if errors.Is(err, ErrNotMember) {
		return nil, forbidden(CodeNotMember, "you are not a member of this group")
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}
