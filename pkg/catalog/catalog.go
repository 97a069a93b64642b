// Package catalog describes product variants as the group ordering core sees
// them and the stock ledger that reserves and releases their units.
//
// The catalog itself (vendors, categories, pricing) is owned elsewhere. This
// package only reads variants and moves units in and out of their stock.
package catalog

import (
	"context"
	"errors"
)

// VariantID identifies a product variant.
type VariantID string

// Variant is a purchasable product variant. Prices are integer minor
// currency units.
type Variant struct {
	ID              VariantID `json:"id"`
	Label           string    `json:"label"`
	ActualPrice     int64     `json:"actualPrice"`
	DiscountedPrice int64     `json:"discountedPrice"`
	Stock           int       `json:"stock"`
	IsActive        bool      `json:"isActive"`
}

// Sentinel errors returned by catalog implementations.
var (
	ErrVariantNotFound   = errors.New("variant not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Reader reads variants.
type Reader interface {
	// Variant returns a single variant or ErrVariantNotFound.
	Variant(ctx context.Context, id VariantID) (*Variant, error)

	// Variants returns the variants that exist among ids, keyed by id.
	// Unknown ids are omitted rather than reported as errors.
	Variants(ctx context.Context, ids []VariantID) (map[VariantID]Variant, error)
}

// Ledger moves units of stock.
type Ledger interface {
	// TryAdjust removes delta units from the variant's stock. A positive
	// delta reserves and fails with ErrInsufficientStock when fewer than
	// delta units remain; a negative delta releases. Zero is a no-op.
	TryAdjust(ctx context.Context, id VariantID, delta int) error
}

// Catalog is a Reader that also owns the stock ledger.
type Catalog interface {
	Reader
	Ledger
}
