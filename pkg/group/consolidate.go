package group

import (
	"context"
	"fmt"

	"github.com/txn2/groupcart/pkg/catalog"
)

// Availability says whether a line can be fulfilled from the catalog as it
// stands now.
type Availability string

// Line availabilities.
const (
	Available   Availability = "AVAILABLE"
	Inactive    Availability = "INACTIVE"
	OutOfStock  Availability = "OUT_OF_STOCK"
	MissingItem Availability = "MISSING"
)

// SummaryLine is a line item annotated with current catalog state.
type SummaryLine struct {
	LineItem
	Availability    Availability `json:"availability"`
	CurrentPrice    int64        `json:"currentPrice"`
	PriceDifference int64        `json:"priceDifference"`
	LineTotal       int64        `json:"lineTotal"`
}

// MemberTotal is one member's share of the available lines.
type MemberTotal struct {
	UserID     UserID `json:"userId"`
	TotalItems int    `json:"totalItems"`
	Subtotal   int64  `json:"subtotal"`
}

// Summary aggregates a session's cart. Totals cover available lines only;
// unavailable lines are counted separately.
type Summary struct {
	SessionID        SessionID     `json:"sessionId"`
	TotalItems       int           `json:"totalItems"`
	TotalLines       int           `json:"totalLines"`
	Subtotal         int64         `json:"subtotal"`
	UnavailableItems int           `json:"unavailableItems"`
	UnavailableLines int           `json:"unavailableLines"`
	Members          []MemberTotal `json:"members"`
	Lines            []SummaryLine `json:"lines"`
}

// Consolidator builds session summaries.
type Consolidator struct {
	store   Store
	members *MembershipRegistry
	catalog catalog.Reader
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(store Store, members *MembershipRegistry, reader catalog.Reader) *Consolidator {
	return &Consolidator{store: store, members: members, catalog: reader}
}

// Summarize returns the session summary for one of its members.
func (c *Consolidator) Summarize(ctx context.Context, sessionID SessionID, requester UserID) (*Summary, error) {
	if _, err := c.members.RequireMember(ctx, sessionID, requester); err != nil {
		return nil, err
	}

	members, err := c.members.Members(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := c.store.Items(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	ids := make([]catalog.VariantID, 0, len(items))
	seen := make(map[catalog.VariantID]bool, len(items))
	for _, it := range items {
		if !seen[it.VariantID] {
			seen[it.VariantID] = true
			ids = append(ids, it.VariantID)
		}
	}
	variants, err := c.catalog.Variants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading variants: %w", err)
	}

	return Consolidate(sessionID, members, items, variants), nil
}

// Consolidate is the pure aggregation behind Summarize.
func Consolidate(sessionID SessionID, members []Member, items []LineItem, variants map[catalog.VariantID]catalog.Variant) *Summary {
	sum := &Summary{
		SessionID: sessionID,
		Members:   make([]MemberTotal, 0, len(members)),
		Lines:     make([]SummaryLine, 0, len(items)),
	}

	byUser := make(map[UserID]int, len(members))
	for _, m := range members {
		byUser[m.UserID] = len(sum.Members)
		sum.Members = append(sum.Members, MemberTotal{UserID: m.UserID})
	}

	for _, it := range items {
		if !it.IsActive {
			continue
		}
		v, ok := variants[it.VariantID]
		line := SummaryLine{LineItem: it, Availability: classify(it, v, ok)}
		if ok {
			line.CurrentPrice = v.DiscountedPrice
			line.PriceDifference = it.PriceSnapshot - v.DiscountedPrice
		}

		if line.Availability != Available {
			sum.UnavailableItems += it.Quantity
			sum.UnavailableLines++
			sum.Lines = append(sum.Lines, line)
			continue
		}

		line.LineTotal = line.CurrentPrice * int64(it.Quantity)
		sum.TotalItems += it.Quantity
		sum.TotalLines++
		sum.Subtotal += line.LineTotal

		idx, ok := byUser[it.UserID]
		if !ok {
			idx = len(sum.Members)
			byUser[it.UserID] = idx
			sum.Members = append(sum.Members, MemberTotal{UserID: it.UserID})
		}
		sum.Members[idx].TotalItems += it.Quantity
		sum.Members[idx].Subtotal += line.LineTotal
		sum.Lines = append(sum.Lines, line)
	}

	return sum
}

// classify decides a line's availability. Reserved units always count; any
// shortfall must be coverable by the variant's free stock.
func classify(it LineItem, v catalog.Variant, found bool) Availability {
	switch {
	case !found:
		return MissingItem
	case !v.IsActive:
		return Inactive
	}
	if shortfall := it.Quantity - it.ReservedQuantity; shortfall > 0 && v.Stock < shortfall {
		return OutOfStock
	}
	return Available
}
