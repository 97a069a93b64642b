package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-memory Catalog for development and tests.
type MemoryCatalog struct {
	mu       sync.Mutex
	variants map[VariantID]*Variant
}

// NewMemoryCatalog creates a catalog seeded with variants.
func NewMemoryCatalog(variants ...Variant) *MemoryCatalog {
	c := &MemoryCatalog{variants: make(map[VariantID]*Variant, len(variants))}
	for _, v := range variants {
		c.Put(v)
	}
	return c
}

// Put inserts or replaces a variant.
func (c *MemoryCatalog) Put(v Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[v.ID] = &v
}

// Remove deletes a variant, as the catalog owner would.
func (c *MemoryCatalog) Remove(id VariantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.variants, id)
}

// Variant returns a copy of the variant with the given id.
func (c *MemoryCatalog) Variant(_ context.Context, id VariantID) (*Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.variants[id]
	if !ok {
		return nil, ErrVariantNotFound
	}
	cp := *v
	return &cp, nil
}

// Variants returns copies of the known variants among ids.
func (c *MemoryCatalog) Variants(_ context.Context, ids []VariantID) (map[VariantID]Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[VariantID]Variant, len(ids))
	for _, id := range ids {
		if v, ok := c.variants[id]; ok {
			out[id] = *v
		}
	}
	return out, nil
}

// TryAdjust applies delta under the catalog lock.
func (c *MemoryCatalog) TryAdjust(_ context.Context, id VariantID, delta int) error {
	if delta == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.variants[id]
	if !ok {
		return ErrVariantNotFound
	}
	if v.Stock-delta < 0 {
		return ErrInsufficientStock
	}
	v.Stock -= delta
	return nil
}

// Verify interface compliance.
var _ Catalog = (*MemoryCatalog)(nil)
