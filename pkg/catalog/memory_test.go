package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStock   = 5
	testWorkers = 8
)

func TestMemoryCatalog_Variant(t *testing.T) {
	c := NewMemoryCatalog(Variant{ID: "v1", Label: "Paneer Tikka", DiscountedPrice: 250, Stock: testStock, IsActive: true})

	t.Run("found returns copy", func(t *testing.T) {
		v, err := c.Variant(context.Background(), "v1")
		require.NoError(t, err)
		assert.Equal(t, "Paneer Tikka", v.Label)

		v.Stock = 0
		again, err := c.Variant(context.Background(), "v1")
		require.NoError(t, err)
		assert.Equal(t, testStock, again.Stock)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := c.Variant(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrVariantNotFound)
	})
}

func TestMemoryCatalog_Variants(t *testing.T) {
	c := NewMemoryCatalog(
		Variant{ID: "v1", Stock: 1},
		Variant{ID: "v2", Stock: 2},
	)

	got, err := c.Variants(context.Background(), []VariantID{"v1", "v2", "gone"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, got["v2"].Stock)
	_, ok := got["gone"]
	assert.False(t, ok)
}

func TestMemoryCatalog_TryAdjust(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve and release", func(t *testing.T) {
		c := NewMemoryCatalog(Variant{ID: "v1", Stock: testStock})
		require.NoError(t, c.TryAdjust(ctx, "v1", 3))
		require.NoError(t, c.TryAdjust(ctx, "v1", -1))

		v, err := c.Variant(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, 3, v.Stock)
	})

	t.Run("insufficient leaves stock unchanged", func(t *testing.T) {
		c := NewMemoryCatalog(Variant{ID: "v1", Stock: 2})
		err := c.TryAdjust(ctx, "v1", 3)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		v, err := c.Variant(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, 2, v.Stock)
	})

	t.Run("zero delta on missing variant is a no-op", func(t *testing.T) {
		c := NewMemoryCatalog()
		assert.NoError(t, c.TryAdjust(ctx, "nope", 0))
	})

	t.Run("missing variant", func(t *testing.T) {
		c := NewMemoryCatalog()
		assert.ErrorIs(t, c.TryAdjust(ctx, "nope", 1), ErrVariantNotFound)
	})
}

func TestMemoryCatalog_TryAdjustConcurrent(t *testing.T) {
	c := NewMemoryCatalog(Variant{ID: "v1", Stock: testStock})

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for range testWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := c.TryAdjust(context.Background(), "v1", 1); err {
			case nil:
				ok.Add(1)
			case ErrInsufficientStock:
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(testStock), ok.Load())
	assert.Equal(t, int32(testWorkers-testStock), short.Load())

	v, err := c.Variant(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Stock)
}
