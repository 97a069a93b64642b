//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/groupcart/internal/testkit"
	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/database/migrate"
)

func TestStore_TryAdjustNeverOversells(t *testing.T) {
	db := testkit.Postgres(t)
	require.NoError(t, migrate.Run(db))

	ctx := context.Background()
	_, err := db.ExecContext(ctx, `INSERT INTO product_variants (id, label, actual_price, discounted_price, stock)
		VALUES ('thali', 'Veg Thali', 300, 250, 5)`)
	require.NoError(t, err)

	store := New(db)

	// Eight concurrent single-unit reservations against five units.
	var reserved, short atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.TryAdjust(ctx, "thali", 1)
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.Is(err, catalog.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), reserved.Load())
	assert.Equal(t, int32(3), short.Load())

	v, err := store.Variant(ctx, "thali")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Stock)

	require.NoError(t, store.TryAdjust(ctx, "thali", -2))
	v, err = store.Variant(ctx, "thali")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Stock)
}
