package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/txn2/groupcart/pkg/audit"
	"github.com/txn2/groupcart/pkg/catalog"
)

const (
	leader UserID = "leader-1"
	ana    UserID = "ana"
	bo     UserID = "bo"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func future() string { return testNow.Add(24 * time.Hour).Format(time.RFC3339) }

type fixture struct {
	store    *MemoryStore
	catalog  *catalog.MemoryCatalog
	activity *audit.MemoryStore
	svc      *Service
}

func newFixture(t *testing.T, variants ...catalog.Variant) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		catalog:  catalog.NewMemoryCatalog(variants...),
		activity: audit.NewMemoryStore(0),
	}
	f.svc = NewService(f.store, f.catalog, f.activity, Config{Now: fixedNow})
	return f
}

// session creates a session led by leader with the given extra members.
func (f *fixture) session(t *testing.T, members ...UserID) *Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, CreateSessionInput{Name: "Team lunch", ScheduledAt: future(), Mode: "DINE_IN"}, leader)
	require.NoError(t, err)
	for _, m := range members {
		_, err := f.svc.Join(ctx, sess.JoinToken, m)
		require.NoError(t, err)
	}
	return sess
}

func (f *fixture) stock(t *testing.T, id catalog.VariantID) int {
	t.Helper()
	v, err := f.catalog.Variant(context.Background(), id)
	require.NoError(t, err)
	return v.Stock
}

func (f *fixture) counts(id SessionID) (members, items int) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for k := range f.store.members {
		if k.session == id {
			members++
		}
	}
	for k := range f.store.items {
		if k.SessionID == id {
			items++
		}
	}
	return members, items
}

func variant(id catalog.VariantID, price int64, stock int) catalog.Variant {
	return catalog.Variant{ID: id, Label: string(id), ActualPrice: price, DiscountedPrice: price, Stock: stock, IsActive: true}
}
