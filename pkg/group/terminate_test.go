package group

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/groupcart/pkg/catalog"
)

type failingLedger struct{ err error }

func (l failingLedger) TryAdjust(context.Context, catalog.VariantID, int) error { return l.err }

func TestTerminator_NonLeaderLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, variant("dosa", 120, 5))
	sess := f.session(t, ana)
	_, err := f.svc.UpsertItem(ctx, set(sess, ana, "dosa", 2))
	require.NoError(t, err)

	err = f.svc.Terminate(ctx, sess.ID, ana)
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, CodeNotLeader, CodeOf(err))

	members, items := f.counts(sess.ID)
	assert.Equal(t, 2, members)
	assert.Equal(t, 1, items)
	assert.Equal(t, 3, f.stock(t, "dosa"))
}

func TestTerminator_LeaderRemovesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, variant("dosa", 120, 5), variant("idli", 60, 4))
	sess := f.session(t, ana, bo)
	_, err := f.svc.UpsertItem(ctx, set(sess, ana, "dosa", 2))
	require.NoError(t, err)
	_, err = f.svc.UpsertItem(ctx, set(sess, bo, "dosa", 1))
	require.NoError(t, err)
	_, err = f.svc.UpsertItem(ctx, set(sess, bo, "idli", 4))
	require.NoError(t, err)

	require.NoError(t, f.svc.Terminate(ctx, sess.ID, leader))

	members, items := f.counts(sess.ID)
	assert.Zero(t, members)
	assert.Zero(t, items)
	assert.Equal(t, 5, f.stock(t, "dosa"))
	assert.Equal(t, 4, f.stock(t, "idli"))

	_, err = f.store.SessionByID(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Join(ctx, sess.JoinToken, "late")
	assert.Equal(t, CodeSessionNotFound, CodeOf(err))

	// A retry after success reports the session as gone.
	err = f.svc.Terminate(ctx, sess.ID, leader)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestTerminator_SkipsRemovedVariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, variant("dosa", 120, 5))
	sess := f.session(t, ana)
	_, err := f.svc.UpsertItem(ctx, set(sess, ana, "dosa", 2))
	require.NoError(t, err)

	f.catalog.Remove("dosa")
	require.NoError(t, f.svc.Terminate(ctx, sess.ID, leader))

	members, _ := f.counts(sess.ID)
	assert.Zero(t, members)
}

func TestTerminator_ReleaseFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, variant("dosa", 120, 5))
	sess := f.session(t, ana)
	_, err := f.svc.UpsertItem(ctx, set(sess, ana, "dosa", 2))
	require.NoError(t, err)

	term := NewTerminator(f.store, failingLedger{err: errors.New("ledger offline")})
	err = term.Terminate(ctx, sess.ID, leader)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))

	members, items := f.counts(sess.ID)
	assert.Equal(t, 2, members)
	assert.Equal(t, 1, items)

	// The retry with a working ledger succeeds.
	require.NoError(t, f.svc.Terminate(ctx, sess.ID, leader))
	assert.Equal(t, 5, f.stock(t, "dosa"))
}

func TestTerminator_UnknownSession(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Terminate(context.Background(), "nope", leader)
	assert.Equal(t, CodeSessionNotFound, CodeOf(err))
}
