package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(h *harness) *Reconciler {
	return NewReconciler(h.coord, h.store, NewSelections(), time.Second, logging.Nop())
}

func TestAfterMutation_ProjectionReflectsUpdate(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme", "city": "Riga"}, "a1")
	require.NoError(t, err)

	sel := r.Select("customers", "a1")
	p, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "Acme", p.Record.Fields["name"])
	changed := sel.Changed()

	_, err = h.coord.Update(ctx, "customers", "a1", models.Fields{"name": "Acme Ltd", "city": nil})
	require.NoError(t, err)
	require.NoError(t, r.AfterMutation(ctx, "customers", "a1"))

	select {
	case <-changed:
	default:
		t.Fatal("selection was not swapped")
	}
	p, ok = sel.Current()
	require.True(t, ok)
	assert.Equal(t, models.Fields{"name": "Acme Ltd"}, p.Record.Fields, "no stale pre-update fields")
	assert.EqualValues(t, 1, p.Generation)
}

func TestAfterMutation_PicksUpRemoteChanges(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "suppliers", models.Fields{"name": "Parts Co"}, "s1")
	require.NoError(t, err)
	sel := r.Select("suppliers", "s1")

	h.store.put("suppliers", models.Record{ID: "s1", Owner: "u1", Fields: models.Fields{"name": "Parts Co", "vat": "LV1"}, UpdatedAt: models.Now().Add(time.Second)})
	h.store.put("suppliers", models.Record{ID: "s2", Owner: "u1", Fields: models.Fields{"name": "Other"}, UpdatedAt: models.Now()})

	require.NoError(t, r.AfterMutation(ctx, "suppliers", "s1"))

	p, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "LV1", p.Record.Fields["vat"])
	assert.Len(t, h.coord.List("suppliers", models.Filter{}), 2)
}

func TestAfterMutation_OfflineProjectsLocalState(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)
	sel := r.Select("customers", "a1")

	h.store.setOffline(true)
	res, err := h.coord.Update(ctx, "customers", "a1", models.Fields{"name": "Pending"})
	require.NoError(t, err)
	require.True(t, res.Optimistic)

	require.NoError(t, r.AfterMutation(ctx, "customers", "a1"))
	p, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "Pending", p.Record.Fields["name"])
	assert.Equal(t, models.StateOptimistic, p.Record.State)
}

func TestAfterMutation_AbandonedRecordLeavesSelection(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	h.store.setOffline(true)
	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)
	sel := r.Select("customers", "a1")
	_, ok := sel.Current()
	require.True(t, ok)

	require.NoError(t, h.coord.Abandon(ctx, "customers", "a1"))
	require.NoError(t, r.AfterMutation(ctx, "customers", "a1"))

	_, ok = sel.Current()
	assert.False(t, ok)
}

func TestAfterMutation_LastReconciliationWins(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "v1"}, "a1")
	require.NoError(t, err)
	sel := r.Select("customers", "a1")

	entered := make(chan struct{})
	h.store.selectHook = func(ctx context.Context, n int) error {
		if n != 1 {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return &remote.ConnectivityError{Op: "select", Err: ctx.Err()}
	}

	first := make(chan error, 1)
	go func() { first <- r.AfterMutation(ctx, "customers", "a1") }()
	<-entered

	_, err = h.coord.Update(ctx, "customers", "a1", models.Fields{"name": "v2"})
	require.NoError(t, err)
	require.NoError(t, r.AfterMutation(ctx, "customers", "a1"))

	assert.ErrorIs(t, <-first, ErrSuperseded)

	p, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, "v2", p.Record.Fields["name"])
	assert.EqualValues(t, 2, p.Generation)
}

func TestAfterMutation_RejectedRefetchLeavesProjection(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)
	sel := r.Select("customers", "a1")
	before, _ := sel.Current()

	h.store.selectErr = &remote.RejectionError{Op: "select", Reason: "permission denied", Err: remote.ErrUnauthorized}
	err = r.AfterMutation(ctx, "customers", "a1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrUnauthorized))

	after, _ := sel.Current()
	assert.Equal(t, before, after)
}

func TestSelections_Release(t *testing.T) {
	h := newHarness(t)
	r := newReconciler(h)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)

	sel := r.Select("customers", "a1")
	changed := sel.Changed()
	r.Release(sel)

	require.NoError(t, r.AfterMutation(ctx, "customers", "a1"))
	select {
	case <-changed:
		t.Fatal("released selection must not be refreshed")
	default:
	}
}
