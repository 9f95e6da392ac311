package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushQueue_OfflineCreateThenReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.setOffline(true)
	res, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)
	require.True(t, res.Optimistic)
	require.Equal(t, 1, h.queueLen(t))

	h.store.setOffline(false)
	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)

	succeeded, failed := fr.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, h.queueLen(t))

	got, ok := h.coord.Get("customers", "a1")
	require.True(t, ok)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.NotNil(t, got.SyncedAt)
}

func TestFlushQueue_DistinctIDsAllConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.setOffline(true)
	const n = 12
	for i := 0; i < n; i++ {
		table := "customers"
		if i%3 == 0 {
			table = "suppliers"
		}
		_, err := h.coord.Create(ctx, table, models.Fields{"n": i}, fmt.Sprintf("r%02d", i))
		require.NoError(t, err)
	}
	h.store.setOffline(false)

	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Succeeded, n)
	assert.Empty(t, fr.Failed)
	assert.Equal(t, 0, h.queueLen(t))
	assert.Equal(t, n, h.store.count("customers")+h.store.count("suppliers"))

	for _, table := range []string{"customers", "suppliers"} {
		for _, rec := range h.coord.List(table, models.Filter{}) {
			assert.Equal(t, models.StateConfirmed, rec.State, rec.ID)
		}
	}
}

func TestFlushQueue_ReplayAfterAmbiguousTimeoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.applyTimeout = true
	res, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)
	require.True(t, res.Optimistic)
	require.Equal(t, 1, h.store.count("customers"), "the store applied the write before timing out")

	h.store.applyTimeout = false
	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Succeeded, 1)
	assert.Equal(t, 1, h.store.count("customers"))
	assert.Equal(t, 2, h.store.callsFor("insert"))
}

func TestFlushQueue_FailureDoesNotBlockOtherRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.setOffline(true)
	_, err := h.coord.Create(ctx, "customers", models.Fields{"cust_name": "Bad"}, "r1")
	require.NoError(t, err)
	_, err = h.coord.Update(ctx, "customers", "r1", models.Fields{"cust_name": "Worse"})
	require.NoError(t, err)
	_, err = h.coord.Create(ctx, "customers", models.Fields{"name": "Good"}, "r2")
	require.NoError(t, err)

	h.store.setOffline(false)
	h.store.rejectIDs["r1"] = errors.New("column cust_name does not exist")

	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)

	require.Len(t, fr.Succeeded, 1)
	assert.Equal(t, "r2", fr.Succeeded[0].RecordID)
	require.Len(t, fr.Failed, 1)
	assert.Equal(t, models.OperationRejected, fr.Failed[0].Status)
	require.Len(t, fr.Skipped, 1)
	assert.Equal(t, models.OperationUpdate, fr.Skipped[0].Kind)
	require.Len(t, fr.Parked, 1)
	assert.Equal(t, "r1", fr.Parked[0].RecordID)
	assert.Contains(t, fr.Parked[0].LastError, "cust_name")

	r1, ok := h.coord.Get("customers", "r1")
	require.True(t, ok)
	assert.Equal(t, models.StateRejected, r1.State)
	r2, _ := h.coord.Get("customers", "r2")
	assert.Equal(t, models.StateConfirmed, r2.State)

	// The parked create stays queued, and so does the update behind it.
	assert.Equal(t, 2, h.queueLen(t))

	_, err = h.coord.Update(ctx, "customers", "r1", models.Fields{"name": "x"})
	assert.ErrorIs(t, err, ErrRecordRejected)
}

func TestFlushQueue_ExhaustedOperationsAreKeptAndSurfaced(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.MaxAttempts = 2
		o.RetriesPerFlush = 3
	})
	ctx := context.Background()

	h.store.setOffline(true)
	_, err := h.coord.Create(ctx, "cash_book", models.Fields{"amount": 10}, "c1")
	require.NoError(t, err)

	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	require.Len(t, fr.Failed, 1)
	require.Len(t, fr.Parked, 1)
	assert.Equal(t, models.OperationExhausted, fr.Parked[0].Status)
	assert.Equal(t, 2, fr.Parked[0].Attempts)
	assert.Equal(t, 1, h.queueLen(t), "exhausted operations are never dropped")

	// A later pass does not replay it but still reports it.
	fr, err = h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, fr.Failed)
	assert.Len(t, fr.Parked, 1)

	n, err := h.coord.Requeue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	h.store.setOffline(false)
	fr, err = h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Succeeded, 1)
	assert.Empty(t, fr.Parked)
	assert.Equal(t, 0, h.queueLen(t))
}

func TestFlushQueue_DeferredUntilNextAttempt(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RetryBaseDelay = time.Minute
		o.RetryMaxDelay = time.Hour
	})
	ctx := context.Background()
	now := models.Now()
	h.coord.now = func() time.Time { return now }

	h.store.setOffline(true)
	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)

	// One attempt per pass: a retry inside the pass would wait a minute.
	h.coord.opts.RetriesPerFlush = 0

	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	require.Len(t, fr.Failed, 1)
	assert.Equal(t, now.Add(time.Minute), fr.Failed[0].NextAttemptAt)

	h.store.setOffline(false)
	fr, err = h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Skipped, 1, "not due yet")
	assert.Empty(t, fr.Succeeded)

	h.coord.now = func() time.Time { return now.Add(2 * time.Minute) }
	fr, err = h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Succeeded, 1)
}

func TestFlushQueue_ReplaysInEnqueueOrderPerTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.setOffline(true)
	_, err := h.coord.Create(ctx, "stock_movements", models.Fields{"qty": 1}, "m1")
	require.NoError(t, err)
	_, err = h.coord.Update(ctx, "stock_movements", "m1", models.Fields{"qty": 2})
	require.NoError(t, err)
	_, err = h.coord.Create(ctx, "stock_movements", models.Fields{"qty": 3}, "m2")
	require.NoError(t, err)
	h.store.setOffline(false)
	h.store.calls = nil

	_, err = h.coord.FlushQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, []storeCall{
		{"insert", "stock_movements", "m1"},
		{"update", "stock_movements", "m1"},
		{"insert", "stock_movements", "m2"},
	}, h.store.calls)

	m1, _ := h.store.row("stock_movements", "m1")
	assert.EqualValues(t, 2, m1.Fields["qty"])
}

func TestFlushQueue_ConflictResolvedByLastWriteWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)

	h.store.setOffline(true)
	_, err = h.coord.Update(ctx, "customers", "a1", models.Fields{"name": "Local"})
	require.NoError(t, err)

	h.store.setOffline(false)
	h.store.put("customers", models.Record{ID: "a1", Owner: "u1", Fields: models.Fields{"name": "Remote"}, UpdatedAt: models.Now().Add(time.Hour)})

	fr, err := h.coord.FlushQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, fr.Succeeded, 1)
	assert.Len(t, fr.Conflicts, 1)
	assert.Equal(t, 0, h.queueLen(t))

	got, _ := h.coord.Get("customers", "a1")
	assert.Equal(t, "Remote", got.Fields["name"])
	assert.Equal(t, models.StateConfirmed, got.State)
}

func TestFlushQueue_CancelledContextKeepsQueue(t *testing.T) {
	h := newHarness(t)
	h.store.setOffline(true)
	_, err := h.coord.Create(context.Background(), "customers", models.Fields{"name": "Acme"}, "a1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.coord.FlushQueue(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, h.queueLen(t))
}

func TestRetryDelay(t *testing.T) {
	c := &Coordinator{opts: Options{RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: time.Second}}
	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1))
	assert.Equal(t, 200*time.Millisecond, c.retryDelay(2))
	assert.Equal(t, 800*time.Millisecond, c.retryDelay(4))
	assert.Equal(t, time.Second, c.retryDelay(10))
}
