package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// FlushResult reports one pass over the queue. Parked lists every operation
// left in the rejected or exhausted state, including ones parked by earlier
// passes; they stay queued until requeued or discarded.
type FlushResult struct {
	Succeeded []models.PendingOperation
	Failed    []models.PendingOperation
	Conflicts []models.PendingOperation
	Skipped   []models.PendingOperation
	Parked    []models.PendingOperation
}

// Counts returns the number of settled and failed operations.
func (r FlushResult) Counts() (succeeded, failed int) {
	return len(r.Succeeded), len(r.Failed)
}

type flushCollector struct {
	mu  sync.Mutex
	res FlushResult
}

func (f *flushCollector) add(dst *[]models.PendingOperation, op models.PendingOperation) {
	f.mu.Lock()
	*dst = append(*dst, op)
	f.mu.Unlock()
}

type replayOutcome int

const (
	outcomeSucceeded replayOutcome = iota
	outcomeConflict
	outcomeRetryLater
	outcomeParked
)

// FlushQueue replays queued operations. Each table is replayed in enqueue
// order; tables run concurrently. An operation that fails blocks later
// operations on the same record for this pass, never other records.
func (c *Coordinator) FlushQueue(ctx context.Context) (FlushResult, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	ops, err := c.queue.ListReplayable(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	byTable := make(map[string][]models.PendingOperation)
	var tables []string
	for _, op := range ops {
		if _, ok := byTable[op.TargetTable]; !ok {
			tables = append(tables, op.TargetTable)
		}
		byTable[op.TargetTable] = append(byTable[op.TargetTable], op)
	}

	col := &flushCollector{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FlushConcurrency)
	for _, table := range tables {
		list := byTable[table]
		g.Go(func() error {
			return c.flushTable(gctx, list, col)
		})
	}
	werr := g.Wait()

	all, err := c.queue.List(context.WithoutCancel(ctx))
	if err != nil {
		return col.res, errors.Join(werr, err)
	}
	for _, op := range all {
		if op.Status != models.OperationPending {
			col.res.Parked = append(col.res.Parked, op)
		}
	}

	succeeded, failed := col.res.Counts()
	c.log.Info(ctx, "queue flushed", "succeeded", succeeded, "failed", failed,
		"conflicts", len(col.res.Conflicts), "skipped", len(col.res.Skipped), "parked", len(col.res.Parked))
	return col.res, werr
}

func (c *Coordinator) flushTable(ctx context.Context, ops []models.PendingOperation, col *flushCollector) error {
	blocked := make(map[string]bool)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if blocked[op.RecordID] || op.NextAttemptAt.After(c.now()) {
			blocked[op.RecordID] = true
			col.add(&col.res.Skipped, op)
			continue
		}

		outcome, settled, err := c.replay(ctx, op)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeSucceeded:
			col.add(&col.res.Succeeded, settled)
		case outcomeConflict:
			col.add(&col.res.Succeeded, settled)
			col.add(&col.res.Conflicts, settled)
		default:
			blocked[op.RecordID] = true
			col.add(&col.res.Failed, settled)
		}
	}
	return nil
}

// retryDelay is the wait before the next pass may retry an operation that
// has failed attempts times.
func (c *Coordinator) retryDelay(attempts int) time.Duration {
	d := c.opts.RetryBaseDelay
	for i := 1; i < attempts && d < c.opts.RetryMaxDelay; i++ {
		d *= 2
	}
	return min(d, c.opts.RetryMaxDelay)
}

func (c *Coordinator) replay(ctx context.Context, op models.PendingOperation) (replayOutcome, models.PendingOperation, error) {
	unlock := c.locks.Lock(recordKey(op.TargetTable, op.RecordID))
	defer unlock()

	budget := min(c.opts.MaxAttempts-op.Attempts, c.opts.RetriesPerFlush+1)
	if budget <= 0 {
		return c.park(ctx, op, models.OperationExhausted, op.LastError)
	}

	var (
		got      models.Record
		conflict *remote.ConflictError
	)
	b := retry.NewExponential(c.opts.RetryBaseDelay)
	b = retry.WithCappedDuration(c.opts.RetryMaxDelay, b)
	b = retry.WithMaxRetries(uint64(budget-1), b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		op.Attempts++
		rec, ce, err := c.send(ctx, op)
		if err != nil {
			if remote.IsConnectivity(err) && ctx.Err() == nil {
				return retry.RetryableError(err)
			}
			return err
		}
		got, conflict = rec, ce
		return nil
	})

	local := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if derr := c.queue.Delete(local, op.EntryID); derr != nil {
			return 0, op, derr
		}
		more, qerr := c.queue.HasQueued(local, op.TargetTable, op.RecordID)
		if qerr != nil {
			return 0, op, qerr
		}
		if !more {
			c.cache.put(got)
		}
		if conflict != nil {
			return outcomeConflict, op, nil
		}
		return outcomeSucceeded, op, nil

	case ctx.Err() != nil:
		op.LastError = err.Error()
		if rerr := c.queue.RecordAttempt(local, op.EntryID, op.Attempts, op.NextAttemptAt, op.LastError, op.Status); rerr != nil {
			return 0, op, rerr
		}
		return 0, op, ctx.Err()

	case remote.IsConnectivity(err):
		if op.Attempts >= c.opts.MaxAttempts {
			return c.park(local, op, models.OperationExhausted, err.Error())
		}
		op.LastError = err.Error()
		op.NextAttemptAt = c.now().Add(c.retryDelay(op.Attempts))
		if rerr := c.queue.RecordAttempt(local, op.EntryID, op.Attempts, op.NextAttemptAt, op.LastError, op.Status); rerr != nil {
			return 0, op, rerr
		}
		c.log.Info(ctx, "replay deferred", "entry", op.EntryID, "table", op.TargetTable, "id", op.RecordID,
			"attempts", op.Attempts, "next_attempt_at", op.NextAttemptAt)
		return outcomeRetryLater, op, nil

	default:
		c.cache.setState(op.TargetTable, op.RecordID, models.StateRejected)
		return c.park(local, op, models.OperationRejected, err.Error())
	}
}

// park stops replaying op and keeps it in the queue for the user to act on.
func (c *Coordinator) park(ctx context.Context, op models.PendingOperation, status models.OperationStatus, reason string) (replayOutcome, models.PendingOperation, error) {
	op.Status = status
	op.LastError = reason
	if err := c.queue.RecordAttempt(ctx, op.EntryID, op.Attempts, op.NextAttemptAt, op.LastError, op.Status); err != nil {
		return 0, op, err
	}
	c.log.Error(ctx, "queued operation parked", "entry", op.EntryID, "table", op.TargetTable, "id", op.RecordID,
		"kind", op.Kind, "status", status, "attempts", op.Attempts, "error", reason)
	return outcomeParked, op, nil
}

// send performs one remote attempt of op. Conflicts are settled by last
// write wins before returning.
func (c *Coordinator) send(ctx context.Context, op models.PendingOperation) (models.Record, *remote.ConflictError, error) {
	var local models.Record
	var patch *models.Patch

	switch op.Kind {
	case models.OperationCreate:
		rec, err := op.Record()
		if err != nil {
			return models.Record{}, nil, &remote.RejectionError{Op: "replay", Reason: "unreadable queued payload", Err: err}
		}
		local = rec
	case models.OperationUpdate, models.OperationDelete:
		p, err := op.Patch()
		if err != nil {
			return models.Record{}, nil, &remote.RejectionError{Op: "replay", Reason: "unreadable queued payload", Err: err}
		}
		patch = &p
	default:
		return models.Record{}, nil, &remote.RejectionError{Op: "replay", Reason: fmt.Sprintf("unknown operation kind %q", op.Kind)}
	}

	got, err := c.remoteCall(ctx, func(ctx context.Context) (models.Record, error) {
		if patch != nil {
			return c.store.Update(ctx, op.TargetTable, op.RecordID, *patch)
		}
		return c.store.Insert(ctx, op.TargetTable, local)
	})
	if err == nil {
		got.MarkSynced(c.now())
		return got, nil, nil
	}

	ce, ok := remote.AsConflict(err)
	if !ok || ce.Current.ID == "" {
		return models.Record{}, nil, err
	}
	if patch != nil {
		local = ce.Current.Apply(*patch)
	}
	local.Table = op.TargetTable
	rec, _, err := c.resolveConflict(ctx, local, ce)
	if err != nil {
		return models.Record{}, nil, err
	}
	return rec, ce, nil
}
