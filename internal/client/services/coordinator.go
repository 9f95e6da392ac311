package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/pending"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

// IDGenerator hands out client-side record and queue-entry ids.
type IDGenerator interface {
	Generate() (string, error)
}

// SessionSource reports the signed-in principal.
type SessionSource interface {
	Current() (models.Session, bool)
}

// Options tunes remote calls and queue replay.
type Options struct {
	RemoteTimeout    time.Duration
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetriesPerFlush  int
	FlushConcurrency int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RemoteTimeout:    cfg.RemoteTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		RetriesPerFlush:  cfg.RetriesPerFlush,
		FlushConcurrency: cfg.FlushConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 5 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 8
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 200 * time.Millisecond
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = o.RetryBaseDelay
	}
	if o.RetriesPerFlush <= 0 {
		o.RetriesPerFlush = 2
	}
	if o.FlushConcurrency < 1 {
		o.FlushConcurrency = 1
	}
	return o
}

// Result is the outcome of an accepted mutation. Optimistic is set when the
// change was applied locally and queued instead of confirmed. Conflict is set
// when the remote store held a concurrent version that won.
type Result struct {
	Record     models.Record
	Optimistic bool
	Conflict   *remote.ConflictError
}

// Coordinator owns the collection cache and the pending-operation queue.
// Nothing else writes to either.
type Coordinator struct {
	store    remote.Store
	queue    pending.Repository
	sessions SessionSource
	ids      IDGenerator
	log      logging.Logger
	opts     Options
	now      func() time.Time

	cache   *collectionCache
	locks   *keyedMutex
	flushMu sync.Mutex

	draftsMu sync.Mutex
	drafts   map[string]models.Record
}

func NewCoordinator(store remote.Store, queue pending.Repository, sessions SessionSource, ids IDGenerator, log logging.Logger, opts Options) *Coordinator {
	return &Coordinator{
		store:    store,
		queue:    queue,
		sessions: sessions,
		ids:      ids,
		log:      log.With("module", "coordinator"),
		opts:     opts.withDefaults(),
		now:      models.Now,
		cache:    newCollectionCache(),
		locks:    newKeyedMutex(),
		drafts:   make(map[string]models.Record),
	}
}

func (c *Coordinator) session() (models.Session, error) {
	s, ok := c.sessions.Current()
	if !ok {
		return models.Session{}, ErrNoSession
	}
	return s, nil
}

func cleanFields(in models.Fields) models.Fields {
	out := make(models.Fields, len(in))
	for k, v := range in {
		if common.IsReservedField(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// nextUpdatedAt keeps updatedAt strictly increasing for one record even when
// the clock has not moved.
func (c *Coordinator) nextUpdatedAt(prev time.Time) time.Time {
	now := c.now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func (c *Coordinator) remoteCall(ctx context.Context, fn func(context.Context) (models.Record, error)) (models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RemoteTimeout)
	defer cancel()
	return fn(ctx)
}

// known reports whether id is already used by a cached record, a draft or
// a queued operation.
func (c *Coordinator) known(ctx context.Context, table, id string) (bool, error) {
	if _, ok := c.cache.find(id); ok {
		return true, nil
	}
	c.draftsMu.Lock()
	_, drafted := c.drafts[id]
	c.draftsMu.Unlock()
	if drafted {
		return true, nil
	}
	return c.queue.HasQueued(ctx, table, id)
}

// Draft assigns an id to a new record without contacting the remote store.
func (c *Coordinator) Draft(table string, fields models.Fields) (models.Record, error) {
	s, err := c.session()
	if err != nil {
		return models.Record{}, err
	}
	id, err := c.ids.Generate()
	if err != nil {
		return models.Record{}, fmt.Errorf("generate record id: %w", err)
	}
	rec := models.Record{
		Table:     table,
		ID:        id,
		Owner:     s.UserID,
		Fields:    cleanFields(fields),
		UpdatedAt: c.now(),
		State:     models.StateDrafted,
	}
	c.draftsMu.Lock()
	c.drafts[id] = rec.Clone()
	c.draftsMu.Unlock()
	return rec, nil
}

// Commit sends a draft through Create with its pre-assigned id.
func (c *Coordinator) Commit(ctx context.Context, table, id string) (Result, error) {
	unlock := c.locks.Lock(recordKey(table, id))
	defer unlock()

	c.draftsMu.Lock()
	draft, ok := c.drafts[id]
	if ok && draft.Table == table {
		delete(c.drafts, id)
	}
	c.draftsMu.Unlock()
	if !ok || draft.Table != table {
		return Result{}, fmt.Errorf("draft %s/%s: %w", table, id, ErrRecordNotFound)
	}

	s, err := c.session()
	if err != nil {
		return Result{}, err
	}
	draft.Owner = s.UserID
	draft.UpdatedAt = c.nextUpdatedAt(draft.UpdatedAt)
	draft.State = models.StateOptimistic
	return c.createLocked(ctx, draft)
}

// Create inserts a new record. An empty id is generated; a supplied id must
// not be in use locally.
func (c *Coordinator) Create(ctx context.Context, table string, fields models.Fields, id string) (Result, error) {
	s, err := c.session()
	if err != nil {
		return Result{}, err
	}
	if id == "" {
		if id, err = c.ids.Generate(); err != nil {
			return Result{}, fmt.Errorf("generate record id: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%s/%s: %w", table, id, err)
	}

	unlock := c.locks.Lock(recordKey(table, id))
	defer unlock()

	taken, err := c.known(ctx, table, id)
	if err != nil {
		return Result{}, err
	}
	if taken {
		return Result{}, &remote.IdentityCollisionError{Table: table, ID: id, Err: common.ErrIdentityCollision}
	}

	rec := models.Record{
		Table:     table,
		ID:        id,
		Owner:     s.UserID,
		Fields:    cleanFields(fields),
		UpdatedAt: c.now(),
		State:     models.StateOptimistic,
	}
	return c.createLocked(ctx, rec)
}

func (c *Coordinator) createLocked(ctx context.Context, rec models.Record) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%s/%s: %w", rec.Table, rec.ID, err)
	}
	got, err := c.remoteCall(ctx, func(ctx context.Context) (models.Record, error) {
		return c.store.Insert(ctx, rec.Table, rec)
	})
	if err == nil {
		got.MarkSynced(c.now())
		c.cache.put(got)
		return Result{Record: got}, nil
	}
	return c.handleFailure(ctx, rec, err, func(entryID string) (models.PendingOperation, error) {
		return models.NewCreateOperation(entryID, rec, c.now())
	})
}

// Update merges fields into an existing record. A nil field value removes
// the field.
func (c *Coordinator) Update(ctx context.Context, table, id string, fields models.Fields) (Result, error) {
	if _, err := c.session(); err != nil {
		return Result{}, err
	}

	unlock := c.locks.Lock(recordKey(table, id))
	defer unlock()

	cur, err := c.mutable(table, id)
	if err != nil {
		return Result{}, err
	}
	patch := models.Patch{Fields: cleanFields(fields), UpdatedAt: c.nextUpdatedAt(cur.UpdatedAt)}
	return c.mutateLocked(ctx, cur, models.OperationUpdate, patch)
}

// SoftDelete stamps deletedAt on a confirmed record.
func (c *Coordinator) SoftDelete(ctx context.Context, table, id string) (Result, error) {
	if _, err := c.session(); err != nil {
		return Result{}, err
	}

	unlock := c.locks.Lock(recordKey(table, id))
	defer unlock()

	cur, err := c.mutable(table, id)
	if err != nil {
		return Result{}, err
	}
	if cur.State != models.StateConfirmed {
		return Result{}, fmt.Errorf("delete %s/%s: %w", table, id, ErrNotConfirmed)
	}
	at := c.nextUpdatedAt(cur.UpdatedAt)
	patch := models.Patch{DeletedAt: &at, UpdatedAt: at}
	return c.mutateLocked(ctx, cur, models.OperationDelete, patch)
}

func (c *Coordinator) mutable(table, id string) (models.Record, error) {
	cur, ok := c.cache.get(table, id)
	if !ok || cur.IsDeleted() {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, ErrRecordNotFound)
	}
	if cur.State == models.StateRejected {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, ErrRecordRejected)
	}
	return cur, nil
}

func (c *Coordinator) mutateLocked(ctx context.Context, cur models.Record, kind models.OperationKind, patch models.Patch) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%s/%s: %w", cur.Table, cur.ID, err)
	}
	optimistic := cur.Apply(patch)
	optimistic.State = models.StateOptimistic
	newOp := func(entryID string) (models.PendingOperation, error) {
		return models.NewPatchOperation(entryID, kind, cur.Table, cur.ID, patch, c.now())
	}

	// Earlier operations on this record are still queued: stay behind them.
	queued, err := c.queue.HasQueued(ctx, cur.Table, cur.ID)
	if err != nil {
		return Result{}, err
	}
	if queued {
		if err := c.enqueue(ctx, newOp, nil); err != nil {
			return Result{}, err
		}
		c.cache.put(optimistic)
		return Result{Record: optimistic, Optimistic: true}, nil
	}

	got, err := c.remoteCall(ctx, func(ctx context.Context) (models.Record, error) {
		return c.store.Update(ctx, cur.Table, cur.ID, patch)
	})
	if err == nil {
		got.MarkSynced(c.now())
		c.cache.put(got)
		return Result{Record: got}, nil
	}

	if ce, ok := remote.AsConflict(err); ok && ce.Current.ID != "" {
		local := ce.Current.Apply(patch)
		local.Table = cur.Table
		return c.settleConflict(ctx, local, ce)
	}
	return c.handleFailure(ctx, optimistic, err, newOp)
}

// handleFailure applies the error taxonomy to a failed first attempt. A
// caller context that ended while the request was in flight leaves the
// outcome unknown, so the change is queued as an attempted operation.
func (c *Coordinator) handleFailure(ctx context.Context, optimistic models.Record, err error, newOp func(string) (models.PendingOperation, error)) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = &remote.ConnectivityError{Op: "caller", Timeout: true, Err: ctxErr}
		ctx = context.WithoutCancel(ctx)
	}

	if ce, ok := remote.AsConflict(err); ok && ce.Current.ID != "" {
		return c.settleConflict(ctx, optimistic, ce)
	}

	switch {
	case remote.IsConnectivity(err):
		if qerr := c.enqueue(ctx, newOp, err); qerr != nil {
			return Result{}, qerr
		}
		optimistic.State = models.StateOptimistic
		c.cache.put(optimistic)
		c.log.Info(ctx, "remote store unreachable, change queued", "table", optimistic.Table, "id", optimistic.ID, "error", err)
		return Result{Record: optimistic, Optimistic: true}, nil
	case remote.IsIdentityCollision(err):
		c.log.Error(ctx, "identity collision, operation aborted", "table", optimistic.Table, "id", optimistic.ID)
		return Result{}, err
	default:
		return Result{}, err
	}
}

// settleConflict resolves a conflict by last write wins on updatedAt. A
// soft-deleted remote row always wins.
func (c *Coordinator) settleConflict(ctx context.Context, local models.Record, ce *remote.ConflictError) (Result, error) {
	rec, remoteWon, err := c.resolveConflict(ctx, local, ce)
	if err == nil {
		c.cache.put(rec)
		res := Result{Record: rec}
		if remoteWon {
			res.Conflict = ce
		}
		return res, nil
	}
	if remote.IsConnectivity(err) && ctx.Err() == nil {
		upsert := func(entryID string) (models.PendingOperation, error) {
			return models.NewCreateOperation(entryID, local, c.now())
		}
		if qerr := c.enqueue(ctx, upsert, err); qerr != nil {
			return Result{}, qerr
		}
		local.State = models.StateOptimistic
		c.cache.put(local)
		return Result{Record: local, Optimistic: true}, nil
	}
	return Result{}, err
}

func (c *Coordinator) resolveConflict(ctx context.Context, local models.Record, ce *remote.ConflictError) (models.Record, bool, error) {
	current := ce.Current.Clone()
	current.Table = local.Table

	if current.IsDeleted() || !local.UpdatedAt.After(current.UpdatedAt) {
		c.log.Warn(ctx, "conflict resolved", "table", local.Table, "id", local.ID, "winner", "remote",
			"local_updated_at", local.UpdatedAt, "remote_updated_at", current.UpdatedAt, "remote_deleted", current.IsDeleted())
		current.MarkSynced(c.now())
		return current, true, nil
	}

	c.log.Warn(ctx, "conflict resolved", "table", local.Table, "id", local.ID, "winner", "local",
		"local_updated_at", local.UpdatedAt, "remote_updated_at", current.UpdatedAt)
	got, err := c.remoteCall(ctx, func(ctx context.Context) (models.Record, error) {
		return c.store.Insert(ctx, local.Table, local)
	})
	if err != nil {
		return models.Record{}, false, err
	}
	got.MarkSynced(c.now())
	return got, false, nil
}

// enqueue persists a new operation. A timed-out attempt counts as sent: the
// request may have reached the remote store.
func (c *Coordinator) enqueue(ctx context.Context, newOp func(string) (models.PendingOperation, error), cause error) error {
	entryID, err := c.ids.Generate()
	if err != nil {
		return fmt.Errorf("generate queue entry id: %w", err)
	}
	op, err := newOp(entryID)
	if err != nil {
		return err
	}
	var ce *remote.ConnectivityError
	if errors.As(cause, &ce) {
		op.LastError = cause.Error()
		if ce.Timeout {
			op.Attempts = 1
		}
	}
	if err := c.queue.Enqueue(ctx, &op); err != nil {
		return fmt.Errorf("queue %s %s/%s: %w", op.Kind, op.TargetTable, op.RecordID, err)
	}
	return nil
}

// Abandon drops a draft, or an optimistic record none of whose queued
// operations has been sent. Records the remote store may already hold
// cannot be abandoned.
func (c *Coordinator) Abandon(ctx context.Context, table, id string) error {
	unlock := c.locks.Lock(recordKey(table, id))
	defer unlock()

	c.draftsMu.Lock()
	if d, ok := c.drafts[id]; ok && d.Table == table {
		delete(c.drafts, id)
		c.draftsMu.Unlock()
		return nil
	}
	c.draftsMu.Unlock()

	rec, ok := c.cache.get(table, id)
	if !ok {
		return fmt.Errorf("%s/%s: %w", table, id, ErrRecordNotFound)
	}
	if rec.State != models.StateOptimistic || rec.SyncedAt != nil {
		return fmt.Errorf("%s/%s: %w", table, id, ErrNotAbandonable)
	}

	ops, err := c.queue.ListForRecord(ctx, table, id)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Sent() {
			return fmt.Errorf("%s/%s: %w", table, id, ErrNotAbandonable)
		}
	}
	if _, err := c.queue.DeleteForRecord(ctx, table, id); err != nil {
		return err
	}
	c.cache.remove(table, id)
	return nil
}

// Discard removes one parked queue entry. When the record has nothing
// left queued and never reached the remote store it leaves the cache too.
func (c *Coordinator) Discard(ctx context.Context, entryID string) (models.PendingOperation, error) {
	ops, err := c.queue.List(ctx)
	if err != nil {
		return models.PendingOperation{}, err
	}
	idx := -1
	for i, op := range ops {
		if op.EntryID == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.PendingOperation{}, fmt.Errorf("queue entry %s: %w", entryID, common.ErrorNotFound)
	}
	op := ops[idx]

	unlock := c.locks.Lock(recordKey(op.TargetTable, op.RecordID))
	defer unlock()

	if err := c.queue.Delete(ctx, entryID); err != nil {
		return models.PendingOperation{}, err
	}
	more, err := c.queue.HasQueued(ctx, op.TargetTable, op.RecordID)
	if err != nil || more {
		return op, err
	}
	if rec, ok := c.cache.get(op.TargetTable, op.RecordID); ok {
		if rec.SyncedAt == nil {
			c.cache.remove(op.TargetTable, op.RecordID)
		} else {
			rec.MarkSynced(*rec.SyncedAt)
			c.cache.put(rec)
		}
	}
	c.log.Warn(ctx, "queued operation discarded", "entry", entryID, "table", op.TargetTable, "id", op.RecordID, "kind", op.Kind)
	return op, nil
}

// Requeue returns exhausted operations to the replay queue.
func (c *Coordinator) Requeue(ctx context.Context) (int64, error) {
	return c.queue.ResetExhausted(ctx)
}

// Restore rebuilds optimistic records from the durable queue. Call it once
// at startup, before serving reads.
func (c *Coordinator) Restore(ctx context.Context) error {
	ops, err := c.queue.List(ctx)
	if err != nil {
		return err
	}
	tables := make(map[string]struct{})
	for _, op := range ops {
		tables[op.TargetTable] = struct{}{}
	}
	for table := range tables {
		if err := c.ApplySnapshot(ctx, table, c.cache.list(table, models.Filter{IncludeDeleted: true})); err != nil {
			return err
		}
	}
	return nil
}

// ApplySnapshot replaces the cached table with authoritative rows, replaying
// queued operations on top of the records they target.
func (c *Coordinator) ApplySnapshot(ctx context.Context, table string, rows []models.Record) error {
	ops, err := c.queue.List(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	fresh := make(map[string]models.Record, len(rows))
	for _, row := range rows {
		r := row.Clone()
		r.Table = table
		if r.State != models.StateOptimistic && r.State != models.StateRejected {
			r.MarkSynced(now)
		}
		fresh[r.ID] = r
	}

	byRecord := make(map[string][]models.PendingOperation)
	var order []string
	for _, op := range ops {
		if op.TargetTable != table {
			continue
		}
		if _, seen := byRecord[op.RecordID]; !seen {
			order = append(order, op.RecordID)
		}
		byRecord[op.RecordID] = append(byRecord[op.RecordID], op)
	}

	for _, id := range order {
		base, ok := fresh[id]
		rejected := false
		for _, op := range byRecord[id] {
			if op.Status == models.OperationRejected {
				rejected = true
				if op.Kind != models.OperationCreate || ok {
					continue
				}
			}
			switch op.Kind {
			case models.OperationCreate:
				rec, err := op.Record()
				if err != nil {
					c.log.Error(ctx, "unreadable queued create", "entry", op.EntryID, "error", err)
					continue
				}
				if !ok || rec.UpdatedAt.After(base.UpdatedAt) {
					if ok {
						rec.SyncedAt = base.SyncedAt
					}
					base, ok = rec, true
				}
			default:
				if !ok {
					continue
				}
				p, err := op.Patch()
				if err != nil {
					c.log.Error(ctx, "unreadable queued patch", "entry", op.EntryID, "error", err)
					continue
				}
				if p.UpdatedAt.After(base.UpdatedAt) {
					base = base.Apply(p)
				}
			}
		}
		if !ok {
			continue
		}
		base.Table = table
		base.State = models.StateOptimistic
		if rejected {
			base.State = models.StateRejected
		}
		fresh[id] = base
	}

	c.cache.replace(table, fresh)
	return nil
}

// List returns the cached collection. Soft-deleted records are only
// included when the filter asks for them.
func (c *Coordinator) List(table string, filter models.Filter) []models.Record {
	return c.cache.list(table, filter)
}

// Get returns a record by id, including soft-deleted records and drafts.
func (c *Coordinator) Get(table, id string) (models.Record, bool) {
	if rec, ok := c.cache.get(table, id); ok {
		return rec, true
	}
	c.draftsMu.Lock()
	defer c.draftsMu.Unlock()
	d, ok := c.drafts[id]
	if !ok || d.Table != table {
		return models.Record{}, false
	}
	return d.Clone(), true
}

// Drafts lists unsent drafts of table.
func (c *Coordinator) Drafts(table string) []models.Record {
	c.draftsMu.Lock()
	defer c.draftsMu.Unlock()
	out := make([]models.Record, 0)
	for _, id := range slices.Sorted(maps.Keys(c.drafts)) {
		if d := c.drafts[id]; d.Table == table {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Tables lists every table the cache holds.
func (c *Coordinator) Tables() []string {
	return c.cache.tableNames()
}

// Pending lists the durable queue in replay order.
func (c *Coordinator) Pending(ctx context.Context) ([]models.PendingOperation, error) {
	return c.queue.List(ctx)
}
