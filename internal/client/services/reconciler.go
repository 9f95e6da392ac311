package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

// ErrSuperseded is returned by AfterMutation when a later reconciliation of
// the same table took over.
var ErrSuperseded = errors.New("reconciliation superseded")

// Reconciler refreshes selections from the authoritative collection after
// each accepted mutation.
type Reconciler struct {
	coord      *Coordinator
	store      remote.Store
	selections *Selections
	timeout    time.Duration
	log        logging.Logger

	mu       sync.Mutex
	gens     map[string]uint64
	inflight map[string]context.CancelFunc
}

func NewReconciler(coord *Coordinator, store remote.Store, selections *Selections, timeout time.Duration, log logging.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{
		coord:      coord,
		store:      store,
		selections: selections,
		timeout:    timeout,
		log:        log.With("module", "reconciler"),
		gens:       make(map[string]uint64),
		inflight:   make(map[string]context.CancelFunc),
	}
}

// Select registers a selection on table/id, seeded from the local cache.
func (r *Reconciler) Select(table, id string) *Selection {
	sel := newSelection(table, id)
	if rec, ok := r.coord.Get(table, id); ok {
		r.mu.Lock()
		gen := r.gens[table]
		r.mu.Unlock()
		sel.swap(&Projection{Record: rec, Generation: gen})
	}
	r.selections.add(sel)
	return sel
}

func (r *Reconciler) Release(sel *Selection) {
	r.selections.Release(sel)
}

// Refresh refetches table without a triggering mutation.
func (r *Reconciler) Refresh(ctx context.Context, table string) error {
	return r.AfterMutation(ctx, table, "")
}

// AfterMutation refetches table and rebuilds its selections. It must not be
// called after a rejected mutation. A pass that is overtaken by a newer one
// on the same table is cancelled and returns ErrSuperseded.
func (r *Reconciler) AfterMutation(ctx context.Context, table, id string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.gens[table]++
	gen := r.gens[table]
	if prev, ok := r.inflight[table]; ok {
		prev()
	}
	r.inflight[table] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.gens[table] == gen {
			delete(r.inflight, table)
		}
		r.mu.Unlock()
	}()

	fetchCtx, fetchCancel := context.WithTimeout(ctx, r.timeout)
	rows, err := r.store.SelectAll(fetchCtx, table, models.Filter{IncludeDeleted: true})
	fetchCancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[table] != gen {
		return ErrSuperseded
	}

	switch {
	case err == nil:
		if serr := r.coord.ApplySnapshot(ctx, table, rows); serr != nil {
			return serr
		}
	case remote.IsConnectivity(err) && ctx.Err() == nil:
		r.log.Warn(ctx, "refetch failed, projecting local state", "table", table, "id", id, "error", err)
	default:
		return err
	}

	r.selections.refresh(table, r.coord.List(table, models.Filter{IncludeDeleted: true}), gen)
	return nil
}
