package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
)

// reconcile refreshes selections after an accepted mutation. A failed or
// superseded refetch does not fail the command: the mutation itself went
// through.
func (a *App) reconcile(ctx context.Context, table, id string) {
	err := a.recon.AfterMutation(ctx, table, id)
	if err != nil && !errors.Is(err, services.ErrSuperseded) {
		a.log.Warn(ctx, "reconcile failed", "table", table, "id", id, "error", err)
	}
	a.printSelected()
}

// ensureLoaded fetches table when id is not cached yet, as in a fresh
// process that has not listed anything.
func (a *App) ensureLoaded(ctx context.Context, table, id string) error {
	if _, ok := a.coord.Get(table, id); ok {
		return nil
	}
	if err := a.recon.Refresh(ctx, table); err != nil && !errors.Is(err, services.ErrSuperseded) {
		return err
	}
	return nil
}

func (a *App) askFields(fields models.Fields) (models.Fields, error) {
	if len(fields) > 0 {
		return fields, nil
	}
	return GetFields(a.reader, a.out)
}

// Create sends a new record. An empty id lets the client mint one.
func (a *App) Create(ctx context.Context, table string, fields models.Fields, id string) error {
	fields, err := a.askFields(fields)
	if err != nil {
		return err
	}
	res, err := a.coord.Create(ctx, table, fields, id)
	if err != nil {
		return err
	}
	printResult(a.out, "created", res)
	a.reconcile(ctx, table, res.Record.ID)
	return nil
}

// Draft stages a record locally without sending it.
func (a *App) Draft(table string, fields models.Fields) error {
	fields, err := a.askFields(fields)
	if err != nil {
		return err
	}
	rec, err := a.coord.Draft(table, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "drafted %s/%s\n", table, rec.ID)
	return nil
}

func (a *App) Commit(ctx context.Context, table, id string) error {
	res, err := a.coord.Commit(ctx, table, id)
	if err != nil {
		return err
	}
	printResult(a.out, "created", res)
	a.reconcile(ctx, table, id)
	return nil
}

func (a *App) Update(ctx context.Context, table, id string, fields models.Fields) error {
	fields, err := a.askFields(fields)
	if err != nil {
		return err
	}
	if err := a.ensureLoaded(ctx, table, id); err != nil {
		return err
	}
	res, err := a.coord.Update(ctx, table, id, fields)
	if err != nil {
		return err
	}
	printResult(a.out, "updated", res)
	a.reconcile(ctx, table, id)
	return nil
}

func (a *App) Delete(ctx context.Context, table, id string) error {
	if err := a.ensureLoaded(ctx, table, id); err != nil {
		return err
	}
	res, err := a.coord.SoftDelete(ctx, table, id)
	if err != nil {
		return err
	}
	printResult(a.out, "deleted", res)
	a.reconcile(ctx, table, id)
	return nil
}

// Abandon drops a draft or a record whose create never left the queue.
func (a *App) Abandon(ctx context.Context, table, id string) error {
	if err := a.coord.Abandon(ctx, table, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "abandoned %s/%s\n", table, id)
	a.reconcile(ctx, table, id)
	return nil
}

// List refetches table and prints it. Offline, the local view is printed.
func (a *App) List(ctx context.Context, table string, includeDeleted bool) error {
	if err := a.recon.Refresh(ctx, table); err != nil && !errors.Is(err, services.ErrSuperseded) {
		return err
	}
	printRecords(a.out, a.coord.List(table, models.Filter{IncludeDeleted: includeDeleted}))
	if drafts := a.coord.Drafts(table); len(drafts) > 0 {
		fmt.Fprintln(a.out, dimColor.Sprintf("%d draft(s) not sent", len(drafts)))
	}
	return nil
}

// Show selects table/id as the current record and prints it. The selection
// stays live: later mutations reprint it from the refetched collection.
func (a *App) Show(ctx context.Context, table, id string) error {
	sel := a.recon.Select(table, id)

	a.mu.Lock()
	prev := a.selected
	a.selected = sel
	a.mu.Unlock()
	if prev != nil {
		a.recon.Release(prev)
	}

	if err := a.recon.Refresh(ctx, table); err != nil && !errors.Is(err, services.ErrSuperseded) {
		return err
	}
	if _, ok := sel.Current(); !ok {
		return fmt.Errorf("%s/%s: %w", table, id, services.ErrRecordNotFound)
	}
	a.printSelected()
	return nil
}

func (a *App) printSelected() {
	a.mu.RLock()
	sel := a.selected
	a.mu.RUnlock()
	if sel == nil {
		return
	}
	p, ok := sel.Current()
	if !ok {
		fmt.Fprintln(a.out, dimColor.Sprintf("%s/%s is gone", sel.Table(), sel.ID()))
		return
	}
	printRecord(a.out, p.Record)
}

// Flush replays the queue now. Operations parked as exhausted or rejected
// are reported through ErrOperationsParked.
func (a *App) Flush(ctx context.Context) error {
	res, err := a.flush(ctx)
	if err != nil {
		return err
	}
	printFlushResult(a.out, res)
	if n := len(res.Parked); n > 0 {
		return fmt.Errorf("%w: %d operation(s) need attention, see 'queue'", ErrOperationsParked, n)
	}
	return nil
}

func (a *App) Queue(ctx context.Context) error {
	ops, err := a.coord.Pending(ctx)
	if err != nil {
		return err
	}
	printOperations(a.out, ops)
	return nil
}

// Retry puts exhausted operations back in line.
func (a *App) Retry(ctx context.Context) error {
	n, err := a.coord.Requeue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d operation(s) requeued\n", n)
	return nil
}

// Discard acknowledges a parked operation and removes it from the queue.
func (a *App) Discard(ctx context.Context, entryID string) error {
	op, err := a.coord.Discard(ctx, entryID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "discarded %s of %s/%s\n", op.Kind, op.TargetTable, op.RecordID)
	return nil
}
