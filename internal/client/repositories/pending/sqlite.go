package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `seq, entry_id, target_table, record_id, kind, payload, enqueued_at,
	attempts, next_attempt_at, last_error, status`

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, op *models.PendingOperation) error {
	if op.Status == "" {
		op.Status = models.OperationPending
	}
	query := `INSERT INTO pending_operations
		(entry_id, target_table, record_id, kind, payload, enqueued_at, attempts, next_attempt_at, last_error, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`
	err := r.db.QueryRowContext(ctx, query,
		op.EntryID, op.TargetTable, op.RecordID, string(op.Kind), []byte(op.Payload), toUnix(op.EnqueuedAt),
		op.Attempts, toUnix(op.NextAttemptAt), op.LastError, string(op.Status),
	).Scan(&op.Seq)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", op.EntryID, err)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, where string, args ...any) ([]models.PendingOperation, error) {
	query := `SELECT ` + selectColumns + ` FROM pending_operations ` + where + ` ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []models.PendingOperation
	for rows.Next() {
		var (
			op                      models.PendingOperation
			kind, status            string
			payload                 []byte
			enqueuedAt, nextAttempt int64
		)
		if err := rows.Scan(&op.Seq, &op.EntryID, &op.TargetTable, &op.RecordID, &kind, &payload,
			&enqueuedAt, &op.Attempts, &nextAttempt, &op.LastError, &status); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Kind = models.OperationKind(kind)
		op.Status = models.OperationStatus(status)
		op.Payload = payload
		op.EnqueuedAt = fromUnix(enqueuedAt)
		op.NextAttemptAt = fromUnix(nextAttempt)
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.PendingOperation, error) {
	return r.query(ctx, "")
}

func (r *SQLiteRepository) ListReplayable(ctx context.Context) ([]models.PendingOperation, error) {
	return r.query(ctx, "WHERE status = ?", string(models.OperationPending))
}

func (r *SQLiteRepository) ListForRecord(ctx context.Context, table, recordID string) ([]models.PendingOperation, error) {
	return r.query(ctx, "WHERE target_table = ? AND record_id = ?", table, recordID)
}

func (r *SQLiteRepository) HasQueued(ctx context.Context, table, recordID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE target_table = ? AND record_id = ?`, table, recordID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count operations for %s/%s: %w", table, recordID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, entryID string, attempts int, nextAttemptAt time.Time, lastErr string, status models.OperationStatus) error {
	n, err := dbx.ExecAffected(ctx, r.db,
		`UPDATE pending_operations SET attempts = ?, next_attempt_at = ?, last_error = ?, status = ? WHERE entry_id = ?`,
		attempts, toUnix(nextAttemptAt), lastErr, string(status), entryID)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", entryID, err)
	}
	if n != 1 {
		return fmt.Errorf("operation %s: %w", entryID, common.ErrorNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, entryID string) error {
	n, err := dbx.ExecAffected(ctx, r.db, `DELETE FROM pending_operations WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", entryID, err)
	}
	if n != 1 {
		return fmt.Errorf("operation %s: %w", entryID, common.ErrorNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForRecord(ctx context.Context, table, recordID string) (int64, error) {
	n, err := dbx.ExecAffected(ctx, r.db,
		`DELETE FROM pending_operations WHERE target_table = ? AND record_id = ?`, table, recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete operations for %s/%s: %w", table, recordID, err)
	}
	return n, nil
}

func (r *SQLiteRepository) ResetExhausted(ctx context.Context) (int64, error) {
	n, err := dbx.ExecAffected(ctx, r.db,
		`UPDATE pending_operations SET attempts = 0, next_attempt_at = 0, status = ? WHERE status = ?`,
		string(models.OperationPending), string(models.OperationExhausted))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue exhausted operations: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}
