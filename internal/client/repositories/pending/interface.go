package pending

import (
	"context"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

type Repository interface {
	// Enqueue stores op and sets its Seq.
	Enqueue(ctx context.Context, op *models.PendingOperation) error
	// List returns every queued entry in replay order.
	List(ctx context.Context) ([]models.PendingOperation, error)
	// ListReplayable returns pending entries in replay order.
	ListReplayable(ctx context.Context) ([]models.PendingOperation, error)
	ListForRecord(ctx context.Context, table, recordID string) ([]models.PendingOperation, error)
	HasQueued(ctx context.Context, table, recordID string) (bool, error)
	RecordAttempt(ctx context.Context, entryID string, attempts int, nextAttemptAt time.Time, lastErr string, status models.OperationStatus) error
	Delete(ctx context.Context, entryID string) error
	DeleteForRecord(ctx context.Context, table, recordID string) (int64, error)
	ResetExhausted(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}
