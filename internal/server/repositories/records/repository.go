// Package records stores the rows of all registered tables in one keyspace
// of (table, id).
package records

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type Repository interface {
	// Upsert inserts rec or replaces the stored row with the same key. The
	// stored row is only replaced when it has the same owner, is not
	// soft-deleted and is older than rec. applied reports whether a write
	// happened.
	Upsert(ctx context.Context, rec *models.Record) (applied bool, err error)
	// Get returns common.ErrorNotFound when no row has the key.
	Get(ctx context.Context, table, id string) (*models.Record, error)
	// GetForUpdate is Get that locks the row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, table, id string) (*models.Record, error)
	// Save overwrites the fields, deletion mark and timestamp of a stored row.
	Save(ctx context.Context, rec *models.Record) error
	// List returns the rows of owner in table ordered by id.
	List(ctx context.Context, table, owner string, includeDeleted bool) ([]*models.Record, error)
}
