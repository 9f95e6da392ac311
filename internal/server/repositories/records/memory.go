package records

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

type key struct{ table, id string }

// MemoryRepository keeps records in a map with the same write rules as the
// Postgres repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[key]*models.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[key]*models.Record)}
}

func (r *MemoryRepository) Upsert(_ context.Context, rec *models.Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{rec.Table, rec.ID}
	cur, ok := r.rows[k]
	if ok && (cur.Owner != rec.Owner || cur.IsDeleted() || !cur.UpdatedAt.Before(rec.UpdatedAt)) {
		return false, nil
	}
	r.rows[k] = rec.Clone()
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, table, id string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur, ok := r.rows[key{table, id}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cur.Clone(), nil
}

// GetForUpdate does not lock. Callers serialize through the manager's WithTx.
func (r *MemoryRepository) GetForUpdate(ctx context.Context, table, id string) (*models.Record, error) {
	return r.Get(ctx, table, id)
}

func (r *MemoryRepository) Save(_ context.Context, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{rec.Table, rec.ID}
	cur, ok := r.rows[k]
	if !ok {
		return common.ErrorNotFound
	}
	next := rec.Clone()
	next.Owner = cur.Owner
	r.rows[k] = next
	return nil
}

func (r *MemoryRepository) List(_ context.Context, table, owner string, includeDeleted bool) ([]*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Record
	for k, rec := range r.rows {
		if k.table != table || rec.Owner != owner {
			continue
		}
		if rec.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
