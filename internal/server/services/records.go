package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
)

// ConflictError is returned when a write loses to the stored row. Current is
// that row.
type ConflictError struct {
	Current *models.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v on %s/%s", common.ErrVersionConflict, e.Current.Table, e.Current.ID)
}

func (e *ConflictError) Unwrap() error { return common.ErrVersionConflict }

// RecordService applies inserts and updates with last-write-wins on
// updated_at. Rows are only visible to their owner.
type RecordService struct {
	repomanager repomanager.RepositoryManager
	tables      Registry
	now         func() time.Time
}

func NewRecordService(m repomanager.RepositoryManager, tables Registry) *RecordService {
	return &RecordService{repomanager: m, tables: tables, now: time.Now}
}

func (s *RecordService) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

// Insert stores rec for owner keyed by (table, rec.ID). Replays of an
// already stored row return the stored row. An id held by another owner
// yields common.ErrIdentityCollision.
func (s *RecordService) Insert(ctx context.Context, owner string, rec *models.Record) (*models.Record, error) {
	t, err := s.tables.Lookup(rec.Table)
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", common.ErrorValidation)
	}

	in := rec.Clone()
	in.Owner = owner
	in.Fields = stripReserved(rec.Fields)
	in.UpdatedAt = s.stamp(rec.UpdatedAt)
	if in.DeletedAt != nil {
		d := in.DeletedAt.UTC().Truncate(time.Microsecond)
		in.DeletedAt = &d
	}
	if err := t.Validate(in.Fields); err != nil {
		return nil, err
	}

	var out *models.Record
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		applied, err := repo.Upsert(ctx, in)
		if err != nil {
			return err
		}
		if applied {
			out = in
			return nil
		}
		cur, err := repo.Get(ctx, in.Table, in.ID)
		if err != nil {
			return err
		}
		if cur.Owner != owner {
			return fmt.Errorf("%w: %s/%s", common.ErrIdentityCollision, in.Table, in.ID)
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies patch to the owner's row. A patch carrying the stored
// updated_at is a replay and returns the stored row. A soft-deleted or newer
// stored row yields *ConflictError.
func (s *RecordService) Update(ctx context.Context, owner, table, id string, patch models.Patch) (*models.Record, error) {
	t, err := s.tables.Lookup(table)
	if err != nil {
		return nil, err
	}
	updatedAt := s.stamp(patch.UpdatedAt)

	var out *models.Record
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		cur, err := repo.GetForUpdate(ctx, table, id)
		if err != nil {
			return err
		}
		if cur.Owner != owner {
			return common.ErrorNotFound
		}
		if cur.UpdatedAt.Equal(updatedAt) {
			out = cur
			return nil
		}
		if cur.IsDeleted() || cur.UpdatedAt.After(updatedAt) {
			return &ConflictError{Current: cur}
		}

		next := cur.Clone()
		if next.Fields == nil {
			next.Fields = map[string]any{}
		}
		for k, v := range patch.Fields {
			if common.IsReservedField(k) {
				continue
			}
			if v == nil {
				delete(next.Fields, k)
				continue
			}
			next.Fields[k] = v
		}
		if patch.DeletedAt != nil {
			d := patch.DeletedAt.UTC().Truncate(time.Microsecond)
			next.DeletedAt = &d
		}
		next.UpdatedAt = updatedAt
		if err := t.Validate(next.Fields); err != nil {
			return err
		}
		if err := repo.Save(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) || errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrorValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("error updating record: %w", err)
	}
	return out, nil
}

// List returns the owner's rows of table.
func (s *RecordService) List(ctx context.Context, owner, table string, includeDeleted bool) ([]*models.Record, error) {
	if _, err := s.tables.Lookup(table); err != nil {
		return nil, err
	}
	return s.repomanager.Records(s.repomanager.DB()).List(ctx, table, owner, includeDeleted)
}
