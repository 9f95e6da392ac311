package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
)

// PostgresRepository keeps records in the records table, fields as JSONB.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `table_name, id, owner, fields, deleted_at, updated_at`

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*models.Record, error) {
	var (
		rec     models.Record
		raw     []byte
		deleted sql.NullTime
	)
	if err := s.Scan(&rec.Table, &rec.ID, &rec.Owner, &raw, &deleted, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Fields = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	if deleted.Valid {
		t := deleted.Time.UTC()
		rec.DeletedAt = &t
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) (bool, error) {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO records (table_name, id, owner, fields, deleted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, id)
		DO UPDATE SET
			fields = EXCLUDED.fields,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at
			WHERE records.owner = EXCLUDED.owner
			  AND records.deleted_at IS NULL
			  AND records.updated_at < EXCLUDED.updated_at
	`
	n, err := dbx.ExecAffected(ctx, r.db, query,
		rec.Table, rec.ID, rec.Owner, fields, rec.DeletedAt, rec.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) get(ctx context.Context, query, table, id string) (*models.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, table, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, table, id string) (*models.Record, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM records WHERE table_name = $1 AND id = $2`, table, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, table, id string) (*models.Record, error) {
	return r.get(ctx, `SELECT `+selectColumns+` FROM records WHERE table_name = $1 AND id = $2 FOR UPDATE`, table, id)
}

func (r *PostgresRepository) Save(ctx context.Context, rec *models.Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE records SET fields = $3, deleted_at = $4, updated_at = $5
		WHERE table_name = $1 AND id = $2
	`
	n, err := dbx.ExecAffected(ctx, r.db, query, rec.Table, rec.ID, fields, rec.DeletedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, table, owner string, includeDeleted bool) ([]*models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records
		WHERE table_name = $1 AND owner = $2 AND ($3 OR deleted_at IS NULL)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, table, owner, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
