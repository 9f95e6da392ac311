package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var (
	upsertQuery = `(?s)^INSERT\s+INTO\s+records\s*\(table_name,\s*id,\s*owner,\s*fields,\s*deleted_at,\s*updated_at\)` +
		`.*ON\s+CONFLICT\s*\(table_name,\s*id\).*WHERE\s+records\.owner\s*=\s*EXCLUDED\.owner` +
		`.*records\.deleted_at\s+IS\s+NULL.*records\.updated_at\s*<\s*EXCLUDED\.updated_at\s*$`
	getQuery       = `(?s)^SELECT\s+table_name,\s*id,\s*owner,\s*fields,\s*deleted_at,\s*updated_at\s+FROM\s+records\s+WHERE\s+table_name\s*=\s*\$1\s+AND\s+id\s*=\s*\$2$`
	getForUpdQuery = `(?s)^SELECT\s+.*FROM\s+records\s+WHERE\s+table_name\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s+FOR\s+UPDATE$`
	saveQuery      = `(?s)^UPDATE\s+records\s+SET\s+fields\s*=\s*\$3,\s*deleted_at\s*=\s*\$4,\s*updated_at\s*=\s*\$5\s+WHERE\s+table_name\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s*$`
	listQuery      = `(?s)^SELECT\s+table_name,.*FROM\s+records\s+WHERE\s+table_name\s*=\s*\$1\s+AND\s+owner\s*=\s*\$2\s+AND\s+\(\$3\s+OR\s+deleted_at\s+IS\s+NULL\)\s+ORDER\s+BY\s+id$`
)

var columns = []string{"table_name", "id", "owner", "fields", "deleted_at", "updated_at"}

func sampleRecord() *models.Record {
	return &models.Record{
		Table:     "customers",
		ID:        "c1",
		Owner:     "u1",
		Fields:    map[string]any{"name": "Acme"},
		UpdatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpsert(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "written", affected: 1, want: true},
		{name: "guarded", affected: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			rec := sampleRecord()

			mock.ExpectExec(upsertQuery).
				WithArgs("customers", "c1", "u1", `{"name":"Acme"}`, nil, rec.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			applied, err := repo.Upsert(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, applied)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(upsertQuery).WillReturnError(errors.New("db down"))

	_, err := repo.Upsert(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestUpsert_UnexpectedRowsAffected(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(upsertQuery).WillReturnResult(sqlmock.NewResult(0, 2))

	_, err := repo.Upsert(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "unexpected rows affected: 2")
}

func TestGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	updated := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	deleted := updated.Add(time.Hour)

	mock.ExpectQuery(getQuery).
		WithArgs("customers", "c1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("customers", "c1", "u1", []byte(`{"name":"Acme","credit":10}`), deleted, updated))

	got, err := repo.Get(context.Background(), "customers", "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Owner)
	assert.Equal(t, "Acme", got.Fields["name"])
	assert.EqualValues(t, 10, got.Fields["credit"])
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(deleted))
	assert.True(t, got.UpdatedAt.Equal(updated))
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(getQuery).WithArgs("customers", "nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "customers", "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(getForUpdQuery).
		WithArgs("customers", "c1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("customers", "c1", "u1", []byte(`{}`), nil, time.Now()))

	got, err := repo.GetForUpdate(context.Background(), "customers", "c1")
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Empty(t, got.Fields)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rec := sampleRecord()

	mock.ExpectExec(saveQuery).
		WithArgs("customers", "c1", `{"name":"Acme"}`, nil, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(context.Background(), rec))

	mock.ExpectExec(saveQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Save(context.Background(), rec), common.ErrorNotFound)
}

func TestList(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(listQuery).
		WithArgs("customers", "u1", false).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("customers", "a", "u1", []byte(`{"name":"A"}`), nil, now).
			AddRow("customers", "b", "u1", []byte(`{"name":"B"}`), nil, now))

	got, err := repo.List(context.Background(), "customers", "u1", false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "B", got[1].Fields["name"])
}

func TestList_BadJSON(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(listQuery).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("customers", "a", "u1", []byte(`{not json`), nil, time.Now()))

	_, err := repo.List(context.Background(), "customers", "u1", true)
	require.ErrorContains(t, err, "decode fields")
}
