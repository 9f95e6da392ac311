package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	insertQuery = `(?s)^INSERT\s+INTO\s+refresh_tokens\s+\(token_hash,\s*user_id,\s*expires_at\)\s+VALUES\s*\(\$1,\s*\$2,\s*\$3\)$`
	selectQuery = `(?s)^SELECT\s+token_hash,\s*user_id,\s*expires_at,\s*created_at\s+FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1$`
	deleteQuery = `(?s)^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1$`
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(insertQuery).
		WithArgs("h1", "u1", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQuery).
		WithArgs("h2", "u1", expires).
		WillReturnError(errors.New("db down"))

	require.NoError(t, repo.Create(context.Background(), &models.RefreshToken{TokenHash: "h1", UserID: "u1", ExpiresAt: expires}))

	err := repo.Create(context.Background(), &models.RefreshToken{TokenHash: "h2", UserID: "u1", ExpiresAt: expires})
	assert.Regexp(t, `db error: .*db down`, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	expires := time.Now().Add(10 * time.Minute)
	created := time.Now()

	mock.ExpectQuery(selectQuery).WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "user_id", "expires_at", "created_at"}).
			AddRow("h1", "u1", expires, created))
	mock.ExpectQuery(selectQuery).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(selectQuery).WithArgs("h2").WillReturnError(errors.New("db err"))

	got, err := repo.Find(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.ExpiresAt.Equal(expires))

	_, err = repo.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = repo.Find(context.Background(), "h2")
	assert.Regexp(t, `db error: .*db err`, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(deleteQuery).WithArgs("h1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(deleteQuery).WithArgs("h2").WillReturnError(errors.New("db err"))

	require.NoError(t, repo.Delete(context.Background(), "h1"))
	assert.Regexp(t, `db error: .*db err`, repo.Delete(context.Background(), "h2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRepository_Lifecycle(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Create(ctx, &models.RefreshToken{TokenHash: "h", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	got, err := r.Find(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.Expired(now))
	assert.True(t, got.Expired(now.Add(time.Minute)))

	require.NoError(t, r.Delete(ctx, "h"))
	require.NoError(t, r.Delete(ctx, "h"), "deleting twice must succeed")

	_, err = r.Find(ctx, "h")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
