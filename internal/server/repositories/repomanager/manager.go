// Package repomanager vends the repositories of the reference server and
// runs units of work against them.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/users"
)

// RepositoryManager binds repositories to a connection or transaction.
// DB returns the non-transactional handle; WithTx runs fn in a transaction
// and passes its handle.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	DB() dbx.DBTX
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Records(db dbx.DBTX) records.Repository
	Close() error
}
