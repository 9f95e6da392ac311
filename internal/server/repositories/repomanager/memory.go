package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/records"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/users"
)

// MemoryRepositoryManager serves process-local repositories. The handles
// passed to Users, RefreshTokens and Records are ignored. WithTx serializes
// units of work; there is no rollback.
type MemoryRepositoryManager struct {
	tx sync.Mutex

	users         *users.MemoryRepository
	refreshTokens *refreshtokens.MemoryRepository
	records       *records.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:         users.NewMemoryRepository(),
		refreshTokens: refreshtokens.NewMemoryRepository(),
		records:       records.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) DB() dbx.DBTX { return nil }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()
	return fn(ctx, nil)
}

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.users }

func (m *MemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.refreshTokens
}

func (m *MemoryRepositoryManager) Records(dbx.DBTX) records.Repository { return m.records }

func (m *MemoryRepositoryManager) Close() error { return nil }
