package server

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingMigrations struct {
	*repomanager.MemoryRepositoryManager
	closed bool
}

func (f *failingMigrations) RunMigrations(context.Context) error { return errors.New("bad schema") }
func (f *failingMigrations) Close() error                        { f.closed = true; return nil }

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.EndpointAddrHTTP = "127.0.0.1:0"
	return c
}

func TestNewApp_InMemory(t *testing.T) {
	var logs bytes.Buffer
	app, err := NewApp(context.Background(), testConfig(), &logs)
	require.NoError(t, err)
	assert.IsType(t, &repomanager.MemoryRepositoryManager{}, app.repos)
	assert.Contains(t, logs.String(), "data is kept in memory")
}

func TestNewApp_Errors(t *testing.T) {
	c := testConfig()
	c.LogLevel = "loud"
	_, err := NewApp(context.Background(), c, &bytes.Buffer{})
	require.Error(t, err)

	orig := openRepositories
	defer func() { openRepositories = orig }()

	openRepositories = func(context.Context, string) (repomanager.RepositoryManager, error) {
		return nil, errors.New("connection refused")
	}
	_, err = NewApp(context.Background(), testConfig(), &bytes.Buffer{})
	require.ErrorContains(t, err, "db init error: connection refused")

	fm := &failingMigrations{MemoryRepositoryManager: repomanager.NewMemoryRepositoryManager()}
	openRepositories = func(context.Context, string) (repomanager.RepositoryManager, error) { return fm, nil }
	_, err = NewApp(context.Background(), testConfig(), &bytes.Buffer{})
	require.ErrorContains(t, err, "migrations error: bad schema")
	assert.True(t, fm.closed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	var logs bytes.Buffer
	app, err := NewApp(context.Background(), testConfig(), &logs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRun_ReportsListenError(t *testing.T) {
	c := testConfig()
	c.EndpointAddrGRPC = "127.0.0.1:99999"
	app, err := NewApp(context.Background(), c, &bytes.Buffer{})
	require.NoError(t, err)

	require.Error(t, app.Run(context.Background()))
}
