package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/dmitrijs2005/ledgersync/internal/client/storage"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory transport: a keyed upsert store plus a
// password authenticator that accepts any password except "wrong".
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]models.Record
	offline bool
	pings   int
	tokens  remote.TokenSource
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[string]models.Record)}
}

func (s *fakeStore) setOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

func (s *fakeStore) down(op string) error {
	if s.offline {
		return &remote.ConnectivityError{Op: op, Err: remote.ErrUnavailable}
	}
	return nil
}

func (s *fakeStore) put(table string, rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]models.Record)
	}
	rec.Table = table
	s.rows[table][rec.ID] = rec.Clone()
}

func (s *fakeStore) row(table, id string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[table][id]
	return r, ok
}

func confirmed(r models.Record) models.Record {
	out := r.Clone()
	out.State = models.StateConfirmed
	if out.IsDeleted() {
		out.State = models.StateSoftDeleted
	}
	return out
}

func (s *fakeStore) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down("insert"); err != nil {
		return models.Record{}, err
	}
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]models.Record)
	}
	if cur, ok := s.rows[table][rec.ID]; ok && !rec.UpdatedAt.After(cur.UpdatedAt) {
		return confirmed(cur), nil
	}
	rec.Table = table
	rec.SyncedAt = nil
	s.rows[table][rec.ID] = rec.Clone()
	return confirmed(rec), nil
}

func (s *fakeStore) Update(ctx context.Context, table, id string, patch models.Patch) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down("update"); err != nil {
		return models.Record{}, err
	}
	cur, ok := s.rows[table][id]
	if !ok {
		return models.Record{}, &remote.RejectionError{Op: "update", Reason: "no such row", Err: common.ErrorNotFound}
	}
	if cur.IsDeleted() || cur.UpdatedAt.After(patch.UpdatedAt) {
		return models.Record{}, &remote.ConflictError{Op: "update", Table: table, ID: id, Current: confirmed(cur), Err: common.ErrVersionConflict}
	}
	next := cur.Apply(patch)
	s.rows[table][id] = next
	return confirmed(next), nil
}

func (s *fakeStore) SelectAll(ctx context.Context, table string, filter models.Filter) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down("select"); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0)
	for _, id := range slices.Sorted(maps.Keys(s.rows[table])) {
		r := s.rows[table][id]
		if r.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, confirmed(r))
	}
	return out, nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.down("ping")
}

func (s *fakeStore) SignIn(ctx context.Context, provider, username, password string) (storepb.TokenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down("sign in"); err != nil {
		return storepb.TokenResponse{}, err
	}
	if password == "wrong" {
		return storepb.TokenResponse{}, &remote.RejectionError{Op: "sign in", Reason: "bad credentials", Err: common.ErrInvalidCredentials}
	}
	return storepb.TokenResponse{
		UserID:       username,
		AccessToken:  "access-" + username,
		RefreshToken: "refresh-" + username,
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}, nil
}

func (s *fakeStore) Register(ctx context.Context, username, password string) (storepb.TokenResponse, error) {
	return s.SignIn(ctx, services.ProviderPassword, username, password)
}

func (s *fakeStore) Refresh(ctx context.Context, refreshToken string) (storepb.TokenResponse, error) {
	return storepb.TokenResponse{}, &remote.RejectionError{Op: "refresh", Reason: "not supported", Err: common.ErrRefreshTokenExpired}
}

func (s *fakeStore) SetTokenSource(ts remote.TokenSource) { s.tokens = ts }
func (s *fakeStore) Close() error                         { return nil }

type testApp struct {
	*App
	store *fakeStore
	out   *bytes.Buffer
	repos *storage.Repositories
}

func testConfig(dbPath string) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabasePath = dbPath
	cfg.RemoteTimeout = time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.MaxAttempts = 3
	return cfg
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	color.NoColor = true

	cfg := testConfig(filepath.Join(t.TempDir(), "client.db"))
	repos, err := storage.InitDatabase(context.Background(), cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	store := newFakeStore()
	app := newApp(cfg, logging.Nop(), repos, store)
	out := &bytes.Buffer{}
	app.out = out
	app.reader = bufio.NewReader(strings.NewReader(""))
	return &testApp{App: app, store: store, out: out, repos: repos}
}

// signIn logs the app in as user without touching the prompts.
func (ta *testApp) signIn(t *testing.T, user string) {
	t.Helper()
	_, err := ta.sessions.SignIn(context.Background(), services.ProviderPassword, user, "secret")
	require.NoError(t, err)
	ta.out.Reset()
}

func (ta *testApp) input(s string) {
	ta.reader = bufio.NewReader(strings.NewReader(s))
}

func stubInputs(t *testing.T, username string, password []byte) {
	t.Helper()
	origST, origGP := getSimpleText, getPassword
	getSimpleText = func(_ *bufio.Reader, _ string, _ io.Writer) (string, error) { return username, nil }
	getPassword = func(_ io.Writer) ([]byte, error) { return append([]byte(nil), password...), nil }
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})
}
