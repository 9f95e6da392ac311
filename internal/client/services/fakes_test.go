package services

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/storage"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/stretchr/testify/require"
)

/*************
 * memStore: a remote.Store with server-like upsert and LWW semantics
 *************/

type storeCall struct {
	Kind  string
	Table string
	ID    string
}

type memStore struct {
	mu    sync.Mutex
	rows  map[string]map[string]models.Record
	calls []storeCall

	offline      bool
	timeout      bool
	applyTimeout bool
	rejectIDs    map[string]error
	selectErr    error
	selectHook   func(ctx context.Context, n int) error
	insertHook   func()
	selects      int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[string]models.Record), rejectIDs: make(map[string]error)}
}

func (s *memStore) setOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

func (s *memStore) failure(op, id string) error {
	if s.offline {
		return &remote.ConnectivityError{Op: op, Err: remote.ErrUnavailable}
	}
	if s.timeout {
		return &remote.ConnectivityError{Op: op, Timeout: true, Err: context.DeadlineExceeded}
	}
	if err, ok := s.rejectIDs[id]; ok {
		return &remote.RejectionError{Op: op, Reason: err.Error(), Err: err}
	}
	return nil
}

// put writes a row as if another client had done it.
func (s *memStore) put(table string, rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]models.Record)
	}
	rec.Table = table
	rec.State = ""
	rec.SyncedAt = nil
	s.rows[table][rec.ID] = rec.Clone()
}

func (s *memStore) row(table, id string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[table][id]
	return r.Clone(), ok
}

func (s *memStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[table])
}

func (s *memStore) callsFor(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (s *memStore) confirmed(table string, rec models.Record) models.Record {
	out := rec.Clone()
	out.Table = table
	out.SyncedAt = nil
	out.State = models.StateConfirmed
	if out.IsDeleted() {
		out.State = models.StateSoftDeleted
	}
	return out
}

func (s *memStore) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{"insert", table, rec.ID})
	if s.insertHook != nil {
		s.insertHook()
	}
	if err := s.failure("insert", rec.ID); err != nil {
		return models.Record{}, err
	}
	if s.rows[table] == nil {
		s.rows[table] = make(map[string]models.Record)
	}
	cur, ok := s.rows[table][rec.ID]
	switch {
	case ok && cur.Owner != rec.Owner:
		return models.Record{}, &remote.IdentityCollisionError{Table: table, ID: rec.ID, Err: common.ErrIdentityCollision}
	case ok && (cur.IsDeleted() || !rec.UpdatedAt.After(cur.UpdatedAt)):
		return s.confirmed(table, cur), nil
	}
	stored := rec.Clone()
	stored.State = ""
	stored.SyncedAt = nil
	s.rows[table][rec.ID] = stored
	if s.applyTimeout {
		return models.Record{}, &remote.ConnectivityError{Op: "insert", Timeout: true, Err: context.DeadlineExceeded}
	}
	return s.confirmed(table, stored), nil
}

func (s *memStore) Update(ctx context.Context, table, id string, patch models.Patch) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{"update", table, id})
	if err := s.failure("update", id); err != nil {
		return models.Record{}, err
	}
	cur, ok := s.rows[table][id]
	if !ok {
		return models.Record{}, &remote.RejectionError{Op: "update", Reason: "no such row", Err: common.ErrorNotFound}
	}
	if cur.IsDeleted() || cur.UpdatedAt.After(patch.UpdatedAt) {
		return models.Record{}, &remote.ConflictError{Op: "update", Table: table, ID: id, Current: s.confirmed(table, cur), Err: common.ErrVersionConflict}
	}
	next := cur.Apply(patch)
	s.rows[table][id] = next
	return s.confirmed(table, next), nil
}

func (s *memStore) SelectAll(ctx context.Context, table string, filter models.Filter) ([]models.Record, error) {
	s.mu.Lock()
	s.selects++
	n := s.selects
	hook := s.selectHook
	s.calls = append(s.calls, storeCall{"select", table, ""})
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("select", ""); err != nil {
		return nil, err
	}
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	out := make([]models.Record, 0, len(s.rows[table]))
	for _, id := range slices.Sorted(maps.Keys(s.rows[table])) {
		r := s.rows[table][id]
		if r.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, s.confirmed(table, r))
	}
	return out, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure("ping", "")
}

/*************
 * Sessions and ids
 *************/

type fixedSession struct {
	s  models.Session
	ok bool
}

func (f fixedSession) Current() (models.Session, bool) { return f.s, f.ok }

func signedIn(userID string) fixedSession {
	return fixedSession{s: models.Session{UserID: userID}, ok: true}
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("gen-%03d", g.n), nil
}

/*************
 * Harness
 *************/

type harness struct {
	coord *Coordinator
	store *memStore
	repos *storage.Repositories
	path  string
}

func testOptions() Options {
	return Options{
		RemoteTimeout:    time.Second,
		MaxAttempts:      5,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		RetriesPerFlush:  1,
		FlushConcurrency: 2,
	}
}

func openRepos(t *testing.T, path string) *storage.Repositories {
	t.Helper()
	repos, err := storage.InitDatabase(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	o := testOptions()
	for _, fn := range opts {
		fn(&o)
	}
	path := filepath.Join(t.TempDir(), "client.db")
	repos := openRepos(t, path)
	store := newMemStore()
	coord := NewCoordinator(store, repos.Pending, signedIn("u1"), &seqIDs{}, logging.Nop(), o)
	return &harness{coord: coord, store: store, repos: repos, path: path}
}

func (h *harness) queueLen(t *testing.T) int {
	t.Helper()
	n, err := h.repos.Pending.Count(context.Background())
	require.NoError(t, err)
	return n
}
