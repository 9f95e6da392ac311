package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/idgen"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/dmitrijs2005/ledgersync/internal/client/storage"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// remoteStore is a transport as the App needs it: the data store, the
// authenticator, and a hook for the session that supplies tokens.
type remoteStore interface {
	remote.Store
	remote.Authenticator
	SetTokenSource(ts remote.TokenSource)
	Close() error
}

// App wires the local database, the remote transport and the sync services
// for the command line.
type App struct {
	cfg      *config.Config
	log      logging.Logger
	repos    *storage.Repositories
	store    remoteStore
	sessions *services.SessionManager
	coord    *services.Coordinator
	recon    *services.Reconciler

	reader *bufio.Reader
	out    io.Writer

	mu       sync.RWMutex
	mode     Mode
	selected *services.Selection
}

// NewApp opens the local database, connects the configured transport and
// restores the persisted session and queue.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	repos, err := storage.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	store, err := newRemoteStore(cfg)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	a := newApp(cfg, log, repos, store)
	if _, err := a.sessions.Load(ctx); err != nil {
		a.log.Warn(ctx, "stored session unreadable", "error", err)
	}
	if err := a.coord.Restore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newRemoteStore(cfg *config.Config) (remoteStore, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return remote.NewHTTPStore(cfg.HTTPBaseURL, cfg.RemoteTimeout, &http.Client{}), nil
	default:
		s, err := remote.NewGRPCStore(cfg.ServerEndpointAddr, cfg.RemoteTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create grpc client: %w", err)
		}
		return s, nil
	}
}

func newApp(cfg *config.Config, log logging.Logger, repos *storage.Repositories, store remoteStore) *App {
	log = log.With("module", "cli")
	sessions := services.NewSessionManager(store, repos.Metadata, cfg.SignInTimeout, log)
	store.SetTokenSource(sessions)
	coord := services.NewCoordinator(store, repos.Pending, sessions, idgen.New(), log, services.OptionsFromConfig(cfg))
	recon := services.NewReconciler(coord, store, services.NewSelections(), cfg.RemoteTimeout, log)

	return &App{
		cfg:      cfg,
		log:      log,
		repos:    repos,
		store:    store,
		sessions: sessions,
		coord:    coord,
		recon:    recon,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		mode:     ModeOffline,
	}
}

func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.repos.Close())
}

func (a *App) isLoggedIn() bool {
	_, ok := a.sessions.Current()
	return ok
}

func (a *App) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// setMode records the connectivity mode and reports whether it changed.
func (a *App) setMode(mode Mode) bool {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()
	if changed {
		a.log.Info(context.Background(), "connectivity changed", "mode", string(mode))
	}
	return changed
}

// checkOnline pings the store and updates the mode. Coming back online
// flushes the queue.
func (a *App) checkOnline(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.RemoteTimeout)
	err := a.store.Ping(pingCtx)
	cancel()

	if err != nil {
		a.setMode(ModeOffline)
		return
	}
	if a.setMode(ModeOnline) && a.isLoggedIn() {
		if _, err := a.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn(ctx, "flush after reconnect failed", "error", err)
		}
	}
}

// StartOnlineStatusWatcher probes connectivity every interval until ctx is
// done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.checkOnline(ctx)
	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// StartFlusher replays the queue every interval while online.
func (a *App) StartFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.Mode() != ModeOnline || !a.isLoggedIn() {
				continue
			}
			if _, err := a.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn(ctx, "background flush failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// flush replays the queue, reconciles every table that changed and records
// the sync time.
func (a *App) flush(ctx context.Context) (services.FlushResult, error) {
	res, err := a.coord.FlushQueue(ctx)
	if err != nil {
		return res, err
	}

	touched := make(map[string]string)
	for _, op := range res.Succeeded {
		touched[op.TargetTable] = op.RecordID
	}
	for table, id := range touched {
		if err := a.recon.AfterMutation(ctx, table, id); err != nil && !errors.Is(err, services.ErrSuperseded) {
			a.log.Warn(ctx, "reconcile after flush failed", "table", table, "error", err)
		}
	}

	if len(res.Succeeded) > 0 {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339))
		if err := a.repos.Metadata.Set(ctx, metadata.KeyLastSync, stamp); err != nil {
			a.log.Warn(ctx, "failed to record sync time", "error", err)
		}
	}
	return res, nil
}

// watchSessions reports auth changes that were not requested from the
// prompt, such as an expired session.
func (a *App) watchSessions(ctx context.Context) {
	events, cancel := a.sessions.Subscribe()
	defer cancel()

	first := true
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if first {
				first = false
				continue
			}
			if ev.Kind == services.SignedOut && ev.Reason != nil {
				fmt.Fprintln(a.out, warnColor.Sprintf("signed out: %v", ev.Reason))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) getStatus() string {
	s := ""
	if sess, ok := a.sessions.Current(); ok {
		s = sess.UserID + " "
	}
	s += string(a.Mode())
	if n, err := a.repos.Pending.Count(context.Background()); err == nil && n > 0 {
		s += fmt.Sprintf(" %d queued", n)
	}
	return fmt.Sprintf("(%s)", s)
}
