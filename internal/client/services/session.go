package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"github.com/golang-jwt/jwt/v5"
)

// ProviderPassword signs in with a username and password.
const ProviderPassword = "password"

type SessionEventKind int

const (
	SignedOut SessionEventKind = iota
	SignedIn
	TokenRefreshed
)

func (k SessionEventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case TokenRefreshed:
		return "token_refreshed"
	default:
		return "signed_out"
	}
}

// SessionEvent is one auth state change. Session is empty for SignedOut;
// Reason explains a sign-out that was not requested.
type SessionEvent struct {
	Kind    SessionEventKind
	Session models.Session
	Reason  error
}

const subscriberBuffer = 8

// SessionManager owns the signed-in session and publishes its changes.
type SessionManager struct {
	auth          remote.Authenticator
	meta          metadata.Repository
	signInTimeout time.Duration
	log           logging.Logger
	now           func() time.Time

	mu      sync.RWMutex
	session *models.Session

	subsMu sync.Mutex
	subs   map[int]chan SessionEvent
	nextID int

	refreshMu sync.Mutex
}

func NewSessionManager(auth remote.Authenticator, meta metadata.Repository, signInTimeout time.Duration, log logging.Logger) *SessionManager {
	if signInTimeout <= 0 {
		signInTimeout = 30 * time.Second
	}
	return &SessionManager{
		auth:          auth,
		meta:          meta,
		signInTimeout: signInTimeout,
		log:           log.With("module", "session"),
		now:           time.Now,
		subs:          make(map[int]chan SessionEvent),
	}
}

// Subscribe returns a channel that first receives the current state and then
// every change. A slow subscriber loses the oldest buffered events, never
// the latest. cancel closes the channel.
func (m *SessionManager) Subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, subscriberBuffer)

	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- m.currentEvent()
	m.subsMu.Unlock()

	cancel := sync.OnceFunc(func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		close(ch)
		m.subsMu.Unlock()
	})
	return ch, cancel
}

func (m *SessionManager) currentEvent() SessionEvent {
	if s, ok := m.Current(); ok {
		return SessionEvent{Kind: SignedIn, Session: s}
	}
	return SessionEvent{Kind: SignedOut}
}

func (m *SessionManager) publish(ev SessionEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Current returns the session if one is signed in and not expired. An
// expired session is destroyed and announced as SignedOut.
func (m *SessionManager) Current() (models.Session, bool) {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	if s == nil {
		return models.Session{}, false
	}
	if s.Expired(m.now()) && s.RefreshToken == "" {
		go m.expire(*s)
		return models.Session{}, false
	}
	return *s, true
}

func (m *SessionManager) expire(s models.Session) {
	m.mu.Lock()
	if m.session == nil || m.session.AccessToken != s.AccessToken {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	ctx := context.Background()
	if err := m.meta.Delete(ctx, metadata.KeySession); err != nil {
		m.log.Error(ctx, "failed to drop expired session", "error", err)
	}
	m.log.Info(ctx, "session expired", "user", s.UserID)
	m.publish(SessionEvent{Kind: SignedOut, Reason: common.ErrTokenExpired})
}

// Load restores a persisted session. It reports whether one was found.
func (m *SessionManager) Load(ctx context.Context) (bool, error) {
	var s models.Session
	ok, err := metadata.LoadJSON(ctx, m.meta, metadata.KeySession, &s)
	if err != nil || !ok {
		return false, err
	}
	if s.Expired(m.now()) && s.RefreshToken == "" {
		return false, m.meta.Delete(ctx, metadata.KeySession)
	}
	m.set(&s)
	m.publish(SessionEvent{Kind: SignedIn, Session: s})
	return true, nil
}

func (m *SessionManager) set(s *models.Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// SignIn authenticates with provider. Failure or timeout leaves the manager
// signed out and says so with an explicit event.
func (m *SessionManager) SignIn(ctx context.Context, provider, username, password string) (models.Session, error) {
	if provider != ProviderPassword {
		err := fmt.Errorf("%w: %q", common.ErrUnknownProvider, provider)
		m.signOutLocal(ctx, err)
		return models.Session{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.signInTimeout)
	defer cancel()

	tok, err := m.auth.SignIn(ctx, provider, username, password)
	if err != nil {
		m.signOutLocal(ctx, err)
		return models.Session{}, err
	}
	return m.establish(ctx, tok, SignedIn)
}

// Register creates an account and signs it in.
func (m *SessionManager) Register(ctx context.Context, username, password string) (models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.signInTimeout)
	defer cancel()

	tok, err := m.auth.Register(ctx, username, password)
	if err != nil {
		return models.Session{}, err
	}
	if tok.AccessToken == "" {
		return m.SignIn(context.WithoutCancel(ctx), ProviderPassword, username, password)
	}
	return m.establish(ctx, tok, SignedIn)
}

// Refresh renews the token pair and emits TokenRefreshed. A refresh token
// the server no longer accepts ends the session.
func (m *SessionManager) Refresh(ctx context.Context) (models.Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	if s == nil || s.RefreshToken == "" {
		return models.Session{}, ErrNoSession
	}

	tok, err := m.auth.Refresh(ctx, s.RefreshToken)
	if err != nil {
		if remote.IsRejection(err) {
			m.signOutLocal(ctx, err)
		}
		return models.Session{}, err
	}
	if tok.UserID == "" {
		tok.UserID = s.UserID
	}
	return m.establish(ctx, tok, TokenRefreshed)
}

// SignOut forgets the session.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.set(nil)
	err := m.meta.Delete(ctx, metadata.KeySession)
	m.publish(SessionEvent{Kind: SignedOut})
	return err
}

func (m *SessionManager) signOutLocal(ctx context.Context, reason error) {
	m.set(nil)
	if err := m.meta.Delete(context.WithoutCancel(ctx), metadata.KeySession); err != nil {
		m.log.Error(ctx, "failed to drop session", "error", err)
	}
	m.publish(SessionEvent{Kind: SignedOut, Reason: reason})
}

func (m *SessionManager) establish(ctx context.Context, tok storepb.TokenResponse, kind SessionEventKind) (models.Session, error) {
	s, err := sessionFromToken(tok)
	if err != nil {
		m.signOutLocal(ctx, err)
		return models.Session{}, err
	}
	if err := metadata.StoreJSON(context.WithoutCancel(ctx), m.meta, metadata.KeySession, s); err != nil {
		return models.Session{}, fmt.Errorf("persist session: %w", err)
	}
	m.set(&s)
	m.log.Info(ctx, "session established", "user", s.UserID, "event", kind.String(), "expires_at", s.ExpiresAt)
	m.publish(SessionEvent{Kind: kind, Session: s})
	return s, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// sessionFromToken fills gaps in tok from the access token's claims. The
// signature is the server's business; the client only reads expiry and
// subject.
func sessionFromToken(tok storepb.TokenResponse) (models.Session, error) {
	s := models.Session{
		UserID:       tok.UserID,
		ExpiresAt:    tok.ExpiresAt,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.AccessToken != "" && (s.UserID == "" || s.ExpiresAt.IsZero()) {
		var claims tokenClaims
		if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err != nil {
			return models.Session{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		if s.UserID == "" {
			s.UserID = claims.UserID
		}
		if s.UserID == "" {
			s.UserID = claims.Subject
		}
		if s.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
			s.ExpiresAt = claims.ExpiresAt.Time.UTC()
		}
	}
	if s.UserID == "" {
		return models.Session{}, fmt.Errorf("%w: no user id", common.ErrInvalidToken)
	}
	return s, nil
}

// AccessToken implements remote.TokenSource.
func (m *SessionManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// RefreshAccessToken implements remote.TokenSource.
func (m *SessionManager) RefreshAccessToken(ctx context.Context) error {
	_, err := m.Refresh(ctx)
	return err
}

// RunRefresher renews the access token shortly before it expires until ctx
// is done.
func (m *SessionManager) RunRefresher(ctx context.Context, lead time.Duration) {
	for {
		wait := time.Minute
		m.mu.RLock()
		s := m.session
		m.mu.RUnlock()
		if s != nil && !s.ExpiresAt.IsZero() {
			wait = max(s.ExpiresAt.Sub(m.now())-lead, time.Second)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		m.mu.RLock()
		s = m.session
		m.mu.RUnlock()
		if s == nil || s.RefreshToken == "" || s.ExpiresAt.IsZero() || s.ExpiresAt.Sub(m.now()) > lead {
			continue
		}
		if _, err := m.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn(ctx, "token refresh failed", "error", err)
		}
	}
}
