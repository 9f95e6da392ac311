package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
)

// HTTPStore talks to the REST surface of the remote store.
type HTTPStore struct {
	baseURL string
	timeout time.Duration
	client  *http.Client

	mu     sync.RWMutex
	tokens TokenSource
}

func NewHTTPStore(baseURL string, timeout time.Duration, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPStore{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout, client: client}
}

func (s *HTTPStore) SetTokenSource(ts TokenSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = ts
}

func (s *HTTPStore) tokenSource() TokenSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type httpCall struct {
	op     string
	method string
	path   string
	table  string
	id     string
	authed bool
	in     any
	out    any
}

func (s *HTTPStore) do(ctx context.Context, c httpCall) error {
	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var body []byte
	if c.in != nil {
		b, err := json.Marshal(c.in)
		if err != nil {
			return &RejectionError{Op: c.op, Reason: err.Error(), Err: err}
		}
		body = b
	}

	ts := s.tokenSource()
	status, respBody, err := s.send(ctx, c, body, ts)
	if err != nil {
		return s.mapTransportError(c.op, err)
	}

	if status == http.StatusUnauthorized && c.authed && ts != nil && errorCode(respBody) == storepb.CodeTokenExpired {
		if rerr := ts.RefreshAccessToken(ctx); rerr == nil {
			status, respBody, err = s.send(ctx, c, body, ts)
			if err != nil {
				return s.mapTransportError(c.op, err)
			}
		}
	}

	if status >= 200 && status < 300 {
		if c.out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, c.out); err != nil {
			return &RejectionError{Op: c.op, Reason: "malformed response", Err: err}
		}
		return nil
	}

	return mapHTTPStatus(c, status, respBody)
}

func (s *HTTPStore) send(ctx context.Context, c httpCall, body []byte, ts TokenSource) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, s.baseURL+c.path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authed && ts != nil {
		req.Header.Set("Authorization", "Bearer "+ts.AccessToken())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, b, nil
}

func (s *HTTPStore) mapTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectivityError{Op: op, Timeout: true, Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &ConnectivityError{Op: op, Timeout: true, Err: err}
	}
	return &ConnectivityError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

func errorCode(body []byte) string {
	var eb storepb.ErrorBody
	if json.Unmarshal(body, &eb) != nil {
		return ""
	}
	return eb.Code
}

func mapHTTPStatus(c httpCall, status int, body []byte) error {
	var eb storepb.ErrorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &ConnectivityError{Op: c.op, Timeout: true, Err: fmt.Errorf("%w: %s", ErrUnavailable, msg)}
	case status == http.StatusTooManyRequests || status >= 500:
		return &ConnectivityError{Op: c.op, Err: fmt.Errorf("%w: %s", ErrUnavailable, msg)}
	case status == http.StatusConflict && eb.Code == storepb.CodeIdentityCollision:
		return &IdentityCollisionError{Table: c.table, ID: c.id, Err: fmt.Errorf("%w: %s", common.ErrIdentityCollision, msg)}
	case status == http.StatusConflict:
		ce := &ConflictError{Op: c.op, Table: c.table, ID: c.id, Err: fmt.Errorf("%w: %s", common.ErrVersionConflict, msg)}
		if eb.Row != nil {
			ce.Current = FromRow(c.table, *eb.Row)
		}
		return ce
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &RejectionError{Op: c.op, Reason: msg, Err: ErrUnauthorized}
	default:
		return &RejectionError{Op: c.op, Reason: msg, Err: fmt.Errorf("http status %d", status)}
	}
}

func tablePath(table string, parts ...string) string {
	p := "/rest/v1/" + url.PathEscape(table)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (s *HTTPStore) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	var row storepb.Row
	err := s.do(ctx, httpCall{op: "insert", method: http.MethodPost, path: tablePath(table), table: table, id: rec.ID, authed: true, in: toRow(rec), out: &row})
	if err != nil {
		return models.Record{}, err
	}
	return FromRow(table, row), nil
}

func (s *HTTPStore) Update(ctx context.Context, table, id string, patch models.Patch) (models.Record, error) {
	var row storepb.Row
	err := s.do(ctx, httpCall{op: "update", method: http.MethodPatch, path: tablePath(table, id), table: table, id: id, authed: true, in: toWirePatch(patch), out: &row})
	if err != nil {
		return models.Record{}, err
	}
	return FromRow(table, row), nil
}

func (s *HTTPStore) SelectAll(ctx context.Context, table string, filter models.Filter) ([]models.Record, error) {
	path := tablePath(table)
	if filter.IncludeDeleted {
		path += "?include_deleted=true"
	}
	var resp storepb.RowsResponse
	if err := s.do(ctx, httpCall{op: "select", method: http.MethodGet, path: path, table: table, authed: true, out: &resp}); err != nil {
		return nil, err
	}
	return fromRows(table, resp.Rows), nil
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	var resp storepb.PingResponse
	if err := s.do(ctx, httpCall{op: "ping", method: http.MethodGet, path: "/rest/v1/health", out: &resp}); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return &ConnectivityError{Op: "ping", Err: ErrUnavailable}
	}
	return nil
}

func (s *HTTPStore) SignIn(ctx context.Context, provider, username, password string) (storepb.TokenResponse, error) {
	var resp storepb.TokenResponse
	in := storepb.SignInRequest{Provider: provider, Username: username, Password: password}
	err := s.do(ctx, httpCall{op: "sign in", method: http.MethodPost, path: "/auth/v1/token?grant_type=password", in: in, out: &resp})
	return resp, err
}

func (s *HTTPStore) Register(ctx context.Context, username, password string) (storepb.TokenResponse, error) {
	var resp storepb.TokenResponse
	in := storepb.RegisterRequest{Username: username, Password: password}
	err := s.do(ctx, httpCall{op: "register", method: http.MethodPost, path: "/auth/v1/signup", in: in, out: &resp})
	return resp, err
}

func (s *HTTPStore) Refresh(ctx context.Context, refreshToken string) (storepb.TokenResponse, error) {
	var resp storepb.TokenResponse
	in := storepb.RefreshRequest{RefreshToken: refreshToken}
	err := s.do(ctx, httpCall{op: "refresh", method: http.MethodPost, path: "/auth/v1/token?grant_type=refresh_token", in: in, out: &resp})
	return resp, err
}
