package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCStore talks to the remote store over gRPC.
type GRPCStore struct {
	endpointURL string
	timeout     time.Duration
	conn        *grpc.ClientConn
	client      storepb.StoreClient

	mu     sync.RWMutex
	tokens TokenSource
}

// NewGRPCStore dials endpointURL lazily. Calls without a deadline get
// timeout applied.
func NewGRPCStore(endpointURL string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCStore, error) {
	s := &GRPCStore{endpointURL: endpointURL, timeout: timeout}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.client = storepb.NewStoreClient(conn)
	return s, nil
}

// SetTokenSource wires the session that supplies access tokens.
func (s *GRPCStore) SetTokenSource(ts TokenSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = ts
}

func (s *GRPCStore) tokenSource() TokenSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *GRPCStore) Close() error {
	return s.conn.Close()
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func isAuthMethod(method string) bool {
	switch method {
	case storepb.MethodSignIn, storepb.MethodRegister, storepb.MethodRefresh, storepb.MethodPing:
		return true
	}
	return false
}

func (s *GRPCStore) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	ts := s.tokenSource()
	if ts == nil || isAuthMethod(method) {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	err := invoker(withAccessToken(ctx, ts.AccessToken()), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}

	if rerr := ts.RefreshAccessToken(ctx); rerr != nil {
		return err
	}

	return invoker(withAccessToken(ctx, ts.AccessToken()), method, req, reply, cc, opts...)
}

func (s *GRPCStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GRPCStore) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := s.client.Insert(ctx, storepb.InsertRequest{Table: table, Row: toRow(rec)})
	if err != nil {
		return models.Record{}, s.mapError("insert", table, rec.ID, err)
	}
	return FromRow(table, row), nil
}

func (s *GRPCStore) Update(ctx context.Context, table, id string, patch models.Patch) (models.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := s.client.Update(ctx, storepb.UpdateRequest{Table: table, ID: id, Patch: toWirePatch(patch)})
	if err != nil {
		return models.Record{}, s.mapError("update", table, id, err)
	}
	return FromRow(table, row), nil
}

func (s *GRPCStore) SelectAll(ctx context.Context, table string, filter models.Filter) ([]models.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.SelectAll(ctx, storepb.SelectRequest{Table: table, IncludeDeleted: filter.IncludeDeleted})
	if err != nil {
		return nil, s.mapError("select", table, "", err)
	}
	return fromRows(table, resp.Rows), nil
}

func (s *GRPCStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Ping(ctx, storepb.PingRequest{})
	if err != nil {
		return s.mapError("ping", "", "", err)
	}
	if resp.Status != "OK" {
		return &ConnectivityError{Op: "ping", Err: ErrUnavailable}
	}
	return nil
}

func (s *GRPCStore) SignIn(ctx context.Context, provider, username, password string) (storepb.TokenResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.SignIn(ctx, storepb.SignInRequest{Provider: provider, Username: username, Password: password})
	if err != nil {
		return storepb.TokenResponse{}, s.mapError("sign in", "", "", err)
	}
	return resp, nil
}

func (s *GRPCStore) Register(ctx context.Context, username, password string) (storepb.TokenResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Register(ctx, storepb.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return storepb.TokenResponse{}, s.mapError("register", "", "", err)
	}
	return resp, nil
}

func (s *GRPCStore) Refresh(ctx context.Context, refreshToken string) (storepb.TokenResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Refresh(ctx, storepb.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return storepb.TokenResponse{}, s.mapError("refresh", "", "", err)
	}
	return resp, nil
}

func (s *GRPCStore) mapError(op, table, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectivityError{Op: op, Timeout: true, Err: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &RejectionError{Op: op, Reason: err.Error(), Err: err}
	}

	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted:
		return &ConnectivityError{Op: op, Err: fmt.Errorf("%w: %s", ErrUnavailable, st.Message())}
	case codes.DeadlineExceeded, codes.Canceled:
		return &ConnectivityError{Op: op, Timeout: true, Err: err}
	case codes.Aborted:
		ce := &ConflictError{Op: op, Table: table, ID: id, Err: fmt.Errorf("%w: %s", common.ErrVersionConflict, st.Message())}
		if row, ok := storepb.RowFromStatus(err); ok {
			ce.Current = FromRow(table, row)
		}
		return ce
	case codes.AlreadyExists:
		return &IdentityCollisionError{Table: table, ID: id, Err: fmt.Errorf("%w: %s", common.ErrIdentityCollision, st.Message())}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &RejectionError{Op: op, Reason: st.Message(), Err: ErrUnauthorized}
	default:
		return &RejectionError{Op: op, Reason: st.Message(), Err: err}
	}
}
