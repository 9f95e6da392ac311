package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/dmitrijs2005/ledgersync/internal/server/wire"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ storepb.StoreServer = (*GRPCServer)(nil)

// toStatus maps service errors onto the codes the client classifies.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var ce *services.ConflictError
	switch {
	case errors.As(err, &ce):
		s.logger.Warn(ctx, "write conflict", "table", ce.Current.Table, "id", ce.Current.ID)
		return storepb.ConflictError(err.Error(), wire.ToRow(ce.Current))
	case errors.Is(err, common.ErrIdentityCollision):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrUserAlreadyExists):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrorUnknownTable),
		errors.Is(err, common.ErrUnknownProvider):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(ctx, err.Error())
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) SignIn(ctx context.Context, in storepb.SignInRequest) (storepb.TokenResponse, error) {
	pair, err := s.users.SignIn(ctx, in.Provider, in.Username, in.Password)
	if err != nil {
		return storepb.TokenResponse{}, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "Signed in", "username", in.Username)
	return wire.ToTokenResponse(pair), nil
}

func (s *GRPCServer) Register(ctx context.Context, in storepb.RegisterRequest) (storepb.TokenResponse, error) {
	s.logger.Info(ctx, "Registration request")

	pair, err := s.users.Register(ctx, in.Username, in.Password)
	if err != nil {
		return storepb.TokenResponse{}, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "Registered", "username", in.Username)
	return wire.ToTokenResponse(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, in storepb.RefreshRequest) (storepb.TokenResponse, error) {
	pair, err := s.users.RefreshToken(ctx, in.RefreshToken)
	if err != nil {
		return storepb.TokenResponse{}, s.toStatus(ctx, err)
	}
	return wire.ToTokenResponse(pair), nil
}

func (s *GRPCServer) Ping(ctx context.Context, in storepb.PingRequest) (storepb.PingResponse, error) {
	return storepb.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Insert(ctx context.Context, in storepb.InsertRequest) (storepb.Row, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return storepb.Row{}, status.Error(codes.Unauthenticated, "missing token")
	}
	rec, err := s.records.Insert(ctx, owner, wire.FromRow(in.Table, in.Row))
	if err != nil {
		return storepb.Row{}, s.toStatus(ctx, err)
	}
	return wire.ToRow(rec), nil
}

func (s *GRPCServer) Update(ctx context.Context, in storepb.UpdateRequest) (storepb.Row, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return storepb.Row{}, status.Error(codes.Unauthenticated, "missing token")
	}
	rec, err := s.records.Update(ctx, owner, in.Table, in.ID, wire.FromPatch(in.Patch))
	if err != nil {
		return storepb.Row{}, s.toStatus(ctx, err)
	}
	return wire.ToRow(rec), nil
}

func (s *GRPCServer) SelectAll(ctx context.Context, in storepb.SelectRequest) (storepb.RowsResponse, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return storepb.RowsResponse{}, status.Error(codes.Unauthenticated, "missing token")
	}
	recs, err := s.records.List(ctx, owner, in.Table, in.IncludeDeleted)
	if err != nil {
		return storepb.RowsResponse{}, s.toStatus(ctx, err)
	}
	return wire.ToRows(recs), nil
}
