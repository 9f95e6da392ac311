// Package grpc serves the remote store over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address string
	users   *services.UserService
	records *services.RecordService
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, us *services.UserService, rs *services.RecordService) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		users:   us,
		records: rs,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	storepb.RegisterStoreServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	return srv.Serve(lis)
}
