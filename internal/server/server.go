package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"google.golang.org/grpc"
)

// Server manages the gRPC ext_authz server and the HTTP edge emulator
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server

	grpcPort int
	httpPort int

	authz    *AuthzServer
	emulator http.Handler
	logger   *slog.Logger
}

// Config contains server configuration
type Config struct {
	GRPCPort int
	HTTPPort int

	// AuthzServer is registered on the gRPC server when set
	AuthzServer *AuthzServer

	// Emulator is served on the HTTP port when set
	Emulator http.Handler

	Logger *slog.Logger
}

// New creates a new server with the given configuration
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		grpcPort: cfg.GRPCPort,
		httpPort: cfg.HTTPPort,
		authz:    cfg.AuthzServer,
		emulator: cfg.Emulator,
		logger:   logger,
	}
}

// Start starts both servers. It returns once both are listening.
func (s *Server) Start(ctx context.Context) error {
	if s.authz != nil {
		s.grpcServer = grpc.NewServer()
		authv3.RegisterAuthorizationServer(s.grpcServer, s.authz)

		grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
		if err != nil {
			return fmt.Errorf("failed to listen on gRPC port %d: %w", s.grpcPort, err)
		}

		go func() {
			s.logger.InfoContext(ctx, "gRPC server listening", slog.Int("port", s.grpcPort))
			if err := s.grpcServer.Serve(grpcListener); err != nil {
				s.logger.ErrorContext(ctx, "gRPC server error", slog.String("error", err.Error()))
			}
		}()
	}

	if s.emulator != nil {
		httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.httpPort))
		if err != nil {
			return fmt.Errorf("failed to listen on HTTP port %d: %w", s.httpPort, err)
		}

		s.httpServer = &http.Server{Handler: s.emulator}

		go func() {
			s.logger.InfoContext(ctx, "HTTP edge emulator listening", slog.Int("port", s.httpPort))
			if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.ErrorContext(ctx, "HTTP server error", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

// Stop gracefully stops both servers
func (s *Server) Stop(ctx context.Context) error {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}
