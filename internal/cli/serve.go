package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alechenninger/gatehouse/internal/config"
	"github.com/alechenninger/gatehouse/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the edge emulator and ext_authz server",
		Long: `Start the local edge emulator (HTTP) and the Envoy ext_authz server (gRPC).

The emulator turns each HTTP request into a CloudFront origin-request event,
runs it through the same adapter the Lambda@Edge function uses, and proxies
allowed requests to server.origin_url. Metrics are served at /metrics.

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (GATEHOUSE_*, nested keys joined by __)
  3. Configuration file`,
		RunE: runServe,
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, configPath, err := loadProvider(cmd)
	if err != nil {
		return err
	}

	logger, err := provider.Logger()
	if err != nil {
		return err
	}

	serverCfg, err := provider.ServerConfig()
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	srv := server.New(serverCfg)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.InfoContext(ctx, "gatehouse is running",
		slog.Int("grpc_port", serverCfg.GRPCPort),
		slog.Int("http_port", serverCfg.HTTPPort),
		slog.String("config", configPath),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.InfoContext(ctx, "Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	logger.InfoContext(ctx, "Shutdown complete")
	return nil
}
