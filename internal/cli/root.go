package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alechenninger/gatehouse/internal/config"
)

var (
	// Global flags
	configFile string
)

// NewRootCmd creates the root command for gatehouse
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "gatehouse - identity-aware edge proxy",
		Long: `gatehouse decides, for every request reaching a CDN edge, whether to
forward it to the origin, redirect the user to log in, or deny it.

It runs as:
  1. a CloudFront Lambda@Edge function (gatehouse lambda)
  2. a local edge emulator and Envoy ext_authz (gRPC) service (gatehouse serve)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (yaml, json or toml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewLambdaCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadProvider loads configuration (file + env vars + flags) and returns a
// provider over it
func loadProvider(cmd *cobra.Command) (*config.Provider, string, error) {
	configPath := configFile
	if configPath == "" {
		configPath = os.Getenv("GATEHOUSE_CONFIG")
	}

	loader, err := config.NewLoaderWithFlags(configPath, cmd.Flags())
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := loader.Get()
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	return config.NewProvider(cfg), configPath, nil
}
