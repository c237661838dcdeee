package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/service/server"
	"github.com/oshokin/release-server/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// listenAddress overrides the configured HTTP listen address.
	listenAddress string
	// grpcListenAddress overrides the configured gRPC health listen address.
	grpcListenAddress string

	// rootCmd represents the base command for running the release server.
	rootCmd = &cobra.Command{
		Use:   "release-server",
		Short: "Serve signed application releases over HTTP.",
		Long: `Starts the release distribution server.

Publishers upload signed per-platform archives through the authenticated API,
updaters poll /latest.json and download artifacts from /releases/{version}/{file}.
Settings are merged from defaults, the YAML file and the environment, in that order.
Command-line flags override the listen addresses.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &server.Options{
				ConfigPath:        configPath,
				ListenAddress:     listenAddress,
				GRPCListenAddress: grpcListenAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the release-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "",
			"path to configuration file; "+config.DefaultConfigFilename+" is read when present")
	rootCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "HTTP listen address, e.g. :8080")
	rootCmd.Flags().StringVarP(&grpcListenAddress, "grpc-listen", "g", "", "gRPC health listen address, e.g. :9090")

	rootCmd.AddCommand(healthcheckCmd, configCmd)
}
