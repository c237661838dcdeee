package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/service/updater"
	"github.com/oshokin/release-server/internal/version"
)

var (
	// configPath to the updater configuration YAML file.
	configPath string
	// checkOnly reports an available update without installing it.
	checkOnly bool

	// rootCmd represents the base command for checking and applying updates.
	rootCmd = &cobra.Command{
		Use:   "release-updater",
		Short: "Download and apply the latest signed release from the server.",
		Long: `Fetches latest.json from the release server, verifies its Ed25519 signature,
downloads the archive for this platform, checks its sha256 digest and replaces
the target binary with the executable found in the archive.
Any signature or digest mismatch aborts the update without touching the target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &updater.Options{
				ConfigPath: configPath,
				CheckOnly:  checkOnly,
			}

			result, err := updater.Run(ctx, options)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			switch {
			case result.Applied:
				_, _ = fmt.Fprintf(out, "updated %s -> %s\n", result.Current, result.Latest)
			case result.Available:
				_, _ = fmt.Fprintf(out, "update available: %s -> %s\n", result.Current, result.Latest)
			default:
				_, _ = fmt.Fprintf(out, "up to date: %s\n", result.Current)
			}

			return nil
		},
	}
)

// Execute runs the release-updater CLI and exits with non-zero status on error.
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
		StringVarP(&configPath, "config", "c", config.DefaultUpdaterConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an update is available")

	rootCmd.AddCommand(initCmd)
}
