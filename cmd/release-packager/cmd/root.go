package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-server/internal/service/packager"
	"github.com/oshokin/release-server/internal/version"
)

var (
	// options collects the packager flags.
	options = &packager.Options{}

	// rootCmd represents the base command for preparing release archives.
	rootCmd = &cobra.Command{
		Use:   "release-packager [name]",
		Short: "Pack built executables into uploadable release archives.",
		Long: `Packs one executable per platform into {name}-{os}-{arch}.tar.gz archives,
checks them the way the release server will and prints the sha256 digests
that the release signature must cover.`,
		Example: "release-packager app --binary linux-x64=./build/app-linux --binary darwin-arm64=./build/app-darwin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.Name = args[0]

			artifacts, err := packager.Run(ctx, options)
			if err != nil {
				return err
			}

			for _, a := range artifacts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", a.SHA256, a.Filename)
			}

			return nil
		},
	}
)

// Execute runs the release-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.Flags()
	flags.StringArrayVarP(&options.Binaries, "binary", "b", nil, "platform and executable as {os}-{arch}=path, repeatable")
	flags.StringVarP(&options.Executable, "executable", "e", "", "file name inside the archive; defaults to the name")
	flags.StringVarP(&options.OutputDir, "output", "o", "dist", "directory receiving the archives")
	flags.StringVar(&options.HealthAddress, "server", "", "gRPC health address of the release server to probe first")
	flags.DurationVar(&options.Timeout, "timeout", 5*time.Second, "health probe timeout")
}
