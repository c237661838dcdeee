package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-server/internal/config"
)

// initSettings collects the flags of the init subcommand.
var initSettings config.UpdaterConfig

// initCmd writes a new updater configuration file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the updater configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings := initSettings
		if err := config.SaveUpdater(configPath, &settings); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n", configPath)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := initCmd.Flags()
	flags.StringVarP(&initSettings.ServerURL, "server", "s", "", "public origin of the release server")
	flags.StringVarP(&initSettings.PublicKey, "public-key", "k", "", "base64 Ed25519 public key releases are signed with")
	flags.StringVarP(&initSettings.Executable, "executable", "e", "", "file name of the binary inside the release archive")
	flags.StringVarP(&initSettings.TargetPath, "target", "t", "", "binary to replace; defaults to the running executable")
	flags.StringVarP(&initSettings.Platform, "platform", "p", "", "platform key override, e.g. linux-x64")
	flags.DurationVar(&initSettings.Timeout, "timeout", config.DefaultTimeout, "HTTP request timeout")
}
