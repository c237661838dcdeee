package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/release-server/internal/config"
)

// configCmd prints the effective settings with secrets masked.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if err = config.Validate(settings); err != nil {
			return err
		}

		encoder := yaml.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent(2)

		if err = encoder.Encode(settings.Redacted()); err != nil {
			return err
		}

		return encoder.Close()
	},
}
