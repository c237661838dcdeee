package updater

import (
	"context"

	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/logger"
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the updater settings YAML file.
	ConfigPath string
	// CheckOnly reports availability without installing anything.
	CheckOnly bool
}

// Run loads settings, checks the server for a newer release and applies it.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, UserAgentName)

	cfg, err := config.LoadUpdater(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	u := New(cfg)

	logger.InfoKV(ctx, "Checking for updates", "server", cfg.ServerURL, "platform", u.Platform())

	result, err := u.Update(ctx, opts.CheckOnly)
	if err != nil {
		logger.ErrorKV(ctx, "Updater run failed", "error", err)
		return nil, err
	}

	if result.Applied {
		logger.InfoKV(ctx, "Update applied", "from", result.Current, "to", result.Latest)
	}

	return result, nil
}
