package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/oshokin/release-server/internal/api/rest"
	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/ratelimit"
	"github.com/oshokin/release-server/internal/repository/auditlog"
	"github.com/oshokin/release-server/internal/repository/index"
	"github.com/oshokin/release-server/internal/repository/servermeta"
	"github.com/oshokin/release-server/internal/repository/stats"
	"github.com/oshokin/release-server/internal/service/admin"
	"github.com/oshokin/release-server/internal/service/releases"
	"github.com/oshokin/release-server/internal/storage"
	"github.com/oshokin/release-server/internal/validation"
	"github.com/oshokin/release-server/internal/version"
)

// app owns every process-wide singleton: the storage backend, the limiter
// store and the scheduler. It is built once by Run and passed by reference.
type app struct {
	store     storage.Backend
	router    *rest.Router
	scheduler *cron.Cron
	// closers run in reverse order on shutdown.
	closers []func() error
}

// newApp wires the release server from settings.
func newApp(ctx context.Context, settings *config.Config) (*app, error) {
	store, err := storage.New(ctx, &settings.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		store:     store,
		scheduler: cron.New(),
		closers:   []func() error{store.Close},
	}

	indexRepo, err := index.NewRepository(store)
	if err != nil {
		_ = a.close()

		return nil, err
	}

	limiterStore, err := a.limiterStore(ctx, &settings.RateLimit)
	if err != nil {
		_ = a.close()

		return nil, err
	}

	auditRepo := auditlog.NewRepository(store)
	statsRepo := stats.NewRepository(store)

	adminSvc := admin.NewService(&admin.Options{
		Meta:      servermeta.NewRepository(store),
		Audit:     auditRepo,
		Stats:     statsRepo,
		APIKey:    settings.APIKey,
		PublicKey: settings.PublicKey,
	})

	validator := validation.New()

	releaseSvc := releases.NewService(&releases.Options{
		Index:     indexRepo,
		Store:     store,
		Stats:     statsRepo,
		Keys:      adminSvc,
		Validator: validator,
		BaseURL:   settings.BaseURL,
	})

	a.router = rest.NewRouter(&rest.Options{
		Releases:       releaseSvc,
		Admin:          adminSvc,
		Audit:          auditRepo,
		Limiter:        ratelimit.NewLimiter(limiterStore),
		Validator:      validator,
		AuditIPSalt:    settings.AuditIPSalt,
		TrustedProxies: settings.TrustedProxies,
		Version:        version.Short(),
	})

	warnInsecure(ctx, settings)

	return a, nil
}

// limiterStore picks the shared Redis store when configured, else process memory
// swept on a schedule.
//
//nolint:ireturn // The store variant is chosen at runtime.
func (a *app) limiterStore(ctx context.Context, settings *config.RateLimitConfig) (ratelimit.Store, error) {
	if settings.RedisURL != "" {
		client, err := ratelimit.Connect(ctx, settings.RedisURL)
		if err != nil {
			return nil, err
		}

		store := ratelimit.NewRedisStore(client)
		a.closers = append(a.closers, store.Close)

		logger.Info(ctx, "Rate limits shared through Redis")

		return store, nil
	}

	store := ratelimit.NewMemoryStore()
	if _, err := ratelimit.ScheduleSweep(ctx, a.scheduler, store, settings.SweepInterval); err != nil {
		return nil, err
	}

	return store, nil
}

// close waits for background writes, stops the scheduler and releases resources.
func (a *app) close() error {
	<-a.scheduler.Stop().Done()

	if a.router != nil {
		a.router.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}

	return errors.Join(errs...)
}

func warnInsecure(ctx context.Context, settings *config.Config) {
	if settings.PublicKey == "" {
		logger.Warn(ctx, "No Ed25519 public key configured: uploads are accepted without signature verification "+
			"until one is registered")
	}

	if settings.APIKey == "" {
		logger.Warn(ctx, "No API key configured: /api routes answer 500 until a key is stored on the server")
	}
}
