package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/oshokin/release-server/internal/api/grpc/health"
	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/logger"
)

// Options controls the release-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the HTTP listen address.
	ListenAddress string
	// GRPCListenAddress overrides the gRPC health listen address.
	GRPCListenAddress string
}

// Run serves HTTP, and gRPC health when configured, until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release-server")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	if !logger.Configure(settings.Log.Level, settings.Log.Format) {
		logger.WarnKV(ctx, "Unknown log level, keeping the default", "level", settings.Log.Level)
	}

	a, err := newApp(ctx, settings)
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}

	defer func() {
		if closeErr := a.close(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to release resources", "error", closeErr)
		}
	}()

	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	httpServer := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: settings.Timeout,
		WriteTimeout:      settings.WriteTimeout,
		IdleTimeout:       settings.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	healthServer := health.NewServer()

	var grpcServer *grpc.Server

	group, groupCtx := errgroup.WithContext(ctx)

	if settings.GRPCListenAddress != "" {
		grpcListener, listenErr := lc.Listen(ctx, "tcp", settings.GRPCListenAddress)
		if listenErr != nil {
			_ = httpListener.Close()

			return fmt.Errorf("listen on %s: %w", settings.GRPCListenAddress, listenErr)
		}

		grpcServer = grpc.NewServer()
		healthServer.Register(grpcServer)

		group.Go(func() error {
			if serveErr := grpcServer.Serve(grpcListener); serveErr != nil &&
				!errors.Is(serveErr, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC: %w", serveErr)
			}

			return nil
		})
	}

	group.Go(func() error {
		if serveErr := httpServer.Serve(httpListener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", serveErr)
		}

		return nil
	})

	a.scheduler.Start()
	healthServer.SetServing(ctx)

	logger.InfoKV(ctx, "Release server listening",
		"listen_address", settings.ListenAddress,
		"grpc_listen_address", settings.GRPCListenAddress,
		"storage_backend", settings.Storage.Backend,
		"base_url", settings.BaseURL,
	)

	group.Go(func() error {
		<-groupCtx.Done()

		logger.Info(ctx, "Shutting down release server")
		healthServer.Shutdown(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.ShutdownTimeout)
		defer cancel()

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}

		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("shutdown HTTP: %w", shutdownErr)
		}

		return nil
	})

	if err = group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Release server stopped")

	return nil
}

// loadSettings reads the configuration and applies command-line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	settings.ListenAddress = resolveListenAddress(settings.ListenAddress, opts.ListenAddress)
	settings.GRPCListenAddress = resolveListenAddress(settings.GRPCListenAddress, opts.GRPCListenAddress)

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

// resolveListenAddress prefers a command-line override over the configured address.
func resolveListenAddress(configured, override string) string {
	if override != "" {
		return override
	}

	return configured
}
