package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-server/internal/api/grpc/health"
	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/service/common"
)

var (
	// healthAddress is the gRPC health endpoint to probe.
	healthAddress string
	// healthTimeout bounds the probe.
	healthTimeout time.Duration

	// healthcheckCmd probes a running server, suitable for container health checks.
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the gRPC health endpoint of a running server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			address := healthAddress
			if address == "" {
				settings, err := config.Load(configPath)
				if err != nil {
					return err
				}

				address = settings.GRPCListenAddress
			}

			client, err := common.Dial(ctx, address, common.WithCallTimeout(healthTimeout))
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
			}()

			if err = client.Probe(ctx, health.ServiceName); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "SERVING")

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	healthcheckCmd.Flags().
		StringVarP(&healthAddress, "address", "a", "", "gRPC health address; defaults to the configured one")
	healthcheckCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "probe timeout")
}
