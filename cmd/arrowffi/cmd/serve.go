package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/host"
	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

func newServeCmd(a *app) *cobra.Command {
	var address, zmqAddress, metricsAddress string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve decode requests over TCP and ZeroMQ",
		Long: `Serve answers decode requests on a TCP listener and, when configured, a
ZeroMQ REP socket. Prometheus metrics are exposed on /metrics.`,
		Example: `  arrowffi serve --wasm arrowffi.wasm --address :50052 --zmq tcp://*:5555`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("address") {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("zmq") {
				cfg.Server.ZmqAddress = zmqAddress
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Metrics.Address = metricsAddress
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := host.NewMetrics(cfg.Metrics.Namespace)
			d, err := a.decoder(ctx, metrics)
			if err != nil {
				return err
			}
			defer d.Close(cmd.Context())

			auth, err := server.NewAuthenticator(cfg.Server.Auth)
			if err != nil {
				return err
			}
			if auth.IsEnabled() && cfg.Server.Auth.Token == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Generated auth token: %s\n", auth.Token())
			}

			handler := server.NewHandler(d, cfg.Server.RequestTimeout)
			srv := server.NewServer(handler, auth)
			if err := srv.StartAsync(cfg.Server.Address); err != nil {
				return err
			}
			defer srv.Stop()

			if cfg.Server.ZmqAddress != "" {
				z := server.NewZmqServer(cfg.Server.ZmqAddress, handler)
				if err := z.Start(); err != nil {
					return err
				}
				defer z.Stop()
			}

			if cfg.Metrics.Address != "" {
				ms := host.NewMetricsServer(cfg.Metrics.Address, metrics)
				ms.StartAsync()
				defer ms.Stop()
			}

			a.logger.Info("serving",
				zap.String("address", srv.Addr().String()),
				zap.String("zmq_address", cfg.Server.ZmqAddress),
				zap.String("metrics_address", cfg.Metrics.Address),
				zap.String("wasm", cfg.Guest.WasmPath),
			)

			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "TCP listen address")
	cmd.Flags().StringVar(&zmqAddress, "zmq", "", "ZeroMQ REP endpoint, e.g. tcp://*:5555")
	cmd.Flags().StringVar(&metricsAddress, "metrics", "", "Metrics listen address; empty disables")
	return cmd
}
