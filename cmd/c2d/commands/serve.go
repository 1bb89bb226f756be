package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/c2fleet/pkg/config"
	"github.com/openfroyo/c2fleet/pkg/fleet"
	"github.com/openfroyo/c2fleet/pkg/flows"
	"github.com/openfroyo/c2fleet/pkg/protocol"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
	"github.com/openfroyo/c2fleet/pkg/transport"
)

func newServeCommand(version string) *cobra.Command {
	var listenAddress string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the C2 server",
		Long: `Run the C2 server.

Opens and migrates the store, then serves the agent-facing heartbeat and
acknowledgement endpoints and the metrics endpoint until interrupted. When a
flow mapping file is configured, newly seen agent classes are seeded with the
mapped flow URI; with flows.watch set the file is reloaded on change.`,
		Example: `  # Serve with defaults (SQLite at ./c2fleet.db, :8080)
  c2d serve

  # Serve with a config file on another address
  c2d serve --config /etc/c2d/c2d.yaml --listen :9443`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddress != "" {
				cfg.Server.ListenAddress = listenAddress
			}
			if cfg.Telemetry.ServiceVersion == "dev" {
				cfg.Telemetry.ServiceVersion = version
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen", "", "override server.listen_address")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger
	log.Logger = logger

	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	fleetSvc, err := fleet.NewService(b.providers,
		fleet.WithLogger(logger),
		fleet.WithMetrics(tel.Metrics),
	)
	if err != nil {
		return err
	}

	var mapper flows.Mapper = flows.StaticMapper(nil)
	if cfg.Flows.MappingFile != "" {
		fm, err := flows.NewFileMapper(cfg.Flows.MappingFile, logger)
		if err != nil {
			return err
		}
		if cfg.Flows.Watch {
			if err := fm.Watch(ctx); err != nil {
				return err
			}
		}
		mapper = fm
	}

	protocolSvc := protocol.NewService(fleetSvc, b.providers.Heartbeats,
		protocol.WithFlowMapper(mapper),
		protocol.WithLogger(logger),
		protocol.WithMetrics(tel.Metrics),
		protocol.WithEvents(tel.Events),
		protocol.WithTracer(tel.Tracer.Tracer()),
	)

	api := transport.NewAPI(protocolSvc,
		transport.WithHealthCheck(b.health),
		transport.WithLogger(logger),
		transport.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsServer := tel.Metrics.StartMetricsServer(logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("C2 server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down C2 server")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if metricsServer != nil {
		shutdownErr = errors.Join(shutdownErr, metricsServer.Shutdown(shutdownCtx))
	}
	shutdownErr = errors.Join(shutdownErr, tel.Shutdown(shutdownCtx))

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return shutdownErr
}
