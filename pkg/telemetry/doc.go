// Package telemetry provides the observability stack of the C2 server.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and fleet event publishing:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	srv := tel.Metrics.StartMetricsServer(tel.Logger)
//
// Metrics and the event publisher are nil-safe: services accept them as
// optional collaborators and skip recording when they are absent.
package telemetry
