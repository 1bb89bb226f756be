package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "json tracing", mutate: func(c *Config) { c.Logging.Format = "json"; c.Tracing.Enabled = true; c.Tracing.Exporter = "stdout" }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
		{name: "async events without buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("debug") != zerolog.DebugLevel {
		t.Error("expected debug level")
	}
	if ParseLogLevel("nonsense") != zerolog.InfoLevel {
		t.Error("expected unknown level to default to info")
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeAgentRegistered))

	_ = ep.Publish(Event{Type: EventTypeDeviceRegistered, DeviceID: "dev-1"})
	_ = ep.Publish(Event{Type: EventTypeAgentRegistered, AgentID: "agent-1"})

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("expected id and timestamp to be assigned")
	}
	if got[0].Level != EventLevelInfo {
		t.Errorf("expected default level info, got %s", got[0].Level)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, FilterByAgentID("agent-1"))

	for i := 0; i < 5; i++ {
		if err := ep.Publish(Event{Type: EventTypeOperationDeployed, AgentID: "agent-1"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	_ = ep.Publish(Event{Type: EventTypeOperationDeployed, AgentID: "agent-2"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 delivered events, got %d", count)
	}

	if err := ep.Publish(Event{Type: EventTypeOperationDeployed}); err == nil {
		t.Error("expected publish after shutdown to fail")
	}
}

func TestNilCollaboratorsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordHeartbeat(time.Millisecond, 1)
	m.RecordStoreCall("agent", "get", time.Millisecond, "")

	var ep *EventPublisher
	if err := ep.Publish(Event{Type: EventTypeAgentRegistered}); err != nil {
		t.Errorf("expected nil publisher to drop events, got %v", err)
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordHeartbeat(2*time.Millisecond, 3)
	m.RecordHeartbeat(time.Millisecond, 0)
	m.RecordReconcileFailure("device")
	m.RecordStoreCall("agent", "update", time.Millisecond, "not_found")

	if got := testutil.ToFloat64(m.heartbeatsReceived); got != 2 {
		t.Errorf("expected 2 heartbeats, got %v", got)
	}
	if got := testutil.ToFloat64(m.operationsDeployed); got != 3 {
		t.Errorf("expected 3 deployed operations, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileFailures.WithLabelValues("device")); got != 1 {
		t.Errorf("expected 1 device failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("agent", "update", "not_found")); got != 1 {
		t.Errorf("expected 1 store error, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_heartbeats_received_total") {
		t.Error("expected heartbeat counter in exposition")
	}
}

func TestDisabledMetrics(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	m.RecordAck("done")
	if m.StartMetricsServer(zerolog.Nop()) != nil {
		t.Error("expected no server when metrics are disabled")
	}
	if m.Registry() != nil {
		t.Error("expected no registry when metrics are disabled")
	}
}
