package protocol

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/c2fleet/pkg/fleet"
	"github.com/openfroyo/c2fleet/pkg/flows"
	"github.com/openfroyo/c2fleet/pkg/stores"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

const tracerName = "github.com/openfroyo/c2fleet/pkg/protocol"

// Service handles heartbeats and operation acknowledgements.
type Service struct {
	fleet      *fleet.Service
	heartbeats stores.HeartbeatProvider
	mapper     flows.Mapper
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithFlowMapper sets the mapping used to seed the flow URI of new classes.
func WithFlowMapper(m flows.Mapper) Option {
	return func(s *Service) { s.mapper = m }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = telemetry.ComponentLogger(logger, "protocol") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents sets the publisher for fleet events.
func WithEvents(p *telemetry.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithTracer sets the tracer. The global tracer provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the time source used to stamp heartbeats.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the heartbeat identifier generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a protocol service. heartbeats may be nil, in which case
// heartbeats are not archived.
func NewService(fleetService *fleet.Service, heartbeats stores.HeartbeatProvider, opts ...Option) *Service {
	s := &Service{
		fleet:      fleetService,
		heartbeats: heartbeats,
		mapper:     flows.StaticMapper(nil),
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish emits a fleet event. Delivery failures are logged only.
func (s *Service) publish(event telemetry.Event) {
	event.Source = "protocol"
	if err := s.events.Publish(event); err != nil {
		s.logger.Debug().Err(err).Str("type", event.Type).Msg("Failed to publish fleet event")
	}
}
