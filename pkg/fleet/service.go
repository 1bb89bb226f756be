package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

// Service is the lock-guarded CRUD layer over the persistence providers.
type Service struct {
	mu        sync.RWMutex
	providers stores.Providers
	validate  *validator.Validate
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records a metric for every store call.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = telemetry.ComponentLogger(logger, "fleet") }
}

// WithClock overrides the time source used for operation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a fleet service over the given providers.
func NewService(providers stores.Providers, opts ...Option) (*Service, error) {
	if providers.AgentClasses == nil || providers.AgentManifests == nil || providers.Agents == nil ||
		providers.Devices == nil || providers.Operations == nil {
		return nil, fmt.Errorf("fleet service requires agent class, manifest, agent, device and operation providers")
	}

	s := &Service{
		providers: providers,
		validate:  validator.New(),
		logger:    zerolog.Nop(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// observe records a store call metric. Use with defer and a named error result.
func (s *Service) observe(kind, op string, start time.Time, err *error) {
	s.metrics.RecordStoreCall(kind, op, time.Since(start), string(model.ClassOf(*err)))
	if *err != nil && !model.IsNotFound(*err) && !model.IsInvalidArgument(*err) {
		s.logger.Error().Err(*err).Str("kind", kind).Str("op", op).Msg("Fleet store call failed")
	}
}

// check validates an entity against its struct tags.
func (s *Service) check(kind string, entity any) error {
	if err := s.validate.Struct(entity); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return model.NewInvalidArgument(fmt.Sprintf("invalid %s", kind), verrs)
		}
		return model.NewInvalidArgument(fmt.Sprintf("invalid %s", kind), err)
	}
	return nil
}

// storeErr classifies an unclassified provider error as internal.
func storeErr(kind, op string, err error) error {
	if err == nil || model.ClassOf(err) != "" {
		return err
	}
	return model.NewInternal(fmt.Sprintf("failed to %s %s", op, kind), err)
}

func requireID(kind, id string) error {
	if id == "" {
		return model.NewInvalidArgument(kind+" identifier is required", nil)
	}
	return nil
}

func list[T any](ctx context.Context, s *Service, p stores.Provider[T], kind string) (_ []*T, err error) {
	defer s.observe(kind, "list", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := p.GetAll(ctx)
	return items, storeErr(kind, "list", err)
}

func get[T any](ctx context.Context, s *Service, p stores.Provider[T], kind, id string) (_ *T, _ bool, err error) {
	defer s.observe(kind, "get", time.Now(), &err)

	if err := requireID(kind, id); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok, err := p.GetByID(ctx, id)
	return item, ok, storeErr(kind, "get", err)
}

func create[T any](ctx context.Context, s *Service, p stores.Provider[T], kind string, entity *T) (_ *T, err error) {
	defer s.observe(kind, "create", time.Now(), &err)

	if entity == nil {
		return nil, model.NewInvalidArgument(kind+" is required", nil)
	}
	if err := s.check(kind, entity); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := p.Save(ctx, entity)
	return saved, storeErr(kind, "create", err)
}

// update replaces an existing record. carry copies immutable fields from the
// stored value onto the incoming copy before it is saved.
func update[T any](ctx context.Context, s *Service, p stores.Provider[T], kind string, entity *T, key func(*T) string, carry func(stored, incoming *T)) (_ *T, err error) {
	defer s.observe(kind, "update", time.Now(), &err)

	if entity == nil {
		return nil, model.NewInvalidArgument(kind+" is required", nil)
	}
	if err := s.check(kind, entity); err != nil {
		return nil, err
	}
	id := key(entity)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok, err := p.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(kind, "update", err)
	}
	if !ok {
		return nil, model.NewNotFound(kind, id)
	}

	incoming := *entity
	if carry != nil {
		carry(stored, &incoming)
	}

	saved, err := p.Save(ctx, &incoming)
	return saved, storeErr(kind, "update", err)
}

func remove[T any](ctx context.Context, s *Service, p stores.Provider[T], kind, id string) (_ *T, err error) {
	defer s.observe(kind, "delete", time.Now(), &err)

	if err := requireID(kind, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok, err := p.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(kind, "delete", err)
	}
	if !ok {
		return nil, model.NewNotFound(kind, id)
	}

	if err := p.DeleteByID(ctx, id); err != nil {
		return nil, storeErr(kind, "delete", err)
	}
	return stored, nil
}
