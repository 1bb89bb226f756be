package stores

import (
	"context"
	"time"

	"github.com/openfroyo/c2fleet/pkg/model"
)

// Provider is the synchronous, key-addressable CRUD contract shared by every
// entity kind. Save upserts by primary key. GetByID reports absence through
// its boolean result rather than an error. DeleteByID on an absent key is a
// no-op. Methods fail with an invalid argument error when a required entity
// or key is nil or empty.
type Provider[T any] interface {
	Count(ctx context.Context) (int, error)
	Save(ctx context.Context, entity *T) (*T, error)
	GetAll(ctx context.Context) ([]*T, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*T, bool, error)
	DeleteByID(ctx context.Context, id string) error
	Delete(ctx context.Context, entity *T) error
	DeleteAll(ctx context.Context) error
}

// AgentClassProvider stores agent classes keyed by name.
type AgentClassProvider interface {
	Provider[model.AgentClass]
}

// AgentManifestProvider stores agent manifests keyed by identifier.
type AgentManifestProvider interface {
	Provider[model.AgentManifest]

	// GetAgentManifestsByClass returns the manifests in the named class's manifest set.
	GetAgentManifestsByClass(ctx context.Context, className string) ([]*model.AgentManifest, error)
}

// AgentProvider stores agents keyed by identifier.
type AgentProvider interface {
	Provider[model.Agent]

	// GetByClassName returns the agents whose class is className.
	GetByClassName(ctx context.Context, className string) ([]*model.Agent, error)
}

// DeviceProvider stores devices keyed by identifier.
type DeviceProvider interface {
	Provider[model.Device]
}

// OperationProvider stores operation requests keyed by identifier.
type OperationProvider interface {
	Provider[model.OperationRequest]

	// GetOperationsByAgent returns the requests targeting agentID.
	GetOperationsByAgent(ctx context.Context, agentID string) ([]*model.OperationRequest, error)
}

// HeartbeatProvider archives received heartbeats keyed by identifier.
type HeartbeatProvider interface {
	Provider[model.C2Heartbeat]
}

// Providers bundles one provider per entity kind.
type Providers struct {
	AgentClasses   AgentClassProvider
	AgentManifests AgentManifestProvider
	Agents         AgentProvider
	Devices        DeviceProvider
	Operations     OperationProvider
	Heartbeats     HeartbeatProvider
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Entity kind names used in errors, logs and metrics.
const (
	KindAgentClass    = "agent_class"
	KindAgentManifest = "agent_manifest"
	KindAgent         = "agent"
	KindDevice        = "device"
	KindOperation     = "operation"
	KindHeartbeat     = "heartbeat"
)

func agentClassKey(c *model.AgentClass) string { return c.Name }
func agentManifestKey(m *model.AgentManifest) string { return m.Identifier }
func agentKey(a *model.Agent) string { return a.Identifier }
func deviceKey(d *model.Device) string { return d.Identifier }
func operationKey(o *model.OperationRequest) string { return o.Identifier }
func heartbeatKey(h *model.C2Heartbeat) string { return h.Identifier }

func requireKey(kind, id string) error {
	if id == "" {
		return model.NewInvalidArgument(kind+" identifier is required", nil)
	}
	return nil
}

func requireEntity[T any](kind string, entity *T, key func(*T) string) (string, error) {
	if entity == nil {
		return "", model.NewInvalidArgument(kind+" is required", nil)
	}
	id := key(entity)
	if err := requireKey(kind, id); err != nil {
		return "", err
	}
	return id, nil
}
