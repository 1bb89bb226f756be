package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openfroyo/c2fleet/pkg/model"
)

// MemoryStore keeps every entity kind in process memory. Entities are held in
// encoded form so callers never share references with the store.
type MemoryStore struct {
	classes    *mapProvider[model.AgentClass]
	manifests  *memoryManifests
	agents     *memoryAgents
	devices    *mapProvider[model.Device]
	operations *memoryOperations
	heartbeats *mapProvider[model.C2Heartbeat]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	classes := newMapProvider(KindAgentClass, agentClassKey)
	return &MemoryStore{
		classes:    classes,
		manifests:  &memoryManifests{mapProvider: newMapProvider(KindAgentManifest, agentManifestKey), classes: classes},
		agents:     &memoryAgents{newMapProvider(KindAgent, agentKey)},
		devices:    newMapProvider(KindDevice, deviceKey),
		operations: &memoryOperations{newMapProvider(KindOperation, operationKey)},
		heartbeats: newMapProvider(KindHeartbeat, heartbeatKey),
	}
}

// Providers returns the per-kind providers backed by this store.
func (s *MemoryStore) Providers() Providers {
	return Providers{
		AgentClasses:   s.classes,
		AgentManifests: s.manifests,
		Agents:         s.agents,
		Devices:        s.devices,
		Operations:     s.operations,
		Heartbeats:     s.heartbeats,
	}
}

// mapProvider is a generic map-backed Provider.
type mapProvider[T any] struct {
	mu      sync.RWMutex
	kind    string
	key     func(*T) string
	records map[string][]byte
}

func newMapProvider[T any](kind string, key func(*T) string) *mapProvider[T] {
	return &mapProvider[T]{
		kind:    kind,
		key:     key,
		records: make(map[string][]byte),
	}
}

func (p *mapProvider[T]) decode(data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p.kind, err)
	}
	return &v, nil
}

func (p *mapProvider[T]) Count(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records), nil
}

func (p *mapProvider[T]) Save(_ context.Context, entity *T) (*T, error) {
	id, err := requireEntity(p.kind, entity, p.key)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.kind, err)
	}

	p.mu.Lock()
	p.records[id] = data
	p.mu.Unlock()

	return p.decode(data)
}

func (p *mapProvider[T]) GetAll(_ context.Context) ([]*T, error) {
	return p.filter(func(*T) bool { return true })
}

func (p *mapProvider[T]) filter(match func(*T) bool) ([]*T, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*T, 0, len(p.records))
	for _, data := range p.records {
		v, err := p.decode(data)
		if err != nil {
			return nil, err
		}
		if match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *mapProvider[T]) ExistsByID(_ context.Context, id string) (bool, error) {
	if err := requireKey(p.kind, id); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.records[id]
	return ok, nil
}

func (p *mapProvider[T]) GetByID(_ context.Context, id string) (*T, bool, error) {
	if err := requireKey(p.kind, id); err != nil {
		return nil, false, err
	}

	p.mu.RLock()
	data, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	v, err := p.decode(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (p *mapProvider[T]) DeleteByID(_ context.Context, id string) error {
	if err := requireKey(p.kind, id); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.records, id)
	p.mu.Unlock()
	return nil
}

func (p *mapProvider[T]) Delete(ctx context.Context, entity *T) error {
	id, err := requireEntity(p.kind, entity, p.key)
	if err != nil {
		return err
	}
	return p.DeleteByID(ctx, id)
}

func (p *mapProvider[T]) DeleteAll(_ context.Context) error {
	p.mu.Lock()
	p.records = make(map[string][]byte)
	p.mu.Unlock()
	return nil
}

type memoryAgents struct {
	*mapProvider[model.Agent]
}

func (p *memoryAgents) GetByClassName(_ context.Context, className string) ([]*model.Agent, error) {
	if err := requireKey(KindAgentClass, className); err != nil {
		return nil, err
	}
	return p.filter(func(a *model.Agent) bool { return a.AgentClass == className })
}

type memoryOperations struct {
	*mapProvider[model.OperationRequest]
}

func (p *memoryOperations) GetOperationsByAgent(_ context.Context, agentID string) ([]*model.OperationRequest, error) {
	if err := requireKey(KindAgent, agentID); err != nil {
		return nil, err
	}
	return p.filter(func(o *model.OperationRequest) bool { return o.TargetAgentIdentifier == agentID })
}

type memoryManifests struct {
	*mapProvider[model.AgentManifest]
	classes *mapProvider[model.AgentClass]
}

func (p *memoryManifests) GetAgentManifestsByClass(ctx context.Context, className string) ([]*model.AgentManifest, error) {
	if err := requireKey(KindAgentClass, className); err != nil {
		return nil, err
	}
	class, ok, err := p.classes.GetByID(ctx, className)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*model.AgentManifest{}, nil
	}
	return p.filter(func(m *model.AgentManifest) bool { return class.HasManifest(m.Identifier) })
}
