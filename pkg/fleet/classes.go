package fleet

import (
	"context"
	"time"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

// CreateAgentClass saves a new agent class, replacing any class of the same name.
func (s *Service) CreateAgentClass(ctx context.Context, class *model.AgentClass) (*model.AgentClass, error) {
	return create[model.AgentClass](ctx, s, s.providers.AgentClasses, stores.KindAgentClass, class)
}

// GetAgentClasses returns every agent class.
func (s *Service) GetAgentClasses(ctx context.Context) ([]*model.AgentClass, error) {
	return list[model.AgentClass](ctx, s, s.providers.AgentClasses, stores.KindAgentClass)
}

// GetAgentClass looks up a class by name.
func (s *Service) GetAgentClass(ctx context.Context, name string) (*model.AgentClass, bool, error) {
	return get[model.AgentClass](ctx, s, s.providers.AgentClasses, stores.KindAgentClass, name)
}

// UpdateAgentClass replaces an existing class. The class must already exist.
func (s *Service) UpdateAgentClass(ctx context.Context, class *model.AgentClass) (*model.AgentClass, error) {
	return update[model.AgentClass](ctx, s, s.providers.AgentClasses, stores.KindAgentClass, class,
		func(c *model.AgentClass) string { return c.Name }, nil)
}

// DeleteAgentClass removes a class and returns the removed value.
func (s *Service) DeleteAgentClass(ctx context.Context, name string) (*model.AgentClass, error) {
	return remove[model.AgentClass](ctx, s, s.providers.AgentClasses, stores.KindAgentClass, name)
}

// CreateAgentManifest saves a manifest. A manifest without an identifier is
// assigned a generated one.
func (s *Service) CreateAgentManifest(ctx context.Context, manifest *model.AgentManifest) (*model.AgentManifest, error) {
	if manifest != nil && manifest.Identifier == "" {
		assigned := *manifest
		assigned.Identifier = s.newID()
		manifest = &assigned
	}
	return create[model.AgentManifest](ctx, s, s.providers.AgentManifests, stores.KindAgentManifest, manifest)
}

// GetAgentManifests returns every manifest.
func (s *Service) GetAgentManifests(ctx context.Context) ([]*model.AgentManifest, error) {
	return list[model.AgentManifest](ctx, s, s.providers.AgentManifests, stores.KindAgentManifest)
}

// GetAgentManifestsByClass returns the manifests referenced by the named class.
func (s *Service) GetAgentManifestsByClass(ctx context.Context, className string) (_ []*model.AgentManifest, err error) {
	defer s.observe(stores.KindAgentManifest, "list_by_class", time.Now(), &err)

	if err := requireID(stores.KindAgentClass, className); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	manifests, err := s.providers.AgentManifests.GetAgentManifestsByClass(ctx, className)
	return manifests, storeErr(stores.KindAgentManifest, "list", err)
}

// GetAgentManifest looks up a manifest by identifier.
func (s *Service) GetAgentManifest(ctx context.Context, id string) (*model.AgentManifest, bool, error) {
	return get[model.AgentManifest](ctx, s, s.providers.AgentManifests, stores.KindAgentManifest, id)
}

// DeleteAgentManifest removes a manifest and returns the removed value.
func (s *Service) DeleteAgentManifest(ctx context.Context, id string) (*model.AgentManifest, error) {
	return remove[model.AgentManifest](ctx, s, s.providers.AgentManifests, stores.KindAgentManifest, id)
}
