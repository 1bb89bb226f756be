package fleet

import (
	"context"
	"time"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

func agentKey(a *model.Agent) string { return a.Identifier }

// CreateAgent saves a new agent.
func (s *Service) CreateAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error) {
	return create[model.Agent](ctx, s, s.providers.Agents, stores.KindAgent, agent)
}

// GetAgents returns every agent.
func (s *Service) GetAgents(ctx context.Context) ([]*model.Agent, error) {
	return list[model.Agent](ctx, s, s.providers.Agents, stores.KindAgent)
}

// GetAgentsByClass returns the agents belonging to the named class.
func (s *Service) GetAgentsByClass(ctx context.Context, className string) (_ []*model.Agent, err error) {
	defer s.observe(stores.KindAgent, "list_by_class", time.Now(), &err)

	if err := requireID(stores.KindAgentClass, className); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	agents, err := s.providers.Agents.GetByClassName(ctx, className)
	return agents, storeErr(stores.KindAgent, "list", err)
}

// GetAgent looks up an agent by identifier.
func (s *Service) GetAgent(ctx context.Context, id string) (*model.Agent, bool, error) {
	return get[model.Agent](ctx, s, s.providers.Agents, stores.KindAgent, id)
}

// UpdateAgent replaces an existing agent, keeping the stored first-seen time.
func (s *Service) UpdateAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error) {
	return update[model.Agent](ctx, s, s.providers.Agents, stores.KindAgent, agent, agentKey,
		func(stored, incoming *model.Agent) { incoming.FirstSeen = stored.FirstSeen })
}

// DeleteAgent removes an agent and returns the removed value.
func (s *Service) DeleteAgent(ctx context.Context, id string) (*model.Agent, error) {
	return remove[model.Agent](ctx, s, s.providers.Agents, stores.KindAgent, id)
}
