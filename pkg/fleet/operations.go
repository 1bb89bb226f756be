package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

// CreateOperation queues a new operation request. The request and its
// operation share a generated identifier, and an empty state defaults to
// QUEUED.
func (s *Service) CreateOperation(ctx context.Context, req *model.OperationRequest) (*model.OperationRequest, error) {
	if req == nil {
		return nil, model.NewInvalidArgument("operation is required", nil)
	}

	op := *req
	if op.Operation != nil {
		inner := *op.Operation
		op.Operation = &inner
	}
	if op.State == "" {
		op.State = model.OperationStateQueued
	}
	if !op.State.Valid() {
		return nil, model.NewInvalidArgument(fmt.Sprintf("unknown operation state %q", op.State), nil)
	}

	op.Identifier = s.newID()
	if op.Operation != nil {
		op.Operation.Identifier = op.Identifier
	}
	ts := s.now().UTC()
	op.Created = ts
	op.Updated = ts

	return create[model.OperationRequest](ctx, s, s.providers.Operations, stores.KindOperation, &op)
}

// GetOperations returns every operation request.
func (s *Service) GetOperations(ctx context.Context) ([]*model.OperationRequest, error) {
	return list[model.OperationRequest](ctx, s, s.providers.Operations, stores.KindOperation)
}

// GetOperationsByAgent returns the operation requests targeting an agent.
func (s *Service) GetOperationsByAgent(ctx context.Context, agentID string) (_ []*model.OperationRequest, err error) {
	defer s.observe(stores.KindOperation, "list_by_agent", time.Now(), &err)

	if err := requireID(stores.KindAgent, agentID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ops, err := s.providers.Operations.GetOperationsByAgent(ctx, agentID)
	return ops, storeErr(stores.KindOperation, "list", err)
}

// GetOperation looks up an operation request by identifier.
func (s *Service) GetOperation(ctx context.Context, id string) (*model.OperationRequest, bool, error) {
	return get[model.OperationRequest](ctx, s, s.providers.Operations, stores.KindOperation, id)
}

// UpdateOperationState moves an operation request to the given state.
// Transitions are not ordered; any known state is accepted.
func (s *Service) UpdateOperationState(ctx context.Context, id string, state model.OperationState) (_ *model.OperationRequest, err error) {
	defer s.observe(stores.KindOperation, "update_state", time.Now(), &err)

	if err := requireID(stores.KindOperation, id); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, model.NewInvalidArgument(fmt.Sprintf("unknown operation state %q", state), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok, err := s.providers.Operations.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(stores.KindOperation, "update", err)
	}
	if !ok {
		return nil, model.NewNotFound(stores.KindOperation, id)
	}

	op.State = state
	op.Updated = s.now().UTC()

	saved, err := s.providers.Operations.Save(ctx, op)
	return saved, storeErr(stores.KindOperation, "update", err)
}

// DeleteOperation removes an operation request and returns the removed value.
func (s *Service) DeleteOperation(ctx context.Context, id string) (*model.OperationRequest, error) {
	return remove[model.OperationRequest](ctx, s, s.providers.Operations, stores.KindOperation, id)
}
