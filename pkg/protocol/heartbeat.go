package protocol

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

// Reconciliation step names, used in logs and the reconcile failure metric.
const (
	stepArchive    = "archive"
	stepDevice     = "device"
	stepAgent      = "agent"
	stepManifest   = "manifest"
	stepClass      = "class"
	stepOperations = "operations"
	stepDeploy     = "deploy"
)

// stepResult is the outcome of one reconciliation step.
type stepResult struct {
	step    string
	subject string
	err     error
}

func passed(step, subject string) stepResult { return stepResult{step: step, subject: subject} }

func failed(step, subject string, err error) stepResult {
	return stepResult{step: step, subject: subject, err: err}
}

// ProcessHeartbeat stamps and archives the heartbeat, reconciles the inventory
// it describes and returns the operations queued for its agent. The returned
// error is non-nil only when hb is nil.
func (s *Service) ProcessHeartbeat(ctx context.Context, hb *model.C2Heartbeat) (*model.C2HeartbeatResponse, error) {
	if hb == nil {
		return nil, model.NewInvalidArgument("heartbeat is required", nil)
	}
	start := time.Now()

	hb.Identifier = s.newID()
	hb.Created = s.now().UTC()

	ctx, span := s.tracer.Start(ctx, "protocol.ProcessHeartbeat",
		trace.WithAttributes(
			telemetry.AttrHeartbeatID.String(hb.Identifier),
			telemetry.AttrAgentID.String(hb.AgentID()),
			telemetry.AttrDeviceID.String(hb.DeviceID()),
			telemetry.AttrAgentClass.String(hb.AgentClassName()),
		))
	defer span.End()

	results := []stepResult{
		s.archive(ctx, hb),
		s.reconcileDevice(ctx, hb),
	}
	results = append(results, s.reconcileAgent(ctx, hb)...)

	ops, opResults := s.deployQueued(ctx, hb)
	results = append(results, opResults...)

	s.report(span, hb, results)
	span.SetAttributes(telemetry.AttrOperationCnt.Int(len(ops)))
	telemetry.RecordSuccess(span)
	s.metrics.RecordHeartbeat(time.Since(start), len(ops))

	return &model.C2HeartbeatResponse{RequestedOperations: ops}, nil
}

// report logs and counts every failed step.
func (s *Service) report(span trace.Span, hb *model.C2Heartbeat, results []stepResult) {
	for _, r := range results {
		if r.err == nil {
			continue
		}
		s.metrics.RecordReconcileFailure(r.step)
		span.RecordError(r.err, trace.WithAttributes(telemetry.AttrStep.String(r.step)))
		s.logger.Warn().
			Err(r.err).
			Str("step", r.step).
			Str("subject", r.subject).
			Str("heartbeat_id", hb.Identifier).
			Str("agent_id", hb.AgentID()).
			Str("device_id", hb.DeviceID()).
			Msg("Heartbeat reconciliation step failed")
	}
}

func (s *Service) archive(ctx context.Context, hb *model.C2Heartbeat) stepResult {
	if s.heartbeats == nil {
		return passed(stepArchive, hb.Identifier)
	}
	if _, err := s.heartbeats.Save(ctx, hb); err != nil {
		return failed(stepArchive, hb.Identifier, err)
	}
	return passed(stepArchive, hb.Identifier)
}

func (s *Service) reconcileDevice(ctx context.Context, hb *model.C2Heartbeat) stepResult {
	info := hb.DeviceInfo
	if info == nil || info.Identifier == "" {
		return passed(stepDevice, "")
	}
	id := info.Identifier

	device, found, err := s.fleet.GetDevice(ctx, id)
	if err != nil {
		return failed(stepDevice, id, err)
	}
	if !found {
		device = &model.Device{Identifier: id, FirstSeen: hb.Created}
	}

	device.LastSeen = hb.Created
	device.SystemInfo = info.SystemInfo
	device.NetworkInfo = info.NetworkInfo
	if device.Name == "" && info.NetworkInfo != nil {
		device.Name = info.NetworkInfo.Hostname
	}

	if found {
		if _, err := s.fleet.UpdateDevice(ctx, device); err != nil {
			return failed(stepDevice, id, err)
		}
		return passed(stepDevice, id)
	}

	if _, err := s.fleet.CreateDevice(ctx, device); err != nil {
		return failed(stepDevice, id, err)
	}
	s.metrics.RecordRegistration(stores.KindDevice)
	s.publish(telemetry.Event{
		Type:      telemetry.EventTypeDeviceRegistered,
		DeviceID:  id,
		SubjectID: id,
		Message:   "device registered",
	})
	return passed(stepDevice, id)
}

func (s *Service) reconcileAgent(ctx context.Context, hb *model.C2Heartbeat) []stepResult {
	info := hb.AgentInfo
	if info == nil || info.Identifier == "" {
		return nil
	}
	id := info.Identifier

	agent, found, err := s.fleet.GetAgent(ctx, id)
	if err != nil {
		return []stepResult{failed(stepAgent, id, err)}
	}
	if !found {
		agent = &model.Agent{Identifier: id, FirstSeen: hb.Created}
	}

	agent.LastSeen = hb.Created
	if info.AgentClass != "" {
		agent.AgentClass = info.AgentClass
	}
	if info.Status != nil {
		agent.Status = info.Status
	}

	var results []stepResult
	var manifestID string
	if info.AgentManifest != nil {
		var r stepResult
		manifestID, r = s.registerManifest(ctx, hb, info.AgentManifest)
		results = append(results, r)
		if manifestID != "" {
			agent.AgentManifestID = manifestID
		}
	}
	if info.AgentClass != "" {
		results = append(results, s.registerClass(ctx, info.AgentClass, manifestID))
	}

	if found {
		if _, err := s.fleet.UpdateAgent(ctx, agent); err != nil {
			return append(results, failed(stepAgent, id, err))
		}
		return append(results, passed(stepAgent, id))
	}

	if _, err := s.fleet.CreateAgent(ctx, agent); err != nil {
		return append(results, failed(stepAgent, id, err))
	}
	s.metrics.RecordRegistration(stores.KindAgent)
	s.publish(telemetry.Event{
		Type:      telemetry.EventTypeAgentRegistered,
		AgentID:   id,
		DeviceID:  hb.DeviceID(),
		SubjectID: id,
		Message:   "agent registered",
		Data:      map[string]interface{}{"agent_class": agent.AgentClass},
	})
	return append(results, passed(stepAgent, id))
}

// registerManifest stores the manifest unless one with the same identifier
// already exists, and returns the identifier the agent should reference.
func (s *Service) registerManifest(ctx context.Context, hb *model.C2Heartbeat, manifest *model.AgentManifest) (string, stepResult) {
	if manifest.Identifier != "" {
		_, found, err := s.fleet.GetAgentManifest(ctx, manifest.Identifier)
		if err != nil {
			return manifest.Identifier, failed(stepManifest, manifest.Identifier, err)
		}
		if found {
			return manifest.Identifier, passed(stepManifest, manifest.Identifier)
		}
	}

	saved, err := s.fleet.CreateAgentManifest(ctx, manifest)
	if err != nil {
		return manifest.Identifier, failed(stepManifest, manifest.Identifier, err)
	}
	s.metrics.RecordRegistration(stores.KindAgentManifest)
	s.publish(telemetry.Event{
		Type:      telemetry.EventTypeManifestRegistered,
		AgentID:   hb.AgentID(),
		SubjectID: saved.Identifier,
		Message:   "agent manifest registered",
		Data:      map[string]interface{}{"agent_type": saved.AgentType, "version": saved.Version},
	})
	return saved.Identifier, passed(stepManifest, saved.Identifier)
}

// registerClass creates the class on first sight and otherwise grows its
// manifest set. Concurrent first sightings race; the last create wins.
func (s *Service) registerClass(ctx context.Context, name, manifestID string) stepResult {
	class, found, err := s.fleet.GetAgentClass(ctx, name)
	if err != nil {
		return failed(stepClass, name, err)
	}

	if found {
		if !class.AddManifest(manifestID) {
			return passed(stepClass, name)
		}
		if _, err := s.fleet.UpdateAgentClass(ctx, class); err != nil {
			return failed(stepClass, name, err)
		}
		return passed(stepClass, name)
	}

	class = &model.AgentClass{Name: name}
	class.AddManifest(manifestID)
	if uri, ok := s.mapper.FlowURI(name); ok {
		class.FlowURI = uri
	}

	if _, err := s.fleet.CreateAgentClass(ctx, class); err != nil {
		return failed(stepClass, name, err)
	}
	s.metrics.RecordRegistration(stores.KindAgentClass)
	s.publish(telemetry.Event{
		Type:      telemetry.EventTypeAgentClassCreated,
		SubjectID: name,
		Message:   "agent class created",
		Data:      map[string]interface{}{"flow_uri": class.FlowURI},
	})
	return passed(stepClass, name)
}

// deployQueued selects the QUEUED operations for the heartbeat's agent and
// moves each to DEPLOYED. An operation whose state update fails is still
// returned.
func (s *Service) deployQueued(ctx context.Context, hb *model.C2Heartbeat) ([]model.C2Operation, []stepResult) {
	ops := []model.C2Operation{}

	agentID := hb.AgentID()
	if agentID == "" {
		return ops, nil
	}

	requests, err := s.fleet.GetOperationsByAgent(ctx, agentID)
	if err != nil {
		return ops, []stepResult{failed(stepOperations, agentID, err)}
	}

	var results []stepResult
	for _, req := range requests {
		if req.State != model.OperationStateQueued || req.Operation == nil {
			continue
		}
		ops = append(ops, *req.Operation)

		if _, err := s.fleet.UpdateOperationState(ctx, req.Identifier, model.OperationStateDeployed); err != nil {
			results = append(results, failed(stepDeploy, req.Identifier, err))
			continue
		}
		s.publish(telemetry.Event{
			Type:      telemetry.EventTypeOperationDeployed,
			AgentID:   agentID,
			SubjectID: req.Identifier,
			Message:   "operation deployed",
			Data:      map[string]interface{}{"operation": req.Operation.Operation},
		})
	}
	return ops, results
}
