package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/c2fleet/pkg/fleet"
	"github.com/openfroyo/c2fleet/pkg/flows"
	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

var errBackend = errors.New("backend unavailable")

// failingDevices fails every device call.
type failingDevices struct {
	stores.DeviceProvider
}

func (failingDevices) GetByID(context.Context, string) (*model.Device, bool, error) {
	return nil, false, errBackend
}

// failingHeartbeats fails every archive.
type failingHeartbeats struct {
	stores.HeartbeatProvider
}

func (failingHeartbeats) Save(context.Context, *model.C2Heartbeat) (*model.C2Heartbeat, error) {
	return nil, errBackend
}

type harness struct {
	fleet     *fleet.Service
	protocol  *Service
	providers stores.Providers
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHarness(t *testing.T, mutate func(*stores.Providers), opts ...Option) *harness {
	t.Helper()

	providers := stores.NewMemoryStore().Providers()
	if mutate != nil {
		mutate(&providers)
	}

	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fleetSvc, err := fleet.NewService(providers, fleet.WithClock(clock.Now))
	require.NoError(t, err)

	var seq atomic.Int64
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("hb-%d", seq.Add(1)) }),
	}

	return &harness{
		fleet:     fleetSvc,
		protocol:  NewService(fleetSvc, providers.Heartbeats, append(base, opts...)...),
		providers: providers,
		clock:     clock,
	}
}

func (h *harness) queue(t *testing.T, agentID, opType string) *model.OperationRequest {
	t.Helper()
	op, err := h.fleet.CreateOperation(context.Background(), &model.OperationRequest{
		TargetAgentIdentifier: agentID,
		Operation:             &model.C2Operation{Operation: opType},
	})
	require.NoError(t, err)
	return op
}

func edgeHeartbeat(manifestID string) *model.C2Heartbeat {
	hb := &model.C2Heartbeat{
		DeviceInfo: &model.DeviceInfo{
			Identifier:  "dev-1",
			SystemInfo:  &model.SystemInfo{MachineArch: "aarch64", VCores: 4},
			NetworkInfo: &model.NetworkInfo{Hostname: "edge-01", IPAddress: "10.0.0.5"},
		},
		AgentInfo: &model.AgentInfo{
			Identifier: "agent-1",
			AgentClass: "edge-class",
		},
	}
	if manifestID != "" {
		hb.AgentInfo.AgentManifest = &model.AgentManifest{Identifier: manifestID, AgentType: "cpp", Version: "0.15.0"}
	}
	return hb
}

func TestProcessHeartbeatNil(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.protocol.ProcessHeartbeat(context.Background(), nil)
	assert.True(t, model.IsInvalidArgument(err), "got %v", err)
}

func TestProcessHeartbeatEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	first := h.clock.Now()

	_, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(""))
	require.NoError(t, err)

	op := h.queue(t, "agent-1", "UPDATE")
	h.clock.Advance(time.Minute)

	resp, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat("manifest-1"))
	require.NoError(t, err)
	require.Len(t, resp.RequestedOperations, 1)
	assert.Equal(t, op.Identifier, resp.RequestedOperations[0].Identifier)
	assert.Equal(t, "UPDATE", resp.RequestedOperations[0].Operation)

	device, found, err := h.fleet.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, device.FirstSeen.Equal(first))
	assert.True(t, device.LastSeen.Equal(first.Add(time.Minute)))
	assert.Equal(t, "edge-01", device.Name)

	agent, found, err := h.fleet.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, agent.FirstSeen.Equal(first))
	assert.Equal(t, "manifest-1", agent.AgentManifestID)
	assert.Equal(t, "edge-class", agent.AgentClass)

	class, found, err := h.fleet.GetAgentClass(ctx, "edge-class")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, class.ManifestIDs, "manifest-1")

	stored, found, err := h.fleet.GetOperation(ctx, op.Identifier)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.OperationStateDeployed, stored.State)
}

func TestHeartbeatIsStampedAndArchived(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	hb := &model.C2Heartbeat{Identifier: "client-id", Created: time.Unix(0, 0)}
	_, err := h.protocol.ProcessHeartbeat(ctx, hb)
	require.NoError(t, err)

	assert.Equal(t, "hb-1", hb.Identifier)
	assert.True(t, hb.Created.Equal(h.clock.Now()))

	_, found, err := h.providers.Heartbeats.GetByID(ctx, "hb-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestEmptyHeartbeatReturnsEmptyOperations(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.protocol.ProcessHeartbeat(context.Background(), &model.C2Heartbeat{})
	require.NoError(t, err)
	require.NotNil(t, resp.RequestedOperations)
	assert.Empty(t, resp.RequestedOperations)
}

func TestDeviceWithoutIdentifierIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.protocol.ProcessHeartbeat(ctx, &model.C2Heartbeat{DeviceInfo: &model.DeviceInfo{}})
	require.NoError(t, err)

	devices, err := h.fleet.GetDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestManifestDedup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat("manifest-1"))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second := edgeHeartbeat("manifest-1")
	second.AgentInfo.AgentManifest.Version = "changed"
	_, err = h.protocol.ProcessHeartbeat(ctx, second)
	require.NoError(t, err)

	manifests, err := h.fleet.GetAgentManifests(ctx)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "0.15.0", manifests[0].Version)
}

func TestClassManifestAccumulation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	for _, id := range []string{"manifest-1", "manifest-2", "manifest-1"} {
		_, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(id))
		require.NoError(t, err)
	}

	class, found, err := h.fleet.GetAgentClass(ctx, "edge-class")
	require.NoError(t, err)
	require.True(t, found)

	ids := append([]string(nil), class.ManifestIDs...)
	sort.Strings(ids)
	assert.Equal(t, []string{"manifest-1", "manifest-2"}, ids)

	byClass, err := h.fleet.GetAgentManifestsByClass(ctx, "edge-class")
	require.NoError(t, err)
	assert.Len(t, byClass, 2)
}

func TestNewClassTakesMappedFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, WithFlowMapper(flows.StaticMapper{"edge-class": "https://flows.example.com/edge"}))

	_, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(""))
	require.NoError(t, err)

	class, found, err := h.fleet.GetAgentClass(ctx, "edge-class")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://flows.example.com/edge", class.FlowURI)
	assert.Empty(t, class.ManifestIDs)
}

func TestOperationDeliveredExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	queued := h.queue(t, "agent-1", "START")
	other := h.queue(t, "agent-2", "STOP")

	resp, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(""))
	require.NoError(t, err)
	require.Len(t, resp.RequestedOperations, 1)
	assert.Equal(t, queued.Identifier, resp.RequestedOperations[0].Identifier)

	resp, err = h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(""))
	require.NoError(t, err)
	assert.Empty(t, resp.RequestedOperations)

	untouched, _, err := h.fleet.GetOperation(ctx, other.Identifier)
	require.NoError(t, err)
	assert.Equal(t, model.OperationStateQueued, untouched.State)
}

func TestOnlyQueuedOperationsAreSelected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	for _, state := range []model.OperationState{model.OperationStateNew, model.OperationStateDeployed, model.OperationStateDone} {
		_, err := h.fleet.CreateOperation(ctx, &model.OperationRequest{
			TargetAgentIdentifier: "agent-1",
			State:                 state,
			Operation:             &model.C2Operation{Operation: "START"},
		})
		require.NoError(t, err)
	}

	resp, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat(""))
	require.NoError(t, err)
	assert.Empty(t, resp.RequestedOperations)
}

func TestAckTerminality(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	for _, state := range []model.OperationState{model.OperationStateNew, model.OperationStateQueued, model.OperationStateDeployed, model.OperationStateDone} {
		op, err := h.fleet.CreateOperation(ctx, &model.OperationRequest{
			TargetAgentIdentifier: "agent-1",
			State:                 state,
			Operation:             &model.C2Operation{Operation: "START"},
		})
		require.NoError(t, err)

		h.protocol.ProcessOperationAck(ctx, &model.C2OperationAck{OperationID: op.Identifier})

		stored, _, err := h.fleet.GetOperation(ctx, op.Identifier)
		require.NoError(t, err)
		assert.Equal(t, model.OperationStateDone, stored.State, "from %s", state)
	}
}

func TestAckFailuresAreAbsorbed(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	require.NoError(t, err)
	h := newHarness(t, nil, WithMetrics(metrics))

	assert.NotPanics(t, func() {
		h.protocol.ProcessOperationAck(context.Background(), &model.C2OperationAck{OperationID: "ghost"})
		h.protocol.ProcessOperationAck(context.Background(), &model.C2OperationAck{})
		h.protocol.ProcessOperationAck(context.Background(), nil)
	})

	n, err := testutil.GatherAndCount(metrics.Registry(), "c2fleet_operation_acks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStepFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	require.NoError(t, err)

	h := newHarness(t, func(p *stores.Providers) {
		p.Devices = failingDevices{p.Devices}
		p.Heartbeats = failingHeartbeats{p.Heartbeats}
	}, WithMetrics(metrics))

	op := h.queue(t, "agent-1", "UPDATE")

	resp, err := h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat("manifest-1"))
	require.NoError(t, err)
	require.Len(t, resp.RequestedOperations, 1)
	assert.Equal(t, op.Identifier, resp.RequestedOperations[0].Identifier)

	_, found, err := h.fleet.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, found, "agent reconciliation should run after a device failure")

	_, found, err = h.fleet.GetAgentManifest(ctx, "manifest-1")
	require.NoError(t, err)
	assert.True(t, found)

	n, err := testutil.GatherAndCount(metrics.Registry(), "c2fleet_reconcile_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEventsArePublished(t *testing.T) {
	ctx := context.Background()

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)

	var mu sync.Mutex
	var types []string
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}, nil)

	h := newHarness(t, nil, WithEvents(events))
	op := h.queue(t, "agent-1", "UPDATE")

	_, err = h.protocol.ProcessHeartbeat(ctx, edgeHeartbeat("manifest-1"))
	require.NoError(t, err)
	h.protocol.ProcessOperationAck(ctx, &model.C2OperationAck{OperationID: op.Identifier})

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		telemetry.EventTypeDeviceRegistered,
		telemetry.EventTypeManifestRegistered,
		telemetry.EventTypeAgentClassCreated,
		telemetry.EventTypeAgentRegistered,
		telemetry.EventTypeOperationDeployed,
		telemetry.EventTypeOperationAcknowledged,
	}, types)
}

func TestConcurrentHeartbeats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	// Register every agent up front so the first-seen values are settled.
	for i := 0; i < 8; i++ {
		hb := edgeHeartbeat("")
		hb.AgentInfo.Identifier = fmt.Sprintf("agent-%d", i)
		_, err := h.protocol.ProcessHeartbeat(ctx, hb)
		require.NoError(t, err)
	}
	first := h.clock.Now()
	h.clock.Advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				hb := edgeHeartbeat(fmt.Sprintf("manifest-%d", j))
				hb.AgentInfo.Identifier = fmt.Sprintf("agent-%d", i)
				_, err := h.protocol.ProcessHeartbeat(ctx, hb)
				assert.NoError(t, err)
			}(i, j)
		}
	}
	wg.Wait()

	agents, err := h.fleet.GetAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 8)
	for _, a := range agents {
		assert.True(t, a.FirstSeen.Equal(first), "agent %s first seen changed", a.Identifier)
	}

	manifests, err := h.fleet.GetAgentManifests(ctx)
	require.NoError(t, err)
	assert.Len(t, manifests, 5)
}
