package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/c2fleet/pkg/fleet"
	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/protocol"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *fleet.Service) {
	t.Helper()

	providers := stores.NewMemoryStore().Providers()
	fleetSvc, err := fleet.NewService(providers)
	require.NoError(t, err)

	api := NewAPI(protocol.NewService(fleetSvc, providers.Heartbeats), opts...)
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv, fleetSvc
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHeartbeatRoundTrip(t *testing.T) {
	srv, fleetSvc := newTestServer(t)
	ctx := context.Background()

	op, err := fleetSvc.CreateOperation(ctx, &model.OperationRequest{
		TargetAgentIdentifier: "agent-1",
		Operation:             &model.C2Operation{Operation: "UPDATE", Operand: "flow"},
	})
	require.NoError(t, err)

	hb, err := json.Marshal(model.C2Heartbeat{
		DeviceInfo: &model.DeviceInfo{Identifier: "dev-1"},
		AgentInfo:  &model.AgentInfo{Identifier: "agent-1", AgentClass: "edge"},
	})
	require.NoError(t, err)

	resp := post(t, srv.URL+"/c2/heartbeat", string(hb))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out model.C2HeartbeatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.RequestedOperations, 1)
	assert.Equal(t, op.Identifier, out.RequestedOperations[0].Identifier)

	_, found, err := fleetSvc.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestHeartbeatWithoutOperationsReturnsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/c2/heartbeat", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["requested_operations"]))
}

func TestHeartbeatBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, body := range map[string]string{
		"malformed": `{"device_info":`,
		"null":      `null`,
		"empty":     ``,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv.URL+"/c2/heartbeat", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHeartbeatBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithMaxBodyBytes(64))

	body := `{"identifier":"` + strings.Repeat("x", 128) + `"}`
	resp := post(t, srv.URL+"/c2/heartbeat", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAcknowledge(t *testing.T) {
	srv, fleetSvc := newTestServer(t)
	ctx := context.Background()

	op, err := fleetSvc.CreateOperation(ctx, &model.OperationRequest{
		TargetAgentIdentifier: "agent-1",
		Operation:             &model.C2Operation{Operation: "START"},
	})
	require.NoError(t, err)

	ack, err := json.Marshal(model.C2OperationAck{OperationID: op.Identifier})
	require.NoError(t, err)

	resp := post(t, srv.URL+"/c2/acknowledge", string(ack))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Zero(t, buf.Len())

	stored, _, err := fleetSvc.GetOperation(ctx, op.Identifier)
	require.NoError(t, err)
	assert.Equal(t, model.OperationStateDone, stored.State)

	// Unknown operations are still acknowledged.
	resp = post(t, srv.URL+"/c2/acknowledge", `{"operation_id":"ghost"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/c2/acknowledge", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/c2/heartbeat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	healthy, _ := newTestServer(t, WithHealthCheck(func(context.Context) error { return nil }))
	resp, err := http.Get(healthy.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unhealthy, _ := newTestServer(t, WithHealthCheck(func(context.Context) error { return errors.New("database is locked") }))
	resp2, err := http.Get(unhealthy.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}
