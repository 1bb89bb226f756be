package model

import (
	"time"
)

// DeviceInfo is the device section of a heartbeat.
type DeviceInfo struct {
	Identifier  string       `json:"identifier,omitempty"`
	SystemInfo  *SystemInfo  `json:"system_info,omitempty"`
	NetworkInfo *NetworkInfo `json:"network_info,omitempty"`
}

// AgentInfo is the agent section of a heartbeat.
type AgentInfo struct {
	Identifier    string         `json:"identifier,omitempty"`
	AgentClass    string         `json:"agent_class,omitempty"`
	AgentManifest *AgentManifest `json:"agent_manifest,omitempty"`
	Status        *AgentStatus   `json:"status,omitempty"`
}

// FlowInfo describes the flow an agent is currently running.
type FlowInfo struct {
	FlowID     string                 `json:"flow_id,omitempty"`
	FlowURI    string                 `json:"flow_uri,omitempty"`
	Components map[string]string      `json:"components,omitempty"`
	Queues     map[string]QueueStatus `json:"queues,omitempty"`
}

// C2Heartbeat is the periodic status message an agent sends. Identifier and
// Created are assigned by the server on receipt.
type C2Heartbeat struct {
	Identifier string      `json:"identifier,omitempty"`
	Created    time.Time   `json:"created"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
	AgentInfo  *AgentInfo  `json:"agent_info,omitempty"`
	FlowInfo   *FlowInfo   `json:"flow_info,omitempty"`
}

// AgentID returns the agent identifier carried by the heartbeat, or "".
func (h *C2Heartbeat) AgentID() string {
	if h == nil || h.AgentInfo == nil {
		return ""
	}
	return h.AgentInfo.Identifier
}

// AgentClassName returns the agent class carried by the heartbeat, or "".
func (h *C2Heartbeat) AgentClassName() string {
	if h == nil || h.AgentInfo == nil {
		return ""
	}
	return h.AgentInfo.AgentClass
}

// DeviceID returns the device identifier carried by the heartbeat, or "".
func (h *C2Heartbeat) DeviceID() string {
	if h == nil || h.DeviceInfo == nil {
		return ""
	}
	return h.DeviceInfo.Identifier
}

// C2HeartbeatResponse carries the operations selected for delivery. The list
// is never nil.
type C2HeartbeatResponse struct {
	RequestedOperations []C2Operation `json:"requested_operations"`
}

// C2OperationAck acknowledges execution of a delivered operation.
type C2OperationAck struct {
	OperationID string `json:"operation_id"`
}
