package model

import (
	"time"
)

// OperationState is the delivery lifecycle state of an OperationRequest.
type OperationState string

const (
	OperationStateNew      OperationState = "NEW"
	OperationStateQueued   OperationState = "QUEUED"
	OperationStateDeployed OperationState = "DEPLOYED"
	OperationStateDone     OperationState = "DONE"
)

// Valid reports whether s is one of the known operation states.
func (s OperationState) Valid() bool {
	switch s {
	case OperationStateNew, OperationStateQueued, OperationStateDeployed, OperationStateDone:
		return true
	}
	return false
}

// SystemInfo describes the hardware of a device.
type SystemInfo struct {
	MachineArch     string `json:"machine_arch,omitempty"`
	PhysicalMem     int64  `json:"physical_mem,omitempty"`
	VCores          int    `json:"v_cores,omitempty"`
	OperatingSystem string `json:"operating_system,omitempty"`
}

// NetworkInfo describes how a device is reachable.
type NetworkInfo struct {
	DeviceID  string `json:"device_id,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Device is a physical or virtual host running one or more agents.
type Device struct {
	Identifier  string       `json:"identifier" validate:"required"`
	Name        string       `json:"name,omitempty"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
	SystemInfo  *SystemInfo  `json:"system_info,omitempty"`
	NetworkInfo *NetworkInfo `json:"network_info,omitempty"`
}

// QueueStatus reports the fill level of one agent connection queue.
type QueueStatus struct {
	Size        int64 `json:"size"`
	SizeMax     int64 `json:"size_max"`
	DataSize    int64 `json:"data_size"`
	DataSizeMax int64 `json:"data_size_max"`
}

// AgentRepositoryStatus reports usage of one agent repository.
type AgentRepositoryStatus struct {
	Size    int64 `json:"size"`
	SizeMax int64 `json:"size_max"`
}

// AgentStatus carries the repository and queue metrics an agent reports.
type AgentStatus struct {
	Uptime       int64                            `json:"uptime,omitempty"`
	Repositories map[string]AgentRepositoryStatus `json:"repositories,omitempty"`
	Queues       map[string]QueueStatus           `json:"queues,omitempty"`
}

// Agent is one running instance of the edge software.
type Agent struct {
	Identifier      string       `json:"identifier" validate:"required"`
	Name            string       `json:"name,omitempty"`
	FirstSeen       time.Time    `json:"first_seen"`
	LastSeen        time.Time    `json:"last_seen"`
	AgentClass      string       `json:"agent_class,omitempty"`
	AgentManifestID string       `json:"agent_manifest_id,omitempty"`
	Status          *AgentStatus `json:"status,omitempty"`
}

// AgentClass groups agents sharing a capability set. ManifestIDs only grows
// through heartbeat reconciliation.
type AgentClass struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	ManifestIDs []string `json:"agent_manifests,omitempty"`
	FlowURI     string   `json:"flow_uri,omitempty" validate:"omitempty,uri"`
}

// HasManifest reports whether id is part of the class manifest set.
func (c *AgentClass) HasManifest(id string) bool {
	for _, m := range c.ManifestIDs {
		if m == id {
			return true
		}
	}
	return false
}

// AddManifest unions id into the manifest set. It reports whether the set changed.
func (c *AgentClass) AddManifest(id string) bool {
	if id == "" || c.HasManifest(id) {
		return false
	}
	c.ManifestIDs = append(c.ManifestIDs, id)
	return true
}

// BuildInfo identifies the build an agent manifest was produced from.
type BuildInfo struct {
	Version       string `json:"version,omitempty"`
	Revision      string `json:"revision,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	TargetArch    string `json:"target_arch,omitempty"`
	Compiler      string `json:"compiler,omitempty"`
	CompilerFlags string `json:"compiler_flags,omitempty"`
}

// Bundle is one extension bundle shipped with an agent build.
type Bundle struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

// ComponentManifest lists the component types an agent build provides.
type ComponentManifest struct {
	Processors         []string `json:"processors,omitempty"`
	ControllerServices []string `json:"controller_services,omitempty"`
	ReportingTasks     []string `json:"reporting_tasks,omitempty"`
}

// AgentManifest is an immutable description of one build's capabilities.
// The identifier is supplied by the agent and acts as the de-duplication key.
type AgentManifest struct {
	Identifier        string             `json:"identifier"`
	AgentType         string             `json:"agent_type,omitempty"`
	Version           string             `json:"version,omitempty"`
	BuildInfo         *BuildInfo         `json:"build_info,omitempty"`
	Bundles           []Bundle           `json:"bundles,omitempty"`
	ComponentManifest *ComponentManifest `json:"component_manifest,omitempty"`
}

// C2Operation is an instruction for one agent. Dependencies are carried but
// not interpreted by operation selection.
type C2Operation struct {
	Identifier   string            `json:"identifier"`
	Operation    string            `json:"operation" validate:"required"`
	Operand      string            `json:"operand,omitempty"`
	Args         map[string]string `json:"args,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// OperationRequest is the durable record tracking delivery of a C2Operation.
type OperationRequest struct {
	Identifier            string         `json:"identifier"`
	TargetAgentIdentifier string         `json:"target_agent_identifier" validate:"required"`
	State                 OperationState `json:"state"`
	OperatorIdentity      string         `json:"operator_identity,omitempty"`
	OperatorName          string         `json:"operator_name,omitempty"`
	Created               time.Time      `json:"created"`
	Updated               time.Time      `json:"updated"`
	Operation             *C2Operation   `json:"operation" validate:"required"`
}
