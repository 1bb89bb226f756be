// Package protocol implements the two messages agents send to the C2 server.
//
// ProcessHeartbeat reconciles device, agent, manifest and class inventory from
// the heartbeat and returns the operations queued for the agent.
// ProcessOperationAck marks a delivered operation as done.
//
// Reconciliation is best-effort. Each step reports its own result and a
// failed step is logged and counted but never fails the heartbeat, so an
// agent keeps heartbeating through partial backend failures. Only a nil
// heartbeat is rejected.
package protocol
