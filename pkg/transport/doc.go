// Package transport exposes the C2 protocol over HTTP/JSON.
//
//	POST /c2/heartbeat    C2Heartbeat -> C2HeartbeatResponse
//	POST /c2/acknowledge  C2OperationAck -> 200, empty body
//	GET  /healthz         store health
//
// Malformed bodies and invalid arguments map to 400. Reconciliation failures
// never surface here; a well-formed heartbeat always gets a 200.
package transport
