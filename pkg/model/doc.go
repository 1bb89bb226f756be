// Package model defines the fleet inventory entities, the C2 protocol messages
// exchanged with agents, and the error taxonomy shared by the persistence,
// fleet and protocol layers.
package model
