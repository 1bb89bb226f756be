// Package fleet implements validated CRUD over the C2 inventory: agent
// classes, agent manifests, agents, devices and operation requests.
//
// A single reader/writer lock guards the whole service. Reads share the read
// lock and every mutation holds the write lock for the duration of its
// provider calls, so each call is atomic with respect to other calls on the
// same Service. Sequences of calls are not.
package fleet
