// Package remote defines the engine's view of the authoritative data
// store and provides Loopback, an in-memory implementation.
//
// Loopback applies writes immediately, answers reads from memory and
// pushes every change to the overlapping listens of all its Conns. Tests
// shape its behavior with Deny rules, a BeforeWrite interceptor, paused
// writes and simulated disconnects.
package remote
