// Package control is the Control Service: a connection-oriented RPC
// server that accepts Convergence Agent connections over pkg/wire, holds
// a durable-until-disconnect session per agent, and broadcasts a
// combined (configuration, state) snapshot on every configuration
// change, inbound NodeState, or new connection. Modeled on a generic
// pub/sub broker's select-loop shape (see ../../DESIGN.md), generalized
// to these three event sources.
package control

// ProtocolMajorVersion is this control service's Version() reply.
// Incompatible major versions refuse the connection.
const ProtocolMajorVersion = 1

// Broadcast triggers: on each of (a) a configuration change, (b) receipt
// of a NodeState, or (c) a new agent connecting.
const (
	TriggerConfigChange = "config_change"
	TriggerNodeState    = "node_state"
	TriggerNewSession   = "new_session"
)
