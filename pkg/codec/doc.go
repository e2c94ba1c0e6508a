// Package codec implements the self-describing, versioned wire encoding
// used for Deployment and DeploymentState payloads, both on the
// Configuration Store's persisted document and on the agent-control wire
// protocol (pkg/wire). It is a JSON-everywhere persistence style
// generalized to Go, following the round-trip semantics
// original_source/flocker/control/_protocol.py calls out to
// (wire_encode/wire_decode) when framing objects onto the connection.
//
// Canonicality (two structurally-equal Deployments encode to
// byte-identical payloads) falls out of encoding/json's own guarantees:
// struct fields are always emitted in declaration order, and map keys
// are always emitted sorted. No custom canonicalization pass is needed.
package codec
