// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

// ServerType enumerates the kinds of server a connection may be negotiated
// against. Topology monitoring itself lives outside this subsystem; this is
// only the immutable classification a handshake observes.
type ServerType int

const (
	ServerTypeUnknown ServerType = iota
	ServerTypeStandalone
	ServerTypeReplicaSetPrimary
	ServerTypeReplicaSetSecondary
	ServerTypeShardRouter
	ServerTypeLoadBalanced
)

// ConnectionID pairs the driver-local id assigned at lease time with the
// optional id the server reports back in its hello reply.
type ConnectionID struct {
	Local        int64
	ServerValue  int64
	HasServerValue bool
}

// HelloResult is the parsed reply to the greeting command (spec.md §6).
type HelloResult struct {
	ServerType             ServerType
	MaxWireVersion         int32
	LogicalSessionTimeout  *time.Duration // nil means sessions unsupported
	ServiceID              string         // non-empty only behind a load balancer
	ConnectionIDServerValue int64
	HasConnectionIDServerValue bool

	// MaxWriteBatchCount and MaxMessageSizeBytes bound bulk write batch
	// splitting (spec.md §4.7).
	MaxWriteBatchCount int32
	MaxMessageSizeBytes int32
}

// ConnectionDescription is an immutable snapshot of a negotiated connection.
// Updates (e.g. reconciling the server-assigned connection id) produce a new
// value rather than mutating in place.
type ConnectionDescription struct {
	ConnectionID ConnectionID
	Hello        HelloResult
}

// WithReconciledConnectionID returns a copy of d with its ConnectionID's
// server value set, used by the initializer's step 4.
func (d ConnectionDescription) WithReconciledConnectionID(serverValue int64, ok bool) ConnectionDescription {
	d.ConnectionID.ServerValue = serverValue
	d.ConnectionID.HasServerValue = ok
	return d
}

// SupportsRetryableWrites implements the predicate of spec.md §4.5
// precondition 3: LoadBalanced servers always qualify; otherwise a session
// timeout must be advertised and the server must not be a Standalone.
func (d ConnectionDescription) SupportsRetryableWrites() bool {
	if d.Hello.ServerType == ServerTypeLoadBalanced {
		return true
	}
	return d.Hello.LogicalSessionTimeout != nil && d.Hello.ServerType != ServerTypeStandalone
}

// IsShardRouter reports whether allowPartialResults may be emitted by the
// command builder (spec.md §4.3).
func (d ConnectionDescription) IsShardRouter() bool {
	return d.Hello.ServerType == ServerTypeShardRouter
}
