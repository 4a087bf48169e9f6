// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import "context"

// Channel is a leased connection, scoped to one operation or sub-operation.
// Topology/pool internals are external collaborators (spec.md §1); Channel
// is only the seam this subsystem consumes. RoundTrip sends an assembled
// command document and returns the server's reply document; actual wire
// encoding/decoding happens on the other side of this seam.
type Channel interface {
	Description() ConnectionDescription
	RoundTrip(ctx context.Context, cmd Document) (Document, error)
	// Close releases the channel back to its pool. Idempotent.
	Close() error
}

// ChannelSource is a handle to a specific server plus a strategy for
// leasing channels from that server's pool.
type ChannelSource interface {
	GetChannel(ctx context.Context) (Channel, error)
	// Close releases the channel source. Idempotent.
	Close() error
}

// ReadBinding supplies a read channel source.
type ReadBinding interface {
	GetReadChannelSource(ctx context.Context) (ChannelSource, error)
	Session() *Session
}

// WriteBinding supplies a write channel source.
type WriteBinding interface {
	GetWriteChannelSource(ctx context.Context) (ChannelSource, error)
	Session() *Session
}

// ReadWriteBinding supplies both. A binding owns a session handle and
// outlives one or many operations.
type ReadWriteBinding interface {
	ReadBinding
	WriteBinding
}
