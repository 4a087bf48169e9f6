// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"strings"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// Namespace is a parsed "database.collection" cursor ns string.
type Namespace struct {
	Database   string
	Collection string
}

// ParseNamespace splits a server-reported "db.coll" string. The collection
// part may itself contain dots, so only the first separator counts.
func ParseNamespace(ns string) (Namespace, error) {
	idx := strings.IndexByte(ns, '.')
	if idx < 0 {
		return Namespace{}, fmt.Errorf("invalid namespace %q", ns)
	}
	return Namespace{Database: ns[:idx], Collection: ns[idx+1:]}, nil
}

// ElementDeserializer turns one raw batch element into a T. Wire-format
// decoding of the element itself is an external collaborator (spec.md §1);
// this is the seam the cursor materializer hands elements through.
type ElementDeserializer[T any] func(any) (T, error)

// Cursor is the stateful handle produced by the cursor materializer (C7).
// It lazily produces further batches via getMore against a pinned channel
// source until CursorID() == 0.
type Cursor[T any] struct {
	ns          Namespace
	batchSize   int32
	limit       int64
	maxAwaitTime *int64 // milliseconds, tailable-await cursors only
	resumeToken []byte

	cursorID int64
	source   ChannelSource
	pinned   Channel // non-nil iff pinning policy requires same-channel getMore
	session  *Session
	deserialize ElementDeserializer[T]

	closed bool
}

// MaterializeCursor builds a Cursor from a command result document
// containing a `cursor` sub-document, per spec.md §4.6.
//
// result must contain {cursor: {id, ns, firstBatch}}. channel is the
// channel that served the initiating command; loadBalanced reports whether
// the topology is load-balanced (pinning is then mandatory regardless of
// cursorId).
func MaterializeCursor[T any](result Document, source ChannelSource, channel Channel, loadBalanced bool, session *Session, batchSize int32, limit int64, maxAwaitTime *int64, deserialize ElementDeserializer[T]) (*Cursor[T], error) {
	cursorVal, ok := result.Lookup("cursor")
	if !ok {
		return nil, fmt.Errorf("materialize cursor: result has no cursor sub-document")
	}
	cursorDoc, ok := cursorVal.(Document)
	if !ok {
		return nil, fmt.Errorf("materialize cursor: cursor field is not a document")
	}

	idVal, _ := cursorDoc.Lookup("id")
	cursorID, _ := toInt64Val(idVal)

	nsVal, ok := cursorDoc.Lookup("ns")
	if !ok {
		return nil, fmt.Errorf("materialize cursor: cursor document has no ns")
	}
	nsStr, _ := nsVal.(string)
	ns, err := ParseNamespace(nsStr)
	if err != nil {
		return nil, err
	}

	if atClusterTime, ok := result.Lookup("atClusterTime"); ok {
		session.AdvanceClusterTime(atClusterTime)
	}

	c := &Cursor[T]{
		ns:           ns,
		batchSize:    batchSize,
		limit:        effectiveCursorLimit(limit),
		maxAwaitTime: maxAwaitTime,
		cursorID:     cursorID,
		source:       source,
		session:      session,
		deserialize:  deserialize,
	}

	if firstBatchVal, ok := cursorDoc.Lookup("firstBatch"); ok {
		c.resumeToken = lastDocumentResumeToken(firstBatchVal)
	}

	// Channel-pinning policy (spec.md §4.6): on load-balanced topologies OR
	// when cursorId != 0, getMore MUST reach the same channel that served
	// the command; otherwise the source may resolve freely.
	if loadBalanced || cursorID != 0 {
		c.pinned = channel
	}

	return c, nil
}

// effectiveCursorLimit implements spec.md §4.6: a negative limit means a
// positive limit plus implicit singleBatch; the Cursor only ever tracks
// the positive magnitude internally.
func effectiveCursorLimit(limit int64) int64 {
	if limit < 0 {
		return -limit
	}
	return limit
}

// CursorID returns the server cursor id; 0 means exhausted.
func (c *Cursor[T]) CursorID() int64 { return c.cursorID }

// ResumeToken returns the last-seen resume token, if any (the change-stream
// resumability supplement of SPEC_FULL.md §4.7).
func (c *Cursor[T]) ResumeToken() []byte { return c.resumeToken }

// Namespace returns the cursor's parsed namespace.
func (c *Cursor[T]) Namespace() Namespace { return c.ns }

// FirstBatch deserializes a command result's firstBatch field into a slice
// of T. The whole batch is decoded in one call; elements are not decoded
// lazily on iteration.
func FirstBatch[T any](result Document, deserialize ElementDeserializer[T]) ([]T, error) {
	cursorVal, ok := result.Lookup("cursor")
	if !ok {
		return nil, fmt.Errorf("result has no cursor sub-document")
	}
	cursorDoc, ok := cursorVal.(Document)
	if !ok {
		return nil, fmt.Errorf("cursor field is not a document")
	}
	batchVal, ok := cursorDoc.Lookup("firstBatch")
	if !ok {
		return nil, nil
	}
	return deserializeBatch(batchVal, deserialize)
}

// lastDocumentResumeToken extracts the "_id" field of the last document in
// a batch as an opaque resume token (SPEC_FULL.md §4.7 supplement), grounded
// on the original mongo-go-driver change stream's storeResumeToken, which
// caches the _id of the last document it has iterated. Actual BSON encoding
// of that value is the wire layer's concern (spec.md §1); this only needs a
// deterministic byte form so equal tokens compare equal.
func lastDocumentResumeToken(batchVal any) []byte {
	raw, ok := batchVal.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	last, ok := raw[len(raw)-1].(Document)
	if !ok {
		return nil
	}
	idVal, ok := last.Lookup("_id")
	if !ok {
		return nil
	}
	return []byte(fmt.Sprintf("%v", idVal))
}

func deserializeBatch[T any](batchVal any, deserialize ElementDeserializer[T]) ([]T, error) {
	raw, ok := batchVal.([]any)
	if !ok {
		return nil, fmt.Errorf("batch field is not a sequence")
	}
	out := make([]T, 0, len(raw))
	for _, elem := range raw {
		v, err := deserialize(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetMore issues a getMore against the cursor's pinned-or-free channel
// source and returns the next batch. Once CursorID() is 0 (or the cursor is
// closed) it returns a nil batch and a nil error without a round trip —
// callers should check CursorID() rather than relying on an error.
func (c *Cursor[T]) GetMore(ctx context.Context) ([]T, error) {
	if c.closed || c.cursorID == 0 {
		return nil, nil
	}

	channel, err := c.resolveChannel(ctx)
	if err != nil {
		return nil, err
	}

	cmd := NewDocument()
	cmd = cmd.Append("getMore", c.cursorID)
	cmd = cmd.Append("collection", c.ns.Collection)
	if c.batchSize != 0 {
		cmd = cmd.Append("batchSize", c.batchSize)
	}
	if c.maxAwaitTime != nil {
		cmd = cmd.Append("maxTimeMS", *c.maxAwaitTime)
	}

	reply, err := channel.RoundTrip(ctx, cmd)
	if err != nil {
		return nil, err
	}

	cursorVal, ok := reply.Lookup("cursor")
	if !ok {
		return nil, &driverrors.CursorNotFoundError{CursorID: c.cursorID}
	}
	cursorDoc, _ := cursorVal.(Document)
	idVal, _ := cursorDoc.Lookup("id")
	newID, _ := toInt64Val(idVal)
	c.cursorID = newID

	if atClusterTime, ok := reply.Lookup("atClusterTime"); ok {
		c.session.AdvanceClusterTime(atClusterTime)
	}

	nextBatchVal, ok := cursorDoc.Lookup("nextBatch")
	if !ok {
		return nil, nil
	}
	if tok := lastDocumentResumeToken(nextBatchVal); tok != nil {
		c.resumeToken = tok
	}
	return deserializeBatch(nextBatchVal, c.deserialize)
}

// resolveChannel implements the pinning policy: returns the pinned channel
// if set, otherwise leases a fresh one from the (possibly replaced)
// channel source.
func (c *Cursor[T]) resolveChannel(ctx context.Context) (Channel, error) {
	if c.pinned != nil {
		return c.pinned, nil
	}
	return c.source.GetChannel(ctx)
}

// Close releases the cursor's pinned channel (if any) and its channel
// source. Idempotent. If the server cursor is still open, a real
// implementation would also issue killCursors here; that wire call is an
// external collaborator.
func (c *Cursor[T]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.pinned != nil {
		err = c.pinned.Close()
	}
	if c.source != nil {
		if sErr := c.source.Close(); sErr != nil && err == nil {
			err = sErr
		}
	}
	return err
}
