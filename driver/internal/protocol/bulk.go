// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// WriteRequestKind discriminates the shape of a single bulk write request.
type WriteRequestKind int

const (
	WriteInsert WriteRequestKind = iota
	WriteUpdate
	WriteDelete
)

// WriteRequest is a single user-supplied item of a bulk operation.
type WriteRequest struct {
	Kind WriteRequestKind
	Doc  Document // the insert document, update spec, or delete spec
	Hint any
}

// requestHasHint is the request-type-specific predicate of spec.md §4.7:
// a batch containing any hinted request advertises CapHasHintedRequests.
// BuildCommand does not check the server's wire version against it, and
// does not place request hints on the wire.
func requestHasHint(r WriteRequest) bool { return r.Hint != nil }

// BulkWriteOptions configures a bulk insert/update/delete operation.
type BulkWriteOptions struct {
	Ordered      bool
	WriteConcern *WriteConcern
	Let          Document
}

// estimatedSize is a rough per-request size estimate used for
// maxMessageSize-bounded batch splitting. A real implementation would
// measure the assembled BSON bytes; that measurement is the wire-encoder's
// job (out of scope, spec.md §1), so this is a conservative stand-in based
// on element count.
func estimatedSize(r WriteRequest) int {
	return 64 + 16*len(r.Doc)
}

// SplitBulkBatches splits requests into batches bounded by the server's
// advertised maxBatchCount and maxMessageSize (spec.md §4.7).
func SplitBulkBatches(requests []WriteRequest, desc ConnectionDescription) [][]WriteRequest {
	maxCount := int(desc.Hello.MaxWriteBatchCount)
	if maxCount <= 0 {
		maxCount = 100000
	}
	maxBytes := int(desc.Hello.MaxMessageSizeBytes)
	if maxBytes <= 0 {
		maxBytes = 48 * 1024 * 1024
	}

	var batches [][]WriteRequest
	var current []WriteRequest
	currentBytes := 0
	for _, r := range requests {
		sz := estimatedSize(r)
		if len(current) > 0 && (len(current) >= maxCount || currentBytes+sz > maxBytes) {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, r)
		currentBytes += sz
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// BulkBatchOperation is one batch's RetryableCommandOperation (spec.md
// §4.7): each batch goes through the executor (C6) independently.
type BulkBatchOperation struct {
	CollectionName string
	Kind           WriteRequestKind
	Requests       []WriteRequest
	Options        BulkWriteOptions
	session        *Session
}

// Capabilities implements RetryableWriteOperation.
func (b *BulkBatchOperation) Capabilities() Capability {
	c := CapIsRetryable | CapHasWriteConcern
	for _, r := range b.Requests {
		if requestHasHint(r) {
			c |= CapHasHintedRequests
			break
		}
	}
	return c
}

// WriteConcern implements RetryableWriteOperation.
func (b *BulkBatchOperation) WriteConcern() *WriteConcern { return b.Options.WriteConcern }

func bulkCommandName(kind WriteRequestKind) string {
	switch kind {
	case WriteInsert:
		return "insert"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return "insert"
	}
}

func bulkDocsFieldName(kind WriteRequestKind) string {
	switch kind {
	case WriteInsert:
		return "documents"
	case WriteUpdate:
		return "updates"
	case WriteDelete:
		return "deletes"
	default:
		return "documents"
	}
}

// BuildCommand assembles the batch's wire command document.
func (b *BulkBatchOperation) BuildCommand(desc ConnectionDescription) Document {
	cmd := NewDocument()
	cmd = cmd.Append(bulkCommandName(b.Kind), b.CollectionName)
	items := make([]any, len(b.Requests))
	for i, r := range b.Requests {
		items[i] = r.Doc
	}
	cmd = cmd.Append(bulkDocsFieldName(b.Kind), items)
	cmd = cmd.Append("ordered", b.Options.Ordered)
	if wc := EffectiveWriteConcern(b.Options.WriteConcern, b.session); wc != nil {
		cmd = cmd.Append("writeConcern", wc)
	}
	if b.Options.Let != nil {
		cmd = cmd.Append("let", b.Options.Let)
	}
	return cmd
}

// ExecuteAttempt implements RetryableWriteOperation.
func (b *BulkBatchOperation) ExecuteAttempt(ctx context.Context, rc *RetryableWriteContext, attempt int, txnNumber TransactionNumber) (Document, error) {
	channel := rc.Channel()
	cmd := b.BuildCommand(channel.Description())
	cmd = attachTransactionNumber(cmd, txnNumber)
	return channel.RoundTrip(ctx, cmd)
}

// BulkResult is the aggregated outcome of running every batch of a bulk
// operation.
type BulkResult struct {
	Acknowledged  bool
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	WriteErrors   []*driverrors.BulkWriteItemError
	SkippedCount  int // requests never attempted, ordered-mode short-circuit
}

// ExecuteBulkWrite runs the batches in order. Errors are handled per batch:
// in ordered mode the first batch whose command returns an error stops the
// run, and that error is returned with the partial result (later batches
// counted in SkippedCount); in unordered mode every batch runs, each failed
// batch is recorded as one BulkWriteItemError whose Index is the batch
// index, and no error is returned. writeErrors entries inside a successful
// reply are not inspected.
func ExecuteBulkWrite(ctx context.Context, rc *RetryableWriteContext, collectionName string, kind WriteRequestKind, requests []WriteRequest, opts BulkWriteOptions, session *Session) (*BulkResult, error) {
	channel := rc.Channel()
	batches := SplitBulkBatches(requests, channel.Description())

	result := &BulkResult{Acknowledged: Acknowledged(opts.WriteConcern)}

	for batchIdx, batch := range batches {
		op := &BulkBatchOperation{CollectionName: collectionName, Kind: kind, Requests: batch, Options: opts, session: session}
		reply, err := ExecuteRetryableWrite[Document](ctx, rc, op)
		if err != nil {
			if opts.Ordered {
				remaining := 0
				for _, b := range batches[batchIdx+1:] {
					remaining += len(b)
				}
				result.SkippedCount += remaining
				return result, err
			}
			result.WriteErrors = append(result.WriteErrors, &driverrors.BulkWriteItemError{Index: batchIdx, Errmsg: err.Error()})
			continue
		}
		accumulateBatchCounts(result, kind, reply)
	}

	return result, nil
}

func accumulateBatchCounts(result *BulkResult, kind WriteRequestKind, reply Document) {
	switch kind {
	case WriteInsert:
		if n, ok := reply.Lookup("n"); ok {
			if v, ok := toInt64Val(n); ok {
				result.InsertedCount += v
			}
		}
	case WriteUpdate:
		if n, ok := reply.Lookup("n"); ok {
			if v, ok := toInt64Val(n); ok {
				result.MatchedCount += v
			}
		}
		if n, ok := reply.Lookup("nModified"); ok {
			if v, ok := toInt64Val(n); ok {
				result.ModifiedCount += v
			}
		}
	case WriteDelete:
		if n, ok := reply.Lookup("n"); ok {
			if v, ok := toInt64Val(n); ok {
				result.DeletedCount += v
			}
		}
	}
}
