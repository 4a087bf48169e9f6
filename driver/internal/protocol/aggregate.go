// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// AggregateOptions is the structured representation of an aggregate
// operation's options (spec.md §6).
type AggregateOptions struct {
	Pipeline                 []Document
	AllowDiskUse             *bool
	BypassDocumentValidation *bool
	MaxTime                  *int64
	Collation                Document
	ReadConcern              Document
	WriteConcern             *WriteConcern
	Hint                     any
	Let                      Document
	Comment                  *string
	BatchSize                *int32
}

// AggregateToCollectionOperation models aggregate-with-$out/$merge
// (spec.md §4.3, §4.7): constructor-time validation that the pipeline ends
// in an output stage, and the $out simplification rewrite.
type AggregateToCollectionOperation struct {
	Database       string
	Collection     string // empty means database-scoped (aggregate: 1)
	Options        AggregateOptions
	session        *Session
}

// NewAggregateToCollectionOperation validates the pipeline synchronously,
// per spec.md §4.3/§7: a pipeline not ending in $out/$merge raises a
// ConfigurationError from the constructor, not from execution.
func NewAggregateToCollectionOperation(database, collection string, opts AggregateOptions, session *Session) (*AggregateToCollectionOperation, error) {
	if !endsInOutputStage(opts.Pipeline) {
		return nil, &driverrors.ConfigurationError{Reason: "aggregate-to-collection pipeline must end in a $out or $merge stage"}
	}
	return &AggregateToCollectionOperation{Database: database, Collection: collection, Options: opts, session: session}, nil
}

func endsInOutputStage(pipeline []Document) bool {
	if len(pipeline) == 0 {
		return false
	}
	last := pipeline[len(pipeline)-1]
	if len(last) != 1 {
		return false
	}
	return last[0].Key == "$out" || last[0].Key == "$merge"
}

// rewrittenPipeline applies the $out simplification of spec.md §4.3/§8
// property 7: given a final {$out:{db:X, coll:Y}} stage where X equals the
// operation's own database, rewrite it to the bare collection name string.
func (op *AggregateToCollectionOperation) rewrittenPipeline() []Document {
	out := make([]Document, len(op.Options.Pipeline))
	copy(out, op.Options.Pipeline)
	last := out[len(out)-1]
	if last[0].Key != "$out" {
		return out
	}
	spec, ok := last[0].Value.(Document)
	if !ok {
		return out
	}
	db, hasDB := spec.Lookup("db")
	coll, hasColl := spec.Lookup("coll")
	if hasDB && hasColl && db == op.Database {
		out[len(out)-1] = Document{{Key: "$out", Value: coll}}
	}
	return out
}

// BuildCommand assembles the aggregate command document per spec.md §6's
// field order. cursor is always present, even if empty, for cursored
// aggregations.
func (op *AggregateToCollectionOperation) BuildCommand(desc ConnectionDescription) Document {
	cmd := NewDocument()
	if op.Collection != "" {
		cmd = cmd.Append("aggregate", op.Collection)
	} else {
		cmd = cmd.Append("aggregate", int32(1))
	}
	pipelineAny := make([]any, 0, len(op.Options.Pipeline))
	for _, stage := range op.rewrittenPipeline() {
		pipelineAny = append(pipelineAny, stage)
	}
	cmd = cmd.Append("pipeline", pipelineAny)
	if op.Options.AllowDiskUse != nil {
		cmd = cmd.Append("allowDiskUse", *op.Options.AllowDiskUse)
	}
	if op.Options.BypassDocumentValidation != nil {
		cmd = cmd.Append("bypassDocumentValidation", *op.Options.BypassDocumentValidation)
	}
	if op.Options.MaxTime != nil {
		cmd = cmd.Append("maxTimeMS", *op.Options.MaxTime)
	}
	if op.Options.Collation != nil {
		cmd = cmd.Append("collation", op.Options.Collation)
	}
	if rc := EffectiveReadConcern(op.Options.ReadConcern, desc); rc != nil {
		cmd = cmd.Append("readConcern", rc)
	}
	if wc := EffectiveWriteConcern(op.Options.WriteConcern, op.session); wc != nil {
		cmd = cmd.Append("writeConcern", wc)
	}
	cmd = cmd.Append("cursor", NewDocument())
	if op.Options.Hint != nil {
		cmd = cmd.Append("hint", op.Options.Hint)
	}
	if op.Options.Let != nil {
		cmd = cmd.Append("let", op.Options.Let)
	}
	if op.Options.Comment != nil {
		cmd = cmd.Append("comment", *op.Options.Comment)
	}
	return cmd
}

// Capabilities implements RetryableWriteOperation.
func (op *AggregateToCollectionOperation) Capabilities() Capability {
	return CapIsRetryable | CapHasWriteConcern
}

// WriteConcern implements RetryableWriteOperation.
func (op *AggregateToCollectionOperation) WriteConcern() *WriteConcern { return op.Options.WriteConcern }
