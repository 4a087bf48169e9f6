// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import "context"

// FindAndModifyKind discriminates the three single-document retryable
// writes SPEC_FULL.md §4.7 adds back from the original driver.
type FindAndModifyKind int

const (
	FindOneAndUpdate FindAndModifyKind = iota
	FindOneAndReplace
	FindOneAndDelete
)

// FindAndModifyOptions is the structured options for a findAndModify-family
// operation.
type FindAndModifyOptions struct {
	Filter       Document
	Update       Document // update spec or replacement document
	Sort         Document
	ReturnNew    *bool
	Upsert       *bool
	WriteConcern *WriteConcern
}

// FindAndModifyOperation reuses the RetryableWriteOperation contract (C6)
// for a degenerate one-item bulk shape, per SPEC_FULL.md §4.7 — no second
// executor implementation is needed.
type FindAndModifyOperation struct {
	CollectionName string
	Kind           FindAndModifyKind
	Options        FindAndModifyOptions
	session        *Session
}

// NewFindAndModifyOperation constructs a findAndModify operation bound to
// session for write-concern elision inside transactions.
func NewFindAndModifyOperation(collectionName string, kind FindAndModifyKind, opts FindAndModifyOptions, session *Session) *FindAndModifyOperation {
	return &FindAndModifyOperation{CollectionName: collectionName, Kind: kind, Options: opts, session: session}
}

// Capabilities implements RetryableWriteOperation.
func (f *FindAndModifyOperation) Capabilities() Capability {
	return CapIsRetryable | CapHasWriteConcern
}

// WriteConcern implements RetryableWriteOperation.
func (f *FindAndModifyOperation) WriteConcern() *WriteConcern { return f.Options.WriteConcern }

// BuildCommand assembles the findAndModify command document.
func (f *FindAndModifyOperation) BuildCommand(desc ConnectionDescription) Document {
	cmd := NewDocument()
	cmd = cmd.Append("findAndModify", f.CollectionName)
	if f.Options.Filter != nil {
		cmd = cmd.Append("query", f.Options.Filter)
	}
	if f.Options.Sort != nil {
		cmd = cmd.Append("sort", f.Options.Sort)
	}
	switch f.Kind {
	case FindOneAndDelete:
		cmd = cmd.Append("remove", true)
	default:
		if f.Options.Update != nil {
			cmd = cmd.Append("update", f.Options.Update)
		}
		if f.Options.ReturnNew != nil {
			cmd = cmd.Append("new", *f.Options.ReturnNew)
		}
		if f.Options.Upsert != nil {
			cmd = cmd.Append("upsert", *f.Options.Upsert)
		}
	}
	if wc := EffectiveWriteConcern(f.Options.WriteConcern, f.session); wc != nil {
		cmd = cmd.Append("writeConcern", wc)
	}
	return cmd
}

// ExecuteAttempt implements RetryableWriteOperation.
func (f *FindAndModifyOperation) ExecuteAttempt(ctx context.Context, rc *RetryableWriteContext, attempt int, txnNumber TransactionNumber) (Document, error) {
	channel := rc.Channel()
	cmd := f.BuildCommand(channel.Description())
	cmd = attachTransactionNumber(cmd, txnNumber)
	return channel.RoundTrip(ctx, cmd)
}
