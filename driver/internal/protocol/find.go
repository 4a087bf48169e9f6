// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// legacyModifierKeys is the exhaustive mapping of spec.md §4.3's legacy
// "modifiers" document keys to their modern field semantic. An unknown
// legacy key is an ArgumentError naming the offending key.
var legacyModifierKeys = map[string]string{
	"$comment":      "comment",
	"$hint":         "hint",
	"$max":          "max",
	"$maxScan":      "maxScan",
	"$maxTimeMS":    "maxTime",
	"$min":          "min",
	"$orderby":      "sort",
	"$returnKey":    "returnKey",
	"$showDiskLoc":  "showRecordId",
	"$snapshot":     "snapshot",
}

// FindOptions is the structured representation of a find operation's
// options, prior to effective-value merging with a legacy modifiers
// document.
type FindOptions struct {
	Filter              Document
	Sort                Document
	Projection          Document
	Hint                any
	Skip                *int64
	Limit               *int64
	BatchSize           *int32
	SingleBatch         *bool
	Comment             *string
	MaxScan             *int32
	MaxTime             *int64 // milliseconds
	Max                 Document
	Min                 Document
	ReturnKey           *bool
	ShowRecordID        *bool
	Snapshot            *bool
	Tailable            *bool
	OplogReplay         *bool
	NoCursorTimeout     *bool
	AwaitData           *bool
	AllowDiskUse        *bool
	AllowPartialResults *bool
	Collation           Document
	ReadConcern         Document
	Let                 Document

	// Modifiers is the legacy $-prefixed options document. Any field
	// explicitly set above shadows the corresponding modifier (spec.md
	// §4.3's effective-value precedence).
	Modifiers Document
}

// effectiveFindOptions resolves legacy Modifiers into the FindOptions
// struct, without letting a modifier override a field already set
// explicitly. Returns an ArgumentError for any unrecognised legacy key.
func effectiveFindOptions(o FindOptions) (FindOptions, error) {
	for _, e := range o.Modifiers {
		semantic, ok := legacyModifierKeys[e.Key]
		if !ok {
			return o, fmt.Errorf("%w: unknown legacy find modifier %q", errArgument, e.Key)
		}
		switch semantic {
		case "comment":
			if o.Comment == nil {
				if s, ok := e.Value.(string); ok {
					o.Comment = &s
				}
			}
		case "hint":
			if o.Hint == nil {
				o.Hint = e.Value
			}
		case "max":
			if o.Max == nil {
				if d, ok := e.Value.(Document); ok {
					o.Max = d
				}
			}
		case "maxScan":
			if o.MaxScan == nil {
				if v, ok := toInt32(e.Value); ok {
					o.MaxScan = &v
				}
			}
		case "maxTime":
			if o.MaxTime == nil {
				if v, ok := toInt64Val(e.Value); ok {
					o.MaxTime = &v
				}
			}
		case "min":
			if o.Min == nil {
				if d, ok := e.Value.(Document); ok {
					o.Min = d
				}
			}
		case "sort":
			if o.Sort == nil {
				if d, ok := e.Value.(Document); ok {
					o.Sort = d
				}
			}
		case "returnKey":
			if o.ReturnKey == nil {
				if b, ok := e.Value.(bool); ok {
					o.ReturnKey = &b
				}
			}
		case "showRecordId":
			if o.ShowRecordID == nil {
				if b, ok := e.Value.(bool); ok {
					o.ShowRecordID = &b
				}
			}
		case "snapshot":
			if o.Snapshot == nil {
				if b, ok := e.Value.(bool); ok {
					o.Snapshot = &b
				}
			}
		}
	}
	return o, nil
}

var errArgument = fmt.Errorf("argument error")

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int:
		return int32(n), true
	case int64:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

func toInt64Val(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// BuildFindCommand translates a FindOptions into the wire-format command
// document using the field order of spec.md §6 and the conditional
// inclusion / gating rules of spec.md §4.3.
func BuildFindCommand(collectionName string, o FindOptions, desc ConnectionDescription) (Document, error) {
	o, err := effectiveFindOptions(o)
	if err != nil {
		return nil, &driverrors.ConfigurationError{Reason: err.Error()}
	}

	cmd := NewDocument()
	cmd = cmd.Append("find", collectionName)
	if o.Filter != nil {
		cmd = cmd.Append("filter", o.Filter)
	}
	if o.Sort != nil {
		cmd = cmd.Append("sort", o.Sort)
	}
	if o.Projection != nil {
		cmd = cmd.Append("projection", o.Projection)
	}
	if o.Hint != nil {
		cmd = cmd.Append("hint", o.Hint)
	}
	if o.Skip != nil {
		cmd = cmd.Append("skip", *o.Skip)
	}
	if o.Limit != nil && *o.Limit != 0 {
		limit := *o.Limit
		if limit < 0 {
			limit = -limit
		}
		cmd = cmd.Append("limit", limit)
	}
	if o.BatchSize != nil {
		cmd = cmd.Append("batchSize", *o.BatchSize)
	}
	singleBatch := o.SingleBatch != nil && *o.SingleBatch
	if o.Limit != nil && *o.Limit < 0 {
		singleBatch = true
	}
	if singleBatch {
		cmd = cmd.Append("singleBatch", true)
	}
	if o.Comment != nil {
		cmd = cmd.Append("comment", *o.Comment)
	}
	if o.MaxScan != nil {
		cmd = cmd.Append("maxScan", *o.MaxScan)
	}
	if o.MaxTime != nil {
		cmd = cmd.Append("maxTimeMS", *o.MaxTime)
	}
	if o.Max != nil {
		cmd = cmd.Append("max", o.Max)
	}
	if o.Min != nil {
		cmd = cmd.Append("min", o.Min)
	}
	if o.ReturnKey != nil {
		cmd = cmd.Append("returnKey", *o.ReturnKey)
	}
	if o.ShowRecordID != nil {
		cmd = cmd.Append("showRecordId", *o.ShowRecordID)
	}
	if o.Snapshot != nil {
		cmd = cmd.Append("snapshot", *o.Snapshot)
	}
	if o.Tailable != nil {
		cmd = cmd.Append("tailable", *o.Tailable)
	}
	if o.OplogReplay != nil {
		cmd = cmd.Append("oplogReplay", *o.OplogReplay)
	}
	if o.NoCursorTimeout != nil {
		cmd = cmd.Append("noCursorTimeout", *o.NoCursorTimeout)
	}
	if o.AwaitData != nil {
		cmd = cmd.Append("awaitData", *o.AwaitData)
	}
	if o.AllowDiskUse != nil {
		cmd = cmd.Append("allowDiskUse", *o.AllowDiskUse)
	}
	if o.AllowPartialResults != nil && *o.AllowPartialResults && desc.IsShardRouter() {
		cmd = cmd.Append("allowPartialResults", true)
	}
	if o.Collation != nil {
		cmd = cmd.Append("collation", o.Collation)
	}
	if rc := EffectiveReadConcern(o.ReadConcern, desc); rc != nil {
		cmd = cmd.Append("readConcern", rc)
	}
	if o.Let != nil {
		cmd = cmd.Append("let", o.Let)
	}
	return cmd, nil
}

// EffectiveReadConcern derives the read concern actually placed on the
// wire, per spec.md §4.3: suppressed entirely on a standalone when the
// caller only asked for the (already implicit) default.
func EffectiveReadConcern(rc Document, desc ConnectionDescription) Document {
	if rc == nil {
		return nil
	}
	if desc.Hello.ServerType == ServerTypeStandalone {
		if level, ok := rc.Lookup("level"); ok && level == "local" && len(rc) == 1 {
			return nil
		}
	}
	return rc
}

// EffectiveWriteConcern derives the write concern actually placed on the
// wire: elided entirely inside a transaction (the transaction's own write
// concern governs instead), per spec.md §4.3.
func EffectiveWriteConcern(wc *WriteConcern, session *Session) Document {
	if wc == nil || (session != nil && session.IsInTransaction()) {
		return nil
	}
	d := NewDocument()
	d = d.Append("w", wc.W)
	if wc.J != nil {
		d = d.Append("j", *wc.J)
	}
	if wc.WTimeout != 0 {
		d = d.Append("wtimeout", wc.WTimeout)
	}
	return d
}

// ExecuteFind runs a find command straight-through (spec.md's overview data
// flow: "Executor (C6 or straight-through for reads)"). Unlike the
// retryable-write executor, this subsystem does not implement a read-side
// two-attempt state machine — IsRetryableReadError (C1) is exposed so a
// caller-side retry loop outside this core can use the same classification.
func ExecuteFind(ctx context.Context, rc *RetryableReadContext, collectionName string, opts FindOptions) (Document, error) {
	channel := rc.Channel()
	cmd, err := BuildFindCommand(collectionName, opts, channel.Description())
	if err != nil {
		return nil, err
	}
	return channel.RoundTrip(ctx, cmd)
}
