// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitBulkBatches_RespectsMaxCount(t *testing.T) {
	desc := ConnectionDescription{Hello: HelloResult{MaxWriteBatchCount: 2}}
	requests := []WriteRequest{{Doc: NewDocument()}, {Doc: NewDocument()}, {Doc: NewDocument()}}
	batches := SplitBulkBatches(requests, desc)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
}

func bulkReply(n int64) Document {
	return NewDocument().Append("n", n).Append("ok", int32(1))
}

// TestExecuteBulkWrite_OrderedStopsOnFirstError: ordered mode halts after a
// batch fails, leaving later batches unattempted.
func TestExecuteBulkWrite_OrderedStopsOnFirstError(t *testing.T) {
	session := NewSession()
	attempts := 0
	ch := &fakeChannel{
		desc: ConnectionDescription{Hello: HelloResult{MaxWriteBatchCount: 1}},
		roundTrip: func(ctx context.Context, cmd Document) (Document, error) {
			attempts++
			if attempts == 1 {
				return nil, errArgument
			}
			return bulkReply(1), nil
		},
	}
	src := &fakeChannelSource{channel: ch}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, false)
	require.NoError(t, err)
	defer rc.Dispose()

	requests := []WriteRequest{{Doc: NewDocument()}, {Doc: NewDocument()}, {Doc: NewDocument()}}

	result, err := ExecuteBulkWrite(context.Background(), rc, "coll", WriteInsert, requests, BulkWriteOptions{Ordered: true}, session)
	require.Error(t, err)
	require.Equal(t, 1, attempts, "ordered mode must stop after the first batch failure")
	require.Equal(t, 2, result.SkippedCount)
}

// TestExecuteBulkWrite_UnorderedRunsAllBatches: unordered mode keeps running
// every batch and aggregates the per-batch failures.
func TestExecuteBulkWrite_UnorderedRunsAllBatches(t *testing.T) {
	session := NewSession()
	attempts := 0
	ch := &fakeChannel{
		roundTrip: func(ctx context.Context, cmd Document) (Document, error) {
			attempts++
			if attempts == 1 {
				return nil, errArgument
			}
			return bulkReply(1), nil
		},
	}
	ch.desc = ConnectionDescription{Hello: HelloResult{MaxWriteBatchCount: 1}}
	src := &fakeChannelSource{channel: ch}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, false)
	require.NoError(t, err)
	defer rc.Dispose()

	requests := []WriteRequest{{Doc: NewDocument()}, {Doc: NewDocument()}, {Doc: NewDocument()}}
	result, err := ExecuteBulkWrite(context.Background(), rc, "coll", WriteInsert, requests, BulkWriteOptions{Ordered: false}, session)
	require.NoError(t, err)
	require.Equal(t, 3, attempts, "unordered mode must attempt every batch")
	require.Len(t, result.WriteErrors, 1)
	require.Equal(t, int64(2), result.InsertedCount)
}
