// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// fakeChannel is a minimal Channel double recording RoundTrip calls.
type fakeChannel struct {
	desc      ConnectionDescription
	closed    bool
	roundTrip func(ctx context.Context, cmd Document) (Document, error)
}

func (c *fakeChannel) Description() ConnectionDescription { return c.desc }
func (c *fakeChannel) RoundTrip(ctx context.Context, cmd Document) (Document, error) {
	return c.roundTrip(ctx, cmd)
}
func (c *fakeChannel) Close() error { c.closed = true; return nil }

// fakeChannelSource hands back a single preconfigured channel.
type fakeChannelSource struct {
	channel *fakeChannel
	err     error
	closed  bool
}

func (s *fakeChannelSource) GetChannel(ctx context.Context) (Channel, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.channel, nil
}
func (s *fakeChannelSource) Close() error { s.closed = true; return nil }

func retryableDesc() ConnectionDescription {
	timeout := 30 * time.Second
	return ConnectionDescription{Hello: HelloResult{ServerType: ServerTypeReplicaSetPrimary, LogicalSessionTimeout: &timeout}}
}

// testWriteBinding is a fakeable ReadWriteBinding: GetWriteChannelSource
// returns successive entries from sources, in order.
type testWriteBinding struct {
	session *Session
	sources []*fakeChannelSource
	idx     int
}

func (b *testWriteBinding) Session() *Session { return b.session }
func (b *testWriteBinding) GetWriteChannelSource(ctx context.Context) (ChannelSource, error) {
	if b.idx >= len(b.sources) {
		return nil, errArgument
	}
	s := b.sources[b.idx]
	b.idx++
	return s, nil
}
func (b *testWriteBinding) GetReadChannelSource(ctx context.Context) (ChannelSource, error) {
	return b.GetWriteChannelSource(ctx)
}

// countingOp records every ExecuteAttempt invocation's attempt number and
// transaction number, and returns scripted results by attempt index.
type countingOp struct {
	wc      *WriteConcern
	caps    Capability
	calls   []countingOpCall
	results []countingOpResult
}

type countingOpCall struct {
	attempt   int
	txnNumber TransactionNumber
}

type countingOpResult struct {
	doc Document
	err error
}

func (o *countingOp) Capabilities() Capability  { return o.caps }
func (o *countingOp) WriteConcern() *WriteConcern { return o.wc }
func (o *countingOp) ExecuteAttempt(ctx context.Context, rc *RetryableWriteContext, attempt int, txnNumber TransactionNumber) (Document, error) {
	o.calls = append(o.calls, countingOpCall{attempt: attempt, txnNumber: txnNumber})
	i := len(o.calls) - 1
	if i >= len(o.results) {
		return nil, nil
	}
	return o.results[i].doc, o.results[i].err
}

func newSessionForTest() *Session {
	s := NewSession()
	s.SetInTransaction(false)
	return s
}

// TestExecutor_E1_SuccessfulSingleAttemptWrite: property 1 & 2, scenario E1.
func TestExecutor_E1_SuccessfulSingleAttemptWrite(t *testing.T) {
	session := newSessionForTest()
	ch := &fakeChannel{desc: retryableDesc()}
	src := &fakeChannelSource{channel: ch}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	op := &countingOp{caps: CapIsRetryable | CapHasWriteConcern, results: []countingOpResult{{doc: NewDocument().Append("n", int32(3))}}}
	result, err := ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.NoError(t, err)
	require.Len(t, op.calls, 1)
	require.Equal(t, 1, op.calls[0].attempt)
	require.NotNil(t, op.calls[0].txnNumber)
	v, _ := result.Lookup("n")
	require.Equal(t, int32(3), v)
}

// TestExecutor_E2_RetriedWriteSucceeds: properties 1, 2, 3; scenario E2.
func TestExecutor_E2_RetriedWriteSucceeds(t *testing.T) {
	session := newSessionForTest()
	ch1 := &fakeChannel{desc: retryableDesc()}
	ch2 := &fakeChannel{desc: retryableDesc()}
	src1 := &fakeChannelSource{channel: ch1}
	src2 := &fakeChannelSource{channel: ch2}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src1, src2}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	op := &countingOp{
		caps: CapIsRetryable | CapHasWriteConcern,
		results: []countingOpResult{
			{err: &driverrors.ConnectionError{Op: "update"}},
			{doc: NewDocument().Append("n", int32(1))},
		},
	}
	result, err := ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.NoError(t, err)
	require.Len(t, op.calls, 2)
	require.Equal(t, op.calls[0].txnNumber, op.calls[1].txnNumber)
	require.True(t, src1.closed, "original channel source must be released on replacement")
	v, _ := result.Lookup("n")
	require.Equal(t, int32(1), v)
}

// TestExecutor_E3_RetriedWriteSurfacesOriginal: property 5; scenario E3.
func TestExecutor_E3_RetriedWriteSurfacesOriginal(t *testing.T) {
	session := newSessionForTest()
	ch1 := &fakeChannel{desc: retryableDesc()}
	ch2 := &fakeChannel{desc: retryableDesc()}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{{channel: ch1}, {channel: ch2}}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	originalErr := &driverrors.ConnectionError{Op: "update"}
	op := &countingOp{
		caps: CapIsRetryable | CapHasWriteConcern,
		results: []countingOpResult{
			{err: originalErr},
			{err: &driverrors.CommandError{Code: 11000, ServerMsg: "duplicate key"}},
		},
	}
	_, err = ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.ErrorIs(t, err, originalErr)
	require.Len(t, op.calls, 2)
}

// TestExecutor_E4_RetriedWriteSurfacesRetryError: property 5; scenario E4.
func TestExecutor_E4_RetriedWriteSurfacesRetryError(t *testing.T) {
	session := newSessionForTest()
	ch1 := &fakeChannel{desc: retryableDesc()}
	ch2 := &fakeChannel{desc: retryableDesc()}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{{channel: ch1}, {channel: ch2}}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	retryErr := &driverrors.ConnectionError{Op: "update"}
	op := &countingOp{
		caps: CapIsRetryable | CapHasWriteConcern,
		results: []countingOpResult{
			{err: &driverrors.ConnectionError{Op: "update"}},
			{err: retryErr},
		},
	}
	_, err = ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.ErrorIs(t, err, retryErr)
}

// TestExecutor_E5_UnacknowledgedWriteNotRetried: scenario E5.
func TestExecutor_E5_UnacknowledgedWriteNotRetried(t *testing.T) {
	session := newSessionForTest()
	ch := &fakeChannel{desc: retryableDesc()}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{{channel: ch}}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	op := &countingOp{
		wc:      &WriteConcern{W: 0},
		caps:    CapIsRetryable | CapHasWriteConcern,
		results: []countingOpResult{{doc: NewDocument()}},
	}
	_, err = ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.NoError(t, err)
	require.Len(t, op.calls, 1)
	require.Nil(t, op.calls[0].txnNumber)
}

// TestExecutor_CapabilityGate: property 4 — a replacement channel lacking
// retryable-write support stops the retry before attempt 2.
func TestExecutor_CapabilityGate(t *testing.T) {
	session := newSessionForTest()
	ch1 := &fakeChannel{desc: retryableDesc()}
	nonRetryableDesc := ConnectionDescription{Hello: HelloResult{ServerType: ServerTypeStandalone}}
	ch2 := &fakeChannel{desc: nonRetryableDesc}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{{channel: ch1}, {channel: ch2}}}
	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	originalErr := &driverrors.ConnectionError{Op: "update"}
	op := &countingOp{
		caps:    CapIsRetryable | CapHasWriteConcern,
		results: []countingOpResult{{err: originalErr}},
	}
	_, err = ExecuteRetryableWrite[Document](context.Background(), rc, op)
	require.ErrorIs(t, err, originalErr)
	require.Len(t, op.calls, 1, "attempt 2 must never run when the replacement channel lacks retryable write support")
}

// TestSession_Monotonicity: property 9 — advanceTransactionNumber produces a
// strictly increasing sequence under concurrent callers.
func TestSession_Monotonicity(t *testing.T) {
	session := newSessionForTest()
	const n = 200
	results := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = session.AdvanceTransactionNumber()
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, v := range results {
		require.False(t, seen[v], "transaction numbers must be unique under concurrency")
		seen[v] = true
	}

	next := session.AdvanceTransactionNumber()
	for v := range seen {
		require.Less(t, v, next, "a later call must return a larger number than every earlier one")
	}
}
