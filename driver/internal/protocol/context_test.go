// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRetryableWriteContext_DisposeReleasesBoth: property 8 — a successful
// context creation releases exactly its one channel and one channel source
// on Dispose, and Dispose is idempotent.
func TestRetryableWriteContext_DisposeReleasesBoth(t *testing.T) {
	session := NewSession()
	ch := &fakeChannel{desc: retryableDesc()}
	src := &fakeChannelSource{channel: ch}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}

	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)

	rc.Dispose()
	require.True(t, ch.closed)
	require.True(t, src.closed)

	// idempotent: a second Dispose must not panic or double-close.
	rc.Dispose()
}

// TestRetryableWriteContext_FailedChannelAcquisitionReleasesSource: property
// 8's failure path — if GetChannel fails after GetWriteChannelSource
// succeeded, the source acquired so far is still released.
func TestRetryableWriteContext_FailedChannelAcquisitionReleasesSource(t *testing.T) {
	session := NewSession()
	src := &fakeChannelSource{err: errArgument}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}

	_, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.Error(t, err)
	require.True(t, src.closed, "a channel source must be released if acquiring a channel from it fails")
}

func TestRetryableReadContext_DisposeReleasesBoth(t *testing.T) {
	session := NewSession()
	ch := &fakeChannel{desc: retryableDesc()}
	src := &fakeChannelSource{channel: ch}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src}}

	rc, err := NewRetryableReadContext(context.Background(), binding, false)
	require.NoError(t, err)

	rc.Dispose()
	require.True(t, ch.closed)
	require.True(t, src.closed)
}

// TestReplaceChannelSource_ReleasesPrior verifies ReplaceChannelSource
// disposes the old source before installing the new one.
func TestReplaceChannelSource_ReleasesPrior(t *testing.T) {
	session := NewSession()
	ch1 := &fakeChannel{desc: retryableDesc()}
	src1 := &fakeChannelSource{channel: ch1}
	binding := &testWriteBinding{session: session, sources: []*fakeChannelSource{src1}}

	rc, err := NewRetryableWriteContext(context.Background(), binding, true)
	require.NoError(t, err)
	defer rc.Dispose()

	ch2 := &fakeChannel{desc: retryableDesc()}
	src2 := &fakeChannelSource{channel: ch2}
	rc.ReplaceChannelSource(src2)
	require.True(t, src1.closed)
	require.Same(t, ChannelSource(src2), rc.ChannelSource())
}
