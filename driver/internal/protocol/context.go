// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import "context"

// RetryableWriteContext pairs a binding with the currently-bound
// ChannelSource and Channel for the duration of a retryable-write attempt
// (spec.md §3, §4.4). At any time it owns zero or one ChannelSource and
// zero or one Channel; disposal releases both.
type RetryableWriteContext struct {
	Binding        WriteBinding
	RetryRequested bool

	cs Channel
	source ChannelSource
}

// NewRetryableWriteContext acquires a write channel source and then a
// channel from it, releasing anything already acquired if a later step
// fails (spec.md §4.4).
func NewRetryableWriteContext(ctx context.Context, binding WriteBinding, retryRequested bool) (*RetryableWriteContext, error) {
	c := &RetryableWriteContext{Binding: binding, RetryRequested: retryRequested}
	source, err := binding.GetWriteChannelSource(ctx)
	if err != nil {
		return nil, err
	}
	c.source = source
	channel, err := source.GetChannel(ctx)
	if err != nil {
		_ = source.Close()
		c.source = nil
		return nil, err
	}
	c.cs = channel
	return c, nil
}

// ChannelSource returns the currently bound channel source.
func (c *RetryableWriteContext) ChannelSource() ChannelSource { return c.source }

// Channel returns the currently bound channel.
func (c *RetryableWriteContext) Channel() Channel { return c.cs }

// ReplaceChannelSource disposes the old channel source and installs new.
// Used after a retryable failure, during the executor's Reselect step.
func (c *RetryableWriteContext) ReplaceChannelSource(new ChannelSource) {
	if c.source != nil {
		_ = c.source.Close()
	}
	c.source = new
}

// ReplaceChannel disposes the old channel and installs new.
func (c *RetryableWriteContext) ReplaceChannel(new Channel) {
	if c.cs != nil {
		_ = c.cs.Close()
	}
	c.cs = new
}

// Dispose releases the channel then the channel source. Idempotent.
func (c *RetryableWriteContext) Dispose() {
	if c.cs != nil {
		_ = c.cs.Close()
		c.cs = nil
	}
	if c.source != nil {
		_ = c.source.Close()
		c.source = nil
	}
}

// RetryableReadContext is RetryableWriteContext's read-path counterpart:
// identical shape, bound to a ReadBinding instead.
type RetryableReadContext struct {
	Binding        ReadBinding
	RetryRequested bool

	cs     Channel
	source ChannelSource
}

// NewRetryableReadContext mirrors NewRetryableWriteContext for reads.
func NewRetryableReadContext(ctx context.Context, binding ReadBinding, retryRequested bool) (*RetryableReadContext, error) {
	c := &RetryableReadContext{Binding: binding, RetryRequested: retryRequested}
	source, err := binding.GetReadChannelSource(ctx)
	if err != nil {
		return nil, err
	}
	c.source = source
	channel, err := source.GetChannel(ctx)
	if err != nil {
		_ = source.Close()
		c.source = nil
		return nil, err
	}
	c.cs = channel
	return c, nil
}

// ChannelSource returns the currently bound channel source.
func (c *RetryableReadContext) ChannelSource() ChannelSource { return c.source }

// Channel returns the currently bound channel.
func (c *RetryableReadContext) Channel() Channel { return c.cs }

// ReplaceChannelSource disposes the old channel source and installs new.
func (c *RetryableReadContext) ReplaceChannelSource(new ChannelSource) {
	if c.source != nil {
		_ = c.source.Close()
	}
	c.source = new
}

// ReplaceChannel disposes the old channel and installs new.
func (c *RetryableReadContext) ReplaceChannel(new Channel) {
	if c.cs != nil {
		_ = c.cs.Close()
	}
	c.cs = new
}

// Dispose releases the channel then the channel source. Idempotent.
func (c *RetryableReadContext) Dispose() {
	if c.cs != nil {
		_ = c.cs.Close()
		c.cs = nil
	}
	if c.source != nil {
		_ = c.source.Close()
		c.source = nil
	}
}
