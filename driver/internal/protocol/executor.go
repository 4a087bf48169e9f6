// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// ExecuteRetryableWrite drives the two-attempt state machine of spec.md
// §4.5: Attempt1 -> Classify1 -> Reselect -> CheckCap -> Attempt2 ->
// Classify2 -> Done. Attempt 1's result is tagged as an Outcome
// (ClassifyWriteAttempt) and dispatched by a straight-line switch, per the
// design note in spec.md §9 replacing exception-filter dispatch.
func ExecuteRetryableWrite[T any](ctx context.Context, rc *RetryableWriteContext, op RetryableWriteOperation[T]) (T, error) {
	var zero T

	if !retryEligible(rc, op) {
		return op.ExecuteAttempt(ctx, rc, 1, nil)
	}

	session := rc.Binding.Session()
	n := session.AdvanceTransactionNumber()
	txnNumber := &n

	result, err := op.ExecuteAttempt(ctx, rc, 1, txnNumber)
	first := ClassifyWriteAttempt(result, err)
	switch {
	case first.IsOk():
		return first.Value(), nil
	case !first.IsRetryable():
		return zero, first.Err()
	}
	originalErr := first.Err()

	if cancelErr := ctx.Err(); cancelErr != nil {
		return zero, &driverrors.CancelledError{Wrapped: cancelErr}
	}

	newSource, err := rc.Binding.GetWriteChannelSource(ctx)
	if err != nil {
		return zero, originalErr
	}
	rc.ReplaceChannelSource(newSource)

	newChannel, err := newSource.GetChannel(ctx)
	if err != nil {
		return zero, originalErr
	}
	rc.ReplaceChannel(newChannel)

	if !newChannel.Description().SupportsRetryableWrites() {
		return zero, originalErr
	}

	if cancelErr := ctx.Err(); cancelErr != nil {
		return zero, &driverrors.CancelledError{Wrapped: cancelErr}
	}

	result, err2 := op.ExecuteAttempt(ctx, rc, 2, txnNumber)
	if err2 == nil {
		return result, nil
	}
	if ShouldSurfaceOriginalError(err2) {
		return zero, originalErr
	}
	return zero, err2
}

// retryEligible implements the five preconditions of spec.md §4.5, after
// first requiring that the operation advertises CapIsRetryable. All must
// hold to enter the two-attempt path.
func retryEligible[T any](rc *RetryableWriteContext, op RetryableWriteOperation[T]) bool {
	if !op.Capabilities().Has(CapIsRetryable) {
		return false
	}
	if !rc.RetryRequested {
		return false
	}
	if !Acknowledged(op.WriteConcern()) {
		return false
	}
	channel := rc.Channel()
	if channel == nil || !channel.Description().SupportsRetryableWrites() {
		return false
	}
	session := rc.Binding.Session()
	if !session.HasID() {
		return false
	}
	if session.IsInTransaction() {
		return false
	}
	return true
}
