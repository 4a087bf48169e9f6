// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import "context"

// attachTransactionNumber stamps a non-nil transaction number onto an
// assembled command document, as every retryable-write attempt must
// (spec.md §3 invariant: identical number across attempts).
func attachTransactionNumber(cmd Document, txnNumber TransactionNumber) Document {
	if txnNumber == nil {
		return cmd
	}
	return cmd.Append("txnNumber", *txnNumber)
}

// ExecuteAttempt implements RetryableWriteOperation for
// AggregateToCollectionOperation: assemble the command against the
// attempt's channel description, stamp the transaction number, round-trip
// it, and return the raw reply document.
func (op *AggregateToCollectionOperation) ExecuteAttempt(ctx context.Context, rc *RetryableWriteContext, attempt int, txnNumber TransactionNumber) (Document, error) {
	channel := rc.Channel()
	cmd := op.BuildCommand(channel.Description())
	cmd = attachTransactionNumber(cmd, txnNumber)
	return channel.RoundTrip(ctx, cmd)
}
