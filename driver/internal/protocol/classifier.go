// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

// retryableWriteCodes is the fixed server-error-code membership for
// retryable writes. Centralised as data per spec.md §9's open question —
// any divergence observed between the write and read tables below is a
// potential bug, not an invitation to special-case.
var retryableWriteCodes = map[int32]struct{}{
	11600: {}, // InterruptedAtShutdown
	11602: {}, // InterruptedDueToReplStateChange
	10107: {}, // NotMaster
	13435: {}, // NotMasterNoSlaveOk
	13436: {}, // NotMasterOrSecondary
	189:   {}, // PrimarySteppedDown
	91:    {}, // ShutdownInProgress
	7:     {}, // HostNotFound
	6:     {}, // HostUnreachable
	89:    {}, // NetworkTimeout
	9001:  {}, // SocketException
	262:   {}, // ExceededTimeLimit
}

// retryableReadCodes is a superset of retryableWriteCodes that additionally
// covers read-specific not-master-like codes.
var retryableReadCodes = func() map[int32]struct{} {
	m := make(map[int32]struct{}, len(retryableWriteCodes)+1)
	for code := range retryableWriteCodes {
		m[code] = struct{}{}
	}
	m[11601] = struct{}{} // Interrupted
	return m
}()

const retryableWriteErrorLabel = "RetryableWriteError"

// IsRetryableWriteError reports whether err qualifies an in-flight write
// attempt for the single retry the executor (C6) performs.
func IsRetryableWriteError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *driverrors.ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var cmdErr *driverrors.CommandError
	if errors.As(err, &cmdErr) {
		if _, ok := retryableWriteCodes[cmdErr.Code]; ok {
			return true
		}
		return cmdErr.HasErrorLabel(retryableWriteErrorLabel)
	}
	return false
}

// IsRetryableReadError reports whether err qualifies an in-flight read
// attempt for retry. The set is strictly broader than the write set.
func IsRetryableReadError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *driverrors.ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var cmdErr *driverrors.CommandError
	if errors.As(err, &cmdErr) {
		_, ok := retryableReadCodes[cmdErr.Code]
		return ok
	}
	return false
}

// ShouldSurfaceOriginalError implements the error-promotion rule of
// spec.md §4.1 / §4.5: the original (attempt 1) error is surfaced unless
// the retry itself failed with a fresh connection-level or pool-paused
// fault, in which case that fresher fault is the more actionable one.
func ShouldSurfaceOriginalError(retryErr error) bool {
	if retryErr == nil {
		return true
	}
	var connErr *driverrors.ConnectionError
	if errors.As(retryErr, &connErr) {
		return false
	}
	return true
}

// IsRetryableConnectionAcquisition implements the auxiliary predicate of
// spec.md §4.5: whether a failure to obtain a connection from the pool is
// itself worth escalating to a full two-attempt retry.
func IsRetryableConnectionAcquisition(retryRequested, serverSupportsRetryableWrites bool, sessionID []byte, inTransaction bool) bool {
	return retryRequested && serverSupportsRetryableWrites && len(sessionID) > 0 && !inTransaction
}
