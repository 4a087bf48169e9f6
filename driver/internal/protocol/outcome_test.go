// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	driverrors "github.com/nimbusdb/nimbus-go-driver/driver/internal/errors"
)

func TestOutcome_Ok(t *testing.T) {
	o := Ok(42)
	require.True(t, o.IsOk())
	require.False(t, o.IsRetryable())
	require.Equal(t, 42, o.Value())
}

func TestOutcome_RetryableAndFatal(t *testing.T) {
	r := Retryable[int](errArgument)
	require.False(t, r.IsOk())
	require.True(t, r.IsRetryable())
	require.Equal(t, errArgument, r.Err())

	f := Fatal[int](errArgument)
	require.False(t, f.IsOk())
	require.False(t, f.IsRetryable())
}

func TestClassifyWriteAttempt(t *testing.T) {
	ok := ClassifyWriteAttempt(1, nil)
	require.True(t, ok.IsOk())

	retryable := ClassifyWriteAttempt(0, &driverrors.ConnectionError{Op: "x"})
	require.True(t, retryable.IsRetryable())

	fatal := ClassifyWriteAttempt(0, &driverrors.CommandError{Code: 11000})
	require.False(t, fatal.IsOk())
	require.False(t, fatal.IsRetryable())
}
