// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"log/slog"
	"os"
)

const logPrefix = "nimbus.driver"

var dlog = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", logPrefix)

// SetLogger replaces the package-level logger, e.g. to route driver log
// records into an application's own slog handler.
func SetLogger(logger *slog.Logger) {
	dlog = logger.With("component", logPrefix)
}
