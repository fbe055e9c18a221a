// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package logging builds the process-wide logrus logger. Debug mode is
// toggled by the HEARTH_DEBUG environment variable: off, only Error and
// above is emitted; on, every request/response and every event appended
// to a room timeline is logged at Debug level.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// DebugEnvVar is the environment variable that switches on verbose logging.
const DebugEnvVar = "HEARTH_DEBUG"

// Setup constructs the shared logger for the process.
func Setup() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if os.Getenv(DebugEnvVar) != "" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.ErrorLevel)
	}

	return log
}
