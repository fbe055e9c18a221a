// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/matrix-org/gomatrixserverlib/spec"
	hauth "github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/internal/metrics"
	"github.com/matrix-org/util"
)

// defaultSyncTimeout caps how long a /sync request blocks when the caller
// omits ?timeout, matching a conservative default rather than 0 (which
// would turn every naive client poll loop into a busy loop).
const defaultSyncTimeout = 30 * time.Second

// maxSyncTimeout bounds a caller-supplied ?timeout so a single client
// can't pin a goroutine open indefinitely.
const maxSyncTimeout = 60 * time.Second

func registerSync(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/sync", wrapAuthed(deps, "sync", handleSync(deps))).Methods(http.MethodGet)
}

func handleSync(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		q := req.URL.Query()

		timeout := defaultSyncTimeout
		if raw := q.Get("timeout"); raw != "" {
			ms, err := strconv.Atoi(raw)
			if err != nil || ms < 0 {
				return util.JSONResponse{Code: http.StatusBadRequest, JSON: spec.BadJSON("timeout must be a non-negative integer")}
			}
			timeout = time.Duration(ms) * time.Millisecond
			if timeout > maxSyncTimeout {
				timeout = maxSyncTimeout
			}
		}

		fullState := q.Get("full_state") == "true"

		metrics.SyncWaitersInFlight.Inc()
		defer metrics.SyncWaitersInFlight.Dec()

		resp, err := deps.Engine.Sync(req.Context(), a.UserID, q.Get("since"), timeout, fullState)
		if err != nil {
			return util.JSONResponse{Code: http.StatusBadRequest, JSON: spec.BadJSON(err.Error())}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: resp}
	}
}
