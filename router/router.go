// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package router wires every Client-Server v3 endpoint onto a gorilla/mux
// router: it authenticates bearer tokens, decodes path parameters,
// injects the Store/Engine/Notifier into each handler, and applies CORS
// and basic request logging uniformly.
package router

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/matrix-org/gomatrixserverlib/spec"
	hauth "github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/httputil"
	"github.com/matrix-org/hearth/internal/config"
	"github.com/matrix-org/hearth/internal/metrics"
	"github.com/matrix-org/hearth/notifier"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/hearth/syncengine"
	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps bundles everything a handler needs. Handlers take *Deps as a
// closure-captured dependency rather than a package-level singleton, so
// that tests can construct an isolated instance per case.
type Deps struct {
	Config   *config.Hearth
	Store    *storage.Store
	Notifier *notifier.Notifier
	Engine   *syncengine.Engine
	Log      *logrus.Logger
}

// jsonHandler is the uniform shape every route handler implements.
type jsonHandler func(req *http.Request) util.JSONResponse

// authedHandler is a handler that additionally requires a resolved
// (user_id, device_id).
type authedHandler func(req *http.Request, a *hauth.Authenticated) util.JSONResponse

// New builds the fully-wired router.
func New(deps *Deps) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, deps, httputil.Unrecognized(http.StatusNotFound, "Unrecognised request"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, deps, httputil.Unrecognized(http.StatusMethodNotAllowed, "Method not allowed on this path"))
	})

	// A plain matcher rather than Methods(OPTIONS): a method matcher on a
	// catch-all path would turn every unmatched path into a 405.
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.SetCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Handle("/metrics", promhttp.Handler())

	client := r.PathPrefix("/_matrix/client").Subrouter()
	media := r.PathPrefix("/_matrix/media").Subrouter()

	registerVersion(client, deps)
	registerAuth(client, deps)
	registerSync(client, deps)
	registerRooms(client, deps)
	registerMedia(media, deps)
	registerProfile(client, deps)
	registerAccountData(client, deps)
	registerReceipts(client, deps)
	registerMisc(client, deps)

	return r
}

// wrap turns a plain jsonHandler into an http.HandlerFunc that applies
// CORS headers, JSON encoding, request logging and a panic boundary that
// converts internal errors to 500 M_UNKNOWN.
func wrap(deps *Deps, name string, h jsonHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := func() (resp util.JSONResponse) {
			defer func() {
				if rec := recover(); rec != nil {
					deps.Log.WithField("route", name).WithField("panic", rec).Error("router: handler panicked")
					resp = util.JSONResponse{Code: http.StatusInternalServerError, JSON: spec.Unknown("Internal error")}
				}
			}()
			return h(req)
		}()
		respond(w, req, deps, resp)
	}
}

// wrapAuthed is wrap, additionally resolving the bearer token before
// calling the handler.
func wrapAuthed(deps *Deps, name string, h authedHandler) http.HandlerFunc {
	return wrap(deps, name, func(req *http.Request) util.JSONResponse {
		a, errResp := hauth.FromRequest(req, deps.Store)
		if errResp != nil {
			return *errResp
		}
		return h(req, a)
	})
}

func respond(w http.ResponseWriter, req *http.Request, deps *Deps, resp util.JSONResponse) {
	httputil.WriteJSONResponse(w, resp)
	metrics.RequestsTotal.WithLabelValues(req.URL.Path, strconv.Itoa(resp.Code)).Inc()
	if deps.Log.IsLevelEnabled(logrus.DebugLevel) {
		deps.Log.WithFields(logrus.Fields{
			"method": req.Method, "path": req.URL.Path, "status": resp.Code,
		}).Debug("router: request handled")
	}
}

func pathVar(req *http.Request, name string) string {
	return mux.Vars(req)[name]
}
