// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package router

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"
)

func registerVersion(r *mux.Router, deps *Deps) {
	r.HandleFunc("/versions", wrap(deps, "versions", func(req *http.Request) util.JSONResponse {
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]interface{}{
				"versions": []string{
					"r0.6.1", "v1.1", "v1.2", "v1.3", "v1.4", "v1.5",
				},
				"unstable_features": map[string]bool{},
			},
		}
	})).Methods(http.MethodGet)
}

func registerMisc(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/voip/turnServer", wrap(deps, "turn_server", func(req *http.Request) util.JSONResponse {
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	})).Methods(http.MethodGet)

	r.HandleFunc("/v3/capabilities", wrap(deps, "capabilities", func(req *http.Request) util.JSONResponse {
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]interface{}{
				"capabilities": map[string]interface{}{
					"m.change_password": map[string]bool{"enabled": false},
					"m.room_versions": map[string]interface{}{
						"default": "10",
						"available": map[string]string{
							"10": "stable",
						},
					},
					"m.set_displayname": map[string]bool{"enabled": true},
				},
			},
		}
	})).Methods(http.MethodGet)

	resolveAlias := wrap(deps, "resolve_alias", func(req *http.Request) util.JSONResponse {
		alias := pathVar(req, "alias")
		return resolveAliasResponse(deps, alias)
	})
	r.HandleFunc("/v3/directory/room/{alias}", resolveAlias).Methods(http.MethodGet)
	r.HandleFunc("/v1/directory/room/{alias}", resolveAlias).Methods(http.MethodGet)
	r.HandleFunc("/r0/directory/room/{alias}", resolveAlias).Methods(http.MethodGet)
}
