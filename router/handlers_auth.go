// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package router

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/gomatrixserverlib/spec"
	hauth "github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/httputil"
	"github.com/matrix-org/util"
)

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginRequest struct {
	Type                     string          `json:"type"`
	Identifier               loginIdentifier `json:"identifier"`
	User                     string          `json:"user"`
	Password                 string          `json:"password"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name"`
}

func (r *loginRequest) username() string {
	if r.Identifier.User != "" {
		return r.Identifier.User
	}
	return r.User
}

func registerAuth(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/login", wrap(deps, "login_flows", func(req *http.Request) util.JSONResponse {
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]interface{}{
				"flows": []map[string]string{{"type": "m.login.password"}},
			},
		}
	})).Methods(http.MethodGet)

	r.HandleFunc("/v3/login", wrap(deps, "login", handleLogin(deps))).Methods(http.MethodPost)

	r.HandleFunc("/v3/logout", wrapAuthed(deps, "logout", func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		deps.Store.RemoveDevice(a.DeviceID)
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	})).Methods(http.MethodPost)

	r.HandleFunc("/v3/account/whoami", wrapAuthed(deps, "whoami", func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]string{"user_id": a.UserID, "device_id": a.DeviceID},
		}
	})).Methods(http.MethodGet)
}

func handleLogin(deps *Deps) jsonHandler {
	return func(req *http.Request) util.JSONResponse {
		var body loginRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}

		localpart := body.username()
		if localpart == "" {
			return util.JSONResponse{Code: http.StatusBadRequest, JSON: spec.BadJSON("A username must be supplied.")}
		}
		// Accept both a bare localpart and a fully-qualified user id.
		if len(localpart) > 0 && localpart[0] == '@' {
			localpart = localpart[1:]
			for i, c := range localpart {
				if c == ':' {
					localpart = localpart[:i]
					break
				}
			}
		}

		user := deps.Store.UserByLocalpart(localpart)
		if user == nil || !hauth.CheckPassword(user.PasswordHash, body.Password) {
			return util.JSONResponse{
				Code: http.StatusForbidden,
				JSON: spec.Forbidden("The username or password was incorrect or the account does not exist."),
			}
		}

		device := deps.Store.CreateDevice(user.UserID, body.InitialDeviceDisplayName)

		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]string{
				"user_id":      user.UserID,
				"access_token": device.AccessToken,
				"device_id":    device.DeviceID,
				"home_server":  deps.Config.Global.ServerName,
			},
		}
	}
}
