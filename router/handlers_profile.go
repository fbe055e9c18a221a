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

func registerProfile(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/profile/{userID}", wrap(deps, "profile", handleGetProfile(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/profile/{userID}/displayname", wrap(deps, "profile_displayname", handleGetDisplayName(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/profile/{userID}/displayname", wrapAuthed(deps, "profile_displayname", handleSetDisplayName(deps))).Methods(http.MethodPut)
	r.HandleFunc("/v3/profile/{userID}/avatar_url", wrap(deps, "profile_avatar", handleGetAvatarURL(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/profile/{userID}/avatar_url", wrapAuthed(deps, "profile_avatar", handleSetAvatarURL(deps))).Methods(http.MethodPut)
}

// profile is a point-in-time copy of a user's profile fields, read under
// the store's lock.
type profile struct {
	DisplayName string
	AvatarURL   string
}

func lookupUser(deps *Deps, userID string) *profile {
	dn, av, ok := deps.Store.Profile(localpartOf(userID))
	if !ok {
		return nil
	}
	return &profile{DisplayName: dn, AvatarURL: av}
}

func handleGetProfile(deps *Deps) jsonHandler {
	return func(req *http.Request) util.JSONResponse {
		u := lookupUser(deps, pathVar(req, "userID"))
		if u == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("The user was not found.")}
		}
		body := map[string]string{}
		if u.DisplayName != "" {
			body["displayname"] = u.DisplayName
		}
		if u.AvatarURL != "" {
			body["avatar_url"] = u.AvatarURL
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: body}
	}
}

func handleGetDisplayName(deps *Deps) jsonHandler {
	return func(req *http.Request) util.JSONResponse {
		u := lookupUser(deps, pathVar(req, "userID"))
		if u == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("The user was not found.")}
		}
		body := map[string]string{}
		if u.DisplayName != "" {
			body["displayname"] = u.DisplayName
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: body}
	}
}

func handleGetAvatarURL(deps *Deps) jsonHandler {
	return func(req *http.Request) util.JSONResponse {
		u := lookupUser(deps, pathVar(req, "userID"))
		if u == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("The user was not found.")}
		}
		body := map[string]string{}
		if u.AvatarURL != "" {
			body["avatar_url"] = u.AvatarURL
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: body}
	}
}

type displayNameRequest struct {
	DisplayName string `json:"displayname"`
}

func handleSetDisplayName(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot set another user's displayname.")}
		}
		var body displayNameRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if _, _, ok := deps.Store.Profile(localpartOf(a.UserID)); !ok {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("The user was not found.")}
		}
		deps.Store.SetUserProfile(localpartOf(a.UserID), &body.DisplayName, nil)
		deps.Store.UpdateMemberProfile(a.UserID, &body.DisplayName, nil)
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

type avatarURLRequest struct {
	AvatarURL string `json:"avatar_url"`
}

func handleSetAvatarURL(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot set another user's avatar_url.")}
		}
		var body avatarURLRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if _, _, ok := deps.Store.Profile(localpartOf(a.UserID)); !ok {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("The user was not found.")}
		}
		deps.Store.SetUserProfile(localpartOf(a.UserID), nil, &body.AvatarURL)
		deps.Store.UpdateMemberProfile(a.UserID, nil, &body.AvatarURL)
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}
