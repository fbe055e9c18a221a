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
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/util"
)

func registerAccountData(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/user/{userID}/account_data/{type}", wrapAuthed(deps, "account_data_get", handleGetAccountData(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/user/{userID}/account_data/{type}", wrapAuthed(deps, "account_data_set", handleSetAccountData(deps))).Methods(http.MethodPut)
	r.HandleFunc("/v3/user/{userID}/rooms/{roomID}/account_data/{type}", wrapAuthed(deps, "room_account_data_get", handleGetRoomAccountData(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/user/{userID}/rooms/{roomID}/account_data/{type}", wrapAuthed(deps, "room_account_data_set", handleSetRoomAccountData(deps))).Methods(http.MethodPut)
}

func registerReceipts(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/rooms/{roomID}/receipt/{receiptType}/{eventID}", wrapAuthed(deps, "receipt", handleReceipt(deps))).Methods(http.MethodPost)
}

func handleGetAccountData(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot read another user's account data.")}
		}
		item := deps.Store.GetAccountData(a.UserID, "", pathVar(req, "type"))
		if item == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Account data not found.")}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: item.Content}
	}
}

func handleSetAccountData(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot set another user's account data.")}
		}
		var content map[string]interface{}
		if errResp := httputil.UnmarshalJSONRequest(req, &content); errResp != nil {
			return *errResp
		}
		deps.Store.SetAccountData(a.UserID, "", pathVar(req, "type"), content)
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleGetRoomAccountData(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot read another user's account data.")}
		}
		roomID := pathVar(req, "roomID")
		item := deps.Store.GetAccountData(a.UserID, roomID, pathVar(req, "type"))
		if item == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Account data not found.")}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: item.Content}
	}
}

func handleSetRoomAccountData(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		if pathVar(req, "userID") != a.UserID {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("Cannot set another user's account data.")}
		}
		roomID := pathVar(req, "roomID")
		var content map[string]interface{}
		if errResp := httputil.UnmarshalJSONRequest(req, &content); errResp != nil {
			return *errResp
		}
		deps.Store.SetAccountData(a.UserID, roomID, pathVar(req, "type"), content)
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleReceipt(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if deps.Store.GetMembership(roomID, a.UserID) != storage.MembershipJoin {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not joined to this room.")}
		}
		deps.Store.SetReceipt(roomID, pathVar(req, "receiptType"), a.UserID, pathVar(req, "eventID"))
		for _, member := range deps.Store.JoinedMembers(roomID) {
			deps.Store.NotifyUser(member)
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}
