// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package router

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/matrix-org/gomatrixserverlib/spec"
	hauth "github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/eventops"
	"github.com/matrix-org/hearth/httputil"
	"github.com/matrix-org/hearth/roomops"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/hearth/syncengine"
	"github.com/matrix-org/util"
)

func registerRooms(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/createRoom", wrapAuthed(deps, "create_room", handleCreateRoom(deps))).Methods(http.MethodPost)

	r.HandleFunc("/v3/join/{idOrAlias}", wrapAuthed(deps, "join", handleJoin(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/join", wrapAuthed(deps, "join", handleJoin(deps))).Methods(http.MethodPost)

	r.HandleFunc("/v3/rooms/{roomID}/invite", wrapAuthed(deps, "invite", handleInvite(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/leave", wrapAuthed(deps, "leave", handleLeave(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/kick", wrapAuthed(deps, "kick", handleKick(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/ban", wrapAuthed(deps, "ban", handleBan(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/unban", wrapAuthed(deps, "unban", handleUnban(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/rooms/{roomID}/forget", wrapAuthed(deps, "forget", func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	})).Methods(http.MethodPost)

	r.HandleFunc("/v3/rooms/{roomID}/send/{eventType}/{txnID}", wrapAuthed(deps, "send", handleSend(deps))).Methods(http.MethodPut)
	r.HandleFunc("/v3/rooms/{roomID}/redact/{eventID}/{txnID}", wrapAuthed(deps, "redact", handleRedact(deps))).Methods(http.MethodPut)
	r.HandleFunc("/v3/rooms/{roomID}/state/{eventType}/{stateKey}", wrapAuthed(deps, "send_state", handleSendState(deps))).Methods(http.MethodPut)
	r.HandleFunc("/v3/rooms/{roomID}/state/{eventType}", wrapAuthed(deps, "send_state", handleSendState(deps))).Methods(http.MethodPut)

	r.HandleFunc("/v3/rooms/{roomID}/state/{eventType}/{stateKey}", wrapAuthed(deps, "get_state_key", handleGetStateKey(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/rooms/{roomID}/state/{eventType}", wrapAuthed(deps, "get_state_key", handleGetStateKey(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/rooms/{roomID}/state", wrapAuthed(deps, "get_state", handleGetState(deps))).Methods(http.MethodGet)

	r.HandleFunc("/v3/rooms/{roomID}/event/{eventID}", wrapAuthed(deps, "get_event", handleGetEvent(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/rooms/{roomID}/messages", wrapAuthed(deps, "messages", handleMessages(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/rooms/{roomID}/members", wrapAuthed(deps, "members", handleMembers(deps))).Methods(http.MethodGet)
	r.HandleFunc("/v3/rooms/{roomID}/joined_members", wrapAuthed(deps, "joined_members", handleJoinedMembers(deps))).Methods(http.MethodGet)
}

func handleCreateRoom(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		var body roomops.CreateRoomRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		displayName, _, _ := deps.Store.Profile(localpartOf(a.UserID))
		roomID, errResp := roomops.CreateRoom(deps.Store, a.UserID, displayName, &body)
		if errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]string{"room_id": roomID}}
	}
}

func handleJoin(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		idOrAlias := pathVar(req, "idOrAlias")
		if idOrAlias == "" {
			idOrAlias = pathVar(req, "roomID")
		}
		roomID, errResp := roomops.Join(deps.Store, idOrAlias, a.UserID)
		if errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]string{"room_id": roomID}}
	}
}

type memberTargetRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func handleInvite(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		var body memberTargetRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if errResp := roomops.Invite(deps.Store, roomID, a.UserID, body.UserID, body.Reason); errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleLeave(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if errResp := roomops.Leave(deps.Store, roomID, a.UserID); errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleKick(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		var body memberTargetRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if errResp := roomops.Kick(deps.Store, roomID, a.UserID, body.UserID, body.Reason); errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleBan(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		var body memberTargetRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if errResp := roomops.Ban(deps.Store, roomID, a.UserID, body.UserID, body.Reason); errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleUnban(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		var body memberTargetRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		if errResp := roomops.Unban(deps.Store, roomID, a.UserID, body.UserID); errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{}}
	}
}

func handleSend(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		evType := pathVar(req, "eventType")
		txnID := pathVar(req, "txnID")
		var content map[string]interface{}
		if errResp := httputil.UnmarshalJSONRequest(req, &content); errResp != nil {
			return *errResp
		}
		eventID, errResp := eventops.Send(deps.Store, roomID, a.UserID, a.DeviceID, txnID, evType, content)
		if errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]string{"event_id": eventID}}
	}
}

type redactRequest struct {
	Reason string `json:"reason"`
}

func handleRedact(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		targetEventID := pathVar(req, "eventID")
		txnID := pathVar(req, "txnID")
		var body redactRequest
		if errResp := httputil.UnmarshalJSONRequest(req, &body); errResp != nil {
			return *errResp
		}
		eventID, errResp := eventops.Redact(deps.Store, roomID, a.UserID, a.DeviceID, txnID, targetEventID, body.Reason)
		if errResp != nil {
			return *errResp
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]string{"event_id": eventID}}
	}
}

func handleSendState(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		evType := pathVar(req, "eventType")
		stateKey := pathVar(req, "stateKey")
		var content map[string]interface{}
		if errResp := httputil.UnmarshalJSONRequest(req, &content); errResp != nil {
			return *errResp
		}
		if deps.Store.GetMembership(roomID, a.UserID) != storage.MembershipJoin {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not joined to this room.")}
		}
		sk := stateKey
		ev := deps.Store.AddEvent(roomID, storage.PartialEvent{
			Type: evType, Sender: a.UserID, Content: content, StateKey: &sk,
		})
		if ev == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Unknown room.")}
		}
		for _, member := range deps.Store.JoinedMembers(roomID) {
			deps.Store.NotifyUser(member)
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]string{"event_id": ev.EventID}}
	}
}

func handleGetStateKey(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		evType := pathVar(req, "eventType")
		stateKey := pathVar(req, "stateKey")
		if deps.Store.GetMembership(roomID, a.UserID) == "" {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
		}
		ev := deps.Store.StateEvent(roomID, evType, stateKey)
		if ev == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Event not found.")}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: ev.Content}
	}
}

func handleGetState(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if deps.Store.GetMembership(roomID, a.UserID) == "" {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
		}
		events := deps.Store.CurrentState(roomID)
		out := make([]syncengine.ClientEvent, 0, len(events))
		for _, ev := range events {
			out = append(out, syncengine.EventForWire(ev))
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: out}
	}
}

func handleGetEvent(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		eventID := pathVar(req, "eventID")
		if deps.Store.GetMembership(roomID, a.UserID) == "" {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
		}
		ev := deps.Store.GetEventByID(roomID, eventID)
		if ev == nil {
			return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Event not found.")}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: syncengine.EventForWire(ev)}
	}
}

// handleMessages implements a simplified /messages: the whole timeline is
// kept in memory, so pagination is a plain slice window over it rather
// than a token into on-disk storage. "b" (backwards, the default) returns
// the newest `limit` events before `from`; "f" returns the oldest `limit`
// events after `from`.
func handleMessages(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if deps.Store.GetMembership(roomID, a.UserID) == "" {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
		}
		q := req.URL.Query()
		dir := q.Get("dir")
		if dir == "" {
			dir = "b"
		}
		limit := 10
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
			limit = l
		}

		all := deps.Store.GetTimeline(roomID, 0)
		var fromSeq int64 = -1
		if from := q.Get("from"); from != "" {
			if seq, has, err := syncengine.ParseSince(from); err == nil && has {
				fromSeq = seq
			}
		}

		var window []*storage.Event
		if dir == "f" {
			for _, ev := range all {
				if fromSeq >= 0 && ev.Seq <= fromSeq {
					continue
				}
				window = append(window, ev)
				if len(window) >= limit {
					break
				}
			}
		} else {
			for i := len(all) - 1; i >= 0; i-- {
				ev := all[i]
				if fromSeq >= 0 && ev.Seq >= fromSeq {
					continue
				}
				window = append(window, ev)
				if len(window) >= limit {
					break
				}
			}
		}

		events := make([]syncengine.ClientEvent, 0, len(window))
		var startSeq, endSeq int64
		for i, ev := range window {
			events = append(events, syncengine.EventForWire(ev))
			if i == 0 {
				startSeq = ev.Seq
			}
			endSeq = ev.Seq
		}
		if fromSeq >= 0 {
			startSeq = fromSeq
		} else if len(all) > 0 {
			startSeq = all[len(all)-1].Seq
			if dir == "f" {
				startSeq = 0
			}
		}

		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]interface{}{
				"chunk": events,
				"start": "s" + strconv.FormatInt(startSeq, 10),
				"end":   "s" + strconv.FormatInt(endSeq, 10),
			},
		}
	}
}

func handleMembers(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if deps.Store.GetMembership(roomID, a.UserID) == "" {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
		}
		var out []syncengine.ClientEvent
		for _, ev := range deps.Store.CurrentState(roomID) {
			if ev.Type == storage.EventTypeMember {
				out = append(out, syncengine.EventForWire(ev))
			}
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{"chunk": out}}
	}
}

func handleJoinedMembers(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		roomID := pathVar(req, "roomID")
		if deps.Store.GetMembership(roomID, a.UserID) != storage.MembershipJoin {
			return util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not joined to this room.")}
		}
		joined := map[string]interface{}{}
		for _, userID := range deps.Store.JoinedMembers(roomID) {
			ev := deps.Store.StateEvent(roomID, storage.EventTypeMember, userID)
			entry := map[string]interface{}{}
			if ev != nil {
				if dn, ok := ev.Content["displayname"]; ok {
					entry["display_name"] = dn
				}
				if av, ok := ev.Content["avatar_url"]; ok {
					entry["avatar_url"] = av
				}
			}
			joined[userID] = entry
		}
		return util.JSONResponse{Code: http.StatusOK, JSON: map[string]interface{}{"joined": joined}}
	}
}

func resolveAliasResponse(deps *Deps, alias string) util.JSONResponse {
	roomID, ok := roomops.ResolveAlias(deps.Store, alias)
	if !ok {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Room alias not found.")}
	}
	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: map[string]interface{}{
			"room_id": roomID,
			"servers": []string{deps.Config.Global.ServerName},
		},
	}
}

// localpartOf strips the @ sigil and :server_name suffix from a user id.
func localpartOf(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	for i, c := range s {
		if c == ':' {
			return s[:i]
		}
	}
	return s
}
