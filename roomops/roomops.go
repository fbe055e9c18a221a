// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package roomops implements room lifecycle operations: creation with its
// preset state bundle, join/invite/leave/kick/ban membership transitions,
// and alias resolution.
package roomops

import (
	"net/http"
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/util"
)

// CreateRoomRequest mirrors the body of POST /createRoom.
type CreateRoomRequest struct {
	Visibility                string                 `json:"visibility"`
	RoomAliasName             string                 `json:"room_alias_name"`
	Name                      string                 `json:"name"`
	Topic                     string                 `json:"topic"`
	Invite                    []string               `json:"invite"`
	Preset                    string                 `json:"preset"`
	IsDirect                  bool                   `json:"is_direct"`
	InitialState              []InitialStateEvent    `json:"initial_state"`
	CreationContent           map[string]interface{} `json:"creation_content"`
	PowerLevelContentOverride map[string]interface{} `json:"power_level_content_override"`
}

// InitialStateEvent is one entry of the initial_state array.
type InitialStateEvent struct {
	Type     string                 `json:"type"`
	StateKey string                 `json:"state_key"`
	Content  map[string]interface{} `json:"content"`
}

func effectivePreset(req *CreateRoomRequest) string {
	if req.Preset != "" {
		return req.Preset
	}
	if req.Visibility == "public" {
		return "public_chat"
	}
	return "private_chat"
}

func presetJoinRuleBundle(preset string) (joinRule, historyVis, guestAccess string) {
	if preset == "public_chat" {
		return "public", "shared", "forbidden"
	}
	return "invite", "shared", "can_join"
}

func defaultPowerLevels(creator string, invite []string, preset string) map[string]interface{} {
	users := map[string]interface{}{creator: 100}
	if preset == "trusted_private_chat" {
		for _, u := range invite {
			users[u] = 100
		}
	}
	return map[string]interface{}{
		"users":          users,
		"users_default":  0,
		"events_default": 0,
		"state_default":  50,
		"ban":            50,
		"kick":           50,
		"redact":         50,
		"invite":         0,
	}
}

func powerLevelOf(store *storage.Store, roomID, userID string) int {
	ev := store.StateEvent(roomID, "m.room.power_levels", "")
	if ev == nil {
		return 0
	}
	if users, ok := ev.Content["users"].(map[string]interface{}); ok {
		if lvl, ok := users[userID]; ok {
			return toInt(lvl)
		}
	}
	if d, ok := ev.Content["users_default"]; ok {
		return toInt(d)
	}
	return 0
}

func requiredPowerLevel(store *storage.Store, roomID, key string, fallback int) int {
	ev := store.StateEvent(roomID, "m.room.power_levels", "")
	if ev == nil {
		return fallback
	}
	if v, ok := ev.Content[key]; ok {
		return toInt(v)
	}
	return fallback
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// CreateRoom builds a fresh room and appends the preset's state bundle in
// order, one AddEvent call per state event, then notifies the creator and
// every invitee.
func CreateRoom(store *storage.Store, creatorUserID, creatorDisplayName string, req *CreateRoomRequest) (string, *util.JSONResponse) {
	preset := effectivePreset(req)
	room := store.CreateRoom(creatorUserID)

	createContent := map[string]interface{}{
		"creator":      creatorUserID,
		"room_version": "10",
	}
	for k, v := range req.CreationContent {
		createContent[k] = v
	}
	createKey := ""
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: "m.room.create", Sender: creatorUserID, Content: createContent, StateKey: &createKey,
	})

	joinRule, historyVis, guestAccess := presetJoinRuleBundle(preset)
	emptyKey := ""
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: "m.room.join_rules", Sender: creatorUserID,
		Content: map[string]interface{}{"join_rule": joinRule}, StateKey: &emptyKey,
	})
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: "m.room.history_visibility", Sender: creatorUserID,
		Content: map[string]interface{}{"history_visibility": historyVis}, StateKey: &emptyKey,
	})
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: "m.room.guest_access", Sender: creatorUserID,
		Content: map[string]interface{}{"guest_access": guestAccess}, StateKey: &emptyKey,
	})

	powerLevels := defaultPowerLevels(creatorUserID, req.Invite, preset)
	for k, v := range req.PowerLevelContentOverride {
		powerLevels[k] = v
	}
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: "m.room.power_levels", Sender: creatorUserID, Content: powerLevels, StateKey: &emptyKey,
	})

	memberContent := map[string]interface{}{
		"membership":  storage.MembershipJoin,
		"displayname": creatorDisplayName,
	}
	if req.IsDirect {
		memberContent["is_direct"] = true
	}
	creatorKey := creatorUserID
	store.AddEvent(room.RoomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: creatorUserID, Content: memberContent, StateKey: &creatorKey,
	})

	if req.Name != "" {
		store.AddEvent(room.RoomID, storage.PartialEvent{
			Type: "m.room.name", Sender: creatorUserID,
			Content: map[string]interface{}{"name": req.Name}, StateKey: &emptyKey,
		})
	}
	if req.Topic != "" {
		store.AddEvent(room.RoomID, storage.PartialEvent{
			Type: "m.room.topic", Sender: creatorUserID,
			Content: map[string]interface{}{"topic": req.Topic}, StateKey: &emptyKey,
		})
	}

	if req.RoomAliasName != "" {
		alias := "#" + req.RoomAliasName + ":" + store.ServerName()
		if store.SetAlias(alias, room.RoomID) {
			store.AddEvent(room.RoomID, storage.PartialEvent{
				Type: "m.room.canonical_alias", Sender: creatorUserID,
				Content: map[string]interface{}{"alias": alias}, StateKey: &emptyKey,
			})
		}
	}

	for _, is := range req.InitialState {
		sk := is.StateKey
		store.AddEvent(room.RoomID, storage.PartialEvent{
			Type: is.Type, Sender: creatorUserID, Content: is.Content, StateKey: &sk,
		})
	}

	for _, invitee := range req.Invite {
		content := map[string]interface{}{"membership": storage.MembershipInvite}
		if req.IsDirect {
			content["is_direct"] = true
		}
		sk := invitee
		store.AddEvent(room.RoomID, storage.PartialEvent{
			Type: storage.EventTypeMember, Sender: creatorUserID, Content: content, StateKey: &sk,
		})
	}

	store.NotifyUser(creatorUserID)
	for _, invitee := range req.Invite {
		store.NotifyUser(invitee)
	}

	return room.RoomID, nil
}

// resolveRoomIDOrAlias resolves a path segment that may be a room id
// (starts with !) or an alias (starts with #) into a room id.
func resolveRoomIDOrAlias(store *storage.Store, idOrAlias string) (string, bool) {
	if strings.HasPrefix(idOrAlias, "#") {
		roomID := store.ResolveAlias(idOrAlias)
		return roomID, roomID != ""
	}
	return idOrAlias, store.GetRoom(idOrAlias) != nil
}

// Join resolves idOrAlias and, unless the user is already joined, applies
// the join membership transition after checking the room's join rules.
func Join(store *storage.Store, idOrAlias, userID string) (string, *util.JSONResponse) {
	roomID, ok := resolveRoomIDOrAlias(store, idOrAlias)
	if !ok {
		return "", &util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Room not found.")}
	}

	if store.GetMembership(roomID, userID) == storage.MembershipJoin {
		return roomID, nil
	}

	membership := store.GetMembership(roomID, userID)
	joinRuleEv := store.StateEvent(roomID, "m.room.join_rules", "")
	publicJoin := joinRuleEv != nil && joinRuleEv.Content["join_rule"] == "public"
	if membership != storage.MembershipInvite && !publicJoin {
		return "", &util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("You are not invited to this room."),
		}
	}

	sk := userID
	store.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: userID,
		Content: map[string]interface{}{"membership": storage.MembershipJoin}, StateKey: &sk,
	})

	for _, member := range store.JoinedAndInvitedMembers(roomID) {
		store.NotifyUser(member)
	}

	return roomID, nil
}

// Invite appends an invite membership event for target, requiring sender
// to already be joined.
func Invite(store *storage.Store, roomID, sender, target, reason string) *util.JSONResponse {
	if store.GetMembership(roomID, sender) != storage.MembershipJoin {
		return &util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not joined to this room.")}
	}
	content := map[string]interface{}{"membership": storage.MembershipInvite}
	if reason != "" {
		content["reason"] = reason
	}
	sk := target
	store.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: sender, Content: content, StateKey: &sk,
	})
	store.NotifyUser(target)
	return nil
}

// Leave appends a leave membership event for the caller, requiring a
// current membership of join or invite.
func Leave(store *storage.Store, roomID, userID string) *util.JSONResponse {
	m := store.GetMembership(roomID, userID)
	if m != storage.MembershipJoin && m != storage.MembershipInvite {
		return &util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not in this room.")}
	}
	before := store.JoinedAndInvitedMembers(roomID)
	sk := userID
	store.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: userID,
		Content: map[string]interface{}{"membership": storage.MembershipLeave}, StateKey: &sk,
	})
	for _, member := range before {
		store.NotifyUser(member)
	}
	store.NotifyUser(userID)
	return nil
}

// changeMembership is the shared implementation behind Kick/Ban/Unban:
// sender must hold the room's required power level for the transition.
func changeMembership(store *storage.Store, roomID, sender, target, newMembership, reason, powerLevelKey string, fallback int) *util.JSONResponse {
	if store.GetMembership(roomID, sender) != storage.MembershipJoin {
		return &util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You are not joined to this room.")}
	}
	required := requiredPowerLevel(store, roomID, powerLevelKey, fallback)
	if powerLevelOf(store, roomID, sender) < required {
		return &util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("You do not have permission to do that.")}
	}
	content := map[string]interface{}{"membership": newMembership}
	if reason != "" {
		content["reason"] = reason
	}
	members := store.JoinedAndInvitedMembers(roomID)
	sk := target
	store.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: sender, Content: content, StateKey: &sk,
	})
	for _, m := range members {
		store.NotifyUser(m)
	}
	store.NotifyUser(target)
	return nil
}

// Kick transitions target to leave, requiring sender's power level to
// meet the room's kick threshold.
func Kick(store *storage.Store, roomID, sender, target, reason string) *util.JSONResponse {
	return changeMembership(store, roomID, sender, target, storage.MembershipLeave, reason, "kick", 50)
}

// Ban transitions target to ban, requiring sender's power level to meet
// the room's ban threshold.
func Ban(store *storage.Store, roomID, sender, target, reason string) *util.JSONResponse {
	return changeMembership(store, roomID, sender, target, storage.MembershipBan, reason, "ban", 50)
}

// Unban reverses a ban back to leave, under the same power requirement.
func Unban(store *storage.Store, roomID, sender, target string) *util.JSONResponse {
	if store.GetMembership(roomID, target) != storage.MembershipBan {
		return &util.JSONResponse{Code: http.StatusForbidden, JSON: spec.Forbidden("That user is not banned.")}
	}
	return changeMembership(store, roomID, sender, target, storage.MembershipLeave, "", "ban", 50)
}

// ResolveAlias returns the room id an alias points to.
func ResolveAlias(store *storage.Store, alias string) (string, bool) {
	roomID := store.ResolveAlias(alias)
	return roomID, roomID != ""
}
