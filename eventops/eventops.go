// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package eventops implements the two timeline-mutating operations a
// client issues directly: sending a new event into a room (with
// per-device txn idempotency) and redacting one already sent.
package eventops

import (
	"net/http"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/util"
)

// Send appends a client-authored event to roomID on behalf of sender,
// idempotently per (deviceID, txnID). A replay of a known (device, txn)
// pair returns the previously-minted event id without appending anything
// new. On success every joined member of the room is notified.
func Send(store *storage.Store, roomID, sender, deviceID, txnID, evType string, content map[string]interface{}) (string, *util.JSONResponse) {
	if store.GetMembership(roomID, sender) != storage.MembershipJoin {
		return "", &util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("You are not joined to this room."),
		}
	}

	if eventID, ok := store.GetDeviceTxn(deviceID, txnID); ok {
		return eventID, nil
	}

	ev := store.AddEvent(roomID, storage.PartialEvent{
		Type: evType, Sender: sender, Content: content,
	})
	if ev == nil {
		return "", &util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Unknown room."),
		}
	}
	store.SetDeviceTxn(deviceID, txnID, ev.EventID)

	for _, member := range store.JoinedMembers(roomID) {
		store.NotifyUser(member)
	}

	return ev.EventID, nil
}

// Redact appends an m.room.redaction event for targetEventID, then clears
// the target event's content and stamps unsigned.redacted_because. Every
// joined and invited member of the room is notified.
func Redact(store *storage.Store, roomID, sender, deviceID, txnID, targetEventID, reason string) (string, *util.JSONResponse) {
	if store.GetMembership(roomID, sender) != storage.MembershipJoin {
		return "", &util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("You are not joined to this room."),
		}
	}

	if eventID, ok := store.GetDeviceTxn(deviceID, txnID); ok {
		return eventID, nil
	}

	content := map[string]interface{}{"redacts": targetEventID}
	if reason != "" {
		content["reason"] = reason
	}
	redaction := store.AddEvent(roomID, storage.PartialEvent{
		Type: "m.room.redaction", Sender: sender, Content: content,
	})
	if redaction == nil {
		return "", &util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Unknown room."),
		}
	}
	store.SetDeviceTxn(deviceID, txnID, redaction.EventID)

	if store.GetEventByID(roomID, targetEventID) != nil {
		store.RedactEvent(roomID, targetEventID, redaction)
	}

	for _, member := range store.JoinedAndInvitedMembers(roomID) {
		store.NotifyUser(member)
	}

	return redaction.EventID, nil
}
