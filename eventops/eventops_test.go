// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package eventops

import (
	"net/http"
	"testing"

	"github.com/matrix-org/hearth/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinRoom(s *storage.Store, roomID, userID string) {
	sk := userID
	s.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: userID,
		Content: map[string]interface{}{"membership": storage.MembershipJoin}, StateKey: &sk,
	})
}

func TestSend_RequiresJoinMembership(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")

	_, errResp := Send(s, room.RoomID, "@bob:test.example", "DEVICE", "txn1", "m.room.message", map[string]interface{}{"body": "hi"})
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusForbidden, errResp.Code)
}

func TestSend_IsIdempotentPerDeviceTxn(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example")
	// The txn map lives on the Device record, so the device must exist.
	d := s.CreateDevice("@alice:test.example", "phone")

	id1, errResp := Send(s, room.RoomID, "@alice:test.example", d.DeviceID, "txn1", "m.room.message", map[string]interface{}{"body": "hi"})
	require.Nil(t, errResp)

	id2, errResp := Send(s, room.RoomID, "@alice:test.example", d.DeviceID, "txn1", "m.room.message", map[string]interface{}{"body": "hi again"})
	require.Nil(t, errResp)

	assert.Equal(t, id1, id2)
	assert.Len(t, s.GetTimeline(room.RoomID, 0), 2) // the join event plus one send, not two
}

func TestSend_DifferentDevicesDoNotShareTxnDedup(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example")

	id1, errResp := Send(s, room.RoomID, "@alice:test.example", "DEVICE_A", "txn1", "m.room.message", map[string]interface{}{"body": "hi"})
	require.Nil(t, errResp)
	id2, errResp := Send(s, room.RoomID, "@alice:test.example", "DEVICE_B", "txn1", "m.room.message", map[string]interface{}{"body": "hi"})
	require.Nil(t, errResp)

	assert.NotEqual(t, id1, id2)
}

func TestRedact_ClearsTargetEventContent(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example")

	eventID, errResp := Send(s, room.RoomID, "@alice:test.example", "DEVICE", "txn1", "m.room.message", map[string]interface{}{"body": "secret"})
	require.Nil(t, errResp)

	_, errResp = Redact(s, room.RoomID, "@alice:test.example", "DEVICE", "txn2", eventID, "oops")
	require.Nil(t, errResp)

	ev := s.GetEventByID(room.RoomID, eventID)
	require.NotNil(t, ev)
	assert.Empty(t, ev.Content)
	assert.NotNil(t, ev.Unsigned["redacted_because"])
}

func TestRedact_RequiresJoinMembership(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")

	_, errResp := Redact(s, room.RoomID, "@bob:test.example", "DEVICE", "txn1", "$nonexistent:test.example", "")
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusForbidden, errResp.Code)
}
