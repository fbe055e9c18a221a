// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package roomops

import (
	"net/http"
	"testing"

	"github.com/matrix-org/hearth/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom_PrivateChatDefaultsToInviteOnly(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)

	roomID, errResp := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{})
	require.Nil(t, errResp)

	joinRules := s.StateEvent(roomID, "m.room.join_rules", "")
	require.NotNil(t, joinRules)
	assert.Equal(t, "invite", joinRules.Content["join_rule"])

	member := s.StateEvent(roomID, storage.EventTypeMember, "@alice:test.example")
	require.NotNil(t, member)
	assert.Equal(t, storage.MembershipJoin, member.Content["membership"])
	assert.Equal(t, "Alice", member.Content["displayname"])
}

func TestCreateRoom_PublicChatPresetSetsPublicJoinRule(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)

	roomID, errResp := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})
	require.Nil(t, errResp)

	joinRules := s.StateEvent(roomID, "m.room.join_rules", "")
	require.NotNil(t, joinRules)
	assert.Equal(t, "public", joinRules.Content["join_rule"])
}

func TestCreateRoom_WithAliasRegistersIt(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)

	roomID, errResp := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{RoomAliasName: "myroom"})
	require.Nil(t, errResp)

	assert.Equal(t, roomID, s.ResolveAlias("#myroom:test.example"))
	canonical := s.StateEvent(roomID, "m.room.canonical_alias", "")
	require.NotNil(t, canonical)
	assert.Equal(t, "#myroom:test.example", canonical.Content["alias"])
}

func TestCreateRoom_InvitesEveryListedUser(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)

	roomID, errResp := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{
		Invite: []string{"@bob:test.example", "@carol:test.example"},
	})
	require.Nil(t, errResp)

	assert.Equal(t, storage.MembershipInvite, s.GetMembership(roomID, "@bob:test.example"))
	assert.Equal(t, storage.MembershipInvite, s.GetMembership(roomID, "@carol:test.example"))
}

func TestJoin_PublicRoomSucceedsWithoutInvite(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})

	joined, errResp := Join(s, roomID, "@bob:test.example")
	require.Nil(t, errResp)
	assert.Equal(t, roomID, joined)
	assert.Equal(t, storage.MembershipJoin, s.GetMembership(roomID, "@bob:test.example"))
}

func TestJoin_PrivateRoomRequiresInvite(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{})

	_, errResp := Join(s, roomID, "@bob:test.example")
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusForbidden, errResp.Code)
}

func TestJoin_IsIdempotentForAlreadyJoinedUser(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})

	_, errResp := Join(s, roomID, "@alice:test.example")
	assert.Nil(t, errResp)
}

func TestJoin_UnknownRoomOrAliasReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)

	_, errResp := Join(s, "!doesnotexist:test.example", "@bob:test.example")
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestKick_RequiresSenderPowerLevel(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})
	Join(s, roomID, "@bob:test.example")
	Join(s, roomID, "@carol:test.example")

	errResp := Kick(s, roomID, "@bob:test.example", "@carol:test.example", "")
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusForbidden, errResp.Code)

	errResp = Kick(s, roomID, "@alice:test.example", "@carol:test.example", "being noisy")
	assert.Nil(t, errResp)
	assert.Equal(t, storage.MembershipLeave, s.GetMembership(roomID, "@carol:test.example"))
}

func TestBanThenUnban_RoundTripsMembership(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})
	Join(s, roomID, "@bob:test.example")

	require.Nil(t, Ban(s, roomID, "@alice:test.example", "@bob:test.example", "spam"))
	assert.Equal(t, storage.MembershipBan, s.GetMembership(roomID, "@bob:test.example"))

	require.Nil(t, Unban(s, roomID, "@alice:test.example", "@bob:test.example"))
	assert.Equal(t, storage.MembershipLeave, s.GetMembership(roomID, "@bob:test.example"))
}

func TestUnban_RejectsNonBannedTarget(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})
	Join(s, roomID, "@bob:test.example")

	errResp := Unban(s, roomID, "@alice:test.example", "@bob:test.example")
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusForbidden, errResp.Code)
}

func TestLeave_RemovesMembership(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	roomID, _ := CreateRoom(s, "@alice:test.example", "Alice", &CreateRoomRequest{Preset: "public_chat"})
	Join(s, roomID, "@bob:test.example")

	require.Nil(t, Leave(s, roomID, "@bob:test.example"))
	assert.Equal(t, storage.MembershipLeave, s.GetMembership(roomID, "@bob:test.example"))
}
