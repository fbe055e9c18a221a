// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) NotifyUser(userID string) {
	f.notified = append(f.notified, userID)
}

func newTestStore() *Store {
	return New("test.example", &fakeNotifier{}, nil)
}

func TestAddEvent_AdvancesSeqAndInstallsState(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	room := s.CreateRoom("@alice:test.example")

	sk := ""
	ev := s.AddEvent(room.RoomID, PartialEvent{
		Type: "m.room.name", Sender: "@alice:test.example",
		Content: map[string]interface{}{"name": "hi"}, StateKey: &sk,
	})
	require.NotNil(t, ev)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, ev, s.StateEvent(room.RoomID, "m.room.name", ""))
	assert.Len(t, s.GetTimeline(room.RoomID, 0), 1)
}

func TestAddEvent_UnknownRoomReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	ev := s.AddEvent("!missing:test.example", PartialEvent{Type: "m.room.message", Sender: "@alice:test.example"})
	assert.Nil(t, ev)
}

func TestGetTimeline_SinceSeqFiltersCorrectly(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	room := s.CreateRoom("@alice:test.example")
	for i := 0; i < 3; i++ {
		s.AddEvent(room.RoomID, PartialEvent{Type: "m.room.message", Sender: "@alice:test.example", Content: map[string]interface{}{}})
	}
	full := s.GetTimeline(room.RoomID, 0)
	require.Len(t, full, 3)

	since := s.GetTimeline(room.RoomID, full[0].Seq)
	assert.Len(t, since, 2)
}

func TestRedactEvent_ClearsContentAndStampsUnsigned(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	room := s.CreateRoom("@alice:test.example")
	ev := s.AddEvent(room.RoomID, PartialEvent{
		Type: "m.room.message", Sender: "@alice:test.example",
		Content: map[string]interface{}{"body": "secret"},
	})
	redaction := s.AddEvent(room.RoomID, PartialEvent{
		Type: "m.room.redaction", Sender: "@alice:test.example",
		Content: map[string]interface{}{"redacts": ev.EventID},
	})

	redacted := s.RedactEvent(room.RoomID, ev.EventID, redaction)
	require.NotNil(t, redacted)
	assert.Empty(t, redacted.Content)
	assert.Equal(t, redaction, redacted.Unsigned["redacted_because"])
}

func TestDeviceTxn_RoundTrips(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	d := s.CreateDevice("@alice:test.example", "phone")

	_, ok := s.GetDeviceTxn(d.DeviceID, "txn1")
	assert.False(t, ok)

	s.SetDeviceTxn(d.DeviceID, "txn1", "$event:test.example")
	eventID, ok := s.GetDeviceTxn(d.DeviceID, "txn1")
	require.True(t, ok)
	assert.Equal(t, "$event:test.example", eventID)
}

func TestGetRoomsForUser_FiltersByMembershipAndSortsDeterministically(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	r1 := s.CreateRoom("@alice:test.example")
	r2 := s.CreateRoom("@alice:test.example")

	sk := "@alice:test.example"
	s.AddEvent(r1.RoomID, PartialEvent{Type: EventTypeMember, Sender: "@alice:test.example", Content: map[string]interface{}{"membership": MembershipJoin}, StateKey: &sk})
	s.AddEvent(r2.RoomID, PartialEvent{Type: EventTypeMember, Sender: "@alice:test.example", Content: map[string]interface{}{"membership": MembershipInvite}, StateKey: &sk})

	joined := s.GetRoomsForUser("@alice:test.example", MembershipJoin)
	require.Len(t, joined, 1)
	assert.Equal(t, r1.RoomID, joined[0].RoomID)

	invited := s.GetRoomsForUser("@alice:test.example", MembershipInvite)
	require.Len(t, invited, 1)
	assert.Equal(t, r2.RoomID, invited[0].RoomID)
}

func TestSetAccountData_NotifiesAfterUnlocking(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	s := New("test.example", n, nil)

	s.SetAccountData("@alice:test.example", "", "m.direct", map[string]interface{}{"foo": "bar"})

	assert.Equal(t, []string{"@alice:test.example"}, n.notified)
	item := s.GetAccountData("@alice:test.example", "", "m.direct")
	require.NotNil(t, item)
	assert.Equal(t, "bar", item.Content["foo"])
}

func TestAccountDataSince_OnlyReturnsNewerEntries(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	s.SetAccountData("@alice:test.example", "", "m.first", map[string]interface{}{})
	mark := s.GlobalSeq()
	s.SetAccountData("@alice:test.example", "", "m.second", map[string]interface{}{})

	items := s.AccountDataSince("@alice:test.example", mark)
	require.Len(t, items, 1)
	assert.Equal(t, "m.second", items[0].Type)
}

func TestSetAlias_RejectsConflictingOwner(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	r1 := s.CreateRoom("@alice:test.example")
	r2 := s.CreateRoom("@alice:test.example")

	assert.True(t, s.SetAlias("#room:test.example", r1.RoomID))
	assert.False(t, s.SetAlias("#room:test.example", r2.RoomID))
	assert.Equal(t, r1.RoomID, s.ResolveAlias("#room:test.example"))
}

func TestUpdateMemberProfile_ReappendsMemberEventInEveryJoinedRoom(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	room := s.CreateRoom("@alice:test.example")
	sk := "@alice:test.example"
	s.AddEvent(room.RoomID, PartialEvent{Type: EventTypeMember, Sender: "@alice:test.example", Content: map[string]interface{}{"membership": MembershipJoin}, StateKey: &sk})

	name := "Alice In Wonderland"
	touched := s.UpdateMemberProfile("@alice:test.example", &name, nil)
	require.Len(t, touched, 1)

	ev := s.StateEvent(room.RoomID, EventTypeMember, "@alice:test.example")
	require.NotNil(t, ev)
	assert.Equal(t, name, ev.Content["displayname"])
	assert.Equal(t, MembershipJoin, ev.Content["membership"])
}

func TestSetUserProfile_LeavesUnspecifiedFieldUnchanged(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	s.LoadUser(&User{Localpart: "alice", UserID: "@alice:test.example", DisplayName: "Alice"})

	avatar := "mxc://test.example/abc"
	s.SetUserProfile("alice", nil, &avatar)

	dn, av, ok := s.Profile("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", dn)
	assert.Equal(t, avatar, av)
}
