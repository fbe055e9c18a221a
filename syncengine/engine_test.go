// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/matrix-org/hearth/notifier"
	"github.com/matrix-org/hearth/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinRoom(s *storage.Store, roomID, userID, membership string) {
	sk := userID
	s.AddEvent(roomID, storage.PartialEvent{
		Type: storage.EventTypeMember, Sender: userID,
		Content: map[string]interface{}{"membership": membership}, StateKey: &sk,
	})
}

func TestParseSince_EmptyTokenMeansNoSince(t *testing.T) {
	t.Parallel()
	seq, has, err := ParseSince("")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, int64(0), seq)
}

func TestParseSince_ParsesValidCursor(t *testing.T) {
	t.Parallel()
	seq, has, err := ParseSince("s42")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, int64(42), seq)
}

func TestParseSince_RejectsMalformedCursor(t *testing.T) {
	t.Parallel()
	_, _, err := ParseSince("not-a-cursor")
	assert.Error(t, err)
}

func TestSync_InitialSyncReturnsFullStateAndTimeline(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)
	s.AddEvent(room.RoomID, storage.PartialEvent{Type: "m.room.message", Sender: "@alice:test.example", Content: map[string]interface{}{"body": "hi"}})

	e := New(s, n)
	resp, err := e.Sync(context.Background(), "@alice:test.example", "", 0, false)
	require.NoError(t, err)

	jr, ok := resp.Rooms.Join[room.RoomID]
	require.True(t, ok)
	assert.Len(t, jr.Timeline.Events, 2) // member event + message
	assert.NotEmpty(t, jr.State.Events)
	assert.NotEmpty(t, resp.NextBatch)
}

func TestSync_IncrementalSyncWithNoChangesTimesOutAndReturnsEmpty(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)

	e := New(s, n)
	initial, err := e.Sync(context.Background(), "@alice:test.example", "", 0, false)
	require.NoError(t, err)

	start := time.Now()
	resp, err := e.Sync(context.Background(), "@alice:test.example", initial.NextBatch, 30*time.Millisecond, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Empty(t, resp.Rooms.Join)
}

func TestSync_IncrementalSyncWakesOnNewEvent(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)

	e := New(s, n)
	initial, err := e.Sync(context.Background(), "@alice:test.example", "", 0, false)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.AddEvent(room.RoomID, storage.PartialEvent{Type: "m.room.message", Sender: "@alice:test.example", Content: map[string]interface{}{"body": "hi"}})
		n.NotifyUser("@alice:test.example")
	}()

	resp, err := e.Sync(context.Background(), "@alice:test.example", initial.NextBatch, time.Second, false)
	require.NoError(t, err)
	jr, ok := resp.Rooms.Join[room.RoomID]
	require.True(t, ok)
	assert.Len(t, jr.Timeline.Events, 1)
}

func TestSync_FullStateWithSincePreservesIncrementalTimelineWindow(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)

	e := New(s, n)
	initial, err := e.Sync(context.Background(), "@alice:test.example", "", 0, false)
	require.NoError(t, err)

	s.AddEvent(room.RoomID, storage.PartialEvent{Type: "m.room.message", Sender: "@alice:test.example", Content: map[string]interface{}{"body": "hi"}})

	resp, err := e.Sync(context.Background(), "@alice:test.example", initial.NextBatch, 0, true)
	require.NoError(t, err)
	jr, ok := resp.Rooms.Join[room.RoomID]
	require.True(t, ok)
	// Only the new message, not the full timeline -- full_state changes the
	// *state* shape, not the timeline window.
	assert.Len(t, jr.Timeline.Events, 1)
	// But state.events should carry the full current state snapshot.
	assert.NotEmpty(t, jr.State.Events)
}

func TestSync_InviteAppearsUntilSinceSeqPassesIt(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)
	joinRoom(s, room.RoomID, "@bob:test.example", storage.MembershipInvite)

	e := New(s, n)
	resp, err := e.Sync(context.Background(), "@bob:test.example", "", 0, false)
	require.NoError(t, err)

	_, ok := resp.Rooms.Invite[room.RoomID]
	assert.True(t, ok)

	again, err := e.Sync(context.Background(), "@bob:test.example", resp.NextBatch, 0, false)
	require.NoError(t, err)
	_, ok = again.Rooms.Invite[room.RoomID]
	assert.False(t, ok)
}

func TestSync_RoomAccountDataStaysOutOfGlobalBlock(t *testing.T) {
	t.Parallel()
	n := notifier.New()
	s := storage.New("test.example", n, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)

	e := New(s, n)
	initial, err := e.Sync(context.Background(), "@alice:test.example", "", 0, false)
	require.NoError(t, err)

	s.SetAccountData("@alice:test.example", room.RoomID, "m.fully_read", map[string]interface{}{"event_id": "$x:test.example"})
	s.SetAccountData("@alice:test.example", "", "m.direct", map[string]interface{}{})

	resp, err := e.Sync(context.Background(), "@alice:test.example", initial.NextBatch, 0, false)
	require.NoError(t, err)
	require.Len(t, resp.AccountData.Events, 1)
	assert.Equal(t, "m.direct", resp.AccountData.Events[0].Type)
}

func TestBuildSummary_ExcludesSelfFromHeroes(t *testing.T) {
	t.Parallel()
	s := storage.New("test.example", nil, nil)
	room := s.CreateRoom("@alice:test.example")
	joinRoom(s, room.RoomID, "@alice:test.example", storage.MembershipJoin)
	joinRoom(s, room.RoomID, "@bob:test.example", storage.MembershipJoin)

	summary := buildSummary(s, room.RoomID, "@alice:test.example")
	assert.Equal(t, 2, summary.JoinedMemberCount)
	assert.NotContains(t, summary.Heroes, "@alice:test.example")
	assert.Contains(t, summary.Heroes, "@bob:test.example")
}
