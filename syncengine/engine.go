// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package syncengine builds the payload for the long-poll /sync endpoint:
// given (user, since_token, full_state, timeout), it produces everything
// that changed for that user since since_token, blocking up to timeout if
// nothing has, via notifier.Notifier.
package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matrix-org/hearth/notifier"
	"github.com/matrix-org/hearth/storage"
)

// Engine builds sync responses from a Store and blocks via a Notifier.
type Engine struct {
	store    *storage.Store
	notifier *notifier.Notifier
	now      func() time.Time
}

// New constructs a sync Engine over store and notifier.
func New(store *storage.Store, n *notifier.Notifier) *Engine {
	return &Engine{store: store, notifier: n, now: time.Now}
}

// ParseSince parses a cursor of the form "s<N>" into a sequence number.
// An empty token means "no since", i.e. the caller wants an initial sync.
func ParseSince(token string) (seq int64, has bool, err error) {
	if token == "" {
		return 0, false, nil
	}
	if !strings.HasPrefix(token, "s") {
		return 0, false, fmt.Errorf("sync: malformed since token %q", token)
	}
	n, err := strconv.ParseInt(token[1:], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("sync: malformed since token %q: %w", token, err)
	}
	return n, true, nil
}

// renderNextBatch renders the current global sequence as a sync cursor.
func renderNextBatch(seq int64) string {
	return "s" + strconv.FormatInt(seq, 10)
}

// Sync builds the response once and, if the request is incremental,
// non-zero-timeout, and the result is empty, blocks on the notifier and
// rebuilds once more before returning.
func (e *Engine) Sync(ctx context.Context, userID string, sinceToken string, timeout time.Duration, fullState bool) (*Response, error) {
	sinceSeq, hasSince, err := ParseSince(sinceToken)
	if err != nil {
		return nil, err
	}

	resp := e.build(userID, sinceSeq, hasSince, fullState)

	incremental := hasSince && !fullState
	if incremental && timeout > 0 && resp.isEmpty() {
		e.notifier.WaitForEvents(ctx, userID, timeout)
		resp = e.build(userID, sinceSeq, hasSince, fullState)
	}

	return resp, nil
}

func (e *Engine) build(userID string, sinceSeq int64, hasSince, fullState bool) *Response {
	now := e.now()
	resp := &Response{
		Rooms: RoomsResponse{
			Join:   make(map[string]JoinedRoom),
			Invite: make(map[string]InvitedRoom),
		},
	}

	initialStyle := !hasSince || fullState

	for _, room := range e.store.GetRoomsForUser(userID, storage.MembershipJoin) {
		jr, include := e.buildJoinedRoom(userID, room.RoomID, sinceSeq, hasSince, fullState, now)
		if initialStyle || include {
			resp.Rooms.Join[room.RoomID] = jr
		}
	}

	for _, room := range e.store.GetRoomsForUser(userID, storage.MembershipInvite) {
		inviteEvent := e.store.StateEvent(room.RoomID, storage.EventTypeMember, userID)
		if inviteEvent == nil {
			continue
		}
		if initialStyle || inviteEvent.Seq > sinceSeq {
			resp.Rooms.Invite[room.RoomID] = InvitedRoom{
				InviteState: StateResponseStripped{Events: strippedState(e.store.CurrentState(room.RoomID))},
			}
		}
	}

	if initialStyle {
		resp.AccountData = AccountDataResponse{Events: toRawEvents(e.store.AllAccountData(userID, ""))}
	} else {
		var global []*storage.AccountDataItem
		for _, item := range e.store.AccountDataSince(userID, sinceSeq) {
			if item.RoomID == "" {
				global = append(global, item)
			}
		}
		resp.AccountData = AccountDataResponse{Events: toRawEvents(global)}
	}

	resp.NextBatch = renderNextBatch(e.store.GlobalSeq())
	return resp
}

// buildJoinedRoom builds one rooms.join entry. include reports whether an
// incremental sync should emit this room at all (it is ignored when the
// caller already knows this is an initial-style sync).
func (e *Engine) buildJoinedRoom(userID, roomID string, sinceSeq int64, hasSince, fullState bool, now time.Time) (JoinedRoom, bool) {
	receipts := e.store.Receipts(roomID)

	var timelineEvents []*storage.Event
	var stateEvents []ClientEvent
	include := true

	if !hasSince {
		// True initial sync: full timeline, full state.
		timelineEvents = e.store.GetTimeline(roomID, 0)
	} else {
		// Incremental timeline filtering applies whenever a since token was
		// supplied, even under full_state=true: full_state only changes the
		// state shape, not the timeline window.
		timelineEvents = e.store.GetTimeline(roomID, sinceSeq)
		include = len(timelineEvents) > 0 || len(receipts) > 0
	}

	if !hasSince || fullState {
		for _, ev := range e.store.CurrentState(roomID) {
			stateEvents = append(stateEvents, clientEvent(ev, now))
		}
	} else {
		// Incremental window: only the state events that fall inside it,
		// a proper subset of "state that changed" (misses state prior to
		// `since` whose effect persists). Preserved intentionally.
		for _, ev := range timelineEvents {
			if ev.IsState() {
				stateEvents = append(stateEvents, clientEvent(ev, now))
			}
		}
	}

	timeline := TimelineResponse{Events: make([]ClientEvent, 0, len(timelineEvents))}
	for _, ev := range timelineEvents {
		timeline.Events = append(timeline.Events, clientEvent(ev, now))
	}

	var roomAccountData []*storage.AccountDataItem
	if !hasSince {
		roomAccountData = e.store.AllAccountData(userID, roomID)
	} else {
		for _, item := range e.store.AccountDataSince(userID, sinceSeq) {
			if item.RoomID == roomID {
				roomAccountData = append(roomAccountData, item)
			}
		}
		if len(roomAccountData) > 0 {
			include = true
		}
	}

	jr := JoinedRoom{
		Summary:             buildSummary(e.store, roomID, userID),
		State:               StateResponse{Events: stateEvents},
		Timeline:            timeline,
		Ephemeral:           EphemeralResponse{Events: []RawEvent{receiptsToEphemeral(receipts)}},
		AccountData:         AccountDataResponse{Events: toRawEvents(roomAccountData)},
		UnreadNotifications: UnreadNotifications{},
	}

	return jr, include
}

// EventForWire renders a stored event in its client-facing shape, for
// handlers outside the sync response itself (event lookup, state reads,
// pagination) that need the same age-stamping and _seq stripping.
func EventForWire(ev *storage.Event) ClientEvent {
	return clientEvent(ev, time.Now())
}

func clientEvent(ev *storage.Event, now time.Time) ClientEvent {
	unsigned := make(map[string]interface{}, len(ev.Unsigned)+1)
	for k, v := range ev.Unsigned {
		unsigned[k] = v
	}
	unsigned["age"] = now.UnixMilli() - ev.OriginServerTS
	return ClientEvent{
		EventID:        ev.EventID,
		Sender:         ev.Sender,
		OriginServerTS: ev.OriginServerTS,
		Type:           ev.Type,
		StateKey:       ev.StateKey,
		Content:        ev.Content,
		Unsigned:       unsigned,
	}
}

func strippedState(events []*storage.Event) []StrippedStateEvent {
	out := make([]StrippedStateEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, StrippedStateEvent{
			Type: ev.Type, StateKey: *ev.StateKey, Content: ev.Content, Sender: ev.Sender,
		})
	}
	return out
}

func toRawEvents(items []*storage.AccountDataItem) []RawEvent {
	out := make([]RawEvent, 0, len(items))
	for _, it := range items {
		out = append(out, RawEvent{Type: it.Type, Content: it.Content})
	}
	return out
}

// receiptsToEphemeral folds every receipt in a room into a single
// m.receipt event, per the Matrix wire format: event_id -> receipt_type
// -> user_id -> {ts}. The Matrix protocol requires clients be able to
// reconstruct current receipt state wholesale, so this is shipped in
// full on every response that includes the room at all.
func receiptsToEphemeral(receipts []*storage.Receipt) RawEvent {
	content := make(map[string]interface{})
	for _, r := range receipts {
		perEvent, ok := content[r.EventID].(map[string]interface{})
		if !ok {
			perEvent = make(map[string]interface{})
			content[r.EventID] = perEvent
		}
		perType, ok := perEvent[r.ReceiptType].(map[string]interface{})
		if !ok {
			perType = make(map[string]interface{})
			perEvent[r.ReceiptType] = perType
		}
		perType[r.UserID] = map[string]interface{}{"ts": r.TS}
	}
	return RawEvent{Type: "m.receipt", Content: content}
}

func buildSummary(store *storage.Store, roomID, selfUserID string) Summary {
	var joined, invited int
	var heroes []string
	for _, ev := range store.CurrentState(roomID) {
		if ev.Type != storage.EventTypeMember {
			continue
		}
		m, _ := ev.Content["membership"].(string)
		switch m {
		case storage.MembershipJoin:
			joined++
			if len(heroes) < 5 && *ev.StateKey != selfUserID {
				heroes = append(heroes, *ev.StateKey)
			}
		case storage.MembershipInvite:
			invited++
			if len(heroes) < 5 && *ev.StateKey != selfUserID {
				heroes = append(heroes, *ev.StateKey)
			}
		}
	}
	return Summary{
		Heroes:             heroes,
		JoinedMemberCount:  joined,
		InvitedMemberCount: invited,
	}
}
