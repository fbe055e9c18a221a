// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package storage

// User is a fixed, statically-configured account. The set of users is
// immutable for the lifetime of the process.
type User struct {
	Localpart    string
	UserID       string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
}

// Device is created on successful login and destroyed on logout. Each
// device owns its own transaction-id -> event-id map so that send
// idempotency never crosses devices.
type Device struct {
	DeviceID    string
	UserID      string
	AccessToken string
	DisplayName string
	TxnMap      map[string]string // txn_id -> event_id
}

// Event is a single room event: either a message/other non-state event,
// or a state event (StateKey != nil). Seq is the global sequence number
// stamped at append time and is never exposed on the wire.
type Event struct {
	EventID        string
	Type           string
	Sender         string
	RoomID         string
	OriginServerTS int64
	Content        map[string]interface{}
	StateKey       *string
	Unsigned       map[string]interface{}
	Seq            int64
}

// IsState reports whether this event carries room state.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// stateKeyPair is the composite (type, state_key) key used to index a
// room's current state; struct equality is enough for map lookups.
type stateKeyPair struct {
	evType   string
	stateKey string
}

// Room holds a room's current state projection and its full timeline.
type Room struct {
	RoomID   string
	Version  string
	Creator  string
	State    map[stateKeyPair]*Event
	Timeline []*Event
}

// Alias maps a room alias to a room id. At most one room per alias.
type Alias struct {
	Alias  string
	RoomID string
}

// MediaItem is an immutable uploaded blob.
type MediaItem struct {
	MediaID     string
	Bytes       []byte
	ContentType string
	FileName    string
}

// accountDataKey identifies an account-data slot: per-user, optionally
// scoped to one room.
type accountDataKey struct {
	userID string
	roomID string // "" for global account data
	evType string
}

// AccountDataItem is a single account-data entry. At most one item exists
// per (user, room, type) triple; setting replaces in place.
type AccountDataItem struct {
	UserID  string
	RoomID  string // "" for global
	Type    string
	Content map[string]interface{}
	Seq     int64
}

// receiptKey identifies a receipt slot: per-room, per-user, per type.
type receiptKey struct {
	roomID string
	userID string
	rtype  string
}

// Receipt is a single read receipt. At most one receipt exists per
// (room, user, type) triple; setting replaces in place.
type Receipt struct {
	RoomID      string
	UserID      string
	EventID     string
	TS          int64
	ReceiptType string
	Seq         int64
}

// Membership values, per the Matrix spec.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// EventTypeMember is the m.room.member state event type, used pervasively
// enough to warrant its own constant.
const EventTypeMember = "m.room.member"
