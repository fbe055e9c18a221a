// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package storage is the single source of truth for the homeserver: every
// user, device, room (state + timeline), alias, media blob, account-data
// entry and receipt lives here, all sharing one global sequence counter
// that defines sync cursors. Store is process-wide singleton state; every
// method is safe to call from any goroutine and mutations are applied
// under one coarse mutex, per the target scale (hundreds of rooms, tens
// of users) this homeserver is built for.
package storage

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/matrix-org/hearth/internal/idutil"
	"github.com/sirupsen/logrus"
)

// notifier is the minimal surface Store needs from the notifier package.
// Declared locally to avoid a storage<->notifier import cycle; cmd/hearth
// wires the real *notifier.Notifier in at startup.
type notifier interface {
	NotifyUser(userID string)
}

// Metrics is the set of counters the store updates inside its own
// critical sections. Nil-safe: every field may be left nil by callers
// that don't want metrics (e.g. tests).
type Metrics struct {
	EventsAppended  prometheusCounter
	AccountDataSets prometheusCounter
	ReceiptsSet     prometheusCounter
}

// prometheusCounter is satisfied by prometheus.Counter; declared locally
// so this package does not need to import prometheus directly (the
// concrete counters are constructed and wired in by internal/metrics).
type prometheusCounter interface {
	Inc()
}

// Store is the homeserver's single source of truth.
type Store struct {
	mu  sync.Mutex
	log *logrus.Entry

	serverName string
	notifier   notifier
	metrics    Metrics
	now        func() time.Time

	seq int64

	usersByLocalpart map[string]*User
	devicesByID      map[string]*Device
	devicesByToken   map[string]*Device

	rooms map[string]*Room

	aliases map[string]string // alias -> room_id

	media map[string]*MediaItem

	accountData map[accountDataKey]*AccountDataItem
	receipts    map[receiptKey]*Receipt
	// receiptsByRoom indexes receipts for the per-room listing operation.
	receiptsByRoom map[string]map[receiptKey]bool
}

// New constructs an empty Store for the given server name. log may be nil,
// in which case a disabled logger is used.
func New(serverName string, n notifier, log *logrus.Entry) *Store {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Store{
		log:              log,
		serverName:       serverName,
		notifier:         n,
		now:              time.Now,
		usersByLocalpart: make(map[string]*User),
		devicesByID:      make(map[string]*Device),
		devicesByToken:   make(map[string]*Device),
		rooms:            make(map[string]*Room),
		aliases:          make(map[string]string),
		media:            make(map[string]*MediaItem),
		accountData:      make(map[accountDataKey]*AccountDataItem),
		receipts:         make(map[receiptKey]*Receipt),
		receiptsByRoom:   make(map[string]map[receiptKey]bool),
	}
}

// SetMetrics installs the prometheus counters the store will update.
func (s *Store) SetMetrics(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// ServerName returns the server_name this store was constructed with.
func (s *Store) ServerName() string {
	return s.serverName
}

// LoadUser installs a statically-configured user at startup. Not part of
// the public runtime API: called once per configured user before the
// server starts accepting requests.
func (s *Store) LoadUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByLocalpart[u.Localpart] = u
}

// GlobalSeq returns the current value of the global sequence counter.
func (s *Store) GlobalSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// nextSeq advances and returns the global sequence. Callers must already
// hold s.mu.
func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// --- User / device operations ---

// UserByLocalpart looks up a configured user by localpart.
func (s *Store) UserByLocalpart(localpart string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersByLocalpart[localpart]
}

// SetUserProfile updates the stored displayname and/or avatar_url for a
// configured user in place, under the store's lock. A nil argument leaves
// the corresponding field unchanged.
func (s *Store) SetUserProfile(localpart string, displayName, avatarURL *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByLocalpart[localpart]
	if !ok {
		return
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if avatarURL != nil {
		u.AvatarURL = *avatarURL
	}
}

// Profile reads a configured user's displayname and avatar_url under the
// store's lock, so readers never race a concurrent SetUserProfile.
func (s *Store) Profile(localpart string) (displayName, avatarURL string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByLocalpart[localpart]
	if !ok {
		return "", "", false
	}
	return u.DisplayName, u.AvatarURL, true
}

// CreateDevice allocates a fresh device and access token for userID and
// indexes both for O(1) lookup.
func (s *Store) CreateDevice(userID, displayName string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Device{
		DeviceID:    idutil.NewDeviceID(),
		UserID:      userID,
		AccessToken: idutil.NewAccessToken(),
		DisplayName: displayName,
		TxnMap:      make(map[string]string),
	}
	s.devicesByID[d.DeviceID] = d
	s.devicesByToken[d.AccessToken] = d
	return d
}

// DeviceByToken performs the O(1) bearer-token lookup used by every
// authenticated request.
func (s *Store) DeviceByToken(token string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devicesByToken[token]
}

// RemoveDevice destroys a device: clears its token index entry and its
// txn map, then drops it.
func (s *Store) RemoveDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devicesByID[deviceID]
	if !ok {
		return
	}
	delete(s.devicesByToken, d.AccessToken)
	delete(s.devicesByID, deviceID)
}

// SetDeviceTxn records a txn_id -> event_id mapping for a device's send
// idempotency.
func (s *Store) SetDeviceTxn(deviceID, txnID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devicesByID[deviceID]
	if !ok {
		return
	}
	d.TxnMap[txnID] = eventID
}

// GetDeviceTxn returns the event id a prior send with this (device, txn)
// pair produced, if any.
func (s *Store) GetDeviceTxn(deviceID, txnID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devicesByID[deviceID]
	if !ok {
		return "", false
	}
	eventID, ok := d.TxnMap[txnID]
	return eventID, ok
}

// --- Room operations ---

// CreateRoom allocates a fresh room with empty state and timeline, owned
// by creator (a convenience cache of the eventual m.room.create sender;
// not wire-visible, and not read by summary building).
func (s *Store) CreateRoom(creator string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Room{
		RoomID:  idutil.NewRoomID(s.serverName),
		Version: "10",
		Creator: creator,
		State:   make(map[stateKeyPair]*Event),
	}
	s.rooms[r.RoomID] = r
	return r
}

// GetRoom returns the room with the given id, or nil.
func (s *Store) GetRoom(roomID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

// GetMembership returns the membership value of user in room, or "" if
// there is no m.room.member state event for them.
func (s *Store) GetMembership(roomID, userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMembershipLocked(roomID, userID)
}

func (s *Store) getMembershipLocked(roomID, userID string) string {
	r, ok := s.rooms[roomID]
	if !ok {
		return ""
	}
	ev, ok := r.State[stateKeyPair{EventTypeMember, userID}]
	if !ok {
		return ""
	}
	m, _ := ev.Content["membership"].(string)
	return m
}

// GetRoomsForUser performs a linear scan over every room computing
// membership; acceptable at the target scale of hundreds of rooms and
// tens of users.
func (s *Store) GetRoomsForUser(userID, membership string) []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Room
	for _, r := range s.rooms {
		if s.getMembershipLocked(r.RoomID, userID) == membership {
			out = append(out, r)
		}
	}
	// Deterministic ordering makes sync responses (and tests) stable.
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// --- Event operations ---

// PartialEvent is the input to AddEvent: everything the caller knows
// before the store stamps _seq and mints an event id.
type PartialEvent struct {
	Type     string
	Sender   string
	Content  map[string]interface{}
	StateKey *string // non-nil iff this is a state event
}

// AddEvent appends a fully-formed event to roomID's timeline, advancing
// the global sequence and, if the event carries a state key, installing
// it into the room's current-state projection. The append and the
// sequence advance happen inside the same critical section, which is the
// ordering invariant the rest of the system depends on.
func (s *Store) AddEvent(roomID string, partial PartialEvent) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	seq := s.nextSeq()
	ev := &Event{
		EventID:        idutil.NewEventID(s.serverName),
		Type:           partial.Type,
		Sender:         partial.Sender,
		RoomID:         roomID,
		OriginServerTS: s.now().UnixMilli(),
		Content:        partial.Content,
		StateKey:       partial.StateKey,
		Seq:            seq,
	}
	r.Timeline = append(r.Timeline, ev)
	if ev.StateKey != nil {
		r.State[stateKeyPair{ev.Type, *ev.StateKey}] = ev
	}
	if s.metrics.EventsAppended != nil {
		s.metrics.EventsAppended.Inc()
	}
	s.log.WithFields(logrus.Fields{
		"room_id": roomID, "event_id": ev.EventID, "type": ev.Type, "seq": seq,
	}).Debug("store: event appended")
	return ev
}

// GetEventByID finds an event anywhere in roomID's timeline by id.
func (s *Store) GetEventByID(roomID, eventID string) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for _, ev := range r.Timeline {
		if ev.EventID == eventID {
			return ev
		}
	}
	return nil
}

// RedactEvent clears the content of eventID in place and stamps
// unsigned.redacted_because with the redaction event. Returns the
// redacted event, or nil if it could not be found.
func (s *Store) RedactEvent(roomID, eventID string, redaction *Event) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for _, ev := range r.Timeline {
		if ev.EventID == eventID {
			ev.Content = map[string]interface{}{}
			if ev.Unsigned == nil {
				ev.Unsigned = make(map[string]interface{})
			}
			ev.Unsigned["redacted_because"] = redaction
			return ev
		}
	}
	return nil
}

// GetTimeline returns roomID's timeline events with Seq > sinceSeq, in
// timeline order. sinceSeq <= 0 returns the full timeline.
func (s *Store) GetTimeline(roomID string, sinceSeq int64) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if sinceSeq <= 0 {
		out := make([]*Event, len(r.Timeline))
		copy(out, r.Timeline)
		return out
	}
	var out []*Event
	for _, ev := range r.Timeline {
		if ev.Seq > sinceSeq {
			out = append(out, ev)
		}
	}
	return out
}

// CurrentState returns a snapshot of roomID's current state events.
func (s *Store) CurrentState(roomID string) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Event, 0, len(r.State))
	for _, ev := range r.State {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// StateEvent returns the current state event at (evType, stateKey), if any.
func (s *Store) StateEvent(roomID, evType, stateKey string) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return r.State[stateKeyPair{evType, stateKey}]
}

// --- Alias / media ---

// SetAlias maps alias to roomID. Returns false, leaving the existing
// mapping in place, if the alias is already taken by a different room.
func (s *Store) SetAlias(alias, roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.aliases[alias]; ok && existing != roomID {
		return false
	}
	s.aliases[alias] = roomID
	return true
}

// ResolveAlias returns the room id an alias points to, or "" if unknown.
func (s *Store) ResolveAlias(alias string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliases[alias]
}

// PutMedia stores an immutable media blob and returns its media id.
func (s *Store) PutMedia(contentType, fileName string, bytes []byte) *MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &MediaItem{
		MediaID:     idutil.NewMediaID(),
		Bytes:       bytes,
		ContentType: contentType,
		FileName:    fileName,
	}
	s.media[m.MediaID] = m
	return m
}

// GetMedia returns a previously stored media item, or nil.
func (s *Store) GetMedia(mediaID string) *MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media[mediaID]
}

// --- Account data ---

// SetAccountData replaces any existing (user, room, type) entry, advances
// the global sequence, and notifies the user.
func (s *Store) SetAccountData(userID, roomID, evType string, content map[string]interface{}) {
	s.mu.Lock()
	key := accountDataKey{userID, roomID, evType}
	seq := s.nextSeq()
	s.accountData[key] = &AccountDataItem{
		UserID: userID, RoomID: roomID, Type: evType, Content: content, Seq: seq,
	}
	if s.metrics.AccountDataSets != nil {
		s.metrics.AccountDataSets.Inc()
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.NotifyUser(userID)
	}
}

// GetAccountData returns a single account-data item, or nil.
func (s *Store) GetAccountData(userID, roomID, evType string) *AccountDataItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountData[accountDataKey{userID, roomID, evType}]
}

// AllAccountData returns every account-data item for userID scoped to
// roomID (roomID == "" for global account data); used for initial sync.
func (s *Store) AllAccountData(userID, roomID string) []*AccountDataItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AccountDataItem
	for k, v := range s.accountData {
		if k.userID == userID && k.roomID == roomID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// AccountDataSince returns userID's account-data items (any room scope)
// with Seq > sinceSeq; used for incremental sync.
func (s *Store) AccountDataSince(userID string, sinceSeq int64) []*AccountDataItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AccountDataItem
	for k, v := range s.accountData {
		if k.userID == userID && v.Seq > sinceSeq {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// --- Receipts ---

// SetReceipt replaces any existing receipt of the same (room, user, type)
// and advances the global sequence. The store does not notify here: the
// handler notifies every joined member, per the notification rules.
func (s *Store) SetReceipt(roomID, rtype, userID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := receiptKey{roomID, userID, rtype}
	seq := s.nextSeq()
	s.receipts[key] = &Receipt{
		RoomID: roomID, UserID: userID, EventID: eventID, TS: s.now().UnixMilli(),
		ReceiptType: rtype, Seq: seq,
	}
	if _, ok := s.receiptsByRoom[roomID]; !ok {
		s.receiptsByRoom[roomID] = make(map[receiptKey]bool)
	}
	s.receiptsByRoom[roomID][key] = true
	if s.metrics.ReceiptsSet != nil {
		s.metrics.ReceiptsSet.Inc()
	}
}

// Receipts returns every receipt currently set in roomID.
func (s *Store) Receipts(roomID string) []*Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Receipt
	for key := range s.receiptsByRoom[roomID] {
		if r, ok := s.receipts[key]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// --- Profile mutation ---

// UpdateMemberProfile appends a fresh m.room.member state event in every
// room where userID is joined, carrying the updated profile fields over
// the existing membership content, and notifies every joined member of
// each such room. Returns the rooms that were touched.
func (s *Store) UpdateMemberProfile(userID string, displayName, avatarURL *string) []string {
	rooms := s.GetRoomsForUser(userID, MembershipJoin)
	var touched []string
	for _, r := range rooms {
		existing := s.StateEvent(r.RoomID, EventTypeMember, userID)
		content := map[string]interface{}{"membership": MembershipJoin}
		if existing != nil {
			for k, v := range existing.Content {
				content[k] = v
			}
		}
		if displayName != nil {
			content["displayname"] = *displayName
		}
		if avatarURL != nil {
			content["avatar_url"] = *avatarURL
		}
		sk := userID
		s.AddEvent(r.RoomID, PartialEvent{
			Type: EventTypeMember, Sender: userID, Content: content, StateKey: &sk,
		})
		touched = append(touched, r.RoomID)
		if s.notifier != nil {
			for _, member := range s.JoinedMembers(r.RoomID) {
				s.notifier.NotifyUser(member)
			}
		}
	}
	return touched
}

// joinedAndInvited returns every user currently joined or invited to
// roomID, used to build notification fan-out lists.
func (s *Store) joinedAndInvited(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	var out []string
	for k, ev := range r.State {
		if k.evType != EventTypeMember {
			continue
		}
		m, _ := ev.Content["membership"].(string)
		if m == MembershipJoin || m == MembershipInvite {
			out = append(out, k.stateKey)
		}
	}
	return out
}

// JoinedAndInvitedMembers is the exported form of joinedAndInvited, used
// by handlers (roomops/eventops) to build their own notification
// fan-out lists without reaching into Store internals.
func (s *Store) JoinedAndInvitedMembers(roomID string) []string {
	return s.joinedAndInvited(roomID)
}

// JoinedMembers returns every user currently joined to roomID.
func (s *Store) JoinedMembers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	var out []string
	for k, ev := range r.State {
		if k.evType != EventTypeMember {
			continue
		}
		m, _ := ev.Content["membership"].(string)
		if m == MembershipJoin {
			out = append(out, k.stateKey)
		}
	}
	return out
}

// NotifyUser exposes the wired notifier to handlers that don't otherwise
// need a Store-shaped dependency, keeping the "every mutation notifies
// through the same path" invariant in one place.
func (s *Store) NotifyUser(userID string) {
	if s.notifier != nil {
		s.notifier.NotifyUser(userID)
	}
}
