// Copyright 2017 Vector Creations Ltd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notifier wakes up long-polling /sync requests when a mutation
// relevant to them has happened. It deliberately does not tell a waiter
// *what* changed, only that something did -- the caller re-queries the
// store by sequence number, which is what prevents the races a richer
// "here's the event" callback would otherwise introduce.
package notifier

import (
	"context"
	"sync"
	"time"
)

// Notifier maintains a map of user_id -> list of waiters. A waiter is a
// one-shot channel: it is signalled at most once, either by a matching
// NotifyUser call or by its own timeout, and whichever happens first
// wins.
type Notifier struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// New constructs an empty Notifier.
func New() *Notifier {
	return &Notifier{
		waiters: make(map[string][]chan struct{}),
	}
}

// NotifyUser is the critical subroutine: it must be atomic with respect
// to new waiters. It snapshots and clears the current waiter list for
// userID in one step (under the lock), then signals every snapshotted
// waiter outside the lock. A waiter that registers after the snapshot is
// taken is not signalled by this call -- which is correct, because the
// change it cares about already happened before this call started, and
// its own next /sync will observe it via the sequence number.
//
// Callers MUST advance the global sequence before calling NotifyUser, so
// that a waiter woken by this call always sees the new data when it
// re-queries the store.
func (n *Notifier) NotifyUser(userID string) {
	n.mu.Lock()
	waiters := n.waiters[userID]
	delete(n.waiters, userID)
	n.mu.Unlock()

	// Each channel appears in exactly one snapshot (it was just removed
	// from the map), so closing here can never double-close.
	for _, w := range waiters {
		close(w)
	}
}

// WaitForEvents blocks until either NotifyUser(userID) is called, ctx is
// cancelled (e.g. client disconnect), or timeout elapses, whichever comes
// first. The waiter is removed from the map on every exit path.
func (n *Notifier) WaitForEvents(ctx context.Context, userID string, timeout time.Duration) {
	w := make(chan struct{})

	n.mu.Lock()
	n.waiters[userID] = append(n.waiters[userID], w)
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w:
	case <-timer.C:
	case <-ctx.Done():
	}

	n.removeWaiter(userID, w)
}

// removeWaiter drops w from userID's waiter list if it is still present
// (it won't be, if NotifyUser already snapshotted-and-cleared it).
func (n *Notifier) removeWaiter(userID string, w chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ws := n.waiters[userID]
	for i, c := range ws {
		if c == w {
			n.waiters[userID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(n.waiters[userID]) == 0 {
		delete(n.waiters, userID)
	}
}
