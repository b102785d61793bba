/*
Copyright 2024 Parley Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package parley

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/model"
)

// Connection is one live push channel to a client. Send must not be called
// after Close; the hub guarantees Close is called exactly once.
type Connection interface {
	Send(event *model.Event) error
	Close()
}

type hubConnection struct {
	conn         Connection
	registeredAt time.Time
}

// Hub maintains per-user push connections and fans lifecycle events out to
// them. Connection counts are bounded per user (most-recent-wins) and a
// periodic ping keeps intermediaries from idling connections out. The clock
// is injected so tests can run isolated instances with controlled time.
type Hub struct {
	mu       sync.Mutex
	conns    map[string][]*hubConnection
	total    int
	conf     config.HubConfig
	now      func() time.Time
	pingStop chan struct{}
}

func NewHub(conf config.HubConfig) *Hub {
	return NewHubWithClock(conf, time.Now)
}

func NewHubWithClock(conf config.HubConfig, now func() time.Time) *Hub {
	return &Hub{
		conns: make(map[string][]*hubConnection),
		conf:  conf,
		now:   now,
	}
}

// RegisterConnection adds a connection for the user. When the user is already
// at the connection bound, the oldest connection is force-closed and evicted
// before the new one is added.
func (h *Hub) RegisterConnection(userID string, conn Connection) {
	var evicted []Connection

	h.mu.Lock()
	for len(h.conns[userID]) >= h.conf.MaxConnectionsPerUser {
		oldest := h.conns[userID][0]
		h.conns[userID] = h.conns[userID][1:]
		h.total--
		evicted = append(evicted, oldest.conn)
	}
	h.conns[userID] = append(h.conns[userID], &hubConnection{conn: conn, registeredAt: h.now()})
	h.total++
	if h.total == 1 {
		h.startPing()
	}
	h.mu.Unlock()

	for _, c := range evicted {
		c.Close()
	}
	if len(evicted) > 0 {
		logrus.Warnf("evicted %d connection(s) for user %s at bound %d", len(evicted), userID, h.conf.MaxConnectionsPerUser)
	}
}

// RemoveConnection detaches a connection and releases its transport. Removing
// a connection that is already gone is a no-op, so the transport is closed at
// most once.
func (h *Hub) RemoveConnection(userID string, conn Connection) {
	h.mu.Lock()
	removed := h.detachLocked(userID, conn)
	h.mu.Unlock()

	if removed {
		conn.Close()
	}
}

// detachLocked removes the connection from the registry and reports whether
// it was present. Caller holds h.mu.
func (h *Hub) detachLocked(userID string, conn Connection) bool {
	list := h.conns[userID]
	for i, hc := range list {
		if hc.conn == conn {
			h.conns[userID] = append(list[:i], list[i+1:]...)
			if len(h.conns[userID]) == 0 {
				delete(h.conns, userID)
			}
			h.total--
			if h.total == 0 {
				h.stopPing()
			}
			return true
		}
	}
	return false
}

// PublishToUser fans an event out to all of the user's live connections. A
// send failure removes only the failing connection and logs a warning;
// sibling connections and the triggering event are unaffected.
func (h *Hub) PublishToUser(userID string, event *model.Event) {
	h.mu.Lock()
	targets := make([]Connection, 0, len(h.conns[userID]))
	for _, hc := range h.conns[userID] {
		targets = append(targets, hc.conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			logrus.Warnf("dropping connection for user %s after send failure: %v", userID, err)
			h.RemoveConnection(userID, conn)
		}
	}
}

// ConnectionCount reports the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// startPing begins the ping broadcast loop. The ticker exists only while at
// least one connection is registered. Caller holds h.mu.
func (h *Hub) startPing() {
	stop := make(chan struct{})
	h.pingStop = stop
	interval := time.Duration(h.conf.PingIntervalSec) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.BroadcastPing()
			}
		}
	}()
}

// stopPing halts the ping loop. Caller holds h.mu.
func (h *Hub) stopPing() {
	if h.pingStop != nil {
		close(h.pingStop)
		h.pingStop = nil
	}
}

// BroadcastPing sends a ping event to every registered connection. Liveness
// only; failures are handled the same way as any other send.
func (h *Hub) BroadcastPing() {
	h.mu.Lock()
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	h.mu.Unlock()

	ping := &model.Event{Kind: model.EventPing, Ts: h.now()}
	for _, userID := range users {
		h.PublishToUser(userID, ping)
	}
}

// Close evicts every connection, releasing each transport once.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []Connection
	for _, list := range h.conns {
		for _, hc := range list {
			all = append(all, hc.conn)
		}
	}
	h.conns = make(map[string][]*hubConnection)
	h.total = 0
	h.stopPing()
	h.mu.Unlock()

	for _, conn := range all {
		conn.Close()
	}
}
