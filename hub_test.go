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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/model"
)

type testConn struct {
	mu       sync.Mutex
	events   []*model.Event
	closed   int
	failSend bool
}

func (c *testConn) Send(event *model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("connection gone")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *testConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *testConn) eventKinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]string, 0, len(c.events))
	for _, e := range c.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func newTestHub(maxPerUser int) *Hub {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewHubWithClock(config.HubConfig{MaxConnectionsPerUser: maxPerUser, PingIntervalSec: 3600}, func() time.Time { return fixed })
}

func TestHub_EvictsOldestAtBound(t *testing.T) {
	hub := newTestHub(2)
	defer hub.Close()

	first := &testConn{}
	second := &testConn{}
	third := &testConn{}

	hub.RegisterConnection("usr_1", first)
	hub.RegisterConnection("usr_1", second)
	hub.RegisterConnection("usr_1", third)

	assert.Equal(t, 2, hub.ConnectionCount("usr_1"))
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 0, second.closed)

	// The survivors still receive events; the evicted one does not.
	hub.PublishToUser("usr_1", &model.Event{Kind: model.EventTransmissionCompleted})
	assert.Empty(t, first.eventKinds())
	assert.Equal(t, []string{model.EventTransmissionCompleted}, second.eventKinds())
	assert.Equal(t, []string{model.EventTransmissionCompleted}, third.eventKinds())
}

func TestHub_SendFailureIsolatedToOneConnection(t *testing.T) {
	hub := newTestHub(3)
	defer hub.Close()

	failing := &testConn{failSend: true}
	healthy := &testConn{}

	hub.RegisterConnection("usr_1", failing)
	hub.RegisterConnection("usr_1", healthy)

	hub.PublishToUser("usr_1", &model.Event{Kind: model.EventTransmissionStarted})

	assert.Equal(t, 1, hub.ConnectionCount("usr_1"))
	assert.Equal(t, 1, failing.closed)
	assert.Equal(t, []string{model.EventTransmissionStarted}, healthy.eventKinds())
}

func TestHub_RemoveConnectionIdempotent(t *testing.T) {
	hub := newTestHub(3)
	defer hub.Close()

	conn := &testConn{}
	hub.RegisterConnection("usr_1", conn)

	hub.RemoveConnection("usr_1", conn)
	hub.RemoveConnection("usr_1", conn)
	hub.RemoveConnection("usr_1", conn)

	// The transport is released exactly once.
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, 0, hub.ConnectionCount("usr_1"))
}

func TestHub_BroadcastPingReachesAllUsers(t *testing.T) {
	hub := newTestHub(3)
	defer hub.Close()

	a := &testConn{}
	b := &testConn{}
	hub.RegisterConnection("usr_1", a)
	hub.RegisterConnection("usr_2", b)

	hub.BroadcastPing()

	assert.Equal(t, []string{model.EventPing}, a.eventKinds())
	assert.Equal(t, []string{model.EventPing}, b.eventKinds())
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), a.events[0].Ts)
}

func TestHub_PingTimerExistsOnlyWithConnections(t *testing.T) {
	hub := newTestHub(3)

	assert.Nil(t, hub.pingStop)

	conn := &testConn{}
	hub.RegisterConnection("usr_1", conn)
	assert.NotNil(t, hub.pingStop)

	hub.RemoveConnection("usr_1", conn)
	assert.Nil(t, hub.pingStop)
}

func TestHub_PublishToUnknownUserIsNoop(t *testing.T) {
	hub := newTestHub(3)
	hub.PublishToUser("usr_missing", &model.Event{Kind: model.EventPing})
}
