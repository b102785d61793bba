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
package api

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/parleylabs/parley/model"
)

// sseConnection adapts one server-sent-events stream to the hub's Connection
// contract. Send never blocks: a client that cannot drain its buffer is
// treated as failed and dropped by the hub.
type sseConnection struct {
	events chan *model.Event

	mu     sync.Mutex
	closed bool
}

func newSSEConnection() *sseConnection {
	return &sseConnection{events: make(chan *model.Event, 16)}
}

func (s *sseConnection) Send(event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("connection closed")
	}
	select {
	case s.events <- event:
		return nil
	default:
		return errors.New("client too slow, buffer full")
	}
}

func (s *sseConnection) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// StreamEvents opens a long-lived push channel for a user's transmission
// lifecycle events. The hub bounds connections per user and keeps the stream
// alive with periodic pings.
func (a Api) StreamEvents(c *gin.Context) {
	userID, passed := c.Params.Get("user_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required. pass id in the route /events/:user_id"})
		return
	}

	conn := newSSEConnection()
	hub := a.parley.Hub()
	hub.RegisterConnection(userID, conn)
	defer hub.RemoveConnection(userID, conn)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-conn.events:
			if !ok {
				return false
			}
			c.SSEvent(event.Kind, event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
