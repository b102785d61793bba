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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parleylabs/parley/model"
)

func TestSSEConnection_SendAndClose(t *testing.T) {
	conn := newSSEConnection()

	assert.NoError(t, conn.Send(&model.Event{Kind: model.EventTransmissionAccepted, Ts: time.Now()}))

	received := <-conn.events
	assert.Equal(t, model.EventTransmissionAccepted, received.Kind)

	conn.Close()
	assert.Error(t, conn.Send(&model.Event{Kind: model.EventPing}))
}

func TestSSEConnection_CloseIdempotent(t *testing.T) {
	conn := newSSEConnection()
	conn.Close()
	conn.Close()
}

func TestSSEConnection_SlowClientFails(t *testing.T) {
	conn := newSSEConnection()

	// Fill the buffer without a reader.
	for i := 0; i < cap(conn.events); i++ {
		assert.NoError(t, conn.Send(&model.Event{Kind: model.EventPing}))
	}
	// The next send must fail instead of blocking the fan-out.
	assert.Error(t, conn.Send(&model.Event{Kind: model.EventPing}))
}
