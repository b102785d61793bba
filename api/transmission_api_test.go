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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/parleylabs/parley"
	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/database/mocks"
	"github.com/parleylabs/parley/model"
)

func newTestApi(ds *mocks.MockDataSource) *Api {
	config.MockConfig(&config.Configuration{
		Server:   config.ServerConfig{Secure: false},
		Worker:   config.WorkerConfig{LeaseDurationSec: 60, PollIntervalSec: 1, HeartbeatEveryTicks: 5, Inline: true},
		Hub:      config.HubConfig{MaxConnectionsPerUser: 3, PingIntervalSec: 3600},
		Topology: config.TopologyConfig{InternalToken: "internal-token", MaxAttempts: 3, RetryDelaySec: 1},
	})

	hub := parley.NewHub(config.HubConfig{MaxConnectionsPerUser: 3, PingIntervalSec: 3600})
	p := parley.NewParleyWithComponents(ds, &parley.MockPipeline{}, nil, hub)
	return NewAPI(p)
}

func submitBody(t *testing.T, key, payload string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"idempotency_key": key,
		"user_id":         "usr_1",
		"thread_id":       "thr_1",
		"payload":         payload,
	})
	assert.NoError(t, err)
	return bytes.NewBuffer(body)
}

func storedRow(id, status, payload string) *model.Transmission {
	return &model.Transmission{
		TransmissionID: id,
		IdempotencyKey: "k1",
		UserID:         "usr_1",
		ThreadID:       "thr_1",
		Payload:        payload,
		PayloadHash:    model.HashPayload(payload),
		Status:         status,
		CreatedAt:      time.Now(),
	}
}

func TestSubmitMessage_CompletedInline(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	payload := gofakeit.Sentence(5)
	stored := storedRow("txm_api", "created", payload)
	ds.On("CreateOrGetTransmissionByIdempotencyKey", mock.Anything, mock.Anything).Return(stored, true, nil)
	ds.On("ClaimTransmission", mock.Anything, "txm_api", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	ds.On("AppendDeliveryAttempt", mock.Anything, mock.Anything).Return(&model.DeliveryAttempt{}, nil)
	ds.On("RecordUsage", mock.Anything, mock.Anything).Return(&model.UsageRecord{}, nil)
	ds.On("UpdateTransmissionTerminal", mock.Anything, "txm_api", mock.Anything, "completed").Return(nil)
	ds.On("SetResult", mock.Anything, mock.Anything).Return(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/messages", submitBody(t, "k1", payload))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp parley.SubmissionResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "txm_api", resp.Transmission.TransmissionID)
	assert.Equal(t, "mock answer", resp.Result.Body)
	assert.False(t, resp.Pending)
}

func TestSubmitMessage_PendingWhileInFlight(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	stored := storedRow("txm_api", "processing", "hello")
	ds.On("CreateOrGetTransmissionByIdempotencyKey", mock.Anything, mock.Anything).Return(stored, false, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/messages", submitBody(t, "k1", "hello"))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSubmitMessage_KeyConflict(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	stored := storedRow("txm_api", "completed", "original payload")
	ds.On("CreateOrGetTransmissionByIdempotencyKey", mock.Anything, mock.Anything).Return(stored, false, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/messages", submitBody(t, "k1", "different payload"))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	details := resp["details"].(map[string]interface{})
	assert.Equal(t, "txm_api", details["transmission_id"])
}

func TestSubmitMessage_InvalidInput(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	body, _ := json.Marshal(map[string]interface{}{"payload": "hello"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/messages", bytes.NewBuffer(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessage(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	stored := storedRow("txm_api", "completed", "hello")
	ds.On("GetTransmission", mock.Anything, "txm_api").Return(stored, nil)
	ds.On("GetDeliveryAttempts", mock.Anything, "txm_api").Return([]model.DeliveryAttempt{{AttemptID: "atp_1", Succeeded: true}}, nil)
	ds.On("GetUsage", mock.Anything, "txm_api").Return([]model.UsageRecord{}, nil)
	ds.On("GetResult", mock.Anything, "txm_api").Return(&model.Result{TransmissionID: "txm_api", Body: "the answer"}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/messages/txm_api", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var detail parley.TransmissionDetail
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Len(t, detail.Attempts, 1)
	assert.Equal(t, "the answer", detail.Result.Body)
}

func TestInternalStatus(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	ds.On("GetTopologyKey", mock.Anything).Return("topo_a", nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/internal/status", nil)
	req.Header.Set("X-Parley-Internal-Token", "internal-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "topo_a", resp["topology_key"])
}

func TestInternalStatus_WrongToken(t *testing.T) {
	ds := new(mocks.MockDataSource)
	router := newTestApi(ds).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/internal/status", nil)
	req.Header.Set("X-Parley-Internal-Token", "not-the-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	ds.AssertNotCalled(t, "GetTopologyKey", mock.Anything)
}
