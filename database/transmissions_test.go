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

package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/parleylabs/parley/internal/apierror"
	"github.com/parleylabs/parley/model"
)

func newTestTransmission() *model.Transmission {
	return &model.Transmission{
		TransmissionID: "txm_123",
		IdempotencyKey: "idem-abc",
		UserID:         "usr_1",
		ThreadID:       "thr_1",
		Payload:        `{"message":"hello"}`,
		PayloadHash:    model.HashPayload(`{"message":"hello"}`),
		Status:         "created",
		CreatedAt:      time.Now(),
	}
}

func TestCreateOrGetTransmission_NewKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txm := newTestTransmission()

	mock.ExpectQuery("INSERT INTO transmissions").
		WithArgs(txm.TransmissionID, txm.IdempotencyKey, txm.UserID, txm.ThreadID, txm.Payload, txm.PayloadHash, txm.Status, txm.CreatedAt, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"transmission_id"}).AddRow(txm.TransmissionID))

	got, created, err := ds.CreateOrGetTransmissionByIdempotencyKey(context.Background(), txm)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, txm.TransmissionID, got.TransmissionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGetTransmission_ReplaySameKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txm := newTestTransmission()
	existingCreatedAt := time.Now().Add(-time.Minute)

	// The insert loses to the existing key: DO NOTHING means no returned row.
	mock.ExpectQuery("INSERT INTO transmissions").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery("SELECT .* FROM transmissions WHERE idempotency_key").
		WithArgs(txm.IdempotencyKey).
		WillReturnRows(sqlmock.NewRows([]string{
			"transmission_id", "idempotency_key", "user_id", "thread_id", "payload", "payload_hash", "status", "lease_owner", "lease_expires_at", "created_at", "meta_data",
		}).AddRow("txm_original", txm.IdempotencyKey, txm.UserID, txm.ThreadID, txm.Payload, txm.PayloadHash, "completed", nil, nil, existingCreatedAt, nil))

	got, created, err := ds.CreateOrGetTransmissionByIdempotencyKey(context.Background(), txm)
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "txm_original", got.TransmissionID)
	assert.Equal(t, "completed", got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextTransmission_ClaimsOldestEligible(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	leaseExpires := time.Now().Add(60 * time.Second)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(sqlmock.AnyArg(), "worker_1", int64(60)).
		WillReturnRows(sqlmock.NewRows([]string{
			"transmission_id", "idempotency_key", "user_id", "thread_id", "payload", "payload_hash", "status", "lease_owner", "lease_expires_at", "created_at", "meta_data", "prior_status",
		}).AddRow("txm_123", "idem-abc", "usr_1", "thr_1", `{"message":"hello"}`, "hash", "processing", "worker_1", leaseExpires, time.Now(), nil, "created"))

	txm, priorStatus, err := ds.ClaimNextTransmission(context.Background(), []string{"created", "processing"}, "worker_1", 60*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, txm)
	assert.Equal(t, "created", priorStatus)
	assert.Equal(t, "processing", txm.Status)
	assert.Equal(t, "worker_1", txm.LeaseOwner)
	assert.NotNil(t, txm.LeaseExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextTransmission_NothingEligible(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnError(sql.ErrNoRows)

	txm, priorStatus, err := ds.ClaimNextTransmission(context.Background(), []string{"created"}, "worker_1", 60*time.Second)
	assert.NoError(t, err)
	assert.Nil(t, txm)
	assert.Empty(t, priorStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimTransmission_ById(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transmissions").
		WithArgs("txm_123", "api_1", int64(60), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := ds.ClaimTransmission(context.Background(), "txm_123", []string{"created"}, "api_1", 60*time.Second)
	assert.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimTransmission_AlreadyHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transmissions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := ds.ClaimTransmission(context.Background(), "txm_123", []string{"created"}, "api_1", 60*time.Second)
	assert.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransmissionTerminal_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transmissions").
		WithArgs("txm_123", "completed", "worker_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateTransmissionTerminal(context.Background(), "txm_123", "worker_1", "completed")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransmissionTerminal_LeaseLost(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// The row was reclaimed by another worker after lease expiry; the
	// conditional update matches nothing and the late writer gets a conflict.
	mock.ExpectExec("UPDATE transmissions").
		WithArgs("txm_123", "completed", "worker_slow").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateTransmissionTerminal(context.Background(), "txm_123", "worker_slow", "completed")
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTransmissionForRetry_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transmissions").
		WithArgs("txm_123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.ResetTransmissionForRetry(context.Background(), "txm_123")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTransmissionForRetry_NotFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transmissions").
		WithArgs("txm_123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.ResetTransmissionForRetry(context.Background(), "txm_123")
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransmission_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM transmissions").
		WithArgs("txm_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetTransmission(context.Background(), "txm_missing")
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountLeaseable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "oldest"}).AddRow(int64(7), float64(12.5)))

	count, oldest, err := ds.CountLeaseable(context.Background(), []string{"created"})
	assert.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Equal(t, 12500*time.Millisecond, oldest)
	assert.NoError(t, mock.ExpectationsWereMet())
}
