package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lib/pq"

	"github.com/parleylabs/parley/internal/apierror"
	"github.com/parleylabs/parley/model"
)

const transmissionColumns = `transmission_id, idempotency_key, user_id, thread_id, payload, payload_hash, status, lease_owner, lease_expires_at, created_at, meta_data`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransmission(row rowScanner) (*model.Transmission, error) {
	txm := &model.Transmission{}
	var idemKey, leaseOwner sql.NullString
	var leaseExpires sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(&txm.TransmissionID, &idemKey, &txm.UserID, &txm.ThreadID, &txm.Payload, &txm.PayloadHash, &txm.Status, &leaseOwner, &leaseExpires, &txm.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	txm.IdempotencyKey = idemKey.String
	txm.LeaseOwner = leaseOwner.String
	if leaseExpires.Valid {
		t := leaseExpires.Time
		txm.LeaseExpiresAt = &t
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txm.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return txm, nil
}

// CreateTransmission inserts a new transmission with no idempotency key.
// Used when the client supplied no key and dedup is impossible.
func (d Datasource) CreateTransmission(ctx context.Context, txm *model.Transmission) (*model.Transmission, error) {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Saving transmission to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(txm.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO transmissions(transmission_id,user_id,thread_id,payload,payload_hash,status,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		txm.TransmissionID, txm.UserID, txm.ThreadID, txm.Payload, txm.PayloadHash, txm.Status, txm.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transmission", err)
	}

	return txm, nil
}

// CreateOrGetTransmissionByIdempotencyKey inserts the transmission unless the
// key already exists, in which case the existing row is returned. The unique
// index on idempotency_key guarantees a single row per key under concurrent
// admissions; losers of the insert race fall through to the select.
func (d Datasource) CreateOrGetTransmissionByIdempotencyKey(ctx context.Context, txm *model.Transmission) (*model.Transmission, bool, error) {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Create-or-get transmission by idempotency key")
	defer span.End()

	metaDataJSON, err := json.Marshal(txm.MetaData)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	row := d.Conn.QueryRowContext(ctx,
		`INSERT INTO transmissions(transmission_id,idempotency_key,user_id,thread_id,payload,payload_hash,status,created_at,meta_data)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING transmission_id`,
		txm.TransmissionID, txm.IdempotencyKey, txm.UserID, txm.ThreadID, txm.Payload, txm.PayloadHash, txm.Status, txm.CreatedAt, metaDataJSON,
	)

	var insertedID string
	err = row.Scan(&insertedID)
	if err == nil {
		return txm, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create transmission", err)
	}

	// Insert lost to an existing key; fetch the canonical row.
	existing, err := d.getTransmissionByIdempotencyKey(ctx, txm.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d Datasource) getTransmissionByIdempotencyKey(ctx context.Context, key string) (*model.Transmission, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transmissionColumns+`
		FROM transmissions
		WHERE idempotency_key = $1
	`, key)

	txm, err := scanTransmission(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transmission with idempotency key '%s' not found", key), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transmission", err)
	}
	return txm, nil
}

func (d Datasource) GetTransmission(ctx context.Context, id string) (*model.Transmission, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transmissionColumns+`
		FROM transmissions
		WHERE transmission_id = $1
	`, id)

	txm, err := scanTransmission(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transmission with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transmission", err)
	}
	return txm, nil
}

// ClaimNextTransmission atomically claims the oldest eligible transmission:
// status in eligibleStatuses and lease absent or expired. A single statement
// with FOR UPDATE SKIP LOCKED so two workers can never double-claim. Returns
// the claimed row together with the status it held before the claim, or nil
// when nothing is eligible.
func (d Datasource) ClaimNextTransmission(ctx context.Context, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (*model.Transmission, string, error) {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Claiming next eligible transmission")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		WITH claimable AS (
			SELECT transmission_id, status AS prior_status
			FROM transmissions
			WHERE status = ANY($1)
			  AND (lease_expires_at IS NULL OR lease_expires_at < NOW())
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transmissions t
		SET status = 'processing',
		    lease_owner = $2,
		    lease_expires_at = NOW() + $3 * INTERVAL '1 second'
		FROM claimable c
		WHERE t.transmission_id = c.transmission_id
		RETURNING t.transmission_id, t.idempotency_key, t.user_id, t.thread_id, t.payload, t.payload_hash, t.status, t.lease_owner, t.lease_expires_at, t.created_at, t.meta_data, c.prior_status
	`, pq.Array(eligibleStatuses), leaseOwner, int64(leaseDuration.Seconds()))

	txm := &model.Transmission{}
	var idemKey, leaseOwnerCol sql.NullString
	var leaseExpires sql.NullTime
	var metaDataJSON []byte
	var priorStatus string

	err := row.Scan(&txm.TransmissionID, &idemKey, &txm.UserID, &txm.ThreadID, &txm.Payload, &txm.PayloadHash, &txm.Status, &leaseOwnerCol, &leaseExpires, &txm.CreatedAt, &metaDataJSON, &priorStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim transmission", err)
	}

	txm.IdempotencyKey = idemKey.String
	txm.LeaseOwner = leaseOwnerCol.String
	if leaseExpires.Valid {
		t := leaseExpires.Time
		txm.LeaseExpiresAt = &t
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txm.MetaData); err != nil {
			return nil, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return txm, priorStatus, nil
}

// ClaimTransmission claims one specific transmission under the same
// eligibility predicate as ClaimNextTransmission. Used by the synchronous
// admission path so both execution paths share the ownership-guarded
// terminal write.
func (d Datasource) ClaimTransmission(ctx context.Context, id string, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (bool, error) {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Claiming transmission by id")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transmissions
		SET status = 'processing',
		    lease_owner = $2,
		    lease_expires_at = NOW() + $3 * INTERVAL '1 second'
		WHERE transmission_id = $1
		  AND status = ANY($4)
		  AND (lease_expires_at IS NULL OR lease_expires_at < NOW())
	`, id, leaseOwner, int64(leaseDuration.Seconds()), pq.Array(eligibleStatuses))
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim transmission", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// UpdateTransmissionTerminal writes a terminal status. The write is
// conditional on the caller still holding the lease; a slow worker whose row
// was reclaimed after lease expiry gets a conflict instead of clobbering the
// newer attempt's outcome.
func (d Datasource) UpdateTransmissionTerminal(ctx context.Context, id string, leaseOwner string, status string) error {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Writing terminal status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transmissions
		SET status = $2, lease_owner = NULL, lease_expires_at = NULL
		WHERE transmission_id = $1
		  AND status = 'processing'
		  AND lease_owner = $3
	`, id, status, leaseOwner)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transmission status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Lease for transmission '%s' no longer held by '%s'", id, leaseOwner), nil)
	}

	return nil
}

// ResetTransmissionForRetry moves a failed transmission back to created and
// clears its lease, so an idempotency-key resubmit re-executes the same row.
// Only valid on a failed transmission.
func (d Datasource) ResetTransmissionForRetry(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Resetting failed transmission for retry")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transmissions
		SET status = 'created', lease_owner = NULL, lease_expires_at = NULL
		WHERE transmission_id = $1
		  AND status = 'failed'
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset transmission", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transmission '%s' is not in a failed state", id), nil)
	}

	return nil
}

// CountLeaseable reports how many rows are currently claimable and the age of
// the oldest one. Operational visibility for the worker heartbeat only.
func (d Datasource) CountLeaseable(ctx context.Context, eligibleStatuses []string) (int64, time.Duration, error) {
	var count int64
	var oldestSeconds float64

	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(created_at))), 0)
		FROM transmissions
		WHERE status = ANY($1)
		  AND (lease_expires_at IS NULL OR lease_expires_at < NOW())
	`, pq.Array(eligibleStatuses)).Scan(&count, &oldestSeconds)
	if err != nil {
		return 0, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count leaseable transmissions", err)
	}

	return count, time.Duration(oldestSeconds * float64(time.Second)), nil
}
