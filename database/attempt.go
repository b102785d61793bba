package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/parleylabs/parley/internal/apierror"
	"github.com/parleylabs/parley/model"
)

// AppendDeliveryAttempt records one concluded execution attempt. Attempts are
// a log, not a cache: repeat calls append additional rows.
func (d Datasource) AppendDeliveryAttempt(ctx context.Context, att *model.DeliveryAttempt) (*model.DeliveryAttempt, error) {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Appending delivery attempt")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO delivery_attempts(attempt_id,transmission_id,provider,succeeded,output_bytes,error_summary,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		att.AttemptID, att.TransmissionID, att.Provider, att.Succeeded, att.OutputBytes, att.ErrorSummary, att.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append delivery attempt", err)
	}

	return att, nil
}

func (d Datasource) GetDeliveryAttempts(ctx context.Context, transmissionID string) ([]model.DeliveryAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, transmission_id, provider, succeeded, output_bytes, error_summary, created_at
		FROM delivery_attempts
		WHERE transmission_id = $1
		ORDER BY created_at ASC, id ASC
	`, transmissionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery attempts", err)
	}
	defer rows.Close()

	var attempts []model.DeliveryAttempt
	for rows.Next() {
		attempt := model.DeliveryAttempt{}
		var provider, errorSummary sql.NullString
		err = rows.Scan(
			&attempt.AttemptID,
			&attempt.TransmissionID,
			&provider,
			&attempt.Succeeded,
			&attempt.OutputBytes,
			&errorSummary,
			&attempt.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan delivery attempt data", err)
		}
		attempt.Provider = provider.String
		attempt.ErrorSummary = errorSummary.String
		attempts = append(attempts, attempt)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over delivery attempts", err)
	}

	return attempts, nil
}

func (d Datasource) RecordUsage(ctx context.Context, usage *model.UsageRecord) (*model.UsageRecord, error) {
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO usage_records(usage_id,transmission_id,input_bytes,output_bytes,created_at) VALUES ($1,$2,$3,$4,$5)`,
		usage.UsageID, usage.TransmissionID, usage.InputBytes, usage.OutputBytes, usage.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record usage", err)
	}

	return usage, nil
}

func (d Datasource) GetUsage(ctx context.Context, transmissionID string) ([]model.UsageRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT usage_id, transmission_id, input_bytes, output_bytes, created_at
		FROM usage_records
		WHERE transmission_id = $1
		ORDER BY created_at ASC, id ASC
	`, transmissionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve usage records", err)
	}
	defer rows.Close()

	var records []model.UsageRecord
	for rows.Next() {
		record := model.UsageRecord{}
		err = rows.Scan(
			&record.UsageID,
			&record.TransmissionID,
			&record.InputBytes,
			&record.OutputBytes,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan usage record data", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over usage records", err)
	}

	return records, nil
}

// SetResult caches the canonical answer for a transmission. Write-once: a
// concurrent duplicate write loses to the unique constraint and is a no-op.
func (d Datasource) SetResult(ctx context.Context, res *model.Result) error {
	ctx, span := otel.Tracer("Transmission store").Start(ctx, "Caching transmission result")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO results(transmission_id,body,provider,created_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (transmission_id) DO NOTHING`,
		res.TransmissionID, res.Body, res.Provider, res.CreatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set result", err)
	}

	return nil
}

func (d Datasource) GetResult(ctx context.Context, transmissionID string) (*model.Result, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transmission_id, body, provider, created_at
		FROM results
		WHERE transmission_id = $1
	`, transmissionID)

	res := &model.Result{}
	var provider sql.NullString
	err := row.Scan(&res.TransmissionID, &res.Body, &provider, &res.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Result for transmission '%s' not found", transmissionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve result", err)
	}
	res.Provider = provider.String

	return res, nil
}

func (d Datasource) AppendTraceEntries(ctx context.Context, entries []model.TraceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		_, err := d.Conn.ExecContext(ctx,
			`INSERT INTO trace_entries(transmission_id,seq,stage,detail,created_at) VALUES ($1,$2,$3,$4,$5)`,
			entry.TransmissionID, entry.Seq, entry.Stage, entry.Detail, entry.CreatedAt,
		)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append trace entries", err)
		}
	}

	return nil
}

func (d Datasource) GetTraceEntries(ctx context.Context, transmissionID string) ([]model.TraceEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transmission_id, seq, stage, detail, created_at
		FROM trace_entries
		WHERE transmission_id = $1
		ORDER BY seq ASC
	`, transmissionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trace entries", err)
	}
	defer rows.Close()

	var entries []model.TraceEntry
	for rows.Next() {
		entry := model.TraceEntry{}
		var detail sql.NullString
		err = rows.Scan(&entry.TransmissionID, &entry.Seq, &entry.Stage, &detail, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan trace entry data", err)
		}
		entry.Detail = detail.String
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over trace entries", err)
	}

	return entries, nil
}
