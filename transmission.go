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
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/internal/apierror"
	"github.com/parleylabs/parley/model"
)

var tracer = otel.Tracer("parley.transmissions")

// Transmission statuses. Monotonic except for the failed -> created retry
// transition driven by idempotency-key resubmission.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SubmissionResult is what the admission protocol hands back to the API
// layer, which maps it onto HTTP status codes.
type SubmissionResult struct {
	Transmission     *model.Transmission `json:"transmission"`
	Result           *model.Result       `json:"result,omitempty"`
	Pending          bool                `json:"pending"`
	IdempotentReplay bool                `json:"idempotent_replay"`
}

// TransmissionDetail aggregates everything a client can poll about one
// transmission.
type TransmissionDetail struct {
	Transmission *model.Transmission     `json:"transmission"`
	Attempts     []model.DeliveryAttempt `json:"attempts"`
	Usage        []model.UsageRecord     `json:"usage"`
	Result       *model.Result           `json:"result,omitempty"`
	Trace        []model.TraceEntry      `json:"trace,omitempty"`
}

func resultCacheKey(transmissionID string) string {
	return fmt.Sprintf("result:%s", transmissionID)
}

// SubmitTransmission admits a client message. With no idempotency key the
// transmission is created unconditionally. With a key, the key resolves to
// exactly one transmission for the lifetime of the system: a known key with a
// different payload is a conflict, a completed one replays the cached result,
// an in-flight one reports pending, and a failed one is reset and re-executed
// under its original id.
func (p *Parley) SubmitTransmission(ctx context.Context, txm *model.Transmission) (*SubmissionResult, error) {
	ctx, span := tracer.Start(ctx, "Submitting transmission")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	txm.TransmissionID = model.GenerateUUIDWithSuffix("txm")
	txm.PayloadHash = model.HashPayload(txm.Payload)
	txm.Status = StatusCreated
	txm.CreatedAt = time.Now()

	if txm.IdempotencyKey == "" {
		created, err := p.datasource.CreateTransmission(ctx, txm)
		if err != nil {
			return nil, err
		}
		p.publishLifecycleEvent(model.EventTransmissionAccepted, created)
		return p.dispatch(ctx, cfg, created)
	}

	existing, created, err := p.datasource.CreateOrGetTransmissionByIdempotencyKey(ctx, txm)
	if err != nil {
		return nil, err
	}
	if created {
		p.publishLifecycleEvent(model.EventTransmissionAccepted, existing)
		return p.dispatch(ctx, cfg, existing)
	}

	if existing.PayloadHash != txm.PayloadHash {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Idempotency key '%s' is already bound to a different payload", txm.IdempotencyKey),
			map[string]interface{}{"transmission_id": existing.TransmissionID})
	}

	switch existing.Status {
	case StatusCompleted:
		result, err := p.getResultCached(ctx, existing.TransmissionID)
		if err != nil {
			return nil, err
		}
		return &SubmissionResult{Transmission: existing, Result: result, IdempotentReplay: true}, nil
	case StatusCreated, StatusProcessing:
		return &SubmissionResult{Transmission: existing, Pending: true}, nil
	case StatusFailed:
		if err := p.datasource.ResetTransmissionForRetry(ctx, existing.TransmissionID); err != nil {
			// Another caller won the reset race; the row is back in flight.
			if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
				return &SubmissionResult{Transmission: existing, Pending: true}, nil
			}
			return nil, err
		}
		existing.Status = StatusCreated
		return p.dispatch(ctx, cfg, existing)
	default:
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Transmission '%s' has unknown status '%s'", existing.TransmissionID, existing.Status), nil)
	}
}

// dispatch runs a freshly admitted (or reset) transmission. Inline mode
// executes synchronously in the API process; otherwise the row stays created
// and a worker's lease loop picks it up.
func (p *Parley) dispatch(ctx context.Context, cfg *config.Configuration, txm *model.Transmission) (*SubmissionResult, error) {
	if !cfg.Worker.Inline {
		return &SubmissionResult{Transmission: txm, Pending: true}, nil
	}

	leaseOwner := model.GenerateUUIDWithSuffix("api")
	leaseDuration := time.Duration(cfg.Worker.LeaseDurationSec) * time.Second
	claimed, err := p.datasource.ClaimTransmission(ctx, txm.TransmissionID, []string{StatusCreated}, leaseOwner, leaseDuration)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the claim to a worker; the caller polls until terminal.
		return &SubmissionResult{Transmission: txm, Pending: true}, nil
	}
	txm.Status = StatusProcessing

	result, err := p.ExecuteTransmission(ctx, txm, leaseOwner)
	if err != nil {
		return nil, err
	}
	txm.Status = StatusCompleted
	return &SubmissionResult{Transmission: txm, Result: result}, nil
}

// ExecuteTransmission runs the pipeline for a claimed transmission and writes
// the terminal outcome. Shared by the synchronous admission path and the
// worker lease loop so the terminal-write logic exists once. The caller must
// hold the lease under leaseOwner; exactly one delivery attempt is appended
// per execution.
func (p *Parley) ExecuteTransmission(ctx context.Context, txm *model.Transmission, leaseOwner string) (*model.Result, error) {
	ctx, span := tracer.Start(ctx, "Executing transmission")
	defer span.End()

	p.publishLifecycleEvent(model.EventTransmissionStarted, txm)

	outcome, pipelineErr := p.pipeline.Execute(ctx, txm)
	if outcome == nil {
		outcome = &PipelineOutcome{}
	}

	if len(outcome.Trace) > 0 {
		if err := p.datasource.AppendTraceEntries(ctx, outcome.Trace); err != nil {
			logrus.Warnf("failed to append trace entries for %s: %v", txm.TransmissionID, err)
		}
	}

	if pipelineErr != nil {
		return nil, p.failTransmission(ctx, txm, leaseOwner, outcome.Provider, pipelineErr)
	}
	return p.completeTransmission(ctx, txm, leaseOwner, outcome)
}

func (p *Parley) completeTransmission(ctx context.Context, txm *model.Transmission, leaseOwner string, outcome *PipelineOutcome) (*model.Result, error) {
	attempt := &model.DeliveryAttempt{
		AttemptID:      model.GenerateUUIDWithSuffix("atp"),
		TransmissionID: txm.TransmissionID,
		Provider:       outcome.Provider,
		Succeeded:      true,
		OutputBytes:    outcome.OutputBytes,
		CreatedAt:      time.Now(),
	}
	if _, err := p.datasource.AppendDeliveryAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	usage := &model.UsageRecord{
		UsageID:        model.GenerateUUIDWithSuffix("usg"),
		TransmissionID: txm.TransmissionID,
		InputBytes:     outcome.InputBytes,
		OutputBytes:    outcome.OutputBytes,
		CreatedAt:      time.Now(),
	}
	if _, err := p.datasource.RecordUsage(ctx, usage); err != nil {
		logrus.Warnf("failed to record usage for %s: %v", txm.TransmissionID, err)
	}

	if err := p.datasource.UpdateTransmissionTerminal(ctx, txm.TransmissionID, leaseOwner, StatusCompleted); err != nil {
		// The lease was reclaimed while we were executing. The newer holder
		// owns the outcome now; drop ours. The attempt row above stays, as
		// attempts are a log of what actually ran.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			logrus.Warnf("discarding late result for %s: %v", txm.TransmissionID, err)
			return nil, err
		}
		return nil, err
	}

	result := &model.Result{
		TransmissionID: txm.TransmissionID,
		Body:           outcome.Body,
		Provider:       outcome.Provider,
		CreatedAt:      time.Now(),
	}
	if err := p.datasource.SetResult(ctx, result); err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, resultCacheKey(txm.TransmissionID), result, 24*time.Hour); err != nil {
		logrus.Warnf("failed to cache result for %s: %v", txm.TransmissionID, err)
	}

	p.publishLifecycleEvent(model.EventTransmissionCompleted, txm)
	p.sendWebhook(model.EventTransmissionCompleted, txm)
	return result, nil
}

func (p *Parley) failTransmission(ctx context.Context, txm *model.Transmission, leaseOwner string, provider string, pipelineErr error) error {
	attempt := &model.DeliveryAttempt{
		AttemptID:      model.GenerateUUIDWithSuffix("atp"),
		TransmissionID: txm.TransmissionID,
		Provider:       provider,
		Succeeded:      false,
		ErrorSummary:   pipelineErr.Error(),
		CreatedAt:      time.Now(),
	}
	if _, err := p.datasource.AppendDeliveryAttempt(ctx, attempt); err != nil {
		logrus.Errorf("failed to append failed attempt for %s: %v", txm.TransmissionID, err)
	}

	if err := p.datasource.UpdateTransmissionTerminal(ctx, txm.TransmissionID, leaseOwner, StatusFailed); err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			logrus.Warnf("discarding late failure for %s: %v", txm.TransmissionID, err)
		} else {
			logrus.Errorf("failed to mark %s failed: %v", txm.TransmissionID, err)
		}
	}

	p.publishLifecycleEvent(model.EventTransmissionFailed, txm)
	p.sendWebhook(model.EventTransmissionFailed, txm)

	return apierror.NewAPIError(apierror.ErrRetryable,
		fmt.Sprintf("Execution failed for transmission '%s': %s", txm.TransmissionID, pipelineErr.Error()),
		map[string]interface{}{"transmission_id": txm.TransmissionID, "retryable": true})
}

// PollTransmission returns the transmission with its attempt log, usage and
// result if terminal. Trace entries are included only on request.
func (p *Parley) PollTransmission(ctx context.Context, id string, includeTrace bool) (*TransmissionDetail, error) {
	ctx, span := tracer.Start(ctx, "Polling transmission")
	defer span.End()

	txm, err := p.datasource.GetTransmission(ctx, id)
	if err != nil {
		return nil, err
	}

	attempts, err := p.datasource.GetDeliveryAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	usage, err := p.datasource.GetUsage(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &TransmissionDetail{Transmission: txm, Attempts: attempts, Usage: usage}

	if txm.Status == StatusCompleted {
		result, err := p.getResultCached(ctx, id)
		if err != nil {
			return nil, err
		}
		detail.Result = result
	}

	if includeTrace {
		trace, err := p.datasource.GetTraceEntries(ctx, id)
		if err != nil {
			return nil, err
		}
		detail.Trace = trace
	}

	return detail, nil
}

// getResultCached reads the result through the replay cache; the store stays
// the source of truth on a miss.
func (p *Parley) getResultCached(ctx context.Context, transmissionID string) (*model.Result, error) {
	var cached model.Result
	if err := p.cache.Get(ctx, resultCacheKey(transmissionID), &cached); err == nil && cached.TransmissionID != "" {
		return &cached, nil
	}

	result, err := p.datasource.GetResult(ctx, transmissionID)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, resultCacheKey(transmissionID), result, 24*time.Hour); err != nil {
		logrus.Warnf("failed to cache result for %s: %v", transmissionID, err)
	}
	return result, nil
}

func (p *Parley) sendWebhook(event string, txm *model.Transmission) {
	if p.queue == nil {
		return
	}
	if err := p.queue.queueWebhook(NewWebhook{Event: event, Payload: txm}); err != nil {
		logrus.Error(err)
	}
}

func (p *Parley) publishLifecycleEvent(kind string, txm *model.Transmission) {
	if p.hub == nil {
		return
	}
	p.hub.PublishToUser(txm.UserID, &model.Event{
		Kind:    kind,
		Subject: txm.TransmissionID,
		Payload: map[string]interface{}{"status": txm.Status, "thread_id": txm.ThreadID},
		Ts:      time.Now(),
	})
}
