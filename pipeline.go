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
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/internal/request"
	"github.com/parleylabs/parley/model"
)

// PipelineOutcome is what one pipeline run produced. Execute returns a
// non-nil outcome even on failure so the caller can persist the trace and
// attribute the attempt to a provider.
type PipelineOutcome struct {
	Body        string
	Provider    string
	InputBytes  int64
	OutputBytes int64
	Trace       []model.TraceEntry
}

// Pipeline turns an admitted transmission into a final answer. The content
// gates and generation backend behind it are collaborators; the control plane
// only cares that Execute either succeeds with a body or fails.
type Pipeline interface {
	Execute(ctx context.Context, txm *model.Transmission) (*PipelineOutcome, error)
}

// HTTPPipeline is the default pipeline: a keyword risk gate followed by a
// JSON call to the generation backend. The call carries its own timeout so a
// hung backend cannot hold a lease for the lease's full duration.
type HTTPPipeline struct {
	conf config.PipelineConfig
}

func NewHTTPPipeline(conf config.PipelineConfig) *HTTPPipeline {
	return &HTTPPipeline{conf: conf}
}

// blockedTerms is the trivial risk gate. Classification heuristics live
// outside the control plane; this only exists so a policy rejection is an
// observable pipeline failure.
var blockedTerms = []string{"ssn:", "credit card number"}

type generationRequest struct {
	ThreadID string `json:"thread_id"`
	Payload  string `json:"payload"`
}

type generationResponse struct {
	Body     string `json:"body"`
	Provider string `json:"provider"`
}

func (h *HTTPPipeline) Execute(ctx context.Context, txm *model.Transmission) (*PipelineOutcome, error) {
	outcome := &PipelineOutcome{
		Provider:   "generation",
		InputBytes: int64(len(txm.Payload)),
	}

	outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "risk_gate", "evaluating")
	if term := firstBlockedTerm(txm.Payload); term != "" {
		outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "risk_gate", fmt.Sprintf("rejected: %s", term))
		return outcome, fmt.Errorf("payload rejected by policy gate (%s)", term)
	}
	outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "risk_gate", "passed")

	timeout := time.Duration(h.conf.GenerationTimeoutSec) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := request.ToJsonReq(&generationRequest{ThreadID: txm.ThreadID, Payload: txm.Payload})
	if err != nil {
		return outcome, errors.Wrap(err, "building generation request")
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, h.conf.GenerationUrl, payload)
	if err != nil {
		return outcome, errors.Wrap(err, "building generation request")
	}

	var genResp generationResponse
	outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "generation", fmt.Sprintf("calling %s", h.conf.GenerationUrl))
	resp, err := request.Call(req, &genResp)
	if err != nil {
		outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "generation", "backend unreachable")
		return outcome, errors.Wrap(err, "generation backend call failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "generation", fmt.Sprintf("backend status %d", resp.StatusCode))
		return outcome, fmt.Errorf("generation backend returned status %d", resp.StatusCode)
	}

	if genResp.Provider != "" {
		outcome.Provider = genResp.Provider
	}
	outcome.Body = genResp.Body
	outcome.OutputBytes = int64(len(genResp.Body))
	outcome.appendTrace(h.conf.MaxTraceEntries, txm.TransmissionID, "generation", fmt.Sprintf("provider=%s bytes=%d", outcome.Provider, outcome.OutputBytes))

	return outcome, nil
}

func firstBlockedTerm(payload string) string {
	lowered := strings.ToLower(payload)
	for _, term := range blockedTerms {
		if strings.Contains(lowered, term) {
			return term
		}
	}
	return ""
}

// appendTrace records a diagnostic line, dropping entries beyond the bound.
func (o *PipelineOutcome) appendTrace(max int, transmissionID, stage, detail string) {
	if max > 0 && len(o.Trace) >= max {
		return
	}
	o.Trace = append(o.Trace, model.TraceEntry{
		TransmissionID: transmissionID,
		Seq:            len(o.Trace),
		Stage:          stage,
		Detail:         detail,
		CreatedAt:      time.Now(),
	})
}
