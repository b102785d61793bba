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

package model

import "time"

// DeliveryAttempt is one entry in the append-only execution log of a
// transmission. Attempts are never mutated or deleted.
type DeliveryAttempt struct {
	ID             int64     `json:"-"`
	AttemptID      string    `json:"id"`
	TransmissionID string    `json:"transmission_id"`
	Provider       string    `json:"provider"`
	Succeeded      bool      `json:"succeeded"`
	OutputBytes    int64     `json:"output_bytes"`
	ErrorSummary   string    `json:"error_summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord is an append-only accounting entry written once per successful
// attempt.
type UsageRecord struct {
	ID             int64     `json:"-"`
	UsageID        string    `json:"id"`
	TransmissionID string    `json:"transmission_id"`
	InputBytes     int64     `json:"input_bytes"`
	OutputBytes    int64     `json:"output_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}
