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
	"time"

	"github.com/parleylabs/parley/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transmission // Interface for transmission lifecycle operations
	attempt      // Interface for the append-only attempt and usage logs
	result       // Interface for cached results and trace runs
	topology     // Interface for the topology key handshake
}

// transmission defines the atomic lifecycle operations. These are the only
// writers of transmission status and lease fields; callers never
// read-modify-write.
type transmission interface {
	CreateTransmission(ctx context.Context, txm *model.Transmission) (*model.Transmission, error)                                                     // Creates a transmission without dedup (no idempotency key)
	CreateOrGetTransmissionByIdempotencyKey(ctx context.Context, txm *model.Transmission) (*model.Transmission, bool, error)                          // Returns (row, created); never two rows per key
	GetTransmission(ctx context.Context, id string) (*model.Transmission, error)                                                                      // Retrieves a transmission by ID
	ClaimNextTransmission(ctx context.Context, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (*model.Transmission, string, error) // Atomically claims one eligible row; returns it with its pre-claim status
	ClaimTransmission(ctx context.Context, id string, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (bool, error)        // Atomically claims a specific row
	UpdateTransmissionTerminal(ctx context.Context, id string, leaseOwner string, status string) error                                                // Terminal write guarded by current lease ownership
	ResetTransmissionForRetry(ctx context.Context, id string) error                                                                                   // failed -> created, clears lease fields
	CountLeaseable(ctx context.Context, eligibleStatuses []string) (int64, time.Duration, error)                                                      // Heartbeat visibility: backlog size and oldest age
}

// attempt defines the append-only execution and accounting logs.
type attempt interface {
	AppendDeliveryAttempt(ctx context.Context, att *model.DeliveryAttempt) (*model.DeliveryAttempt, error)
	GetDeliveryAttempts(ctx context.Context, transmissionID string) ([]model.DeliveryAttempt, error)
	RecordUsage(ctx context.Context, usage *model.UsageRecord) (*model.UsageRecord, error)
	GetUsage(ctx context.Context, transmissionID string) ([]model.UsageRecord, error)
}

// result defines cached result and trace-run access.
type result interface {
	SetResult(ctx context.Context, res *model.Result) error // Write-once; later identical writes are no-ops
	GetResult(ctx context.Context, transmissionID string) (*model.Result, error)
	AppendTraceEntries(ctx context.Context, entries []model.TraceEntry) error
	GetTraceEntries(ctx context.Context, transmissionID string) ([]model.TraceEntry, error)
}

// topology defines the shared-datastore identity used by the worker handshake.
type topology interface {
	EnsureTopologyKey(ctx context.Context, key string) (string, error) // Insert-once; returns the winning key
	GetTopologyKey(ctx context.Context) (string, error)                // "" when not yet written
}
