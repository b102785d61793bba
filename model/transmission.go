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

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Transmission is one logical unit of work: a client message tracked from
// admission through execution to its terminal status.
type Transmission struct {
	ID             int64                  `json:"-"`
	TransmissionID string                 `json:"id"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	UserID         string                 `json:"user_id"`
	ThreadID       string                 `json:"thread_id"`
	Payload        string                 `json:"payload"`
	PayloadHash    string                 `json:"-"`
	Status         string                 `json:"status"`
	LeaseOwner     string                 `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time             `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

func (t *Transmission) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// LeaseExpired reports whether the transmission's lease is absent or past its
// expiry. An expired lease makes a processing row claimable again.
func (t *Transmission) LeaseExpired(now time.Time) bool {
	return t.LeaseExpiresAt == nil || t.LeaseExpiresAt.Before(now)
}

// HashPayload produces the stable digest used to detect idempotency-key reuse
// with a different payload.
func HashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
