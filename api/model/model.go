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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/parleylabs/parley/model"
)

// SubmitMessage is the request body for POST /messages. The idempotency key
// is optional; when present it binds to this payload for its lifetime.
type SubmitMessage struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	UserID         string                 `json:"user_id"`
	ThreadID       string                 `json:"thread_id"`
	Payload        string                 `json:"payload"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func (m *SubmitMessage) ValidateSubmitMessage() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.UserID, validation.Required),
		validation.Field(&m.ThreadID, validation.Required),
		validation.Field(&m.Payload, validation.Required),
		validation.Field(&m.IdempotencyKey, validation.Length(0, 255)),
	)
}

func (m *SubmitMessage) ToTransmission() *model.Transmission {
	return &model.Transmission{
		IdempotencyKey: m.IdempotencyKey,
		UserID:         m.UserID,
		ThreadID:       m.ThreadID,
		Payload:        m.Payload,
		MetaData:       m.MetaData,
	}
}
