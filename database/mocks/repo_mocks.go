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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/parleylabs/parley/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Transmission lifecycle methods

func (m *MockDataSource) CreateTransmission(ctx context.Context, txm *model.Transmission) (*model.Transmission, error) {
	args := m.Called(ctx, txm)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transmission), args.Error(1)
}

func (m *MockDataSource) CreateOrGetTransmissionByIdempotencyKey(ctx context.Context, txm *model.Transmission) (*model.Transmission, bool, error) {
	args := m.Called(ctx, txm)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Transmission), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetTransmission(ctx context.Context, id string) (*model.Transmission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transmission), args.Error(1)
}

func (m *MockDataSource) ClaimNextTransmission(ctx context.Context, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (*model.Transmission, string, error) {
	args := m.Called(ctx, eligibleStatuses, leaseOwner, leaseDuration)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*model.Transmission), args.String(1), args.Error(2)
}

func (m *MockDataSource) ClaimTransmission(ctx context.Context, id string, eligibleStatuses []string, leaseOwner string, leaseDuration time.Duration) (bool, error) {
	args := m.Called(ctx, id, eligibleStatuses, leaseOwner, leaseDuration)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) UpdateTransmissionTerminal(ctx context.Context, id string, leaseOwner string, status string) error {
	args := m.Called(ctx, id, leaseOwner, status)
	return args.Error(0)
}

func (m *MockDataSource) ResetTransmissionForRetry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) CountLeaseable(ctx context.Context, eligibleStatuses []string) (int64, time.Duration, error) {
	args := m.Called(ctx, eligibleStatuses)
	return args.Get(0).(int64), args.Get(1).(time.Duration), args.Error(2)
}

// Append-only log methods

func (m *MockDataSource) AppendDeliveryAttempt(ctx context.Context, att *model.DeliveryAttempt) (*model.DeliveryAttempt, error) {
	args := m.Called(ctx, att)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeliveryAttempt), args.Error(1)
}

func (m *MockDataSource) GetDeliveryAttempts(ctx context.Context, transmissionID string) ([]model.DeliveryAttempt, error) {
	args := m.Called(ctx, transmissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DeliveryAttempt), args.Error(1)
}

func (m *MockDataSource) RecordUsage(ctx context.Context, usage *model.UsageRecord) (*model.UsageRecord, error) {
	args := m.Called(ctx, usage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UsageRecord), args.Error(1)
}

func (m *MockDataSource) GetUsage(ctx context.Context, transmissionID string) ([]model.UsageRecord, error) {
	args := m.Called(ctx, transmissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UsageRecord), args.Error(1)
}

// Result and trace methods

func (m *MockDataSource) SetResult(ctx context.Context, res *model.Result) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *MockDataSource) GetResult(ctx context.Context, transmissionID string) (*model.Result, error) {
	args := m.Called(ctx, transmissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Result), args.Error(1)
}

func (m *MockDataSource) AppendTraceEntries(ctx context.Context, entries []model.TraceEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockDataSource) GetTraceEntries(ctx context.Context, transmissionID string) ([]model.TraceEntry, error) {
	args := m.Called(ctx, transmissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TraceEntry), args.Error(1)
}

// Topology methods

func (m *MockDataSource) EnsureTopologyKey(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockDataSource) GetTopologyKey(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
