/*
Copyright 2024 Railrelay Authors.

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

	"github.com/railrelay/railrelay/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Outbox store methods

func (m *MockDataSource) EnqueueOutbox(ctx context.Context, instructionID, participantID, idempotencyKey, railType string, payload model.DispatchPayload) (*model.EnqueueResult, error) {
	args := m.Called(ctx, instructionID, participantID, idempotencyKey, railType, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.EnqueueResult), args.Error(1)
}

func (m *MockDataSource) ClaimOutboxBatch(ctx context.Context, batchSize int, workerID string, leaseSeconds int) ([]model.OutboxEntry, error) {
	args := m.Called(ctx, batchSize, workerID, leaseSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxEntry), args.Error(1)
}

func (m *MockDataSource) CompleteOutboxAttempt(ctx context.Context, req model.CompletionRequest) (*model.CompletionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CompletionResult), args.Error(1)
}

func (m *MockDataSource) RepairExpiredLeases(ctx context.Context, batchSize int, workerID string) ([]model.LeaseRepairResult, error) {
	args := m.Called(ctx, batchSize, workerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LeaseRepairResult), args.Error(1)
}

func (m *MockDataSource) GetOutboxStatus(ctx context.Context, outboxID string) (*model.DispatchStatus, error) {
	args := m.Called(ctx, outboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DispatchStatus), args.Error(1)
}

func (m *MockDataSource) GetExpiredLeaseCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// Attempt log methods

func (m *MockDataSource) GetAttempts(ctx context.Context, outboxID string) ([]model.OutboxAttempt, error) {
	args := m.Called(ctx, outboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxAttempt), args.Error(1)
}

func (m *MockDataSource) FindZombieAttempts(ctx context.Context, threshold time.Duration, limit int) ([]model.OutboxAttempt, error) {
	args := m.Called(ctx, threshold, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxAttempt), args.Error(1)
}

func (m *MockDataSource) RequeueZombie(ctx context.Context, attempt model.OutboxAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

// Repair event methods

func (m *MockDataSource) RecordRepairEvent(ctx context.Context, event *model.RepairEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDataSource) GetRepairEvents(ctx context.Context, instructionID string) ([]model.RepairEvent, error) {
	args := m.Called(ctx, instructionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RepairEvent), args.Error(1)
}
