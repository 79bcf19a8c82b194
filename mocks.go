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

package railrelay

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/railrelay/railrelay/model"
)

// MockRailClient is a mock implementation of the RailClient interface.
type MockRailClient struct {
	mock.Mock
}

func (m *MockRailClient) Dispatch(ctx context.Context, req RailDispatchRequest) (*RailDispatchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RailDispatchResult), args.Error(1)
}

func (m *MockRailClient) QueryTransactionStatus(ctx context.Context, railID, reference string) (model.ReconciliationResult, error) {
	args := m.Called(ctx, railID, reference)
	return args.Get(0).(model.ReconciliationResult), args.Error(1)
}

// MockFinancialCoreClient is a mock implementation of the
// FinancialCoreClient interface.
type MockFinancialCoreClient struct {
	mock.Mock
}

func (m *MockFinancialCoreClient) GetInstructionState(ctx context.Context, instructionID string) (model.InstructionState, error) {
	args := m.Called(ctx, instructionID)
	return args.Get(0).(model.InstructionState), args.Error(1)
}

func (m *MockFinancialCoreClient) ProposeTransition(ctx context.Context, req model.TransitionRequest) (*model.TransitionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TransitionResponse), args.Error(1)
}

// MockRepairQueue is a mock implementation of the repairQueue interface.
type MockRepairQueue struct {
	mock.Mock
}

func (m *MockRepairQueue) EnqueueRepairTask(ctx context.Context, repairCtx model.RepairContext) error {
	args := m.Called(ctx, repairCtx)
	return args.Error(0)
}
