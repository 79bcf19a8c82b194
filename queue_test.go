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
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/railrelay/railrelay/database/mocks"
	"github.com/railrelay/railrelay/model"
)

func newRepairTask(t *testing.T, repairCtx model.RepairContext) *asynq.Task {
	payload, err := json.Marshal(repairCtx)
	assert.NoError(t, err)
	return asynq.NewTask(RepairTaskType, payload)
}

func TestRepairTaskHandler_ResolvedCycleSucceeds(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{
			Status:        model.ReconciliationConfirmedSuccess,
			RailReference: "rail-ref-1",
		}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)
	f.core.On("ProposeTransition", mock.Anything, mock.Anything).
		Return(&model.TransitionResponse{Accepted: true}, nil)

	handler := f.service.RepairTaskHandler()
	err := handler(context.Background(), newRepairTask(t, testRepairContext()))
	assert.NoError(t, err)
	f.ds.AssertExpectations(t)
}

func TestRepairTaskHandler_UnresolvedCycleErrorsForRetry(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationStillPending}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)

	handler := f.service.RepairTaskHandler()
	err := handler(context.Background(), newRepairTask(t, testRepairContext()))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved")
	f.core.AssertNotCalled(t, "ProposeTransition", mock.Anything, mock.Anything)
}

func TestRepairTaskHandler_BadPayload(t *testing.T) {
	f := newRepairFixture()

	handler := f.service.RepairTaskHandler()
	err := handler(context.Background(), asynq.NewTask(RepairTaskType, []byte("not json")))
	assert.Error(t, err)
	f.rail.AssertNotCalled(t, "QueryTransactionStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRepairTaskHandler_TerminalInstructionSkips(t *testing.T) {
	ds := new(mocks.MockDataSource)
	rail := new(MockRailClient)
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{State: model.InstructionStateCompleted, IsTerminal: true}, nil)
	service := &Railrelay{datasource: ds, railClient: rail, coreClient: core}

	handler := service.RepairTaskHandler()
	err := handler(context.Background(), newRepairTask(t, testRepairContext()))
	assert.NoError(t, err)
	rail.AssertNotCalled(t, "QueryTransactionStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRepairTaskHandler_RepairFailurePropagates(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationConfirmedSuccess}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).
		Return(assert.AnError)

	handler := f.service.RepairTaskHandler()
	err := handler(context.Background(), newRepairTask(t, testRepairContext()))
	assert.Error(t, err)
}
