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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/railrelay/railrelay/database/mocks"
	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

type repairFixture struct {
	service *Railrelay
	ds      *mocks.MockDataSource
	rail    *MockRailClient
	core    *MockFinancialCoreClient
}

func newRepairFixture() *repairFixture {
	ds := new(mocks.MockDataSource)
	rail := new(MockRailClient)
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, mock.Anything).
		Return(model.InstructionState{InstructionID: "ins-1", State: model.InstructionStateExecuting}, nil)
	return &repairFixture{
		service: &Railrelay{datasource: ds, railClient: rail, coreClient: core},
		ds:      ds,
		rail:    rail,
		core:    core,
	}
}

func testRepairContext() model.RepairContext {
	return model.RepairContext{
		InstructionID: "ins-1",
		OutboxID:      "outbox-1",
		AttemptID:     "outbox-1:2",
		RailID:        model.RailTypePayment,
		RequestID:     "req-1",
	}
}

func TestRepair_ConfirmedSuccess(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{
			Status:        model.ReconciliationConfirmedSuccess,
			RailReference: "rail-ref-1",
		}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.MatchedBy(func(event *model.RepairEvent) bool {
		return event.ReconciliationResult.Status == model.ReconciliationConfirmedSuccess &&
			event.RecommendedTransition == model.InstructionStateCompleted
	})).Return(nil)
	f.core.On("ProposeTransition", mock.Anything, mock.MatchedBy(func(req model.TransitionRequest) bool {
		return req.InstructionID == "ins-1" && req.TargetState == model.InstructionStateCompleted
	})).Return(&model.TransitionResponse{Accepted: true, NewState: model.InstructionStateCompleted}, nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, model.InstructionStateCompleted, outcome.RecommendedTransition)
	assert.NotEmpty(t, outcome.RepairEventID)

	f.ds.AssertExpectations(t)
	f.core.AssertExpectations(t)
}

func TestRepair_ConfirmedFailure(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{
			Status:        model.ReconciliationConfirmedFailure,
			FailureReason: "INSUFFICIENT_FUNDS",
		}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)
	f.core.On("ProposeTransition", mock.Anything, mock.MatchedBy(func(req model.TransitionRequest) bool {
		return req.TargetState == model.InstructionStateFailed && req.Reason == "INSUFFICIENT_FUNDS"
	})).Return(&model.TransitionResponse{Accepted: true, NewState: model.InstructionStateFailed}, nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, model.InstructionStateFailed, outcome.RecommendedTransition)
}

func TestRepair_NotFoundMapsToFailed(t *testing.T) {
	// The rail never saw the request, so no money moved.
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationNotFound}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)
	f.core.On("ProposeTransition", mock.Anything, mock.Anything).
		Return(&model.TransitionResponse{Accepted: true}, nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, model.InstructionStateFailed, outcome.RecommendedTransition)
}

func TestRepair_StillPendingStaysOpen(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationStillPending}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.Empty(t, outcome.RecommendedTransition)

	// No transition is ever guessed from an unresolved answer.
	f.core.AssertNotCalled(t, "ProposeTransition", mock.Anything, mock.Anything)
}

func TestRepair_QueryFailureIsRailUnavailable(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{}, errors.New("connection refused"))
	f.ds.On("RecordRepairEvent", mock.Anything, mock.MatchedBy(func(event *model.RepairEvent) bool {
		return event.ReconciliationResult.Status == model.ReconciliationRailUnavailable
	})).Return(nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.Equal(t, model.ReconciliationRailUnavailable, outcome.ReconciliationResult.Status)
	f.core.AssertNotCalled(t, "ProposeTransition", mock.Anything, mock.Anything)
}

func TestRepair_CoreRejectionIsNotAnError(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationConfirmedSuccess, RailReference: "rail-ref-1"}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)
	f.core.On("ProposeTransition", mock.Anything, mock.Anything).
		Return(&model.TransitionResponse{Accepted: false, RejectionReason: "already COMPLETED"}, nil)

	outcome, err := f.service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.True(t, outcome.Resolved)
}

func TestRepair_RecordEventFailurePropagates(t *testing.T) {
	f := newRepairFixture()
	f.rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationConfirmedSuccess}, nil)
	f.ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	_, err := f.service.Repair(context.Background(), testRepairContext())
	assert.Error(t, err)
	f.core.AssertNotCalled(t, "ProposeTransition", mock.Anything, mock.Anything)
}

func TestRepair_TerminalInstructionRejected(t *testing.T) {
	ds := new(mocks.MockDataSource)
	rail := new(MockRailClient)
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{InstructionID: "ins-1", State: model.InstructionStateCompleted, IsTerminal: true}, nil)
	service := &Railrelay{datasource: ds, railClient: rail, coreClient: core}

	_, err := service.Repair(context.Background(), testRepairContext())
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrTerminalInstruction))
	rail.AssertNotCalled(t, "QueryTransactionStatus", mock.Anything, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "RecordRepairEvent", mock.Anything, mock.Anything)
}

func TestRepair_StateCheckFailureDoesNotBlockCycle(t *testing.T) {
	ds := new(mocks.MockDataSource)
	rail := new(MockRailClient)
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{}, errors.New("core unreachable"))
	rail.On("QueryTransactionStatus", mock.Anything, model.RailTypePayment, "outbox-1").
		Return(model.ReconciliationResult{Status: model.ReconciliationStillPending}, nil)
	ds.On("RecordRepairEvent", mock.Anything, mock.Anything).Return(nil)
	service := &Railrelay{datasource: ds, railClient: rail, coreClient: core}

	outcome, err := service.Repair(context.Background(), testRepairContext())
	assert.NoError(t, err)
	assert.False(t, outcome.Resolved)
}

func TestRecommendedTransition(t *testing.T) {
	assert.Equal(t, model.InstructionStateCompleted, recommendedTransition(model.ReconciliationResult{Status: model.ReconciliationConfirmedSuccess}))
	assert.Equal(t, model.InstructionStateFailed, recommendedTransition(model.ReconciliationResult{Status: model.ReconciliationConfirmedFailure}))
	assert.Equal(t, model.InstructionStateFailed, recommendedTransition(model.ReconciliationResult{Status: model.ReconciliationNotFound}))
	assert.Empty(t, recommendedTransition(model.ReconciliationResult{Status: model.ReconciliationStillPending}))
	assert.Empty(t, recommendedTransition(model.ReconciliationResult{Status: model.ReconciliationRailUnavailable}))
}
