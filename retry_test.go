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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/model"
)

func newTestService(core *MockFinancialCoreClient) *Railrelay {
	return &Railrelay{coreClient: core}
}

func transportClassification() model.FailureClassification {
	return model.FailureClassification{
		FailureClass: model.FailureTransport,
		Eligibility:  model.FailureTransport.Eligibility(),
		ErrorCode:    "ECONNRESET",
	}
}

func TestEvaluateRetry_MissingIdempotencyKey(t *testing.T) {
	core := new(MockFinancialCoreClient)
	service := newTestService(core)

	decision := service.EvaluateRetry(context.Background(), transportClassification(), "ins-1", "")
	assert.False(t, decision.ShouldRetry)
	assert.False(t, decision.ShouldRepair)
	assert.Contains(t, decision.Reason, "idempotency key")

	// The state guard never runs for an unsafe retry.
	core.AssertNotCalled(t, "GetInstructionState", mock.Anything, mock.Anything)
}

func TestEvaluateRetry_NonRetryableClass(t *testing.T) {
	core := new(MockFinancialCoreClient)
	service := newTestService(core)

	classification := model.FailureClassification{
		FailureClass: model.FailureRailReject,
		Eligibility:  model.FailureRailReject.Eligibility(),
	}

	decision := service.EvaluateRetry(context.Background(), classification, "ins-1", "idem-1")
	assert.False(t, decision.ShouldRetry)
	assert.False(t, decision.ShouldRepair)
	core.AssertNotCalled(t, "GetInstructionState", mock.Anything, mock.Anything)
}

func TestEvaluateRetry_TimeoutRoutesToRepair(t *testing.T) {
	core := new(MockFinancialCoreClient)
	service := newTestService(core)

	classification := model.FailureClassification{
		FailureClass: model.FailureTimeout,
		Eligibility:  model.FailureTimeout.Eligibility(),
	}

	decision := service.EvaluateRetry(context.Background(), classification, "ins-1", "idem-1")
	assert.False(t, decision.ShouldRetry)
	assert.True(t, decision.ShouldRepair)
}

func TestEvaluateRetry_TerminalInstructionBlocksRetry(t *testing.T) {
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{InstructionID: "ins-1", State: model.InstructionStateCompleted, IsTerminal: true}, nil)

	service := newTestService(core)
	decision := service.EvaluateRetry(context.Background(), transportClassification(), "ins-1", "idem-1")

	assert.False(t, decision.ShouldRetry)
	assert.Contains(t, decision.Reason, "terminal")
	core.AssertExpectations(t)
}

func TestEvaluateRetry_StateUnavailableBlocksRetry(t *testing.T) {
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{}, errors.New("core unreachable"))

	service := newTestService(core)
	decision := service.EvaluateRetry(context.Background(), transportClassification(), "ins-1", "idem-1")

	assert.False(t, decision.ShouldRetry)
	assert.Contains(t, decision.Reason, "unavailable")
}

func TestEvaluateRetry_Allowed(t *testing.T) {
	core := new(MockFinancialCoreClient)
	core.On("GetInstructionState", mock.Anything, "ins-1").
		Return(model.InstructionState{InstructionID: "ins-1", State: model.InstructionStateExecuting}, nil)

	service := newTestService(core)
	decision := service.EvaluateRetry(context.Background(), transportClassification(), "ins-1", "idem-1")

	assert.True(t, decision.ShouldRetry)
	assert.False(t, decision.ShouldRepair)
	assert.Equal(t, "ins-1", decision.InstructionID)
	assert.Equal(t, "idem-1", decision.IdempotencyKey)
}

func TestRetryDelay_FixedPolicy(t *testing.T) {
	conf := &config.Configuration{
		Outbox: config.OutboxConfig{RetryDelaySeconds: 30, BackoffPolicy: config.BackoffPolicyFixed},
	}
	assert.Equal(t, 30*time.Second, RetryDelay(conf, 1))
	assert.Equal(t, 30*time.Second, RetryDelay(conf, 4))
}

func TestRetryDelay_ExponentialPolicy(t *testing.T) {
	conf := &config.Configuration{
		Outbox: config.OutboxConfig{RetryDelaySeconds: 30, BackoffPolicy: config.BackoffPolicyExponential},
	}
	assert.Equal(t, time.Second, RetryDelay(conf, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(conf, 2))
	assert.Equal(t, 4*time.Second, RetryDelay(conf, 3))
	assert.Equal(t, 32*time.Second, RetryDelay(conf, 6))
	// Capped at one minute.
	assert.Equal(t, 60*time.Second, RetryDelay(conf, 12))
}

func TestRetryDelay_NilConfig(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(nil, 3))
}
