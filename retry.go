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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/model"
)

// EvaluateRetry decides whether a failed attempt may be re-executed under
// the same idempotency key. The failure class carries fixed eligibility;
// this adds the guards that depend on live state. Checks run in order and
// the first failing one wins.
func (l *Railrelay) EvaluateRetry(ctx context.Context, classification model.FailureClassification, instructionID, idempotencyKey string) model.RetryDecision {
	decision := model.RetryDecision{
		InstructionID:  instructionID,
		IdempotencyKey: idempotencyKey,
	}

	// Retrying without an idempotency key could double-execute a payment.
	if idempotencyKey == "" {
		decision.Reason = "missing idempotency key; retry is unsafe"
		return l.logRetryDecision(classification, decision)
	}

	eligibility := classification.FailureClass.Eligibility()
	if !eligibility.RetryAllowed {
		decision.ShouldRepair = eligibility.RepairRequired
		decision.Reason = eligibility.Reason
		return l.logRetryDecision(classification, decision)
	}

	// The Financial Core owns instruction state. A terminal instruction
	// must never be dispatched again, whatever the local attempt log says.
	state, err := l.coreClient.GetInstructionState(ctx, instructionID)
	if err != nil {
		decision.Reason = "instruction state unavailable; refusing retry until state is known"
		logrus.WithError(err).WithField("instruction_id", instructionID).Warn("retry evaluation could not reach financial core")
		return l.logRetryDecision(classification, decision)
	}
	if state.IsTerminal || state.State == model.InstructionStateCompleted || state.State == model.InstructionStateFailed {
		decision.Reason = "instruction already terminal at the financial core"
		return l.logRetryDecision(classification, decision)
	}

	decision.ShouldRetry = true
	decision.Reason = eligibility.Reason
	return l.logRetryDecision(classification, decision)
}

func (l *Railrelay) logRetryDecision(classification model.FailureClassification, decision model.RetryDecision) model.RetryDecision {
	logrus.WithFields(logrus.Fields{
		"instruction_id": decision.InstructionID,
		"failure_class":  classification.FailureClass,
		"error_code":     classification.ErrorCode,
		"should_retry":   decision.ShouldRetry,
		"should_repair":  decision.ShouldRepair,
		"reason":         decision.Reason,
	}).Info("retry decision")
	return decision
}

// RetryDelay computes how long a retryable entry stays off the claim path
// before its next attempt.
func RetryDelay(conf *config.Configuration, attemptCount int) time.Duration {
	if conf == nil {
		return 30 * time.Second
	}
	base := time.Duration(conf.Outbox.RetryDelaySeconds) * time.Second
	if conf.Outbox.BackoffPolicy != config.BackoffPolicyExponential {
		return base
	}

	delay := time.Second
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= 60*time.Second {
			return 60 * time.Second
		}
	}
	return delay
}
