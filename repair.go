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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// Repair runs one reconciliation cycle for an ambiguous attempt: ask the
// rail what actually happened, record the answer as an immutable repair
// event, and propose the derived transition to the Financial Core. An
// unresolved answer leaves the instruction open for a later cycle; it is
// never guessed into a terminal state.
func (l *Railrelay) Repair(ctx context.Context, repairCtx model.RepairContext) (*model.RepairOutcome, error) {
	ctx, span := otel.Tracer("outbox.repair").Start(ctx, "Repair attempt")
	defer span.End()

	logger := logrus.WithFields(logrus.Fields{
		"instruction_id": repairCtx.InstructionID,
		"outbox_id":      repairCtx.OutboxID,
		"attempt_id":     repairCtx.AttemptID,
		"rail_id":        repairCtx.RailID,
		"request_id":     repairCtx.RequestID,
	})
	logger.Info("starting reconciliation cycle")

	// A terminal instruction needs no repair. The check is best effort:
	// an unreachable core does not block the cycle, the rail still gets
	// asked and the event still gets recorded.
	if state, err := l.coreClient.GetInstructionState(ctx, repairCtx.InstructionID); err != nil {
		logger.WithError(err).Warn("could not check instruction state before repair")
	} else if state.IsTerminal {
		return nil, apierror.NewAPIError(apierror.ErrTerminalInstruction,
			"instruction is already terminal, repair is not applicable", state.State)
	}

	result := l.reconcileWithRail(ctx, repairCtx, logger)
	transition := recommendedTransition(result)

	event := &model.RepairEvent{
		RepairEventID:         model.GenerateUUIDWithSuffix("repair"),
		InstructionID:         repairCtx.InstructionID,
		AttemptID:             repairCtx.AttemptID,
		RailID:                repairCtx.RailID,
		ReconciliationResult:  result,
		RecommendedTransition: transition,
		RequestID:             repairCtx.RequestID,
		CreatedAt:             time.Now(),
	}
	if err := l.datasource.RecordRepairEvent(ctx, event); err != nil {
		return nil, logAndRecordError(span, "recording repair event error", err)
	}

	if transition != "" {
		l.proposeRepairTransition(ctx, repairCtx, result, transition, logger)
	} else {
		logger.WithField("status", result.Status).Info("reconciliation unresolved, instruction stays open")
	}

	return &model.RepairOutcome{
		Resolved:              result.Resolved(),
		ReconciliationResult:  result,
		RecommendedTransition: transition,
		RepairEventID:         event.RepairEventID,
		RepairedAt:            event.CreatedAt,
	}, nil
}

// reconcileWithRail queries the rail for the attempt's true outcome. A
// failed query is itself an outcome: RAIL_UNAVAILABLE, unresolved.
func (l *Railrelay) reconcileWithRail(ctx context.Context, repairCtx model.RepairContext, logger *logrus.Entry) model.ReconciliationResult {
	result, err := l.railClient.QueryTransactionStatus(ctx, repairCtx.RailID, repairCtx.OutboxID)
	if err != nil {
		logger.WithError(err).Warn("rail status query failed")
		return model.ReconciliationResult{
			Status:  model.ReconciliationRailUnavailable,
			Details: SanitizeErrorMessage(err.Error()),
		}
	}
	logger.WithFields(logrus.Fields{
		"status":         result.Status,
		"rail_reference": result.RailReference,
	}).Info("rail status query completed")
	return result
}

// recommendedTransition derives the terminal state a resolved
// reconciliation implies. NOT_FOUND maps to FAILED: the rail never saw
// the request, so no money moved.
func recommendedTransition(result model.ReconciliationResult) string {
	switch result.Status {
	case model.ReconciliationConfirmedSuccess:
		return model.InstructionStateCompleted
	case model.ReconciliationConfirmedFailure, model.ReconciliationNotFound:
		return model.InstructionStateFailed
	default:
		return ""
	}
}

// proposeRepairTransition sends the advisory transition to the Financial
// Core. The core may reject it; the repair event already records what the
// rail said, so a rejection is logged and not treated as a cycle failure.
func (l *Railrelay) proposeRepairTransition(ctx context.Context, repairCtx model.RepairContext, result model.ReconciliationResult, transition string, logger *logrus.Entry) {
	reason := result.Details
	if result.Status == model.ReconciliationConfirmedFailure && result.FailureReason != "" {
		reason = result.FailureReason
	}

	response, err := l.coreClient.ProposeTransition(ctx, model.TransitionRequest{
		InstructionID: repairCtx.InstructionID,
		TargetState:   transition,
		Reason:        reason,
	})
	if err != nil {
		logger.WithError(err).Error("failed to propose transition to financial core")
		return
	}
	if !response.Accepted {
		logger.WithFields(logrus.Fields{
			"target_state": transition,
			"rejection":    response.RejectionReason,
		}).Warn("financial core rejected repair transition")
		return
	}
	logger.WithField("new_state", response.NewState).Info("financial core accepted repair transition")
}
