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
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

const enqueueCacheTTL = 5 * time.Minute

// DispatchRequest asks the outbox to durably record a money-movement
// instruction for dispatch to an external rail.
type DispatchRequest struct {
	InstructionID  string                `json:"instruction_id"`
	ParticipantID  string                `json:"participant_id"`
	IdempotencyKey string                `json:"idempotency_key"`
	RailType       string                `json:"rail_type"`
	Payload        model.DispatchPayload `json:"payload"`
}

func (req *DispatchRequest) validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.InstructionID, validation.Required),
		validation.Field(&req.ParticipantID, validation.Required),
		validation.Field(&req.IdempotencyKey, validation.Required),
		validation.Field(&req.RailType, validation.Required, validation.In(
			model.RailTypePayment, model.RailTypeTransfer, model.RailTypeRefund, model.RailTypeReversal,
		)),
		validation.Field(&req.Payload, validation.By(validatePayload)),
	)
}

func validatePayload(value interface{}) error {
	payload, ok := value.(model.DispatchPayload)
	if !ok {
		return fmt.Errorf("invalid payload type")
	}
	return validation.Errors{
		"amount": validation.Validate(payload.Amount, validation.By(func(v interface{}) error {
			if amount, ok := v.(decimal.Decimal); !ok || !amount.IsPositive() {
				return fmt.Errorf("must be a positive amount")
			}
			return nil
		})),
		"currency":    validation.Validate(payload.Currency, validation.Required, validation.Length(3, 3)),
		"destination": validation.Validate(payload.Destination, validation.Required),
	}.Filter()
}

// EnqueueDispatch records an instruction in the outbox. It is idempotent
// on (participant_id, idempotency_key): replays and concurrent duplicates
// all observe the entry created by the first call.
func (l *Railrelay) EnqueueDispatch(ctx context.Context, req *DispatchRequest) (*model.EnqueueResult, error) {
	ctx, span := otel.Tracer("outbox.dispatch").Start(ctx, "Enqueue dispatch")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "invalid dispatch request", err)
	}

	cacheKey := fmt.Sprintf("outbox:enqueue:%s:%s", req.ParticipantID, req.IdempotencyKey)
	var cached model.EnqueueResult
	if err := l.cache.Get(ctx, cacheKey, &cached); err == nil && cached.OutboxID != "" {
		return &cached, nil
	}

	result, err := l.datasource.EnqueueOutbox(ctx, req.InstructionID, req.ParticipantID, req.IdempotencyKey, req.RailType, req.Payload)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, cacheKey, result, enqueueCacheTTL); err != nil {
		logrus.WithError(err).Warn("failed to cache enqueue result")
	}

	logrus.WithFields(logrus.Fields{
		"outbox_id":      result.OutboxID,
		"instruction_id": req.InstructionID,
		"participant_id": req.ParticipantID,
		"sequence_id":    result.SequenceID,
		"state":          result.State,
	}).Info("dispatch enqueued")
	return result, nil
}

// GetDispatchStatus reports where an outbox entry stands: still pending,
// or the state its latest attempt reached.
func (l *Railrelay) GetDispatchStatus(ctx context.Context, outboxID string) (*model.DispatchStatus, error) {
	return l.datasource.GetOutboxStatus(ctx, outboxID)
}

// GetAttemptHistory returns the full immutable attempt trail for one
// outbox entry.
func (l *Railrelay) GetAttemptHistory(ctx context.Context, outboxID string) ([]model.OutboxAttempt, error) {
	return l.datasource.GetAttempts(ctx, outboxID)
}

// GetRepairHistory returns the reconciliation record for an instruction.
func (l *Railrelay) GetRepairHistory(ctx context.Context, instructionID string) ([]model.RepairEvent, error) {
	return l.datasource.GetRepairEvents(ctx, instructionID)
}
