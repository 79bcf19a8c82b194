package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.opentelemetry.io/otel"

	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

// RecordRepairEvent appends one immutable reconciliation record. A later
// repair cycle appends a new event rather than correcting an old one.
func (d Datasource) RecordRepairEvent(ctx context.Context, event *model.RepairEvent) error {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Record repair event")
	defer span.End()

	resultJSON, err := event.ReconciliationResult.ToJSON()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal reconciliation result", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO railrelay.repair_events (
			repair_event_id, instruction_id, attempt_id, rail_id, reconciliation_result, recommended_transition, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.RepairEventID,
		event.InstructionID,
		event.AttemptID,
		event.RailID,
		resultJSON,
		nullString(event.RecommendedTransition),
		nullString(event.RequestID),
		event.CreatedAt,
	)
	if err != nil {
		return mapPostgresError(err, "Failed to record repair event")
	}
	return nil
}

// GetRepairEvents returns the reconciliation history for an instruction,
// newest first.
func (d Datasource) GetRepairEvents(ctx context.Context, instructionID string) ([]model.RepairEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT repair_event_id, instruction_id, attempt_id, rail_id, reconciliation_result, recommended_transition, request_id, created_at
		FROM railrelay.repair_events
		WHERE instruction_id = $1
		ORDER BY created_at DESC
	`, instructionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch repair events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.RepairEvent
	for rows.Next() {
		var event model.RepairEvent
		var resultJSON []byte
		var recommendedTransition, requestID sql.NullString

		err := rows.Scan(
			&event.RepairEventID,
			&event.InstructionID,
			&event.AttemptID,
			&event.RailID,
			&resultJSON,
			&recommendedTransition,
			&requestID,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan repair event", err)
		}
		if err := json.Unmarshal(resultJSON, &event.ReconciliationResult); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal reconciliation result", err)
		}
		event.RecommendedTransition = recommendedTransition.String
		event.RequestID = requestID.String
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over repair events", err)
	}
	return events, nil
}
