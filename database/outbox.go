package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

// EnqueueOutbox records a durable intent to execute a side effect against
// an external rail. Idempotent: concurrent calls with the same
// (participant_id, idempotency_key) collapse onto one row and all callers
// observe the same identifiers.
func (d Datasource) EnqueueOutbox(ctx context.Context, instructionID, participantID, idempotencyKey, railType string, payload model.DispatchPayload) (*model.EnqueueResult, error) {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Enqueue outbox entry")
	defer span.End()

	payloadJSON, err := payload.ToJSON()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Failed to marshal payload", err)
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT outbox_id, sequence_id, created_at, state
		FROM railrelay.enqueue_payment_outbox($1, $2, $3, $4, $5)
	`, instructionID, participantID, idempotencyKey, railType, payloadJSON)

	result := &model.EnqueueResult{}
	err = row.Scan(&result.OutboxID, &result.SequenceID, &result.CreatedAt, &result.State)
	if err != nil {
		return nil, mapPostgresError(err, "Failed to enqueue outbox entry")
	}
	return result, nil
}

// ClaimOutboxBatch claims up to batchSize due entries for this worker.
// The routine stamps a fresh lease on each row and appends a DISPATCHING
// attempt; rows locked by another claimer are skipped, not waited on.
func (d Datasource) ClaimOutboxBatch(ctx context.Context, batchSize int, workerID string, leaseSeconds int) ([]model.OutboxEntry, error) {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Claim outbox batch")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT outbox_id, instruction_id, participant_id, sequence_id, idempotency_key, rail_type, payload, attempt_count, lease_token, lease_expires_at
		FROM railrelay.claim_outbox_batch($1, $2, $3)
	`, batchSize, workerID, leaseSeconds)
	if err != nil {
		return nil, mapPostgresError(err, "Failed to claim outbox batch")
	}
	defer func() { _ = rows.Close() }()

	var entries []model.OutboxEntry
	for rows.Next() {
		var entry model.OutboxEntry
		var payloadJSON []byte
		var leaseExpiresAt sql.NullTime

		err := rows.Scan(
			&entry.OutboxID,
			&entry.InstructionID,
			&entry.ParticipantID,
			&entry.SequenceID,
			&entry.IdempotencyKey,
			&entry.RailType,
			&payloadJSON,
			&entry.AttemptCount,
			&entry.LeaseToken,
			&leaseExpiresAt,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan claimed entry", err)
		}
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal payload", err)
		}
		if leaseExpiresAt.Valid {
			entry.LeaseExpiresAt = &leaseExpiresAt.Time
		}
		entry.ClaimedBy = workerID
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over claimed entries", err)
	}
	return entries, nil
}

// CompleteOutboxAttempt records the outcome of a claimed attempt. It
// succeeds only while the supplied lease token is still current; a stale
// token surfaces as apierror.ErrStaleLease and exactly one of N racing
// completions can ever win.
func (d Datasource) CompleteOutboxAttempt(ctx context.Context, req model.CompletionRequest) (*model.CompletionResult, error) {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Complete outbox attempt")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT attempt_no, state
		FROM railrelay.complete_outbox_attempt($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		req.OutboxID,
		req.LeaseToken,
		req.WorkerID,
		req.State,
		nullString(req.RailReference),
		nullString(req.RailCode),
		nullString(req.ErrorCode),
		nullString(req.ErrorMessage),
		nullInt64(req.LatencyMs),
		nullInt(req.RetryDelaySeconds),
	)

	result := &model.CompletionResult{}
	err := row.Scan(&result.AttemptNo, &result.State)
	if err != nil {
		return nil, mapPostgresError(err, "Failed to complete outbox attempt")
	}
	return result, nil
}

// RepairExpiredLeases reclaims entries whose lease expired: clears the
// lease, bumps attempt_count, reschedules the entry and appends a
// ZOMBIE_REQUEUE attempt, all atomically per row.
func (d Datasource) RepairExpiredLeases(ctx context.Context, batchSize int, workerID string) ([]model.LeaseRepairResult, error) {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Repair expired leases")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT outbox_id, attempt_no
		FROM railrelay.repair_expired_leases($1, $2)
	`, batchSize, workerID)
	if err != nil {
		return nil, mapPostgresError(err, "Failed to repair expired leases")
	}
	defer func() { _ = rows.Close() }()

	var results []model.LeaseRepairResult
	for rows.Next() {
		var r model.LeaseRepairResult
		if err := rows.Scan(&r.OutboxID, &r.AttemptNo); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan lease repair result", err)
		}
		results = append(results, r)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over lease repair results", err)
	}
	return results, nil
}

// GetOutboxStatus reports where an entry stands: still pending, or the
// state of its most recent attempt.
func (d Datasource) GetOutboxStatus(ctx context.Context, outboxID string) (*model.DispatchStatus, error) {
	var createdAt sql.NullTime
	var status string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT status, created_at
		FROM railrelay.payment_outbox_pending
		WHERE outbox_id = $1
	`, outboxID).Scan(&status, &createdAt)
	if err == nil {
		return &model.DispatchStatus{Status: status}, nil
	}
	if err != sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up pending entry", err)
	}

	var lastError sql.NullString
	var completedAt sql.NullTime
	err = d.Conn.QueryRowContext(ctx, `
		SELECT state, error_message, completed_at
		FROM railrelay.payment_outbox_attempts
		WHERE outbox_id = $1
		ORDER BY attempt_no DESC
		LIMIT 1
	`, outboxID).Scan(&status, &lastError, &completedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Outbox entry '%s' not found", outboxID), err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up attempt state", err)
	}

	result := &model.DispatchStatus{Status: status, LastError: lastError.String}
	if completedAt.Valid {
		result.ProcessedAt = &completedAt.Time
	}
	return result, nil
}

// GetExpiredLeaseCount counts entries with an expired lease, for
// monitoring.
func (d Datasource) GetExpiredLeaseCount(ctx context.Context) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM railrelay.payment_outbox_pending
		WHERE claimed_by IS NOT NULL
		  AND lease_expires_at <= NOW()
	`).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count expired leases", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
