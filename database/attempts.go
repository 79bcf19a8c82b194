package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/model"
)

// GetAttempts returns the full append-only trail for one outbox entry,
// ordered by attempt_no.
func (d Datasource) GetAttempts(ctx context.Context, outboxID string) ([]model.OutboxAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, outbox_id, instruction_id, participant_id, sequence_id, idempotency_key, rail_type, attempt_no, state, rail_reference, rail_code, error_code, error_message, latency_ms, claimed_at, completed_at, created_at
		FROM railrelay.payment_outbox_attempts
		WHERE outbox_id = $1
		ORDER BY attempt_no ASC
	`, outboxID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch attempts", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.OutboxAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over attempts", err)
	}
	return attempts, nil
}

// FindZombieAttempts scans the attempt log for entries whose most recent
// attempt is still DISPATCHING past the staleness threshold: a worker
// claimed them but never completed them, and the pending row's lease
// bookkeeping may itself be gone or inconsistent.
func (d Datasource) FindZombieAttempts(ctx context.Context, threshold time.Duration, limit int) ([]model.OutboxAttempt, error) {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Scan for zombie attempts")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT a.attempt_id, a.outbox_id, a.instruction_id, a.participant_id, a.sequence_id, a.idempotency_key, a.rail_type, a.attempt_no, a.state, a.rail_reference, a.rail_code, a.error_code, a.error_message, a.latency_ms, a.claimed_at, a.completed_at, a.created_at
		FROM railrelay.payment_outbox_attempts a
		JOIN (
			SELECT outbox_id, MAX(attempt_no) AS attempt_no
			FROM railrelay.payment_outbox_attempts
			GROUP BY outbox_id
		) latest ON latest.outbox_id = a.outbox_id AND latest.attempt_no = a.attempt_no
		WHERE a.state = 'DISPATCHING'
		  AND a.claimed_at < NOW() - make_interval(secs => $1)
		ORDER BY a.claimed_at ASC
		LIMIT $2
	`, int(threshold.Seconds()), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan for zombie attempts", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.OutboxAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over zombie attempts", err)
	}
	return attempts, nil
}

// RequeueZombie re-inserts a stuck entry into the pending store and
// appends a ZOMBIE_REQUEUE attempt in one transaction. Upserting on
// outbox_id with a GREATEST merge on attempt_count makes a double run
// over the same entry harmless.
func (d Datasource) RequeueZombie(ctx context.Context, attempt model.OutboxAttempt) error {
	ctx, span := otel.Tracer("outbox.database").Start(ctx, "Requeue zombie entry")
	defer span.End()

	payloadJSON, err := d.attemptPayload(ctx, attempt)
	if err != nil {
		return err
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin requeue transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO railrelay.payment_outbox_pending (
			outbox_id, instruction_id, participant_id, sequence_id, idempotency_key, rail_type, payload, status, attempt_count, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'RECOVERING', $8, NOW())
		ON CONFLICT (outbox_id) DO UPDATE SET
			attempt_count    = GREATEST(payment_outbox_pending.attempt_count, EXCLUDED.attempt_count),
			status           = 'RECOVERING',
			claimed_by       = NULL,
			lease_token      = NULL,
			lease_expires_at = NULL,
			next_attempt_at  = NOW()
	`,
		attempt.OutboxID,
		attempt.InstructionID,
		attempt.ParticipantID,
		attempt.SequenceID,
		attempt.IdempotencyKey,
		attempt.RailType,
		payloadJSON,
		attempt.AttemptNo,
	)
	if err != nil {
		return mapPostgresError(err, "Failed to requeue zombie entry")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO railrelay.payment_outbox_attempts (
			outbox_id, instruction_id, participant_id, sequence_id, idempotency_key, rail_type, payload, attempt_no, state, error_code, error_message, completed_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7,
			COALESCE((SELECT MAX(attempt_no) FROM railrelay.payment_outbox_attempts WHERE outbox_id = $1), 0) + 1,
			'ZOMBIE_REQUEUE', 'ZOMBIE_STALE_DISPATCH', $8, NOW()
	`,
		attempt.OutboxID,
		attempt.InstructionID,
		attempt.ParticipantID,
		attempt.SequenceID,
		attempt.IdempotencyKey,
		attempt.RailType,
		payloadJSON,
		"stale DISPATCHING attempt requeued",
	)
	if err != nil {
		return mapPostgresError(err, "Failed to append zombie requeue attempt")
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit zombie requeue", err)
	}
	return nil
}

// attemptPayload reads the stored payload for an attempt row. Kept
// separate so the requeue transaction stays write-only.
func (d Datasource) attemptPayload(ctx context.Context, attempt model.OutboxAttempt) ([]byte, error) {
	var payloadJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT payload
		FROM railrelay.payment_outbox_attempts
		WHERE attempt_id = $1
	`, attempt.AttemptID).Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		payload, err := json.Marshal(model.DispatchPayload{})
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal empty payload", err)
		}
		return payload, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read attempt payload", err)
	}
	return payloadJSON, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(rows rowScanner) (*model.OutboxAttempt, error) {
	var attempt model.OutboxAttempt
	var railReference, railCode, errorCode, errorMessage sql.NullString
	var latencyMs sql.NullInt64
	var claimedAt, completedAt sql.NullTime

	err := rows.Scan(
		&attempt.AttemptID,
		&attempt.OutboxID,
		&attempt.InstructionID,
		&attempt.ParticipantID,
		&attempt.SequenceID,
		&attempt.IdempotencyKey,
		&attempt.RailType,
		&attempt.AttemptNo,
		&attempt.State,
		&railReference,
		&railCode,
		&errorCode,
		&errorMessage,
		&latencyMs,
		&claimedAt,
		&completedAt,
		&attempt.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan attempt", err)
	}

	attempt.RailReference = railReference.String
	attempt.RailCode = railCode.String
	attempt.ErrorCode = errorCode.String
	attempt.ErrorMessage = errorMessage.String
	if latencyMs.Valid {
		attempt.LatencyMs = &latencyMs.Int64
	}
	if claimedAt.Valid {
		attempt.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		attempt.CompletedAt = &completedAt.Time
	}
	return &attempt, nil
}
