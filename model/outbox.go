package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Outbox entry statuses. RECOVERING entries were requeued by a repair
// worker and are claimable exactly like PENDING ones.
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusRecovering = "RECOVERING"
)

// Attempt states recorded in the append-only attempt log.
const (
	AttemptStateDispatching   = "DISPATCHING"
	AttemptStateDispatched    = "DISPATCHED"
	AttemptStateFailed        = "FAILED"
	AttemptStateRetryable     = "RETRYABLE"
	AttemptStateZombieRequeue = "ZOMBIE_REQUEUE"
)

// Rail types supported by the outbox.
const (
	RailTypePayment  = "PAYMENT"
	RailTypeTransfer = "TRANSFER"
	RailTypeRefund   = "REFUND"
	RailTypeReversal = "REVERSAL"
)

// DispatchPayload is the opaque money-movement payload carried by an
// outbox entry. The relayer validates it before the rail call; the store
// treats it as data.
type DispatchPayload struct {
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	Destination string                 `json:"destination"`
	Reference   string                 `json:"reference,omitempty"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
}

// OutboxEntry is one pending row in payment_outbox_pending: a durable
// intent to execute a side effect against an external rail. At most one
// pending row exists per (participant_id, idempotency_key).
type OutboxEntry struct {
	OutboxID       string          `json:"outbox_id"`
	InstructionID  string          `json:"instruction_id"`
	ParticipantID  string          `json:"participant_id"`
	SequenceID     int64           `json:"sequence_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	RailType       string          `json:"rail_type"`
	Payload        DispatchPayload `json:"payload"`
	AttemptCount   int             `json:"attempt_count"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	LeaseToken     string          `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// OutboxAttempt is one immutable row in payment_outbox_attempts. Rows are
// never updated or deleted after insert; a later attempt appends a new row
// with a higher AttemptNo.
type OutboxAttempt struct {
	AttemptID      string     `json:"attempt_id"`
	OutboxID       string     `json:"outbox_id"`
	InstructionID  string     `json:"instruction_id"`
	ParticipantID  string     `json:"participant_id"`
	SequenceID     int64      `json:"sequence_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	RailType       string     `json:"rail_type"`
	AttemptNo      int        `json:"attempt_no"`
	State          string     `json:"state"`
	RailReference  string     `json:"rail_reference,omitempty"`
	RailCode       string     `json:"rail_code,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	LatencyMs      *int64     `json:"latency_ms,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CompletionRequest carries everything the store needs to record the
// outcome of one claimed attempt. Completion only succeeds while the
// supplied lease token is still the current one.
type CompletionRequest struct {
	OutboxID          string `json:"outbox_id"`
	LeaseToken        string `json:"lease_token"`
	WorkerID          string `json:"worker_id"`
	State             string `json:"state"`
	RailReference     string `json:"rail_reference,omitempty"`
	RailCode          string `json:"rail_code,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	LatencyMs         *int64 `json:"latency_ms,omitempty"`
	RetryDelaySeconds *int   `json:"retry_delay_seconds,omitempty"`
}

// CompletionResult is the store's answer to a completion request.
type CompletionResult struct {
	AttemptNo int    `json:"attempt_no"`
	State     string `json:"state"`
}

// LeaseRepairResult identifies one entry whose expired lease was reclaimed.
type LeaseRepairResult struct {
	OutboxID  string `json:"outbox_id"`
	AttemptNo int    `json:"attempt_no"`
}

// EnqueueResult is returned by the idempotent enqueue routine. Concurrent
// enqueues with the same (participant_id, idempotency_key) all observe the
// same OutboxID and SequenceID.
type EnqueueResult struct {
	OutboxID   string    `json:"outbox_id"`
	SequenceID int64     `json:"sequence_id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// DispatchStatus summarizes where an outbox entry currently stands: still
// pending, or the state of its most recent attempt.
type DispatchStatus struct {
	Status      string     `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (p *DispatchPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
