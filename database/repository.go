package database

import (
	"context"
	"time"

	"github.com/railrelay/railrelay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	outbox       // Interface for the outbox store protocol
	attemptLog   // Interface for the append-only attempt log
	repairEvents // Interface for append-only repair events
}

// outbox defines the store protocol for pending entries. Claim, complete
// and lease repair run as atomic server-side routines.
type outbox interface {
	EnqueueOutbox(ctx context.Context, instructionID, participantID, idempotencyKey, railType string, payload model.DispatchPayload) (*model.EnqueueResult, error) // Idempotent enqueue
	ClaimOutboxBatch(ctx context.Context, batchSize int, workerID string, leaseSeconds int) ([]model.OutboxEntry, error)                                           // Lease-based batch claim
	CompleteOutboxAttempt(ctx context.Context, req model.CompletionRequest) (*model.CompletionResult, error)                                                       // Lease-bound completion
	RepairExpiredLeases(ctx context.Context, batchSize int, workerID string) ([]model.LeaseRepairResult, error)                                                    // Expired-lease reclaim
	GetOutboxStatus(ctx context.Context, outboxID string) (*model.DispatchStatus, error)                                                                           // Pending or latest attempt state
	GetExpiredLeaseCount(ctx context.Context) (int, error)                                                                                                         // Monitoring helper
}

// attemptLog defines read and append paths over the attempt trail. No
// update or delete method exists by construction; the store's trigger
// backs this up.
type attemptLog interface {
	GetAttempts(ctx context.Context, outboxID string) ([]model.OutboxAttempt, error)                       // Full trail for one entry
	FindZombieAttempts(ctx context.Context, threshold time.Duration, limit int) ([]model.OutboxAttempt, error) // Latest-attempt DISPATCHING scan
	RequeueZombie(ctx context.Context, attempt model.OutboxAttempt) error                                  // Transactional requeue + audit row
}

// repairEvents defines the append-only reconciliation record.
type repairEvents interface {
	RecordRepairEvent(ctx context.Context, event *model.RepairEvent) error
	GetRepairEvents(ctx context.Context, instructionID string) ([]model.RepairEvent, error)
}
