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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/apierror"
	"github.com/railrelay/railrelay/internal/notification"
	"github.com/railrelay/railrelay/model"
)

// OutboxRelayer drains the pending outbox. It polls the store for due
// entries, claims them under short leases and executes the rail call for
// each one, completing the attempt under the same lease token. A relayer
// that dies mid-batch loses nothing: its leases expire and the lease
// repair worker requeues the entries.
type OutboxRelayer struct {
	railrelay       *Railrelay
	conf            *config.Configuration
	workerID        string
	batchSize       int
	pollInterval    time.Duration
	leaseDuration   time.Duration
	dispatchTimeout time.Duration
	maxConcurrency  int
	maxRetries      int
	stopCh          chan struct{}
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// NewOutboxRelayer creates a relayer with defaults taken from the loaded
// configuration.
func NewOutboxRelayer(railrelay *Railrelay) *OutboxRelayer {
	relayer := &OutboxRelayer{
		railrelay:       railrelay,
		workerID:        model.GenerateUUIDWithSuffix("relayer"),
		batchSize:       50,
		pollInterval:    500 * time.Millisecond,
		leaseDuration:   30 * time.Second,
		dispatchTimeout: 30 * time.Second,
		maxConcurrency:  10,
		maxRetries:      5,
		stopCh:          make(chan struct{}),
	}

	conf, err := config.Fetch()
	if err != nil {
		logrus.WithError(err).Warn("configuration not loaded, relayer using built-in defaults")
		return relayer
	}
	relayer.conf = conf
	relayer.batchSize = conf.Outbox.BatchSize
	relayer.pollInterval = time.Duration(conf.Outbox.PollIntervalMs) * time.Millisecond
	relayer.leaseDuration = time.Duration(conf.Outbox.LeaseSeconds) * time.Second
	relayer.dispatchTimeout = time.Duration(conf.Outbox.DispatchTimeoutSeconds) * time.Second
	relayer.maxConcurrency = conf.Outbox.MaxConcurrency
	relayer.maxRetries = conf.Outbox.MaxRetries
	return relayer
}

// WithBatchSize sets the number of entries claimed per poll.
func (r *OutboxRelayer) WithBatchSize(size int) *OutboxRelayer {
	r.batchSize = size
	return r
}

// WithPollInterval sets the interval between polls.
func (r *OutboxRelayer) WithPollInterval(interval time.Duration) *OutboxRelayer {
	r.pollInterval = interval
	return r
}

// WithLeaseDuration sets how long a claimed entry stays invisible to
// other relayers.
func (r *OutboxRelayer) WithLeaseDuration(duration time.Duration) *OutboxRelayer {
	r.leaseDuration = duration
	return r
}

// WithWorkerID overrides the generated worker identity.
func (r *OutboxRelayer) WithWorkerID(workerID string) *OutboxRelayer {
	r.workerID = workerID
	return r
}

// Start begins claiming and dispatching outbox entries in the background.
func (r *OutboxRelayer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop gracefully stops the relayer and waits for in-flight dispatches.
func (r *OutboxRelayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Outbox relayer stopped")
}

// IsRunning returns whether the relayer is currently running.
func (r *OutboxRelayer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *OutboxRelayer) run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Outbox relayer context cancelled")
			return
		case <-r.stopCh:
			logrus.Info("Outbox relayer stop signal received")
			return
		case <-ticker.C:
			r.processBatch(ctx)
		}
	}
}

// processBatch claims one batch and dispatches the entries concurrently,
// bounded by maxConcurrency.
func (r *OutboxRelayer) processBatch(ctx context.Context) {
	entries, err := r.railrelay.datasource.ClaimOutboxBatch(ctx, r.batchSize, r.workerID, int(r.leaseDuration.Seconds()))
	if err != nil {
		logrus.Errorf("failed to claim outbox batch: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	logrus.Infof("Dispatching %d outbox entries", len(entries))

	sem := make(chan struct{}, r.maxConcurrency)
	var batch sync.WaitGroup
	for _, entry := range entries {
		batch.Add(1)
		sem <- struct{}{}
		go func(entry model.OutboxEntry) {
			defer batch.Done()
			defer func() { <-sem }()
			if err := r.processEntry(ctx, entry); err != nil {
				logrus.Errorf("failed to process outbox entry %s: %v", entry.OutboxID, err)
			}
		}(entry)
	}
	batch.Wait()
}

// processEntry executes one claimed entry end to end: rail call, lease
// bound completion and the advisory transition that follows a resolved
// outcome.
func (r *OutboxRelayer) processEntry(ctx context.Context, entry model.OutboxEntry) error {
	started := time.Now()

	// Deterministic payload problems fail the entry before anything
	// leaves the process.
	if err := validatePayload(entry.Payload); err != nil {
		classification := ClassifyFailure(ClassificationContext{
			ErrorCode:          "VALIDATION_ERROR",
			ErrorMessage:       err.Error(),
			BeforeExternalSend: true,
			RequestID:          entry.OutboxID,
		})
		return r.completeFailure(ctx, entry, classification, started)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	result, err := r.railrelay.railClient.Dispatch(dispatchCtx, RailDispatchRequest{
		Reference:     entry.OutboxID,
		Amount:        entry.Payload.Amount,
		Currency:      entry.Payload.Currency,
		Destination:   entry.Payload.Destination,
		ParticipantID: entry.ParticipantID,
		RailType:      entry.RailType,
		MetaData:      entry.Payload.MetaData,
	})
	cancel()

	if err != nil {
		errorCode := ""
		if errors.Is(err, context.DeadlineExceeded) {
			errorCode = "TIMEOUT"
		}
		classification := ClassifyFailure(ClassificationContext{
			ErrorCode:          errorCode,
			ErrorMessage:       err.Error(),
			BeforeExternalSend: false,
			RequestID:          entry.OutboxID,
		})
		return r.completeFailure(ctx, entry, classification, started)
	}

	if result.Success {
		return r.completeSuccess(ctx, entry, result, started)
	}

	errorCode := result.ErrorCode
	if errorCode == "" {
		errorCode = result.RailCode
	}

	// The rail either said "do not retry" outright or answered with one
	// of its decision codes. Both are final; classifying the message
	// would only guess at what the rail already decided.
	if (result.Retryable != nil && !*result.Retryable) ||
		IsTerminalRailCode(result.RailCode) || IsTerminalRailCode(result.ErrorCode) {
		classification := model.FailureClassification{
			FailureClass: model.FailureRailReject,
			Eligibility:  model.FailureRailReject.Eligibility(),
			ErrorCode:    errorCode,
			ErrorMessage: SanitizeErrorMessage(result.ErrorMessage),
			ClassifiedAt: time.Now(),
		}
		return r.completeFailure(ctx, entry, classification, started)
	}

	classification := ClassifyFailure(ClassificationContext{
		ErrorCode:          errorCode,
		ErrorMessage:       result.ErrorMessage,
		HTTPStatus:         result.HTTPStatus,
		BeforeExternalSend: false,
		RequestID:          entry.OutboxID,
	})
	return r.completeFailure(ctx, entry, classification, started)
}

func (r *OutboxRelayer) completeSuccess(ctx context.Context, entry model.OutboxEntry, result *RailDispatchResult, started time.Time) error {
	latency := time.Since(started).Milliseconds()
	completion, err := r.railrelay.datasource.CompleteOutboxAttempt(ctx, model.CompletionRequest{
		OutboxID:      entry.OutboxID,
		LeaseToken:    entry.LeaseToken,
		WorkerID:      r.workerID,
		State:         model.AttemptStateDispatched,
		RailReference: result.RailReference,
		RailCode:      result.RailCode,
		LatencyMs:     &latency,
	})
	if err != nil {
		return r.handleCompletionError(entry, err)
	}

	logrus.WithFields(logrus.Fields{
		"outbox_id":      entry.OutboxID,
		"attempt_no":     completion.AttemptNo,
		"rail_reference": result.RailReference,
		"latency_ms":     latency,
	}).Info("dispatch succeeded")

	r.proposeTransition(ctx, entry, model.InstructionStateCompleted, fmt.Sprintf("rail confirmed with reference %s", result.RailReference))
	return nil
}

// completeFailure routes a classified failure to its completion state:
// RETRYABLE when another attempt is allowed, FAILED otherwise, with a
// repair task queued for ambiguous outcomes.
func (r *OutboxRelayer) completeFailure(ctx context.Context, entry model.OutboxEntry, classification model.FailureClassification, started time.Time) error {
	latency := time.Since(started).Milliseconds()
	sanitized := SanitizeErrorMessage(classification.ErrorMessage)
	errorCode := classification.ErrorCode
	if errorCode == "" {
		errorCode = string(classification.FailureClass)
	}

	decision := r.railrelay.EvaluateRetry(ctx, classification, entry.InstructionID, entry.IdempotencyKey)

	ceilingReached := false
	if decision.ShouldRetry && entry.AttemptCount+1 >= r.maxRetries {
		decision.ShouldRetry = false
		ceilingReached = true
		decision.Reason = fmt.Sprintf("retry ceiling of %d attempts reached", r.maxRetries)
	}

	if decision.ShouldRetry {
		delay := int(RetryDelay(r.conf, entry.AttemptCount+1).Seconds())
		completion, err := r.railrelay.datasource.CompleteOutboxAttempt(ctx, model.CompletionRequest{
			OutboxID:          entry.OutboxID,
			LeaseToken:        entry.LeaseToken,
			WorkerID:          r.workerID,
			State:             model.AttemptStateRetryable,
			ErrorCode:         errorCode,
			ErrorMessage:      sanitized,
			LatencyMs:         &latency,
			RetryDelaySeconds: &delay,
		})
		if err != nil {
			return r.handleCompletionError(entry, err)
		}
		logrus.WithFields(logrus.Fields{
			"outbox_id":     entry.OutboxID,
			"attempt_no":    completion.AttemptNo,
			"failure_class": classification.FailureClass,
			"retry_in_s":    delay,
		}).Info("attempt failed, retry scheduled")
		return nil
	}

	completion, err := r.railrelay.datasource.CompleteOutboxAttempt(ctx, model.CompletionRequest{
		OutboxID:     entry.OutboxID,
		LeaseToken:   entry.LeaseToken,
		WorkerID:     r.workerID,
		State:        model.AttemptStateFailed,
		ErrorCode:    errorCode,
		ErrorMessage: sanitized,
		LatencyMs:    &latency,
	})
	if err != nil {
		return r.handleCompletionError(entry, err)
	}

	logrus.WithFields(logrus.Fields{
		"outbox_id":     entry.OutboxID,
		"attempt_no":    completion.AttemptNo,
		"failure_class": classification.FailureClass,
		"reason":        decision.Reason,
	}).Warn("attempt failed terminally")

	// An unknown outcome is never declared failed on our own authority.
	// The attempt leaves the claim path and the repair workflow asks the
	// rail what actually happened.
	if decision.ShouldRepair {
		repairCtx := model.RepairContext{
			InstructionID: entry.InstructionID,
			OutboxID:      entry.OutboxID,
			AttemptID:     fmt.Sprintf("%s:%d", entry.OutboxID, completion.AttemptNo),
			RailID:        entry.RailType,
			RequestID:     model.GenerateUUIDWithSuffix("req"),
		}
		if err := r.railrelay.queue.EnqueueRepairTask(ctx, repairCtx); err != nil {
			logrus.WithError(err).WithField("outbox_id", entry.OutboxID).Error("failed to enqueue repair task")
		}
		return nil
	}

	if ceilingReached {
		notification.NotifyDeadLetter(notification.DeadLetterAlert{
			OutboxID:      entry.OutboxID,
			InstructionID: entry.InstructionID,
			ParticipantID: entry.ParticipantID,
			AttemptCount:  entry.AttemptCount + 1,
			ErrorCode:     errorCode,
			ErrorMessage:  sanitized,
		})
	}

	r.proposeTransition(ctx, entry, model.InstructionStateFailed, decision.Reason)
	return nil
}

// handleCompletionError drops the result when another worker has taken
// over the lease. The entry belongs to that worker now; two completions
// for the same attempt would be worse than losing ours.
func (r *OutboxRelayer) handleCompletionError(entry model.OutboxEntry, err error) error {
	if apierror.Is(err, apierror.ErrStaleLease) {
		logrus.WithFields(logrus.Fields{
			"outbox_id": entry.OutboxID,
			"worker_id": r.workerID,
		}).Warn("lease no longer current, dropping completion")
		return nil
	}
	return err
}

func (r *OutboxRelayer) proposeTransition(ctx context.Context, entry model.OutboxEntry, targetState, reason string) {
	response, err := r.railrelay.coreClient.ProposeTransition(ctx, model.TransitionRequest{
		InstructionID: entry.InstructionID,
		TargetState:   targetState,
		Reason:        reason,
	})
	if err != nil {
		logrus.WithError(err).WithField("instruction_id", entry.InstructionID).Error("failed to propose transition")
		return
	}
	if !response.Accepted {
		logrus.WithFields(logrus.Fields{
			"instruction_id": entry.InstructionID,
			"target_state":   targetState,
			"rejection":      response.RejectionReason,
		}).Warn("financial core rejected transition")
	}
}
