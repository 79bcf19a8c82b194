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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/model"
)

// LeaseRepairWorker reclaims outbox entries whose lease expired without a
// completion, usually because the claiming relayer died. Reclaimed
// entries go back on the claim path as RECOVERING; the original lease
// token stays dead, so a zombie holder that wakes up later cannot
// complete against them.
type LeaseRepairWorker struct {
	railrelay    *Railrelay
	workerID     string
	batchSize    int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

// NewLeaseRepairWorker creates a lease repair worker with defaults taken
// from the loaded configuration.
func NewLeaseRepairWorker(railrelay *Railrelay) *LeaseRepairWorker {
	worker := &LeaseRepairWorker{
		railrelay:    railrelay,
		workerID:     model.GenerateUUIDWithSuffix("lease_repair"),
		batchSize:    100,
		pollInterval: 60 * time.Second,
		stopCh:       make(chan struct{}),
	}

	conf, err := config.Fetch()
	if err != nil {
		logrus.WithError(err).Warn("configuration not loaded, lease repair worker using built-in defaults")
		return worker
	}
	worker.batchSize = conf.Repair.LeaseRepairBatchSize
	worker.pollInterval = time.Duration(conf.Repair.IntervalSeconds) * time.Second
	return worker
}

// WithBatchSize sets the number of expired leases reclaimed per pass.
func (w *LeaseRepairWorker) WithBatchSize(size int) *LeaseRepairWorker {
	w.batchSize = size
	return w
}

// WithPollInterval sets the interval between repair passes.
func (w *LeaseRepairWorker) WithPollInterval(interval time.Duration) *LeaseRepairWorker {
	w.pollInterval = interval
	return w
}

// Start begins reclaiming expired leases in the background.
func (w *LeaseRepairWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop gracefully stops the worker.
func (w *LeaseRepairWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Lease repair worker stopped")
}

// IsRunning returns whether the worker is currently running.
func (w *LeaseRepairWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *LeaseRepairWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Lease repair worker context cancelled")
			return
		case <-w.stopCh:
			logrus.Info("Lease repair worker stop signal received")
			return
		case <-ticker.C:
			w.repairPass(ctx)
		}
	}
}

// repairPass reclaims one batch of expired leases.
func (w *LeaseRepairWorker) repairPass(ctx context.Context) {
	repaired, err := w.railrelay.datasource.RepairExpiredLeases(ctx, w.batchSize, w.workerID)
	if err != nil {
		logrus.Errorf("failed to repair expired leases: %v", err)
		return
	}
	if len(repaired) == 0 {
		return
	}

	for _, result := range repaired {
		logrus.WithFields(logrus.Fields{
			"outbox_id":  result.OutboxID,
			"attempt_no": result.AttemptNo,
			"worker_id":  w.workerID,
		}).Warn("reclaimed expired lease")
	}
	logrus.Infof("Reclaimed %d expired leases", len(repaired))

	// A backlog after a full batch means the next pass has more to do.
	if remaining, err := w.railrelay.datasource.GetExpiredLeaseCount(ctx); err == nil && remaining > 0 {
		logrus.WithField("expired_leases", remaining).Warn("expired leases remain after repair pass")
	}
}
