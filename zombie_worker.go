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

// ZombieRepairWorker finds attempts stuck in DISPATCHING past the zombie
// threshold and requeues their entries. A zombie can appear when a crash
// window leaves the attempt log ahead of the pending table; the requeue
// is idempotent, so a false positive costs one extra claim cycle and the
// rail's idempotency absorbs the duplicate send.
type ZombieRepairWorker struct {
	railrelay    *Railrelay
	workerID     string
	threshold    time.Duration
	batchSize    int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

// NewZombieRepairWorker creates a zombie repair worker with defaults
// taken from the loaded configuration.
func NewZombieRepairWorker(railrelay *Railrelay) *ZombieRepairWorker {
	worker := &ZombieRepairWorker{
		railrelay:    railrelay,
		workerID:     model.GenerateUUIDWithSuffix("zombie_repair"),
		threshold:    120 * time.Second,
		batchSize:    100,
		pollInterval: 60 * time.Second,
		stopCh:       make(chan struct{}),
	}

	conf, err := config.Fetch()
	if err != nil {
		logrus.WithError(err).Warn("configuration not loaded, zombie repair worker using built-in defaults")
		return worker
	}
	worker.threshold = time.Duration(conf.Repair.ZombieThresholdSeconds) * time.Second
	worker.batchSize = conf.Repair.ZombieBatchSize
	worker.pollInterval = time.Duration(conf.Repair.IntervalSeconds) * time.Second
	return worker
}

// WithThreshold sets how long an attempt may sit in DISPATCHING before it
// counts as a zombie.
func (w *ZombieRepairWorker) WithThreshold(threshold time.Duration) *ZombieRepairWorker {
	w.threshold = threshold
	return w
}

// WithBatchSize sets the number of zombies requeued per pass.
func (w *ZombieRepairWorker) WithBatchSize(size int) *ZombieRepairWorker {
	w.batchSize = size
	return w
}

// WithPollInterval sets the interval between passes.
func (w *ZombieRepairWorker) WithPollInterval(interval time.Duration) *ZombieRepairWorker {
	w.pollInterval = interval
	return w
}

// Start begins scanning for zombie attempts in the background.
func (w *ZombieRepairWorker) Start(ctx context.Context) {
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
func (w *ZombieRepairWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Zombie repair worker stopped")
}

// IsRunning returns whether the worker is currently running.
func (w *ZombieRepairWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *ZombieRepairWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Zombie repair worker context cancelled")
			return
		case <-w.stopCh:
			logrus.Info("Zombie repair worker stop signal received")
			return
		case <-ticker.C:
			w.repairPass(ctx)
		}
	}
}

// repairPass requeues one batch of zombie attempts.
func (w *ZombieRepairWorker) repairPass(ctx context.Context) {
	zombies, err := w.railrelay.datasource.FindZombieAttempts(ctx, w.threshold, w.batchSize)
	if err != nil {
		logrus.Errorf("failed to scan for zombie attempts: %v", err)
		return
	}
	if len(zombies) == 0 {
		return
	}

	requeued := 0
	for _, attempt := range zombies {
		if err := w.railrelay.datasource.RequeueZombie(ctx, attempt); err != nil {
			logrus.Errorf("failed to requeue zombie attempt %s (outbox: %s): %v", attempt.AttemptID, attempt.OutboxID, err)
			continue
		}
		requeued++
		logrus.WithFields(logrus.Fields{
			"outbox_id":  attempt.OutboxID,
			"attempt_no": attempt.AttemptNo,
			"claimed_at": attempt.ClaimedAt,
		}).Warn("requeued zombie attempt")
	}
	if requeued > 0 {
		logrus.Infof("Requeued %d zombie attempts", requeued)
	}
}
