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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/apierror"
	redis_db "github.com/railrelay/railrelay/internal/redis-db"
	"github.com/railrelay/railrelay/model"
)

// RepairTaskType is the asynq task type for reconciliation cycles.
const RepairTaskType = "outbox:repair"

// Queue hands ambiguous attempts to the repair workers. Task IDs are the
// attempt IDs, so re-enqueueing the same unresolved attempt is a no-op
// while its task is still queued.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	queueName string
}

func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisOption.Addr,
		Password: redisOption.Password,
		DB:       redisOption.DB,
	})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     redisOption.Addr,
		Password: redisOption.Password,
		DB:       redisOption.DB,
	})
	return &Queue{
		Client:    client,
		Inspector: inspector,
		queueName: conf.Queue.RepairQueue,
	}
}

// EnqueueRepairTask schedules one reconciliation cycle for an ambiguous
// attempt.
func (q *Queue) EnqueueRepairTask(ctx context.Context, repairCtx model.RepairContext) error {
	payload, err := json.Marshal(repairCtx)
	if err != nil {
		return err
	}

	task := asynq.NewTask(RepairTaskType, payload,
		asynq.TaskID(fmt.Sprintf("repair:%s", repairCtx.AttemptID)),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if err == asynq.ErrTaskIDConflict {
			logrus.WithField("attempt_id", repairCtx.AttemptID).Info("repair task already queued")
			return nil
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":        info.ID,
		"queue":          info.Queue,
		"instruction_id": repairCtx.InstructionID,
	}).Info("enqueued repair task")
	return nil
}

// RepairTaskHandler adapts Repair to the asynq handler contract. An
// unresolved cycle returns an error so asynq retries the task with
// backoff.
func (l *Railrelay) RepairTaskHandler() func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var repairCtx model.RepairContext
		if err := json.Unmarshal(task.Payload(), &repairCtx); err != nil {
			return err
		}
		outcome, err := l.Repair(ctx, repairCtx)
		if err != nil {
			if apierror.Is(err, apierror.ErrTerminalInstruction) {
				logrus.WithField("instruction_id", repairCtx.InstructionID).Info("skipping repair, instruction already terminal")
				return nil
			}
			return err
		}
		if !outcome.Resolved {
			return fmt.Errorf("attempt %s unresolved (%s), retrying reconciliation", repairCtx.AttemptID, outcome.ReconciliationResult.Status)
		}
		return nil
	}
}
