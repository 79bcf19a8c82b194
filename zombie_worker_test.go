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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/database/mocks"
	"github.com/railrelay/railrelay/model"
)

func newZombieWorkerFixture() (*ZombieRepairWorker, *mocks.MockDataSource) {
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost/test"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	})
	ds := new(mocks.MockDataSource)
	worker := NewZombieRepairWorker(&Railrelay{datasource: ds})
	return worker, ds
}

func TestZombieRepairWorker_ConfigDefaults(t *testing.T) {
	worker, _ := newZombieWorkerFixture()
	assert.Equal(t, 120*time.Second, worker.threshold)
	assert.Equal(t, 100, worker.batchSize)
	assert.Equal(t, 60*time.Second, worker.pollInterval)
}

func TestZombieRepairWorker_RequeuesStuckAttempts(t *testing.T) {
	worker, ds := newZombieWorkerFixture()

	zombie := model.OutboxAttempt{
		AttemptID: "att-9",
		OutboxID:  "outbox-9",
		AttemptNo: 3,
		State:     model.AttemptStateDispatching,
	}
	ds.On("FindZombieAttempts", mock.Anything, 120*time.Second, 100).
		Return([]model.OutboxAttempt{zombie}, nil)
	ds.On("RequeueZombie", mock.Anything, zombie).Return(nil)

	worker.repairPass(context.Background())
	ds.AssertExpectations(t)
}

func TestZombieRepairWorker_RequeueFailureContinues(t *testing.T) {
	worker, ds := newZombieWorkerFixture()

	first := model.OutboxAttempt{AttemptID: "att-1", OutboxID: "outbox-1", AttemptNo: 1, State: model.AttemptStateDispatching}
	second := model.OutboxAttempt{AttemptID: "att-2", OutboxID: "outbox-2", AttemptNo: 1, State: model.AttemptStateDispatching}

	ds.On("FindZombieAttempts", mock.Anything, 120*time.Second, 100).
		Return([]model.OutboxAttempt{first, second}, nil)
	ds.On("RequeueZombie", mock.Anything, first).Return(errors.New("conflict"))
	ds.On("RequeueZombie", mock.Anything, second).Return(nil)

	worker.repairPass(context.Background())
	ds.AssertExpectations(t)
}

func TestZombieRepairWorker_StartStop(t *testing.T) {
	worker, ds := newZombieWorkerFixture()
	ds.On("FindZombieAttempts", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.OutboxAttempt{}, nil).Maybe()

	worker = worker.WithPollInterval(10 * time.Millisecond).WithThreshold(time.Second)
	worker.Start(context.Background())
	assert.True(t, worker.IsRunning())

	time.Sleep(30 * time.Millisecond)
	worker.Stop()
	assert.False(t, worker.IsRunning())
}
