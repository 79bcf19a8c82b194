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
	"embed"

	"github.com/redis/go-redis/v9"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/database"
	"github.com/railrelay/railrelay/internal/cache"
	redis_db "github.com/railrelay/railrelay/internal/redis-db"
	"github.com/railrelay/railrelay/model"
)

// repairQueue hands ambiguous attempts to the repair workers.
type repairQueue interface {
	EnqueueRepairTask(ctx context.Context, repairCtx model.RepairContext) error
}

// Railrelay wires the outbox store, the repair queue and the external
// collaborators together. It moves money-movement instructions from the
// ledger to external settlement rails exactly-once in effect; the
// Financial Core stays the single authority over instruction state.
type Railrelay struct {
	queue      repairQueue
	redis      redis.UniversalClient
	cache      cache.Cache
	datasource database.IDataSource
	railClient RailClient
	coreClient FinancialCoreClient
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewRailrelay initializes the service with the provided datasource. It
// fetches the configuration and initializes the Redis client, repair
// queue, cache and external clients.
func NewRailrelay(db database.IDataSource) (*Railrelay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)

	return &Railrelay{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      cache.NewRedisCache(redisClient),
		railClient: NewHTTPRailClient(configuration),
		coreClient: NewHTTPFinancialCoreClient(configuration),
	}, nil
}

// WithRailClient overrides the external rail client. Used to plug in
// rail-specific implementations and test doubles.
func (l *Railrelay) WithRailClient(client RailClient) *Railrelay {
	l.railClient = client
	return l
}

// WithFinancialCoreClient overrides the Financial Core client.
func (l *Railrelay) WithFinancialCoreClient(client FinancialCoreClient) *Railrelay {
	l.coreClient = client
	return l
}
