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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	redis_db "github.com/railrelay/railrelay/internal/redis-db"
)

func newTestCache(t *testing.T) *RedisCache {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis_db.NewRedisClient("redis://" + mr.Addr())
	assert.NoError(t, err)
	return NewRedisCache(client)
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	type record struct {
		OutboxID string `json:"outbox_id"`
	}

	err := c.Set(ctx, "outbox:enqueue:p1:key1", &record{OutboxID: "outbox-1"}, time.Minute)
	assert.NoError(t, err)

	var got record
	err = c.Get(ctx, "outbox:enqueue:p1:key1", &got)
	assert.NoError(t, err)
	assert.Equal(t, "outbox-1", got.OutboxID)
}

func TestCacheGetMiss(t *testing.T) {
	c := newTestCache(t)

	var got string
	err := c.Get(context.Background(), "absent-key", &got)
	assert.Error(t, err)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "to-delete", "value", time.Minute)
	assert.NoError(t, err)

	err = c.Delete(ctx, "to-delete")
	assert.NoError(t, err)

	var got string
	err = c.Get(ctx, "to-delete", &got)
	assert.Error(t, err)
}
