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
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/railrelay/railrelay/config"
	redis_db "github.com/railrelay/railrelay/internal/redis-db"
)

// Cache is the read-through cache used for idempotency fast paths. The
// store's unique constraints stay authoritative; a miss or a stale entry
// is never an error, only a slower path.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on go-redis/cache with a local TinyLFU
// layer in front of Redis.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache connects to the configured Redis instance and returns a Cache.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	client, err := redis_db.NewRedisClient(cfg.Redis.Dns)
	if err != nil {
		return nil, err
	}

	return NewRedisCache(client), nil
}

// NewRedisCache builds a cache on an existing Redis connection.
func NewRedisCache(client *redis_db.Redis) *RedisCache {
	return &RedisCache{
		cache: cache.New(&cache.Options{
			Redis:      client.Client(),
			LocalCache: cache.NewTinyLFU(1000, time.Minute),
		}),
	}
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	return r.cache.Get(ctx, key, data)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
