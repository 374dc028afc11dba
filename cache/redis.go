package cache

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores cache entries in redis, for deployments where several
// agent processes share one store. Entries are keyed
// "<prefix><generation>|<key>" so a generation can be listed and deleted by
// pattern scan.
type RedisCache struct {
	rclient *redis.Client
	prefix  string
}

const redisKeySeparator = "|"

func NewRedisCache(rclient *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "offline-cache:"
	}
	return &RedisCache{
		rclient: rclient,
		prefix:  prefix,
	}
}

func (rc *RedisCache) entryKey(generation, key string) string {
	return rc.prefix + generation + redisKeySeparator + key
}

func (rc *RedisCache) Get(generation, key string) ([]byte, bool, error) {
	bytes, err := rc.rclient.Get(context.Background(), rc.entryKey(generation, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (rc *RedisCache) Put(generation, key string, bytes []byte) error {
	// no expiry: eviction is generation-driven
	return rc.rclient.Set(context.Background(), rc.entryKey(generation, key), bytes, 0).Err()
}

func (rc *RedisCache) Has(generation, key string) bool {
	n, err := rc.rclient.Exists(context.Background(), rc.entryKey(generation, key)).Result()
	return err == nil && n > 0
}

func (rc *RedisCache) Purge(generation, key string) {
	rc.rclient.Del(context.Background(), rc.entryKey(generation, key))
}

func (rc *RedisCache) Keys(generation string) ([]string, error) {
	entryPrefix := rc.prefix + generation + redisKeySeparator
	keys := make([]string, 0)
	err := rc.scan(entryPrefix+"*", func(key string) {
		keys = append(keys, strings.TrimPrefix(key, entryPrefix))
	})
	return keys, err
}

func (rc *RedisCache) Generations() ([]string, error) {
	seen := make(map[string]struct{})
	generations := make([]string, 0)
	err := rc.scan(rc.prefix+"*", func(key string) {
		rest := strings.TrimPrefix(key, rc.prefix)
		name, _, ok := strings.Cut(rest, redisKeySeparator)
		if !ok {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		generations = append(generations, name)
	})
	return generations, err
}

func (rc *RedisCache) DeleteGeneration(generation string) error {
	return rc.deleteByPattern(rc.prefix + generation + redisKeySeparator + "*")
}

func (rc *RedisCache) DeleteAll() error {
	return rc.deleteByPattern(rc.prefix + "*")
}

// scan pages through all keys matching the pattern and calls cb for each.
func (rc *RedisCache) scan(pattern string, cb func(string)) error {
	ctx := context.Background()
	var cursor uint64
	for {
		keys, nextCursor, err := rc.rclient.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			cb(key)
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

func (rc *RedisCache) deleteByPattern(pattern string) error {
	ctx := context.Background()
	var toDelete []string
	if err := rc.scan(pattern, func(key string) {
		toDelete = append(toDelete, key)
	}); err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	return rc.rclient.Del(ctx, toDelete...).Err()
}
