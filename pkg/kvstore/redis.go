// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kvstore

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// setIfAbsentScript performs SET-if-absent and TTL in one round trip so the
// check and the expiry can't race apart. Same idea as the idempotent
// SETNX+EXPIRE pattern used for commit markers in the rate-limiter's Redis
// persister, repurposed here for the election lease (spec §4.5, §9).
const setIfAbsentScript = `
local ok = redis.call('SETNX', KEYS[1], ARGV[1])
if ok == 1 then
  if tonumber(ARGV[2]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`

// RedisStore is the production Store backend, wrapping
// github.com/redis/go-redis/v9. It is the only backend the abstract store
// contract (spec §4.1) needs to be exercised against; the contract itself
// stays backend-agnostic so a future replacement never touches callers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials (lazily; go-redis connects on first use) a Redis
// instance at addr.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisStoreFromURL builds a RedisStore from a redis:// URL, the form
// the construction contract (spec §6) takes as store_url.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, &StoreError{Op: "parse_url", Detail: url, Err: err}
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return ErrStoreUnavailable
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreUnavailable
	}
	return &StoreError{Op: op, Detail: "redis", Err: err}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyErr("get", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return classifyErr("set", err)
	}
	return nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return classifyErr("set_with_ttl", err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := s.client.Eval(ctx, setIfAbsentScript, []string{key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return false, classifyErr("set_if_absent_with_ttl", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classifyErr("delete", err)
	}
	return nil
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classifyErr("scan_by_prefix", err)
	}
	return keys, nil
}
