// Package redisx is a thin typed wrapper over *redis.Client: JSON-valued
// hash/set/list helpers plus the compare-and-set primitive the storage layer
// builds its at-most-once enqueue on. It hides connection and encoding
// details; transient Redis errors surface as errs.StorageUnavailable so
// callers never branch on driver-specific error types. Every call is wrapped
// in internal/resilience's retry loop so a blip in the Redis connection
// resolves within one gateway call instead of surfacing to the tick loop as
// a StorageUnavailable (spec §7 still has the tick loop fall back to the
// next tick's miss window if every attempt here is exhausted).
package redisx

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jrjohn/cronbridge/internal/errs"
	"github.com/jrjohn/cronbridge/internal/resilience"
)

// enqueueScript implements the cas primitive from spec §4.4: SET lock_key 1
// NX, and only if the key was newly set, SADD the queue name into the queue
// set and LPUSH the job payload onto its queue. Doing both writes inside the
// script keeps them atomic with the lock acquisition from every caller's
// point of view, the same guarantee the teacher's distributed lock gets from
// wrapping its compare-and-delete in a Lua script.
const enqueueScript = `
local set = redis.call("set", KEYS[1], "1", "nx")
if set then
	redis.call("sadd", KEYS[2], ARGV[1])
	redis.call("lpush", KEYS[3], ARGV[2])
	return 1
end
return 0
`

// Gateway wraps a *redis.Client with the operations internal/store needs.
type Gateway struct {
	client  *redis.Client
	script  *redis.Script
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// New wraps client with the default retry policy (three attempts, 100ms
// initial backoff doubling up to 10s, classified by IsRedisRetryable) and a
// single circuit breaker named "redis" that opens once a sliding window of
// recent gateway calls shows a failure rate at or above 50%, so a prolonged
// Redis outage stops every tick from individually paying the full retry
// cost. The gateway never talks to more than one downstream dependency, so
// unlike the teacher's multi-tenant registry this breaker is owned directly
// rather than looked up by name.
func New(client *redis.Client) *Gateway {
	return &Gateway{
		client:  client,
		script:  redis.NewScript(enqueueScript),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("redis"), zap.NewNop()),
	}
}

// CircuitState reports the gateway's circuit breaker state, exposed for
// cmd/cronbridge's health endpoint so an open breaker against Redis is
// visible to whatever is watching the process.
func (g *Gateway) CircuitState() string {
	return g.breaker.State().String()
}

// retryDo runs fn under the gateway's retry policy, itself guarded by the
// circuit breaker, and wraps a final failure as errs.StorageUnavailable. The
// breaker sees one outcome per call regardless of how many attempts the
// retry loop spent reaching it.
func (g *Gateway) retryDo(ctx context.Context, op string, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, g.retry, fn)
	})
	if err != nil {
		return errs.New(errs.StorageUnavailable, op, err)
	}
	return nil
}

// HSetJSON marshals value and stores it at field within the hash hashKey.
func (g *Gateway) HSetJSON(ctx context.Context, hashKey, field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.New(errs.EncodingError, "Gateway.HSetJSON", err)
	}
	return g.retryDo(ctx, "Gateway.HSetJSON", func(ctx context.Context) error {
		return g.client.HSet(ctx, hashKey, field, data).Err()
	})
}

// HGetJSON reads field from hashKey and unmarshals it into out. It reports
// (false, nil) if the field does not exist.
func (g *Gateway) HGetJSON(ctx context.Context, hashKey, field string, out any) (bool, error) {
	var data []byte
	var missing bool
	err := g.retryDo(ctx, "Gateway.HGetJSON", func(ctx context.Context) error {
		var ierr error
		data, ierr = g.client.HGet(ctx, hashKey, field).Bytes()
		if ierr == redis.Nil {
			missing = true
			return nil
		}
		missing = false
		return ierr
	})
	if err != nil {
		return false, err
	}
	if missing {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errs.New(errs.EncodingError, "Gateway.HGetJSON", err)
	}
	return true, nil
}

// HKeys returns every field name in the hash hashKey.
func (g *Gateway) HKeys(ctx context.Context, hashKey string) ([]string, error) {
	var keys []string
	err := g.retryDo(ctx, "Gateway.HKeys", func(ctx context.Context) error {
		var ierr error
		keys, ierr = g.client.HKeys(ctx, hashKey).Result()
		return ierr
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// HSetIfAbsent sets field within hashKey to value only if it is not already
// present, reporting whether the write happened. Used for first_run, which
// must be written exactly once.
func (g *Gateway) HSetIfAbsent(ctx context.Context, hashKey, field string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errs.New(errs.EncodingError, "Gateway.HSetIfAbsent", err)
	}
	var set bool
	retryErr := g.retryDo(ctx, "Gateway.HSetIfAbsent", func(ctx context.Context) error {
		var ierr error
		set, ierr = g.client.HSetNX(ctx, hashKey, field, data).Result()
		return ierr
	})
	if retryErr != nil {
		return false, retryErr
	}
	return set, nil
}

// SAdd adds member to the set at key.
func (g *Gateway) SAdd(ctx context.Context, key, member string) error {
	return g.retryDo(ctx, "Gateway.SAdd", func(ctx context.Context) error {
		return g.client.SAdd(ctx, key, member).Err()
	})
}

// LPush pushes value onto the head of the list at key.
func (g *Gateway) LPush(ctx context.Context, key string, value []byte) error {
	return g.retryDo(ctx, "Gateway.LPush", func(ctx context.Context) error {
		return g.client.LPush(ctx, key, value).Err()
	})
}

// Enqueue runs the cas primitive: SET lockKey 1 NX, and only if newly set,
// SADD queue into queueSet and LPUSH payload onto queueKey, atomically. It
// returns whether this call performed the write (true) or found the lock
// already held by a prior caller (false, not an error: the normal dedup
// outcome per spec §7).
func (g *Gateway) Enqueue(ctx context.Context, lockKey, queueSetKey, queueKey, queueName string, payload []byte) (bool, error) {
	var res int64
	err := g.retryDo(ctx, "Gateway.Enqueue", func(ctx context.Context) error {
		var ierr error
		res, ierr = g.script.Run(ctx, g.client, []string{lockKey, queueSetKey, queueKey}, queueName, payload).Int64()
		return ierr
	})
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
