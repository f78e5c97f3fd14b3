// Package redisstate implements the resilience.StateStore port on Redis,
// making circuit state visible to every orchestrator instance.
package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drawbridge-sh/drawbridge/internal/resilience"
)

// Breaker state lives in one hash per service. All transitions run as Lua
// scripts so concurrent instances see a single atomic state machine.
//
// Hash fields: state, failures, multiplier, opened_at_ms, last_failure_ms,
// timeout_ms, trials.

// acquireScript decides admission for one call.
// KEYS[1] = state key
// ARGV[1] = now (unix ms)
// ARGV[2] = max concurrent half-open trials
// Returns {verdict, retry_after_ms} where verdict is
// "allow" | "trial" | "reject".
var acquireScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "closed" then
    return {"allow", 0}
end

local now = tonumber(ARGV[1])
local max_trials = tonumber(ARGV[2])

if state == "open" then
    local opened_at = tonumber(redis.call("HGET", KEYS[1], "opened_at_ms")) or 0
    local timeout = tonumber(redis.call("HGET", KEYS[1], "timeout_ms")) or 0
    local remaining = opened_at + timeout - now
    if remaining > 0 then
        return {"reject", remaining}
    end
    redis.call("HSET", KEYS[1], "state", "half_open", "trials", 1)
    return {"trial", 0}
end

-- half_open: bounded concurrent probes
local trials = tonumber(redis.call("HGET", KEYS[1], "trials")) or 0
if trials >= max_trials then
    return {"reject", 0}
end
redis.call("HINCRBY", KEYS[1], "trials", 1)
return {"trial", 0}
`)

// successScript records a successful call.
// ARGV[1] = 1 when the call was a half-open trial
// Returns 1 when the circuit closed from half-open.
var successScript = redis.NewScript(`
redis.call("HSET", KEYS[1], "failures", 0)
local state = redis.call("HGET", KEYS[1], "state")
if tonumber(ARGV[1]) == 1 and state == "half_open" then
    redis.call("HSET", KEYS[1], "state", "closed", "multiplier", 0, "trials", 0)
    return 1
end
return 0
`)

// failureScript records a counted failure and opens the circuit when due.
// ARGV[1] = now (unix ms)
// ARGV[2] = threshold
// ARGV[3] = base timeout ms
// ARGV[4] = max timeout ms
// ARGV[5] = 1 when the call was a half-open trial
// Returns {opened, failures, multiplier, timeout_ms}.
var failureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local base = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
local trial = tonumber(ARGV[5]) == 1

local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
redis.call("HSET", KEYS[1], "last_failure_ms", now)

local state = redis.call("HGET", KEYS[1], "state")
if not state then state = "closed" end

local opened = 0
if (trial and state == "half_open") or (state == "closed" and failures >= threshold) then
    local multiplier = (tonumber(redis.call("HGET", KEYS[1], "multiplier")) or 0) + 1
    local timeout = base * 2 ^ (multiplier - 1)
    if timeout > max then timeout = max end
    redis.call("HSET", KEYS[1],
        "state", "open",
        "multiplier", multiplier,
        "opened_at_ms", now,
        "timeout_ms", timeout,
        "trials", 0)
    opened = 1
end

return {opened,
    failures,
    tonumber(redis.call("HGET", KEYS[1], "multiplier")) or 0,
    tonumber(redis.call("HGET", KEYS[1], "timeout_ms")) or 0}
`)

// Store implements resilience.StateStore on a Redis client.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a Redis-backed breaker state store.
func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func stateKey(service string) string {
	return "breaker:" + service
}

func (s *Store) Acquire(ctx context.Context, service string, cfg resilience.Config) (resilience.Decision, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{stateKey(service)},
		s.now().UnixMilli(), cfg.HalfOpenMaxTrials).Result()
	if err != nil {
		return resilience.Decision{}, fmt.Errorf("redis acquire: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return resilience.Decision{}, fmt.Errorf("redis acquire: unexpected reply %v", res)
	}
	verdict, _ := vals[0].(string)
	retryMs, _ := vals[1].(int64)

	switch verdict {
	case "allow":
		return resilience.Decision{Allowed: true}, nil
	case "trial":
		return resilience.Decision{Allowed: true, Trial: true}, nil
	default:
		return resilience.Decision{RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
	}
}

func (s *Store) Success(ctx context.Context, service string, trial bool) (bool, error) {
	arg := 0
	if trial {
		arg = 1
	}
	res, err := successScript.Run(ctx, s.client, []string{stateKey(service)}, arg).Int64()
	if err != nil {
		return false, fmt.Errorf("redis success: %w", err)
	}
	return res == 1, nil
}

func (s *Store) Failure(ctx context.Context, service string, trial bool, cfg resilience.Config) (resilience.Snapshot, bool, error) {
	arg := 0
	if trial {
		arg = 1
	}
	res, err := failureScript.Run(ctx, s.client, []string{stateKey(service)},
		s.now().UnixMilli(), cfg.Threshold,
		cfg.BaseTimeout.Milliseconds(), cfg.MaxTimeout.Milliseconds(), arg).Result()
	if err != nil {
		return resilience.Snapshot{}, false, fmt.Errorf("redis failure: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return resilience.Snapshot{}, false, fmt.Errorf("redis failure: unexpected reply %v", res)
	}
	opened := toInt64(vals[0]) == 1
	snap := resilience.Snapshot{
		Service:    service,
		Failures:   int(toInt64(vals[1])),
		Multiplier: int(toInt64(vals[2])),
	}
	if opened {
		snap.State = resilience.StateOpen
		snap.OpenedAt = s.now()
		snap.OpenTimeout = time.Duration(toInt64(vals[3])) * time.Millisecond
	}
	return snap, opened, nil
}

func (s *Store) Snapshot(ctx context.Context, service string) (resilience.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(service)).Result()
	if err != nil {
		return resilience.Snapshot{}, fmt.Errorf("redis snapshot: %w", err)
	}

	snap := resilience.Snapshot{Service: service, State: resilience.StateClosed}
	if len(fields) == 0 {
		return snap, nil
	}

	if st, ok := fields["state"]; ok && st != "" {
		snap.State = resilience.State(st)
	}
	snap.Failures = atoi(fields["failures"])
	snap.Multiplier = atoi(fields["multiplier"])
	snap.Trials = atoi(fields["trials"])
	snap.OpenTimeout = time.Duration(atoi(fields["timeout_ms"])) * time.Millisecond
	if ms := atoi(fields["opened_at_ms"]); ms > 0 {
		snap.OpenedAt = time.UnixMilli(int64(ms))
	}
	if ms := atoi(fields["last_failure_ms"]); ms > 0 {
		snap.LastFailureAt = time.UnixMilli(int64(ms))
	}
	if snap.State == resilience.StateOpen {
		if remaining := snap.OpenTimeout - s.now().Sub(snap.OpenedAt); remaining > 0 {
			snap.RetryAfter = remaining
		}
	}
	return snap, nil
}

func toInt64(v interface{}) int64 {
	n, _ := v.(int64)
	return n
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
