// Package ratelimit provides the atomic counter-with-cap primitive used for
// rate and spend limiting. All check-then-increment logic runs inside a single
// redis script so concurrent callers can never over-reserve a shared cap.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cashoffer_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Policy controls what the limiter does when the counter store is unreachable.
type Policy int

const (
	// FailClosed denies reservations on store errors. Required for spend
	// caps, where allowing an unverified reservation risks real money.
	FailClosed Policy = iota
	// FailOpen allows reservations on store errors, with a warning log.
	// Appropriate for soft throughput limits.
	FailOpen
)

// Reservation is the result of a Reserve call.
type Reservation struct {
	Allowed  bool
	NewTotal float64
}

// reserveScript performs check + increment + first-touch expiry as one atomic
// operation. A denied reservation leaves the counter untouched, and the TTL is
// only attached on the first reservation in a window, never reset.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if current + amount > cap then
  return {0, tostring(current)}
end
local total = redis.call('INCRBYFLOAT', KEYS[1], amount)
if redis.call('TTL', KEYS[1]) == -1 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return {1, total}
`)

// reserveOnceScript is the deduplicating variant: each token reserves against
// the counter at most once per window. A redelivered token reports the
// existing total as allowed without incrementing, so queue retries and
// duplicate deliveries cannot burn the cap twice.
var reserveOnceScript = redis.NewScript(`
local members = KEYS[1] .. ':members'
if redis.call('SISMEMBER', members, ARGV[1]) == 1 then
  return {1, redis.call('GET', KEYS[1]) or '0'}
end
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
if current + amount > cap then
  return {0, tostring(current)}
end
local total = redis.call('INCRBYFLOAT', KEYS[1], amount)
redis.call('SADD', members, ARGV[1])
if redis.call('TTL', KEYS[1]) == -1 then
  redis.call('EXPIRE', KEYS[1], ARGV[4])
end
if redis.call('TTL', members) == -1 then
  redis.call('EXPIRE', members, ARGV[4])
end
return {1, total}
`)

// Limiter reserves amounts against capped, self-expiring counters.
type Limiter struct {
	rdb    redis.UniversalClient
	policy Policy
	log    *logger.Logger
}

// New creates a limiter with the given failure policy.
func New(rdb redis.UniversalClient, policy Policy, log *logger.Logger) *Limiter {
	return &Limiter{rdb: rdb, policy: policy, log: log}
}

// Reserve atomically reserves amount against cap for the given key. The
// window TTL is attached on the key's first reservation only. On counter
// store errors the configured Policy decides the outcome.
func (l *Limiter) Reserve(ctx context.Context, key string, amount, cap float64, window time.Duration) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("reserve amount must be positive, got %v", amount)
	}

	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	raw, err := reserveScript.Run(ctx, l.rdb, []string{key},
		formatAmount(amount), formatAmount(cap), seconds).Result()
	if err != nil {
		if l.policy == FailOpen {
			l.log.Warn("limiter store unreachable, failing open", "key", key, "error", err)
			return Reservation{Allowed: true}, nil
		}
		return Reservation{}, fmt.Errorf("limiter reserve %s: %w", key, err)
	}

	return parseReservation(raw)
}

// ReserveOnce reserves amount against cap at most once per token within the
// key's window. Redelivering the same token is allowed without a second
// increment. Used for the daily spend cap, where a stage completion may be
// delivered more than once for the same offer.
func (l *Limiter) ReserveOnce(ctx context.Context, key, token string, amount, cap float64, window time.Duration) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("reserve amount must be positive, got %v", amount)
	}
	if token == "" {
		return Reservation{}, fmt.Errorf("reserve token must not be empty")
	}

	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	raw, err := reserveOnceScript.Run(ctx, l.rdb, []string{key},
		token, formatAmount(amount), formatAmount(cap), seconds).Result()
	if err != nil {
		if l.policy == FailOpen {
			l.log.Warn("limiter store unreachable, failing open", "key", key, "error", err)
			return Reservation{Allowed: true}, nil
		}
		return Reservation{}, fmt.Errorf("limiter reserve %s: %w", key, err)
	}

	return parseReservation(raw)
}

func parseReservation(raw interface{}) (Reservation, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Reservation{}, fmt.Errorf("limiter script returned unexpected value %v", raw)
	}

	allowed, ok := values[0].(int64)
	if !ok {
		return Reservation{}, fmt.Errorf("limiter script returned unexpected flag %v", values[0])
	}

	totalRaw, ok := values[1].(string)
	if !ok {
		return Reservation{}, fmt.Errorf("limiter script returned unexpected total %v", values[1])
	}

	total, err := strconv.ParseFloat(totalRaw, 64)
	if err != nil {
		return Reservation{}, fmt.Errorf("limiter script returned non-numeric total %q", totalRaw)
	}

	return Reservation{Allowed: allowed == 1, NewTotal: total}, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
