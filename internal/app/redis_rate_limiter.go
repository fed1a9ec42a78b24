package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var stkPushRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisStkPushRateLimiter implements distributed throttling of STK push
// initiations using Redis. A fixed window counter per phone number keeps a
// burst of retries from spamming the customer's handset with prompts.
type RedisStkPushRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStkPushRateLimiter(client redis.UniversalClient, prefix string) *RedisStkPushRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "sautihub:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisStkPushRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// Allow consumes one slot from the window counter and reports whether the
// caller is within the limit. A nil client or non-positive limit disables the
// check and always allows.
func (r *RedisStkPushRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return true, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return true, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := stkPushRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, err
	}

	count, ok := rawResult.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis limiter response type: %T", rawResult)
	}
	return count <= int64(limit), nil
}
