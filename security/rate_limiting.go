package security

import (
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit returns a fixed-window rate limit middleware: max requests per
// window, keyed by authenticated user when available and client IP
// otherwise. When redis is down requests pass through.
func (r *RateLimiter) Limit(name string, max int64, window time.Duration) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identity := e.RealIP()
		if e.Auth != nil {
			identity = "user:" + e.Auth.Id
		}

		key := fmt.Sprintf("ratelimit:%s:%s", name, identity)
		ctx := e.Request.Context()

		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, window)
			}
			if count > max {
				return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
			}
		}

		return e.Next()
	}
}

// GateLimit covers steward scan bursts, CheckoutLimit covers order creation.
func (r *RateLimiter) GateLimit() func(*core.RequestEvent) error {
	return r.Limit("gate", 120, time.Minute)
}

func (r *RateLimiter) CheckoutLimit() func(*core.RequestEvent) error {
	return r.Limit("checkout", 10, time.Minute)
}
