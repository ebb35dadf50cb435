package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

// RateLimitMiddleware bounds request throughput with a token bucket:
// tokens refill at rate r per second up to burst, each request consumes
// one, and an empty bucket rejects the request outright. The burst
// allowance matters here because a failover reconnection wave is exactly
// that — a burst of Logins arriving at a freshly-respawned primary.
//
// The limiter is created in the outer closure, once per middleware
// creation; a per-request limiter would hand every request a fresh full
// bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst) // Shared across all requests
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				// No tokens available — reject immediately (short-circuit, don't call next)
				return &message.RPCMessage{
					Error: "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
