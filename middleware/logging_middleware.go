package middleware

import (
	"context"
	"log"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

// LoggingMiddleware records the service method, duration, and any errors for each RPC call.
// It captures the start time before calling next, and logs the elapsed time after next returns.
//
// Example output:
//
//	ServiceMethod: SNS.Follow, Duration: 42μs
//	Error: rate limit exceeded
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()

			// Call the next handler in the chain
			rpcMessage := next(ctx, req)

			// Post-processing: log duration and errors
			duration := time.Since(start)
			log.Printf("ServiceMethod: %s, Duration: %s", req.ServiceMethod, duration)
			if rpcMessage.Error != "" {
				log.Printf("Error: %s", rpcMessage.Error)
			}
			return rpcMessage
		}
	}
}
