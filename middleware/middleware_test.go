package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

// echoHandler is a simple handler that always succeeds.
func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "SNS.Login"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(resp.Payload))
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: first 2 calls pass immediately, the 3rd is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.RPCMessage{ServiceMethod: "SNS.Login"}

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if resp.Error != "" {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), req)
	if resp.Error != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Error)
	}
}

func TestRetrySucceedsAfterTransientError(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		attempts++
		if attempts < 3 {
			return &message.RPCMessage{Error: "connection refused"}
		}
		return &message.RPCMessage{Payload: []byte("ok")}
	}

	handler := RetryMiddleware(5, time.Millisecond)(flaky)
	req := &message.RPCMessage{ServiceMethod: "SNS.Login"}
	resp := handler(context.Background(), req)

	if resp.Error != "" {
		t.Fatalf("expect eventual success, got error: %s", resp.Error)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetryDoesNotRetryNonTransientError(t *testing.T) {
	attempts := 0
	handler := RetryMiddleware(5, time.Millisecond)(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		attempts++
		return &message.RPCMessage{Error: "invalid username"}
	})

	req := &message.RPCMessage{ServiceMethod: "SNS.Follow"}
	resp := handler(context.Background(), req)

	if resp.Error != "invalid username" {
		t.Fatalf("expect passthrough error, got: %s", resp.Error)
	}
	if attempts != 1 {
		t.Fatalf("expect exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(), RateLimitMiddleware(100, 100))
	handler := chained(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "SNS.Login"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}
