package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spacelink/auth"
	"spacelink/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	p := &message.Payload{}
	p.SetParam("echo", env.Payload.Param("in"))
	return p, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	time.Sleep(200 * time.Millisecond)
	return &message.Payload{}, nil
}

func newEnv() *message.Envelope {
	p := &message.Payload{}
	p.SetParam("in", "hello")
	return &message.Envelope{Op: message.AliveCheckReq, Tag: 7, Payload: p}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), newEnv())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if resp.Param("echo") != "hello" {
		t.Fatalf("expect echo 'hello', got '%s'", resp.Param("echo"))
	}
	if logs.FilterMessage("Handled request").Len() != 1 {
		t.Fatalf("expect one debug entry, got %v", logs.All())
	}
}

func TestLoggingError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	boom := errors.New("boom")
	handler := LoggingMiddleware(zap.New(core))(func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
		return nil, boom
	})

	if _, err := handler(context.Background(), newEnv()); !errors.Is(err, boom) {
		t.Fatalf("expect boom, got %v", err)
	}
	entries := logs.FilterMessage("Handler failed").All()
	if len(entries) != 1 {
		t.Fatalf("expect one warning, got %d", len(entries))
	}
	if op := entries[0].ContextMap()["op"]; op != "AliveCheckReq" {
		t.Fatalf("expect op name in log, got %v", op)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware()(func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
		panic("kaboom")
	})

	resp, err := handler(context.Background(), newEnv())
	if resp != nil {
		t.Fatalf("expect nil response after panic, got %+v", resp)
	}
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("expect ErrHandlerPanic, got %v", err)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newEnv()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	if _, err := handler(context.Background(), newEnv()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect timeout error, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newEnv()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), newEnv()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestAuth(t *testing.T) {
	var seen auth.Identity
	inner := func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
		seen, _ = auth.FromContext(ctx)
		return &message.Payload{}, nil
	}
	only := auth.AuthenticatorFunc(func(ctx context.Context, token string) (auth.Identity, error) {
		if token != "good" {
			return auth.Identity{}, auth.ErrUnauthorized
		}
		return auth.Identity{User: "alice"}, nil
	})
	handler := AuthMiddleware(only)(inner)

	env := newEnv()
	if _, err := handler(context.Background(), env); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expect unauthorized without token, got %v", err)
	}

	env.Payload.Auth = &message.AccessAuthorization{Token: "good"}
	if _, err := handler(context.Background(), env); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if seen.User != "alice" {
		t.Fatalf("expect identity alice in context, got %+v", seen)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
				order = append(order, name)
				return next(ctx, env)
			}
		}
	}
	chained := Chain(mark("a"), mark("b"), TimeOutMiddleware(500*time.Millisecond), mark("c"))
	handler := chained(echoHandler)

	resp, err := handler(context.Background(), newEnv())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expect a,b,c order, got %v", order)
	}
}
