package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// listStub 在内存中模拟 LPUSH/BRPOP 语义：LPUSH 写入队头，BRPOP 从队尾取出。
type listStub struct {
	mu     sync.Mutex
	items  []string
	pushes []string
	pops   int
}

func (l *listStub) LPush(_ context.Context, _ string, values ...interface{}) *redis.IntCmd {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		var s string
		switch raw := v.(type) {
		case []byte:
			s = string(raw)
		case string:
			s = raw
		}
		l.items = append([]string{s}, l.items...)
		l.pushes = append(l.pushes, s)
	}
	return redis.NewIntResult(int64(len(l.items)), nil)
}

func (l *listStub) BRPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	l.mu.Lock()
	l.pops++
	if len(l.items) == 0 {
		l.mu.Unlock()
		if ctx.Err() != nil {
			return redis.NewStringSliceResult(nil, ctx.Err())
		}
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	last := l.items[len(l.items)-1]
	l.items = l.items[:len(l.items)-1]
	l.mu.Unlock()
	return redis.NewStringSliceResult([]string{keys[0], last}, nil)
}

func (l *listStub) Close() error { return nil }

func (l *listStub) snapshot() (items, pushes []string, pops int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...), append([]string(nil), l.pushes...), l.pops
}

func TestRedisBusRequeuesBehindBacklog(t *testing.T) {
	stub := &listStub{}
	bus := NewRedisBusWithClient(stub, RedisConfig{Key: "test", BlockWait: time.Millisecond, RetryDelay: time.Hour})

	first := securityEvent(t)
	second := securityEvent(t)
	for _, e := range []Event{first, second} {
		if err := bus.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- bus.Consume(ctx, func(_ context.Context, e Event) error {
			handled <- e.ID
			return errors.New("index unavailable")
		})
	}()

	select {
	case id := <-handled:
		if id != first.ID {
			t.Fatalf("expected oldest event first, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	// 失败后等待 RetryDelay，不会立刻再次读取。
	select {
	case id := <-handled:
		t.Fatalf("consumer retried without delay: %s", id)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	items, pushes, pops := stub.snapshot()
	if pops != 1 {
		t.Fatalf("expected a single pop, got %d", pops)
	}
	if len(pushes) != 3 || len(items) != 2 {
		t.Fatalf("unexpected list state: pushes=%d items=%d", len(pushes), len(items))
	}
	// 队尾是下一个被读取的元素，应当是积压的 second 而不是刚失败的 first。
	next, err := Decode([]byte(items[len(items)-1]))
	if err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	if next.ID != second.ID {
		t.Fatalf("failed event should queue behind backlog, tail is %s", next.ID)
	}
}
