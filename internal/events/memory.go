package events

import (
	"context"
	"errors"
	"sync"

	xerrors "Manof-Chain/internal/errors"
)

const defaultHistory = 256

// MemoryBus 在进程内同步分发事件，并保留最近的事件供查询。
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	history  []Event
	limit    int
}

// NewMemoryBus 创建 MemoryBus，history 为保留的事件条数。
func NewMemoryBus(history int) *MemoryBus {
	if history <= 0 {
		history = defaultHistory
	}
	return &MemoryBus{handlers: make(map[int]Handler), limit: history}
}

// Subscribe 注册处理函数并返回取消订阅的函数。
func (b *MemoryBus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish 实现 Publisher 接口，依次调用所有订阅者并合并其错误。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.limit {
		b.history = append([]Event(nil), b.history[len(b.history)-b.limit:]...)
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "事件订阅者处理失败", xerrors.WithMetadata("op_id", event.ID))
	}
	return nil
}

// Consume 实现 Subscriber 接口，阻塞直到 ctx 结束。
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	cancel := b.Subscribe(handler)
	defer cancel()
	<-ctx.Done()
	return ctx.Err()
}

// Events 返回保留的事件副本。
func (b *MemoryBus) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.history...)
}

// Close 清空订阅者。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.mu.Unlock()
	return nil
}
