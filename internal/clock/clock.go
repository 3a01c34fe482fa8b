package clock

import (
	"context"
	"sync"
	"time"
)

// Clock 提供记录时间戳所用的当前时间，单位为 Unix 秒。
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// Func 将普通函数适配为 Clock。
type Func func(ctx context.Context) (int64, error)

// Now 实现 Clock 接口。
func (f Func) Now(ctx context.Context) (int64, error) {
	return f(ctx)
}

// System 使用本机时间。
type System struct{}

// Now 实现 Clock 接口。
func (System) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// Monotonic 包装另一个 Clock，保证返回值不会倒退。
type Monotonic struct {
	source Clock

	mu   sync.Mutex
	last int64
}

// NewMonotonic 创建 Monotonic。
func NewMonotonic(source Clock) *Monotonic {
	return &Monotonic{source: source}
}

// Now 实现 Clock 接口。
func (m *Monotonic) Now(ctx context.Context) (int64, error) {
	ts, err := m.source.Now(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts < m.last {
		ts = m.last
	}
	m.last = ts
	return ts, nil
}
