package index

import (
	"bytes"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
)

// ErrNotFound 表示 Agent 尚无安全上报。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "no security report for agent")

// Entry 是索引中保存的最新安全上报。
type Entry struct {
	Agent      common.Address `json:"agent"`
	Monitor    common.Address `json:"monitor"`
	LastUpdate int64          `json:"last_update"`
}

// SecurityIndex 维护 agent 到最新 SecurityMonitor 的二级索引。
// LastUpdate 较大的上报胜出，相同时按地址字节序较大者胜出。
type SecurityIndex interface {
	Record(ctx context.Context, entry Entry) error
	Latest(ctx context.Context, agent common.Address) (Entry, error)
	Close() error
}

// Feed 返回把安全上报事件写入索引的事件处理函数。
func Feed(idx SecurityIndex) events.Handler {
	return func(ctx context.Context, event events.Event) error {
		if event.Operation != events.OpSecurityUpdated {
			return nil
		}
		return idx.Record(ctx, Entry{
			Agent:      event.Agent,
			Monitor:    event.Address,
			LastUpdate: event.Timestamp,
		})
	}
}

func newer(candidate, current Entry) bool {
	if candidate.LastUpdate != current.LastUpdate {
		return candidate.LastUpdate > current.LastUpdate
	}
	return bytes.Compare(candidate.Monitor.Bytes(), current.Monitor.Bytes()) > 0
}

// MemoryIndex 是 SecurityIndex 的内存实现。
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[common.Address]Entry
}

// NewMemoryIndex 创建 MemoryIndex。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[common.Address]Entry)}
}

// Record 实现 SecurityIndex 接口。
func (m *MemoryIndex) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[entry.Agent]
	if !ok || newer(entry, current) {
		m.entries[entry.Agent] = entry
	}
	return nil
}

// Latest 实现 SecurityIndex 接口。
func (m *MemoryIndex) Latest(_ context.Context, agent common.Address) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[agent]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Close 实现 SecurityIndex 接口。
func (m *MemoryIndex) Close() error { return nil }
