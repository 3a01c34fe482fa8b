package ledger

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/record"
)

// MemoryStore 以内存方式保存槽位，主要用于测试与单机开发。
// Apply 在互斥锁内执行，写入先暂存，成功后整体提交。
type MemoryStore struct {
	mu       sync.RWMutex
	slots    map[common.Address]*Slot
	balances map[common.Address]uint64
	pricing  Pricing
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(pricing Pricing) *MemoryStore {
	return &MemoryStore{
		slots:    make(map[common.Address]*Slot),
		balances: make(map[common.Address]uint64),
		pricing:  pricing,
	}
}

// Apply 实现 Store 接口。
func (m *MemoryStore) Apply(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:    m,
		slots:    make(map[common.Address]*Slot),
		balances: make(map[common.Address]uint64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for addr, slot := range tx.slots {
		m.slots[addr] = slot
	}
	for addr, balance := range tx.balances {
		m.balances[addr] = balance
	}
	return nil
}

// Load 实现 Store 接口。
func (m *MemoryStore) Load(_ context.Context, addr common.Address) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return slot.clone(), nil
}

// Deposit 实现 Store 接口。
func (m *MemoryStore) Deposit(_ context.Context, payer common.Address, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[payer]
	if amount > math.MaxInt64 || current > math.MaxInt64-amount {
		return current, xerrors.New(xerrors.CodeInvalidArgument, "余额超出上限")
	}
	m.balances[payer] = current + amount
	return m.balances[payer], nil
}

// Balance 实现 Store 接口。
func (m *MemoryStore) Balance(_ context.Context, payer common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[payer], nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// Len 返回槽位数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

type memoryTx struct {
	store    *MemoryStore
	slots    map[common.Address]*Slot
	balances map[common.Address]uint64
}

func (t *memoryTx) lookup(addr common.Address) (*Slot, bool) {
	if slot, ok := t.slots[addr]; ok {
		return slot, true
	}
	slot, ok := t.store.slots[addr]
	return slot, ok
}

func (t *memoryTx) balance(addr common.Address) uint64 {
	if balance, ok := t.balances[addr]; ok {
		return balance
	}
	return t.store.balances[addr]
}

func (t *memoryTx) Load(_ context.Context, addr common.Address) (*Slot, error) {
	slot, ok := t.lookup(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return slot.clone(), nil
}

func (t *memoryTx) Allocate(_ context.Context, addr common.Address, kind record.Kind, size int, payer common.Address) error {
	if _, ok := t.lookup(addr); ok {
		return xerrors.Wrap(xerrors.CodeAllocation, ErrSlotOccupied, "预留记录空间失败", xerrors.WithMetadata("address", addr.Hex()))
	}
	cost, err := t.store.pricing.Cost(size)
	if err != nil {
		return err
	}
	balance := t.balance(payer)
	if balance < cost {
		return xerrors.Wrap(xerrors.CodeAllocation, ErrInsufficientFunds, "预留记录空间失败", xerrors.WithMetadata("payer", payer.Hex()))
	}
	if cost > 0 {
		t.balances[payer] = balance - cost
	}
	now := time.Now().Unix()
	t.slots[addr] = &Slot{
		Address:   addr,
		Kind:      kind,
		Payer:     payer,
		Size:      size,
		Data:      make([]byte, size),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (t *memoryTx) Write(_ context.Context, addr common.Address, data []byte) error {
	slot, ok := t.lookup(addr)
	if !ok {
		return ErrNotFound
	}
	padded, err := padTo(data, slot.Size)
	if err != nil {
		return err
	}
	updated := slot.clone()
	updated.Data = padded
	updated.UpdatedAt = time.Now().Unix()
	t.slots[addr] = updated
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
