package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/record"
)

var (
	testPayer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testSlot  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newAgent(name string) *record.Agent {
	return &record.Agent{
		Owner:    testPayer,
		Name:     name,
		Config:   record.DefaultAgentConfig(),
		IsActive: true,
	}
}

func agentRent() uint64 {
	return uint64(record.Space(record.KindAgent) + SlotOverhead)
}

type storeFactory func(t *testing.T, pricing Pricing) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, pricing Pricing) Store {
			return NewMemoryStore(pricing)
		},
		"sqlite": func(t *testing.T, pricing Pricing) Store {
			t.Helper()
			store, err := NewSQLStore(context.Background(), SQLConfig{
				Driver:  DriverSQLite,
				DSN:     filepath.Join(t.TempDir(), "ledger.db"),
				Pricing: pricing,
			})
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestStoreCreateAndRead(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{RentPerByte: 1})
			if _, err := store.Deposit(ctx, testPayer, agentRent()); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				return Create(ctx, tx, testSlot, newAgent("scout"), testPayer)
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			var got record.Agent
			if err := Read(ctx, store, testSlot, &got); err != nil {
				t.Fatalf("read: %v", err)
			}
			if got.Name != "scout" || got.Owner != testPayer || !got.IsActive {
				t.Fatalf("unexpected agent: %+v", got)
			}

			slot, err := store.Load(ctx, testSlot)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if slot.Size != record.Space(record.KindAgent) || len(slot.Data) != slot.Size {
				t.Fatalf("slot not sized to kind: size=%d len=%d", slot.Size, len(slot.Data))
			}
			if slot.Payer != testPayer || slot.Kind != record.KindAgent {
				t.Fatalf("unexpected slot header: %+v", slot)
			}

			balance, err := store.Balance(ctx, testPayer)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			if balance != 0 {
				t.Fatalf("expected rent to drain balance, got %d", balance)
			}
		})
	}
}

func TestStoreRejectsOccupiedSlot(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{})
			create := func(name string) error {
				return store.Apply(ctx, func(ctx context.Context, tx Tx) error {
					return Create(ctx, tx, testSlot, newAgent(name), testPayer)
				})
			}
			if err := create("first"); err != nil {
				t.Fatalf("first create: %v", err)
			}
			err := create("second")
			if !errors.Is(err, ErrSlotOccupied) || !xerrors.HasCode(err, xerrors.CodeAllocation) {
				t.Fatalf("expected occupied slot, got %v", err)
			}

			var got record.Agent
			if err := Read(ctx, store, testSlot, &got); err != nil {
				t.Fatalf("read: %v", err)
			}
			if got.Name != "first" {
				t.Fatalf("original record overwritten: %q", got.Name)
			}
		})
	}
}

func TestStoreInsufficientFunds(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{RentPerByte: 1})
			if _, err := store.Deposit(ctx, testPayer, agentRent()-1); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				return Create(ctx, tx, testSlot, newAgent("scout"), testPayer)
			})
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("expected insufficient funds, got %v", err)
			}
			if _, err := store.Load(ctx, testSlot); !errors.Is(err, ErrNotFound) {
				t.Fatalf("slot should not exist, got %v", err)
			}
			balance, _ := store.Balance(ctx, testPayer)
			if balance != agentRent()-1 {
				t.Fatalf("balance changed on failure: %d", balance)
			}
		})
	}
}

func TestStoreApplyRollsBackOnError(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{RentPerByte: 1})
			if _, err := store.Deposit(ctx, testPayer, 10*agentRent()); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			boom := errors.New("boom")
			err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				if err := Create(ctx, tx, testSlot, newAgent("scout"), testPayer); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			if _, err := store.Load(ctx, testSlot); !errors.Is(err, ErrNotFound) {
				t.Fatalf("slot should be rolled back, got %v", err)
			}
			balance, _ := store.Balance(ctx, testPayer)
			if balance != 10*agentRent() {
				t.Fatalf("rent should be refunded on rollback, balance %d", balance)
			}
		})
	}
}

func TestStoreOversizedRecordLeavesNoSlot(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{})
			agent := newAgent(string(make([]byte, record.MaxNameLength+1)))
			err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				return Create(ctx, tx, testSlot, agent, testPayer)
			})
			if !xerrors.HasCode(err, xerrors.CodeAllocation) {
				t.Fatalf("expected allocation error, got %v", err)
			}
			if _, err := store.Load(ctx, testSlot); !errors.Is(err, ErrNotFound) {
				t.Fatalf("slot should not exist, got %v", err)
			}
		})
	}
}

func TestStorePutUpdatesInPlace(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, Pricing{})
			if err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				return Create(ctx, tx, testSlot, newAgent("scout"), testPayer)
			}); err != nil {
				t.Fatalf("create: %v", err)
			}

			err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
				var agent record.Agent
				if err := Get(ctx, tx, testSlot, &agent); err != nil {
					return err
				}
				if err := agent.Metrics.RecordAnalysis(); err != nil {
					return err
				}
				return Put(ctx, tx, testSlot, &agent)
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}

			var got record.Agent
			if err := Read(ctx, store, testSlot, &got); err != nil {
				t.Fatalf("read: %v", err)
			}
			if got.Metrics.TotalAnalyses != 1 {
				t.Fatalf("expected 1 analysis, got %d", got.Metrics.TotalAnalyses)
			}
		})
	}
}

func TestReadWrongKindIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Pricing{})
	if err := store.Apply(ctx, func(ctx context.Context, tx Tx) error {
		return Create(ctx, tx, testSlot, newAgent("scout"), testPayer)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	var analysis record.ContractAnalysis
	if err := Read(ctx, store, testSlot, &analysis); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPricingCost(t *testing.T) {
	cost, err := Pricing{RentPerByte: 2}.Cost(100)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if cost != 2*(100+SlotOverhead) {
		t.Fatalf("unexpected cost %d", cost)
	}
	if _, err := (Pricing{RentPerByte: 1 << 62}).Cost(1 << 10); !errors.Is(err, ErrSlotOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := (Pricing{}).Cost(0); !xerrors.HasCode(err, xerrors.CodeAllocation) {
		t.Fatalf("expected allocation error for empty slot, got %v", err)
	}
}
