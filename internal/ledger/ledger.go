package ledger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/record"
)

// SlotOverhead 是每个槽位在计费时额外计算的固定字节数。
const SlotOverhead = 128

// Slot 是一段按地址寻址、大小固定的存储空间。
type Slot struct {
	Address   common.Address `json:"address"`
	Kind      record.Kind    `json:"kind"`
	Payer     common.Address `json:"payer"`
	Size      int            `json:"size"`
	Data      []byte         `json:"data"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

func (s *Slot) clone() *Slot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Data = append([]byte(nil), s.Data...)
	return &clone
}

// Tx 是一次原子操作内可见的存储视图。Apply 返回错误时其中的全部写入都会被丢弃。
type Tx interface {
	// Load 读取槽位。槽位不存在时返回 ErrNotFound。
	Load(ctx context.Context, addr common.Address) (*Slot, error)
	// Allocate 为 addr 预留 size 字节并向 payer 收取租金。地址已占用或余额不足时返回分配错误。
	Allocate(ctx context.Context, addr common.Address, kind record.Kind, size int, payer common.Address) error
	// Write 将数据写入已预留的槽位，不足部分以零填充，超出预留大小时报错。
	Write(ctx context.Context, addr common.Address, data []byte) error
}

// Store 抽象了记录存储：原子执行、按地址读取与付款方余额管理。
type Store interface {
	Apply(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Load(ctx context.Context, addr common.Address) (*Slot, error)
	Deposit(ctx context.Context, payer common.Address, amount uint64) (uint64, error)
	Balance(ctx context.Context, payer common.Address) (uint64, error)
	Close() error
}

var (
	// ErrNotFound 表示指定地址没有记录。
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "record not found")
	// ErrSlotOccupied 表示目标地址已被占用。
	ErrSlotOccupied = xerrors.New(xerrors.CodeAllocation, "slot already in use")
	// ErrInsufficientFunds 表示付款方余额不足以支付租金。
	ErrInsufficientFunds = xerrors.New(xerrors.CodeAllocation, "payer cannot cover rent")
	// ErrSlotOverflow 表示写入数据超出预留空间，或尺寸计算超出上限。
	ErrSlotOverflow = xerrors.New(xerrors.CodeAllocation, "data exceeds reserved space")
)

// Pricing 定义预留空间的租金。
type Pricing struct {
	RentPerByte uint64
}

// Cost 返回预留 size 字节需要的租金。
func (p Pricing) Cost(size int) (uint64, error) {
	if size <= 0 {
		return 0, xerrors.New(xerrors.CodeAllocation, fmt.Sprintf("invalid slot size %d", size))
	}
	if p.RentPerByte == 0 {
		return 0, nil
	}
	billable := uint64(size) + SlotOverhead
	if billable > math.MaxUint64/p.RentPerByte {
		return 0, ErrSlotOverflow
	}
	return billable * p.RentPerByte, nil
}

// Get 读取并解码记录。槽位不存在或类型不符时返回 ErrNotFound。
func Get(ctx context.Context, tx Tx, addr common.Address, rec record.Record) error {
	slot, err := tx.Load(ctx, addr)
	if err != nil {
		return err
	}
	return decodeSlot(slot, rec)
}

// Read 在事务之外读取并解码记录。
func Read(ctx context.Context, store Store, addr common.Address, rec record.Record) error {
	slot, err := store.Load(ctx, addr)
	if err != nil {
		return err
	}
	return decodeSlot(slot, rec)
}

func decodeSlot(slot *Slot, rec record.Record) error {
	if slot.Kind != rec.Kind() {
		return xerrors.Wrap(xerrors.CodeNotFound, fmt.Errorf("slot holds %s", slot.Kind), fmt.Sprintf("no %s at %s", rec.Kind(), slot.Address.Hex()))
	}
	if err := record.Unmarshal(slot.Data, rec); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码记录失败")
	}
	return nil
}

// Create 先按记录类型的最大尺寸预留空间，再写入编码后的记录。
func Create(ctx context.Context, tx Tx, addr common.Address, rec record.Record, payer common.Address) error {
	kind := rec.Kind()
	if err := tx.Allocate(ctx, addr, kind, record.Space(kind), payer); err != nil {
		return err
	}
	return Put(ctx, tx, addr, rec)
}

// Put 将记录编码后写入已存在的槽位。
func Put(ctx context.Context, tx Tx, addr common.Address, rec record.Record) error {
	data, err := record.Marshal(rec)
	if err != nil {
		if stdErrors.Is(err, record.ErrInvalidEnum) {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "记录字段取值非法")
		}
		return xerrors.Wrap(xerrors.CodeAllocation, err, "记录尺寸超出预留空间")
	}
	return tx.Write(ctx, addr, data)
}

func padTo(data []byte, size int) ([]byte, error) {
	if len(data) > size {
		return nil, ErrSlotOverflow
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}
