package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/record"
)

// SQLStore 将槽位与余额保存在 MySQL 或 SQLite 中。
type SQLStore struct {
	db      *sql.DB
	driver  string
	pricing Pricing
}

// NewSQLStore 打开数据库连接并初始化表结构。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, driver: cfg.Driver, pricing: cfg.Pricing}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Apply 在单个数据库事务中执行 fn，fn 返回错误时回滚。
func (s *SQLStore) Apply(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(ctx, &sqlTx{tx: dbTx, store: s}); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Load 实现 Store 接口。
func (s *SQLStore) Load(ctx context.Context, addr common.Address) (*Slot, error) {
	return loadSlot(ctx, s.db, addr, "")
}

// Deposit 实现 Store 接口。
func (s *SQLStore) Deposit(ctx context.Context, payer common.Address, amount uint64) (uint64, error) {
	if amount > math.MaxInt64 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "充值金额超出上限")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	current, found, err := s.balance(ctx, tx, payer, s.lockSuffix())
	if err != nil {
		return 0, err
	}
	if current > math.MaxInt64-amount {
		return current, xerrors.New(xerrors.CodeInvalidArgument, "余额超出上限")
	}
	next := current + amount
	if found {
		_, err = tx.ExecContext(ctx, `UPDATE ledger_balances SET amount = ? WHERE address = ?`, int64(next), payer.Hex())
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO ledger_balances (address, amount) VALUES (?, ?)`, payer.Hex(), int64(next))
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新余额失败")
	}
	if err := tx.Commit(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return next, nil
}

// Balance 实现 Store 接口。
func (s *SQLStore) Balance(ctx context.Context, payer common.Address) (uint64, error) {
	amount, _, err := s.balance(ctx, s.db, payer, "")
	return amount, err
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) lockSuffix() string {
	if s.driver == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) balance(ctx context.Context, q queryer, payer common.Address, suffix string) (uint64, bool, error) {
	var amount int64
	err := q.QueryRowContext(ctx, `SELECT amount FROM ledger_balances WHERE address = ?`+suffix, payer.Hex()).Scan(&amount)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询余额失败")
	}
	if amount < 0 {
		amount = 0
	}
	return uint64(amount), true, nil
}

func loadSlot(ctx context.Context, q queryer, addr common.Address, suffix string) (*Slot, error) {
	const stmt = `SELECT kind, payer, size, data, created_at, updated_at FROM ledger_slots WHERE address = ?`

	slot := Slot{Address: addr}
	var kind, payer string
	if err := q.QueryRowContext(ctx, stmt+suffix, addr.Hex()).Scan(
		&kind,
		&payer,
		&slot.Size,
		&slot.Data,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询槽位失败")
	}
	slot.Kind = record.Kind(kind)
	slot.Payer = common.HexToAddress(payer)
	return &slot, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if stdErrors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

type sqlTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) Load(ctx context.Context, addr common.Address) (*Slot, error) {
	return loadSlot(ctx, t.tx, addr, t.store.lockSuffix())
}

func (t *sqlTx) Allocate(ctx context.Context, addr common.Address, kind record.Kind, size int, payer common.Address) error {
	if _, err := t.Load(ctx, addr); err == nil {
		return xerrors.Wrap(xerrors.CodeAllocation, ErrSlotOccupied, "预留记录空间失败", xerrors.WithMetadata("address", addr.Hex()))
	} else if !stdErrors.Is(err, ErrNotFound) {
		return err
	}

	cost, err := t.store.pricing.Cost(size)
	if err != nil {
		return err
	}
	if cost > 0 {
		if cost > math.MaxInt64 {
			return xerrors.Wrap(xerrors.CodeAllocation, ErrInsufficientFunds, "预留记录空间失败", xerrors.WithMetadata("payer", payer.Hex()))
		}
		res, err := t.tx.ExecContext(ctx,
			`UPDATE ledger_balances SET amount = amount - ? WHERE address = ? AND amount >= ?`,
			int64(cost), payer.Hex(), int64(cost),
		)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扣除租金失败")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
		}
		if affected == 0 {
			return xerrors.Wrap(xerrors.CodeAllocation, ErrInsufficientFunds, "预留记录空间失败", xerrors.WithMetadata("payer", payer.Hex()))
		}
	}

	now := time.Now().Unix()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO ledger_slots (address, kind, payer, size, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		addr.Hex(), string(kind), payer.Hex(), size, make([]byte, size), now, now,
	)
	if err != nil {
		if isDuplicate(err) {
			return xerrors.Wrap(xerrors.CodeAllocation, ErrSlotOccupied, "预留记录空间失败", xerrors.WithMetadata("address", addr.Hex()))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入槽位失败")
	}
	return nil
}

func (t *sqlTx) Write(ctx context.Context, addr common.Address, data []byte) error {
	slot, err := t.Load(ctx, addr)
	if err != nil {
		return err
	}
	padded, err := padTo(data, slot.Size)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE ledger_slots SET data = ?, updated_at = ? WHERE address = ?`,
		padded, time.Now().Unix(), addr.Hex(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入槽位失败")
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
