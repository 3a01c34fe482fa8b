package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "Manof-Chain/internal/errors"
)

const (
	// DriverMySQL 使用 MySQL 作为记录存储。
	DriverMySQL = "mysql"
	// DriverSQLite 使用本地 SQLite 文件作为记录存储。
	DriverSQLite = "sqlite"
)

// SQLConfig 描述 SQL 存储的连接参数。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Pricing         Pricing
}

func openDatabase(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	driverName := cfg.Driver
	switch cfg.Driver {
	case DriverMySQL:
	case DriverSQLite:
		driverName = "sqlite3"
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的数据库驱动: "+cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败")
	}

	if cfg.Driver == DriverSQLite {
		// SQLite 只允许单个写连接。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	return db, nil
}
