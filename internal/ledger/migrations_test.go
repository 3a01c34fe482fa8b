package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_index.sql":  {Data: []byte("CREATE INDEX a ON t (x);")},
		"0001_schema.sql": {Data: []byte("CREATE TABLE t (x INT);\n\nCREATE TABLE u (y INT);\n")},
		"README.md":       {Data: []byte("ignored")},
		"0003_empty.sql":  {Data: []byte("  ;  ")},
	}
	files, err := loadMigrationFiles(fsys, DriverSQLite)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(files))
	}
	if files[0].version != "0001" || len(files[0].statements) != 2 {
		t.Fatalf("unexpected first migration: %+v", files[0])
	}
	if files[1].version != "0002" {
		t.Fatalf("unexpected second migration: %+v", files[1])
	}
}

func TestLoadMigrationFilesSelectsDriver(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_schema.sql":       {Data: []byte("CREATE TABLE t (x INT);")},
		"0002_index.sqlite.sql": {Data: []byte("CREATE INDEX IF NOT EXISTS a ON t (x);")},
		"0002_index.mysql.sql":  {Data: []byte("CREATE INDEX a ON t (x);")},
	}
	for _, driver := range []string{DriverSQLite, DriverMySQL} {
		files, err := loadMigrationFiles(fsys, driver)
		if err != nil {
			t.Fatalf("%s: load: %v", driver, err)
		}
		if len(files) != 2 {
			t.Fatalf("%s: expected 2 migrations, got %d", driver, len(files))
		}
		if want := "0002_index." + driver + ".sql"; files[1].name != want {
			t.Fatalf("%s: picked %s, want %s", driver, files[1].name, want)
		}
	}

	fsys["0002_other.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE v (z INT);")}
	if _, err := loadMigrationFiles(fsys, DriverSQLite); err == nil {
		t.Fatal("duplicate version for one driver should be rejected")
	}
}

func TestEmbeddedMigrationsCoverEveryDriver(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverMySQL} {
		files, err := loadMigrationFiles(embeddedMigrations, driver)
		if err != nil {
			t.Fatalf("%s: load: %v", driver, err)
		}
		var versions []string
		for _, f := range files {
			versions = append(versions, f.version)
		}
		if strings.Join(versions, ",") != "0001,0002" {
			t.Fatalf("%s: unexpected versions %v", driver, versions)
		}
	}
}

func TestSQLStoreMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := SQLConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "ledger.db")}

	first, err := NewSQLStore(ctx, cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.Deposit(ctx, testPayer, 10); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLStore(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	balance, err := second.Balance(ctx, testPayer)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("balance lost across reopen: %d", balance)
	}
	var applied int
	if err := second.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", applied)
	}
}
