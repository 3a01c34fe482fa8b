package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "logs", "agentd.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")

	err := Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{mainPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{OutputPaths: []string{"stderr"}}) })

	Named("ledger").Debug("record allocated", "size", 42)
	Audit().Info("create_agent", "agent", "0xabc")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	raw, err := os.ReadFile(mainPath)
	if err != nil {
		t.Fatalf("read main log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry); err != nil {
		t.Fatalf("main log is not json: %v (%s)", err, raw)
	}
	if entry["component"] != "ledger" || entry["msg"] != "record allocated" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	auditRaw, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(auditRaw), `"create_agent"`) || !strings.Contains(string(auditRaw), `"stream":"audit"`) {
		t.Fatalf("unexpected audit log: %s", auditRaw)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path is empty")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING").String() != "WARN" {
		t.Fatalf("warning should map to WARN")
	}
	if parseLevel("bogus").String() != "INFO" {
		t.Fatalf("unknown levels should default to INFO")
	}
}
