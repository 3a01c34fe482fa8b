package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsComparesCodes(t *testing.T) {
	err := Wrap(CodeAllocation, stdErrors.New("slot occupied"), "预留记录空间失败")
	wrapped := fmt.Errorf("create agent: %w", err)

	if !stdErrors.Is(wrapped, New(CodeAllocation, "")) {
		t.Fatalf("expected wrapped error to match allocation code")
	}
	if stdErrors.Is(wrapped, New(CodeUnauthorized, "")) {
		t.Fatalf("unexpected match with unauthorized code")
	}
	if !HasCode(wrapped, CodeAllocation) {
		t.Fatalf("HasCode should find allocation code")
	}
	if CodeOf(wrapped) != CodeAllocation {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test", Severity: SeverityCritical, Retryable: true})

	err := New(code, "")
	if err.Message() != "test" {
		t.Fatalf("expected default message from registry, got %q", err.Message())
	}
	if !err.Retryable() || err.Severity() != SeverityCritical {
		t.Fatalf("unexpected attributes: retryable=%v severity=%s", err.Retryable(), err.Severity())
	}
	if SeverityOf(stdErrors.New("plain")) != SeverityCritical {
		t.Fatalf("plain errors should fall back to unknown severity")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeUnauthorized, "", WithMetadata("caller", "0xabc"))
	md := err.Metadata()
	md["caller"] = "changed"
	if err.Metadata()["caller"] != "0xabc" {
		t.Fatalf("metadata should be returned as a copy")
	}
}
