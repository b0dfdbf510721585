package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v.Major != 1 || v.Minor != 2 || v.Patch != 3 {
		t.Fatalf("ParseVersion(1.2.3) = %+v", v)
	}
	if v.String() != "1.2.3" {
		t.Fatalf("String() = %q, want 1.2.3", v.String())
	}

	if _, err := ParseVersion("not-a-version"); err == nil {
		t.Fatal("expected error for malformed version string")
	}
}

func TestIsCompatible(t *testing.T) {
	v := SchemaVersion{Major: 1, Minor: 2, Patch: 0}
	if !v.IsCompatible(SchemaVersion{Major: 1, Minor: 1, Patch: 0}) {
		t.Error("1.2.0 should be compatible with required 1.1.0")
	}
	if v.IsCompatible(SchemaVersion{Major: 2, Minor: 0, Patch: 0}) {
		t.Error("1.2.0 should not be compatible with required 2.0.0")
	}
	if v.IsCompatible(SchemaVersion{Major: 1, Minor: 3, Patch: 0}) {
		t.Error("1.2.0 should not be compatible with required 1.3.0")
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(filepath.Join("schemas", "v1.0", "session-record.json"))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateBytesAcceptsWellFormedRecord(t *testing.T) {
	v := newTestValidator(t)
	record := map[string]any{
		"key":   "naive float64 cpu single/1024",
		"value": map[string]any{"iteration": 3, "runtime_ns": 1500},
		"time":  1780000000,
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.ValidateBytes(data)
	if err != nil {
		t.Fatalf("ValidateBytes: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid record, got errors: %v", result.Errors)
	}
}

func TestValidateBytesRejectsMissingKey(t *testing.T) {
	v := newTestValidator(t)
	record := map[string]any{
		"value": map[string]any{"iteration": 0},
		"time":  1780000000,
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.ValidateBytes(data)
	if err != nil {
		t.Fatalf("ValidateBytes: %v", err)
	}
	if result.Valid {
		t.Fatal("expected record missing 'key' to be invalid")
	}
	if !result.HasErrors() {
		t.Fatal("expected HasErrors() to report the missing key")
	}
}

func TestValidateFileMatchesValidateBytes(t *testing.T) {
	v := newTestValidator(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	record := []byte(`{"key":"naive/1024","value":{"iteration":0},"time":1}`)
	if err := os.WriteFile(path, record, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := v.ValidateFile(path)
	if err != nil {
		t.Fatalf("ValidateFile: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid record, got errors: %v", result.Errors)
	}
}

func TestSchemaManagerGetLatestValidator(t *testing.T) {
	m := NewSchemaManager("schemas")
	v, err := m.GetLatestValidator()
	if err != nil {
		t.Fatalf("GetLatestValidator: %v", err)
	}
	if v.GetVersion().String() != "1.0.0" {
		t.Fatalf("GetVersion() = %s, want 1.0.0", v.GetVersion())
	}

	// Second call should reuse the cached validator instance.
	v2, err := m.GetLatestValidator()
	if err != nil {
		t.Fatalf("GetLatestValidator (cached): %v", err)
	}
	if v != v2 {
		t.Fatal("expected cached validator to be reused")
	}
}
