package schema

import "testing"

type upgradeIterationField struct{}

func (upgradeIterationField) GetSourceVersion() SchemaVersion {
	return SchemaVersion{Major: 1, Minor: 0, Patch: 0}
}

func (upgradeIterationField) GetTargetVersion() SchemaVersion {
	return SchemaVersion{Major: 1, Minor: 1, Patch: 0}
}

func (upgradeIterationField) GetDescription() string {
	return "rename iteration_count to iteration"
}

func (upgradeIterationField) Migrate(data map[string]interface{}) (map[string]interface{}, error) {
	if v, ok := data["iteration_count"]; ok {
		data["iteration"] = v
		delete(data, "iteration_count")
	}
	data["schema_version"] = "1.1.0"
	return data, nil
}

func TestMigrationRegistryRegisterAndLookup(t *testing.T) {
	reg := NewMigrationRegistry()
	m := upgradeIterationField{}
	if err := reg.RegisterMigration(m); err != nil {
		t.Fatalf("RegisterMigration: %v", err)
	}

	got, err := reg.GetMigration(m.GetSourceVersion(), m.GetTargetVersion())
	if err != nil {
		t.Fatalf("GetMigration: %v", err)
	}
	if got.GetDescription() != m.GetDescription() {
		t.Fatalf("GetMigration returned %q, want %q", got.GetDescription(), m.GetDescription())
	}
}

func TestMigrationRegistryRejectsDuplicateRegistration(t *testing.T) {
	reg := NewMigrationRegistry()
	m := upgradeIterationField{}
	if err := reg.RegisterMigration(m); err != nil {
		t.Fatalf("RegisterMigration: %v", err)
	}
	if err := reg.RegisterMigration(m); err == nil {
		t.Fatal("expected error registering the same migration twice")
	}
}

func TestMigratorMigrateData(t *testing.T) {
	reg := NewMigrationRegistry()
	if err := reg.RegisterMigration(upgradeIterationField{}); err != nil {
		t.Fatalf("RegisterMigration: %v", err)
	}
	m := NewMigratorWithRegistry(reg)

	data := map[string]interface{}{
		"schema_version":  "1.0.0",
		"iteration_count": float64(7),
	}

	migrated, err := m.MigrateData(data, SchemaVersion{Major: 1, Minor: 1, Patch: 0})
	if err != nil {
		t.Fatalf("MigrateData: %v", err)
	}
	if migrated["schema_version"] != "1.1.0" {
		t.Fatalf("schema_version = %v, want 1.1.0", migrated["schema_version"])
	}
	if migrated["iteration"] != float64(7) {
		t.Fatalf("iteration = %v, want 7", migrated["iteration"])
	}
	if _, exists := migrated["iteration_count"]; exists {
		t.Fatal("expected iteration_count to be removed after migration")
	}
}

func TestMigratorMigrateDataNoopWhenAlreadyAtTarget(t *testing.T) {
	m := NewMigrator()
	data := map[string]interface{}{"schema_version": "1.0.0"}

	migrated, err := m.MigrateData(data, SchemaVersion{Major: 1, Minor: 0, Patch: 0})
	if err != nil {
		t.Fatalf("MigrateData: %v", err)
	}
	if migrated["schema_version"] != "1.0.0" {
		t.Fatalf("expected no-op migration, got %v", migrated)
	}
}

func TestMigratorMigrateDataErrorsWithoutPath(t *testing.T) {
	m := NewMigrator()
	data := map[string]interface{}{"schema_version": "1.0.0"}

	if _, err := m.MigrateData(data, SchemaVersion{Major: 9, Minor: 9, Patch: 9}); err == nil {
		t.Fatal("expected error when no migration path exists")
	}
}
