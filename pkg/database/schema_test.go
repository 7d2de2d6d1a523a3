package database

import (
	"strings"
	"testing"
)

func TestSchemaValidator_ValidateTablesExist(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	err := validator.ValidateTablesExist()
	if err == nil {
		t.Fatal("validation should fail on an empty database")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("unexpected error: %v", err)
	}

	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := validator.ValidateTablesExist(); err != nil {
		t.Errorf("validation should pass after migrations: %v", err)
	}
}

func TestSchemaValidator_ValidateTableStructure(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := NewSchemaValidator(db).ValidateTableStructure(); err != nil {
		t.Errorf("table structure should validate: %v", err)
	}
}

func TestSchemaValidator_DetectsMissingColumn(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE characters (id INTEGER PRIMARY KEY, user_id TEXT)`); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := NewSchemaValidator(db).ValidateTableStructure()
	if err == nil {
		t.Fatal("expected missing columns to be reported")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSchemaValidator_ValidateIndexes(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := validator.ValidateIndexes(); err != nil {
		t.Errorf("indexes should validate: %v", err)
	}

	if _, err := db.Exec("DROP INDEX idx_characters_user"); err != nil {
		t.Fatalf("drop index failed: %v", err)
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("missing index should be reported")
	}
}

func TestSchemaValidator_ValidateConstraints(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := NewSchemaValidator(db).ValidateConstraints(); err != nil {
		t.Errorf("constraints should be enforced: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM characters").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("probe rows should be cleaned up, found %d", count)
	}
}

func TestSchemaValidator_ValidateSchema(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateSchema(); err == nil {
		t.Fatal("validation should fail before migrations")
	}
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := validator.ValidateSchema(); err != nil {
		t.Errorf("migrated schema should validate: %v", err)
	}
}
