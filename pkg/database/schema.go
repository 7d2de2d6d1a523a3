package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live database against the expected schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateSchema runs every check and returns the first failure.
func (v *SchemaValidator) ValidateSchema() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"characters":        "Roster entries",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies the characters table's columns and types.
func (v *SchemaValidator) ValidateTableStructure() error {
	characterColumns := map[string]string{
		"id":             "INTEGER",
		"user_id":        "TEXT",
		"user_name":      "TEXT",
		"character_name": "TEXT",
		"realm":          "TEXT",
		"class":          "TEXT",
		"role":           "TEXT",
		"armor":          "TEXT",
		"profile_url":    "TEXT",
		"score":          "REAL",
		"available":      "INTEGER",
		"updated_at":     "DATETIME",
	}

	if err := v.validateColumns("characters", characterColumns); err != nil {
		return fmt.Errorf("characters table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the lookup and uniqueness indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_characters_name_nocase":     "Case-insensitive name uniqueness",
		"idx_characters_user":            "Per-user listing",
		"idx_characters_available_score": "Available roster ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints probes the role check and the case-insensitive name
// uniqueness. Probe rows are removed afterwards.
func (v *SchemaValidator) ValidateConstraints() error {
	defer func() {
		_, _ = v.db.Exec("DELETE FROM characters WHERE user_id LIKE '__schema_probe_%'")
	}()

	_, err := v.db.Exec(`
		INSERT INTO characters (user_id, character_name, role, profile_url)
		VALUES ('__schema_probe_1', '__Probe', 'Bard', 'x')
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: role")
	}

	if _, err := v.db.Exec(`
		INSERT INTO characters (user_id, character_name, role, profile_url)
		VALUES ('__schema_probe_1', '__Probe', 'Tank', 'x')
	`); err != nil {
		return fmt.Errorf("failed to insert probe row: %w", err)
	}

	_, err = v.db.Exec(`
		INSERT INTO characters (user_id, character_name, role, profile_url)
		VALUES ('__schema_probe_2', '__PROBE', 'Tank', 'x')
	`)
	if err == nil {
		return fmt.Errorf("unique constraint not enforced: character_name across users")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
