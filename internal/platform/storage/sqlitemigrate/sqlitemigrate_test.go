package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"001_init.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE widgets (id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE widgets;\n")},
		"002_more.sql": {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
		"README.md":    {Data: []byte("ignored")},
	}

	if err := ApplyMigrations(context.Background(), db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("expected both tables to exist")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("applied migrations = %d, want 2", count)
	}

	// A second pass is a no-op; the Up block would fail if re-executed without IF NOT EXISTS.
	if err := ApplyMigrations(context.Background(), db, migrations, "."); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"001_bad.sql": {Data: []byte("CREATE TABLE ok (id TEXT); NOT VALID SQL;")},
	}

	if err := ApplyMigrations(context.Background(), db, migrations, ""); err == nil {
		t.Fatal("expected invalid migration to fail")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 0 {
		t.Fatalf("applied migrations = %d, want 0", count)
	}
}

func TestExtractUpMigration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "no markers", content: "SELECT 1;", want: "SELECT 1;"},
		{name: "up only", content: "-- +migrate Up\nSELECT 1;", want: "\nSELECT 1;"},
		{name: "up and down", content: "-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;", want: "\nSELECT 1;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractUpMigration(tt.content); got != tt.want {
				t.Fatalf("ExtractUpMigration() = %q, want %q", got, tt.want)
			}
		})
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", tableName).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("query table %s: %v", tableName, err)
	}
	return name == tableName
}
