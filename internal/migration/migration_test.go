package migration

import (
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/julianstephens/wayfare/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyEmbeddedSQLite(t *testing.T) {
	db := openDB(t)
	sub, err := fs.Sub(migrations.FS, "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	r := NewRunner(db, sub)

	var lines []string
	n, err := r.Apply(func(s string) { lines = append(lines, s) })
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if n != 2 {
		t.Errorf("applied %d migrations, want 2", n)
	}
	if len(lines) == 0 || !strings.Contains(lines[0], "from version 0 to 2") {
		t.Errorf("unexpected progress: %v", lines)
	}
	for _, table := range []string{"itineraries", "execution_records", "transitions", "undo_log"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// second run is a no-op
	if n, err := r.Apply(nil); err != nil || n != 0 {
		t.Errorf("re-apply = %d, %v", n, err)
	}
	if cur, latest, err := r.Status(); err != nil || cur != 2 || latest != 2 {
		t.Errorf("Status = %d, %d, %v", cur, latest, err)
	}
}

func TestMigrationsRejectBadFiles(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no underscore": {"001.sql": {Data: []byte("SELECT 1")}},
		"bad number":    {"abc_init.sql": {Data: []byte("SELECT 1")}},
		"zero":          {"000_init.sql": {Data: []byte("SELECT 1")}},
		"duplicate": {
			"001_a.sql": {Data: []byte("SELECT 1")},
			"01_b.sql":  {Data: []byte("SELECT 1")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRunner(openDB(t), fsys).Migrations(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db := openDB(t)
	r := NewRunner(db, fstest.MapFS{
		"001_ok.sql":  {Data: []byte("CREATE TABLE a (id INTEGER)")},
		"002_bad.sql": {Data: []byte("CREATE TABLE nope (")},
		"README.md":   {Data: []byte("ignored")},
	})
	n, err := r.Apply(nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if n != 1 {
		t.Errorf("applied %d, want 1", n)
	}
	if v, _ := r.CurrentVersion(); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
}

func TestSchemaTooNew(t *testing.T) {
	db := openDB(t)
	r := NewRunner(db, fstest.MapFS{"001_ok.sql": {Data: []byte("CREATE TABLE a (id INTEGER)")}})
	if _, err := r.Apply(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 9"); err != nil {
		t.Fatal(err)
	}
	if err := r.Validate(); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("Validate = %v, want ErrSchemaTooNew", err)
	}
	if _, err := r.Apply(nil); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("Apply = %v, want ErrSchemaTooNew", err)
	}
}
