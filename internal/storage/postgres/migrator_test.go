package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrations_Success(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(migrationFS(map[string]string{
		"0002_more.up.sql":   "CREATE TABLE b (id INT);",
		"0002_more.down.sql": "DROP TABLE b;",
		"0001_init.up.sql":   "CREATE TABLE a (id INT);",
		"0001_init.down.sql": "DROP TABLE a;",
	}))
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "init" || migrations[0].Down != "DROP TABLE a;" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"missing down", map[string]string{"0001_init.up.sql": "SELECT 1;"}, "both up and down"},
		{"invalid name", map[string]string{"not_a_migration.sql": "SELECT 1;"}, "invalid migration file name"},
		{"empty body", map[string]string{"0001_init.up.sql": "  \n", "0001_init.down.sql": "SELECT 1;"}, "empty"},
		{"name mismatch", map[string]string{"0001_init.up.sql": "SELECT 1;", "0001_other.down.sql": "SELECT 1;"}, "name mismatch"},
		{"no files", map[string]string{}, "no migration files"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrations(migrationFS(tt.files))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("unexpected embedded migrations: %+v", migrations)
	}
	if !strings.Contains(migrations[0].Up, "CREATE TABLE IF NOT EXISTS sales") {
		t.Fatal("initial migration must create the sales table")
	}
}

func TestPlanUp(t *testing.T) {
	t.Parallel()

	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}

	plan := planUp(all, map[int64]bool{1: true}, 0)
	if len(plan) != 2 || plan[0].Version != 2 || plan[1].Version != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	plan = planUp(all, map[int64]bool{}, 1)
	if len(plan) != 1 || plan[0].Version != 1 {
		t.Fatalf("unexpected limited plan: %+v", plan)
	}

	if plan := planUp(all, map[int64]bool{1: true, 2: true, 3: true}, 0); len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestPlanDown(t *testing.T) {
	t.Parallel()

	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}

	plan, err := planDown(all, map[int64]bool{1: true, 2: true, 3: true}, 2)
	if err != nil {
		t.Fatalf("planDown: %v", err)
	}
	if len(plan) != 2 || plan[0].Version != 3 || plan[1].Version != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	plan, err = planDown(all, map[int64]bool{1: true}, 5)
	if err != nil {
		t.Fatalf("planDown: %v", err)
	}
	if len(plan) != 1 || plan[0].Version != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	if _, err := planDown(all, map[int64]bool{9: true}, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
}
