package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
		"sql/migrations/0002_more.up.sql": {
			Data: []byte("CREATE TABLE test_b (id INT);"),
		},
		"sql/migrations/0002_more.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_b;"),
		},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrationsFromFS_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsFromFS_InvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/not_a_migration.sql": {
			Data: []byte("SELECT 1;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for invalid migration file name")
	}
}

func TestLoadMigrationsFromFS_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for empty migration file body")
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{
		{Version: 1, Name: "orders"},
		{Version: 2, Name: "order_timeline"},
		{Version: 3, Name: "extra"},
	}
	applied := map[int64]bool{1: true, 2: true}

	versions := func(plan []migration) []int64 {
		out := make([]int64, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.Version)
		}
		return out
	}

	cases := []struct {
		name      string
		direction migrationDirection
		steps     int
		want      []int64
	}{
		{name: "up pending only", direction: migrationUp, steps: 0, want: []int64{3}},
		{name: "down newest first", direction: migrationDown, steps: 0, want: []int64{2, 1}},
		{name: "down limited", direction: migrationDown, steps: 1, want: []int64{2}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := versions(planMigrations(all, applied, tc.direction, tc.steps))
			if len(got) != len(tc.want) {
				t.Fatalf("plan = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("plan = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if migrations[0].label() != "0001_orders" || migrations[1].label() != "0002_order_timeline" {
		t.Fatalf("unexpected migrations: %s, %s", migrations[0].label(), migrations[1].label())
	}
}

func TestBuildWhere(t *testing.T) {
	t.Parallel()

	where, args, ok := buildWhere(domain.OrderFilter{Reference: "lwg-abc123", Status: domain.OrderStatusNew})
	if !ok {
		t.Fatal("expected filter to be usable")
	}
	if where != " WHERE lower(reference) = lower($1) AND status = $2" {
		t.Fatalf("unexpected where clause: %q", where)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}

	if _, _, ok := buildWhere(domain.OrderFilter{ID: "not-a-uuid"}); ok {
		t.Fatal("non-uuid id must short-circuit")
	}

	where, args, ok = buildWhere(domain.OrderFilter{})
	if !ok || where != "" || len(args) != 0 {
		t.Fatalf("empty filter: where=%q args=%v ok=%v", where, args, ok)
	}
}
