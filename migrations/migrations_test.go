package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups[strings.TrimSuffix(n, ".up.sql")] = true
		case strings.HasSuffix(n, ".down.sql"):
			downs[strings.TrimSuffix(n, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", n)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected at least one migration")
	}
	for v := range ups {
		if !downs[v] {
			t.Fatalf("migration %s has no down file", v)
		}
	}
}

func TestInitCreatesQueriedTables(t *testing.T) {
	body, err := fs.ReadFile(FS, "0001_init.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"patients", "practitioners", "appointments", "compliance_audit_events", "escalations", "processed_events"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
}

func TestRoomOverlapConstraint(t *testing.T) {
	body, err := fs.ReadFile(FS, "0002_room_overlap.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{"btree_gist", "EXCLUDE USING gist", "room_id WITH =", "WITH &&"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("room overlap migration missing %q", want)
		}
	}
}
