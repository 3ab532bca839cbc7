package metadata

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// testStore creates a tracker-style database file with an issues table,
// seeds the given issue ids, and opens a metadata store on it.
func testStore(t *testing.T, issueIDs ...string) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "beads.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("failed to create tracker database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE issues (id TEXT PRIMARY KEY, title TEXT)`); err != nil {
		t.Fatalf("failed to create issues table: %v", err)
	}
	for _, id := range issueIDs {
		if _, err := db.Exec(`INSERT INTO issues (id, title) VALUES (?, ?)`, id, "t"); err != nil {
			t.Fatalf("failed to seed issue %s: %v", id, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close seed connection: %v", err)
	}

	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	if err == nil {
		t.Fatal("expected error opening store on missing tracker database")
	}
}

func TestGetOrCreateDefaults(t *testing.T) {
	store := testStore(t, "epic.1")
	ctx := context.Background()

	rec, err := store.GetOrCreate(ctx, "epic.1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if rec.FailureCount != 0 || rec.ExecutionCount != 0 {
		t.Errorf("expected zeroed counters, got failures=%d executions=%d", rec.FailureCount, rec.ExecutionCount)
	}
	if rec.LastFailureAt != nil || rec.LastSuccessAt != nil {
		t.Errorf("expected nil timestamps on a fresh record")
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store := testStore(t, "epic.1")
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "epic.1"); err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}

	three := 3
	if err := store.Apply(ctx, "epic.1", Update{FailureCount: &three}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// A second GetOrCreate must not reset counters.
	rec, err := store.GetOrCreate(ctx, "epic.1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if rec.FailureCount != 3 {
		t.Errorf("failure_count = %d, want 3 (create must not overwrite)", rec.FailureCount)
	}
}

func TestApplyPartialFields(t *testing.T) {
	store := testStore(t, "epic.2")
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "epic.2"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	one := 1
	if err := store.Apply(ctx, "epic.2", Update{FailureCount: &one, LastFailureAt: &now}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rec, err := store.GetOrCreate(ctx, "epic.2")
	if err != nil {
		t.Fatalf("GetOrCreate after update: %v", err)
	}
	if rec.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", rec.FailureCount)
	}
	if rec.LastFailureAt == nil {
		t.Fatal("last_failure_at not recorded")
	}
	if rec.LastSuccessAt != nil {
		t.Errorf("last_success_at should remain nil")
	}
	if rec.ExecutionCount != 0 {
		t.Errorf("execution_count should remain 0, got %d", rec.ExecutionCount)
	}
}

func TestApplyNoFieldsIsNoOp(t *testing.T) {
	store := testStore(t, "epic.3")
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "epic.3"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Apply(ctx, "epic.3", Update{}); err != nil {
		t.Errorf("empty update should be a no-op, got %v", err)
	}
}
