package digitaltwin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ruifelixpereira/freyja/internal/infrastructure/config"
	"github.com/ruifelixpereira/freyja/internal/infrastructure/database"
	"github.com/ruifelixpereira/freyja/internal/signal"
	"github.com/ruifelixpereira/freyja/migrations"
)

func cabinTemp() signal.Entity {
	return signal.Entity{
		ID:        "cabin-temp",
		Name:      "Cabin temperature",
		URI:       "http://provider.local",
		Protocol:  "http",
		Operation: signal.OperationSubscribe,
	}
}

// ============================================================================
// InMemoryAdapter
// ============================================================================

func TestInMemoryAdapter_FindByID(t *testing.T) {
	a, err := NewInMemoryAdapter([]signal.Entity{cabinTemp()})
	if err != nil {
		t.Fatalf("NewInMemoryAdapter() error = %v", err)
	}
	ctx := context.Background()

	got, err := a.FindByID(ctx, "cabin-temp")
	if err != nil || got != cabinTemp() {
		t.Errorf("FindByID() = %+v, %v", got, err)
	}
	if _, err := a.FindByID(ctx, "ghost"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("FindByID(ghost) error = %v, want ErrEntityNotFound", err)
	}

	moved := cabinTemp()
	moved.URI = "http://other.local"
	if err := a.Put(moved); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got, _ := a.FindByID(ctx, "cabin-temp"); got.URI != "http://other.local" {
		t.Errorf("Put() did not replace, URI = %q", got.URI)
	}
}

func TestNewInMemoryAdapter_Rejects(t *testing.T) {
	invalid := cabinTemp()
	invalid.URI = ""

	tests := []struct {
		name     string
		entities []signal.Entity
	}{
		{"invalid entity", []signal.Entity{invalid}},
		{"duplicate id", []signal.Entity{cabinTemp(), cabinTemp()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewInMemoryAdapter(tt.entities); err == nil {
				t.Error("NewInMemoryAdapter() succeeded")
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig([]config.EntityConfig{{
		ID: "door", URI: "mqtt://b", Protocol: "mqtt", Operation: "Get", Description: "front left",
	}})
	want := signal.Entity{ID: "door", URI: "mqtt://b", Protocol: "mqtt", Operation: "Get", Description: "front left"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("FromConfig() = %+v, want [%+v]", got, want)
	}

	a, _ := NewInMemoryAdapter(got)
	if ids := a.IDs(); len(ids) != 1 || ids[0] != "door" {
		t.Errorf("IDs() = %v", ids)
	}
}

// ============================================================================
// SQLiteAdapter
// ============================================================================

func newSQLiteAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "twin.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteAdapter(db)
}

func TestSQLiteAdapter_RoundTrip(t *testing.T) {
	a := newSQLiteAdapter(t)
	ctx := context.Background()

	if _, err := a.FindByID(ctx, "cabin-temp"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("FindByID() on empty table error = %v, want ErrEntityNotFound", err)
	}

	if err := a.Upsert(ctx, cabinTemp()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := a.FindByID(ctx, "cabin-temp")
	if err != nil || got != cabinTemp() {
		t.Errorf("FindByID() = %+v, %v, want %+v", got, err, cabinTemp())
	}

	updated := cabinTemp()
	updated.Operation = signal.OperationGet
	if err := a.Upsert(ctx, updated); err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}
	if got, _ := a.FindByID(ctx, "cabin-temp"); got.Operation != signal.OperationGet {
		t.Errorf("Operation = %q after update, want Get", got.Operation)
	}

	if err := a.Delete(ctx, "cabin-temp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := a.FindByID(ctx, "cabin-temp"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("FindByID() after Delete error = %v", err)
	}
}

func TestSQLiteAdapter_UpsertValidates(t *testing.T) {
	a := newSQLiteAdapter(t)
	bad := cabinTemp()
	bad.Protocol = ""

	err := a.Upsert(context.Background(), cabinTemp(), bad)
	if !errors.Is(err, signal.ErrInvalidEntity) {
		t.Fatalf("Upsert() error = %v, want ErrInvalidEntity", err)
	}
	if _, err := a.FindByID(context.Background(), "cabin-temp"); !errors.Is(err, ErrEntityNotFound) {
		t.Error("a rejected batch was partially written")
	}
}

var _ Adapter = (*InMemoryAdapter)(nil)
var _ Adapter = (*SQLiteAdapter)(nil)
