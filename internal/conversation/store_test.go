package conversation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Save(ctx, "user-1", []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	got, err := store.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if string(got) != `[{"id":"a"}]` {
		t.Errorf("payload = %s", got)
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	store.Save(ctx, "user-1", []byte(`[1]`))
	store.Save(ctx, "user-1", []byte(`[2]`))

	got, _ := store.Load(ctx, "user-1")
	if string(got) != `[2]` {
		t.Errorf("expected latest payload, got %s", got)
	}
}

func TestStoreIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	store.Save(ctx, "user-1", []byte(`[1]`))

	if _, err := store.Load(ctx, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	store.Save(ctx, "user-1", []byte(`[1]`))
	if err := store.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	if _, err := store.Load(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestStoreUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	store.Save(ctx, "user-1", []byte(`[]`))

	got, err := store.UpdatedAt(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to read updated_at: %v", err)
	}
	if !got.Equal(fixed) {
		t.Errorf("updated_at = %v, want %v", got, fixed)
	}
}
