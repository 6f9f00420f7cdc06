package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestDemoUserLogin(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Login(context.Background(), DemoEmail, DemoPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if u.Name != "Demo User" || u.ID == "" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestLoginRejects(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", DemoEmail, "nope"},
		{"unknown email", "ghost@multiAI.com", DemoPassword},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Login(context.Background(), tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestSignupThenLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.Signup(ctx, "Ada", "ada@example.com", "lovelace")
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	got, err := s.Login(ctx, "ada@example.com", "lovelace")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("login id = %s, signup id = %s", got.ID, u.ID)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Signup(context.Background(), "Other", "DEMO@multiai.com", "secret1"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name, user, email, password string
	}{
		{"no name", "", "a@b.com", "secret1"},
		{"bad email", "A", "not-an-email", "secret1"},
		{"short password", "A", "a@b.com", "123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Signup(context.Background(), tt.user, tt.email, tt.password); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := NewStore(ctx, db); err != nil {
			t.Fatalf("NewStore #%d failed: %v", i, err)
		}
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	if n != 1 {
		t.Errorf("expected 1 seeded user, got %d", n)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if err := VerifyPassword("hunter22", hash); err != nil {
		t.Errorf("expected match: %v", err)
	}
	if err := VerifyPassword("hunter23", hash); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected mismatch, got %v", err)
	}
}
