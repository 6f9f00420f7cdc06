package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bowerhall/multiai/internal/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid signup details")
)

const (
	DemoEmail    = "demo@multiAI.com"
	DemoPassword = "password123"
	demoName     = "Demo User"
)

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Provider checks credentials. Logout is a session concern and lives with
// the session registry.
type Provider interface {
	Login(ctx context.Context, email, password string) (*User, error)
	Signup(ctx context.Context, name, email, password string) (*User, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE COLLATE NOCASE,
    password_hash BLOB NOT NULL,
    created_at TEXT NOT NULL
);
`

// Store is the local account list, seeded with the demo user.
type Store struct {
	db *sql.DB
}

var _ Provider = (*Store)(nil)

func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create users table: %w", err)
	}

	if err := s.seed(ctx); err != nil {
		return nil, fmt.Errorf("seed demo user: %w", err)
	}

	return s, nil
}

func (s *Store) seed(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, DemoEmail).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err := s.insert(ctx, demoName, DemoEmail, DemoPassword)
	return err
}

func (s *Store) insert(ctx context.Context, name, email, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		name, email, hash, now.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &User{ID: strconv.FormatInt(id, 10), Name: name, Email: email, CreatedAt: now}, nil
}

func (s *Store) Login(ctx context.Context, email, password string) (*User, error) {
	var (
		u       User
		id      int64
		hash    []byte
		created string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`,
		strings.TrimSpace(email)).Scan(&id, &u.Name, &u.Email, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := VerifyPassword(password, hash); err != nil {
		logger.Debug("login rejected", "email", email)
		return nil, err
	}

	u.ID = strconv.FormatInt(id, 10)
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

func (s *Store) Signup(ctx context.Context, name, email, password string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: %s is not an email address", ErrInvalidInput, email)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}

	u, err := s.insert(ctx, name, email, password)
	if err != nil {
		return nil, err
	}

	logger.Info("user registered", "id", u.ID)
	return u, nil
}
