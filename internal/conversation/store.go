package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("no conversation snapshot")

// Store keeps one serialized conversation set per user. The payload is
// opaque here; the chat layer owns its shape.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
    user_id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// NewStore creates the snapshot store using the provided database connection
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Save(ctx context.Context, userID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_snapshots (user_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		userID, string(payload), s.now().UTC().Format(time.RFC3339))
	return err
}

// Load returns the stored payload or ErrNotFound.
func (s *Store) Load(ctx context.Context, userID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM conversation_snapshots WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// UpdatedAt reports when the user's snapshot was last written.
func (s *Store) UpdatedAt(ctx context.Context, userID string) (time.Time, error) {
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM conversation_snapshots WHERE user_id = ?`, userID).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, updated)
}

func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_snapshots WHERE user_id = ?`, userID)
	return err
}
