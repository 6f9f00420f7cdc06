package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bowerhall/multiai/internal/mediacache"
)

// schemaVersion is kept in PRAGMA user_version. Another process bumping it
// invalidates open handles.
const schemaVersion = 1

const evictPageSize = 256

var ErrUnsupportedVersion = errors.New("unsupported media cache schema version")

const schema = `
CREATE TABLE IF NOT EXISTS media (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    last_accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_last_accessed ON media(last_accessed_at, id);
`

type Backend struct {
	db *sql.DB
}

var _ mediacache.Backend = (*Backend)(nil)

// Open opens (creating if needed) the media cache database at path.
func Open(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(err)
	}

	b := &Backend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, classify(err)
	}

	return b, nil
}

// Opener adapts Open for mediacache.Options.
func Opener(path string) mediacache.Opener {
	return func(ctx context.Context) (mediacache.Backend, error) {
		return Open(ctx, path)
	}
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
}

func (b *Backend) migrate(ctx context.Context) error {
	current, err := b.userVersion(ctx)
	if err != nil {
		return err
	}

	switch current {
	case 0:
		if _, err := b.db.ExecContext(ctx, schema); err != nil {
			return err
		}
		_, err = b.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		return err
	case schemaVersion:
		_, err = b.db.ExecContext(ctx, schema)
		return err
	default:
		return fmt.Errorf("%w: on disk %d, supported %d", ErrUnsupportedVersion, current, schemaVersion)
	}
}

func (b *Backend) userVersion(ctx context.Context) (int, error) {
	var v int
	err := b.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func (b *Backend) checkVersion(ctx context.Context) error {
	v, err := b.userVersion(ctx)
	if err != nil {
		return classify(err)
	}
	if v != schemaVersion {
		return fmt.Errorf("%w: now %d, opened at %d", mediacache.ErrVersionChanged, v, schemaVersion)
	}
	return nil
}

// classify maps lock contention to mediacache.ErrBlocked.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED) {
		return fmt.Errorf("%w: %v", mediacache.ErrBlocked, err)
	}
	return err
}

func (b *Backend) Put(ctx context.Context, e mediacache.Entry) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO media (id, name, mime_type, payload, last_accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mime_type = excluded.mime_type,
			payload = excluded.payload,
			last_accessed_at = excluded.last_accessed_at`,
		e.ID, e.Name, e.MimeType, e.Payload, e.LastAccessedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put media %s: %w", e.ID, classify(err))
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, id string) (mediacache.Entry, error) {
	if err := b.checkVersion(ctx); err != nil {
		return mediacache.Entry{}, err
	}

	var e mediacache.Entry
	var accessed int64
	err := b.db.QueryRowContext(ctx, `
		SELECT id, name, mime_type, payload, last_accessed_at
		FROM media WHERE id = ?`, id).Scan(&e.ID, &e.Name, &e.MimeType, &e.Payload, &accessed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mediacache.Entry{}, mediacache.ErrNotFound
		}
		return mediacache.Entry{}, fmt.Errorf("get media %s: %w", id, classify(err))
	}

	e.LastAccessedAt = time.UnixMilli(accessed)
	return e, nil
}

func (b *Backend) Touch(ctx context.Context, id string, at time.Time) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}

	res, err := b.db.ExecContext(ctx, `UPDATE media SET last_accessed_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch media %s: %w", id, classify(err))
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return mediacache.ErrNotFound
	}
	return nil
}

type evictCandidate struct {
	id       string
	accessed int64
}

// EvictBefore walks the last-access index in pages keyed on
// (last_accessed_at, id), deleting each page in one transaction.
func (b *Backend) EvictBefore(ctx context.Context, cutoff time.Time, keep func(id string) bool) ([]string, error) {
	if err := b.checkVersion(ctx); err != nil {
		return nil, err
	}

	var removed []string
	lastAccessed := int64(math.MinInt64)
	lastID := ""
	cutoffMs := cutoff.UnixMilli()

	for {
		page, err := b.evictPage(ctx, cutoffMs, lastAccessed, lastID)
		if err != nil {
			return removed, err
		}
		if len(page) == 0 {
			break
		}

		last := page[len(page)-1]
		lastAccessed, lastID = last.accessed, last.id

		var doomed []string
		for _, c := range page {
			if keep != nil && keep(c.id) {
				continue
			}
			doomed = append(doomed, c.id)
		}

		if err := b.deleteIDs(ctx, doomed); err != nil {
			return removed, err
		}
		removed = append(removed, doomed...)

		if len(page) < evictPageSize {
			break
		}
	}

	return removed, nil
}

func (b *Backend) evictPage(ctx context.Context, cutoffMs, afterAccessed int64, afterID string) ([]evictCandidate, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, last_accessed_at FROM media
		WHERE last_accessed_at < ?
		  AND (last_accessed_at > ? OR (last_accessed_at = ? AND id > ?))
		ORDER BY last_accessed_at, id
		LIMIT ?`,
		cutoffMs, afterAccessed, afterAccessed, afterID, evictPageSize)
	if err != nil {
		return nil, fmt.Errorf("scan media: %w", classify(err))
	}
	defer rows.Close()

	var page []evictCandidate
	for rows.Next() {
		var c evictCandidate
		if err := rows.Scan(&c.id, &c.accessed); err != nil {
			return nil, err
		}
		page = append(page, c)
	}

	return page, rows.Err()
}

func (b *Backend) deleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete media %s: %w", id, classify(err))
		}
	}

	return tx.Commit()
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}

	_, err := b.db.ExecContext(ctx, `DELETE FROM media`)
	return classify(err)
}

func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
