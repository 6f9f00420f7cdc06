package mediacache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("media not found")
	ErrInvalidEntry   = errors.New("invalid media entry")
	ErrBlocked        = errors.New("durable media store blocked")
	ErrVersionChanged = errors.New("durable media store version changed")
)

// Entry is a cached media payload. Payload holds a base64 data URL.
type Entry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MimeType       string    `json:"mime_type"`
	Payload        string    `json:"payload"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type Mode int

const (
	ModeUninitialized Mode = iota
	ModeDurable
	ModeMemoryOnly
)

func (m Mode) String() string {
	switch m {
	case ModeDurable:
		return "durable"
	case ModeMemoryOnly:
		return "memory"
	default:
		return "uninitialized"
	}
}

// Backend is the durable tier. Implementations report ErrNotFound for
// missing ids and ErrVersionChanged when the on-disk layout moved under
// an open handle.
type Backend interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// EvictBefore deletes entries last accessed before cutoff, skipping ids
	// for which keep returns true, and returns the deleted ids.
	EvictBefore(ctx context.Context, cutoff time.Time, keep func(id string) bool) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// Opener opens the durable tier. A nil Opener means no durable capability.
type Opener func(ctx context.Context) (Backend, error)

type Stats struct {
	Mode          Mode
	MemoryEntries int
}

// Reference points a message at a cached payload without owning it. The
// cache entry may be gone; resolving then reports a miss.
type Reference struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	CacheID  string `json:"cache_id"`
}
