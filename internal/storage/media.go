package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bowerhall/multiai/internal/mediacache"
)

const (
	schemaVersion = 1
	versionKey    = "schema-version"
	mediaPrefix   = "media/"

	metaName         = "name"
	metaMimeType     = "mime-type"
	metaLastAccessed = "last-accessed"
)

var ErrUnsupportedVersion = errors.New("unsupported media bucket layout version")

// objectStore is the slice of Client the media backend needs.
type objectStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string, meta map[string]string) error
	Download(ctx context.Context, name string) ([]byte, FileInfo, error)
	Stat(ctx context.Context, name string) (FileInfo, error)
	ReplaceMetadata(ctx context.Context, name string, meta map[string]string) error
	Walk(ctx context.Context, prefix string, fn func(FileInfo) error) error
	Delete(ctx context.Context, name string) error
}

// MediaBackend keeps media cache entries as objects under media/<id>, with
// name, type and last access in user metadata.
type MediaBackend struct {
	objects objectStore
}

var _ mediacache.Backend = (*MediaBackend)(nil)

// OpenMedia connects to MinIO, ensures the bucket exists and checks the
// layout version.
func OpenMedia(ctx context.Context, cfg Config) (*MediaBackend, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	return newMediaBackend(ctx, c)
}

// MediaOpener adapts OpenMedia for mediacache.Options.
func MediaOpener(cfg Config) mediacache.Opener {
	return func(ctx context.Context) (mediacache.Backend, error) {
		return OpenMedia(ctx, cfg)
	}
}

func newMediaBackend(ctx context.Context, objects objectStore) (*MediaBackend, error) {
	b := &MediaBackend{objects: objects}

	v, err := b.version(ctx)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		body := []byte(strconv.Itoa(schemaVersion))
		if err := objects.Upload(ctx, versionKey, body, "text/plain", nil); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case v != schemaVersion:
		return nil, fmt.Errorf("%w: bucket %d, supported %d", ErrUnsupportedVersion, v, schemaVersion)
	}

	return b, nil
}

func (b *MediaBackend) version(ctx context.Context) (int, error) {
	data, _, err := b.objects.Download(ctx, versionKey)
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", versionKey, err)
	}
	return v, nil
}

func (b *MediaBackend) checkVersion(ctx context.Context) error {
	v, err := b.version(ctx)
	if errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("%w: %s removed", mediacache.ErrVersionChanged, versionKey)
	}
	if err != nil {
		return err
	}
	if v != schemaVersion {
		return fmt.Errorf("%w: now %d, opened at %d", mediacache.ErrVersionChanged, v, schemaVersion)
	}
	return nil
}

func mediaKey(id string) string {
	return mediaPrefix + id
}

func encodeMetadata(e mediacache.Entry) map[string]string {
	return map[string]string{
		metaName:         url.QueryEscape(e.Name),
		metaMimeType:     e.MimeType,
		metaLastAccessed: strconv.FormatInt(e.LastAccessedAt.UnixMilli(), 10),
	}
}

func decodeEntry(id string, payload []byte, info FileInfo) mediacache.Entry {
	e := mediacache.Entry{
		ID:       id,
		MimeType: info.Metadata[metaMimeType],
		Payload:  string(payload),
	}

	if name, err := url.QueryUnescape(info.Metadata[metaName]); err == nil {
		e.Name = name
	} else {
		e.Name = info.Metadata[metaName]
	}

	e.LastAccessedAt = lastAccessed(info)
	return e
}

// lastAccessed falls back to the object's modification time when the
// metadata is missing or unreadable.
func lastAccessed(info FileInfo) time.Time {
	if ms, err := strconv.ParseInt(info.Metadata[metaLastAccessed], 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return info.ModTime
}

func (b *MediaBackend) Put(ctx context.Context, e mediacache.Entry) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}
	return b.objects.Upload(ctx, mediaKey(e.ID), []byte(e.Payload), "text/plain", encodeMetadata(e))
}

func (b *MediaBackend) Get(ctx context.Context, id string) (mediacache.Entry, error) {
	if err := b.checkVersion(ctx); err != nil {
		return mediacache.Entry{}, err
	}

	data, info, err := b.objects.Download(ctx, mediaKey(id))
	if errors.Is(err, ErrObjectNotFound) {
		return mediacache.Entry{}, mediacache.ErrNotFound
	}
	if err != nil {
		return mediacache.Entry{}, err
	}

	return decodeEntry(id, data, info), nil
}

func (b *MediaBackend) Touch(ctx context.Context, id string, at time.Time) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}

	info, err := b.objects.Stat(ctx, mediaKey(id))
	if errors.Is(err, ErrObjectNotFound) {
		return mediacache.ErrNotFound
	}
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(info.Metadata))
	for k, v := range info.Metadata {
		meta[k] = v
	}
	meta[metaLastAccessed] = strconv.FormatInt(at.UnixMilli(), 10)

	return b.objects.ReplaceMetadata(ctx, mediaKey(id), meta)
}

// EvictBefore streams the media listing and deletes stale objects as it
// goes.
func (b *MediaBackend) EvictBefore(ctx context.Context, cutoff time.Time, keep func(id string) bool) ([]string, error) {
	if err := b.checkVersion(ctx); err != nil {
		return nil, err
	}

	var removed []string
	err := b.objects.Walk(ctx, mediaPrefix, func(info FileInfo) error {
		id := strings.TrimPrefix(info.Name, mediaPrefix)
		if id == "" || !lastAccessed(info).Before(cutoff) {
			return nil
		}
		if keep != nil && keep(id) {
			return nil
		}

		if err := b.objects.Delete(ctx, info.Name); err != nil {
			return err
		}
		removed = append(removed, id)
		return nil
	})

	return removed, err
}

func (b *MediaBackend) Clear(ctx context.Context) error {
	if err := b.checkVersion(ctx); err != nil {
		return err
	}

	return b.objects.Walk(ctx, mediaPrefix, func(info FileInfo) error {
		return b.objects.Delete(ctx, info.Name)
	})
}

// Close is a no-op; the MinIO client holds no long-lived connection.
func (b *MediaBackend) Close() error {
	return nil
}
