package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bowerhall/multiai/internal/mediacache"
)

type fakeObject struct {
	data    []byte
	meta    map[string]string
	modTime time.Time
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	copies  int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]fakeObject)}
}

func (f *fakeObjects) Upload(ctx context.Context, name string, data []byte, contentType string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = fakeObject{data: append([]byte(nil), data...), meta: normalizeMetadata(meta), modTime: time.Now()}
	return nil
}

func (f *fakeObjects) Download(ctx context.Context, name string) ([]byte, FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[name]
	if !ok {
		return nil, FileInfo{}, ErrObjectNotFound
	}
	return o.data, f.info(name, o), nil
}

func (f *fakeObjects) Stat(ctx context.Context, name string) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[name]
	if !ok {
		return FileInfo{}, ErrObjectNotFound
	}
	return f.info(name, o), nil
}

func (f *fakeObjects) ReplaceMetadata(ctx context.Context, name string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[name]
	if !ok {
		return ErrObjectNotFound
	}
	o.meta = normalizeMetadata(meta)
	f.objects[name] = o
	f.copies++
	return nil
}

func (f *fakeObjects) Walk(ctx context.Context, prefix string, fn func(FileInfo) error) error {
	f.mu.Lock()
	var infos []FileInfo
	for name, o := range f.objects {
		if strings.HasPrefix(name, prefix) {
			infos = append(infos, f.info(name, o))
		}
	}
	f.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeObjects) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func (f *fakeObjects) info(name string, o fakeObject) FileInfo {
	meta := make(map[string]string, len(o.meta))
	for k, v := range o.meta {
		meta[k] = v
	}
	return FileInfo{Name: name, Size: int64(len(o.data)), ModTime: o.modTime, Metadata: meta}
}

func (f *fakeObjects) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok
}

func TestNewMediaBackendWritesVersion(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()

	if _, err := newMediaBackend(ctx, objects); err != nil {
		t.Fatalf("newMediaBackend: %v", err)
	}

	data, _, err := objects.Download(ctx, versionKey)
	if err != nil {
		t.Fatalf("version object missing: %v", err)
	}
	if string(data) != "1" {
		t.Errorf("version = %q, want 1", data)
	}
}

func TestNewMediaBackendRejectsNewerLayout(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	objects.Upload(ctx, versionKey, []byte("2"), "text/plain", nil)

	_, err := newMediaBackend(ctx, objects)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestMediaBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b, err := newMediaBackend(ctx, objects)
	if err != nil {
		t.Fatalf("newMediaBackend: %v", err)
	}

	at := time.UnixMilli(1_700_000_000_000)
	in := mediacache.Entry{
		ID:             "abc",
		Name:           "résumé final.pdf",
		MimeType:       "application/pdf",
		Payload:        "data:application/pdf;base64,AAAA",
		LastAccessedAt: at,
	}
	if err := b.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !objects.has("media/abc") {
		t.Fatal("expected object under media/abc")
	}

	got, err := b.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != in.Name || got.MimeType != in.MimeType || got.Payload != in.Payload {
		t.Errorf("got %+v, want %+v", got, in)
	}
	if !got.LastAccessedAt.Equal(at) {
		t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, at)
	}

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, mediacache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMediaBackendTouch(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b, _ := newMediaBackend(ctx, objects)

	b.Put(ctx, mediacache.Entry{ID: "a", Name: "a.png", MimeType: "image/png", Payload: "x", LastAccessedAt: time.UnixMilli(1000)})

	later := time.UnixMilli(5000)
	if err := b.Touch(ctx, "a", later); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if objects.copies != 1 {
		t.Errorf("copies = %d, want 1", objects.copies)
	}

	got, _ := b.Get(ctx, "a")
	if !got.LastAccessedAt.Equal(later) {
		t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, later)
	}
	if got.Name != "a.png" || got.MimeType != "image/png" {
		t.Errorf("metadata lost on touch: %+v", got)
	}

	if err := b.Touch(ctx, "missing", later); !errors.Is(err, mediacache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMediaBackendEvictBefore(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b, _ := newMediaBackend(ctx, objects)

	entries := map[string]int64{"old": 1000, "kept": 1500, "fresh": 9000}
	for id, ms := range entries {
		b.Put(ctx, mediacache.Entry{ID: id, Name: id, MimeType: "text/plain", Payload: id, LastAccessedAt: time.UnixMilli(ms)})
	}

	keep := func(id string) bool { return id == "kept" }
	removed, err := b.EvictBefore(ctx, time.UnixMilli(5000), keep)
	if err != nil {
		t.Fatalf("EvictBefore: %v", err)
	}

	if len(removed) != 1 || removed[0] != "old" {
		t.Errorf("removed = %v, want [old]", removed)
	}
	if objects.has("media/old") {
		t.Error("old should be deleted")
	}
	for _, id := range []string{"kept", "fresh"} {
		if !objects.has("media/" + id) {
			t.Errorf("%s should survive", id)
		}
	}
	if !objects.has(versionKey) {
		t.Error("version object must not be evicted")
	}
}

func TestMediaBackendClear(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b, _ := newMediaBackend(ctx, objects)

	b.Put(ctx, mediacache.Entry{ID: "a", Payload: "x", LastAccessedAt: time.Now()})
	b.Put(ctx, mediacache.Entry{ID: "b", Payload: "y", LastAccessedAt: time.Now()})

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if objects.has("media/a") || objects.has("media/b") {
		t.Error("media objects should be gone")
	}
	if !objects.has(versionKey) {
		t.Error("version object must survive Clear")
	}
}

func TestMediaBackendVersionChanged(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b, _ := newMediaBackend(ctx, objects)

	objects.Upload(ctx, versionKey, []byte("2"), "text/plain", nil)

	if err := b.Put(ctx, mediacache.Entry{ID: "a", Payload: "x"}); !errors.Is(err, mediacache.ErrVersionChanged) {
		t.Errorf("Put: expected ErrVersionChanged, got %v", err)
	}

	objects.Delete(ctx, versionKey)
	if _, err := b.Get(ctx, "a"); !errors.Is(err, mediacache.ErrVersionChanged) {
		t.Errorf("Get: expected ErrVersionChanged, got %v", err)
	}
}

func TestLastAccessedFallsBackToModTime(t *testing.T) {
	mod := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		meta map[string]string
		want time.Time
	}{
		{"metadata", map[string]string{metaLastAccessed: "2000"}, time.UnixMilli(2000)},
		{"missing", map[string]string{}, mod},
		{"garbage", map[string]string{metaLastAccessed: "soon"}, mod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lastAccessed(FileInfo{ModTime: mod, Metadata: tt.meta})
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMetadata(t *testing.T) {
	got := normalizeMetadata(map[string]string{
		"X-Amz-Meta-Last-Accessed": "1",
		"Mime-Type":                "image/png",
	})

	if got[metaLastAccessed] != "1" {
		t.Errorf("last-accessed = %q", got[metaLastAccessed])
	}
	if got[metaMimeType] != "image/png" {
		t.Errorf("mime-type = %q", got[metaMimeType])
	}
}

func TestOpenMediaUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := OpenMedia(ctx, Config{Endpoint: "127.0.0.1:1", AccessKey: "k", SecretKey: "s"})
	if err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}
