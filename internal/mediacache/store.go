package mediacache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bowerhall/multiai/internal/logger"
)

const (
	DefaultInitTimeout = 3 * time.Second
	touchTimeout       = 10 * time.Second
)

type Options struct {
	Opener      Opener
	InitTimeout time.Duration
	Now         func() time.Time
}

// Store is the two-tier media cache. Reads and writes always go through the
// memory tier; the durable tier is mirrored on a best-effort basis and is
// abandoned for the rest of the process once it fails to open.
type Store struct {
	opener      Opener
	initTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger

	mu      sync.Mutex
	mode    Mode
	backend Backend
	pending *initCall
	closed  bool

	memory *memoryTier
	tasks  sync.WaitGroup
}

type initCall struct {
	done chan struct{}
	mode Mode
}

func New(opts Options) *Store {
	timeout := opts.InitTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		opener:      opts.Opener,
		initTimeout: timeout,
		now:         now,
		log:         logger.With("component", "mediacache"),
		memory:      newMemoryTier(),
	}
}

// Initialize opens the durable tier once. Concurrent callers wait on the same
// attempt. If ctx ends first the caller proceeds as if memory-only; the
// attempt itself keeps running.
func (s *Store) Initialize(ctx context.Context) Mode {
	s.mu.Lock()
	if s.mode != ModeUninitialized {
		mode := s.mode
		s.mu.Unlock()
		return mode
	}

	call := s.pending
	if call == nil {
		call = &initCall{done: make(chan struct{})}
		s.pending = call
		go s.runInit(call)
	}
	s.mu.Unlock()

	select {
	case <-call.done:
		return call.mode
	case <-ctx.Done():
		return ModeUninitialized
	}
}

func (s *Store) runInit(call *initCall) {
	mode, backend := s.open()

	s.mu.Lock()
	if s.closed && backend != nil {
		backend.Close()
		mode, backend = ModeMemoryOnly, nil
	}
	s.mode = mode
	s.backend = backend
	s.pending = nil
	call.mode = mode
	s.mu.Unlock()

	close(call.done)
	s.log.Info("media cache initialized", "mode", mode)
}

func (s *Store) open() (Mode, Backend) {
	if s.opener == nil {
		s.log.Warn("no durable media store configured, using memory fallback")
		return ModeMemoryOnly, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.initTimeout)
	defer cancel()

	type result struct {
		backend Backend
		err     error
	}
	ch := make(chan result, 1)

	go func() {
		b, err := s.opener(ctx)
		ch <- result{backend: b, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, ErrBlocked) {
				s.log.Warn("durable media store blocked, using memory fallback", "error", r.err)
			} else {
				s.log.Error("durable media store open failed, using memory fallback", "error", r.err)
			}
			return ModeMemoryOnly, nil
		}
		return ModeDurable, r.backend
	case <-ctx.Done():
		s.log.Warn("durable media store open timed out, using memory fallback", "timeout", s.initTimeout)
		// the opener may still succeed; release whatever it returns
		go func() {
			if r := <-ch; r.backend != nil {
				r.backend.Close()
			}
		}()
		return ModeMemoryOnly, nil
	}
}

// durable initializes if needed and returns the active backend, or nil.
func (s *Store) durable(ctx context.Context) Backend {
	if s.Initialize(ctx) != ModeDurable {
		return nil
	}
	return s.current()
}

// current returns the active backend without waiting for initialization.
func (s *Store) current() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeDurable {
		return nil
	}
	return s.backend
}

// handleBackendErr absorbs a durable-tier failure. A version change drops
// the handle so the next call re-runs initialization.
func (s *Store) handleBackendErr(b Backend, op string, err error) {
	if !errors.Is(err, ErrVersionChanged) {
		s.log.Warn("durable media store operation failed", "op", op, "error", err)
		return
	}

	s.mu.Lock()
	reset := s.backend == b && s.mode == ModeDurable
	if reset {
		s.backend = nil
		s.mode = ModeUninitialized
	}
	s.mu.Unlock()

	if reset {
		b.Close()
		s.log.Warn("durable media store version changed, connection closed", "op", op)
	}
}

// Save writes to memory first, then mirrors to the durable tier. Durable
// failures are logged, never returned.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return ErrInvalidEntry
	}

	e.LastAccessedAt = s.now()
	s.memory.put(e)

	b := s.durable(ctx)
	if b == nil {
		s.log.Debug("media saved to memory", "id", e.ID)
		return nil
	}

	if err := b.Put(ctx, e); err != nil {
		s.handleBackendErr(b, "save", err)
		return nil
	}

	s.log.Debug("media saved", "id", e.ID, "name", e.Name, "bytes", len(e.Payload))
	return nil
}

// Get looks up id in memory, then in the durable tier. The second return is
// false when neither tier holds the entry.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool) {
	now := s.now()

	if e, ok := s.memory.touch(id, now); ok {
		if b := s.current(); b != nil {
			s.refreshAsync(b, id, now)
		}
		return e, true
	}

	// one retry after a version change re-opens the durable tier
	for attempt := 0; attempt < 2; attempt++ {
		b := s.durable(ctx)
		if b == nil {
			return Entry{}, false
		}

		e, err := b.Get(ctx, id)
		if err == nil {
			e.LastAccessedAt = now
			s.memory.put(e)
			s.refreshAsync(b, id, now)
			s.log.Debug("media loaded from durable store", "id", id)
			return e, true
		}

		if errors.Is(err, ErrNotFound) {
			s.log.Debug("media not found", "id", id)
			return Entry{}, false
		}

		s.handleBackendErr(b, "get", err)
		if !errors.Is(err, ErrVersionChanged) {
			return Entry{}, false
		}
	}

	return Entry{}, false
}

func (s *Store) refreshAsync(b Backend, id string, at time.Time) {
	// Add must not race the Wait in Close
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()

		if err := b.Touch(ctx, id, at); err != nil && !errors.Is(err, ErrNotFound) {
			s.handleBackendErr(b, "touch", err)
		}
	}()
}

// EvictOlderThan removes entries not accessed within maxAge from both tiers
// and returns how many distinct entries were removed.
func (s *Store) EvictOlderThan(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	removed := make(map[string]struct{})
	for _, id := range s.memory.evictBefore(cutoff) {
		removed[id] = struct{}{}
	}
	memoryRemoved := len(removed)

	if b := s.durable(ctx); b != nil {
		// anything still in memory was accessed after cutoff
		ids, err := b.EvictBefore(ctx, cutoff, s.memory.has)
		if err != nil {
			s.handleBackendErr(b, "evict", err)
		}
		for _, id := range ids {
			removed[id] = struct{}{}
		}
	}

	s.log.Info("old media evicted", "memory", memoryRemoved, "total", len(removed), "cutoff", cutoff)
	return len(removed)
}

// Clear drops every entry from both tiers.
func (s *Store) Clear(ctx context.Context) {
	s.memory.clear()

	if b := s.durable(ctx); b != nil {
		if err := b.Clear(ctx); err != nil {
			s.handleBackendErr(b, "clear", err)
		}
	}
}

// Available reports whether the cache can serve requests. The memory tier
// makes this always true.
func (s *Store) Available(ctx context.Context) bool {
	s.Initialize(ctx)
	return true
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	return Stats{Mode: mode, MemoryEntries: s.memory.len()}
}

// Close waits for pending timestamp refreshes and releases the durable tier.
// The store stays usable in memory-only mode afterwards.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	b := s.backend
	s.backend = nil
	s.mode = ModeMemoryOnly
	s.mu.Unlock()

	if b != nil {
		return b.Close()
	}
	return nil
}
