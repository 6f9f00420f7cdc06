package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bowerhall/multiai/internal/alerts"
	"github.com/bowerhall/multiai/internal/logger"
	"github.com/bowerhall/multiai/internal/mediacache"
)

const (
	// HardMaxFiles caps a single upload regardless of configuration.
	HardMaxFiles = 10

	batchThreshold = 3
	batchSize      = 3
)

var (
	ErrTooManyFiles    = errors.New("too many files")
	ErrBatchTooLarge   = errors.New("upload too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrCacheWrite      = errors.New("media cache write failed")
)

var supportedPrefixes = []string{"image/", "video/", "audio/", "application/"}

// Cache is the part of the media cache the pipeline writes to.
type Cache interface {
	Save(ctx context.Context, e mediacache.Entry) error
}

type Limits struct {
	MaxTotalBytes int64
	MaxFileBytes  int64
	MaxFileCount  int
}

type Config struct {
	Limits    Limits
	ChunkSize int
	Batching  bool
}

// FileIssue records why one file of an upload was skipped.
type FileIssue struct {
	Name string
	Err  error
}

type Result struct {
	References []mediacache.Reference
	Issues     []FileIssue

	// NoValidAttachments is set when files were given but none survived.
	NoValidAttachments bool
}

type Pipeline struct {
	cache     Cache
	limits    Limits
	chunkSize int
	batching  bool
	alerts    *alerts.Alerter
	log       *slog.Logger
}

func New(cache Cache, cfg Config) *Pipeline {
	limits := cfg.Limits
	if limits.MaxFileCount <= 0 || limits.MaxFileCount > HardMaxFiles {
		limits.MaxFileCount = HardMaxFiles
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	return &Pipeline{
		cache:     cache,
		limits:    limits,
		chunkSize: chunk,
		batching:  cfg.Batching,
		log:       logger.With("component", "ingest"),
	}
}

// WithAlerter returns a copy of p that reports notices to a.
func (p *Pipeline) WithAlerter(a *alerts.Alerter) *Pipeline {
	cp := *p
	cp.alerts = a
	return &cp
}

func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Ingest validates files as a group, then reads and caches each accepted file
// in order. Group violations return an error before anything is written;
// per-file problems land in Result.Issues.
func (p *Pipeline) Ingest(ctx context.Context, files []File) (*Result, error) {
	res := &Result{}
	if len(files) == 0 {
		return res, nil
	}

	if err := p.validate(files); err != nil {
		return nil, err
	}

	var accepted []File
	for _, f := range files {
		if !supportedType(f.Type()) {
			p.alerts.Warn("Unsupported file type", fmt.Sprintf("%s (%s)", f.Name(), f.Type()))
			res.Issues = append(res.Issues, FileIssue{Name: f.Name(), Err: ErrUnsupportedType})
			continue
		}
		accepted = append(accepted, f)
	}

	if p.batching && len(accepted) > batchThreshold {
		p.alerts.Info("Optimizing large upload", fmt.Sprintf("Processing %d files in batches", len(accepted)))
		p.runBatches(ctx, accepted, res)
	} else {
		for _, f := range accepted {
			p.collect(ctx, f, res)
		}
	}

	if len(res.References) == 0 {
		res.NoValidAttachments = true
		p.alerts.Report(alerts.SeverityWarn, "No valid attachments", "Sending message without attachments")
	}

	p.log.Info("upload ingested", "files", len(files), "cached", len(res.References), "issues", len(res.Issues))
	return res, nil
}

func (p *Pipeline) validate(files []File) error {
	if len(files) > p.limits.MaxFileCount {
		p.alerts.Report(alerts.SeverityError, "Too many files", fmt.Sprintf("Maximum %d files allowed", p.limits.MaxFileCount))
		return fmt.Errorf("%w: %d files, maximum %d", ErrTooManyFiles, len(files), p.limits.MaxFileCount)
	}

	if p.limits.MaxTotalBytes > 0 {
		var total int64
		for _, f := range files {
			total += f.Size()
		}
		if total > p.limits.MaxTotalBytes {
			p.alerts.Report(alerts.SeverityError, "Upload too large", fmt.Sprintf("Total size %s exceeds %s", formatBytes(total), formatBytes(p.limits.MaxTotalBytes)))
			return fmt.Errorf("%w: %d bytes, maximum %d", ErrBatchTooLarge, total, p.limits.MaxTotalBytes)
		}
	}

	return nil
}

// runBatches feeds batches to a single worker so no two batches overlap and
// results arrive in submission order.
func (p *Pipeline) runBatches(ctx context.Context, files []File, res *Result) {
	jobs := make(chan []File)
	results := make(chan *Result)

	go func() {
		defer close(results)
		for batch := range jobs {
			partial := &Result{}
			for _, f := range batch {
				p.collect(ctx, f, partial)
			}
			results <- partial
		}
	}()

	go func() {
		defer close(jobs)
		for start := 0; start < len(files); start += batchSize {
			jobs <- files[start:min(start+batchSize, len(files))]
		}
	}()

	for partial := range results {
		res.References = append(res.References, partial.References...)
		res.Issues = append(res.Issues, partial.Issues...)
	}
}

func (p *Pipeline) collect(ctx context.Context, f File, res *Result) {
	ref, err := p.process(ctx, f)
	if err != nil {
		p.log.Warn("file skipped", "name", f.Name(), "error", err)
		p.alerts.Error("Failed to process file", f.Name())
		res.Issues = append(res.Issues, FileIssue{Name: f.Name(), Err: err})
		return
	}
	res.References = append(res.References, ref)
}

func (p *Pipeline) process(ctx context.Context, f File) (mediacache.Reference, error) {
	if p.limits.MaxFileBytes > 0 && f.Size() > p.limits.MaxFileBytes {
		return mediacache.Reference{}, fmt.Errorf("%w: %s (%s)", ErrFileTooLarge, f.Name(), formatBytes(f.Size()))
	}

	payload, err := ReadDataURL(ctx, f, p.chunkSize, nil)
	if err != nil {
		return mediacache.Reference{}, err
	}

	cacheID := uuid.NewString()
	entry := mediacache.Entry{
		ID:       cacheID,
		Name:     f.Name(),
		MimeType: f.Type(),
		Payload:  payload,
	}
	if err := p.cache.Save(ctx, entry); err != nil {
		return mediacache.Reference{}, fmt.Errorf("%w: %s: %v", ErrCacheWrite, f.Name(), err)
	}

	return mediacache.Reference{
		ID:       uuid.NewString(),
		Name:     f.Name(),
		MimeType: f.Type(),
		CacheID:  cacheID,
	}, nil
}

func supportedType(t string) bool {
	for _, prefix := range supportedPrefixes {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

func formatBytes(n int64) string {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2fGB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.1fMB", float64(n)/mib)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
