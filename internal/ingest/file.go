package ingest

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// File is an upload handed over by a front-end: declared metadata plus
// random access to the bytes.
type File interface {
	io.ReaderAt
	Name() string
	Size() int64
	Type() string
}

type bytesFile struct {
	*bytes.Reader
	name     string
	mimeType string
}

// NewBytesFile wraps an in-memory payload, e.g. a document downloaded from a
// chat platform.
func NewBytesFile(name, mimeType string, data []byte) File {
	return &bytesFile{Reader: bytes.NewReader(data), name: name, mimeType: mimeType}
}

func (f *bytesFile) Name() string { return f.name }
func (f *bytesFile) Type() string { return f.mimeType }

// Size reports the original length, not the unread remainder.
func (f *bytesFile) Size() int64 { return f.Reader.Size() }

// OSFile is a File backed by a file on disk.
type OSFile struct {
	f        *os.File
	name     string
	size     int64
	mimeType string
}

// OpenFile opens path for ingestion. An empty mimeType is inferred from the
// extension, then from the leading bytes.
func OpenFile(path, mimeType string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if mimeType == "" {
		mimeType = detectType(f, path)
	}

	return &OSFile{
		f:        f,
		name:     filepath.Base(path),
		size:     info.Size(),
		mimeType: mimeType,
	}, nil
}

func detectType(f *os.File, path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}

	head := make([]byte, 512)
	n, _ := f.ReadAt(head, 0)
	if n == 0 {
		return ""
	}
	return http.DetectContentType(head[:n])
}

func (f *OSFile) ReadAt(p []byte, off int64) (int, error) { return f.f.ReadAt(p, off) }
func (f *OSFile) Name() string                             { return f.name }
func (f *OSFile) Size() int64                              { return f.size }
func (f *OSFile) Type() string                             { return f.mimeType }
func (f *OSFile) Close() error                             { return f.f.Close() }
