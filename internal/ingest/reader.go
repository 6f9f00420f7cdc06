package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// DefaultChunkSize bounds how much of a file is held in a read buffer.
const DefaultChunkSize = 5 * 1024 * 1024

var ErrRead = errors.New("file read failed")

// ProgressFunc is called after each chunk with the bytes read so far.
type ProgressFunc func(read, total int64)

// ReadDataURL reads f in slices of at most chunkSize bytes and returns it as a
// base64 data URL. Slices are fed through one streaming encoder, so chunk
// sizes need not be multiples of three. Any slice error discards the partial
// payload.
func ReadDataURL(ctx context.Context, f File, chunkSize int, progress ProgressFunc) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	size := f.Size()
	if size < 0 {
		return "", fmt.Errorf("%w: %s: negative size %d", ErrRead, f.Name(), size)
	}

	prefix := "data:" + f.Type() + ";base64,"

	var out strings.Builder
	out.Grow(len(prefix) + base64.StdEncoding.EncodedLen(int(size)))
	out.WriteString(prefix)

	enc := base64.NewEncoder(base64.StdEncoding, &out)
	buf := make([]byte, min(int64(chunkSize), size))

	for offset := int64(0); offset < size; {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name(), err)
		}

		n := min(int64(chunkSize), size-offset)
		section := io.NewSectionReader(f, offset, n)
		if _, err := io.ReadFull(section, buf[:n]); err != nil {
			return "", fmt.Errorf("%w: %s at offset %d: %v", ErrRead, f.Name(), offset, err)
		}

		enc.Write(buf[:n])
		offset += n

		if progress != nil {
			progress(offset, size)
		}

		runtime.Gosched()
	}

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRead, f.Name(), err)
	}

	return out.String(), nil
}
