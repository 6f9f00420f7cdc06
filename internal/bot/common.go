package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// stopWords are natural language commands that cancel the current operation.
// Keep this list minimal to avoid false positives.
var stopWords = []string{"stop", "cancel", "abort", "nevermind", "never mind", "quit", "halt"}

// isStopCommand checks if the message is a request to stop the current operation.
func isStopCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, word := range stopWords {
		if lower == word {
			return true
		}
	}
	return false
}

// maxMediaSize is the maximum size for downloaded attachments (20MB).
const maxMediaSize = 20 * 1024 * 1024

var downloadClient = &http.Client{Timeout: 60 * time.Second}

// download fetches an attachment, refusing bodies over maxMediaSize.
func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMediaSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxMediaSize)
	}

	return data, nil
}

// mimeOrSniff keeps a declared type and falls back to content sniffing.
func mimeOrSniff(declared string, data []byte) string {
	if declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}

	return string(r[:max]) + "..."
}
