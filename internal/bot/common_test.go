package bot

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bowerhall/multiai/internal/oracle"
)

func TestIsStopCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"stop", true},
		{"  Cancel ", true},
		{"never mind", true},
		{"stop the music", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isStopCommand(tt.text); got != tt.want {
			t.Errorf("isStopCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("payload"))
		case "/big":
			w.Write(bytes.Repeat([]byte("x"), maxMediaSize+1))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	data, err := download(ctx, srv.URL+"/ok")
	if err != nil || string(data) != "payload" {
		t.Fatalf("download = %q, %v", data, err)
	}

	if _, err := download(ctx, srv.URL+"/big"); err == nil {
		t.Error("expected size error")
	}

	if _, err := download(ctx, srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected HTTP 404 error, got %v", err)
	}
}

func TestMimeOrSniff(t *testing.T) {
	if got := mimeOrSniff("audio/ogg", nil); got != "audio/ogg" {
		t.Errorf("got %q", got)
	}
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if got := mimeOrSniff("", png); got != "image/png" {
		t.Errorf("got %q", got)
	}
}

func TestConsoleSession(t *testing.T) {
	h := newHarness(t, oracleFunc(echo), RouterConfig{})

	in := strings.NewReader("/login demo@multiAI.com password123\nhi console\n/exit\nnever read\n")
	var out bytes.Buffer

	if err := NewConsole(h.router, in, &out).Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Welcome, Demo User", "[ChatGPT] echo: hi console"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "never read") {
		t.Error("input after /exit should be ignored")
	}
}

func TestConsoleStopReachesInflightTurn(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := oracleFunc(func(ctx context.Context, _ oracle.Request) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	})

	h := newHarness(t, blocking, RouterConfig{})

	pr, pw := io.Pipe()
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- NewConsole(h.router, pr, &out).Start(context.Background())
	}()

	io.WriteString(pw, "/login demo@multiAI.com password123\nthink hard\n")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("oracle never called")
	}

	io.WriteString(pw, "stop\n/exit\n")
	pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("console did not exit")
	}

	if got := out.String(); !strings.Contains(got, "Stopped.") {
		t.Errorf("output missing Stopped.:\n%s", got)
	}
}
