package bot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
)

const consoleSession = "console"

// console is a line-oriented front-end on stdin/stdout. /attach queues a
// local file for the next chat message. Chat messages run in the background
// so "stop" can reach them.
type console struct {
	router *Router
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	pending []*ingest.OSFile
	turns   sync.WaitGroup
}

func NewConsole(router *Router, in io.Reader, out io.Writer) Bot {
	return &console{router: router, in: in, out: out}
}

func (c *console) Start(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	c.print("multiAI console. Type /help for commands, /exit to quit.")
	defer c.clearPending()
	defer c.turns.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			if done := c.handleLine(ctx, line); done {
				return nil
			}
		}
	}
}

// handleLine reports true when the user asked to leave.
func (c *console) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/exit":
		return true
	case "/attach":
		c.attach(fields[1:])
		return false
	case "/detach":
		c.clearPending()
		c.print("Attachments cleared.")
		return false
	}

	msg := Incoming{
		SessionID: consoleSession,
		Text:      line,
		Reply:     c.print,
	}

	if strings.HasPrefix(line, "/") || (len(c.pending) == 0 && isStopCommand(line)) {
		c.router.Handle(ctx, msg)
		return false
	}

	files := c.pending
	c.pending = nil
	for _, f := range files {
		msg.Files = append(msg.Files, f)
	}

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		defer closeFiles(files)
		c.router.Handle(ctx, msg)
	}()
	return false
}

func (c *console) attach(args []string) {
	if len(args) == 0 || len(args) > 2 {
		c.print("Usage: /attach <path> [mime-type]")
		return
	}

	var mimeType string
	if len(args) == 2 {
		mimeType = args[1]
	}

	f, err := ingest.OpenFile(args[0], mimeType)
	if err != nil {
		c.print(fmt.Sprintf("Cannot attach %s: %v", args[0], err))
		return
	}

	c.pending = append(c.pending, f)
	c.print(fmt.Sprintf("Attached %s (%s, %d bytes). %d file(s) queued.", f.Name(), f.Type(), f.Size(), len(c.pending)))
}

func (c *console) clearPending() {
	closeFiles(c.pending)
	c.pending = nil
}

func closeFiles(files []*ingest.OSFile) {
	for _, f := range files {
		if err := f.Close(); err != nil {
			logger.Debug("close attachment", "name", f.Name(), "error", err)
		}
	}
}

func (c *console) print(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, text)
}
