package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/multiai/internal/logger"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a short user-facing message, e.g. "Too many files".
type Notice struct {
	Severity Severity
	Title    string
	Detail   string

	// Action marks the answer to something the user just did. Those are
	// never dropped by the cooldown.
	Action bool
}

func (n Notice) String() string {
	var icon string
	switch n.Severity {
	case SeverityError:
		icon = "❌"
	case SeverityWarn:
		icon = "⚠️"
	default:
		icon = "ℹ️"
	}

	if n.Detail == "" {
		return fmt.Sprintf("%s %s", icon, n.Title)
	}
	return fmt.Sprintf("%s %s: %s", icon, n.Title, n.Detail)
}

type NotifyFunc func(Notice)

// Alerter delivers notices to a front-end. Identical notices inside the
// cooldown window are dropped. A nil *Alerter discards everything.
type Alerter struct {
	mu        sync.Mutex
	notify    NotifyFunc
	cooldowns map[string]time.Time
	cooldown  time.Duration
}

func New(notify NotifyFunc, cooldown time.Duration) *Alerter {
	return &Alerter{
		notify:    notify,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
	}
}

func (a *Alerter) Alert(severity Severity, title, detail string) {
	a.Send(Notice{Severity: severity, Title: title, Detail: detail})
}

// Report answers a refused or failed user action. It bypasses the cooldown
// so a retried action that fails again is reported again.
func (a *Alerter) Report(severity Severity, title, detail string) {
	a.Send(Notice{Severity: severity, Title: title, Detail: detail, Action: true})
}

// Send delivers n, applying the cooldown unless n.Action is set.
func (a *Alerter) Send(n Notice) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := fmt.Sprintf("%d:%s:%s", n.Severity, n.Title, n.Detail)

	if lastSent, ok := a.cooldowns[key]; ok && a.cooldown > 0 && !n.Action {
		if time.Since(lastSent) < a.cooldown {
			logger.Debug("notice suppressed (cooldown)", "title", n.Title)
			return
		}
	}

	if a.notify != nil {
		a.notify(n)
		a.cooldowns[key] = time.Now()
		logger.Debug("notice sent", "severity", n.Severity, "title", n.Title)
	}
}

func (a *Alerter) Info(title, detail string) {
	a.Alert(SeverityInfo, title, detail)
}

func (a *Alerter) Warn(title, detail string) {
	a.Alert(SeverityWarn, title, detail)
}

func (a *Alerter) Error(title, detail string) {
	a.Alert(SeverityError, title, detail)
}
