// Package notify implements the operator-alert channel used for
// conditions that need a human's attention: a failed startup force-close,
// an exhausted hedge retry, a persistent position guard. The default
// implementation logs structurally; Alert never blocks the caller.
package notify

import (
	"log/slog"
)

// Alert is one operator-facing notification.
type Alert struct {
	Severity string // "warning" | "critical"
	Summary  string
	Fields   map[string]any
}

// Notifier accepts Alerts without blocking the caller.
type Notifier interface {
	Notify(a Alert)
}

// LogNotifier logs every alert through slog and additionally buffers it
// on a bounded channel for a consumer (e.g. a future webhook forwarder)
// to drain; a full buffer drops the alert with a warning rather than
// blocking the control loop.
type LogNotifier struct {
	logger *slog.Logger
	ch     chan Alert
}

// NewLogNotifier creates a LogNotifier with a buffer of capacity size.
func NewLogNotifier(logger *slog.Logger, capacity int) *LogNotifier {
	return &LogNotifier{
		logger: logger.With("component", "notify"),
		ch:     make(chan Alert, capacity),
	}
}

// Notify logs the alert and attempts to enqueue it, without blocking.
func (n *LogNotifier) Notify(a Alert) {
	args := make([]any, 0, len(a.Fields)*2)
	for k, v := range a.Fields {
		args = append(args, k, v)
	}
	switch a.Severity {
	case "critical":
		n.logger.Error(a.Summary, args...)
	default:
		n.logger.Warn(a.Summary, args...)
	}

	select {
	case n.ch <- a:
	default:
		n.logger.Warn("alert buffer full, dropping alert", "summary", a.Summary)
	}
}

// Alerts returns the channel a consumer can drain buffered alerts from.
func (n *LogNotifier) Alerts() <-chan Alert {
	return n.ch
}

var _ Notifier = (*LogNotifier)(nil)
