package notify

import (
	"log/slog"
	"os"
	"testing"
)

func TestLogNotifierBuffersAlerts(t *testing.T) {
	t.Parallel()
	n := NewLogNotifier(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})), 2)

	n.Notify(Alert{Severity: "critical", Summary: "force-close failed", Fields: map[string]any{"pair": "AAA/BBB"}})

	select {
	case a := <-n.Alerts():
		if a.Summary != "force-close failed" {
			t.Fatalf("unexpected alert summary: %s", a.Summary)
		}
	default:
		t.Fatal("expected a buffered alert")
	}
}

func TestLogNotifierDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	n := NewLogNotifier(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})), 1)

	n.Notify(Alert{Summary: "first"})
	n.Notify(Alert{Summary: "second"}) // buffer full, should be dropped without blocking

	a := <-n.Alerts()
	if a.Summary != "first" {
		t.Fatalf("expected first alert preserved, got %s", a.Summary)
	}
	select {
	case extra := <-n.Alerts():
		t.Fatalf("expected no second alert, got %+v", extra)
	default:
	}
}
