package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCadenceRoundsUpToAtLeast60s(t *testing.T) {
	t.Parallel()
	cases := []struct {
		intervalSecs int64
		want         time.Duration
	}{
		{15, 60 * time.Second},
		{60, 60 * time.Second},
		{90, 90 * time.Second},
		{0, 60 * time.Second},
	}
	for _, c := range cases {
		if got := cadence(c.intervalSecs); got != c.want {
			t.Errorf("cadence(%d) = %v, want %v", c.intervalSecs, got, c.want)
		}
	}
}

func TestWriterWritesAtomicallyAndTracksDue(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	w := New(path, 60)

	now := time.Now()
	if !w.Due(now) {
		t.Fatal("expected Due=true before any write")
	}

	status := Status{Ts: now, AgentID: "bot-1", TotalPnL: decimal.NewFromFloat(12.5)}
	if err := w.Write(status, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be renamed away")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	var loaded Status
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if loaded.AgentID != "bot-1" {
		t.Fatalf("expected agent_id bot-1, got %s", loaded.AgentID)
	}

	if w.Due(now.Add(30 * time.Second)) {
		t.Fatal("expected Due=false within the 60s cadence")
	}
	if !w.Due(now.Add(61 * time.Second)) {
		t.Fatal("expected Due=true once cadence elapses")
	}
}
