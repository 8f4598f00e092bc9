package history

import (
	"path/filepath"
	"testing"

	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "history.json"), 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 5; i++ {
		s.Append("BTC", types.PriceSample{LogPrice: float64(i), Ts: i})
	}
	got := s.Samples("BTC")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Ts != 2 || got[2].Ts != 4 {
		t.Errorf("got %+v, want oldest-evicted window [2,3,4]", got)
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.Append("BTC", types.PriceSample{LogPrice: 1.5, Ts: 100})
	s.Append("BTC", types.PriceSample{LogPrice: 1.6, Ts: 160})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Samples("BTC")
	if len(got) != 2 || got[1].LogPrice != 1.6 {
		t.Errorf("got %+v", got)
	}
}

func TestOpenDropsEntriesOlderThanMinTs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Open(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.Append("BTC", types.PriceSample{LogPrice: 1, Ts: 50})
	s.Append("BTC", types.PriceSample{LogPrice: 2, Ts: 150})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(path, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Samples("BTC")
	if len(got) != 1 || got[0].Ts != 150 {
		t.Errorf("got %+v, want only ts>=100 retained", got)
	}
}
