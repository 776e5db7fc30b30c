package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/output"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(id string, start time.Time, passed bool) *output.Report {
	return &output.Report{
		RunID:     id,
		Name:      "hello-resty",
		StartTime: start,
		Passed:    passed,
		Metrics: map[string]output.MetricReport{
			"http_reqs": {Values: map[string]float64{"count": 42}},
		},
	}
}

func TestStore_SaveListGet(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"b2f0", "a1c3", "c9d8"} {
		if err := s.Save(report(id, base.Add(time.Duration(i)*time.Minute), i != 1)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	items, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List returned %d items, want 3", len(items))
	}
	// newest first
	for i, want := range []string{"c9d8", "a1c3", "b2f0"} {
		if items[i].ID != want {
			t.Errorf("items[%d] = %s, want %s", i, items[i].ID, want)
		}
	}

	limited, err := s.List(2)
	if err != nil || len(limited) != 2 {
		t.Errorf("List(2) = %d items, %v", len(limited), err)
	}

	item, err := s.Get("a1")
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if item.ID != "a1c3" || item.Passed {
		t.Errorf("Get(a1) = %+v", item)
	}
	if got := item.Report.Metrics["http_reqs"].Values["count"]; got != 42 {
		t.Errorf("stored count = %v, want 42", got)
	}
}

func TestStore_GetErrors(t *testing.T) {
	s := openStore(t)
	base := time.Now()

	_ = s.Save(report("abc1", base, true))
	_ = s.Save(report("abc2", base.Add(time.Second), true))

	if _, err := s.Get("zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(zzz) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("abc"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("Get(abc) error = %v, want ErrAmbiguous", err)
	}
	if _, err := s.Get("abc2"); err != nil {
		t.Errorf("Get(abc2) error = %v", err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openStore(t)
	start := time.Now()

	_ = s.Save(report("run", start, false))
	if err := s.Save(report("run", start.Add(time.Minute), true)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	items, _ := s.List(0)
	if len(items) != 1 || !items[0].Passed {
		t.Errorf("items = %+v, want the second save only", items)
	}

	if err := s.Save(&output.Report{}); err == nil {
		t.Error("Save without run id should fail")
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Save(report("persisted", time.Now(), true))
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get("persisted"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
