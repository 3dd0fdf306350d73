package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendAndTail(t *testing.T) {
	dir := t.TempDir()
	j, err := ForPlan(dir)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.now = func() time.Time {
		return time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	}
	for i := 0; i < 5; i++ {
		j.Appendf("entry-%d", i)
	}

	lines := j.Tail(3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
		if !strings.HasPrefix(lines[idx], "2025-11-03T12:00:00Z ") {
			t.Fatalf("line %d = %q, missing timestamp", idx, lines[idx])
		}
	}

	if got := j.Tail(100); len(got) != 5 {
		t.Fatalf("tail past the start returned %d lines, want 5", len(got))
	}
}

func TestTailOfMissingJournal(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "plan", "journal.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if lines := j.Tail(10); lines != nil {
		t.Fatalf("expected nil for missing file, got %v", lines)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	j.Append("ignored")
	j.Appendf("ignored %d", 1)
	if j.Tail(5) != nil || j.Path() != "" {
		t.Fatal("nil journal should be inert")
	}
}

func TestJournalLandsInPlanDir(t *testing.T) {
	dir := t.TempDir()
	j, err := ForPlan(dir)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.Append("plan scaffolded")
	if _, err := os.Stat(filepath.Join(dir, "journal.log")); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
}
