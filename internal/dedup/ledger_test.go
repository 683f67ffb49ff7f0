package dedup

import (
	"testing"
	"time"
)

func TestSuppressWithinWindow(t *testing.T) {
	t.Parallel()
	l := New()
	now := time.Now()
	key := Key("A1", "newOrder")

	if l.ShouldSuppress(key, now, 30*time.Minute) {
		t.Fatal("no entry yet: must not suppress")
	}
	l.Record(key, now)

	if !l.ShouldSuppress(key, now.Add(10*time.Minute), 30*time.Minute) {
		t.Fatal("second attempt inside window must be suppressed")
	}
	if l.ShouldSuppress(key, now.Add(30*time.Minute), 30*time.Minute) {
		t.Fatal("attempt at exactly the interval must pass")
	}
}

func TestDifferentTypesDoNotCollide(t *testing.T) {
	t.Parallel()
	l := New()
	now := time.Now()
	l.Record(Key("A1", "newOrder"), now)

	if l.ShouldSuppress(Key("A1", "shipped"), now, 30*time.Minute) {
		t.Fatal("different message type must have its own key")
	}
}

func TestStatsByType(t *testing.T) {
	t.Parallel()
	l := New()
	now := time.Now()

	l.Record(Key("A1", "newOrder"), now)
	l.Record(ReminderKey("A1"), now)

	l.ShouldSuppress(Key("A1", "newOrder"), now.Add(time.Minute), 30*time.Minute)
	l.ShouldSuppress(Key("A1", "newOrder"), now.Add(2*time.Minute), 30*time.Minute)
	l.ShouldSuppress(ReminderKey("A1"), now.Add(time.Minute), 30*time.Minute)

	st := l.StatsByType()
	if st["newOrder"] != 2 {
		t.Fatalf("newOrder suppressed = %d, want 2", st["newOrder"])
	}
	if st["reminder"] != 1 {
		t.Fatalf("reminder suppressed = %d, want 1", st["reminder"])
	}
}

func TestResetClearsEntriesAndStats(t *testing.T) {
	t.Parallel()
	l := New()
	now := time.Now()
	l.Record(Key("A1", "newOrder"), now)
	l.ShouldSuppress(Key("A1", "newOrder"), now, time.Hour)

	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("Len = %d after reset", l.Len())
	}
	if len(l.StatsByType()) != 0 {
		t.Fatal("stats not cleared")
	}
	if l.ShouldSuppress(Key("A1", "newOrder"), now, time.Hour) {
		t.Fatal("entry survived reset")
	}
}

func TestRestoreDoesNotOverwrite(t *testing.T) {
	t.Parallel()
	l := New()
	newer := time.Now()
	older := newer.Add(-time.Hour)

	l.Record("A1_newOrder", newer)
	l.Restore([]Entry{
		{Key: "A1_newOrder", LastSentAt: older},
		{Key: "B2_shipped", LastSentAt: older},
	})

	if !l.ShouldSuppress("A1_newOrder", newer.Add(time.Minute), 30*time.Minute) {
		t.Fatal("in-memory entry should win over restored one")
	}
	if l.ShouldSuppress("B2_shipped", newer, 30*time.Minute) {
		t.Fatal("restored old entry is outside the window")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}
