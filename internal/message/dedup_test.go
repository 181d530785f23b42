package message

import (
	"testing"
	"time"
)

func TestDedup(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("req-1") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("req-1") {
		t.Fatal("second sighting not reported")
	}
	if d.IsDuplicate("") {
		t.Fatal("empty key must never be a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("req-1") {
		t.Fatal("expired key reported as duplicate")
	}

	d.Forget("req-1")
	if d.IsDuplicate("req-1") {
		t.Fatal("forgotten key reported as duplicate")
	}
}

func TestDedupPrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	d.IsDuplicate("a")
	now = now.Add(30 * time.Second)
	d.IsDuplicate("b")
	now = now.Add(45 * time.Second)

	if n := d.Prune(); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 left, got %d", d.Len())
	}
}
