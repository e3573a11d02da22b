package feed

import (
	"testing"
	"time"

	"alertdetail/internal/model"
)

func TestRingEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := int64(1); i <= 5; i++ {
		s.Add(model.FeedEntry{RuleID: i})
	}
	got := s.List(0)
	if len(got) != 3 || got[0].RuleID != 3 || got[2].RuleID != 5 {
		t.Fatalf("unexpected ring contents: %+v", got)
	}
	if last := s.List(1); len(last) != 1 || last[0].RuleID != 5 {
		t.Fatalf("List(1) = %+v", last)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestAddAssignsIDAndTimestamp(t *testing.T) {
	s := NewStore(10)
	a := s.Add(model.FeedEntry{})
	b := s.Add(model.FeedEntry{ID: "fixed"})
	if a.ID == "" || a.ID == b.ID || b.ID != "fixed" {
		t.Fatalf("ids: %q %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestSinceAndClear(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		s.Add(model.FeedEntry{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	if got := s.Since(base.Add(2 * time.Minute)); len(got) != 2 {
		t.Fatalf("Since returned %d entries", len(got))
	}
	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatalf("clear failed")
	}
}
