package store

import (
	"testing"
	"time"
)

func TestMemoryStore_RoundTripIsolated(t *testing.T) {
	s := NewMemoryStore(0)

	data, err := s.Load("1")
	if err != nil || data != nil {
		t.Fatalf("expected empty load, got %v, %v", data, err)
	}

	in := map[string]any{"step": "name", "count": 3}
	if err := s.Save("1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	in["step"] = "mutated"

	out, _ := s.Load("1")
	if out["step"] != "name" || out["count"] != 3 {
		t.Fatalf("stored context changed through caller map: %v", out)
	}
	out["step"] = "mutated again"
	again, _ := s.Load("1")
	if again["step"] != "name" {
		t.Fatalf("stored context changed through loaded map: %v", again)
	}

	if err := s.Delete("1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if data, _ := s.Load("1"); data != nil {
		t.Fatalf("expected context gone after delete, got %v", data)
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	s.Save("1", map[string]any{"k": "v"})
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}

	time.Sleep(50 * time.Millisecond)
	if data, _ := s.Load("1"); data != nil {
		t.Fatalf("expected context to expire, got %v", data)
	}
}
