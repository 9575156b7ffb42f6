package dispatch

import (
	"slices"
	"testing"
)

func TestUserContext(t *testing.T) {
	uc := newUserContext("1", nil)
	if uc.dirty || uc.Len() != 0 {
		t.Fatalf("new context must be clean and empty")
	}

	uc.Delete("missing")
	if uc.dirty {
		t.Fatalf("deleting a missing key must not mark the context dirty")
	}

	uc.Set("b", 2)
	uc.Set("a", "one")
	if !uc.dirty {
		t.Fatalf("Set must mark the context dirty")
	}
	if got := uc.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("expected sorted keys, got %v", got)
	}
	if uc.GetString("a") != "one" || uc.GetString("b") != "" {
		t.Fatalf("GetString returned unexpected values")
	}
	if v, ok := uc.Get("b"); !ok || v != 2 {
		t.Fatalf("Get(b) = %v, %v", v, ok)
	}

	uc.Clear()
	if uc.Len() != 0 || !uc.cleared {
		t.Fatalf("Clear must drop every key")
	}
}
