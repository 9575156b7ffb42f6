package dispatch

import (
	"strings"
	"testing"
)

func TestRegex_AnchoredAtStart(t *testing.T) {
	f := MustRegex(`hi`)
	tests := []struct {
		text string
		want bool
	}{
		{"hi", true},
		{"hi there", true},
		{"oh hi", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.Match(&Update{Text: tt.text}); got != tt.want {
			t.Fatalf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestRegex_Alternation(t *testing.T) {
	// Alternation must stay inside the anchor group.
	f := MustRegex(`foo|bar`)
	if !f.Match(&Update{Text: "bar"}) {
		t.Fatalf("expected bar to match")
	}
	if f.Match(&Update{Text: "xbar"}) {
		t.Fatalf("expected xbar not to match")
	}
}

func TestRegex_Invalid(t *testing.T) {
	if _, err := Regex(`(`); err == nil {
		t.Fatalf("expected compile error")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustRegex to panic")
		}
	}()
	MustRegex(`[`)
}

func TestCancelPattern(t *testing.T) {
	f := MustRegex(DefaultCancelPattern)
	for _, text := range []string{"cancel", "STOP", "End", "please cancel"} {
		want := text != "please cancel"
		if got := f.Match(&Update{Text: text}); got != want {
			t.Fatalf("cancel Match(%q) = %v, want %v", text, got, want)
		}
	}
	if f.Match(&Update{Text: "stopwatch"}) {
		t.Fatalf("stopwatch must not cancel")
	}
}

func TestComposedFilters(t *testing.T) {
	long := Func(func(text string) bool { return len(text) > 3 })
	greeting := MustRegex(`(?i)hello`)
	u := &Update{Text: "Hello world"}

	if !All(long, greeting).Match(u) {
		t.Fatalf("All should match")
	}
	if All(long, greeting, FilterFunc(func(u *Update) bool { return u.Type == TypeImage })).Match(u) {
		t.Fatalf("All should fail when one filter fails")
	}
	if !Any(MustRegex(`bye`), greeting).Match(u) {
		t.Fatalf("Any should match")
	}
	if Any().Match(u) {
		t.Fatalf("empty Any should not match")
	}
	if !All().Match(u) || !Always().Match(u) {
		t.Fatalf("empty All and Always should match")
	}
	if !Func(func(text string) bool { return strings.HasSuffix(text, "world") }).Match(u) {
		t.Fatalf("Func should see the update text")
	}
}
