package dispatch

import (
	"fmt"
	"regexp"
)

// Filter decides whether a registration accepts an update.
type Filter interface {
	Match(u *Update) bool
}

// FilterFunc adapts a predicate to Filter.
type FilterFunc func(u *Update) bool

func (f FilterFunc) Match(u *Update) bool { return f(u) }

type always struct{}

func (always) Match(*Update) bool { return true }

// Always matches every update.
func Always() Filter { return always{} }

type regexFilter struct {
	re *regexp.Regexp
}

func (f regexFilter) Match(u *Update) bool { return f.re.MatchString(u.Text) }

// Regex matches the update text against pattern anchored at the start of the
// text, so "hi" matches "hi there" but not "oh hi".
func Regex(pattern string) (Filter, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("compiling filter %q: %w", pattern, err)
	}
	return regexFilter{re: re}, nil
}

// MustRegex is Regex for patterns known at compile time.
func MustRegex(pattern string) Filter {
	f, err := Regex(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Func matches when fn returns true for the update text.
func Func(fn func(text string) bool) Filter {
	return FilterFunc(func(u *Update) bool { return fn(u.Text) })
}

// All matches when every filter matches.
func All(filters ...Filter) Filter {
	return FilterFunc(func(u *Update) bool {
		for _, f := range filters {
			if !f.Match(u) {
				return false
			}
		}
		return true
	})
}

// Any matches when at least one filter matches.
func Any(filters ...Filter) Filter {
	return FilterFunc(func(u *Update) bool {
		for _, f := range filters {
			if f.Match(u) {
				return true
			}
		}
		return false
	})
}
