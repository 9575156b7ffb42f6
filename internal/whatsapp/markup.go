package whatsapp

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Interactive message limits.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/messages/interactive-reply-buttons-messages
const (
	maxButtons        = 3
	maxButtonTitle    = 20
	maxListRows       = 10
	maxListButtonText = 20
	maxRowTitle       = 24
	maxRowDescription = 72
	maxSectionTitle   = 24
)

var ErrInvalidMarkup = errors.New("invalid markup")

// MarkupError reports why a markup could not be built.
type MarkupError struct {
	Kind   string // "keyboard", "list", "section"
	Reason string
}

func (e *MarkupError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidMarkup, e.Kind, e.Reason)
}

func (e *MarkupError) Unwrap() error { return ErrInvalidMarkup }

func markupErr(kind, format string, args ...any) error {
	return &MarkupError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Markup describes the interactive part of a message: reply buttons, a list,
// or a location request. Values are immutable once built.
type Markup interface {
	// Type is the interactive.type wire value.
	Type() string
	// Action is the interactive.action wire value.
	Action() InteractiveAction
}

// NewButton returns a reply button. An empty id falls back to the title.
func NewButton(title, id string) Button {
	if id == "" {
		id = title
	}
	return Button{Type: "reply", Reply: ButtonReply{ID: id, Title: title}}
}

// Keyboard is a set of one to three reply buttons.
type Keyboard struct {
	buttons []Button
}

// NewKeyboard validates the buttons and returns a Keyboard.
func NewKeyboard(buttons ...Button) (*Keyboard, error) {
	if len(buttons) < 1 || len(buttons) > maxButtons {
		return nil, markupErr("keyboard", "accepts 1 to %d buttons, got %d", maxButtons, len(buttons))
	}

	ids := make(map[string]bool, len(buttons))
	titles := make(map[string]bool, len(buttons))
	for i, b := range buttons {
		if b.Reply.Title == "" {
			return nil, markupErr("keyboard", "button %d has no title", i)
		}
		if utf8.RuneCountInString(b.Reply.Title) > maxButtonTitle {
			return nil, markupErr("keyboard", "button %q title longer than %d chars", b.Reply.Title, maxButtonTitle)
		}
		if ids[b.Reply.ID] || titles[b.Reply.Title] {
			return nil, markupErr("keyboard", "button ids and titles must be unique (%q)", b.Reply.Title)
		}
		ids[b.Reply.ID] = true
		titles[b.Reply.Title] = true
	}

	kb := &Keyboard{buttons: make([]Button, len(buttons))}
	copy(kb.buttons, buttons)
	return kb, nil
}

// KeyboardFromTitles builds a keyboard whose button ids equal their titles.
func KeyboardFromTitles(titles ...string) (*Keyboard, error) {
	buttons := make([]Button, len(titles))
	for i, t := range titles {
		buttons[i] = NewButton(t, "")
	}
	return NewKeyboard(buttons...)
}

func (k *Keyboard) Type() string { return "button" }

func (k *Keyboard) Action() InteractiveAction {
	buttons := make([]Button, len(k.buttons))
	copy(buttons, k.buttons)
	return InteractiveAction{Buttons: buttons}
}

// NewListItem returns a list row. An empty id falls back to the title.
func NewListItem(title, id, description string) SectionRow {
	if id == "" {
		id = title
	}
	return SectionRow{ID: id, Title: title, Description: description}
}

// NewSection groups list rows under a title.
func NewSection(title string, rows ...SectionRow) (Section, error) {
	if len(rows) == 0 {
		return Section{}, markupErr("section", "%q has no rows", title)
	}
	if utf8.RuneCountInString(title) > maxSectionTitle {
		return Section{}, markupErr("section", "title %q longer than %d chars", title, maxSectionTitle)
	}
	for _, r := range rows {
		if r.Title == "" {
			return Section{}, markupErr("section", "row %q has no title", r.ID)
		}
		if utf8.RuneCountInString(r.Title) > maxRowTitle {
			return Section{}, markupErr("section", "row %q title longer than %d chars", r.Title, maxRowTitle)
		}
		if utf8.RuneCountInString(r.Description) > maxRowDescription {
			return Section{}, markupErr("section", "row %q description longer than %d chars", r.Title, maxRowDescription)
		}
	}
	s := Section{Title: title, Rows: make([]SectionRow, len(rows))}
	copy(s.Rows, rows)
	return s, nil
}

// List is a list message: a button that opens up to ten rows, optionally grouped in sections.
type List struct {
	buttonText string
	sections   []Section
}

// NewList builds a list from sections. With more than one section every section needs a title.
func NewList(buttonText string, sections ...Section) (*List, error) {
	if buttonText == "" {
		return nil, markupErr("list", "button text is required")
	}
	if utf8.RuneCountInString(buttonText) > maxListButtonText {
		return nil, markupErr("list", "button text longer than %d chars", maxListButtonText)
	}
	if len(sections) == 0 {
		return nil, markupErr("list", "at least one section is required")
	}

	total := 0
	ids := make(map[string]bool)
	for i, s := range sections {
		if len(sections) > 1 && s.Title == "" {
			return nil, markupErr("list", "section %d needs a title when the list has several sections", i)
		}
		if len(s.Rows) == 0 {
			return nil, markupErr("list", "section %d has no rows", i)
		}
		for _, r := range s.Rows {
			if ids[r.ID] {
				return nil, markupErr("list", "duplicate row id %q", r.ID)
			}
			ids[r.ID] = true
		}
		total += len(s.Rows)
	}
	if total > maxListRows {
		return nil, markupErr("list", "accepts at most %d rows, got %d", maxListRows, total)
	}

	l := &List{buttonText: buttonText, sections: make([]Section, len(sections))}
	copy(l.sections, sections)
	return l, nil
}

// NewFlatList builds a list with a single untitled section.
func NewFlatList(buttonText string, rows ...SectionRow) (*List, error) {
	s, err := NewSection("", rows...)
	if err != nil {
		return nil, markupErr("list", "%s", err.(*MarkupError).Reason)
	}
	return NewList(buttonText, s)
}

func (l *List) Type() string { return "list" }

func (l *List) Action() InteractiveAction {
	sections := make([]Section, len(l.sections))
	for i, s := range l.sections {
		rows := make([]SectionRow, len(s.Rows))
		copy(rows, s.Rows)
		sections[i] = Section{Title: s.Title, Rows: rows}
	}
	return InteractiveAction{Button: l.buttonText, Sections: sections}
}

type locationRequest struct{}

// LocationRequest asks the user to share their location.
func LocationRequest() Markup { return locationRequest{} }

func (locationRequest) Type() string { return "location_request_message" }

func (locationRequest) Action() InteractiveAction { return InteractiveAction{Name: "send_location"} }
