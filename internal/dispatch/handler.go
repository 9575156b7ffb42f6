package dispatch

import "context"

// HandlerFunc handles one update. uc is the sender's context.
type HandlerFunc func(ctx context.Context, u *Update, uc *UserContext) error

// Registration binds a handler to a message type and filter.
type Registration struct {
	Name string
	// Type restricts the registration to one message type; empty accepts every type.
	Type    MessageType
	Filter  Filter
	Handler HandlerFunc
	// Persistent registrations run whenever they match, even after another
	// handler already took the update.
	Persistent bool

	IgnoreButtonReplies bool
	IgnoreListReplies   bool
}

func (r *Registration) accepts(u *Update) bool {
	if r.Type != "" && r.Type != u.Type {
		return false
	}
	if u.Type == TypeInteractive {
		if r.IgnoreButtonReplies && u.InteractiveType == "button_reply" {
			return false
		}
		if r.IgnoreListReplies && u.InteractiveType == "list_reply" {
			return false
		}
	}
	return r.Filter == nil || r.Filter.Match(u)
}

type RegisterOption func(*Registration)

// Persistent makes the handler run on every matching update.
func Persistent() RegisterOption {
	return func(r *Registration) { r.Persistent = true }
}

// Named labels the registration in logs.
func Named(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// ButtonReplies toggles whether an interactive registration receives button replies.
func ButtonReplies(on bool) RegisterOption {
	return func(r *Registration) { r.IgnoreButtonReplies = !on }
}

// ListReplies toggles whether an interactive registration receives list replies.
func ListReplies(on bool) RegisterOption {
	return func(r *Registration) { r.IgnoreListReplies = !on }
}
