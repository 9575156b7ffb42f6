package dispatch

import (
	"slices"
)

// ContextStore persists per-user context data between updates.
type ContextStore interface {
	Load(phone string) (map[string]any, error)
	Save(phone string, data map[string]any) error
	Delete(phone string) error
}

// UserContext is the mutable key/value state of one user. It is loaded before
// a handler runs and written back once the update has been handled.
type UserContext struct {
	Phone string

	data    map[string]any
	dirty   bool
	cleared bool
}

func newUserContext(phone string, data map[string]any) *UserContext {
	if data == nil {
		data = make(map[string]any)
	}
	return &UserContext{Phone: phone, data: data}
}

func (c *UserContext) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// GetString returns the value for key when it is a string, "" otherwise.
func (c *UserContext) GetString(key string) string {
	s, _ := c.data[key].(string)
	return s
}

func (c *UserContext) Set(key string, value any) {
	c.data[key] = value
	c.dirty = true
}

func (c *UserContext) Delete(key string) {
	if _, ok := c.data[key]; ok {
		delete(c.data, key)
		c.dirty = true
	}
}

// Clear drops every key; the stored entry is removed on save.
func (c *UserContext) Clear() {
	clear(c.data)
	c.dirty = true
	c.cleared = true
}

func (c *UserContext) Keys() []string {
	var keys []string
	for k := range c.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (c *UserContext) Len() int { return len(c.data) }
