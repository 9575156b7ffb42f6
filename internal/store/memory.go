package store

import (
	"maps"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps user contexts for the lifetime of the process. With a
// positive ttl an entry expires ttl after its last save.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
	}
	return &MemoryStore{c: cache.New(ttl, ttl)}
}

func (s *MemoryStore) Load(phone string) (map[string]any, error) {
	v, ok := s.c.Get(phone)
	if !ok {
		return nil, nil
	}
	return maps.Clone(v.(map[string]any)), nil
}

func (s *MemoryStore) Save(phone string, data map[string]any) error {
	s.c.Set(phone, maps.Clone(data), cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Delete(phone string) error {
	s.c.Delete(phone)
	return nil
}

// Len reports the number of stored contexts, including expired ones not yet evicted.
func (s *MemoryStore) Len() int { return s.c.ItemCount() }
