package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	contextsBucket = []byte("contexts")
	contactsBucket = []byte("contacts")
)

// Contact is the last known profile of a user who wrote to the bot.
type Contact struct {
	Phone       string    `json:"phone"`
	DisplayName string    `json:"display_name"`
	LastSeen    time.Time `json:"last_seen"`
}

// BoltStore keeps user contexts in a bbolt file. Values are stored as JSON, so
// they come back as the JSON decoder sees them (numbers as float64, objects as maps).
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(contextsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(contactsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(phone string) (map[string]any, error) {
	var data map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contextsBucket).Get([]byte(phone))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &data)
	})
	if err != nil {
		return nil, fmt.Errorf("loading context for %s: %w", phone, err)
	}
	return data, nil
}

func (s *BoltStore) Save(phone string, data map[string]any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding context for %s: %w", phone, err)
		}
		return tx.Bucket(contextsBucket).Put([]byte(phone), raw)
	})
}

func (s *BoltStore) Delete(phone string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contextsBucket).Delete([]byte(phone))
	})
}

// TouchContact records the display name a user was last seen with.
func (s *BoltStore) TouchContact(phone, displayName string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(Contact{Phone: phone, DisplayName: displayName, LastSeen: at})
		if err != nil {
			return err
		}
		return tx.Bucket(contactsBucket).Put([]byte(phone), raw)
	})
}

func (s *BoltStore) GetContact(phone string) (*Contact, error) {
	var c Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contactsBucket).Get([]byte(phone))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &c)
	})
	if err != nil {
		return nil, err
	}
	if c.Phone == "" {
		return nil, nil
	}
	return &c, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
