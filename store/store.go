package store

import (
	"encoding/json"
	"errors"
)

// Store represents a backend store.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Item represents a stored relay entry. Expire is an epoch millisecond
// timestamp and is only set when the entry was written with a TTL.
type Item struct {
	Value  json.RawMessage `json:"value"`
	Expire int64           `json:"expire,omitempty"`
}

// Expired reports whether the item's expiry lies strictly before the
// given epoch millisecond timestamp. Items without an expiry never expire.
func (i Item) Expired(nowMs int64) bool {
	return i.Expire > 0 && i.Expire < nowMs
}

// ErrKeyNotFound indicates that the requested key was not found.
var ErrKeyNotFound = errors.New("key not found")
