package mem

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/listinvest/stash/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

// InMemory represents the in-memory implementation of the Store interface.
type InMemory struct {
	cfg  *Config
	data map[string][]byte
	mu   sync.Mutex
}

// New returns a new InMemory store.
func New(cfg Config) (*InMemory, error) {
	s := &InMemory{
		cfg:  &cfg,
		data: map[string][]byte{},
	}
	go s.watch()
	return s, nil
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		m.cleanup()
	}
}

// cleanup removes expired items. Expiry is also enforced lazily on read
// by the hub; this only reclaims memory for keys nobody asks for again.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano() / int64(time.Millisecond)
	for k, b := range m.data {
		var item store.Item
		if err := json.Unmarshal(b, &item); err != nil {
			continue
		}
		if item.Expired(now) {
			delete(m.data, k)
		}
	}
}

// Get value from a key.
func (m *InMemory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return d, nil
}

// Set a value.
func (m *InMemory) Set(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = make([]byte, len(data))
	copy(m.data[key], data)
	return nil
}

// Delete a value.
func (m *InMemory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
