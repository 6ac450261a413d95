package fs

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"sync"
	"time"

	"github.com/listinvest/stash/store"
)

// Config represents the file store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// File represents the file implementation of the Store interface.
type File struct {
	cfg   *Config
	data  map[string][]byte
	mu    sync.Mutex
	dirty bool
	log   *log.Logger
}

// New returns a new File store.
func New(cfg Config, log *log.Logger) (*File, error) {
	s := &File{
		cfg:  &cfg,
		data: map[string][]byte{},
		log:  log,
	}
	err := s.load()
	go s.watch()
	return s, err
}

// watch the store to clean it up and flush it to disk.
func (m *File) watch() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		m.cleanup()
		if err := m.save(); err != nil {
			m.log.Printf("error saving store: %v", err)
		}
	}
}

// cleanup removes expired items. Expiry is also enforced lazily on read
// by the hub; this only reclaims space for keys nobody asks for again.
func (m *File) cleanup() {
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
			m.dirty = true
		}
	}
}

// load the data from the file system.
func (m *File) load() error {
	if _, err := os.Stat(m.cfg.Path); err == nil {
		x := struct {
			Data map[string][]byte
		}{}
		data, err := ioutil.ReadFile(m.cfg.Path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &x); err != nil {
			return err
		}
		m.data = x.Data
		if m.data == nil {
			m.data = map[string][]byte{}
		}
	}
	return nil
}

// save the data to the file system.
func (m *File) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	data, err := json.Marshal(struct {
		Data map[string][]byte
	}{
		Data: m.data,
	})
	if err != nil {
		return err
	}
	m.dirty = false
	return ioutil.WriteFile(m.cfg.Path, data, os.ModePerm)
}

// Close sweeps and saves the data to the file system.
func (m *File) Close() error {
	m.cleanup()
	return m.save()
}

// Get value from a key.
func (m *File) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return d, nil
}

// Set a value.
func (m *File) Set(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = make([]byte, len(data))
	copy(m.data[key], data)
	m.dirty = true
	return nil
}

// Delete a value.
func (m *File) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.dirty = true
	return nil
}
