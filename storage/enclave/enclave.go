// Package enclave keeps values encrypted in memguard enclaves. Nothing is written to disk,
// so stored values never outlive the process.
package enclave

import (
	"context"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

type Store struct {
	mu   sync.RWMutex
	data map[string]*memguard.Enclave
}

func New() *Store {
	return &Store{data: make(map[string]*memguard.Enclave)}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	// memguard does not hold empty buffers
	if e == nil {
		return "", true, nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", false, fmt.Errorf("opening enclave for %s: %w", key, err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	var e *memguard.Enclave
	if value != "" {
		e = memguard.NewEnclave([]byte(value))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
