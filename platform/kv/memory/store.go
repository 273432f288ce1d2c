package memory

import (
	"context"
	"sync"

	"github.com/Nobert1/event-driven-systems/platform/kv"
)

type entry struct {
	value   []byte
	version int64
}

// Store is an in-process kv.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
	// failing, when set, is returned by every call wrapped as kv.ErrUnavailable.
	failing error
}

func NewStore() *Store {
	return &Store{data: make(map[string]entry)}
}

// SetFailing makes the store behave as unreachable until called with nil.
func (s *Store) SetFailing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return kv.Entry{}, kv.Unavailable("get", s.failing)
	}
	e, ok := s.data[key]
	if !ok {
		return kv.Entry{}, kv.ErrNotFound
	}
	return kv.Entry{Value: append([]byte(nil), e.value...), Version: e.version}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return 0, kv.Unavailable("set", s.failing)
	}
	version := s.data[key].version + 1
	s.data[key] = entry{value: append([]byte(nil), value...), version: version}
	return version, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return 0, kv.Unavailable("compare-and-set", s.failing)
	}
	if s.data[key].version != expected {
		return 0, kv.ErrConflict
	}
	version := expected + 1
	s.data[key] = entry{value: append([]byte(nil), value...), version: version}
	return version, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return kv.Unavailable("ping", s.failing)
	}
	return nil
}

func (s *Store) Close() error { return nil }
