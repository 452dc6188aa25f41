package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by paper-mode setups
// that run without redis. TTLs are honoured lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source so tests can step across window edges.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) expired(key string) bool {
	exp, ok := s.expires[key]
	return ok && s.now().After(exp)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		delete(s.values, key)
		delete(s.expires, key)
	}

	val, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		delete(s.values, key)
		delete(s.expires, key)
	}

	if _, ok := s.values[key]; ok {
		return false, nil
	}

	s.values[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.expires, key)
	return nil
}

func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		delete(s.values, key)
		delete(s.expires, key)
	}

	var n int64
	if raw, ok := s.values[key]; ok {
		n, _ = strconv.ParseInt(raw, 10, 64)
	} else if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}

	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}
