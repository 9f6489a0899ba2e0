// Package memory provides an in-process store.Store used in development and
// tests. Expiry is lazy: an entry past its deadline is treated as absent the
// next time it is read, so correctness never depends on a background sweep.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"eventgate/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a mutex-guarded map with per-key TTLs.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock overrides the store's time source. Tests use it to step through
// TTL windows without sleeping.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry for key if present and unexpired, pruning it
// otherwise. Callers must hold s.mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{
		value:     toString(value),
		expiresAt: s.deadline(expiration),
	}
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = entry{
		value:     toString(value),
		expiresAt: s.deadline(expiration),
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok, nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.increment(key, time.Time{})
}

func (s *Store) IncrWithExpire(_ context.Context, key string, expiration time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.increment(key, s.deadline(expiration))
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Len reports the number of live entries; tests use it to check pruning.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// increment bumps the counter at key. The deadline applies only when the
// counter is created; an existing counter keeps its window so retries cannot
// push the reset point further out.
func (s *Store) increment(key string, deadline time.Time) (int64, error) {
	var count int64
	if e, ok := s.live(key); ok {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %s holds non-numeric value: %w", key, err)
		}
		count = n
		deadline = e.expiresAt
	}
	count++
	s.entries[key] = entry{
		value:     strconv.FormatInt(count, 10),
		expiresAt: deadline,
	}
	return count, nil
}

func (s *Store) deadline(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return s.now().Add(expiration)
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
