package offer

import (
	"strconv"
	"sync"
	"time"
)

// Store is the key-value capability the timer persists deadlines in.
// The production server keeps it in memory per visitor; the contract is
// plain get/set/remove so another backing (cookie, redis) can be swapped in.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Timer is the checkout countdown. It is a UI pressure device only: expiry
// never invalidates a transaction or changes pricing.
type Timer struct {
	store Store
	now   func() time.Time
}

func NewTimer(store Store) *Timer {
	return &Timer{store: store, now: time.Now}
}

// Start returns the deadline for key. An unexpired persisted deadline is
// reused so a page reload does not reset the countdown; otherwise
// now + duration is persisted and returned.
func (t *Timer) Start(key string, duration time.Duration) time.Time {
	if raw, ok := t.store.Get(key); ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			deadline := time.Unix(unix, 0)
			if deadline.After(t.now()) {
				return deadline
			}
		}
	}

	deadline := t.now().Add(duration)
	t.store.Set(key, strconv.FormatInt(deadline.Unix(), 10))
	return deadline
}

// RemainingSeconds derives the countdown purely from wall-clock comparison.
// When it reaches zero the persisted deadline is cleared.
func (t *Timer) RemainingSeconds(key string) int {
	raw, ok := t.store.Get(key)
	if !ok {
		return 0
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.store.Remove(key)
		return 0
	}

	remaining := time.Unix(unix, 0).Sub(t.now())
	if remaining <= 0 {
		t.store.Remove(key)
		return 0
	}
	return int(remaining / time.Second)
}

// Clear drops the deadline for key.
func (t *Timer) Clear(key string) {
	t.store.Remove(key)
}
