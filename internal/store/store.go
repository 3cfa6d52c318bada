// Package store implements emberdb's concurrent key-value map: a
// mutex-guarded entries table plus a time-ordered TTL index and a
// background expirer goroutine.
package store

import (
	"sort"
	"sync"
	"time"
)

// Logger is the narrow logging surface the store depends on, satisfied by
// internal/logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
}

type entry struct {
	payload   []byte
	expiresAt *time.Time
}

type ttlRow struct {
	expiresAt time.Time
	key       string
}

// Entry is a point-in-time copy of one stored key. Snapshot builds these
// under the store's lock so the RDB snapshot engine can walk the whole table
// without holding it.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time // nil means no TTL
}

// Store is the shared key-value table. All exported methods that touch the
// table take the internal lock for their full duration and never suspend
// while holding it.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	ttls    []ttlRow // sorted ascending by (expiresAt, key)

	wake chan struct{} // single-slot coalescing notifier
	stop chan struct{}
	done chan struct{}

	log Logger
}

// New creates a Store and starts its background expirer goroutine.
func New(log Logger) *Store {
	s := &Store{
		entries: make(map[string]entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
	}
	go s.expireLoop()
	return s
}

// Close stops the background expirer and waits for it to exit. Existing
// entries are left in place; Close only tears down the goroutine.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

// Set inserts or overwrites key. A non-nil ttl schedules expiry after ttl
// has elapsed; a nil ttl clears any TTL previously associated with key,
// matching the "SET without EX clears a prior TTL" decision in SPEC_FULL.md.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && old.expiresAt != nil {
		s.removeTTLRow(*old.expiresAt, key)
	}

	var expiresAt *time.Time
	if ttl != nil {
		at := time.Now().Add(*ttl)
		expiresAt = &at
		s.insertTTLRow(at, key)
	}

	s.entries[key] = entry{payload: value, expiresAt: expiresAt}

	if ttl != nil {
		s.notify()
	}
}

// Get returns a copy of the bytes stored under key, or ok=false if the key
// is absent. A key whose expiry has passed but has not yet been reaped by
// the background expirer is treated as absent.
func (s *Store) Get(key string) (value []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[key]
	if !found {
		return nil, false
	}
	if e.expiresAt != nil && !e.expiresAt.After(time.Now()) {
		return nil, false
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

// Delete removes key and returns the value that was stored there, if any.
func (s *Store) Delete(key string) (value []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[key]
	if !found {
		return nil, false
	}
	delete(s.entries, key)
	if e.expiresAt != nil {
		s.removeTTLRow(*e.expiresAt, key)
	}
	return e.payload, true
}

// Snapshot returns a point-in-time copy of every live entry, sorted by key
// for deterministic output. It is the only way the RDB engine walks the
// whole table; the store has no iterator that leaks internal locking.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if e.expiresAt != nil && !e.expiresAt.After(now) {
			continue // expired but not yet reaped: absent, as for Get
		}
		value := make([]byte, len(e.payload))
		copy(value, e.payload)
		var expiresAt *time.Time
		if e.expiresAt != nil {
			at := *e.expiresAt
			expiresAt = &at
		}
		out = append(out, Entry{Key: k, Value: value, ExpiresAt: expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len reports the current entry and TTL-index sizes, for tests asserting
// index consistency.
func (s *Store) Len() (entries, ttls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), len(s.ttls)
}

// notify wakes the expirer if it is sleeping; multiple notifications before
// it wakes collapse into one, since the channel has a single buffered slot.
func (s *Store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) insertTTLRow(at time.Time, key string) {
	row := ttlRow{expiresAt: at, key: key}
	idx := sort.Search(len(s.ttls), func(i int) bool { return ttlLess(row, s.ttls[i]) || ttlEqual(row, s.ttls[i]) })
	s.ttls = append(s.ttls, ttlRow{})
	copy(s.ttls[idx+1:], s.ttls[idx:])
	s.ttls[idx] = row
}

func (s *Store) removeTTLRow(at time.Time, key string) {
	row := ttlRow{expiresAt: at, key: key}
	idx := sort.Search(len(s.ttls), func(i int) bool { return !ttlLess(s.ttls[i], row) })
	if idx < len(s.ttls) && ttlEqual(s.ttls[idx], row) {
		s.ttls = append(s.ttls[:idx], s.ttls[idx+1:]...)
	}
}

func ttlLess(a, b ttlRow) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.key < b.key
}

func ttlEqual(a, b ttlRow) bool {
	return a.expiresAt.Equal(b.expiresAt) && a.key == b.key
}

// expireLoop is the background expirer task: acquire the lock, drain
// everything whose expiry has passed, release, then sleep until the next
// expiry or a wake signal, whichever comes first.
func (s *Store) expireLoop() {
	defer close(s.done)
	for {
		next, hasNext := s.reapExpired()

		if hasNext {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
			case <-s.stop:
				timer.Stop()
				return
			}
		} else {
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
		}
	}
}

// reapExpired drains every TTL row whose deadline has passed and returns the
// next pending deadline, if any.
func (s *Store) reapExpired() (next time.Time, hasNext bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0
	for len(s.ttls) > 0 && !s.ttls[0].expiresAt.After(now) {
		row := s.ttls[0]
		s.ttls = s.ttls[1:]
		delete(s.entries, row.key)
		reaped++
	}
	if reaped > 0 && s.log != nil {
		s.log.Debug("store: reaped %d expired key(s)", reaped)
	}
	if len(s.ttls) == 0 {
		return time.Time{}, false
	}
	return s.ttls[0].expiresAt, true
}
