// Package ratelimit implements a fixed-window request counter per client.
//
// A window opens on a client's first request and closes window later; the
// counter resets lazily on the first request after that. Across a window edge
// a client can therefore get up to twice the limit through. That
// approximation is accepted in exchange for O(1) state per client.
package ratelimit

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Decision is the result of counting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is how long until the window reopens. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Store holds the counters. Hit must perform its read-check-increment
// atomically for a given key.
type Store interface {
	Hit(key string, now time.Time, window time.Duration, limit int) Decision
}

type entry struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryStore keeps counters in process memory, sharded by key so unrelated
// clients do not contend on one lock. Entries are never evicted.
type MemoryStore struct {
	shards []*shard
}

const defaultShards = 32

// NewMemoryStore returns a store with n shards (a default when n <= 0).
func NewMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = defaultShards
	}
	s := &MemoryStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) Hit(key string, now time.Time, window time.Duration, limit int) Decision {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		e = &entry{resetAt: now.Add(window)}
		sh.entries[key] = e
	}
	if now.After(e.resetAt) {
		e.count = 0
		e.resetAt = now.Add(window)
	}

	d := Decision{Limit: limit, ResetAt: e.resetAt}
	if e.count >= limit {
		d.Count = e.count
		d.RetryAfter = e.resetAt.Sub(now)
		return d
	}
	e.count++
	d.Allowed = true
	d.Count = e.count
	d.Remaining = limit - e.count
	return d
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Reset drops every counter.
func (s *MemoryStore) Reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
}

// Limiter is one configured limit (name, window, max requests) over a Store.
type Limiter struct {
	name   string
	window time.Duration
	limit  int
	store  Store
	now    func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStore sets the backing store. By default each Limiter gets its own
// MemoryStore.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// New returns a limiter allowing limit requests per window per client.
func New(name string, window time.Duration, limit int, opts ...Option) *Limiter {
	l := &Limiter{
		name:   name,
		window: window,
		limit:  limit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore(0)
	}
	return l
}

const (
	LoginWindow   = 15 * time.Minute
	LoginLimit    = 5
	GeneralWindow = 5 * time.Minute
	GeneralLimit  = 100
)

// NewLogin returns the strict limiter guarding the login route.
func NewLogin(opts ...Option) *Limiter {
	return New("login", LoginWindow, LoginLimit, opts...)
}

// NewGeneral returns the lenient limiter for every other route group.
func NewGeneral(opts ...Option) *Limiter {
	return New("general", GeneralWindow, GeneralLimit, opts...)
}

func (l *Limiter) Name() string          { return l.name }
func (l *Limiter) Window() time.Duration { return l.window }
func (l *Limiter) Limit() int            { return l.limit }

// Allow counts one request from clientID.
func (l *Limiter) Allow(clientID string) Decision {
	return l.store.Hit(l.name+":"+clientID, l.now(), l.window, l.limit)
}
