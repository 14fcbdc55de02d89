package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Op is one call recorded by Store.
type Op struct {
	Name string
	Keys []string
	TTL  time.Duration
}

// Store is an in-memory byte store that records every call and can be told
// to fail. It satisfies cache.Store.
type Store struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	ops     []Op
	getErr  error
	setErr  error
	delErr  error
	mgetErr error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

// FailGet makes Get return err. Pass nil to recover.
func (s *Store) FailGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailSet makes Set return err.
func (s *Store) FailSet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// FailDel makes Del return err.
func (s *Store) FailDel(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delErr = err
}

// FailMGet makes MGet return err.
func (s *Store) FailMGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mgetErr = err
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Name: "get", Keys: []string{key}})
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	value, ok := s.data[key]
	return value, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Name: "set", Keys: []string{key}, TTL: ttl})
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = append([]byte(nil), value...)
	s.ttls[key] = ttl
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Name: "del", Keys: append([]string(nil), keys...)})
	if s.delErr != nil {
		return s.delErr
	}
	for _, key := range keys {
		delete(s.data, key)
		delete(s.ttls, key)
	}
	return nil
}

func (s *Store) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Name: "mget", Keys: append([]string(nil), keys...)})
	if s.mgetErr != nil {
		return nil, s.mgetErr
	}
	values := make([][]byte, len(keys))
	for i, key := range keys {
		values[i] = s.data[key]
	}
	return values, nil
}

// Put seeds raw bytes at key without recording an op.
func (s *Store) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
}

// Raw returns the bytes stored at key.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	return value, ok
}

// TTL returns the TTL of the last Set for key.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Keys lists the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Ops returns a copy of the recorded calls.
func (s *Store) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Count returns how many calls named name were recorded.
func (s *Store) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if op.Name == name {
			n++
		}
	}
	return n
}

// Reset clears recorded calls, keeping the data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}
