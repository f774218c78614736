// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// DefaultNamespace is the key prefix used when a request does not
// specify one.
const DefaultNamespace = "http-cache"

// A Store is an external key/value store.
//
// Implementations of Store must be safe for concurrent use by multiple
// goroutines. Any error returned by a Store method is surfaced to the
// caller of the request as a cache error, distinct from transport
// errors.
type Store interface {
	// Get returns the value stored under key. The boolean result is
	// false if there is no such value (including if it has expired).
	Get(key string) ([]byte, bool, error)
	// Set stores value under key. A positive ttl is a hint that the
	// value is of no further use after ttl has elapsed.
	Set(key string, value []byte, ttl time.Duration) error
	// Delete removes the value stored under key and reports whether
	// there was one.
	Delete(key string) (bool, error)
	// Clear removes every value.
	Clear() error
}

// Key returns the store key for a request: "<namespace>:<METHOD>:<url>".
func Key(namespace, method, url string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	var b strings.Builder
	b.Grow(len(namespace) + len(method) + len(url) + 2)
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(url)
	return b.String()
}

const numShards = 16

// MemoryStore is an in-process Store. It shards its keys over several
// independently locked maps so that concurrent requests for different
// URLs rarely contend. The zero value is not usable; use NewMemoryStore.
type MemoryStore struct {
	shards [numShards]*shard
}

type shard struct {
	lock  sync.RWMutex
	items map[string]item
}

type item struct {
	value   []byte
	expires time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]item)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	sh := s.shard(key)
	sh.lock.RLock()
	it, ok := sh.items[key]
	sh.lock.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && time.Now().After(it.expires) {
		sh.lock.Lock()
		if cur, ok := sh.items[key]; ok && cur.expires.Equal(it.expires) {
			delete(sh.items, key)
		}
		sh.lock.Unlock()
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	sh := s.shard(key)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	sh.items[key] = it
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) (bool, error) {
	sh := s.shard(key)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	_, ok := sh.items[key]
	delete(sh.items, key)
	return ok, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear() error {
	for _, sh := range s.shards {
		sh.lock.Lock()
		sh.items = make(map[string]item)
		sh.lock.Unlock()
	}
	return nil
}

// Len returns the number of values held, including any which have
// expired but not yet been evicted.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.lock.RLock()
		n += len(sh.items)
		sh.lock.RUnlock()
	}
	return n
}

// Keys returns the keys currently held, in no particular order.
func (s *MemoryStore) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.lock.RLock()
		for k := range sh.items {
			keys = append(keys, k)
		}
		sh.lock.RUnlock()
	}
	return keys
}
