// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Store {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	s := open(t)

	v, ok, err := s.Get("missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	require.NoError(t, s.Set("a", []byte("alpha"), 0))
	require.NoError(t, s.Set("b", nil, time.Hour))
	v, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("alpha"), v)
	v, ok, err = s.Get("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)

	require.NoError(t, s.Set("a", []byte("again"), 0))
	v, _, _ = s.Get("a")
	assert.Equal(t, []byte("again"), v)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := s.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete("a")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.Clear())
	n, err = s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_Expiry(t *testing.T) {
	s := open(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set("short", []byte("x"), time.Second))
	require.NoError(t, s.Set("long", []byte("y"), time.Hour))
	require.NoError(t, s.Set("forever", []byte("z"), 0))

	now = now.Add(2 * time.Second)
	_, ok, err := s.Get("short")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get("long")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	purged, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, ok, err = s.Get("forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte{0, 1, 2, 0xff}, 0))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, v)
}

func TestStore_Concurrent(t *testing.T) {
	s := open(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				k := fmt.Sprintf("%d:%d", g, i)
				assert.NoError(t, s.Set(k, []byte(k), 0))
				v, ok, err := s.Get(k)
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, k, string(v))
			}
		}(g)
	}
	wg.Wait()
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestOpen_Error(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "cache.db"))
	assert.Error(t, err)
}
