// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "http-cache:GET:https://a.com/x", Key("", "get", "https://a.com/x"))
	assert.Equal(t, "ns:HEAD:https://a.com/", Key("ns", "HEAD", "https://a.com/"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	var _ Store = s

	t.Run("miss", func(t *testing.T) {
		v, ok, err := s.Get("nope")
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})
	t.Run("set and get", func(t *testing.T) {
		in := []byte("value")
		require.NoError(t, s.Set("k", in, 0))
		in[0] = 'X'
		v, ok, err := s.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("value"), v, "store must copy the value")
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, []string{"k"}, s.Keys())
	})
	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, s.Set("short", []byte("x"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)
		_, ok, err := s.Get("short")
		assert.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("delete", func(t *testing.T) {
		ok, err := s.Delete("k")
		assert.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Delete("k")
		assert.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("clear", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			require.NoError(t, s.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}, time.Hour))
		}
		assert.Equal(t, 50, s.Len())
		require.NoError(t, s.Clear())
		assert.Equal(t, 0, s.Len())
	})
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("g%d:%d", g, i%20)
				_ = s.Set(k, []byte(k), 0)
				v, ok, _ := s.Get(k)
				if ok {
					assert.Equal(t, k, string(v))
				}
				if i%7 == 0 {
					_, _ = s.Delete(k)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 16*20)
}

func TestEntry(t *testing.T) {
	now := time.Now()
	e := &Entry{Method: "GET", URL: "https://a.com", StatusCode: 200, Body: []byte{0xff, 0x00}, StoredAt: now, Lifetime: time.Minute}
	assert.True(t, e.Fresh(now.Add(59*time.Second)))
	assert.False(t, e.Fresh(now.Add(time.Minute)))
	assert.Equal(t, 10*time.Second, e.Age(now.Add(10*time.Second)))
	assert.Equal(t, time.Duration(0), e.Age(now.Add(-time.Second)))

	b, err := Encode(e)
	require.NoError(t, err)
	d, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e.Body, d.Body, "binary bodies survive the round trip")
	assert.True(t, d.StoredAt.Equal(e.StoredAt))

	_, err = Decode([]byte("{"))
	assert.ErrorContains(t, err, "reqflow/cache: corrupt entry")
}
