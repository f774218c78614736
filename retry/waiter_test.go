// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/gogama/reqflow/request"
	"github.com/stretchr/testify/assert"
)

func TestDefaultWaiter(t *testing.T) {
	ceil := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i := 0; i < len(ceil); i++ {
		wait := DefaultWaiter.Wait(&request.Execution{Attempt: i})
		assert.GreaterOrEqual(t, wait, ceil[i])
		assert.Less(t, wait, ceil[i]+100*time.Millisecond)
	}
}

func TestNewBackoffWaiter(t *testing.T) {
	t.Run("invalid args", func(t *testing.T) {
		assert.PanicsWithValue(t, "reqflow/retry: base must be positive", func() {
			NewBackoffWaiter(0, time.Second, 0, nil)
		})
		assert.PanicsWithValue(t, "reqflow/retry: max must be at least base", func() {
			NewBackoffWaiter(time.Second, time.Millisecond, 0, nil)
		})
		assert.PanicsWithValue(t, "reqflow/retry: jitter must not be negative", func() {
			NewBackoffWaiter(time.Second, time.Second, -1, nil)
		})
	})
	t.Run("no jitter", func(t *testing.T) {
		w := NewBackoffWaiter(10*time.Millisecond, time.Second, 100*time.Millisecond, nil)
		assert.Equal(t, 10*time.Millisecond, w.Wait(&request.Execution{}))
		assert.Equal(t, 80*time.Millisecond, w.Wait(&request.Execution{Attempt: 3}))
		assert.Equal(t, time.Second, w.Wait(&request.Execution{Attempt: 7}))
		assert.Equal(t, time.Second, w.Wait(&request.Execution{Attempt: math.MaxInt32}))
	})
}

func TestRetryAfter(t *testing.T) {
	w := RetryAfter(NewFixedWaiter(time.Millisecond))
	exec := func(code int, v string) *request.Execution {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &request.Execution{Response: &request.Response{StatusCode: code, Header: h}}
	}
	assert.Equal(t, 3*time.Second, w.Wait(exec(429, "3")))
	assert.Equal(t, 3*time.Second, w.Wait(exec(503, " 3 ")))
	assert.Equal(t, time.Millisecond, w.Wait(exec(500, "3")))
	assert.Equal(t, time.Millisecond, w.Wait(exec(429, "")))
	assert.Equal(t, time.Millisecond, w.Wait(exec(429, "soon")))
	assert.Equal(t, time.Millisecond, w.Wait(exec(429, "-1")))
	assert.Equal(t, time.Duration(0), w.Wait(exec(413, "Wed, 21 Oct 2015 07:28:00 GMT")))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	d := w.Wait(exec(503, future))
	assert.Greater(t, d, 58*time.Minute)
	assert.LessOrEqual(t, d, time.Hour)
	assert.PanicsWithValue(t, "reqflow/retry: nil waiter", func() { RetryAfter(nil) })
}

func TestNewExpWaiter(t *testing.T) {
	base, max := 1*time.Millisecond, 1*time.Hour
	t.Run("invalid base", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(-1), max, nil)
		}, "negative base")
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(0), max, nil)
		}, "zero base")
	})
	t.Run("invalid max", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(2), time.Duration(1), nil)
		}, "max less than base")
	})
	t.Run("invalid jitter", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(base, max, float64(1))
		}, "float64")
		var nilRand *rand.Rand
		assert.Panics(t, func() {
			NewExpWaiter(base, max, nilRand)
		}, "nil *rand.Rand")
	})
	t.Run("no jitter", func(t *testing.T) {
		var j *jitterExpWaiter
		j = newJitterExpWaiter(t, base, max, nil, "explicit nil")
		assert.Nil(t, j.rand, "explicit nil")
		var s rand.Source
		j = newJitterExpWaiter(t, base, max, s, "nil rand.Source")
		assert.Nil(t, j.rand, "nil rand.Source")
		for i := 0; i < 10; i++ {
			ceil := 1 << i
			assert.Equal(t, time.Duration(ceil)*time.Millisecond, j.Wait(&request.Execution{Attempt: i}))
		}
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: 25}))
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: 1000}))
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: math.MaxInt64}))
	})
	t.Run("with jitter", func(t *testing.T) {
		jitters := []struct {
			name  string
			value interface{}
		}{
			{"zero time.Time", time.Time{}},
			{"time.Now()", time.Now()},
			{"int", 1},
			{"int64", int64(1)},
			{"rand.Source", rand.NewSource(0)},
			{"*rand.Rand", rand.New(rand.NewSource(0))},
		}
		for i, jitter := range jitters {
			t.Run(fmt.Sprintf("jitters[%d]=%s", i, jitter.name), func(t *testing.T) {
				w := NewExpWaiter(base, max, jitter.value)
				for j := 0; j < 100; j++ {
					d := w.Wait(&request.Execution{Attempt: j})
					assert.GreaterOrEqual(t, d, time.Duration(0))
					assert.LessOrEqual(t, d, max)
				}
			})
		}
	})
	t.Run("concurrent rand.Source usage", func(t *testing.T) {
		n := 1000
		w := NewExpWaiter(base, max, 0)
		waitChan := make(chan struct {
			goroutine int
			attempt   int
			wait      time.Duration
		},
		)
		doneChan := make(chan int)
		for i := 0; i < n; i++ {
			goroutine := i
			go func() {
				for j := 0; j < 22; j++ {
					waitChan <- struct {
						goroutine int
						attempt   int
						wait      time.Duration
					}{
						goroutine: goroutine,
						attempt:   j,
						wait:      w.Wait(&request.Execution{Attempt: j}),
					}
				}
				doneChan <- goroutine
			}()
		}
		done := map[int]bool{}
		total := time.Duration(0)
		for len(done) < n {
			select {
			case x := <-doneChan:
				done[x] = true
			case y := <-waitChan:
				var max time.Duration
				if y.attempt < 22 {
					max = (1 << y.attempt) * time.Millisecond
				} else {
					max = time.Hour
				}
				m := fmt.Sprintf("goroutine[%d].attempt[%d]: wait should be between 0 and %d",
					y.goroutine, y.attempt, max)
				total += y.wait
				assert.GreaterOrEqual(t, y.wait, time.Duration(0), m)
				assert.LessOrEqual(t, y.wait, max, m)
			}
		}
		close(waitChan)
		close(doneChan)
		assert.Greater(t, total, time.Duration(0))
	})
}

func newJitterExpWaiter(t *testing.T, base, max time.Duration, jitter interface{}, message string) *jitterExpWaiter {
	j := NewExpWaiter(base, max, jitter)
	assert.IsType(t, &jitterExpWaiter{}, j, message)
	return j.(*jitterExpWaiter)
}
