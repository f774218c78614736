// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gogama/reqflow/request"
)

// A Waiter specifies how long to wait before retrying a failed attempt.
//
// Implementations of Waiter must be safe for concurrent use by multiple
// goroutines.
//
// The engine will not call the Waiter on a retry policy if the policy
// Decider returned false.
type Waiter interface {
	Wait(e *request.Execution) time.Duration
}

// DefaultWaiter is the default retry wait policy. It waits one second
// before the first retry, doubling on each subsequent retry up to a
// ceiling of 30 seconds, plus a random jitter below 100 milliseconds.
var DefaultWaiter = NewBackoffWaiter(time.Second, 30*time.Second, 100*time.Millisecond, time.Now())

// NewFixedWaiter constructs a Waiter that always returns the given
// duration.
//
// Use NewFixedWaiter to obtain a constant retry backoff.
func NewFixedWaiter(d time.Duration) Waiter {
	return fixedWaiter(d)
}

type fixedWaiter time.Duration

func (w fixedWaiter) Wait(_ *request.Execution) time.Duration {
	return time.Duration(w)
}

// NewExpWaiter constructs a Waiter implementing an exponential backoff
// formula with optional full jitter.
//
// The formula implemented is the "Full Jitter" approach described in:
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter.
//
// Parameters base and max control the exponential calculation of the
// ceiling:
//
//	ceil := min(base * 2**attempt, max)
//
// Base and max must be positive values, and max must be at least equal
// to base.
//
// Parameter jitter is used to generate a random number between 0 and
// ceil. To make a waiter that does not jitter and simply returns
// ceil on each attempt, pass nil for jitter. Otherwise you may specify
// either a random number generator seed value (as a time.Time, int, or
// int64) or a random number generator (as a rand.Source).
func NewExpWaiter(base, max time.Duration, jitter interface{}) Waiter {
	checkBaseMax(base, max)
	return &jitterExpWaiter{
		base: base,
		max:  max,
		rand: jitterToRand(jitter),
	}
}

// NewBackoffWaiter constructs a Waiter which returns the exponential
// ceiling min(base * 2**attempt, max) plus an additive random jitter in
// [0, jitter). The seed parameter accepts the same values as the jitter
// parameter of NewExpWaiter; nil disables the random component.
func NewBackoffWaiter(base, max, jitter time.Duration, seed interface{}) Waiter {
	checkBaseMax(base, max)
	if jitter < 0 {
		panic("reqflow/retry: jitter must not be negative")
	}
	return &backoffWaiter{
		ceil:   jitterExpWaiter{base: base, max: max},
		jitter: jitter,
		rand:   jitterToRand(seed),
	}
}

type jitterExpWaiter struct {
	base time.Duration
	max  time.Duration
	rand *rand.Rand
	lock sync.Mutex
}

func (w *jitterExpWaiter) Wait(e *request.Execution) time.Duration {
	ceil := w.ceiling(e.Attempt)

	duration := ceil
	if ceil > 0 {
		w.lock.Lock()
		defer w.lock.Unlock()
		if w.rand != nil {
			duration = w.rand.Int63n(ceil)
		}
	}

	return time.Duration(duration)
}

func (w *jitterExpWaiter) ceiling(attempt int) int64 {
	if attempt > 62 {
		return int64(w.max)
	}
	exp := int64(1) << attempt
	if exp < 1 {
		exp = 1<<63 - 1
	}

	ceil := int64(w.base) * exp
	if ceil/exp != int64(w.base) || ceil < int64(w.base) || int64(w.max) < ceil {
		ceil = int64(w.max)
	}
	return ceil
}

type backoffWaiter struct {
	ceil   jitterExpWaiter
	jitter time.Duration
	rand   *rand.Rand
	lock   sync.Mutex
}

func (w *backoffWaiter) Wait(e *request.Execution) time.Duration {
	d := time.Duration(w.ceil.ceiling(e.Attempt))
	if w.jitter > 0 && w.rand != nil {
		w.lock.Lock()
		defer w.lock.Unlock()
		d += time.Duration(w.rand.Int63n(int64(w.jitter)))
	}
	return d
}

// RetryAfter constructs a Waiter which honors the Retry-After header of
// a 413, 429 or 503 response, and defers to fallback otherwise.
func RetryAfter(fallback Waiter) Waiter {
	if fallback == nil {
		panic("reqflow/retry: nil waiter")
	}
	return retryAfterWaiter{fallback}
}

type retryAfterWaiter struct {
	fallback Waiter
}

func (w retryAfterWaiter) Wait(e *request.Execution) time.Duration {
	if d, ok := retryAfter(e); ok {
		return d
	}
	return w.fallback.Wait(e)
}

// retryAfter returns the wait requested by the Retry-After header of
// the current response, if it is a 413, 429 or 503 response carrying a
// valid header. The header may hold delay-seconds or an HTTP-date.
func retryAfter(e *request.Execution) (time.Duration, bool) {
	if !retryAfterCodes[e.StatusCode()] {
		return 0, false
	}
	v := strings.TrimSpace(e.Header().Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return d, true
}

func checkBaseMax(base, max time.Duration) {
	if base < 1 {
		panic("reqflow/retry: base must be positive")
	}
	if max < base {
		panic("reqflow/retry: max must be at least base")
	}
}

func jitterToRand(jitter interface{}) *rand.Rand {
	var s rand.Source
	switch j := jitter.(type) {
	case nil:
		return nil
	case time.Time:
		s = rand.NewSource(j.UnixNano())
	case int:
		s = rand.NewSource(int64(j))
	case int64:
		s = rand.NewSource(j)
	case *rand.Rand:
		if j == nil {
			panic("reqflow/retry: jitter may not be a typed nil")
		}
		return j
	case rand.Source:
		s = j
	default:
		panic("reqflow/retry: invalid jitter type")
	}
	return rand.New(s)
}
