// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/transient"
)

// A Decider decides if a retry should be done.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
//
// Use the built-in constructors Times, Methods, StatusCode, ErrorCode,
// RetryAfterWithin and Before, and the built-in decider TransientErr; or
// implement your Decider. Use DeciderFunc to convert an ordinary
// function into a Decider, and to compose deciders logically using
// DeciderFunc.And and DeciderFunc.Or.
type Decider interface {
	Decide(e *request.Execution) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. It implements the Decider interface, and
// also provides the logical composition methods And and Or.
//
// Every DeciderFunc must be safe for concurrent use by multiple
// goroutines.
type DeciderFunc func(e *request.Execution) bool

// DefaultDecider is the decider built from the default retry options:
// up to two retries of an idempotent method after a retryable status
// code or transport error code.
var DefaultDecider = NewDecider(request.Defaults().Retry, 0)

// TransientErr is a decider that indicates a retry if the current
// error is transient according to transient.Categorize.
//
// TransientErr only looks at the error, so it will always return false
// if a valid HTTP response is returned. Compose it with other deciders,
// for example a status code decider constructed with StatusCode, to
// get more complex functionality.
var TransientErr DeciderFunc = transientErr

// Decide returns true if a retry should be done, and false otherwise,
// after examining the current execution state.
func (f DeciderFunc) Decide(e *request.Execution) bool {
	return f(e)
}

// And composes two retry deciders into a new decider which returns true
// if both sub-deciders return true, and false otherwise.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// false.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) && g(e)
	}
}

// Or composes two retry deciders into a new decider which returns
// true if either of the two sub-deciders returns true, but false if
// they both return false.
//
// Short-circuit logic is used, so g will not be evaluated if f returns
// true.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(e *request.Execution) bool {
		return f(e) || g(e)
	}
}

// NewDecider builds the decider described by retry options o. If o
// leaves MaxRetryAfter unset, requestTimeout is used as the cap on
// Retry-After (no cap if it is zero too).
func NewDecider(o *request.RetryOptions, requestTimeout time.Duration) DeciderFunc {
	maxRetryAfter := o.MaxRetryAfter
	if maxRetryAfter <= 0 {
		maxRetryAfter = requestTimeout
	}
	return Times(o.Limit).
		And(Methods(o.Methods...)).
		And(StatusCode(o.StatusCodes...).Or(ErrorCode(o.ErrorCodes...))).
		And(RetryAfterWithin(maxRetryAfter))
}

// Times constructs a retry decider which allows up to n retries. The
// returned decider returns true while the retry count e.Attempt is
// less than n, and false otherwise.
func Times(n int) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.Attempt < n
	}
}

// Before constructs a retry decider allowing retries until a certain
// amount of time has elapsed since the start of the logical request.
func Before(d time.Duration) DeciderFunc {
	return func(e *request.Execution) bool {
		return e.Duration() < d
	}
}

// Methods constructs a retry decider which allows retries only if the
// request method is one of ms. Comparison is case-insensitive.
func Methods(ms ...string) DeciderFunc {
	set := make(map[string]bool, len(ms))
	for _, m := range ms {
		set[strings.ToUpper(m)] = true
	}
	return func(e *request.Execution) bool {
		return e.Options != nil && set[e.Options.Method]
	}
}

// StatusCode constructs a retry decider allowing retries based on the
// HTTP response status code. If the most recent attempt received a
// response, and the response status code is contained in the list ss,
// the decider returns true. Otherwise, it returns false.
func StatusCode(ss ...int) DeciderFunc {
	ss2 := make([]int, len(ss))
	copy(ss2, ss)
	return func(e *request.Execution) bool {
		for _, s := range ss2 {
			if e.StatusCode() == s {
				return true
			}
		}
		return false
	}
}

// ErrorCode constructs a retry decider allowing retries based on the
// error code of the most recent attempt's error, such as ECONNRESET.
func ErrorCode(codes ...string) DeciderFunc {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return func(e *request.Execution) bool {
		c := Code(e.Err)
		return c != "" && set[c]
	}
}

// RetryAfterWithin constructs a retry decider which refuses a retry if
// the response carries a Retry-After header asking for a wait longer
// than max. A non-positive max never refuses.
func RetryAfterWithin(max time.Duration) DeciderFunc {
	return func(e *request.Execution) bool {
		if max <= 0 {
			return true
		}
		d, ok := retryAfter(e)
		return !ok || d <= max
	}
}

// Code returns the error code of err: the Code of a request.Error if it
// has one, and the transport code reported by transient.Code otherwise.
func Code(err error) string {
	var re request.Error
	if errors.As(err, &re) {
		if c := re.RequestInfo().Code; c != "" {
			return c
		}
	}
	return transient.Code(err)
}

func transientErr(e *request.Execution) bool {
	return transient.Categorize(e.Err) != transient.Not
}

var retryAfterCodes = map[int]bool{
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusServiceUnavailable:    true,
}
