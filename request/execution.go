// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gogama/reqflow/transient"
)

// An Execution holds the state of one logical request across all of its
// attempts, redirects and retries.
//
// The engine creates an Execution when a logical request starts and
// updates it as the request progresses. Event handlers receive it at
// each event. They may store values on it using SetValue and read them
// back using Value, but should treat the exported fields as read-only:
// the execution state is vital to the correct functioning of the
// engine.
type Execution struct {
	// Options are the options of the current attempt. They are
	// replaced, never modified, whenever a hook, redirect or retry
	// produces a new snapshot. Options is nil only if normalization
	// failed.
	Options *Options

	// Start is the start time of the logical request.
	Start time.Time

	// End is the end time of the logical request. It contains the zero
	// value until a terminal state is reached.
	End time.Time

	// Attempt is the retry count: zero on the initial attempt, one on
	// the first retry, and so on. Redirects do not change it.
	Attempt int

	// RedirectURLs lists the redirect targets followed so far, in
	// order.
	RedirectURLs []*url.URL

	// Request is the lower-level request of the current or most recent
	// network attempt. It is nil before the first dispatch and for
	// attempts served from cache.
	Request *Outgoing

	// Response is the response of the most recent attempt, or nil if
	// the attempt ended in an error or is underway.
	Response *Response

	// Err is the error of the most recent attempt, or the final error
	// once the execution has ended.
	Err error

	// FromCache is Unknown until the first response is available, and
	// then reports whether the current response was served from cache.
	FromCache Tristate

	canceled atomic.Bool
	data     context.Context
}

// An Outgoing is a lower-level HTTP request together with its abort
// flag.
type Outgoing struct {
	*http.Request
	aborted atomic.Bool
}

// NewOutgoing wraps r.
func NewOutgoing(r *http.Request) *Outgoing {
	return &Outgoing{Request: r}
}

// Abort marks the request aborted.
func (o *Outgoing) Abort() {
	o.aborted.Store(true)
}

// Aborted reports whether the request was aborted before completing.
func (o *Outgoing) Aborted() bool {
	return o.aborted.Load()
}

// A Tristate is a boolean which may also be unknown.
type Tristate int8

const (
	Unknown Tristate = iota
	False
	True
)

// TristateOf converts b.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// Ptr returns nil for Unknown, and a pointer to the boolean value
// otherwise.
func (t Tristate) Ptr() *bool {
	switch t {
	case True:
		return Bool(true)
	case False:
		return Bool(false)
	}
	return nil
}

// StatusCode returns the status code of the most recent response, or 0
// if there is none.
func (e *Execution) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// Header returns the headers of the most recent response, or the nil
// header if there is none. A nil header is safe for read-only use.
func (e *Execution) Header() http.Header {
	if e.Response == nil {
		var nilHeader http.Header
		return nilHeader
	}

	return e.Response.Header
}

// Duration returns the duration of the execution.
//
// If the execution has not yet started, the duration is zero. If the
// execution has Ended, the duration returned is equal to End minus
// Start. Otherwise, it is equal to the current time minus Start.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}

	return e.End.Sub(e.Start)
}

// Started indicates whether the execution has started.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended indicates whether the execution has reached a terminal state.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Timeout indicates whether Err currently contains a timeout, either a
// phase timeout or a timeout reported by the network stack.
func (e *Execution) Timeout() bool {
	cat := transient.Categorize(e.Err)
	return cat == transient.Timeout
}

// Cancel sets the cancellation flag. It does not by itself abort
// anything; the engine observes the flag at its suspension points.
func (e *Execution) Cancel() {
	e.canceled.Store(true)
}

// Canceled reports whether Cancel has been called.
func (e *Execution) Canceled() bool {
	return e.canceled.Load()
}

// SetValue allows event handlers to store arbitrary data in the
// execution.
//
// The key must follow the same rules as the key parameter in
// context.WithValue, namely it:
//
// • it may not be nil;
//
// • it must be comparable;
//
// • it should not be of type string or any other built-in type to avoid
// collisions between different event handlers putting data into the
// same execution.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}

	e.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with this execution for key,
// or nil if there is no value associated with key.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}

	return ctx.Value(key)
}
