// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"fmt"
)

// An InitHook runs synchronously on the merged, not yet normalized
// Draft, before the URL is resolved. Since it takes no context it
// cannot suspend the request.
type InitHook func(d *Draft) error

// A BeforeRequestHook runs before every dispatch, including dispatches
// which are served from cache.
type BeforeRequestHook func(ctx context.Context, d *Draft) error

// A BeforeRedirectHook runs before following a redirect. The draft
// already points at the redirect target; r is the redirect response.
type BeforeRedirectHook func(ctx context.Context, d *Draft, r *Response) error

// A BeforeRetryHook runs before a retry. The err parameter is the error
// that caused the retry, or nil if the retry was requested by an
// AfterResponseHook. The retryCount parameter is the number of the
// upcoming retry, starting at one.
type BeforeRetryHook func(ctx context.Context, d *Draft, err error, retryCount int) error

// An AfterResponseHook runs on each final response and returns the
// response passed on to the next hook. It may instead call retry with
// an overlay Draft and return its result, which discards the current
// response and starts a new attempt with the overlay merged onto the
// current options.
type AfterResponseHook func(ctx context.Context, r *Response, retry RetryFunc) (*Response, error)

// A BeforeErrorHook receives the error about to be surfaced and returns
// the error to surface instead. Returning nil keeps the error it was
// given. Returning an error wrapped with Halt ends the chain: later
// hooks are skipped and the wrapped error is surfaced.
type BeforeErrorHook func(err error) error

// Halt wraps err so that, when returned by a BeforeErrorHook, it stops
// the beforeError chain. Halt(nil) returns nil.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &halted{err}
}

// Halted reports whether err was returned by Halt, and returns the
// error it wraps.
func Halted(err error) (error, bool) {
	if h, ok := err.(*halted); ok {
		return h.err, true
	}
	return err, false
}

type halted struct {
	err error
}

func (h *halted) Error() string { return h.err.Error() }

func (h *halted) Unwrap() error { return h.err }

// A RetryFunc requests a new attempt with overlay merged onto the
// current options. An AfterResponseHook must return its results
// unchanged.
type RetryFunc func(overlay *Draft) (*Response, error)

// Hooks holds the six ordered hook lists run by the engine. Within one
// list, hooks run strictly in order, each completing before the next
// starts.
type Hooks struct {
	Init           []InitHook
	BeforeRequest  []BeforeRequestHook
	BeforeRedirect []BeforeRedirectHook
	BeforeRetry    []BeforeRetryHook
	AfterResponse  []AfterResponseHook
	BeforeError    []BeforeErrorHook
}

// Hook category names, as reported by a ValidationError.
const (
	InitCategory           = "init"
	BeforeRequestCategory  = "beforeRequest"
	BeforeRedirectCategory = "beforeRedirect"
	BeforeRetryCategory    = "beforeRetry"
	AfterResponseCategory  = "afterResponse"
	BeforeErrorCategory    = "beforeError"
)

// Clone returns a copy of h whose lists do not share storage with h.
func (h Hooks) Clone() Hooks {
	return Hooks{
		Init:           cloneSlice(h.Init),
		BeforeRequest:  cloneSlice(h.BeforeRequest),
		BeforeRedirect: cloneSlice(h.BeforeRedirect),
		BeforeRetry:    cloneSlice(h.BeforeRetry),
		AfterResponse:  cloneSlice(h.AfterResponse),
		BeforeError:    cloneSlice(h.BeforeError),
	}
}

// Append returns the concatenation of h and o, list by list.
func (h Hooks) Append(o Hooks) Hooks {
	return Hooks{
		Init:           concat(h.Init, o.Init),
		BeforeRequest:  concat(h.BeforeRequest, o.BeforeRequest),
		BeforeRedirect: concat(h.BeforeRedirect, o.BeforeRedirect),
		BeforeRetry:    concat(h.BeforeRetry, o.BeforeRetry),
		AfterResponse:  concat(h.AfterResponse, o.AfterResponse),
		BeforeError:    concat(h.BeforeError, o.BeforeError),
	}
}

// Len returns the total number of hooks.
func (h Hooks) Len() int {
	return len(h.Init) + len(h.BeforeRequest) + len(h.BeforeRedirect) +
		len(h.BeforeRetry) + len(h.AfterResponse) + len(h.BeforeError)
}

func (h Hooks) validate() error {
	checks := []struct {
		category string
		nils     int
	}{
		{InitCategory, countNil(h.Init)},
		{BeforeRequestCategory, countNil(h.BeforeRequest)},
		{BeforeRedirectCategory, countNil(h.BeforeRedirect)},
		{BeforeRetryCategory, countNil(h.BeforeRetry)},
		{AfterResponseCategory, countNil(h.AfterResponse)},
		{BeforeErrorCategory, countNil(h.BeforeError)},
	}
	for _, c := range checks {
		if c.nils > 0 {
			return &ValidationError{
				Kind:   InvalidHook,
				Fields: []string{"hooks." + c.category},
				Msg:    fmt.Sprintf("hook is not a function (hooks.%s)", c.category),
			}
		}
	}
	return nil
}

func countNil[F any](hooks []F) int {
	n := 0
	for i := range hooks {
		if isNilFunc(hooks[i]) {
			n++
		}
	}
	return n
}

func isNilFunc(f interface{}) bool {
	switch h := f.(type) {
	case InitHook:
		return h == nil
	case BeforeRequestHook:
		return h == nil
	case BeforeRedirectHook:
		return h == nil
	case BeforeRetryHook:
		return h == nil
	case AfterResponseHook:
		return h == nil
	case BeforeErrorHook:
		return h == nil
	}
	return f == nil
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func concat[T any](a, b []T) []T {
	if len(b) == 0 {
		return cloneSlice(a)
	}
	c := make([]T, 0, len(a)+len(b))
	c = append(c, a...)
	return append(c, b...)
}
