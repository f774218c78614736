// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gogama/reqflow/timeout"
	"github.com/gogama/reqflow/transient"
)

// A ValidationKind classifies a ValidationError.
type ValidationKind int

const (
	// InvalidOption is any bad option not covered by a more specific
	// kind.
	InvalidOption ValidationKind = iota
	// MissingArgument means no URL-bearing option was given.
	MissingArgument
	// InvalidURL means the URL could not be parsed or is ambiguous.
	InvalidURL
	// ExclusiveOptions means two mutually exclusive options were set.
	ExclusiveOptions
	// BodyNotAllowed means a body was set on a method without one.
	BodyNotAllowed
	// PrefixMismatch means the URL does not begin with PrefixURL.
	PrefixMismatch
	// InvalidHook means a hook list contains a nil hook.
	InvalidHook
)

// A ValidationError reports bad options. It is returned before any
// dispatch and never passes through BeforeError hooks.
type ValidationError struct {
	Kind ValidationKind
	// Fields names the offending options.
	Fields []string
	Msg    string
}

func (err *ValidationError) Error() string {
	return err.Msg
}

// Error codes carried by RequestError.Code for failures which do not
// originate in the transport.
const (
	CodeHTTPError           = "ERR_NON_2XX_3XX_RESPONSE"
	CodeParseError          = "ERR_BODY_PARSE_FAILURE"
	CodeCacheError          = "ERR_CACHE_ACCESS"
	CodeMaxRedirects        = "ERR_TOO_MANY_REDIRECTS"
	CodeCanceled            = "ERR_CANCELED"
	CodeUnsupportedProtocol = "ERR_UNSUPPORTED_PROTOCOL"
	CodeReadError           = "ERR_READING_RESPONSE_STREAM"
)

// Error is implemented by every error of the request taxonomy except
// ValidationError. Use errors.As with a variable of type Error to get
// the common fields regardless of the concrete type.
type Error interface {
	error
	RequestInfo() *RequestError
}

// A RequestError is a failure of a logical request. On its own it
// represents a transport failure; the more specific error types embed
// it.
type RequestError struct {
	// Code is the transport error code (for example ECONNRESET), or one
	// of the Code constants in this package.
	Code string
	// Options are the options of the attempt that failed.
	Options *Options
	// Response is the response received, if any.
	Response *Response
	// Timings are the timings of the attempt that failed.
	Timings timeout.Timings
	// Err is the underlying error, if any.
	Err error

	msg string
}

// NewRequestError wraps a transport error.
func NewRequestError(err error, o *Options, r *Response) *RequestError {
	code := transient.Code(err)
	return &RequestError{Code: code, Options: o, Response: r, Err: err}
}

func (err *RequestError) Error() string {
	if err.msg != "" {
		return err.msg
	}
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Code
}

func (err *RequestError) Unwrap() error {
	return err.Err
}

// RequestInfo returns err.
func (err *RequestError) RequestInfo() *RequestError {
	return err
}

// A TimeoutError reports that a phase budget was exceeded. Timeouts are
// retryable with the code ETIMEDOUT.
type TimeoutError struct {
	RequestError
	Phase  timeout.Phase
	Budget time.Duration
}

// NewTimeoutError converts a timeout.Error.
func NewTimeoutError(err *timeout.Error, o *Options, timings timeout.Timings) *TimeoutError {
	return &TimeoutError{
		RequestError: RequestError{
			Code:    transient.ETIMEDOUT,
			Options: o,
			Timings: timings,
			Err:     err,
			msg:     err.Error(),
		},
		Phase:  err.Phase,
		Budget: err.Budget,
	}
}

// Timeout returns true.
func (err *TimeoutError) Timeout() bool {
	return true
}

// An HTTPError reports a final response whose status code is not 2xx
// or 3xx when ThrowHTTPErrors is set.
type HTTPError struct {
	RequestError
}

// NewHTTPError returns the error for response r.
func NewHTTPError(r *Response) *HTTPError {
	return &HTTPError{
		RequestError: RequestError{
			Code:     CodeHTTPError,
			Options:  r.Options,
			Response: r,
			Timings:  r.Timings,
			msg:      fmt.Sprintf("response code %d (%s)", r.StatusCode, http.StatusText(r.StatusCode)),
		},
	}
}

// StatusCode returns the status code of the response.
func (err *HTTPError) StatusCode() int {
	return err.Response.StatusCode
}

// A ParseError reports that the response body could not be decoded.
type ParseError struct {
	RequestError
}

// NewParseError wraps a decoding failure of the body of r.
func NewParseError(err error, r *Response) *ParseError {
	target := ""
	if r.URL != nil {
		target = r.URL.Host + r.URL.Path
	}
	return &ParseError{
		RequestError: RequestError{
			Code:     CodeParseError,
			Options:  r.Options,
			Response: r,
			Timings:  r.Timings,
			Err:      err,
			msg:      fmt.Sprintf("%s in %q", err, target),
		},
	}
}

// A CacheError reports that a cache store operation failed.
type CacheError struct {
	RequestError
}

// NewCacheError wraps a cache store failure.
func NewCacheError(err error, o *Options) *CacheError {
	return &CacheError{
		RequestError: RequestError{
			Code:    CodeCacheError,
			Options: o,
			Err:     err,
			msg:     "cache: " + err.Error(),
		},
	}
}

// A MaxRedirectsError reports that the redirect limit was reached.
type MaxRedirectsError struct {
	RequestError
	Redirects int
}

// NewMaxRedirectsError returns the error for redirect response r.
func NewMaxRedirectsError(r *Response, redirects int) *MaxRedirectsError {
	return &MaxRedirectsError{
		RequestError: RequestError{
			Code:     CodeMaxRedirects,
			Options:  r.Options,
			Response: r,
			Timings:  r.Timings,
			msg:      fmt.Sprintf("redirected %d times, aborting", redirects),
		},
		Redirects: redirects,
	}
}

// ErrCanceled is the cause wrapped by every CancelError.
var ErrCanceled = errors.New("request was canceled")

// A CancelError reports that the caller cancelled the request.
type CancelError struct {
	RequestError
}

// NewCancelError returns a cancellation error. The cause is typically
// context.Canceled or context.DeadlineExceeded; if nil, ErrCanceled is
// used.
func NewCancelError(cause error, o *Options) *CancelError {
	msg := ErrCanceled.Error()
	if cause == nil || cause == ErrCanceled {
		cause = ErrCanceled
	} else {
		msg += ": " + cause.Error()
	}
	return &CancelError{
		RequestError: RequestError{
			Code:    CodeCanceled,
			Options: o,
			Err:     cause,
			msg:     msg,
		},
	}
}

// Is reports whether target is ErrCanceled.
func (err *CancelError) Is(target error) bool {
	return target == ErrCanceled
}

// An UnsupportedProtocolError reports a URL scheme other than http or
// https.
type UnsupportedProtocolError struct {
	RequestError
	Protocol string
}

// NewUnsupportedProtocolError returns the error for options o.
func NewUnsupportedProtocolError(o *Options) *UnsupportedProtocolError {
	p := o.URL.Scheme + ":"
	return &UnsupportedProtocolError{
		RequestError: RequestError{
			Code:    CodeUnsupportedProtocol,
			Options: o,
			msg:     fmt.Sprintf("unsupported protocol %q", p),
		},
		Protocol: p,
	}
}
