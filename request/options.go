// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/timeout"
)

// Options is the normalized, validated descriptor of one attempt of a
// logical request. It is produced by Normalize and must be treated as
// immutable: hooks that want to change a request edit the Draft they
// are handed, and the engine commits those edits into a new Options.
type Options struct {
	// URL is the fully resolved URL. It is never nil.
	URL *url.URL
	// Method is the upper-case HTTP method.
	Method string
	// Header holds the request headers in canonical form.
	Header http.Header
	// Body is the request body descriptor.
	Body Body `json:"-" yaml:"-"`
	// PrefixURL is the configured prefix without trailing slash, or
	// the empty string.
	PrefixURL string

	Retry   RetryOptions
	Timeout timeout.Config
	Hooks   Hooks `json:"-" yaml:"-"`

	// Context is the opaque user context. It is excluded from String,
	// LogValue and serialization.
	Context interface{} `json:"-" yaml:"-"`

	Cache          cache.Store `json:"-" yaml:"-"`
	CacheNamespace string
	DNSCache       cache.Store `json:"-" yaml:"-"`

	ResponseType    ResponseType
	Encoding        Encoding
	ThrowHTTPErrors bool
	Decompress      bool
	ResolveBodyOnly bool
	IsStream        bool
	FollowRedirect  bool
	MaxRedirects    int
	AllowGetBody    bool

	RejectUnauthorized bool
	CA                 []byte `json:"-" yaml:"-"`
}

// A BodyKind identifies the source of a request body.
type BodyKind int

const (
	// NoBody means the request has no body.
	NoBody BodyKind = iota
	// BytesBody is a buffered body given as a string or []byte.
	BytesBody
	// StreamBody is a body read from an io.Reader. It can be sent only
	// once.
	StreamBody
	// JSONBody is a value encoded as JSON.
	JSONBody
	// FormBody is a value encoded as a URL-encoded form.
	FormBody
)

// Body describes a request body. Bytes holds the encoded body for every
// kind except StreamBody and NoBody.
type Body struct {
	Kind   BodyKind
	Bytes  []byte
	Stream io.Reader
	// Value is the original JSON or form value.
	Value interface{}
}

// Replayable reports whether the body can be sent more than once.
func (b Body) Replayable() bool {
	return b.Kind != StreamBody
}

// Reader returns a fresh reader over the body, or nil if there is no
// body.
func (b Body) Reader() io.Reader {
	switch b.Kind {
	case NoBody:
		return nil
	case StreamBody:
		return b.Stream
	default:
		return bytes.NewReader(b.Bytes)
	}
}

// A ResponseType selects how the response body is decoded by the
// awaitable result.
type ResponseType string

const (
	Text   ResponseType = "text"
	JSON   ResponseType = "json"
	Buffer ResponseType = "buffer"
)

// An Encoding is the text encoding used to render a response body as a
// string.
type Encoding string

const (
	UTF8   Encoding = "utf8"
	Base64 Encoding = "base64"
	Hex    Encoding = "hex"
	Latin1 Encoding = "latin1"
)

var encodingAliases = map[Encoding]Encoding{
	"utf8":   UTF8,
	"utf-8":  UTF8,
	"base64": Base64,
	"hex":    Hex,
	"latin1": Latin1,
	"binary": Latin1,
}

// RetryOptions configures automatic retries. The zero value of each
// slice and duration field inherits from the earlier configuration
// layer, while Limit is always taken as given.
type RetryOptions struct {
	// Limit is the maximum number of retries.
	Limit int `yaml:"limit" json:"limit"`
	// Methods lists the methods which may be retried.
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	// StatusCodes lists the response status codes which are retried.
	StatusCodes []int `yaml:"statusCodes,omitempty" json:"statusCodes,omitempty"`
	// ErrorCodes lists the transport error codes which are retried.
	ErrorCodes []string `yaml:"errorCodes,omitempty" json:"errorCodes,omitempty"`
	// MaxRetryAfter caps how long a Retry-After header may ask the
	// client to wait. Zero means the request timeout if set, and no
	// cap otherwise.
	MaxRetryAfter time.Duration `yaml:"maxRetryAfter,omitempty" json:"maxRetryAfter,omitempty"`
	// CalculateDelay, if set, decides every retry. Its result is the
	// delay before the next attempt, or a negative value for no retry.
	CalculateDelay DelayFunc `yaml:"-" json:"-"`
}

// DelayInput is the argument to a DelayFunc.
type DelayInput struct {
	// AttemptCount is the number of the attempt which just failed,
	// starting at one.
	AttemptCount int
	// Retry is the retry configuration in force.
	Retry RetryOptions
	// Err is the error which ended the attempt. For an HTTP status
	// failure it is an *HTTPError.
	Err error
	// Response is the response of the attempt, if any.
	Response *Response
	// ComputedDelay is the built-in policy's answer: a delay, or a
	// negative value if the built-in policy would not retry.
	ComputedDelay time.Duration
}

// A DelayFunc computes the delay before a retry. A negative result
// means "do not retry".
type DelayFunc func(in DelayInput) time.Duration

func (r RetryOptions) clone() RetryOptions {
	c := r
	c.Methods = append([]string(nil), r.Methods...)
	c.StatusCodes = append([]int(nil), r.StatusCodes...)
	c.ErrorCodes = append([]string(nil), r.ErrorCodes...)
	return c
}

// Draft returns a mutable copy of o. Normalizing the returned draft
// with Renormalize and no edits yields Options equal to o.
func (o *Options) Draft() *Draft {
	d := &Draft{
		URL:                o.URL.String(),
		Method:             o.Method,
		Header:             o.Header.Clone(),
		Timeout:            clonePtr(&o.Timeout),
		Hooks:              o.Hooks.Clone(),
		Context:            o.Context,
		Cache:              o.Cache,
		CacheNamespace:     o.CacheNamespace,
		DNSCache:           o.DNSCache,
		ResponseType:       o.ResponseType,
		Encoding:           clonePtr(&o.Encoding),
		ThrowHTTPErrors:    Bool(o.ThrowHTTPErrors),
		Decompress:         Bool(o.Decompress),
		ResolveBodyOnly:    Bool(o.ResolveBodyOnly),
		IsStream:           Bool(o.IsStream),
		FollowRedirect:     Bool(o.FollowRedirect),
		MaxRedirects:       Int(o.MaxRedirects),
		AllowGetBody:       Bool(o.AllowGetBody),
		RejectUnauthorized: Bool(o.RejectUnauthorized),
	}
	if o.PrefixURL != "" {
		d.PrefixURL = String(o.PrefixURL)
	}
	r := o.Retry.clone()
	d.Retry = &r
	if o.CA != nil {
		d.CA = append([]byte(nil), o.CA...)
	}
	switch o.Body.Kind {
	case BytesBody:
		d.Body = append([]byte(nil), o.Body.Bytes...)
	case StreamBody:
		d.Body = o.Body.Stream
	case JSONBody:
		d.JSON = o.Body.Value
	case FormBody:
		d.Form = o.Body.Value
	}
	return d
}

// String returns the method and URL of o.
func (o *Options) String() string {
	return o.Method + " " + o.URL.String()
}

// LogValue implements slog.LogValuer.
func (o *Options) LogValue() slog.Value {
	if o == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("method", o.Method),
		slog.String("url", redactedURL(o.URL)),
		slog.String("responseType", string(o.ResponseType)),
		slog.Int("retryLimit", o.Retry.Limit),
		slog.Bool("cache", o.Cache != nil),
		slog.Bool("stream", o.IsStream),
	)
}

// CacheKey returns the key under which a response to o is stored.
func (o *Options) CacheKey() string {
	return cache.Key(o.CacheNamespace, o.Method, o.URL.String())
}

// ToRequest creates the lower-level HTTP request for o. The body, if
// any, is attached from Body.Reader.
func (o *Options) ToRequest(ctx context.Context) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, o.Method, o.URL.String(), o.Body.Reader())
	if err != nil {
		return nil, err
	}
	r.Header = o.Header.Clone()
	if o.Body.Kind != NoBody && o.Body.Kind != StreamBody {
		b := o.Body.Bytes
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	return r, nil
}

func redactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
