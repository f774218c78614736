// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/retry"
	"github.com/gogama/reqflow/transport"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var defaultTransport Transport = &transport.Pool{}

// A Client runs logical HTTP requests. Its zero value is a valid
// configuration using the built-in defaults of request.Defaults.
//
// The zero value client uses a shared *transport.Pool as the Transport,
// the retry options of each request as the retry policy, no event
// handlers, and discards its logs.
//
// Client's Transport typically has an internal state (cached TCP
// connections) so Client instances should be reused instead of created
// as needed. Client is safe for concurrent use by multiple goroutines.
//
// Each call to Do, Promise or Stream starts one logical request, which
// one engine runs to completion on its own goroutine: hooks, cache
// lookups, redirects and retries included. Independent logical requests
// share nothing but the Client's configuration, the Transport and any
// cache stores named in their options.
//
// To derive a client with different defaults, use Extend:
//
//	api := reqflow.New(&request.Draft{
//		PrefixURL: request.String("https://api.example.com/v1"),
//		Header:    http.Header{"Authorization": {"Bearer " + token}},
//	})
//	admin := api.Extend(&request.Draft{Retry: request.Retries(0)})
type Client struct {
	// Transport sends the lower-level HTTP requests.
	//
	// If Transport is nil, a shared *transport.Pool is used.
	Transport Transport
	// RetryPolicy decides when to retry failed attempts and how long
	// to sleep after a failed attempt before retrying.
	//
	// If RetryPolicy is nil, the policy built by retry.FromOptions from
	// the retry options of each attempt is used. In both cases the
	// CalculateDelay function of the retry options, if set, has the
	// final word.
	RetryPolicy retry.Policy
	// Handlers allows custom handler chains to be invoked when
	// designated events occur during a logical request.
	//
	// If Handlers is nil, no custom handlers will be run.
	Handlers *HandlerGroup
	// Logger receives debug-level logs of the engine transitions, each
	// tagged with the request_id of the logical request.
	//
	// If Logger is nil, logs are discarded.
	Logger *slog.Logger
	// Limiter, if not nil, is waited on before every network dispatch,
	// including retries and redirects.
	Limiter *rate.Limiter

	defaults *request.Draft
}

// New returns a Client whose defaults are the built-in defaults
// overridden by layers, in order.
func New(layers ...*request.Draft) *Client {
	return &Client{defaults: request.Defaults().Merge(layers...)}
}

// Extend returns a new Client with the same Transport, RetryPolicy,
// Handlers, Logger and Limiter as c, whose defaults are the defaults of
// c overridden by layers. Neither c nor any layer is modified.
func (c *Client) Extend(layers ...*request.Draft) *Client {
	n := *c
	n.defaults = c.base().Merge(layers...)
	return &n
}

// Defaults returns a copy of the merged default configuration of c.
func (c *Client) Defaults() *request.Draft {
	return c.base().Clone()
}

// Do runs a logical request described by layers merged onto the
// defaults of c, waits for it to finish and returns the final response.
//
// An error is returned if the options are invalid (a
// *request.ValidationError) or if the logical request failed after any
// retries mandated by the retry policy. Every error other than a
// validation error is first passed through the beforeError hooks, and
// is typically one of the error types of package request, such as
// *request.HTTPError for a final response whose status code is not 2xx
// or 3xx while ThrowHTTPErrors is set.
//
// The returned response is nil if and only if the error is non-nil.
//
// For simple use cases, the Get, Head, Post, and PostForm methods may
// prove easier to use than Do.
func (c *Client) Do(ctx context.Context, layers ...*request.Draft) (*request.Response, error) {
	return c.Promise(ctx, layers...).Await()
}

// Promise starts a logical request described by layers merged onto the
// defaults of c, and returns immediately. The request runs in the
// background; use the returned Promise to wait for its outcome or to
// cancel it.
func (c *Client) Promise(ctx context.Context, layers ...*request.Draft) *Promise {
	e := c.newEngine(ctx)
	o, err := e.prepare(c.base(), layers)
	go e.run(o, err)
	return &Promise{e: e}
}

// Stream prepares a logical request described by layers merged onto the
// defaults of c, and returns its duplex Stream. The options are
// normalized immediately, but nothing is sent until the first call to
// Read, Write, Close, WriteTo or Response on the stream, so that event
// handlers may be installed with Stream.On first.
func (c *Client) Stream(ctx context.Context, layers ...*request.Draft) *Stream {
	e := c.newEngine(ctx)
	e.stream = true
	layers = append(layers[:len(layers):len(layers)], &request.Draft{IsStream: request.Bool(true)})
	o, err := e.prepare(c.base(), layers)
	return newStream(e, o, err)
}

// Get issues a GET to the specified URL, using the same policies
// followed by Do.
func (c *Client) Get(ctx context.Context, url string) (*request.Response, error) {
	return Get(ctx, c, url)
}

// Head issues a HEAD to the specified URL, using the same policies
// followed by Do.
func (c *Client) Head(ctx context.Context, url string) (*request.Response, error) {
	return Head(ctx, c, url)
}

// Post issues a POST to the specified URL, using the same policies
// followed by Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by the Body field of request.Draft, namely: string;
// []byte; and io.Reader. A body given as an io.Reader is not replayed,
// so a request which has sent it is not retried.
func (c *Client) Post(ctx context.Context, url, contentType string, body interface{}) (*request.Response, error) {
	return Post(ctx, c, url, contentType, body)
}

// Put issues a PUT to the specified URL. The body parameter is as for
// Post.
func (c *Client) Put(ctx context.Context, url, contentType string, body interface{}) (*request.Response, error) {
	return Put(ctx, c, url, contentType, body)
}

// Patch issues a PATCH to the specified URL. The body parameter is as
// for Post.
func (c *Client) Patch(ctx context.Context, url, contentType string, body interface{}) (*request.Response, error) {
	return Patch(ctx, c, url, contentType, body)
}

// Delete issues a DELETE to the specified URL.
func (c *Client) Delete(ctx context.Context, url string) (*request.Response, error) {
	return Delete(ctx, c, url)
}

// PostForm issues a POST to the specified URL, with data's keys and
// values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, url string, data url.Values) (*request.Response, error) {
	return PostForm(ctx, c, url, data)
}

// CloseIdleConnections invokes the same method on the client's
// Transport.
//
// If the Transport has no CloseIdleConnections method, this method does
// nothing.
func (c *Client) CloseIdleConnections() {
	if ic, ok := c.transport().(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}

func (c *Client) base() *request.Draft {
	if c.defaults == nil {
		return request.Defaults()
	}
	return c.defaults
}

func (c *Client) transport() Transport {
	if c.Transport == nil {
		return defaultTransport
	}
	return c.Transport
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return discardLogger
	}
	return c.Logger
}

var discardLogger = slog.New(slog.DiscardHandler)

type requestIDKey struct{}

// RequestID returns the identifier given to the logical request of e,
// as logged under the key request_id, or the empty string if e was not
// created by a Client.
func RequestID(e *request.Execution) string {
	id, _ := e.Value(requestIDKey{}).(string)
	return id
}

func (c *Client) newEngine(ctx context.Context) *engine {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	id := uuid.NewString()
	x := &request.Execution{}
	x.SetValue(requestIDKey{}, id)
	return &engine{
		ctx:       ctx,
		cancel:    cancel,
		transport: c.transport(),
		policy:    c.RetryPolicy,
		limiter:   c.Limiter,
		handlers:  []*HandlerGroup{c.Handlers},
		logger:    c.logger().With(slog.String("request_id", id)),
		x:         x,
		done:      make(chan struct{}),
	}
}

var _ Executor = (*Client)(nil)
