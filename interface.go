// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gogama/reqflow/request"
)

// A Transport sends one lower-level HTTP request on behalf of the
// engine and returns the response, without following redirects.
//
// The options are those of the attempt being dispatched; a Transport
// may use them to select TLS or DNS settings. Dispatch must honor the
// context of r, aborting the exchange when it is cancelled. The engine
// always closes the response body.
//
// Implementations of Transport must be safe for concurrent use by
// multiple goroutines. The default Transport is a *transport.Pool.
type Transport interface {
	Dispatch(o *request.Options, r *http.Request) (*http.Response, error)
}

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard library http.Client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	Do(r *http.Request) (*http.Response, error)
}

// FromDoer adapts an HTTPDoer, such as an *http.Client, into a
// Transport. The engine expects to see redirect responses itself, so an
// *http.Client used this way should have a CheckRedirect function which
// returns http.ErrUseLastResponse; otherwise the HTTPDoer follows
// redirects and the engine never sees them.
func FromDoer(d HTTPDoer) Transport {
	if d == nil {
		panic("reqflow: nil doer")
	}
	return doerTransport{d}
}

type doerTransport struct {
	doer HTTPDoer
}

func (t doerTransport) Dispatch(_ *request.Options, r *http.Request) (*http.Response, error) {
	return t.doer.Do(r)
}

func (t doerTransport) CloseIdleConnections() {
	if ic, ok := t.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}

// Doer is the interface that wraps the basic Do method.
//
// Do runs a logical request described by configuration layers merged
// onto the Doer's defaults, and returns the final response (and error,
// if any). Client implements the Doer interface, and any other Doer
// implementation must behave substantially the same as Client.Do.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Doer interface {
	Do(ctx context.Context, layers ...*request.Draft) (*request.Response, error)
}

// Getter is the interface that wraps the basic Get method.
//
// Get issues a GET to the specified URL and returns the final response
// (and error, if any). Client implements the Getter interface.
//
// Any Doer can be used to emulate a Getter via the Get function.
type Getter interface {
	Get(ctx context.Context, url string) (*request.Response, error)
}

// Header is the interface that wraps the basic Head method.
//
// Head issues a HEAD to the specified URL and returns the final
// response (and error, if any). Client implements the Header interface.
//
// Any Doer can be used to emulate a Header via the Head function.
type Header interface {
	Head(ctx context.Context, url string) (*request.Response, error)
}

// Poster is the interface that wraps the basic Post method.
//
// Post issues a POST to the specified URL and returns the final
// response (and error, if any). Client implements the Poster interface.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by the Body field of request.Draft, namely: string;
// []byte; and io.Reader.
//
// Any Doer can be used to emulate a Poster via the Post function.
type Poster interface {
	Post(ctx context.Context, url, contentType string, body interface{}) (*request.Response, error)
}

// FormPoster is the interface that wraps the basic PostForm method.
//
// PostForm issues a POST to the specified URL with data's keys and
// values URL-encoded as the request body, and returns the final
// response (and error, if any). Client implements the FormPoster
// interface.
//
// Any Doer can be used to emulate a FormPoster via the PostForm
// function.
type FormPoster interface {
	PostForm(ctx context.Context, url string, data url.Values) (*request.Response, error)
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// If the underlying implementation supports it, CloseIdleConnections
// closes any idle which were previously connected from previous
// requests but are now sitting idle in a "keep-alive" state. It does
// not interrupt any connections currently in use.
//
// If the underlying implementation does not support this ability,
// CloseIdleConnections does nothing.
type IdleCloser interface {
	CloseIdleConnections()
}

// Executor is the interface that groups the basic Do, Get, Head, Post,
// PostForm, and CloseIdleConnections methods.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Executor interface {
	Doer
	Getter
	Header
	Poster
	FormPoster
	IdleCloser
}

// Get uses the specified Doer to issue a GET to the specified URL. The
// URL is given as positional input, so it is resolved against the
// PrefixURL of d, if any.
func Get(ctx context.Context, d Doer, url string) (*request.Response, error) {
	return d.Do(ctx, &request.Draft{Input: url, Method: http.MethodGet})
}

// Head uses the specified Doer to issue a HEAD to the specified URL.
func Head(ctx context.Context, d Doer, url string) (*request.Response, error) {
	return d.Do(ctx, &request.Draft{Input: url, Method: http.MethodHead})
}

// Post uses the specified Doer to issue a POST to the specified URL.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by the Body field of request.Draft, namely: string;
// []byte; and io.Reader.
func Post(ctx context.Context, d Doer, url, contentType string, body interface{}) (*request.Response, error) {
	return d.Do(ctx, bodyDraft(http.MethodPost, url, contentType, body))
}

// Put uses the specified Doer to issue a PUT to the specified URL. The
// body parameter is as for Post.
func Put(ctx context.Context, d Doer, url, contentType string, body interface{}) (*request.Response, error) {
	return d.Do(ctx, bodyDraft(http.MethodPut, url, contentType, body))
}

// Patch uses the specified Doer to issue a PATCH to the specified URL.
// The body parameter is as for Post.
func Patch(ctx context.Context, d Doer, url, contentType string, body interface{}) (*request.Response, error) {
	return d.Do(ctx, bodyDraft(http.MethodPatch, url, contentType, body))
}

// Delete uses the specified Doer to issue a DELETE to the specified URL.
func Delete(ctx context.Context, d Doer, url string) (*request.Response, error) {
	return d.Do(ctx, &request.Draft{Input: url, Method: http.MethodDelete})
}

// PostForm uses the specified Doer to issue a POST to the specified URL,
// with data's keys and values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
func PostForm(ctx context.Context, d Doer, url string, data url.Values) (*request.Response, error) {
	return d.Do(ctx, &request.Draft{Input: url, Method: http.MethodPost, Form: data})
}

func bodyDraft(method, url, contentType string, body interface{}) *request.Draft {
	d := &request.Draft{Input: url, Method: method, Body: body}
	if contentType != "" {
		d.SetHeader("Content-Type", contentType)
	}
	return d
}

// Inflate converts any non-nil Doer into an Executor. This may be
// helpful for interop across library boundaries, i.e. if code that only
// has access to a Doer needs to call a function that requires an
// Executor.
func Inflate(d Doer) Executor {
	if d == nil {
		panic("reqflow: nil doer")
	}

	if e, ok := d.(Executor); ok {
		return e
	}

	return inflated{d}
}

type inflated struct {
	doer Doer
}

func (i inflated) Do(ctx context.Context, layers ...*request.Draft) (*request.Response, error) {
	return i.doer.Do(ctx, layers...)
}

func (i inflated) Get(ctx context.Context, url string) (*request.Response, error) {
	return Get(ctx, i.doer, url)
}

func (i inflated) Head(ctx context.Context, url string) (*request.Response, error) {
	return Head(ctx, i.doer, url)
}

func (i inflated) Post(ctx context.Context, url, contentType string, body interface{}) (*request.Response, error) {
	return Post(ctx, i.doer, url, contentType, body)
}

func (i inflated) PostForm(ctx context.Context, url string, data url.Values) (*request.Response, error) {
	return PostForm(ctx, i.doer, url, data)
}

func (i inflated) CloseIdleConnections() {
	if ic, ok := i.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}
