// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"github.com/gogama/reqflow/request"
)

// A Promise is the awaitable result of a logical request started by
// Client.Promise. Its methods are safe for concurrent use by multiple
// goroutines, and every accessor waits for the request to finish.
//
// The body decoding accessors memoize on the final response, so calling
// JSON and then Text returns the raw text and never re-fetches anything.
type Promise struct {
	e *engine
}

// Done returns a channel which is closed when the logical request
// reaches a terminal state.
func (p *Promise) Done() <-chan struct{} {
	return p.e.done
}

// Await waits for the logical request to finish and returns its final
// response or error.
func (p *Promise) Await() (*request.Response, error) {
	<-p.e.done
	return p.e.resp, p.e.err
}

// Value waits for the logical request to finish and returns the final
// response, or, if the ResolveBodyOnly option is set, the body decoded
// per the ResponseType option.
func (p *Promise) Value() (interface{}, error) {
	r, err := p.Await()
	if err != nil {
		return nil, err
	}
	if r.Options != nil && r.Options.ResolveBodyOnly {
		return r.Decoded()
	}
	return r, nil
}

// Text returns the body of the final response as text.
func (p *Promise) Text() (string, error) {
	r, err := p.Await()
	if err != nil {
		return "", err
	}
	return r.Text(), nil
}

// JSON returns the body of the final response decoded as JSON.
func (p *Promise) JSON() (interface{}, error) {
	r, err := p.Await()
	if err != nil {
		return nil, err
	}
	return r.JSON()
}

// DecodeJSON unmarshals the body of the final response into v.
func (p *Promise) DecodeJSON(v interface{}) error {
	r, err := p.Await()
	if err != nil {
		return err
	}
	return r.DecodeJSON(v)
}

// Bytes returns the raw body of the final response.
func (p *Promise) Bytes() ([]byte, error) {
	r, err := p.Await()
	if err != nil {
		return nil, err
	}
	return r.Bytes(), nil
}

// Cancel cancels the logical request. If it has not yet finished, it
// fails with a *request.CancelError. Cancel does not wait.
func (p *Promise) Cancel() {
	p.e.abort(request.ErrCanceled)
}

// Execution returns the execution state of the logical request. It must
// only be read once Done is closed.
func (p *Promise) Execution() *request.Execution {
	return p.e.x
}
