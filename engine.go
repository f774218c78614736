// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/retry"
	"github.com/gogama/reqflow/timeout"
	"golang.org/x/time/rate"
)

// An engine runs one logical request. All of its state transitions
// happen on the goroutine executing run, so the only fields touched
// from other goroutines are the cancellation machinery, fromCache and
// the channel done.
type engine struct {
	ctx       context.Context
	cancel    context.CancelCauseFunc
	transport Transport
	policy    retry.Policy
	limiter   *rate.Limiter
	handlers  []*HandlerGroup
	logger    *slog.Logger

	x          *request.Execution
	stream     bool
	requestURL *url.URL
	// bodySent is set once a non-replayable request body has been
	// handed to the transport.
	bodySent bool
	// errorHooks are the beforeError hooks in force, kept separately
	// so that errors raised before the first Options exist can be
	// intercepted too.
	errorHooks []request.BeforeErrorHook

	fromCache atomic.Int32
	done      chan struct{}

	// Outcome, written before done is closed.
	resp         *request.Response
	err          error
	body         io.ReadCloser
	decompressed bool
}

// errHookRetry is returned by the RetryFunc handed to afterResponse
// hooks.
var errHookRetry = errors.New("reqflow: retry requested by afterResponse hook")

// errBodyNotReplayable reports that a request must be sent again but
// its body was a stream which has already been consumed.
var errBodyNotReplayable = errors.New("reqflow: request body was streamed and cannot be sent again")

// prepare merges the configuration layers, runs the init hooks and
// produces the first options snapshot. It runs on the caller's
// goroutine since init hooks are synchronous.
func (e *engine) prepare(defaults *request.Draft, layers []*request.Draft) (*request.Options, error) {
	d, err := request.MergeLayers(defaults, layers...)
	if err != nil {
		return nil, err
	}
	e.errorHooks = d.Hooks.BeforeError
	for _, h := range d.Hooks.Init {
		if err = h(d); err != nil {
			return nil, err
		}
	}
	o, err := request.Build(d)
	if err != nil {
		return nil, err
	}
	e.errorHooks = o.Hooks.BeforeError
	return o, nil
}

// run drives the logical request from the first options snapshot, or
// from the error which prevented producing it, to a terminal state.
func (e *engine) run(o *request.Options, err error) {
	defer close(e.done)
	x := e.x
	x.Options = o
	x.Start = time.Now()
	e.logger.Debug("start", slog.Any("options", o))
	e.fire(EventStart)

	var resp *request.Response
	if err == nil {
		resp, err = e.loop(o)
	}
	if err != nil {
		resp = nil
		err = e.surface(err)
	}

	x.End = time.Now()
	x.Response, x.Err = resp, err
	e.resp, e.err = resp, err
	e.logger.Debug("end", slog.Int("attempt", x.Attempt), slog.Duration("duration", x.Duration()), slog.Any("error", err))
	e.fire(EventEnd)
	if _, live := e.body.(*liveBody); !live {
		e.cancel(context.Canceled)
	}
}

// surface runs the beforeError hooks on err, unless it is a validation
// error, and fires EventError.
func (e *engine) surface(err error) error {
	var ve *request.ValidationError
	if !errors.As(err, &ve) {
		err = runBeforeError(e.errorHooks, err)
	}
	e.x.Err = err
	e.logger.Debug("error", slog.Any("error", err))
	e.fire(EventError)
	return err
}

func (e *engine) fire(evt Event) {
	for _, g := range e.handlers {
		g.run(evt, e.x)
	}
}

// canceled returns a cancellation error if the logical request was
// cancelled, and nil otherwise.
func (e *engine) canceled(o *request.Options) error {
	if e.ctx.Err() != nil {
		return request.NewCancelError(context.Cause(e.ctx), o)
	}
	if e.x.Canceled() {
		return request.NewCancelError(nil, o)
	}
	return nil
}

func (e *engine) abort(cause error) {
	e.x.Cancel()
	e.cancel(cause)
}

// loop is the state machine. Each iteration dispatches one attempt
// (NORMALIZED to AWAITING_RESPONSE) and classifies its outcome: a
// redirect or a retry continues the loop with a new options snapshot,
// anything else returns.
func (e *engine) loop(o *request.Options) (*request.Response, error) {
	x := e.x
	e.requestURL = o.URL
	for {
		if err := e.canceled(o); err != nil {
			return nil, err
		}
		var err error
		if o, err = e.beforeRequest(o); err != nil {
			return nil, err
		}
		if o.URL.Scheme != "http" && o.URL.Scheme != "https" {
			return nil, request.NewUnsupportedProtocolError(o)
		}

		p, err := e.attempt(o)
		if err != nil {
			if next, ok, rerr := e.retryAfterError(o, nil, err); ok {
				o = next
				continue
			} else {
				return nil, rerr
			}
		}
		resp := p.resp
		x.Response, x.Err = resp, nil
		x.FromCache = request.TristateOf(resp.IsFromCache)
		e.fromCache.Store(int32(x.FromCache))
		e.logger.Debug("response", slog.Int("status", resp.StatusCode), slog.Bool("fromCache", resp.IsFromCache))
		e.fire(EventResponse)

		if target, ok := redirectTarget(o, resp); ok {
			if err = e.buffer(p); err != nil {
				if next, ok, rerr := e.retryAfterError(o, nil, err); ok {
					o = next
					continue
				} else {
					return nil, rerr
				}
			}
			if err = e.store(o, resp, p.decompressed); err != nil {
				return nil, err
			}
			if len(x.RedirectURLs) >= o.MaxRedirects {
				return nil, request.NewMaxRedirectsError(resp, len(x.RedirectURLs))
			}
			if o, err = e.redirect(o, resp, target); err != nil {
				return nil, err
			}
			continue
		}

		ok := responseOK(resp.StatusCode, o.FollowRedirect)
		if !ok {
			httpErr := request.NewHTTPError(resp)
			if delay := e.retryDelay(o, resp, httpErr); delay != retry.Stop {
				p.discard()
				if o, err = e.retry(o, httpErr, delay); err != nil {
					return nil, err
				}
				continue
			}
		}

		if !e.stream || e.willStore(o, resp) {
			if err = e.buffer(p); err != nil {
				if next, ok, rerr := e.retryAfterError(o, resp, err); ok {
					o = next
					continue
				} else {
					return nil, rerr
				}
			}
			if err = e.store(o, resp, p.decompressed); err != nil {
				return nil, err
			}
		}

		if e.stream {
			e.decompressed = p.decompressed
			if p.body != nil {
				e.body = &liveBody{e: e, p: p}
			} else {
				e.body = io.NopCloser(bytes.NewReader(resp.Body))
			}
			if !ok && o.ThrowHTTPErrors {
				e.body.Close()
				e.body = nil
				return nil, request.NewHTTPError(resp)
			}
			return resp, nil
		}

		if ok && o.ResponseType == request.JSON {
			if _, err = resp.JSON(); err != nil {
				return nil, err
			}
		}

		final, overlay, index, err := e.afterResponse(o, resp)
		if err != nil {
			return nil, err
		}
		if overlay != nil {
			if o, err = e.hookRetry(o, overlay, index); err != nil {
				return nil, err
			}
			continue
		}
		if final == nil {
			final = resp
		}
		if !responseOK(final.StatusCode, o.FollowRedirect) && o.ThrowHTTPErrors {
			return nil, request.NewHTTPError(final)
		}
		return final, nil
	}
}

// responseOK reports whether a status code is a success: 2xx, 304, or
// any 3xx if redirects are not followed.
func responseOK(status int, followRedirect bool) bool {
	limit := 299
	if !followRedirect {
		limit = 399
	}
	return (status >= 200 && status <= limit) || status == http.StatusNotModified
}

// beforeRequest runs the beforeRequest hooks and commits their edits.
func (e *engine) beforeRequest(o *request.Options) (*request.Options, error) {
	hooks := o.Hooks.BeforeRequest
	if len(hooks) == 0 {
		return o, nil
	}
	d := o.Draft()
	for _, h := range hooks {
		if err := h(e.ctx, d); err != nil {
			return nil, err
		}
		if err := e.canceled(o); err != nil {
			return nil, err
		}
	}
	return e.commit(o, d)
}

// commit produces the options snapshot following o from the draft d
// edited by hooks.
func (e *engine) commit(o *request.Options, d *request.Draft) (*request.Options, error) {
	return e.install(request.Renormalize(o, d))
}

func (e *engine) install(next *request.Options, err error) (*request.Options, error) {
	if err != nil {
		return nil, err
	}
	e.x.Options = next
	e.errorHooks = next.Hooks.BeforeError
	return next, nil
}

// A pending is the response of one attempt whose body may not have
// been read yet.
type pending struct {
	resp         *request.Response
	body         io.ReadCloser
	tracker      *timeout.Tracker
	out          *request.Outgoing
	decompressed bool
	closeOnce    sync.Once
}

func (p *pending) close() {
	p.closeOnce.Do(func() {
		if p.body != nil {
			_ = p.body.Close()
		}
		if p.tracker != nil {
			p.tracker.Release()
		}
	})
}

// discard drains a little of the body, so that the connection may be
// reused, and closes it.
func (p *pending) discard() {
	if p.body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(p.body, 64<<10))
	}
	p.close()
}

// attempt serves o from cache if possible, and otherwise dispatches it
// over the network.
func (e *engine) attempt(o *request.Options) (*pending, error) {
	resp, err := e.lookup(o)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		e.logger.Debug("cache hit", slog.String("key", o.CacheKey()))
		return &pending{resp: resp}, nil
	}
	return e.dispatch(o)
}

func (e *engine) dispatch(o *request.Options) (*pending, error) {
	x := e.x
	if o.Body.Kind == request.StreamBody && e.bodySent {
		return nil, request.NewRequestError(errBodyNotReplayable, o, nil)
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(e.ctx); err != nil {
			if cerr := e.canceled(o); cerr != nil {
				return nil, cerr
			}
			return nil, request.NewRequestError(err, o, nil)
		}
	}

	ctx, tracker := timeout.Track(e.ctx, o.Timeout)
	r, err := o.ToRequest(ctx)
	if err != nil {
		tracker.Release()
		return nil, request.NewRequestError(err, o, nil)
	}
	out := request.NewOutgoing(r)
	x.Request = out
	e.logger.Debug("dispatch", slog.Any("options", o), slog.Int("attempt", x.Attempt))
	e.fire(EventRequest)
	if err = e.canceled(o); err != nil {
		out.Abort()
		tracker.Release()
		return nil, err
	}
	if o.Body.Kind == request.StreamBody {
		e.bodySent = true
	}

	hr, err := e.transport.Dispatch(o, r)
	if err != nil {
		timings := tracker.Stop()
		tracker.Release()
		return nil, e.attemptError(err, o, nil, tracker, timings, out, "")
	}

	resp := &request.Response{
		StatusCode:   hr.StatusCode,
		Status:       hr.Status,
		Header:       hr.Header,
		URL:          o.URL,
		RequestURL:   e.requestURL,
		RedirectURLs: append([]*url.URL(nil), x.RedirectURLs...),
		Timings:      tracker.Snapshot(),
		RetryCount:   x.Attempt,
		Options:      o,
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	body, decompressed := decompress(o, hr)
	return &pending{
		resp:         resp,
		body:         body,
		tracker:      tracker,
		out:          out,
		decompressed: decompressed,
	}, nil
}

// attemptError classifies an error which ended a network attempt:
// cancellation first, then an exceeded phase timeout, and otherwise a
// transport failure.
func (e *engine) attemptError(err error, o *request.Options, r *request.Response, tracker *timeout.Tracker, timings timeout.Timings, out *request.Outgoing, code string) error {
	if cerr := e.canceled(o); cerr != nil {
		if out != nil {
			out.Abort()
		}
		return cerr
	}
	if te := tracker.Exceeded(); te != nil {
		return request.NewTimeoutError(te, o, timings)
	}
	re := request.NewRequestError(err, o, r)
	re.Timings = timings
	if re.Code == "" {
		re.Code = code
	}
	return re
}

// buffer reads the whole body of p into its response.
func (e *engine) buffer(p *pending) error {
	if p.body == nil {
		return nil
	}
	defer p.close()
	b, err := io.ReadAll(p.body)
	timings := p.tracker.Stop()
	p.resp.Timings = timings
	if err != nil {
		return e.attemptError(err, p.resp.Options, p.resp, p.tracker, timings, p.out, request.CodeReadError)
	}
	p.resp.Body = b
	p.body = nil
	return nil
}

// retryDelay consults the retry policy about the failed attempt of o.
func (e *engine) retryDelay(o *request.Options, resp *request.Response, err error) time.Duration {
	var ce *request.CancelError
	if errors.As(err, &ce) {
		return retry.Stop
	}
	if o.Body.Kind == request.StreamBody && e.bodySent {
		return retry.Stop
	}
	x := e.x
	x.Options, x.Response, x.Err = o, resp, err
	p := e.policy
	if p == nil {
		p = retry.FromOptions(o)
	}
	return retry.Delay(p, x)
}

// retryAfterError decides about an attempt which failed with err. If a
// retry is due it returns the next options and true; otherwise it
// returns the error to surface.
func (e *engine) retryAfterError(o *request.Options, resp *request.Response, err error) (*request.Options, bool, error) {
	e.x.Response, e.x.Err = nil, err
	delay := e.retryDelay(o, resp, err)
	if delay == retry.Stop {
		return nil, false, err
	}
	next, rerr := e.retry(o, err, delay)
	if rerr != nil {
		return nil, false, rerr
	}
	return next, true, nil
}

// retry runs the beforeRetry hooks, increments the retry count and
// waits out delay.
func (e *engine) retry(o *request.Options, cause error, delay time.Duration) (*request.Options, error) {
	x := e.x
	next, err := e.beforeRetry(o, cause)
	if err != nil {
		return nil, err
	}
	x.Attempt++
	e.logger.Debug("retry", slog.Int("attempt", x.Attempt), slog.Duration("delay", delay), slog.Any("cause", cause))
	e.fire(EventRetry)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			timer.Stop()
			return nil, e.canceled(next)
		}
	}
	x.Response, x.Err = nil, nil
	return next, nil
}

func (e *engine) beforeRetry(o *request.Options, cause error) (*request.Options, error) {
	hooks := o.Hooks.BeforeRetry
	if len(hooks) == 0 {
		return o, nil
	}
	d := o.Draft()
	for _, h := range hooks {
		if err := h(e.ctx, d, cause, e.x.Attempt+1); err != nil {
			return nil, err
		}
		if err := e.canceled(o); err != nil {
			return nil, err
		}
	}
	return e.commit(o, d)
}

// hookRetry starts the retry requested by the afterResponse hook at
// index. The retry does not consult the retry policy, but it counts as
// a retry, so it uses up the retry budget of later attempts. The hook
// which requested it is dropped from the new options so that it cannot
// request retries forever.
func (e *engine) hookRetry(o *request.Options, overlay *request.Draft, index int) (*request.Options, error) {
	d := o.Draft().Merge(overlay)
	ar := d.Hooks.AfterResponse
	d.Hooks.AfterResponse = append(ar[:index:index], ar[index+1:]...)
	next, err := e.commit(o, d)
	if err != nil {
		return nil, err
	}
	return e.retry(next, nil, 0)
}

// redirectTarget returns the URL to follow if resp is a redirect which
// should be followed.
func redirectTarget(o *request.Options, resp *request.Response) (*url.URL, bool) {
	if !o.FollowRedirect {
		return nil, false
	}
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false
	}
	target, err := o.URL.Parse(loc)
	if err != nil {
		return nil, false
	}
	return target, true
}

// redirect runs the beforeRedirect hooks and produces the options of
// the request to target.
func (e *engine) redirect(o *request.Options, resp *request.Response, target *url.URL) (*request.Options, error) {
	x := e.x
	d := o.Draft()
	d.URL = target.String()

	status := resp.StatusCode
	rewrite := (status == http.StatusSeeOther && o.Method != http.MethodGet && o.Method != http.MethodHead) ||
		((status == http.StatusMovedPermanently || status == http.StatusFound) && o.Method == http.MethodPost)
	if rewrite {
		d.Method = http.MethodGet
		d.Body, d.JSON, d.Form = nil, nil, nil
		d.Header.Del("Content-Type")
		d.Header.Del("Content-Length")
	} else if o.Body.Kind == request.StreamBody && e.bodySent {
		return nil, request.NewRequestError(errBodyNotReplayable, o, resp)
	}
	if target.Host != o.URL.Host {
		d.Header.Del("Authorization")
		d.Header.Del("Cookie")
		d.Username, d.Password = "", ""
	}

	x.RedirectURLs = append(x.RedirectURLs, target)
	for _, h := range o.Hooks.BeforeRedirect {
		if err := h(e.ctx, d, resp); err != nil {
			return nil, err
		}
		if err := e.canceled(o); err != nil {
			return nil, err
		}
	}
	next, err := e.install(request.Redirected(o, d))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("redirect", slog.Int("status", status), slog.String("location", target.Redacted()))
	e.fire(EventRedirect)
	return next, nil
}
