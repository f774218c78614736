// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/gogama/reqflow/request"
	"golang.org/x/net/http/httpguts"
)

// A Stream is the duplex form of a logical request, returned by
// Client.Stream. Bytes written to it form the request body, and the
// response body is read from it.
//
// Nothing is sent until the first call to Read, Write, Close, WriteTo
// or Response. Handlers installed with On before then receive every
// event of the request. The response body is not buffered unless the
// response is stored in a cache, so the stream must be read to the end
// or destroyed to release its connection.
//
// Redirects and retries happen before the response body is exposed.
// Once a request body has been written it cannot be sent again, so a
// Stream with a written body is never retried.
type Stream struct {
	e        *engine
	o        *request.Options
	err      error
	handlers *HandlerGroup

	startOnce sync.Once
	started   bool
	lock      sync.Mutex

	pw *io.PipeWriter

	readErrOnce sync.Once
}

// errStreamEnded closes the request body pipe once the logical request
// has finished.
var errStreamEnded = errors.New("reqflow: stream has ended")

func newStream(e *engine, o *request.Options, err error) *Stream {
	s := &Stream{e: e, o: o, err: err, handlers: &HandlerGroup{}}
	e.handlers = append(e.handlers, s.handlers)
	return s
}

// On installs handler h for event evt. It panics if the stream has
// already started.
func (s *Stream) On(evt Event, h Handler) *Stream {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		panic("reqflow: stream already started")
	}
	s.handlers.PushBack(evt, h)
	return s
}

func (s *Stream) start(body bool) {
	s.startOnce.Do(func() {
		s.lock.Lock()
		s.started = true
		s.lock.Unlock()
		o, err := s.o, s.err
		if body && err == nil {
			pr, pw := io.Pipe()
			s.pw = pw
			d := o.Draft()
			d.Body = pr
			o, err = request.Renormalize(o, d)
			go func() {
				<-s.e.done
				_ = pr.CloseWithError(errStreamEnded)
			}()
		}
		go s.e.run(o, err)
	})
}

// Write writes p to the request body, starting the request if needed.
// Write fails if the options already carry a body, or if the method
// does not allow one.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	s.start(true)
	if s.pw == nil {
		return 0, io.ErrClosedPipe
	}
	return s.pw.Write(p)
}

func (s *Stream) checkWritable() error {
	o := s.o
	if o == nil {
		return s.err
	}
	switch o.Body.Kind {
	case request.NoBody:
	case request.JSONBody:
		return streamBodyConflict("json")
	case request.FormBody:
		return streamBodyConflict("form")
	default:
		return streamBodyConflict("body")
	}
	if !request.MethodAllowsBody(o.Method, o.AllowGetBody) {
		return &request.ValidationError{
			Kind:   request.BodyNotAllowed,
			Fields: []string{"body"},
			Msg:    fmt.Sprintf("the `%s` method cannot be used with a body", o.Method),
		}
	}
	return nil
}

func streamBodyConflict(field string) error {
	return &request.ValidationError{
		Kind:   request.ExclusiveOptions,
		Fields: []string{field, "stream"},
		Msg:    fmt.Sprintf("the `%s` option cannot be used together with a written stream body", field),
	}
}

// Close ends the request body. If nothing was written, the request is
// sent without a body.
func (s *Stream) Close() error {
	s.start(false)
	if s.pw != nil {
		return s.pw.Close()
	}
	return nil
}

// Read reads from the response body, waiting for the response if
// needed. If the logical request failed, Read returns its error.
func (s *Stream) Read(p []byte) (int, error) {
	s.start(false)
	e := s.e
	<-e.done
	if e.err != nil {
		return 0, e.err
	}
	if e.body == nil {
		return 0, io.EOF
	}
	n, err := e.body.Read(p)
	switch {
	case err == io.EOF:
		_ = e.body.Close()
	case err != nil:
		s.readErrOnce.Do(func() {
			err = e.surface(err)
		})
	}
	return n, err
}

// Response waits for the response and returns it. The Body field of a
// streamed response is nil unless it was served from or stored to a
// cache; read the body from the stream.
func (s *Stream) Response() (*request.Response, error) {
	s.start(false)
	<-s.e.done
	return s.e.resp, s.e.err
}

// IsFromCache returns nil until the response is known, and then
// whether it was served from cache.
func (s *Stream) IsFromCache() *bool {
	return request.Tristate(s.e.fromCache.Load()).Ptr()
}

// Execution returns the execution state of the logical request. It must
// only be read once the response is known.
func (s *Stream) Execution() *request.Execution {
	return s.e.x
}

// Destroy cancels the logical request. A request in flight is aborted,
// and a response body being read is closed. Destroy does not wait.
func (s *Stream) Destroy() {
	e := s.e
	e.abort(request.ErrCanceled)
	if s.pw != nil {
		_ = s.pw.CloseWithError(request.ErrCanceled)
	}
	select {
	case <-e.done:
		if e.body != nil {
			_ = e.body.Close()
			if out := e.x.Request; out != nil {
				out.Abort()
			}
		}
	default:
	}
}

// A HeaderWriter is an http.ResponseWriter that reports whether its
// status and headers have been sent. WriteTo leaves the headers of a
// HeaderWriter alone once they are written. Wrap a plain ResponseWriter
// with TrackHeaders to make it one.
type HeaderWriter interface {
	http.ResponseWriter
	HeaderWritten() bool
}

// TrackHeaders wraps w so that it records when its headers are sent.
func TrackHeaders(w http.ResponseWriter) *TrackedWriter {
	if tw, ok := w.(*TrackedWriter); ok {
		return tw
	}
	return &TrackedWriter{ResponseWriter: w}
}

// A TrackedWriter is the HeaderWriter returned by TrackHeaders.
type TrackedWriter struct {
	http.ResponseWriter
	written bool
}

// WriteHeader sends the status and headers.
func (w *TrackedWriter) WriteHeader(status int) {
	if status >= 200 || status == http.StatusSwitchingProtocols {
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write sends the headers, if not yet sent, and then p.
func (w *TrackedWriter) Write(p []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(p)
}

// HeaderWritten reports whether the headers have been sent.
func (w *TrackedWriter) HeaderWritten() bool {
	return w.written
}

// Unwrap returns the wrapped writer, for http.ResponseController.
func (w *TrackedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// WriteTo copies the response body to w. If w is an http.ResponseWriter
// the status and headers of the response are copied first, minus
// hop-by-hop headers and the encoding headers of a decompressed body,
// unless w is a HeaderWriter whose headers were already written.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	resp, err := s.Response()
	if err != nil {
		return 0, err
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		if hw, ok := w.(HeaderWriter); !ok || !hw.HeaderWritten() {
			copyHeader(rw.Header(), resp.Header, s.e.decompressed)
			rw.WriteHeader(resp.StatusCode)
		}
	}
	return io.Copy(w, readerOnly{s})
}

// Hop-by-hop headers. These are removed when sent to the backend.
// http://www.w3.org/Protocols/rfc2616/rfc2616-sec13.html
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header, decompressed bool) {
	for k, vv := range src {
		k = textproto.CanonicalMIMEHeaderKey(k)
		if isHopHeader(k) || httpguts.HeaderValuesContainsToken(src["Connection"], k) {
			continue
		}
		if decompressed && (k == "Content-Encoding" || k == "Content-Length") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if h == k {
			return true
		}
	}
	return false
}

// readerOnly hides the WriterTo method of a Stream from io.Copy.
type readerOnly struct {
	io.Reader
}
