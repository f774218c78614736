// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200, Body: []bodyChunk{
			{Data: []byte("stream")},
			{Pause: 20 * time.Millisecond, Data: []byte("ed")},
		}}
		s := New().Stream(context.Background(), i.layer(httpServer))
		assert.Nil(t, s.IsFromCache())
		b, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "streamed", string(b))
		r, err := s.Response()
		require.NoError(t, err)
		assert.Equal(t, 200, r.StatusCode)
		assert.Nil(t, r.Body)
		require.NotNil(t, s.IsFromCache())
		assert.False(t, *s.IsFromCache())
		assert.True(t, s.Execution().Ended())
	})
	t.Run("cache flag unknown until response", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200, Body: textBody("x")}
		s := New().Stream(context.Background(), i.layer(httpServer))
		var atRequest, atResponse *bool
		requestSeen := false
		s.On(EventRequest, HandlerFunc(func(Event, *request.Execution) {
			requestSeen = true
			atRequest = s.IsFromCache()
		}))
		s.On(EventResponse, HandlerFunc(func(Event, *request.Execution) {
			atResponse = s.IsFromCache()
		}))
		assert.Nil(t, s.IsFromCache())
		_, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.True(t, requestSeen)
		assert.Nil(t, atRequest)
		require.NotNil(t, atResponse)
		assert.False(t, *atResponse)
	})
	t.Run("write", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200}
		s := New().Stream(context.Background(), i.layer(httpServer), &request.Draft{Method: "POST"})
		n, err := s.Write([]byte("hello "))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		_, err = io.WriteString(s, "world")
		require.NoError(t, err)
		require.NoError(t, s.Close())
		r, err := s.Response()
		require.NoError(t, err)
		assert.Equal(t, "POST", r.Header.Get("X-Echo-Method"))
		assert.Equal(t, "hello world", r.Header.Get("X-Echo-Body"))
		_, err = io.ReadAll(s)
		assert.NoError(t, err)
	})
	t.Run("write not allowed", func(t *testing.T) {
		testCases := []struct {
			name   string
			layer  *request.Draft
			kind   request.ValidationKind
			fields []string
		}{
			{"GET", &request.Draft{}, request.BodyNotAllowed, []string{"body"}},
			{"body", &request.Draft{Method: "POST", Body: "x"}, request.ExclusiveOptions, []string{"body", "stream"}},
			{"json", &request.Draft{Method: "POST", JSON: 1}, request.ExclusiveOptions, []string{"json", "stream"}},
			{"form", &request.Draft{Method: "PUT", Form: map[string]string{"a": "b"}}, request.ExclusiveOptions, []string{"form", "stream"}},
		}
		for _, testCase := range testCases {
			t.Run(testCase.name, func(t *testing.T) {
				mockDoer := newMockHTTPDoer(t)
				cl := New()
				cl.Transport = FromDoer(mockDoer)
				s := cl.Stream(context.Background(), &request.Draft{URL: "http://example.com"}, testCase.layer)
				n, err := s.Write([]byte("x"))
				assert.Equal(t, 0, n)
				var ve *request.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, testCase.kind, ve.Kind)
				assert.Equal(t, testCase.fields, ve.Fields)
				s.Destroy()
				mockDoer.AssertNotCalled(t, "Do", mock.Anything)
			})
		}
	})
	t.Run("invalid options", func(t *testing.T) {
		s := New().Stream(context.Background(), &request.Draft{})
		_, err := s.Read(make([]byte, 8))
		var ve *request.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, request.MissingArgument, ve.Kind)
		_, err = s.Write([]byte("x"))
		assert.ErrorAs(t, err, &ve)
	})
	t.Run("HTTP error", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 404, Body: textBody("nope")}
		s := New().Stream(context.Background(), i.layer(httpServer))
		_, err := io.ReadAll(s)
		var he *request.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, 404, he.StatusCode())
	})
	t.Run("cache", func(t *testing.T) {
		store := cache.NewMemoryStore()
		cl := New(&request.Draft{Cache: store})
		i := &serverInstruction{StatusCode: 200, Header: maxAge60, Body: textBody("cached")}

		s1 := cl.Stream(context.Background(), i.layer(httpServer))
		b, err := io.ReadAll(s1)
		require.NoError(t, err)
		assert.Equal(t, "cached", string(b))
		require.NotNil(t, s1.IsFromCache())
		assert.False(t, *s1.IsFromCache())
		assert.Equal(t, 1, store.Len())

		s2 := cl.Stream(context.Background(), i.layer(httpServer))
		b, err = io.ReadAll(s2)
		require.NoError(t, err)
		assert.Equal(t, "cached", string(b))
		require.NotNil(t, s2.IsFromCache())
		assert.True(t, *s2.IsFromCache())
	})
	t.Run("destroy on request", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200}
		s := New().Stream(context.Background(), i.layer(httpServer))
		var responses int
		s.On(EventRequest, HandlerFunc(func(Event, *request.Execution) {
			s.Destroy()
		}))
		s.On(EventResponse, HandlerFunc(func(Event, *request.Execution) {
			responses++
		}))
		r, err := s.Response()
		assert.Nil(t, r)
		var ce *request.CancelError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, request.ErrCanceled)
		assert.Equal(t, 0, responses)
		x := s.Execution()
		require.NotNil(t, x.Request)
		assert.True(t, x.Request.Aborted())
		assert.True(t, x.Canceled())
	})
	t.Run("destroy while reading", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200, Body: []bodyChunk{
			{Data: []byte("first")},
			{Pause: time.Second, Data: []byte("second")},
		}}
		s := New().Stream(context.Background(), i.layer(httpServer))
		p := make([]byte, 5)
		_, err := io.ReadFull(s, p)
		require.NoError(t, err)
		assert.Equal(t, "first", string(p))
		s.Destroy()
		_, err = io.ReadAll(s)
		var ce *request.CancelError
		assert.ErrorAs(t, err, &ce)
		assert.True(t, s.Execution().Request.Aborted())
	})
	t.Run("On after start", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200}
		s := New().Stream(context.Background(), i.layer(httpServer))
		require.NoError(t, s.Close())
		assert.PanicsWithValue(t, "reqflow: stream already started", func() {
			s.On(EventEnd, HandlerFunc(func(Event, *request.Execution) {}))
		})
		_, _ = io.ReadAll(s)
	})
}

func TestStreamWriteTo(t *testing.T) {
	t.Run("ResponseWriter", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		resp := response(201, "payload")
		resp.Header = http.Header{
			"Connection":   {"X-Drop"},
			"Keep-Alive":   {"timeout=5"},
			"X-Drop":       {"1"},
			"X-Custom":     {"yes"},
			"Content-Type": {"text/plain"},
		}
		mockDoer.On("Do", mock.Anything).Return(resp, nil).Once()
		cl := New()
		cl.Transport = FromDoer(mockDoer)

		rec := httptest.NewRecorder()
		n, err := cl.Stream(context.Background(), &request.Draft{URL: "http://example.com"}).WriteTo(rec)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, 201, rec.Code)
		assert.Equal(t, "payload", rec.Body.String())
		assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		assert.Empty(t, rec.Header().Get("Connection"))
		assert.Empty(t, rec.Header().Get("Keep-Alive"))
		assert.Empty(t, rec.Header().Get("X-Drop"))
	})
	t.Run("headers already written", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		resp := response(201, "payload")
		resp.Header.Set("X-Custom", "yes")
		mockDoer.On("Do", mock.Anything).Return(resp, nil).Once()
		cl := New()
		cl.Transport = FromDoer(mockDoer)

		rec := httptest.NewRecorder()
		tw := TrackHeaders(rec)
		tw.Header().Set("X-Own", "1")
		tw.WriteHeader(202)
		require.True(t, tw.HeaderWritten())
		n, err := cl.Stream(context.Background(), &request.Draft{URL: "http://example.com"}).WriteTo(tw)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, 202, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-Own"))
		assert.Empty(t, rec.Header().Get("X-Custom"))
		assert.Equal(t, "payload", rec.Body.String())
	})
	t.Run("tracked writer not yet written", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		resp := response(201, "payload")
		resp.Header.Set("X-Custom", "yes")
		mockDoer.On("Do", mock.Anything).Return(resp, nil).Once()
		cl := New()
		cl.Transport = FromDoer(mockDoer)

		rec := httptest.NewRecorder()
		tw := TrackHeaders(rec)
		assert.Same(t, tw, TrackHeaders(tw))
		assert.False(t, tw.HeaderWritten())
		_, err := cl.Stream(context.Background(), &request.Draft{URL: "http://example.com"}).WriteTo(tw)
		require.NoError(t, err)
		assert.True(t, tw.HeaderWritten())
		assert.Equal(t, 201, rec.Code)
		assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
		assert.Same(t, rec, tw.Unwrap())
	})
	t.Run("decompressed", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		resp := response(200, "")
		z := gzipped(t, "unzipped")
		resp.Body = io.NopCloser(bytes.NewReader(z))
		resp.Header.Set("Content-Encoding", "gzip")
		resp.Header.Set("Content-Length", "99")
		mockDoer.On("Do", mock.Anything).Return(resp, nil).Once()
		cl := New()
		cl.Transport = FromDoer(mockDoer)

		rec := httptest.NewRecorder()
		_, err := cl.Stream(context.Background(), &request.Draft{URL: "http://example.com"}).WriteTo(rec)
		require.NoError(t, err)
		assert.Equal(t, "unzipped", rec.Body.String())
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Empty(t, rec.Header().Get("Content-Length"))
	})
	t.Run("plain writer", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 200, Body: textBody("to a buffer")}
		var buf bytes.Buffer
		n, err := New().Stream(context.Background(), i.layer(httpServer)).WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(11), n)
		assert.Equal(t, "to a buffer", buf.String())
	})
	t.Run("error", func(t *testing.T) {
		i := &serverInstruction{StatusCode: 500}
		rec := httptest.NewRecorder()
		_, err := New(&request.Draft{Retry: request.Retries(0)}).Stream(context.Background(), i.layer(httpServer)).WriteTo(rec)
		var he *request.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, 0, rec.Body.Len())
	})
}
