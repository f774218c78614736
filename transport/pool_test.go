// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/redirect":
		http.Redirect(w, r, "/final", http.StatusFound)
	default:
		w.Header().Set("X-Proto", r.Proto)
		_, _ = io.WriteString(w, "ok")
	}
}

func options(t *testing.T, d *request.Draft) *request.Options {
	o, err := request.Normalize(nil, d)
	require.NoError(t, err)
	return o
}

func dispatch(t *testing.T, p *Pool, o *request.Options) (*http.Response, string, error) {
	r, err := o.ToRequest(context.Background())
	require.NoError(t, err)
	resp, err := p.Dispatch(o, r)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b), nil
}

func TestPool_Plain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()
	p := &Pool{}
	defer p.CloseIdleConnections()

	resp, body, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL}))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", body)

	t.Run("no redirects", func(t *testing.T) {
		resp, _, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL + "/redirect"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/final", resp.Header.Get("Location"))
	})
	t.Run("no transparent decompression", func(t *testing.T) {
		gz := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "gzip, deflate", r.Header.Get("Accept-Encoding"))
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write([]byte{0x1f, 0x8b})
		}))
		defer gz.Close()
		resp, body, err := dispatch(t, p, options(t, &request.Draft{URL: gz.URL}))
		require.NoError(t, err)
		assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
		assert.Equal(t, "\x1f\x8b", body)
	})
}

func TestPool_TLS(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(handler))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()
	p := &Pool{}
	defer p.CloseIdleConnections()

	t.Run("unknown authority", func(t *testing.T) {
		_, _, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL}))
		require.Error(t, err)
		var uerr *url.Error
		assert.True(t, errors.As(err, &uerr))
	})
	t.Run("rejectUnauthorized false", func(t *testing.T) {
		resp, body, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL, RejectUnauthorized: request.Bool(false)}))
		require.NoError(t, err)
		assert.Equal(t, "ok", body)
		assert.Equal(t, "HTTP/2.0", resp.Header.Get("X-Proto"))
	})
	t.Run("trusted CA", func(t *testing.T) {
		ca := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
		_, body, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL, CA: ca}))
		require.NoError(t, err)
		assert.Equal(t, "ok", body)
	})
	t.Run("bad CA", func(t *testing.T) {
		_, _, err := dispatch(t, p, options(t, &request.Draft{URL: srv.URL, CA: []byte("garbage")}))
		assert.ErrorIs(t, err, errNoCertificates)
	})
	assert.Len(t, p.clients, 3)
}

func TestPool_DNSCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p := &Pool{}
	defer p.CloseIdleConnections()

	t.Run("served from store", func(t *testing.T) {
		s := cache.NewMemoryStore()
		require.NoError(t, s.Set(DNSKey("reqflow.invalid"), []byte("127.0.0.1"), time.Minute))
		_, body, err := dispatch(t, p, options(t, &request.Draft{URL: "http://reqflow.invalid:" + port, DNSCache: s}))
		require.NoError(t, err)
		assert.Equal(t, "ok", body)
	})
	t.Run("filled on miss", func(t *testing.T) {
		s := cache.NewMemoryStore()
		_, _, err := dispatch(t, p, options(t, &request.Draft{URL: "http://localhost:" + port, DNSCache: s}))
		require.NoError(t, err)
		v, ok, err := s.Get(DNSKey("localhost"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, v)
	})
}

func TestPool_Limiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()
	p := &Pool{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	defer p.CloseIdleConnections()
	o := options(t, &request.Draft{URL: srv.URL})

	_, _, err := dispatch(t, p, o)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	r, err := o.ToRequest(ctx)
	require.NoError(t, err)
	_, err = p.Dispatch(o, r)
	assert.Error(t, err)
}
