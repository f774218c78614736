// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/request"
)

func cacheable(o *request.Options) bool {
	return o.Cache != nil && (o.Method == http.MethodGet || o.Method == http.MethodHead)
}

// lookup returns the fresh cached response to o, or nil if there is
// none. A stale entry is removed from the store.
func (e *engine) lookup(o *request.Options) (*request.Response, error) {
	if !cacheable(o) {
		return nil, nil
	}
	key := o.CacheKey()
	b, ok, err := o.Cache.Get(key)
	if err != nil {
		return nil, request.NewCacheError(err, o)
	}
	if !ok {
		return nil, nil
	}
	entry, err := cache.Decode(b)
	if err != nil {
		return nil, request.NewCacheError(err, o)
	}
	if !entry.Fresh(time.Now()) {
		e.logger.Debug("cache stale", slog.String("key", key))
		if _, err = o.Cache.Delete(key); err != nil {
			return nil, request.NewCacheError(err, o)
		}
		return nil, nil
	}
	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &request.Response{
		StatusCode:   entry.StatusCode,
		Status:       entry.Status,
		Header:       header,
		Body:         entry.Body,
		URL:          o.URL,
		RequestURL:   e.requestURL,
		RedirectURLs: append([]*url.URL(nil), e.x.RedirectURLs...),
		IsFromCache:  true,
		RetryCount:   e.x.Attempt,
		Options:      o,
	}, nil
}

// willStore reports whether resp is about to be stored in the cache.
func (e *engine) willStore(o *request.Options, resp *request.Response) bool {
	if !cacheable(o) || resp.IsFromCache {
		return false
	}
	_, ok := cache.Lifetime(o.Method, resp.StatusCode, resp.Header, time.Now())
	return ok
}

// store saves the buffered response resp to the cache if its headers
// allow it. A decompressed body is stored without the headers that
// describe its encoded form.
func (e *engine) store(o *request.Options, resp *request.Response, decompressed bool) error {
	if !cacheable(o) || resp.IsFromCache {
		return nil
	}
	now := time.Now()
	lifetime, ok := cache.Lifetime(o.Method, resp.StatusCode, resp.Header, now)
	if !ok {
		return nil
	}
	header := resp.Header.Clone()
	if decompressed {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}
	b, err := cache.Encode(&cache.Entry{
		Method:     o.Method,
		URL:        o.URL.String(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     header,
		Body:       resp.Body,
		StoredAt:   now,
		Lifetime:   lifetime,
	})
	if err != nil {
		return request.NewCacheError(err, o)
	}
	key := o.CacheKey()
	if err = o.Cache.Set(key, b, lifetime); err != nil {
		return request.NewCacheError(err, o)
	}
	e.logger.Debug("cache store", slog.String("key", key), slog.Duration("lifetime", lifetime))
	return nil
}
