// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gogama/reqflow/cache"
	"github.com/gogama/reqflow/timeout"
)

// A Draft is one layer of request configuration, and also the mutable
// view of a request which is handed to hooks.
//
// Pointer fields, nil interfaces, and empty strings mean "unset": when
// layers are merged with Merge or Normalize, an unset field in a later
// layer leaves the earlier value alone. Headers merge key by key (a key
// mapped to an empty slice deletes the earlier value) and hook lists
// concatenate. Context is never merged: the latest non-nil Context
// replaces earlier ones by reference.
//
// Exactly one of Input and URL may be set. Exactly one of Body, JSON
// and Form may be set.
type Draft struct {
	// Input is the URL given positionally, as in client.Get(input). If
	// PrefixURL is set, Input is resolved relative to it and must not
	// begin with a slash.
	Input string `yaml:"input,omitempty" json:"input,omitempty"`
	// URL is the absolute URL to request.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// PrefixURL is prepended to Input. A trailing slash is ignored. A
	// URL given or edited by hooks must begin with it; only redirects
	// may leave it.
	PrefixURL *string `yaml:"prefixUrl,omitempty" json:"prefixUrl,omitempty"`

	// Protocol, Hostname, Port, Username and Password assemble a URL
	// when no string URL is given. Username and Password are also
	// applied to a string URL.
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Hostname string `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Port     string `yaml:"port,omitempty" json:"port,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Path replaces the path and query of the URL. Pathname replaces
	// only the path. Search replaces the query. A leading "?" on Search
	// is optional.
	Path     *string `yaml:"path,omitempty" json:"path,omitempty"`
	Pathname *string `yaml:"pathname,omitempty" json:"pathname,omitempty"`
	Search   *string `yaml:"search,omitempty" json:"search,omitempty"`
	// SearchParams replaces the query of the URL. It may be a
	// map[string]interface{} whose values are strings, numbers,
	// booleans or nil, a pre-encoded string, or a url.Values.
	SearchParams interface{} `yaml:"searchParams,omitempty" json:"searchParams,omitempty"`

	Method string      `yaml:"method,omitempty" json:"method,omitempty"`
	Header http.Header `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Body is a string, []byte or io.Reader. A reader is sent as a
	// stream and cannot be replayed on retry.
	Body interface{} `yaml:"body,omitempty" json:"body,omitempty"`
	// JSON is encoded as the JSON request body.
	JSON interface{} `yaml:"json,omitempty" json:"json,omitempty"`
	// Form is a url.Values, map[string]string or map[string]interface{}
	// encoded as an application/x-www-form-urlencoded body.
	Form interface{} `yaml:"form,omitempty" json:"form,omitempty"`

	Retry   *RetryOptions   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout *timeout.Config `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Hooks   Hooks           `yaml:"-" json:"-"`

	// Context is opaque user data made available to hooks. It is
	// carried by reference and never logged, serialized or merged.
	Context interface{} `yaml:"-" json:"-"`

	Cache          cache.Store `yaml:"-" json:"-"`
	CacheNamespace string      `yaml:"cacheNamespace,omitempty" json:"cacheNamespace,omitempty"`
	DNSCache       cache.Store `yaml:"-" json:"-"`

	ResponseType ResponseType `yaml:"responseType,omitempty" json:"responseType,omitempty"`
	// Encoding is the text encoding applied to the response body by
	// Response.Text. Setting it to the empty string is an error.
	Encoding *Encoding `yaml:"encoding,omitempty" json:"encoding,omitempty"`

	ThrowHTTPErrors *bool `yaml:"throwHttpErrors,omitempty" json:"throwHttpErrors,omitempty"`
	Decompress      *bool `yaml:"decompress,omitempty" json:"decompress,omitempty"`
	ResolveBodyOnly *bool `yaml:"resolveBodyOnly,omitempty" json:"resolveBodyOnly,omitempty"`
	IsStream        *bool `yaml:"isStream,omitempty" json:"isStream,omitempty"`
	FollowRedirect  *bool `yaml:"followRedirect,omitempty" json:"followRedirect,omitempty"`
	MaxRedirects    *int  `yaml:"maxRedirects,omitempty" json:"maxRedirects,omitempty"`
	AllowGetBody    *bool `yaml:"allowGetBody,omitempty" json:"allowGetBody,omitempty"`

	// RejectUnauthorized, if false, disables verification of the
	// server certificate chain.
	RejectUnauthorized *bool `yaml:"rejectUnauthorized,omitempty" json:"rejectUnauthorized,omitempty"`
	// CA holds PEM-encoded certificate authorities trusted in addition
	// to the system pool.
	CA []byte `yaml:"ca,omitempty" json:"ca,omitempty"`
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Retries returns retry options with the given limit, inheriting every
// other setting from the earlier layers.
func Retries(limit int) *RetryOptions { return &RetryOptions{Limit: limit} }

// Timeout returns a timeout configuration with a single budget d for
// the whole request.
func Timeout(d time.Duration) *timeout.Config {
	c := timeout.Overall(d)
	return &c
}

// Merge returns a new Draft containing the layers of d overridden by
// each of layers in turn. Neither d nor any layer is modified; nil
// layers are skipped.
func (d *Draft) Merge(layers ...*Draft) *Draft {
	m := d.Clone()
	for _, l := range layers {
		if l != nil {
			m.overlay(l)
		}
	}
	return m
}

// Clone returns a deep copy of d, except that Body readers, JSON and
// Form values, SearchParams, stores and Context are shared.
func (d *Draft) Clone() *Draft {
	c := &Draft{}
	if d == nil {
		return c
	}
	*c = *d
	c.PrefixURL = clonePtr(d.PrefixURL)
	c.Path = clonePtr(d.Path)
	c.Pathname = clonePtr(d.Pathname)
	c.Search = clonePtr(d.Search)
	c.Header = d.Header.Clone()
	if d.Retry != nil {
		r := d.Retry.clone()
		c.Retry = &r
	}
	c.Timeout = clonePtr(d.Timeout)
	c.Hooks = d.Hooks.Clone()
	c.Encoding = clonePtr(d.Encoding)
	c.ThrowHTTPErrors = clonePtr(d.ThrowHTTPErrors)
	c.Decompress = clonePtr(d.Decompress)
	c.ResolveBodyOnly = clonePtr(d.ResolveBodyOnly)
	c.IsStream = clonePtr(d.IsStream)
	c.FollowRedirect = clonePtr(d.FollowRedirect)
	c.MaxRedirects = clonePtr(d.MaxRedirects)
	c.AllowGetBody = clonePtr(d.AllowGetBody)
	c.RejectUnauthorized = clonePtr(d.RejectUnauthorized)
	if d.CA != nil {
		c.CA = append([]byte(nil), d.CA...)
	}
	if b, ok := d.Body.([]byte); ok {
		c.Body = append([]byte(nil), b...)
	}
	return c
}

func (d *Draft) overlay(l *Draft) {
	setString(&d.Input, l.Input)
	setString(&d.URL, l.URL)
	setPtr(&d.PrefixURL, l.PrefixURL)
	setString(&d.Protocol, l.Protocol)
	setString(&d.Hostname, l.Hostname)
	setString(&d.Port, l.Port)
	setString(&d.Username, l.Username)
	setString(&d.Password, l.Password)
	setPtr(&d.Path, l.Path)
	setPtr(&d.Pathname, l.Pathname)
	setPtr(&d.Search, l.Search)
	if l.SearchParams != nil {
		d.SearchParams = l.SearchParams
	}
	setString(&d.Method, l.Method)
	d.Header = mergeHeader(d.Header, l.Header)
	if l.Body != nil || l.JSON != nil || l.Form != nil {
		d.Body, d.JSON, d.Form = l.Body, l.JSON, l.Form
	}
	if l.Retry != nil {
		r := mergeRetry(d.Retry, l.Retry)
		d.Retry = &r
	}
	if l.Timeout != nil {
		var base timeout.Config
		if d.Timeout != nil {
			base = *d.Timeout
		}
		t := base.Merge(*l.Timeout)
		d.Timeout = &t
	}
	d.Hooks = d.Hooks.Append(l.Hooks)
	if l.Context != nil {
		d.Context = l.Context
	}
	if l.Cache != nil {
		d.Cache = l.Cache
	}
	setString(&d.CacheNamespace, l.CacheNamespace)
	if l.DNSCache != nil {
		d.DNSCache = l.DNSCache
	}
	if l.ResponseType != "" {
		d.ResponseType = l.ResponseType
	}
	setPtr(&d.Encoding, l.Encoding)
	setPtr(&d.ThrowHTTPErrors, l.ThrowHTTPErrors)
	setPtr(&d.Decompress, l.Decompress)
	setPtr(&d.ResolveBodyOnly, l.ResolveBodyOnly)
	setPtr(&d.IsStream, l.IsStream)
	setPtr(&d.FollowRedirect, l.FollowRedirect)
	setPtr(&d.MaxRedirects, l.MaxRedirects)
	setPtr(&d.AllowGetBody, l.AllowGetBody)
	setPtr(&d.RejectUnauthorized, l.RejectUnauthorized)
	if l.CA != nil {
		d.CA = append([]byte(nil), l.CA...)
	}
}

func mergeHeader(base, over http.Header) http.Header {
	if len(over) == 0 {
		return base
	}
	m := base.Clone()
	if m == nil {
		m = make(http.Header, len(over))
	}
	for k, v := range over {
		k = http.CanonicalHeaderKey(k)
		if len(v) == 0 {
			delete(m, k)
			continue
		}
		m[k] = append([]string(nil), v...)
	}
	return m
}

// mergeRetry overlays l onto base. Limit always comes from l; every
// other zero-valued field of l inherits from base.
func mergeRetry(base, l *RetryOptions) RetryOptions {
	var r RetryOptions
	if base != nil {
		r = base.clone()
	}
	r.Limit = l.Limit
	if l.Methods != nil {
		r.Methods = append([]string(nil), l.Methods...)
	}
	if l.StatusCodes != nil {
		r.StatusCodes = append([]int(nil), l.StatusCodes...)
	}
	if l.ErrorCodes != nil {
		r.ErrorCodes = append([]string(nil), l.ErrorCodes...)
	}
	if l.MaxRetryAfter != 0 {
		r.MaxRetryAfter = l.MaxRetryAfter
	}
	if l.CalculateDelay != nil {
		r.CalculateDelay = l.CalculateDelay
	}
	return r
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = clonePtr(v)
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// AddCookie adds a cookie to the draft. Per RFC 6265 section 5.4,
// AddCookie does not attach more than one Cookie header field. That
// means all cookies, if any, are written into the same line,
// separated by semicolons.
func (d *Draft) AddCookie(c *http.Cookie) {
	c2 := &http.Cookie{Name: c.Name, Value: c.Value}
	s := c2.String()
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	if h := d.Header.Get("Cookie"); h != "" {
		d.Header.Set("Cookie", h+"; "+s)
	} else {
		d.Header.Set("Cookie", s)
	}
}

// SetBasicAuth sets the Authorization header to use HTTP Basic
// Authentication with the provided username and password.
func (d *Draft) SetBasicAuth(username, password string) {
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	auth := username + ":" + password
	d.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
}

// SetHeader sets a header, creating the header map if necessary.
func (d *Draft) SetHeader(key, value string) {
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	d.Header.Set(key, value)
}
