// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultUserAgent is sent when no User-Agent header is configured.
const DefaultUserAgent = "reqflow (https://github.com/gogama/reqflow)"

// DefaultMaxRedirects is the redirect limit used when none is set.
const DefaultMaxRedirects = 10

// Defaults returns the built-in base configuration layer.
func Defaults() *Draft {
	return &Draft{
		Method: http.MethodGet,
		Retry: &RetryOptions{
			Limit:       2,
			Methods:     []string{"GET", "PUT", "HEAD", "DELETE", "OPTIONS", "TRACE"},
			StatusCodes: []int{408, 413, 429, 500, 502, 503, 504, 521, 522, 524},
			ErrorCodes: []string{
				"ETIMEDOUT", "ECONNRESET", "EADDRINUSE", "ECONNREFUSED",
				"EPIPE", "ENOTFOUND", "ENETUNREACH", "EAI_AGAIN",
			},
		},
		ResponseType:       Text,
		Encoding:           encodingPtr(UTF8),
		ThrowHTTPErrors:    Bool(true),
		Decompress:         Bool(true),
		ResolveBodyOnly:    Bool(false),
		IsStream:           Bool(false),
		FollowRedirect:     Bool(true),
		MaxRedirects:       Int(DefaultMaxRedirects),
		AllowGetBody:       Bool(false),
		RejectUnauthorized: Bool(true),
	}
}

// Normalize merges layers onto defaults and validates the result. If
// defaults is nil, Defaults() is used. Init hooks are not run; see
// MergeLayers and Build for running them in between.
func Normalize(defaults *Draft, layers ...*Draft) (*Options, error) {
	d, err := MergeLayers(defaults, layers...)
	if err != nil {
		return nil, err
	}
	return Build(d)
}

// MergeLayers merges layers onto defaults without validating the URL,
// so that init hooks may run on the result.
func MergeLayers(defaults *Draft, layers ...*Draft) (*Draft, error) {
	if defaults == nil {
		defaults = Defaults()
	}
	d := defaults.Merge(layers...)
	if d.Input != "" && d.URL != "" {
		return nil, inputAndURL()
	}
	if err := d.Hooks.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Build validates d and produces the first Options of a request.
func Build(d *Draft) (*Options, error) {
	if err := d.Hooks.validate(); err != nil {
		return nil, err
	}
	return build(d, nil, false)
}

// Renormalize commits a Draft edited by hooks into a new Options which
// replaces prev. If the draft changes the prefix, the URL must begin
// with either the old prefix, which is rewritten to the new one, or the
// new prefix. Otherwise an edited URL must still begin with the prefix.
func Renormalize(prev *Options, d *Draft) (*Options, error) {
	if err := d.Hooks.validate(); err != nil {
		return nil, err
	}
	return build(d, prev, false)
}

// Redirected is Renormalize for a draft whose URL is a redirect target.
// The target may lie outside the prefix, and so may every URL derived
// from it afterwards.
func Redirected(prev *Options, d *Draft) (*Options, error) {
	if err := d.Hooks.validate(); err != nil {
		return nil, err
	}
	return build(d, prev, true)
}

var exclusivePairs = [][2]string{
	{"path", "pathname"},
	{"path", "search"},
	{"path", "searchParams"},
	{"search", "searchParams"},
}

func build(d *Draft, prev *Options, redirect bool) (*Options, error) {
	set := map[string]bool{
		"path":         d.Path != nil,
		"pathname":     d.Pathname != nil,
		"search":       d.Search != nil,
		"searchParams": d.SearchParams != nil,
	}
	for _, pair := range exclusivePairs {
		if set[pair[0]] && set[pair[1]] {
			return nil, exclusive(pair[0], pair[1])
		}
	}
	if d.Input != "" && d.URL != "" {
		return nil, inputAndURL()
	}

	o := &Options{
		Hooks:          d.Hooks.Clone(),
		Context:        d.Context,
		Cache:          d.Cache,
		CacheNamespace: d.CacheNamespace,
		DNSCache:       d.DNSCache,
		CA:             d.CA,
	}
	if err := resolveFlags(d, o); err != nil {
		return nil, err
	}

	prefix := ""
	if d.PrefixURL != nil {
		prefix = strings.TrimSuffix(*d.PrefixURL, "/")
	}
	o.PrefixURL = prefix

	u, err := resolveURL(d, prefix)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.PrefixURL != prefix {
		if u, err = changePrefix(u, prev.PrefixURL, prefix); err != nil {
			return nil, err
		}
	}
	if prefix != "" && !redirect && !leftPrefix(prev) && !strings.HasPrefix(u.String(), prefix) {
		return nil, prefixMismatch(prev, *d.PrefixURL, u)
	}
	o.URL = u

	method := strings.ToUpper(d.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, &ValidationError{
			Kind:   InvalidOption,
			Fields: []string{"method"},
			Msg:    fmt.Sprintf("invalid method %q", d.Method),
		}
	}
	o.Method = method

	if o.Header, err = canonicalHeader(d.Header); err != nil {
		return nil, err
	}
	if o.Body, err = resolveBody(d, method, o.AllowGetBody); err != nil {
		return nil, err
	}
	defaultHeaders(o)

	if d.Retry != nil {
		o.Retry = d.Retry.clone()
	}
	if d.Timeout != nil {
		o.Timeout = *d.Timeout
	}
	return o, nil
}

func exclusive(a, b string) error {
	return &ValidationError{
		Kind:   ExclusiveOptions,
		Fields: []string{a, b},
		Msg:    fmt.Sprintf("parameters `%s` and `%s` are mutually exclusive", a, b),
	}
}

func inputAndURL() error {
	return &ValidationError{
		Kind:   InvalidURL,
		Fields: []string{"input", "url"},
		Msg:    "the URL option cannot be used together with an input URL",
	}
}

func resolveFlags(d *Draft, o *Options) error {
	o.ResponseType = d.ResponseType
	switch o.ResponseType {
	case "":
		o.ResponseType = Text
	case Text, JSON, Buffer:
	default:
		return &ValidationError{
			Kind:   InvalidOption,
			Fields: []string{"responseType"},
			Msg:    fmt.Sprintf("invalid responseType %q (use text, json or buffer)", d.ResponseType),
		}
	}
	o.Encoding = UTF8
	if d.Encoding != nil {
		if *d.Encoding == "" {
			return &ValidationError{
				Kind:   InvalidOption,
				Fields: []string{"encoding"},
				Msg:    "to get raw bytes, set ResponseType to buffer instead",
			}
		}
		e, ok := encodingAliases[Encoding(strings.ToLower(string(*d.Encoding)))]
		if !ok {
			return &ValidationError{
				Kind:   InvalidOption,
				Fields: []string{"encoding"},
				Msg:    fmt.Sprintf("unknown encoding %q", *d.Encoding),
			}
		}
		o.Encoding = e
	}
	o.ThrowHTTPErrors = boolOr(d.ThrowHTTPErrors, true)
	o.Decompress = boolOr(d.Decompress, true)
	o.ResolveBodyOnly = boolOr(d.ResolveBodyOnly, false)
	o.IsStream = boolOr(d.IsStream, false)
	o.FollowRedirect = boolOr(d.FollowRedirect, true)
	o.AllowGetBody = boolOr(d.AllowGetBody, false)
	o.RejectUnauthorized = boolOr(d.RejectUnauthorized, true)
	o.MaxRedirects = DefaultMaxRedirects
	if d.MaxRedirects != nil {
		if *d.MaxRedirects < 0 {
			return &ValidationError{
				Kind:   InvalidOption,
				Fields: []string{"maxRedirects"},
				Msg:    "maxRedirects must not be negative",
			}
		}
		o.MaxRedirects = *d.MaxRedirects
	}
	return nil
}

func resolveURL(d *Draft, prefix string) (*url.URL, error) {
	var candidate string
	switch {
	case d.URL != "":
		candidate = d.URL
	case d.Input != "" && prefix != "":
		if strings.HasPrefix(d.Input, "/") {
			return nil, &ValidationError{
				Kind:   InvalidURL,
				Fields: []string{"input", "prefixUrl"},
				Msg:    "input must not start with a slash when using prefixUrl",
			}
		}
		candidate = prefix + "/" + d.Input
	case d.Input != "":
		candidate = d.Input
	case d.Hostname != "":
		candidate = assembleURL(d)
	case prefix != "":
		candidate = prefix
	default:
		return nil, &ValidationError{
			Kind:   MissingArgument,
			Fields: []string{"url"},
			Msg:    "missing URL argument",
		}
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Scheme == "" {
		return nil, &ValidationError{
			Kind:   InvalidURL,
			Fields: []string{"url"},
			Msg:    "invalid URL: " + candidate,
		}
	}

	if d.Path != nil {
		p, q, hasQuery := strings.Cut(*d.Path, "?")
		u.Path, u.RawPath = p, ""
		u.RawQuery, u.ForceQuery = "", false
		if hasQuery {
			u.RawQuery = q
		}
	}
	if d.Pathname != nil {
		u.Path, u.RawPath = *d.Pathname, ""
	}
	if d.Search != nil {
		u.RawQuery = strings.TrimPrefix(*d.Search, "?")
		u.ForceQuery = false
	}
	if d.SearchParams != nil {
		q, err := encodeSearchParams(d.SearchParams)
		if err != nil {
			return nil, err
		}
		u.RawQuery, u.ForceQuery = q, false
	}
	if d.Username != "" || d.Password != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.Username, d.Password)
		} else {
			u.User = url.User(d.Username)
		}
	}
	return u, nil
}

func assembleURL(d *Draft) string {
	scheme := strings.TrimSuffix(d.Protocol, ":")
	if scheme == "" {
		scheme = "http"
	}
	host := d.Hostname
	if d.Port != "" {
		host += ":" + d.Port
	}
	return scheme + "://" + host
}

// leftPrefix reports whether a redirect has taken prev outside its
// prefix.
func leftPrefix(prev *Options) bool {
	return prev != nil && prev.PrefixURL != "" && !strings.HasPrefix(prev.URL.String(), prev.PrefixURL)
}

func prefixMismatch(prev *Options, prefix string, u *url.URL) error {
	msg := fmt.Sprintf("the URL %s does not start with prefixUrl %s", u, prefix)
	if prev != nil {
		msg = fmt.Sprintf("cannot change prefixUrl from %s to %s: %s", prev.PrefixURL, prefix, u)
	}
	return &ValidationError{
		Kind:   PrefixMismatch,
		Fields: []string{"prefixUrl"},
		Msg:    msg,
	}
}

func changePrefix(u *url.URL, old, new string) (*url.URL, error) {
	s := u.String()
	switch {
	case old != "" && strings.HasPrefix(s, old):
		s = new + strings.TrimPrefix(s, old)
	case new == "" || strings.HasPrefix(s, new):
		return u, nil
	default:
		return nil, &ValidationError{
			Kind:   PrefixMismatch,
			Fields: []string{"prefixUrl"},
			Msg:    fmt.Sprintf("cannot change prefixUrl from %s to %s: %s", old, new, s),
		}
	}
	v, err := url.Parse(s)
	if err != nil {
		return nil, &ValidationError{
			Kind:   InvalidURL,
			Fields: []string{"prefixUrl"},
			Msg:    "invalid URL: " + s,
		}
	}
	return v, nil
}

func encodeSearchParams(sp interface{}) (string, error) {
	switch x := sp.(type) {
	case string:
		return strings.TrimPrefix(x, "?"), nil
	case url.Values:
		return x.Encode(), nil
	case map[string]string:
		v := make(url.Values, len(x))
		for k, s := range x {
			v.Set(k, s)
		}
		return v.Encode(), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			s, ok := scalarString(x[k])
			if !ok {
				return "", &ValidationError{
					Kind:   InvalidOption,
					Fields: []string{"searchParams"},
					Msg:    fmt.Sprintf("the searchParams value '%v' must be a string, number, boolean or nil", x[k]),
				}
			}
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(s))
		}
		return b.String(), nil
	default:
		return "", &ValidationError{
			Kind:   InvalidOption,
			Fields: []string{"searchParams"},
			Msg:    fmt.Sprintf("searchParams must be a string, url.Values or map, not %T", sp),
		}
	}
}

func scalarString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func canonicalHeader(h http.Header) (http.Header, error) {
	c := make(http.Header, len(h))
	for k, vs := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, &ValidationError{
				Kind:   InvalidOption,
				Fields: []string{"headers"},
				Msg:    fmt.Sprintf("invalid header name %q", k),
			}
		}
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, &ValidationError{
					Kind:   InvalidOption,
					Fields: []string{"headers"},
					Msg:    fmt.Sprintf("invalid value for header %q", k),
				}
			}
		}
		c[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	return c, nil
}

func resolveBody(d *Draft, method string, allowGetBody bool) (Body, error) {
	var names []string
	if d.Body != nil {
		names = append(names, "body")
	}
	if d.JSON != nil {
		names = append(names, "json")
	}
	if d.Form != nil {
		names = append(names, "form")
	}
	if len(names) > 1 {
		return Body{}, exclusive(names[0], names[1])
	}
	if len(names) == 0 {
		return Body{}, nil
	}
	if !MethodAllowsBody(method, allowGetBody) {
		return Body{}, &ValidationError{
			Kind:   BodyNotAllowed,
			Fields: []string{names[0]},
			Msg:    fmt.Sprintf("the `%s` method cannot be used with a body", method),
		}
	}

	switch {
	case d.JSON != nil:
		b, err := json.Marshal(d.JSON)
		if err != nil {
			return Body{}, &ValidationError{
				Kind:   InvalidOption,
				Fields: []string{"json"},
				Msg:    "cannot encode json option: " + err.Error(),
			}
		}
		return Body{Kind: JSONBody, Bytes: b, Value: d.JSON}, nil
	case d.Form != nil:
		s, err := encodeForm(d.Form)
		if err != nil {
			return Body{}, err
		}
		return Body{Kind: FormBody, Bytes: []byte(s), Value: d.Form}, nil
	}

	switch x := d.Body.(type) {
	case string:
		return Body{Kind: BytesBody, Bytes: []byte(x)}, nil
	case []byte:
		return Body{Kind: BytesBody, Bytes: x}, nil
	case io.Reader:
		return Body{Kind: StreamBody, Stream: x}, nil
	default:
		return Body{}, &ValidationError{
			Kind:   InvalidOption,
			Fields: []string{"body"},
			Msg:    fmt.Sprintf("the body option must be a string, []byte or io.Reader, not %T", d.Body),
		}
	}
}

func encodeForm(f interface{}) (string, error) {
	switch x := f.(type) {
	case url.Values:
		return x.Encode(), nil
	case map[string]string:
		v := make(url.Values, len(x))
		for k, s := range x {
			v.Set(k, s)
		}
		return v.Encode(), nil
	case map[string]interface{}:
		v := make(url.Values, len(x))
		for k, val := range x {
			s, ok := scalarString(val)
			if !ok {
				return "", &ValidationError{
					Kind:   InvalidOption,
					Fields: []string{"form"},
					Msg:    fmt.Sprintf("the form value '%v' must be a string, number, boolean or nil", val),
				}
			}
			v.Set(k, s)
		}
		return v.Encode(), nil
	default:
		return "", &ValidationError{
			Kind:   InvalidOption,
			Fields: []string{"form"},
			Msg:    fmt.Sprintf("the form option must be url.Values or a map, not %T", f),
		}
	}
}

// MethodAllowsBody reports whether a request body may be sent with
// method. GET is allowed only with allowGetBody.
func MethodAllowsBody(method string, allowGetBody bool) bool {
	switch method {
	case http.MethodHead:
		return false
	case http.MethodGet:
		return allowGetBody
	}
	return true
}

func defaultHeaders(o *Options) {
	h := o.Header
	switch o.Body.Kind {
	case JSONBody:
		setDefault(h, "Content-Type", "application/json")
	case FormBody:
		setDefault(h, "Content-Type", "application/x-www-form-urlencoded")
	}
	if o.ResponseType == JSON {
		setDefault(h, "Accept", "application/json")
	}
	if o.Decompress {
		setDefault(h, "Accept-Encoding", "gzip, deflate")
	}
	setDefault(h, "User-Agent", DefaultUserAgent)
}

func setDefault(h http.Header, key, value string) {
	if _, ok := h[key]; !ok {
		h.Set(key, value)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func encodingPtr(e Encoding) *Encoding { return &e }
