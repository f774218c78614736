// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Directives are the parsed directives of a Cache-Control header.
type Directives struct {
	NoStore        bool
	NoCache        bool
	Private        bool
	Public         bool
	MustRevalidate bool
	MaxAge         *time.Duration
	SMaxAge        *time.Duration
}

// ParseCacheControl parses a Cache-Control header value. Unknown
// directives and malformed values are ignored.
func ParseCacheControl(header string) Directives {
	var d Directives
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if hasValue {
			value = strings.Trim(strings.TrimSpace(value), `"`)
			secs, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			age := time.Duration(secs) * time.Second
			switch key {
			case "max-age":
				d.MaxAge = &age
			case "s-maxage":
				d.SMaxAge = &age
			}
			continue
		}
		switch key {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		case "private":
			d.Private = true
		case "public":
			d.Public = true
		case "must-revalidate":
			d.MustRevalidate = true
		}
	}
	return d
}

var cacheableStatus = map[int]bool{
	200: true, 203: true, 204: true, 300: true, 301: true, 302: true,
	303: true, 307: true, 308: true, 404: true, 405: true, 410: true,
	414: true, 501: true,
}

// Lifetime returns the freshness lifetime of a response received at
// now, and whether the response may be stored at all.
//
// A response is storable if the method is GET or HEAD, the status is
// cacheable by default, the Cache-Control header carries none of
// no-store, no-cache and private, and the response has a positive
// freshness lifetime from max-age, s-maxage or Expires (in that order
// of precedence). A positive Age header reduces the lifetime.
//
// The public directive is not required; max-age alone makes a response
// storable. s-maxage only applies when max-age is absent, since the
// store belongs to one client rather than to a shared proxy.
func Lifetime(method string, status int, h http.Header, now time.Time) (time.Duration, bool) {
	if method != http.MethodGet && method != http.MethodHead {
		return 0, false
	}
	if !cacheableStatus[status] {
		return 0, false
	}
	cc := ParseCacheControl(strings.Join(h.Values("Cache-Control"), ","))
	if cc.NoStore || cc.NoCache || cc.Private {
		return 0, false
	}
	if strings.Contains(strings.ToLower(h.Get("Pragma")), "no-cache") && len(h.Values("Cache-Control")) == 0 {
		return 0, false
	}

	var lifetime time.Duration
	switch {
	case cc.MaxAge != nil:
		lifetime = *cc.MaxAge
	case cc.SMaxAge != nil:
		lifetime = *cc.SMaxAge
	default:
		exp := h.Get("Expires")
		if exp == "" {
			return 0, false
		}
		t, err := http.ParseTime(exp)
		if err != nil {
			return 0, false
		}
		base := now
		if date, err := http.ParseTime(h.Get("Date")); err == nil {
			base = date
		}
		lifetime = t.Sub(base)
	}

	if age, err := strconv.Atoi(strings.TrimSpace(h.Get("Age"))); err == nil && age > 0 {
		lifetime -= time.Duration(age) * time.Second
	}
	if lifetime <= 0 {
		return 0, false
	}
	return lifetime, true
}
