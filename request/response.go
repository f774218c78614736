// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"unicode/utf8"

	"github.com/gogama/reqflow/timeout"
	"github.com/tidwall/gjson"
)

// A Response is the result of one network round trip or cache hit. It
// is immutable once the engine hands it out; the decoding methods
// memoize their results, so calling several of them never re-reads or
// re-fetches anything and always reflects the same captured bytes.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	// Body is the raw body as received after decompression. It is nil
	// for streamed responses.
	Body []byte

	// URL is the URL actually fetched, after any redirects.
	URL *url.URL
	// RequestURL is the URL of the original request.
	RequestURL *url.URL
	// RedirectURLs lists the redirect targets followed, in order.
	RedirectURLs []*url.URL

	Timings     timeout.Timings
	IsFromCache bool
	RetryCount  int
	// Options are the options of the attempt which produced the
	// response. They must not be modified.
	Options *Options

	lock     sync.Mutex
	text     *string
	json     *jsonMemo
	rendered map[Encoding]string
}

type jsonMemo struct {
	v   interface{}
	err error
}

// OK reports whether the status code is 2xx or 3xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// Bytes returns the raw body.
func (r *Response) Bytes() []byte {
	return r.Body
}

// Text returns the body rendered in the encoding of the response
// options. For utf8 this is the raw text, never a re-serialization.
func (r *Response) Text() string {
	enc := UTF8
	if r.Options != nil {
		enc = r.Options.Encoding
	}
	return r.TextAs(enc)
}

// TextAs returns the body rendered in the given encoding.
func (r *Response) TextAs(enc Encoding) string {
	r.lock.Lock()
	defer r.lock.Unlock()
	if enc == UTF8 || enc == "" {
		if r.text == nil {
			s := string(r.Body)
			r.text = &s
		}
		return *r.text
	}
	if s, ok := r.rendered[enc]; ok {
		return s
	}
	s := encode(r.Body, enc)
	if r.rendered == nil {
		r.rendered = make(map[Encoding]string)
	}
	r.rendered[enc] = s
	return s
}

// JSON returns the body decoded as JSON. An empty body decodes to the
// empty string. A body which is not valid JSON yields a *ParseError.
func (r *Response) JSON() (interface{}, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.json == nil {
		m := &jsonMemo{}
		if len(bytes.TrimSpace(r.Body)) == 0 {
			m.v = ""
		} else {
			dec := json.NewDecoder(bytes.NewReader(r.Body))
			dec.UseNumber()
			if err := dec.Decode(&m.v); err != nil {
				m.v, m.err = nil, NewParseError(err, r)
			}
		}
		r.json = m
	}
	return r.json.v, r.json.err
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return NewParseError(err, r)
	}
	return nil
}

// Get returns the value at a gjson path in the JSON body, for example
// "items.0.name".
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decoded returns the body decoded per the ResponseType of the response
// options: a string for text, the JSON value for json, and the raw
// bytes for buffer.
func (r *Response) Decoded() (interface{}, error) {
	rt := Text
	if r.Options != nil {
		rt = r.Options.ResponseType
	}
	switch rt {
	case JSON:
		return r.JSON()
	case Buffer:
		return r.Body, nil
	default:
		return r.Text(), nil
	}
}

func encode(b []byte, enc Encoding) string {
	switch enc {
	case Base64:
		return base64.StdEncoding.EncodeToString(b)
	case Hex:
		return hex.EncodeToString(b)
	case Latin1:
		buf := make([]byte, 0, len(b))
		for _, c := range b {
			buf = utf8.AppendRune(buf, rune(c))
		}
		return string(buf)
	default:
		return string(b)
	}
}
