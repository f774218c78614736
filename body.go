// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gogama/reqflow/request"
)

// decompress returns the body of r, decoded according to its
// Content-Encoding if o asks for decompression. The boolean result
// reports whether the body was decoded.
func decompress(o *request.Options, r *http.Response) (io.ReadCloser, bool) {
	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	if !o.Decompress || o.Method == http.MethodHead ||
		r.StatusCode == http.StatusNoContent || r.StatusCode == http.StatusNotModified {
		return body, false
	}
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		return &decoder{src: body, open: func(r io.Reader) (io.ReadCloser, error) {
			z, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			return z, nil
		}}, true
	case "deflate":
		return &decoder{src: body, open: zlib.NewReader}, true
	}
	return body, false
}

// A decoder opens its decompressing reader on the first Read, since
// opening it consumes the compressed stream's header.
type decoder struct {
	src  io.ReadCloser
	open func(io.Reader) (io.ReadCloser, error)
	dec  io.ReadCloser
	err  error
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.dec == nil && d.err == nil {
		dec, err := d.open(d.src)
		if err != nil {
			d.err = err
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			}
		} else {
			d.dec = dec
		}
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.dec.Read(p)
}

func (d *decoder) Close() error {
	if d.dec != nil {
		_ = d.dec.Close()
	}
	return d.src.Close()
}

// A liveBody is the unbuffered response body handed to a stream. It
// releases the resources of the logical request when closed.
type liveBody struct {
	e    *engine
	p    *pending
	lock sync.Mutex
	err  error
}

func (b *liveBody) Read(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.p.body.Read(p)
	if err == io.EOF {
		b.p.resp.Timings = b.p.tracker.Stop()
	} else if err != nil {
		r := b.p.resp
		err = b.e.attemptError(err, r.Options, r, b.p.tracker, b.p.tracker.Snapshot(), b.p.out, request.CodeReadError)
		b.err = err
	}
	return n, err
}

func (b *liveBody) Close() error {
	b.p.close()
	b.e.cancel(context.Canceled)
	return nil
}
