// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transport provides Pool, the default network transport of the
// reqflow engine.
//
// A Pool keeps one connection-pooling http.Client per distinct TLS
// configuration found in request options (certificate verification on
// or off, extra certificate authorities). Every client negotiates
// HTTP/2 where the server offers it, never follows redirects and never
// decompresses response bodies; those are the engine's business. If a
// request carries a DNS cache store, host names are resolved through
// it.
package transport
