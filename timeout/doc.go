// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package timeout defines phase-scoped timeouts for individual HTTP
request attempts, and collects the per-phase timings of each attempt.

A Config holds one optional budget per Phase. The Request phase covers
the whole attempt, from dispatch until the response body has been read;
the remaining phases cover the sub-steps of establishing a connection
and exchanging the request and response headers:

	cfg := timeout.Config{
		Lookup:  100 * time.Millisecond,
		Connect: 500 * time.Millisecond,
		Request: 10 * time.Second,
	}

Use Track to attach a Tracker to an attempt's context. The Tracker
arms a timer at the start of each phase and disarms it when the phase
ends, and cancels the attempt context with an *Error cause when a
budget is exceeded.
*/
package timeout
