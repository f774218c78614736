// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package reqflow provides a configurable HTTP request engine with hooks,
retries, redirects, phase timeouts and response caching, behind a
simple and familiar interface.

Create a Client to begin making requests.

	client := reqflow.New()
	resp, err := client.Get(ctx, "https://www.example.com")
	...
	resp, err := client.Post(ctx, "https://www.example.com/upload",
		"application/json", buf)
	...
	resp, err := client.PostForm(ctx, "http://example.com/form",
		url.Values{"key": {"Value"}, "id": {"123"}})

Every request is described by configuration layers of type
request.Draft, merged in order onto the client defaults. Set only the
fields you need:

	resp, err := client.Do(ctx, &request.Draft{
		Input:        "users",
		SearchParams: map[string]interface{}{"page": 2},
		ResponseType: request.JSON,
		Retry:        request.Retries(5),
		Timeout:      request.Timeout(10 * time.Second),
	})

Derive clients with shared defaults using Extend:

	api := reqflow.New(&request.Draft{
		PrefixURL: request.String("https://api.example.com/v1"),
	})
	authed := api.Extend(&request.Draft{
		Hooks: request.Hooks{
			BeforeRequest: []request.BeforeRequestHook{
				func(_ context.Context, d *request.Draft) error {
					d.SetHeader("Authorization", "Bearer "+token())
					return nil
				},
			},
		},
	})

Promise starts a request in the background and returns an awaitable
result whose body accessors (Text, JSON, Bytes) memoize. Stream returns a
duplex Stream: write the request body to it, read the response body
from it, or pipe the response straight to an http.ResponseWriter with
WriteTo.

Responses to GET and HEAD requests are cached when the options name a
cache.Store and the response headers allow it. Package cache provides an
in-memory store, and package cache/sqlitestore a persistent one.

For control over the client's retry decisions and timing, set a custom
retry policy using components from package retry. To observe the
engine, install handlers for the events of a logical request:

	handlers := &reqflow.HandlerGroup{}
	handlers.PushBack(reqflow.EventRetry, reqflow.HandlerFunc(
		func(_ reqflow.Event, e *request.Execution) {
			log.Printf("Retry %d of %s", e.Attempt, e.Options)
		}),
	)
	client := reqflow.New()
	client.Handlers = handlers

Package metrics provides ready-made handlers which export Prometheus
metrics.

Package reqflow provides basic interfaces for each method of the client
(Doer, Getter, Header, Poster, FormPoster, and IdleCloser); a combined
interface that composes all the basic methods (Executor); and utility
functions for working with a Doer (Inflate, Get, Head, Post, and
PostForm).
*/
package reqflow
