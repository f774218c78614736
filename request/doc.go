// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core types describing a logical HTTP
request: Draft (one layer of configuration, and the mutable view handed
to hooks), Options (the normalized, immutable descriptor of one
attempt), Execution (the state of the logical request across attempts),
and Response.

A logical request is described by layering drafts, typically the client
defaults followed by per-call options:

	o, err := request.Normalize(nil, &request.Draft{
		PrefixURL:    request.String("https://api.example.com"),
		Input:        "users",
		SearchParams: map[string]interface{}{"page": 2},
	})
	...

Normalize validates the merged layers. Invalid combinations, such as a
body on a GET request or both Path and Pathname, produce a
*ValidationError. Every other failure of a logical request is reported
as one of the error types embedding RequestError, all of which satisfy
the Error interface.

Hooks never modify an Options value. They are handed a Draft obtained
from Options.Draft, and the engine commits their edits with
Renormalize, which produces the next Options snapshot.

Execution is both the state carried by the engine and the input of
retry policies and event handlers. You will typically not allocate
Execution instances yourself.
*/
package request
