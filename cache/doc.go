// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package cache defines the four-operation key/value contract (Store) the
request engine uses to serve responses without contacting the origin,
along with the entry format written into a Store and the Cache-Control
rules deciding what may be written.

The engine consults a Store before every GET or HEAD dispatch, keyed by
Key. Values are opaque to the Store: they are Entry values encoded with
Encode. A Store must tolerate concurrent use by independent requests.

MemoryStore is a process-local Store. Package cache/sqlitestore provides
a persistent one.

	store := cache.NewMemoryStore()
	client := reqflow.New(&request.Draft{Cache: store})
*/
package cache
