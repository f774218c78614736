// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// An Entry is a stored response. The body is kept as raw bytes; any
// text encoding is applied when the entry is read back.
type Entry struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	StatusCode int         `json:"statusCode"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"storedAt"`
	// Lifetime is the freshness lifetime the entry was stored with.
	Lifetime time.Duration `json:"lifetime"`
}

// Fresh reports whether the entry is still fresh at now.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.StoredAt.Add(e.Lifetime))
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	if d := now.Sub(e.StoredAt); d > 0 {
		return d
	}
	return 0
}

// Encode returns the stored form of e.
func Encode(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses the stored form of an entry.
func Decode(b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("reqflow/cache: corrupt entry: %w", err)
	}
	return &e, nil
}
