// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvents(t *testing.T) {
	assert.Len(t, eventNames, numEvents)
	assert.Len(t, Events(), numEvents)
	events := Events()
	assert.Equal(t, EventStart, events[EventStart])
	assert.Equal(t, EventRequest, events[EventRequest])
	assert.Equal(t, EventResponse, events[EventResponse])
	assert.Equal(t, EventRedirect, events[EventRedirect])
	assert.Equal(t, EventRetry, events[EventRetry])
	assert.Equal(t, EventError, events[EventError])
	assert.Equal(t, EventEnd, events[EventEnd])
}

func TestEvent_Name(t *testing.T) {
	assert.Equal(t, "start", EventStart.Name())
	assert.Equal(t, "request", EventRequest.Name())
	assert.Equal(t, "response", EventResponse.Name())
	assert.Equal(t, "redirect", EventRedirect.Name())
	assert.Equal(t, "retry", EventRetry.Name())
	assert.Equal(t, "error", EventError.Name())
	assert.Equal(t, "end", EventEnd.String())
}
