// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

// An Event identifies the event type when installing or running a
// Handler. Install event handlers in a Client, or on a single Stream,
// to observe the transitions of the engine.
type Event int

const (
	// EventStart identifies the event that occurs when the engine
	// starts work on a logical request.
	//
	// When the engine fires EventStart, the execution's options are set
	// unless normalization failed, in which case EventError follows
	// immediately.
	EventStart Event = iota
	// EventRequest identifies the event that occurs before each
	// network dispatch, once the lower-level request is built.
	//
	// When the engine fires EventRequest, the execution's Request field
	// is set to the request about to be sent. Requests served from cache
	// do not fire EventRequest.
	EventRequest
	// EventResponse identifies the event that occurs when a response is
	// received or served from cache, before it is classified as a
	// redirect, a retry or a final response.
	//
	// When the engine fires EventResponse, the execution's Response and
	// FromCache fields describe the response. For a network response the
	// body may not have been read yet.
	EventResponse
	// EventRedirect identifies the event that occurs after the
	// beforeRedirect hooks have run, when the engine is about to follow
	// a redirect. The last element of the execution's RedirectURLs is
	// the redirect target.
	EventRedirect
	// EventRetry identifies the event that occurs after the beforeRetry
	// hooks have run, before the retry wait. The execution's Attempt
	// field already holds the number of the upcoming retry.
	EventRetry
	// EventError identifies the event that occurs when the logical
	// request fails, after the beforeError hooks have run. The
	// execution's Err field holds the error surfaced to the caller.
	EventError
	// EventEnd identifies the event that occurs when the engine reaches
	// a terminal state.
	//
	// When the engine fires EventEnd, the execution is in its final
	// state and its End time is set.
	EventEnd
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"start",
	"request",
	"response",
	"redirect",
	"retry",
	"error",
	"end",
}

// Events returns a slice containing all events which can occur in a
// logical request, in the order in which they would first occur.
func Events() []Event {
	return []Event{
		EventStart,
		EventRequest,
		EventResponse,
		EventRedirect,
		EventRetry,
		EventError,
		EventEnd,
	}
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}
