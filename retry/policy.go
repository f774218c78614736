// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/reqflow/request"
)

// Stop is the delay meaning "do not retry".
const Stop time.Duration = -1

// A Policy controls if and how retries are done for a logical request.
// After every failed attempt, a Policy decides whether a retry should
// be done and, if so, how long the wait period should be before
// retrying.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
//
// A Policy is composed of the Decider and Waiter interfaces. Use
// FromOptions to build the policy described by request retry options,
// or NewPolicy to compose your own.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy is the policy built from the default retry options. It
// is a composition of DefaultDecider and RetryAfter(DefaultWaiter).
var DefaultPolicy Policy = policy{DefaultDecider, RetryAfter(DefaultWaiter)}

// Never is a policy that never retries.
var Never Policy = policy{Times(0), DefaultWaiter}

type policy struct {
	decider Decider
	waiter  Waiter
}

// NewPolicy composes a Decider and a Waiter into a retry Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	if d == nil {
		panic("reqflow/retry: nil decider")
	}
	if w == nil {
		panic("reqflow/retry: nil waiter")
	}
	return policy{decider: d, waiter: w}
}

// FromOptions builds the policy described by the retry options of o:
// NewDecider for the decision and RetryAfter(DefaultWaiter) for the
// delay.
func FromOptions(o *request.Options) Policy {
	return policy{
		decider: NewDecider(&o.Retry, o.Timeout.Request),
		waiter:  RetryAfter(DefaultWaiter),
	}
}

func (p policy) Decide(e *request.Execution) bool {
	return p.decider.Decide(e)
}

func (p policy) Wait(e *request.Execution) time.Duration {
	return p.waiter.Wait(e)
}

// Delay returns the delay before retrying the failed attempt of e, or
// Stop. The built-in answer comes from p; if the options of e carry a
// CalculateDelay function, it receives that answer and its result is
// final.
func Delay(p Policy, e *request.Execution) time.Duration {
	d := Stop
	if p.Decide(e) {
		d = p.Wait(e)
	}
	if e.Options == nil || e.Options.Retry.CalculateDelay == nil {
		return d
	}
	d = e.Options.Retry.CalculateDelay(request.DelayInput{
		AttemptCount:  e.Attempt + 1,
		Retry:         e.Options.Retry,
		Err:           e.Err,
		Response:      e.Response,
		ComputedDelay: d,
	})
	if d < 0 {
		return Stop
	}
	return d
}
