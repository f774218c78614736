// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry decides whether a failed attempt of a logical request
// is retried, and how long to wait before retrying.
//
// The interface Policy defines a retry Policy. The engine builds one
// from the retry options of each request with FromOptions, so most
// callers only ever configure request.RetryOptions:
//
//	client := reqflow.New(&request.Draft{
//		Retry: &request.RetryOptions{Limit: 5, StatusCodes: []int{503}},
//	})
//
// A Policy can also be assembled directly with NewPolicy from a
// decision-maker, Decider, and a wait time calculator, Waiter. Both
// have constructors for common use cases:
//
//	decider := retry.Times(3).
//	               And(retry.Before(5 * time.Second)).
//	               And(retry.StatusCode(500).Or(retry.TransientErr))
//	waiter := retry.NewExpWaiter(100*time.Millisecond, 2*time.Second, time.Now())
//	policy := retry.NewPolicy(decider, waiter)
//
// Delay combines a Policy with the CalculateDelay override of the
// request options, producing either a wait duration or Stop.
package retry
