// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"github.com/gogama/reqflow/request"
)

// runBeforeError passes err through hooks in order. A hook returning
// nil leaves the error unchanged. A hook returning an error wrapped by
// request.Halt ends the chain early.
func runBeforeError(hooks []request.BeforeErrorHook, err error) error {
	for _, h := range hooks {
		next := h(err)
		if next == nil {
			continue
		}
		if inner, ok := request.Halted(next); ok {
			return inner
		}
		err = next
	}
	return err
}

// afterResponse runs the afterResponse hooks of o on resp. Each hook
// receives the response returned by the previous one. If a hook calls
// its retry function, the chain stops and the overlay passed to the
// retry function is returned with the index of the hook.
func (e *engine) afterResponse(o *request.Options, resp *request.Response) (*request.Response, *request.Draft, int, error) {
	for i, h := range o.Hooks.AfterResponse {
		var overlay *request.Draft
		retried := false
		retry := func(d *request.Draft) (*request.Response, error) {
			if d == nil {
				d = &request.Draft{}
			}
			overlay, retried = d, true
			return nil, errHookRetry
		}
		next, err := h(e.ctx, resp, retry)
		if retried {
			return nil, overlay, i, nil
		}
		if err != nil {
			return nil, nil, 0, err
		}
		if cerr := e.canceled(o); cerr != nil {
			return nil, nil, 0, cerr
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil, 0, nil
}
