// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http/httptrace"
	"sync"
	"time"
)

// Timings holds the moments at which an attempt passed each milestone,
// and the durations derived from them. Milestones which were not
// reached (for example Lookup and Connect on a reused connection) are
// left as the zero time.
type Timings struct {
	Start         time.Time
	Socket        time.Time
	Lookup        time.Time
	Connect       time.Time
	SecureConnect time.Time
	Upload        time.Time
	Response      time.Time
	End           time.Time
	Phases        PhaseTimings
}

// PhaseTimings holds the durations between the milestones of Timings.
type PhaseTimings struct {
	Wait      time.Duration
	DNS       time.Duration
	TCP       time.Duration
	TLS       time.Duration
	Request   time.Duration
	FirstByte time.Duration
	Download  time.Duration
	Total     time.Duration
}

// A Tracker enforces a Config on one request attempt and records its
// Timings. Use Track to create one.
type Tracker struct {
	cfg    Config
	cancel context.CancelCauseFunc

	lock     sync.Mutex
	timers   [numPhases]*time.Timer
	timings  Timings
	exceeded *Error
	stopped  bool
}

// Track derives a context from ctx which carries an httptrace hook
// enforcing the budgets in cfg, and returns it with its Tracker. The
// Request budget starts counting immediately.
//
// The caller must call Release once the attempt is over, including
// after the response body has been read.
func Track(ctx context.Context, cfg Config) (context.Context, *Tracker) {
	ctx, cancel := context.WithCancelCause(ctx)
	t := &Tracker{
		cfg:    cfg,
		cancel: cancel,
	}
	t.timings.Start = time.Now()
	t.arm(Request)
	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) {
			t.mark(&t.timings.Socket)
		},
		DNSStart: func(_ httptrace.DNSStartInfo) {
			t.arm(Lookup)
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			t.disarm(Lookup)
			t.mark(&t.timings.Lookup)
		},
		ConnectStart: func(_, _ string) {
			t.arm(Connect)
		},
		ConnectDone: func(_, _ string, err error) {
			t.disarm(Connect)
			if err == nil {
				t.mark(&t.timings.Connect)
			}
		},
		TLSHandshakeStart: func() {
			t.arm(SecureConnect)
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			t.disarm(SecureConnect)
			if err == nil {
				t.mark(&t.timings.SecureConnect)
			}
		},
		GotConn: func(_ httptrace.GotConnInfo) {
			t.arm(Send)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			t.disarm(Send)
			t.mark(&t.timings.Upload)
			t.arm(Response)
		},
		GotFirstResponseByte: func() {
			t.disarm(Response)
			t.mark(&t.timings.Response)
		},
	}
	return httptrace.WithClientTrace(ctx, trace), t
}

// Exceeded returns the timeout error if one of the budgets was
// exceeded, and nil otherwise.
func (t *Tracker) Exceeded() *Error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.exceeded
}

// Stop disarms all timers and returns the final timings. Stop is
// idempotent; later calls return the timings computed by the first.
func (t *Tracker) Stop() Timings {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.stopped {
		t.stopped = true
		for i, timer := range t.timers {
			if timer != nil {
				timer.Stop()
				t.timers[i] = nil
			}
		}
		t.timings.End = time.Now()
		t.timings.Phases = phaseTimings(&t.timings)
	}
	return t.timings
}

// Snapshot returns the timings so far without stopping the tracker. End
// is the time of the call.
func (t *Tracker) Snapshot() Timings {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.stopped {
		return t.timings
	}
	s := t.timings
	s.End = time.Now()
	s.Phases = phaseTimings(&s)
	return s
}

// Release stops the tracker and cancels the attempt context.
func (t *Tracker) Release() {
	t.Stop()
	t.cancel(context.Canceled)
}

// Cause returns the *Error that cancelled ctx, if any.
func Cause(ctx context.Context) *Error {
	var err *Error
	if errors.As(context.Cause(ctx), &err) {
		return err
	}
	return nil
}

func (t *Tracker) arm(p Phase) {
	d := t.cfg.Get(p)
	if d <= 0 {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.stopped {
		return
	}
	if old := t.timers[p]; old != nil {
		old.Stop()
	}
	t.timers[p] = time.AfterFunc(d, func() {
		t.fire(&Error{Phase: p, Budget: d})
	})
}

func (t *Tracker) disarm(p Phase) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if timer := t.timers[p]; timer != nil {
		timer.Stop()
		t.timers[p] = nil
	}
}

func (t *Tracker) fire(err *Error) {
	t.lock.Lock()
	if t.stopped || t.exceeded != nil {
		t.lock.Unlock()
		return
	}
	t.exceeded = err
	t.lock.Unlock()
	t.cancel(err)
}

func (t *Tracker) mark(m *time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()
	*m = time.Now()
}

func phaseTimings(t *Timings) PhaseTimings {
	var p PhaseTimings
	between := func(a, b time.Time) time.Duration {
		if a.IsZero() || b.IsZero() {
			return 0
		}
		return b.Sub(a)
	}
	p.Wait = between(t.Start, t.Socket)
	p.DNS = between(t.Socket, t.Lookup)
	p.TCP = between(t.Lookup, t.Connect)
	p.TLS = between(t.Connect, t.SecureConnect)
	connected := t.SecureConnect
	if connected.IsZero() {
		connected = t.Connect
	}
	if connected.IsZero() {
		connected = t.Socket
	}
	p.Request = between(connected, t.Upload)
	p.FirstByte = between(t.Upload, t.Response)
	p.Download = between(t.Response, t.End)
	p.Total = between(t.Start, t.End)
	return p
}
