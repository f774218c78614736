// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"fmt"
	"time"
)

// A Phase identifies one timed step of an HTTP request attempt.
type Phase int

const (
	// Lookup is the DNS resolution of the target host.
	Lookup Phase = iota
	// Connect is the establishment of the TCP connection.
	Connect
	// SecureConnect is the TLS handshake on top of the TCP connection.
	SecureConnect
	// Send is the transmission of the request headers and body, from
	// the moment a connection is obtained.
	Send
	// Response is the wait for the first response byte after the
	// request has been written.
	Response
	// Request is the entire attempt, from dispatch until the response
	// body has been read completely.
	Request
	// phaseSentinel provides the total number of phases.
	phaseSentinel

	numPhases = int(phaseSentinel)
)

var phaseNames = []string{
	"lookup",
	"connect",
	"secureConnect",
	"send",
	"response",
	"request",
}

// Phases returns every phase in the order in which they begin during a
// fresh (non-reused) connection.
func Phases() []Phase {
	return []Phase{Lookup, Connect, SecureConnect, Send, Response, Request}
}

// Name returns the name of the phase.
func (p Phase) Name() string {
	if p < 0 || int(p) >= numPhases {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// String returns the name of the phase.
func (p Phase) String() string {
	return p.Name()
}

// ParsePhase returns the phase with the given name.
func ParsePhase(name string) (Phase, bool) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), true
		}
	}
	return 0, false
}

// A Config contains one timeout budget per phase. A zero or negative
// budget disables the timeout for that phase. The zero value has no
// timeouts at all.
type Config struct {
	Lookup        time.Duration `yaml:"lookup,omitempty" json:"lookup,omitempty"`
	Connect       time.Duration `yaml:"connect,omitempty" json:"connect,omitempty"`
	SecureConnect time.Duration `yaml:"secureConnect,omitempty" json:"secureConnect,omitempty"`
	Send          time.Duration `yaml:"send,omitempty" json:"send,omitempty"`
	Response      time.Duration `yaml:"response,omitempty" json:"response,omitempty"`
	Request       time.Duration `yaml:"request,omitempty" json:"request,omitempty"`
}

// Overall returns a Config with a single budget d for the whole
// attempt.
func Overall(d time.Duration) Config {
	return Config{Request: d}
}

// Get returns the budget for phase p.
func (c Config) Get(p Phase) time.Duration {
	switch p {
	case Lookup:
		return c.Lookup
	case Connect:
		return c.Connect
	case SecureConnect:
		return c.SecureConnect
	case Send:
		return c.Send
	case Response:
		return c.Response
	case Request:
		return c.Request
	default:
		return 0
	}
}

// Set changes the budget for phase p.
func (c *Config) Set(p Phase, d time.Duration) {
	switch p {
	case Lookup:
		c.Lookup = d
	case Connect:
		c.Connect = d
	case SecureConnect:
		c.SecureConnect = d
	case Send:
		c.Send = d
	case Response:
		c.Response = d
	case Request:
		c.Request = d
	default:
		panic("reqflow/timeout: invalid phase")
	}
}

// Merge returns a copy of c in which every positive budget of o
// replaces the corresponding budget of c.
func (c Config) Merge(o Config) Config {
	for _, p := range Phases() {
		if d := o.Get(p); d > 0 {
			c.Set(p, d)
		}
	}
	return c
}

// IsZero reports whether c has no positive budget.
func (c Config) IsZero() bool {
	for _, p := range Phases() {
		if c.Get(p) > 0 {
			return false
		}
	}
	return true
}

// An Error reports that the budget of a phase was exceeded.
type Error struct {
	Phase  Phase
	Budget time.Duration
}

func (err *Error) Error() string {
	return fmt.Sprintf("timeout awaiting '%s' for %s", err.Phase, err.Budget)
}

// Timeout always returns true. It allows timeout errors to be detected
// in the same way as net.Error timeouts.
func (err *Error) Timeout() bool {
	return true
}
