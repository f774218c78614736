// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"net"
	"syscall"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize().
//
// The category Not means the error is not transient from the perspective
// of completing an HTTP request attempt successfully, or in other words
// that a retry after encountering this error is very unlikely to succeed.
//
// All other categories indicate the error is transient from the
// perspective of completing an HTTP request attempt successfully, or in
// other words that a retry after encountering this error has some
// prospect of success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout. The server may be going
	// through a temporary period of slowness, or the client may succeed
	// on a future attempt waiting longer (increasing its timeout).
	//
	// Function Categorize() will return Timeout if the error or any of
	// its wrapped causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection, and
	// corresponds to the POSIX error code ECONNREFUSED.
	//
	// Although connection refusal may be a permanent condition, it is
	// classified as transient because it can happen if the service
	// running on the remote host is in the process of starting or
	// restarting.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection, and corresponds to the POSIX
	// error code ECONNRESET.
	ConnReset
	// Network indicates a lower-level network condition which tends to
	// clear up on its own: a broken pipe, an unreachable network, an
	// address already in use, or a DNS lookup failure.
	Network
)

// Error codes reported by Code. The names follow the POSIX (and
// getaddrinfo) names, since that is the vocabulary retry configuration
// is written in.
const (
	ETIMEDOUT    = "ETIMEDOUT"
	ECONNRESET   = "ECONNRESET"
	ECONNREFUSED = "ECONNREFUSED"
	EADDRINUSE   = "EADDRINUSE"
	EPIPE        = "EPIPE"
	ENOTFOUND    = "ENOTFOUND"
	ENETUNREACH  = "ENETUNREACH"
	EAI_AGAIN    = "EAI_AGAIN"
)

// Categorize returns the transience category of the given error. All
// non-nil transient errors result in a transience category other than
// Not. A nil error, and an error that is not transient from the
// perspective of completing an HTTP request attempt, both produce the
// return value Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. However, Categorize never
// checks if an error has a Temporary() function that returns true, as
// the semantics of Temporary() aren't entirely clear.
func Categorize(err error) Category {
	switch Code(err) {
	case "":
		return Not
	case ETIMEDOUT:
		return Timeout
	case ECONNREFUSED:
		return ConnRefused
	case ECONNRESET:
		return ConnReset
	default:
		return Network
	}
}

// Code returns the error code of the given error, or the empty string
// if err is nil or has no recognized code.
//
// Timeouts are reported as ETIMEDOUT regardless of where they occurred.
// DNS failures are reported as ENOTFOUND if the name does not exist and
// EAI_AGAIN if the lookup failed for a temporary reason.
func Code(err error) string {
	if err == nil {
		return ""
	}

	if timedOut(err) {
		return ETIMEDOUT
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return ENOTFOUND
		}
		return EAI_AGAIN
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ECONNRESET
		case syscall.ECONNREFUSED:
			return ECONNREFUSED
		case syscall.EADDRINUSE:
			return EADDRINUSE
		case syscall.EPIPE:
			return EPIPE
		case syscall.ENETUNREACH:
			return ENETUNREACH
		case syscall.ETIMEDOUT:
			return ETIMEDOUT
		}
	}

	return ""
}

type hasTimeout interface {
	Timeout() bool
}

// timedOut reports whether any error in the tree of err has a Timeout
// method returning true. errors.As is not enough, since it stops at the
// first Timeout method, and *url.Error only consults its direct cause.
func timedOut(err error) bool {
	if t, ok := err.(hasTimeout); ok && t.Timeout() {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		if next := x.Unwrap(); next != nil {
			return timedOut(next)
		}
	case interface{ Unwrap() []error }:
		for _, next := range x.Unwrap() {
			if timedOut(next) {
				return true
			}
		}
	}
	return false
}
