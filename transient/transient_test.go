// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	assert.Equal(t, Not, Categorize(nil))
	assert.Equal(t, Not, Categorize(errors.New("foo")))
	assert.Equal(t, Not, Categorize(wrapper{}))
	assert.Equal(t, Not, Categorize(wrapper{errors.New("bar")}))
	assert.Equal(t, Timeout, Categorize(syscall.ETIMEDOUT))
	assert.Equal(t, Timeout, Categorize(timeout{}))
	assert.Equal(t, Timeout, Categorize(&url.Error{Err: syscall.ETIMEDOUT}))
	assert.Equal(t, Timeout, Categorize(&url.Error{Err: timeout{}}))
	assert.Equal(t, Timeout, Categorize(wrapper{&url.Error{Err: syscall.ETIMEDOUT}}))
	assert.Equal(t, Timeout, Categorize(wrapper{wrapper{timeout{}}}))
	assert.Equal(t, Timeout, Categorize(timeoutWrapper{true, syscall.ECONNRESET}))
	assert.Equal(t, Timeout, Categorize(wrapper{timeoutWrapper{true, syscall.ECONNREFUSED}}))
	assert.Equal(t, ConnReset, Categorize(syscall.ECONNRESET))
	assert.Equal(t, ConnReset, Categorize(wrapper{syscall.ECONNRESET}))
	assert.Equal(t, ConnReset, Categorize(timeoutWrapper{false, syscall.ECONNRESET}))
	assert.Equal(t, ConnRefused, Categorize(syscall.ECONNREFUSED))
	assert.Equal(t, ConnRefused, Categorize(wrapper{syscall.ECONNREFUSED}))
	assert.Equal(t, ConnRefused, Categorize(&url.Error{Err: wrapper{timeoutWrapper{false, syscall.ECONNREFUSED}}}))
	assert.Equal(t, Network, Categorize(syscall.EPIPE))
	assert.Equal(t, Network, Categorize(&net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}))
}

func TestCode(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("foo"), ""},
		{"timeout", timeout{}, ETIMEDOUT},
		{"wrapped timeout", &url.Error{Err: wrapper{timeout{}}}, ETIMEDOUT},
		{"joined timeout", &url.Error{Err: errors.Join(errors.New("foo"), wrapper{timeout{}})}, ETIMEDOUT},
		{"url error without timeout", &url.Error{Err: wrapper{errors.New("foo")}}, ""},
		{"errno timeout", syscall.ETIMEDOUT, ETIMEDOUT},
		{"reset", wrapper{syscall.ECONNRESET}, ECONNRESET},
		{"refused", &url.Error{Err: syscall.ECONNREFUSED}, ECONNREFUSED},
		{"addr in use", syscall.EADDRINUSE, EADDRINUSE},
		{"pipe", wrapper{syscall.EPIPE}, EPIPE},
		{"unreachable", syscall.ENETUNREACH, ENETUNREACH},
		{"not found", &url.Error{Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}}, ENOTFOUND},
		{"dns again", &net.DNSError{Err: "server misbehaving", Name: "x", IsTemporary: true}, EAI_AGAIN},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.code, Code(testCase.err))
		})
	}
}

type timeout struct{}

func (err timeout) Error() string {
	return "timeout"
}

func (_ timeout) Timeout() bool {
	return true
}

type wrapper struct {
	wrappedError error
}

func (err wrapper) Error() string {
	return fmt.Sprintf("wrapper - wraps %v", err.wrappedError)
}

func (err wrapper) Unwrap() error {
	return err.wrappedError
}

type timeoutWrapper struct {
	timeout      bool
	wrappedError error
}

func (err timeoutWrapper) Error() string {
	return fmt.Sprintf("timeoutWrapper - timeout %t, wraps %v", err.timeout, err.wrappedError)
}

func (err timeoutWrapper) Timeout() bool {
	return err.timeout
}

func (err timeoutWrapper) Unwrap() error {
	return err.wrappedError
}
