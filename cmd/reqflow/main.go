// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command reqflow makes HTTP requests from the command line, with the
// retries, redirects, timeouts and caching of package reqflow.
//
// Usage:
//
//	reqflow get https://example.com/users -H 'Accept: application/json'
//	reqflow post https://example.com/users --json '{"name":"ann"}'
//	reqflow get users --config reqflow.yaml --profile slow --cache-db cache.db
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(1)
	}
}
