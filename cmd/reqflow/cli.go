// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/gogama/reqflow"
	"github.com/gogama/reqflow/cache/sqlitestore"
	"github.com/gogama/reqflow/config"
	"github.com/gogama/reqflow/request"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "reqflow",
		Short:   "Make HTTP requests with retries, redirects, timeouts and caching",
		Version: version,
		Long: `reqflow sends one HTTP request and writes the response body to standard
output. Requests are retried on transient failures, redirects are
followed, and GET and HEAD responses may be cached in a SQLite database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringArrayP("header", "H", nil, "Request header as 'Name: value' (repeatable)")
	f.StringP("data", "d", "", "Request body; '@file' reads a file and '-' reads standard input")
	f.String("json", "", "JSON request body")
	f.Int("retry", 2, "Maximum number of retries")
	f.Duration("timeout", 0, "Timeout for each attempt (0 means none)")
	f.String("cache-db", "", "Path of a SQLite database caching GET and HEAD responses")
	f.String("config", "", "Path of a YAML configuration file")
	f.String("profile", "", "Configuration profile to apply")
	f.Bool("stream", false, "Stream the request and response bodies instead of buffering them")
	f.BoolP("insecure", "k", false, "Do not verify the server certificate")
	f.BoolP("include", "i", false, "Print the response status and headers before the body")
	f.Bool("fail", false, "Fail on response status codes of 400 and above")
	f.BoolP("verbose", "v", false, "Log the request engine transitions to standard error")
	f.Bool("no-color", false, "Disable colored output")

	for _, m := range []struct {
		method string
		body   bool
	}{
		{http.MethodGet, false},
		{http.MethodHead, false},
		{http.MethodDelete, false},
		{http.MethodPost, true},
		{http.MethodPut, true},
		{http.MethodPatch, true},
	} {
		root.AddCommand(methodCmd(m.method, m.body))
	}
	return root
}

func methodCmd(method string, body bool) *cobra.Command {
	short := fmt.Sprintf("Send a %s request", method)
	if body {
		short += " with a body"
	}
	return &cobra.Command{
		Use:   strings.ToLower(method) + " URL",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, method, args[0])
		},
	}
}

// settings are the parsed flags of one invocation.
type settings struct {
	include bool
	fail    bool
	stream  bool
	color   bool
	stdin   bool
}

func run(cmd *cobra.Command, method, target string) error {
	f := cmd.Flags()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	var s settings
	s.include, _ = f.GetBool("include")
	s.fail, _ = f.GetBool("fail")
	s.stream, _ = f.GetBool("stream")
	noColor, _ := f.GetBool("no-color")
	s.color = !noColor && isTerminal(out)

	var layers []*request.Draft
	var cacheDB string
	if path, _ := f.GetString("config"); path != "" {
		file, err := config.Load(path)
		if err != nil {
			return err
		}
		profile, _ := f.GetString("profile")
		if layers, err = file.Layers(profile); err != nil {
			return err
		}
		cacheDB = file.Cache.Path
	}

	flagLayer, err := flagDraft(cmd, method, &s)
	if err != nil {
		return err
	}
	flagLayer.Method = method
	if strings.Contains(target, "://") {
		flagLayer.URL = target
		if hasPrefix(layers) {
			flagLayer.PrefixURL = request.String("")
		}
	} else if hasPrefix(layers) {
		flagLayer.Input = target
	} else {
		flagLayer.URL = "http://" + target
	}
	layers = append(layers, flagLayer)

	if path, _ := f.GetString("cache-db"); path != "" {
		cacheDB = path
	}
	if cacheDB != "" {
		store, err := sqlitestore.Open(cacheDB)
		if err != nil {
			return err
		}
		defer store.Close()
		flagLayer.Cache = store
	}

	cl := reqflow.New()
	if verbose, _ := f.GetBool("verbose"); verbose {
		cl.Logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if s.stream {
		return runStream(cmd, cl, layers, &s)
	}
	resp, err := cl.Do(cmd.Context(), layers...)
	if err != nil {
		return err
	}
	if s.include {
		writeHead(out, resp, &s)
	}
	if _, err = out.Write(resp.Body); err != nil {
		return err
	}
	return statusError(resp, &s)
}

func runStream(cmd *cobra.Command, cl *reqflow.Client, layers []*request.Draft, s *settings) error {
	out := cmd.OutOrStdout()
	st := cl.Stream(cmd.Context(), layers...)
	defer st.Destroy()
	if s.stdin {
		if _, err := io.Copy(st, cmd.InOrStdin()); err != nil {
			return err
		}
		if err := st.Close(); err != nil {
			return err
		}
	}
	resp, err := st.Response()
	if err != nil {
		return err
	}
	if s.include {
		writeHead(out, resp, s)
	}
	if _, err = io.Copy(out, st); err != nil {
		return err
	}
	return statusError(resp, s)
}

// flagDraft builds the configuration layer given by the flags.
func flagDraft(cmd *cobra.Command, method string, s *settings) (*request.Draft, error) {
	f := cmd.Flags()
	d := &request.Draft{ThrowHTTPErrors: request.Bool(false)}

	headers, _ := f.GetStringArray("header")
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (use 'Name: value')", h)
		}
		if d.Header == nil {
			d.Header = make(http.Header)
		}
		d.Header.Add(name, strings.TrimSpace(value))
	}

	data, _ := f.GetString("data")
	js, _ := f.GetString("json")
	if data != "" && js != "" {
		return nil, errors.New("--data and --json cannot be used together")
	}
	if js != "" {
		if !json.Valid([]byte(js)) {
			return nil, errors.New("--json is not valid JSON")
		}
		d.JSON = json.RawMessage(js)
	}
	switch {
	case data == "-" && s.stream:
		s.stdin = true
	case data == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		d.Body = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, err
		}
		d.Body = b
	case data != "":
		d.Body = data
	}
	if (d.Body != nil || d.JSON != nil || s.stdin) && !request.MethodAllowsBody(method, false) {
		return nil, fmt.Errorf("a %s request cannot have a body", method)
	}

	if f.Changed("retry") {
		n, _ := f.GetInt("retry")
		d.Retry = request.Retries(n)
	}
	if t, _ := f.GetDuration("timeout"); t > 0 {
		d.Timeout = request.Timeout(t)
	}
	if insecure, _ := f.GetBool("insecure"); insecure {
		d.RejectUnauthorized = request.Bool(false)
	}
	return d, nil
}

func hasPrefix(layers []*request.Draft) bool {
	for _, l := range layers {
		if l.PrefixURL != nil && *l.PrefixURL != "" {
			return true
		}
	}
	return false
}

func writeHead(w io.Writer, resp *request.Response, s *settings) {
	status := statusColor(resp.StatusCode)
	key := color.New(color.FgYellow)
	note := color.New(color.FgMagenta)
	for _, c := range []*color.Color{status, key, note} {
		if s.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	text := resp.Status
	if text == "" {
		text = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	status.Fprintln(w, text)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s %s\n", key.Sprint(name+":"), v)
		}
	}
	if resp.IsFromCache {
		note.Fprintln(w, "(served from cache)")
	}
	if n := len(resp.RedirectURLs); n > 0 {
		note.Fprintf(w, "(%d redirects, %d retries)\n", n, resp.RetryCount)
	}
	fmt.Fprintln(w)
}

func statusColor(code int) *color.Color {
	switch {
	case code >= 400:
		return color.New(color.FgRed, color.Bold)
	case code >= 300:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

func statusError(resp *request.Response, s *settings) error {
	if s.fail && resp.StatusCode >= 400 {
		return fmt.Errorf("server responded %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
