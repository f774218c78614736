// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package reqflow

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogama/reqflow/request"
	"github.com/gogama/reqflow/retry"
)

var httpServer = httptest.NewUnstartedServer(http.HandlerFunc(serverHandler))
var httpsServer = httptest.NewUnstartedServer(http.HandlerFunc(serverHandler))
var http2Server = httptest.NewUnstartedServer(http.HandlerFunc(serverHandler))
var servers = []*httptest.Server{httpServer, httpsServer, http2Server}

// serverHits counts the requests received by all test servers.
var serverHits atomic.Int64

func TestMain(m *testing.M) {
	httpServer.Start()
	defer httpServer.Close()
	httpsServer.StartTLS()
	defer httpsServer.Close()
	http2Server.EnableHTTP2 = true
	http2Server.StartTLS()
	defer http2Server.Close()
	waitForServerStart(httpServer)
	waitForServerStart(httpsServer)
	waitForServerStart(http2Server)
	os.Exit(m.Run())
}

func waitForServerStart(server *httptest.Server) {
	cl := New(serverLayer(server), &request.Draft{Timeout: request.Timeout(2 * time.Second)})
	cl.RetryPolicy = retry.NewPolicy(retry.Before(10*time.Second).And(retry.TransientErr), retry.NewFixedWaiter(50*time.Millisecond))
	r, err := cl.Do(context.Background(), (&serverInstruction{StatusCode: 200}).layer(server))
	if err != nil || r.StatusCode != 200 {
		panic(fmt.Sprintf("Test server startup failed with response %v and error %v", r, err))
	}
}

func serverName(server *httptest.Server) string {
	switch server {
	case httpServer:
		return "http"
	case httpsServer:
		return "https"
	case http2Server:
		return "http2"
	default:
		panic("unknown server")
	}
}

// serverLayer returns the options needed to trust the certificate of a
// TLS test server.
func serverLayer(server *httptest.Server) *request.Draft {
	if server.TLS == nil {
		return &request.Draft{}
	}
	return &request.Draft{
		CA: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}),
	}
}

type bodyChunk struct {
	Pause time.Duration
	Data  []byte
}

// A serverInstruction tells the test server how to respond. It travels
// in the query string, so that it survives redirects and method
// rewrites.
type serverInstruction struct {
	HeaderPause time.Duration
	StatusCode  int
	Header      http.Header
	Body        []bodyChunk
}

func (i *serverInstruction) toURL(server *httptest.Server) string {
	b, err := json.Marshal(i)
	if err != nil {
		panic(err)
	}
	return server.URL + "/?i=" + url.QueryEscape(string(b))
}

func (i *serverInstruction) layer(server *httptest.Server) *request.Draft {
	return &request.Draft{URL: i.toURL(server)}
}

func (i *serverInstruction) fromRequest(req *http.Request) error {
	return json.Unmarshal([]byte(req.URL.Query().Get("i")), i)
}

func textBody(s string) []bodyChunk {
	return []bodyChunk{{Data: []byte(s)}}
}

func serverHandler(w http.ResponseWriter, req *http.Request) {
	serverHits.Add(1)

	// Echo the request back to the client.
	header := w.Header()
	header.Set("X-Echo-Method", req.Method)
	for _, k := range []string{"Authorization", "Cookie", "Content-Type", "X-Token"} {
		if v := req.Header.Get(k); v != "" {
			header.Set("X-Echo-"+k, v)
		}
	}
	reqBody, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if len(reqBody) > 0 {
		header.Set("X-Echo-Body", string(reqBody))
	}

	// Decode the instructions.
	var i serverInstruction
	err := i.fromRequest(req)
	if err != nil {
		w.WriteHeader(400)
		_, _ = io.WriteString(w, fmt.Sprintf("failed to read instruction: %s", err.Error()))
		return
	}

	// Validate the instruction.
	if i.StatusCode == 0 {
		w.WriteHeader(400)
		_, _ = io.WriteString(w, fmt.Sprintf("bad StatusCode in instruction: %v", i))
		return
	}

	// Get the Flusher, panicking if it's not available.
	f, ok := w.(http.Flusher)
	if !ok {
		panic("w does not implement Flusher")
	}

	// Determine the content length of the response.
	contentLength := 0
	for _, chunk := range i.Body {
		contentLength += len(chunk.Data)
	}

	// Create the response headers.
	for k, vs := range i.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("Content-Length", strconv.Itoa(contentLength))

	// Sleep for the duration indicated by the pause field. This is done
	// to allow the client to play with timeouts.
	time.Sleep(i.HeaderPause)

	// Return the HTTP response stipulated by the client.
	w.WriteHeader(i.StatusCode)
	f.Flush()

	// Write the response in chunks, pausing before each chunk.
	for _, chunk := range i.Body {
		if chunk.Pause > 0 {
			time.Sleep(chunk.Pause)
		}
		_, err = w.Write(chunk.Data)
		if err != nil {
			return
		}
		f.Flush()
	}
}

// A countingTransport counts dispatches, and optionally answers them
// itself.
type countingTransport struct {
	next  Transport
	count atomic.Int64
}

func (t *countingTransport) Dispatch(o *request.Options, r *http.Request) (*http.Response, error) {
	t.count.Add(1)
	return t.next.Dispatch(o, r)
}

func (t *countingTransport) Count() int {
	return int(t.count.Load())
}
