// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gogama/reqflow/request"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Pool is the default transport. The zero value is ready to use. A Pool
// is safe for concurrent use by multiple goroutines.
type Pool struct {
	// Limiter, if not nil, is waited on before every dispatch.
	Limiter *rate.Limiter

	// DNSTTL is how long a resolved address list stays in a DNS cache
	// store. Zero means DefaultDNSTTL.
	DNSTTL time.Duration

	// Resolver resolves host names missing from a DNS cache store. Nil
	// means net.DefaultResolver.
	Resolver *net.Resolver

	// DialTimeout bounds each connection attempt. Zero means 30
	// seconds. Phase timeouts from the request options apply as well.
	DialTimeout time.Duration

	lock    sync.Mutex
	clients map[tlsKey]*http.Client
}

// DefaultDNSTTL is the default lifetime of DNS cache entries.
const DefaultDNSTTL = time.Minute

type tlsKey struct {
	insecure bool
	ca       [sha256.Size]byte
}

// Dispatch sends r using the TLS and DNS settings of o, and returns the
// response without following redirects. The caller must close the
// response body.
func (p *Pool) Dispatch(o *request.Options, r *http.Request) (*http.Response, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(r.Context()); err != nil {
			return nil, err
		}
	}
	c, err := p.client(o)
	if err != nil {
		return nil, err
	}
	if o.DNSCache != nil {
		r = r.WithContext(withDNSCache(r.Context(), o.DNSCache))
	}
	return c.Do(r)
}

// CloseIdleConnections closes the idle connections of every client.
func (p *Pool) CloseIdleConnections() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
}

func (p *Pool) client(o *request.Options) (*http.Client, error) {
	key := tlsKey{insecure: !o.RejectUnauthorized}
	if len(o.CA) > 0 {
		key.ca = sha256.Sum256(o.CA)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if c := p.clients[key]; c != nil {
		return c, nil
	}
	t, err := p.newTransport(key.insecure, o.CA)
	if err != nil {
		return nil, err
	}
	c := &http.Client{
		Transport: t,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if p.clients == nil {
		p.clients = make(map[tlsKey]*http.Client)
	}
	p.clients[key] = c
	return c, nil
}

func (p *Pool) newTransport(insecure bool, ca []byte) (*http.Transport, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: insecure,
	}
	if len(ca) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(ca) {
			return nil, errNoCertificates
		}
		tlsConfig.RootCAs = pool
	}

	dialTimeout := p.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	d := &dialer{
		dialer:   &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second},
		resolver: p.Resolver,
		ttl:      p.DNSTTL,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSClientConfig:       tlsConfig,
		DisableCompression:    true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("transport: configure http2: %w", err)
	}
	return t, nil
}

var errNoCertificates = errors.New("transport: no PEM certificates found in CA option")
