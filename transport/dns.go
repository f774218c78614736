// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/gogama/reqflow/cache"
)

type dnsCacheKey struct{}

func withDNSCache(ctx context.Context, s cache.Store) context.Context {
	return context.WithValue(ctx, dnsCacheKey{}, s)
}

func dnsCacheFrom(ctx context.Context) cache.Store {
	s, _ := ctx.Value(dnsCacheKey{}).(cache.Store)
	return s
}

// DNSKey returns the DNS cache store key for host.
func DNSKey(host string) string {
	return "dns:" + strings.ToLower(host)
}

type dialer struct {
	dialer   *net.Dialer
	resolver *net.Resolver
	ttl      time.Duration
}

// DialContext dials addr, resolving its host through the DNS cache store
// carried by ctx if there is one. Store failures fall back to a direct
// lookup: the DNS cache only ever saves lookups.
func (d *dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	s := dnsCacheFrom(ctx)
	if s == nil {
		return d.dialer.DialContext(ctx, network, addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) != nil {
		return d.dialer.DialContext(ctx, network, addr)
	}

	ips, err := d.lookup(ctx, s, host)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, ip := range ips {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, firstErr
}

func (d *dialer) lookup(ctx context.Context, s cache.Store, host string) ([]string, error) {
	key := DNSKey(host)
	if v, ok, err := s.Get(key); err == nil && ok && len(v) > 0 {
		return strings.Split(string(v), ","), nil
	}
	r := d.resolver
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	ttl := d.ttl
	if ttl <= 0 {
		ttl = DefaultDNSTTL
	}
	_ = s.Set(key, []byte(strings.Join(ips, ",")), ttl)
	return ips, nil
}
