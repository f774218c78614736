// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exports Prometheus metrics describing the logical
// requests made by a reqflow.Client.
//
// A Collector is an event handler. Install it for every event of a
// client's handler group:
//
//	handlers := &reqflow.HandlerGroup{}
//	metrics.NewCollector(prometheus.DefaultRegisterer).Install(handlers)
//	client := reqflow.New()
//	client.Handlers = handlers
package metrics

import (
	"errors"
	"strconv"

	"github.com/gogama/reqflow"
	"github.com/gogama/reqflow/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "reqflow"

// A Collector records the events of logical requests as Prometheus
// metrics. It is safe for concurrent use, and a nil Collector records
// nothing.
type Collector struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	redirects *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	cacheMiss *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewCollector creates a Collector whose metrics are registered with
// reg. It panics if the metrics are already registered.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Total number of logical requests completed.",
		}, []string{"method", "status_code", "host"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of logical requests, including retries and redirects.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status_code", "host"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "requests_in_flight",
			Help:      "Number of logical requests currently in flight.",
		}, []string{"method"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attempts_total",
			Help:      "Total number of requests dispatched over the network.",
		}, []string{"method", "host"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Total number of retries.",
		}, []string{"method", "host"}),
		redirects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "redirects_total",
			Help:      "Total number of redirects followed.",
		}, []string{"method", "host"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of responses served from cache.",
		}, []string{"method", "host"}),
		cacheMiss: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of responses received over the network.",
		}, []string{"method", "host"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of failed logical requests, by error code.",
		}, []string{"code"}),
	}
}

// Install adds c to the handler chain of every event in g.
func (c *Collector) Install(g *reqflow.HandlerGroup) {
	for _, evt := range reqflow.Events() {
		g.PushBack(evt, c)
	}
}

type startMethodKey struct{}

// Handle records evt.
func (c *Collector) Handle(evt reqflow.Event, e *request.Execution) {
	if c == nil {
		return
	}

	method, host := target(e)
	switch evt {
	case reqflow.EventStart:
		// The method may change on redirect, so the in-flight gauge is
		// decremented under the method it was incremented with.
		e.SetValue(startMethodKey{}, method)
		c.inFlight.WithLabelValues(method).Inc()
	case reqflow.EventRequest:
		c.attempts.WithLabelValues(method, host).Inc()
	case reqflow.EventResponse:
		if e.FromCache == request.True {
			c.cacheHits.WithLabelValues(method, host).Inc()
		} else {
			c.cacheMiss.WithLabelValues(method, host).Inc()
		}
	case reqflow.EventRedirect:
		c.redirects.WithLabelValues(method, host).Inc()
	case reqflow.EventRetry:
		c.retries.WithLabelValues(method, host).Inc()
	case reqflow.EventError:
		c.errors.WithLabelValues(ErrorCode(e.Err)).Inc()
	case reqflow.EventEnd:
		if m, ok := e.Value(startMethodKey{}).(string); ok {
			c.inFlight.WithLabelValues(m).Dec()
		}
		status := statusLabel(e)
		c.requests.WithLabelValues(method, status, host).Inc()
		c.duration.WithLabelValues(method, status, host).Observe(e.Duration().Seconds())
	}
}

func target(e *request.Execution) (method, host string) {
	o := e.Options
	if o == nil {
		return "", ""
	}
	return o.Method, o.URL.Host
}

func statusLabel(e *request.Execution) string {
	if code := e.StatusCode(); code != 0 {
		return strconv.Itoa(code)
	}
	var re request.Error
	if errors.As(e.Err, &re) {
		if r := re.RequestInfo().Response; r != nil {
			return strconv.Itoa(r.StatusCode)
		}
	}
	return "none"
}

// ErrorCode returns the label under which err is counted: the code of a
// request error, "validation" for a validation error, and "unknown" for
// anything else, such as an error returned by a hook.
func ErrorCode(err error) string {
	var re request.Error
	if errors.As(err, &re) {
		if code := re.RequestInfo().Code; code != "" {
			return code
		}
	}
	var ve *request.ValidationError
	if errors.As(err, &ve) {
		return "validation"
	}
	return "unknown"
}
