// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	t.Run("request budget exceeded", func(t *testing.T) {
		ctx, tracker := Track(context.Background(), Overall(5*time.Millisecond))
		defer tracker.Release()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			require.Fail(t, "context not cancelled")
		}
		err := tracker.Exceeded()
		require.NotNil(t, err)
		assert.Equal(t, Request, err.Phase)
		assert.Equal(t, 5*time.Millisecond, err.Budget)
		assert.Same(t, err, Cause(ctx))
	})
	t.Run("snapshot keeps running", func(t *testing.T) {
		ctx, tracker := Track(context.Background(), Overall(20*time.Millisecond))
		defer tracker.Release()
		snap := tracker.Snapshot()
		assert.False(t, snap.End.IsZero())
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			require.Fail(t, "context not cancelled after snapshot")
		}
		assert.NotNil(t, tracker.Exceeded())
	})
	t.Run("no budget", func(t *testing.T) {
		ctx, tracker := Track(context.Background(), Config{})
		time.Sleep(2 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		assert.Nil(t, tracker.Exceeded())
		timings := tracker.Stop()
		assert.False(t, timings.End.Before(timings.Start))
		assert.Equal(t, timings.End.Sub(timings.Start), timings.Phases.Total)
		tracker.Release()
		assert.True(t, errors.Is(ctx.Err(), context.Canceled))
		assert.Nil(t, Cause(ctx))
	})
	t.Run("stop disarms", func(t *testing.T) {
		ctx, tracker := Track(context.Background(), Overall(10*time.Millisecond))
		first := tracker.Stop()
		time.Sleep(30 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		assert.Nil(t, tracker.Exceeded())
		assert.Equal(t, first, tracker.Stop())
		tracker.Release()
	})
	t.Run("response phase", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(204)
		}))
		defer server.Close()
		ctx, tracker := Track(context.Background(), Config{Response: 20 * time.Millisecond})
		defer tracker.Release()
		req, err := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
		require.NoError(t, err)
		resp, err := server.Client().Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		require.Error(t, err)
		exceeded := tracker.Exceeded()
		require.NotNil(t, exceeded)
		assert.Equal(t, Response, exceeded.Phase)
	})
	t.Run("timings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()
		ctx, tracker := Track(context.Background(), Overall(5*time.Second))
		req, err := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
		require.NoError(t, err)
		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		timings := tracker.Stop()
		tracker.Release()
		assert.False(t, timings.Socket.IsZero())
		assert.False(t, timings.Upload.IsZero())
		assert.False(t, timings.Response.IsZero())
		assert.True(t, timings.Phases.Total >= timings.Phases.FirstByte)
	})
}
