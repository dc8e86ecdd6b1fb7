package compliance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func robotsServer(t *testing.T, body string, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if hits != nil {
				hits.Add(1)
			}
			w.WriteHeader(status)
			fmt.Fprint(w, body)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRobotsCacheAllowsAndDenies(t *testing.T) {
	t.Parallel()

	srv := robotsServer(t, "User-agent: *\nDisallow: /private\n", http.StatusOK, nil)
	cache := NewRobotsCache(RobotsConfig{}, srv.Client(), zap.NewNop())
	ctx := context.Background()

	require.True(t, cache.Allowed(ctx, srv.URL+"/prices", "test-agent"))
	require.False(t, cache.Allowed(ctx, srv.URL+"/private/list", "test-agent"))
	require.False(t, cache.Allowed(ctx, "::not a url", "test-agent"))
}

func TestRobotsCacheFetchFailureAllows(t *testing.T) {
	t.Parallel()

	srv := robotsServer(t, "oops", http.StatusServiceUnavailable, nil)
	cache := NewRobotsCache(RobotsConfig{}, srv.Client(), zap.NewNop())

	require.True(t, cache.Allowed(context.Background(), srv.URL+"/private", "test-agent"))
	require.Zero(t, cache.Len())
}

func TestRobotsCacheEntriesExpire(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := robotsServer(t, "User-agent: *\nDisallow: /x\n", http.StatusOK, &hits)
	cache := NewRobotsCache(RobotsConfig{TTL: time.Minute}, srv.Client(), zap.NewNop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, cache.Allowed(ctx, srv.URL+"/a", "ua"))
	require.True(t, cache.Allowed(ctx, srv.URL+"/b", "ua"))
	require.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	require.True(t, cache.Allowed(ctx, srv.URL+"/a", "ua"))
	require.Equal(t, int32(2), hits.Load())
}

func TestRobotsCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	first := robotsServer(t, "", http.StatusNotFound, nil)
	second := robotsServer(t, "", http.StatusNotFound, nil)
	cache := NewRobotsCache(RobotsConfig{MaxEntries: 1}, http.DefaultClient, zap.NewNop())
	ctx := context.Background()

	require.True(t, cache.Allowed(ctx, first.URL+"/", "ua"))
	require.True(t, cache.Allowed(ctx, second.URL+"/", "ua"))
	require.Equal(t, 1, cache.Len())
}
