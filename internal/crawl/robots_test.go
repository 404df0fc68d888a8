package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRobotsPolicy_DisabledAllowsEverything(t *testing.T) {
	t.Parallel()

	policy := NewRobotsPolicy(false, "livegraph-test", time.Second, nil, zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), "http://anything.test/private"))
}

func TestRobotsEnforcer_AppliesDirectives(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer server.Close()

	policy := NewRobotsPolicy(true, "livegraph-test", time.Second, server.Client(), zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), server.URL+"/public"))
	require.False(t, policy.Allowed(context.Background(), server.URL+"/private/page"))
}

func TestRobotsEnforcer_CachesPerHost(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
	}))
	defer server.Close()

	policy := NewRobotsPolicy(true, "livegraph-test", time.Second, server.Client(), zap.NewNop())
	for i := 0; i < 5; i++ {
		require.True(t, policy.Allowed(context.Background(), server.URL+"/page"))
	}
	require.Equal(t, int64(1), fetches.Load())
}

func TestRobotsEnforcer_FetchFailureAllows(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	policy := NewRobotsPolicy(true, "livegraph-test", time.Second, nil, zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), server.URL+"/page"))
}

func TestRobotsEnforcer_MissingRobotsAllows(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer server.Close()

	policy := NewRobotsPolicy(true, "livegraph-test", time.Second, server.Client(), zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), server.URL+"/anything"))
}
