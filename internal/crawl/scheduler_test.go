package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
)

type denyAllPolicy struct{}

func (denyAllPolicy) Allowed(context.Context, string) bool { return false }

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	metrics.Init()
	fetcher := NewFetcher(FetcherConfig{UserAgent: "livegraph-test", Timeout: 2 * time.Second}, nil)
	robots := NewRobotsPolicy(false, "livegraph-test", time.Second, nil, zap.NewNop())
	return NewScheduler(fetcher, robots, NewVisitSet(), zap.NewNop())
}

func htmlPage(title string, hrefs ...string) string {
	page := "<html><head><title>" + title + "</title></head><body>"
	for _, href := range hrefs {
		page += fmt.Sprintf(`<a href=%q>link</a>`, href)
	}
	return page + "</body></html>"
}

func serveHTML(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestScheduler_SeedOnly(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/": htmlPage("Home", "/a", "/b"),
	})

	sched := newTestScheduler(t)
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        1,
		MaxLinksPerPage: 5,
		Concurrency:     2,
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Home", tree.Name)
	require.Equal(t, graph.TypeRoot, tree.Type)
	require.Equal(t, server.URL+"/", tree.URL)
	require.Equal(t, "URL: "+server.URL+"/", tree.Description)
	require.Empty(t, tree.Children)
}

func TestScheduler_OneLevelFiltersAndCaps(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/":  htmlPage("Home", "/a", "/b", "mailto:x@example.test", "/c.pdf", "/d", "/e"),
		"/a": htmlPage("A"),
		"/b": htmlPage("B"),
		"/d": htmlPage("D"),
	})

	sched := newTestScheduler(t)
	counters := &Counters{}
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 3,
		Concurrency:     2,
	}, counters, nil)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	require.Equal(t, server.URL+"/a", tree.Children[0].URL)
	require.Equal(t, server.URL+"/b", tree.Children[1].URL)
	require.Equal(t, server.URL+"/d", tree.Children[2].URL)
	for _, child := range tree.Children {
		require.Equal(t, graph.TypeCategory, child.Type)
		require.Empty(t, child.Children)
	}

	snap := counters.Snapshot()
	require.Equal(t, int64(4), snap.PagesFetched)
	require.Equal(t, int64(0), snap.PagesFailed)
	require.Equal(t, int64(1), snap.MaxDepthSeen)
	require.Equal(t, int64(4), snap.URLsClaimed)
}

func TestScheduler_DedupAcrossSiblings(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/":  htmlPage("Home", "/x", "/x"),
		"/x": htmlPage("X"),
	})

	sched := newTestScheduler(t)
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Equal(t, server.URL+"/x", tree.Children[0].URL)
}

func TestScheduler_ExternalLinksFiltered(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/":  htmlPage("Home", "http://other.test/page", "/a"),
		"/a": htmlPage("A"),
	})

	sched := newTestScheduler(t)
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Equal(t, server.URL+"/a", tree.Children[0].URL)
}

func TestScheduler_FollowExternalKeepsOtherHosts(t *testing.T) {
	t.Parallel()

	other := serveHTML(t, map[string]string{
		"/page": htmlPage("Other"),
	})
	server := serveHTML(t, map[string]string{
		"/": htmlPage("Home", other.URL+"/page"),
	})

	sched := newTestScheduler(t)
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		FollowExternal:  true,
		Concurrency:     1,
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Equal(t, other.URL+"/page", tree.Children[0].URL)
}

func TestScheduler_FailingChildBecomesErrorNode(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/": htmlPage("Home", "/missing"),
	})

	sched := newTestScheduler(t)
	counters := &Counters{}
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
	}, counters, nil)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	child := tree.Children[0]
	require.Equal(t, "Error: http_status(404)", child.Name)
	require.Equal(t, server.URL+"/missing", child.URL)
	require.Equal(t, graph.TypeCategory, child.Type)
	require.Equal(t, int64(1), counters.Snapshot().PagesFailed)
}

func TestScheduler_RobotsDeniedRoot(t *testing.T) {
	t.Parallel()
	metrics.Init()

	server := serveHTML(t, map[string]string{
		"/": htmlPage("Home"),
	})

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second}, nil)
	sched := NewScheduler(fetcher, denyAllPolicy{}, NewVisitSet(), zap.NewNop())
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Error: robots_denied", tree.Name)
	require.Empty(t, tree.Children)
}

func TestScheduler_ProgressiveSinkSeesIntermediateTrees(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/":  htmlPage("Home", "/a"),
		"/a": htmlPage("A"),
	})

	var mu sync.Mutex
	var snapshots []*graph.Node
	sink := func(node *graph.Node) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, node)
	}

	sched := newTestScheduler(t)
	tree, err := sched.Run(context.Background(), server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
		Progressive:     true,
	}, nil, sink)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(snapshots), 2)
	final := snapshots[len(snapshots)-1]
	require.Equal(t, tree.Name, final.Name)
	require.Len(t, final.Children, 1)
}

func TestScheduler_CancelledContextReturnsPartialTree(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, map[string]string{
		"/": htmlPage("Home", "/a"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newTestScheduler(t)
	tree, err := sched.Run(ctx, server.URL+"/", Config{
		MaxDepth:        2,
		MaxLinksPerPage: 5,
		Concurrency:     1,
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/", tree.Name)
	require.Empty(t, tree.Children)
}

func TestScheduler_InvalidSeed(t *testing.T) {
	t.Parallel()

	sched := newTestScheduler(t)
	_, err := sched.Run(context.Background(), "not a url", Config{MaxDepth: 1, MaxLinksPerPage: 1}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidSeed)
}
