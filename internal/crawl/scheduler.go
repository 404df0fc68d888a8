package crawl

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
)

// Config controls one crawl run.
type Config struct {
	MaxDepth        int
	MaxLinksPerPage int
	FollowExternal  bool
	Concurrency     int
	Progressive     bool
}

// Sink receives tree snapshots for publication.
type Sink func(*graph.Node)

// Counters exposes live progress for the status endpoint.
type Counters struct {
	PagesFetched atomic.Int64
	PagesFailed  atomic.Int64
	MaxDepthSeen atomic.Int64
	URLsClaimed  atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the counters.
type CounterSnapshot struct {
	PagesFetched int64 `json:"pages_fetched"`
	PagesFailed  int64 `json:"pages_failed"`
	MaxDepthSeen int64 `json:"max_depth_seen"`
	URLsClaimed  int64 `json:"urls_claimed"`
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		PagesFetched: c.PagesFetched.Load(),
		PagesFailed:  c.PagesFailed.Load(),
		MaxDepthSeen: c.MaxDepthSeen.Load(),
		URLsClaimed:  c.URLsClaimed.Load(),
	}
}

func (c *Counters) observeDepth(depth int) {
	for {
		cur := c.MaxDepthSeen.Load()
		if int64(depth) <= cur || c.MaxDepthSeen.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

type workItem struct {
	nodeID int
	url    string
	depth  int
}

// Scheduler drives a bounded worker pool over the crawl frontier. Each
// worker pulls an already-attached node, fetches its page, attaches the
// accepted outlinks, and enqueues them until max depth.
type Scheduler struct {
	fetcher *Fetcher
	robots  RobotsPolicy
	visits  *VisitSet
	logger  *zap.Logger
}

// NewScheduler builds a Scheduler.
func NewScheduler(fetcher *Fetcher, robots RobotsPolicy, visits *VisitSet, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		fetcher: fetcher,
		robots:  robots,
		visits:  visits,
		logger:  logger.Named("scheduler"),
	}
}

// Run crawls from seed until the frontier drains or ctx is cancelled and
// returns the final tree. Cancellation yields the partial tree with a
// nil error.
func (s *Scheduler) Run(ctx context.Context, seed string, cfg Config, counters *Counters, sink Sink) (*graph.Node, error) {
	canonical, err := CanonicalizeSeed(seed)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if counters == nil {
		counters = &Counters{}
	}

	s.visits.Claim(canonical)
	counters.URLsClaimed.Store(s.visits.Count())

	tree, rootID := graph.NewTree(canonical, canonical)
	run := &crawlRun{
		sched:    s,
		cfg:      cfg,
		seed:     canonical,
		tree:     tree,
		counters: counters,
		sink:     sink,
		queue:    make(chan workItem, 4*cfg.Concurrency),
	}

	run.pending.Add(1)
	run.queue <- workItem{nodeID: rootID, url: canonical, depth: 0}
	go func() {
		run.pending.Wait()
		close(run.queue)
	}()

	var workers sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		workers.Add(1)
		go func(index int) {
			defer workers.Done()
			run.workerLoop(ctx, index)
		}(i)
	}
	workers.Wait()

	final := tree.Snapshot()
	if sink != nil {
		sink(final)
	}
	return final, nil
}

type crawlRun struct {
	sched    *Scheduler
	cfg      Config
	seed     string
	tree     *graph.Tree
	counters *Counters
	sink     Sink
	queue    chan workItem
	pending  sync.WaitGroup
}

func (r *crawlRun) workerLoop(ctx context.Context, index int) {
	logger := r.sched.logger.With(zap.Int("worker", index))
	for item := range r.queue {
		if ctx.Err() == nil {
			r.process(ctx, logger, item)
		}
		r.pending.Done()
	}
}

func (r *crawlRun) process(ctx context.Context, logger *zap.Logger, item workItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	r.counters.observeDepth(item.depth)

	if !r.sched.robots.Allowed(ctx, item.url) {
		logger.Info("robots denied", zap.String("url", item.url))
		r.fail(item, string(FailRobotsDeny), "robots.txt disallows "+item.url)
		return
	}

	page, err := r.sched.fetcher.Fetch(ctx, item.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			logger.Warn("fetch failed",
				zap.String("url", item.url),
				zap.String("kind", fe.Reason()),
				zap.Error(err))
			r.fail(item, fe.Reason(), "fetch failed: "+fe.Error())
			return
		}
		logger.Warn("fetch aborted", zap.String("url", item.url), zap.Error(err))
		return
	}

	r.counters.PagesFetched.Add(1)
	metrics.ObservePage(item.url, "ok")
	if item.depth == 0 {
		r.tree.RelabelRoot(page.Title)
	}
	logger.Info("page fetched",
		zap.String("url", item.url),
		zap.Int("depth", item.depth),
		zap.Int("links", len(page.Links)))

	attached := r.attachLinks(ctx, item, page)
	if r.cfg.Progressive && (attached || item.depth == 0) {
		r.publish()
	}
}

// attachLinks applies the canonicalizer, host policy, and visit set to
// the page's outlinks and attaches the winners. Nodes never exceed
// depth MaxDepth-1, so pages at the deepest level attach nothing. It
// reports whether any child was attached.
func (r *crawlRun) attachLinks(ctx context.Context, item workItem, page *Page) bool {
	if item.depth+1 >= r.cfg.MaxDepth {
		return false
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return false
	}

	accepted := make([]string, 0, r.cfg.MaxLinksPerPage)
	for _, href := range page.Links {
		if len(accepted) >= r.cfg.MaxLinksPerPage {
			break
		}
		canonical, cerr := Canonicalize(base, href)
		if cerr != nil {
			continue
		}
		if !r.cfg.FollowExternal && !SameHost(r.seed, canonical) {
			continue
		}
		accepted = append(accepted, canonical)
	}

	attachedAny := false
	for _, link := range accepted {
		if ctx.Err() != nil {
			return attachedAny
		}
		if !r.sched.visits.Claim(link) {
			continue
		}
		r.counters.URLsClaimed.Store(r.sched.visits.Count())
		childID, aerr := r.tree.Attach(item.nodeID, link, link, item.depth+1)
		if aerr != nil {
			continue
		}
		attachedAny = true
		r.enqueue(ctx, workItem{nodeID: childID, url: link, depth: item.depth + 1})
	}
	return attachedAny
}

func (r *crawlRun) enqueue(ctx context.Context, item workItem) {
	r.pending.Add(1)
	select {
	case r.queue <- item:
	case <-ctx.Done():
		r.pending.Done()
	}
}

func (r *crawlRun) fail(item workItem, reason, detail string) {
	r.counters.PagesFailed.Add(1)
	metrics.ObservePage(item.url, reason)
	if err := r.tree.MarkFailure(item.nodeID, reason, detail); err != nil {
		r.sched.logger.Warn("mark failure", zap.Error(err))
	}
	if r.cfg.Progressive {
		r.publish()
	}
}

func (r *crawlRun) publish() {
	if r.sink != nil {
		r.sink(r.tree.Snapshot())
	}
}
