package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/config"
	"github.com/xxllxllxlllx/live-graph-system/internal/crawl"
	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
	"github.com/xxllxllxlllx/live-graph-system/internal/publish"
	"github.com/xxllxllxlllx/live-graph-system/internal/tor"
)

const drainGrace = 5 * time.Second

// Supervisor owns the engine registry. It enforces global exclusivity,
// performs the session reset on every start, and reports per-slot state.
type Supervisor struct {
	cfg       config.Config
	publisher *publish.Publisher
	visits    *crawl.VisitSet
	tor       *tor.Client
	clock     Clock
	logger    *zap.Logger

	mu       sync.Mutex
	slots    map[Slot]*slotState
	counters *crawl.Counters
	progress *TorBotProgress
	active   sync.WaitGroup
}

type slotState struct {
	status    Status
	startedAt time.Time
	lastError string
	cancel    context.CancelFunc
}

// New builds a Supervisor. torClient may be nil when no SOCKS endpoint
// is configured.
func New(cfg config.Config, publisher *publish.Publisher, torClient *tor.Client, clock Clock, logger *zap.Logger) *Supervisor {
	slots := make(map[Slot]*slotState, len(Slots))
	for _, slot := range Slots {
		slots[slot] = &slotState{status: StatusIdle}
	}
	return &Supervisor{
		cfg:       cfg,
		publisher: publisher,
		visits:    crawl.NewVisitSet(),
		tor:       torClient,
		clock:     clock,
		logger:    logger.Named("supervisor"),
		slots:     slots,
		counters:  &crawl.Counters{},
		progress:  NewTorBotProgress(),
	}
}

// StartHTTP validates the seed, resets the session, and launches the
// in-process crawler. It returns once the slot is running.
func (s *Supervisor) StartHTTP(opts HTTPOptions) error {
	seed, err := crawl.CanonicalizeSeed(opts.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrValidation, err)
	}

	ccfg := crawl.Config{
		MaxDepth:        s.cfg.Crawler.MaxDepth,
		MaxLinksPerPage: s.cfg.Crawler.MaxLinksPerPage,
		FollowExternal:  s.cfg.Crawler.FollowExternalLinks,
		Concurrency:     s.cfg.Crawler.Concurrency,
		Progressive:     s.cfg.Crawler.Progressive,
	}
	if opts.MaxDepth != 0 {
		ccfg.MaxDepth = opts.MaxDepth
	}
	if opts.MaxLinksPerPage != 0 {
		ccfg.MaxLinksPerPage = opts.MaxLinksPerPage
	}
	if opts.Progressive != nil {
		ccfg.Progressive = *opts.Progressive
	}
	if ccfg.MaxDepth < 1 || ccfg.MaxDepth > 10 {
		return fmt.Errorf("%w: max_depth must be in 1..10", ErrValidation)
	}
	if ccfg.MaxLinksPerPage < 1 || ccfg.MaxLinksPerPage > 20 {
		return fmt.Errorf("%w: max_links_per_page must be in 1..20", ErrValidation)
	}

	ctx, err := s.begin(SlotHTTP)
	if err != nil {
		return err
	}

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		s.finish(SlotHTTP, s.runHTTP(ctx, seed, ccfg))
	}()
	return nil
}

func (s *Supervisor) runHTTP(ctx context.Context, seed string, ccfg crawl.Config) error {
	transport := http.RoundTripper(nil)
	robotsClient := (*http.Client)(nil)
	if crawl.IsOnionHost(seed) {
		if s.tor == nil {
			return fmt.Errorf("onion seed requires a tor endpoint")
		}
		if err := s.tor.Probe(ctx); err != nil {
			s.logger.Warn("tor probe failed before onion crawl", zap.Error(err))
		}
		transport = s.tor.Transport()
		robotsClient = s.tor.HTTPClient()
	}

	pacer := crawl.NewPacer(s.cfg.RequestDelay())
	fetcher := crawl.NewFetcher(crawl.FetcherConfig{
		UserAgent: s.cfg.Crawler.UserAgent,
		Timeout:   s.cfg.RequestTimeout(),
		Transport: transport,
	}, pacer)
	robots := crawl.NewRobotsPolicy(s.cfg.Crawler.RespectRobots, s.cfg.Crawler.UserAgent,
		s.cfg.RequestTimeout(), robotsClient, s.logger)
	scheduler := crawl.NewScheduler(fetcher, robots, s.visits, s.logger)

	sink := func(tree *graph.Node) {
		if err := s.publisher.Publish(tree); err != nil {
			s.logger.Warn("publish snapshot", zap.Error(err))
		}
	}

	s.mu.Lock()
	counters := s.counters
	s.mu.Unlock()

	_, err := scheduler.Run(ctx, seed, ccfg, counters, sink)
	return err
}

// StartToc probes the SOCKS endpoint and launches the TOC subprocess.
func (s *Supervisor) StartToc(opts TocOptions) error {
	seed, err := crawl.CanonicalizeSeed(opts.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrValidation, err)
	}

	torClient, err := s.torClientFor(opts.SocksHost, opts.SocksPort)
	if err != nil {
		return err
	}
	if err := torClient.Probe(context.Background()); err != nil {
		return fmt.Errorf("tor endpoint %s: %w", torClient.Address(), err)
	}

	ctx, err := s.begin(SlotToc)
	if err != nil {
		return err
	}
	s.active.Add(1)
	go func() {
		defer s.active.Done()
		s.finish(SlotToc, s.runToc(ctx, seed))
	}()
	return nil
}

// StartOnionSearch launches the OnionSearch subprocess for the query.
func (s *Supervisor) StartOnionSearch(opts OnionSearchOptions) error {
	if opts.Query == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if opts.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", ErrValidation)
	}

	ctx, err := s.begin(SlotOnionSearch)
	if err != nil {
		return err
	}
	s.active.Add(1)
	go func() {
		defer s.active.Done()
		s.finish(SlotOnionSearch, s.runOnionSearch(ctx, opts))
	}()
	return nil
}

// StartTorBot probes the SOCKS endpoint unless it was disabled, then
// launches the TorBot subprocess.
func (s *Supervisor) StartTorBot(opts TorBotOptions) error {
	seed, err := crawl.CanonicalizeSeed(opts.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrValidation, err)
	}
	if opts.Depth < 0 {
		return fmt.Errorf("%w: depth must be >= 0", ErrValidation)
	}
	opts.URL = seed
	if opts.Depth == 0 {
		opts.Depth = 2
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "json"
	}
	if opts.SocksHost == "" {
		opts.SocksHost = s.cfg.Tor.SocksHost
	}
	if opts.SocksPort == 0 {
		opts.SocksPort = s.cfg.Tor.SocksPort
	}

	if !opts.DisableSocks5 {
		torClient, terr := s.torClientFor(opts.SocksHost, opts.SocksPort)
		if terr != nil {
			return terr
		}
		if perr := torClient.Probe(context.Background()); perr != nil {
			return fmt.Errorf("tor endpoint %s: %w", torClient.Address(), perr)
		}
	}

	ctx, err := s.begin(SlotTorBot)
	if err != nil {
		return err
	}
	s.active.Add(1)
	go func() {
		defer s.active.Done()
		s.finish(SlotTorBot, s.runTorBot(ctx, opts))
	}()
	return nil
}

// Stop signals cancellation on a running slot and returns immediately.
// Callers poll Status to observe the transition back to idle.
func (s *Supervisor) Stop(slot Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: unknown slot %q", ErrValidation, slot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.slots[slot]
	if state.status != StatusRunning {
		return ErrNotRunning
	}
	state.status = StatusStopping
	state.cancel()
	s.logger.Info("engine stopping", zap.String("slot", string(slot)))
	return nil
}

// Status returns the per-slot snapshot plus the coarse global flag.
func (s *Supervisor) Status() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StateSnapshot{Slots: make(map[Slot]SlotState, len(s.slots))}
	for slot, state := range s.slots {
		view := SlotState{Status: state.status, LastError: state.lastError}
		if !state.startedAt.IsZero() {
			started := state.startedAt
			view.StartedAt = &started
		}
		snap.Slots[slot] = view
		if state.status == StatusRunning || state.status == StatusStopping {
			snap.Running = true
			snap.Active = slot
		}
	}
	counters := s.counters.Snapshot()
	snap.Counters = &counters
	return snap
}

// Progress reports the live TorBot counters and whether the slot is
// currently running.
func (s *Supervisor) Progress() (ProgressSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.slots[SlotTorBot]
	running := state.status == StatusRunning || state.status == StatusStopping
	return s.progress.Snapshot(), running
}

// Close cancels any running engine and waits up to the drain grace for
// it to return.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	for slot, state := range s.slots {
		if state.status == StatusRunning {
			state.status = StatusStopping
			state.cancel()
			s.logger.Info("cancelling engine on shutdown", zap.String("slot", string(slot)))
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	drain, cancel := context.WithTimeout(ctx, drainGrace)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-drain.Done():
		return fmt.Errorf("engine drain timed out after %s", drainGrace)
	}
}

// begin enforces global exclusivity and performs the session reset:
// the visit set, the progress counters, and both published documents
// are cleared before the slot transitions to running.
func (s *Supervisor) begin(slot Slot) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.slots {
		if state.status == StatusRunning || state.status == StatusStopping {
			return nil, ErrBusy
		}
	}

	s.visits.Reset()
	s.counters = &crawl.Counters{}
	s.progress = NewTorBotProgress()
	if err := s.publisher.Reset(); err != nil {
		return nil, fmt.Errorf("session reset: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := s.slots[slot]
	state.status = StatusRunning
	state.startedAt = s.clock.Now()
	state.lastError = ""
	state.cancel = cancel
	s.logger.Info("engine started", zap.String("slot", string(slot)))
	return ctx, nil
}

// finish moves the slot back to idle, or to error when the engine task
// failed for a reason other than cancellation.
func (s *Supervisor) finish(slot Slot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.slots[slot]
	cancelled := state.status == StatusStopping
	state.cancel()
	state.cancel = nil

	switch {
	case err == nil || cancelled:
		state.status = StatusIdle
		state.lastError = ""
		if cancelled {
			metrics.ObserveEngineRun(string(slot), "cancelled")
		} else {
			metrics.ObserveEngineRun(string(slot), "ok")
		}
		s.logger.Info("engine finished", zap.String("slot", string(slot)))
	default:
		state.status = StatusError
		state.lastError = err.Error()
		metrics.ObserveEngineRun(string(slot), "error")
		s.logger.Error("engine failed", zap.String("slot", string(slot)), zap.Error(err))
	}
}

// torClientFor builds a client for a per-request SOCKS override, or
// returns the configured one when no override is present.
func (s *Supervisor) torClientFor(host string, port int) (*tor.Client, error) {
	if host == "" && port == 0 {
		if s.tor == nil {
			return nil, fmt.Errorf("%w: no tor endpoint configured", ErrValidation)
		}
		return s.tor, nil
	}
	if host == "" {
		host = s.cfg.Tor.SocksHost
	}
	if port == 0 {
		port = s.cfg.Tor.SocksPort
	}
	client, err := tor.NewClient(host, port, s.cfg.RequestTimeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return client, nil
}
