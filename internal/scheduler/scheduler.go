// Package scheduler drives liveness probing across a channel list with a
// fixed concurrency ceiling and visibility-aware prioritization.
//
// Each channel moves pending → probing → working|failed; a fresh cache
// verdict short-circuits straight to the terminal state, and a verdict whose
// cache entry has expired resets to pending on the next Submit. A single dispatch discipline (FIFO, visible channels first) feeds a
// bounded worker pool, and one in-flight probe per channel id keeps cache
// writes race-free. After Close, in-flight probes are canceled and their
// late results are discarded.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/metrics"
	"github.com/streamdex/streamdex/internal/probe"
	"github.com/streamdex/streamdex/internal/probecache"
)

// DefaultConcurrency is the probe slot ceiling, global across the session.
const DefaultConcurrency = 3

// Status is a channel's position in the probing state machine.
type Status string

const (
	StatusPending Status = "pending"
	StatusProbing Status = "probing"
	StatusWorking Status = "working"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is a final verdict.
func (s Status) Terminal() bool {
	return s == StatusWorking || s == StatusFailed
}

// FetchStreams resolves a channel id to its ordered candidate streams. It may
// fail; failure is treated exactly like an empty candidate list.
type FetchStreams func(ctx context.Context, channelID string) ([]catalog.Stream, error)

// Options configures a Scheduler.
type Options struct {
	Prober      probe.Prober
	Cache       *probecache.Cache // optional
	Concurrency int               // default DefaultConcurrency
	Now         func() time.Time  // test hook for cache timestamps
}

// Scheduler probes submitted channels. One Scheduler serves one channel-list
// session; tear it down with Close.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Bool

	prober probe.Prober
	cache  *probecache.Cache
	now    func() time.Time
	pool   *ants.Pool

	statuses *xsync.MapOf[string, Status]
	kick     chan struct{}

	mu       sync.Mutex
	queue    []task
	visible  map[string]bool
	inflight int
	cap      int

	wg sync.WaitGroup
}

type task struct {
	channelID string
	fetch     FetchStreams
}

// New builds a Scheduler with its worker pool. Callers must Close it.
func New(o Options) (*Scheduler, error) {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	pool, err := ants.NewPool(o.Concurrency)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		prober:   o.Prober,
		cache:    o.Cache,
		now:      o.Now,
		pool:     pool,
		statuses: xsync.NewMapOf[string, Status](),
		kick:     make(chan struct{}, 1),
		visible:  make(map[string]bool),
		cap:      o.Concurrency,
	}
	s.active.Store(true)
	go s.loop()
	return s, nil
}

// Submit adds channels to the session. A channel that is queued or in-flight
// is never enqueued twice; a fresh cache verdict is adopted directly without
// probing. A terminal verdict whose cache entry has since expired (TTL or the
// daily refresh boundary) resets to pending and probes again.
func (s *Scheduler) Submit(channels []catalog.Channel, fetch FetchStreams) {
	if !s.active.Load() {
		return
	}
	s.mu.Lock()
	for i := range channels {
		id := channels[i].ChannelID
		if st, seen := s.statuses.Load(id); seen {
			if s.cache == nil || !st.Terminal() {
				continue
			}
			if _, ok := s.cache.Get(id); ok {
				continue
			}
			// The verdict outlived its cache entry; probe afresh.
			s.statuses.Store(id, StatusPending)
			s.queue = append(s.queue, task{channelID: id, fetch: fetch})
			continue
		}
		if s.cache != nil {
			if e, ok := s.cache.Get(id); ok {
				s.statuses.Store(id, fromCacheStatus(e.Status))
				continue
			}
		}
		s.statuses.Store(id, StatusPending)
		s.queue = append(s.queue, task{channelID: id, fetch: fetch})
	}
	s.mu.Unlock()
	s.wake()
}

// SetVisible registers or clears a channel's on-screen visibility. Visible
// channels are pulled from the queue first.
func (s *Scheduler) SetVisible(channelID string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if visible {
		s.visible[channelID] = true
		return
	}
	delete(s.visible, channelID)
}

// Status returns the channel's current probing status.
func (s *Scheduler) Status(channelID string) (Status, bool) {
	return s.statuses.Load(channelID)
}

// StatusSnapshot copies the full per-channel status map.
func (s *Scheduler) StatusSnapshot() map[string]Status {
	out := make(map[string]Status)
	s.statuses.Range(func(id string, st Status) bool {
		out[id] = st
		return true
	})
	return out
}

// IsAnyPending reports whether any submitted channel still awaits a verdict.
func (s *Scheduler) IsAnyPending() bool {
	any := false
	s.statuses.Range(func(_ string, st Status) bool {
		if !st.Terminal() {
			any = true
			return false
		}
		return true
	})
	return any
}

// Close tears the session down: cancels in-flight probes, waits for their
// goroutines to release resources, and discards any late results.
func (s *Scheduler) Close() {
	s.active.Store(false)
	s.cancel()
	// Dispatch checks active under mu, so once this drain completes no new
	// probe can start and wg covers every probe that did.
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.wg.Wait()
	s.pool.Release()
}

// wake nudges the dispatch loop. Coalesces bursts into one signal.
func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// loop is the single dispatcher. All probe starts funnel through here, and
// probe completions report back via wake, which keeps slot accounting and
// queue selection serialized.
func (s *Scheduler) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			s.dispatch()
		}
	}
}

// dispatch fills free probe slots. Visible-first, FIFO within each tier.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inflight < s.cap && len(s.queue) > 0 && s.active.Load() {
		idx := 0
		for i := range s.queue {
			if s.visible[s.queue[i].channelID] {
				idx = i
				break
			}
		}
		t := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.inflight++
		s.statuses.Store(t.channelID, StatusProbing)
		s.wg.Add(1)
		if err := s.pool.Submit(func() { s.run(t) }); err != nil {
			// Pool released under us; roll the slot back.
			s.wg.Done()
			s.inflight--
			s.statuses.Store(t.channelID, StatusPending)
			s.queue = append([]task{t}, s.queue...)
			return
		}
	}
}

// run executes one channel's probe procedure and publishes the verdict.
func (s *Scheduler) run(t task) {
	defer s.wg.Done()
	metrics.ProbesInFlight.Inc()
	status, workingURLs := s.probeChannel(t)
	metrics.ProbesInFlight.Dec()

	// A teardown mid-probe must not touch freed state: no status update, no
	// cache write.
	if s.active.Load() && s.ctx.Err() == nil && status.Terminal() {
		s.statuses.Store(t.channelID, status)
		probe.Record(status == StatusWorking)
		if s.cache != nil {
			s.cache.Put(t.channelID, probecache.Entry{
				Status:            toCacheStatus(status),
				WorkingStreamURLs: workingURLs,
				Timestamp:         s.now(),
			})
		}
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	s.wake()
}

// probeChannel tries the channel's candidates in order, stopping at the first
// working stream. No candidates (or a fetch failure) is an immediate failed
// verdict without invoking the prober.
func (s *Scheduler) probeChannel(t task) (Status, []string) {
	streams, err := t.fetch(s.ctx, t.channelID)
	if err != nil || len(streams) == 0 {
		if s.ctx.Err() != nil {
			return StatusProbing, nil // torn down; no verdict
		}
		return StatusFailed, nil
	}
	for i := range streams {
		if s.ctx.Err() != nil {
			return StatusProbing, nil
		}
		if s.prober.Probe(s.ctx, streams[i]) {
			return StatusWorking, []string{streams[i].URL}
		}
	}
	if s.ctx.Err() != nil {
		return StatusProbing, nil
	}
	return StatusFailed, nil
}

func fromCacheStatus(st probecache.Status) Status {
	if st == probecache.StatusWorking {
		return StatusWorking
	}
	return StatusFailed
}

func toCacheStatus(st Status) probecache.Status {
	if st == StatusWorking {
		return probecache.StatusWorking
	}
	return probecache.StatusFailed
}
