// Package probecache is the time-windowed, capacity-bounded cache of channel
// liveness verdicts. It short-circuits re-probing: a fresh entry lets the
// scheduler adopt the cached status without touching the network.
//
// Freshness is the tighter of a status-dependent TTL (working streams are
// assumed stable for a day, failures are retried after six hours) and the
// most recent daily catalog refresh boundary, after which every verdict is
// void regardless of age. The cache persists to a JSON file across sessions;
// it is an optimization only and all write failures are swallowed.
package probecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/streamdex/streamdex/internal/metrics"
)

const (
	// WorkingTTL is how long a working verdict stays fresh.
	WorkingTTL = 24 * time.Hour
	// FailedTTL is how long a failed verdict stays fresh. Shorter: failures
	// are often transient upstream hiccups.
	FailedTTL = 6 * time.Hour
	// DefaultCapacity is the entry cap before oldest-by-timestamp eviction.
	DefaultCapacity = 1000
	// DefaultSyncHourUTC is the daily catalog refresh boundary.
	DefaultSyncHourUTC = 3
)

// Status is a terminal probe verdict.
type Status string

const (
	StatusWorking Status = "working"
	StatusFailed  Status = "failed"
)

// Entry is one cached verdict. WorkingStreamURLs holds the stream URL(s)
// that answered the probe (at most one; probing short-circuits on the first
// success).
type Entry struct {
	Status            Status    `json:"status"`
	WorkingStreamURLs []string  `json:"working_stream_urls"`
	Timestamp         time.Time `json:"timestamp"`
}

// Options configures a Cache. Zero values get defaults; a zero Path keeps the
// cache memory-only.
type Options struct {
	Path        string
	Capacity    int
	SyncHourUTC int
	Now         func() time.Time // test hook
}

// Cache maps channel id → last known verdict. Safe for concurrent use; the
// read-evict-write sequence in Put is serialized under one lock so capacity
// eviction stays correct.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]Entry
	path        string
	capacity    int
	syncHourUTC int
	now         func() time.Time
}

// New returns a cache loaded from o.Path (empty if absent or unreadable,
// mirroring a fresh session).
func New(o Options) *Cache {
	c := &Cache{
		entries:     make(map[string]Entry),
		path:        o.Path,
		capacity:    o.Capacity,
		syncHourUTC: o.SyncHourUTC,
		now:         o.Now,
	}
	if c.capacity <= 0 {
		c.capacity = DefaultCapacity
	}
	if o.SyncHourUTC == 0 {
		c.syncHourUTC = DefaultSyncHourUTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.path != "" {
		if data, err := os.ReadFile(c.path); err == nil {
			_ = json.Unmarshal(data, &c.entries)
			if c.entries == nil {
				c.entries = make(map[string]Entry)
			}
		}
	}
	return c
}

// Get returns the entry for channelID if present and still fresh. A stale
// entry reads as absent, forcing a re-probe.
func (c *Cache) Get(channelID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[channelID]
	if !ok || !c.fresh(e, c.now()) {
		metrics.ProbeCacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	metrics.ProbeCacheLookups.WithLabelValues("hit").Inc()
	return e, true
}

// Put upserts the entry and evicts the oldest-by-timestamp entries when over
// capacity. The persisted file is rewritten; write failures are dropped (the
// cache is never a correctness dependency).
func (c *Cache) Put(channelID string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[channelID] = e
	if len(c.entries) > c.capacity {
		c.evictOldestLocked(len(c.entries) - c.capacity)
	}
	_ = c.saveLocked()
}

// EvictExpired sweeps all stale entries. Run once at session start.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if !c.fresh(e, now) {
			delete(c.entries, id)
		}
	}
	_ = c.saveLocked()
}

// Len returns the number of entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save persists the cache now and reports the error (for shutdown paths that
// want to log it; Put and EvictExpired swallow theirs).
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// fresh applies the TTL and the daily refresh boundary.
func (c *Cache) fresh(e Entry, now time.Time) bool {
	if e.Timestamp.Before(c.lastSyncBoundary(now)) {
		return false
	}
	ttl := WorkingTTL
	if e.Status == StatusFailed {
		ttl = FailedTTL
	}
	return now.Sub(e.Timestamp) <= ttl
}

// lastSyncBoundary returns the most recent daily refresh instant at or before
// now (syncHourUTC:00 UTC).
func (c *Cache) lastSyncBoundary(now time.Time) time.Time {
	u := now.UTC()
	b := time.Date(u.Year(), u.Month(), u.Day(), c.syncHourUTC, 0, 0, 0, time.UTC)
	if u.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

func (c *Cache) evictOldestLocked(n int) {
	type aged struct {
		id string
		ts time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for id, e := range c.entries {
		all = append(all, aged{id, e.Timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].id)
	}
}

// saveLocked writes the cache atomically (temp file + rename). No-op when
// memory-only.
func (c *Cache) saveLocked() error {
	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(c.path))
	tmp, err := os.CreateTemp(dir, ".probecache-*.json.tmp")
	if err != nil {
		return fmt.Errorf("probe cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("probe cache: write: %w", writeErr)
		}
		return fmt.Errorf("probe cache: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("probe cache: rename: %w", err)
	}
	return nil
}
