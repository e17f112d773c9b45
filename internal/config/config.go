// Package config loads directory settings from the environment. Call
// LoadEnvFile(".env") before Load() to pick up a local env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/streamdex/streamdex/internal/probecache"
	"github.com/streamdex/streamdex/internal/scheduler"
)

// Config holds directory API + probing settings.
type Config struct {
	// HTTP
	ListenAddr string // e.g. ":8080"

	// Catalog store
	DatabasePath string // SQLite file populated by the sync job

	// Probing
	ProbeMode        string        // "reachability" | "playlist"
	ProbeTimeout     time.Duration // per-request probe timeout
	ProbeConcurrency int           // simultaneous probes
	ProbeRateLimit   float64       // probe requests per second across all workers; 0 = unlimited
	ProbeUserAgent   string        // default User-Agent when a stream has none

	// Probe cache
	ProbeCacheFile     string // path to JSON cache; "" = in-memory only
	ProbeCacheCapacity int
	SyncHourUTC        int // daily catalog sync boundary; cached verdicts expire here
}

// Load reads config from environment.
func Load() *Config {
	c := &Config{
		ListenAddr:         getEnv("STREAMDEX_LISTEN_ADDR", ":8080"),
		DatabasePath:       getEnv("STREAMDEX_DB_PATH", "./catalog.db"),
		ProbeMode:          getEnvProbeMode("STREAMDEX_PROBE_MODE", "reachability"),
		ProbeTimeout:       getEnvDuration("STREAMDEX_PROBE_TIMEOUT", 5*time.Second),
		ProbeConcurrency:   getEnvInt("STREAMDEX_PROBE_CONCURRENCY", scheduler.DefaultConcurrency),
		ProbeRateLimit:     getEnvFloat("STREAMDEX_PROBE_RATE_LIMIT", 0),
		ProbeUserAgent:     os.Getenv("STREAMDEX_PROBE_USER_AGENT"),
		ProbeCacheFile:     getEnv("STREAMDEX_PROBE_CACHE_FILE", "./probe-cache.json"),
		ProbeCacheCapacity: getEnvInt("STREAMDEX_PROBE_CACHE_CAPACITY", probecache.DefaultCapacity),
		SyncHourUTC:        getEnvInt("STREAMDEX_SYNC_HOUR_UTC", probecache.DefaultSyncHourUTC),
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = scheduler.DefaultConcurrency
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbeCacheCapacity <= 0 {
		c.ProbeCacheCapacity = probecache.DefaultCapacity
	}
	if c.SyncHourUTC < 0 || c.SyncHourUTC > 23 {
		c.SyncHourUTC = probecache.DefaultSyncHourUTC
	}
	return c
}

// getEnvProbeMode returns "reachability" or "playlist".
func getEnvProbeMode(key, defaultVal string) string {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "playlist", "hls":
		return "playlist"
	case "reachability", "status", "":
		if v == "" {
			return defaultVal
		}
		return "reachability"
	}
	return defaultVal
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
