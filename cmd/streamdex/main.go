// Command streamdex serves the channel directory API over a synced catalog.
//
//	serve  Run the directory API: channel listing/search, reference data, probing
//	probe  One-shot: probe the given channel ids against the catalog, print verdicts
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/config"
	"github.com/streamdex/streamdex/internal/httpclient"
	"github.com/streamdex/streamdex/internal/probe"
	"github.com/streamdex/streamdex/internal/probecache"
	"github.com/streamdex/streamdex/internal/query"
	"github.com/streamdex/streamdex/internal/scheduler"
	"github.com/streamdex/streamdex/internal/server"
	"github.com/streamdex/streamdex/internal/store"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[streamdex] ")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: STREAMDEX_LISTEN_ADDR)")
	serveDB := serveCmd.String("db", "", "Catalog SQLite path (default: STREAMDEX_DB_PATH)")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeDB := probeCmd.String("db", "", "Catalog SQLite path (default: STREAMDEX_DB_PATH)")
	probeTimeout := probeCmd.Duration("timeout", 0, "Per-stream probe timeout (default: STREAMDEX_PROBE_TIMEOUT)")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <serve|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve  Run the directory API\n")
		fmt.Fprintf(os.Stderr, "  probe  Probe channel ids once and print verdicts (e.g. probe cnn.us bbc.uk)\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if *serveAddr != "" {
			cfg.ListenAddr = *serveAddr
		}
		if *serveDB != "" {
			cfg.DatabasePath = *serveDB
		}
		if err := runServe(cfg); err != nil {
			log.Printf("Serve failed: %v", err)
			os.Exit(1)
		}

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		if *probeDB != "" {
			cfg.DatabasePath = *probeDB
		}
		if *probeTimeout > 0 {
			cfg.ProbeTimeout = *probeTimeout
		}
		if probeCmd.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "probe: at least one channel id required")
			os.Exit(1)
		}
		if err := runProbe(cfg, probeCmd.Args()); err != nil {
			log.Printf("Probe failed: %v", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func newProber(cfg *config.Config) probe.Prober {
	var limiter *rate.Limiter
	if cfg.ProbeRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRateLimit), 1)
	}
	client := httpclient.WithTimeout(cfg.ProbeTimeout)
	if cfg.ProbeMode == "playlist" {
		return &probe.Playlist{Client: client, Timeout: cfg.ProbeTimeout, Limiter: limiter, UserAgent: cfg.ProbeUserAgent}
	}
	return &probe.Reachability{Client: client, Timeout: cfg.ProbeTimeout, Limiter: limiter, UserAgent: cfg.ProbeUserAgent}
}

func runServe(cfg *config.Config) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()

	cache := probecache.New(probecache.Options{
		Path:        cfg.ProbeCacheFile,
		Capacity:    cfg.ProbeCacheCapacity,
		SyncHourUTC: cfg.SyncHourUTC,
	})
	cache.EvictExpired()
	log.Printf("Probe cache loaded: %d fresh entries (file %s)", cache.Len(), cfg.ProbeCacheFile)

	sched, err := scheduler.New(scheduler.Options{
		Prober:      newProber(cfg),
		Cache:       cache,
		Concurrency: cfg.ProbeConcurrency,
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &server.Server{
		Addr:      cfg.ListenAddr,
		Store:     st,
		Engine:    query.New(st),
		Scheduler: sched,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)

	sched.Close()
	if saveErr := cache.Save(); saveErr != nil {
		log.Printf("Probe cache save failed: %v", saveErr)
	}
	return err
}

func runProbe(cfg *config.Config, channelIDs []string) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()

	cache := probecache.New(probecache.Options{
		Path:        cfg.ProbeCacheFile,
		Capacity:    cfg.ProbeCacheCapacity,
		SyncHourUTC: cfg.SyncHourUTC,
	})
	cache.EvictExpired()

	sched, err := scheduler.New(scheduler.Options{
		Prober:      newProber(cfg),
		Cache:       cache,
		Concurrency: cfg.ProbeConcurrency,
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Close()

	ctx := context.Background()
	var submit []catalog.Channel
	for _, id := range channelIDs {
		ch, err := st.GetChannel(ctx, id)
		if err != nil {
			log.Printf("Skipping %s: %v", id, err)
			continue
		}
		submit = append(submit, ch)
	}
	if len(submit) == 0 {
		return fmt.Errorf("no known channels among %v", channelIDs)
	}
	sched.Submit(submit, st.GetStreams)

	for sched.IsAnyPending() {
		time.Sleep(50 * time.Millisecond)
	}

	statuses := sched.StatusSnapshot()
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%-30s %s\n", id, statuses[id])
	}
	return cache.Save()
}
