// Package server exposes the channel directory over HTTP: paginated channel
// listings, reference data (categories, countries, languages), and the
// probing endpoints that drive stream liveness checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamdex/streamdex/internal/probecache"
	"github.com/streamdex/streamdex/internal/query"
	"github.com/streamdex/streamdex/internal/scheduler"
	"github.com/streamdex/streamdex/internal/store"
)

// Server serves the directory API. All fields must be set before Run.
type Server struct {
	Addr      string
	Store     *store.Store
	Engine    *query.Engine
	Scheduler *scheduler.Scheduler
	Now       func() time.Time // test hook for Cache-Control max-age
}

// Handler builds the full route tree. Split from Run so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/channels", s.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/api/channels/{id}", s.handleChannel).Methods(http.MethodGet)
	r.HandleFunc("/api/streams/{channelId}", s.handleStreams).Methods(http.MethodGet)
	r.HandleFunc("/api/categories", s.handleCategories).Methods(http.MethodGet)
	r.HandleFunc("/api/countries", s.handleCountries).Methods(http.MethodGet)
	r.HandleFunc("/api/languages", s.handleLanguages).Methods(http.MethodGet)
	r.HandleFunc("/api/probe", s.handleProbe).Methods(http.MethodPost)
	r.HandleFunc("/api/probe/status", s.handleProbeStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/probe/visibility", s.handleProbeVisibility).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return logRequests(compressResponses(r))
}

// Run blocks until ctx is cancelled or the listener fails. On shutdown it
// stops accepting new connections and drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Directory API listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("Shutting down directory API ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Directory API shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// catalogCacheControl sets max-age to expire at the next daily catalog sync,
// so clients refetch exactly when new data can exist.
func (s *Server) catalogCacheControl(w http.ResponseWriter) {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), probecache.DefaultSyncHourUTC, 0, 0, 0, time.UTC)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(next.Sub(now).Seconds())))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapStoreError translates data-layer failures: a missing row is the caller's
// problem, anything else means the store is unavailable.
func mapStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	log.Printf("http: store error: %v", err)
	writeError(w, http.StatusServiceUnavailable, "catalog store unavailable")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr,
		)
	})
}
