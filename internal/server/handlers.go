package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/metrics"
	"github.com/streamdex/streamdex/internal/query"
	"github.com/streamdex/streamdex/internal/store"
)

// splitList parses a comma-separated query parameter, dropping empty items.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Countries:  splitList(q.Get("countries")),
		Categories: splitList(q.Get("categories")),
		Languages:  splitList(q.Get("languages")),
		Search:     strings.TrimSpace(q.Get("search")),
		Cursor:     q.Get("cursor"),
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		f.PageSize = n
	}

	start := time.Now()
	page, err := s.Engine.Channels(r.Context(), f)
	if err != nil {
		if errors.Is(err, query.ErrBadCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		mapStoreError(w, err, "channel not found")
		return
	}
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if page.Channels == nil {
		page.Channels = []catalog.Channel{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ch, err := s.Store.GetChannel(r.Context(), id)
	if err != nil {
		mapStoreError(w, err, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["channelId"]
	streams, err := s.Store.GetStreams(r.Context(), id)
	if err != nil {
		mapStoreError(w, err, "channel not found")
		return
	}
	if streams == nil {
		streams = []catalog.Stream{}
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Store.ListCategories(r.Context())
	if err != nil {
		mapStoreError(w, err, "")
		return
	}
	// Adult content is excluded from the public category list.
	out := make([]catalog.Category, 0, len(cats))
	for _, c := range cats {
		if c.CategoryID == "xxx" {
			continue
		}
		out = append(out, c)
	}
	s.catalogCacheControl(w)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.Store.ListCountries(r.Context())
	if err != nil {
		mapStoreError(w, err, "")
		return
	}
	if countries == nil {
		countries = []catalog.Country{}
	}
	s.catalogCacheControl(w)
	writeJSON(w, http.StatusOK, countries)
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	langs, err := s.Store.ListLanguages(r.Context())
	if err != nil {
		mapStoreError(w, err, "")
		return
	}
	if langs == nil {
		langs = []catalog.Language{}
	}
	s.catalogCacheControl(w)
	writeJSON(w, http.StatusOK, langs)
}

type probeRequest struct {
	ChannelIDs []string `json:"channel_ids"`
}

// handleProbe enqueues liveness probes for the given channels. Unknown ids
// are skipped; duplicates and already-probed channels are no-ops.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	channels := make([]catalog.Channel, 0, len(req.ChannelIDs))
	for _, id := range req.ChannelIDs {
		ch, err := s.Store.GetChannel(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			mapStoreError(w, err, "")
			return
		}
		channels = append(channels, ch)
	}
	s.Scheduler.Submit(channels, s.Store.GetStreams)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"statuses": s.Scheduler.StatusSnapshot(),
	})
}

func (s *Server) handleProbeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statuses":    s.Scheduler.StatusSnapshot(),
		"any_pending": s.Scheduler.IsAnyPending(),
	})
}

type visibilityRequest struct {
	ChannelID string `json:"channel_id"`
	Visible   bool   `json:"visible"`
}

func (s *Server) handleProbeVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.Scheduler.SetVisible(req.ChannelID, req.Visible)
	w.WriteHeader(http.StatusNoContent)
}
