package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/query"
	"github.com/streamdex/streamdex/internal/scheduler"
	"github.com/streamdex/streamdex/internal/store"
)

type proberFunc func(ctx context.Context, st catalog.Stream) bool

func (f proberFunc) Probe(ctx context.Context, st catalog.Stream) bool { return f(ctx, st) }

func newTestServer(t *testing.T, prober proberFunc) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/catalog.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	if prober == nil {
		prober = func(ctx context.Context, s catalog.Stream) bool { return false }
	}
	sched, err := scheduler.New(scheduler.Options{Prober: prober})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sched.Close)

	return &Server{
		Store:     st,
		Engine:    query.New(st),
		Scheduler: sched,
	}, st
}

func seedChannels(t *testing.T, st *store.Store, chs ...catalog.Channel) {
	t.Helper()
	ctx := context.Background()
	for _, ch := range chs {
		if _, err := st.UpsertChannel(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, h http.Handler, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChannelsEndpointPaginates(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedChannels(t, st,
		catalog.Channel{ChannelID: "a.us", Name: "Alpha", Country: "us", Categories: []string{"news"}},
		catalog.Channel{ChannelID: "b.us", Name: "Beta", Country: "us", Categories: []string{"news"}},
		catalog.Channel{ChannelID: "c.us", Name: "Gamma", Country: "us", Categories: []string{"sports"}},
	)
	h := srv.Handler()

	w := get(t, h, "/api/channels?countries=us&pageSize=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var page catalog.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Channels) != 2 || page.Done {
		t.Fatalf("first page = %d channels done=%t", len(page.Channels), page.Done)
	}
	if page.Channels[0].ChannelID != "a.us" || page.Channels[1].ChannelID != "b.us" {
		t.Fatalf("first page out of creation order: %+v", page.Channels)
	}

	w = get(t, h, "/api/channels?countries=us&pageSize=2&cursor="+page.Cursor)
	if w.Code != http.StatusOK {
		t.Fatalf("second page status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Channels) != 1 || !page.Done || page.Channels[0].ChannelID != "c.us" {
		t.Fatalf("second page = %+v done=%t", page.Channels, page.Done)
	}
}

func TestChannelsEndpointBadCursor(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedChannels(t, st, catalog.Channel{ChannelID: "a.us", Name: "Alpha", Country: "us"})
	w := get(t, srv.Handler(), "/api/channels?cursor=not-a-cursor")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChannelsEndpointEmptyResultIsArray(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := get(t, srv.Handler(), "/api/channels")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"channels":[]`) {
		t.Fatalf("empty result must encode as [], got %s", w.Body)
	}
}

func TestChannelByID(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedChannels(t, st, catalog.Channel{ChannelID: "cnn.us", Name: "CNN", Country: "us", Categories: []string{"news"}})
	h := srv.Handler()

	w := get(t, h, "/api/channels/cnn.us")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ch catalog.Channel
	if err := json.Unmarshal(w.Body.Bytes(), &ch); err != nil {
		t.Fatal(err)
	}
	if ch.ChannelID != "cnn.us" || ch.Name != "CNN" {
		t.Fatalf("channel = %+v", ch)
	}

	if w := get(t, h, "/api/channels/nope.xx"); w.Code != http.StatusNotFound {
		t.Fatalf("missing channel status = %d, want 404", w.Code)
	}
}

func TestStreamsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedChannels(t, st, catalog.Channel{ChannelID: "cnn.us", Name: "CNN", Country: "us"})
	err := st.ReplaceStreams(context.Background(), "cnn.us", []catalog.Stream{
		{ChannelID: "cnn.us", URL: "http://cdn/cnn-hd.m3u8", Quality: "1080p"},
		{ChannelID: "cnn.us", URL: "http://cdn/cnn-sd.m3u8", Quality: "480p"},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := get(t, srv.Handler(), "/api/streams/cnn.us")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var streams []catalog.Stream
	if err := json.Unmarshal(w.Body.Bytes(), &streams); err != nil {
		t.Fatal(err)
	}
	if len(streams) != 2 || streams[0].URL != "http://cdn/cnn-hd.m3u8" {
		t.Fatalf("streams = %+v", streams)
	}
}

func TestCategoriesExcludesAdultAndSetsCacheControl(t *testing.T) {
	srv, st := newTestServer(t, nil)
	err := st.ReplaceCategories(context.Background(), []catalog.Category{
		{CategoryID: "news", Name: "News"},
		{CategoryID: "xxx", Name: "XXX"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 01:00 UTC: two hours until the 03:00 sync boundary.
	srv.Now = func() time.Time { return time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC) }

	w := get(t, srv.Handler(), "/api/categories")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var cats []catalog.Category
	if err := json.Unmarshal(w.Body.Bytes(), &cats); err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].CategoryID != "news" {
		t.Fatalf("categories = %+v, want adult category filtered out", cats)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=7200" {
		t.Fatalf("Cache-Control = %q", cc)
	}
}

func TestCacheControlRollsToNextDay(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	// 04:00 UTC: past today's boundary, expire at tomorrow 03:00.
	srv.Now = func() time.Time { return time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC) }

	w := get(t, srv.Handler(), "/api/countries")
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=82800" {
		t.Fatalf("Cache-Control = %q", cc)
	}
}

func TestProbeLifecycle(t *testing.T) {
	working := proberFunc(func(ctx context.Context, s catalog.Stream) bool { return true })
	srv, st := newTestServer(t, working)
	seedChannels(t, st, catalog.Channel{ChannelID: "cnn.us", Name: "CNN", Country: "us"})
	err := st.ReplaceStreams(context.Background(), "cnn.us", []catalog.Stream{
		{ChannelID: "cnn.us", URL: "http://cdn/cnn.m3u8"},
	})
	if err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	w := postJSON(t, h, "/api/probe", `{"channel_ids":["cnn.us","missing.xx"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("probe status = %d, body %s", w.Code, w.Body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w = get(t, h, "/api/probe/status")
		var resp struct {
			Statuses   map[string]scheduler.Status `json:"statuses"`
			AnyPending bool                        `json:"any_pending"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if _, ok := resp.Statuses["missing.xx"]; ok {
			t.Fatal("unknown channel id must be skipped, not tracked")
		}
		if !resp.AnyPending {
			if resp.Statuses["cnn.us"] != scheduler.StatusWorking {
				t.Fatalf("final status = %q, want working", resp.Statuses["cnn.us"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("probe never settled: %+v", resp.Statuses)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProbeVisibility(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	if w := postJSON(t, h, "/api/probe/visibility", `{"channel_id":"cnn.us","visible":true}`); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w := postJSON(t, h, "/api/probe/visibility", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", w.Code)
	}
}

func TestResponseCompression(t *testing.T) {
	srv, st := newTestServer(t, nil)
	seedChannels(t, st, catalog.Channel{ChannelID: "a.us", Name: "Alpha", Country: "us"})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if enc := w.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", enc)
	}
	gr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "a.us") {
		t.Fatalf("decompressed body missing channel: %s", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("Accept-Encoding", "br, gzip")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if enc := w.Header().Get("Content-Encoding"); enc != "br" {
		t.Fatalf("Content-Encoding = %q, want br preferred", enc)
	}
	body, err = io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "a.us") {
		t.Fatalf("brotli body missing channel: %s", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if enc := w.Header().Get("Content-Encoding"); enc != "" {
		t.Fatalf("uncompressed request got Content-Encoding %q", enc)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := get(t, srv.Handler(), "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body)
	}
}
