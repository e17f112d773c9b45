package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/streamdex/streamdex/internal/catalog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUpsert(t *testing.T, s *Store, ch catalog.Channel) int64 {
	t.Helper()
	seq, err := s.UpsertChannel(context.Background(), ch)
	if err != nil {
		t.Fatalf("UpsertChannel(%s): %v", ch.ChannelID, err)
	}
	return seq
}

func TestUpsertChannel_assignsMonotonicSeq(t *testing.T) {
	s := openTestStore(t)
	a := mustUpsert(t, s, catalog.Channel{ChannelID: "a.us", Name: "A", Country: "us"})
	b := mustUpsert(t, s, catalog.Channel{ChannelID: "b.us", Name: "B", Country: "us"})
	if b <= a {
		t.Errorf("seq not monotonic: a=%d b=%d", a, b)
	}
	// Re-upserting keeps the original seq (creation order is stable).
	a2 := mustUpsert(t, s, catalog.Channel{ChannelID: "a.us", Name: "A renamed", Country: "us"})
	if a2 != a {
		t.Errorf("re-upsert changed seq: %d vs %d", a2, a)
	}
}

func TestGetChannel_roundtrip(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{
		ChannelID:  "cnn.us",
		Name:       "CNN",
		Logo:       "http://logo/cnn.png",
		Country:    "us",
		Categories: []string{"news", "general"},
		Languages:  []string{"eng"},
		Network:    "CNN",
	})
	ch, err := s.GetChannel(context.Background(), "cnn.us")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.Name != "CNN" || ch.Country != "us" {
		t.Errorf("got %+v", ch)
	}
	if len(ch.Categories) != 2 || ch.PrimaryCategory() != "news" {
		t.Errorf("categories: %v (tag order must survive the roundtrip)", ch.Categories)
	}
	if len(ch.Languages) != 1 || ch.Languages[0] != "eng" {
		t.Errorf("languages: %v", ch.Languages)
	}
}

func TestGetChannel_notFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetChannel(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestGetStreams_priorityOrder(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{ChannelID: "x.us", Name: "X", Country: "us"})
	streams := []catalog.Stream{
		{ChannelID: "x.us", URL: "http://first/x.m3u8", Quality: "1080p"},
		{ChannelID: "x.us", URL: "http://second/x.m3u8", UserAgent: "VLC"},
	}
	if err := s.ReplaceStreams(context.Background(), "x.us", streams); err != nil {
		t.Fatalf("ReplaceStreams: %v", err)
	}
	got, err := s.GetStreams(context.Background(), "x.us")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(got) != 2 || got[0].URL != "http://first/x.m3u8" || got[1].UserAgent != "VLC" {
		t.Errorf("got %+v", got)
	}

	// Replace swaps, not appends.
	if err := s.ReplaceStreams(context.Background(), "x.us", streams[1:]); err != nil {
		t.Fatalf("ReplaceStreams: %v", err)
	}
	got, _ = s.GetStreams(context.Background(), "x.us")
	if len(got) != 1 || got[0].URL != "http://second/x.m3u8" {
		t.Errorf("after replace: %+v", got)
	}
}

func TestGetStreams_none(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetStreams(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want empty, got %+v", got)
	}
}

func TestScanCountry_orderAndAfterSeq(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{ChannelID: "a.us", Name: "A", Country: "us"})
	mustUpsert(t, s, catalog.Channel{ChannelID: "b.uk", Name: "B", Country: "uk"})
	seqC := mustUpsert(t, s, catalog.Channel{ChannelID: "c.us", Name: "C", Country: "us"})
	mustUpsert(t, s, catalog.Channel{ChannelID: "d.us", Name: "D", Country: "us"})

	got, err := s.ScanCountry(context.Background(), "us", 0, 10)
	if err != nil {
		t.Fatalf("ScanCountry: %v", err)
	}
	if len(got) != 3 || got[0].ChannelID != "a.us" || got[2].ChannelID != "d.us" {
		t.Errorf("got %+v", ids(got))
	}

	got, err = s.ScanCountry(context.Background(), "us", seqC, 10)
	if err != nil {
		t.Fatalf("ScanCountry after: %v", err)
	}
	if len(got) != 1 || got[0].ChannelID != "d.us" {
		t.Errorf("afterSeq scan: %v", ids(got))
	}
}

func TestScanCategoryCountry_compound(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{ChannelID: "n1.us", Name: "News One", Country: "us", Categories: []string{"news"}})
	mustUpsert(t, s, catalog.Channel{ChannelID: "s1.us", Name: "Sports One", Country: "us", Categories: []string{"sports"}})
	mustUpsert(t, s, catalog.Channel{ChannelID: "n2.uk", Name: "News Two", Country: "uk", Categories: []string{"news"}})

	got, err := s.ScanCategoryCountry(context.Background(), "news", "us", 0, 10)
	if err != nil {
		t.Fatalf("ScanCategoryCountry: %v", err)
	}
	if len(got) != 1 || got[0].ChannelID != "n1.us" {
		t.Errorf("got %v", ids(got))
	}
}

func TestSearchChannels_ranked(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{ChannelID: "bbc1.uk", Name: "BBC One", Country: "uk"})
	mustUpsert(t, s, catalog.Channel{ChannelID: "bbc2.uk", Name: "BBC Two", Country: "uk"})
	mustUpsert(t, s, catalog.Channel{ChannelID: "cnn.us", Name: "CNN", Country: "us"})

	got, err := s.SearchChannels(context.Background(), "bbc", 10)
	if err != nil {
		t.Fatalf("SearchChannels: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 BBC matches, got %v", ids(got))
	}
	for _, ch := range got {
		if ch.ChannelID == "cnn.us" {
			t.Errorf("CNN should not match bbc: %v", ids(got))
		}
	}
}

func TestSearchChannels_renameReindexes(t *testing.T) {
	s := openTestStore(t)
	mustUpsert(t, s, catalog.Channel{ChannelID: "x.us", Name: "Old Name", Country: "us"})
	mustUpsert(t, s, catalog.Channel{ChannelID: "x.us", Name: "Fresh Name", Country: "us"})

	got, err := s.SearchChannels(context.Background(), "fresh", 10)
	if err != nil {
		t.Fatalf("SearchChannels: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rename not indexed: %v", ids(got))
	}
	got, err = s.SearchChannels(context.Background(), "old", 10)
	if err != nil {
		t.Fatalf("SearchChannels: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("stale index entry for old name: %v", ids(got))
	}
}

func TestReplaceReferenceTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ReplaceCategories(ctx, []catalog.Category{{CategoryID: "news", Name: "News"}}); err != nil {
		t.Fatalf("ReplaceCategories: %v", err)
	}
	if err := s.ReplaceCountries(ctx, []catalog.Country{{Code: "us", Name: "United States", Flag: "🇺🇸", Languages: []string{"eng", "spa"}}}); err != nil {
		t.Fatalf("ReplaceCountries: %v", err)
	}
	if err := s.ReplaceLanguages(ctx, []catalog.Language{{Code: "eng", Name: "English"}}); err != nil {
		t.Fatalf("ReplaceLanguages: %v", err)
	}

	cats, err := s.ListCategories(ctx)
	if err != nil || len(cats) != 1 || cats[0].CategoryID != "news" {
		t.Errorf("categories: %v, %v", cats, err)
	}
	countries, err := s.ListCountries(ctx)
	if err != nil || len(countries) != 1 || len(countries[0].Languages) != 2 {
		t.Errorf("countries: %+v, %v", countries, err)
	}
	langs, err := s.ListLanguages(ctx)
	if err != nil || len(langs) != 1 {
		t.Errorf("languages: %v, %v", langs, err)
	}
}

func TestFTSQuery_escaping(t *testing.T) {
	if q := ftsQuery(""); q != "" {
		t.Errorf("empty: %q", q)
	}
	if q := ftsQuery("bbc news"); q != `"bbc" "news"*` {
		t.Errorf("two tokens: %q", q)
	}
	if q := ftsQuery(`a"b`); q != `"a""b"*` {
		t.Errorf("quote escape: %q", q)
	}
}

func ids(chs []catalog.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = c.ChannelID
	}
	return out
}
