// Package query builds ordered, filtered, paginated channel listings from the
// catalog store. It picks the cheapest access path for a filter (compound key,
// single-key scan, multi-key merge, or full scan), merges per-key scans into
// one creation-ordered stream, and hands out opaque continuation cursors.
//
// Ranked text search is single-page: relevance order does not
// compose with a stable creation-order cursor, so search results carry
// Done=true and no cursor.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/metrics"
	"github.com/streamdex/streamdex/internal/store"
)

const (
	// DefaultPageSize is used when the caller passes PageSize <= 0.
	DefaultPageSize = 50
	// MaxPageSize caps a single page.
	MaxPageSize = 200
	// searchOvershoot is how many ranked hits are pulled per requested item,
	// leaving room for the structured post-filter over search results.
	searchOvershoot = 5
	// scanBatch is the per-key fetch size for scan/merge paths.
	scanBatch = 64
)

// Engine serves channel listing queries against a read-only catalog store.
type Engine struct {
	store *store.Store
}

// New returns an Engine reading from st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Channels returns one page of channels matching the filter. A filter that
// matches nothing yields an empty page with Done=true, not an error; errors
// surface only when the store itself fails or the cursor is malformed.
func (e *Engine) Channels(ctx context.Context, f catalog.Filter) (catalog.Page, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	if f.Search != "" {
		metrics.QueriesTotal.WithLabelValues("search").Inc()
		return e.search(ctx, f, pageSize)
	}

	path, sources := e.plan(ctx, f)
	metrics.QueriesTotal.WithLabelValues(path).Inc()

	cur, err := decodeCursor(f.Cursor, path, sources)
	if err != nil {
		return catalog.Page{}, err
	}
	for _, src := range sources {
		src.after = cur.After[src.key]
	}

	pred := predicate(f, path)
	var out []catalog.Channel
	for len(out) < pageSize {
		ch, ok, err := nextMerged(ctx, sources)
		if err != nil {
			return catalog.Page{}, err
		}
		if !ok {
			break
		}
		if pred(&ch) {
			out = append(out, ch)
		}
	}

	done := true
	for _, src := range sources {
		if !src.drained() {
			done = false
			break
		}
	}
	page := catalog.Page{Channels: out, Done: done}
	if !done {
		page.Cursor = encodeCursor(path, sources)
	}
	return page, nil
}

// search runs the ranked retrieval with overshoot and applies the structured
// filters in memory. Single page, always Done.
func (e *Engine) search(ctx context.Context, f catalog.Filter, pageSize int) (catalog.Page, error) {
	hits, err := e.store.SearchChannels(ctx, f.Search, pageSize*searchOvershoot)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("query: search: %w", err)
	}
	pred := searchPredicate(f)
	out := make([]catalog.Channel, 0, pageSize)
	for i := range hits {
		if pred(&hits[i]) {
			out = append(out, hits[i])
			if len(out) == pageSize {
				break
			}
		}
	}
	return catalog.Page{Channels: out, Done: true}, nil
}

// plan selects the access path for a structured filter, most selective first,
// and builds one scan source per index key.
func (e *Engine) plan(ctx context.Context, f catalog.Filter) (string, []*source) {
	countries := dedupe(f.Countries)
	categories := dedupe(f.Categories)

	switch {
	case len(categories) == 1 && len(countries) == 1:
		cat, country := categories[0], countries[0]
		return pathCompound, []*source{{
			key: cat + "|" + country,
			fetch: func(ctx context.Context, after int64, limit int) ([]catalog.Channel, error) {
				return e.store.ScanCategoryCountry(ctx, cat, country, after, limit)
			},
		}}
	case len(categories) == 1:
		cat := categories[0]
		return pathCategory, []*source{{
			key: cat,
			fetch: func(ctx context.Context, after int64, limit int) ([]catalog.Channel, error) {
				return e.store.ScanCategory(ctx, cat, after, limit)
			},
		}}
	case len(countries) >= 1:
		srcs := make([]*source, len(countries))
		for i, country := range countries {
			country := country
			srcs[i] = &source{
				key: country,
				fetch: func(ctx context.Context, after int64, limit int) ([]catalog.Channel, error) {
					return e.store.ScanCountry(ctx, country, after, limit)
				},
			}
		}
		return pathCountryMerge, srcs
	case len(categories) > 1:
		srcs := make([]*source, len(categories))
		for i, cat := range categories {
			cat := cat
			srcs[i] = &source{
				key: cat,
				fetch: func(ctx context.Context, after int64, limit int) ([]catalog.Channel, error) {
					return e.store.ScanCategory(ctx, cat, after, limit)
				},
			}
		}
		return pathCategoryMerge, srcs
	default:
		return pathAll, []*source{{
			key:   "",
			fetch: e.store.ScanAll,
		}}
	}
}

// predicate builds the in-memory post-filter for the chosen path. Dimensions
// the index key already satisfies are skipped; languages are always a
// post-filter (they never get an index path).
func predicate(f catalog.Filter, path string) func(*catalog.Channel) bool {
	countries := dedupe(f.Countries)
	categories := dedupe(f.Categories)
	needCountries := len(countries) > 1 && path == pathCategory
	needCategories := len(categories) > 0 && path == pathCountryMerge
	languages := dedupe(f.Languages)

	return func(ch *catalog.Channel) bool {
		if needCountries && !containsStr(countries, ch.Country) {
			return false
		}
		if needCategories && !anyCategory(ch, categories) {
			return false
		}
		if len(languages) > 0 && !anyLanguage(ch, languages) {
			return false
		}
		return true
	}
}

// searchPredicate applies every structured dimension over ranked hits.
func searchPredicate(f catalog.Filter) func(*catalog.Channel) bool {
	countries := dedupe(f.Countries)
	categories := dedupe(f.Categories)
	languages := dedupe(f.Languages)
	return func(ch *catalog.Channel) bool {
		if len(countries) > 0 && !containsStr(countries, ch.Country) {
			return false
		}
		if len(categories) > 0 && !anyCategory(ch, categories) {
			return false
		}
		if len(languages) > 0 && !anyLanguage(ch, languages) {
			return false
		}
		return true
	}
}

// nextMerged pops the globally next channel across all sources: lowest seq,
// ties broken by channel id. Equal-seq heads on other sources are the same
// channel reached through a different key; they are consumed together so a
// channel is emitted at most once per query.
func nextMerged(ctx context.Context, sources []*source) (catalog.Channel, bool, error) {
	best := -1
	for i, src := range sources {
		head, ok, err := src.peek(ctx)
		if err != nil {
			return catalog.Channel{}, false, err
		}
		if !ok {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur, _, _ := sources[best].peek(ctx)
		if head.Seq < cur.Seq || (head.Seq == cur.Seq && head.ChannelID < cur.ChannelID) {
			best = i
		}
	}
	if best == -1 {
		return catalog.Channel{}, false, nil
	}
	ch := sources[best].pop()
	for _, src := range sources {
		if src == sources[best] {
			continue
		}
		if head, ok, _ := src.peek(ctx); ok && head.Seq == ch.Seq {
			src.pop()
		}
	}
	return ch, true, nil
}

// source is one per-key scan cursor over the store, refilled in batches.
type source struct {
	key       string
	fetch     func(ctx context.Context, after int64, limit int) ([]catalog.Channel, error)
	after     int64
	buf       []catalog.Channel
	exhausted bool
}

func (s *source) peek(ctx context.Context) (catalog.Channel, bool, error) {
	if len(s.buf) == 0 && !s.exhausted {
		batch, err := s.fetch(ctx, s.after, scanBatch)
		if err != nil {
			return catalog.Channel{}, false, fmt.Errorf("query: scan %q: %w", s.key, err)
		}
		s.buf = batch
		if len(batch) < scanBatch {
			s.exhausted = true
		}
	}
	if len(s.buf) == 0 {
		return catalog.Channel{}, false, nil
	}
	return s.buf[0], true, nil
}

func (s *source) pop() catalog.Channel {
	ch := s.buf[0]
	s.buf = s.buf[1:]
	s.after = ch.Seq
	return ch
}

func (s *source) drained() bool {
	return s.exhausted && len(s.buf) == 0
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyCategory(ch *catalog.Channel, set []string) bool {
	for _, c := range set {
		if ch.HasCategory(c) {
			return true
		}
	}
	return false
}

func anyLanguage(ch *catalog.Channel, set []string) bool {
	for _, l := range set {
		if ch.HasLanguage(l) {
			return true
		}
	}
	return false
}
