package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/streamdex/streamdex/internal/catalog"
)

const channelCols = `c.seq, c.channel_id, c.name, c.logo, c.country, c.network`

// GetChannel returns the channel with the given external id, or ErrNotFound.
func (s *Store) GetChannel(ctx context.Context, channelID string) (catalog.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelCols+` FROM channels c WHERE c.channel_id = ?`, channelID)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Channel{}, fmt.Errorf("store: channel %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return catalog.Channel{}, fmt.Errorf("store: get channel %s: %w", channelID, err)
	}
	if err := s.loadTags(ctx, []*catalog.Channel{&ch}); err != nil {
		return catalog.Channel{}, err
	}
	return ch, nil
}

// GetStreams returns the channel's candidate streams in probing priority
// order (insertion order). A channel with no streams yields an empty slice.
func (s *Store) GetStreams(ctx context.Context, channelID string) ([]catalog.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, url, quality, http_referrer, user_agent
		 FROM streams WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: streams for %s: %w", channelID, err)
	}
	defer rows.Close()
	var out []catalog.Stream
	for rows.Next() {
		var st catalog.Stream
		if err := rows.Scan(&st.ChannelID, &st.URL, &st.Quality, &st.HTTPReferrer, &st.UserAgent); err != nil {
			return nil, fmt.Errorf("store: scan stream: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: streams for %s: %w", channelID, err)
	}
	return out, nil
}

// ScanAll returns up to limit channels with seq > afterSeq in creation order.
func (s *Store) ScanAll(ctx context.Context, afterSeq int64, limit int) ([]catalog.Channel, error) {
	return s.scan(ctx,
		`SELECT `+channelCols+` FROM channels c WHERE c.seq > ? ORDER BY c.seq LIMIT ?`,
		afterSeq, limit)
}

// ScanCountry returns up to limit channels for one country with seq >
// afterSeq, in creation order.
func (s *Store) ScanCountry(ctx context.Context, code string, afterSeq int64, limit int) ([]catalog.Channel, error) {
	return s.scan(ctx,
		`SELECT `+channelCols+` FROM channels c
		 WHERE c.country = ? AND c.seq > ? ORDER BY c.seq LIMIT ?`,
		code, afterSeq, limit)
}

// ScanCategory returns up to limit channels carrying one category tag with
// seq > afterSeq, in creation order.
func (s *Store) ScanCategory(ctx context.Context, categoryID string, afterSeq int64, limit int) ([]catalog.Channel, error) {
	return s.scan(ctx,
		`SELECT `+channelCols+` FROM channel_categories cc
		 JOIN channels c ON c.seq = cc.channel_seq
		 WHERE cc.category_id = ? AND cc.channel_seq > ? ORDER BY cc.channel_seq LIMIT ?`,
		categoryID, afterSeq, limit)
}

// ScanCategoryCountry is the compound-key scan: channels carrying the
// category tag in the given country, seq > afterSeq, creation order.
func (s *Store) ScanCategoryCountry(ctx context.Context, categoryID, country string, afterSeq int64, limit int) ([]catalog.Channel, error) {
	return s.scan(ctx,
		`SELECT `+channelCols+` FROM channel_categories cc
		 JOIN channels c ON c.seq = cc.channel_seq
		 WHERE cc.category_id = ? AND c.country = ? AND cc.channel_seq > ?
		 ORDER BY cc.channel_seq LIMIT ?`,
		categoryID, country, afterSeq, limit)
}

// SearchChannels runs the ranked name search and returns up to limit channels
// in relevance order (bm25). There is no cursor: ranked retrieval does not
// compose with the creation-order pagination the structured paths use.
func (s *Store) SearchChannels(ctx context.Context, text string, limit int) ([]catalog.Channel, error) {
	q := ftsQuery(text)
	if q == "" {
		return nil, nil
	}
	return s.scan(ctx,
		`SELECT `+channelCols+` FROM channels_fts f
		 JOIN channels c ON c.seq = f.rowid
		 WHERE channels_fts MATCH ? ORDER BY bm25(channels_fts), c.seq LIMIT ?`,
		q, limit)
}

// ListCategories returns all categories ordered by id.
func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category_id, name FROM categories ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list categories: %w", err)
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.CategoryID, &c.Name); err != nil {
			return nil, fmt.Errorf("store: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCountries returns all countries ordered by code.
func (s *Store) ListCountries(ctx context.Context) ([]catalog.Country, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, flag, languages FROM countries ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("store: list countries: %w", err)
	}
	defer rows.Close()
	var out []catalog.Country
	for rows.Next() {
		var c catalog.Country
		var langs string
		if err := rows.Scan(&c.Code, &c.Name, &c.Flag, &langs); err != nil {
			return nil, fmt.Errorf("store: scan country: %w", err)
		}
		if langs != "" {
			c.Languages = strings.Split(langs, ",")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListLanguages returns all languages ordered by code.
func (s *Store) ListLanguages(ctx context.Context) ([]catalog.Language, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name FROM languages ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("store: list languages: %w", err)
	}
	defer rows.Close()
	var out []catalog.Language
	for rows.Next() {
		var l catalog.Language
		if err := rows.Scan(&l.Code, &l.Name); err != nil {
			return nil, fmt.Errorf("store: scan language: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) scan(ctx context.Context, query string, args ...any) ([]catalog.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: scan channels: %w", err)
	}
	defer rows.Close()
	var out []catalog.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan channel row: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan channels: %w", err)
	}
	refs := make([]*catalog.Channel, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.loadTags(ctx, refs); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (catalog.Channel, error) {
	var ch catalog.Channel
	err := r.Scan(&ch.Seq, &ch.ChannelID, &ch.Name, &ch.Logo, &ch.Country, &ch.Network)
	return ch, err
}

// loadTags fills Categories and Languages for a page worth of channels with
// two batched queries.
func (s *Store) loadTags(ctx context.Context, chs []*catalog.Channel) error {
	if len(chs) == 0 {
		return nil
	}
	bySeq := make(map[int64]*catalog.Channel, len(chs))
	args := make([]any, 0, len(chs))
	ph := make([]string, 0, len(chs))
	for _, ch := range chs {
		bySeq[ch.Seq] = ch
		args = append(args, ch.Seq)
		ph = append(ph, "?")
	}
	in := strings.Join(ph, ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_seq, category_id FROM channel_categories
		 WHERE channel_seq IN (`+in+`) ORDER BY channel_seq, pos`, args...)
	if err != nil {
		return fmt.Errorf("store: load categories: %w", err)
	}
	for rows.Next() {
		var seq int64
		var cat string
		if err := rows.Scan(&seq, &cat); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan category tag: %w", err)
		}
		if ch := bySeq[seq]; ch != nil {
			ch.Categories = append(ch.Categories, cat)
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("store: load categories: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT channel_seq, code FROM channel_languages
		 WHERE channel_seq IN (`+in+`) ORDER BY channel_seq, pos`, args...)
	if err != nil {
		return fmt.Errorf("store: load languages: %w", err)
	}
	for rows.Next() {
		var seq int64
		var code string
		if err := rows.Scan(&seq, &code); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan language tag: %w", err)
		}
		if ch := bySeq[seq]; ch != nil {
			ch.Languages = append(ch.Languages, code)
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("store: load languages: %w", err)
	}
	return nil
}

// ftsQuery turns free text into a safe FTS5 MATCH expression: each token is
// double-quoted (neutralizing operators) and the last gets a prefix star so
// partial typing still matches.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		if i == len(fields)-1 {
			parts[i] = `"` + f + `"*`
		} else {
			parts[i] = `"` + f + `"`
		}
	}
	return strings.Join(parts, " ")
}
