package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/streamdex/streamdex/internal/catalog"
)

// UpsertChannel inserts or updates a channel keyed by its external id and
// replaces its category/language tags. Returns the channel's seq. A channel's
// seq (creation order) is stable across re-syncs of the same channel_id.
func (s *Store) UpsertChannel(ctx context.Context, ch catalog.Channel) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin upsert: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO channels (channel_id, name, logo, country, network)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   name = excluded.name, logo = excluded.logo,
		   country = excluded.country, network = excluded.network
		 RETURNING seq`,
		ch.ChannelID, ch.Name, ch.Logo, ch.Country, ch.Network).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("store: upsert channel %s: %w", ch.ChannelID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_categories WHERE channel_seq = ?`, seq); err != nil {
		return 0, fmt.Errorf("store: clear categories for %s: %w", ch.ChannelID, err)
	}
	for i, cat := range ch.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO channel_categories (channel_seq, category_id, pos) VALUES (?, ?, ?)`,
			seq, cat, i); err != nil {
			return 0, fmt.Errorf("store: tag %s with %s: %w", ch.ChannelID, cat, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_languages WHERE channel_seq = ?`, seq); err != nil {
		return 0, fmt.Errorf("store: clear languages for %s: %w", ch.ChannelID, err)
	}
	for i, code := range ch.Languages {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO channel_languages (channel_seq, code, pos) VALUES (?, ?, ?)`,
			seq, code, i); err != nil {
			return 0, fmt.Errorf("store: language %s for %s: %w", code, ch.ChannelID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO channels_fts (rowid, name) VALUES (?, ?)`,
		seq, ch.Name); err != nil {
		return 0, fmt.Errorf("store: index name for %s: %w", ch.ChannelID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit upsert %s: %w", ch.ChannelID, err)
	}
	return seq, nil
}

// ReplaceStreams swaps the channel's candidate stream list. Slice order
// becomes the probing priority order.
func (s *Store) ReplaceStreams(ctx context.Context, channelID string, streams []catalog.Stream) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace streams: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("store: clear streams for %s: %w", channelID, err)
	}
	for _, st := range streams {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (channel_id, url, quality, http_referrer, user_agent)
			 VALUES (?, ?, ?, ?, ?)`,
			channelID, st.URL, st.Quality, st.HTTPReferrer, st.UserAgent); err != nil {
			return fmt.Errorf("store: insert stream for %s: %w", channelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit streams for %s: %w", channelID, err)
	}
	return nil
}

// ReplaceCategories swaps the category reference table.
func (s *Store) ReplaceCategories(ctx context.Context, categories []catalog.Category) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace categories: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories`); err != nil {
		return fmt.Errorf("store: clear categories: %w", err)
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (category_id, name) VALUES (?, ?)`, c.CategoryID, c.Name); err != nil {
			return fmt.Errorf("store: insert category %s: %w", c.CategoryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit categories: %w", err)
	}
	return nil
}

// ReplaceCountries swaps the country reference table.
func (s *Store) ReplaceCountries(ctx context.Context, countries []catalog.Country) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace countries: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM countries`); err != nil {
		return fmt.Errorf("store: clear countries: %w", err)
	}
	for _, c := range countries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO countries (code, name, flag, languages) VALUES (?, ?, ?, ?)`,
			c.Code, c.Name, c.Flag, strings.Join(c.Languages, ",")); err != nil {
			return fmt.Errorf("store: insert country %s: %w", c.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit countries: %w", err)
	}
	return nil
}

// ReplaceLanguages swaps the language reference table.
func (s *Store) ReplaceLanguages(ctx context.Context, languages []catalog.Language) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace languages: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM languages`); err != nil {
		return fmt.Errorf("store: clear languages: %w", err)
	}
	for _, l := range languages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO languages (code, name) VALUES (?, ?)`, l.Code, l.Name); err != nil {
			return fmt.Errorf("store: insert language %s: %w", l.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit languages: %w", err)
	}
	return nil
}
