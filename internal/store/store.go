// Package store is the SQLite-backed catalog store: channels, streams,
// categories, countries, and languages, indexed for point lookup, per-key
// range scans in creation order, and ranked name search (FTS5).
//
// The store is read-only from the query engine's perspective; writes happen
// through CatalogWriter, which the external sync job (and tests) use to
// populate the catalog.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/streamdex/streamdex/internal/catalog"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store wraps the catalog database. Safe for concurrent use; database/sql
// pools connections internally.
type Store struct {
	db *sql.DB
}

// CatalogWriter is the write side consumed by the external sync collaborator.
// The core never invokes sync; it only reads what sync wrote.
type CatalogWriter interface {
	UpsertChannel(ctx context.Context, ch catalog.Channel) (int64, error)
	ReplaceStreams(ctx context.Context, channelID string, streams []catalog.Stream) error
	ReplaceCategories(ctx context.Context, categories []catalog.Category) error
	ReplaceCountries(ctx context.Context, countries []catalog.Country) error
	ReplaceLanguages(ctx context.Context, languages []catalog.Language) error
}

var _ CatalogWriter = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	logo       TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL,
	network    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_channels_country ON channels(country, seq);

CREATE TABLE IF NOT EXISTS channel_categories (
	channel_seq INTEGER NOT NULL REFERENCES channels(seq) ON DELETE CASCADE,
	category_id TEXT NOT NULL,
	pos         INTEGER NOT NULL,
	PRIMARY KEY (channel_seq, category_id)
);
CREATE INDEX IF NOT EXISTS idx_cc_category ON channel_categories(category_id, channel_seq);

CREATE TABLE IF NOT EXISTS channel_languages (
	channel_seq INTEGER NOT NULL REFERENCES channels(seq) ON DELETE CASCADE,
	code        TEXT NOT NULL,
	pos         INTEGER NOT NULL,
	PRIMARY KEY (channel_seq, code)
);

CREATE TABLE IF NOT EXISTS streams (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id    TEXT NOT NULL,
	url           TEXT NOT NULL,
	quality       TEXT NOT NULL DEFAULT '',
	http_referrer TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_streams_channel ON streams(channel_id, id);

CREATE TABLE IF NOT EXISTS categories (
	category_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS countries (
	code      TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	flag      TEXT NOT NULL DEFAULT '',
	languages TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS languages (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS channels_fts USING fts5(name);
`

// Open opens (creating if needed) the catalog database at path and applies
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
