package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteCache keeps entries in a single SQLite table.
type SQLiteCache struct {
	db      *sql.DB
	nowFunc func() time.Time
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	subject    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	written_at INTEGER NOT NULL,
	PRIMARY KEY (subject, provider)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_written_at ON cache_entries(written_at);
`

// NewSQLiteCache opens (or creates) the cache database at dsn.
func NewSQLiteCache(dsn string) (*SQLiteCache, error) {
	if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "cache: create dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteCacheSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "cache: init sqlite")
		}
	}
	return &SQLiteCache{db: db, nowFunc: time.Now}, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Get(ctx context.Context, key Key, ttl time.Duration) (map[string]any, bool) {
	payload, written, ok := c.GetStale(ctx, key)
	if !ok || !fresh(c.nowFunc(), written, ttl) {
		return nil, false
	}
	return payload, true
}

func (c *SQLiteCache) GetStale(ctx context.Context, key Key) (map[string]any, time.Time, bool) {
	var raw string
	var writtenAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, written_at FROM cache_entries WHERE subject = ? AND provider = ?`,
		slug(key.Subject), key.Provider,
	).Scan(&raw, &writtenAt)
	if err != nil {
		if err != sql.ErrNoRows {
			zap.L().Debug("cache: sqlite read failed", zap.Error(err))
		}
		return nil, time.Time{}, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return nil, time.Time{}, false
	}
	return payload, time.Unix(0, writtenAt), true
}

func (c *SQLiteCache) Put(ctx context.Context, key Key, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "cache: marshal payload")
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (subject, provider, payload, written_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject, provider) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at`,
		slug(key.Subject), key.Provider, string(data), c.nowFunc().UnixNano(),
	)
	return eris.Wrap(err, "cache: sqlite put")
}

func (c *SQLiteCache) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := c.nowFunc().Add(-maxAge).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE written_at <= ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite prune")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "cache: rows affected")
	}
	return int(n), nil
}
