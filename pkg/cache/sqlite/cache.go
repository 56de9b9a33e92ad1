// Package sqlite implements the prompt cache on SQLite.
//
// A hit bypasses every model call and all cost accounting. Store failures
// are non-fatal; callers log and return the in-flight response uncached.
package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cascadelabs/cascade/pkg/models"
)

// maxPromptLength bounds what gets cached; very long prompts are usually
// unique and would only churn the table.
const maxPromptLength = 2048

// Cache is an exact-match prompt cache with TTL expiry and LRU eviction.
type Cache struct {
	db         *sql.DB
	ttl        time.Duration
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries(last_accessed);
`

// New creates a Cache with the given database path, default TTL, and
// capacity bound. maxEntries <= 0 disables capacity eviction.
func New(dbPath string, ttl time.Duration, maxEntries int) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Cache{db: db, ttl: ttl, maxEntries: maxEntries}, nil
}

// Fingerprint computes the deterministic cache key for a session and prompt.
// The prompt is normalized (trimmed, lowercased) so trivial formatting
// differences still hit.
func Fingerprint(sessionID, prompt string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Lookup retrieves a cached response. Expired entries are treated as absent.
func (c *Cache) Lookup(sessionID, prompt string) (models.CachedResponse, bool) {
	if len(prompt) > maxPromptLength {
		return models.CachedResponse{}, false
	}
	fp := Fingerprint(sessionID, prompt)

	var raw []byte
	var createdAt time.Time
	var ttlSeconds int64
	err := c.db.QueryRow(
		`SELECT response, created_at, ttl_seconds FROM cache_entries WHERE fingerprint = ?`, fp,
	).Scan(&raw, &createdAt, &ttlSeconds)
	if err != nil {
		c.misses.Add(1)
		return models.CachedResponse{}, false
	}

	if time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		c.misses.Add(1)
		return models.CachedResponse{}, false
	}

	var resp models.CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.misses.Add(1)
		return models.CachedResponse{}, false
	}

	// Touch for LRU ordering; a failed touch only skews eviction order.
	c.db.Exec(`UPDATE cache_entries SET last_accessed = ? WHERE fingerprint = ?`, time.Now().UTC(), fp)

	c.hits.Add(1)
	return resp, true
}

// Store saves a response for a session and prompt, evicting least-recently-used
// entries beyond the capacity bound.
func (c *Cache) Store(sessionID, prompt string, resp models.CachedResponse) error {
	if len(prompt) > maxPromptLength {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	now := time.Now().UTC()
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (fingerprint, response, created_at, last_accessed, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		Fingerprint(sessionID, prompt), raw, now, now, int64(c.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	if c.maxEntries > 0 {
		_, err = c.db.Exec(
			`DELETE FROM cache_entries WHERE fingerprint IN (
				SELECT fingerprint FROM cache_entries ORDER BY last_accessed DESC LIMIT -1 OFFSET ?)`,
			c.maxEntries,
		)
		if err != nil {
			return fmt.Errorf("cache evict: %w", err)
		}
	}
	return nil
}

// Purge removes cache entries. If expiredOnly is true, only expired entries
// are removed.
func (c *Cache) Purge(expiredOnly bool) error {
	var query string
	if expiredOnly {
		query = `DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`
	} else {
		query = `DELETE FROM cache_entries`
	}
	if _, err := c.db.Exec(query); err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
