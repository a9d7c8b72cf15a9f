package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore is a SQLite-backed persistent cache store, for entries
// that must survive a connector restart.
type SQLiteStore struct {
	db   *sql.DB
	sink Sink
}

// NewSQLiteStore creates a cache store using the given database
// connection, creating its table if necessary. Callers open db with
// the modernc.org/sqlite driver. sink receives a CACHE_EXPIRY event for
// each owned entry that expires; nil disables dispatch.
func NewSQLiteStore(db *sql.DB, sink Sink) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, sink: sink}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("cache migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT NOT NULL PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at TIMESTAMP,
			metadata   TEXT,
			owner      TEXT
		)
	`)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(key string) (any, bool, error) {
	var rawValue string
	var expiresAt sql.NullTime
	var rawMetadata, owner sql.NullString

	err := s.db.QueryRow(`
		SELECT value, expires_at, metadata, owner FROM cache_entries WHERE key = ?
	`, key).Scan(&rawValue, &expiresAt, &rawMetadata, &owner)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		_ = s.Delete(key)
		s.notifyExpiry(key, decodeMetadata(rawMetadata), owner.String, value)
		return nil, false, nil
	}

	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(key string, value any, ttl time.Duration, metadata map[string]any, owner string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}

	var encodedMetadata []byte
	if metadata != nil {
		encodedMetadata, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode cache entry %q metadata: %w", key, err)
		}
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	_, err = s.db.Exec(`
		INSERT INTO cache_entries (key, value, expires_at, metadata, owner)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata,
			owner = excluded.owner
	`, key, string(encoded), expiresAt, string(encodedMetadata), owner)
	if err != nil {
		return fmt.Errorf("set cache entry %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry %q: %w", key, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Sweep deletes every entry whose TTL has passed, dispatches a
// CACHE_EXPIRY event for each owned one, and returns how many rows were
// removed.
func (s *SQLiteStore) Sweep() (int, error) {
	now := time.Now()

	rows, err := s.db.Query(`
		SELECT key, value, metadata, owner FROM cache_entries
		WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	type expired struct {
		key, owner string
		metadata   map[string]any
		value      any
	}
	var list []expired
	for rows.Next() {
		var key, rawValue string
		var rawMetadata, owner sql.NullString
		if err := rows.Scan(&key, &rawValue, &rawMetadata, &owner); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep cache: %w", err)
		}
		var value any
		_ = json.Unmarshal([]byte(rawValue), &value)
		list = append(list, expired{key: key, owner: owner.String, metadata: decodeMetadata(rawMetadata), value: value})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}

	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	n, _ := res.RowsAffected()

	for _, e := range list {
		s.notifyExpiry(e.key, e.metadata, e.owner, e.value)
	}
	return int(n), nil
}

func (s *SQLiteStore) notifyExpiry(key string, metadata map[string]any, owner string, value any) {
	if s.sink == nil || owner == "" {
		return
	}
	s.sink.EnqueueCacheExpiry(owner, Event{Key: key, Metadata: metadata, ExpiredData: value})
}

func decodeMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var metadata map[string]any
	_ = json.Unmarshal([]byte(raw.String), &metadata)
	return metadata
}
