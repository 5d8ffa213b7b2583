package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soracane/utaq/internal/structures"
)

// SQLiteStore keeps each document as one JSON value in a key/value table.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the backing database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) readDocument(key string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM documents WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read document %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("failed to decode document %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) writeDocument(key string, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode document %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO documents (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, key, string(data))
	return err
}

// ReadContent returns all persisted playlists.
func (s *SQLiteStore) ReadContent() ([]structures.PersistedPlaylist, error) {
	var playlists []structures.PersistedPlaylist
	if _, err := s.readDocument(KeyContent, &playlists); err != nil {
		return nil, err
	}
	return playlists, nil
}

// WriteContent replaces all persisted playlists.
func (s *SQLiteStore) WriteContent(playlists []structures.PersistedPlaylist) error {
	return s.writeDocument(KeyContent, playlists)
}

// ReadSettings returns the persisted configuration, if any.
func (s *SQLiteStore) ReadSettings() (*structures.Config, error) {
	var cfg structures.Config
	found, err := s.readDocument(KeySettings, &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}

// WriteSettings replaces the persisted configuration.
func (s *SQLiteStore) WriteSettings(cfg *structures.Config) error {
	return s.writeDocument(KeySettings, cfg)
}

// ReadRecommendations returns the listening history, most recent first.
func (s *SQLiteStore) ReadRecommendations() ([]structures.Track, error) {
	var tracks []structures.Track
	if _, err := s.readDocument(KeyRecommendations, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// WriteRecommendations replaces the listening history.
func (s *SQLiteStore) WriteRecommendations(tracks []structures.Track) error {
	return s.writeDocument(KeyRecommendations, tracks)
}

// ExportJSON returns the named document as its raw JSON blob.
func (s *SQLiteStore) ExportJSON(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM documents WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export document %q: %w", key, err)
	}
	return []byte(value), nil
}

// ImportJSON replaces the named document with a raw JSON blob.
func (s *SQLiteStore) ImportJSON(key string, blob []byte) error {
	if !json.Valid(blob) {
		return fmt.Errorf("refusing to import invalid JSON for document %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO documents (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, key, string(blob))
	return err
}
