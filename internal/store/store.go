// Package store defines the persistence contract for playlists, settings and
// listening history. All documents are read and replaced whole; there are no
// partial updates. The session and generator receive a Store at construction
// rather than reaching for a global.
package store

import "github.com/soracane/utaq/internal/structures"

// Store is a whole-document JSON store.
type Store interface {
	// ReadContent returns all persisted playlists.
	ReadContent() ([]structures.PersistedPlaylist, error)
	// WriteContent replaces all persisted playlists.
	WriteContent(playlists []structures.PersistedPlaylist) error

	// ReadSettings returns the persisted configuration, or (nil, nil) when
	// none has been written yet.
	ReadSettings() (*structures.Config, error)
	WriteSettings(cfg *structures.Config) error

	// ReadRecommendations returns the listening history, most recent first.
	ReadRecommendations() ([]structures.Track, error)
	WriteRecommendations(tracks []structures.Track) error

	// ExportJSON returns the named document as a raw JSON blob; ImportJSON
	// replaces it. Used for backup and restore.
	ExportJSON(key string) ([]byte, error)
	ImportJSON(key string, blob []byte) error

	Close() error
}

// Document keys.
const (
	KeyContent         = "content"
	KeySettings        = "settings"
	KeyRecommendations = "recommendations"
)
