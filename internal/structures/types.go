package structures

import "fmt"

// QueueItem is a playable unit in the session queue.
//
// SequenceID is assigned when the item enters a queue and stays with the item
// across moves and shuffles. The array position does not identify an item; the
// sequence id does.
type QueueItem struct {
	MediaID    string `json:"media_id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int64  `json:"duration_ms"`
	SourceURL  string `json:"source_url"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	SequenceID int64  `json:"sequence_id"`
}

// Track is the persisted form of a playable item.
type Track struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int64  `json:"duration_ms"`
	URL        string `json:"url"`
}

// PersistedPlaylist is a named, ordered list of tracks. Name is the unique key
// within the content store, matched case-sensitively.
type PersistedPlaylist struct {
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
}

// PlaybackStatus enumerates the playback state machine.
type PlaybackStatus int

const (
	StatusNone PlaybackStatus = iota
	StatusBuffering
	StatusPlaying
	StatusPaused
	StatusStopped
	StatusError
	StatusSkippingToNext
	StatusSkippingToPrevious
	StatusSkippingToQueueItem
)

var statusNames = map[PlaybackStatus]string{
	StatusNone:                "none",
	StatusBuffering:           "buffering",
	StatusPlaying:             "playing",
	StatusPaused:              "paused",
	StatusStopped:             "stopped",
	StatusError:               "error",
	StatusSkippingToNext:      "skipping_to_next",
	StatusSkippingToPrevious:  "skipping_to_previous",
	StatusSkippingToQueueItem: "skipping_to_queue_item",
}

func (s PlaybackStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// PlaybackState is the externally visible playback snapshot.
type PlaybackState struct {
	Status       PlaybackStatus
	PositionMs   int64
	ErrorMessage string
}

// SeedTrackData carries pagination state for a generation seed so a later
// "continue" call can resume where the previous fetch stopped.
type SeedTrackData struct {
	URL               string `json:"url"`
	ContinuationToken string `json:"continuation_token"`
	VisitorData       string `json:"visitor_data"`
}

// TrackMetadata is the rich display record resolved for the current item.
type TrackMetadata struct {
	Title          string
	Artist         string
	DurationMs     int64
	ArtworkURL     string
	GradientTop    string // hex color
	GradientBottom string // hex color
	GradientAngle  GradientAngle
}

// GradientAngle is one of the two artwork gradient orientations.
type GradientAngle int

const (
	GradientTopDown GradientAngle = iota
	GradientDiagonal
)

// Config is the application configuration.
type Config struct {
	// Playback
	AudioQuality  string  `toml:"audio_quality"` // low/medium/high
	DefaultVolume float64 `toml:"default_volume"`
	SeekSeconds   int     `toml:"seek_seconds"`

	// Playlist generation
	PageBudget            int     `toml:"page_budget"`
	MaxAttempts           int     `toml:"max_attempts"`
	RetryDelayMs          int     `toml:"retry_delay_ms"`
	SeedLimit             int     `toml:"seed_limit"`
	TargetYield           int     `toml:"target_yield"`
	SeedRandomness        float64 `toml:"seed_randomness"`
	HistorySeedRandomness float64 `toml:"history_seed_randomness"`
	HistoryLimit          int     `toml:"history_limit"`

	// Theme fallback for artwork gradients
	GradientTop    string `toml:"gradient_top"`
	GradientBottom string `toml:"gradient_bottom"`

	// Paths
	DataDir string `toml:"data_dir"`
}

// FormatDuration renders a millisecond duration as minutes:seconds, with the
// seconds remainder zero-padded to two digits. 65000 -> "1:05".
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
