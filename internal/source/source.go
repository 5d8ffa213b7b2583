// Package source defines the external paginated video source the session and
// generator consume, plus the innertube-backed implementation of it.
package source

import (
	"context"

	"github.com/soracane/utaq/internal/structures"
)

// Video is a single entry returned by the external platform.
type Video struct {
	ID            string
	Title         string
	Author        string
	URL           string
	DurationMs    int64
	ThumbnailURLs []string
}

// Page is one page of related/"watch next" results along with the pagination
// state needed to fetch the following page.
type Page struct {
	Videos            []Video
	ContinuationToken string
	VisitorData       string
}

// PaginatedSource fetches related tracks page by page. Passing a seed that
// carries a prior continuation token and visitor data resumes the same
// logical result set.
type PaginatedSource interface {
	NextPage(ctx context.Context, seed structures.SeedTrackData) (Page, error)
}

// AudioStream is one audio-only encoding of a video.
type AudioStream struct {
	URL     string
	Bitrate int
}

// StreamProvider lists the audio-only encodings available for a video.
type StreamProvider interface {
	AudioStreams(ctx context.Context, videoID string) ([]AudioStream, error)
}
