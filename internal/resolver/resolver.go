// Package resolver turns a queue item into a playable stream URL and a rich
// metadata record. The two resolutions run concurrently and share the
// caller's cancellation scope.
package resolver

import (
	"context"
	"errors"
	"math/rand"
	"sort"

	"github.com/soracane/utaq/internal/constants"
	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/structures"
)

// ErrNoStream is returned when the source exposes no audio encoding at all.
var ErrNoStream = errors.New("no audio stream available")

// StreamResult is the outcome of the stream URL resolution.
type StreamResult struct {
	URL string
	Err error
}

// MetadataResult is the outcome of the metadata resolution.
type MetadataResult struct {
	Metadata structures.TrackMetadata
	Err      error
}

// Resolution exposes the two in-flight resolutions for one item. Each channel
// delivers exactly one result.
type Resolution struct {
	StreamURL <-chan StreamResult
	Metadata  <-chan MetadataResult
}

// Resolver resolves stream URLs and metadata for queue items.
type Resolver struct {
	streams        source.StreamProvider
	images         *ImageFetcher
	quality        string
	gradientTop    string
	gradientBottom string
}

// New creates a resolver. quality is one of low/medium/high; the gradient
// colors are the theme fallback used when swatch extraction fails.
func New(streams source.StreamProvider, images *ImageFetcher, cfg *structures.Config) *Resolver {
	return &Resolver{
		streams:        streams,
		images:         images,
		quality:        cfg.AudioQuality,
		gradientTop:    cfg.GradientTop,
		gradientBottom: cfg.GradientBottom,
	}
}

// Resolve launches both resolutions for the item. Cancelling ctx aborts both.
func (r *Resolver) Resolve(ctx context.Context, item structures.QueueItem) Resolution {
	streamCh := make(chan StreamResult, 1)
	metaCh := make(chan MetadataResult, 1)

	go func() {
		url, err := r.resolveStreamURL(ctx, item)
		streamCh <- StreamResult{URL: url, Err: err}
	}()

	go func() {
		meta, err := r.resolveMetadata(ctx, item)
		metaCh <- MetadataResult{Metadata: meta, Err: err}
	}()

	return Resolution{StreamURL: streamCh, Metadata: metaCh}
}

func (r *Resolver) resolveStreamURL(ctx context.Context, item structures.QueueItem) (string, error) {
	videoID := item.SourceURL
	if id := source.VideoIDFromURL(item.SourceURL); id != "" {
		videoID = id
	}

	streams, err := r.streams.AudioStreams(ctx, videoID)
	if err != nil {
		return "", err
	}
	return PickStream(streams, r.quality)
}

// PickStream selects an encoding by quality tier. Streams are ordered by
// bitrate ascending; low takes the first, medium the second, high the last.
// A tier that does not exist falls back to the sole available stream.
func PickStream(streams []source.AudioStream, quality string) (string, error) {
	if len(streams) == 0 {
		return "", ErrNoStream
	}

	sorted := make([]source.AudioStream, len(streams))
	copy(sorted, streams)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bitrate < sorted[j].Bitrate })

	idx := 0
	switch quality {
	case constants.AudioQualityLow:
		idx = 0
	case constants.AudioQualityHigh:
		idx = len(sorted) - 1
	default: // medium
		idx = 1
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].URL, nil
}

func (r *Resolver) resolveMetadata(ctx context.Context, item structures.QueueItem) (structures.TrackMetadata, error) {
	meta := structures.TrackMetadata{
		Title:          item.Title,
		Artist:         item.Artist,
		DurationMs:     item.DurationMs,
		ArtworkURL:     item.ArtworkURL,
		GradientTop:    r.gradientTop,
		GradientBottom: r.gradientBottom,
		GradientAngle:  randomAngle(),
	}

	if item.ArtworkURL == "" || r.images == nil {
		return meta, nil
	}

	// The small icon variant is fetched alongside the full artwork; only the
	// artwork feeds the gradient.
	if _, err := r.images.Fetch(ctx, thumbnailVariant(item.ArtworkURL, 60)); err != nil {
		if ctx.Err() != nil {
			return structures.TrackMetadata{}, ctx.Err()
		}
		logger.Warn("Icon download failed for %s: %v", item.MediaID, err)
	}

	artwork, err := r.images.Fetch(ctx, thumbnailVariant(item.ArtworkURL, 544))
	if err != nil {
		if ctx.Err() != nil {
			return structures.TrackMetadata{}, ctx.Err()
		}
		logger.Warn("Artwork download failed for %s: %v", item.MediaID, err)
		return meta, nil
	}

	if top, bottom, ok := GradientFromImage(artwork); ok {
		meta.GradientTop = top
		meta.GradientBottom = bottom
	}
	return meta, nil
}

func randomAngle() structures.GradientAngle {
	if rand.Intn(2) == 0 {
		return structures.GradientTopDown
	}
	return structures.GradientDiagonal
}
