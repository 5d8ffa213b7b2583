// Package mediaid implements the hierarchical media id scheme used across the
// session: "ROOT" denotes the library root, "ROOT/<playlist>" a persisted
// playlist, and "ROOT/<playlist>/<trackID><suffix>" a track within it. The
// slash-separated depth alone determines what an id denotes.
package mediaid

import (
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	// Root is the library root id.
	Root = "ROOT"

	// Separator joins hierarchy levels. Playlist names and track ids must
	// not contain it.
	Separator = "/"
)

// Kind classifies a media id by hierarchy depth.
type Kind int

const (
	KindInvalid Kind = iota
	KindRoot
	KindPlaylist
	KindTrack
)

var suffixCounter atomic.Int64

// ForPlaylist returns the media id of a persisted playlist.
func ForPlaylist(name string) string {
	return Root + Separator + name
}

// ForTrack returns a media id for a track inside a playlist. A unique numeric
// suffix is appended so the same track can appear more than once in a queue
// and still be individually addressable.
func ForTrack(playlist, trackID string) string {
	n := suffixCounter.Add(1)
	return fmt.Sprintf("%s%s%s%s%s#%d", Root, Separator, playlist, Separator, trackID, n)
}

// ID is a parsed media id.
type ID struct {
	Kind     Kind
	Playlist string
	TrackID  string // includes the unique suffix
}

// Parse splits a media id into its hierarchy parts. Ids that do not start at
// the root, or that nest deeper than a track, are invalid.
func Parse(id string) ID {
	parts := strings.Split(id, Separator)
	if len(parts) == 0 || parts[0] != Root {
		return ID{Kind: KindInvalid}
	}

	switch len(parts) {
	case 1:
		return ID{Kind: KindRoot}
	case 2:
		if parts[1] == "" {
			return ID{Kind: KindInvalid}
		}
		return ID{Kind: KindPlaylist, Playlist: parts[1]}
	case 3:
		if parts[1] == "" || parts[2] == "" {
			return ID{Kind: KindInvalid}
		}
		return ID{Kind: KindTrack, Playlist: parts[1], TrackID: parts[2]}
	default:
		return ID{Kind: KindInvalid}
	}
}

// PlaylistName returns the playlist component of an id, or "" if the id does
// not name one.
func PlaylistName(id string) string {
	return Parse(id).Playlist
}

// TrackID returns the track component of an id with the unique suffix
// stripped, or "" if the id does not name a track.
func TrackID(id string) string {
	parsed := Parse(id)
	if parsed.Kind != KindTrack {
		return ""
	}
	if i := strings.LastIndex(parsed.TrackID, "#"); i >= 0 {
		return parsed.TrackID[:i]
	}
	return parsed.TrackID
}
