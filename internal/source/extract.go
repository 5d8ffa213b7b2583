package source

import (
	"fmt"
	"strconv"
	"strings"
)

// The watch-next response nests its playlist panel several renderers deep and
// the exact shape shifts between client versions, so extraction walks the
// decoded JSON generically instead of binding to fixed structs.

// getPath walks nested maps and slices by string keys and integer indices.
func getPath(data map[string]any, keys ...string) any {
	var current any = data
	for _, key := range keys {
		switch node := current.(type) {
		case map[string]any:
			current = node[key]
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

func getPathString(data map[string]any, keys ...string) string {
	if s, ok := getPath(data, keys...).(string); ok {
		return s
	}
	return ""
}

// extractPanelVideos collects the playlistPanelVideoRenderer entries anywhere
// in the response.
func extractPanelVideos(resp map[string]any) []Video {
	var videos []Video
	walk(resp, func(node map[string]any) {
		renderer, ok := node["playlistPanelVideoRenderer"].(map[string]any)
		if !ok {
			return
		}
		if video := videoFromPanelRenderer(renderer); video != nil {
			videos = append(videos, *video)
		}
	})
	return videos
}

func videoFromPanelRenderer(renderer map[string]any) *Video {
	videoID := getPathString(renderer, "videoId")
	if videoID == "" {
		videoID = getPathString(renderer, "navigationEndpoint", "watchEndpoint", "videoId")
	}
	if videoID == "" {
		return nil
	}

	title := getPathString(renderer, "title", "runs", "0", "text")
	if title == "" {
		title = getPathString(renderer, "title", "simpleText")
	}

	author := getPathString(renderer, "longBylineText", "runs", "0", "text")
	if author == "" {
		author = getPathString(renderer, "shortBylineText", "runs", "0", "text")
	}

	durationText := getPathString(renderer, "lengthText", "runs", "0", "text")
	if durationText == "" {
		durationText = getPathString(renderer, "lengthText", "simpleText")
	}

	var thumbnails []string
	thumbs, _ := getPath(renderer, "thumbnail", "thumbnails").([]any)
	for _, t := range thumbs {
		if thumb, ok := t.(map[string]any); ok {
			if u, ok := thumb["url"].(string); ok && u != "" {
				thumbnails = append(thumbnails, u)
			}
		}
	}

	return &Video{
		ID:            videoID,
		Title:         title,
		Author:        author,
		URL:           fmt.Sprintf("https://music.youtube.com/watch?v=%s", videoID),
		DurationMs:    parseDurationMs(durationText),
		ThumbnailURLs: thumbnails,
	}
}

// extractContinuation returns the next-page token, or "" when the result set
// is exhausted.
func extractContinuation(resp map[string]any) string {
	token := ""
	walk(resp, func(node map[string]any) {
		if token != "" {
			return
		}
		if t := getPathString(node, "nextContinuationData", "continuation"); t != "" {
			token = t
			return
		}
		if t := getPathString(node, "continuationEndpoint", "continuationCommand", "token"); t != "" {
			token = t
		}
	})
	return token
}

func extractVisitorData(resp map[string]any) string {
	return getPathString(resp, "responseContext", "visitorData")
}

// walk visits every map nested inside the response.
func walk(node any, visit func(map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		visit(n)
		for _, child := range n {
			walk(child, visit)
		}
	case []any:
		for _, child := range n {
			walk(child, visit)
		}
	}
}

// parseDurationMs converts "h:mm:ss" or "m:ss" display text to milliseconds.
func parseDurationMs(text string) int64 {
	if text == "" {
		return 0
	}
	parts := strings.Split(text, ":")
	var total int64
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		total = total*60 + int64(n)
	}
	return total * 1000
}
