package source

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // SAPISIDHASH authorization requires SHA1
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/soracane/utaq/internal/structures"
)

const musicDomain = "https://music.youtube.com"

// Client talks to the innertube API. It implements both PaginatedSource (the
// "next" endpoint with continuations) and StreamProvider (the "player"
// endpoint's adaptive audio formats).
type Client struct {
	sapisid         string
	innertubeAPIKey string
	clientVersion   string
	cookies         string
	httpClient      *http.Client
}

// NewClient creates a client from browser headers. The homepage is fetched
// once to discover the API key and client version.
func NewClient(ctx context.Context, headers map[string]string) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	cookies, ok := headers["Cookie"]
	if !ok {
		return nil, fmt.Errorf("no Cookie header found")
	}

	sapisid := extractSAPISID(cookies)
	if sapisid == "" {
		return nil, fmt.Errorf("no SAPISID found in cookies")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", musicDomain, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	bodyStr := string(body)

	if strings.Contains(bodyStr, `<base href="https://accounts.google.com/v3/signin/">`) ||
		strings.Contains(bodyStr, `<base href="https://consent.youtube.com/">`) {
		return nil, fmt.Errorf("need to login")
	}

	apiKey := extractBetween(bodyStr, `INNERTUBE_API_KEY":"`, `"`)
	if apiKey == "" {
		return nil, fmt.Errorf("could not find INNERTUBE_API_KEY")
	}

	clientVersion := extractBetween(bodyStr, `INNERTUBE_CLIENT_VERSION":"`, `"`)
	if clientVersion == "" {
		return nil, fmt.Errorf("could not find INNERTUBE_CLIENT_VERSION")
	}

	return &Client{
		sapisid:         sapisid,
		innertubeAPIKey: apiKey,
		clientVersion:   clientVersion,
		cookies:         cookies,
		httpClient:      httpClient,
	}, nil
}

// NewClientFromHeaderFile creates a client from a "Name: value" header file.
func NewClientFromHeaderFile(ctx context.Context, path string) (*Client, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	if _, ok := headers["Cookie"]; !ok {
		return nil, fmt.Errorf("no Cookie header found in file")
	}
	if _, ok := headers["User-Agent"]; !ok {
		headers["User-Agent"] = "Mozilla/5.0 (X11; Linux x86_64; rv:108.0) Gecko/20100101 Firefox/108.0"
	}

	return NewClient(ctx, headers)
}

// NextPage fetches one page of watch-next results for the seed. A seed with a
// continuation token and visitor data resumes the prior result set; a seed
// with only a URL starts a fresh one.
func (c *Client) NextPage(ctx context.Context, seed structures.SeedTrackData) (Page, error) {
	videoID := VideoIDFromURL(seed.URL)
	if videoID == "" && seed.ContinuationToken == "" {
		return Page{}, fmt.Errorf("seed has neither a video id nor a continuation token")
	}

	body := map[string]any{
		"context": c.requestContext(seed.VisitorData),
	}
	if seed.ContinuationToken != "" {
		body["continuation"] = seed.ContinuationToken
	} else {
		body["videoId"] = videoID
		body["isAudioOnly"] = true
	}

	resp, err := c.call(ctx, "next", body)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Videos:            extractPanelVideos(resp),
		ContinuationToken: extractContinuation(resp),
		VisitorData:       extractVisitorData(resp),
	}
	if page.VisitorData == "" {
		page.VisitorData = seed.VisitorData
	}
	return page, nil
}

// AudioStreams returns the audio-only adaptive formats for a video.
func (c *Client) AudioStreams(ctx context.Context, videoID string) ([]AudioStream, error) {
	body := map[string]any{
		"context": c.requestContext(""),
		"videoId": videoID,
	}

	resp, err := c.call(ctx, "player", body)
	if err != nil {
		return nil, err
	}

	if status := getPathString(resp, "playabilityStatus", "status"); status != "OK" {
		reason := getPathString(resp, "playabilityStatus", "reason")
		return nil, fmt.Errorf("video not playable: %s", reason)
	}

	var streams []AudioStream
	formats, _ := getPath(resp, "streamingData", "adaptiveFormats").([]any)
	for _, f := range formats {
		format, ok := f.(map[string]any)
		if !ok {
			continue
		}
		mimeType, _ := format["mimeType"].(string)
		if !strings.HasPrefix(mimeType, "audio/") {
			continue
		}
		streamURL, _ := format["url"].(string)
		if streamURL == "" {
			continue
		}
		bitrate, _ := format["bitrate"].(float64)
		streams = append(streams, AudioStream{URL: streamURL, Bitrate: int(bitrate)})
	}

	return streams, nil
}

func (c *Client) requestContext(visitorData string) map[string]any {
	client := map[string]any{
		"clientName":    "WEB_REMIX",
		"clientVersion": c.clientVersion,
	}
	if visitorData != "" {
		client["visitorData"] = visitorData
	}
	return map[string]any{"client": client}
}

func (c *Client) call(ctx context.Context, route string, body map[string]any) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/youtubei/v1/%s?key=%s&prettyPrint=false",
		musicDomain, route, c.innertubeAPIKey)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("SAPISIDHASH %s", c.computeSAPIHash()))
	req.Header.Set("X-Origin", musicDomain)
	req.Header.Set("Cookie", c.cookies)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (c *Client) computeSAPIHash() string {
	timestamp := time.Now().Unix()
	data := fmt.Sprintf("%d %s %s", timestamp, c.sapisid, musicDomain)

	h := sha1.New() //nolint:gosec // SAPISIDHASH authorization requires SHA1
	h.Write([]byte(data))
	return fmt.Sprintf("%d_%x", timestamp, h.Sum(nil))
}

func extractSAPISID(cookies string) string {
	for _, part := range strings.Split(cookies, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "SAPISID=") {
			return strings.TrimPrefix(part, "SAPISID=")
		}
	}
	return ""
}

func extractBetween(s, start, end string) string {
	startIdx := strings.Index(s, start)
	if startIdx == -1 {
		return ""
	}
	startIdx += len(start)
	endIdx := strings.Index(s[startIdx:], end)
	if endIdx == -1 {
		return ""
	}
	return s[startIdx : startIdx+endIdx]
}

// VideoIDFromURL extracts the video id from a watch URL, or returns ""
// when the URL carries none.
func VideoIDFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	// youtu.be short links carry the id in the path.
	if u.Host == "youtu.be" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}
