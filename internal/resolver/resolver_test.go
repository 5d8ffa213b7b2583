package resolver

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/structures"
)

func TestPickStreamTiers(t *testing.T) {
	streams := []source.AudioStream{
		{URL: "high", Bitrate: 256000},
		{URL: "low", Bitrate: 48000},
		{URL: "mid", Bitrate: 128000},
	}

	cases := []struct {
		quality string
		want    string
	}{
		{"low", "low"},
		{"medium", "mid"},
		{"high", "high"},
	}
	for _, c := range cases {
		got, err := PickStream(streams, c.quality)
		if err != nil {
			t.Fatalf("PickStream(%s): %v", c.quality, err)
		}
		if got != c.want {
			t.Errorf("PickStream(%s) = %q, want %q", c.quality, got, c.want)
		}
	}
}

func TestPickStreamFallsBackToOnlyStream(t *testing.T) {
	streams := []source.AudioStream{{URL: "only", Bitrate: 96000}}

	for _, quality := range []string{"low", "medium", "high"} {
		got, err := PickStream(streams, quality)
		if err != nil || got != "only" {
			t.Errorf("PickStream(%s) = %q, %v; want only stream", quality, got, err)
		}
	}
}

func TestPickStreamNoStreams(t *testing.T) {
	if _, err := PickStream(nil, "medium"); !errors.Is(err, ErrNoStream) {
		t.Errorf("expected ErrNoStream, got %v", err)
	}
}

func TestThumbnailVariant(t *testing.T) {
	got := thumbnailVariant("https://lh3.example.com/abc=w120-h120-l90-rj", 544)
	want := "https://lh3.example.com/abc=w544-h544-l90-rj"
	if got != want {
		t.Errorf("thumbnailVariant = %q, want %q", got, want)
	}

	plain := "https://example.com/cover.jpg"
	if got := thumbnailVariant(plain, 60); got != plain {
		t.Errorf("expected unsuffixed URL unchanged, got %q", got)
	}
}

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestGradientFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}

	top, bottom, ok := GradientFromImage(img)
	if !ok {
		t.Fatal("expected gradient from solid-color image")
	}
	if top == "" || bottom == "" || top == bottom {
		t.Errorf("expected two distinct colors, got %q / %q", top, bottom)
	}
}

func TestGradientFromBlackImageFails(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8)) // all black

	if _, _, ok := GradientFromImage(img); ok {
		t.Error("expected no swatch from an all-black image")
	}
}

func TestImageFetcherRetriesEmptyResponses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			return // empty body: transient
		}
		w.Write(solidPNG(t, color.RGBA{R: 10, G: 120, B: 200, A: 255}))
	}))
	defer srv.Close()

	f := NewImageFetcher(time.Millisecond)
	img, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if img == nil || calls.Load() != 3 {
		t.Errorf("expected success on third attempt, calls=%d", calls.Load())
	}
}

func TestImageFetcherGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := NewImageFetcher(time.Millisecond)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls.Load())
	}
}

func TestImageFetcherCancellationAbortsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Transient failure that would normally be retried.
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewImageFetcher(time.Second)
	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should not wait out the retry delay")
	}
}

type fakeStreamProvider struct {
	streams []source.AudioStream
	err     error
}

func (f *fakeStreamProvider) AudioStreams(context.Context, string) ([]source.AudioStream, error) {
	return f.streams, f.err
}

func TestResolveDeliversBothResults(t *testing.T) {
	provider := &fakeStreamProvider{streams: []source.AudioStream{{URL: "stream-url", Bitrate: 1}}}
	cfg := &structures.Config{AudioQuality: "low", GradientTop: "#111111", GradientBottom: "#222222"}
	r := New(provider, nil, cfg)

	res := r.Resolve(context.Background(), structures.QueueItem{
		Title: "Song", Artist: "Artist", SourceURL: "https://music.youtube.com/watch?v=abc",
	})

	stream := <-res.StreamURL
	if stream.Err != nil || stream.URL != "stream-url" {
		t.Errorf("stream result = %+v", stream)
	}

	meta := <-res.Metadata
	if meta.Err != nil {
		t.Fatalf("metadata error: %v", meta.Err)
	}
	if meta.Metadata.Title != "Song" || meta.Metadata.GradientTop != "#111111" {
		t.Errorf("metadata = %+v", meta.Metadata)
	}
}

func TestResolveNoStream(t *testing.T) {
	provider := &fakeStreamProvider{}
	r := New(provider, nil, &structures.Config{AudioQuality: "medium"})

	res := r.Resolve(context.Background(), structures.QueueItem{SourceURL: "abc"})
	stream := <-res.StreamURL
	if !errors.Is(stream.Err, ErrNoStream) {
		t.Errorf("expected ErrNoStream, got %v", stream.Err)
	}
}
