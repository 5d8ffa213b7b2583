package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp"

	"github.com/soracane/utaq/internal/logger"
)

// errEmptyImage marks the transient empty-response failure class that is
// worth retrying, as opposed to a cancellation or a hard HTTP error.
var errEmptyImage = errors.New("empty image response")

// ImageFetcher downloads and decodes artwork with a bounded retry on
// transient empty responses. Cancelling the request context aborts
// immediately without consuming retry attempts.
type ImageFetcher struct {
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

// NewImageFetcher creates a fetcher with the standard 3-attempt policy.
func NewImageFetcher(retryDelay time.Duration) *ImageFetcher {
	return &ImageFetcher{
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		retryDelay:  retryDelay,
	}
}

// Fetch downloads and decodes the image at url.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		img, err := f.fetchOnce(ctx, url)
		if err == nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, errEmptyImage) {
			return nil, err
		}

		logger.Debug("Transient image failure (attempt %d/%d) for %s: %v", attempt, f.maxAttempts, url, err)
		select {
		case <-time.After(f.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (f *ImageFetcher) fetchOnce(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

var thumbSizeRe = regexp.MustCompile(`=w\d+-h\d+`)

// thumbnailVariant rewrites a thumbnail URL's size suffix when it carries
// one, so one artwork URL yields both the icon and full-size variants.
func thumbnailVariant(url string, size int) string {
	if thumbSizeRe.MatchString(url) {
		return thumbSizeRe.ReplaceAllString(url, fmt.Sprintf("=w%d-h%d", size, size))
	}
	return url
}

// GradientFromImage derives the two gradient colors from the artwork: the
// dominant swatch on top and a muted companion below it. Returns ok=false
// when no usable swatch can be extracted.
func GradientFromImage(img image.Image) (top, bottom string, ok bool) {
	dominant, found := dominantColor(img)
	if !found {
		return "", "", false
	}

	h, s, l := dominant.Hsl()
	muted := colorful.Hsl(h, s*0.4, clamp01(l*0.55))

	return dominant.Hex(), muted.Hex(), true
}

// dominantColor buckets sampled pixels into a coarse color cube and returns
// the average color of the most populated bucket. Near-black and near-white
// pixels are ignored so letterboxing does not win.
func dominantColor(img image.Image) (colorful.Color, bool) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return colorful.Color{}, false
	}

	step := bounds.Dx() / 64
	if step < 1 {
		step = 1
	}

	type bucket struct {
		r, g, b float64
		count   int
	}
	buckets := make(map[uint32]*bucket)

	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			rf := float64(r) / 65535
			gf := float64(g) / 65535
			bf := float64(b) / 65535

			luma := 0.299*rf + 0.587*gf + 0.114*bf
			if luma < 0.05 || luma > 0.95 {
				continue
			}

			key := (r >> 12 << 8) | (g >> 12 << 4) | (b >> 12)
			bk := buckets[key]
			if bk == nil {
				bk = &bucket{}
				buckets[key] = bk
			}
			bk.r += rf
			bk.g += gf
			bk.b += bf
			bk.count++
		}
	}

	var best *bucket
	for _, bk := range buckets {
		if best == nil || bk.count > best.count {
			best = bk
		}
	}
	if best == nil || best.count == 0 {
		return colorful.Color{}, false
	}

	n := float64(best.count)
	return colorful.Color{R: best.r / n, G: best.g / n, B: best.b / n}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
