// Package generator builds playlists from a paginated source: watch-next
// expansion of a single seed, and weighted sampling of listening history.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/queue"
	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/structures"
)

var (
	// ErrEmptyHistory is returned when recommendation generation has no
	// listening history to sample from.
	ErrEmptyHistory = errors.New("no listening history to sample")

	// ErrNoResults is returned when every attempt produced too few tracks
	// to build a playlist from.
	ErrNoResults = errors.New("generation yielded no usable tracks")
)

// Generator drives playlist generation against a paginated source.
type Generator struct {
	src source.PaginatedSource
	cfg *structures.Config
}

// New creates a generator.
func New(src source.PaginatedSource, cfg *structures.Config) *Generator {
	return &Generator{src: src, cfg: cfg}
}

// SelectIndex picks an index in [0,n) with reciprocal rank weighting.
// Weight of rank i (1-based) is (1/i)*(1-randomness) + randomness, so 0
// strongly favors early indices and 1 is uniform. Returns -1 for n=0.
//
// The same curve serves every weighted pick in generation; call sites only
// vary the randomness parameter.
func SelectIndex(n int, randomness float64) (int, error) {
	if randomness < 0 || randomness > 1 {
		return 0, fmt.Errorf("randomness %v outside [0,1]", randomness)
	}
	if n == 0 {
		return -1, nil
	}

	cumulative := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		total += (1/float64(i+1))*(1-randomness) + randomness
		cumulative[i] = total
	}

	draw := rand.Float64() * total
	for i, c := range cumulative {
		if c >= draw {
			return i, nil
		}
	}
	return n - 1, nil
}

// GenerateFromSeed expands a seed track through up to PageBudget pages of
// watch-next results. A run that only ever yields a single item is treated
// as transient: pagination state is reset and the run retried, up to
// MaxAttempts in total. The result is shuffled with the seed pinned first.
// The returned state resumes pagination where the fetch stopped.
func (g *Generator) GenerateFromSeed(ctx context.Context, seed structures.SeedTrackData) ([]structures.Track, structures.SeedTrackData, error) {
	for attempt := 1; ; attempt++ {
		tracks, state, err := g.fetchRun(ctx, seed)
		if err != nil {
			return nil, structures.SeedTrackData{}, err
		}
		if len(tracks) > 1 {
			return queue.ShuffleTracks(tracks, true), state, nil
		}
		if attempt >= g.cfg.MaxAttempts {
			return nil, structures.SeedTrackData{}, ErrNoResults
		}

		logger.Debug("Seed run %d yielded %d tracks, resetting pagination", attempt, len(tracks))
		seed.ContinuationToken = ""
		seed.VisitorData = ""
		select {
		case <-time.After(time.Duration(g.cfg.RetryDelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, structures.SeedTrackData{}, ctx.Err()
		}
	}
}

func (g *Generator) fetchRun(ctx context.Context, seed structures.SeedTrackData) ([]structures.Track, structures.SeedTrackData, error) {
	var tracks []structures.Track
	seen := make(map[string]bool)
	cur := seed

	for page := 0; page < g.cfg.PageBudget; page++ {
		p, err := g.src.NextPage(ctx, cur)
		if err != nil {
			return nil, structures.SeedTrackData{}, err
		}
		for _, v := range p.Videos {
			if seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			tracks = append(tracks, trackFromVideo(v))
		}

		cur.ContinuationToken = p.ContinuationToken
		if p.VisitorData != "" {
			cur.VisitorData = p.VisitorData
		}
		if cur.ContinuationToken == "" {
			break
		}
	}
	return tracks, cur, nil
}

// GenerateRecommended samples up to SeedLimit seeds from the listening
// history (most recent first) and fetches one watch-next page per seed
// concurrently. Each seed contributes round(TargetYield/numSeeds) tracks,
// picked uniformly, with the seed itself discarded from its results. The
// per-seed pagination state is returned for later continuation. The final
// list is shuffled.
func (g *Generator) GenerateRecommended(ctx context.Context, history []structures.Track) ([]structures.Track, []structures.SeedTrackData, error) {
	if len(history) == 0 {
		return nil, nil, ErrEmptyHistory
	}

	candidates := make([]structures.Track, len(history))
	copy(candidates, history)

	var seeds []structures.Track
	for len(seeds) < g.cfg.SeedLimit && len(candidates) > 0 {
		idx, err := SelectIndex(len(candidates), g.cfg.HistorySeedRandomness)
		if err != nil {
			return nil, nil, err
		}
		seeds = append(seeds, candidates[idx])
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}

	keep := int(math.Round(float64(g.cfg.TargetYield) / float64(len(seeds))))
	tracks, states, err := g.fetchSeeds(ctx, seedStates(seeds), keep)
	if err != nil {
		return nil, nil, err
	}
	if len(tracks) == 0 {
		return nil, nil, ErrNoResults
	}
	return queue.ShuffleTracks(tracks, false), states, nil
}

// ContinueGeneration fetches one more page per stored seed state, keeping
// the same proportional slice as the original recommendation pass. Seeds
// whose continuation is exhausted are skipped.
func (g *Generator) ContinueGeneration(ctx context.Context, states []structures.SeedTrackData) ([]structures.Track, []structures.SeedTrackData, error) {
	live := make([]structures.SeedTrackData, 0, len(states))
	for _, s := range states {
		if s.ContinuationToken != "" {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil, nil, ErrNoResults
	}

	keep := int(math.Round(float64(g.cfg.TargetYield) / float64(len(live))))
	tracks, next, err := g.fetchSeeds(ctx, live, keep)
	if err != nil {
		return nil, nil, err
	}
	if len(tracks) == 0 {
		return nil, nil, ErrNoResults
	}
	return queue.ShuffleTracks(tracks, false), next, nil
}

// fetchSeeds fetches one page per seed under the shared concurrency
// limiter. Per-seed failures are logged and skipped; the limiter is
// released on every path.
func (g *Generator) fetchSeeds(ctx context.Context, seeds []structures.SeedTrackData, keep int) ([]structures.Track, []structures.SeedTrackData, error) {
	sem := semaphore.NewWeighted(int64(g.cfg.SeedLimit))
	var (
		mu     sync.Mutex
		tracks []structures.Track
		states = make([]structures.SeedTrackData, len(seeds))
		wg     sync.WaitGroup
	)

	for i, seed := range seeds {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, nil, err
		}

		wg.Add(1)
		go func(i int, seed structures.SeedTrackData) {
			defer wg.Done()
			defer sem.Release(1)

			page, err := g.src.NextPage(ctx, seed)
			if err != nil {
				logger.Warn("Seed fetch failed for %s: %v", seed.URL, err)
				return
			}

			kept := pickFromPage(page, seed, keep)

			mu.Lock()
			tracks = append(tracks, kept...)
			states[i] = structures.SeedTrackData{
				URL:               seed.URL,
				ContinuationToken: page.ContinuationToken,
				VisitorData:       page.VisitorData,
			}
			mu.Unlock()
		}(i, seed)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	final := states[:0]
	for _, s := range states {
		if s.URL != "" {
			final = append(final, s)
		}
	}
	return tracks, final, nil
}

// pickFromPage discards the seed from its own results and keeps up to
// `keep` tracks picked uniformly.
func pickFromPage(page source.Page, seed structures.SeedTrackData, keep int) []structures.Track {
	var pool []structures.Track
	seedID := source.VideoIDFromURL(seed.URL)
	for _, v := range page.Videos {
		if v.ID == seedID || v.URL == seed.URL {
			continue
		}
		pool = append(pool, trackFromVideo(v))
	}

	if keep >= len(pool) {
		return pool
	}

	kept := make([]structures.Track, 0, keep)
	for len(kept) < keep && len(pool) > 0 {
		idx, err := SelectIndex(len(pool), 1)
		if err != nil || idx < 0 {
			break
		}
		kept = append(kept, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return kept
}

func seedStates(seeds []structures.Track) []structures.SeedTrackData {
	out := make([]structures.SeedTrackData, len(seeds))
	for i, s := range seeds {
		out[i] = structures.SeedTrackData{URL: s.URL}
	}
	return out
}

func trackFromVideo(v source.Video) structures.Track {
	return structures.Track{
		Title:      v.Title,
		Artist:     v.Author,
		DurationMs: v.DurationMs,
		URL:        v.URL,
	}
}
