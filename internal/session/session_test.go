package session

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/soracane/utaq/internal/events"
	"github.com/soracane/utaq/internal/generator"
	"github.com/soracane/utaq/internal/playback"
	"github.com/soracane/utaq/internal/queue"
	"github.com/soracane/utaq/internal/resolver"
	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/store"
	"github.com/soracane/utaq/internal/structures"
)

// --- fakes ---

type fakeEngine struct {
	mu         sync.Mutex
	cb         playback.Callbacks
	prepared   []string
	playCalls  int
	pauseCalls int
	stopCalls  int
	seeks      []int64
	pos        int64
}

func (e *fakeEngine) Prepare(uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepared = append(e.prepared, uri)
	e.pos = 0
	return nil
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	e.playCalls++
	cb := e.cb
	e.mu.Unlock()
	if cb.OnStateChanged != nil {
		cb.OnStateChanged(true)
	}
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseCalls++
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	return nil
}

func (e *fakeEngine) SeekTo(ms int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, ms)
	e.pos = ms
	return nil
}

func (e *fakeEngine) PositionMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) DurationMs() int64               { return 180000 }
func (e *fakeEngine) IsPlaying() bool                 { return false }
func (e *fakeEngine) SetVolume(float64) error         { return nil }
func (e *fakeEngine) Close() error                    { return nil }
func (e *fakeEngine) SetCallbacks(cb playback.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

func (e *fakeEngine) callbacks() playback.Callbacks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

func (e *fakeEngine) preparedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.prepared)
}

type fakeProvider struct {
	mu   sync.Mutex
	gate chan struct{}
	err  error
}

func (p *fakeProvider) AudioStreams(ctx context.Context, videoID string) ([]source.AudioStream, error) {
	p.mu.Lock()
	gate := p.gate
	err := p.err
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []source.AudioStream{{URL: "https://cdn.example.com/" + videoID, Bitrate: 128000}}, nil
}

type fakeGenSource struct {
	mu   sync.Mutex
	gate chan struct{}
	page source.Page
	err  error
}

func (f *fakeGenSource) NextPage(ctx context.Context, _ structures.SeedTrackData) (source.Page, error) {
	f.mu.Lock()
	gate := f.gate
	page := f.page
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return source.Page{}, ctx.Err()
		}
	}
	if err != nil {
		return source.Page{}, err
	}
	return page, nil
}

type fakeStore struct {
	mu        sync.Mutex
	playlists []structures.PersistedPlaylist
	history   []structures.Track
}

func (f *fakeStore) ReadContent() ([]structures.PersistedPlaylist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]structures.PersistedPlaylist, len(f.playlists))
	copy(out, f.playlists)
	return out, nil
}

func (f *fakeStore) WriteContent(playlists []structures.PersistedPlaylist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists = append([]structures.PersistedPlaylist(nil), playlists...)
	return nil
}

func (f *fakeStore) ReadSettings() (*structures.Config, error) { return nil, nil }
func (f *fakeStore) WriteSettings(*structures.Config) error    { return nil }

func (f *fakeStore) ReadRecommendations() ([]structures.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]structures.Track, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeStore) WriteRecommendations(tracks []structures.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append([]structures.Track(nil), tracks...)
	return nil
}

func (f *fakeStore) ExportJSON(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == store.KeyContent {
		return json.Marshal(f.playlists)
	}
	return json.Marshal(f.history)
}

func (f *fakeStore) ImportJSON(string, []byte) error { return nil }
func (f *fakeStore) Close() error                    { return nil }

type fakeNet struct {
	mu       sync.Mutex
	online   bool
	handlers []func(bool)
}

func (n *fakeNet) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *fakeNet) Subscribe(fn func(bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
	return func() {}
}

func (n *fakeNet) SetOnline(online bool) {
	n.mu.Lock()
	n.online = online
	handlers := append(([]func(bool))(nil), n.handlers...)
	n.mu.Unlock()
	for _, fn := range handlers {
		fn(online)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) toasts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if toast, ok := e.(events.ErrorToast); ok {
			out = append(out, toast.Message)
		}
	}
	return out
}

// --- harness ---

type harness struct {
	s        *Session
	engine   *fakeEngine
	provider *fakeProvider
	genSrc   *fakeGenSource
	db       *fakeStore
	net      *fakeNet
	log      *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &structures.Config{
		AudioQuality:          "medium",
		PageBudget:            2,
		MaxAttempts:           3,
		RetryDelayMs:          1,
		SeedLimit:             2,
		TargetYield:           4,
		SeedRandomness:        0.5,
		HistorySeedRandomness: 0.75,
		HistoryLimit:          10,
	}

	h := &harness{
		engine:   &fakeEngine{},
		provider: &fakeProvider{},
		genSrc:   &fakeGenSource{},
		db:       &fakeStore{},
		net:      &fakeNet{online: true},
		log:      &eventLog{},
	}

	ctrl := playback.NewController(h.engine, nil)
	res := resolver.New(h.provider, nil, cfg)
	gen := generator.New(h.genSrc, cfg)
	bus := events.NewBus()
	bus.Subscribe(h.log.record)

	h.s = New(cfg, queue.New(), res, ctrl, gen, h.db, bus, h.net)
	h.s.Start()
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) loadPlaylist(t *testing.T, name string, urls ...string) {
	t.Helper()
	tracks := make([]structures.Track, len(urls))
	for i, u := range urls {
		tracks[i] = structures.Track{Title: "Track " + u, URL: "https://music.youtube.com/watch?v=" + u}
	}
	h.db.WriteContent([]structures.PersistedPlaylist{{Name: name, Tracks: tracks}})

	if r := h.s.Dispatch(Command{Kind: CmdLoadPlaylist, Name: name}); r.Code != ResultOK {
		t.Fatalf("load playlist: %+v", r)
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func (h *harness) waitPlaying(t *testing.T, prepared int) {
	t.Helper()
	eventually(t, func() bool {
		return h.engine.preparedCount() >= prepared &&
			h.s.State().Status == structures.StatusPlaying
	}, "playback to start")
}

// --- tests ---

func TestLoadPlaylistStartsPlayback(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2", "v3")

	h.waitPlaying(t, 1)
	if got := h.s.QueueIndex(); got != 0 {
		t.Errorf("queue index = %d", got)
	}
	items := h.s.QueueItems()
	if len(items) != 3 || items[0].Title != "Track v1" {
		t.Errorf("queue = %+v", items)
	}
}

func TestTrackCompletionAdvancesThenStops(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2", "v3")
	h.waitPlaying(t, 1)

	h.engine.callbacks().OnTrackEnded()
	h.waitPlaying(t, 2)
	if got := h.s.QueueIndex(); got != 1 {
		t.Errorf("after first completion index = %d", got)
	}

	h.engine.callbacks().OnTrackEnded()
	h.waitPlaying(t, 3)
	if got := h.s.QueueIndex(); got != 2 {
		t.Errorf("after second completion index = %d", got)
	}

	// Last track: completion stops instead of wrapping.
	h.engine.callbacks().OnTrackEnded()
	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusStopped
	}, "stop at end of queue")
	if got := h.s.QueueIndex(); got != 2 {
		t.Errorf("cursor must not wrap on final completion, index = %d", got)
	}
}

func TestPlayRecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	eventually(t, func() bool {
		history, _ := h.db.ReadRecommendations()
		return len(history) == 1 && history[0].Title == "Track v1"
	}, "history record")
}

func TestPlayWhileOfflineIsRejected(t *testing.T) {
	h := newHarness(t)
	h.net.SetOnline(false)

	if r := h.s.Dispatch(Command{Kind: CmdPlay}); r.Code != ResultCanceled {
		t.Errorf("expected canceled, got %+v", r)
	}
	eventually(t, func() bool { return len(h.log.toasts()) > 0 }, "offline toast")
}

func TestPlayOnEmptyQueueIsCanceled(t *testing.T) {
	h := newHarness(t)
	if r := h.s.Dispatch(Command{Kind: CmdPlay}); r.Code != ResultCanceled {
		t.Errorf("expected canceled, got %+v", r)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	if r := h.s.Dispatch(Command{Kind: CmdPause}); r.Code != ResultOK {
		t.Fatalf("pause: %+v", r)
	}
	if got := h.s.State().Status; got != structures.StatusPaused {
		t.Fatalf("status after pause = %v", got)
	}

	if r := h.s.Dispatch(Command{Kind: CmdPlay}); r.Code != ResultOK {
		t.Fatalf("resume: %+v", r)
	}
	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusPlaying
	}, "resume to playing")
	if h.engine.preparedCount() != 1 {
		t.Error("resume must not re-prepare the stream")
	}
}

func TestNetworkLossDuringLoadStopsWithToast(t *testing.T) {
	h := newHarness(t)
	h.provider.mu.Lock()
	h.provider.gate = make(chan struct{})
	h.provider.mu.Unlock()

	h.loadPlaylist(t, "mix", "v1")
	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusBuffering
	}, "buffering during gated load")

	h.net.SetOnline(false)

	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusStopped
	}, "stop after connectivity loss")
	eventually(t, func() bool {
		for _, msg := range h.log.toasts() {
			if msg == "Network connection lost" {
				return true
			}
		}
		return false
	}, "network loss toast")
}

func TestConnectivityRecoveryResumesParkedPlayback(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	// Mid-track network fault parks playback in Buffering.
	h.engine.mu.Lock()
	h.engine.pos = 61000
	h.engine.mu.Unlock()
	h.engine.callbacks().OnError(&net.OpError{Op: "read", Err: syscall.ECONNRESET})

	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusBuffering
	}, "parked in buffering")

	h.net.SetOnline(false)
	h.net.SetOnline(true)

	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusPlaying
	}, "replay after reconnect")

	h.engine.mu.Lock()
	seeks := append([]int64(nil), h.engine.seeks...)
	h.engine.mu.Unlock()
	replayed := false
	for _, ms := range seeks {
		if ms == 61000 {
			replayed = true
		}
	}
	if !replayed {
		t.Errorf("expected replay seek to the parked position, seeks = %v", seeks)
	}
	if h.engine.preparedCount() != 1 {
		t.Error("recovery must not re-prepare the stream")
	}
}

func TestSupersededLoadIsSilent(t *testing.T) {
	h := newHarness(t)
	h.provider.mu.Lock()
	h.provider.gate = make(chan struct{})
	h.provider.mu.Unlock()

	h.loadPlaylist(t, "mix", "v1", "v2")
	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusBuffering
	}, "buffering during gated load")

	// Skipping supersedes the in-flight load; with the network still up the
	// cancellation must not surface a toast.
	h.provider.mu.Lock()
	h.provider.gate = nil
	h.provider.mu.Unlock()
	if r := h.s.Dispatch(Command{Kind: CmdNext}); r.Code != ResultOK {
		t.Fatalf("next: %+v", r)
	}

	h.waitPlaying(t, 1)
	if got := h.s.QueueIndex(); got != 1 {
		t.Errorf("index after skip = %d", got)
	}
	for _, msg := range h.log.toasts() {
		if msg == "Network connection lost" {
			t.Error("superseded cancellation must stay silent")
		}
	}
}

func TestCommandGatingDuringGeneration(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.genSrc.mu.Lock()
	h.genSrc.gate = gate
	h.genSrc.page = source.Page{Videos: []source.Video{
		{ID: "s", Title: "Seed", URL: "https://music.youtube.com/watch?v=s"},
		{ID: "a", Title: "A", URL: "https://music.youtube.com/watch?v=a"},
		{ID: "b", Title: "B", URL: "https://music.youtube.com/watch?v=b"},
	}}
	h.genSrc.mu.Unlock()

	results := make(chan Result, 1)
	go func() {
		results <- h.s.Dispatch(Command{Kind: CmdGenerateNew, SeedURL: "https://music.youtube.com/watch?v=s"})
	}()

	// Mutating commands are silently rejected while generation runs.
	eventually(t, func() bool {
		r := h.s.Dispatch(Command{Kind: CmdRemoveItem, Index: 0})
		return r.Code == ResultCanceled
	}, "gated command rejection")

	close(gate)
	r := <-results
	if r.Code != ResultOK {
		t.Fatalf("generation result: %+v", r)
	}
	if got := len(h.s.QueueItems()); got != 3 {
		t.Errorf("generated queue size = %d", got)
	}

	// Gate released: mutating commands work again.
	if r := h.s.Dispatch(Command{Kind: CmdRemoveItem, Index: 2}); r.Code != ResultOK {
		t.Errorf("remove after generation: %+v", r)
	}
}

func TestGenerateRecommendedEmptyHistoryCancels(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)
	before := h.s.QueueItems()

	// Wait for the play to land in history, then clear it so the
	// recommendation pass has nothing to sample.
	eventually(t, func() bool {
		history, _ := h.db.ReadRecommendations()
		return len(history) == 1
	}, "history record")
	h.db.WriteRecommendations(nil)

	r := h.s.Dispatch(Command{Kind: CmdGenerateRecommended})
	if r.Code != ResultCanceled {
		t.Fatalf("expected canceled, got %+v", r)
	}
	after := h.s.QueueItems()
	if len(after) != len(before) {
		t.Error("failed generation must leave the queue untouched")
	}
}

func TestGenerationFailureLeavesQueue(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2")
	h.waitPlaying(t, 1)

	h.genSrc.mu.Lock()
	h.genSrc.page = source.Page{Videos: []source.Video{{ID: "only", URL: "https://music.youtube.com/watch?v=only"}}}
	h.genSrc.mu.Unlock()

	r := h.s.Dispatch(Command{Kind: CmdGenerateNew, SeedURL: "https://music.youtube.com/watch?v=x"})
	if r.Code != ResultCanceled {
		t.Fatalf("expected canceled after exhausted attempts, got %+v", r)
	}
	if got := len(h.s.QueueItems()); got != 2 {
		t.Errorf("queue must be untouched, got %d items", got)
	}
}

func TestShufflePinsCurrentWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2", "v3", "v4", "v5")
	h.waitPlaying(t, 1)
	original := h.s.QueueItems()

	if r := h.s.Dispatch(Command{Kind: CmdEnableShuffle}); r.Code != ResultOK {
		t.Fatalf("shuffle: %+v", r)
	}
	items := h.s.QueueItems()
	if items[0].SequenceID != original[0].SequenceID {
		t.Error("current item must stay pinned first while playing")
	}
	if h.s.QueueIndex() != 0 {
		t.Errorf("cursor after pinned shuffle = %d", h.s.QueueIndex())
	}
	if !h.s.IsShuffled() {
		t.Error("queue should report shuffled")
	}

	if r := h.s.Dispatch(Command{Kind: CmdDisableShuffle}); r.Code != ResultOK {
		t.Fatalf("unshuffle: %+v", r)
	}
	restored := h.s.QueueItems()
	for i := range original {
		if restored[i].SequenceID != original[i].SequenceID {
			t.Fatalf("order not restored at %d", i)
		}
	}
}

func TestQueueVideoPlacements(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2")
	h.waitPlaying(t, 1)

	next := structures.Track{Title: "Next", URL: "https://music.youtube.com/watch?v=n"}
	if r := h.s.Dispatch(Command{Kind: CmdQueueVideo, Track: next, Placement: PlaceNext}); r.Code != ResultOK {
		t.Fatalf("queue next: %+v", r)
	}
	last := structures.Track{Title: "Last", URL: "https://music.youtube.com/watch?v=l"}
	if r := h.s.Dispatch(Command{Kind: CmdQueueVideo, Track: last, Placement: PlaceLast}); r.Code != ResultOK {
		t.Fatalf("queue last: %+v", r)
	}

	items := h.s.QueueItems()
	if len(items) != 4 {
		t.Fatalf("queue size = %d", len(items))
	}
	if items[1].Title != "Next" || items[3].Title != "Last" {
		t.Errorf("placements wrong: %v, %v", items[1].Title, items[3].Title)
	}

	fresh := structures.Track{Title: "Fresh", URL: "https://music.youtube.com/watch?v=f"}
	if r := h.s.Dispatch(Command{Kind: CmdQueueVideo, Track: fresh, Placement: PlaceNew}); r.Code != ResultOK {
		t.Fatalf("queue new: %+v", r)
	}
	eventually(t, func() bool {
		items := h.s.QueueItems()
		return len(items) == 1 && items[0].Title == "Fresh"
	}, "queue replaced by new video")
}

func TestSaveQueueRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2")
	h.waitPlaying(t, 1)

	if r := h.s.Dispatch(Command{Kind: CmdSaveQueue, Name: "saved"}); r.Code != ResultOK {
		t.Fatalf("save queue: %+v", r)
	}

	playlists, _ := h.db.ReadContent()
	var found *structures.PersistedPlaylist
	for i := range playlists {
		if playlists[i].Name == "saved" {
			found = &playlists[i]
		}
	}
	if found == nil || len(found.Tracks) != 2 {
		t.Fatalf("saved playlist missing or wrong: %+v", playlists)
	}

	if r := h.s.Dispatch(Command{Kind: CmdDeleteQueue, Name: "saved"}); r.Code != ResultOK {
		t.Fatalf("delete queue: %+v", r)
	}
	playlists, _ = h.db.ReadContent()
	for _, p := range playlists {
		if p.Name == "saved" {
			t.Error("playlist still present after delete")
		}
	}
}

func TestLoadMissingPlaylistCancels(t *testing.T) {
	h := newHarness(t)
	if r := h.s.Dispatch(Command{Kind: CmdLoadPlaylist, Name: "nope"}); r.Code != ResultCanceled {
		t.Errorf("expected canceled, got %+v", r)
	}
}

func TestSkipToItem(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1", "v2", "v3")
	h.waitPlaying(t, 1)

	if r := h.s.Dispatch(Command{Kind: CmdSkipToItem, Index: 2}); r.Code != ResultOK {
		t.Fatalf("skip: %+v", r)
	}
	h.waitPlaying(t, 2)
	if got := h.s.QueueIndex(); got != 2 {
		t.Errorf("index after skip = %d", got)
	}

	if r := h.s.Dispatch(Command{Kind: CmdSkipToItem, Index: 99}); r.Code != ResultCanceled {
		t.Errorf("out-of-range skip must cancel, got %+v", r)
	}
}

func TestClearQueueStops(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	if r := h.s.Dispatch(Command{Kind: CmdClearQueue}); r.Code != ResultOK {
		t.Fatalf("clear: %+v", r)
	}
	if got := len(h.s.QueueItems()); got != 0 {
		t.Errorf("queue size after clear = %d", got)
	}
	if got := h.s.State().Status; got != structures.StatusStopped {
		t.Errorf("status after clear = %v", got)
	}
}

func TestScheduledStop(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	h.s.ScheduleStop(20 * time.Millisecond)
	eventually(t, func() bool {
		return h.s.State().Status == structures.StatusStopped
	}, "delayed stop to fire")
}

func TestRescheduledStopSupersedesOld(t *testing.T) {
	h := newHarness(t)
	h.loadPlaylist(t, "mix", "v1")
	h.waitPlaying(t, 1)

	h.s.ScheduleStop(10 * time.Millisecond)
	h.s.ScheduleStop(300 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	if got := h.s.State().Status; got != structures.StatusPlaying {
		t.Fatalf("rescheduled stop fired early, status = %v", got)
	}
	h.s.CancelScheduledStop()
	time.Sleep(300 * time.Millisecond)
	if got := h.s.State().Status; got != structures.StatusPlaying {
		t.Errorf("canceled stop still fired, status = %v", got)
	}
}
