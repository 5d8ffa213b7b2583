// Package session is the coordinating core: a channel-served command loop
// that owns the queue and drives the resolver, playback controller and
// generator together. All queue mutation happens on the loop goroutine;
// asynchronous work re-enters through posted closures.
package session

import (
	"sync"
	"time"

	"github.com/soracane/utaq/internal/events"
	"github.com/soracane/utaq/internal/generator"
	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/mediaid"
	"github.com/soracane/utaq/internal/network"
	"github.com/soracane/utaq/internal/playback"
	"github.com/soracane/utaq/internal/queue"
	"github.com/soracane/utaq/internal/resolver"
	"github.com/soracane/utaq/internal/source"
	"github.com/soracane/utaq/internal/store"
	"github.com/soracane/utaq/internal/structures"
)

// Session orchestrates one playback session.
type Session struct {
	cfg   *structures.Config
	queue *queue.Queue
	res   *resolver.Resolver
	ctrl  *playback.Controller
	gen   *generator.Generator
	db    store.Store
	bus   *events.Bus
	net   network.Connectivity

	cmds     chan Command
	apply    chan func()
	stop     chan struct{}
	stopOnce sync.Once

	trackScope    *scope
	playlistScope *scope

	// Command gating. Loop-confined.
	loading    bool
	generating bool

	// In-flight resolution for the current item, reused when the same item
	// is requested again before it finishes. Loop-confined.
	inflightID   string
	inflight     resolver.Resolution
	loadAttempts int

	seedStates []structures.SeedTrackData

	stopTimer *time.Timer
	unsubNet  func()
}

// New wires a session together. Call Start before dispatching commands.
func New(cfg *structures.Config, q *queue.Queue, res *resolver.Resolver, ctrl *playback.Controller,
	gen *generator.Generator, db store.Store, bus *events.Bus, conn network.Connectivity) *Session {
	return &Session{
		cfg:           cfg,
		queue:         q,
		res:           res,
		ctrl:          ctrl,
		gen:           gen,
		db:            db,
		bus:           bus,
		net:           conn,
		cmds:          make(chan Command, 64),
		apply:         make(chan func(), 64),
		stop:          make(chan struct{}),
		trackScope:    newScope(),
		playlistScope: newScope(),
	}
}

// Start launches the command loop and hooks up engine and network events.
func (s *Session) Start() {
	s.ctrl.SetTrackEnded(func() {
		s.post(s.advanceAfterCompletion)
	})
	if s.net != nil {
		s.unsubNet = s.net.Subscribe(func(online bool) {
			s.post(func() { s.onConnectivity(online) })
		})
	}
	go s.run()
}

// Close stops the loop and cancels all in-flight work.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.unsubNet != nil {
		s.unsubNet()
	}
	s.trackScope.Cancel()
	s.playlistScope.Cancel()
}

// Dispatch sends a command and waits for its result. A session shutting
// down answers canceled.
func (s *Session) Dispatch(cmd Command) Result {
	cmd.reply = make(chan Result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.stop:
		return Result{Code: ResultCanceled, Command: cmd.Kind.String()}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-s.stop:
		return Result{Code: ResultCanceled, Command: cmd.Kind.String()}
	}
}

// State returns the current playback state snapshot.
func (s *Session) State() structures.PlaybackState {
	return s.ctrl.State()
}

// QueueItems returns a copy of the queue contents.
func (s *Session) QueueItems() []structures.QueueItem {
	var items []structures.QueueItem
	s.inspect(func() { items = s.queue.Items() })
	return items
}

// QueueIndex returns the cursor position.
func (s *Session) QueueIndex() int {
	index := -1
	s.inspect(func() { index = s.queue.Index() })
	return index
}

// IsShuffled reports whether the queue currently holds a shuffle baseline.
func (s *Session) IsShuffled() bool {
	shuffled := false
	s.inspect(func() { shuffled = s.queue.IsShuffled() })
	return shuffled
}

// inspect runs fn on the loop goroutine and waits for it, serializing
// reads against queue mutation.
func (s *Session) inspect(fn func()) {
	done := make(chan struct{})
	select {
	case s.apply <- func() { fn(); close(done) }:
	case <-s.stop:
		return
	}
	select {
	case <-done:
	case <-s.stop:
	}
}

// ScheduleStop arms (or re-arms) the delayed stop timer.
func (s *Session) ScheduleStop(d time.Duration) {
	s.post(func() {
		if s.stopTimer != nil {
			s.stopTimer.Stop()
		}
		logger.Info("Stop scheduled in %v", d)
		s.stopTimer = time.AfterFunc(d, func() {
			s.Dispatch(Command{Kind: CmdStop})
		})
	})
}

// CancelScheduledStop disarms the delayed stop timer.
func (s *Session) CancelScheduledStop() {
	s.post(func() {
		if s.stopTimer != nil {
			s.stopTimer.Stop()
			s.stopTimer = nil
		}
	})
}

func (s *Session) run() {
	for {
		select {
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case fn := <-s.apply:
			fn()
		case <-s.stop:
			return
		}
	}
}

// post schedules fn on the loop goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.apply <- fn:
	case <-s.stop:
	}
}

func (s *Session) reply(cmd Command, code ResultCode) {
	if cmd.reply != nil {
		cmd.reply <- Result{Code: code, Command: cmd.Kind.String()}
	}
}

// mutating reports whether a command alters the queue or the library, and
// is therefore gated while a load or generation is in progress.
func mutating(k CommandKind) bool {
	switch k {
	case CmdPlay, CmdPause, CmdStop, CmdNext, CmdPrevious, CmdSkipToItem, CmdSeekTo:
		return false
	}
	return true
}

func (s *Session) handleCommand(cmd Command) {
	if mutating(cmd.Kind) && (s.loading || s.generating) {
		logger.Debug("Rejecting %s: session busy (loading=%v generating=%v)",
			cmd.Kind, s.loading, s.generating)
		s.reply(cmd, ResultCanceled)
		return
	}

	switch cmd.Kind {
	case CmdEnableShuffle:
		s.handleEnableShuffle(cmd)
	case CmdDisableShuffle:
		s.queue.Unshuffle()
		s.bus.Publish(events.ShuffleChanged{Enabled: false})
		s.bus.Publish(events.QueueChanged{})
		s.reply(cmd, ResultOK)
	case CmdSaveQueue:
		s.handleSaveQueue(cmd)
	case CmdDeleteQueue:
		s.handleDeleteQueue(cmd)
	case CmdClearQueue:
		s.ctrl.Stop()
		s.trackScope.Reset()
		s.inflightID = ""
		s.queue.SetItems(nil)
		s.bus.Publish(events.QueueChanged{})
		s.reply(cmd, ResultOK)
	case CmdMoveItem:
		s.queue.MoveItem(cmd.MediaID, cmd.ToPosition)
		s.bus.Publish(events.QueueChanged{})
		s.reply(cmd, ResultOK)
	case CmdRemoveItem:
		s.queue.RemoveItem(cmd.Index)
		s.bus.Publish(events.QueueChanged{})
		s.reply(cmd, ResultOK)
	case CmdQueueVideo:
		s.handleQueueVideo(cmd)
	case CmdSaveVideoToPlaylist:
		s.handleSaveVideoToPlaylist(cmd)
	case CmdLoadPlaylist:
		s.handleLoadPlaylist(cmd)
	case CmdGenerateNew, CmdGenerateRecommended, CmdGenerateHistorical, CmdGenerateContinue:
		s.handleGenerate(cmd)
	case CmdPlay:
		s.reply(cmd, s.requestPlay())
	case CmdPause:
		s.ctrl.Pause()
		s.reply(cmd, ResultOK)
	case CmdStop:
		s.stopPlayback()
		s.reply(cmd, ResultOK)
	case CmdNext:
		s.handleSkip(cmd, structures.StatusSkippingToNext, s.queue.IncrementIndex)
	case CmdPrevious:
		s.handleSkip(cmd, structures.StatusSkippingToPrevious, s.queue.DecrementIndex)
	case CmdSkipToItem:
		if !s.queue.SkipTo(cmd.Index) {
			s.reply(cmd, ResultCanceled)
			return
		}
		s.ctrl.SetStatus(structures.StatusSkippingToQueueItem)
		s.trackScope.Reset()
		s.inflightID = ""
		s.reply(cmd, s.requestPlay())
	case CmdSeekTo:
		s.ctrl.SeekTo(cmd.PositionMs)
		s.reply(cmd, ResultOK)
	default:
		logger.Warn("Unknown command kind %d", cmd.Kind)
		s.reply(cmd, ResultCanceled)
	}
}

func (s *Session) handleEnableShuffle(cmd Command) {
	status := s.ctrl.State().Status
	active := status == structures.StatusPlaying ||
		status == structures.StatusPaused ||
		status == structures.StatusBuffering
	s.queue.Shuffle(active)
	s.bus.Publish(events.ShuffleChanged{Enabled: true})
	s.bus.Publish(events.QueueChanged{})
	s.reply(cmd, ResultOK)
}

func (s *Session) handleSkip(cmd Command, status structures.PlaybackStatus, move func()) {
	if s.queue.Len() == 0 {
		s.reply(cmd, ResultCanceled)
		return
	}
	s.ctrl.SetStatus(status)
	s.trackScope.Reset()
	s.inflightID = ""
	move()
	s.reply(cmd, s.requestPlay())
}

func (s *Session) handleQueueVideo(cmd Command) {
	item := queueItemFromTrack("queue", cmd.Track)
	switch cmd.Placement {
	case PlaceNew:
		s.ctrl.Stop()
		s.trackScope.Reset()
		s.inflightID = ""
		s.queue.SetItems([]structures.QueueItem{item})
		s.bus.Publish(events.QueueChanged{})
		s.reply(cmd, s.requestPlay())
		return
	case PlaceNext:
		s.queue.InsertNext(item)
	case PlaceLast:
		s.queue.InsertLast(item)
	}
	s.bus.Publish(events.QueueChanged{})
	s.reply(cmd, ResultOK)
}

func (s *Session) handleSaveQueue(cmd Command) {
	items := s.queue.Items()
	tracks := make([]structures.Track, len(items))
	for i, item := range items {
		tracks[i] = structures.Track{
			Title:      item.Title,
			Artist:     item.Artist,
			DurationMs: item.DurationMs,
			URL:        item.SourceURL,
		}
	}

	playlists, err := s.db.ReadContent()
	if err != nil {
		s.toast("Could not read library: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}

	saved := structures.PersistedPlaylist{Name: cmd.Name, Tracks: tracks}
	replaced := false
	for i, p := range playlists {
		if p.Name == cmd.Name {
			playlists[i] = saved
			replaced = true
			break
		}
	}
	if !replaced {
		playlists = append(playlists, saved)
	}

	if err := s.db.WriteContent(playlists); err != nil {
		s.toast("Could not save playlist: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}
	s.bus.Publish(events.PlaylistSaved{Name: cmd.Name})
	s.reply(cmd, ResultOK)
}

func (s *Session) handleDeleteQueue(cmd Command) {
	playlists, err := s.db.ReadContent()
	if err != nil {
		s.toast("Could not read library: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}

	kept := playlists[:0]
	for _, p := range playlists {
		if p.Name != cmd.Name {
			kept = append(kept, p)
		}
	}

	if err := s.db.WriteContent(kept); err != nil {
		s.toast("Could not delete playlist: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}
	s.reply(cmd, ResultOK)
}

func (s *Session) handleSaveVideoToPlaylist(cmd Command) {
	playlists, err := s.db.ReadContent()
	if err != nil {
		s.toast("Could not read library: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}

	found := false
	for i, p := range playlists {
		if p.Name == cmd.Name {
			playlists[i].Tracks = append(playlists[i].Tracks, cmd.Track)
			found = true
			break
		}
	}
	if !found {
		playlists = append(playlists, structures.PersistedPlaylist{
			Name:   cmd.Name,
			Tracks: []structures.Track{cmd.Track},
		})
	}

	if err := s.db.WriteContent(playlists); err != nil {
		s.toast("Could not save track: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}
	s.bus.Publish(events.PlaylistSaved{Name: cmd.Name})
	s.reply(cmd, ResultOK)
}

func (s *Session) handleLoadPlaylist(cmd Command) {
	s.loading = true
	defer func() { s.loading = false }()

	playlists, err := s.db.ReadContent()
	if err != nil {
		s.toast("Could not read library: " + err.Error())
		s.reply(cmd, ResultCanceled)
		return
	}

	// Names match case-sensitively.
	for _, p := range playlists {
		if p.Name == cmd.Name {
			s.ctrl.Stop()
			s.trackScope.Reset()
			s.inflightID = ""
			s.queue.SetItems(itemsFromTracks(p.Name, p.Tracks))
			s.bus.Publish(events.QueueChanged{})
			s.reply(cmd, ResultOK)
			s.requestPlay()
			return
		}
	}

	s.toast("No playlist named " + cmd.Name)
	s.reply(cmd, ResultCanceled)
}

func (s *Session) toast(msg string) {
	s.bus.Publish(events.ErrorToast{Message: msg})
}

func itemsFromTracks(playlist string, tracks []structures.Track) []structures.QueueItem {
	items := make([]structures.QueueItem, len(tracks))
	for i, t := range tracks {
		items[i] = queueItemFromTrack(playlist, t)
	}
	return items
}

func queueItemFromTrack(playlist string, t structures.Track) structures.QueueItem {
	id := source.VideoIDFromURL(t.URL)
	if id == "" {
		id = t.URL
	}
	return structures.QueueItem{
		MediaID:    mediaid.ForTrack(playlist, id),
		Title:      t.Title,
		Artist:     t.Artist,
		DurationMs: t.DurationMs,
		SourceURL:  t.URL,
	}
}
