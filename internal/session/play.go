package session

import (
	"context"
	"errors"

	"github.com/soracane/utaq/internal/events"
	"github.com/soracane/utaq/internal/generator"
	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/resolver"
	"github.com/soracane/utaq/internal/structures"
)

// requestPlay starts (or resumes) playback of the current item. Runs on
// the loop goroutine; the load itself continues asynchronously.
func (s *Session) requestPlay() ResultCode {
	if s.net != nil && !s.net.IsOnline() {
		s.toast("No network connection")
		return ResultCanceled
	}

	if s.ctrl.State().Status == structures.StatusPaused {
		if err := s.ctrl.Resume(); err != nil {
			logger.Error("Resume failed: %v", err)
			return ResultCanceled
		}
		return ResultOK
	}

	item, ok := s.queue.CurrentItem()
	if !ok {
		return ResultCanceled
	}

	s.beginLoad(item)
	return ResultOK
}

// beginLoad kicks off stream and metadata resolution for the item,
// reusing an in-flight resolution when the same item is already being
// resolved.
func (s *Session) beginLoad(item structures.QueueItem) {
	s.ctrl.SetStatus(structures.StatusBuffering)

	ctx := s.trackScope.Context()
	if s.inflightID != item.MediaID {
		s.inflight = s.res.Resolve(ctx, item)
		s.inflightID = item.MediaID
	}
	resolution := s.inflight

	go s.finishLoad(ctx, item, resolution)
}

// finishLoad runs off the loop: it publishes metadata when it lands and
// feeds the stream URL into the controller, then posts the outcome back.
func (s *Session) finishLoad(ctx context.Context, item structures.QueueItem, r resolver.Resolution) {
	go func() {
		select {
		case m := <-r.Metadata:
			if m.Err != nil {
				logger.Warn("Metadata resolution failed for %s: %v", item.MediaID, m.Err)
				return
			}
			s.bus.Publish(events.MetadataChanged{
				Title:          m.Metadata.Title,
				Artist:         m.Metadata.Artist,
				ArtworkURL:     m.Metadata.ArtworkURL,
				GradientTop:    m.Metadata.GradientTop,
				GradientBottom: m.Metadata.GradientBottom,
			})
		case <-ctx.Done():
		}
	}()

	err := s.ctrl.LoadStream(ctx, r.StreamURL)
	s.post(func() { s.afterLoad(item, err) })
}

// afterLoad triages a finished load attempt. Runs on the loop goroutine.
func (s *Session) afterLoad(item structures.QueueItem, err error) {
	if err == nil {
		s.inflightID = ""
		s.loadAttempts = 0
		s.recordHistory(item)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Cancellation triage: connectivity loss is user-visible, a
		// superseding request is silent.
		if s.net != nil && !s.net.IsOnline() {
			s.ctrl.Stop()
			s.toast("Network connection lost")
		}
		return
	}

	s.inflightID = ""
	s.loadAttempts++
	if s.loadAttempts < s.cfg.MaxAttempts {
		logger.Warn("Load attempt %d for %s failed, retrying: %v", s.loadAttempts, item.MediaID, err)
		current, ok := s.queue.CurrentItem()
		if ok && current.MediaID == item.MediaID {
			s.beginLoad(current)
		}
		return
	}

	s.loadAttempts = 0
	logger.Error("Giving up on %s: %v", item.MediaID, err)
	if s.queue.Len() > 1 {
		s.ctrl.SetStatus(structures.StatusSkippingToNext)
		s.trackScope.Reset()
		s.queue.IncrementIndex()
		s.requestPlay()
		return
	}
	s.ctrl.Stop()
	s.toast("Could not play " + item.Title)
}

// advanceAfterCompletion reacts to the engine's end-of-track signal: stop
// at the end of the queue, otherwise swap to the next item behind a muted
// quick pause so the outgoing track does not bleed into the swap.
func (s *Session) advanceAfterCompletion() {
	if s.queue.Index()+1 >= s.queue.Len() {
		s.stopPlayback()
		return
	}
	s.ctrl.QuickPause()
	s.ctrl.SeekTo(0)
	s.queue.IncrementIndex()
	s.requestPlay()
}

func (s *Session) stopPlayback() {
	s.ctrl.Stop()
	s.trackScope.Reset()
	s.inflightID = ""
	s.loadAttempts = 0
}

// onConnectivity reacts to network flips: loss cancels and replaces both
// scopes so nothing in flight keeps a dead context; recovery replays a
// playback parked in Buffering by a network fault.
func (s *Session) onConnectivity(online bool) {
	if !online {
		s.trackScope.Reset()
		s.playlistScope.Reset()
		s.inflightID = ""
		return
	}
	if _, parked := s.ctrl.ParkedForNetwork(); parked {
		if err := s.ctrl.ResumeFromRecovery(); err != nil {
			logger.Error("Recovery resume failed: %v", err)
		}
	}
}

// recordHistory prepends the started track to the listening history,
// deduplicating by URL and trimming to the configured limit.
func (s *Session) recordHistory(item structures.QueueItem) {
	history, err := s.db.ReadRecommendations()
	if err != nil {
		logger.Warn("Could not read history: %v", err)
		return
	}

	track := structures.Track{
		Title:      item.Title,
		Artist:     item.Artist,
		DurationMs: item.DurationMs,
		URL:        item.SourceURL,
	}

	updated := []structures.Track{track}
	for _, t := range history {
		if t.URL == track.URL {
			continue
		}
		updated = append(updated, t)
	}
	if limit := s.cfg.HistoryLimit; limit > 0 && len(updated) > limit {
		updated = updated[:limit]
	}

	if err := s.db.WriteRecommendations(updated); err != nil {
		logger.Warn("Could not write history: %v", err)
	}
}

// handleGenerate runs a generation command asynchronously under the
// playlist scope. The existing queue is only replaced when generation
// fully succeeds; any failure answers canceled and leaves it untouched.
func (s *Session) handleGenerate(cmd Command) {
	if s.net != nil && !s.net.IsOnline() {
		s.toast("No network connection")
		s.reply(cmd, ResultCanceled)
		return
	}

	s.generating = true
	ctx := s.playlistScope.Context()
	storedSeeds := append([]structures.SeedTrackData(nil), s.seedStates...)

	go func() {
		tracks, states, err := s.generate(ctx, cmd, storedSeeds)
		s.post(func() { s.finishGenerate(cmd, tracks, states, err) })
	}()
}

func (s *Session) generate(ctx context.Context, cmd Command, storedSeeds []structures.SeedTrackData) ([]structures.Track, []structures.SeedTrackData, error) {
	switch cmd.Kind {
	case CmdGenerateNew:
		tracks, state, err := s.gen.GenerateFromSeed(ctx, structures.SeedTrackData{URL: cmd.SeedURL})
		if err != nil {
			return nil, nil, err
		}
		return tracks, []structures.SeedTrackData{state}, nil

	case CmdGenerateHistorical:
		history, err := s.db.ReadRecommendations()
		if err != nil {
			return nil, nil, err
		}
		idx, err := generator.SelectIndex(len(history), s.cfg.SeedRandomness)
		if err != nil {
			return nil, nil, err
		}
		if idx < 0 {
			return nil, nil, generator.ErrEmptyHistory
		}
		tracks, state, err := s.gen.GenerateFromSeed(ctx, structures.SeedTrackData{URL: history[idx].URL})
		if err != nil {
			return nil, nil, err
		}
		return tracks, []structures.SeedTrackData{state}, nil

	case CmdGenerateRecommended:
		history, err := s.db.ReadRecommendations()
		if err != nil {
			return nil, nil, err
		}
		return s.gen.GenerateRecommended(ctx, history)

	case CmdGenerateContinue:
		return s.gen.ContinueGeneration(ctx, storedSeeds)
	}
	return nil, nil, errors.New("not a generation command")
}

// finishGenerate applies a generation outcome on the loop goroutine.
func (s *Session) finishGenerate(cmd Command, tracks []structures.Track, states []structures.SeedTrackData, err error) {
	s.generating = false

	if err != nil || len(tracks) == 0 {
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("%s failed: %v", cmd.Kind, err)
			s.toast("Playlist generation failed")
		}
		s.bus.Publish(events.GenerateFinished{Command: cmd.Kind.String(), OK: false})
		s.reply(cmd, ResultCanceled)
		return
	}

	s.seedStates = states

	if cmd.Kind == CmdGenerateContinue {
		// Continuation extends the queue instead of replacing it.
		for _, item := range itemsFromTracks("generated", tracks) {
			s.queue.InsertLast(item)
		}
		s.bus.Publish(events.QueueChanged{})
		s.bus.Publish(events.GenerateFinished{Command: cmd.Kind.String(), OK: true})
		s.reply(cmd, ResultOK)
		return
	}

	s.ctrl.Stop()
	s.trackScope.Reset()
	s.inflightID = ""
	s.queue.SetItems(itemsFromTracks("generated", tracks))
	s.bus.Publish(events.QueueChanged{})
	s.bus.Publish(events.GenerateFinished{Command: cmd.Kind.String(), OK: true})
	s.reply(cmd, ResultOK)
	s.requestPlay()
}
