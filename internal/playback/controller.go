// Package playback wraps the opaque audio engine behind a state machine.
// The controller owns the engine instance and the wake/network locks; all
// state transitions flow through it.
package playback

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
	"syscall"

	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/resolver"
	"github.com/soracane/utaq/internal/structures"
)

// ErrNoEngine is returned when an operation needs a prepared engine and
// none exists.
var ErrNoEngine = errors.New("no audio engine instance")

// Controller drives the PlaybackStatus state machine over an Engine.
type Controller struct {
	mu     sync.Mutex
	engine Engine
	state  structures.PlaybackState

	// Lock bookkeeping. Acquired while Playing or Buffering, released on
	// pause and stop.
	wakeLock bool
	netLock  bool

	volume           float64
	ducked           bool
	pendingResume    bool
	resumeOnRecovery bool
	recoveryPosMs    int64

	onState func(structures.PlaybackState)
}

// NewController creates a controller around an engine. onState is invoked
// after every state transition, outside the controller lock; it may be nil.
func NewController(engine Engine, onState func(structures.PlaybackState)) *Controller {
	c := &Controller{
		engine:  engine,
		state:   structures.PlaybackState{Status: structures.StatusNone},
		volume:  1.0,
		onState: onState,
	}
	if engine != nil {
		engine.SetCallbacks(Callbacks{
			OnStateChanged: c.onEngineState,
			OnError:        c.onEngineError,
		})
	}
	return c
}

// SetTrackEnded installs the completion callback on the engine. The
// orchestrator owns what happens after a track finishes.
func (c *Controller) SetTrackEnded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return
	}
	c.engine.SetCallbacks(Callbacks{
		OnStateChanged: c.onEngineState,
		OnTrackEnded:   fn,
		OnError:        c.onEngineError,
	})
}

// State returns a snapshot of the current playback state.
func (c *Controller) State() structures.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if c.engine != nil && s.Status == structures.StatusPlaying {
		s.PositionMs = c.engine.PositionMs()
	}
	return s
}

// SetStatus forces a transitional status (Buffering before a load, the
// SkippingTo states during queue navigation). Position is preserved.
func (c *Controller) SetStatus(status structures.PlaybackStatus) {
	c.mu.Lock()
	c.state.Status = status
	c.state.ErrorMessage = ""
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

// LoadStream awaits the stream URL and prepares the engine with it. The
// caller sets Buffering before calling; Playing is only entered when the
// engine reports audio flowing. Returns the resolution error, the context
// error on cancellation, or the prepare error.
func (c *Controller) LoadStream(ctx context.Context, stream <-chan resolver.StreamResult) error {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return ErrNoEngine
	}
	c.acquireLocks()
	c.mu.Unlock()

	var res resolver.StreamResult
	select {
	case res = <-stream:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.Err != nil {
		return res.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.engine.Prepare(res.URL); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.PositionMs = 0
	c.mu.Unlock()

	if err := c.engine.SetVolume(c.volume); err != nil {
		logger.Warn("Could not apply volume after prepare: %v", err)
	}
	return c.engine.Play()
}

// Resume continues from Paused. If the position was changed while paused
// the engine is re-seeked first. Without an engine instance this degrades
// to Stop.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state.Status != structures.StatusPaused {
		c.mu.Unlock()
		return nil
	}
	if c.engine == nil {
		c.mu.Unlock()
		return c.Stop()
	}

	target := c.state.PositionMs
	c.state.Status = structures.StatusBuffering
	c.acquireLocks()
	snapshot := c.state
	engine := c.engine
	c.mu.Unlock()
	c.notify(snapshot)

	if target != engine.PositionMs() {
		if err := engine.SeekTo(target); err != nil {
			return err
		}
	}
	return engine.Play()
}

// Pause halts playback and records the position. Locks are released only
// when leaving an active status.
func (c *Controller) Pause() error {
	c.mu.Lock()
	engine := c.engine
	if engine != nil {
		c.state.PositionMs = engine.PositionMs()
	}
	switch c.state.Status {
	case structures.StatusPlaying, structures.StatusBuffering:
		c.releaseLocks()
	}
	c.state.Status = structures.StatusPaused
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
	if engine == nil {
		return nil
	}
	return engine.Pause()
}

// QuickPause silences the engine without a state transition. Used during
// track swaps so the outgoing track does not leak audio.
func (c *Controller) QuickPause() error {
	c.mu.Lock()
	engine := c.engine
	if engine != nil {
		c.state.PositionMs = engine.PositionMs()
	}
	c.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.Pause()
}

// Stop releases every held resource and ends in Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	engine := c.engine
	c.releaseLocks()
	c.ducked = false
	c.pendingResume = false
	c.resumeOnRecovery = false
	c.state.Status = structures.StatusStopped
	c.state.PositionMs = 0
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
	if engine == nil {
		return nil
	}
	return engine.Stop()
}

// SeekTo moves the position. While paused only the bookkeeping moves; the
// engine is re-seeked on Resume.
func (c *Controller) SeekTo(ms int64) error {
	if ms < 0 {
		ms = 0
	}
	c.mu.Lock()
	engine := c.engine
	paused := c.state.Status == structures.StatusPaused
	c.state.PositionMs = ms
	c.mu.Unlock()

	if paused || engine == nil {
		return nil
	}
	return engine.SeekTo(ms)
}

// SetVolume sets the user volume in [0,1].
func (c *Controller) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	engine := c.engine
	ducked := c.ducked
	c.mu.Unlock()

	if engine == nil || ducked {
		return nil
	}
	return engine.SetVolume(v)
}

// FocusLost handles an audio-focus interruption. With ducking allowed the
// volume is lowered; otherwise playback pauses silently and resumes when
// focus returns.
func (c *Controller) FocusLost(duckAllowed bool) error {
	c.mu.Lock()
	engine := c.engine
	playing := c.state.Status == structures.StatusPlaying ||
		c.state.Status == structures.StatusBuffering
	if !playing || engine == nil {
		c.mu.Unlock()
		return nil
	}
	if duckAllowed {
		c.ducked = true
		volume := c.volume
		c.mu.Unlock()
		return engine.SetVolume(volume * 0.3)
	}
	c.pendingResume = true
	c.state.PositionMs = engine.PositionMs()
	c.mu.Unlock()
	return engine.Pause()
}

// FocusRegained undoes the interruption: restores volume after a duck and
// resumes playback when a silent pause is pending.
func (c *Controller) FocusRegained() error {
	c.mu.Lock()
	engine := c.engine
	ducked := c.ducked
	pending := c.pendingResume
	volume := c.volume
	c.ducked = false
	c.pendingResume = false
	c.mu.Unlock()

	if engine == nil {
		return nil
	}
	if ducked {
		if err := engine.SetVolume(volume); err != nil {
			return err
		}
	}
	if pending {
		return engine.Play()
	}
	return nil
}

// ParkedForNetwork reports whether playback is waiting out a network fault
// in Buffering, and at which position to replay.
func (c *Controller) ParkedForNetwork() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoveryPosMs, c.resumeOnRecovery
}

// ResumeFromRecovery replays from the position recorded at the network
// fault. No-op unless playback is parked.
func (c *Controller) ResumeFromRecovery() error {
	c.mu.Lock()
	if !c.resumeOnRecovery || c.engine == nil {
		c.mu.Unlock()
		return nil
	}
	c.resumeOnRecovery = false
	pos := c.recoveryPosMs
	engine := c.engine
	c.mu.Unlock()

	if err := engine.SeekTo(pos); err != nil {
		return err
	}
	return engine.Play()
}

// Close shuts the engine down.
func (c *Controller) Close() error {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.releaseLocks()
	c.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.Close()
}

func (c *Controller) onEngineState(playing bool) {
	c.mu.Lock()
	if !playing {
		// Explicit operations own the Paused/Stopped transitions.
		c.mu.Unlock()
		return
	}
	c.state.Status = structures.StatusPlaying
	c.state.ErrorMessage = ""
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

// onEngineError applies the fault policy: network-class faults park in
// Buffering with a resume flag so reconnect can silently recover; anything
// else surfaces as Error.
func (c *Controller) onEngineError(err error) {
	c.mu.Lock()
	if IsNetworkError(err) {
		c.resumeOnRecovery = true
		if c.engine != nil {
			c.recoveryPosMs = c.engine.PositionMs()
		} else {
			c.recoveryPosMs = c.state.PositionMs
		}
		c.state.Status = structures.StatusBuffering
		pos := c.recoveryPosMs
		snapshot := c.state
		c.mu.Unlock()
		logger.Warn("Network fault during playback, parked at %dms: %v", pos, err)
		c.notify(snapshot)
		return
	}

	c.state.Status = structures.StatusError
	c.state.ErrorMessage = err.Error()
	snapshot := c.state
	c.mu.Unlock()
	logger.Error("Playback error: %v", err)
	c.notify(snapshot)
}

func (c *Controller) acquireLocks() {
	c.wakeLock = true
	c.netLock = true
}

func (c *Controller) releaseLocks() {
	c.wakeLock = false
	c.netLock = false
}

func (c *Controller) notify(s structures.PlaybackState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// IsNetworkError classifies an engine or fetch fault as connectivity
// related.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
