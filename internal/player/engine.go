// Package player is the beep-backed audio engine. It downloads a stream
// URI, decodes MP3 and plays it through the speaker, reporting state
// changes, completion and faults via callbacks.
package player

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"github.com/soracane/utaq/internal/logger"
	"github.com/soracane/utaq/internal/playback"
)

const (
	bufferSeconds = 2.0
	endPollEvery  = 200 * time.Millisecond
	// Seeks land slightly past the requested sample; without a cooldown the
	// end watcher can mistake a seek-to-tail for completion.
	seekCooldown = 500 * time.Millisecond
)

// Engine implements playback.Engine on top of beep and the system speaker.
type Engine struct {
	mu     sync.Mutex
	client *http.Client
	cb     playback.Callbacks

	streamer beep.StreamSeekCloser
	buffer   *bufferedStream
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	format   beep.Format

	playing     bool
	speakerInit bool
	sampleRate  beep.SampleRate
	lastSeek    time.Time
	epoch       int
	closed      bool
}

// NewEngine creates an engine. The speaker is initialized lazily on the
// first Prepare.
func NewEngine() *Engine {
	return &Engine{
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// SetCallbacks installs the event callbacks.
func (e *Engine) SetCallbacks(cb playback.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// Prepare fetches and decodes the URI and parks it paused on the speaker.
func (e *Engine) Prepare(uri string) error {
	data, err := e.fetch(uri)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(&memoryStream{bytes.NewReader(data)})
	if err != nil {
		return fmt.Errorf("failed to decode stream: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		streamer.Close()
		return fmt.Errorf("engine is closed")
	}

	e.teardownLocked()

	e.streamer = streamer
	e.format = format
	e.buffer = newBufferedStream(streamer, format, bufferSeconds)
	e.volume = &effects.Volume{Streamer: e.buffer, Base: 2}
	e.ctrl = &beep.Ctrl{Streamer: e.volume, Paused: true}
	e.playing = false
	e.epoch++

	if !e.speakerInit || e.sampleRate != format.SampleRate {
		if e.speakerInit {
			speaker.Close()
			time.Sleep(100 * time.Millisecond)
		}
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("failed to initialize speaker at %d Hz: %w", format.SampleRate, err)
		}
		e.speakerInit = true
		e.sampleRate = format.SampleRate
	}

	speaker.Clear()
	speaker.Play(e.ctrl)

	go e.watchEnd(e.epoch)

	logger.Debug("Prepared stream (%d Hz, %d samples)", format.SampleRate, streamer.Len())
	return nil
}

func (e *Engine) fetch(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		resp, err := e.client.Get(uri)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("stream fetch returned %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(strings.TrimPrefix(uri, "file://"))
}

// Play unpauses the stream.
func (e *Engine) Play() error {
	e.mu.Lock()
	if e.ctrl == nil {
		e.mu.Unlock()
		return fmt.Errorf("no stream prepared")
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.playing = true
	cb := e.cb
	e.mu.Unlock()

	if cb.OnStateChanged != nil {
		cb.OnStateChanged(true)
	}
	return nil
}

// Pause halts the stream in place.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.ctrl == nil {
		e.mu.Unlock()
		return nil
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.playing = false
	cb := e.cb
	e.mu.Unlock()

	if cb.OnStateChanged != nil {
		cb.OnStateChanged(false)
	}
	return nil
}

// Stop halts the stream and rewinds it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil || !e.speakerInit {
		return nil
	}

	speaker.Clear()
	if err := e.streamer.Seek(0); err != nil {
		logger.Error("Could not rewind stream: %v", err)
	}
	e.playing = false
	return nil
}

// SeekTo moves playback to the given millisecond offset.
func (e *Engine) SeekTo(ms int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return fmt.Errorf("no stream prepared")
	}

	if ms < 0 {
		ms = 0
	}
	sample := e.format.SampleRate.N(time.Duration(ms) * time.Millisecond)
	if last := e.streamer.Len() - 1; sample > last {
		sample = last
	}
	if sample < 0 {
		sample = 0
	}

	wasPlaying := e.playing
	if wasPlaying {
		speaker.Lock()
		e.ctrl.Paused = true
		speaker.Unlock()
		speaker.Clear()
	}

	// The ring buffer holds decoded samples from before the seek; rebuild
	// it over the repositioned source.
	e.buffer.Close()
	if err := e.streamer.Seek(sample); err != nil {
		return fmt.Errorf("seek failed at sample %d: %w", sample, err)
	}
	e.buffer = newBufferedStream(e.streamer, e.format, bufferSeconds)
	e.volume.Streamer = e.buffer

	if wasPlaying {
		speaker.Play(e.ctrl)
		speaker.Lock()
		e.ctrl.Paused = false
		speaker.Unlock()
	}

	e.lastSeek = time.Now()
	return nil
}

// PositionMs returns the decode position in milliseconds.
func (e *Engine) PositionMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Position()).Milliseconds()
}

// DurationMs returns the stream length in milliseconds.
func (e *Engine) DurationMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return 0
	}
	return e.format.SampleRate.D(e.streamer.Len()).Milliseconds()
}

// IsPlaying reports whether audio is flowing.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && e.ctrl != nil && !e.ctrl.Paused
}

// SetVolume maps v in [0,1] onto the dB scale of the volume effect.
func (e *Engine) SetVolume(v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.volume == nil {
		return fmt.Errorf("no stream prepared")
	}

	speaker.Lock()
	defer speaker.Unlock()
	if v <= 0 {
		e.volume.Silent = true
		return nil
	}
	e.volume.Silent = false
	e.volume.Volume = dbForVolume(v)
	return nil
}

// Close releases the speaker and the current stream.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.epoch++
	e.teardownLocked()
	if e.speakerInit {
		speaker.Close()
		e.speakerInit = false
	}
	return nil
}

func (e *Engine) teardownLocked() {
	if e.buffer != nil {
		e.buffer.Close()
		e.buffer = nil
	}
	if e.streamer != nil {
		e.streamer.Close()
		e.streamer = nil
	}
	if e.speakerInit {
		speaker.Clear()
	}
	e.ctrl = nil
	e.volume = nil
	e.playing = false
}

// watchEnd polls for the stream running out and fires OnTrackEnded once.
// The epoch guards against a watcher outliving its stream.
func (e *Engine) watchEnd(epoch int) {
	ticker := time.NewTicker(endPollEvery)
	defer ticker.Stop()

	for range ticker.C {
		e.mu.Lock()
		if e.epoch != epoch || e.closed {
			e.mu.Unlock()
			return
		}
		if !e.playing || e.streamer == nil {
			e.mu.Unlock()
			continue
		}
		if time.Since(e.lastSeek) < seekCooldown {
			e.mu.Unlock()
			continue
		}
		length := e.streamer.Len()
		if length <= 0 || e.streamer.Position() < length {
			if err := e.streamer.Err(); err != nil {
				e.playing = false
				cb := e.cb
				e.mu.Unlock()
				if cb.OnError != nil {
					cb.OnError(err)
				}
				return
			}
			e.mu.Unlock()
			continue
		}

		e.playing = false
		speaker.Lock()
		e.ctrl.Paused = true
		speaker.Unlock()
		cb := e.cb
		e.mu.Unlock()

		if cb.OnTrackEnded != nil {
			cb.OnTrackEnded()
		}
		return
	}
}

// memoryStream adapts the in-memory download to the decoder's ReadCloser
// contract while keeping it seekable.
type memoryStream struct {
	*bytes.Reader
}

func (memoryStream) Close() error { return nil }

func dbForVolume(v float64) float64 {
	if v < 0.01 {
		return -4.0
	}
	return 20 * (v - 1)
}
