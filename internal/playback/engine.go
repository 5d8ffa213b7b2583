package playback

// Callbacks are fired by the audio engine from its own goroutines.
type Callbacks struct {
	// OnStateChanged reports whether audio is actually flowing. The
	// controller only promotes to Playing on a true report from here.
	OnStateChanged func(playing bool)
	OnTrackEnded   func()
	OnError        func(err error)
}

// Engine is the opaque audio backend. Implementations own the audio device
// and must be safe for calls from multiple goroutines.
type Engine interface {
	Prepare(uri string) error
	Play() error
	Pause() error
	Stop() error
	SeekTo(ms int64) error
	PositionMs() int64
	DurationMs() int64
	IsPlaying() bool
	SetVolume(v float64) error
	SetCallbacks(cb Callbacks)
	Close() error
}
