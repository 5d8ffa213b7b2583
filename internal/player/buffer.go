package player

import (
	"sync"
	"time"

	"github.com/faiface/beep"

	"github.com/soracane/utaq/internal/logger"
)

// bufferedStream decouples MP3 decoding from the audio callback with a
// background-filled ring buffer, so a slow decode burst does not starve
// the speaker.
type bufferedStream struct {
	source beep.Streamer
	buf    [][2]float64
	size   int

	mu       sync.Mutex
	cond     *sync.Cond
	readPos  int
	writePos int
	filled   int
	closed   bool
	done     chan struct{}

	underruns int
}

func newBufferedStream(source beep.Streamer, format beep.Format, seconds float64) *bufferedStream {
	size := int(float64(format.SampleRate) * seconds)
	bs := &bufferedStream{
		source: source,
		buf:    make([][2]float64, size),
		size:   size,
		done:   make(chan struct{}),
	}
	bs.cond = sync.NewCond(&bs.mu)
	go bs.fillLoop()
	return bs
}

func (bs *bufferedStream) fillLoop() {
	defer close(bs.done)

	chunk := make([][2]float64, 1024)

	for {
		bs.mu.Lock()
		for bs.size-bs.filled < len(chunk) && !bs.closed {
			bs.cond.Wait()
		}
		if bs.closed {
			bs.mu.Unlock()
			return
		}
		bs.mu.Unlock()

		// Decode outside the lock.
		n, ok := bs.source.Stream(chunk)
		if n == 0 && !ok {
			bs.mu.Lock()
			bs.closed = true
			bs.cond.Broadcast()
			bs.mu.Unlock()
			return
		}

		bs.mu.Lock()
		for i := 0; i < n; i++ {
			bs.buf[bs.writePos] = chunk[i]
			bs.writePos = (bs.writePos + 1) % bs.size
		}
		bs.filled += n
		bs.cond.Broadcast()
		bs.mu.Unlock()
	}
}

// Stream implements beep.Streamer.
func (bs *bufferedStream) Stream(samples [][2]float64) (n int, ok bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.filled == 0 && !bs.closed {
		bs.underruns++
		if bs.underruns%50 == 1 {
			logger.Warn("Audio buffer underrun (%d so far)", bs.underruns)
		}
	}

	for i := range samples {
		if bs.filled == 0 {
			if bs.closed {
				return i, i > 0
			}
			bs.cond.Broadcast()
			return i, true
		}
		samples[i] = bs.buf[bs.readPos]
		bs.readPos = (bs.readPos + 1) % bs.size
		bs.filled--
	}

	bs.cond.Broadcast()
	return len(samples), true
}

// Err implements beep.Streamer.
func (bs *bufferedStream) Err() error {
	return bs.source.Err()
}

// Close stops the fill loop and waits for it to exit, so the source is
// quiescent before the caller seeks or closes it. The source itself
// stays open.
func (bs *bufferedStream) Close() error {
	bs.mu.Lock()
	if !bs.closed {
		bs.closed = true
		bs.cond.Broadcast()
	}
	bs.mu.Unlock()

	select {
	case <-bs.done:
	case <-time.After(time.Second):
		logger.Warn("Audio fill goroutine did not stop in time")
	}
	return nil
}
