// Package network tracks connectivity so the session can gate commands and
// react to loss and recovery.
package network

import (
	"net"
	"sync"
	"time"

	"github.com/soracane/utaq/internal/logger"
)

// Connectivity reports whether the network is reachable and notifies
// subscribers on changes.
type Connectivity interface {
	IsOnline() bool
	// Subscribe registers a change handler and returns its unsubscribe
	// function. The handler fires on every online/offline flip.
	Subscribe(fn func(online bool)) func()
}

// Checker polls a well-known endpoint and publishes state flips.
type Checker struct {
	mu       sync.Mutex
	online   bool
	handlers map[int]func(bool)
	nextID   int
	stop     chan struct{}
	stopOnce sync.Once

	target  string
	timeout time.Duration
}

// NewChecker starts a connectivity poller against target (host:port). The
// initial state is probed synchronously.
func NewChecker(target string, interval time.Duration) *Checker {
	c := &Checker{
		handlers: make(map[int]func(bool)),
		stop:     make(chan struct{}),
		target:   target,
		timeout:  3 * time.Second,
	}
	c.online = c.probe()
	go c.loop(interval)
	return c
}

// IsOnline returns the last observed state.
func (c *Checker) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Subscribe implements Connectivity.
func (c *Checker) Subscribe(fn func(online bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Close stops the poll loop.
func (c *Checker) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Checker) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.observe(c.probe())
		case <-c.stop:
			return
		}
	}
}

func (c *Checker) probe() bool {
	conn, err := net.DialTimeout("tcp", c.target, c.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Checker) observe(online bool) {
	c.mu.Lock()
	if online == c.online {
		c.mu.Unlock()
		return
	}
	c.online = online
	handlers := make([]func(bool), 0, len(c.handlers))
	for _, fn := range c.handlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	if online {
		logger.Info("Network is back")
	} else {
		logger.Warn("Network lost")
	}
	for _, fn := range handlers {
		fn(online)
	}
}
