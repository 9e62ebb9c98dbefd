// Package playback coordinates the single active audio session shared by all
// list surfaces.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrFileNotFound is returned by Play when the audio file is missing.
var ErrFileNotFound = errors.New("file not found")

// Handle identifies one playback session. Callbacks carrying a stale handle
// are never delivered.
type Handle uint64

// Surface receives notifications for sessions it started. Methods are
// invoked with the controller lock held and must not block or call back
// into the Controller.
type Surface interface {
	PlaybackStarted(h Handle, id int64)
	PlaybackProgress(h Handle, ratio float64)
	PlaybackStopped(h Handle, id int64)
}

// Stream is an opened, playable audio file.
type Stream interface {
	Play() error
	Stop() error
	Position() time.Duration
	Duration() time.Duration
	Playing() bool
	// Done is closed when playback finishes naturally or is stopped.
	Done() <-chan struct{}
}

// Opener creates streams for audio files.
type Opener interface {
	Open(path string) (Stream, error)
}

// Snapshot describes the active session.
type Snapshot struct {
	Handle   Handle
	ID       int64
	Position time.Duration
	Duration time.Duration
	Ratio    float64
}

type session struct {
	handle  Handle
	id      int64
	surface Surface
	stream  Stream
	quit    chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the progress tick interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFileCheck overrides how Play decides whether a file exists.
func WithFileCheck(exists func(path string) bool) Option {
	return func(c *Controller) {
		c.exists = exists
	}
}

// Controller owns at most one playing stream at a time.
type Controller struct {
	opener   Opener
	interval time.Duration
	exists   func(string) bool

	mu       sync.Mutex
	active   *session
	last     Handle
	watchers sync.WaitGroup
}

func NewController(opener Opener, opts ...Option) *Controller {
	c := &Controller{
		opener:   opener,
		interval: 100 * time.Millisecond,
		exists:   fileExists,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Play starts id on surface. Any other active session is stopped first and
// its surface notified. A missing file leaves the current session untouched.
func (c *Controller) Play(id int64, path string, surface Surface) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playLocked(id, path, surface)
}

// Toggle stops id if it is already playing on surface, and plays it otherwise.
// The returned bool reports whether a session is now playing.
func (c *Controller) Toggle(id int64, path string, surface Surface) (Handle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.active; s != nil && s.id == id && s.surface == surface {
		c.stopLocked()
		return 0, false, nil
	}
	h, err := c.playLocked(id, path, surface)
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

func (c *Controller) playLocked(id int64, path string, surface Surface) (Handle, error) {
	if path == "" || !c.exists(path) {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	c.stopLocked()

	stream, err := c.opener.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	if err := stream.Play(); err != nil {
		stream.Stop()
		return 0, fmt.Errorf("play %s: %w", path, err)
	}

	c.last++
	s := &session{
		handle:  c.last,
		id:      id,
		surface: surface,
		stream:  stream,
		quit:    make(chan struct{}),
	}
	c.active = s

	slog.Debug("Playback started", "id", id, "handle", s.handle, "path", path)
	surface.PlaybackStarted(s.handle, id)
	c.watchers.Add(1)
	go c.watch(s)
	return s.handle, nil
}

// Stop ends the session only if id is bound to surface.
func (c *Controller) Stop(id int64, surface Surface) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.active; s != nil && s.id == id && s.surface == surface {
		c.stopLocked()
		return true
	}
	return false
}

// StopRecording ends the session for id regardless of which surface owns it.
func (c *Controller) StopRecording(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.active; s != nil && s.id == id {
		c.stopLocked()
		return true
	}
	return false
}

// StopAll ends any active session and waits for its progress goroutine.
func (c *Controller) StopAll() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	c.watchers.Wait()
}

func (c *Controller) stopLocked() {
	s := c.active
	if s == nil {
		return
	}
	c.active = nil
	close(s.quit)
	if err := s.stream.Stop(); err != nil {
		slog.Warn("Failed to stop playback", "id", s.id, "error", err)
	}
	slog.Debug("Playback stopped", "id", s.id, "handle", s.handle)
	s.surface.PlaybackStopped(s.handle, s.id)
}

// Snapshot returns the active session, if any.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.active
	if s == nil {
		return Snapshot{}, false
	}
	pos, dur := s.stream.Position(), s.stream.Duration()
	return Snapshot{
		Handle:   s.handle,
		ID:       s.id,
		Position: pos,
		Duration: dur,
		Ratio:    Ratio(pos, dur),
	}, true
}

// watch drives progress updates for s until it is stopped or ends.
func (c *Controller) watch(s *session) {
	defer c.watchers.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.stream.Done():
			c.mu.Lock()
			if c.active == s {
				c.active = nil
				close(s.quit)
				slog.Debug("Playback finished", "id", s.id, "handle", s.handle)
				s.surface.PlaybackStopped(s.handle, s.id)
			}
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.active != s {
				c.mu.Unlock()
				return
			}
			if s.stream.Playing() {
				s.surface.PlaybackProgress(s.handle, Ratio(s.stream.Position(), s.stream.Duration()))
			}
			c.mu.Unlock()
		}
	}
}

// Ratio returns position/duration clamped to [0, 1], or 0 for an unknown
// duration.
func Ratio(position, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	r := float64(position) / float64(duration)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
