package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/RumiPet/internal/models"
)

// DefaultTrackLength is used by ClockBackend for songs without a known duration.
const DefaultTrackLength = 3 * time.Minute

var (
	// ErrCaptureUnsupported is returned by capturers that cannot observe the session.
	ErrCaptureUnsupported = errors.New("spectral capture unsupported")
	// ErrEmptyLocator is returned when a song has nothing to open.
	ErrEmptyLocator = errors.New("song has no locator")
)

// NoCapture is a SpectrumCapturer for hosts without audio analysis.
type NoCapture struct{}

// Attach always fails with ErrCaptureUnsupported.
func (NoCapture) Attach(int, func([]float64)) (CaptureHandle, error) {
	return nil, ErrCaptureUnsupported
}

// ClockBackend plays tracks silently: position follows the wall clock and the track
// completes when its duration elapses. It lets a headless host drive missions and queues
// without an audio device.
type ClockBackend struct {
	Exists  func(locator string) bool
	session atomic.Int64
}

// NewClockBackend returns a headless backend. exists, when non-nil, rejects locators that
// are no longer present.
func NewClockBackend(exists func(locator string) bool) *ClockBackend {
	return &ClockBackend{Exists: exists}
}

// Open prepares a silent track for song.
func (b *ClockBackend) Open(ctx context.Context, song models.Song) (AudioResource, error) {
	if song.Locator == "" {
		return nil, fmt.Errorf("song %d: %w", song.ID, ErrEmptyLocator)
	}
	if b.Exists != nil && !b.Exists(song.Locator) {
		return nil, fmt.Errorf("song %d: locator %q not found", song.ID, song.Locator)
	}
	length := time.Duration(song.DurationMs) * time.Millisecond
	if length <= 0 {
		length = DefaultTrackLength
	}
	return &clockTrack{
		length:  length,
		session: int(b.session.Add(1)),
		now:     time.Now,
	}, nil
}

type clockTrack struct {
	length  time.Duration
	session int
	now     func() time.Time

	mu         sync.Mutex
	elapsed    time.Duration // accumulated before startedAt
	startedAt  time.Time
	playing    bool
	released   bool
	timer      *time.Timer
	onComplete func()
}

func (t *clockTrack) positionLocked() time.Duration {
	pos := t.elapsed
	if t.playing {
		pos += t.now().Sub(t.startedAt)
	}
	if pos > t.length {
		pos = t.length
	}
	return pos
}

func (t *clockTrack) armLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.length-t.positionLocked(), t.finish)
}

func (t *clockTrack) finish() {
	t.mu.Lock()
	if !t.playing || t.released {
		t.mu.Unlock()
		return
	}
	t.elapsed = t.length
	t.playing = false
	fn := t.onComplete
	t.onComplete = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *clockTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrNoResource
	}
	if t.playing {
		return nil
	}
	t.playing = true
	t.startedAt = t.now()
	t.armLocked()
	return nil
}

func (t *clockTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return nil
	}
	t.elapsed = t.positionLocked()
	t.playing = false
	if t.timer != nil {
		t.timer.Stop()
	}
	return nil
}

func (t *clockTrack) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *clockTrack) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *clockTrack) Duration() time.Duration { return t.length }

func (t *clockTrack) SeekTo(pos time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > t.length {
		pos = t.length
	}
	t.elapsed = pos
	if t.playing {
		t.startedAt = t.now()
		t.armLocked()
	}
	return nil
}

func (t *clockTrack) SessionID() int { return t.session }

func (t *clockTrack) OnCompletion(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

func (t *clockTrack) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.playing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.onComplete = nil
	return nil
}
