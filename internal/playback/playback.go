// Package playback manages one active audio resource, a navigation queue and a smoothed
// bass-energy signal derived from spectral capture.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
)

// DefaultPollInterval is how often playback progress is sampled.
const DefaultPollInterval = 500 * time.Millisecond

// ErrNoResource is returned by transport controls when nothing is loaded.
var ErrNoResource = errors.New("no audio resource loaded")

// SongSource enumerates the locally available songs.
type SongSource interface {
	EnumerateSongs(ctx context.Context) ([]models.Song, error)
}

// AudioBackend prepares playable resources for songs.
type AudioBackend interface {
	Open(ctx context.Context, song models.Song) (AudioResource, error)
}

// AudioResource is one prepared track. The engine serializes every call it makes.
type AudioResource interface {
	Start() error
	Pause() error
	IsPlaying() bool
	Position() time.Duration
	Duration() time.Duration
	SeekTo(pos time.Duration) error
	// SessionID identifies the playback session for spectral capture.
	SessionID() int
	// OnCompletion registers a callback fired once when the track plays to its end.
	OnCompletion(fn func())
	Release() error
}

// SpectrumCapturer attaches spectral capture to a playback session. Frames use the
// interleaved FFT layout [dc, nyquist, re1, im1, re2, im2, ...] and are delivered from the
// capturer's own goroutine, never from inside Attach.
type SpectrumCapturer interface {
	Attach(sessionID int, onFrame func(frame []float64)) (CaptureHandle, error)
}

// CaptureHandle releases a spectral capture. Release must not wait for in-flight frames.
type CaptureHandle interface {
	Release() error
}

// Engine is the playback engine. All methods are safe for concurrent use.
type Engine struct {
	source       SongSource
	backend      AudioBackend
	capturer     SpectrumCapturer
	recorder     events.Recorder
	pollInterval time.Duration
	randIntN     func(n int) int

	mu       sync.Mutex
	catalog  []models.Song
	res      AudioResource
	capture  CaptureHandle
	stopPoll context.CancelFunc
	track    uint64 // bumped on every release so stale callbacks are ignored
	failures int    // consecutive tracks that failed to open
	closed   bool
	tasks    sync.WaitGroup

	state atomic.Pointer[models.PlaybackState]

	subMu   sync.Mutex
	subs    map[chan models.PlaybackState]struct{}
	closing chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapturer sets the spectral capturer. Without one, bass level stays at zero.
func WithCapturer(c SpectrumCapturer) Option {
	return func(e *Engine) { e.capturer = c }
}

// WithRecorder sets the event recorder.
func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPollInterval overrides the progress poll period.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithRand replaces the shuffle index source; fn returns a value in [0,n).
func WithRand(fn func(n int) int) Option {
	return func(e *Engine) { e.randIntN = fn }
}

// NewEngine creates a stopped engine with an empty catalog.
func NewEngine(source SongSource, backend AudioBackend, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		backend:      backend,
		capturer:     NoCapture{},
		recorder:     events.Discard,
		pollInterval: DefaultPollInterval,
		randIntN:     rand.IntN,
		subs:         make(map[chan models.PlaybackState]struct{}),
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Store(&models.PlaybackState{})
	return e
}

// State returns the current immutable snapshot.
func (e *Engine) State() models.PlaybackState {
	return *e.state.Load()
}

// Catalog returns the songs found by the last LoadLibrary.
func (e *Engine) Catalog() []models.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Song(nil), e.catalog...)
}

// LoadLibrary enumerates the song source into the catalog. Enumeration failures yield an
// empty catalog. When no queue is set the queue becomes the full catalog.
func (e *Engine) LoadLibrary(ctx context.Context) int {
	songs, err := e.source.EnumerateSongs(ctx)
	if err != nil {
		slog.Error("PlaybackEngine.LoadLibrary: enumeration failed", "error", err)
		e.recorder.Record(events.New(events.LibraryLoaded, "playback", "", "song enumeration failed", err))
		songs = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.catalog = songs
	st := e.State()
	if len(st.Queue) == 0 {
		st.Queue = songs
		e.setState(st)
	}
	slog.Info("PlaybackEngine.LoadLibrary: catalog loaded", "songs", len(songs))
	return len(songs)
}

// Play starts song. A non-nil queue replaces the current queue; otherwise an empty queue
// defaults to the catalog. Open failures skip ahead instead of returning an error.
func (e *Engine) Play(ctx context.Context, song models.Song, queue []models.Song) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.failures = 0
	e.playLocked(ctx, song, queue)
}

// PlayPlaylist resolves ids against the catalog, keeping catalog order and dropping unknown
// ids, and plays the first match with the resolved list as the new queue.
func (e *Engine) PlayPlaylist(ctx context.Context, ids []int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	resolved := e.resolveLocked(ids)
	if len(resolved) == 0 || e.closed {
		return false
	}
	e.failures = 0
	e.playLocked(ctx, resolved[0], resolved)
	return true
}

// PlayQueueIDs plays the first resolved id without replacing the queue.
func (e *Engine) PlayQueueIDs(ctx context.Context, ids []int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	resolved := e.resolveLocked(ids)
	if len(resolved) == 0 || e.closed {
		return false
	}
	e.failures = 0
	e.playLocked(ctx, resolved[0], nil)
	return true
}

func (e *Engine) resolveLocked(ids []int64) []models.Song {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.Song
	for _, s := range e.catalog {
		if _, ok := want[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ParsePlaylistIDs decodes a stored "101,102" playlist. Blank input yields no ids.
func ParsePlaylistIDs(s string) []int64 {
	return models.ParseIDList(s)
}

func (e *Engine) playLocked(ctx context.Context, song models.Song, queue []models.Song) {
	st := e.State()
	if queue != nil {
		st.Queue = queue
	} else if len(st.Queue) == 0 {
		st.Queue = e.catalog
	}
	e.releaseLocked()

	current := song
	st.CurrentSong = &current
	st.IsPlaying = false
	st.Progress = 0
	e.setState(st)

	res, err := e.backend.Open(ctx, song)
	if err == nil {
		if err = res.Start(); err != nil {
			if relErr := res.Release(); relErr != nil {
				slog.Warn("PlaybackEngine.play: release after failed start", "song", song.ID, "error", relErr)
			}
		}
	}
	if err != nil {
		e.trackFailedLocked(ctx, song, err)
		return
	}

	e.failures = 0
	e.res = res
	track := e.track
	bg := context.WithoutCancel(ctx)
	res.OnCompletion(func() { go e.trackEnded(bg, track) })

	st = e.State()
	st.IsPlaying = true
	st.Progress = 0
	e.setState(st)
	slog.Info("PlaybackEngine.play: playing", "song", song.ID, "title", song.Title)

	e.startPollLocked(track)
	e.attachCaptureLocked(res, track)
}

func (e *Engine) trackFailedLocked(ctx context.Context, song models.Song, err error) {
	slog.Warn("PlaybackEngine.play: track unplayable", "song", song.ID, "locator", song.Locator, "error", err)
	e.recorder.Record(events.New(events.TrackFailed, "playback", strconv.FormatInt(song.ID, 10), "track could not be played", err))
	e.failures++
	queue := e.State().Queue
	if e.failures >= len(queue) {
		slog.Error("PlaybackEngine.play: every track in the queue failed, stopping", "queue", len(queue))
		e.recorder.Record(events.New(events.QueueExhausted, "playback", "", "no playable track in queue", err))
		e.failures = 0
		return
	}
	e.skipNextLocked(ctx)
}

func (e *Engine) trackEnded(ctx context.Context, track uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || track != e.track {
		return
	}
	slog.Debug("PlaybackEngine.trackEnded: advancing")
	e.skipNextLocked(ctx)
}

func (e *Engine) startPollLocked(track uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	e.stopPoll = cancel
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		t := time.NewTicker(e.pollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !e.pollProgress(track) {
					return
				}
			}
		}
	}()
}

// pollProgress samples the resource and reports whether the poll should continue.
func (e *Engine) pollProgress(track uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if track != e.track || e.res == nil {
		return false
	}
	dur := e.res.Duration()
	if !e.res.IsPlaying() || dur <= 0 {
		return true
	}
	st := e.State()
	st.Progress = models.Clamp01(float64(e.res.Position()) / float64(dur))
	e.setState(st)
	return true
}

func (e *Engine) attachCaptureLocked(res AudioResource, track uint64) {
	if e.capturer == nil {
		return
	}
	h, err := e.capturer.Attach(res.SessionID(), func(frame []float64) { e.onFrame(track, frame) })
	if err != nil {
		slog.Warn("PlaybackEngine.attachCapture: spectral capture unavailable", "error", err)
		e.recorder.Record(events.New(events.CaptureFailed, "playback", "", "spectral capture unavailable", err))
		return
	}
	e.capture = h
}

func (e *Engine) onFrame(track uint64, frame []float64) {
	instant, ok := InstantBass(frame)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.State()
	if track != e.track || !st.IsPlaying {
		return
	}
	st.BassLevel = SmoothBass(st.BassLevel, instant)
	e.setState(st)
}

// releaseLocked cancels the poll, releases the capture and the resource, and invalidates
// their callbacks. Release failures are logged and never stop the teardown.
func (e *Engine) releaseLocked() {
	e.track++
	if e.stopPoll != nil {
		e.stopPoll()
		e.stopPoll = nil
	}
	if e.capture != nil {
		if err := e.capture.Release(); err != nil {
			slog.Warn("PlaybackEngine.release: capture release failed", "error", err)
		}
		e.capture = nil
	}
	if e.res != nil {
		if err := e.res.Release(); err != nil {
			slog.Warn("PlaybackEngine.release: resource release failed", "error", err)
		}
		e.res = nil
	}
}

// TogglePlayPause flips between playing and paused.
func (e *Engine) TogglePlayPause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return ErrNoResource
	}
	if e.res.IsPlaying() {
		return e.pauseLocked()
	}
	return e.resumeLocked()
}

// Pause pauses playback if it is playing.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return ErrNoResource
	}
	if !e.res.IsPlaying() {
		return nil
	}
	return e.pauseLocked()
}

// Resume resumes playback if it is paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return ErrNoResource
	}
	if e.res.IsPlaying() {
		return nil
	}
	return e.resumeLocked()
}

func (e *Engine) pauseLocked() error {
	if err := e.res.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	st := e.State()
	st.IsPlaying = false
	e.setState(st)
	return nil
}

func (e *Engine) resumeLocked() error {
	if err := e.res.Start(); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	st := e.State()
	st.IsPlaying = true
	e.setState(st)
	return nil
}

// SkipNext advances the queue: a random index when shuffling, else the next song,
// wrapping to the first.
func (e *Engine) SkipNext(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.failures = 0
	e.skipNextLocked(ctx)
}

func (e *Engine) skipNextLocked(ctx context.Context) {
	st := e.State()
	queue := st.Queue
	if len(queue) == 0 {
		return
	}
	next := 0
	if st.Shuffle {
		next = e.randIntN(len(queue))
	} else if i := st.QueueIndex(); i != -1 && i < len(queue)-1 {
		next = i + 1
	}
	e.playLocked(ctx, queue[next], nil)
}

// SkipPrevious steps back in the queue, wrapping to the last song.
func (e *Engine) SkipPrevious(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	st := e.State()
	queue := st.Queue
	if len(queue) == 0 {
		return
	}
	prev := len(queue) - 1
	if i := st.QueueIndex(); i > 0 {
		prev = i - 1
	}
	e.failures = 0
	e.playLocked(ctx, queue[prev], nil)
}

// ToggleShuffle flips the shuffle flag.
func (e *Engine) ToggleShuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.State()
	st.Shuffle = !st.Shuffle
	e.setState(st)
	return st.Shuffle
}

// ToggleFavorite flips the favorite flag. The flag is kept in memory only.
func (e *Engine) ToggleFavorite() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.State()
	st.Favorite = !st.Favorite
	e.setState(st)
	return st.Favorite
}

// SeekTo moves to fraction of the track and publishes the new progress immediately.
func (e *Engine) SeekTo(fraction float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return ErrNoResource
	}
	fraction = models.Clamp01(fraction)
	pos := time.Duration(fraction * float64(e.res.Duration()))
	if err := e.res.SeekTo(pos); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	st := e.State()
	st.Progress = fraction
	e.setState(st)
	return nil
}

// Close releases the resource and the capture, cancels the poll and closes every
// subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.closing)
	e.releaseLocked()
	st := e.State()
	st.IsPlaying = false
	e.setState(st)
	e.mu.Unlock()

	e.tasks.Wait()
	e.subMu.Lock()
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
	e.subMu.Unlock()
	slog.Debug("PlaybackEngine.Close: released")
}

// setState publishes a snapshot. Callers hold mu.
func (e *Engine) setState(st models.PlaybackState) {
	e.state.Store(&st)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// Subscribe streams snapshots, starting with the current one. Each channel holds only
// the newest snapshot and is closed when ctx is done or the engine closes.
func (e *Engine) Subscribe(ctx context.Context) <-chan models.PlaybackState {
	ch := make(chan models.PlaybackState, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- e.State()
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.closing:
		}
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}()
	return ch
}
