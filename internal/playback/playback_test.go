package playback

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
)

type staticSource struct {
	songs []models.Song
	err   error
}

func (s staticSource) EnumerateSongs(context.Context) ([]models.Song, error) {
	return s.songs, s.err
}

type fakeResource struct {
	mu         sync.Mutex
	song       models.Song
	playing    bool
	pos        time.Duration
	length     time.Duration
	released   bool
	releaseErr error
	onComplete func()
}

func (r *fakeResource) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
	return nil
}
func (r *fakeResource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	return nil
}
func (r *fakeResource) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}
func (r *fakeResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}
func (r *fakeResource) Duration() time.Duration { return r.length }
func (r *fakeResource) SeekTo(pos time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = pos
	return nil
}
func (r *fakeResource) SessionID() int { return int(r.song.ID) }
func (r *fakeResource) OnCompletion(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onComplete = fn
}
func (r *fakeResource) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.playing = false
	return r.releaseErr
}
func (r *fakeResource) complete() {
	r.mu.Lock()
	fn := r.onComplete
	r.mu.Unlock()
	fn()
}

// fakeBackend opens fakeResources and fails for locators listed in broken.
type fakeBackend struct {
	mu         sync.Mutex
	broken     map[string]bool
	opened     []*fakeResource
	releaseErr error
}

func (b *fakeBackend) Open(ctx context.Context, song models.Song) (AudioResource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken[song.Locator] {
		return nil, errors.New("cannot decode")
	}
	r := &fakeResource{song: song, length: time.Duration(song.DurationMs) * time.Millisecond, releaseErr: b.releaseErr}
	b.opened = append(b.opened, r)
	return r, nil
}

func (b *fakeBackend) last() *fakeResource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[len(b.opened)-1]
}

func (b *fakeBackend) all() []*fakeResource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeResource(nil), b.opened...)
}

type fakeHandle struct{ released bool }

func (h *fakeHandle) Release() error {
	h.released = true
	return nil
}

type fakeCapturer struct {
	mu      sync.Mutex
	onFrame func([]float64)
	handles []*fakeHandle
	err     error
}

func (c *fakeCapturer) Attach(session int, onFrame func([]float64)) (CaptureHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.onFrame = onFrame
	h := &fakeHandle{}
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeCapturer) frame(f []float64) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	fn(f)
}

var (
	songA = models.Song{ID: 1, Locator: "a.mp3", Title: "A", Artist: "X", DurationMs: 1000}
	songB = models.Song{ID: 2, Locator: "b.mp3", Title: "B", Artist: "X", DurationMs: 1000}
	songC = models.Song{ID: 3, Locator: "c.mp3", Title: "C", Artist: "X", DurationMs: 1000}
)

func newTestEngine(t *testing.T, backend *fakeBackend, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(staticSource{songs: []models.Song{songA, songB, songC}}, backend, append([]Option{WithPollInterval(time.Hour)}, opts...)...)
	t.Cleanup(e.Close)
	e.LoadLibrary(context.Background())
	return e
}

func currentID(e *Engine) int64 {
	st := e.State()
	if st.CurrentSong == nil {
		return 0
	}
	return st.CurrentSong.ID
}

func TestLoadLibraryDefaultsQueue(t *testing.T) {
	e := newTestEngine(t, &fakeBackend{})
	if got := len(e.State().Queue); got != 3 {
		t.Errorf("queue length = %d, want 3", got)
	}
	if got := len(e.Catalog()); got != 3 {
		t.Errorf("catalog length = %d, want 3", got)
	}

	failing := NewEngine(staticSource{err: errors.New("permission denied")}, &fakeBackend{})
	defer failing.Close()
	if n := failing.LoadLibrary(context.Background()); n != 0 {
		t.Errorf("failed enumeration should yield empty catalog, got %d", n)
	}
}

func TestQueueNavigation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		current models.Song
		skip    func(e *Engine)
		want    int64
	}{
		{"next from B", songB, func(e *Engine) { e.SkipNext(ctx) }, songC.ID},
		{"next wraps from C", songC, func(e *Engine) { e.SkipNext(ctx) }, songA.ID},
		{"previous wraps from A", songA, func(e *Engine) { e.SkipPrevious(ctx) }, songC.ID},
		{"previous from C", songC, func(e *Engine) { e.SkipPrevious(ctx) }, songB.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &fakeBackend{})
			e.Play(ctx, tt.current, []models.Song{songA, songB, songC})
			tt.skip(e)
			if got := currentID(e); got != tt.want {
				t.Errorf("current = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSkipNextWhenCurrentNotInQueue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeBackend{})
	stray := models.Song{ID: 99, Locator: "z.mp3"}
	e.Play(ctx, stray, []models.Song{songB, songC})
	e.SkipNext(ctx)
	if got := currentID(e); got != songB.ID {
		t.Errorf("current = %d, want first queue entry %d", got, songB.ID)
	}
}

func TestShuffleUsesRandomIndex(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeBackend{}, WithRand(func(n int) int { return n - 1 }))
	e.Play(ctx, songA, nil)
	if !e.ToggleShuffle() {
		t.Fatal("shuffle should be on")
	}
	e.SkipNext(ctx)
	if got := currentID(e); got != songC.ID {
		t.Errorf("current = %d, want %d", got, songC.ID)
	}
}

func TestPlayReleasesPreviousResource(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	c := &fakeCapturer{}
	e := newTestEngine(t, b, WithCapturer(c))

	e.Play(ctx, songA, nil)
	e.Play(ctx, songB, nil)
	res := b.all()
	if len(res) != 2 || !res[0].released || res[1].released {
		t.Fatalf("expected first resource released and second live")
	}
	if len(c.handles) != 2 || !c.handles[0].released {
		t.Error("expected first capture handle released")
	}
	st := e.State()
	if !st.IsPlaying || st.Progress != 0 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestPlayPlaylistResolvesIDs(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeBackend{})

	if e.PlayPlaylist(ctx, []int64{42, 43}) {
		t.Error("unresolvable playlist should not play")
	}
	if !e.PlayPlaylist(ctx, ParsePlaylistIDs("3, 1, 77")) {
		t.Fatal("expected playlist to play")
	}
	st := e.State()
	if len(st.Queue) != 2 || st.Queue[0].ID != songA.ID || st.Queue[1].ID != songC.ID {
		t.Errorf("queue = %+v, want catalog-ordered [A C]", st.Queue)
	}
	if currentID(e) != songA.ID {
		t.Errorf("current = %d, want A", currentID(e))
	}

	// PlayQueueIDs keeps the mission queue
	if !e.PlayQueueIDs(ctx, []int64{2}) {
		t.Fatal("expected PlayQueueIDs to play")
	}
	if st := e.State(); len(st.Queue) != 2 || currentID(e) != songB.ID {
		t.Errorf("PlayQueueIDs changed the queue: %+v", st)
	}
}

func TestBassSmoothing(t *testing.T) {
	ctx := context.Background()
	c := &fakeCapturer{}
	e := newTestEngine(t, &fakeBackend{}, WithCapturer(c))
	e.Play(ctx, songA, nil)

	full := []float64{0, 0, 65, 0}
	want := []float64{0.2, 0.36, 0.488}
	for i, w := range want {
		c.frame(full)
		if got := e.State().BassLevel; math.Abs(got-w) > 1e-9 {
			t.Errorf("update %d: bass = %v, want %v", i+1, got, w)
		}
	}

	if err := e.TogglePlayPause(); err != nil {
		t.Fatalf("TogglePlayPause: %v", err)
	}
	frozen := e.State().BassLevel
	c.frame(full)
	if got := e.State().BassLevel; got != frozen {
		t.Errorf("bass moved while paused: %v -> %v", frozen, got)
	}

	c.frame([]float64{0, 0})
	if got := e.State().BassLevel; got != frozen {
		t.Error("short frame should be ignored")
	}
}

func TestInstantBassClamps(t *testing.T) {
	if v, _ := InstantBass([]float64{0, 0, 300, 400}); v != 1 {
		t.Errorf("InstantBass = %v, want clamp to 1", v)
	}
	if v, _ := InstantBass([]float64{0, 0, 39, 52}); math.Abs(v-1) > 1e-9 {
		t.Errorf("hypot(39,52)/65 = %v, want 1", v)
	}
	if _, ok := InstantBass(nil); ok {
		t.Error("nil frame should not be ok")
	}
}

func TestCaptureFailureIsDegraded(t *testing.T) {
	ctx := context.Background()
	rec := events.NewFake()
	e := newTestEngine(t, &fakeBackend{}, WithCapturer(&fakeCapturer{err: ErrCaptureUnsupported}), WithRecorder(rec))
	e.Play(ctx, songA, nil)
	if !e.State().IsPlaying {
		t.Error("playback should continue without capture")
	}
	if n := len(rec.OfType(events.CaptureFailed)); n != 1 {
		t.Errorf("recorded %d capture failures, want 1", n)
	}
}

func TestFailedTrackSkipsAhead(t *testing.T) {
	ctx := context.Background()
	rec := events.NewFake()
	b := &fakeBackend{broken: map[string]bool{"b.mp3": true}}
	e := newTestEngine(t, b, WithRecorder(rec))

	e.Play(ctx, songB, nil)
	if got := currentID(e); got != songC.ID {
		t.Errorf("current = %d, want C after B failed", got)
	}
	if !e.State().IsPlaying {
		t.Error("expected playback of C")
	}
	if n := len(rec.OfType(events.TrackFailed)); n != 1 {
		t.Errorf("recorded %d track failures, want 1", n)
	}
}

func TestAllBrokenQueueStops(t *testing.T) {
	ctx := context.Background()
	rec := events.NewFake()
	b := &fakeBackend{broken: map[string]bool{"a.mp3": true, "b.mp3": true, "c.mp3": true}}
	e := newTestEngine(t, b, WithRecorder(rec))

	e.Play(ctx, songA, nil)
	if e.State().IsPlaying {
		t.Error("nothing should be playing")
	}
	if n := len(rec.OfType(events.TrackFailed)); n != 3 {
		t.Errorf("recorded %d track failures, want one pass of 3", n)
	}
	if n := len(rec.OfType(events.QueueExhausted)); n != 1 {
		t.Errorf("recorded %d exhaustion events, want 1", n)
	}
}

func TestNaturalEndAdvances(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	e := newTestEngine(t, b)
	e.Play(ctx, songA, nil)
	b.last().complete()

	deadline := time.Now().Add(time.Second)
	for currentID(e) != songB.ID {
		if time.Now().After(deadline) {
			t.Fatalf("did not advance, current = %d", currentID(e))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSeekPublishesImmediately(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	e := newTestEngine(t, b)
	if err := e.SeekTo(0.5); !errors.Is(err, ErrNoResource) {
		t.Errorf("expected ErrNoResource before play, got %v", err)
	}
	e.Play(ctx, songA, nil)
	if err := e.SeekTo(0.25); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if got := e.State().Progress; got != 0.25 {
		t.Errorf("progress = %v, want 0.25", got)
	}
	if got := b.last().Position(); got != 250*time.Millisecond {
		t.Errorf("resource position = %v, want 250ms", got)
	}
}

func TestProgressPoll(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	e := NewEngine(staticSource{songs: []models.Song{songA}}, b, WithPollInterval(time.Millisecond))
	defer e.Close()
	e.LoadLibrary(ctx)
	e.Play(ctx, songA, nil)
	b.last().SeekTo(500 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for e.State().Progress != 0.5 {
		if time.Now().After(deadline) {
			t.Fatalf("progress = %v, want 0.5", e.State().Progress)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFavoriteAndToggleWithoutResource(t *testing.T) {
	e := newTestEngine(t, &fakeBackend{})
	if err := e.TogglePlayPause(); !errors.Is(err, ErrNoResource) {
		t.Errorf("expected ErrNoResource, got %v", err)
	}
	if !e.ToggleFavorite() || e.ToggleFavorite() {
		t.Error("favorite should flip on then off")
	}
}

func TestCloseReleasesEverythingEvenOnError(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{releaseErr: errors.New("device gone")}
	c := &fakeCapturer{}
	e := NewEngine(staticSource{songs: []models.Song{songA}}, b, WithCapturer(c), WithPollInterval(time.Millisecond))
	e.LoadLibrary(ctx)
	e.Play(ctx, songA, nil)

	sub := e.Subscribe(ctx)
	e.Close()

	if !b.last().released {
		t.Error("resource not released")
	}
	if !c.handles[0].released {
		t.Error("capture not released")
	}
	if e.State().IsPlaying {
		t.Error("engine still reports playing after Close")
	}
	for range sub {
	}
	e.Play(ctx, songA, nil)
	if len(b.all()) != 1 {
		t.Error("closed engine must not open new resources")
	}
}

func TestCloseEndsSubscriptionWatchers(t *testing.T) {
	e := NewEngine(staticSource{}, &fakeBackend{})
	before := runtime.NumGoroutine()

	subs := make([]<-chan models.PlaybackState, 10)
	for i := range subs {
		subs[i] = e.Subscribe(context.Background())
	}
	e.Close()
	for _, ch := range subs {
		for range ch {
		}
	}

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after Close, want at most %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
