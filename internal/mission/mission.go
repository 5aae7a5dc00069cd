// Package mission implements the mission countdown state machine.
//
// A mission binds one habit to a countdown of its duration. The engine runs a single tick
// task at a time, counts only unpaused seconds, and on reaching zero resets to idle and
// marks the habit completed exactly once.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
)

// DefaultTickInterval is the wall-clock length of one countdown second.
const DefaultTickInterval = time.Second

// completionBuffer bounds how many undelivered completion events are kept.
const completionBuffer = 16

// ErrInvalidDuration is returned by Start for habits without a positive duration.
var ErrInvalidDuration = errors.New("mission duration must be positive")

// Completer marks a habit completed and rewards the pet. It is satisfied by *status.Engine.
type Completer interface {
	MarkComplete(ctx context.Context, habit models.Habit) (models.Habit, error)
}

// Ticker delivers countdown ticks.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// Engine is the mission timer. All methods are safe for concurrent use.
type Engine struct {
	completer Completer
	recorder  events.Recorder
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	now       func() time.Time

	ctrl sync.Mutex // serializes Start, Stop and Close

	mu     sync.Mutex // guards the fields below and every state transition
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	state atomic.Pointer[models.MissionState]

	subMu   sync.Mutex
	subs    map[chan models.MissionState]struct{}
	closing chan struct{} // closed by Close; ends subscription watchers

	completions chan models.MissionCompletion
	persist     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval overrides the length of one countdown second.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithTicker replaces the ticker factory.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(e *Engine) { e.newTicker = f }
}

// WithRecorder sets the event recorder.
func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now for completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an idle mission engine that completes habits through c.
func NewEngine(c Completer, opts ...Option) *Engine {
	e := &Engine{
		completer:   c,
		recorder:    events.Discard,
		interval:    DefaultTickInterval,
		newTicker:   newTimeTicker,
		now:         time.Now,
		subs:        make(map[chan models.MissionState]struct{}),
		closing:     make(chan struct{}),
		completions: make(chan models.MissionCompletion, completionBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Store(&models.MissionState{})
	return e
}

// State returns the current immutable snapshot.
func (e *Engine) State() models.MissionState {
	return *e.state.Load()
}

// Completions delivers one event per mission that counted down to zero, after the habit
// has been persisted as completed.
func (e *Engine) Completions() <-chan models.MissionCompletion {
	return e.completions
}

// Start binds habit to a new countdown. A mission already in flight is cancelled without
// reward before the new tick task starts.
func (e *Engine) Start(ctx context.Context, habit models.Habit) error {
	if habit.DurationMinutes <= 0 {
		slog.Debug("MissionEngine.Start: rejected mission without duration", "habit", habit.Name)
		return fmt.Errorf("habit %q: %w", habit.Name, ErrInvalidDuration)
	}

	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("mission engine closed")
	}
	prev := e.State()
	e.gen++
	e.mu.Unlock()
	e.stopTask()

	if prev.Active() {
		slog.Info("MissionEngine.Start: replacing active mission", "previous", prev.ActiveHabit.Name)
		e.recorder.Record(events.New(events.MissionCancelled, "mission", prev.ActiveHabit.Name, "replaced by a new mission", nil))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := habit.Clone()
	e.setState(models.MissionState{
		ActiveHabit:      &h,
		SecondsRemaining: habit.DurationMinutes * 60,
		IsRunning:        true,
	})

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	go e.run(taskCtx, e.gen, done)

	slog.Info("MissionEngine.Start: mission started", "habit", habit.Name, "seconds", habit.DurationMinutes*60)
	e.recorder.Record(events.New(events.MissionStarted, "mission", habit.Name, "mission started", nil))
	return nil
}

// TogglePause flips the paused flag of a running mission. It is a no-op while idle.
func (e *Engine) TogglePause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.State()
	if !st.IsRunning {
		return
	}
	st.IsPaused = !st.IsPaused
	e.setState(st)
	slog.Debug("MissionEngine.TogglePause", "paused", st.IsPaused)
}

// Stop cancels the active mission without reward or penalty.
func (e *Engine) Stop() {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.mu.Lock()
	prev := e.State()
	e.gen++
	if prev.IsRunning {
		e.setState(models.MissionState{})
	}
	e.mu.Unlock()
	e.stopTask()

	if prev.Active() {
		slog.Info("MissionEngine.Stop: mission cancelled", "habit", prev.ActiveHabit.Name)
		e.recorder.Record(events.New(events.MissionCancelled, "mission", prev.ActiveHabit.Name, "mission stopped", nil))
	}
}

// Close stops the tick task, waits for pending completion writes and closes every
// subscription. The engine cannot be restarted.
func (e *Engine) Close() {
	e.Stop()

	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.closing)
	e.mu.Unlock()

	e.persist.Wait()
	e.subMu.Lock()
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
	e.subMu.Unlock()
}

// stopTask cancels the tick task and waits for it to exit. Callers hold ctrl but not mu.
func (e *Engine) stopTask() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	t := e.newTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if finished := e.step(gen); finished {
				return
			}
		}
	}
}

// step applies one tick for the mission generation gen and reports whether the task
// should exit.
func (e *Engine) step(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	if gen != e.gen || !st.IsRunning {
		return true
	}
	if st.IsPaused {
		return false
	}
	if st.SecondsRemaining > 0 {
		st.SecondsRemaining--
	}
	if st.SecondsRemaining > 0 {
		e.setState(st)
		return false
	}

	// Zero reached: the reset is published in the same critical section so no reader ever
	// sees a running mission with nothing left on the clock.
	habit := *st.ActiveHabit
	e.gen++
	e.setState(models.MissionState{})
	e.persist.Add(1)
	go e.complete(habit)
	return true
}

func (e *Engine) complete(habit models.Habit) {
	defer e.persist.Done()
	ctx := context.Background()

	stored, err := e.completer.MarkComplete(ctx, habit)
	if err != nil {
		slog.Error("MissionEngine.complete: failed to persist completion", "habit", habit.Name, "error", err)
		e.recorder.Record(events.New(events.StorageFailed, "mission", habit.Name, "failed to persist mission completion", err))
		stored = habit
		stored.Completed = true
	}

	slog.Info("MissionEngine.complete: mission completed", "habit", habit.Name)
	e.recorder.Record(events.New(events.MissionCompleted, "mission", habit.Name, "mission completed", nil))
	select {
	case e.completions <- models.MissionCompletion{Habit: stored, CompletedAt: e.now()}:
	default:
		slog.Warn("MissionEngine.complete: completion channel full, event dropped", "habit", habit.Name)
	}
}

// setState publishes a new snapshot. Callers hold mu.
func (e *Engine) setState(st models.MissionState) {
	e.state.Store(&st)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		offer(ch, st)
	}
}

// Subscribe streams state snapshots, starting with the current one. Each channel holds
// only the newest snapshot and is closed when ctx is done or the engine closes.
func (e *Engine) Subscribe(ctx context.Context) <-chan models.MissionState {
	ch := make(chan models.MissionState, 1)

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

func offer(ch chan models.MissionState, st models.MissionState) {
	select {
	case ch <- st:
		return
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
