// Package status derives the live pet status and owns every write to the pet's mood.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

const (
	// DefaultSettleDelay is how long Initialize waits before the inactivity check runs.
	DefaultSettleDelay = 500 * time.Millisecond
	// PenaltyPerDay is subtracted from mood for every whole day without activity.
	PenaltyPerDay = 0.1
	// CompletionReward is added to mood when a habit becomes completed.
	CompletionReward = 0.05

	day = 24 * time.Hour
)

// Store is the subset of the persistent store the engine reads and writes.
type Store interface {
	store.HabitStore
	store.PetStatusStore
}

// Engine computes the pet status projection and applies mood rules. Writes to the pet
// status record are serialized by the engine; storage errors are returned unretried.
type Engine struct {
	store       Store
	now         func() time.Time
	settleDelay time.Duration
	recorder    events.Recorder

	mu      sync.Mutex
	pending *time.Timer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSettleDelay overrides the delay between Initialize and the inactivity check.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.settleDelay = d }
}

// WithRecorder sets the event recorder.
func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates a status engine over s.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		now:         time.Now,
		settleDelay: DefaultSettleDelay,
		recorder:    events.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DeriveStatus projects a pet status from the stored record and the habit list.
// A missing record projects as a fully happy pet.
func DeriveStatus(rec *models.PetStatusRecord, habits []models.Habit) models.PetStatus {
	mood := 1.0
	if rec != nil {
		mood = rec.Mood
	}
	ratio := 1.0
	if len(habits) > 0 {
		done := 0
		for _, h := range habits {
			if h.Completed {
				done++
			}
		}
		ratio = float64(done) / float64(len(habits))
	}
	return models.PetStatus{Mood: mood, Health: ratio, Hygiene: ratio}
}

// Current reads both inputs once and derives the status.
func (e *Engine) Current(ctx context.Context) (models.PetStatus, error) {
	rec, err := e.store.GetPetStatus(ctx)
	if err != nil {
		return models.PetStatus{}, err
	}
	habits, err := e.store.ListHabits(ctx)
	if err != nil {
		return models.PetStatus{}, err
	}
	return DeriveStatus(rec, habits), nil
}

// Initialize creates the pet status record on first run. When the record already exists
// the inactivity check is scheduled after the settle delay.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.GetPetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pet status: %w", err)
	}
	if rec == nil {
		if err := e.store.UpsertPetStatus(ctx, models.NewPetStatusRecord(e.now())); err != nil {
			return fmt.Errorf("failed to create pet status: %w", err)
		}
		slog.Info("StatusEngine.Initialize: created pet status record")
		return nil
	}

	if e.pending != nil {
		e.pending.Stop()
	}
	checkCtx := context.WithoutCancel(ctx)
	e.pending = time.AfterFunc(e.settleDelay, func() {
		if _, err := e.CheckInactivityPenalty(checkCtx); err != nil {
			slog.Error("StatusEngine.Initialize: deferred inactivity check failed", "error", err)
			e.recorder.Record(events.New(events.StorageFailed, "status", "", "inactivity check failed", err))
		}
	})
	slog.Debug("StatusEngine.Initialize: inactivity check scheduled", "delay", e.settleDelay)
	return nil
}

// CheckInactivityPenalty lowers mood by PenaltyPerDay for every whole day since the last
// action and resets the last action to now. It returns the number of days penalized.
func (e *Engine) CheckInactivityPenalty(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.GetPetStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read pet status: %w", err)
	}
	if rec == nil {
		return 0, nil
	}
	now := e.now()
	days := int(now.Sub(rec.LastActionAt) / day)
	if days < 1 {
		return 0, nil
	}

	next := rec.WithMood(rec.Mood - PenaltyPerDay*float64(days))
	next.LastActionAt = now
	if err := e.store.UpsertPetStatus(ctx, next); err != nil {
		return 0, fmt.Errorf("failed to apply inactivity penalty: %w", err)
	}
	slog.Info("StatusEngine.CheckInactivityPenalty: penalty applied", "days", days, "mood", next.Mood)
	e.recorder.Record(events.New(events.MoodChanged, "status", "", fmt.Sprintf("inactive for %d days", days), nil))
	return days, nil
}

// RewardCompletion raises mood by CompletionReward and resets the last action. It does
// nothing when habit is already completed.
func (e *Engine) RewardCompletion(ctx context.Context, habit models.Habit) error {
	if habit.Completed {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewardLocked(ctx, habit)
}

// rewardLocked applies the completion reward. e.mu must be held.
func (e *Engine) rewardLocked(ctx context.Context, habit models.Habit) error {
	rec, err := e.store.GetPetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pet status: %w", err)
	}
	now := e.now()
	base := models.NewPetStatusRecord(now)
	if rec != nil {
		base = *rec
	}
	next := base.WithMood(base.Mood + CompletionReward)
	next.LastActionAt = now
	if err := e.store.UpsertPetStatus(ctx, next); err != nil {
		return fmt.Errorf("failed to reward completion: %w", err)
	}
	slog.Debug("StatusEngine.RewardCompletion: mood raised", "habit", habit.Name, "mood", next.Mood)
	e.recorder.Record(events.New(events.MoodChanged, "status", habit.Name, "habit completed", nil))
	return nil
}

// MarkComplete marks the stored habit completed and rewards the transition when it was
// incomplete. It returns the stored habit. Concurrent completions of one habit reward once.
func (e *Engine) MarkComplete(ctx context.Context, habit models.Habit) (models.Habit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markCompleteLocked(ctx, habit.ID)
}

func (e *Engine) markCompleteLocked(ctx context.Context, id int64) (models.Habit, error) {
	current, err := e.store.GetHabit(ctx, id)
	if err != nil {
		return models.Habit{}, fmt.Errorf("failed to load habit %d: %w", id, err)
	}
	if current.Completed {
		return current, nil
	}
	done := current.Clone()
	done.Completed = true
	if err := e.store.UpdateHabit(ctx, done); err != nil {
		return models.Habit{}, fmt.Errorf("failed to mark habit %d completed: %w", id, err)
	}
	if err := e.rewardLocked(ctx, current); err != nil {
		return done, err
	}
	return done, nil
}

// ToggleCompletion flips a habit's completed flag. Only the incomplete to complete
// transition rewards the pet.
func (e *Engine) ToggleCompletion(ctx context.Context, id int64) (models.Habit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.store.GetHabit(ctx, id)
	if err != nil {
		return models.Habit{}, fmt.Errorf("failed to load habit %d: %w", id, err)
	}
	if !current.Completed {
		return e.markCompleteLocked(ctx, id)
	}
	undone := current.Clone()
	undone.Completed = false
	if err := e.store.UpdateHabit(ctx, undone); err != nil {
		return models.Habit{}, fmt.Errorf("failed to reopen habit %d: %w", id, err)
	}
	return undone, nil
}

// Watch streams the derived status, recomputed whenever the habit list or the pet status
// record changes. The channel holds only the newest value and is closed when ctx is done.
func (e *Engine) Watch(ctx context.Context) (<-chan models.PetStatus, error) {
	ctx, cancel := context.WithCancel(ctx)
	habitsCh, err := e.store.WatchHabits(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch habits: %w", err)
	}
	petCh, err := e.store.WatchPetStatus(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch pet status: %w", err)
	}

	out := make(chan models.PetStatus, 1)
	go func() {
		defer cancel()
		defer close(out)

		var habits []models.Habit
		var rec *models.PetStatusRecord
		var haveHabits, havePet bool
		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-habitsCh:
				if !ok {
					return
				}
				habits, haveHabits = h, true
			case r, ok := <-petCh:
				if !ok {
					return
				}
				rec, havePet = r, true
			}
			if !haveHabits || !havePet {
				continue
			}
			publish(out, DeriveStatus(rec, habits))
		}
	}()
	return out, nil
}

func publish(out chan models.PetStatus, st models.PetStatus) {
	select {
	case out <- st:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- st:
	default:
	}
}

// Close stops a pending deferred inactivity check.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

// IsNotFound reports whether err means the addressed habit does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
