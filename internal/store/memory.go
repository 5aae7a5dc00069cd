package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RumiPet/internal/models"
)

// InMemoryStore is a Store kept entirely in process memory. It is used when no DSN is
// configured and throughout the tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	habits     map[int64]models.Habit
	nextHabit  int64
	pet        *models.PetStatusRecord
	chat       []models.ChatMessage
	nextChatID int64

	habitFeed *Feed[[]models.Habit]
	petFeed   *Feed[*models.PetStatusRecord]
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	s := &InMemoryStore{habits: make(map[int64]models.Habit)}
	s.habitFeed = NewFeed("habits", cfg.IdleTimeout, s.ListHabits)
	s.petFeed = NewFeed("pet_status", cfg.IdleTimeout, s.GetPetStatus)
	return s
}

// ListHabits returns all habits ordered by (completed ASC, id DESC).
func (s *InMemoryStore) ListHabits(ctx context.Context) ([]models.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Habit, 0, len(s.habits))
	for _, h := range s.habits {
		out = append(out, h.Clone())
	}
	sortHabits(out)
	return out, nil
}

func sortHabits(habits []models.Habit) {
	sort.Slice(habits, func(i, j int) bool {
		if habits[i].Completed != habits[j].Completed {
			return !habits[i].Completed
		}
		return habits[i].ID > habits[j].ID
	})
}

// GetHabit returns the habit with the given id or ErrNotFound.
func (s *InMemoryStore) GetHabit(ctx context.Context, id int64) (models.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.habits[id]
	if !ok {
		return models.Habit{}, fmt.Errorf("habit %d: %w", id, ErrNotFound)
	}
	return h.Clone(), nil
}

// InsertHabit stores a habit. A zero id is assigned the next free id; an existing id is
// replaced.
func (s *InMemoryStore) InsertHabit(ctx context.Context, h models.Habit) (int64, error) {
	s.mu.Lock()
	if h.ID == 0 {
		s.nextHabit++
		h.ID = s.nextHabit
	} else if h.ID > s.nextHabit {
		s.nextHabit = h.ID
	}
	s.habits[h.ID] = h.Clone()
	s.mu.Unlock()

	slog.Debug("InMemoryStore.InsertHabit: stored habit", "id", h.ID, "name", h.Name)
	s.habitFeed.Refresh(ctx)
	return h.ID, nil
}

// UpdateHabit replaces an existing habit.
func (s *InMemoryStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	s.mu.Lock()
	if _, ok := s.habits[h.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("habit %d: %w", h.ID, ErrNotFound)
	}
	s.habits[h.ID] = h.Clone()
	s.mu.Unlock()

	s.habitFeed.Refresh(ctx)
	return nil
}

// DeleteHabit removes a habit. Deleting a missing habit is not an error.
func (s *InMemoryStore) DeleteHabit(ctx context.Context, id int64) error {
	s.mu.Lock()
	delete(s.habits, id)
	s.mu.Unlock()

	s.habitFeed.Refresh(ctx)
	return nil
}

// WatchHabits streams the ordered habit list.
func (s *InMemoryStore) WatchHabits(ctx context.Context) (<-chan []models.Habit, error) {
	return s.habitFeed.Subscribe(ctx)
}

// GetPetStatus returns the pet status record, or nil when it was never created.
func (s *InMemoryStore) GetPetStatus(ctx context.Context) (*models.PetStatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pet == nil {
		return nil, nil
	}
	rec := *s.pet
	return &rec, nil
}

// UpsertPetStatus creates or replaces the singleton pet status record.
func (s *InMemoryStore) UpsertPetStatus(ctx context.Context, rec models.PetStatusRecord) error {
	rec.ID = models.PetStatusID
	s.mu.Lock()
	s.pet = &rec
	s.mu.Unlock()

	s.petFeed.Refresh(ctx)
	return nil
}

// WatchPetStatus streams the pet status record; nil means not yet created.
func (s *InMemoryStore) WatchPetStatus(ctx context.Context) (<-chan *models.PetStatusRecord, error) {
	return s.petFeed.Subscribe(ctx)
}

// InsertChatMessage appends a chat message.
func (s *InMemoryStore) InsertChatMessage(ctx context.Context, m models.ChatMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChatID++
	m.ID = s.nextChatID
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.chat = append(s.chat, m)
	return m.ID, nil
}

// ListChatMessages returns the chat history ordered by timestamp.
func (s *InMemoryStore) ListChatMessages(ctx context.Context) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.ChatMessage(nil), s.chat...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteChatMessagesBefore removes messages older than before and returns how many went.
func (s *InMemoryStore) DeleteChatMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chat[:0]
	var removed int64
	for _, m := range s.chat {
		if m.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.chat = kept
	return removed, nil
}

// Close closes all Watch streams.
func (s *InMemoryStore) Close() error {
	s.habitFeed.Close()
	s.petFeed.Close()
	return nil
}
