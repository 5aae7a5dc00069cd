package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/RumiPet/internal/models"
)

const habitColumns = `id, name, motive, difficulty, completed, stat_category, recurrence_days, duration_minutes, playlist_ids`

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends. Queries are
// written with '?' placeholders and rebound for the target driver.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool // PostgreSQL uses $1, $2, ... placeholders

	habitFeed *Feed[[]models.Habit]
	petFeed   *Feed[*models.PetStatusRecord]
}

func newSQLStore(db *sql.DB, name string, numbered bool, idleTimeout time.Duration) *sqlStore {
	s := &sqlStore{db: db, name: name, numbered: numbered}
	s.habitFeed = NewFeed("habits", idleTimeout, s.ListHabits)
	s.petFeed = NewFeed("pet_status", idleTimeout, s.GetPetStatus)
	return s
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (models.Habit, error) {
	var h models.Habit
	var difficulty, days, playlist string
	if err := row.Scan(&h.ID, &h.Name, &h.Motive, &difficulty, &h.Completed, &h.StatCategory, &days, &h.DurationMinutes, &playlist); err != nil {
		return h, err
	}
	h.Difficulty = models.Difficulty(difficulty)
	set, err := models.ParseWeekdaySet(days)
	if err != nil {
		return h, fmt.Errorf("habit %d recurrence days: %w", h.ID, err)
	}
	h.RecurrenceDays = set
	h.PlaylistIDs = models.ParseIDList(playlist)
	return h, nil
}

func recurrenceOrDefault(h models.Habit) string {
	if h.RecurrenceDays == nil {
		return models.AllWeekdays().String()
	}
	return h.RecurrenceDays.String()
}

func statCategoryOrDefault(h models.Habit) string {
	if h.StatCategory == "" {
		return models.DefaultStatCategory
	}
	return h.StatCategory
}

func (s *sqlStore) ListHabits(ctx context.Context) ([]models.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+habitColumns+` FROM habits ORDER BY completed ASC, id DESC`)
	if err != nil {
		slog.Error(s.name+".ListHabits query failed", "error", err)
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	habits := []models.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			slog.Error(s.name+".ListHabits scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan habit row: %w", err)
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate habit rows: %w", err)
	}
	return habits, nil
}

func (s *sqlStore) GetHabit(ctx context.Context, id int64) (models.Habit, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+habitColumns+` FROM habits WHERE id = ?`), id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Habit{}, fmt.Errorf("habit %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Habit{}, fmt.Errorf("failed to get habit %d: %w", id, err)
	}
	return h, nil
}

func (s *sqlStore) InsertHabit(ctx context.Context, h models.Habit) (int64, error) {
	args := []any{h.Name, h.Motive, string(h.Difficulty), h.Completed, statCategoryOrDefault(h), recurrenceOrDefault(h), h.DurationMinutes, models.EncodeIDList(h.PlaylistIDs)}

	var id int64
	var err error
	if h.ID == 0 {
		err = s.db.QueryRowContext(ctx, s.rebind(`
			INSERT INTO habits (name, motive, difficulty, completed, stat_category, recurrence_days, duration_minutes, playlist_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`), args...).Scan(&id)
	} else {
		err = s.db.QueryRowContext(ctx, s.rebind(`
			INSERT INTO habits (id, name, motive, difficulty, completed, stat_category, recurrence_days, duration_minutes, playlist_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, motive = excluded.motive, difficulty = excluded.difficulty,
				completed = excluded.completed, stat_category = excluded.stat_category,
				recurrence_days = excluded.recurrence_days, duration_minutes = excluded.duration_minutes,
				playlist_ids = excluded.playlist_ids
			RETURNING id`), append([]any{h.ID}, args...)...).Scan(&id)
	}
	if err != nil {
		slog.Error(s.name+".InsertHabit failed", "error", err, "name", h.Name)
		return 0, fmt.Errorf("failed to insert habit %q: %w", h.Name, err)
	}
	slog.Debug(s.name+".InsertHabit succeeded", "id", id, "name", h.Name)
	s.habitFeed.Refresh(ctx)
	return id, nil
}

func (s *sqlStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE habits
		SET name = ?, motive = ?, difficulty = ?, completed = ?, stat_category = ?, recurrence_days = ?, duration_minutes = ?, playlist_ids = ?
		WHERE id = ?`),
		h.Name, h.Motive, string(h.Difficulty), h.Completed, statCategoryOrDefault(h), recurrenceOrDefault(h), h.DurationMinutes, models.EncodeIDList(h.PlaylistIDs), h.ID)
	if err != nil {
		slog.Error(s.name+".UpdateHabit failed", "error", err, "id", h.ID)
		return fmt.Errorf("failed to update habit %d: %w", h.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("habit %d: %w", h.ID, ErrNotFound)
	}
	s.habitFeed.Refresh(ctx)
	return nil
}

func (s *sqlStore) DeleteHabit(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM habits WHERE id = ?`), id); err != nil {
		slog.Error(s.name+".DeleteHabit failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete habit %d: %w", id, err)
	}
	s.habitFeed.Refresh(ctx)
	return nil
}

func (s *sqlStore) WatchHabits(ctx context.Context) (<-chan []models.Habit, error) {
	return s.habitFeed.Subscribe(ctx)
}

func (s *sqlStore) GetPetStatus(ctx context.Context) (*models.PetStatusRecord, error) {
	var rec models.PetStatusRecord
	var lastMs int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, mood, last_action_ms FROM pet_status WHERE id = ?`), models.PetStatusID).
		Scan(&rec.ID, &rec.Mood, &lastMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+".GetPetStatus failed", "error", err)
		return nil, fmt.Errorf("failed to get pet status: %w", err)
	}
	rec.LastActionAt = time.UnixMilli(lastMs)
	return &rec, nil
}

func (s *sqlStore) UpsertPetStatus(ctx context.Context, rec models.PetStatusRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO pet_status (id, mood, last_action_ms) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET mood = excluded.mood, last_action_ms = excluded.last_action_ms`),
		models.PetStatusID, models.Clamp01(rec.Mood), rec.LastActionAt.UnixMilli())
	if err != nil {
		slog.Error(s.name+".UpsertPetStatus failed", "error", err)
		return fmt.Errorf("failed to upsert pet status: %w", err)
	}
	slog.Debug(s.name+".UpsertPetStatus succeeded", "mood", rec.Mood)
	s.petFeed.Refresh(ctx)
	return nil
}

func (s *sqlStore) WatchPetStatus(ctx context.Context) (<-chan *models.PetStatusRecord, error) {
	return s.petFeed.Subscribe(ctx)
}

func (s *sqlStore) InsertChatMessage(ctx context.Context, m models.ChatMessage) (int64, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO chat_history (text, is_user, timestamp_ms) VALUES (?, ?, ?) RETURNING id`),
		m.Text, m.IsUser, m.Timestamp.UnixMilli()).Scan(&id)
	if err != nil {
		slog.Error(s.name+".InsertChatMessage failed", "error", err)
		return 0, fmt.Errorf("failed to insert chat message: %w", err)
	}
	return id, nil
}

func (s *sqlStore) ListChatMessages(ctx context.Context) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, is_user, timestamp_ms FROM chat_history ORDER BY timestamp_ms ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var ts int64
		if err := rows.Scan(&m.ID, &m.Text, &m.IsUser, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *sqlStore) DeleteChatMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM chat_history WHERE timestamp_ms < ?`), before.UnixMilli())
	if err != nil {
		slog.Error(s.name+".DeleteChatMessagesBefore failed", "error", err)
		return 0, fmt.Errorf("failed to prune chat history: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug(s.name+".DeleteChatMessagesBefore succeeded", "removed", n)
	return n, nil
}

// Close closes the Watch streams and the database connection.
func (s *sqlStore) Close() error {
	s.habitFeed.Close()
	s.petFeed.Close()
	slog.Debug("Closing database connection", "store", s.name)
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "store", s.name, "error", err)
	}
	return err
}
