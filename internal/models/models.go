// Package models defines the core data structures for RumiPet.
//
// It includes habits, the pet status record and its derived projection, songs and the
// playback snapshot, mission snapshots and chat history, which are shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Difficulty describes how demanding a habit is.
type Difficulty string

const (
	// DifficultyEasy marks a habit that takes little effort.
	DifficultyEasy Difficulty = "EASY"
	// DifficultyMedium marks a habit with moderate effort.
	DifficultyMedium Difficulty = "MEDIUM"
	// DifficultyHard marks a demanding habit.
	DifficultyHard Difficulty = "HARD"
)

// DefaultStatCategory is the stat category assigned to habits that do not specify one.
const DefaultStatCategory = "GENERAL"

// Validation constants for habit input
const (
	// MaxHabitNameLength defines the maximum allowed length for a habit name
	MaxHabitNameLength = 200
	// MaxHabitMotiveLength defines the maximum allowed length for a habit motive
	MaxHabitMotiveLength = 1000
)

// Error variables for better error handling and testability
var (
	ErrEmptyHabitName     = errors.New("habit name cannot be empty")
	ErrHabitNameTooLong   = errors.New("habit name exceeds maximum length")
	ErrHabitMotiveTooLong = errors.New("habit motive exceeds maximum length")
	ErrInvalidDifficulty  = errors.New("invalid difficulty")
	ErrNegativeDuration   = errors.New("duration minutes cannot be negative")
	ErrInvalidWeekday     = errors.New("weekday must be between 1 (Monday) and 7 (Sunday)")
)

// IsValidDifficulty checks if the given difficulty is supported.
func IsValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// ParseDifficulty parses a difficulty name case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToUpper(strings.TrimSpace(s)))
	if !IsValidDifficulty(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
	return d, nil
}

// WeekdaySet is a set of ISO weekdays, 1 = Monday through 7 = Sunday.
type WeekdaySet map[int]struct{}

// AllWeekdays returns a set containing every day of the week.
func AllWeekdays() WeekdaySet {
	s := make(WeekdaySet, 7)
	for d := 1; d <= 7; d++ {
		s[d] = struct{}{}
	}
	return s
}

// Contains reports whether the set includes the given ISO weekday.
func (s WeekdaySet) Contains(day int) bool {
	_, ok := s[day]
	return ok
}

// ContainsTime reports whether t falls on a day in the set.
func (s WeekdaySet) ContainsTime(t time.Time) bool {
	day := int(t.Weekday())
	if day == 0 {
		day = 7
	}
	return s.Contains(day)
}

// Days returns the weekdays in ascending order.
func (s WeekdaySet) Days() []int {
	days := make([]int, 0, len(s))
	for d := range s {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// String encodes the set in the stored "1,2,3" form.
func (s WeekdaySet) String() string {
	days := s.Days()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the set as an ascending array of ISO weekdays.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Days())
}

// UnmarshalJSON decodes an array of ISO weekdays.
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	set := make(WeekdaySet, len(days))
	for _, d := range days {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
		set[d] = struct{}{}
	}
	*s = set
	return nil
}

// ParseWeekdaySet decodes the stored "1,2,3" form. An empty string yields an empty set.
func ParseWeekdaySet(s string) (WeekdaySet, error) {
	set := make(WeekdaySet)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 1 || d > 7 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, part)
		}
		set[d] = struct{}{}
	}
	return set, nil
}

// Habit is a recurring task definition with difficulty, duration, and optional linked playlist.
type Habit struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Motive          string     `json:"motive"`
	Difficulty      Difficulty `json:"difficulty"`
	Completed       bool       `json:"completed"`
	StatCategory    string     `json:"stat_category"`
	RecurrenceDays  WeekdaySet `json:"recurrence_days"`
	DurationMinutes int        `json:"duration_minutes"`
	PlaylistIDs     []int64    `json:"playlist_ids,omitempty"`
}

// NewHabit returns a habit with the same defaults the original app applied on creation.
func NewHabit(name, motive string, difficulty Difficulty, durationMinutes int, playlistIDs []int64) Habit {
	return Habit{
		Name:            name,
		Motive:          motive,
		Difficulty:      difficulty,
		StatCategory:    DefaultStatCategory,
		RecurrenceDays:  AllWeekdays(),
		DurationMinutes: durationMinutes,
		PlaylistIDs:     playlistIDs,
	}
}

// Validate performs validation on a Habit structure.
func (h *Habit) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return ErrEmptyHabitName
	}
	if len(h.Name) > MaxHabitNameLength {
		return ErrHabitNameTooLong
	}
	if len(h.Motive) > MaxHabitMotiveLength {
		return ErrHabitMotiveTooLong
	}
	if !IsValidDifficulty(h.Difficulty) {
		return ErrInvalidDifficulty
	}
	if h.DurationMinutes < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Clone returns a deep copy so snapshots never share slices or maps with their source.
func (h Habit) Clone() Habit {
	if h.PlaylistIDs != nil {
		h.PlaylistIDs = append([]int64(nil), h.PlaylistIDs...)
	}
	if h.RecurrenceDays != nil {
		days := make(WeekdaySet, len(h.RecurrenceDays))
		for d := range h.RecurrenceDays {
			days[d] = struct{}{}
		}
		h.RecurrenceDays = days
	}
	return h
}

// EncodeIDList joins ids in the stored "101,102,105" form.
func EncodeIDList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ParseIDList decodes the stored "101,102,105" form, skipping entries that are not numbers.
func ParseIDList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ChatMessage is a single persisted line of the pet chat.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
