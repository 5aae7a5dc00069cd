// Package models defines the pet, mission and playback state structures for RumiPet.
package models

import "time"

// PetStatusID is the primary key of the singleton pet status record.
const PetStatusID = 1

// PetStatusRecord is the persisted baseline of the pet. Only the status engine writes it.
type PetStatusRecord struct {
	ID           int       `json:"id"`
	Mood         float64   `json:"mood"`
	LastActionAt time.Time `json:"last_action_at"`
}

// NewPetStatusRecord returns the record created on first run: a fully happy pet.
func NewPetStatusRecord(now time.Time) PetStatusRecord {
	return PetStatusRecord{ID: PetStatusID, Mood: 1, LastActionAt: now}
}

// WithMood returns a copy of the record with mood clamped to [0,1].
func (r PetStatusRecord) WithMood(mood float64) PetStatusRecord {
	r.Mood = Clamp01(mood)
	return r
}

// PetStatus is the externally visible projection of the pet. Health and hygiene are
// recomputed from the habit list and never stored.
type PetStatus struct {
	Mood    float64 `json:"mood"`
	Health  float64 `json:"health"`
	Hygiene float64 `json:"hygiene"`
}

// Clamp01 bounds v to the closed interval [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MissionPhase names the observable phase of the mission state machine.
type MissionPhase string

const (
	// MissionIdle means no mission is active.
	MissionIdle MissionPhase = "idle"
	// MissionRunning means a mission is counting down.
	MissionRunning MissionPhase = "running"
	// MissionPaused means a mission is active but its countdown is frozen.
	MissionPaused MissionPhase = "paused"
)

// MissionState is an immutable snapshot of the mission timer.
// IsPaused implies IsRunning; ActiveHabit is nil when idle.
type MissionState struct {
	ActiveHabit      *Habit `json:"active_habit,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining"`
	IsRunning        bool   `json:"is_running"`
	IsPaused         bool   `json:"is_paused"`
}

// Phase reports the state machine phase this snapshot represents.
func (m MissionState) Phase() MissionPhase {
	switch {
	case !m.IsRunning:
		return MissionIdle
	case m.IsPaused:
		return MissionPaused
	default:
		return MissionRunning
	}
}

// Active reports whether a mission is bound to a habit.
func (m MissionState) Active() bool {
	return m.IsRunning && m.ActiveHabit != nil
}

// MissionCompletion is emitted once per mission that counted down to zero.
type MissionCompletion struct {
	Habit       Habit     `json:"habit"`
	CompletedAt time.Time `json:"completed_at"`
}
