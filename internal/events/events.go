// Package events records observable engine occurrences for RumiPet.
//
// Engines never abort on a collaborator failure; they degrade to a safe state and report
// what happened here. Recording is best-effort and never returns an error to callers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	MissionStarted    = "mission.started"
	MissionCompleted  = "mission.completed"
	MissionCancelled  = "mission.cancelled"
	MoodChanged       = "mood.changed"
	TrackFailed       = "playback.track_failed"
	CaptureFailed     = "playback.capture_failed"
	QueueExhausted    = "playback.queue_exhausted"
	LibraryLoaded     = "library.loaded"
	StorageFailed     = "storage.failed"
	ChatFailed        = "chat.failed"
	ChatHistoryPruned = "chat.pruned"
)

// Event is a single recorded occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Ts        time.Time `json:"ts"`
	Component string    `json:"component"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       error     `json:"-"`
}

// New builds an event stamped with a time-ordered id and the current time.
func New(typ, component, subject, message string, err error) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      typ,
		Ts:        time.Now(),
		Component: component,
		Subject:   subject,
		Message:   message,
		Err:       err,
	}
}

// Recorder records events. Safe for concurrent use. Best-effort.
type Recorder interface {
	Record(e Event)
}

// Discard silently drops all events.
var Discard Recorder = discardRecorder{}

type discardRecorder struct{}

func (discardRecorder) Record(Event) {}

// Multi fans an event out to every recorder in order.
func Multi(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}
