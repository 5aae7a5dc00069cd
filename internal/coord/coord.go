// Package coord mirrors mission pause state onto playback.
package coord

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/playback"
)

// MissionSource publishes mission snapshots. Satisfied by *mission.Engine.
type MissionSource interface {
	Subscribe(ctx context.Context) <-chan models.MissionState
}

// Player is the part of the playback engine the rule drives. Satisfied by *playback.Engine.
type Player interface {
	Pause() error
	Resume() error
}

// Bind runs the rule until ctx is done or the mission stream closes: when a running
// mission pauses, playback pauses; when it resumes, playback resumes. Snapshots of an idle
// mission never touch playback, so manual play/pause outside missions is left alone.
// The returned channel is closed when the rule stops.
func Bind(ctx context.Context, missions MissionSource, player Player) <-chan struct{} {
	done := make(chan struct{})
	states := missions.Subscribe(ctx)
	go func() {
		defer close(done)
		var last models.MissionState
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				apply(last, st, player)
				last = st
			}
		}
	}()
	return done
}

// apply issues the playback command implied by the transition prev -> next.
func apply(prev, next models.MissionState, player Player) {
	if !next.Active() {
		return
	}
	// A new mission starting unpaused is not a resume.
	sameMission := prev.Active() && prev.ActiveHabit.ID == next.ActiveHabit.ID
	if !sameMission || prev.IsPaused == next.IsPaused {
		return
	}

	var err error
	if next.IsPaused {
		slog.Debug("Coord.apply: mission paused, pausing playback", "habit", next.ActiveHabit.Name)
		err = player.Pause()
	} else {
		slog.Debug("Coord.apply: mission resumed, resuming playback", "habit", next.ActiveHabit.Name)
		err = player.Resume()
	}
	if err != nil && !errors.Is(err, playback.ErrNoResource) {
		slog.Warn("Coord.apply: playback command failed", "paused", next.IsPaused, "error", err)
	}
}
