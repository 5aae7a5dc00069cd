// Package api provides HTTP handlers for RumiPet endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RumiPet/internal/mission"
	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

// createHabitRequest is the body of POST /habits.
type createHabitRequest struct {
	Name            string            `json:"name"`
	Motive          string            `json:"motive"`
	Difficulty      models.Difficulty `json:"difficulty"`
	DurationMinutes int               `json:"duration_minutes"`
	StatCategory    string            `json:"stat_category,omitempty"`
	RecurrenceDays  models.WeekdaySet `json:"recurrence_days,omitempty"`
	PlaylistIDs     []int64           `json:"playlist_ids,omitempty"`
}

// startMissionRequest is the body of POST /mission/start.
type startMissionRequest struct {
	HabitID int64 `json:"habit_id"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Current(r.Context())
	if err != nil {
		slog.Error("Server.statusHandler: failed to derive status", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read pet status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

func (s *Server) listHabitsHandler(w http.ResponseWriter, r *http.Request) {
	habits, err := s.habits.ListHabits(r.Context())
	if err != nil {
		slog.Error("Server.listHabitsHandler: failed to list habits", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list habits"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(habits))
}

func (s *Server) createHabitHandler(w http.ResponseWriter, r *http.Request) {
	var req createHabitRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	h := models.NewHabit(req.Name, req.Motive, req.Difficulty, req.DurationMinutes, req.PlaylistIDs)
	if req.StatCategory != "" {
		h.StatCategory = req.StatCategory
	}
	if len(req.RecurrenceDays) > 0 {
		h.RecurrenceDays = req.RecurrenceDays
	}
	if err := h.Validate(); err != nil {
		slog.Warn("Server.createHabitHandler: validation failed", "error", err, "name", h.Name)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	id, err := s.habits.InsertHabit(r.Context(), h)
	if err != nil {
		slog.Error("Server.createHabitHandler: failed to insert habit", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create habit"))
		return
	}
	h.ID = id
	slog.Info("Server.createHabitHandler: habit created", "id", id, "name", h.Name)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Habit created", h))
}

func (s *Server) deleteHabitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// A mission must not outlive its habit.
	if st := s.missions.State(); st.Active() && st.ActiveHabit.ID == id {
		slog.Info("Server.deleteHabitHandler: stopping mission for deleted habit", "id", id)
		s.missions.Stop()
	}
	if err := s.habits.DeleteHabit(r.Context(), id); err != nil {
		slog.Error("Server.deleteHabitHandler: failed to delete habit", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete habit"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Habit deleted", nil))
}

func (s *Server) toggleHabitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h, err := s.status.ToggleCompletion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Habit not found"))
		return
	}
	if err != nil {
		slog.Error("Server.toggleHabitHandler: toggle failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to toggle habit"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(h))
}

func (s *Server) missionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.missions.State()))
}

func (s *Server) startMissionHandler(w http.ResponseWriter, r *http.Request) {
	var req startMissionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h, err := s.habits.GetHabit(r.Context(), req.HabitID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Habit not found"))
		return
	}
	if err != nil {
		slog.Error("Server.startMissionHandler: failed to load habit", "error", err, "id", req.HabitID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load habit"))
		return
	}

	if err := s.missions.Start(r.Context(), h); err != nil {
		if errors.Is(err, mission.ErrInvalidDuration) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.startMissionHandler: failed to start mission", "error", err, "id", h.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start mission"))
		return
	}

	// The habit's playlist becomes the soundtrack of the mission.
	if len(h.PlaylistIDs) > 0 && !s.player.PlayPlaylist(r.Context(), h.PlaylistIDs) {
		slog.Warn("Server.startMissionHandler: no playlist song is in the library", "id", h.ID, "playlist", h.PlaylistIDs)
	}
	slog.Info("Server.startMissionHandler: mission started", "id", h.ID, "name", h.Name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Mission started", s.missions.State()))
}

func (s *Server) pauseMissionHandler(w http.ResponseWriter, r *http.Request) {
	s.missions.TogglePause()
	writeJSONResponse(w, http.StatusOK, models.Success(s.missions.State()))
}

func (s *Server) stopMissionHandler(w http.ResponseWriter, r *http.Request) {
	s.missions.Stop()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Mission stopped", s.missions.State()))
}
