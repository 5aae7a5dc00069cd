package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RumiPet/internal/chat"
	"github.com/BTreeMap/RumiPet/internal/models"
)

type sendChatRequest struct {
	Text string `json:"text"`
}

func (s *Server) chatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.History(r.Context())
	if err != nil {
		slog.Error("Server.chatHistoryHandler: failed to read history", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read chat history"))
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

func (s *Server) sendChatHandler(w http.ResponseWriter, r *http.Request) {
	var req sendChatRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	habits, err := s.habits.ListHabits(r.Context())
	if err != nil {
		slog.Error("Server.sendChatHandler: failed to list habits", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read habits"))
		return
	}

	res, err := s.chat.Send(r.Context(), req.Text, habits, s.player.State().CurrentSong)
	if errors.Is(err, chat.ErrEmptyMessage) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.sendChatHandler: chat exchange failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store chat message"))
		return
	}
	if !res.OK {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Chat backend unavailable", res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}
