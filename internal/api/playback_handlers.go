package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/playback"
)

type playRequest struct {
	SongID   int64   `json:"song_id"`
	QueueIDs []int64 `json:"queue_ids,omitempty"`
}

type seekRequest struct {
	Fraction float64 `json:"fraction"`
}

func (s *Server) playbackHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	catalog := s.player.Catalog()
	if catalog == nil {
		catalog = []models.Song{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(catalog))
}

func (s *Server) playHandler(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	catalog := s.player.Catalog()
	var song *models.Song
	for i := range catalog {
		if catalog[i].ID == req.SongID {
			song = &catalog[i]
			break
		}
	}
	if song == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Song not found"))
		return
	}

	var queue []models.Song
	if len(req.QueueIDs) > 0 {
		want := make(map[int64]struct{}, len(req.QueueIDs))
		for _, id := range req.QueueIDs {
			want[id] = struct{}{}
		}
		for _, c := range catalog {
			if _, ok := want[c.ID]; ok {
				queue = append(queue, c)
			}
		}
	}

	s.player.Play(r.Context(), *song, queue)
	slog.Debug("Server.playHandler: play requested", "song", song.ID, "queue", len(queue))
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) togglePlaybackHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.player.TogglePlayPause(); err != nil {
		writePlayerError(w, "togglePlaybackHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) nextHandler(w http.ResponseWriter, r *http.Request) {
	s.player.SkipNext(r.Context())
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) previousHandler(w http.ResponseWriter, r *http.Request) {
	s.player.SkipPrevious(r.Context())
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) shuffleHandler(w http.ResponseWriter, r *http.Request) {
	s.player.ToggleShuffle()
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) favoriteHandler(w http.ResponseWriter, r *http.Request) {
	s.player.ToggleFavorite()
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func (s *Server) seekHandler(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := s.player.SeekTo(req.Fraction); err != nil {
		writePlayerError(w, "seekHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.player.State()))
}

func writePlayerError(w http.ResponseWriter, handler string, err error) {
	if errors.Is(err, playback.ErrNoResource) {
		writeJSONResponse(w, http.StatusConflict, models.Error("Nothing is loaded"))
		return
	}
	slog.Error("Server."+handler+": playback control failed", "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Playback control failed"))
}
