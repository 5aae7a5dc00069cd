// Package api provides the HTTP control surface for RumiPet.
//
// It exposes JSON endpoints over the pet status, habits, the mission timer, playback and
// the chat companion. Every response uses the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/RumiPet/internal/chat"
	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	// DefaultWriteTimeout covers a chat round trip to the generative backend.
	DefaultWriteTimeout = 60 * time.Second
	maxBodyBytes        = 1 << 20
)

// StatusService reads the pet status and toggles habit completion.
type StatusService interface {
	Current(ctx context.Context) (models.PetStatus, error)
	ToggleCompletion(ctx context.Context, id int64) (models.Habit, error)
}

// MissionService drives the mission timer.
type MissionService interface {
	State() models.MissionState
	Start(ctx context.Context, habit models.Habit) error
	TogglePause()
	Stop()
}

// Player controls playback.
type Player interface {
	State() models.PlaybackState
	Catalog() []models.Song
	Play(ctx context.Context, song models.Song, queue []models.Song)
	PlayPlaylist(ctx context.Context, ids []int64) bool
	TogglePlayPause() error
	SkipNext(ctx context.Context)
	SkipPrevious(ctx context.Context)
	ToggleShuffle() bool
	ToggleFavorite() bool
	SeekTo(fraction float64) error
}

// ChatService exchanges messages with the pet.
type ChatService interface {
	Send(ctx context.Context, text string, habits []models.Habit, current *models.Song) (chat.Result, error)
	History(ctx context.Context) ([]models.ChatMessage, error)
}

// Opts holds server configuration.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server serves the HTTP API.
type Server struct {
	habits   store.HabitStore
	status   StatusService
	missions MissionService
	player   Player
	chat     ChatService
	opts     Opts
	mux      *http.ServeMux
}

// NewServer wires the handlers over the given services.
func NewServer(habits store.HabitStore, status StatusService, missions MissionService, player Player, chatSvc ChatService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		habits:   habits,
		status:   status,
		missions: missions,
		player:   player,
		chat:     chatSvc,
		opts:     cfg,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /status", s.statusHandler)

	s.mux.HandleFunc("GET /habits", s.listHabitsHandler)
	s.mux.HandleFunc("POST /habits", s.createHabitHandler)
	s.mux.HandleFunc("DELETE /habits/{id}", s.deleteHabitHandler)
	s.mux.HandleFunc("POST /habits/{id}/toggle", s.toggleHabitHandler)

	s.mux.HandleFunc("GET /mission", s.missionHandler)
	s.mux.HandleFunc("POST /mission/start", s.startMissionHandler)
	s.mux.HandleFunc("POST /mission/pause", s.pauseMissionHandler)
	s.mux.HandleFunc("POST /mission/stop", s.stopMissionHandler)

	s.mux.HandleFunc("GET /playback", s.playbackHandler)
	s.mux.HandleFunc("GET /playback/catalog", s.catalogHandler)
	s.mux.HandleFunc("POST /playback/play", s.playHandler)
	s.mux.HandleFunc("POST /playback/toggle", s.togglePlaybackHandler)
	s.mux.HandleFunc("POST /playback/next", s.nextHandler)
	s.mux.HandleFunc("POST /playback/previous", s.previousHandler)
	s.mux.HandleFunc("POST /playback/shuffle", s.shuffleHandler)
	s.mux.HandleFunc("POST /playback/favorite", s.favoriteHandler)
	s.mux.HandleFunc("POST /playback/seek", s.seekHandler)

	s.mux.HandleFunc("GET /chat", s.chatHistoryHandler)
	s.mux.HandleFunc("POST /chat", s.sendChatHandler)
}

// Handler returns the root handler, useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		slog.Error("Server.Run: failed to listen", "addr", s.opts.Addr, "error", err)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("RumiPet API running", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Serve: server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Serve: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Serve: graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
