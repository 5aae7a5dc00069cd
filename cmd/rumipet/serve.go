package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/RumiPet/internal/api"
	"github.com/BTreeMap/RumiPet/internal/chat"
	"github.com/BTreeMap/RumiPet/internal/config"
	"github.com/BTreeMap/RumiPet/internal/coord"
	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/genai"
	"github.com/BTreeMap/RumiPet/internal/library"
	"github.com/BTreeMap/RumiPet/internal/lockfile"
	"github.com/BTreeMap/RumiPet/internal/mission"
	"github.com/BTreeMap/RumiPet/internal/playback"
	"github.com/BTreeMap/RumiPet/internal/scheduler"
	"github.com/BTreeMap/RumiPet/internal/status"
)

func newServeCmd(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pet engines and the HTTP API",
		Long: `Runs the status, mission, playback and chat engines behind the HTTP API.

Only one serve process may use a state directory at a time; a second one
exits with the pid of the running instance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("Bootstrapping RumiPet")
			if err := serve(ctx, cfg); err != nil {
				slog.Error("RumiPet failed to run", "error", err)
				return err
			}
			slog.Info("RumiPet exited successfully")
			return nil
		},
	}
}

// serve wires every engine and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	recorder := events.NewTelemetryRecorder(slog.Default())

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	statusEngine := status.NewEngine(st, status.WithRecorder(recorder))
	defer statusEngine.Close()
	if err := statusEngine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize pet status: %w", err)
	}

	missions := mission.NewEngine(statusEngine, mission.WithRecorder(recorder))
	defer missions.Close()

	player := playback.NewEngine(
		library.NewDirSource(cfg.MusicDir),
		playback.NewClockBackend(library.Exists),
		playback.WithRecorder(recorder),
		playback.WithPollInterval(cfg.PollInterval()),
	)
	defer player.Close()
	songs := player.LoadLibrary(ctx)
	slog.Info("Music library loaded", "dir", cfg.MusicDir, "songs", songs)

	if cfg.MusicDir != "" {
		watcher, err := library.NewWatcher(cfg.MusicDir, library.DefaultDebounce, func(ctx context.Context) {
			player.LoadLibrary(ctx)
		})
		if err != nil {
			slog.Warn("Music library watcher unavailable, changes need a restart", "dir", cfg.MusicDir, "error", err)
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					slog.Error("Music library watcher stopped", "error", err)
				}
			}()
		}
	}

	coordDone := coord.Bind(ctx, missions, player)
	go logCompletions(ctx, missions)

	chatSvc := chat.NewService(st, buildGenerator(cfg),
		chat.WithRecorder(recorder),
		chat.WithRetention(cfg.ChatRetention()))

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddNamedJob("inactivity-check", cfg.Schedule.InactivityCheck, func(ctx context.Context) error {
		_, err := statusEngine.CheckInactivityPenalty(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("invalid inactivity schedule %q: %w", cfg.Schedule.InactivityCheck, err)
	}
	if err := sched.AddNamedJob("chat-prune", cfg.Schedule.ChatPrune, func(ctx context.Context) error {
		_, err := chatSvc.Prune(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("invalid chat prune schedule %q: %w", cfg.Schedule.ChatPrune, err)
	}

	srv := api.NewServer(st, statusEngine, missions, player, chatSvc, api.WithAddr(cfg.APIAddr))
	err = srv.Run(ctx)
	<-coordDone
	return err
}

// buildGenerator returns the chat backend, or nil when no API key is configured.
func buildGenerator(cfg config.Config) chat.Generator {
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAI.APIKey)}
	if cfg.OpenAI.Model != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAI.Model))
	}
	if cfg.OpenAI.Temperature > 0 {
		opts = append(opts, genai.WithTemperature(cfg.OpenAI.Temperature))
	}
	if cfg.OpenAI.MaxTokens > 0 {
		opts = append(opts, genai.WithMaxCompletionTokens(cfg.OpenAI.MaxTokens))
	}
	if cfg.Debug {
		opts = append(opts, genai.WithDebug(cfg.StateDir))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("Chat backend disabled", "reason", err)
		return nil
	}
	return client
}

func logCompletions(ctx context.Context, missions *mission.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-missions.Completions():
			slog.Info("Mission completed", "habit", c.Habit.Name, "at", c.CompletedAt)
		}
	}
}
