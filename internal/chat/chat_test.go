package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

type fakeGenerator struct {
	reply  string
	err    error
	system string
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func TestBuildContext(t *testing.T) {
	song := &models.Song{Title: "Moonlight", Artist: "Rumi"}
	habits := []models.Habit{
		{Name: "Leer", Completed: false},
		{Name: "Correr", Completed: true},
		{Name: "Meditar", Completed: false},
	}
	got := BuildContext("hola", habits, song)
	want := "ESTADO_SISTEMA:\n" +
		"Música_Actual: Rumi - Moonlight\n" +
		"Tareas_Pendientes: Leer, Meditar\n" +
		"Tareas_Completadas: Correr\n" +
		"---\n" +
		"MENSAJE_USUARIO: hola"
	if got != want {
		t.Errorf("BuildContext mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildContextPlaceholders(t *testing.T) {
	got := BuildContext("hey", []models.Habit{{Name: "Correr", Completed: true}}, nil)
	if !strings.Contains(got, "Música_Actual: "+SilencePlaceholder+"\n") {
		t.Errorf("missing silence placeholder in %q", got)
	}
	if !strings.Contains(got, "Tareas_Pendientes: "+NothingPendingMessage+"\n") {
		t.Errorf("missing nothing-pending placeholder in %q", got)
	}

	empty := BuildContext("hey", nil, nil)
	if !strings.Contains(empty, "Tareas_Completadas: \n") {
		t.Errorf("completed list should be empty, got %q", empty)
	}
}

func TestSendStoresExchange(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	defer s.Close()
	gen := &fakeGenerator{reply: "(o.o) ponte a correr"}
	svc := NewService(s, gen)

	res, err := svc.Send(ctx, "hola", []models.Habit{{Name: "Correr"}}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.OK || res.Reply.Text != "(o.o) ponte a correr" || res.Reply.IsUser {
		t.Errorf("unexpected result %+v", res)
	}
	if gen.system != SystemPrompt || !strings.HasSuffix(gen.prompt, "MENSAJE_USUARIO: hola") {
		t.Errorf("unexpected request: system=%q prompt=%q", gen.system, gen.prompt)
	}

	history, _ := svc.History(ctx)
	if len(history) != 2 || !history[0].IsUser || history[1].IsUser {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestSendBackendFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	defer s.Close()
	rec := events.NewFake()
	svc := NewService(s, &fakeGenerator{err: errors.New("quota exceeded")}, WithRecorder(rec))

	res, err := svc.Send(ctx, "hola", nil, nil)
	if err != nil {
		t.Fatalf("backend failure must not be returned as an error: %v", err)
	}
	if res.OK || res.Err == nil {
		t.Errorf("expected failed result, got %+v", res)
	}
	if !strings.HasPrefix(res.Reply.Text, "ERROR_SISTEMA: ") || !strings.Contains(res.Reply.Text, "quota exceeded") || !strings.HasSuffix(res.Reply.Text, ". ( . .)") {
		t.Errorf("unexpected error line %q", res.Reply.Text)
	}
	if len(rec.OfType(events.ChatFailed)) != 1 {
		t.Error("expected a chat failure event")
	}
}

func TestSendFallbackAndValidation(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	defer s.Close()
	svc := NewService(s, &fakeGenerator{reply: "  "})

	res, err := svc.Send(ctx, "hola", nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Text != FallbackReply {
		t.Errorf("reply = %q, want fallback", res.Reply.Text)
	}
	if _, err := svc.Send(ctx, "   ", nil, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	noBackend := NewService(s, nil)
	res, err = noBackend.Send(ctx, "hola", nil, nil)
	if err != nil || res.OK {
		t.Errorf("missing backend should yield a failed result, got %+v, %v", res, err)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	s := store.NewInMemoryStore()
	defer s.Close()
	s.InsertChatMessage(ctx, models.ChatMessage{Text: "old", Timestamp: now.Add(-8 * 24 * time.Hour)})
	s.InsertChatMessage(ctx, models.ChatMessage{Text: "new", Timestamp: now.Add(-6 * 24 * time.Hour)})

	svc := NewService(s, nil, WithClock(func() time.Time { return now }))
	n, err := svc.Prune(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	history, _ := svc.History(ctx)
	if len(history) != 1 || history[0].Text != "new" {
		t.Errorf("unexpected history %+v", history)
	}
}
