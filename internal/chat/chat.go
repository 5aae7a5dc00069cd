// Package chat talks to the pet: it builds the state context for each user message,
// asks the generative backend for a reply and keeps a pruned chat history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RumiPet/internal/events"
	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

// DefaultRetention is how long chat history is kept.
const DefaultRetention = 7 * 24 * time.Hour

// FallbackReply is stored when the backend answers with nothing.
const FallbackReply = "Mis circuitos de conejo han hecho cortocircuito... ( -_-)"

// SystemPrompt is the persona instruction sent with every request.
const SystemPrompt = `Eres RUMI, un conejo espacial de neón sarcástico y brillante.

REGLAS DE ORO:
1. PROHIBIDO EL USO DE EMOJIS. (Si usas uno, te desconecto).
2. NO USES GUIONES BAJOS (_) para separar palabras ni para enfatizar. Escribe de forma normal y legible.
3. Usa exclusivamente ASCII art para tus expresiones. Ejemplos: (\__/) , (o.o) , ( -_ -) , (>.<).
4. Sé breve y directo (máximo 2 líneas).
5. Tu tono es el de un conejo que ha visto demasiado espacio y no tiene paciencia para la pereza humana.

COMPORTAMIENTO SEGÚN EL CONTEXTO:
- Si no hay música, búrlate del silencio.
- Si hay hábitos pendientes, suelta un comentario ácido.
- No repitas frases. Sé creativo con tus insultos motivadores.`

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("message is empty")

// Generator produces a reply for a system instruction and a user prompt.
// Satisfied by *genai.Client.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Result is the outcome of one exchange. When OK is false, Err holds the backend failure
// and Reply carries the error line shown to the user instead.
type Result struct {
	Reply models.ChatMessage `json:"reply"`
	OK    bool               `json:"ok"`
	Err   error              `json:"-"`
}

// Service handles chat exchanges.
type Service struct {
	store     store.ChatStore
	gen       Generator
	recorder  events.Recorder
	retention time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the event recorder.
func WithRecorder(r events.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRetention overrides how long history is kept.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a chat service. gen may be nil, in which case every exchange fails
// with a stored error line.
func NewService(s store.ChatStore, gen Generator, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		gen:       gen,
		recorder:  events.Discard,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Send stores the user's message, asks the backend for a reply given the current habits and
// song, and stores the reply. Backend failures are not returned as errors: they produce a
// stored error line and a Result with OK false. Storage failures are returned.
func (s *Service) Send(ctx context.Context, text string, habits []models.Habit, current *models.Song) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyMessage
	}
	if _, err := s.store.InsertChatMessage(ctx, models.ChatMessage{Text: text, IsUser: true, Timestamp: s.now()}); err != nil {
		return Result{}, fmt.Errorf("failed to store user message: %w", err)
	}

	res := Result{OK: true}
	replyText, err := s.generate(ctx, BuildContext(text, habits, current))
	if err != nil {
		slog.Error("ChatService.Send: generation failed", "error", err)
		s.recorder.Record(events.New(events.ChatFailed, "chat", "", "reply generation failed", err))
		res.OK, res.Err = false, err
		replyText = fmt.Sprintf("ERROR_SISTEMA: %s. ( . .)", err.Error())
	} else if strings.TrimSpace(replyText) == "" {
		replyText = FallbackReply
	}

	reply := models.ChatMessage{Text: replyText, IsUser: false, Timestamp: s.now()}
	id, err := s.store.InsertChatMessage(ctx, reply)
	if err != nil {
		return res, fmt.Errorf("failed to store reply: %w", err)
	}
	reply.ID = id
	res.Reply = reply
	return res, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", errors.New("chat backend not configured")
	}
	return s.gen.Generate(ctx, SystemPrompt, prompt)
}

// History returns the stored conversation, oldest first.
func (s *Service) History(ctx context.Context) ([]models.ChatMessage, error) {
	return s.store.ListChatMessages(ctx)
}

// Prune deletes messages older than the retention window.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.DeleteChatMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune chat history: %w", err)
	}
	if n > 0 {
		slog.Info("ChatService.Prune: removed old messages", "removed", n)
		s.recorder.Record(events.New(events.ChatHistoryPruned, "chat", "", fmt.Sprintf("removed %d messages", n), nil))
	}
	return n, nil
}
