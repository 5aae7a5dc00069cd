// Package store provides storage backends for RumiPet.
//
// It defines the persistent store contract used by the engines (habits, the singleton pet
// status record and chat history) together with reactive Watch streams, and ships an
// in-memory store plus SQLite and PostgreSQL backends.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RumiPet/internal/models"
)

// DefaultIdleTimeout is how long a Watch stream keeps its cached value after the last
// subscriber leaves.
const DefaultIdleTimeout = 5 * time.Second

// ErrNotFound is returned when a record addressed by id does not exist.
var ErrNotFound = errors.New("record not found")

// HabitStore persists habits. Lists are ordered by (completed ASC, id DESC).
type HabitStore interface {
	ListHabits(ctx context.Context) ([]models.Habit, error)
	GetHabit(ctx context.Context, id int64) (models.Habit, error)
	InsertHabit(ctx context.Context, h models.Habit) (int64, error)
	UpdateHabit(ctx context.Context, h models.Habit) error
	DeleteHabit(ctx context.Context, id int64) error
	// WatchHabits replays the current list on subscribe and emits a new list after every
	// write. The channel is closed when ctx is done.
	WatchHabits(ctx context.Context) (<-chan []models.Habit, error)
}

// PetStatusStore persists the singleton pet status record.
type PetStatusStore interface {
	// GetPetStatus returns nil when the record has never been created.
	GetPetStatus(ctx context.Context) (*models.PetStatusRecord, error)
	UpsertPetStatus(ctx context.Context, rec models.PetStatusRecord) error
	WatchPetStatus(ctx context.Context) (<-chan *models.PetStatusRecord, error)
}

// ChatStore persists chat history.
type ChatStore interface {
	InsertChatMessage(ctx context.Context, m models.ChatMessage) (int64, error)
	// ListChatMessages returns messages ordered by timestamp ascending.
	ListChatMessages(ctx context.Context) ([]models.ChatMessage, error)
	DeleteChatMessagesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistent store contract.
type Store interface {
	HabitStore
	PetStatusStore
	ChatStore
	Close() error
}

// Opts holds configuration shared by the store backends.
type Opts struct {
	DSN         string
	Driver      string
	IdleTimeout time.Duration
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// WithIdleTimeout overrides how long Watch streams stay warm without subscribers.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.IdleTimeout = d
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Open builds the backend selected by opts. Without a DSN it returns an in-memory store.
func Open(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	switch {
	case cfg.DSN == "":
		slog.Debug("Store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(opts...), nil
	case cfg.Driver == "postgres" || (cfg.Driver == "" && DetectDSNType(cfg.DSN) == "postgres"):
		slog.Debug("Store.Open: using PostgreSQL store")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("Store.Open: using SQLite store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}
