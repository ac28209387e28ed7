package store

import (
	"context"
	"time"

	"github.com/me/ccsched/pkg/model"
)

// Store persists recorded scheduler runs and their action traces.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, opts model.ListOptions) ([]*model.Session, int, error)
	EndSession(ctx context.Context, id string, at time.Time) error

	// Action trace
	InsertActions(ctx context.Context, recs []model.ActionRecord) error
	ListActions(ctx context.Context, opts model.ListOptions) ([]*model.ActionRecord, int, error)
	CountActions(ctx context.Context, sessionID string) (model.ActionSummary, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
