// Package storage defines the repositories the engine persists through.
package storage

import (
	"context"
	"errors"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by SaveProfile when the stored version
	// differs from the version the caller loaded.
	ErrVersionConflict = errors.New("version conflict")
	// ErrConflict is returned by PutScenario when the id is already stored
	// with different content.
	ErrConflict = errors.New("conflict")
)

// ScenarioRepository stores scenario definitions. Definitions are write-once:
// PutScenario of an id already stored succeeds only when the content is
// unchanged, otherwise it returns ErrConflict. Sessions keep resolving their
// scenario id to the definition they started on.
type ScenarioRepository interface {
	GetScenario(ctx context.Context, id string) (*scenario.Definition, error)
	PutScenario(ctx context.Context, def *scenario.Definition) error
	ListScenarios(ctx context.Context) ([]*scenario.Definition, error)
}

// SessionRepository stores sessions. SaveSession is an upsert.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SaveSession(ctx context.Context, s *model.Session) error
	ListActiveSessions(ctx context.Context) ([]*model.Session, error)
}

// ProfileRepository stores behavior profiles with optimistic concurrency.
// SaveProfile succeeds only if the stored version equals p.Version (0 for a
// profile never saved); on success p.Version is incremented.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.BehaviorProfile, error)
	SaveProfile(ctx context.Context, p *model.BehaviorProfile) error
}

// Store bundles every repository behind one connection.
type Store interface {
	ScenarioRepository
	SessionRepository
	ProfileRepository
	Close() error
}
