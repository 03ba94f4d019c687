package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/lock"
	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// ErrTransient is returned when a profile update could not be committed after
// every retry. The session remains unfolded and the update can be retried.
var ErrTransient = errors.New("transient profile update failure")

// RetryConfig bounds the update retry loop.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// Service serializes profile updates per user: a Locker excludes concurrent
// writers and the repository's version check catches anything the lock misses.
type Service struct {
	repo   storage.ProfileRepository
	locker lock.Locker
	agg    *Aggregator
	bus    *events.Bus
	log    *logger.Logger
	retry  RetryConfig
}

// NewService wires a profile service. bus may be nil.
func NewService(repo storage.ProfileRepository, locker lock.Locker, agg *Aggregator, bus *events.Bus, log *logger.Logger, retry RetryConfig) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if agg == nil {
		agg = NewAggregator(DefaultConfig())
	}
	if log == nil {
		log = logger.Nop()
	}
	def := DefaultRetryConfig()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = def.InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = def.MaxInterval
	}
	return &Service{
		repo:   repo,
		locker: locker,
		agg:    agg,
		bus:    bus,
		log:    log.With("component", "profile"),
		retry:  retry,
	}
}

// Get returns the stored profile, or a fresh default for an unknown user.
func (s *Service) Get(ctx context.Context, userID string) (*model.BehaviorProfile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewBehaviorProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	return p, nil
}

// Apply folds a terminal session into its user's profile exactly once.
func (s *Service) Apply(ctx context.Context, sum model.Summary) (*model.BehaviorProfile, error) {
	var result *model.BehaviorProfile
	attempts := 0
	folded := false

	op := func() error {
		attempts++
		release, err := s.locker.Acquire(ctx, sum.UserID)
		if err != nil {
			return err
		}
		defer release()

		current, err := s.Get(ctx, sum.UserID)
		if err != nil {
			return err
		}
		if current.HasFolded(sum.SessionID) {
			result = current
			folded = false
			return nil
		}

		next := s.agg.UpdateProfile(current, sum)
		if err := s.repo.SaveProfile(ctx, next); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				s.log.Debug("profile version conflict, retrying", "user_id", sum.UserID, "attempt", attempts)
			}
			return err
		}
		result = next
		folded = true
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retry.InitialInterval
	eb.MaxInterval = s.retry.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.retry.MaxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		s.log.Warn("profile update failed", "user_id", sum.UserID, "session_id", sum.SessionID, "attempts", attempts, "error", err)
		s.emit("warn", "profile.update_failed", err.Error(), map[string]interface{}{
			"user_id":    sum.UserID,
			"session_id": sum.SessionID,
			"attempts":   attempts,
		})
		return nil, fmt.Errorf("%w: user %s session %s: %w", ErrTransient, sum.UserID, sum.SessionID, err)
	}

	if !folded {
		s.log.Debug("session already folded", "user_id", sum.UserID, "session_id", sum.SessionID)
		return result, nil
	}

	s.emit("info", "profile.updated", "", map[string]interface{}{
		"user_id":            result.UserID,
		"session_id":         sum.SessionID,
		"version":            result.Version,
		"click_rate":         result.ClickRate,
		"current_difficulty": result.CurrentDifficulty,
	})
	return result, nil
}

func (s *Service) emit(level, name, msg string, fields map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(level, name, msg, fields); err != nil {
		s.log.Error("failed to emit event", "event", name, "error", err)
	}
}
