package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AaronLay10/SentientDrill/internal/logger"
)

// Sweeper periodically abandons sessions that have been idle longer than the
// timeout. One ticker serves every session.
type Sweeper struct {
	engine   *Engine
	timeout  time.Duration
	interval time.Duration
	log      *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper. interval defaults to a quarter of timeout.
func NewSweeper(engine *Engine, timeout, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = timeout / 4
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		timeout:  timeout,
		interval: interval,
		log:      engine.log.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn("sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// Sweep runs one pass and returns the number of sessions abandoned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	active, err := s.engine.sessions.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.engine.now().UTC().Add(-s.timeout)
	expired := 0
	for _, sess := range active {
		if !sess.LastActivityAt.Before(cutoff) {
			continue
		}
		out, err := s.engine.expire(ctx, sess.ID, cutoff)
		switch {
		case errors.Is(err, ErrInvalidState):
			// finished between list and lock
		case out != nil:
			expired++
			if err != nil {
				s.log.Warn("timed out session not yet folded into profile", "session_id", sess.ID, "error", err)
			}
		case err != nil:
			s.log.Warn("failed to expire session", "session_id", sess.ID, "error", err)
		}
	}
	if expired > 0 {
		s.log.Info("expired idle sessions", "count", expired, "timeout", s.timeout.String())
	}
	return expired, nil
}
