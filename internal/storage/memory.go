package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	scenarios map[string]*scenario.Definition
	sessions  map[string]*model.Session
	profiles  map[string]*model.BehaviorProfile
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		scenarios: make(map[string]*scenario.Definition),
		sessions:  make(map[string]*model.Session),
		profiles:  make(map[string]*model.BehaviorProfile),
	}
}

// GetScenario returns the definition with id. Definitions are immutable once
// stored, so the shared pointer is returned.
func (m *Memory) GetScenario(_ context.Context, id string) (*scenario.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return def, nil
}

func (m *Memory) PutScenario(_ context.Context, def *scenario.Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("scenario id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.scenarios[def.ID]; ok {
		if scenario.SameContent(cur, def) {
			return nil
		}
		return fmt.Errorf("scenario %s: %w", def.ID, ErrConflict)
	}
	m.scenarios[def.ID] = def
	return nil
}

func (m *Memory) ListScenarios(_ context.Context) ([]*scenario.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*scenario.Definition, 0, len(m.scenarios))
	for _, def := range m.scenarios {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListActiveSessions(_ context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, s := range m.sessions {
		if s.State == model.StateActive {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*model.BehaviorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *Memory) SaveProfile(_ context.Context, p *model.BehaviorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if cur, ok := m.profiles[p.UserID]; ok {
		stored = cur.Version
	}
	if stored != p.Version {
		return fmt.Errorf("profile %s at version %d, have %d: %w", p.UserID, stored, p.Version, ErrVersionConflict)
	}
	p.Version++
	m.profiles[p.UserID] = p.Clone()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
