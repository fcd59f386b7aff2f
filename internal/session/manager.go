package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
)

// Manager hands out one engine per authenticated user, started lazily on
// first use. Repeated lookups return the same engine, which keeps the
// subscription set single per session.
type Manager struct {
	gw     gateway.Gateway
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager constructs the session manager.
func NewManager(gw gateway.Gateway, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		gw:      gw,
		opts:    opts,
		logger:  logger,
		engines: make(map[string]*Engine),
	}
}

// Get returns the user's engine, starting one when none exists yet. A
// failed start is not cached, so the next attach retries cleanly.
func (m *Manager) Get(ctx context.Context, userID string) (*Engine, error) {
	m.mu.Lock()
	engine, exists := m.engines[userID]
	m.mu.Unlock()
	if exists {
		return engine, nil
	}

	engine = NewEngine(m.gw, userID, m.opts, m.logger)
	if err := engine.Start(ctx); err != nil {
		engine.Close()
		return nil, err
	}

	m.mu.Lock()
	if existing, raced := m.engines[userID]; raced {
		m.mu.Unlock()
		engine.Close()
		return existing, nil
	}
	m.engines[userID] = engine
	m.mu.Unlock()

	return engine, nil
}

// Peek returns the user's engine without starting one.
func (m *Manager) Peek(userID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, exists := m.engines[userID]
	return engine, exists
}

// Count reports the number of active session engines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Release closes and forgets the user's engine.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	engine, exists := m.engines[userID]
	delete(m.engines, userID)
	m.mu.Unlock()

	if exists {
		engine.Close()
	}
}

// Close tears down every active engine.
func (m *Manager) Close() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, engine := range m.engines {
		engines = append(engines, engine)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, engine := range engines {
		engine.Close()
	}
}
