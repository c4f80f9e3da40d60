package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mor/automatr/rules"
)

// ErrNotFound is returned when no engine is registered under a workflow name
var ErrNotFound = errors.New("workflow not found")

// Manager holds one engine per workflow
type Manager struct {
	engines map[string]*rules.Engine
	order   []string
	mu      sync.RWMutex
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		engines: make(map[string]*rules.Engine),
	}
}

// CreateEngine builds an engine for wf and registers it
func (m *Manager) CreateEngine(wf *rules.Workflow, opts rules.Options) (*rules.Engine, error) {
	engine, err := rules.NewEngine(wf, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for %s: %w", wf.Name, err)
	}
	if err := m.Register(engine); err != nil {
		return nil, err
	}
	return engine, nil
}

// Register adds an engine; a second engine for the same workflow is an error
func (m *Manager) Register(engine *rules.Engine) error {
	name := engine.Workflow().Name

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[name]; exists {
		return fmt.Errorf("workflow %s already registered", name)
	}
	m.engines[name] = engine
	m.order = append(m.order, name)
	return nil
}

// Engine retrieves the engine for a workflow
func (m *Manager) Engine(name string) (*rules.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engine, exists := m.engines[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return engine, nil
}

// Engines returns every registered engine in registration order
func (m *Manager) Engines() []*rules.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*rules.Engine, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.engines[name])
	}
	return out
}

// List returns every registered workflow in registration order
func (m *Manager) List() []*rules.Workflow {
	engines := m.Engines()
	out := make([]*rules.Workflow, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Workflow())
	}
	return out
}
