package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Builder constructs the expensive backend. It runs at most once successfully.
type Builder func(ctx context.Context) (Oracle, error)

// Manager owns the process-wide oracle handle. The first caller pays for
// initialization; everyone after reuses the same handle. A failed build is
// not remembered, so the next call tries again.
type Manager struct {
	build  Builder
	mu     sync.Mutex
	oracle Oracle
}

func NewManager(build Builder) *Manager {
	return &Manager{build: build}
}

// Get returns the shared oracle, building it on first use.
func (m *Manager) Get(ctx context.Context) (Oracle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.oracle != nil {
		return m.oracle, nil
	}

	o, err := m.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	m.oracle = o
	return o, nil
}

// Warmup forces initialization during startup.
func (m *Manager) Warmup(ctx context.Context) error {
	_, err := m.Get(ctx)
	return err
}

// Classify delegates to the shared oracle.
func (m *Manager) Classify(ctx context.Context, img *Image, labels []string) ([]Result, error) {
	if err := Validate(img, labels); err != nil {
		return nil, err
	}
	o, err := m.Get(ctx)
	if err != nil {
		return nil, err
	}
	return o.Classify(ctx, img, labels)
}

// ModelID reports the model of the initialized oracle, or "" before init.
func (m *Manager) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oracle == nil {
		return ""
	}
	return m.oracle.ModelID()
}

// Ready reports whether the oracle has been built.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oracle != nil
}

// Close releases the oracle if it holds native resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.oracle.(Closer); ok {
		m.oracle = nil
		return c.Close()
	}
	return nil
}
