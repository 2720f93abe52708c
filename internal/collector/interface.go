package collector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSource is returned when no collector is registered for a source
// identifier. Callers must reject requests on it before creating any Job.
var ErrUnknownSource = errors.New("unknown source")

// Query describes one collection request
type Query struct {
	SearchTerm string
	Location   string
	Limit      int
}

// RawItem is an unenriched listing returned by a collector
type RawItem struct {
	Title       string
	Company     string
	Location    string
	URL         string
	Description string
	PostedAt    *time.Time
	Raw         map[string]interface{}
}

// Collector defines the contract with the external collection machinery. The
// core never fabricates this data.
type Collector interface {
	// Source returns the source identifier jobs reference (e.g. "indeed")
	Source() string

	// Name returns a human-readable collector name
	Name() string

	// Collect retrieves raw items for the query
	Collect(ctx context.Context, q Query) ([]*RawItem, error)

	// HealthCheck verifies the collector is reachable
	HealthCheck(ctx context.Context) error
}

// Manager holds the registered collectors keyed by source identifier
type Manager struct {
	collectors map[string]Collector
	order      []string
}

// NewManager creates an empty collector manager
func NewManager() *Manager {
	return &Manager{collectors: make(map[string]Collector)}
}

// Register adds a collector; a later registration for the same source wins
func (m *Manager) Register(c Collector) {
	if _, exists := m.collectors[c.Source()]; !exists {
		m.order = append(m.order, c.Source())
	}
	m.collectors[c.Source()] = c
}

// Get returns the collector for a source, or ErrUnknownSource
func (m *Manager) Get(source string) (Collector, error) {
	c, ok := m.collectors[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return c, nil
}

// Has reports whether a collector is registered for source
func (m *Manager) Has(source string) bool {
	_, ok := m.collectors[source]
	return ok
}

// Sources returns the registered source identifiers in registration order
func (m *Manager) Sources() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
