// Package numerator provides domain contracts for document auto-numbering.
// Implementations live in infrastructure layer.
package numerator

import (
	"context"
	"sync"
	"time"
)

// Generator generates sequential document numbers.
type Generator interface {
	// GetNextNumber generates the next document number.
	// Pattern: PREFIX-YYYYMMDD-NNNN (e.g., BOQ-20261018-0001)
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber sets the current sequence value (for migration purposes).
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}

// MemoryGenerator keeps sequences in process memory.
// Used with the in-memory store and in unit tests.
type MemoryGenerator struct {
	mu   sync.Mutex
	seqs map[string]int64
}

// NewMemoryGenerator creates an empty in-memory generator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{seqs: make(map[string]int64)}
}

// GetNextNumber implements Generator.
func (g *MemoryGenerator) GetNextNumber(_ context.Context, cfg Config, _ *Options, period time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := cfg.Key(period)
	g.seqs[key]++
	return cfg.Format(period, g.seqs[key]), nil
}

// SetNextNumber implements Generator.
func (g *MemoryGenerator) SetNextNumber(_ context.Context, cfg Config, period time.Time, value int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seqs[cfg.Key(period)] = value
	return nil
}

// Ensure compile-time interface compliance.
var _ Generator = (*MemoryGenerator)(nil)
