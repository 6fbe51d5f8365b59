package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/compose-network/bridge-deployer/x/deployerr"
)

// Strategy is one way of answering a query of type Q.
type Strategy[Q, T any] struct {
	Name  string
	Query func(ctx context.Context, q Q) (T, error)
}

// Probe tries equivalent strategies in order and remembers the first one
// that answers, so later calls go straight to it. A transient error stops
// probing without caching anything.
type Probe[Q, T any] struct {
	name       string
	strategies []Strategy[Q, T]

	mu     sync.Mutex
	winner int
}

func NewProbe[Q, T any](name string, strategies ...Strategy[Q, T]) *Probe[Q, T] {
	return &Probe[Q, T]{name: name, strategies: strategies, winner: -1}
}

// Selected returns the cached strategy name, or "" before the first success.
func (p *Probe[Q, T]) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.winner < 0 {
		return ""
	}
	return p.strategies[p.winner].Name
}

func (p *Probe[Q, T]) Do(ctx context.Context, q Q) (T, error) {
	p.mu.Lock()
	winner := p.winner
	p.mu.Unlock()

	if winner >= 0 {
		return p.strategies[winner].Query(ctx, q)
	}

	var (
		zero T
		errs []error
	)
	for i, s := range p.strategies {
		v, err := s.Query(ctx, q)
		if err == nil {
			p.mu.Lock()
			if p.winner < 0 {
				p.winner = i
			}
			p.mu.Unlock()
			return v, nil
		}
		if deployerr.IsType(err, deployerr.ErrorTypeTransientNetwork) {
			return zero, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return zero, fmt.Errorf("chain: probe %s: no strategy answered: %w", p.name, errors.Join(errs...))
}
