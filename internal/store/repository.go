package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/shard"
)

// ErrCrossShard is returned when a caller-owned Tx is used for a state
// machine that routes to a different shard than the Tx.
var ErrCrossShard = errors.New("state machine is not on the transaction's shard")

// StateRepository is the sharded repository of state machines and states.
//
// Every operation routes exactly once, through shard.Resolve, and then runs
// against a single shard store. It is safe for concurrent use.
type StateRepository struct {
	router shard.Router
	shards *Shards
	logger *slog.Logger
}

// RepositoryOption configures a StateRepository.
type RepositoryOption func(*StateRepository)

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(l *slog.Logger) RepositoryOption {
	return func(r *StateRepository) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewStateRepository builds a repository over shards.
// Every shard of the router's topology must have an open store.
func NewStateRepository(router shard.Router, shards *Shards, opts ...RepositoryOption) (*StateRepository, error) {
	for _, id := range router.Shards() {
		if _, err := shards.Get(id); err != nil {
			return nil, fmt.Errorf("new state repository: %w", err)
		}
	}

	r := &StateRepository{
		router: router,
		shards: shards,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Router returns the router the repository routes with.
func (r *StateRepository) Router() shard.Router {
	return r.router
}

// route resolves the store for e. It is the only place routing happens.
func (r *StateRepository) route(op string, e ir.ShardedEntity) (*Store, error) {
	id, err := shard.Resolve(r.router, e)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st, err := r.shards.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}
