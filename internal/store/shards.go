package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/shard"
)

// ShardSpec locates the database of one shard.
type ShardSpec struct {
	ID   ir.ShardID
	Path string
}

// Shards is the set of open shard stores of a topology.
// The set is fixed after construction and safe for concurrent use.
type Shards struct {
	stores map[ir.ShardID]*Store
	ids    []ir.ShardID
}

// OpenShards opens one Store per spec. opts apply to every store; the shard
// id is set from the spec. On failure every store opened so far is closed.
func OpenShards(specs []ShardSpec, opts ...Option) (*Shards, error) {
	if len(specs) == 0 {
		return nil, errors.New("open shards: no shards configured")
	}

	stores := make([]*Store, 0, len(specs))
	for _, spec := range specs {
		st, err := Open(spec.Path, append(slices.Clone(opts), WithShard(spec.ID))...)
		if err != nil {
			for _, opened := range stores {
				opened.Close()
			}
			return nil, fmt.Errorf("open %s: %w", spec.ID, err)
		}
		stores = append(stores, st)
	}

	s, err := NewShards(stores...)
	if err != nil {
		for _, opened := range stores {
			opened.Close()
		}
		return nil, err
	}
	return s, nil
}

// NewShards groups already opened stores. Shard ids must be unique.
func NewShards(stores ...*Store) (*Shards, error) {
	s := &Shards{stores: make(map[ir.ShardID]*Store, len(stores))}
	for _, st := range stores {
		if _, dup := s.stores[st.Shard()]; dup {
			return nil, fmt.Errorf("duplicate shard %s", st.Shard())
		}
		s.stores[st.Shard()] = st
		s.ids = append(s.ids, st.Shard())
	}
	slices.Sort(s.ids)
	return s, nil
}

// Get returns the store of id.
func (s *Shards) Get(id ir.ShardID) (*Store, error) {
	st, ok := s.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shard.ErrUnknownShard, id)
	}
	return st, nil
}

// IDs returns the shard ids in ascending order.
func (s *Shards) IDs() []ir.ShardID {
	return slices.Clone(s.ids)
}

// Each runs fn on every shard concurrently and returns the first error.
// The context passed to fn is cancelled as soon as any call fails.
func (s *Shards) Each(ctx context.Context, fn func(ctx context.Context, st *Store) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.ids {
		st := s.stores[id]
		g.Go(func() error {
			return fn(ctx, st)
		})
	}
	return g.Wait()
}

// Close closes every store.
func (s *Shards) Close() error {
	var errs []error
	for _, id := range s.ids {
		if err := s.stores[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
