package shard

import (
	"fmt"
	"strings"

	"github.com/roach88/flux/internal/ir"
)

// Router assigns routing keys to shards.
type Router interface {
	// Route returns the shard owning key.
	Route(key string) (ir.ShardID, error)

	// Shards lists every shard of the topology in ascending order.
	Shards() []ir.ShardID
}

// Resolve returns the shard for a sharded entity.
// A pinned shard is used as is after checking it exists; otherwise the
// entity's key is routed through r.
func Resolve(r Router, e ir.ShardedEntity) (ir.ShardID, error) {
	k := e.ShardKey()
	if k.Pinned {
		if !Contains(r, k.Shard) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownShard, k.Shard)
		}
		return k.Shard, nil
	}
	return r.Route(k.Key)
}

// Contains reports whether id belongs to the router's topology.
func Contains(r Router, id ir.ShardID) bool {
	for _, s := range r.Shards() {
		if s == id {
			return true
		}
	}
	return false
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
