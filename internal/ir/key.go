package ir

import "strconv"

// ShardID identifies a storage partition. Only routers produce ShardIDs
// from routing keys; explicit ShardIDs come from operator input or criteria.
type ShardID int

// String renders the shard id for logs and CLI output.
func (id ShardID) String() string {
	return "shard-" + strconv.Itoa(int(id))
}

// ShardKey is the routing information carried by a ShardedEntity.
//
// Exactly one of the two forms is meaningful:
//   - Pinned == false: Key is routed through the shard router
//   - Pinned == true: Shard is used as is (it must exist in the topology)
type ShardKey struct {
	Key    string
	Shard  ShardID
	Pinned bool
}

// ShardedEntity is anything whose identity determines its shard.
// Types compose with the router by supplying a key, not by embedding a base type.
type ShardedEntity interface {
	ShardKey() ShardKey
}

// FSMID is the identity of a state machine instance and the routing key
// for every per-state-machine operation.
type FSMID string

// ShardKey routes by the state machine id.
func (id FSMID) ShardKey() ShardKey {
	return ShardKey{Key: string(id)}
}

// String returns the raw id.
func (id FSMID) String() string {
	return string(id)
}
