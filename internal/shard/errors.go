package shard

import "errors"

var (
	// ErrInvalidKey is returned for an empty or whitespace-only routing key.
	ErrInvalidKey = errors.New("invalid routing key")

	// ErrUnknownShard is returned when an explicit shard id is not part of
	// the topology.
	ErrUnknownShard = errors.New("unknown shard")

	// ErrInvalidTopology is returned when bucket ranges do not cover every
	// bucket exactly once.
	ErrInvalidTopology = errors.New("invalid shard topology")
)
