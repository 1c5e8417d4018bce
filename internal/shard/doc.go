// Package shard maps routing keys onto storage partitions.
//
// Routing is a pure function of the key and the partition table: the key is
// hashed into one of 256 buckets (ir.ShardBucket) and the table assigns
// contiguous bucket ranges to shards. A table never changes after it is
// built, so the same key lands on the same shard for as long as the process
// holds the table, and concurrent readers need no locking.
//
// Resolve is the single entry point used by repository operations. It honors
// an explicit shard carried by the entity (operator criteria) and routes
// everything else by key.
package shard
