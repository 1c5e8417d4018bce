// Package store provides the sharded SQLite storage behind StateRepository.
//
// Each shard is its own SQLite database file (Store). A Store keeps two
// connection pools so the access mode of an operation is explicit:
//   - ReadWrite: a single connection, the only writer of the database
//   - ReadOnly: several connections opened with query_only, for lookups
//     and status scans that never block on the writer under WAL
//
// Shards owns the set of stores of a topology. StateRepository routes every
// operation exactly once (shard.Resolve) and runs it against one shard;
// operations on different shards share no pool and no lock.
//
// # Guarantees
//
//   - Every mutation is scoped by (state_machine_id, id); id alone is never
//     used as a filter
//   - Bulk mutations are single statements, so a set is updated entirely or
//     not at all; an empty id set is a no-op that touches no rows
//   - IncrementRetryCount is a storage-level "col = col + 1", so N concurrent
//     calls add exactly N
//   - Absence is ErrNotFound; every driver or constraint failure is a
//     *StorageError. Nothing is retried or swallowed here.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Queries are built as queryir nodes and compiled by querysql, so every value
// is a bound parameter and every select is deterministically ordered.
package store
