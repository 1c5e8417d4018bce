// Package ir defines the data model shared by every flux package: state
// machines, states, statuses, shard identity and the task execution message.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - (StateMachineID, ID) is the identity of a State; State.ID alone is
//     only unique inside its state machine
//   - Status values are opaque to this package: transitions are owned by the
//     execution engine that calls into flux
//   - NO float types in IRValue payloads - use int64 for numbers
//   - All JSON tags use snake_case
package ir
