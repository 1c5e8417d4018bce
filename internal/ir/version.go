package ir

// Version constants for the persisted schema and the wire message.
const (
	// SchemaVersion is the shard database schema version (PRAGMA user_version).
	SchemaVersion = 1

	// MessageVersion is the TaskExecutionMessage wire version.
	MessageVersion = "1"
)
