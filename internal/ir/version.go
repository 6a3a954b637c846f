package ir

// Version constants for the persisted schema and the binary.
const (
	// SchemaVersion is the event wire/storage schema version.
	SchemaVersion = "1"

	// Version is the outpost release version.
	Version = "0.1.0"
)
