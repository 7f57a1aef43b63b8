package config

// Error messages used throughout the fetcher
const (
	// ErrSessionNotFound is the format string for lookups of removed sessions
	ErrSessionNotFound = "session not found: %d"
	// ErrManagerStopped indicates the manager no longer accepts streams
	ErrManagerStopped = "fetch manager is stopped"
	// MsgStreamQueued is the format string for stream queued messages
	MsgStreamQueued = "Stream %s%s queued for fetching"
)
