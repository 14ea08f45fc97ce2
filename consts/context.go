package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// RequestIDKey carries the per-request identifier assigned by the HTTP
	// logging middleware so that report and pool log lines can be correlated.
	RequestIDKey = ContextKey("request_id")
)
