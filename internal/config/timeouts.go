package config

import "time"

// TimeoutConfig holds timeout settings for external calls.
// These can be configured via CLI flags to tune behavior for different environments.
type TimeoutConfig struct {
	// Connect is the deadline for establishing the Firestore handle,
	// including credential resolution. Default: 30s
	Connect time.Duration

	// HealthProbe is the deadline for a single health probe
	// (collection enumeration). Default: 15s
	HealthProbe time.Duration

	// HTTPClient is the timeout for outbound HTTP requests
	// (webhook notifications). Default: 30s
	HTTPClient time.Duration

	// WebSocketPing is the interval between WebSocket keepalive pings.
	// Default: 30s
	WebSocketPing time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Connect:       30 * time.Second,
		HealthProbe:   15 * time.Second,
		HTTPClient:    30 * time.Second,
		WebSocketPing: 30 * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
