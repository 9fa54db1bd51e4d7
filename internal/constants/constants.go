// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultMatchThreshold is the minimum cosine similarity accepted as a match
	// when no calibration is configured. Permissive, suitable for mock descriptors only.
	DefaultMatchThreshold = 0.30
)

// Session constants
const (
	// DefaultSessionCooldown is the minimum gap between session creation attempts
	// for the same (faculty, subject, section) key
	DefaultSessionCooldown = 5 * time.Second

	// MaxSaveAttempts bounds optimistic-concurrency retries when marking attendance
	MaxSaveAttempts = 5

	// RateLimitJanitorInterval is how often stale cooldown entries are pruned
	RateLimitJanitorInterval = time.Minute
)

// Handler constants
const (
	// DefaultSessionListDays is the lookback window for listing sessions
	DefaultSessionListDays = 30

	// MaxUploadSize is the maximum capture upload size in bytes (10MB)
	MaxUploadSize = 10 << 20

	// MaxDescriptorLength guards against absurd descriptor payloads
	MaxDescriptorLength = 4096
)
