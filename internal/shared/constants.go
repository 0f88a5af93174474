package shared

import "time"

// Retry Configuration
const (
	DefaultMaxAttempts       = 3
	DefaultAttemptTimeout    = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Batch Configuration
const (
	DefaultMaxBatchSize     = 10
	DefaultBatchConcurrency = 5
)

// Polling Configuration
const (
	DefaultPollInterval        = 60 * time.Second
	MaxConsecutivePollFailures = 5
)

// History Configuration
const (
	HistoryFlushInterval = 1 * time.Minute
	HistoryRetryDelay    = 30 * time.Second
	MaxFlushRetries      = 3
	EndpointCacheTTL     = 30 * time.Minute
)

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 2 * time.Minute
	DefaultDialTimeout     = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Minute
)

// Content negotiation defaults for inference calls.
const (
	DefaultContentType = "application/json"
	DefaultAccept      = "application/json"
)

// NanoidAlphabet is used for every generated suffix and trace ID.
const (
	NanoidAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	InferenceIDLen    = 28
	ResourceSuffixLen = 10
)
