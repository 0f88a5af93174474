// Package shared holds the types, sentinel errors and constants used across
// the client components.
package shared

import "time"

// InferenceEvent is emitted exactly once per terminal outcome of an
// invocation (success, or final failure after retries are exhausted).
// The library is a pure producer; events are handed to the caller-supplied
// callback and never stored internally.
type InferenceEvent struct {
	Timestamp    time.Time
	Latency      time.Duration
	Success      bool
	EndpointName string
	Error        string
}

// MetricsCallback receives terminal inference events. It is invoked
// synchronously from the calling goroutine and may be called concurrently
// in batch mode, so implementations must be safe for concurrent use.
type MetricsCallback func(InferenceEvent)

// ResponseValidator checks an assembled (output-transformed) response.
// A non-nil return fails the call without retry.
type ResponseValidator func(response any) error

// Transform rewrites a payload on its way in or out of an invocation.
type Transform func(payload any) (any, error)
