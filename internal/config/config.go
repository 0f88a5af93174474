// Package config computes the effective per-call configuration from layered
// settings: library defaults, instance configuration fixed at construction,
// and per-call options. Later layers override earlier ones per field; the
// merge is shallow per top-level section, so a supplied validator or metrics
// callback replaces the lower layer's entirely, it never composes with it.
package config

import (
	"time"

	"mlforge/internal/shared"
)

// RetryConfig is always fully concrete after a merge: the innermost default
// layer supplies every field.
type RetryConfig struct {
	MaxAttempts       int
	AttemptTimeout    time.Duration
	BackoffMultiplier float64
}

type ValidationConfig struct {
	Enabled   bool
	Validator shared.ResponseValidator
}

type MonitoringConfig struct {
	Enabled  bool
	Callback shared.MetricsCallback
}

type BatchConfig struct {
	Enabled      bool
	MaxBatchSize int
	Concurrency  int
}

// Config is an effective configuration: every required field holds a
// concrete value.
type Config struct {
	Retry      RetryConfig
	Validation ValidationConfig
	Monitoring MonitoringConfig
	Batch      BatchConfig
}

// Options is one override layer. Pointer fields distinguish "absent" from an
// explicit falsy value: an explicit false or zero always wins over the layer
// below, absence never does.
type Options struct {
	Retry      *RetryOptions
	Validation *ValidationOptions
	Monitoring *MonitoringOptions
	Batch      *BatchOptions
}

type RetryOptions struct {
	MaxAttempts       *int
	AttemptTimeout    *time.Duration
	BackoffMultiplier *float64
}

type ValidationOptions struct {
	Enabled   *bool
	Validator shared.ResponseValidator
}

type MonitoringOptions struct {
	Enabled  *bool
	Callback shared.MetricsCallback
}

type BatchOptions struct {
	Enabled      *bool
	MaxBatchSize *int
	Concurrency  *int
}

// Default is the innermost layer. Validation and monitoring are on with
// their default behaviors; batch mode has to be opted into.
func Default() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:       shared.DefaultMaxAttempts,
			AttemptTimeout:    shared.DefaultAttemptTimeout,
			BackoffMultiplier: shared.DefaultBackoffMultiplier,
		},
		Validation: ValidationConfig{Enabled: true},
		Monitoring: MonitoringConfig{Enabled: true},
		Batch: BatchConfig{
			Enabled:      false,
			MaxBatchSize: shared.DefaultMaxBatchSize,
			Concurrency:  shared.DefaultBatchConcurrency,
		},
	}
}

// Merge applies one options layer on top of a base configuration and returns
// the result. The base is never mutated. Merge(Merge(Default(), instance),
// call) yields the effective configuration for one call.
func Merge(base Config, opts *Options) Config {
	out := base
	if opts == nil {
		return out
	}
	if r := opts.Retry; r != nil {
		if r.MaxAttempts != nil {
			out.Retry.MaxAttempts = *r.MaxAttempts
		}
		if r.AttemptTimeout != nil {
			out.Retry.AttemptTimeout = *r.AttemptTimeout
		}
		if r.BackoffMultiplier != nil {
			out.Retry.BackoffMultiplier = *r.BackoffMultiplier
		}
	}
	if v := opts.Validation; v != nil {
		if v.Enabled != nil {
			out.Validation.Enabled = *v.Enabled
		}
		if v.Validator != nil {
			out.Validation.Validator = v.Validator
		}
	}
	if m := opts.Monitoring; m != nil {
		if m.Enabled != nil {
			out.Monitoring.Enabled = *m.Enabled
		}
		if m.Callback != nil {
			out.Monitoring.Callback = m.Callback
		}
	}
	if b := opts.Batch; b != nil {
		if b.Enabled != nil {
			out.Batch.Enabled = *b.Enabled
		}
		if b.MaxBatchSize != nil {
			out.Batch.MaxBatchSize = *b.MaxBatchSize
		}
		if b.Concurrency != nil {
			out.Batch.Concurrency = *b.Concurrency
		}
	}
	return out
}
