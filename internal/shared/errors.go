package shared

import "errors"

// Sentinel errors used to classify failures across the platform client.
// Callers and internal branching check these with errors.Is; the platform
// adapter joins them onto the underlying error so that control flow never
// depends on message text.
//
// Error chains should be built with errors.Join so the original message
// survives for logging while the sentinel stays matchable.
var (
	// ErrTimeout marks an attempt that lost the race against its timer.
	// Retryable the same as any remote failure.
	ErrTimeout = errors.New("attempt timed out")

	// ErrValidation marks a response that failed its shape/content check.
	// Not a transient condition; never retried.
	ErrValidation = errors.New("response validation failed")

	// ErrNotFound and ErrAlreadyExists are control-flow signals from the
	// platform control plane, never surfaced to callers by the reconciler.
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Configuration errors fail immediately with no retry.
	ErrBatchDisabled      = errors.New("batch processing is not enabled")
	ErrMissingModelSource = errors.New("either a training job name or a model artifact location is required")
	ErrMissingEndpoint    = errors.New("endpoint name is required")
)

// MetricsError carries a stable code for error-count metric labels alongside
// a human message. The code is what dashboards group on.
type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.Msg
}

func (m *MetricsError) String() string {
	return m.Msg
}

var (
	ErrInvokeTimeout    = &MetricsError{Msg: "inference attempt timed out", Code: "invoke_timeout"}
	ErrInvokeRemote     = &MetricsError{Msg: "inference endpoint returned an error", Code: "invoke_remote_err"}
	ErrInvokeValidation = &MetricsError{Msg: "inference response failed validation", Code: "invoke_validation_err"}
)
