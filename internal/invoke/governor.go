// Package invoke wraps online inference calls with per-attempt timeouts,
// bounded exponential-backoff retry, and terminal success/failure metrics
// emission. One Governor fronts one remote invoker; effective settings are
// recomputed per call from the instance configuration plus call options.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"

	"mlforge/internal/config"
	"mlforge/internal/metrics"
	"mlforge/internal/shared"
)

// Invoker is the remote inference collaborator. Send must honor ctx and
// fail with an error joined onto shared.ErrNotFound when the endpoint does
// not exist.
type Invoker interface {
	Send(ctx context.Context, req *SendRequest) ([]byte, error)
}

// SendRequest carries one wire-level invocation.
type SendRequest struct {
	EndpointName     string
	ContentType      string
	Accept           string
	TargetVariant    string
	CustomAttributes string
	InferenceID      string
	Body             []byte
}

// CallOptions are the per-call knobs: a config override layer, optional
// payload transforms, and request metadata. All fields are optional.
type CallOptions struct {
	Config *config.Options

	// InputTransform rewrites the payload before serialization, identity
	// if nil. OutputTransform rewrites the decoded response body before
	// validation, identity if nil.
	InputTransform  shared.Transform
	OutputTransform shared.Transform

	ContentType      string
	Accept           string
	TargetVariant    string
	CustomAttributes string

	// InferenceID correlates retries of one logical call; generated when
	// empty.
	InferenceID string
}

// Response is the assembled result of a successful invocation.
type Response struct {
	Body        any
	Raw         []byte
	InferenceID string
	Attempts    int
	Latency     time.Duration
}

type Governor struct {
	invoker Invoker
	cfg     config.Config
	log     *zap.SugaredLogger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGovernor(invoker Invoker, log *zap.SugaredLogger, instance *config.Options) *Governor {
	return &Governor{
		invoker: invoker,
		cfg:     config.Merge(config.Default(), instance),
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke executes one monitored, retrying inference call against endpoint.
// The call either returns an assembled response or the error from the last
// attempt; exactly one metrics event is emitted either way.
func (g *Governor) Invoke(ctx context.Context, endpoint string, payload any, opts *CallOptions) (*Response, error) {
	if endpoint == "" {
		return nil, shared.ErrMissingEndpoint
	}
	if opts == nil {
		opts = &CallOptions{}
	}
	cfg := config.Merge(g.cfg, opts.Config)

	inferenceID := opts.InferenceID
	if inferenceID == "" {
		id, err := nanoid.Generate(shared.NanoidAlphabet, shared.InferenceIDLen)
		if err != nil {
			return nil, errors.Join(errors.New("failed to generate inference id"), err)
		}
		inferenceID = id
	}
	log := g.log.With("endpoint", endpoint, "inference_id", inferenceID)

	in := payload
	if opts.InputTransform != nil {
		transformed, err := opts.InputTransform(payload)
		if err != nil {
			return nil, errors.Join(errors.New("input transform failed"), err)
		}
		in = transformed
	}
	body, err := encodePayload(in)
	if err != nil {
		return nil, errors.Join(errors.New("failed to serialize payload"), err)
	}

	req := &SendRequest{
		EndpointName:     endpoint,
		ContentType:      valueOr(opts.ContentType, shared.DefaultContentType),
		Accept:           valueOr(opts.Accept, shared.DefaultAccept),
		TargetVariant:    opts.TargetVariant,
		CustomAttributes: opts.CustomAttributes,
		InferenceID:      inferenceID,
		Body:             body,
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		metrics.InvocationAttempts.WithLabelValues(endpoint).Inc()

		raw, err := g.attempt(ctx, cfg.Retry.AttemptTimeout, req)
		if err == nil {
			resp, verr := g.assemble(cfg, opts, raw, inferenceID, attempt+1, time.Since(start))
			if verr != nil {
				// A malformed response is a contract violation, not a
				// transient condition; surface it without retry.
				g.emit(cfg, endpoint, start, false, verr)
				metrics.ErrorCount.WithLabelValues(endpoint, shared.ErrInvokeValidation.Code).Inc()
				log.Warnw("Response failed validation", "attempt", attempt, "error", verr.Error())
				return nil, verr
			}
			g.emit(cfg, endpoint, start, true, nil)
			metrics.InvocationCount.WithLabelValues(endpoint, "success").Inc()
			metrics.InvocationDuration.WithLabelValues(endpoint).Observe(resp.Latency.Seconds())
			return resp, nil
		}

		lastErr = err
		from := shared.ErrInvokeRemote.Code
		if errors.Is(err, shared.ErrTimeout) {
			from = shared.ErrInvokeTimeout.Code
		}
		metrics.ErrorCount.WithLabelValues(endpoint, from).Inc()
		log.Warnw("Invocation attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.Retry.MaxAttempts,
			"error", err.Error())

		if attempt >= cfg.Retry.MaxAttempts {
			break
		}
		metrics.InvocationRetries.WithLabelValues(endpoint).Inc()
		delay := backoff(cfg.Retry.BackoffMultiplier, attempt)
		log.Infow("Retrying after backoff", "delay", delay.String())
		if serr := g.sleep(ctx, delay); serr != nil {
			lastErr = errors.Join(lastErr, serr)
			break
		}
	}

	g.emit(cfg, endpoint, start, false, lastErr)
	metrics.InvocationCount.WithLabelValues(endpoint, "failure").Inc()
	log.Errorw("Invocation failed after all attempts", "error", lastErr.Error())
	return nil, errors.Join(fmt.Errorf("invocation of %s failed", endpoint), lastErr)
}

// attempt races one Send against a timer. Whichever settles first wins; a
// fired timer is reported as a retryable timeout.
func (g *Governor) attempt(ctx context.Context, timeout time.Duration, req *SendRequest) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := g.invoker.Send(actx, req)
		done <- result{raw, err}
	}()

	select {
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, errors.Join(fmt.Errorf("no response within %s", timeout), shared.ErrTimeout)
		}
		return nil, actx.Err()
	case r := <-done:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, errors.Join(fmt.Errorf("no response within %s", timeout), shared.ErrTimeout)
		}
		return r.raw, r.err
	}
}

// assemble decodes, transforms and validates a successful wire response.
func (g *Governor) assemble(cfg config.Config, opts *CallOptions, raw []byte, inferenceID string, attempts int, latency time.Duration) (*Response, error) {
	body := decodePayload(raw)
	if opts.OutputTransform != nil {
		transformed, err := opts.OutputTransform(body)
		if err != nil {
			return nil, errors.Join(errors.New("output transform failed"), err, shared.ErrValidation)
		}
		body = transformed
	}
	if cfg.Validation.Enabled {
		if err := validate(cfg.Validation.Validator, body); err != nil {
			return nil, errors.Join(err, shared.ErrValidation)
		}
	}
	return &Response{
		Body:        body,
		Raw:         raw,
		InferenceID: inferenceID,
		Attempts:    attempts,
		Latency:     latency,
	}, nil
}

func (g *Governor) emit(cfg config.Config, endpoint string, start time.Time, success bool, err error) {
	if !cfg.Monitoring.Enabled || cfg.Monitoring.Callback == nil {
		return
	}
	ev := shared.InferenceEvent{
		Timestamp:    time.Now(),
		Latency:      time.Since(start),
		Success:      success,
		EndpointName: endpoint,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	cfg.Monitoring.Callback(ev)
}

// validate applies the custom predicate when supplied, otherwise the default
// rule: the body is non-nil and, if a slice, non-empty.
func validate(custom shared.ResponseValidator, body any) error {
	if custom != nil {
		return custom(body)
	}
	if body == nil {
		return errors.New("response body is empty")
	}
	v := reflect.ValueOf(body)
	if v.Kind() == reflect.Slice && v.Len() == 0 {
		return errors.New("response array is empty")
	}
	return nil
}

// backoff is multiplier^attempt seconds, attempt-index based, no jitter.
func backoff(multiplier float64, attempt int) time.Duration {
	return time.Duration(math.Pow(multiplier, float64(attempt)) * float64(time.Second))
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}

// decodePayload keeps the raw bytes when the body is not valid JSON so
// non-JSON accept types still round-trip.
func decodePayload(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return raw
	}
	return body
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
