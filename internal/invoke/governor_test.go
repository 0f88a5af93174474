package invoke

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/config"
	"mlforge/internal/shared"
)

type fakeInvoker struct {
	calls atomic.Int64
	send  func(ctx context.Context, req *SendRequest) ([]byte, error)
}

func (f *fakeInvoker) Send(ctx context.Context, req *SendRequest) ([]byte, error) {
	f.calls.Add(1)
	return f.send(ctx, req)
}

func newTestGovernor(inv Invoker, instance *config.Options) (*Governor, *[]time.Duration) {
	g := NewGovernor(inv, zap.NewNop().Sugar(), instance)
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func intp(i int) *int           { return &i }
func boolp(b bool) *bool        { return &b }
func floatp(f float64) *float64 { return &f }

func retryOpts(maxAttempts int, multiplier float64) *config.Options {
	return &config.Options{Retry: &config.RetryOptions{
		MaxAttempts:       intp(maxAttempts),
		BackoffMultiplier: floatp(multiplier),
	}}
}

func TestAlwaysFailingCallMakesNPlusOneAttempts(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return nil, errors.New("service unavailable")
	}}
	g, _ := newTestGovernor(inv, retryOpts(3, 2))

	_, err := g.Invoke(context.Background(), "ep", map[string]any{"x": 1}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := inv.calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts (initial + 3 retries), got %d", got)
	}
}

func TestBackoffDelaysArePowersOfMultiplier(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	g, slept := newTestGovernor(inv, retryOpts(3, 2))

	_, _ = g.Invoke(context.Background(), "ep", "payload", nil)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d", len(want), len(*slept))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff %d: expected %s, got %s", i, d, (*slept)[i])
		}
	}
}

func TestSuccessAfterFailuresEmitsOneSuccessEvent(t *testing.T) {
	var successes, failures int
	callback := func(ev shared.InferenceEvent) {
		if ev.Success {
			successes++
			return
		}
		failures++
	}

	var attempt atomic.Int64
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		if attempt.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte(`{"ok":true}`), nil
	}}
	opts := retryOpts(3, 2)
	opts.Monitoring = &config.MonitoringOptions{Callback: callback}
	g, _ := newTestGovernor(inv, opts)

	resp, err := g.Invoke(context.Background(), "ep", "payload", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", resp.Attempts)
	}
	if successes != 1 || failures != 0 {
		t.Fatalf("expected exactly one success event, got success=%d failure=%d", successes, failures)
	}
}

func TestExhaustedRetriesEmitOneFailureEventWithLastError(t *testing.T) {
	var events []shared.InferenceEvent
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return nil, errors.New("model exploded")
	}}
	opts := retryOpts(2, 1)
	opts.Monitoring = &config.MonitoringOptions{Callback: func(ev shared.InferenceEvent) {
		events = append(events, ev)
	}}
	g, _ := newTestGovernor(inv, opts)

	_, err := g.Invoke(context.Background(), "ep", "payload", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Success {
		t.Fatal("expected a failure event")
	}
	if ev.EndpointName != "ep" {
		t.Fatalf("endpoint: got %q", ev.EndpointName)
	}
	if ev.Error == "" || !strings.Contains(ev.Error, "model exploded") {
		t.Fatalf("failure event must carry the last error message, got %q", ev.Error)
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	inv := &fakeInvoker{send: func(ctx context.Context, _ *SendRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	timeout := 5 * time.Millisecond
	opts := &config.Options{Retry: &config.RetryOptions{
		MaxAttempts:       intp(1),
		AttemptTimeout:    &timeout,
		BackoffMultiplier: floatp(1),
	}}
	g, slept := newTestGovernor(inv, opts)

	_, err := g.Invoke(context.Background(), "ep", "payload", nil)
	if !errors.Is(err, shared.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if got := inv.calls.Load(); got != 2 {
		t.Fatalf("timeout must be retried like any failure: expected 2 attempts, got %d", got)
	}
	if len(*slept) != 1 {
		t.Fatalf("expected 1 backoff sleep, got %d", len(*slept))
	}
}

func TestValidationFailureIsNotRetried(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`[]`), nil
	}}
	g, slept := newTestGovernor(inv, retryOpts(3, 2))

	_, err := g.Invoke(context.Background(), "ep", "payload", nil)
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := inv.calls.Load(); got != 1 {
		t.Fatalf("validation failure must not be retried: got %d attempts", got)
	}
	if len(*slept) != 0 {
		t.Fatalf("no backoff expected, got %d sleeps", len(*slept))
	}
}

func TestCustomValidatorReplacesDefault(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`[]`), nil
	}}
	g, _ := newTestGovernor(inv, nil)

	// The default rule rejects an empty array; a permissive custom
	// validator must fully replace it.
	resp, err := g.Invoke(context.Background(), "ep", "payload", &CallOptions{
		Config: &config.Options{Validation: &config.ValidationOptions{
			Validator: func(any) error { return nil },
		}},
	})
	if err != nil {
		t.Fatalf("custom validator should accept: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}
}

func TestValidationDisabledSkipsCheck(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`[]`), nil
	}}
	g, _ := newTestGovernor(inv, &config.Options{
		Validation: &config.ValidationOptions{Enabled: boolp(false)},
	})

	if _, err := g.Invoke(context.Background(), "ep", "payload", nil); err != nil {
		t.Fatalf("validation disabled: %v", err)
	}
}

func TestTransformsApplyInOrder(t *testing.T) {
	var sent []byte
	inv := &fakeInvoker{send: func(_ context.Context, req *SendRequest) ([]byte, error) {
		sent = req.Body
		return []byte(`{"value":2}`), nil
	}}
	g, _ := newTestGovernor(inv, nil)

	resp, err := g.Invoke(context.Background(), "ep", map[string]any{"value": 1}, &CallOptions{
		InputTransform: func(p any) (any, error) {
			m := p.(map[string]any)
			m["wrapped"] = true
			return m, nil
		},
		OutputTransform: func(p any) (any, error) {
			return p.(map[string]any)["value"], nil
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(string(sent), `"wrapped":true`) {
		t.Fatalf("input transform not applied, sent %s", sent)
	}
	if resp.Body != float64(2) {
		t.Fatalf("output transform not applied, got %v", resp.Body)
	}
}

func TestEmptyEndpointRejected(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	g, _ := newTestGovernor(inv, nil)
	if _, err := g.Invoke(context.Background(), "", "payload", nil); !errors.Is(err, shared.ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func TestInvokeBatchEmptyIsNoOp(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	g, _ := newTestGovernor(inv, &config.Options{
		Batch: &config.BatchOptions{Enabled: boolp(true)},
	})

	out, err := g.InvokeBatch(context.Background(), "ep", []any{}, nil)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
	if inv.calls.Load() != 0 {
		t.Fatal("empty batch must not issue remote calls")
	}
}

func TestInvokeBatchDisabledRejectsImmediately(t *testing.T) {
	inv := &fakeInvoker{send: func(context.Context, *SendRequest) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	g, _ := newTestGovernor(inv, nil)

	_, err := g.InvokeBatch(context.Background(), "ep", []any{"a"}, nil)
	if !errors.Is(err, shared.ErrBatchDisabled) {
		t.Fatalf("expected batch disabled error, got %v", err)
	}
	if inv.calls.Load() != 0 {
		t.Fatal("disabled batch must not issue remote calls")
	}
}

func TestInvokeBatchPreservesOrderAndWindows(t *testing.T) {
	var inflight, maxInflight atomic.Int64
	var mu sync.Mutex
	inv := &fakeInvoker{send: func(_ context.Context, req *SendRequest) ([]byte, error) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		mu.Lock()
		if cur > maxInflight.Load() {
			maxInflight.Store(cur)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return req.Body, nil
	}}
	g, _ := newTestGovernor(inv, &config.Options{Batch: &config.BatchOptions{
		Enabled:      boolp(true),
		MaxBatchSize: intp(1),
		Concurrency:  intp(2),
	}})

	payloads := []any{"p0", "p1", "p2", "p3", "p4"}
	out, err := g.InvokeBatch(context.Background(), "ep", payloads, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != len(payloads) {
		t.Fatalf("expected %d results, got %d", len(payloads), len(out))
	}
	for i, resp := range out {
		if string(resp.Raw) != payloads[i].(string) {
			t.Fatalf("result %d out of order: %s", i, resp.Raw)
		}
	}
	if maxInflight.Load() > 2 {
		t.Fatalf("window size exceeded: %d concurrent calls", maxInflight.Load())
	}
}

func TestInvokeBatchFailFast(t *testing.T) {
	var calls atomic.Int64
	inv := &fakeInvoker{send: func(_ context.Context, req *SendRequest) ([]byte, error) {
		calls.Add(1)
		if string(req.Body) == "bad" {
			return nil, errors.New("poison payload")
		}
		return req.Body, nil
	}}
	g, _ := newTestGovernor(inv, &config.Options{
		Retry: &config.RetryOptions{MaxAttempts: intp(0)},
		Batch: &config.BatchOptions{
			Enabled:      boolp(true),
			MaxBatchSize: intp(1),
			Concurrency:  intp(2),
		},
	})

	out, err := g.InvokeBatch(context.Background(), "ep", []any{"a", "bad", "c", "d"}, nil)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if out != nil {
		t.Fatal("failed batch must not return partial results")
	}
	// The failure is in window 0, so windows past it never start.
	if calls.Load() > 2 {
		t.Fatalf("later windows ran after failure: %d calls", calls.Load())
	}
}

