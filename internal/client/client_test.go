package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/deploy"
	"mlforge/internal/frameworks"
	"mlforge/internal/invoke"
	"mlforge/internal/jobs"
	"mlforge/internal/shared"
)

type stubPlatform struct {
	jobStatuses []jobs.Status
	describes   int
}

func (s *stubPlatform) Send(_ context.Context, req *invoke.SendRequest) ([]byte, error) {
	return []byte(`{"ok":true}`), nil
}

func (s *stubPlatform) Submit(_ context.Context, spec *jobs.JobSpec) (string, error) {
	return spec.Name, nil
}

func (s *stubPlatform) Describe(context.Context, string) (jobs.Status, error) {
	i := s.describes
	s.describes++
	if i >= len(s.jobStatuses) {
		return s.jobStatuses[len(s.jobStatuses)-1], nil
	}
	return s.jobStatuses[i], nil
}

func (s *stubPlatform) CreateModel(context.Context, *deploy.ModelResource) error { return nil }

func (s *stubPlatform) CreateEndpointConfig(context.Context, *deploy.EndpointConfigResource) error {
	return nil
}

func (s *stubPlatform) CreateEndpoint(context.Context, string, string) error { return nil }
func (s *stubPlatform) UpdateEndpoint(context.Context, string, string) error { return nil }

func (s *stubPlatform) DescribeEndpoint(context.Context, string) (*deploy.EndpointInfo, error) {
	return nil, errors.Join(errors.New("none"), shared.ErrNotFound)
}

func newTestClient(t *testing.T, p *stubPlatform) *Client {
	t.Helper()
	c, err := New(Deps{
		Invoker:         p,
		JobControl:      p,
		EndpointControl: p,
		Log:             zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{Log: zap.NewNop().Sugar()}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestTrainAndWaitReturnsOnCompleted(t *testing.T) {
	p := &stubPlatform{jobStatuses: []jobs.Status{jobs.StatusPending, jobs.StatusCompleted}}
	c := newTestClient(t, p)

	jobID, err := c.TrainAndWait(context.Background(), &jobs.TrainingSpec{
		ServiceName:  "svc",
		ModelName:    "model",
		Framework:    frameworks.PyTorch,
		InputDataURI: "s3://data/x",
	}, time.Millisecond)
	if err != nil {
		t.Fatalf("train and wait: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}
}

func TestTrainAndWaitSurfacesFailedJob(t *testing.T) {
	p := &stubPlatform{jobStatuses: []jobs.Status{jobs.StatusFailed}}
	c := newTestClient(t, p)

	_, err := c.TrainAndWait(context.Background(), &jobs.TrainingSpec{
		ServiceName:  "svc",
		ModelName:    "model",
		Framework:    frameworks.PyTorch,
		InputDataURI: "s3://data/x",
	}, time.Millisecond)
	if err == nil {
		t.Fatal("failed job must surface as error")
	}
}

func TestDeployThroughFacade(t *testing.T) {
	p := &stubPlatform{}
	c := newTestClient(t, p)

	res, err := c.Deploy(context.Background(), &deploy.ModelSpec{
		ServiceName:     "svc",
		ModelName:       "model",
		TrainingJobName: "job-1",
		Framework:       frameworks.PyTorch,
	}, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if res.Status != deploy.StatusCreated {
		t.Fatalf("expected Created, got %s", res.Status)
	}
}

func TestInvokeThroughFacade(t *testing.T) {
	p := &stubPlatform{}
	c := newTestClient(t, p)

	resp, err := c.Invoke(context.Background(), "svc-model-endpoint", map[string]any{"x": 1}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Body == nil {
		t.Fatal("expected a decoded body")
	}
}
