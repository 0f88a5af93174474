// Package client bundles the governor, tracker, submitter and reconciler
// behind one constructor so callers wire a single set of collaborators.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/config"
	"mlforge/internal/deploy"
	"mlforge/internal/history"
	"mlforge/internal/invoke"
	"mlforge/internal/jobs"
	"mlforge/internal/storage"
)

// Deps are the external collaborators. Invoker, JobControl and
// EndpointControl are required; Store and Recorder are optional and disable
// staging and history when nil.
type Deps struct {
	Invoker         invoke.Invoker
	JobControl      jobs.JobControl
	EndpointControl deploy.EndpointControl
	Store           storage.ObjectStore
	Recorder        *history.Recorder
	Log             *zap.SugaredLogger

	// Options is the instance configuration layer applied on top of the
	// library defaults.
	Options *config.Options
}

type Client struct {
	log      *zap.SugaredLogger
	governor *invoke.Governor
	tracker  *jobs.Tracker
	submit   *jobs.Submitter
	deployer *deploy.Reconciler
	recorder *history.Recorder
}

func New(deps Deps) (*Client, error) {
	if deps.Invoker == nil || deps.JobControl == nil || deps.EndpointControl == nil {
		return nil, errors.New("invoker, job control and endpoint control are required")
	}
	if deps.Log == nil {
		return nil, errors.New("a logger is required")
	}

	var uploader *storage.Uploader
	if deps.Store != nil {
		uploader = storage.NewUploader(deps.Store, deps.Log)
	}

	opts := deps.Options
	if deps.Recorder != nil {
		// Route terminal inference events into history unless the caller
		// supplied their own callback.
		if opts == nil {
			opts = &config.Options{}
		}
		if opts.Monitoring == nil {
			opts.Monitoring = &config.MonitoringOptions{}
		}
		if opts.Monitoring.Callback == nil {
			opts.Monitoring.Callback = deps.Recorder.Record
		}
	}

	return &Client{
		log:      deps.Log,
		governor: invoke.NewGovernor(deps.Invoker, deps.Log, opts),
		tracker:  jobs.NewTracker(deps.JobControl, deps.Log),
		submit:   jobs.NewSubmitter(deps.JobControl, uploader, deps.Log),
		deployer: deploy.NewReconciler(deps.EndpointControl, deps.Log),
		recorder: deps.Recorder,
	}, nil
}

// Invoke runs one monitored inference call.
func (c *Client) Invoke(ctx context.Context, endpoint string, payload any, opts *invoke.CallOptions) (*invoke.Response, error) {
	return c.governor.Invoke(ctx, endpoint, payload, opts)
}

// InvokeBatch fans payloads out in bounded windows.
func (c *Client) InvokeBatch(ctx context.Context, endpoint string, payloads []any, opts *invoke.CallOptions) ([]*invoke.Response, error) {
	return c.governor.InvokeBatch(ctx, endpoint, payloads, opts)
}

// Train submits a training job and returns its id without waiting.
func (c *Client) Train(ctx context.Context, spec *jobs.TrainingSpec) (string, error) {
	return c.submit.Submit(ctx, spec)
}

// AwaitJob blocks until the job is terminal.
func (c *Client) AwaitJob(ctx context.Context, jobID string, pollInterval time.Duration) (jobs.Status, error) {
	return c.tracker.AwaitTerminal(ctx, jobID, pollInterval)
}

// TrainAndWait submits a training job and tracks it to a terminal status.
// A job that ends Failed or Stopped is an error: callers asking to wait want
// a usable artifact.
func (c *Client) TrainAndWait(ctx context.Context, spec *jobs.TrainingSpec, pollInterval time.Duration) (string, error) {
	jobID, err := c.submit.Submit(ctx, spec)
	if err != nil {
		return "", err
	}
	status, err := c.tracker.AwaitTerminal(ctx, jobID, pollInterval)
	if err != nil {
		return jobID, err
	}
	if status != jobs.StatusCompleted {
		return jobID, fmt.Errorf("training job %s ended %s", jobID, status)
	}
	return jobID, nil
}

// Deploy reconciles the endpoint to serve the given model.
func (c *Client) Deploy(ctx context.Context, spec *deploy.ModelSpec, limits *deploy.ResourceLimits) (*deploy.Result, error) {
	res, err := c.deployer.Deploy(ctx, spec, limits)
	if err != nil {
		return nil, err
	}
	if c.recorder != nil {
		c.recorder.CacheEndpoint(ctx, history.EndpointRecord{
			Name:      res.EndpointName,
			ModelName: res.ModelName,
			Status:    string(res.Status),
		})
	}
	return res, nil
}

// Shutdown drains buffered history.
func (c *Client) Shutdown() {
	if c.recorder != nil {
		c.recorder.Shutdown()
	}
}
