// Package deploy reconciles the model/endpoint-config/endpoint resource
// triple on the platform. Model and endpoint config are freshly created per
// deploy; the endpoint has a fixed identity derived from service and model
// and is created on the first deploy and updated in place afterwards.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"

	"mlforge/internal/frameworks"
	"mlforge/internal/metrics"
	"mlforge/internal/shared"
)

type Status string

const (
	StatusCreated Status = "Created"
	StatusUpdated Status = "Updated"
)

// EndpointControl is the remote model/endpoint control plane. Fallible calls
// classify their failure by joining shared.ErrNotFound or
// shared.ErrAlreadyExists so the reconciler branches on a tag, never on
// message text.
type EndpointControl interface {
	CreateModel(ctx context.Context, model *ModelResource) error
	CreateEndpointConfig(ctx context.Context, cfg *EndpointConfigResource) error
	CreateEndpoint(ctx context.Context, name, configName string) error
	UpdateEndpoint(ctx context.Context, name, configName string) error
	DescribeEndpoint(ctx context.Context, name string) (*EndpointInfo, error)
}

type ModelResource struct {
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	ModelDataURI string            `json:"model_data_uri"`
	EntryPoint   string            `json:"entry_point,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

type EndpointConfigResource struct {
	Name           string `json:"name"`
	ModelName      string `json:"model_name"`
	MemorySizeInMB int    `json:"memory_size_in_mb,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	InstanceType   string `json:"instance_type,omitempty"`
	InstanceCount  int    `json:"instance_count,omitempty"`
}

type EndpointInfo struct {
	Name       string `json:"name"`
	ConfigName string `json:"config_name"`
	Status     string `json:"status"`
}

// ModelSpec describes what to deploy. Exactly one of TrainingJobName or
// ModelDataURI must be set; the job name resolves to the job's output
// artifact location.
type ModelSpec struct {
	ServiceName string `json:"service_name"`
	ModelName   string `json:"model_name"`

	TrainingJobName string `json:"training_job_name,omitempty"`
	ModelDataURI    string `json:"model_data_uri,omitempty"`

	EntryPoint       string               `json:"entry_point,omitempty"`
	Framework        frameworks.Framework `json:"framework"`
	FrameworkVersion string               `json:"framework_version,omitempty"`
	PythonVersion    string               `json:"python_version,omitempty"`
	Env              map[string]string    `json:"env,omitempty"`
}

type ResourceLimits struct {
	MemorySizeInMB int    `json:"memory_size_in_mb,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	InstanceType   string `json:"instance_type,omitempty"`
	InstanceCount  int    `json:"instance_count,omitempty"`
}

type Result struct {
	ModelName    string
	EndpointName string
	Status       Status
}

type Reconciler struct {
	control EndpointControl
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewReconciler(control EndpointControl, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{control: control, log: log, now: time.Now}
}

// Deploy creates a fresh model and endpoint config, then creates or updates
// the fixed-name endpoint depending on an existence probe. An already-exists
// answer from model or config creation is swallowed: a redeploy must not
// fail just because the generated id collided.
func (r *Reconciler) Deploy(ctx context.Context, spec *ModelSpec, limits *ResourceLimits) (*Result, error) {
	if spec.ServiceName == "" || spec.ModelName == "" {
		return nil, errors.New("service name and model name are required")
	}
	if spec.TrainingJobName == "" && spec.ModelDataURI == "" {
		return nil, shared.ErrMissingModelSource
	}
	if limits == nil {
		limits = &ResourceLimits{}
	}
	fw, err := frameworks.Lookup(spec.Framework)
	if err != nil {
		return nil, err
	}

	id, err := r.freshID()
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%s-%s", shared.SanitizeName(spec.ServiceName), shared.SanitizeName(spec.ModelName))
	modelName := fmt.Sprintf("%s-model-%s", base, id)
	configName := fmt.Sprintf("%s-config-%s", base, id)
	endpointName := EndpointName(spec.ServiceName, spec.ModelName)
	log := r.log.With("endpoint", endpointName, "model", modelName)

	modelDataURI := spec.ModelDataURI
	if modelDataURI == "" {
		modelDataURI = fmt.Sprintf("jobs/%s/output/model.tar.gz", spec.TrainingJobName)
	}

	err = r.control.CreateModel(ctx, &ModelResource{
		Name:         modelName,
		Image:        fw.Image(spec.FrameworkVersion, spec.PythonVersion),
		ModelDataURI: modelDataURI,
		EntryPoint:   spec.EntryPoint,
		Env:          spec.Env,
	})
	if err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
		return nil, errors.Join(errors.New("failed to create model"), err)
	}
	if errors.Is(err, shared.ErrAlreadyExists) {
		log.Warnw("Model name already taken, continuing", "error", err.Error())
	}

	err = r.control.CreateEndpointConfig(ctx, &EndpointConfigResource{
		Name:           configName,
		ModelName:      modelName,
		MemorySizeInMB: limits.MemorySizeInMB,
		MaxConcurrency: limits.MaxConcurrency,
		InstanceType:   limits.InstanceType,
		InstanceCount:  limits.InstanceCount,
	})
	if err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
		return nil, errors.Join(errors.New("failed to create endpoint config"), err)
	}
	if errors.Is(err, shared.ErrAlreadyExists) {
		log.Warnw("Endpoint config name already taken, continuing", "error", err.Error())
	}

	_, probeErr := r.control.DescribeEndpoint(ctx, endpointName)
	switch {
	case probeErr == nil:
		if err := r.control.UpdateEndpoint(ctx, endpointName, configName); err != nil {
			return nil, errors.Join(errors.New("failed to update endpoint"), err)
		}
		metrics.Deployments.WithLabelValues(string(StatusUpdated)).Inc()
		log.Infow("Endpoint updated", "config", configName)
		return &Result{ModelName: modelName, EndpointName: endpointName, Status: StatusUpdated}, nil

	case errors.Is(probeErr, shared.ErrNotFound):
		if err := r.control.CreateEndpoint(ctx, endpointName, configName); err != nil {
			return nil, errors.Join(errors.New("failed to create endpoint"), err)
		}
		metrics.Deployments.WithLabelValues(string(StatusCreated)).Inc()
		log.Infow("Endpoint created", "config", configName)
		return &Result{ModelName: modelName, EndpointName: endpointName, Status: StatusCreated}, nil

	default:
		return nil, errors.Join(errors.New("failed to probe endpoint"), probeErr)
	}
}

// EndpointName is the fixed endpoint identity for a service/model pair; it
// survives redeploys.
func EndpointName(service, model string) string {
	return fmt.Sprintf("%s-%s-endpoint", shared.SanitizeName(service), shared.SanitizeName(model))
}

// freshID is millisecond timestamp plus a random suffix. Collision
// probability is non-zero and accepted; already-exists answers from the
// control plane are swallowed above.
func (r *Reconciler) freshID() (string, error) {
	suffix, err := nanoid.Generate(shared.NanoidAlphabet, shared.ResourceSuffixLen)
	if err != nil {
		return "", errors.Join(errors.New("failed to generate resource suffix"), err)
	}
	return fmt.Sprintf("%d-%s", r.now().UnixMilli(), suffix), nil
}
