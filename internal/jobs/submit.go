package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/frameworks"
	"mlforge/internal/shared"
	"mlforge/internal/storage"
)

// TrainingSpec is the caller-facing description of one training run.
type TrainingSpec struct {
	ServiceName string `json:"service_name"`
	ModelName   string `json:"model_name"`

	Framework        frameworks.Framework `json:"framework"`
	FrameworkVersion string               `json:"framework_version,omitempty"`
	PythonVersion    string               `json:"python_version,omitempty"`

	// EntryPoint is the script run inside the training container,
	// relative to SourceDir.
	EntryPoint string `json:"entry_point,omitempty"`
	SourceDir  string `json:"source_dir,omitempty"`

	// InputDataPath is staged to object storage when set; InputDataURI is
	// used verbatim when the data already lives there. One of the two may
	// be empty.
	InputDataPath string `json:"input_data_path,omitempty"`
	InputDataURI  string `json:"input_data_uri,omitempty"`

	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`
	Env             map[string]string `json:"env,omitempty"`

	InstanceType  string `json:"instance_type,omitempty"`
	InstanceCount int    `json:"instance_count,omitempty"`

	// Bucket receives staged source and input data.
	Bucket    string `json:"bucket,omitempty"`
	OutputURI string `json:"output_uri,omitempty"`
}

// Submitter assembles and submits training jobs.
type Submitter struct {
	control  JobControl
	uploader *storage.Uploader
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewSubmitter(control JobControl, uploader *storage.Uploader, log *zap.SugaredLogger) *Submitter {
	return &Submitter{control: control, uploader: uploader, log: log, now: time.Now}
}

// Submit stages sources and input data, resolves the framework
// configuration, and submits the job. Returns the job name, which doubles as
// the job handle for Describe. Uniqueness of the name is timestamp-based
// and not guaranteed under concurrent same-millisecond submission.
func (s *Submitter) Submit(ctx context.Context, spec *TrainingSpec) (string, error) {
	if spec.ServiceName == "" || spec.ModelName == "" {
		return "", errors.New("service name and model name are required")
	}
	fw, err := frameworks.Lookup(spec.Framework)
	if err != nil {
		return "", err
	}

	name := JobName(spec.ServiceName, spec.ModelName, spec.Framework, s.now())
	log := s.log.With("job_name", name)

	var sourceURI string
	if spec.SourceDir != "" {
		if s.uploader == nil {
			return "", errors.New("an uploader is required to stage a source directory")
		}
		sourceURI, err = s.uploader.StageDirectory(ctx, spec.SourceDir, spec.Bucket, "jobs/"+name)
		if err != nil {
			return "", errors.Join(errors.New("failed to stage source directory"), err)
		}
	}

	inputURI := spec.InputDataURI
	if spec.InputDataPath != "" {
		if s.uploader == nil {
			return "", errors.New("an uploader is required to stage input data")
		}
		inputURI, err = s.uploader.StageFile(ctx, spec.InputDataPath, spec.Bucket, "jobs/"+name+"/input")
		if err != nil {
			return "", errors.Join(errors.New("failed to stage input data"), err)
		}
	}

	env := map[string]string{}
	for k, v := range fw.Env {
		env[k] = v
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	jobSpec := &JobSpec{
		Name:            name,
		Image:           fw.Image(spec.FrameworkVersion, spec.PythonVersion),
		Command:         fw.DefaultCommand,
		Hyperparameters: fw.MapHyperparameters(spec.Hyperparameters),
		Env:             env,
		SourceURI:       sourceURI,
		InputDataURI:    inputURI,
		OutputURI:       spec.OutputURI,
		EntryPoint:      spec.EntryPoint,
		InstanceType:    spec.InstanceType,
		InstanceCount:   max(spec.InstanceCount, 1),
	}

	jobID, err := s.control.Submit(ctx, jobSpec)
	if err != nil {
		return "", errors.Join(fmt.Errorf("failed to submit training job %s", name), err)
	}
	log.Infow("Training job submitted", "job_id", jobID, "image", jobSpec.Image)
	return jobID, nil
}

// JobName composes the job handle from service, model, framework and
// submission time.
func JobName(service, model string, framework frameworks.Framework, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%d",
		shared.SanitizeName(service),
		shared.SanitizeName(model),
		framework,
		at.UnixMilli())
}
