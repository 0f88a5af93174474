// Package jobs submits training jobs to the platform and tracks them to a
// terminal status with a fixed-interval polling loop.
package jobs

import "context"

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusStopped    Status = "Stopped"
)

// Terminal reports whether no further transition happens without a new
// external action.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// JobControl is the remote training control plane.
type JobControl interface {
	Submit(ctx context.Context, spec *JobSpec) (string, error)
	Describe(ctx context.Context, jobID string) (Status, error)
}

// JobSpec is the fully-resolved submission payload: framework lookup and
// hyperparameter mapping have already been applied.
type JobSpec struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Command         []string          `json:"command,omitempty"`
	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	SourceURI       string            `json:"source_uri,omitempty"`
	InputDataURI    string            `json:"input_data_uri,omitempty"`
	OutputURI       string            `json:"output_uri,omitempty"`
	EntryPoint      string            `json:"entry_point,omitempty"`
	InstanceType    string            `json:"instance_type,omitempty"`
	InstanceCount   int               `json:"instance_count,omitempty"`
}
