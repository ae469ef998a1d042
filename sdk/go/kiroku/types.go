package kiroku

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 whose JSON form matches the server's metric encoding:
// NaN and the infinities travel as the strings "NaN", "Infinity", and
// "-Infinity"; finite values are plain numbers.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "NaN":
		*f = Float(math.NaN())
		return nil
	case "Infinity", "Inf":
		*f = Float(math.Inf(1))
		return nil
	case "-Infinity", "-Inf":
		*f = Float(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("kiroku: invalid float %q", b)
	}
	*f = Float(v)
	return nil
}

// Experiment mirrors the server's experiment wire form.
type Experiment struct {
	ExperimentID     string          `json:"experiment_id"`
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location,omitempty"`
	LifecycleStage   string          `json:"lifecycle_stage"`
	CreationTime     int64           `json:"creation_time"`
	LastUpdateTime   int64           `json:"last_update_time"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

// ExperimentTag is a key/value annotation on an experiment.
type ExperimentTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metric is one logged metric point.
type Metric struct {
	Key       string `json:"key"`
	Value     Float  `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Step      int64  `json:"step,omitempty"`
}

// Param is an immutable run parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunTag is a mutable key/value annotation on a run.
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunInfo holds a run's identity and lifecycle fields.
type RunInfo struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name,omitempty"`
	ExperimentID   string `json:"experiment_id"`
	UserID         string `json:"user_id,omitempty"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time,omitempty"`
	ArtifactURI    string `json:"artifact_uri,omitempty"`
	LifecycleStage string `json:"lifecycle_stage"`
}

// RunData holds a run's logged metrics, params, and tags. Metrics carry
// one point per key (the latest); use GetMetricHistory for the full series.
type RunData struct {
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []RunTag `json:"tags,omitempty"`
}

// DatasetInput records a dataset consumed by a run.
type DatasetInput struct {
	Name       string `json:"name,omitempty"`
	Digest     string `json:"digest"`
	SourceType string `json:"source_type,omitempty"`
	Source     string `json:"source,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Profile    string `json:"profile,omitempty"`
}

// RunInputs is the wire container for dataset inputs.
type RunInputs struct {
	DatasetInputs []DatasetInput `json:"dataset_inputs,omitempty"`
}

// Run is a tracked execution with its logged data.
type Run struct {
	Info   RunInfo    `json:"info"`
	Data   RunData    `json:"data"`
	Inputs *RunInputs `json:"inputs,omitempty"`
}

// Run status values accepted by UpdateRun.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusScheduled = "SCHEDULED"
	RunStatusFinished  = "FINISHED"
	RunStatusFailed    = "FAILED"
	RunStatusKilled    = "KILLED"
)

// RegisteredModel mirrors the server's registered-model wire form.
type RegisteredModel struct {
	Name                 string         `json:"name"`
	CreationTimestamp    int64          `json:"creation_timestamp"`
	LastUpdatedTimestamp int64          `json:"last_updated_timestamp"`
	Description          string         `json:"description,omitempty"`
	LatestVersions       []ModelVersion `json:"latest_versions,omitempty"`
	Tags                 []ModelTag     `json:"tags,omitempty"`
}

// ModelTag is a key/value annotation on a registered model or version.
type ModelTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ModelVersion mirrors the server's model-version wire form. Version is a
// decimal string on the wire.
type ModelVersion struct {
	Name                 string     `json:"name"`
	Version              string     `json:"version"`
	CreationTimestamp    int64      `json:"creation_timestamp"`
	LastUpdatedTimestamp int64      `json:"last_updated_timestamp"`
	UserID               string     `json:"user_id,omitempty"`
	CurrentStage         string     `json:"current_stage"`
	Description          string     `json:"description,omitempty"`
	Source               string     `json:"source,omitempty"`
	RunID                string     `json:"run_id,omitempty"`
	Status               string     `json:"status"`
	StatusMessage        string     `json:"status_message,omitempty"`
	Tags                 []ModelTag `json:"tags,omitempty"`
}

// Model version stages accepted by TransitionModelVersionStage.
const (
	StageNone       = "None"
	StageStaging    = "Staging"
	StageProduction = "Production"
	StageArchived   = "Archived"
)

// FileInfo describes one artifact listing entry.
type FileInfo struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"file_size,omitempty"`
}

// CreateExperimentRequest creates a named experiment.
type CreateExperimentRequest struct {
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location,omitempty"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

// SearchExperimentsRequest filters and paginates experiments.
type SearchExperimentsRequest struct {
	MaxResults int64    `json:"max_results,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
	Filter     string   `json:"filter,omitempty"`
	OrderBy    []string `json:"order_by,omitempty"`
	ViewType   string   `json:"view_type,omitempty"`
}

// SearchExperimentsResponse is one page of experiment results.
type SearchExperimentsResponse struct {
	Experiments   []Experiment `json:"experiments,omitempty"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// CreateRunRequest starts a new run.
type CreateRunRequest struct {
	ExperimentID string   `json:"experiment_id"`
	UserID       string   `json:"user_id,omitempty"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time,omitempty"`
	Tags         []RunTag `json:"tags,omitempty"`
}

// UpdateRunRequest mutates a run's status, end time, or display name.
type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status,omitempty"`
	EndTime int64  `json:"end_time,omitempty"`
	RunName string `json:"run_name,omitempty"`
}

// LogBatchRequest logs metrics, params, and tags in one call.
type LogBatchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []RunTag `json:"tags,omitempty"`
}

// SearchRunsRequest filters and paginates runs across experiments.
type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	RunViewType   string   `json:"run_view_type,omitempty"`
	MaxResults    int64    `json:"max_results,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

// SearchRunsResponse is one page of run results.
type SearchRunsResponse struct {
	Runs          []Run  `json:"runs,omitempty"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// MetricHistory is one page of a metric's full series.
type MetricHistory struct {
	Metrics       []Metric `json:"metrics,omitempty"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// CreateModelVersionRequest registers a new version under a model name.
type CreateModelVersionRequest struct {
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	RunID       string     `json:"run_id,omitempty"`
	Tags        []ModelTag `json:"tags,omitempty"`
	Description string     `json:"description,omitempty"`
}

// SearchModelVersionsRequest filters and paginates model versions.
type SearchModelVersionsRequest struct {
	Filter     string   `json:"filter,omitempty"`
	MaxResults int64    `json:"max_results,omitempty"`
	OrderBy    []string `json:"order_by,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
}

// SearchModelVersionsResponse is one page of model-version results.
type SearchModelVersionsResponse struct {
	ModelVersions []ModelVersion `json:"model_versions,omitempty"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// ListArtifactsResponse lists artifact entries under a run's artifact root.
type ListArtifactsResponse struct {
	RootURI       string     `json:"root_uri"`
	Files         []FileInfo `json:"files,omitempty"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// errorResponse is the wire form of every API error.
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
