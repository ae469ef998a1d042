package model

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// JSONFloat is a float64 whose JSON form admits the non-finite values that
// training jobs actually emit. NaN and the infinities are encoded as the
// strings "NaN", "Infinity", and "-Infinity"; finite values are plain
// numbers.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
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

func (f *JSONFloat) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "NaN":
		*f = JSONFloat(math.NaN())
		return nil
	case "Infinity", "Inf":
		*f = JSONFloat(math.Inf(1))
		return nil
	case "-Infinity", "-Inf":
		*f = JSONFloat(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("model: invalid float %q", b)
	}
	*f = JSONFloat(v)
	return nil
}

// ErrorResponse is the wire form of every API error:
// {"error_code": "<ENUM>", "message": "..."}.
type ErrorResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
}

// ExperimentDTO is the wire form of an Experiment.
type ExperimentDTO struct {
	ExperimentID     string          `json:"experiment_id"`
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location,omitempty"`
	LifecycleStage   string          `json:"lifecycle_stage"`
	CreationTime     int64           `json:"creation_time"`
	LastUpdateTime   int64           `json:"last_update_time"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

// ToDTO converts an Experiment to its wire form.
func (e Experiment) ToDTO() ExperimentDTO {
	return ExperimentDTO{
		ExperimentID:     e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   string(e.LifecycleStage),
		CreationTime:     e.CreationTime,
		LastUpdateTime:   e.LastUpdateTime,
		Tags:             e.Tags,
	}
}

// MetricDTO is the wire form of a Metric.
type MetricDTO struct {
	Key       string    `json:"key"`
	Value     JSONFloat `json:"value"`
	Timestamp int64     `json:"timestamp"`
	Step      int64     `json:"step,omitempty"`
}

// ToDTO converts a Metric to its wire form.
func (m Metric) ToDTO() MetricDTO {
	return MetricDTO{Key: m.Key, Value: JSONFloat(m.Value), Timestamp: m.Timestamp, Step: m.Step}
}

// ToMetric converts a wire metric back to the entity form.
func (m MetricDTO) ToMetric() Metric {
	return Metric{Key: m.Key, Value: float64(m.Value), Timestamp: m.Timestamp, Step: m.Step}
}

// RunInfoDTO is the wire form of RunInfo.
type RunInfoDTO struct {
	RunID          string `json:"run_id"`
	RunUUID        string `json:"run_uuid,omitempty"` // legacy alias of run_id
	RunName        string `json:"run_name,omitempty"`
	ExperimentID   string `json:"experiment_id"`
	UserID         string `json:"user_id,omitempty"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time,omitempty"`
	ArtifactURI    string `json:"artifact_uri,omitempty"`
	LifecycleStage string `json:"lifecycle_stage"`
}

// RunDataDTO is the wire form of RunData.
type RunDataDTO struct {
	Metrics []MetricDTO `json:"metrics,omitempty"`
	Params  []Param     `json:"params,omitempty"`
	Tags    []RunTag    `json:"tags,omitempty"`
}

// RunDTO is the wire form of a Run.
type RunDTO struct {
	Info   RunInfoDTO      `json:"info"`
	Data   RunDataDTO      `json:"data"`
	Inputs *RunInputsDTO   `json:"inputs,omitempty"`
}

// RunInputsDTO is the wire container for dataset inputs.
type RunInputsDTO struct {
	DatasetInputs []DatasetInput `json:"dataset_inputs,omitempty"`
}

// ToDTO converts a Run to its wire form.
func (r Run) ToDTO() RunDTO {
	dto := RunDTO{
		Info: RunInfoDTO{
			RunID:          r.Info.RunID,
			RunUUID:        r.Info.RunID,
			RunName:        r.Info.RunName,
			ExperimentID:   r.Info.ExperimentID,
			UserID:         r.Info.UserID,
			Status:         string(r.Info.Status),
			StartTime:      r.Info.StartTime,
			EndTime:        r.Info.EndTime,
			ArtifactURI:    r.Info.ArtifactURI,
			LifecycleStage: string(r.Info.LifecycleStage),
		},
		Data: RunDataDTO{Params: r.Data.Params, Tags: r.Data.Tags},
	}
	for _, m := range r.Data.Metrics {
		dto.Data.Metrics = append(dto.Data.Metrics, m.ToDTO())
	}
	if len(r.Inputs) > 0 {
		dto.Inputs = &RunInputsDTO{DatasetInputs: r.Inputs}
	}
	return dto
}

// RegisteredModelDTO is the wire form of a RegisteredModel.
type RegisteredModelDTO struct {
	Name                 string            `json:"name"`
	CreationTimestamp    int64             `json:"creation_timestamp"`
	LastUpdatedTimestamp int64             `json:"last_updated_timestamp"`
	Description          string            `json:"description,omitempty"`
	LatestVersions       []ModelVersionDTO `json:"latest_versions,omitempty"`
	Tags                 []ModelTag        `json:"tags,omitempty"`
}

// ToDTO converts a RegisteredModel to its wire form.
func (m RegisteredModel) ToDTO() RegisteredModelDTO {
	dto := RegisteredModelDTO{
		Name:                 m.Name,
		CreationTimestamp:    m.CreationTime,
		LastUpdatedTimestamp: m.LastUpdatedTime,
		Description:          m.Description,
		Tags:                 m.Tags,
	}
	for _, v := range m.LatestVersions {
		dto.LatestVersions = append(dto.LatestVersions, v.ToDTO())
	}
	return dto
}

// ModelVersionDTO is the wire form of a ModelVersion. Version is a decimal
// string on the wire.
type ModelVersionDTO struct {
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

// ToDTO converts a ModelVersion to its wire form.
func (v ModelVersion) ToDTO() ModelVersionDTO {
	return ModelVersionDTO{
		Name:                 v.Name,
		Version:              strconv.FormatInt(v.Version, 10),
		CreationTimestamp:    v.CreationTime,
		LastUpdatedTimestamp: v.LastUpdatedTime,
		UserID:               v.UserID,
		CurrentStage:         string(v.CurrentStage),
		Description:          v.Description,
		Source:               v.Source,
		RunID:                v.RunID,
		Status:               string(v.Status),
		StatusMessage:        v.StatusMessage,
		Tags:                 v.Tags,
	}
}

// FileInfoDTO describes one artifact listing entry.
type FileInfoDTO struct {
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"file_size,omitempty"`
}

// --- Request/response bodies, one pair per API operation. ---

type CreateExperimentRequest struct {
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location,omitempty"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type GetExperimentResponse struct {
	Experiment ExperimentDTO `json:"experiment"`
}

type UpdateExperimentRequest struct {
	ExperimentID string `json:"experiment_id"`
	NewName      string `json:"new_name"`
}

type DeleteExperimentRequest struct {
	ExperimentID string `json:"experiment_id"`
}

type RestoreExperimentRequest struct {
	ExperimentID string `json:"experiment_id"`
}

type SetExperimentTagRequest struct {
	ExperimentID string `json:"experiment_id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

type SearchExperimentsRequest struct {
	MaxResults int64    `json:"max_results,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
	Filter     string   `json:"filter,omitempty"`
	OrderBy    []string `json:"order_by,omitempty"`
	ViewType   string   `json:"view_type,omitempty"`
}

type SearchExperimentsResponse struct {
	Experiments   []ExperimentDTO `json:"experiments,omitempty"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type CreateRunRequest struct {
	ExperimentID string   `json:"experiment_id"`
	UserID       string   `json:"user_id,omitempty"`
	RunName      string   `json:"run_name,omitempty"`
	StartTime    int64    `json:"start_time,omitempty"`
	Tags         []RunTag `json:"tags,omitempty"`
}

type CreateRunResponse struct {
	Run RunDTO `json:"run"`
}

type GetRunResponse struct {
	Run RunDTO `json:"run"`
}

type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status,omitempty"`
	EndTime int64  `json:"end_time,omitempty"`
	RunName string `json:"run_name,omitempty"`
}

type UpdateRunResponse struct {
	RunInfo RunInfoDTO `json:"run_info"`
}

type DeleteRunRequest struct {
	RunID string `json:"run_id"`
}

type RestoreRunRequest struct {
	RunID string `json:"run_id"`
}

type LogMetricRequest struct {
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Value     JSONFloat `json:"value"`
	Timestamp int64     `json:"timestamp"`
	Step      int64     `json:"step,omitempty"`
}

type LogParamRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type SetTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type DeleteTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
}

type LogBatchRequest struct {
	RunID   string      `json:"run_id"`
	Metrics []MetricDTO `json:"metrics,omitempty"`
	Params  []Param     `json:"params,omitempty"`
	Tags    []RunTag    `json:"tags,omitempty"`
}

type LogInputsRequest struct {
	RunID    string         `json:"run_id"`
	Datasets []DatasetInput `json:"datasets,omitempty"`
}

type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	RunViewType   string   `json:"run_view_type,omitempty"`
	MaxResults    int64    `json:"max_results,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

type SearchRunsResponse struct {
	Runs          []RunDTO `json:"runs,omitempty"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

type GetMetricHistoryResponse struct {
	Metrics       []MetricDTO `json:"metrics,omitempty"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

type CreateRegisteredModelRequest struct {
	Name        string     `json:"name"`
	Tags        []ModelTag `json:"tags,omitempty"`
	Description string     `json:"description,omitempty"`
}

type CreateRegisteredModelResponse struct {
	RegisteredModel RegisteredModelDTO `json:"registered_model"`
}

type GetRegisteredModelResponse struct {
	RegisteredModel RegisteredModelDTO `json:"registered_model"`
}

type RenameRegisteredModelRequest struct {
	Name    string `json:"name"`
	NewName string `json:"new_name"`
}

type UpdateRegisteredModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type DeleteRegisteredModelRequest struct {
	Name string `json:"name"`
}

type SearchRegisteredModelsRequest struct {
	Filter     string   `json:"filter,omitempty"`
	MaxResults int64    `json:"max_results,omitempty"`
	OrderBy    []string `json:"order_by,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
}

type SearchRegisteredModelsResponse struct {
	RegisteredModels []RegisteredModelDTO `json:"registered_models,omitempty"`
	NextPageToken    string               `json:"next_page_token,omitempty"`
}

type GetLatestVersionsRequest struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages,omitempty"`
}

type GetLatestVersionsResponse struct {
	ModelVersions []ModelVersionDTO `json:"model_versions,omitempty"`
}

type SetRegisteredModelTagRequest struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type DeleteRegisteredModelTagRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type CreateModelVersionRequest struct {
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	RunID       string     `json:"run_id,omitempty"`
	Tags        []ModelTag `json:"tags,omitempty"`
	Description string     `json:"description,omitempty"`
}

type CreateModelVersionResponse struct {
	ModelVersion ModelVersionDTO `json:"model_version"`
}

type GetModelVersionResponse struct {
	ModelVersion ModelVersionDTO `json:"model_version"`
}

type UpdateModelVersionRequest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type DeleteModelVersionRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type TransitionModelVersionStageRequest struct {
	Name                    string `json:"name"`
	Version                 string `json:"version"`
	Stage                   string `json:"stage"`
	ArchiveExistingVersions bool   `json:"archive_existing_versions,omitempty"`
}

type TransitionModelVersionStageResponse struct {
	ModelVersion ModelVersionDTO `json:"model_version"`
}

type SearchModelVersionsRequest struct {
	Filter     string   `json:"filter,omitempty"`
	MaxResults int64    `json:"max_results,omitempty"`
	OrderBy    []string `json:"order_by,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
}

type SearchModelVersionsResponse struct {
	ModelVersions []ModelVersionDTO `json:"model_versions,omitempty"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type SetModelVersionTagRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

type DeleteModelVersionTagRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Key     string `json:"key"`
}

type GetDownloadURIResponse struct {
	ArtifactURI string `json:"artifact_uri"`
}

type ListArtifactsResponse struct {
	RootURI       string        `json:"root_uri"`
	Files         []FileInfoDTO `json:"files,omitempty"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}
