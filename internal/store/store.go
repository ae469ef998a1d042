// Package store defines the metadata store contract shared by the
// relational and file-tree backends, plus the pagination and ordering
// discipline both must observe.
package store

import (
	"context"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
)

// DefaultMaxResults is the page size search operations fall back to when
// a request leaves max_results unset.
const DefaultMaxResults = 1000

// HardMaxResults is the absolute max_results ceiling; no deployment cap
// may exceed it.
const HardMaxResults = 1_000_000

// EffectiveMaxResults resolves the page size for a search: the requested
// value, or the default when unset. Both backends apply it so an omitted
// max_results pages identically everywhere.
func EffectiveMaxResults(maxResults int64) int64 {
	if maxResults <= 0 {
		return DefaultMaxResults
	}
	return maxResults
}

// SearchRequest carries a parsed search across any entity kind. Raw strings
// are retained alongside their parsed forms to fingerprint page tokens.
type SearchRequest struct {
	ExperimentIDs []string // run search only
	FilterRaw     string
	Filter        []query.Comparison
	ViewType      model.ViewType
	OrderByRaw    []string
	OrderBy       []query.OrderBy
	MaxResults    int64
	PageToken     string
}

// Fingerprint binds a page token to the structural identity of the query
// that issued it: filter, ordering, view, and experiment set. MaxResults and
// the token itself are excluded so clients may vary page size mid-iteration.
func (r SearchRequest) Fingerprint() uint64 {
	parts := []string{
		r.FilterRaw,
		strings.Join(r.OrderByRaw, "\x00"),
		string(r.ViewType),
		strings.Join(r.ExperimentIDs, "\x00"),
	}
	return fingerprint(strings.Join(parts, "\x1f"))
}

// Store is the persistent metadata backend. Both implementations satisfy
// identical observable semantics; tests parametrize over the two.
type Store interface {
	// Experiments.
	CreateExperiment(ctx context.Context, e model.Experiment) error
	GetExperiment(ctx context.Context, id string) (model.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (model.Experiment, error)
	RenameExperiment(ctx context.Context, id, newName string, updateTime int64) error
	DeleteExperiment(ctx context.Context, id string, deleteTime int64) error
	RestoreExperiment(ctx context.Context, id string, updateTime int64) error
	SetExperimentTag(ctx context.Context, id string, tag model.ExperimentTag) error
	SearchExperiments(ctx context.Context, req SearchRequest) ([]model.Experiment, string, error)

	// Runs.
	CreateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, runID string) (model.Run, error)
	UpdateRun(ctx context.Context, runID string, status model.RunStatus, endTime int64, runName string) (model.RunInfo, error)
	DeleteRun(ctx context.Context, runID string) error
	RestoreRun(ctx context.Context, runID string) error

	LogParam(ctx context.Context, runID string, p model.Param) error
	LogMetric(ctx context.Context, runID string, m model.Metric) error
	SetTag(ctx context.Context, runID string, t model.RunTag) error
	DeleteTag(ctx context.Context, runID, key string) error
	// LogBatch applies all entries atomically; no reader observes a partial
	// batch and any entry failing validation or the param-immutability rule
	// aborts the whole batch.
	LogBatch(ctx context.Context, runID string, metrics []model.Metric, params []model.Param, tags []model.RunTag) error
	LogInputs(ctx context.Context, runID string, inputs []model.DatasetInput) error
	GetMetricHistory(ctx context.Context, runID, key string, maxResults int64, pageToken string) ([]model.Metric, string, error)
	SearchRuns(ctx context.Context, req SearchRequest) ([]model.Run, string, error)

	// Model registry.
	CreateRegisteredModel(ctx context.Context, m model.RegisteredModel) error
	GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error)
	RenameRegisteredModel(ctx context.Context, name, newName string, updateTime int64) (model.RegisteredModel, error)
	UpdateRegisteredModel(ctx context.Context, name, description string, updateTime int64) (model.RegisteredModel, error)
	DeleteRegisteredModel(ctx context.Context, name string) error
	SetRegisteredModelTag(ctx context.Context, name string, tag model.ModelTag) error
	DeleteRegisteredModelTag(ctx context.Context, name, key string) error
	SearchRegisteredModels(ctx context.Context, req SearchRequest) ([]model.RegisteredModel, string, error)

	// CreateModelVersion allocates version = max(existing)+1 atomically
	// under the model name and returns the stored version.
	CreateModelVersion(ctx context.Context, v model.ModelVersion) (model.ModelVersion, error)
	GetModelVersion(ctx context.Context, name string, version int64) (model.ModelVersion, error)
	UpdateModelVersion(ctx context.Context, name string, version int64, description string, updateTime int64) (model.ModelVersion, error)
	UpdateModelVersionStatus(ctx context.Context, name string, version int64, status model.ModelVersionStatus, message string, updateTime int64) error
	DeleteModelVersion(ctx context.Context, name string, version int64) error
	// TransitionModelVersionStage moves one version to stage; when
	// archiveExisting is set, every other version of the model currently in
	// stage moves to Archived in the same atomic step, all with the same
	// last_updated timestamp.
	TransitionModelVersionStage(ctx context.Context, name string, version int64, stage model.Stage, archiveExisting bool, updateTime int64) (model.ModelVersion, error)
	GetLatestVersions(ctx context.Context, name string, stages []model.Stage) ([]model.ModelVersion, error)
	SetModelVersionTag(ctx context.Context, name string, version int64, tag model.ModelTag) error
	DeleteModelVersionTag(ctx context.Context, name string, version int64, key string) error
	SearchModelVersions(ctx context.Context, req SearchRequest) ([]model.ModelVersion, string, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
