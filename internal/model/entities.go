// Package model defines the tracking and registry entities, the wire DTOs,
// the validation floor applied before any write, and the closed error
// taxonomy. Entities reference each other by ID only; there are no owning
// pointers between experiments, runs, and registry records.
package model

import "strings"

// LifecycleStage marks an entity as live or soft-deleted.
type LifecycleStage string

const (
	LifecycleActive  LifecycleStage = "active"
	LifecycleDeleted LifecycleStage = "deleted"
)

// ViewType selects which lifecycle stages a search covers.
type ViewType string

const (
	ViewActiveOnly  ViewType = "ACTIVE_ONLY"
	ViewDeletedOnly ViewType = "DELETED_ONLY"
	ViewAll         ViewType = "ALL"
)

// Matches reports whether stage is visible under the view.
func (v ViewType) Matches(stage LifecycleStage) bool {
	switch v {
	case ViewDeletedOnly:
		return stage == LifecycleDeleted
	case ViewAll:
		return true
	default:
		return stage == LifecycleActive
	}
}

// ParseViewType accepts the wire spelling of a view type; empty means
// ACTIVE_ONLY.
func ParseViewType(s string) (ViewType, error) {
	switch s {
	case "", string(ViewActiveOnly):
		return ViewActiveOnly, nil
	case string(ViewDeletedOnly):
		return ViewDeletedOnly, nil
	case string(ViewAll):
		return ViewAll, nil
	}
	return "", Errorf(ErrCodeInvalidParameterValue, "invalid view type %q", s)
}

// Experiment is a named container of runs.
type Experiment struct {
	ExperimentID     string
	Name             string
	ArtifactLocation string
	LifecycleStage   LifecycleStage
	CreationTime     int64 // ms since epoch
	LastUpdateTime   int64
	Tags             []ExperimentTag
}

// ExperimentTag is an arbitrary key/value annotation on an experiment.
type ExperimentTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunStatus is the execution state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

// ParseRunStatus validates a wire status string.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusScheduled, RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return RunStatus(s), nil
	}
	return "", Errorf(ErrCodeInvalidParameterValue, "invalid run status %q", s)
}

// RunInfo is the identity and lifecycle portion of a run.
type RunInfo struct {
	RunID          string
	RunName        string
	ExperimentID   string
	UserID         string
	Status         RunStatus
	StartTime      int64
	EndTime        int64 // 0 while the run is open
	ArtifactURI    string
	LifecycleStage LifecycleStage
}

// RunData is the logged content of a run.
type RunData struct {
	Metrics []Metric
	Params  []Param
	Tags    []RunTag
}

// Run is a single execution record.
type Run struct {
	Info   RunInfo
	Data   RunData
	Inputs []DatasetInput
}

// Param is an immutable key/value on a run. Rewriting a key with a different
// value is an error; the same value is idempotent.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunTag is an overwritable key/value on a run.
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metric is one appended point in a metric series. Value may be NaN or ±Inf;
// see ValueJSON for the wire encoding of those.
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64
	Step      int64
}

// IsLater reports whether m supersedes other as the "latest" point for its
/// key: greatest step wins, ties broken by greatest timestamp. Insertion
// order breaks remaining ties at the storage layer.
func (m Metric) IsLater(other Metric) bool {
	if m.Step != other.Step {
		return m.Step > other.Step
	}
	return m.Timestamp > other.Timestamp
}

// Dataset identifies an input dataset by name and content digest.
type Dataset struct {
	Name       string `json:"name"`
	Digest     string `json:"digest"`
	SourceType string `json:"source_type,omitempty"`
	Source     string `json:"source,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Profile    string `json:"profile,omitempty"`
}

// InputTag annotates a dataset input.
type InputTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DatasetInput links a dataset to a run. Append-only.
type DatasetInput struct {
	Dataset Dataset    `json:"dataset"`
	Tags    []InputTag `json:"tags,omitempty"`
}

// Stage is the deployment stage label on a model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// CanonicalStage resolves a case-insensitive stage name to its canonical
// form.
func CanonicalStage(s string) (Stage, error) {
	for _, stage := range []Stage{StageNone, StageStaging, StageProduction, StageArchived} {
		if strings.EqualFold(s, string(stage)) {
			return stage, nil
		}
	}
	return "", Errorf(ErrCodeInvalidParameterValue,
		"invalid stage %q, must be one of None, Staging, Production, Archived", s)
}

// ModelVersionStatus tracks the two-phase registration of a version.
type ModelVersionStatus string

const (
	VersionStatusPending ModelVersionStatus = "PENDING_REGISTRATION"
	VersionStatusReady   ModelVersionStatus = "READY"
	VersionStatusFailed  ModelVersionStatus = "FAILED_REGISTRATION"
)

// RegisteredModel is a named lineage of model versions.
type RegisteredModel struct {
	Name            string
	CreationTime    int64
	LastUpdatedTime int64
	Description     string
	Tags            []ModelTag
	// LatestVersions carries the newest version per stage on reads; it is
	// not stored.
	LatestVersions []ModelVersion
}

// ModelTag is a key/value on a registered model or model version.
type ModelTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ModelVersion is an immutable reference to a stored model plus mutable
// metadata.
type ModelVersion struct {
	Name            string
	Version         int64
	CreationTime    int64
	LastUpdatedTime int64
	Description     string
	UserID          string
	CurrentStage    Stage
	Source          string
	RunID           string
	Status          ModelVersionStatus
	StatusMessage   string
	Tags            []ModelTag
}
