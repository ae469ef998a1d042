// Package tracking is the service facade over the metadata store: request
// validation, identifier and timestamp assignment, artifact URI
// construction, and the closed error taxonomy all live here, so transports
// stay thin.
package tracking

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// DefaultExperimentID is the experiment new runs fall into when no
// experiment is named.
const DefaultExperimentID = "0"

// DefaultExperimentName is the display name of the bootstrap experiment.
const DefaultExperimentName = "Default"

// RunNameTag mirrors the run's display name into the tag namespace so
// existing clients that read the name from tags keep working; the two are
// kept in sync on every rename.
const RunNameTag = "mlflow.runName"

// Hook receives notifications when run lifecycle events occur. Methods
// run in goroutines after the originating request has committed; failures
// are logged and never fail the request.
type Hook interface {
	OnRunCreated(ctx context.Context, run model.Run) error
	OnRunFinished(ctx context.Context, info model.RunInfo) error
}

// Service is the tracking facade.
type Service struct {
	store         store.Store
	clock         *ident.Clock
	artifactRoot  string
	logger        *slog.Logger
	hooks         []Hook
	maxResultsCap int64
}

// AddHook registers a lifecycle hook. Not safe to call once the service
// is serving requests.
func (s *Service) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// SetMaxResultsCap bounds the max_results parameter of the search
// operations. Zero keeps the hard ceiling. Not safe to call once the
// service is serving requests.
func (s *Service) SetMaxResultsCap(cap int64) {
	s.maxResultsCap = cap
}

func (s *Service) checkMaxResults(maxResults int64) error {
	if maxResults < 0 {
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"max_results must not be negative, got %d", maxResults)
	}
	limit := s.maxResultsCap
	if limit <= 0 || limit > store.HardMaxResults {
		limit = store.HardMaxResults
	}
	if maxResults > limit {
		return model.Errorf(model.ErrCodeRequestLimitExceeded,
			"max_results %d exceeds the limit of %d", maxResults, limit)
	}
	return nil
}

func (s *Service) notifyRunCreated(ctx context.Context, run model.Run) {
	for _, h := range s.hooks {
		go func(h Hook) {
			if err := h.OnRunCreated(context.WithoutCancel(ctx), run); err != nil {
				s.logger.Warn("run-created hook failed", "run_id", run.Info.RunID, "error", err)
			}
		}(h)
	}
}

func (s *Service) notifyRunFinished(ctx context.Context, info model.RunInfo) {
	for _, h := range s.hooks {
		go func(h Hook) {
			if err := h.OnRunFinished(context.WithoutCancel(ctx), info); err != nil {
				s.logger.Warn("run-finished hook failed", "run_id", info.RunID, "error", err)
			}
		}(h)
	}
}

// New builds the facade. artifactRoot is the base URI under which
// experiment artifact locations are allocated.
func New(st store.Store, clock *ident.Clock, artifactRoot string, logger *slog.Logger) *Service {
	return &Service{
		store:        st,
		clock:        clock,
		artifactRoot: strings.TrimRight(artifactRoot, "/"),
		logger:       logger,
	}
}

// EnsureDefaultExperiment creates experiment "0" if no experiment exists
// yet. Called once at startup.
func (s *Service) EnsureDefaultExperiment(ctx context.Context) error {
	if _, err := s.store.GetExperiment(ctx, DefaultExperimentID); err == nil {
		return nil
	} else if model.CodeOf(err) != model.ErrCodeResourceDoesNotExist {
		return err
	}
	now := s.clock.NowMillis()
	err := s.store.CreateExperiment(ctx, model.Experiment{
		ExperimentID:     DefaultExperimentID,
		Name:             DefaultExperimentName,
		ArtifactLocation: s.artifactRoot + "/" + DefaultExperimentID,
		LifecycleStage:   model.LifecycleActive,
		CreationTime:     now,
		LastUpdateTime:   now,
	})
	if err != nil && model.CodeOf(err) != model.ErrCodeResourceAlreadyExists {
		return err
	}
	return nil
}

// CreateExperiment allocates an ID and persists the experiment. An empty
// artifactLocation defaults to a subdirectory of the service root.
func (s *Service) CreateExperiment(ctx context.Context, name, artifactLocation string, tags []model.ExperimentTag) (model.Experiment, error) {
	if err := model.ValidateExperimentName(name); err != nil {
		return model.Experiment{}, err
	}
	for _, t := range tags {
		if err := model.ValidateKey(t.Key, "experiment tag key"); err != nil {
			return model.Experiment{}, err
		}
	}
	id := ident.NewExperimentID()
	if artifactLocation == "" {
		artifactLocation = s.artifactRoot + "/" + id
	}
	now := s.clock.NowMillis()
	e := model.Experiment{
		ExperimentID:     id,
		Name:             name,
		ArtifactLocation: artifactLocation,
		LifecycleStage:   model.LifecycleActive,
		CreationTime:     now,
		LastUpdateTime:   now,
		Tags:             tags,
	}
	if err := s.store.CreateExperiment(ctx, e); err != nil {
		return model.Experiment{}, err
	}
	s.logger.Info("experiment created", "experiment_id", id, "name", name)
	return e, nil
}

// GetExperiment returns an experiment by ID.
func (s *Service) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	if id == "" {
		return model.Experiment{}, model.Errorf(model.ErrCodeInvalidParameterValue,
			"experiment_id must not be empty")
	}
	return s.store.GetExperiment(ctx, id)
}

// GetExperimentByName returns the active experiment with the given name.
func (s *Service) GetExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	if name == "" {
		return model.Experiment{}, model.Errorf(model.ErrCodeInvalidParameterValue,
			"experiment_name must not be empty")
	}
	return s.store.GetExperimentByName(ctx, name)
}

// UpdateExperiment renames an active experiment.
func (s *Service) UpdateExperiment(ctx context.Context, id, newName string) error {
	if err := model.ValidateExperimentName(newName); err != nil {
		return err
	}
	return s.store.RenameExperiment(ctx, id, newName, s.clock.NowMillis())
}

// DeleteExperiment soft-deletes an experiment; its runs become
// unreachable and its name is freed.
func (s *Service) DeleteExperiment(ctx context.Context, id string) error {
	if id == DefaultExperimentID {
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"the default experiment cannot be deleted")
	}
	return s.store.DeleteExperiment(ctx, id, s.clock.NowMillis())
}

// RestoreExperiment reactivates a soft-deleted experiment.
func (s *Service) RestoreExperiment(ctx context.Context, id string) error {
	return s.store.RestoreExperiment(ctx, id, s.clock.NowMillis())
}

// SetExperimentTag writes one experiment tag.
func (s *Service) SetExperimentTag(ctx context.Context, id string, tag model.ExperimentTag) error {
	if err := model.ValidateKey(tag.Key, "experiment tag key"); err != nil {
		return err
	}
	return s.store.SetExperimentTag(ctx, id, tag)
}

// SearchExperiments parses the filter and pages matching experiments.
func (s *Service) SearchExperiments(ctx context.Context, filter string, viewType string, orderBy []string, maxResults int64, pageToken string) ([]model.Experiment, string, error) {
	if err := s.checkMaxResults(maxResults); err != nil {
		return nil, "", err
	}
	view, err := model.ParseViewType(viewType)
	if err != nil {
		return nil, "", err
	}
	parsed, err := query.ParseFilter(filter, query.EntityExperiment)
	if err != nil {
		return nil, "", err
	}
	order, err := query.ParseOrderByList(orderBy, query.EntityExperiment)
	if err != nil {
		return nil, "", err
	}
	return s.store.SearchExperiments(ctx, store.SearchRequest{
		FilterRaw:  filter,
		Filter:     parsed,
		ViewType:   view,
		OrderByRaw: orderBy,
		OrderBy:    order,
		MaxResults: maxResults,
		PageToken:  pageToken,
	})
}

// CreateRun opens a run in the experiment. A missing run name is
// generated; the name is mirrored into the run-name tag.
func (s *Service) CreateRun(ctx context.Context, experimentID, userID, runName string, startTime int64, tags []model.RunTag) (model.Run, error) {
	if experimentID == "" {
		experimentID = DefaultExperimentID
	}
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return model.Run{}, err
	}
	for _, t := range tags {
		if err := model.ValidateRunTag(t); err != nil {
			return model.Run{}, err
		}
	}

	if runName == "" {
		// A client may pass the name through the tag instead.
		for _, t := range tags {
			if t.Key == RunNameTag {
				runName = t.Value
				break
			}
		}
	}
	if runName == "" {
		runName = ident.RandomRunName()
	}
	hasNameTag := false
	for i, t := range tags {
		if t.Key == RunNameTag {
			tags[i].Value = runName
			hasNameTag = true
			break
		}
	}
	if !hasNameTag {
		tags = append(tags, model.RunTag{Key: RunNameTag, Value: runName})
	}

	if startTime == 0 {
		startTime = s.clock.NowMillis()
	}
	runID := ident.NewRunID()
	run := model.Run{
		Info: model.RunInfo{
			RunID:          runID,
			RunName:        runName,
			ExperimentID:   experimentID,
			UserID:         userID,
			Status:         model.RunStatusRunning,
			StartTime:      startTime,
			ArtifactURI:    strings.TrimRight(exp.ArtifactLocation, "/") + "/" + runID + "/artifacts",
			LifecycleStage: model.LifecycleActive,
		},
		Data: model.RunData{Tags: tags},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return model.Run{}, err
	}
	s.logger.Info("run created",
		"run_id", runID, "experiment_id", experimentID, "name", runName)
	s.notifyRunCreated(ctx, run)
	return run, nil
}

// reduceToLatest collapses each metric key to its winning point, the form
// run reads and searches return. Full histories stay available through
// GetMetricHistory.
func reduceToLatest(run *model.Run) {
	if len(run.Data.Metrics) == 0 {
		return
	}
	latest := map[string]model.Metric{}
	var order []string
	for _, m := range run.Data.Metrics {
		cur, ok := latest[m.Key]
		if !ok {
			order = append(order, m.Key)
			latest[m.Key] = m
			continue
		}
		if !cur.IsLater(m) {
			latest[m.Key] = m
		}
	}
	out := make([]model.Metric, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	run.Data.Metrics = out
}

// GetRun returns a run with latest metric values, params, tags, and
// inputs.
func (s *Service) GetRun(ctx context.Context, runID string) (model.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	reduceToLatest(&run)
	return run, nil
}

// UpdateRun sets status, end time, and/or name. Renaming also rewrites
// the run-name tag.
func (s *Service) UpdateRun(ctx context.Context, runID, status string, endTime int64, runName string) (model.RunInfo, error) {
	var parsed model.RunStatus
	if status != "" {
		var err error
		parsed, err = model.ParseRunStatus(status)
		if err != nil {
			return model.RunInfo{}, err
		}
	}
	info, err := s.store.UpdateRun(ctx, runID, parsed, endTime, runName)
	if err != nil {
		return model.RunInfo{}, err
	}
	if runName != "" {
		if err := s.store.SetTag(ctx, runID, model.RunTag{Key: RunNameTag, Value: runName}); err != nil {
			return model.RunInfo{}, err
		}
	}
	switch parsed {
	case model.RunStatusFinished, model.RunStatusFailed, model.RunStatusKilled:
		s.notifyRunFinished(ctx, info)
	}
	return info, nil
}

// DeleteRun soft-deletes a run.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	return s.store.DeleteRun(ctx, runID)
}

// RestoreRun reactivates a soft-deleted run.
func (s *Service) RestoreRun(ctx context.Context, runID string) error {
	return s.store.RestoreRun(ctx, runID)
}

// LogMetric validates and appends one metric point.
func (s *Service) LogMetric(ctx context.Context, runID string, m model.Metric) error {
	if err := model.ValidateMetric(m); err != nil {
		return err
	}
	return s.store.LogMetric(ctx, runID, m)
}

// LogParam validates and writes one immutable param.
func (s *Service) LogParam(ctx context.Context, runID string, p model.Param) error {
	if err := model.ValidateParam(p); err != nil {
		return err
	}
	return s.store.LogParam(ctx, runID, p)
}

// SetTag validates and writes one run tag.
func (s *Service) SetTag(ctx context.Context, runID string, t model.RunTag) error {
	if err := model.ValidateRunTag(t); err != nil {
		return err
	}
	return s.store.SetTag(ctx, runID, t)
}

// DeleteTag removes one run tag.
func (s *Service) DeleteTag(ctx context.Context, runID, key string) error {
	if key == "" {
		return model.Errorf(model.ErrCodeInvalidParameterValue, "tag key must not be empty")
	}
	return s.store.DeleteTag(ctx, runID, key)
}

// LogBatch validates the whole batch against the size and content limits
// before anything is applied.
func (s *Service) LogBatch(ctx context.Context, runID string, metrics []model.Metric, params []model.Param, tags []model.RunTag) error {
	if err := model.ValidateBatch(metrics, params, tags); err != nil {
		return err
	}
	return s.store.LogBatch(ctx, runID, metrics, params, tags)
}

// LogInputs records dataset inputs. A dataset with no name gets the
// deterministic digest-derived name.
func (s *Service) LogInputs(ctx context.Context, runID string, inputs []model.DatasetInput) error {
	for i := range inputs {
		if inputs[i].Dataset.Digest == "" {
			return model.Errorf(model.ErrCodeInvalidParameterValue,
				"dataset digest must not be empty")
		}
		if inputs[i].Dataset.Name == "" {
			inputs[i].Dataset.Name = ident.DatasetName(inputs[i].Dataset.Digest)
		}
	}
	return s.store.LogInputs(ctx, runID, inputs)
}

// GetMetricHistory returns the full history for one metric key.
func (s *Service) GetMetricHistory(ctx context.Context, runID, key string, maxResults int64, pageToken string) ([]model.Metric, string, error) {
	if err := s.checkMaxResults(maxResults); err != nil {
		return nil, "", err
	}
	if key == "" {
		return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
			"metric key must not be empty")
	}
	return s.store.GetMetricHistory(ctx, runID, key, maxResults, pageToken)
}

// SearchRuns parses the filter and pages matching runs across the named
// experiments, reducing metrics to their latest points.
func (s *Service) SearchRuns(ctx context.Context, experimentIDs []string, filter, viewType string, orderBy []string, maxResults int64, pageToken string) ([]model.Run, string, error) {
	if len(experimentIDs) == 0 {
		return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
			"experiment_ids must not be empty")
	}
	if err := s.checkMaxResults(maxResults); err != nil {
		return nil, "", err
	}
	view, err := model.ParseViewType(viewType)
	if err != nil {
		return nil, "", err
	}
	parsed, err := query.ParseFilter(filter, query.EntityRun)
	if err != nil {
		return nil, "", err
	}
	order, err := query.ParseOrderByList(orderBy, query.EntityRun)
	if err != nil {
		return nil, "", err
	}
	runs, token, err := s.store.SearchRuns(ctx, store.SearchRequest{
		ExperimentIDs: experimentIDs,
		FilterRaw:     filter,
		Filter:        parsed,
		ViewType:      view,
		OrderByRaw:    orderBy,
		OrderBy:       order,
		MaxResults:    maxResults,
		PageToken:     pageToken,
	})
	if err != nil {
		return nil, "", err
	}
	for i := range runs {
		reduceToLatest(&runs[i])
	}
	return runs, token, nil
}

// ArtifactURI implements artifact.RunResolver.
func (s *Service) ArtifactURI(ctx context.Context, runID string) (string, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Info.ArtifactURI, nil
}

// Ping reports store health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
