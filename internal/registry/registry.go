// Package registry implements the model registry service: named models,
// monotonically versioned snapshots, and deployment stage transitions.
package registry

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// Service wraps the store with validation, stage canonicalization, and
// timestamping for registry operations.
// Hook receives notifications when a version changes stage. Methods run
// in goroutines after the transition has committed; failures are logged
// and never fail the request.
type Hook interface {
	OnStageTransition(ctx context.Context, version model.ModelVersion) error
}

type Service struct {
	store         store.Store
	clock         *ident.Clock
	logger        *slog.Logger
	hooks         []Hook
	maxResultsCap int64
}

// New builds a registry service.
func New(st store.Store, clock *ident.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, clock: clock, logger: logger}
}

// AddHook registers a stage-transition hook. Not safe to call once the
// service is serving requests.
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

// CreateModel registers a new empty model.
func (s *Service) CreateModel(ctx context.Context, name, description string, tags []model.ModelTag) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(name); err != nil {
		return model.RegisteredModel{}, err
	}
	for _, t := range tags {
		if err := model.ValidateModelTag(t); err != nil {
			return model.RegisteredModel{}, err
		}
	}
	now := s.clock.NowMillis()
	m := model.RegisteredModel{
		Name:            name,
		CreationTime:    now,
		LastUpdatedTime: now,
		Description:     description,
		Tags:            tags,
	}
	if err := s.store.CreateRegisteredModel(ctx, m); err != nil {
		return model.RegisteredModel{}, err
	}
	s.logger.Info("registered model created", "name", name)
	return m, nil
}

// GetModel returns one model with its latest version per stage.
func (s *Service) GetModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	return s.store.GetRegisteredModel(ctx, name)
}

// RenameModel changes the model's name everywhere it is stored.
func (s *Service) RenameModel(ctx context.Context, name, newName string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(newName); err != nil {
		return model.RegisteredModel{}, err
	}
	m, err := s.store.RenameRegisteredModel(ctx, name, newName, s.clock.NowMillis())
	if err != nil {
		return model.RegisteredModel{}, err
	}
	s.logger.Info("registered model renamed", "from", name, "to", newName)
	return m, nil
}

// UpdateModel replaces the description.
func (s *Service) UpdateModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	return s.store.UpdateRegisteredModel(ctx, name, description, s.clock.NowMillis())
}

// DeleteModel removes the model and all versions.
func (s *Service) DeleteModel(ctx context.Context, name string) error {
	if err := s.store.DeleteRegisteredModel(ctx, name); err != nil {
		return err
	}
	s.logger.Info("registered model deleted", "name", name)
	return nil
}

// SetModelTag writes one model tag.
func (s *Service) SetModelTag(ctx context.Context, name string, tag model.ModelTag) error {
	if err := model.ValidateModelTag(tag); err != nil {
		return err
	}
	return s.store.SetRegisteredModelTag(ctx, name, tag)
}

// DeleteModelTag removes one model tag.
func (s *Service) DeleteModelTag(ctx context.Context, name, key string) error {
	return s.store.DeleteRegisteredModelTag(ctx, name, key)
}

// SearchModels parses the filter and pages matching models.
func (s *Service) SearchModels(ctx context.Context, filter string, orderBy []string, maxResults int64, pageToken string) ([]model.RegisteredModel, string, error) {
	if err := s.checkMaxResults(maxResults); err != nil {
		return nil, "", err
	}
	req, err := buildSearch(filter, orderBy, maxResults, pageToken, query.EntityRegisteredModel)
	if err != nil {
		return nil, "", err
	}
	return s.store.SearchRegisteredModels(ctx, req)
}

// CreateVersion records a new version of the model. The source URI is
// captured as-is; runID links the version back to the producing run when
// set. The version enters PENDING_REGISTRATION and is promoted to READY
// once registration completes; because the source is recorded rather
// than copied, the promotion happens before the call returns.
func (s *Service) CreateVersion(ctx context.Context, name, source, runID, description string, tags []model.ModelTag) (model.ModelVersion, error) {
	if err := model.ValidateModelName(name); err != nil {
		return model.ModelVersion{}, err
	}
	if source == "" {
		return model.ModelVersion{}, model.Errorf(model.ErrCodeInvalidParameterValue,
			"model version source must not be empty")
	}
	if runID != "" {
		if err := model.ValidateRunID(runID); err != nil {
			return model.ModelVersion{}, err
		}
	}
	for _, t := range tags {
		if err := model.ValidateModelTag(t); err != nil {
			return model.ModelVersion{}, err
		}
	}
	now := s.clock.NowMillis()
	v := model.ModelVersion{
		Name:            name,
		CreationTime:    now,
		LastUpdatedTime: now,
		Description:     description,
		CurrentStage:    model.StageNone,
		Source:          source,
		RunID:           runID,
		Status:          model.VersionStatusPending,
		Tags:            tags,
	}
	created, err := s.store.CreateModelVersion(ctx, v)
	if err != nil {
		return model.ModelVersion{}, err
	}
	if err := s.store.UpdateModelVersionStatus(ctx, name, created.Version, model.VersionStatusReady, "", s.clock.NowMillis()); err != nil {
		return model.ModelVersion{}, err
	}
	created.Status = model.VersionStatusReady
	created.StatusMessage = ""
	s.logger.Info("model version created", "name", name, "version", created.Version)
	return created, nil
}

// GetVersion returns one version.
func (s *Service) GetVersion(ctx context.Context, name string, version int64) (model.ModelVersion, error) {
	return s.store.GetModelVersion(ctx, name, version)
}

// UpdateVersion replaces the description.
func (s *Service) UpdateVersion(ctx context.Context, name string, version int64, description string) (model.ModelVersion, error) {
	return s.store.UpdateModelVersion(ctx, name, version, description, s.clock.NowMillis())
}

// DeleteVersion tombstones one version.
func (s *Service) DeleteVersion(ctx context.Context, name string, version int64) error {
	return s.store.DeleteModelVersion(ctx, name, version)
}

// TransitionStage moves a version to the named stage, case-insensitively.
// With archiveExisting set, other versions in the target stage are
// archived in the same step; the transitioned version itself is never
// archived, so re-transitioning to the current stage is a no-op.
func (s *Service) TransitionStage(ctx context.Context, name string, version int64, stage string, archiveExisting bool) (model.ModelVersion, error) {
	canonical, err := model.CanonicalStage(stage)
	if err != nil {
		return model.ModelVersion{}, err
	}
	if archiveExisting && canonical != model.StageStaging && canonical != model.StageProduction {
		return model.ModelVersion{}, model.Errorf(model.ErrCodeInvalidParameterValue,
			"archive_existing_versions applies only to Staging or Production, got %q", stage)
	}
	v, err := s.store.TransitionModelVersionStage(ctx, name, version, canonical, archiveExisting, s.clock.NowMillis())
	if err != nil {
		return model.ModelVersion{}, err
	}
	s.logger.Info("model version transitioned",
		"name", name, "version", version, "stage", canonical)
	for _, h := range s.hooks {
		go func(h Hook) {
			if err := h.OnStageTransition(context.WithoutCancel(ctx), v); err != nil {
				s.logger.Warn("stage-transition hook failed",
					"name", v.Name, "version", v.Version, "error", err)
			}
		}(h)
	}
	return v, nil
}

// LatestVersions returns the newest version per requested stage.
func (s *Service) LatestVersions(ctx context.Context, name string, stages []string) ([]model.ModelVersion, error) {
	canonical := make([]model.Stage, 0, len(stages))
	for _, st := range stages {
		c, err := model.CanonicalStage(st)
		if err != nil {
			return nil, err
		}
		canonical = append(canonical, c)
	}
	return s.store.GetLatestVersions(ctx, name, canonical)
}

// SetVersionTag writes one version tag.
func (s *Service) SetVersionTag(ctx context.Context, name string, version int64, tag model.ModelTag) error {
	if err := model.ValidateModelTag(tag); err != nil {
		return err
	}
	return s.store.SetModelVersionTag(ctx, name, version, tag)
}

// DeleteVersionTag removes one version tag.
func (s *Service) DeleteVersionTag(ctx context.Context, name string, version int64, key string) error {
	return s.store.DeleteModelVersionTag(ctx, name, version, key)
}

// SearchVersions parses the filter and pages matching versions.
func (s *Service) SearchVersions(ctx context.Context, filter string, orderBy []string, maxResults int64, pageToken string) ([]model.ModelVersion, string, error) {
	if err := s.checkMaxResults(maxResults); err != nil {
		return nil, "", err
	}
	req, err := buildSearch(filter, orderBy, maxResults, pageToken, query.EntityModelVersion)
	if err != nil {
		return nil, "", err
	}
	return s.store.SearchModelVersions(ctx, req)
}

// DownloadURI resolves the storage location of a version's artifacts.
func (s *Service) DownloadURI(ctx context.Context, name string, version int64) (string, error) {
	v, err := s.store.GetModelVersion(ctx, name, version)
	if err != nil {
		return "", err
	}
	return v.Source, nil
}

// VersionSource implements artifact.VersionResolver.
func (s *Service) VersionSource(ctx context.Context, name string, version int64) (string, error) {
	return s.DownloadURI(ctx, name, version)
}

// StageVersion implements artifact.VersionResolver for stage-addressed
// models:/ URIs: the latest version currently in the stage.
func (s *Service) StageVersion(ctx context.Context, name, stage string) (int64, error) {
	canonical, err := model.CanonicalStage(stage)
	if err != nil {
		return 0, err
	}
	versions, err := s.store.GetLatestVersions(ctx, name, []model.Stage{canonical})
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, model.Errorf(model.ErrCodeResourceDoesNotExist,
			"model %q has no version in stage %s", name, canonical)
	}
	return versions[0].Version, nil
}

// buildSearch parses filter and ordering into a SearchRequest.
func buildSearch(filter string, orderBy []string, maxResults int64, pageToken string, entity query.Entity) (store.SearchRequest, error) {
	parsed, err := query.ParseFilter(filter, entity)
	if err != nil {
		return store.SearchRequest{}, err
	}
	order, err := query.ParseOrderByList(orderBy, entity)
	if err != nil {
		return store.SearchRequest{}, err
	}
	return store.SearchRequest{
		FilterRaw:  filter,
		Filter:     parsed,
		OrderByRaw: orderBy,
		OrderBy:    order,
		MaxResults: maxResults,
		PageToken:  pageToken,
	}, nil
}
