package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// registeredModelMeta is the on-disk form of a registered model.
type registeredModelMeta struct {
	Name            string `yaml:"name"`
	CreationTime    int64  `yaml:"creation_time"`
	LastUpdatedTime int64  `yaml:"last_updated_time"`
	Description     string `yaml:"description,omitempty"`
}

// modelVersionMeta is the on-disk form of a model version. Deleted
// versions keep their directory so version numbers are never reused.
type modelVersionMeta struct {
	Name            string `yaml:"name"`
	Version         int64  `yaml:"version"`
	CreationTime    int64  `yaml:"creation_time"`
	LastUpdatedTime int64  `yaml:"last_updated_time"`
	Description     string `yaml:"description,omitempty"`
	UserID          string `yaml:"user_id,omitempty"`
	CurrentStage    string `yaml:"current_stage"`
	Source          string `yaml:"source"`
	RunID           string `yaml:"run_id,omitempty"`
	Status          string `yaml:"status"`
	StatusMessage   string `yaml:"status_message,omitempty"`
	Deleted         bool   `yaml:"deleted,omitempty"`
}

func versionFromMeta(m modelVersionMeta) model.ModelVersion {
	return model.ModelVersion{
		Name:            m.Name,
		Version:         m.Version,
		CreationTime:    m.CreationTime,
		LastUpdatedTime: m.LastUpdatedTime,
		Description:     m.Description,
		UserID:          m.UserID,
		CurrentStage:    model.Stage(m.CurrentStage),
		Source:          m.Source,
		RunID:           m.RunID,
		Status:          model.ModelVersionStatus(m.Status),
		StatusMessage:   m.StatusMessage,
	}
}

func metaFromVersion(v model.ModelVersion) modelVersionMeta {
	return modelVersionMeta{
		Name:            v.Name,
		Version:         v.Version,
		CreationTime:    v.CreationTime,
		LastUpdatedTime: v.LastUpdatedTime,
		Description:     v.Description,
		UserID:          v.UserID,
		CurrentStage:    string(v.CurrentStage),
		Source:          v.Source,
		RunID:           v.RunID,
		Status:          string(v.Status),
		StatusMessage:   v.StatusMessage,
	}
}

func versionDirName(version int64) string {
	return "version-" + strconv.FormatInt(version, 10)
}

func (s *Store) versionPath(name string, version int64) string {
	return filepath.Join(s.modelPath(name), versionDirName(version))
}

// CreateRegisteredModel creates an empty model entry.
func (s *Store) CreateRegisteredModel(ctx context.Context, m model.RegisteredModel) error {
	dir := s.modelPath(m.Name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"registered model %q already exists", m.Name)
		}
		return fmt.Errorf("filestore: create model dir: %w", err)
	}
	if err := os.Mkdir(filepath.Join(dir, tagsDir), 0o755); err != nil {
		return fmt.Errorf("filestore: create model tags dir: %w", err)
	}
	meta := registeredModelMeta{
		Name:            m.Name,
		CreationTime:    m.CreationTime,
		LastUpdatedTime: m.LastUpdatedTime,
		Description:     m.Description,
	}
	if err := writeYAMLAtomic(filepath.Join(dir, metaFile), meta); err != nil {
		return err
	}
	for _, t := range m.Tags {
		if err := writeKV(filepath.Join(dir, tagsDir), t.Key, t.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) requireModelDir(name string) (string, error) {
	dir := s.modelPath(name)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return "", model.Errorf(model.ErrCodeResourceDoesNotExist,
			"registered model %q not found", name)
	}
	return dir, nil
}

// readRegisteredModel loads a model with tags and latest versions.
// Callers hold at least the shared lock on dir.
func (s *Store) readRegisteredModel(dir string) (model.RegisteredModel, error) {
	var meta registeredModelMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return model.RegisteredModel{}, fmt.Errorf("filestore: read model meta: %w", err)
	}
	m := model.RegisteredModel{
		Name:            meta.Name,
		CreationTime:    meta.CreationTime,
		LastUpdatedTime: meta.LastUpdatedTime,
		Description:     meta.Description,
	}
	tags, err := readKVDir(filepath.Join(dir, tagsDir))
	if err != nil {
		return model.RegisteredModel{}, err
	}
	for k, v := range tags {
		m.Tags = append(m.Tags, model.ModelTag{Key: k, Value: v})
	}
	versions, err := s.readVersionsLocked(dir)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	m.LatestVersions = latestPerStage(versions, nil)
	return m, nil
}

// readVersionsLocked returns the live (non-deleted) versions under dir.
func (s *Store) readVersionsLocked(dir string) ([]model.ModelVersion, error) {
	metas, err := s.readVersionMetasLocked(dir)
	if err != nil {
		return nil, err
	}
	var out []model.ModelVersion
	for _, m := range metas {
		if !m.Deleted {
			out = append(out, versionFromMeta(m))
		}
	}
	return out, nil
}

// readVersionMetasLocked returns every version meta under dir, deleted
// included.
func (s *Store) readVersionMetasLocked(dir string) ([]modelVersionMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: read model dir: %w", err)
	}
	var out []modelVersionMeta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "version-") {
			continue
		}
		var meta modelVersionMeta
		if err := readYAML(filepath.Join(dir, e.Name(), metaFile), &meta); err != nil {
			return nil, fmt.Errorf("filestore: read version meta: %w", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// latestPerStage picks the highest version per stage. A nil stage filter
// keeps every stage that has at least one version.
func latestPerStage(versions []model.ModelVersion, stages []model.Stage) []model.ModelVersion {
	wanted := func(s model.Stage) bool {
		if len(stages) == 0 {
			return true
		}
		for _, w := range stages {
			if w == s {
				return true
			}
		}
		return false
	}
	best := map[model.Stage]model.ModelVersion{}
	for _, v := range versions {
		if !wanted(v.CurrentStage) {
			continue
		}
		if cur, ok := best[v.CurrentStage]; !ok || v.Version > cur.Version {
			best[v.CurrentStage] = v
		}
	}
	out := make([]model.ModelVersion, 0, len(best))
	for _, stage := range []model.Stage{model.StageNone, model.StageStaging, model.StageProduction, model.StageArchived} {
		if v, ok := best[stage]; ok {
			out = append(out, v)
		}
	}
	return out
}

// GetRegisteredModel returns a model with tags and its latest version per
// stage.
func (s *Store) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	var m model.RegisteredModel
	err = withRLock(dir, func() error {
		var err error
		m, err = s.readRegisteredModel(dir)
		return err
	})
	return m, err
}

func (s *Store) mutateModelMeta(name string, fn func(*registeredModelMeta) error) (registeredModelMeta, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return registeredModelMeta{}, err
	}
	var meta registeredModelMeta
	err = withLock(dir, func() error {
		if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
			return fmt.Errorf("filestore: read model meta: %w", err)
		}
		if err := fn(&meta); err != nil {
			return err
		}
		return writeYAMLAtomic(filepath.Join(dir, metaFile), meta)
	})
	return meta, err
}

// RenameRegisteredModel moves the model directory and rewrites the name
// embedded in the model and each version meta.
func (s *Store) RenameRegisteredModel(ctx context.Context, name, newName string, updateTime int64) (model.RegisteredModel, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	newDir := s.modelPath(newName)
	if _, err := os.Stat(filepath.Join(newDir, metaFile)); err == nil {
		return model.RegisteredModel{}, model.Errorf(model.ErrCodeResourceAlreadyExists,
			"registered model %q already exists", newName)
	}
	err = withLock(dir, func() error {
		var meta registeredModelMeta
		if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
			return fmt.Errorf("filestore: read model meta: %w", err)
		}
		meta.Name = newName
		meta.LastUpdatedTime = updateTime
		if err := writeYAMLAtomic(filepath.Join(dir, metaFile), meta); err != nil {
			return err
		}
		metas, err := s.readVersionMetasLocked(dir)
		if err != nil {
			return err
		}
		for _, vm := range metas {
			vm.Name = newName
			vm.LastUpdatedTime = updateTime
			path := filepath.Join(dir, versionDirName(vm.Version), metaFile)
			if err := writeYAMLAtomic(path, vm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.RegisteredModel{}, err
	}
	if err := os.Rename(dir, newDir); err != nil {
		return model.RegisteredModel{}, fmt.Errorf("filestore: rename model dir: %w", err)
	}
	return s.GetRegisteredModel(ctx, newName)
}

// UpdateRegisteredModel replaces the description.
func (s *Store) UpdateRegisteredModel(ctx context.Context, name, description string, updateTime int64) (model.RegisteredModel, error) {
	_, err := s.mutateModelMeta(name, func(m *registeredModelMeta) error {
		m.Description = description
		m.LastUpdatedTime = updateTime
		return nil
	})
	if err != nil {
		return model.RegisteredModel{}, err
	}
	return s.GetRegisteredModel(ctx, name)
}

// DeleteRegisteredModel removes the model and every version permanently.
func (s *Store) DeleteRegisteredModel(ctx context.Context, name string) error {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("filestore: delete model: %w", err)
	}
	return nil
}

// SetRegisteredModelTag writes (or overwrites) one model tag.
func (s *Store) SetRegisteredModelTag(ctx context.Context, name string, tag model.ModelTag) error {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		return writeKV(filepath.Join(dir, tagsDir), tag.Key, tag.Value)
	})
}

// DeleteRegisteredModelTag removes one model tag.
func (s *Store) DeleteRegisteredModelTag(ctx context.Context, name, key string) error {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		path := filepath.Join(dir, tagsDir, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return model.Errorf(model.ErrCodeResourceDoesNotExist,
					"tag %q not found on registered model %q", key, name)
			}
			return fmt.Errorf("filestore: delete model tag: %w", err)
		}
		return nil
	})
}

// SearchRegisteredModels scans, filters, orders, and pages all models.
func (s *Store) SearchRegisteredModels(ctx context.Context, req store.SearchRequest) ([]model.RegisteredModel, string, error) {
	base := filepath.Join(s.root, modelsDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, "", fmt.Errorf("filestore: read models dir: %w", err)
	}
	var matched []model.RegisteredModel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		var m model.RegisteredModel
		err := withRLock(dir, func() error {
			var err error
			m, err = s.readRegisteredModel(dir)
			return err
		})
		if err != nil {
			return nil, "", err
		}
		if query.MatchRegisteredModel(req.Filter, m) {
			matched = append(matched, m)
		}
	}
	store.SortRegisteredModels(matched, req.OrderBy)
	return store.Paginate(matched, req.Fingerprint(), req.PageToken, req.MaxResults)
}

// CreateModelVersion allocates max(existing)+1 under the model's
// exclusive lock; deleted versions still count, so numbers are never
// reused.
func (s *Store) CreateModelVersion(ctx context.Context, v model.ModelVersion) (model.ModelVersion, error) {
	dir, err := s.requireModelDir(v.Name)
	if err != nil {
		return model.ModelVersion{}, err
	}
	err = withLock(dir, func() error {
		metas, err := s.readVersionMetasLocked(dir)
		if err != nil {
			return err
		}
		var max int64
		for _, m := range metas {
			if m.Version > max {
				max = m.Version
			}
		}
		v.Version = max + 1
		vdir := filepath.Join(dir, versionDirName(v.Version))
		if err := os.Mkdir(vdir, 0o755); err != nil {
			return fmt.Errorf("filestore: create version dir: %w", err)
		}
		if err := os.Mkdir(filepath.Join(vdir, tagsDir), 0o755); err != nil {
			return fmt.Errorf("filestore: create version tags dir: %w", err)
		}
		if err := writeYAMLAtomic(filepath.Join(vdir, metaFile), metaFromVersion(v)); err != nil {
			return err
		}
		for _, t := range v.Tags {
			if err := writeKV(filepath.Join(vdir, tagsDir), t.Key, t.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.ModelVersion{}, err
	}
	return v, nil
}

// readVersion loads one live version with its tags. Callers hold at least
// the shared lock on the model dir.
func (s *Store) readVersion(dir string, name string, version int64) (model.ModelVersion, error) {
	vdir := filepath.Join(dir, versionDirName(version))
	var meta modelVersionMeta
	if err := readYAML(filepath.Join(vdir, metaFile), &meta); err != nil || meta.Deleted {
		return model.ModelVersion{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
			"model version %d of %q not found", version, name)
	}
	v := versionFromMeta(meta)
	tags, err := readKVDir(filepath.Join(vdir, tagsDir))
	if err != nil {
		return model.ModelVersion{}, err
	}
	for k, val := range tags {
		v.Tags = append(v.Tags, model.ModelTag{Key: k, Value: val})
	}
	return v, nil
}

// GetModelVersion returns one version with its tags.
func (s *Store) GetModelVersion(ctx context.Context, name string, version int64) (model.ModelVersion, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return model.ModelVersion{}, err
	}
	var v model.ModelVersion
	err = withRLock(dir, func() error {
		var err error
		v, err = s.readVersion(dir, name, version)
		return err
	})
	return v, err
}

// mutateVersionMeta applies fn to one live version under the model lock.
func (s *Store) mutateVersionMeta(name string, version int64, fn func(*modelVersionMeta) error) (modelVersionMeta, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return modelVersionMeta{}, err
	}
	var meta modelVersionMeta
	err = withLock(dir, func() error {
		path := filepath.Join(dir, versionDirName(version), metaFile)
		if err := readYAML(path, &meta); err != nil || meta.Deleted {
			return model.Errorf(model.ErrCodeResourceDoesNotExist,
				"model version %d of %q not found", version, name)
		}
		if err := fn(&meta); err != nil {
			return err
		}
		return writeYAMLAtomic(path, meta)
	})
	return meta, err
}

// UpdateModelVersion replaces the description.
func (s *Store) UpdateModelVersion(ctx context.Context, name string, version int64, description string, updateTime int64) (model.ModelVersion, error) {
	meta, err := s.mutateVersionMeta(name, version, func(m *modelVersionMeta) error {
		m.Description = description
		m.LastUpdatedTime = updateTime
		return nil
	})
	if err != nil {
		return model.ModelVersion{}, err
	}
	return versionFromMeta(meta), nil
}

// UpdateModelVersionStatus moves a version through its registration
// lifecycle.
func (s *Store) UpdateModelVersionStatus(ctx context.Context, name string, version int64, status model.ModelVersionStatus, message string, updateTime int64) error {
	_, err := s.mutateVersionMeta(name, version, func(m *modelVersionMeta) error {
		m.Status = string(status)
		m.StatusMessage = message
		m.LastUpdatedTime = updateTime
		return nil
	})
	return err
}

// DeleteModelVersion tombstones the version; its number is never handed
// out again.
func (s *Store) DeleteModelVersion(ctx context.Context, name string, version int64) error {
	_, err := s.mutateVersionMeta(name, version, func(m *modelVersionMeta) error {
		m.Deleted = true
		return nil
	})
	return err
}

// TransitionModelVersionStage moves a version to stage. With
// archiveExisting set, every other live version currently in that stage is
// archived in the same locked step with the same timestamp.
func (s *Store) TransitionModelVersionStage(ctx context.Context, name string, version int64, stage model.Stage, archiveExisting bool, updateTime int64) (model.ModelVersion, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return model.ModelVersion{}, err
	}
	var out model.ModelVersion
	err = withLock(dir, func() error {
		path := filepath.Join(dir, versionDirName(version), metaFile)
		var target modelVersionMeta
		if err := readYAML(path, &target); err != nil || target.Deleted {
			return model.Errorf(model.ErrCodeResourceDoesNotExist,
				"model version %d of %q not found", version, name)
		}
		if archiveExisting {
			metas, err := s.readVersionMetasLocked(dir)
			if err != nil {
				return err
			}
			for _, m := range metas {
				if m.Deleted || m.Version == version || model.Stage(m.CurrentStage) != stage {
					continue
				}
				m.CurrentStage = string(model.StageArchived)
				m.LastUpdatedTime = updateTime
				if err := writeYAMLAtomic(filepath.Join(dir, versionDirName(m.Version), metaFile), m); err != nil {
					return err
				}
			}
		}
		target.CurrentStage = string(stage)
		target.LastUpdatedTime = updateTime
		if err := writeYAMLAtomic(path, target); err != nil {
			return err
		}
		out = versionFromMeta(target)
		return nil
	})
	return out, err
}

// GetLatestVersions returns the highest live version in each requested
// stage. An empty stage list covers every stage.
func (s *Store) GetLatestVersions(ctx context.Context, name string, stages []model.Stage) ([]model.ModelVersion, error) {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return nil, err
	}
	var out []model.ModelVersion
	err = withRLock(dir, func() error {
		versions, err := s.readVersionsLocked(dir)
		if err != nil {
			return err
		}
		out = latestPerStage(versions, stages)
		return nil
	})
	return out, err
}

// SetModelVersionTag writes (or overwrites) one version tag.
func (s *Store) SetModelVersionTag(ctx context.Context, name string, version int64, tag model.ModelTag) error {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if _, err := s.readVersion(dir, name, version); err != nil {
			return err
		}
		return writeKV(filepath.Join(s.versionPath(name, version), tagsDir), tag.Key, tag.Value)
	})
}

// DeleteModelVersionTag removes one version tag.
func (s *Store) DeleteModelVersionTag(ctx context.Context, name string, version int64, key string) error {
	dir, err := s.requireModelDir(name)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if _, err := s.readVersion(dir, name, version); err != nil {
			return err
		}
		path := filepath.Join(s.versionPath(name, version), tagsDir, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return model.Errorf(model.ErrCodeResourceDoesNotExist,
					"tag %q not found on model version %d of %q", key, version, name)
			}
			return fmt.Errorf("filestore: delete version tag: %w", err)
		}
		return nil
	})
}

// SearchModelVersions scans every live version of every model.
func (s *Store) SearchModelVersions(ctx context.Context, req store.SearchRequest) ([]model.ModelVersion, string, error) {
	base := filepath.Join(s.root, modelsDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, "", fmt.Errorf("filestore: read models dir: %w", err)
	}
	var matched []model.ModelVersion
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		var versions []model.ModelVersion
		err := withRLock(dir, func() error {
			var err error
			versions, err = s.readVersionsLocked(dir)
			return err
		})
		if err != nil {
			return nil, "", err
		}
		for _, v := range versions {
			if query.MatchModelVersion(req.Filter, v) {
				matched = append(matched, v)
			}
		}
	}
	store.SortModelVersions(matched, req.OrderBy)
	return store.Paginate(matched, req.Fingerprint(), req.PageToken, req.MaxResults)
}
