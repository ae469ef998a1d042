package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/kiroku/internal/model"
)

// experimentMeta is the on-disk form of an experiment. Readers tolerate
// unknown keys so older releases can open newer trees.
type experimentMeta struct {
	ExperimentID     string `yaml:"experiment_id"`
	Name             string `yaml:"name"`
	ArtifactLocation string `yaml:"artifact_location"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	CreationTime     int64  `yaml:"creation_time"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
}

func experimentFromMeta(m experimentMeta, tags map[string]string) model.Experiment {
	e := model.Experiment{
		ExperimentID:     m.ExperimentID,
		Name:             m.Name,
		ArtifactLocation: m.ArtifactLocation,
		LifecycleStage:   model.LifecycleStage(m.LifecycleStage),
		CreationTime:     m.CreationTime,
		LastUpdateTime:   m.LastUpdateTime,
	}
	for k, v := range tags {
		e.Tags = append(e.Tags, model.ExperimentTag{Key: k, Value: v})
	}
	return e
}

func metaFromExperiment(e model.Experiment) experimentMeta {
	return experimentMeta{
		ExperimentID:     e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   string(e.LifecycleStage),
		CreationTime:     e.CreationTime,
		LastUpdateTime:   e.LastUpdateTime,
	}
}

// CreateExperiment persists a fully formed experiment. The caller has
// already assigned the ID, timestamps, and artifact location.
func (s *Store) CreateExperiment(ctx context.Context, e model.Experiment) error {
	if existing, err := s.GetExperimentByName(ctx, e.Name); err == nil && existing.LifecycleStage == model.LifecycleActive {
		return model.Errorf(model.ErrCodeResourceAlreadyExists,
			"experiment %q already exists", e.Name)
	}
	dir := s.experimentPath(e.ExperimentID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"experiment id %q already exists", e.ExperimentID)
		}
		return fmt.Errorf("filestore: create experiment dir: %w", err)
	}
	if err := writeYAMLAtomic(filepath.Join(dir, metaFile), metaFromExperiment(e)); err != nil {
		return err
	}
	for _, t := range e.Tags {
		if err := writeKV(filepath.Join(dir, tagsDir), t.Key, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// locateExperiment finds the directory for an experiment ID, looking in the
// live tree first and the trash second.
func (s *Store) locateExperiment(id string) (string, error) {
	for _, dir := range []string{s.experimentPath(id), s.trashedExperimentPath(id)} {
		if info, err := os.Stat(filepath.Join(dir, metaFile)); err == nil && !info.IsDir() {
			return dir, nil
		}
	}
	return "", model.Errorf(model.ErrCodeResourceDoesNotExist, "experiment %q not found", id)
}

func (s *Store) readExperiment(dir string) (model.Experiment, error) {
	var meta experimentMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return model.Experiment{}, fmt.Errorf("filestore: read experiment meta: %w", err)
	}
	tags, err := readKVDir(filepath.Join(dir, tagsDir))
	if err != nil {
		return model.Experiment{}, err
	}
	return experimentFromMeta(meta, tags), nil
}

// GetExperiment returns an experiment by ID regardless of lifecycle stage.
func (s *Store) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	dir, err := s.locateExperiment(id)
	if err != nil {
		return model.Experiment{}, err
	}
	return s.readExperiment(dir)
}

// GetExperimentByName returns the active experiment with the given name.
func (s *Store) GetExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	exps, err := s.listExperiments(false)
	if err != nil {
		return model.Experiment{}, err
	}
	for _, e := range exps {
		if e.Name == name && e.LifecycleStage == model.LifecycleActive {
			return e, nil
		}
	}
	return model.Experiment{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
		"experiment with name %q not found", name)
}

// listExperiments loads every experiment in the live tree, plus the trash
// when includeTrash is set.
func (s *Store) listExperiments(includeTrash bool) ([]model.Experiment, error) {
	roots := []string{s.root}
	if includeTrash {
		roots = append(roots, filepath.Join(s.root, trashDir))
	}
	var out []model.Experiment
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("filestore: read %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == modelsDir || entry.Name() == trashDir {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
				continue
			}
			e, err := s.readExperiment(dir)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) updateExperimentMeta(id string, mutate func(*experimentMeta) error) error {
	dir, err := s.locateExperiment(id)
	if err != nil {
		return err
	}
	var meta experimentMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return fmt.Errorf("filestore: read experiment meta: %w", err)
	}
	if err := mutate(&meta); err != nil {
		return err
	}
	return writeYAMLAtomic(filepath.Join(dir, metaFile), meta)
}

// RenameExperiment changes the display name of an active experiment.
func (s *Store) RenameExperiment(ctx context.Context, id, newName string, updateTime int64) error {
	if existing, err := s.GetExperimentByName(ctx, newName); err == nil && existing.ExperimentID != id {
		return model.Errorf(model.ErrCodeResourceAlreadyExists,
			"experiment %q already exists", newName)
	}
	return s.updateExperimentMeta(id, func(m *experimentMeta) error {
		if m.LifecycleStage != string(model.LifecycleActive) {
			return model.Errorf(model.ErrCodeInvalidState,
				"cannot rename experiment %q in lifecycle stage %s", id, m.LifecycleStage)
		}
		m.Name = newName
		m.LastUpdateTime = updateTime
		return nil
	})
}

// DeleteExperiment soft-deletes: the directory moves under the .trash
// sibling, the stored name gains a ".deleted.<ms>" suffix so the live name
// is freed, and the contained runs become unreachable.
func (s *Store) DeleteExperiment(ctx context.Context, id string, deleteTime int64) error {
	dir := s.experimentPath(id)
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return model.Errorf(model.ErrCodeResourceDoesNotExist, "experiment %q not found", id)
	}
	err := s.updateExperimentMeta(id, func(m *experimentMeta) error {
		if m.LifecycleStage != string(model.LifecycleActive) {
			return model.Errorf(model.ErrCodeInvalidState,
				"experiment %q is already deleted", id)
		}
		m.Name = fmt.Sprintf("%s.deleted.%d", m.Name, deleteTime)
		m.LifecycleStage = string(model.LifecycleDeleted)
		m.LastUpdateTime = deleteTime
		return nil
	})
	if err != nil {
		return err
	}
	if err := os.Rename(dir, s.trashedExperimentPath(id)); err != nil {
		return fmt.Errorf("filestore: move experiment to trash: %w", err)
	}
	return nil
}

// RestoreExperiment moves a soft-deleted experiment back into the live
// tree, shedding the ".deleted.<ms>" name suffix. Restoring fails when a
// live experiment has taken the original name in the meantime.
func (s *Store) RestoreExperiment(ctx context.Context, id string, updateTime int64) error {
	trashed := s.trashedExperimentPath(id)
	if _, err := os.Stat(filepath.Join(trashed, metaFile)); err != nil {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"deleted experiment %q not found", id)
	}
	var meta experimentMeta
	if err := readYAML(filepath.Join(trashed, metaFile), &meta); err != nil {
		return fmt.Errorf("filestore: read experiment meta: %w", err)
	}
	name := meta.Name
	if i := lastDeletedSuffix(name); i >= 0 {
		name = name[:i]
	}
	if existing, err := s.GetExperimentByName(ctx, name); err == nil && existing.ExperimentID != id {
		return model.Errorf(model.ErrCodeResourceAlreadyExists,
			"cannot restore experiment %q, name %q is taken", id, name)
	}
	meta.Name = name
	meta.LifecycleStage = string(model.LifecycleActive)
	meta.LastUpdateTime = updateTime
	if err := writeYAMLAtomic(filepath.Join(trashed, metaFile), meta); err != nil {
		return err
	}
	if err := os.Rename(trashed, s.experimentPath(id)); err != nil {
		return fmt.Errorf("filestore: restore experiment: %w", err)
	}
	return nil
}

// lastDeletedSuffix returns the index of a trailing ".deleted.<digits>"
// marker, or -1.
func lastDeletedSuffix(name string) int {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] < '0' || name[i] > '9' {
			const marker = ".deleted."
			if i >= len(marker)-1 && name[i-len(marker)+1:i+1] == marker && i < len(name)-1 {
				return i - len(marker) + 1
			}
			return -1
		}
	}
	return -1
}

// SetExperimentTag writes (or overwrites) one experiment tag.
func (s *Store) SetExperimentTag(ctx context.Context, id string, tag model.ExperimentTag) error {
	dir, err := s.locateExperiment(id)
	if err != nil {
		return err
	}
	var meta experimentMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return fmt.Errorf("filestore: read experiment meta: %w", err)
	}
	if meta.LifecycleStage != string(model.LifecycleActive) {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot set tag on experiment %q in lifecycle stage %s", id, meta.LifecycleStage)
	}
	return writeKV(filepath.Join(dir, tagsDir), tag.Key, tag.Value)
}
