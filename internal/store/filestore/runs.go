package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/store"
)

// runMeta is the on-disk form of a run's info block.
type runMeta struct {
	RunID          string `yaml:"run_id"`
	ExperimentID   string `yaml:"experiment_id"`
	UserID         string `yaml:"user_id"`
	Status         string `yaml:"status"`
	StartTime      int64  `yaml:"start_time"`
	EndTime        int64  `yaml:"end_time"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	ArtifactURI    string `yaml:"artifact_uri"`
	Name           string `yaml:"name"`
}

func metaFromRunInfo(info model.RunInfo) runMeta {
	return runMeta{
		RunID:          info.RunID,
		ExperimentID:   info.ExperimentID,
		UserID:         info.UserID,
		Status:         string(info.Status),
		StartTime:      info.StartTime,
		EndTime:        info.EndTime,
		LifecycleStage: string(info.LifecycleStage),
		ArtifactURI:    info.ArtifactURI,
		Name:           info.RunName,
	}
}

func runInfoFromMeta(m runMeta) model.RunInfo {
	return model.RunInfo{
		RunID:          m.RunID,
		ExperimentID:   m.ExperimentID,
		UserID:         m.UserID,
		Status:         model.RunStatus(m.Status),
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		LifecycleStage: model.LifecycleStage(m.LifecycleStage),
		ArtifactURI:    m.ArtifactURI,
		RunName:        m.Name,
	}
}

// CreateRun persists a fully formed run under its experiment.
func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	expDir := s.experimentPath(run.Info.ExperimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"experiment %q not found", run.Info.ExperimentID)
	}
	exp, err := s.readExperiment(expDir)
	if err != nil {
		return err
	}
	if exp.LifecycleStage != model.LifecycleActive {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot create run in non-active experiment %q", run.Info.ExperimentID)
	}
	dir := filepath.Join(expDir, run.Info.RunID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"run %q already exists", run.Info.RunID)
		}
		return fmt.Errorf("filestore: create run dir: %w", err)
	}
	for _, sub := range []string{paramsDir, metricsDir, tagsDir, "artifacts"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("filestore: create run subdir: %w", err)
		}
	}
	if err := writeYAMLAtomic(filepath.Join(dir, metaFile), metaFromRunInfo(run.Info)); err != nil {
		return err
	}
	for _, t := range run.Data.Tags {
		if err := writeKV(filepath.Join(dir, tagsDir), t.Key, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// runDir resolves a run ID to its directory by scanning live experiments.
// Runs inside trashed experiments are unreachable.
func (s *Store) runDir(runID string) (string, error) {
	if err := model.ValidateRunID(runID); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", fmt.Errorf("filestore: read root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == modelsDir || e.Name() == trashDir {
			continue
		}
		dir := filepath.Join(s.root, e.Name(), runID)
		if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
			return dir, nil
		}
	}
	return "", model.Errorf(model.ErrCodeResourceDoesNotExist, "run %q not found", runID)
}

// readRun loads a complete run from dir. Callers hold at least the shared
// lock.
func (s *Store) readRun(dir string) (model.Run, error) {
	var meta runMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return model.Run{}, fmt.Errorf("filestore: read run meta: %w", err)
	}
	run := model.Run{Info: runInfoFromMeta(meta)}

	params, err := readKVDir(filepath.Join(dir, paramsDir))
	if err != nil {
		return model.Run{}, err
	}
	for k, v := range params {
		run.Data.Params = append(run.Data.Params, model.Param{Key: k, Value: v})
	}

	tags, err := readKVDir(filepath.Join(dir, tagsDir))
	if err != nil {
		return model.Run{}, err
	}
	for k, v := range tags {
		run.Data.Tags = append(run.Data.Tags, model.RunTag{Key: k, Value: v})
	}

	metricKeys, err := readKVDir(filepath.Join(dir, metricsDir))
	if err != nil {
		return model.Run{}, err
	}
	for key, content := range metricKeys {
		points, err := parseMetricLog(key, content)
		if err != nil {
			return model.Run{}, err
		}
		run.Data.Metrics = append(run.Data.Metrics, points...)
	}

	var inputs []model.DatasetInput
	if err := readYAML(filepath.Join(dir, inputsFile), &inputs); err == nil {
		run.Inputs = inputs
	}
	return run, nil
}

// GetRun returns a run with all logged data.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return model.Run{}, err
	}
	var run model.Run
	err = withRLock(dir, func() error {
		var err error
		run, err = s.readRun(dir)
		return err
	})
	return run, err
}

// mutateRunMeta applies fn to a run's meta under the exclusive lock.
func (s *Store) mutateRunMeta(runID string, fn func(*runMeta) error) (runMeta, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return runMeta{}, err
	}
	var meta runMeta
	err = withLock(dir, func() error {
		if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
			return fmt.Errorf("filestore: read run meta: %w", err)
		}
		if err := fn(&meta); err != nil {
			return err
		}
		return writeYAMLAtomic(filepath.Join(dir, metaFile), meta)
	})
	return meta, err
}

// UpdateRun sets status, end time, and/or name on an active run. Zero
// values leave the corresponding field unchanged.
func (s *Store) UpdateRun(ctx context.Context, runID string, status model.RunStatus, endTime int64, runName string) (model.RunInfo, error) {
	meta, err := s.mutateRunMeta(runID, func(m *runMeta) error {
		if m.LifecycleStage != string(model.LifecycleActive) {
			return model.Errorf(model.ErrCodeInvalidState,
				"cannot update run %q in lifecycle stage %s", runID, m.LifecycleStage)
		}
		if status != "" {
			m.Status = string(status)
		}
		if endTime != 0 {
			m.EndTime = endTime
		}
		if runName != "" {
			m.Name = runName
		}
		return nil
	})
	if err != nil {
		return model.RunInfo{}, err
	}
	return runInfoFromMeta(meta), nil
}

// DeleteRun soft-deletes a run.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.mutateRunMeta(runID, func(m *runMeta) error {
		m.LifecycleStage = string(model.LifecycleDeleted)
		return nil
	})
	return err
}

// RestoreRun returns a soft-deleted run to the active stage.
func (s *Store) RestoreRun(ctx context.Context, runID string) error {
	_, err := s.mutateRunMeta(runID, func(m *runMeta) error {
		m.LifecycleStage = string(model.LifecycleActive)
		return nil
	})
	return err
}

// requireActiveRun loads the meta at dir and rejects writes to deleted
// runs. Callers hold the lock.
func requireActiveRun(dir, runID string) error {
	var meta runMeta
	if err := readYAML(filepath.Join(dir, metaFile), &meta); err != nil {
		return fmt.Errorf("filestore: read run meta: %w", err)
	}
	if meta.LifecycleStage != string(model.LifecycleActive) {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot log to run %q in lifecycle stage %s", runID, meta.LifecycleStage)
	}
	return nil
}

// logParamLocked enforces immutability: an existing key accepts only an
// identical value.
func logParamLocked(dir string, p model.Param) error {
	path := filepath.Join(dir, paramsDir, filepath.FromSlash(p.Key))
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == p.Value {
			return nil
		}
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"param %q already logged with value %q, cannot overwrite with %q",
			p.Key, string(existing), p.Value)
	}
	return writeKV(filepath.Join(dir, paramsDir), p.Key, p.Value)
}

// LogParam writes one immutable param.
func (s *Store) LogParam(ctx context.Context, runID string, p model.Param) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		return logParamLocked(dir, p)
	})
}

// metricLine renders one metric point. FormatFloat emits NaN, +Inf, and
// -Inf, which ParseFloat round-trips.
func metricLine(m model.Metric) string {
	return fmt.Sprintf("%s %d %d\n",
		strconv.FormatFloat(m.Value, 'g', -1, 64), m.Timestamp, m.Step)
}

func appendMetricLocked(dir string, m model.Metric) error {
	path := filepath.Join(dir, metricsDir, filepath.FromSlash(m.Key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: create metric dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open metric log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(metricLine(m)); err != nil {
		return fmt.Errorf("filestore: append metric: %w", err)
	}
	return nil
}

// LogMetric appends one point to the key's log.
func (s *Store) LogMetric(ctx context.Context, runID string, m model.Metric) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		return appendMetricLocked(dir, m)
	})
}

// parseMetricLog decodes an append-only metric file; line order is
// insertion order.
func parseMetricLog(key, content string) ([]model.Metric, error) {
	var out []model.Metric
	for _, line := range strings.Split(content, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("filestore: malformed metric line %q for key %q", line, key)
		}
		value, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("filestore: malformed metric value in %q: %w", line, err)
		}
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filestore: malformed metric timestamp in %q: %w", line, err)
		}
		step, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filestore: malformed metric step in %q: %w", line, err)
		}
		out = append(out, model.Metric{Key: key, Value: value, Timestamp: ts, Step: step})
	}
	return out, nil
}

// SetTag writes (or overwrites) one run tag.
func (s *Store) SetTag(ctx context.Context, runID string, t model.RunTag) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		return writeKV(filepath.Join(dir, tagsDir), t.Key, t.Value)
	})
}

// DeleteTag removes one run tag.
func (s *Store) DeleteTag(ctx context.Context, runID, key string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		path := filepath.Join(dir, tagsDir, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return model.Errorf(model.ErrCodeResourceDoesNotExist,
					"tag %q not found on run %q", key, runID)
			}
			return fmt.Errorf("filestore: delete tag: %w", err)
		}
		return nil
	})
}

// LogBatch applies metrics, params, and tags under one exclusive lock.
// Param conflicts are detected before anything is written, so a failed
// batch leaves no partial state; readers hold the shared lock and never
// observe a batch mid-application.
func (s *Store) LogBatch(ctx context.Context, runID string, metrics []model.Metric, params []model.Param, tags []model.RunTag) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		// Conflict check first: all-or-nothing.
		for _, p := range params {
			path := filepath.Join(dir, paramsDir, filepath.FromSlash(p.Key))
			if existing, err := os.ReadFile(path); err == nil && string(existing) != p.Value {
				return model.Errorf(model.ErrCodeInvalidParameterValue,
					"param %q already logged with value %q, cannot overwrite with %q",
					p.Key, string(existing), p.Value)
			}
		}
		for _, p := range params {
			if err := logParamLocked(dir, p); err != nil {
				return err
			}
		}
		for _, m := range metrics {
			if err := appendMetricLocked(dir, m); err != nil {
				return err
			}
		}
		for _, t := range tags {
			if err := writeKV(filepath.Join(dir, tagsDir), t.Key, t.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// LogInputs appends dataset inputs, deduplicating on (name, digest).
func (s *Store) LogInputs(ctx context.Context, runID string, inputs []model.DatasetInput) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	return withLock(dir, func() error {
		if err := requireActiveRun(dir, runID); err != nil {
			return err
		}
		var existing []model.DatasetInput
		_ = readYAML(filepath.Join(dir, inputsFile), &existing)
		seen := make(map[string]bool, len(existing))
		for _, in := range existing {
			seen[in.Dataset.Name+"\x00"+in.Dataset.Digest] = true
		}
		for _, in := range inputs {
			key := in.Dataset.Name + "\x00" + in.Dataset.Digest
			if !seen[key] {
				existing = append(existing, in)
				seen[key] = true
			}
		}
		return writeYAMLAtomic(filepath.Join(dir, inputsFile), existing)
	})
}

// GetMetricHistory returns every point for (run, key) in insertion order,
// optionally paged.
func (s *Store) GetMetricHistory(ctx context.Context, runID, key string, maxResults int64, pageToken string) ([]model.Metric, string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, "", err
	}
	var points []model.Metric
	err = withRLock(dir, func() error {
		b, err := os.ReadFile(filepath.Join(dir, metricsDir, filepath.FromSlash(key)))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("filestore: read metric log: %w", err)
		}
		points, err = parseMetricLog(key, string(b))
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		return points, "", nil
	}
	fp := store.SearchRequest{FilterRaw: "history:" + runID + ":" + key}.Fingerprint()
	return store.Paginate(points, fp, pageToken, maxResults)
}
