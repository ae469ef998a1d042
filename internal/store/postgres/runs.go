package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/store"
)

// CreateRun persists a fully formed run under an active experiment.
func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	exp, err := s.GetExperiment(ctx, run.Info.ExperimentID)
	if err != nil {
		return err
	}
	if exp.LifecycleStage != model.LifecycleActive {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot create run in non-active experiment %q", run.Info.ExperimentID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (run_id, name, experiment_id, user_id, status, start_time, end_time, artifact_uri, lifecycle_stage)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.Info.RunID, run.Info.RunName, run.Info.ExperimentID, run.Info.UserID,
		string(run.Info.Status), run.Info.StartTime, run.Info.EndTime,
		run.Info.ArtifactURI, string(run.Info.LifecycleStage))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"run %q already exists", run.Info.RunID)
		}
		return fmt.Errorf("postgres: create run: %w", err)
	}
	for _, t := range run.Data.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO run_tags (run_id, key, value) VALUES ($1, $2, $3)`,
			run.Info.RunID, t.Key, t.Value,
		); err != nil {
			return fmt.Errorf("postgres: create run tag: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const runColumns = `r.run_id, r.name, r.experiment_id, r.user_id, r.status, r.start_time, r.end_time, r.artifact_uri, r.lifecycle_stage`

func scanRunInfo(row pgx.Row) (model.RunInfo, error) {
	var info model.RunInfo
	var status, stage string
	err := row.Scan(&info.RunID, &info.RunName, &info.ExperimentID, &info.UserID,
		&status, &info.StartTime, &info.EndTime, &info.ArtifactURI, &stage)
	if err != nil {
		return model.RunInfo{}, err
	}
	info.Status = model.RunStatus(status)
	info.LifecycleStage = model.LifecycleStage(stage)
	return info, nil
}

// runInfo fetches a run's info row. Runs whose experiment has been
// soft-deleted are treated as missing.
func (s *Store) runInfo(ctx context.Context, runID string) (model.RunInfo, error) {
	if err := model.ValidateRunID(runID); err != nil {
		return model.RunInfo{}, err
	}
	info, err := scanRunInfo(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs r
		 JOIN experiments e ON e.experiment_id = r.experiment_id
		 WHERE r.run_id = $1 AND e.lifecycle_stage != 'deleted'`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunInfo{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"run %q not found", runID)
		}
		return model.RunInfo{}, fmt.Errorf("postgres: get run: %w", err)
	}
	return info, nil
}

// loadRunData attaches params, tags, full metric history, and inputs.
func (s *Store) loadRunData(ctx context.Context, run *model.Run) error {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM params WHERE run_id = $1 ORDER BY key`, run.Info.RunID)
	if err != nil {
		return fmt.Errorf("postgres: run params: %w", err)
	}
	for rows.Next() {
		var p model.Param
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			rows.Close()
			return err
		}
		run.Data.Params = append(run.Data.Params, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT key, value FROM run_tags WHERE run_id = $1 ORDER BY key`, run.Info.RunID)
	if err != nil {
		return fmt.Errorf("postgres: run tags: %w", err)
	}
	for rows.Next() {
		var t model.RunTag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			rows.Close()
			return err
		}
		run.Data.Tags = append(run.Data.Tags, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT key, value, timestamp, step FROM metrics WHERE run_id = $1 ORDER BY seq`,
		run.Info.RunID)
	if err != nil {
		return fmt.Errorf("postgres: run metrics: %w", err)
	}
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.Key, &m.Value, &m.Timestamp, &m.Step); err != nil {
			rows.Close()
			return err
		}
		run.Data.Metrics = append(run.Data.Metrics, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT dataset_name, digest, source_type, source, dataset_schema, profile, tags
		 FROM run_inputs WHERE run_id = $1 ORDER BY dataset_name, digest`, run.Info.RunID)
	if err != nil {
		return fmt.Errorf("postgres: run inputs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var in model.DatasetInput
		var tagsJSON []byte
		if err := rows.Scan(&in.Dataset.Name, &in.Dataset.Digest, &in.Dataset.SourceType,
			&in.Dataset.Source, &in.Dataset.Schema, &in.Dataset.Profile, &tagsJSON); err != nil {
			return err
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &in.Tags); err != nil {
				return fmt.Errorf("postgres: decode input tags: %w", err)
			}
		}
		run.Inputs = append(run.Inputs, in)
	}
	return rows.Err()
}

// GetRun returns a run with all logged data.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	info, err := s.runInfo(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	run := model.Run{Info: info}
	if err := s.loadRunData(ctx, &run); err != nil {
		return model.Run{}, err
	}
	return run, nil
}

// UpdateRun sets status, end time, and/or name on an active run. Zero
// values leave the corresponding field unchanged.
func (s *Store) UpdateRun(ctx context.Context, runID string, status model.RunStatus, endTime int64, runName string) (model.RunInfo, error) {
	info, err := s.runInfo(ctx, runID)
	if err != nil {
		return model.RunInfo{}, err
	}
	if info.LifecycleStage != model.LifecycleActive {
		return model.RunInfo{}, model.Errorf(model.ErrCodeInvalidState,
			"cannot update run %q in lifecycle stage %s", runID, info.LifecycleStage)
	}
	if status != "" {
		info.Status = status
	}
	if endTime != 0 {
		info.EndTime = endTime
	}
	if runName != "" {
		info.RunName = runName
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, end_time = $2, name = $3 WHERE run_id = $4`,
		string(info.Status), info.EndTime, info.RunName, runID)
	if err != nil {
		return model.RunInfo{}, fmt.Errorf("postgres: update run: %w", err)
	}
	return info, nil
}

func (s *Store) setRunLifecycle(ctx context.Context, runID string, stage model.LifecycleStage) error {
	if _, err := s.runInfo(ctx, runID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET lifecycle_stage = $1 WHERE run_id = $2`, string(stage), runID)
	if err != nil {
		return fmt.Errorf("postgres: set run lifecycle: %w", err)
	}
	return nil
}

// DeleteRun soft-deletes a run.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return s.setRunLifecycle(ctx, runID, model.LifecycleDeleted)
}

// RestoreRun returns a soft-deleted run to the active stage.
func (s *Store) RestoreRun(ctx context.Context, runID string) error {
	return s.setRunLifecycle(ctx, runID, model.LifecycleActive)
}

func (s *Store) requireActiveRun(ctx context.Context, runID string) error {
	info, err := s.runInfo(ctx, runID)
	if err != nil {
		return err
	}
	if info.LifecycleStage != model.LifecycleActive {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot log to run %q in lifecycle stage %s", runID, info.LifecycleStage)
	}
	return nil
}

// logParamTx inserts one param inside tx, enforcing immutability.
func logParamTx(ctx context.Context, tx pgx.Tx, runID string, p model.Param) error {
	var existing string
	err := tx.QueryRow(ctx,
		`SELECT value FROM params WHERE run_id = $1 AND key = $2`, runID, p.Key,
	).Scan(&existing)
	switch {
	case err == nil:
		if existing == p.Value {
			return nil
		}
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"param %q already logged with value %q, cannot overwrite with %q",
			p.Key, existing, p.Value)
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return fmt.Errorf("postgres: check param: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO params (run_id, key, value) VALUES ($1, $2, $3)`,
		runID, p.Key, p.Value,
	); err != nil {
		return fmt.Errorf("postgres: log param: %w", err)
	}
	return nil
}

// logMetricTx appends one history row and folds the point into
// latest_metrics. The upsert condition mirrors Metric.IsLater, with an
// equal point also winning so insertion order breaks ties.
func logMetricTx(ctx context.Context, tx pgx.Tx, runID string, m model.Metric) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO metrics (run_id, key, value, timestamp, step) VALUES ($1, $2, $3, $4, $5)`,
		runID, m.Key, m.Value, m.Timestamp, m.Step,
	); err != nil {
		return fmt.Errorf("postgres: log metric: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO latest_metrics (run_id, key, value, timestamp, step)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, key) DO UPDATE
		 SET value = EXCLUDED.value, timestamp = EXCLUDED.timestamp, step = EXCLUDED.step
		 WHERE EXCLUDED.step > latest_metrics.step
		    OR (EXCLUDED.step = latest_metrics.step AND EXCLUDED.timestamp >= latest_metrics.timestamp)`,
		runID, m.Key, m.Value, m.Timestamp, m.Step,
	); err != nil {
		return fmt.Errorf("postgres: update latest metric: %w", err)
	}
	return nil
}

// LogParam writes one immutable param.
func (s *Store) LogParam(ctx context.Context, runID string, p model.Param) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return logParamTx(ctx, tx, runID, p)
	})
}

// LogMetric appends one metric point.
func (s *Store) LogMetric(ctx context.Context, runID string, m model.Metric) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return logMetricTx(ctx, tx, runID, m)
	})
}

// inTx runs fn in a transaction, retrying transient conflicts.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return withRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin: %w", err)
		}
		defer tx.Rollback(ctx)
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit: %w", err)
		}
		return nil
	})
}

// SetTag writes (or overwrites) one run tag.
func (s *Store) SetTag(ctx context.Context, runID string, t model.RunTag) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_tags (run_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
		runID, t.Key, t.Value)
	if err != nil {
		return fmt.Errorf("postgres: set run tag: %w", err)
	}
	return nil
}

// DeleteTag removes one run tag.
func (s *Store) DeleteTag(ctx context.Context, runID, key string) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM run_tags WHERE run_id = $1 AND key = $2`, runID, key)
	if err != nil {
		return fmt.Errorf("postgres: delete run tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"tag %q not found on run %q", key, runID)
	}
	return nil
}

// LogBatch applies metrics, params, and tags in one transaction. Param
// conflicts roll back the whole batch.
func (s *Store) LogBatch(ctx context.Context, runID string, metrics []model.Metric, params []model.Param, tags []model.RunTag) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, p := range params {
			if err := logParamTx(ctx, tx, runID, p); err != nil {
				return err
			}
		}
		for _, m := range metrics {
			if err := logMetricTx(ctx, tx, runID, m); err != nil {
				return err
			}
		}
		for _, t := range tags {
			if _, err := tx.Exec(ctx,
				`INSERT INTO run_tags (run_id, key, value) VALUES ($1, $2, $3)
				 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
				runID, t.Key, t.Value,
			); err != nil {
				return fmt.Errorf("postgres: batch tag: %w", err)
			}
		}
		return nil
	})
}

// LogInputs records dataset inputs, deduplicating on (name, digest).
func (s *Store) LogInputs(ctx context.Context, runID string, inputs []model.DatasetInput) error {
	if err := s.requireActiveRun(ctx, runID); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, in := range inputs {
			tagsJSON, err := json.Marshal(in.Tags)
			if err != nil {
				return fmt.Errorf("postgres: encode input tags: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO run_inputs (run_id, dataset_name, digest, source_type, source, dataset_schema, profile, tags)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (run_id, dataset_name, digest) DO NOTHING`,
				runID, in.Dataset.Name, in.Dataset.Digest, in.Dataset.SourceType,
				in.Dataset.Source, in.Dataset.Schema, in.Dataset.Profile, tagsJSON,
			); err != nil {
				return fmt.Errorf("postgres: log input: %w", err)
			}
		}
		return nil
	})
}

// GetMetricHistory returns every point for (run, key) in insertion order,
// optionally paged.
func (s *Store) GetMetricHistory(ctx context.Context, runID, key string, maxResults int64, pageToken string) ([]model.Metric, string, error) {
	if _, err := s.runInfo(ctx, runID); err != nil {
		return nil, "", err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, timestamp, step FROM metrics
		 WHERE run_id = $1 AND key = $2 ORDER BY seq`, runID, key)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: metric history: %w", err)
	}
	defer rows.Close()

	var points []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.Key, &m.Value, &m.Timestamp, &m.Step); err != nil {
			return nil, "", err
		}
		points = append(points, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		return points, "", nil
	}
	fp := store.SearchRequest{FilterRaw: "history:" + runID + ":" + key}.Fingerprint()
	return store.Paginate(points, fp, pageToken, maxResults)
}
