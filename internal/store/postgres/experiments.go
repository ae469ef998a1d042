package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kiroku/internal/model"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateExperiment persists a fully formed experiment. Active-name
// uniqueness is enforced by a partial index.
func (s *Store) CreateExperiment(ctx context.Context, e model.Experiment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO experiments (experiment_id, name, artifact_location, lifecycle_stage, creation_time, last_update_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ExperimentID, e.Name, e.ArtifactLocation, string(e.LifecycleStage),
		e.CreationTime, e.LastUpdateTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"experiment %q already exists", e.Name)
		}
		return fmt.Errorf("postgres: create experiment: %w", err)
	}
	for _, t := range e.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO experiment_tags (experiment_id, key, value) VALUES ($1, $2, $3)`,
			e.ExperimentID, t.Key, t.Value,
		); err != nil {
			return fmt.Errorf("postgres: create experiment tag: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const experimentColumns = `experiment_id, name, artifact_location, lifecycle_stage, creation_time, last_update_time`

func scanExperiment(row pgx.Row) (model.Experiment, error) {
	var e model.Experiment
	var stage string
	err := row.Scan(&e.ExperimentID, &e.Name, &e.ArtifactLocation, &stage,
		&e.CreationTime, &e.LastUpdateTime)
	if err != nil {
		return model.Experiment{}, err
	}
	e.LifecycleStage = model.LifecycleStage(stage)
	return e, nil
}

func (s *Store) experimentTags(ctx context.Context, id string) ([]model.ExperimentTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM experiment_tags WHERE experiment_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: experiment tags: %w", err)
	}
	defer rows.Close()

	var tags []model.ExperimentTag
	for rows.Next() {
		var t model.ExperimentTag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetExperiment returns an experiment by ID regardless of lifecycle stage.
func (s *Store) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	e, err := scanExperiment(s.pool.QueryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE experiment_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Experiment{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"experiment %q not found", id)
		}
		return model.Experiment{}, fmt.Errorf("postgres: get experiment: %w", err)
	}
	if e.Tags, err = s.experimentTags(ctx, id); err != nil {
		return model.Experiment{}, err
	}
	return e, nil
}

// GetExperimentByName returns the active experiment with the given name.
func (s *Store) GetExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	e, err := scanExperiment(s.pool.QueryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE name = $1 AND lifecycle_stage = $2`, name, string(model.LifecycleActive)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Experiment{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"experiment with name %q not found", name)
		}
		return model.Experiment{}, fmt.Errorf("postgres: get experiment by name: %w", err)
	}
	if e.Tags, err = s.experimentTags(ctx, e.ExperimentID); err != nil {
		return model.Experiment{}, err
	}
	return e, nil
}

// RenameExperiment changes the display name of an active experiment.
func (s *Store) RenameExperiment(ctx context.Context, id, newName string, updateTime int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experiments SET name = $1, last_update_time = $2
		 WHERE experiment_id = $3 AND lifecycle_stage = $4`,
		newName, updateTime, id, string(model.LifecycleActive))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"experiment %q already exists", newName)
		}
		return fmt.Errorf("postgres: rename experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.experimentMissingOrInactive(ctx, id, "rename")
	}
	return nil
}

// experimentMissingOrInactive distinguishes a missing experiment from one
// in the wrong lifecycle stage after a guarded UPDATE matched no rows.
func (s *Store) experimentMissingOrInactive(ctx context.Context, id, verb string) error {
	e, err := s.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	return model.Errorf(model.ErrCodeInvalidState,
		"cannot %s experiment %q in lifecycle stage %s", verb, id, e.LifecycleStage)
}

// DeleteExperiment soft-deletes: the stored name gains a ".deleted.<ms>"
// suffix so the live name is freed, and the contained runs become
// unreachable through run lookups.
func (s *Store) DeleteExperiment(ctx context.Context, id string, deleteTime int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experiments
		 SET name = name || '.deleted.' || $1::text, lifecycle_stage = $2, last_update_time = $3
		 WHERE experiment_id = $4 AND lifecycle_stage = $5`,
		fmt.Sprintf("%d", deleteTime), string(model.LifecycleDeleted), deleteTime,
		id, string(model.LifecycleActive))
	if err != nil {
		return fmt.Errorf("postgres: delete experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.experimentMissingOrInactive(ctx, id, "delete")
	}
	return nil
}

// RestoreExperiment reactivates a soft-deleted experiment, shedding the
// ".deleted.<ms>" name suffix. Fails when a live experiment has taken the
// original name.
func (s *Store) RestoreExperiment(ctx context.Context, id string, updateTime int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experiments
		 SET name = regexp_replace(name, '\.deleted\.[0-9]+$', ''),
		     lifecycle_stage = $1, last_update_time = $2
		 WHERE experiment_id = $3 AND lifecycle_stage = $4`,
		string(model.LifecycleActive), updateTime, id, string(model.LifecycleDeleted))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"cannot restore experiment %q, its name is taken", id)
		}
		return fmt.Errorf("postgres: restore experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetExperiment(ctx, id); err != nil {
			return err
		}
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"deleted experiment %q not found", id)
	}
	return nil
}

// SetExperimentTag writes (or overwrites) one experiment tag on an active
// experiment.
func (s *Store) SetExperimentTag(ctx context.Context, id string, tag model.ExperimentTag) error {
	e, err := s.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if e.LifecycleStage != model.LifecycleActive {
		return model.Errorf(model.ErrCodeInvalidState,
			"cannot set tag on experiment %q in lifecycle stage %s", id, e.LifecycleStage)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO experiment_tags (experiment_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (experiment_id, key) DO UPDATE SET value = EXCLUDED.value`,
		id, tag.Key, tag.Value)
	if err != nil {
		return fmt.Errorf("postgres: set experiment tag: %w", err)
	}
	return nil
}
