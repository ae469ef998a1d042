package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// CreateRegisteredModel creates an empty model entry.
func (s *Store) CreateRegisteredModel(ctx context.Context, m model.RegisteredModel) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO registered_models (name, creation_time, last_updated_time, description)
		 VALUES ($1, $2, $3, $4)`,
		m.Name, m.CreationTime, m.LastUpdatedTime, m.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Errorf(model.ErrCodeResourceAlreadyExists,
				"registered model %q already exists", m.Name)
		}
		return fmt.Errorf("postgres: create registered model: %w", err)
	}
	for _, t := range m.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO registered_model_tags (name, key, value) VALUES ($1, $2, $3)`,
			m.Name, t.Key, t.Value,
		); err != nil {
			return fmt.Errorf("postgres: create model tag: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) registeredModelTags(ctx context.Context, name string) ([]model.ModelTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM registered_model_tags WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("postgres: model tags: %w", err)
	}
	defer rows.Close()

	var tags []model.ModelTag
	for rows.Next() {
		var t model.ModelTag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetRegisteredModel returns a model with tags and its latest version per
// stage.
func (s *Store) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	var m model.RegisteredModel
	err := s.pool.QueryRow(ctx,
		`SELECT name, creation_time, last_updated_time, description
		 FROM registered_models WHERE name = $1`, name,
	).Scan(&m.Name, &m.CreationTime, &m.LastUpdatedTime, &m.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RegisteredModel{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"registered model %q not found", name)
		}
		return model.RegisteredModel{}, fmt.Errorf("postgres: get registered model: %w", err)
	}
	if m.Tags, err = s.registeredModelTags(ctx, name); err != nil {
		return model.RegisteredModel{}, err
	}
	if m.LatestVersions, err = s.GetLatestVersions(ctx, name, nil); err != nil {
		return model.RegisteredModel{}, err
	}
	return m, nil
}

// RenameRegisteredModel changes the primary key; ON UPDATE CASCADE carries
// versions and tags along.
func (s *Store) RenameRegisteredModel(ctx context.Context, name, newName string, updateTime int64) (model.RegisteredModel, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE registered_models SET name = $1, last_updated_time = $2 WHERE name = $3`,
		newName, updateTime, name)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RegisteredModel{}, model.Errorf(model.ErrCodeResourceAlreadyExists,
				"registered model %q already exists", newName)
		}
		return model.RegisteredModel{}, fmt.Errorf("postgres: rename registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RegisteredModel{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
			"registered model %q not found", name)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE model_versions SET last_updated_time = $1 WHERE name = $2`,
		updateTime, newName,
	); err != nil {
		return model.RegisteredModel{}, fmt.Errorf("postgres: touch renamed versions: %w", err)
	}
	return s.GetRegisteredModel(ctx, newName)
}

// UpdateRegisteredModel replaces the description.
func (s *Store) UpdateRegisteredModel(ctx context.Context, name, description string, updateTime int64) (model.RegisteredModel, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE registered_models SET description = $1, last_updated_time = $2 WHERE name = $3`,
		description, updateTime, name)
	if err != nil {
		return model.RegisteredModel{}, fmt.Errorf("postgres: update registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RegisteredModel{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
			"registered model %q not found", name)
	}
	return s.GetRegisteredModel(ctx, name)
}

// DeleteRegisteredModel removes the model and every version permanently.
func (s *Store) DeleteRegisteredModel(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM registered_models WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("postgres: delete registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"registered model %q not found", name)
	}
	return nil
}

func (s *Store) requireRegisteredModel(ctx context.Context, name string) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM registered_models WHERE name = $1`, name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"registered model %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("postgres: check registered model: %w", err)
	}
	return nil
}

// SetRegisteredModelTag writes (or overwrites) one model tag.
func (s *Store) SetRegisteredModelTag(ctx context.Context, name string, tag model.ModelTag) error {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO registered_model_tags (name, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (name, key) DO UPDATE SET value = EXCLUDED.value`,
		name, tag.Key, tag.Value)
	if err != nil {
		return fmt.Errorf("postgres: set model tag: %w", err)
	}
	return nil
}

// DeleteRegisteredModelTag removes one model tag.
func (s *Store) DeleteRegisteredModelTag(ctx context.Context, name, key string) error {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM registered_model_tags WHERE name = $1 AND key = $2`, name, key)
	if err != nil {
		return fmt.Errorf("postgres: delete model tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"tag %q not found on registered model %q", key, name)
	}
	return nil
}

// SearchRegisteredModels compiles name and tag clauses to SQL.
func (s *Store) SearchRegisteredModels(ctx context.Context, req store.SearchRequest) ([]model.RegisteredModel, string, error) {
	offset, err := store.DecodePageToken(req.PageToken, req.Fingerprint())
	if err != nil {
		return nil, "", err
	}

	b := &sqlBuilder{}
	b.where("TRUE")
	for _, c := range req.Filter {
		switch c.Kind {
		case query.KindAttribute:
			if c.Key != "name" {
				return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
					"invalid registered model attribute %q", c.Key)
			}
			compileValueCond(b, "m.name", c)
		case query.KindTag:
			var valueCond string
			switch v := c.Value.(type) {
			case string:
				valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bind(v))
			case []string:
				valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bindList(v))
			}
			b.where(fmt.Sprintf(
				`EXISTS (SELECT 1 FROM registered_model_tags kv WHERE kv.name = m.name AND kv.key = %s AND %s)`,
				b.bind(c.Key), valueCond))
		default:
			return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
				"registered model filters accept name and tags only")
		}
	}

	cols := map[string]string{
		"name":              "m.name",
		"creation_time":     "m.creation_time",
		"last_updated_time": "m.last_updated_time",
	}
	orderParts := make([]string, 0, len(req.OrderBy)+1)
	for _, ob := range req.OrderBy {
		dir := "ASC"
		if !ob.Ascending {
			dir = "DESC"
		}
		if col, ok := cols[ob.Key]; ok {
			orderParts = append(orderParts, col+" "+dir)
		}
	}
	orderParts = append(orderParts, "m.name ASC")

	sql := `SELECT m.name, m.creation_time, m.last_updated_time, m.description
		FROM registered_models m WHERE ` + strings.Join(b.conds, " AND ") +
		` ORDER BY ` + strings.Join(orderParts, ", ")
	limit := store.EffectiveMaxResults(req.MaxResults)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", b.bind(limit+1), b.bind(offset))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: search registered models: %w", err)
	}
	defer rows.Close()

	var out []model.RegisteredModel
	for rows.Next() {
		var m model.RegisteredModel
		if err := rows.Scan(&m.Name, &m.CreationTime, &m.LastUpdatedTime, &m.Description); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextToken := ""
	if int64(len(out)) > limit {
		out = out[:limit]
		nextToken = store.EncodePageToken(req.Fingerprint(), offset+limit)
	}
	for i := range out {
		if out[i].Tags, err = s.registeredModelTags(ctx, out[i].Name); err != nil {
			return nil, "", err
		}
		if out[i].LatestVersions, err = s.GetLatestVersions(ctx, out[i].Name, nil); err != nil {
			return nil, "", err
		}
	}
	return out, nextToken, nil
}

const versionColumns = `v.name, v.version, v.creation_time, v.last_updated_time, v.description, v.user_id, v.current_stage, v.source, v.run_id, v.status, v.status_message`

func scanModelVersion(row pgx.Row) (model.ModelVersion, error) {
	var v model.ModelVersion
	var stage, status string
	err := row.Scan(&v.Name, &v.Version, &v.CreationTime, &v.LastUpdatedTime,
		&v.Description, &v.UserID, &stage, &v.Source, &v.RunID, &status, &v.StatusMessage)
	if err != nil {
		return model.ModelVersion{}, err
	}
	v.CurrentStage = model.Stage(stage)
	v.Status = model.ModelVersionStatus(status)
	return v, nil
}

// CreateModelVersion allocates max(existing)+1 under a row lock on the
// model; tombstoned versions still count, so numbers are never reused.
func (s *Store) CreateModelVersion(ctx context.Context, v model.ModelVersion) (model.ModelVersion, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM registered_models WHERE name = $1 FOR UPDATE`, v.Name).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Errorf(model.ErrCodeResourceDoesNotExist,
				"registered model %q not found", v.Name)
		}
		if err != nil {
			return fmt.Errorf("postgres: lock registered model: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = $1`,
			v.Name).Scan(&v.Version); err != nil {
			return fmt.Errorf("postgres: next version: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO model_versions (name, version, creation_time, last_updated_time, description, user_id, current_stage, source, run_id, status, status_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			v.Name, v.Version, v.CreationTime, v.LastUpdatedTime, v.Description,
			v.UserID, string(v.CurrentStage), v.Source, v.RunID,
			string(v.Status), v.StatusMessage,
		); err != nil {
			return fmt.Errorf("postgres: create model version: %w", err)
		}
		for _, t := range v.Tags {
			if _, err := tx.Exec(ctx,
				`INSERT INTO model_version_tags (name, version, key, value) VALUES ($1, $2, $3, $4)`,
				v.Name, v.Version, t.Key, t.Value,
			); err != nil {
				return fmt.Errorf("postgres: create version tag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.ModelVersion{}, err
	}
	return v, nil
}

func (s *Store) modelVersionTags(ctx context.Context, name string, version int64) ([]model.ModelTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM model_version_tags WHERE name = $1 AND version = $2`,
		name, version)
	if err != nil {
		return nil, fmt.Errorf("postgres: version tags: %w", err)
	}
	defer rows.Close()

	var tags []model.ModelTag
	for rows.Next() {
		var t model.ModelTag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetModelVersion returns one live version with its tags.
func (s *Store) GetModelVersion(ctx context.Context, name string, version int64) (model.ModelVersion, error) {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return model.ModelVersion{}, err
	}
	v, err := scanModelVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM model_versions v
		 WHERE v.name = $1 AND v.version = $2 AND NOT v.deleted`, name, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ModelVersion{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"model version %d of %q not found", version, name)
		}
		return model.ModelVersion{}, fmt.Errorf("postgres: get model version: %w", err)
	}
	if v.Tags, err = s.modelVersionTags(ctx, name, version); err != nil {
		return model.ModelVersion{}, err
	}
	return v, nil
}

// UpdateModelVersion replaces the description.
func (s *Store) UpdateModelVersion(ctx context.Context, name string, version int64, description string, updateTime int64) (model.ModelVersion, error) {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return model.ModelVersion{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE model_versions SET description = $1, last_updated_time = $2
		 WHERE name = $3 AND version = $4 AND NOT deleted`,
		description, updateTime, name, version)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("postgres: update model version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ModelVersion{}, model.Errorf(model.ErrCodeResourceDoesNotExist,
			"model version %d of %q not found", version, name)
	}
	return s.GetModelVersion(ctx, name, version)
}

// UpdateModelVersionStatus moves a version through its registration
// lifecycle.
func (s *Store) UpdateModelVersionStatus(ctx context.Context, name string, version int64, status model.ModelVersionStatus, message string, updateTime int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE model_versions SET status = $1, status_message = $2, last_updated_time = $3
		 WHERE name = $4 AND version = $5 AND NOT deleted`,
		string(status), message, updateTime, name, version)
	if err != nil {
		return fmt.Errorf("postgres: update version status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"model version %d of %q not found", version, name)
	}
	return nil
}

// DeleteModelVersion tombstones the version; its number is never handed
// out again.
func (s *Store) DeleteModelVersion(ctx context.Context, name string, version int64) error {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE model_versions SET deleted = TRUE WHERE name = $1 AND version = $2 AND NOT deleted`,
		name, version)
	if err != nil {
		return fmt.Errorf("postgres: delete model version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"model version %d of %q not found", version, name)
	}
	return nil
}

// TransitionModelVersionStage moves a version to stage. With
// archiveExisting set, every other live version currently in that stage is
// archived in the same transaction with the same timestamp.
func (s *Store) TransitionModelVersionStage(ctx context.Context, name string, version int64, stage model.Stage, archiveExisting bool, updateTime int64) (model.ModelVersion, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE model_versions SET current_stage = $1, last_updated_time = $2
			 WHERE name = $3 AND version = $4 AND NOT deleted`,
			string(stage), updateTime, name, version)
		if err != nil {
			return fmt.Errorf("postgres: transition stage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.Errorf(model.ErrCodeResourceDoesNotExist,
				"model version %d of %q not found", version, name)
		}
		if archiveExisting {
			if _, err := tx.Exec(ctx,
				`UPDATE model_versions SET current_stage = $1, last_updated_time = $2
				 WHERE name = $3 AND version != $4 AND current_stage = $5 AND NOT deleted`,
				string(model.StageArchived), updateTime, name, version, string(stage),
			); err != nil {
				return fmt.Errorf("postgres: archive existing: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.ModelVersion{}, err
	}
	return s.GetModelVersion(ctx, name, version)
}

// GetLatestVersions returns the highest live version in each requested
// stage. An empty stage list covers every stage.
func (s *Store) GetLatestVersions(ctx context.Context, name string, stages []model.Stage) ([]model.ModelVersion, error) {
	if err := s.requireRegisteredModel(ctx, name); err != nil {
		return nil, err
	}
	sql := `SELECT DISTINCT ON (v.current_stage) ` + versionColumns + `
		FROM model_versions v WHERE v.name = $1 AND NOT v.deleted`
	args := []any{name}
	if len(stages) > 0 {
		names := make([]string, len(stages))
		for i, st := range stages {
			names[i] = string(st)
		}
		sql += ` AND v.current_stage = ANY($2)`
		args = append(args, names)
	}
	sql += ` ORDER BY v.current_stage, v.version DESC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest versions: %w", err)
	}
	defer rows.Close()

	var out []model.ModelVersion
	for rows.Next() {
		v, err := scanModelVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetModelVersionTag writes (or overwrites) one version tag.
func (s *Store) SetModelVersionTag(ctx context.Context, name string, version int64, tag model.ModelTag) error {
	if _, err := s.GetModelVersion(ctx, name, version); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_version_tags (name, version, key, value) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name, version, key) DO UPDATE SET value = EXCLUDED.value`,
		name, version, tag.Key, tag.Value)
	if err != nil {
		return fmt.Errorf("postgres: set version tag: %w", err)
	}
	return nil
}

// DeleteModelVersionTag removes one version tag.
func (s *Store) DeleteModelVersionTag(ctx context.Context, name string, version int64, key string) error {
	if _, err := s.GetModelVersion(ctx, name, version); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_version_tags WHERE name = $1 AND version = $2 AND key = $3`,
		name, version, key)
	if err != nil {
		return fmt.Errorf("postgres: delete version tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Errorf(model.ErrCodeResourceDoesNotExist,
			"tag %q not found on model version %d of %q", key, version, name)
	}
	return nil
}

// SearchModelVersions compiles attribute clauses to SQL. Tag clauses use
// EXISTS subqueries like every other search.
func (s *Store) SearchModelVersions(ctx context.Context, req store.SearchRequest) ([]model.ModelVersion, string, error) {
	offset, err := store.DecodePageToken(req.PageToken, req.Fingerprint())
	if err != nil {
		return nil, "", err
	}

	cols := map[string]string{
		"name":        "v.name",
		"run_id":      "v.run_id",
		"source_path": "v.source",
	}
	b := &sqlBuilder{}
	b.where("NOT v.deleted")
	for _, c := range req.Filter {
		switch c.Kind {
		case query.KindAttribute:
			col, ok := cols[c.Key]
			if !ok {
				return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
					"invalid model version attribute %q", c.Key)
			}
			compileValueCond(b, col, c)
		case query.KindTag:
			var valueCond string
			switch v := c.Value.(type) {
			case string:
				valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bind(v))
			case []string:
				valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bindList(v))
			}
			b.where(fmt.Sprintf(
				`EXISTS (SELECT 1 FROM model_version_tags kv WHERE kv.name = v.name AND kv.version = v.version AND kv.key = %s AND %s)`,
				b.bind(c.Key), valueCond))
		default:
			return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
				"model version filters accept attributes and tags only")
		}
	}

	orderParts := make([]string, 0, len(req.OrderBy)+2)
	for _, ob := range req.OrderBy {
		dir := "ASC"
		if !ob.Ascending {
			dir = "DESC"
		}
		if col, ok := cols[ob.Key]; ok {
			orderParts = append(orderParts, col+" "+dir)
		}
	}
	orderParts = append(orderParts, "v.name ASC", "v.version DESC")

	sql := `SELECT ` + versionColumns + ` FROM model_versions v WHERE ` +
		strings.Join(b.conds, " AND ") +
		` ORDER BY ` + strings.Join(orderParts, ", ")
	limit := store.EffectiveMaxResults(req.MaxResults)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", b.bind(limit+1), b.bind(offset))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: search model versions: %w", err)
	}
	defer rows.Close()

	var out []model.ModelVersion
	for rows.Next() {
		v, err := scanModelVersion(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextToken := ""
	if int64(len(out)) > limit {
		out = out[:limit]
		nextToken = store.EncodePageToken(req.Fingerprint(), offset+limit)
	}
	return out, nextToken, nil
}
