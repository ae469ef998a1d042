package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// sqlBuilder accumulates WHERE fragments and their positional args.
type sqlBuilder struct {
	conds []string
	args  []any
}

// bind appends v and returns its placeholder.
func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

// bindList binds every element of vs and returns "(...)" placeholders.
func (b *sqlBuilder) bindList(vs []string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = b.bind(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// sqlOp maps a filter operator to its SQL spelling. The operator set is
// closed by the parser; anything else is a programming error.
func sqlOp(op query.Op) string {
	switch op {
	case query.OpEq:
		return "="
	case query.OpNe:
		return "!="
	case query.OpLike:
		return "LIKE"
	case query.OpILike:
		return "ILIKE"
	default:
		return string(op)
	}
}

// runAttrColumn maps filterable run attributes to their columns.
var runAttrColumn = map[string]string{
	"run_id":       "r.run_id",
	"run_name":     "r.name",
	"status":       "r.status",
	"artifact_uri": "r.artifact_uri",
	"user_id":      "r.user_id",
	"start_time":   "r.start_time",
	"end_time":     "r.end_time",
}

// compileRunClause appends the SQL condition for one run filter clause.
// Metric clauses compare against latest_metrics so only the winning point
// per key counts; param and tag clauses use EXISTS subqueries.
func compileRunClause(b *sqlBuilder, c query.Comparison) error {
	switch c.Kind {
	case query.KindMetric:
		b.where(fmt.Sprintf(
			`EXISTS (SELECT 1 FROM latest_metrics lm WHERE lm.run_id = r.run_id AND lm.key = %s AND lm.value %s %s)`,
			b.bind(c.Key), sqlOp(c.Op), b.bind(c.Value)))
	case query.KindParam:
		return compileKVClause(b, "params", c)
	case query.KindTag:
		return compileKVClause(b, "run_tags", c)
	case query.KindAttribute:
		col, ok := runAttrColumn[c.Key]
		if !ok {
			return model.Errorf(model.ErrCodeInvalidParameterValue,
				"invalid run attribute %q", c.Key)
		}
		compileValueCond(b, col, c)
	}
	return nil
}

// compileKVClause handles params and run_tags, both (run_id, key, value).
func compileKVClause(b *sqlBuilder, table string, c query.Comparison) error {
	var valueCond string
	switch v := c.Value.(type) {
	case string:
		valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bind(v))
	case []string:
		valueCond = fmt.Sprintf("kv.value %s %s", sqlOp(c.Op), b.bindList(v))
	default:
		return model.Errorf(model.ErrCodeInvalidParameterValue,
			"%s comparison requires a string value", c.Kind)
	}
	b.where(fmt.Sprintf(
		`EXISTS (SELECT 1 FROM %s kv WHERE kv.run_id = r.run_id AND kv.key = %s AND %s)`,
		table, b.bind(c.Key), valueCond))
	return nil
}

// compileValueCond emits a direct column comparison.
func compileValueCond(b *sqlBuilder, col string, c query.Comparison) {
	switch v := c.Value.(type) {
	case []string:
		b.where(fmt.Sprintf("%s %s %s", col, sqlOp(c.Op), b.bindList(v)))
	default:
		b.where(fmt.Sprintf("%s %s %s", col, sqlOp(c.Op), b.bind(v)))
	}
}

// runOrderBySQL renders one order_by entry. Metric keys read from
// latest_metrics; missing values always sort last regardless of direction.
func runOrderBySQL(b *sqlBuilder, ob query.OrderBy) string {
	dir := "ASC"
	if !ob.Ascending {
		dir = "DESC"
	}
	switch ob.Kind {
	case query.KindMetric:
		return fmt.Sprintf(
			`(SELECT lm.value FROM latest_metrics lm WHERE lm.run_id = r.run_id AND lm.key = %s) %s NULLS LAST`,
			b.bind(ob.Key), dir)
	case query.KindParam:
		return fmt.Sprintf(
			`(SELECT kv.value FROM params kv WHERE kv.run_id = r.run_id AND kv.key = %s) %s NULLS LAST`,
			b.bind(ob.Key), dir)
	case query.KindTag:
		return fmt.Sprintf(
			`(SELECT kv.value FROM run_tags kv WHERE kv.run_id = r.run_id AND kv.key = %s) %s NULLS LAST`,
			b.bind(ob.Key), dir)
	default:
		col, ok := runAttrColumn[ob.Key]
		if !ok {
			col = "r.start_time"
		}
		return col + " " + dir
	}
}

func viewCondition(b *sqlBuilder, view model.ViewType, col string) {
	switch view {
	case model.ViewActiveOnly, "":
		b.where(fmt.Sprintf("%s = %s", col, b.bind(string(model.LifecycleActive))))
	case model.ViewDeletedOnly:
		b.where(fmt.Sprintf("%s = %s", col, b.bind(string(model.LifecycleDeleted))))
	default:
		b.where("TRUE")
	}
}

// SearchRuns compiles the filter to SQL, pages with LIMIT/OFFSET bound to
// the query fingerprint, and loads the full data of each returned run.
func (s *Store) SearchRuns(ctx context.Context, req store.SearchRequest) ([]model.Run, string, error) {
	offset, err := store.DecodePageToken(req.PageToken, req.Fingerprint())
	if err != nil {
		return nil, "", err
	}

	b := &sqlBuilder{}
	if len(req.ExperimentIDs) > 0 {
		b.where("r.experiment_id IN " + b.bindList(req.ExperimentIDs))
	}
	viewCondition(b, req.ViewType, "r.lifecycle_stage")
	for _, c := range req.Filter {
		if err := compileRunClause(b, c); err != nil {
			return nil, "", err
		}
	}

	// Deterministic total order: requested keys, then start_time DESC,
	// then run_id.
	orderParts := make([]string, 0, len(req.OrderBy)+2)
	for _, ob := range req.OrderBy {
		orderParts = append(orderParts, runOrderBySQL(b, ob))
	}
	orderParts = append(orderParts, "r.start_time DESC", "r.run_id ASC")

	sql := `SELECT ` + runColumns + ` FROM runs r WHERE ` +
		strings.Join(b.conds, " AND ") +
		` ORDER BY ` + strings.Join(orderParts, ", ")
	limit := store.EffectiveMaxResults(req.MaxResults)
	// One extra row decides whether a next page exists.
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", b.bind(limit+1), b.bind(offset))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: search runs: %w", err)
	}
	defer rows.Close()

	var infos []model.RunInfo
	for rows.Next() {
		info, err := scanRunInfo(rows)
		if err != nil {
			return nil, "", err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextToken := ""
	if int64(len(infos)) > limit {
		infos = infos[:limit]
		nextToken = store.EncodePageToken(req.Fingerprint(), offset+limit)
	}

	out := make([]model.Run, 0, len(infos))
	for _, info := range infos {
		run := model.Run{Info: info}
		if err := s.loadRunData(ctx, &run); err != nil {
			return nil, "", err
		}
		out = append(out, run)
	}
	return out, nextToken, nil
}

// SearchExperiments compiles attribute filters to SQL and evaluates tag
// clauses the same way run searches do.
func (s *Store) SearchExperiments(ctx context.Context, req store.SearchRequest) ([]model.Experiment, string, error) {
	offset, err := store.DecodePageToken(req.PageToken, req.Fingerprint())
	if err != nil {
		return nil, "", err
	}

	cols := map[string]string{
		"name":             "e.name",
		"creation_time":    "e.creation_time",
		"last_update_time": "e.last_update_time",
	}
	b := &sqlBuilder{}
	switch req.ViewType {
	case model.ViewActiveOnly, "":
		b.where("e.lifecycle_stage = " + b.bind(string(model.LifecycleActive)))
	case model.ViewDeletedOnly:
		b.where("e.lifecycle_stage = " + b.bind(string(model.LifecycleDeleted)))
	default:
		b.where("TRUE")
	}
	for _, c := range req.Filter {
		switch c.Kind {
		case query.KindAttribute:
			col, ok := cols[c.Key]
			if !ok {
				return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
					"invalid experiment attribute %q", c.Key)
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
				`EXISTS (SELECT 1 FROM experiment_tags kv WHERE kv.experiment_id = e.experiment_id AND kv.key = %s AND %s)`,
				b.bind(c.Key), valueCond))
		default:
			return nil, "", model.Errorf(model.ErrCodeInvalidParameterValue,
				"experiment filters accept attributes and tags only")
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
	// experiment_id is numeric text; cast for a stable numeric tiebreak.
	orderParts = append(orderParts, "e.creation_time DESC", "e.experiment_id::numeric ASC")

	sql := `SELECT ` + experimentColumns + ` FROM experiments e WHERE ` +
		strings.Join(b.conds, " AND ") +
		` ORDER BY ` + strings.Join(orderParts, ", ")
	limit := store.EffectiveMaxResults(req.MaxResults)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", b.bind(limit+1), b.bind(offset))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: search experiments: %w", err)
	}
	defer rows.Close()

	var out []model.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, e)
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
		if out[i].Tags, err = s.experimentTags(ctx, out[i].ExperimentID); err != nil {
			return nil, "", err
		}
	}
	return out, nextToken, nil
}
