package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
)

func TestParseFilter_Empty(t *testing.T) {
	for _, f := range []string{"", "   ", "\t\n"} {
		cs, err := query.ParseFilter(f, query.EntityRun)
		require.NoError(t, err)
		assert.Empty(t, cs)
	}
}

func TestParseFilter_SingleClauses(t *testing.T) {
	tests := []struct {
		filter string
		want   query.Comparison
	}{
		{`metrics.accuracy > 0.9`, query.Comparison{Kind: query.KindMetric, Key: "accuracy", Op: query.OpGt, Value: 0.9}},
		{`metric.loss <= 1e-3`, query.Comparison{Kind: query.KindMetric, Key: "loss", Op: query.OpLe, Value: 1e-3}},
		{`params.solver = 'adam'`, query.Comparison{Kind: query.KindParam, Key: "solver", Op: query.OpEq, Value: "adam"}},
		{`parameter.lr != "0.01"`, query.Comparison{Kind: query.KindParam, Key: "lr", Op: query.OpNe, Value: "0.01"}},
		{`tags.env LIKE 'pro%'`, query.Comparison{Kind: query.KindTag, Key: "env", Op: query.OpLike, Value: "pro%"}},
		{`tag.env ILIKE '%PROD%'`, query.Comparison{Kind: query.KindTag, Key: "env", Op: query.OpILike, Value: "%PROD%"}},
		{`attributes.status = 'FINISHED'`, query.Comparison{Kind: query.KindAttribute, Key: "status", Op: query.OpEq, Value: "FINISHED"}},
		{`run.user_id = 'alice'`, query.Comparison{Kind: query.KindAttribute, Key: "user_id", Op: query.OpEq, Value: "alice"}},
		{`status = 'RUNNING'`, query.Comparison{Kind: query.KindAttribute, Key: "status", Op: query.OpEq, Value: "RUNNING"}},
		{`attribute.start_time > 1000`, query.Comparison{Kind: query.KindAttribute, Key: "start_time", Op: query.OpGt, Value: float64(1000)}},
	}
	for _, tc := range tests {
		cs, err := query.ParseFilter(tc.filter, query.EntityRun)
		require.NoError(t, err, tc.filter)
		require.Len(t, cs, 1, tc.filter)
		assert.Equal(t, tc.want, cs[0], tc.filter)
	}
}

func TestParseFilter_Conjunction(t *testing.T) {
	cs, err := query.ParseFilter(
		`tags.env IN ('prod','staging') AND metrics.accuracy > 0.9 and params.solver != 'sgd'`,
		query.EntityRun)
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, query.OpIn, cs[0].Op)
	assert.Equal(t, []string{"prod", "staging"}, cs[0].Value)
	assert.Equal(t, query.KindMetric, cs[1].Kind)
	assert.Equal(t, "solver", cs[2].Key)
}

func TestParseFilter_QuotedKeys(t *testing.T) {
	cs, err := query.ParseFilter("metrics.`my.metric` >= 2", query.EntityRun)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "my.metric", cs[0].Key)

	cs, err = query.ParseFilter(`params."nested.key" = 'x'`, query.EntityRun)
	require.NoError(t, err)
	assert.Equal(t, "nested.key", cs[0].Key)

	// Bare keys span dots: the split happens only on the first dot.
	cs, err = query.ParseFilter(`metrics.foo.bar < 1`, query.EntityRun)
	require.NoError(t, err)
	assert.Equal(t, "foo.bar", cs[0].Key)
}

func TestParseFilter_NotIn(t *testing.T) {
	cs, err := query.ParseFilter(`tags.env NOT IN ('dev')`, query.EntityRun)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, query.OpNotIn, cs[0].Op)
	assert.Equal(t, []string{"dev"}, cs[0].Value)
}

func TestParseFilter_Errors(t *testing.T) {
	bad := []string{
		`metrics.accuracy > 'high'`,        // string value for metric
		`metrics.accuracy LIKE '0.9'`,      // string operator for metric
		`params.solver > 'adam'`,           // numeric operator for param
		`params.solver = adam`,             // unquoted value
		`tags.env IN ()`,                   // empty list
		`tags.env IN ('a' 'b')`,            // missing comma
		`tags.env OR tags.other = 'x'`,     // OR unsupported
		`status = 'x' OR run_id = 'y'`,     // OR unsupported
		`widgets.foo = 'x'`,                // unknown category
		`attributes.nonesuch = 'x'`,        // unknown attribute
		`artifact_count > 3`,               // unknown bare attribute
		`metrics.accuracy >`,               // missing value
		`metrics.accuracy 0.9`,             // missing operator
		`tags.env NOT LIKE 'x'`,            // NOT without IN
		`tags.env = 'unterminated`,         // unterminated quote
	}
	for _, f := range bad {
		_, err := query.ParseFilter(f, query.EntityRun)
		require.Error(t, err, f)
		assert.Equal(t, model.ErrCodeMalformedRequest, model.CodeOf(err), f)
	}
}

func TestParseFilter_EntityAttributeSets(t *testing.T) {
	_, err := query.ParseFilter(`name LIKE 'resnet%'`, query.EntityRegisteredModel)
	require.NoError(t, err)

	_, err = query.ParseFilter(`run_id = 'abc'`, query.EntityRegisteredModel)
	require.Error(t, err, "run_id is not a registered-model attribute")

	_, err = query.ParseFilter(`run_id IN ('abc')`, query.EntityModelVersion)
	require.NoError(t, err)

	_, err = query.ParseFilter(`source_path = '/models/x'`, query.EntityModelVersion)
	require.NoError(t, err)
}

func TestParseOrderBy(t *testing.T) {
	ob, err := query.ParseOrderBy("metrics.accuracy DESC", query.EntityRun)
	require.NoError(t, err)
	assert.Equal(t, query.KindMetric, ob.Kind)
	assert.Equal(t, "accuracy", ob.Key)
	assert.False(t, ob.Ascending)

	ob, err = query.ParseOrderBy("start_time", query.EntityRun)
	require.NoError(t, err)
	assert.True(t, ob.Ascending)
	assert.Equal(t, query.KindAttribute, ob.Kind)

	_, err = query.ParseOrderBy("start_time SIDEWAYS", query.EntityRun)
	require.Error(t, err)

	_, err = query.ParseOrderBy("bogus_attr ASC", query.EntityRun)
	require.Error(t, err)
}

func newTestRun() model.Run {
	return model.Run{
		Info: model.RunInfo{
			RunID:   "0123456789abcdef0123456789abcdef",
			RunName: "bright-owl-7",
			Status:  model.RunStatusFinished,
			UserID:  "alice",
			StartTime: 5000,
		},
		Data: model.RunData{
			Metrics: []model.Metric{
				{Key: "accuracy", Value: 0.85, Timestamp: 1000, Step: 0},
				{Key: "accuracy", Value: 0.95, Timestamp: 2000, Step: 1},
				{Key: "accuracy", Value: 0.90, Timestamp: 1500, Step: 0},
			},
			Params: []model.Param{{Key: "solver", Value: "adam"}},
			Tags:   []model.RunTag{{Key: "env", Value: "prod"}},
		},
	}
}

func TestMatchRun(t *testing.T) {
	run := newTestRun()
	match := []string{
		`metrics.accuracy > 0.9`, // latest point (step 1) is 0.95
		`params.solver = 'adam'`,
		`tags.env IN ('prod','staging')`,
		`tags.env LIKE 'pro%'`,
		`tags.env ILIKE 'PRO%'`,
		`status = 'FINISHED' AND user_id = 'alice'`,
		`attributes.start_time >= 5000`,
	}
	for _, f := range match {
		cs, err := query.ParseFilter(f, query.EntityRun)
		require.NoError(t, err, f)
		assert.True(t, query.MatchRun(cs, run), f)
	}

	noMatch := []string{
		`metrics.accuracy > 0.95`,
		`metrics.missing > 0`,
		`params.solver = 'sgd'`,
		`tags.env NOT IN ('prod')`,
		`tags.env LIKE 'PRO%'`, // LIKE is case-sensitive
		`status != 'FINISHED'`,
	}
	for _, f := range noMatch {
		cs, err := query.ParseFilter(f, query.EntityRun)
		require.NoError(t, err, f)
		assert.False(t, query.MatchRun(cs, run), f)
	}
}

func TestMatchLike(t *testing.T) {
	assert.True(t, query.MatchLike("pro%", "prod", true))
	assert.True(t, query.MatchLike("%od", "prod", true))
	assert.True(t, query.MatchLike("%ro%", "prod", true))
	assert.True(t, query.MatchLike("p%d", "prod", true))
	assert.True(t, query.MatchLike("prod", "prod", true))
	assert.False(t, query.MatchLike("prod_", "prod", true), "underscore is literal, not a wildcard")
	assert.False(t, query.MatchLike("PRO%", "prod", true))
	assert.True(t, query.MatchLike("PRO%", "prod", false))
	assert.False(t, query.MatchLike("pro%x", "prod", true))
}
