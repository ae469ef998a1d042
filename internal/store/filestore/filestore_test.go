package filestore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func mkExperiment(t *testing.T, s *Store, name string) model.Experiment {
	t.Helper()
	e := model.Experiment{
		ExperimentID:   ident.NewExperimentID(),
		Name:           name,
		LifecycleStage: model.LifecycleActive,
		CreationTime:   1000,
		LastUpdateTime: 1000,
	}
	require.NoError(t, s.CreateExperiment(context.Background(), e))
	return e
}

func mkRun(t *testing.T, s *Store, expID string) model.Run {
	t.Helper()
	run := model.Run{Info: model.RunInfo{
		RunID:          ident.NewRunID(),
		RunName:        "test-run",
		ExperimentID:   expID,
		Status:         model.RunStatusRunning,
		StartTime:      2000,
		LifecycleStage: model.LifecycleActive,
	}}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := mkExperiment(t, s, "churn-model")

	got, err := s.GetExperiment(ctx, e.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "churn-model", got.Name)
	assert.Equal(t, model.LifecycleActive, got.LifecycleStage)

	// Active names are unique.
	err = s.CreateExperiment(ctx, model.Experiment{
		ExperimentID:   ident.NewExperimentID(),
		Name:           "churn-model",
		LifecycleStage: model.LifecycleActive,
	})
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))

	// Delete frees the name and hides the experiment from by-name lookup.
	require.NoError(t, s.DeleteExperiment(ctx, e.ExperimentID, 5000))
	_, err = s.GetExperimentByName(ctx, "churn-model")
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	got, err = s.GetExperiment(ctx, e.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, model.LifecycleDeleted, got.LifecycleStage)
	assert.Equal(t, "churn-model.deleted.5000", got.Name)

	// Restore sheds the suffix.
	require.NoError(t, s.RestoreExperiment(ctx, e.ExperimentID, 6000))
	got, err = s.GetExperimentByName(ctx, "churn-model")
	require.NoError(t, err)
	assert.Equal(t, e.ExperimentID, got.ExperimentID)
}

func TestRestoreFailsWhenNameRetaken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := mkExperiment(t, s, "shared-name")
	require.NoError(t, s.DeleteExperiment(ctx, e.ExperimentID, 5000))
	mkExperiment(t, s, "shared-name")

	err := s.RestoreExperiment(ctx, e.ExperimentID, 6000)
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))
}

func TestRenameExperiment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := mkExperiment(t, s, "old-name")
	mkExperiment(t, s, "taken")

	err := s.RenameExperiment(ctx, e.ExperimentID, "taken", 3000)
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))

	require.NoError(t, s.RenameExperiment(ctx, e.ExperimentID, "new-name", 3000))
	got, err := s.GetExperiment(ctx, e.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Name)
	assert.Equal(t, int64(3000), got.LastUpdateTime)
}

func TestRunsInDeletedExperimentUnreachable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)

	require.NoError(t, s.DeleteExperiment(ctx, e.ExperimentID, 5000))
	_, err := s.GetRun(ctx, run.Info.RunID)
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	require.NoError(t, s.RestoreExperiment(ctx, e.ExperimentID, 6000))
	_, err = s.GetRun(ctx, run.Info.RunID)
	require.NoError(t, err)
}

func TestCreateRunRequiresActiveExperiment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.CreateRun(ctx, model.Run{Info: model.RunInfo{
		RunID:        ident.NewRunID(),
		ExperimentID: "999",
	}})
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))
}

func TestParamImmutability(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	require.NoError(t, s.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.01"}))
	// Same value is idempotent.
	require.NoError(t, s.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.01"}))
	// Different value is rejected.
	err := s.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.02"})
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	// Slash-bearing keys nest.
	require.NoError(t, s.LogParam(ctx, id, model.Param{Key: "layers/conv1/lr", Value: "0.1"}))

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	values := map[string]string{}
	for _, p := range got.Data.Params {
		values[p.Key] = p.Value
	}
	assert.Equal(t, map[string]string{"lr": "0.01", "layers/conv1/lr": "0.1"}, values)
}

func TestMetricHistoryAndNonFinite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	points := []model.Metric{
		{Key: "loss", Value: 1.5, Timestamp: 100, Step: 0},
		{Key: "loss", Value: math.NaN(), Timestamp: 200, Step: 1},
		{Key: "loss", Value: math.Inf(1), Timestamp: 300, Step: 2},
		{Key: "loss", Value: math.Inf(-1), Timestamp: 400, Step: 3},
	}
	for _, m := range points {
		require.NoError(t, s.LogMetric(ctx, id, m))
	}

	history, token, err := s.GetMetricHistory(ctx, id, "loss", 0, "")
	require.NoError(t, err)
	assert.Empty(t, token)
	require.Len(t, history, 4)
	assert.Equal(t, 1.5, history[0].Value)
	assert.True(t, math.IsNaN(history[1].Value))
	assert.True(t, math.IsInf(history[2].Value, 1))
	assert.True(t, math.IsInf(history[3].Value, -1))
	assert.Equal(t, int64(3), history[3].Step)
}

func TestMetricHistoryPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.LogMetric(ctx, id, model.Metric{
			Key: "acc", Value: float64(i), Timestamp: 100 + i, Step: i,
		}))
	}

	page1, token, err := s.GetMetricHistory(ctx, id, "acc", 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)

	page2, token, err := s.GetMetricHistory(ctx, id, "acc", 2, token)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, int64(2), page2[0].Step)

	page3, token, err := s.GetMetricHistory(ctx, id, "acc", 2, token)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, token)
}

func TestLogBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	require.NoError(t, s.LogParam(ctx, id, model.Param{Key: "seed", Value: "42"}))

	// One conflicting param aborts the whole batch.
	err := s.LogBatch(ctx, id,
		[]model.Metric{{Key: "loss", Value: 0.5, Timestamp: 100}},
		[]model.Param{
			{Key: "epochs", Value: "10"},
			{Key: "seed", Value: "43"},
		},
		[]model.RunTag{{Key: "team", Value: "ml"}},
	)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Data.Metrics)
	require.Len(t, got.Data.Params, 1)
	assert.Empty(t, got.Data.Tags)

	// A clean batch lands in full.
	require.NoError(t, s.LogBatch(ctx, id,
		[]model.Metric{{Key: "loss", Value: 0.5, Timestamp: 100}},
		[]model.Param{{Key: "epochs", Value: "10"}},
		[]model.RunTag{{Key: "team", Value: "ml"}},
	))
	got, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Data.Metrics, 1)
	assert.Len(t, got.Data.Params, 2)
	assert.Len(t, got.Data.Tags, 1)
}

func TestLogToDeletedRunRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	require.NoError(t, s.DeleteRun(ctx, id))
	err := s.LogMetric(ctx, id, model.Metric{Key: "loss", Value: 1})
	assert.Equal(t, model.ErrCodeInvalidState, model.CodeOf(err))

	require.NoError(t, s.RestoreRun(ctx, id))
	require.NoError(t, s.LogMetric(ctx, id, model.Metric{Key: "loss", Value: 1}))
}

func TestLogInputsDedupe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")
	run := mkRun(t, s, e.ExperimentID)
	id := run.Info.RunID

	in := model.DatasetInput{Dataset: model.Dataset{Name: "train", Digest: "abc123"}}
	require.NoError(t, s.LogInputs(ctx, id, []model.DatasetInput{in}))
	require.NoError(t, s.LogInputs(ctx, id, []model.DatasetInput{
		in,
		{Dataset: model.Dataset{Name: "eval", Digest: "def456"}},
	}))

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Inputs, 2)
	assert.Equal(t, "train", got.Inputs[0].Dataset.Name)
	assert.Equal(t, "eval", got.Inputs[1].Dataset.Name)
}

func TestSearchRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")

	for i := 0; i < 3; i++ {
		run := mkRun(t, s, e.ExperimentID)
		require.NoError(t, s.LogMetric(ctx, run.Info.RunID, model.Metric{
			Key: "acc", Value: float64(i) / 10, Timestamp: 100,
		}))
	}

	filter, err := query.ParseFilter("metrics.acc > 0.05", query.EntityRun)
	require.NoError(t, err)
	order, err := query.ParseOrderByList([]string{"metrics.acc DESC"}, query.EntityRun)
	require.NoError(t, err)

	runs, token, err := s.SearchRuns(ctx, store.SearchRequest{
		ExperimentIDs: []string{e.ExperimentID},
		FilterRaw:     "metrics.acc > 0.05",
		Filter:        filter,
		ViewType:      model.ViewActiveOnly,
		OrderByRaw:    []string{"metrics.acc DESC"},
		OrderBy:       order,
		MaxResults:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, token)
	require.Len(t, runs, 2)
	first, _ := store.LatestMetric(runs[0].Data.Metrics, "acc")
	assert.Equal(t, 0.2, first.Value)
}

func TestSearchRunsViewType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := mkExperiment(t, s, "exp")

	kept := mkRun(t, s, e.ExperimentID)
	removed := mkRun(t, s, e.ExperimentID)
	require.NoError(t, s.DeleteRun(ctx, removed.Info.RunID))

	req := store.SearchRequest{
		ExperimentIDs: []string{e.ExperimentID},
		ViewType:      model.ViewDeletedOnly,
		MaxResults:    10,
	}
	runs, _, err := s.SearchRuns(ctx, req)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, removed.Info.RunID, runs[0].Info.RunID)

	req.ViewType = model.ViewAll
	runs, _, err = s.SearchRuns(ctx, req)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	req.ViewType = model.ViewActiveOnly
	runs, _, err = s.SearchRuns(ctx, req)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, kept.Info.RunID, runs[0].Info.RunID)
}

func TestRegistryVersioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRegisteredModel(ctx, model.RegisteredModel{
		Name: "fraud", CreationTime: 1000, LastUpdatedTime: 1000,
	}))
	err := s.CreateRegisteredModel(ctx, model.RegisteredModel{Name: "fraud"})
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))

	v1, err := s.CreateModelVersion(ctx, model.ModelVersion{
		Name: "fraud", CurrentStage: model.StageNone,
		Source: "runs:/abc/model", Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version)

	v2, err := s.CreateModelVersion(ctx, model.ModelVersion{
		Name: "fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)

	// Deleting the newest version never frees its number.
	require.NoError(t, s.DeleteModelVersion(ctx, "fraud", 2))
	_, err = s.GetModelVersion(ctx, "fraud", 2)
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	v3, err := s.CreateModelVersion(ctx, model.ModelVersion{
		Name: "fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v3.Version)
}

func TestStageTransitionArchivesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRegisteredModel(ctx, model.RegisteredModel{Name: "fraud"}))

	for i := 0; i < 3; i++ {
		_, err := s.CreateModelVersion(ctx, model.ModelVersion{
			Name: "fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
		})
		require.NoError(t, err)
	}

	_, err := s.TransitionModelVersionStage(ctx, "fraud", 1, model.StageProduction, false, 2000)
	require.NoError(t, err)
	_, err = s.TransitionModelVersionStage(ctx, "fraud", 2, model.StageProduction, true, 3000)
	require.NoError(t, err)

	v1, err := s.GetModelVersion(ctx, "fraud", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchived, v1.CurrentStage)
	assert.Equal(t, int64(3000), v1.LastUpdatedTime)

	v2, err := s.GetModelVersion(ctx, "fraud", 2)
	require.NoError(t, err)
	assert.Equal(t, model.StageProduction, v2.CurrentStage)

	latest, err := s.GetLatestVersions(ctx, "fraud", []model.Stage{model.StageProduction})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(2), latest[0].Version)
}

func TestRenameRegisteredModel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRegisteredModel(ctx, model.RegisteredModel{Name: "alpha"}))
	_, err := s.CreateModelVersion(ctx, model.ModelVersion{
		Name: "alpha", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)

	renamed, err := s.RenameRegisteredModel(ctx, "alpha", "beta", 2000)
	require.NoError(t, err)
	assert.Equal(t, "beta", renamed.Name)

	_, err = s.GetRegisteredModel(ctx, "alpha")
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	v, err := s.GetModelVersion(ctx, "beta", 1)
	require.NoError(t, err)
	assert.Equal(t, "beta", v.Name)
}

func TestModelVersionStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateRegisteredModel(ctx, model.RegisteredModel{
		Name: "ranker", CreationTime: 1000, LastUpdatedTime: 1000,
	}))
	v, err := s.CreateModelVersion(ctx, model.ModelVersion{
		Name: "ranker", CurrentStage: model.StageNone,
		Source: "runs:/abc/model", Status: model.VersionStatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusPending, v.Status)

	require.NoError(t, s.UpdateModelVersionStatus(ctx, "ranker", v.Version, model.VersionStatusReady, "", 2000))
	got, err := s.GetModelVersion(ctx, "ranker", v.Version)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusReady, got.Status)
	assert.Equal(t, int64(2000), got.LastUpdatedTime)

	require.NoError(t, s.UpdateModelVersionStatus(ctx, "ranker", v.Version, model.VersionStatusFailed, "source unreachable", 3000))
	got, err = s.GetModelVersion(ctx, "ranker", v.Version)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusFailed, got.Status)
	assert.Equal(t, "source unreachable", got.StatusMessage)

	err = s.UpdateModelVersionStatus(ctx, "ranker", 99, model.VersionStatusReady, "", 4000)
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))
}
