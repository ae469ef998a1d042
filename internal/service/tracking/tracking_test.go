package tracking_test

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
	"github.com/ashita-ai/kiroku/internal/store/filestore"
)

func newTestService(t *testing.T) *tracking.Service {
	t.Helper()
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	svc := tracking.New(st, &ident.Clock{}, "file:///tmp/artifacts", slog.New(slog.DiscardHandler))
	require.NoError(t, svc.EnsureDefaultExperiment(context.Background()))
	return svc
}

func TestDefaultExperimentBootstrap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	exp, err := svc.GetExperiment(ctx, tracking.DefaultExperimentID)
	require.NoError(t, err)
	assert.Equal(t, tracking.DefaultExperimentName, exp.Name)

	// Bootstrapping again is a no-op.
	require.NoError(t, svc.EnsureDefaultExperiment(ctx))

	err = svc.DeleteExperiment(ctx, tracking.DefaultExperimentID)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestCreateRunDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "", "alice", "", 0, nil)
	require.NoError(t, err)
	assert.Len(t, run.Info.RunID, 32)
	assert.Equal(t, tracking.DefaultExperimentID, run.Info.ExperimentID)
	assert.NotEmpty(t, run.Info.RunName)
	assert.Contains(t, run.Info.ArtifactURI, run.Info.RunID+"/artifacts")
	assert.Equal(t, model.RunStatusRunning, run.Info.Status)
	assert.NotZero(t, run.Info.StartTime)

	var nameTag string
	for _, tag := range run.Data.Tags {
		if tag.Key == tracking.RunNameTag {
			nameTag = tag.Value
		}
	}
	assert.Equal(t, run.Info.RunName, nameTag)
}

func TestCreateRunNameFromTag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "", "", "", 0,
		[]model.RunTag{{Key: tracking.RunNameTag, Value: "tagged-name"}})
	require.NoError(t, err)
	assert.Equal(t, "tagged-name", run.Info.RunName)
}

func TestUpdateRunSyncsNameTag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "", "", "first", 0, nil)
	require.NoError(t, err)

	_, err = svc.UpdateRun(ctx, run.Info.RunID, "FINISHED", 123, "second")
	require.NoError(t, err)

	got, err := svc.GetRun(ctx, run.Info.RunID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Info.RunName)
	assert.Equal(t, model.RunStatusFinished, got.Info.Status)
	var nameTag string
	for _, tag := range got.Data.Tags {
		if tag.Key == tracking.RunNameTag {
			nameTag = tag.Value
		}
	}
	assert.Equal(t, "second", nameTag)
}

func TestGetRunReturnsLatestMetricPerKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "", "", "", 0, nil)
	require.NoError(t, err)
	id := run.Info.RunID

	for _, m := range []model.Metric{
		{Key: "loss", Value: 1.0, Timestamp: 100, Step: 0},
		{Key: "loss", Value: 0.5, Timestamp: 200, Step: 1},
		{Key: "loss", Value: 0.7, Timestamp: 150, Step: 1},
		{Key: "acc", Value: math.NaN(), Timestamp: 100, Step: 0},
	} {
		require.NoError(t, svc.LogMetric(ctx, id, m))
	}

	got, err := svc.GetRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Data.Metrics, 2)
	byKey := map[string]model.Metric{}
	for _, m := range got.Data.Metrics {
		byKey[m.Key] = m
	}
	// Same step: greater timestamp wins.
	assert.Equal(t, 0.5, byKey["loss"].Value)
	assert.EqualValues(t, 200, byKey["loss"].Timestamp)
	assert.True(t, math.IsNaN(byKey["acc"].Value))

	// History remains complete.
	hist, _, err := svc.GetMetricHistory(ctx, id, "loss", 0, "")
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestLogInputsGeneratesDatasetName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "", "", "", 0, nil)
	require.NoError(t, err)

	err = svc.LogInputs(ctx, run.Info.RunID, []model.DatasetInput{
		{Dataset: model.Dataset{Digest: "abc123"}},
	})
	require.NoError(t, err)

	got, err := svc.GetRun(ctx, run.Info.RunID)
	require.NoError(t, err)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, ident.DatasetName("abc123"), got.Inputs[0].Dataset.Name)

	err = svc.LogInputs(ctx, run.Info.RunID, []model.DatasetInput{{Dataset: model.Dataset{Name: "x"}}})
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestSearchRunsRequiresExperimentIDs(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.SearchRuns(context.Background(), nil, "", "", nil, 0, "")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestSearchRunsReducesMetrics(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, "search-exp", "", nil)
	require.NoError(t, err)

	run, err := svc.CreateRun(ctx, exp.ExperimentID, "", "", 0, nil)
	require.NoError(t, err)
	require.NoError(t, svc.LogMetric(ctx, run.Info.RunID, model.Metric{Key: "m", Value: 1, Timestamp: 1, Step: 0}))
	require.NoError(t, svc.LogMetric(ctx, run.Info.RunID, model.Metric{Key: "m", Value: 2, Timestamp: 2, Step: 1}))

	runs, _, err := svc.SearchRuns(ctx, []string{exp.ExperimentID}, "metrics.m > 1.5", "", nil, 0, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Data.Metrics, 1)
	assert.Equal(t, 2.0, runs[0].Data.Metrics[0].Value)
}

func TestExperimentArtifactLocationDefault(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, "loc-exp", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/artifacts/"+exp.ExperimentID, exp.ArtifactLocation)

	custom, err := svc.CreateExperiment(ctx, "loc-exp-2", "s3://bucket/prefix", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/prefix", custom.ArtifactLocation)
}

func TestValidationRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateExperiment(ctx, "", "", nil)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	run, err := svc.CreateRun(ctx, "", "", "", 0, nil)
	require.NoError(t, err)

	err = svc.LogParam(ctx, run.Info.RunID, model.Param{Key: "", Value: "v"})
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	err = svc.DeleteTag(ctx, run.Info.RunID, "")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	_, err = svc.UpdateRun(ctx, run.Info.RunID, "NOT_A_STATUS", 0, "")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

type captureHook struct {
	created  chan model.Run
	finished chan model.RunInfo
}

func (h *captureHook) OnRunCreated(_ context.Context, run model.Run) error {
	h.created <- run
	return nil
}

func (h *captureHook) OnRunFinished(_ context.Context, info model.RunInfo) error {
	h.finished <- info
	return nil
}

func TestRunLifecycleHooks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hook := &captureHook{
		created:  make(chan model.Run, 1),
		finished: make(chan model.RunInfo, 1),
	}
	svc.AddHook(hook)

	run, err := svc.CreateRun(ctx, "", "alice", "hooked-run", 0, nil)
	require.NoError(t, err)

	select {
	case got := <-hook.created:
		assert.Equal(t, run.Info.RunID, got.Info.RunID)
		assert.Equal(t, "hooked-run", got.Info.RunName)
	case <-time.After(time.Second):
		t.Fatal("run-created hook not invoked")
	}

	// A non-terminal update does not fire the finished hook.
	_, err = svc.UpdateRun(ctx, run.Info.RunID, "", 0, "renamed")
	require.NoError(t, err)
	select {
	case <-hook.finished:
		t.Fatal("finished hook fired on non-terminal update")
	case <-time.After(50 * time.Millisecond):
	}

	end := run.Info.StartTime + 10
	_, err = svc.UpdateRun(ctx, run.Info.RunID, "FINISHED", end, "")
	require.NoError(t, err)
	select {
	case got := <-hook.finished:
		assert.Equal(t, run.Info.RunID, got.RunID)
		assert.Equal(t, model.RunStatusFinished, got.Status)
		assert.Equal(t, end, got.EndTime)
	case <-time.After(time.Second):
		t.Fatal("run-finished hook not invoked")
	}
}

func TestSearchRunsEnforcesMaxResultsCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.SetMaxResultsCap(100)

	exp, err := svc.CreateExperiment(ctx, "capped", "", nil)
	require.NoError(t, err)

	_, _, err = svc.SearchRuns(ctx, []string{exp.ExperimentID}, "", "", nil, 101, "")
	assert.Equal(t, model.ErrCodeRequestLimitExceeded, model.CodeOf(err))

	_, _, err = svc.SearchRuns(ctx, []string{exp.ExperimentID}, "", "", nil, 100, "")
	assert.NoError(t, err)

	_, _, err = svc.SearchRuns(ctx, []string{exp.ExperimentID}, "", "", nil, -1, "")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	_, _, err = svc.SearchExperiments(ctx, "", "", nil, 101, "")
	assert.Equal(t, model.ErrCodeRequestLimitExceeded, model.CodeOf(err))
}

func TestSearchRunsDefaultsMaxResults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// max_results omitted returns a full default-sized page, not an
	// empty one.
	exp, err := svc.CreateExperiment(ctx, "default-page", "", nil)
	require.NoError(t, err)
	run, err := svc.CreateRun(ctx, exp.ExperimentID, "", "", 0, nil)
	require.NoError(t, err)
	require.NoError(t, svc.LogMetric(ctx, run.Info.RunID, model.Metric{Key: "loss", Value: 0.5, Timestamp: 1, Step: 1}))

	runs, token, err := svc.SearchRuns(ctx, []string{exp.ExperimentID}, "", "", nil, 0, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, token)
}
