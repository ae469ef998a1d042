package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
	"github.com/ashita-ai/kiroku/internal/store/postgres"
)

// testStore holds a shared database connection for all tests in this
// package.
var testStore *postgres.Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kiroku",
			"POSTGRES_PASSWORD": "kiroku",
			"POSTGRES_DB":       "kiroku",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://kiroku:kiroku@%s:%s/kiroku?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testStore, err = postgres.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create store: %v\n", err)
		os.Exit(1)
	}

	if err := testStore.RunMigrations(ctx, os.DirFS("../../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testStore.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func createExperiment(t *testing.T, name string) model.Experiment {
	t.Helper()
	e := model.Experiment{
		ExperimentID:   ident.NewExperimentID(),
		Name:           name,
		LifecycleStage: model.LifecycleActive,
		CreationTime:   1000,
		LastUpdateTime: 1000,
	}
	require.NoError(t, testStore.CreateExperiment(context.Background(), e))
	return e
}

func createRun(t *testing.T, expID string) model.Run {
	t.Helper()
	run := model.Run{Info: model.RunInfo{
		RunID:          ident.NewRunID(),
		RunName:        "pg-test-run",
		ExperimentID:   expID,
		Status:         model.RunStatusRunning,
		StartTime:      2000,
		LifecycleStage: model.LifecycleActive,
	}}
	require.NoError(t, testStore.CreateRun(context.Background(), run))
	return run
}

func TestExperimentCRUD(t *testing.T) {
	ctx := context.Background()
	e := createExperiment(t, "pg-crud")

	got, err := testStore.GetExperiment(ctx, e.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "pg-crud", got.Name)

	err = testStore.CreateExperiment(ctx, model.Experiment{
		ExperimentID:   ident.NewExperimentID(),
		Name:           "pg-crud",
		LifecycleStage: model.LifecycleActive,
	})
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))

	require.NoError(t, testStore.DeleteExperiment(ctx, e.ExperimentID, 5000))
	_, err = testStore.GetExperimentByName(ctx, "pg-crud")
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	// The freed name is reusable while the old experiment sits in the trash.
	other := createExperiment(t, "pg-crud")
	err = testStore.RestoreExperiment(ctx, e.ExperimentID, 6000)
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))

	require.NoError(t, testStore.DeleteExperiment(ctx, other.ExperimentID, 7000))
	require.NoError(t, testStore.RestoreExperiment(ctx, e.ExperimentID, 8000))
	got, err = testStore.GetExperimentByName(ctx, "pg-crud")
	require.NoError(t, err)
	assert.Equal(t, e.ExperimentID, got.ExperimentID)
}

func TestRunLoggingRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := createExperiment(t, "pg-logging")
	run := createRun(t, e.ExperimentID)
	id := run.Info.RunID

	require.NoError(t, testStore.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.01"}))
	require.NoError(t, testStore.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.01"}))
	err := testStore.LogParam(ctx, id, model.Param{Key: "lr", Value: "0.02"})
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	require.NoError(t, testStore.LogMetric(ctx, id, model.Metric{Key: "loss", Value: 1.5, Timestamp: 100, Step: 0}))
	require.NoError(t, testStore.LogMetric(ctx, id, model.Metric{Key: "loss", Value: math.NaN(), Timestamp: 200, Step: 1}))
	require.NoError(t, testStore.SetTag(ctx, id, model.RunTag{Key: "team", Value: "ml"}))

	got, err := testStore.GetRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Data.Params, 1)
	require.Len(t, got.Data.Metrics, 2)
	assert.True(t, math.IsNaN(got.Data.Metrics[1].Value))
	require.Len(t, got.Data.Tags, 1)
}

func TestLatestMetricMaintenance(t *testing.T) {
	ctx := context.Background()
	e := createExperiment(t, "pg-latest")
	run := createRun(t, e.ExperimentID)
	id := run.Info.RunID

	// Higher step wins even when logged first; a late lower step loses.
	require.NoError(t, testStore.LogMetric(ctx, id, model.Metric{Key: "acc", Value: 0.9, Timestamp: 100, Step: 5}))
	require.NoError(t, testStore.LogMetric(ctx, id, model.Metric{Key: "acc", Value: 0.1, Timestamp: 200, Step: 1}))

	filter, err := query.ParseFilter("metrics.acc > 0.5", query.EntityRun)
	require.NoError(t, err)
	runs, _, err := testStore.SearchRuns(ctx, store.SearchRequest{
		ExperimentIDs: []string{e.ExperimentID},
		FilterRaw:     "metrics.acc > 0.5",
		Filter:        filter,
		ViewType:      model.ViewActiveOnly,
		MaxResults:    10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	filter, err = query.ParseFilter("metrics.acc < 0.5", query.EntityRun)
	require.NoError(t, err)
	runs, _, err = testStore.SearchRuns(ctx, store.SearchRequest{
		ExperimentIDs: []string{e.ExperimentID},
		FilterRaw:     "metrics.acc < 0.5",
		Filter:        filter,
		ViewType:      model.ViewActiveOnly,
		MaxResults:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLogBatchRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	e := createExperiment(t, "pg-batch")
	run := createRun(t, e.ExperimentID)
	id := run.Info.RunID

	require.NoError(t, testStore.LogParam(ctx, id, model.Param{Key: "seed", Value: "42"}))

	err := testStore.LogBatch(ctx, id,
		[]model.Metric{{Key: "loss", Value: 0.5, Timestamp: 100}},
		[]model.Param{{Key: "epochs", Value: "10"}, {Key: "seed", Value: "43"}},
		[]model.RunTag{{Key: "team", Value: "ml"}},
	)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	got, err := testStore.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Data.Metrics)
	assert.Len(t, got.Data.Params, 1)
	assert.Empty(t, got.Data.Tags)
}

func TestSearchRunsPagingAndOrder(t *testing.T) {
	ctx := context.Background()
	e := createExperiment(t, "pg-paging")

	for i := 0; i < 5; i++ {
		run := createRun(t, e.ExperimentID)
		require.NoError(t, testStore.LogMetric(ctx, run.Info.RunID, model.Metric{
			Key: "score", Value: float64(i), Timestamp: 100,
		}))
	}

	order, err := query.ParseOrderByList([]string{"metrics.score DESC"}, query.EntityRun)
	require.NoError(t, err)
	req := store.SearchRequest{
		ExperimentIDs: []string{e.ExperimentID},
		ViewType:      model.ViewActiveOnly,
		OrderByRaw:    []string{"metrics.score DESC"},
		OrderBy:       order,
		MaxResults:    2,
	}

	page1, token, err := testStore.SearchRuns(ctx, req)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)
	first, _ := store.LatestMetric(page1[0].Data.Metrics, "score")
	assert.Equal(t, 4.0, first.Value)

	req.PageToken = token
	page2, token, err := testStore.SearchRuns(ctx, req)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, token)

	req.PageToken = token
	page3, token, err := testStore.SearchRuns(ctx, req)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, token)

	// A token from a different query shape is rejected.
	req.PageToken = token
	req.OrderByRaw = nil
	req.OrderBy = nil
	req.PageToken = store.EncodePageToken(0xdeadbeef, 2)
	_, _, err = testStore.SearchRuns(ctx, req)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestRegistryVersionAllocation(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testStore.CreateRegisteredModel(ctx, model.RegisteredModel{
		Name: "pg-fraud", CreationTime: 1000, LastUpdatedTime: 1000,
	}))

	v1, err := testStore.CreateModelVersion(ctx, model.ModelVersion{
		Name: "pg-fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version)

	v2, err := testStore.CreateModelVersion(ctx, model.ModelVersion{
		Name: "pg-fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)

	require.NoError(t, testStore.DeleteModelVersion(ctx, "pg-fraud", 2))
	v3, err := testStore.CreateModelVersion(ctx, model.ModelVersion{
		Name: "pg-fraud", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v3.Version)
}

func TestStageTransition(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.CreateRegisteredModel(ctx, model.RegisteredModel{Name: "pg-stage"}))

	for i := 0; i < 2; i++ {
		_, err := testStore.CreateModelVersion(ctx, model.ModelVersion{
			Name: "pg-stage", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
		})
		require.NoError(t, err)
	}

	_, err := testStore.TransitionModelVersionStage(ctx, "pg-stage", 1, model.StageProduction, false, 2000)
	require.NoError(t, err)
	_, err = testStore.TransitionModelVersionStage(ctx, "pg-stage", 2, model.StageProduction, true, 3000)
	require.NoError(t, err)

	v1, err := testStore.GetModelVersion(ctx, "pg-stage", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchived, v1.CurrentStage)

	latest, err := testStore.GetLatestVersions(ctx, "pg-stage", []model.Stage{model.StageProduction})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(2), latest[0].Version)
}

func TestRenameCascades(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.CreateRegisteredModel(ctx, model.RegisteredModel{Name: "pg-old"}))
	_, err := testStore.CreateModelVersion(ctx, model.ModelVersion{
		Name: "pg-old", CurrentStage: model.StageNone, Status: model.VersionStatusReady,
	})
	require.NoError(t, err)

	renamed, err := testStore.RenameRegisteredModel(ctx, "pg-old", "pg-new", 2000)
	require.NoError(t, err)
	assert.Equal(t, "pg-new", renamed.Name)

	v, err := testStore.GetModelVersion(ctx, "pg-new", 1)
	require.NoError(t, err)
	assert.Equal(t, "pg-new", v.Name)
}
