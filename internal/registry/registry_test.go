package registry_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/store/filestore"
)

func newTestService(t *testing.T) *registry.Service {
	t.Helper()
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return registry.New(st, &ident.Clock{}, slog.New(slog.DiscardHandler))
}

func TestCreateModelRejectsDuplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	m, err := svc.CreateModel(ctx, "churn", "predicts churn", nil)
	require.NoError(t, err)
	assert.Equal(t, "churn", m.Name)
	assert.NotZero(t, m.CreationTime)

	_, err = svc.CreateModel(ctx, "churn", "", nil)
	assert.Equal(t, model.ErrCodeResourceAlreadyExists, model.CodeOf(err))
}

func TestVersionNumbersAreSequential(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)

	v1, err := svc.CreateVersion(ctx, "churn", "s3://bucket/m/1", "", "", nil)
	require.NoError(t, err)
	v2, err := svc.CreateVersion(ctx, "churn", "s3://bucket/m/2", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), v1.Version)
	assert.Equal(t, int64(2), v2.Version)
	assert.Equal(t, model.StageNone, v1.CurrentStage)
	assert.Equal(t, model.VersionStatusReady, v1.Status)

	_, err = svc.CreateVersion(ctx, "churn", "", "", "", nil)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestTransitionStageArchivesExisting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.CreateVersion(ctx, "churn", "s3://bucket/m", "", "", nil)
		require.NoError(t, err)
	}

	v1, err := svc.TransitionStage(ctx, "churn", 1, "production", false)
	require.NoError(t, err)
	assert.Equal(t, model.StageProduction, v1.CurrentStage)

	// Promoting v2 with archive_existing_versions demotes v1.
	v2, err := svc.TransitionStage(ctx, "churn", 2, "Production", true)
	require.NoError(t, err)
	assert.Equal(t, model.StageProduction, v2.CurrentStage)

	v1, err = svc.GetVersion(ctx, "churn", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchived, v1.CurrentStage)

	// Re-transitioning to the current stage never archives the version
	// itself.
	v2, err = svc.TransitionStage(ctx, "churn", 2, "Production", true)
	require.NoError(t, err)
	assert.Equal(t, model.StageProduction, v2.CurrentStage)

	// archive_existing_versions only applies to Staging and Production.
	_, err = svc.TransitionStage(ctx, "churn", 2, "None", true)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestLatestVersionsPerStage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.CreateVersion(ctx, "churn", "s3://bucket/m", "", "", nil)
		require.NoError(t, err)
	}
	_, err = svc.TransitionStage(ctx, "churn", 1, "Staging", false)
	require.NoError(t, err)

	latest, err := svc.LatestVersions(ctx, "churn", []string{"None", "Staging"})
	require.NoError(t, err)
	byStage := map[model.Stage]int64{}
	for _, v := range latest {
		byStage[v.CurrentStage] = v.Version
	}
	assert.Equal(t, int64(3), byStage[model.StageNone])
	assert.Equal(t, int64(1), byStage[model.StageStaging])
}

func TestRenameModelFreesOldName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)

	renamed, err := svc.RenameModel(ctx, "churn", "churn-v2")
	require.NoError(t, err)
	assert.Equal(t, "churn-v2", renamed.Name)

	_, err = svc.GetModel(ctx, "churn")
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))

	_, err = svc.CreateModel(ctx, "churn", "", nil)
	assert.NoError(t, err)
}

func TestDownloadURIReturnsSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)
	_, err = svc.CreateVersion(ctx, "churn", "s3://bucket/models/churn/1", "", "", nil)
	require.NoError(t, err)

	uri, err := svc.DownloadURI(ctx, "churn", 1)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/models/churn/1", uri)
}

type captureHook struct {
	transitions chan model.ModelVersion
}

func (h *captureHook) OnStageTransition(_ context.Context, v model.ModelVersion) error {
	h.transitions <- v
	return nil
}

func TestStageTransitionHook(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hook := &captureHook{transitions: make(chan model.ModelVersion, 1)}
	svc.AddHook(hook)

	_, err := svc.CreateModel(ctx, "churn", "", nil)
	require.NoError(t, err)
	_, err = svc.CreateVersion(ctx, "churn", "s3://bucket/m", "", "", nil)
	require.NoError(t, err)

	_, err = svc.TransitionStage(ctx, "churn", 1, "Staging", false)
	require.NoError(t, err)

	select {
	case got := <-hook.transitions:
		assert.Equal(t, "churn", got.Name)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, model.StageStaging, got.CurrentStage)
	case <-time.After(time.Second):
		t.Fatal("stage-transition hook not invoked")
	}
}

func TestSearchEnforcesMaxResultsCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.SetMaxResultsCap(50)

	_, err := svc.CreateModel(ctx, "capped", "", nil)
	require.NoError(t, err)

	_, _, err = svc.SearchModels(ctx, "", nil, 51, "")
	assert.Equal(t, model.ErrCodeRequestLimitExceeded, model.CodeOf(err))

	_, _, err = svc.SearchVersions(ctx, "", nil, 51, "")
	assert.Equal(t, model.ErrCodeRequestLimitExceeded, model.CodeOf(err))

	_, _, err = svc.SearchModels(ctx, "", nil, -1, "")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	models, _, err := svc.SearchModels(ctx, "", nil, 50, "")
	require.NoError(t, err)
	assert.Len(t, models, 1)
}

func TestCreateVersionCompletesRegistration(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, "ranker", "", nil)
	require.NoError(t, err)

	v, err := svc.CreateVersion(ctx, "ranker", "s3://models/ranker/1", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusReady, v.Status)

	// The stored version went through PENDING_REGISTRATION and was
	// promoted, so a fresh read agrees with the returned value.
	got, err := svc.GetVersion(ctx, "ranker", v.Version)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStatusReady, got.Status)
	assert.Empty(t, got.StatusMessage)
}
