package grpcserver_test

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ashita-ai/kiroku/internal/grpcserver"
	"github.com/ashita-ai/kiroku/internal/ident"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
	"github.com/ashita-ai/kiroku/internal/store/filestore"
)

func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	logger := slog.New(slog.DiscardHandler)
	clock := &ident.Clock{}
	trackSvc := tracking.New(st, clock, "file:///tmp/artifacts", logger)
	require.NoError(t, trackSvc.EnsureDefaultExperiment(context.Background()))

	srv := grpcserver.New(grpcserver.Config{
		Tracking: trackSvc,
		Registry: registry.New(st, clock, logger),
		Logger:   logger,
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcserver.JSONCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestExperimentRoundTrip(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	var created model.CreateExperimentResponse
	err := conn.Invoke(ctx, "/kiroku.TrackingService/CreateExperiment",
		&model.CreateExperimentRequest{Name: "grpc-exp"}, &created)
	require.NoError(t, err)
	require.NotEmpty(t, created.ExperimentID)

	var got model.GetExperimentResponse
	err = conn.Invoke(ctx, "/kiroku.TrackingService/GetExperiment",
		&grpcserver.GetExperimentRequest{ExperimentID: created.ExperimentID}, &got)
	require.NoError(t, err)
	assert.Equal(t, "grpc-exp", got.Experiment.Name)
}

func TestErrorMapping(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	var got model.GetRunResponse
	err := conn.Invoke(ctx, "/kiroku.TrackingService/GetRun",
		&grpcserver.GetRunRequest{RunID: "00000000000000000000000000000000"}, &got)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), string(model.ErrCodeResourceDoesNotExist))

	var created model.CreateExperimentResponse
	err = conn.Invoke(ctx, "/kiroku.TrackingService/CreateExperiment",
		&model.CreateExperimentRequest{Name: ""}, &created)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRunLogging(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	var created model.CreateRunResponse
	err := conn.Invoke(ctx, "/kiroku.TrackingService/CreateRun",
		&model.CreateRunRequest{ExperimentID: "0"}, &created)
	require.NoError(t, err)
	runID := created.Run.Info.RunID

	var empty grpcserver.Empty
	err = conn.Invoke(ctx, "/kiroku.TrackingService/LogMetric",
		&model.LogMetricRequest{RunID: runID, Key: "loss", Value: 0.25, Timestamp: 10}, &empty)
	require.NoError(t, err)

	var hist model.GetMetricHistoryResponse
	err = conn.Invoke(ctx, "/kiroku.TrackingService/GetMetricHistory",
		&grpcserver.GetMetricHistoryRequest{RunID: runID, MetricKey: "loss"}, &hist)
	require.NoError(t, err)
	require.Len(t, hist.Metrics, 1)
	assert.EqualValues(t, 0.25, hist.Metrics[0].Value)
}

func TestRegistryOverGRPC(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	var created model.CreateRegisteredModelResponse
	err := conn.Invoke(ctx, "/kiroku.ModelRegistryService/CreateRegisteredModel",
		&model.CreateRegisteredModelRequest{Name: "grpc-model"}, &created)
	require.NoError(t, err)

	var v model.CreateModelVersionResponse
	err = conn.Invoke(ctx, "/kiroku.ModelRegistryService/CreateModelVersion",
		&model.CreateModelVersionRequest{Name: "grpc-model", Source: "s3://b/m"}, &v)
	require.NoError(t, err)
	assert.Equal(t, "1", v.ModelVersion.Version)

	var tr model.TransitionModelVersionStageResponse
	err = conn.Invoke(ctx, "/kiroku.ModelRegistryService/TransitionModelVersionStage",
		&model.TransitionModelVersionStageRequest{Name: "grpc-model", Version: "1", Stage: "Production"}, &tr)
	require.NoError(t, err)
	assert.Equal(t, string(model.StageProduction), tr.ModelVersion.CurrentStage)
}
