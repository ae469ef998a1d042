package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
)

// TrackingServiceName is the full gRPC service name for tracking
// operations.
const TrackingServiceName = "kiroku.TrackingService"

// Empty is the response for operations with no payload.
type Empty struct{}

// Read-style requests that the REST API takes as query parameters.
type GetExperimentRequest struct {
	ExperimentID string `json:"experiment_id"`
}

type GetExperimentByNameRequest struct {
	ExperimentName string `json:"experiment_name"`
}

type GetRunRequest struct {
	RunID string `json:"run_id"`
}

type GetMetricHistoryRequest struct {
	RunID      string `json:"run_id"`
	MetricKey  string `json:"metric_key"`
	MaxResults int64  `json:"max_results,omitempty"`
	PageToken  string `json:"page_token,omitempty"`
}

func trackingServiceDesc(svc *tracking.Service) *grpc.ServiceDesc {
	const name = TrackingServiceName
	return &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Metadata:    "kiroku/tracking",
		Methods: []grpc.MethodDesc{
			unary(name, "CreateExperiment", func(ctx context.Context, req *model.CreateExperimentRequest) (*model.CreateExperimentResponse, error) {
				exp, err := svc.CreateExperiment(ctx, req.Name, req.ArtifactLocation, req.Tags)
				if err != nil {
					return nil, err
				}
				return &model.CreateExperimentResponse{ExperimentID: exp.ExperimentID}, nil
			}),
			unary(name, "GetExperiment", func(ctx context.Context, req *GetExperimentRequest) (*model.GetExperimentResponse, error) {
				exp, err := svc.GetExperiment(ctx, req.ExperimentID)
				if err != nil {
					return nil, err
				}
				return &model.GetExperimentResponse{Experiment: exp.ToDTO()}, nil
			}),
			unary(name, "GetExperimentByName", func(ctx context.Context, req *GetExperimentByNameRequest) (*model.GetExperimentResponse, error) {
				exp, err := svc.GetExperimentByName(ctx, req.ExperimentName)
				if err != nil {
					return nil, err
				}
				return &model.GetExperimentResponse{Experiment: exp.ToDTO()}, nil
			}),
			unary(name, "UpdateExperiment", func(ctx context.Context, req *model.UpdateExperimentRequest) (*Empty, error) {
				if err := svc.UpdateExperiment(ctx, req.ExperimentID, req.NewName); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "DeleteExperiment", func(ctx context.Context, req *model.DeleteExperimentRequest) (*Empty, error) {
				if err := svc.DeleteExperiment(ctx, req.ExperimentID); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "RestoreExperiment", func(ctx context.Context, req *model.RestoreExperimentRequest) (*Empty, error) {
				if err := svc.RestoreExperiment(ctx, req.ExperimentID); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "SetExperimentTag", func(ctx context.Context, req *model.SetExperimentTagRequest) (*Empty, error) {
				err := svc.SetExperimentTag(ctx, req.ExperimentID,
					model.ExperimentTag{Key: req.Key, Value: req.Value})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "SearchExperiments", func(ctx context.Context, req *model.SearchExperimentsRequest) (*model.SearchExperimentsResponse, error) {
				exps, next, err := svc.SearchExperiments(ctx,
					req.Filter, req.ViewType, req.OrderBy, req.MaxResults, req.PageToken)
				if err != nil {
					return nil, err
				}
				resp := &model.SearchExperimentsResponse{NextPageToken: next}
				for _, e := range exps {
					resp.Experiments = append(resp.Experiments, e.ToDTO())
				}
				return resp, nil
			}),
			unary(name, "CreateRun", func(ctx context.Context, req *model.CreateRunRequest) (*model.CreateRunResponse, error) {
				run, err := svc.CreateRun(ctx,
					req.ExperimentID, req.UserID, req.RunName, req.StartTime, req.Tags)
				if err != nil {
					return nil, err
				}
				return &model.CreateRunResponse{Run: run.ToDTO()}, nil
			}),
			unary(name, "GetRun", func(ctx context.Context, req *GetRunRequest) (*model.GetRunResponse, error) {
				run, err := svc.GetRun(ctx, req.RunID)
				if err != nil {
					return nil, err
				}
				return &model.GetRunResponse{Run: run.ToDTO()}, nil
			}),
			unary(name, "UpdateRun", func(ctx context.Context, req *model.UpdateRunRequest) (*model.UpdateRunResponse, error) {
				info, err := svc.UpdateRun(ctx, req.RunID, req.Status, req.EndTime, req.RunName)
				if err != nil {
					return nil, err
				}
				return &model.UpdateRunResponse{
					RunInfo: model.Run{Info: info}.ToDTO().Info,
				}, nil
			}),
			unary(name, "DeleteRun", func(ctx context.Context, req *model.DeleteRunRequest) (*Empty, error) {
				if err := svc.DeleteRun(ctx, req.RunID); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "RestoreRun", func(ctx context.Context, req *model.RestoreRunRequest) (*Empty, error) {
				if err := svc.RestoreRun(ctx, req.RunID); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "LogMetric", func(ctx context.Context, req *model.LogMetricRequest) (*Empty, error) {
				err := svc.LogMetric(ctx, req.RunID, model.Metric{
					Key:       req.Key,
					Value:     float64(req.Value),
					Timestamp: req.Timestamp,
					Step:      req.Step,
				})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "LogParam", func(ctx context.Context, req *model.LogParamRequest) (*Empty, error) {
				err := svc.LogParam(ctx, req.RunID, model.Param{Key: req.Key, Value: req.Value})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "SetTag", func(ctx context.Context, req *model.SetTagRequest) (*Empty, error) {
				err := svc.SetTag(ctx, req.RunID, model.RunTag{Key: req.Key, Value: req.Value})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "DeleteTag", func(ctx context.Context, req *model.DeleteTagRequest) (*Empty, error) {
				if err := svc.DeleteTag(ctx, req.RunID, req.Key); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "LogBatch", func(ctx context.Context, req *model.LogBatchRequest) (*Empty, error) {
				metrics := make([]model.Metric, 0, len(req.Metrics))
				for _, m := range req.Metrics {
					metrics = append(metrics, m.ToMetric())
				}
				if err := svc.LogBatch(ctx, req.RunID, metrics, req.Params, req.Tags); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "LogInputs", func(ctx context.Context, req *model.LogInputsRequest) (*Empty, error) {
				if err := svc.LogInputs(ctx, req.RunID, req.Datasets); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "SearchRuns", func(ctx context.Context, req *model.SearchRunsRequest) (*model.SearchRunsResponse, error) {
				runs, next, err := svc.SearchRuns(ctx,
					req.ExperimentIDs, req.Filter, req.RunViewType, req.OrderBy, req.MaxResults, req.PageToken)
				if err != nil {
					return nil, err
				}
				resp := &model.SearchRunsResponse{NextPageToken: next}
				for _, run := range runs {
					resp.Runs = append(resp.Runs, run.ToDTO())
				}
				return resp, nil
			}),
			unary(name, "GetMetricHistory", func(ctx context.Context, req *GetMetricHistoryRequest) (*model.GetMetricHistoryResponse, error) {
				metrics, next, err := svc.GetMetricHistory(ctx,
					req.RunID, req.MetricKey, req.MaxResults, req.PageToken)
				if err != nil {
					return nil, err
				}
				resp := &model.GetMetricHistoryResponse{NextPageToken: next}
				for _, m := range metrics {
					resp.Metrics = append(resp.Metrics, m.ToDTO())
				}
				return resp, nil
			}),
		},
	}
}
