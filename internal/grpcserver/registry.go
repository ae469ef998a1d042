package grpcserver

import (
	"context"
	"strconv"

	"google.golang.org/grpc"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/registry"
)

// RegistryServiceName is the full gRPC service name for model registry
// operations.
const RegistryServiceName = "kiroku.ModelRegistryService"

type GetRegisteredModelRequest struct {
	Name string `json:"name"`
}

type GetModelVersionRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type GetDownloadURIRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// parseWireVersion mirrors the REST transport's version parsing.
func parseWireVersion(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, model.Errorf(model.ErrCodeInvalidParameterValue,
			"invalid model version %q", raw)
	}
	return v, nil
}

func registryServiceDesc(svc *registry.Service) *grpc.ServiceDesc {
	const name = RegistryServiceName
	return &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Metadata:    "kiroku/registry",
		Methods: []grpc.MethodDesc{
			unary(name, "CreateRegisteredModel", func(ctx context.Context, req *model.CreateRegisteredModelRequest) (*model.CreateRegisteredModelResponse, error) {
				m, err := svc.CreateModel(ctx, req.Name, req.Description, req.Tags)
				if err != nil {
					return nil, err
				}
				return &model.CreateRegisteredModelResponse{RegisteredModel: m.ToDTO()}, nil
			}),
			unary(name, "GetRegisteredModel", func(ctx context.Context, req *GetRegisteredModelRequest) (*model.GetRegisteredModelResponse, error) {
				m, err := svc.GetModel(ctx, req.Name)
				if err != nil {
					return nil, err
				}
				return &model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()}, nil
			}),
			unary(name, "RenameRegisteredModel", func(ctx context.Context, req *model.RenameRegisteredModelRequest) (*model.GetRegisteredModelResponse, error) {
				m, err := svc.RenameModel(ctx, req.Name, req.NewName)
				if err != nil {
					return nil, err
				}
				return &model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()}, nil
			}),
			unary(name, "UpdateRegisteredModel", func(ctx context.Context, req *model.UpdateRegisteredModelRequest) (*model.GetRegisteredModelResponse, error) {
				m, err := svc.UpdateModel(ctx, req.Name, req.Description)
				if err != nil {
					return nil, err
				}
				return &model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()}, nil
			}),
			unary(name, "DeleteRegisteredModel", func(ctx context.Context, req *model.DeleteRegisteredModelRequest) (*Empty, error) {
				if err := svc.DeleteModel(ctx, req.Name); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "SearchRegisteredModels", func(ctx context.Context, req *model.SearchRegisteredModelsRequest) (*model.SearchRegisteredModelsResponse, error) {
				models, next, err := svc.SearchModels(ctx,
					req.Filter, req.OrderBy, req.MaxResults, req.PageToken)
				if err != nil {
					return nil, err
				}
				resp := &model.SearchRegisteredModelsResponse{NextPageToken: next}
				for _, m := range models {
					resp.RegisteredModels = append(resp.RegisteredModels, m.ToDTO())
				}
				return resp, nil
			}),
			unary(name, "GetLatestVersions", func(ctx context.Context, req *model.GetLatestVersionsRequest) (*model.GetLatestVersionsResponse, error) {
				versions, err := svc.LatestVersions(ctx, req.Name, req.Stages)
				if err != nil {
					return nil, err
				}
				resp := &model.GetLatestVersionsResponse{}
				for _, v := range versions {
					resp.ModelVersions = append(resp.ModelVersions, v.ToDTO())
				}
				return resp, nil
			}),
			unary(name, "SetRegisteredModelTag", func(ctx context.Context, req *model.SetRegisteredModelTagRequest) (*Empty, error) {
				err := svc.SetModelTag(ctx, req.Name, model.ModelTag{Key: req.Key, Value: req.Value})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "DeleteRegisteredModelTag", func(ctx context.Context, req *model.DeleteRegisteredModelTagRequest) (*Empty, error) {
				if err := svc.DeleteModelTag(ctx, req.Name, req.Key); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "CreateModelVersion", func(ctx context.Context, req *model.CreateModelVersionRequest) (*model.CreateModelVersionResponse, error) {
				v, err := svc.CreateVersion(ctx,
					req.Name, req.Source, req.RunID, req.Description, req.Tags)
				if err != nil {
					return nil, err
				}
				return &model.CreateModelVersionResponse{ModelVersion: v.ToDTO()}, nil
			}),
			unary(name, "GetModelVersion", func(ctx context.Context, req *GetModelVersionRequest) (*model.GetModelVersionResponse, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				v, err := svc.GetVersion(ctx, req.Name, version)
				if err != nil {
					return nil, err
				}
				return &model.GetModelVersionResponse{ModelVersion: v.ToDTO()}, nil
			}),
			unary(name, "UpdateModelVersion", func(ctx context.Context, req *model.UpdateModelVersionRequest) (*model.GetModelVersionResponse, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				v, err := svc.UpdateVersion(ctx, req.Name, version, req.Description)
				if err != nil {
					return nil, err
				}
				return &model.GetModelVersionResponse{ModelVersion: v.ToDTO()}, nil
			}),
			unary(name, "DeleteModelVersion", func(ctx context.Context, req *model.DeleteModelVersionRequest) (*Empty, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				if err := svc.DeleteVersion(ctx, req.Name, version); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "TransitionModelVersionStage", func(ctx context.Context, req *model.TransitionModelVersionStageRequest) (*model.TransitionModelVersionStageResponse, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				v, err := svc.TransitionStage(ctx,
					req.Name, version, req.Stage, req.ArchiveExistingVersions)
				if err != nil {
					return nil, err
				}
				return &model.TransitionModelVersionStageResponse{ModelVersion: v.ToDTO()}, nil
			}),
			unary(name, "SearchModelVersions", func(ctx context.Context, req *model.SearchModelVersionsRequest) (*model.SearchModelVersionsResponse, error) {
				versions, next, err := svc.SearchVersions(ctx,
					req.Filter, req.OrderBy, req.MaxResults, req.PageToken)
				if err != nil {
					return nil, err
				}
				resp := &model.SearchModelVersionsResponse{NextPageToken: next}
				for _, v := range versions {
					resp.ModelVersions = append(resp.ModelVersions, v.ToDTO())
				}
				return resp, nil
			}),
			unary(name, "SetModelVersionTag", func(ctx context.Context, req *model.SetModelVersionTagRequest) (*Empty, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				err = svc.SetVersionTag(ctx, req.Name, version,
					model.ModelTag{Key: req.Key, Value: req.Value})
				if err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "DeleteModelVersionTag", func(ctx context.Context, req *model.DeleteModelVersionTagRequest) (*Empty, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				if err := svc.DeleteVersionTag(ctx, req.Name, version, req.Key); err != nil {
					return nil, err
				}
				return &Empty{}, nil
			}),
			unary(name, "GetDownloadURI", func(ctx context.Context, req *GetDownloadURIRequest) (*model.GetDownloadURIResponse, error) {
				version, err := parseWireVersion(req.Version)
				if err != nil {
					return nil, err
				}
				uri, err := svc.DownloadURI(ctx, req.Name, version)
				if err != nil {
					return nil, err
				}
				return &model.GetDownloadURIResponse{ArtifactURI: uri}, nil
			}),
		},
	}
}
