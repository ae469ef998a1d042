package kiroku

import (
	"context"

	"github.com/ashita-ai/kiroku/internal/model"
)

// trackingHookAdapter bridges a public EventHook onto the tracking
// service's hook interface, converting internal entities to their
// curated public views.
type trackingHookAdapter struct {
	hook EventHook
}

func (a trackingHookAdapter) OnRunCreated(ctx context.Context, run model.Run) error {
	return a.hook.OnRunCreated(ctx, publicRun(run.Info, run.Data.Tags))
}

func (a trackingHookAdapter) OnRunFinished(ctx context.Context, info model.RunInfo) error {
	return a.hook.OnRunFinished(ctx, publicRun(info, nil))
}

// registryHookAdapter bridges a public EventHook onto the registry
// service's hook interface.
type registryHookAdapter struct {
	hook EventHook
}

func (a registryHookAdapter) OnStageTransition(ctx context.Context, v model.ModelVersion) error {
	return a.hook.OnModelVersionTransitioned(ctx, ModelVersion{
		Name:    v.Name,
		Version: v.Version,
		Stage:   string(v.CurrentStage),
		Source:  v.Source,
		RunID:   v.RunID,
		Status:  string(v.Status),
	})
}

func publicRun(info model.RunInfo, tags []model.RunTag) Run {
	r := Run{
		RunID:        info.RunID,
		RunName:      info.RunName,
		ExperimentID: info.ExperimentID,
		UserID:       info.UserID,
		Status:       string(info.Status),
		StartTime:    info.StartTime,
		EndTime:      info.EndTime,
		ArtifactURI:  info.ArtifactURI,
	}
	if len(tags) > 0 {
		r.Tags = make(map[string]string, len(tags))
		for _, t := range tags {
			r.Tags[t.Key] = t.Value
		}
	}
	return r
}
