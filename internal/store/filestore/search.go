package filestore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
	"github.com/ashita-ai/kiroku/internal/store"
)

// SearchExperiments filters, orders, and pages the full experiment set
// in memory. The file backend holds no indexes, so every search is a
// scan; that is the tradeoff for a dependency-free local mode.
func (s *Store) SearchExperiments(ctx context.Context, req store.SearchRequest) ([]model.Experiment, string, error) {
	all, err := s.listExperiments(true)
	if err != nil {
		return nil, "", err
	}
	matched := make([]model.Experiment, 0, len(all))
	for _, e := range all {
		if !req.ViewType.Matches(e.LifecycleStage) {
			continue
		}
		if query.MatchExperiment(req.Filter, e) {
			matched = append(matched, e)
		}
	}
	store.SortExperiments(matched, req.OrderBy)
	return store.Paginate(matched, req.Fingerprint(), req.PageToken, req.MaxResults)
}

// SearchRuns scans the requested experiments, loading each run in full so
// metric clauses can see complete histories.
func (s *Store) SearchRuns(ctx context.Context, req store.SearchRequest) ([]model.Run, string, error) {
	var matched []model.Run
	for _, expID := range req.ExperimentIDs {
		expDir := s.experimentPath(expID)
		entries, err := os.ReadDir(expDir)
		if os.IsNotExist(err) {
			continue // trashed or never existed; the view excludes it either way
		}
		if err != nil {
			return nil, "", err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(expDir, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
				continue
			}
			var run model.Run
			err := withRLock(dir, func() error {
				var err error
				run, err = s.readRun(dir)
				return err
			})
			if err != nil {
				return nil, "", err
			}
			if !req.ViewType.Matches(run.Info.LifecycleStage) {
				continue
			}
			if query.MatchRun(req.Filter, run) {
				matched = append(matched, run)
			}
		}
	}
	store.SortRuns(matched, req.OrderBy)
	return store.Paginate(matched, req.Fingerprint(), req.PageToken, req.MaxResults)
}
