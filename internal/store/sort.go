package store

import (
	"sort"
	"strconv"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/query"
)

// sortValue is one orderable key extracted from an entity. Missing values
// (e.g. a run without the ordered metric) sort after present ones in either
// direction.
type sortValue struct {
	str     string
	num     float64
	numeric bool
	missing bool
}

// less compares two sort values under one direction. Returns -1, 0, or 1.
func (a sortValue) compare(b sortValue, ascending bool) int {
	if a.missing != b.missing {
		// Missing always last.
		if a.missing {
			return 1
		}
		return -1
	}
	var c int
	if a.numeric {
		switch {
		case a.num < b.num:
			c = -1
		case a.num > b.num:
			c = 1
		}
	} else {
		switch {
		case a.str < b.str:
			c = -1
		case a.str > b.str:
			c = 1
		}
	}
	if !ascending {
		c = -c
	}
	return c
}

func runSortValue(r model.Run, ob query.OrderBy) sortValue {
	switch ob.Kind {
	case query.KindMetric:
		if m, ok := LatestMetric(r.Data.Metrics, ob.Key); ok {
			return sortValue{num: m.Value, numeric: true}
		}
		return sortValue{missing: true}
	case query.KindParam:
		for _, p := range r.Data.Params {
			if p.Key == ob.Key {
				return sortValue{str: p.Value}
			}
		}
		return sortValue{missing: true}
	case query.KindTag:
		for _, t := range r.Data.Tags {
			if t.Key == ob.Key {
				return sortValue{str: t.Value}
			}
		}
		return sortValue{missing: true}
	}
	switch ob.Key {
	case "start_time":
		return sortValue{num: float64(r.Info.StartTime), numeric: true}
	case "end_time":
		return sortValue{num: float64(r.Info.EndTime), numeric: true}
	case "run_id":
		return sortValue{str: r.Info.RunID}
	case "run_name":
		return sortValue{str: r.Info.RunName}
	case "status":
		return sortValue{str: string(r.Info.Status)}
	case "artifact_uri":
		return sortValue{str: r.Info.ArtifactURI}
	case "user_id":
		return sortValue{str: r.Info.UserID}
	}
	return sortValue{missing: true}
}

// SortRuns orders runs by the requested keys and then by the fixed
// tie-break: start_time DESC, run_id ASC. The tie-break makes any ordering
// total, so identical queries return identical sequences.
func SortRuns(runs []model.Run, order []query.OrderBy) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		for _, ob := range order {
			if c := runSortValue(a, ob).compare(runSortValue(b, ob), ob.Ascending); c != 0 {
				return c < 0
			}
		}
		if a.Info.StartTime != b.Info.StartTime {
			return a.Info.StartTime > b.Info.StartTime
		}
		return a.Info.RunID < b.Info.RunID
	})
}

// SortExperiments orders experiments with tie-break creation_time DESC,
// experiment_id ASC. The numeric parse keeps generated fixed-width IDs and
// the reserved "0" default ordered sensibly together.
func SortExperiments(exps []model.Experiment, order []query.OrderBy) {
	sort.SliceStable(exps, func(i, j int) bool {
		a, b := exps[i], exps[j]
		for _, ob := range order {
			av, bv := experimentSortValue(a, ob), experimentSortValue(b, ob)
			if c := av.compare(bv, ob.Ascending); c != 0 {
				return c < 0
			}
		}
		if a.CreationTime != b.CreationTime {
			return a.CreationTime > b.CreationTime
		}
		ai, aerr := strconv.ParseInt(a.ExperimentID, 10, 64)
		bi, berr := strconv.ParseInt(b.ExperimentID, 10, 64)
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return a.ExperimentID < b.ExperimentID
	})
}

func experimentSortValue(e model.Experiment, ob query.OrderBy) sortValue {
	switch ob.Key {
	case "creation_time":
		return sortValue{num: float64(e.CreationTime), numeric: true}
	case "last_update_time":
		return sortValue{num: float64(e.LastUpdateTime), numeric: true}
	case "experiment_id":
		return sortValue{str: e.ExperimentID}
	default:
		return sortValue{str: e.Name}
	}
}

// SortRegisteredModels orders models; order_by supports name and
// last_updated_timestamp, tie-break name ASC.
func SortRegisteredModels(models []model.RegisteredModel, order []query.OrderBy) {
	sort.SliceStable(models, func(i, j int) bool {
		a, b := models[i], models[j]
		for _, ob := range order {
			var av, bv sortValue
			if ob.Key == "last_updated_timestamp" {
				av = sortValue{num: float64(a.LastUpdatedTime), numeric: true}
				bv = sortValue{num: float64(b.LastUpdatedTime), numeric: true}
			} else {
				av, bv = sortValue{str: a.Name}, sortValue{str: b.Name}
			}
			if c := av.compare(bv, ob.Ascending); c != 0 {
				return c < 0
			}
		}
		return a.Name < b.Name
	})
}

// SortModelVersions orders versions; tie-break name ASC, version DESC.
func SortModelVersions(versions []model.ModelVersion, order []query.OrderBy) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		for _, ob := range order {
			var av, bv sortValue
			switch ob.Key {
			case "last_updated_timestamp":
				av = sortValue{num: float64(a.LastUpdatedTime), numeric: true}
				bv = sortValue{num: float64(b.LastUpdatedTime), numeric: true}
			case "version_number":
				av = sortValue{num: float64(a.Version), numeric: true}
				bv = sortValue{num: float64(b.Version), numeric: true}
			default:
				av, bv = sortValue{str: a.Name}, sortValue{str: b.Name}
			}
			if c := av.compare(bv, ob.Ascending); c != 0 {
				return c < 0
			}
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version > b.Version
	})
}

// LatestMetric returns the point that wins the (step DESC, timestamp DESC,
// insertion order DESC) ordering for key.
func LatestMetric(metrics []model.Metric, key string) (model.Metric, bool) {
	var best model.Metric
	found := false
	for _, m := range metrics {
		if m.Key != key {
			continue
		}
		if !found || m.IsLater(best) || (m.Step == best.Step && m.Timestamp == best.Timestamp) {
			best = m
			found = true
		}
	}
	return best, found
}
