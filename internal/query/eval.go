package query

import (
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// MatchRun evaluates every comparison against a run; clauses are ANDed.
// Metric clauses compare against the latest point for the key (greatest
// step, then greatest timestamp).
func MatchRun(cs []Comparison, run model.Run) bool {
	for _, c := range cs {
		if !matchRunClause(c, run) {
			return false
		}
	}
	return true
}

func matchRunClause(c Comparison, run model.Run) bool {
	switch c.Kind {
	case KindMetric:
		m, ok := latestMetric(run.Data.Metrics, c.Key)
		if !ok {
			return false
		}
		return compareNumber(m.Value, c.Op, c.Value.(float64))
	case KindParam:
		for _, p := range run.Data.Params {
			if p.Key == c.Key {
				return compareString(p.Value, c.Op, c.Value)
			}
		}
		return false
	case KindTag:
		for _, t := range run.Data.Tags {
			if t.Key == c.Key {
				return compareString(t.Value, c.Op, c.Value)
			}
		}
		return false
	default:
		return matchRunAttribute(c, run.Info)
	}
}

func matchRunAttribute(c Comparison, info model.RunInfo) bool {
	switch c.Key {
	case "start_time":
		return compareNumber(float64(info.StartTime), c.Op, c.Value.(float64))
	case "end_time":
		return compareNumber(float64(info.EndTime), c.Op, c.Value.(float64))
	}
	var v string
	switch c.Key {
	case "run_id":
		v = info.RunID
	case "run_name":
		v = info.RunName
	case "status":
		v = string(info.Status)
	case "artifact_uri":
		v = info.ArtifactURI
	case "user_id":
		v = info.UserID
	}
	return compareString(v, c.Op, c.Value)
}

// MatchExperiment evaluates comparisons against an experiment.
func MatchExperiment(cs []Comparison, e model.Experiment) bool {
	for _, c := range cs {
		var ok bool
		switch {
		case c.Kind == KindTag:
			ok = false
			for _, t := range e.Tags {
				if t.Key == c.Key {
					ok = compareString(t.Value, c.Op, c.Value)
					break
				}
			}
		case c.Key == "creation_time":
			ok = compareNumber(float64(e.CreationTime), c.Op, c.Value.(float64))
		case c.Key == "last_update_time":
			ok = compareNumber(float64(e.LastUpdateTime), c.Op, c.Value.(float64))
		default:
			ok = compareString(e.Name, c.Op, c.Value)
		}
		if !ok {
			return false
		}
	}
	return true
}

// MatchRegisteredModel evaluates comparisons against a registered model.
func MatchRegisteredModel(cs []Comparison, m model.RegisteredModel) bool {
	for _, c := range cs {
		var ok bool
		if c.Kind == KindTag {
			ok = false
			for _, t := range m.Tags {
				if t.Key == c.Key {
					ok = compareString(t.Value, c.Op, c.Value)
					break
				}
			}
		} else {
			ok = compareString(m.Name, c.Op, c.Value)
		}
		if !ok {
			return false
		}
	}
	return true
}

// MatchModelVersion evaluates comparisons against a model version.
func MatchModelVersion(cs []Comparison, v model.ModelVersion) bool {
	for _, c := range cs {
		var ok bool
		switch {
		case c.Kind == KindTag:
			ok = false
			for _, t := range v.Tags {
				if t.Key == c.Key {
					ok = compareString(t.Value, c.Op, c.Value)
					break
				}
			}
		case c.Key == "run_id":
			ok = compareString(v.RunID, c.Op, c.Value)
		case c.Key == "source_path":
			ok = compareString(v.Source, c.Op, c.Value)
		default:
			ok = compareString(v.Name, c.Op, c.Value)
		}
		if !ok {
			return false
		}
	}
	return true
}

func latestMetric(metrics []model.Metric, key string) (model.Metric, bool) {
	var best model.Metric
	found := false
	for _, m := range metrics {
		if m.Key != key {
			continue
		}
		// Later insertion wins ties, so >= on the ordering predicate.
		if !found || m.IsLater(best) || (m.Step == best.Step && m.Timestamp == best.Timestamp) {
			best = m
			found = true
		}
	}
	return best, found
}

func compareNumber(v float64, op Op, want float64) bool {
	switch op {
	case OpEq:
		return v == want
	case OpNe:
		return v != want
	case OpLt:
		return v < want
	case OpLe:
		return v <= want
	case OpGt:
		return v > want
	case OpGe:
		return v >= want
	}
	return false
}

func compareString(v string, op Op, want any) bool {
	switch op {
	case OpEq:
		return v == want.(string)
	case OpNe:
		return v != want.(string)
	case OpLike:
		return MatchLike(want.(string), v, true)
	case OpILike:
		return MatchLike(want.(string), v, false)
	case OpIn:
		for _, w := range want.([]string) {
			if v == w {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, w := range want.([]string) {
			if v == w {
				return false
			}
		}
		return true
	}
	return false
}

// MatchLike implements the DSL's LIKE semantics: % matches any run of
// characters, everything else is literal. ILIKE passes fold=false.
func MatchLike(pattern, value string, caseSensitive bool) bool {
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
		value = strings.ToLower(value)
	}
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return value == pattern
	}
	// Anchored prefix.
	if parts[0] != "" {
		if !strings.HasPrefix(value, parts[0]) {
			return false
		}
		value = value[len(parts[0]):]
	}
	// Anchored suffix.
	last := parts[len(parts)-1]
	if last != "" {
		if !strings.HasSuffix(value, last) {
			return false
		}
		value = value[:len(value)-len(last)]
	}
	// Interior segments in order.
	for _, seg := range parts[1 : len(parts)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(value, seg)
		if idx < 0 {
			return false
		}
		value = value[idx+len(seg):]
	}
	return true
}
