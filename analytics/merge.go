package analytics

import (
	"sort"

	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/types"
)

// QualityMetric is one row of the quality section: the stored aggregate
// enriched with the workspace's current definition of the metric.
type QualityMetric struct {
	MetricName      string               `json:"metricName"`
	MetricType      string               `json:"metricType"`
	Category        types.MetricCategory `json:"category,omitempty"`
	EvaluationCount int64                `json:"evaluationCount"`
	PassedCount     int64                `json:"passedCount"`
	PassRate        float64              `json:"passRate"`
	AvgScore        *float64             `json:"avgScore,omitempty"`
	// Active is false for metrics that have results but no longer have an
	// active definition.
	Active bool `json:"active"`
}

// mergeQuality joins stored aggregates with active definitions by metric
// name. A definition with no results yet appears with zero counts; results
// whose definition was deleted or renamed keep their numbers unenriched.
// The join key is the name, so renaming a definition strands its old
// results under the old name rather than merging histories.
func mergeQuality(rows []store.QualityRow, defs []types.MetricDefinition, typeFilter []types.MetricType) []QualityMetric {
	wanted := func(t types.MetricType) bool {
		if len(typeFilter) == 0 {
			return true
		}
		for _, ft := range typeFilter {
			if ft == t {
				return true
			}
		}
		return false
	}

	byName := make(map[string]*QualityMetric, len(rows)+len(defs))
	order := make([]string, 0, len(rows)+len(defs))

	for _, row := range rows {
		if !wanted(types.MetricType(row.MetricType)) {
			continue
		}
		m := &QualityMetric{
			MetricName:      row.MetricName,
			MetricType:      row.MetricType,
			EvaluationCount: row.EvaluationCount,
			PassedCount:     row.PassedCount,
			AvgScore:        row.AvgScore,
		}
		if row.EvaluationCount > 0 {
			m.PassRate = float64(row.PassedCount) / float64(row.EvaluationCount)
		}
		byName[row.MetricName] = m
		order = append(order, row.MetricName)
	}

	for i := range defs {
		def := &defs[i]
		if def.Category == types.MetricCategoryFeedback || !wanted(def.MetricType) {
			continue
		}
		if m, ok := byName[def.Name]; ok {
			m.Category = def.Category
			m.Active = true
			continue
		}
		byName[def.Name] = &QualityMetric{
			MetricName: def.Name,
			MetricType: string(def.MetricType),
			Category:   def.Category,
			Active:     true,
		}
		order = append(order, def.Name)
	}

	sort.Strings(order)
	out := make([]QualityMetric, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}
