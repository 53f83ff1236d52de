package convert

import (
	"strings"

	"github.com/janekbaraniewski/counterstats/internal/report"
)

type mergeKey struct {
	entity     string
	metricType string
}

// Merger resolves duplicate (entity, metric type) rows seen while
// converting a set of legacy files. Rows of the primary metric keep the
// larger total; any other metric takes the last row seen. Output keeps the
// order in which keys were first seen.
type Merger struct {
	entityField string
	primary     string
	order       []mergeKey
	lines       map[mergeKey]report.Line
}

func NewMerger(entityField, primaryMetric string) *Merger {
	return &Merger{
		entityField: entityField,
		primary:     primaryMetric,
		lines:       map[mergeKey]report.Line{},
	}
}

// Add offers a line to the merger and reports whether it was kept.
func (m *Merger) Add(line report.Line) bool {
	entity := line.Fields.Get(m.entityField)
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(entity)), totalForAll) {
		return false
	}
	key := mergeKey{entity: entity, metricType: line.Fields.Get("metric_type")}
	existing, ok := m.lines[key]
	if !ok {
		m.order = append(m.order, key)
		m.lines[key] = line
		return true
	}
	if existing.Fields.Get("metric_type") == m.primary && line.Total() <= existing.Total() {
		return false
	}
	m.lines[key] = line
	return true
}

func (m *Merger) Lines() []report.Line {
	out := make([]report.Line, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.lines[key])
	}
	return out
}

func (m *Merger) Len() int { return len(m.order) }
