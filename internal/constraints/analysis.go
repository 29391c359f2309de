// Package constraints validates proposed schedule mutations against layered
// scheduling rules and scores how rigid each slot is.
package constraints

import (
	"github.com/samber/lo"
)

type Layer string

const (
	LayerTemporal     Layer = "temporal"
	LayerTravel       Layer = "travel"
	LayerClustering   Layer = "clustering"
	LayerDependencies Layer = "dependencies"
	LayerPacing       Layer = "pacing"
	LayerFragility    Layer = "fragility"
	LayerCrossDay     Layer = "cross_day"
)

// Layers lists every constraint layer in evaluation order.
var Layers = []Layer{LayerTemporal, LayerTravel, LayerClustering, LayerDependencies, LayerPacing, LayerFragility, LayerCrossDay}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Violation struct {
	Layer    Layer    `json:"layer"`
	Severity Severity `json:"severity"`
	SlotID   string   `json:"slot_id,omitempty"`
	OtherID  string   `json:"other_id,omitempty"`
	Message  string   `json:"message"`
}

// Adjustment is a change the engine is willing to make silently.
type Adjustment struct {
	SlotID string `json:"slot_id"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

// Analysis is the verdict on one proposed mutation.
type Analysis struct {
	Feasible    bool         `json:"feasible"`
	Violations  []Violation  `json:"violations,omitempty"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
	Rigidity    float64      `json:"rigidity"`
}

func (a Analysis) HasErrors() bool {
	return lo.SomeBy(a.Violations, func(v Violation) bool { return v.Severity == SeverityError })
}

func (a Analysis) Errors() []Violation { return a.bySeverity(SeverityError) }

func (a Analysis) Warnings() []Violation { return a.bySeverity(SeverityWarning) }

func (a Analysis) bySeverity(s Severity) []Violation {
	return lo.Filter(a.Violations, func(v Violation, _ int) bool { return v.Severity == s })
}

// InLayer returns the violations reported by one layer.
func (a Analysis) InLayer(l Layer) []Violation {
	return lo.Filter(a.Violations, func(v Violation, _ int) bool { return v.Layer == l })
}

// Overridden downgrades every error to a warning, for callers that force a
// mutation through and still want to surface what it breaks.
func (a Analysis) Overridden() Analysis {
	out := a
	out.Violations = lo.Map(a.Violations, func(v Violation, _ int) Violation {
		if v.Severity == SeverityError {
			v.Severity = SeverityWarning
		}
		return v
	})
	out.Feasible = true
	return out
}

func newAnalysis(violations []Violation, adjustments []Adjustment) Analysis {
	a := Analysis{Violations: violations, Adjustments: adjustments}
	a.Feasible = !a.HasErrors()
	return a
}
