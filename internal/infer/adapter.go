// Package infer defines the attribute inference boundary.
//
// The adapter proposes task attributes with per-attribute confidence
// scores. It is side-effect-free: the engine decides what to apply, the
// adapter never writes. AI-excluded tasks MUST NOT reach this boundary -
// the exclusion gate runs first, and the conformance tests assert the
// adapter never saw an excluded task.
//
// Inference may never set a priority tier, override a hard constraint, or
// produce user-facing prose. Tiering is deterministic and belongs to the
// engine.
package infer

import (
	"context"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// TaskInput is the slice of a task the adapter is allowed to see.
type TaskInput struct {
	ID    string
	Title string
	Notes string

	// Existing attributes, so the adapter proposes only what is missing.
	Category             model.Category
	EstimatedDurationMin int
	EnergyIntensity      model.EnergyIntensity
	RiskScore            float64
	ImpactScore          float64
}

// CategoryProposal proposes a category with confidence.
type CategoryProposal struct {
	Value      model.Category
	Confidence float64
}

// TitleProposal proposes a generated title (smart capture).
type TitleProposal struct {
	Value      string
	Confidence float64
}

// DurationProposal proposes an estimated duration in minutes.
type DurationProposal struct {
	Minutes    int
	Confidence float64
}

// ScoreProposal proposes a [0,1] score (risk or impact).
type ScoreProposal struct {
	Value      float64
	Confidence float64
}

// EnergyProposal proposes an energy intensity.
type EnergyProposal struct {
	Value      model.EnergyIntensity
	Confidence float64
}

// DependenciesProposal proposes dependency task IDs.
type DependenciesProposal struct {
	TaskIDs    []string
	Confidence float64
}

// Proposals is the structured result of one inference call. Nil fields mean
// no proposal for that attribute.
type Proposals struct {
	Category     *CategoryProposal
	Title        *TitleProposal
	Duration     *DurationProposal
	Energy       *EnergyProposal
	Risk         *ScoreProposal
	Impact       *ScoreProposal
	Dependencies *DependenciesProposal
}

// Empty reports whether the adapter proposed nothing.
func (p Proposals) Empty() bool {
	return p.Category == nil && p.Title == nil && p.Duration == nil &&
		p.Energy == nil && p.Risk == nil && p.Impact == nil && p.Dependencies == nil
}

// Adapter proposes attributes for one task. Implementations must be
// side-effect-free and honor ctx cancellation; the engine bounds every call
// with a timeout and treats failure as non-fatal.
type Adapter interface {
	Propose(ctx context.Context, in TaskInput) (Proposals, error)
}
