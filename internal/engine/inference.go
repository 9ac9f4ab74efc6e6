package engine

import (
	"math"

	"github.com/qzwhatnext/qzwhatnext/internal/infer"
	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// needsInference reports whether a task is missing inferable attributes.
// A task with a user-set category and a confident duration has nothing to
// ask the adapter about.
func needsInference(t *model.Task, confidenceThreshold float64) bool {
	if t.Category == model.CategoryUnknown {
		return true
	}
	if t.DurationConfidence < confidenceThreshold {
		return true
	}
	return false
}

// roundDuration rounds minutes to the nearest increment and clamps to the
// legal range.
func roundDuration(minutes int) int {
	rounded := int(math.Round(float64(minutes)/model.DurationRoundingMin)) * model.DurationRoundingMin
	if rounded < model.MinDurationMin {
		return model.MinDurationMin
	}
	if rounded > model.MaxDurationMin {
		return model.MaxDurationMin
	}
	return rounded
}

// applyProposals merges accepted proposals into the task and returns the
// audit detail payload recording exactly what was proposed, what was
// applied and what was rejected - with confidences - so rebuilds are
// replayable against recorded inference output.
//
// Acceptance policy: confidence at or above the threshold, value sane.
// Proposals never touch tier, never relax a hard constraint.
func applyProposals(t *model.Task, p infer.Proposals, threshold float64) (changed bool, details map[string]any) {
	applied := map[string]any{}
	rejected := map[string]any{}

	accept := func(confidence float64) bool { return confidence >= threshold }

	if p.Category != nil {
		if accept(p.Category.Confidence) && model.ValidCategory(p.Category.Value) {
			t.Category = p.Category.Value
			applied["category"] = map[string]any{"value": string(p.Category.Value), "confidence": p.Category.Confidence}
		} else {
			rejected["category"] = map[string]any{"value": string(p.Category.Value), "confidence": p.Category.Confidence}
		}
	}
	if p.Title != nil {
		// Generated titles only: a user-typed title is never overwritten.
		if accept(p.Title.Confidence) && p.Title.Value != "" && t.SourceType == "capture" {
			t.Title = p.Title.Value
			applied["title"] = map[string]any{"value": p.Title.Value, "confidence": p.Title.Confidence}
		} else {
			rejected["title"] = map[string]any{"value": p.Title.Value, "confidence": p.Title.Confidence}
		}
	}
	if p.Duration != nil {
		if accept(p.Duration.Confidence) && p.Duration.Minutes > 0 {
			t.EstimatedDurationMin = roundDuration(p.Duration.Minutes)
			t.DurationConfidence = p.Duration.Confidence
			applied["estimated_duration_min"] = map[string]any{
				"value": t.EstimatedDurationMin, "proposed": p.Duration.Minutes, "confidence": p.Duration.Confidence,
			}
		} else {
			rejected["estimated_duration_min"] = map[string]any{"value": p.Duration.Minutes, "confidence": p.Duration.Confidence}
		}
	}
	if p.Energy != nil {
		if accept(p.Energy.Confidence) {
			t.EnergyIntensity = p.Energy.Value
			applied["energy_intensity"] = map[string]any{"value": string(p.Energy.Value), "confidence": p.Energy.Confidence}
		} else {
			rejected["energy_intensity"] = map[string]any{"value": string(p.Energy.Value), "confidence": p.Energy.Confidence}
		}
	}
	if p.Risk != nil {
		if accept(p.Risk.Confidence) && p.Risk.Value >= 0 && p.Risk.Value <= 1 {
			t.RiskScore = p.Risk.Value
			applied["risk_score"] = map[string]any{"value": p.Risk.Value, "confidence": p.Risk.Confidence}
		} else {
			rejected["risk_score"] = map[string]any{"value": p.Risk.Value, "confidence": p.Risk.Confidence}
		}
	}
	if p.Impact != nil {
		if accept(p.Impact.Confidence) && p.Impact.Value >= 0 && p.Impact.Value <= 1 {
			t.ImpactScore = p.Impact.Value
			applied["impact_score"] = map[string]any{"value": p.Impact.Value, "confidence": p.Impact.Confidence}
		} else {
			rejected["impact_score"] = map[string]any{"value": p.Impact.Value, "confidence": p.Impact.Confidence}
		}
	}
	if p.Dependencies != nil {
		if accept(p.Dependencies.Confidence) && len(p.Dependencies.TaskIDs) > 0 {
			t.Dependencies = append([]string(nil), p.Dependencies.TaskIDs...)
			applied["dependencies"] = map[string]any{"value": p.Dependencies.TaskIDs, "confidence": p.Dependencies.Confidence}
		} else {
			rejected["dependencies"] = map[string]any{"value": p.Dependencies.TaskIDs, "confidence": p.Dependencies.Confidence}
		}
	}

	details = map[string]any{}
	if len(applied) > 0 {
		details["applied"] = applied
	}
	if len(rejected) > 0 {
		details["rejected"] = rejected
	}
	return len(applied) > 0, details
}
