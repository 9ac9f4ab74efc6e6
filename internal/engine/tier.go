package engine

import (
	"time"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// Fixed priority tier hierarchy, highest (1) to lowest (9). Every task has
// exactly one governing tier at any moment; the first matching trigger
// wins.
const (
	TierDeadlineProximity = 1
	TierRisk              = 2
	TierImpact            = 3
	TierChild             = 4
	TierHealth            = 5
	TierWork              = 6
	TierStress            = 7
	TierFamily            = 8
	TierHome              = 9
)

// riskTierThreshold is the risk score at which a task reaches the
// negative-consequence tier.
const riskTierThreshold = 0.7

// deadlineProximity is the window before a deadline that forces tier 1.
const deadlineProximity = 24 * time.Hour

// AssignTier maps a task deterministically to its governing tier, with the
// structured reason token explaining the match. impactThreshold is
// configurable (the impact trigger is the softest of the nine);
// unlocksOther is true when some other active task depends on this one.
//
// Inference never calls this - tiering is deterministic by construction.
func AssignTier(t *model.Task, now time.Time, impactThreshold float64, unlocksOther bool) (tier int, reason string) {
	if !t.Deadline.IsZero() && t.Deadline.Sub(now) <= deadlineProximity {
		return TierDeadlineProximity, "deadline_within_24h"
	}
	if t.RiskScore >= riskTierThreshold {
		return TierRisk, "high_risk"
	}
	if t.ImpactScore >= impactThreshold {
		return TierImpact, "high_impact"
	}
	if unlocksOther {
		return TierImpact, "unlocks_dependents"
	}
	switch t.Category {
	case model.CategoryChild:
		return TierChild, "child_category"
	case model.CategoryHealth:
		return TierHealth, "health_category"
	case model.CategoryWork:
		return TierWork, "work_category"
	case model.CategoryPersonal:
		return TierStress, "personal_category"
	case model.CategoryFamily:
		return TierFamily, "family_category"
	}
	// home, admin, ideas, unknown
	return TierHome, "default_tier"
}

// TierName returns the human-readable tier name for listings and logs.
func TierName(tier int) string {
	switch tier {
	case TierDeadlineProximity:
		return "Deadline Proximity"
	case TierRisk:
		return "Risk of Negative Consequence"
	case TierImpact:
		return "Downstream Impact"
	case TierChild:
		return "Child-Related Needs"
	case TierHealth:
		return "Personal Health Needs"
	case TierWork:
		return "Work Obligations"
	case TierStress:
		return "Stress Reduction"
	case TierFamily:
		return "Family/Social Commitments"
	case TierHome:
		return "Home Care"
	}
	return "Unknown"
}

// dependents builds the reverse dependency map: task ID -> true when some
// other task in the set depends on it.
func dependents(tasks []model.Task) map[string]bool {
	out := map[string]bool{}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			out[dep] = true
		}
	}
	return out
}
