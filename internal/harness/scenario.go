package harness

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

// Scenario defines a conformance scenario: a user, their tasks and busy
// time, optional scripted inference proposals, and a pinned clock. Running
// it executes one full rebuild against a fresh in-memory store with
// deterministic helpers, so the same scenario always yields the same
// snapshot - which is what the golden files assert.
type Scenario struct {
	// Name uniquely identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// User is the owner everything in the scenario belongs to.
	User ScenarioUser `yaml:"user"`

	// Now pins the rebuild clock.
	Now time.Time `yaml:"now"`

	// Busy scripts external reserved intervals.
	Busy []ScenarioInterval `yaml:"busy,omitempty"`

	// Tasks are created in order before the rebuild.
	Tasks []ScenarioTask `yaml:"tasks,omitempty"`

	// Proposals scripts the inference adapter per task ID. Tasks not
	// listed get empty proposals.
	Proposals map[string]ScenarioProposals `yaml:"proposals,omitempty"`
}

// ScenarioUser describes the scenario's user.
type ScenarioUser struct {
	ID          string `yaml:"id"`
	Timezone    string `yaml:"timezone"`
	HorizonDays int    `yaml:"horizon_days"`
}

// ScenarioInterval is a half-open busy interval.
type ScenarioInterval struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

// ScenarioTask describes one task to seed.
type ScenarioTask struct {
	ID                 string    `yaml:"id"`
	Title              string    `yaml:"title"`
	Notes              string    `yaml:"notes,omitempty"`
	Category           string    `yaml:"category,omitempty"`
	DurationMin        int       `yaml:"duration_min,omitempty"`
	DurationConfidence float64   `yaml:"duration_confidence,omitempty"`
	Deadline           time.Time `yaml:"deadline,omitempty"`
	StartAfter         string    `yaml:"start_after,omitempty"`
	DueBy              string    `yaml:"due_by,omitempty"`
	RiskScore          float64   `yaml:"risk_score,omitempty"`
	ImpactScore        float64   `yaml:"impact_score,omitempty"`
	Dependencies       []string  `yaml:"dependencies,omitempty"`
	AIExcluded         bool      `yaml:"ai_excluded,omitempty"`
}

// ScenarioProposals scripts adapter output for one task.
type ScenarioProposals struct {
	Category *ScenarioProposal `yaml:"category,omitempty"`
	Duration *ScenarioProposal `yaml:"duration,omitempty"`
	Risk     *ScenarioProposal `yaml:"risk,omitempty"`
	Impact   *ScenarioProposal `yaml:"impact,omitempty"`
}

// ScenarioProposal is one scripted attribute proposal. Value holds the
// category name for category proposals, Minutes the duration, Score the
// risk/impact value.
type ScenarioProposal struct {
	Value      string  `yaml:"value,omitempty"`
	Minutes    int     `yaml:"minutes,omitempty"`
	Score      float64 `yaml:"score,omitempty"`
	Confidence float64 `yaml:"confidence"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if s.User.ID == "" {
		return fmt.Errorf("missing user id")
	}
	if s.Now.IsZero() {
		return fmt.Errorf("missing now")
	}
	seen := map[string]bool{}
	for _, task := range s.Tasks {
		if task.ID == "" || task.Title == "" {
			return fmt.Errorf("task needs id and title")
		}
		if seen[task.ID] {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = true
		if task.Category != "" && !model.ValidCategory(model.Category(task.Category)) {
			return fmt.Errorf("task %s: invalid category %q", task.ID, task.Category)
		}
	}
	for id := range s.Proposals {
		if !seen[id] {
			return fmt.Errorf("proposals reference unknown task %s", id)
		}
	}
	return nil
}
