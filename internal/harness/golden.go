package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its snapshot against the
// golden file testdata/golden/<name>.golden.
//
// To regenerate golden files after an intentional behavior change:
//
//	go test ./internal/harness -update
//
// Golden files are the source of truth for expected engine behavior; a
// diff here means the engine's observable decisions changed.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	snap, err := Run(scenario)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
