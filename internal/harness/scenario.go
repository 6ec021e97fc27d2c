package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pilotforge/internal/config"
	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/provider"
)

// Scenario defines one production run and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Production is the production section of a config file.
	Production config.Production `yaml:"production"`

	// Runner tunes graph execution. Retry backoff never sleeps.
	Runner config.RunnerConfig `yaml:"runner,omitempty"`

	// Providers replace the default simulated provider, e.g. to script
	// failures for a segment.
	Providers []provider.Config `yaml:"providers,omitempty"`

	// Scores are the oracle scores per tier id, one entry per round.
	Scores map[string][]float64 `yaml:"scores"`

	// Setup registers assets before the run.
	Setup []SetupAsset `yaml:"setup,omitempty"`

	// Expect checks the run outcome.
	Expect Expect `yaml:"expect"`

	// Assertions validate pilots, tasks, the ledger and the library.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RunID is the id given to the run. Defaults to "run-1".
	RunID string `yaml:"run_id,omitempty"`
}

// SetupAsset is a record that exists in the library before the run.
type SetupAsset struct {
	Segment string         `yaml:"segment"`
	Type    ir.AssetType   `yaml:"type"`
	Status  ir.AssetStatus `yaml:"status,omitempty"` // default APPROVED
}

// Expect is the expected outcome of the run.
type Expect struct {
	Outcome   string `yaml:"outcome"`
	Winner    string `yaml:"winner,omitempty"`
	ErrorCode string `yaml:"error_code,omitempty"`
}

// Assertion validates one fact about the finished run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "pilot_status": Pilot ended in Status
	// - "pilot_timeline": Pilot went through Statuses in order
	// - "asset_count": Count records match AssetType, Status and Segment
	// - "ledger": ledger totals equal Spent and Reserved
	// - "task_status": Task ended in Status
	Type string `yaml:"type"`

	// Pilot is the pilot id (used by pilot_status, pilot_timeline).
	Pilot string `yaml:"pilot,omitempty"`

	// Status is the expected pilot, task or asset status.
	Status string `yaml:"status,omitempty"`

	// Statuses is the expected status sequence (used by pilot_timeline).
	Statuses []string `yaml:"statuses,omitempty"`

	// AssetType and Segment filter records (used by asset_count).
	AssetType ir.AssetType `yaml:"asset_type,omitempty"`
	Segment   string       `yaml:"segment,omitempty"`

	// Count is the expected number of records (used by asset_count).
	Count int `yaml:"count,omitempty"`

	// Spent and Reserved are ledger totals (used by ledger). Unset fields
	// are not checked.
	Spent    *float64 `yaml:"spent,omitempty"`
	Reserved *float64 `yaml:"reserved,omitempty"`

	// Task is the task id (used by task_status).
	Task string `yaml:"task,omitempty"`
}

// Assertion type constants.
const (
	AssertPilotStatus   = "pilot_status"
	AssertPilotTimeline = "pilot_timeline"
	AssertAssetCount    = "asset_count"
	AssertLedger        = "ledger"
	AssertTaskStatus    = "task_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.RunID == "" {
		scenario.RunID = "run-1"
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Production settings are validated when the run is configured.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Scores) == 0 {
		return fmt.Errorf("scores are required and must be non-empty")
	}
	for tier, script := range s.Scores {
		if len(script) == 0 {
			return fmt.Errorf("scores.%s: at least one round is required", tier)
		}
	}
	if s.Expect.Outcome == "" {
		return fmt.Errorf("expect.outcome is required")
	}

	for i, step := range s.Setup {
		if step.Segment == "" {
			return fmt.Errorf("setup[%d]: segment is required", i)
		}
		if !step.Type.Valid() {
			return fmt.Errorf("setup[%d]: invalid type %q", i, step.Type)
		}
		if step.Status != "" && !step.Status.Valid() {
			return fmt.Errorf("setup[%d]: invalid status %q", i, step.Status)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPilotStatus:
		if a.Pilot == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: pilot and status are required for pilot_status", index)
		}
	case AssertPilotTimeline:
		if a.Pilot == "" || len(a.Statuses) == 0 {
			return fmt.Errorf("assertions[%d]: pilot and statuses are required for pilot_timeline", index)
		}
	case AssertAssetCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for asset_count", index)
		}
		if a.AssetType != "" && !a.AssetType.Valid() {
			return fmt.Errorf("assertions[%d]: invalid asset_type %q", index, a.AssetType)
		}
	case AssertLedger:
		if a.Spent == nil && a.Reserved == nil {
			return fmt.Errorf("assertions[%d]: spent or reserved is required for ledger", index)
		}
	case AssertTaskStatus:
		if a.Task == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: task and status are required for task_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
