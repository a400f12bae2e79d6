package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/registry"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Units lists CUE files declaring translation units.
	Units []string `yaml:"units"`

	// Unit selects a unit by class name. May be empty when the files
	// declare exactly one unit.
	Unit string `yaml:"unit,omitempty"`

	// Backend is the backend id to lower for.
	Backend string `yaml:"backend"`

	Options Options `yaml:"options,omitempty"`

	// Expect describes an expected failure.
	Expect *Expectation `yaml:"expect,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Options tune the lowering run of a scenario.
type Options struct {
	TileSize int    `yaml:"tile_size,omitempty"`
	Workers  int    `yaml:"workers,omitempty"`
	Instance string `yaml:"instance,omitempty"`
}

// Expectation lists the diagnostic codes a failing scenario must report.
type Expectation struct {
	Errors []string `yaml:"errors"`
}

// Assertion validates one aspect of a successful lowering.
type Assertion struct {
	// Type specifies the assertion type:
	// - "artifact_contains": artifact at Path contains every Contains entry
	// - "artifact_absent": artifact at Path contains none of Contains
	// - "artifact_count": exactly Count artifacts were emitted
	// - "execution": the operation Owner was classified as Execution
	// - "call_site": the call site of Owner is exactly Lines
	// - "name_issued": Ident was handed out by the naming authority
	Type string `yaml:"type"`

	Path      string   `yaml:"path,omitempty"`
	Contains  []string `yaml:"contains,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	Owner     string   `yaml:"owner,omitempty"`
	Execution string   `yaml:"execution,omitempty"`
	Lines     []string `yaml:"lines,omitempty"`
	Ident     string   `yaml:"ident,omitempty"`
}

// Assertion type constants.
const (
	AssertArtifactContains = "artifact_contains"
	AssertArtifactAbsent   = "artifact_absent"
	AssertArtifactCount    = "artifact_count"
	AssertExecution        = "execution"
	AssertCallSite         = "call_site"
	AssertNameIssued       = "name_issued"
)

// LoadScenario reads and parses a scenario YAML file. Unit paths are
// resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving unit paths relative to basePath.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, unitPath := range scenario.Units {
		if !filepath.IsAbs(unitPath) && basePath != "" {
			scenario.Units[i] = filepath.Join(basePath, unitPath)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Units) == 0 {
		return fmt.Errorf("units list is required and must be non-empty")
	}
	if _, err := registry.ParseBackend(s.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if s.Options.TileSize < 0 {
		return fmt.Errorf("options.tile_size must not be negative")
	}

	if s.Expect != nil {
		if len(s.Expect.Errors) == 0 {
			return fmt.Errorf("expect.errors must be non-empty")
		}
		for _, code := range s.Expect.Errors {
			if !knownCode(code) {
				return fmt.Errorf("expect.errors: unknown code %q", code)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertArtifactContains, AssertArtifactAbsent:
		if a.Path == "" {
			return fmt.Errorf("%s requires path", a.Type)
		}
		if len(a.Contains) == 0 {
			return fmt.Errorf("%s requires contains", a.Type)
		}
	case AssertArtifactCount:
		if a.Count <= 0 {
			return fmt.Errorf("artifact_count requires a positive count")
		}
	case AssertExecution:
		if a.Owner == "" || a.Execution == "" {
			return fmt.Errorf("execution requires owner and execution")
		}
	case AssertCallSite:
		if a.Owner == "" || len(a.Lines) == 0 {
			return fmt.Errorf("call_site requires owner and lines")
		}
	case AssertNameIssued:
		if a.Ident == "" {
			return fmt.Errorf("name_issued requires ident")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func knownCode(code string) bool {
	for _, c := range diag.Codes {
		if string(c) == code {
			return true
		}
	}
	return false
}
