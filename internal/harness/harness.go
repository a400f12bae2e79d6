package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/pmc/internal/compiler"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/registry"
)

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Load the scenario's CUE files and select the unit
// 2. Lower the unit with a fresh driver
// 3. Compare reported codes against expect.errors, or
// 4. Evaluate assertions against the output
//
// The returned error is set only when the scenario itself cannot be run;
// lowering failures and failed assertions are reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	units, err := LoadUnits(scenario.Units)
	if err != nil {
		return nil, err
	}
	unit, err := selectUnit(units, scenario.Unit)
	if err != nil {
		return nil, err
	}
	backend, err := registry.ParseBackend(scenario.Backend)
	if err != nil {
		return nil, err
	}

	d := driver.New(scenarioOptions(scenario.Options)...)

	result := NewResult()
	out, err := d.Compile(ctx, unit, backend)
	if err != nil {
		var ue *diag.UnitError
		if !errors.As(err, &ue) {
			return nil, fmt.Errorf("compile %s: %w", unit.Name(), err)
		}
		result.Codes = unitCodes(ue)
		if scenario.Expect == nil {
			result.AddError(fmt.Sprintf("unexpected lowering failure: %v", err))
			return result, nil
		}
		if !slices.Equal(result.Codes, scenario.Expect.Errors) {
			result.AddError(fmt.Sprintf("expected errors %v, got %v", scenario.Expect.Errors, result.Codes))
		}
		return result, nil
	}

	result.Output = out
	if scenario.Expect != nil {
		result.AddError(fmt.Sprintf("expected errors %v, lowering succeeded", scenario.Expect.Errors))
		return result, nil
	}
	for _, msg := range EvaluateAssertions(out, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// LoadUnits compiles every unit declared in the given CUE files. Each file
// is compiled on its own, so files may not reference each other.
func LoadUnits(paths []string) ([]*ir.TranslationUnit, error) {
	cctx := cuecontext.New()
	var units []*ir.TranslationUnit
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read unit file: %w", err)
		}
		v := cctx.CompileBytes(src)
		if v.Err() != nil {
			return nil, fmt.Errorf("%s: %w", path, v.Err())
		}
		us, err := compiler.CompileUnits(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		units = append(units, us...)
	}
	return units, nil
}

func selectUnit(units []*ir.TranslationUnit, class string) (*ir.TranslationUnit, error) {
	if class == "" {
		if len(units) != 1 {
			return nil, fmt.Errorf("scenario must name a unit: %d units loaded", len(units))
		}
		return units[0], nil
	}
	for _, u := range units {
		if u.Class == class {
			return u, nil
		}
	}
	return nil, fmt.Errorf("unit %q not found", class)
}

func scenarioOptions(o Options) []driver.Option {
	lopts := lower.DefaultOptions()
	lopts.TileSize = o.TileSize
	if o.Instance != "" {
		lopts.Instance = o.Instance
	}
	opts := []driver.Option{driver.WithLowerOptions(lopts)}
	if o.Workers > 0 {
		opts = append(opts, driver.WithWorkers(o.Workers))
	}
	return opts
}

func unitCodes(ue *diag.UnitError) []string {
	var codes []string
	for _, e := range ue.Errors() {
		if code, ok := diag.CodeOf(e); ok {
			codes = append(codes, string(code))
		}
	}
	return codes
}
