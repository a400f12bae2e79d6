package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pmc/internal/compiler"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
)

// LoadMode controls how errors are handled during unit loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading units from a directory.
type LoadResult struct {
	Units     []*ir.TranslationUnit
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during unit loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadUnits loads the CUE package in dir and compiles every unit in it.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadUnits(dir string, mode LoadMode) (*LoadResult, []error) {
	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("units directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing units directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	// Load CUE instances
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	// Check for load errors
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	// Build value from instance
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	var errs []error
	unitsVal := value.LookupPath(cue.ParsePath("unit"))
	if unitsVal.Exists() {
		iter, iterErr := unitsVal.Fields()
		if iterErr != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating units: %v", iterErr)}}
		}
		for iter.Next() {
			u, compileErr := compiler.CompileUnit(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "unit."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Units = append(result.Units, u)
		}
	}

	// Check if we found anything
	if len(result.Units) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoUnits, Message: "no units found in " + dir})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// SelectUnits filters units by class name. An empty filter keeps all.
func SelectUnits(units []*ir.TranslationUnit, classes []string) ([]*ir.TranslationUnit, error) {
	if len(classes) == 0 {
		return units, nil
	}
	var selected []*ir.TranslationUnit
	for _, class := range classes {
		found := false
		for _, u := range units {
			if u.Class == class || u.Name() == class {
				selected = append(selected, u)
				found = true
			}
		}
		if !found {
			return nil, &LoadError{Code: ErrCodeNoUnits, Message: fmt.Sprintf("unit %q not found", class)}
		}
	}
	return selected, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeCache       = "E008" // Build cache error
	ErrCodeConfig      = "E009" // Config file error
	ErrCodeNoUnits     = "E010" // No matching units

	// Unit declaration errors
	ErrCodeUnitSyntax   = "E101" // CUE conflict or syntax error inside a unit
	ErrCodeInputBind    = "E102" // Malformed input bind
	ErrCodeOperation    = "E103" // Malformed operation
	ErrCodeOutputBind   = "E104" // Malformed output bind
	ErrCodeMethodCall   = "E105" // Malformed method call
	ErrCodeUnitDeclared = "E106" // Unit header problem

	// Lowering errors
	ErrCodeUnsupportedType = "E201" // UNSUPPORTED_BACKEND_TYPE
	ErrCodeMalformed       = "E202" // MALFORMED_OPERATION
	ErrCodeNaming          = "E203" // NAMING_COLLISION
	ErrCodeCapture         = "E204" // UNRESOLVED_CAPTURE
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeUnitSyntax
	case strings.HasPrefix(field, "input_binds"):
		return ErrCodeInputBind
	case strings.HasPrefix(field, "operations"):
		return ErrCodeOperation
	case strings.HasPrefix(field, "output_binds"):
		return ErrCodeOutputBind
	case strings.HasPrefix(field, "method_calls"):
		return ErrCodeMethodCall
	case field == "unit", field == "java_package", field == "parallel":
		return ErrCodeUnitDeclared
	default:
		return ErrCodeGeneric
	}
}

// MapDiagCode maps a lowering diagnostic to a CLI error code.
func MapDiagCode(code diag.Code) string {
	switch code {
	case diag.UnsupportedBackendType:
		return ErrCodeUnsupportedType
	case diag.MalformedOperation:
		return ErrCodeMalformed
	case diag.NamingCollision:
		return ErrCodeNaming
	case diag.UnresolvedCapture:
		return ErrCodeCapture
	default:
		return ErrCodeGeneric
	}
}

// DiagErrors flattens a lowering error into CLI errors, one per record
// problem.
func DiagErrors(err error) []CLIError {
	var ue *diag.UnitError
	if !errors.As(err, &ue) {
		return []CLIError{{Code: ErrCodeGeneric, Message: err.Error()}}
	}
	out := make([]CLIError, 0, ue.Len())
	for _, e := range ue.Errors() {
		ce := CLIError{Code: ErrCodeGeneric, Message: e.Error()}
		var de *diag.Error
		if errors.As(e, &de) {
			ce.Code = MapDiagCode(de.Code)
			ce.Details = map[string]string{
				"unit":    ue.Unit,
				"backend": ue.Backend,
				"record":  de.Record.String(),
				"kind":    string(de.Code),
			}
		}
		out = append(out, ce)
	}
	return out
}
