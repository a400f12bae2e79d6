package compiler

import (
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lambda"
)

// Classify decides how an operation is lowered on a backend with the given
// capabilities:
//
//  1. an explicit Sequential request is honored;
//  2. a body that assigns a non-final external must run sequentially, and
//     is malformed if the backend has no sequential path;
//  3. otherwise the operation runs in parallel when the backend can.
//
// Reduce follows the same rules; its parallel form is split into tile and
// merge phases during lowering. Classify is pure.
func Classify(op ir.Operation, caps ir.Capabilities) (ir.ExecutionType, error) {
	if op.Execution == ir.Sequential {
		if !caps.Sequential {
			return ir.ExecNone, diag.Errorf(diag.MalformedOperation, diag.ForOperation(op),
				"sequential execution requested but the backend has no sequential path")
		}
		return ir.Sequential, nil
	}
	if name, ok := MutatesCapture(op); ok {
		if !caps.Sequential {
			return ir.ExecNone, diag.Errorf(diag.MalformedOperation, diag.ForOperation(op),
				"body assigns captured variable %q but the backend has no sequential path", name)
		}
		return ir.Sequential, nil
	}
	if caps.Parallel {
		return ir.Parallel, nil
	}
	if caps.Sequential {
		return ir.Sequential, nil
	}
	return ir.ExecNone, diag.Errorf(diag.MalformedOperation, diag.ForOperation(op),
		"backend offers no execution path")
}

// ClassifyUnit returns a copy of the unit's operations with Execution set.
// The input unit is not modified. A unit marked non-parallel forces every
// operation onto the sequential path.
func ClassifyUnit(u *ir.TranslationUnit, caps ir.Capabilities) ([]ir.Operation, []error) {
	if !u.Parallel {
		caps.Parallel = false
	}
	out := make([]ir.Operation, len(u.Operations))
	var errs []error
	for i, op := range u.Operations {
		exec, err := Classify(op, caps)
		if err != nil {
			errs = append(errs, err)
		}
		op.Execution = exec
		out[i] = op
	}
	return out, errs
}

// MutatesCapture reports the first non-final external the body assigns.
func MutatesCapture(op ir.Operation) (string, bool) {
	for _, ext := range op.Externals {
		if ext.IsFinal() {
			continue
		}
		if lambda.Assigns(op.Function.Code, ext.Name) {
			return ext.Name, true
		}
	}
	return "", false
}
