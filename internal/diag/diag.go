// Package diag defines the error taxonomy of the lowering pipeline.
//
// Every record-level failure is a *Error carrying a Code and the identity of
// the offending IR record. All of them are fatal for the enclosing
// translation unit; a Collector gathers them into a single *UnitError so the
// host compiler can report every problem at once.
package diag

import (
	"errors"
	"fmt"

	"github.com/roach88/pmc/internal/ir"
)

// Code categorizes lowering errors.
type Code string

const (
	// UnsupportedBackendType: a type has no registry entry for the backend.
	UnsupportedBackendType Code = "UNSUPPORTED_BACKEND_TYPE"

	// MalformedOperation: arity or shape mismatch against the operation type.
	MalformedOperation Code = "MALFORMED_OPERATION"

	// NamingCollision: two naming keys produced the same identifier, or user
	// code uses an identifier from the generated namespace.
	NamingCollision Code = "NAMING_COLLISION"

	// UnresolvedCapture: a lambda references a free identifier with no
	// matching external variable.
	UnresolvedCapture Code = "UNRESOLVED_CAPTURE"
)

// Codes lists every code in a stable order.
var Codes = []Code{UnsupportedBackendType, MalformedOperation, NamingCollision, UnresolvedCapture}

// Record identifies the IR record an error is attached to.
type Record struct {
	Owner    ir.Owner
	TypeName string
}

func (r Record) String() string {
	if r.Owner.Kind == "" {
		return "unit"
	}
	if r.TypeName == "" {
		return r.Owner.String()
	}
	return fmt.Sprintf("%s(%s)", r.Owner, r.TypeName)
}

// UnitRecord is the record used for unit-level problems.
var UnitRecord = Record{}

// ForOperation identifies an operation.
func ForOperation(op ir.Operation) Record {
	return Record{Owner: op.Owner(), TypeName: op.Collection.FullType()}
}

// ForInputBind identifies an input bind.
func ForInputBind(in ir.InputBind) Record {
	return Record{Owner: in.Owner(), TypeName: in.Collection.FullType()}
}

// ForOutputBind identifies an output bind.
func ForOutputBind(out ir.OutputBind) Record {
	return Record{Owner: out.Owner(), TypeName: out.Collection.FullType()}
}

// ForMethodCall identifies a plain method call.
func ForMethodCall(c ir.MethodCall) Record {
	return Record{Owner: c.Owner(), TypeName: c.Collection.FullType()}
}

// Error is a record-level lowering error.
type Error struct {
	Code    Code
	Record  Record
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Record, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, rec Record, format string, args ...any) *Error {
	return &Error{Code: code, Record: rec, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a record to an underlying error. If err already is an
// *Error without a record, the record is filled in and its code is kept.
func Wrap(code Code, rec Record, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		if de.Record.Owner.Kind == "" {
			cp := *de
			cp.Record = rec
			return &cp
		}
		return de
	}
	return &Error{Code: code, Record: rec, Message: err.Error()}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// Is reports whether err is, or contains, an *Error with the given code.
// Aggregated unit errors are searched too.
func Is(err error, code Code) bool {
	var ue *UnitError
	if errors.As(err, &ue) {
		for _, e := range ue.Errors() {
			if Is(e, code) {
				return true
			}
		}
		return false
	}
	c, ok := CodeOf(err)
	return ok && c == code
}
