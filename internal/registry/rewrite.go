package registry

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
)

// Coords names the kernel expressions holding the current element position.
// Pixel.x and Pixel.y rewrite to them.
type Coords struct {
	X string
	Y string
}

func malformed(format string, args ...any) *diag.Error {
	return diag.Errorf(diag.MalformedOperation, diag.UnitRecord, format, args...)
}

// RewriteMember rewrites head followed by a chain of field accesses into
// kernel syntax. It returns the rewritten expression and how many fields of
// the chain it consumed; the rest are left to the caller.
//
// Scalars drop their ".value" payload field, vectors map color fields to
// the backend's component names, and Pixel resolves ".x"/".y" to coords.
func (r *Registry) RewriteMember(d ir.DomainType, head string, fields []string, b Backend, coords *Coords) (string, int, error) {
	e, err := r.LookupDomain(d, b)
	if err != nil {
		return "", 0, err
	}
	switch d.Kind() {
	case ir.KindScalar:
		if len(fields) == 0 {
			return head, 0, nil
		}
		if fields[0] == "value" {
			return head, 1, nil
		}
		return "", 0, malformed("%s has no field %q", d, fields[0])

	case ir.KindVector:
		used := 0
		if d == ir.TypePixel && len(fields) > 0 {
			switch fields[0] {
			case "rgba":
				used = 1
			case "x", "y":
				if coords == nil || (fields[0] == "y" && coords.Y == "") {
					return "", 0, malformed("Pixel.%s is not available here", fields[0])
				}
				if fields[0] == "x" {
					return coords.X, 1, nil
				}
				return coords.Y, 1, nil
			}
		}
		if used == len(fields) {
			return head, used, nil
		}
		comp, ok := e.Fields[fields[used]]
		if !ok {
			return "", 0, malformed("%s has no field %q", d, fields[used])
		}
		return head + "." + comp, used + 1, nil

	default:
		return "", 0, malformed("%s values cannot be used inside a kernel", d)
	}
}

// Intrinsic maps a host math call such as "Math.sqrt" to the kernel builtin.
func (r *Registry) Intrinsic(call string, b Backend) (string, error) {
	cls, fn, ok := strings.Cut(call, ".")
	if !ok || cls != "Math" {
		return "", unsupported("%s is not a kernel intrinsic", call)
	}
	name, ok := r.math[b][fn]
	if !ok {
		return "", unsupported("%s has no %s intrinsic", call, b)
	}
	return name, nil
}

// Construct lowers "new T(args...)" to a kernel expression.
func (r *Registry) Construct(d ir.DomainType, args []string, b Backend) (string, error) {
	e, err := r.LookupDomain(d, b)
	if err != nil {
		return "", err
	}
	switch d {
	case ir.TypeInt16, ir.TypeInt32, ir.TypeFloat32, ir.TypeBool:
		if len(args) != 1 {
			return "", malformed("new %s takes 1 argument, got %d", d, len(args))
		}
		return fmt.Sprintf("((%s) (%s))", e.KernelType, args[0]), nil
	case ir.TypeRGB, ir.TypeRGBA:
		if len(args) != e.Lanes {
			return "", malformed("new %s takes %d arguments, got %d", d, e.Lanes, len(args))
		}
		joined := strings.Join(args, ", ")
		if b == RenderScript {
			return fmt.Sprintf("((%s){%s})", e.KernelType, joined), nil
		}
		return fmt.Sprintf("((%s) (%s))", e.KernelType, joined), nil
	default:
		return "", malformed("%s cannot be constructed inside a kernel", d)
	}
}

// LocalType maps the declared type of a lambda local to its kernel type.
// Names outside the registry are returned unchanged.
func (r *Registry) LocalType(name string, b Backend) (string, error) {
	switch name {
	case "boolean":
		return r.NativeType("Bool", b)
	case "short", "int", "float":
		return name, nil
	}
	d, ok := ir.ParseDomainType(name)
	if !ok {
		return name, nil
	}
	if d.Kind() == ir.KindCollection {
		return "", malformed("%s locals are not allowed inside a kernel", d)
	}
	return r.NativeType(name, b)
}

// HostValue renders the Java expression passing v to the backend: wrapper
// types are unboxed through ".value" and vectors are packed per backend.
func (r *Registry) HostValue(v ir.Variable, b Backend) (string, error) {
	d := v.Domain()
	switch d.Kind() {
	case ir.KindScalar:
		if ir.IsWrapperName(v.TypeName) {
			return v.Name + ".value", nil
		}
		return v.Name, nil
	case ir.KindVector:
		e, err := r.CaptureEntry(v.TypeName, b)
		if err != nil {
			return "", err
		}
		names := []string{"red", "green", "blue", "alpha"}[:e.Lanes]
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = v.Name + "." + n
		}
		return fmt.Sprintf("new Float%d(%s)", e.Lanes, strings.Join(parts, ", ")), nil
	default:
		return "", unsupported("%s cannot be passed as a value", v.FullType())
	}
}

// HostAssign renders the Java statement storing expr into v.
func (r *Registry) HostAssign(v ir.Variable, expr string) string {
	if ir.IsWrapperName(v.TypeName) {
		return fmt.Sprintf("%s.value = %s;", v.Name, expr)
	}
	return fmt.Sprintf("%s = %s;", v.Name, expr)
}

// HostBox renders the Java expression building a host value of typeName
// from the lanes of array.
func (r *Registry) HostBox(typeName, array string, b Backend) (string, error) {
	e, err := r.Lookup(typeName, b)
	if err != nil {
		return "", err
	}
	if e.Domain.Kind() == ir.KindScalar && !ir.IsWrapperName(typeName) {
		return array + "[0]", nil
	}
	lanes := make([]string, e.Lanes)
	for i := range lanes {
		lanes[i] = fmt.Sprintf("%s[%d]", array, i)
	}
	return fmt.Sprintf("new %s(%s)", typeName, strings.Join(lanes, ", ")), nil
}
