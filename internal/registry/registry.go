// Package registry holds the per-backend type tables.
//
// The tables are built once by New and never modified afterwards, so one
// *Registry can be shared by every lowering goroutine. Lookups that have no
// entry fail with diag.UnsupportedBackendType; they never return "".
package registry

import (
	"fmt"
	"slices"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
)

// Backend identifies a lowering target.
type Backend string

const (
	// RenderScript lowers to a .rs kernel file and a managed wrapper.
	RenderScript Backend = "renderscript"

	// PMRuntime lowers to OpenCL kernels driven by a native runtime through
	// JNI glue.
	PMRuntime Backend = "pmruntime"
)

// Backends lists every backend in a stable order.
var Backends = []Backend{RenderScript, PMRuntime}

// ParseBackend parses a backend id.
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q: must be one of %v", s, Backends)
}

// Entry describes one domain type on one backend.
type Entry struct {
	Domain ir.DomainType

	// KernelType is the type inside kernel code, e.g. "int" or "float4".
	KernelType string

	// HostType is the Java type of one lane, e.g. "int" or "float".
	HostType string

	// HostArray is the Java array type used to marshal values, e.g. "int[]".
	HostArray string

	// Lanes is the number of HostType values per element.
	Lanes int

	// Marshal is the backend marshaling intrinsic: an Element factory on
	// renderscript ("I32") or a JNI array region name on pmruntime ("Int").
	Marshal string

	// JNIType is the JNI type of one lane; empty on renderscript.
	JNIType string

	// JNIArray is the JNI array type; empty on renderscript.
	JNIArray string

	// Element reports whether the type can be the element of an Array.
	Element bool

	// Capturable reports whether the type can be captured as an external
	// variable.
	Capturable bool

	// Fields maps domain field names to kernel field names.
	Fields map[string]string
}

// Registry is the immutable set of per-backend tables.
type Registry struct {
	tables map[Backend]map[ir.DomainType]Entry
	math   map[Backend]map[string]string
}

// New builds the registry.
func New() *Registry {
	return &Registry{
		tables: map[Backend]map[ir.DomainType]Entry{
			RenderScript: renderScriptTable(),
			PMRuntime:    pmRuntimeTable(),
		},
		math: map[Backend]map[string]string{
			RenderScript: mathIntrinsics(),
			PMRuntime:    mathIntrinsics(),
		},
	}
}

func renderScriptTable() map[ir.DomainType]Entry {
	rgba := map[string]string{"red": "x", "green": "y", "blue": "z", "alpha": "w"}
	return map[ir.DomainType]Entry{
		ir.TypeInt16:   {Domain: ir.TypeInt16, KernelType: "short", HostType: "short", HostArray: "short[]", Lanes: 1, Marshal: "I16", Element: true, Capturable: true},
		ir.TypeInt32:   {Domain: ir.TypeInt32, KernelType: "int", HostType: "int", HostArray: "int[]", Lanes: 1, Marshal: "I32", Element: true, Capturable: true},
		ir.TypeFloat32: {Domain: ir.TypeFloat32, KernelType: "float", HostType: "float", HostArray: "float[]", Lanes: 1, Marshal: "F32", Element: true, Capturable: true},
		ir.TypeBool:    {Domain: ir.TypeBool, KernelType: "bool", HostType: "boolean", HostArray: "boolean[]", Lanes: 1, Marshal: "BOOLEAN", Capturable: true},
		ir.TypeRGB:     {Domain: ir.TypeRGB, KernelType: "float3", HostType: "float", HostArray: "float[]", Lanes: 3, Marshal: "F32_3", Capturable: true, Fields: rgba},
		ir.TypeRGBA:    {Domain: ir.TypeRGBA, KernelType: "float4", HostType: "float", HostArray: "float[]", Lanes: 4, Marshal: "F32_4", Capturable: true, Fields: rgba},
		ir.TypePixel:   {Domain: ir.TypePixel, KernelType: "float4", HostType: "float", HostArray: "float[]", Lanes: 4, Marshal: "F32_4", Fields: rgba},
		ir.TypeBitmapImage: {Domain: ir.TypeBitmapImage, KernelType: "float4", HostType: "Bitmap", HostArray: "Bitmap", Lanes: 4, Marshal: "U8_4"},
		ir.TypeHDRImage:    {Domain: ir.TypeHDRImage, KernelType: "float4", HostType: "byte", HostArray: "byte[]", Lanes: 4, Marshal: "U8_4"},
	}
}

func pmRuntimeTable() map[ir.DomainType]Entry {
	rgba := map[string]string{"red": "s0", "green": "s1", "blue": "s2", "alpha": "s3"}
	return map[ir.DomainType]Entry{
		ir.TypeInt16:   {Domain: ir.TypeInt16, KernelType: "short", HostType: "short", HostArray: "short[]", Lanes: 1, Marshal: "Short", JNIType: "jshort", JNIArray: "jshortArray", Element: true, Capturable: true},
		ir.TypeInt32:   {Domain: ir.TypeInt32, KernelType: "int", HostType: "int", HostArray: "int[]", Lanes: 1, Marshal: "Int", JNIType: "jint", JNIArray: "jintArray", Element: true, Capturable: true},
		ir.TypeFloat32: {Domain: ir.TypeFloat32, KernelType: "float", HostType: "float", HostArray: "float[]", Lanes: 1, Marshal: "Float", JNIType: "jfloat", JNIArray: "jfloatArray", Element: true, Capturable: true},
		ir.TypeBool:    {Domain: ir.TypeBool, KernelType: "int", HostType: "boolean", HostArray: "boolean[]", Lanes: 1, Marshal: "Boolean", JNIType: "jboolean", JNIArray: "jbooleanArray"},
		ir.TypeRGBA:    {Domain: ir.TypeRGBA, KernelType: "float4", HostType: "float", HostArray: "float[]", Lanes: 4, Marshal: "Float", JNIType: "jfloat", JNIArray: "jfloatArray", Fields: rgba},
		ir.TypePixel:   {Domain: ir.TypePixel, KernelType: "float4", HostType: "float", HostArray: "float[]", Lanes: 4, Marshal: "Float", JNIType: "jfloat", JNIArray: "jfloatArray", Fields: rgba},
		ir.TypeBitmapImage: {Domain: ir.TypeBitmapImage, KernelType: "float4", HostType: "Bitmap", HostArray: "Bitmap", Lanes: 4, Marshal: "Bitmap", JNIType: "jobject", JNIArray: "jobject"},
		ir.TypeHDRImage:    {Domain: ir.TypeHDRImage, KernelType: "float4", HostType: "byte", HostArray: "byte[]", Lanes: 4, Marshal: "Byte", JNIType: "jbyte", JNIArray: "jbyteArray"},
	}
}

func mathIntrinsics() map[string]string {
	return map[string]string{
		"sqrt":  "sqrt",
		"pow":   "pow",
		"exp":   "exp",
		"log":   "log",
		"floor": "floor",
		"ceil":  "ceil",
		"min":   "min",
		"max":   "max",
		"abs":   "fabs",
		"sin":   "sin",
		"cos":   "cos",
		"tan":   "tan",
		"atan2": "atan2",
	}
}

func unsupported(format string, args ...any) *diag.Error {
	return diag.Errorf(diag.UnsupportedBackendType, diag.UnitRecord, format, args...)
}

// LookupDomain returns the entry for a domain type.
func (r *Registry) LookupDomain(d ir.DomainType, b Backend) (Entry, error) {
	table, ok := r.tables[b]
	if !ok {
		return Entry{}, unsupported("unknown backend %q", b)
	}
	e, ok := table[d]
	if !ok {
		return Entry{}, unsupported("type %s has no %s mapping", d, b)
	}
	return e, nil
}

// Lookup resolves a domain, primitive or boxed type name.
func (r *Registry) Lookup(typeName string, b Backend) (Entry, error) {
	d, ok := ir.ParseDomainType(typeName)
	if !ok {
		return Entry{}, unsupported("unknown type %q", typeName)
	}
	return r.LookupDomain(d, b)
}

// NativeType returns the kernel type for typeName on the backend.
func (r *Registry) NativeType(typeName string, b Backend) (string, error) {
	e, err := r.Lookup(typeName, b)
	if err != nil {
		return "", err
	}
	return e.KernelType, nil
}

// MarshalIntrinsic returns the marshaling intrinsic for typeName.
func (r *Registry) MarshalIntrinsic(typeName string, b Backend) (string, error) {
	e, err := r.Lookup(typeName, b)
	if err != nil {
		return "", err
	}
	return e.Marshal, nil
}

// Supports reports whether the backend has an entry for d.
func (r *Registry) Supports(d ir.DomainType, b Backend) bool {
	_, err := r.LookupDomain(d, b)
	return err == nil
}

// Domains lists the types supported by a backend in enum order.
func (r *Registry) Domains(b Backend) []ir.DomainType {
	var ds []ir.DomainType
	for d := range r.tables[b] {
		ds = append(ds, d)
	}
	slices.Sort(ds)
	return ds
}

// ElementEntry resolves the element entry of an Array type parameter and
// checks that it may be stored in a collection.
func (r *Registry) ElementEntry(typeName string, b Backend) (Entry, error) {
	e, err := r.Lookup(typeName, b)
	if err != nil {
		return Entry{}, err
	}
	if !e.Element {
		return Entry{}, unsupported("%s cannot be an array element on %s", typeName, b)
	}
	return e, nil
}

// CaptureEntry resolves the entry for a captured external variable.
func (r *Registry) CaptureEntry(typeName string, b Backend) (Entry, error) {
	e, err := r.Lookup(typeName, b)
	if err != nil {
		return Entry{}, err
	}
	if !e.Capturable {
		return Entry{}, unsupported("%s cannot be captured on %s", typeName, b)
	}
	return e, nil
}
