package ir

import "fmt"

// DomainType is the closed set of types the compiler understands.
// Every switch over DomainType in the registry and the backends is
// exhaustive, so adding a type is a single-point change.
type DomainType int

const (
	TypeUnknown DomainType = iota
	TypeInt16
	TypeInt32
	TypeFloat32
	TypeBool
	TypeRGB
	TypeRGBA
	TypePixel
	TypeArray
	TypeBitmapImage
	TypeHDRImage
)

// TypeKind classifies a DomainType.
type TypeKind int

const (
	KindNone TypeKind = iota
	KindScalar
	KindVector
	KindCollection
)

var domainNames = map[DomainType]string{
	TypeInt16:       "Int16",
	TypeInt32:       "Int32",
	TypeFloat32:     "Float32",
	TypeBool:        "Bool",
	TypeRGB:         "RGB",
	TypeRGBA:        "RGBA",
	TypePixel:       "Pixel",
	TypeArray:       "Array",
	TypeBitmapImage: "BitmapImage",
	TypeHDRImage:    "HDRImage",
}

// typeAliases maps primitive and boxed host names onto domain types.
var typeAliases = map[string]DomainType{
	"short":   TypeInt16,
	"Short":   TypeInt16,
	"int":     TypeInt32,
	"Integer": TypeInt32,
	"float":   TypeFloat32,
	"Float":   TypeFloat32,
	"boolean": TypeBool,
	"Boolean": TypeBool,
}

// primitiveNames are the host names that denote unboxed values.
var primitiveNames = map[string]bool{
	"short":   true,
	"int":     true,
	"float":   true,
	"boolean": true,
}

// String returns the domain class name.
func (t DomainType) String() string {
	if name, ok := domainNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DomainType(%d)", int(t))
}

// ParseDomainType resolves a domain, primitive, or boxed type name.
func ParseDomainType(name string) (DomainType, bool) {
	for t, n := range domainNames {
		if n == name {
			return t, true
		}
	}
	if t, ok := typeAliases[name]; ok {
		return t, true
	}
	return TypeUnknown, false
}

// IsPrimitiveName reports whether a host type name is an unboxed primitive.
// Domain wrapper classes (Int32, Float32, ...) carry their value in a
// .value field; primitives do not.
func IsPrimitiveName(name string) bool {
	return primitiveNames[name]
}

// IsWrapperName reports whether name is a domain wrapper class such as Int32
// whose payload lives in a .value field.
func IsWrapperName(name string) bool {
	t, ok := ParseDomainType(name)
	if !ok || t.Kind() != KindScalar {
		return false
	}
	return domainNames[t] == name
}

// Kind classifies the type.
func (t DomainType) Kind() TypeKind {
	switch t {
	case TypeInt16, TypeInt32, TypeFloat32, TypeBool:
		return KindScalar
	case TypeRGB, TypeRGBA, TypePixel:
		return KindVector
	case TypeArray, TypeBitmapImage, TypeHDRImage:
		return KindCollection
	default:
		return KindNone
	}
}

// Dimensions returns 1 for arrays, 2 for images and 0 for non-collections.
func (t DomainType) Dimensions() int {
	switch t {
	case TypeArray:
		return 1
	case TypeBitmapImage, TypeHDRImage:
		return 2
	default:
		return 0
	}
}

// IsImage reports whether t is a 2-D image collection.
func (t DomainType) IsImage() bool {
	return t.Dimensions() == 2
}

// Capabilities describes which execution paths a backend offers at bind time.
type Capabilities struct {
	Parallel   bool `json:"parallel"`
	Sequential bool `json:"sequential"`
}
