package ir

import (
	"fmt"
	"strings"
)

// Mutability records whether a variable was declared final.
type Mutability int

const (
	Final Mutability = iota
	Mutable
)

func (m Mutability) String() string {
	if m == Mutable {
		return "mutable"
	}
	return "final"
}

// Variable is a named value flowing through the IR.
type Variable struct {
	Name          string     `json:"name"`
	TypeName      string     `json:"type_name"`
	TypeParameter string     `json:"type_parameter,omitempty"`
	Mutability    Mutability `json:"mutability"`
	Seq           int64      `json:"seq"`
}

// Equal compares variables by name, type and type parameter only.
func (v Variable) Equal(o Variable) bool {
	return v.Name == o.Name && v.TypeName == o.TypeName && v.TypeParameter == o.TypeParameter
}

// IsFinal reports whether the variable cannot be reassigned.
func (v Variable) IsFinal() bool {
	return v.Mutability == Final
}

// Domain resolves the variable's declared type.
func (v Variable) Domain() DomainType {
	t, _ := ParseDomainType(v.TypeName)
	return t
}

// Element resolves the element type of a collection variable: the type
// parameter for arrays, Pixel for images, TypeUnknown otherwise.
func (v Variable) Element() DomainType {
	switch v.Domain() {
	case TypeArray:
		t, _ := ParseDomainType(v.TypeParameter)
		return t
	case TypeBitmapImage, TypeHDRImage:
		return TypePixel
	default:
		return TypeUnknown
	}
}

// FullType renders the type with its parameter, e.g. "Array<Int32>".
func (v Variable) FullType() string {
	if v.TypeParameter == "" {
		return v.TypeName
	}
	return v.TypeName + "<" + v.TypeParameter + ">"
}

// UserFunction is the body of a user lambda.
type UserFunction struct {
	Code      string     `json:"code"`
	Arguments []Variable `json:"arguments"`
}

// OperationType is the collection operation kind.
type OperationType int

const (
	Foreach OperationType = iota
	Map
	Filter
	Reduce
)

var operationNames = []string{"foreach", "map", "filter", "reduce"}

func (t OperationType) String() string {
	if int(t) >= 0 && int(t) < len(operationNames) {
		return operationNames[t]
	}
	return fmt.Sprintf("OperationType(%d)", int(t))
}

// ParseOperationType parses "foreach", "map", "filter" or "reduce".
func ParseOperationType(s string) (OperationType, bool) {
	for i, n := range operationNames {
		if strings.EqualFold(n, s) {
			return OperationType(i), true
		}
	}
	return 0, false
}

// Arity is the number of lambda arguments the operation takes.
func (t OperationType) Arity() int {
	if t == Reduce {
		return 2
	}
	return 1
}

// HasDestination reports whether the operation produces a new value.
func (t OperationType) HasDestination() bool {
	return t != Foreach
}

// ExecutionType is the lowering strategy of an operation.
type ExecutionType int

const (
	ExecNone ExecutionType = iota
	Parallel
	Sequential
)

var executionNames = []string{"none", "parallel", "sequential"}

func (e ExecutionType) String() string {
	if int(e) >= 0 && int(e) < len(executionNames) {
		return executionNames[e]
	}
	return fmt.Sprintf("ExecutionType(%d)", int(e))
}

// ParseExecutionType parses "none", "parallel" or "sequential".
func ParseExecutionType(s string) (ExecutionType, bool) {
	for i, n := range executionNames {
		if strings.EqualFold(n, s) {
			return ExecutionType(i), true
		}
	}
	return 0, false
}

// BindKind tells the host side how a produced value is received.
type BindKind int

const (
	DeclarativeAssignment BindKind = iota
	Assignment
	BindNone
)

var bindNames = []string{"declarative", "assignment", "none"}

func (k BindKind) String() string {
	if int(k) >= 0 && int(k) < len(bindNames) {
		return bindNames[k]
	}
	return fmt.Sprintf("BindKind(%d)", int(k))
}

// ParseBindKind parses "declarative", "assignment" or "none".
func ParseBindKind(s string) (BindKind, bool) {
	for i, n := range bindNames {
		if strings.EqualFold(n, s) {
			return BindKind(i), true
		}
	}
	return 0, false
}

// Operation is a bound collection operation.
type Operation struct {
	Seq             int64         `json:"seq"`
	Collection      Variable      `json:"collection"`
	Type            OperationType `json:"type"`
	Execution       ExecutionType `json:"execution"`
	Destination     *Variable     `json:"destination,omitempty"`
	DestinationBind BindKind      `json:"destination_bind"`
	Externals       []Variable    `json:"externals"`
	Function        UserFunction  `json:"function"`
}

// Owner identifies the operation as a naming owner.
func (op Operation) Owner() Owner {
	return Owner{Kind: OwnerOperation, Seq: op.Seq}
}

// ParameterKind classifies an InputBind constructor argument.
type ParameterKind int

const (
	ParamVariable ParameterKind = iota
	ParamLiteral
	ParamExpression
)

var parameterNames = []string{"variable", "literal", "expression"}

func (k ParameterKind) String() string {
	if int(k) >= 0 && int(k) < len(parameterNames) {
		return parameterNames[k]
	}
	return fmt.Sprintf("ParameterKind(%d)", int(k))
}

// ParseParameterKind parses "variable", "literal" or "expression".
func ParseParameterKind(s string) (ParameterKind, bool) {
	for i, n := range parameterNames {
		if strings.EqualFold(n, s) {
			return ParameterKind(i), true
		}
	}
	return 0, false
}

// Parameter is one argument of a domain collection constructor.
type Parameter struct {
	Kind     ParameterKind `json:"kind"`
	Text     string        `json:"text"`
	TypeName string        `json:"type_name,omitempty"`
}

// IsClassLiteral reports whether the parameter is a type token such as
// Int32.class. Type tokens are compile-time only and never reach the glue.
func (p Parameter) IsClassLiteral() bool {
	return strings.HasSuffix(strings.TrimSpace(p.Text), ".class")
}

// InputBind creates a backend allocation from a host value.
type InputBind struct {
	Seq        int64       `json:"seq"`
	Collection Variable    `json:"collection"`
	Parameters []Parameter `json:"parameters"`
}

// Owner identifies the bind as a naming owner.
func (in InputBind) Owner() Owner {
	return Owner{Kind: OwnerInputBind, Seq: in.Seq}
}

// OutputBind materializes a backend allocation back into a host value.
type OutputBind struct {
	Seq         int64    `json:"seq"`
	Collection  Variable `json:"collection"`
	Destination Variable `json:"destination"`
	Kind        BindKind `json:"kind"`
}

// Owner identifies the bind as a naming owner.
func (out OutputBind) Owner() Owner {
	return Owner{Kind: OwnerOutputBind, Seq: out.Seq}
}

// MethodCall is a plain, non-operation call on a collection such as
// image.getWidth().
type MethodCall struct {
	Seq        int64    `json:"seq"`
	Collection Variable `json:"collection"`
	Method     string   `json:"method"`
}

// Owner identifies the call as a naming owner.
func (c MethodCall) Owner() Owner {
	return Owner{Kind: OwnerMethodCall, Seq: c.Seq}
}

// OwnerKind names the record kind that owns a generated identifier.
type OwnerKind string

const (
	OwnerOperation  OwnerKind = "Operation"
	OwnerInputBind  OwnerKind = "InputBind"
	OwnerOutputBind OwnerKind = "OutputBind"
	OwnerMethodCall OwnerKind = "MethodCall"
)

// Owner identifies one IR record within a unit.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	Seq  int64     `json:"seq"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s%d", o.Kind, o.Seq)
}

// TranslationUnit is one host class being compiled.
type TranslationUnit struct {
	Package     string       `json:"package"`
	Class       string       `json:"class"`
	Parallel    bool         `json:"parallel"`
	InputBinds  []InputBind  `json:"input_binds"`
	Operations  []Operation  `json:"operations"`
	OutputBinds []OutputBind `json:"output_binds"`
	MethodCalls []MethodCall `json:"method_calls"`
}

// Name returns the fully qualified class name.
func (u *TranslationUnit) Name() string {
	if u.Package == "" {
		return u.Class
	}
	return u.Package + "." + u.Class
}

// Producers maps each collection name to the record that creates it:
// the InputBind that allocates it or the Operation whose destination it is.
// When a name is produced twice the earliest record wins.
func (u *TranslationUnit) Producers() map[string]Owner {
	producers := make(map[string]Owner)
	add := func(name string, owner Owner) {
		if prev, ok := producers[name]; ok && prev.Seq <= owner.Seq {
			return
		}
		producers[name] = owner
	}
	for _, in := range u.InputBinds {
		add(in.Collection.Name, in.Owner())
	}
	for _, op := range u.Operations {
		if op.Destination != nil && op.Type != Reduce {
			add(op.Destination.Name, op.Owner())
		}
	}
	return producers
}

// Collections maps each produced collection name to its variable.
func (u *TranslationUnit) Collections() map[string]Variable {
	vars := make(map[string]Variable)
	for _, in := range u.InputBinds {
		if _, ok := vars[in.Collection.Name]; !ok {
			vars[in.Collection.Name] = in.Collection
		}
	}
	for _, op := range u.Operations {
		if op.Destination != nil && op.Type != Reduce {
			if _, ok := vars[op.Destination.Name]; !ok {
				vars[op.Destination.Name] = *op.Destination
			}
		}
	}
	return vars
}
