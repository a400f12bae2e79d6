// Package naming issues the identifiers used in generated code.
//
// Every identifier is derived from a role prefix, a base name and the IR
// record that owns it, e.g. gMaxOperation2 for the external "max" of
// Operation2. Requests are memoized, so asking twice for the same key
// returns the same identifier. Two different keys that would produce the
// same identifier are reported as a NamingCollision.
package naming

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
)

// Role selects the prefix of a generated identifier.
type Role int

const (
	External Role = iota
	ExternalOut
	OutBuffer
	Buffer
	Temp
	Binding
	Scalar
	Kernel
	Function
	Method
	Native
)

var rolePrefixes = map[Role]string{
	External:    "g",
	ExternalOut: "o",
	OutBuffer:   "b",
	Buffer:      "m",
	Temp:        "t",
	Binding:     "a",
	Scalar:      "s",
	Kernel:      "k",
	Function:    "f",
	Method:      "",
	Native:      "native",
}

var roleNames = map[Role]string{
	External:    "external",
	ExternalOut: "external-out",
	OutBuffer:   "out-buffer",
	Buffer:      "buffer",
	Temp:        "temp",
	Binding:     "binding",
	Scalar:      "scalar",
	Kernel:      "kernel",
	Function:    "function",
	Method:      "method",
	Native:      "native",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Prefix returns the identifier prefix of the role.
func (r Role) Prefix() string {
	return rolePrefixes[r]
}

// ReservedPrefix marks identifiers that belong to fixed generated code.
const ReservedPrefix = "PM_"

// generatedShape matches identifiers that Fresh can produce for an
// operation-owned role.
var generatedShape = regexp.MustCompile(`^(?:[gobmtaskf]|native)(?:[A-Z]|_[0-3u])[A-Za-z0-9_]*(?:Operation|InputBind|OutputBind|MethodCall)[0-9]+$`)

// Key identifies one naming request.
type Key struct {
	Role  Role
	Base  string
	Owner ir.Owner
}

// Issued is one identifier handed out by an Authority.
type Issued struct {
	Key   Key
	Ident string
}

// Authority hands out identifiers for one translation unit. It is safe
// for concurrent use.
type Authority struct {
	mu      sync.Mutex
	byKey   map[Key]string
	byIdent map[string]Key
}

// New returns an empty Authority.
func New() *Authority {
	return &Authority{
		byKey:   make(map[Key]string),
		byIdent: make(map[string]Key),
	}
}

// Fresh returns the identifier for (role, base, owner), creating it on
// first use.
func (a *Authority) Fresh(role Role, base string, owner ir.Owner) (string, error) {
	key := Key{Role: role, Base: base, Owner: owner}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ident, ok := a.byKey[key]; ok {
		return ident, nil
	}
	ident := Format(role, base, owner)
	if prev, ok := a.byIdent[ident]; ok {
		return "", diag.Errorf(diag.NamingCollision, diag.Record{Owner: owner},
			"%q requested as %s %q also issued as %s %q of %s", ident, role, base, prev.Role, prev.Base, prev.Owner)
	}
	a.byKey[key] = ident
	a.byIdent[ident] = key
	return ident, nil
}

// Issued lists every identifier handed out so far, sorted by identifier.
func (a *Authority) Issued() []Issued {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Issued, 0, len(a.byKey))
	for k, ident := range a.byKey {
		out = append(out, Issued{Key: k, Ident: ident})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident < out[j].Ident })
	return out
}

// Format renders the identifier for a key without recording it.
func Format(role Role, base string, owner ir.Owner) string {
	clean := sanitize(base)
	if variableRoles[role] && clean[0] >= 'A' && clean[0] <= 'Z' {
		clean = "_3" + clean
	}
	switch role {
	case Method:
		return fmt.Sprintf("%s%d", lowerFirst(clean), owner.Seq)
	case Native:
		return fmt.Sprintf("native%s%d", upperFirst(clean), owner.Seq)
	default:
		return fmt.Sprintf("%s%s%s%d", role.Prefix(), upperFirst(clean), owner.Kind, owner.Seq)
	}
}

// Reserved reports whether a user identifier falls into the generated
// namespace and would shadow or be shadowed by generated code.
func Reserved(ident string) bool {
	return strings.HasPrefix(ident, ReservedPrefix) || generatedShape.MatchString(ident)
}

// ConversionKernel returns the fixed name of an image conversion kernel.
// toFloat selects the input direction.
func ConversionKernel(d ir.DomainType, toFloat bool) string {
	if toFloat {
		return "kToFloat" + d.String()
	}
	return "kToBitmap" + d.String()
}

// sanitize maps a Java identifier onto ASCII letters and digits plus
// escapes, keeping distinct inputs distinct. Every escape starts with '_'
// followed by a code no other escape starts with:
//
//	_0        empty base
//	_1        '_'
//	_2        '$'
//	_3        upper-case first letter of a variable base (see Format)
//	_uXXXXXX  any other rune, six hex digits
func sanitize(s string) string {
	if s == "" {
		return "_0"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '_':
			b.WriteString("_1")
		case r == '$':
			b.WriteString("_2")
		default:
			fmt.Fprintf(&b, "_u%06X", r)
		}
	}
	return b.String()
}

// variableRoles name user or collection variables. Their bases are
// capitalized after the prefix, so a base that is already capitalized is
// escaped to stay apart from its lower-case twin ("Max" and "max").
var variableRoles = map[Role]bool{
	External:    true,
	ExternalOut: true,
	OutBuffer:   true,
	Buffer:      true,
	Temp:        true,
	Binding:     true,
	Scalar:      true,
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
