package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lambda"
)

var (
	javaIdentifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	javaPackage    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Validate checks the shape of a translation unit before lowering.
// Returns all errors found (does not fail-fast). Every error is a
// *diag.Error naming the offending record.
func Validate(u *ir.TranslationUnit) []error {
	var errs []error

	if !javaIdentifier.MatchString(u.Class) {
		errs = append(errs, diag.Errorf(diag.MalformedOperation, diag.UnitRecord,
			"class name %q is not a valid identifier", u.Class))
	}
	if u.Package != "" && !javaPackage.MatchString(u.Package) {
		errs = append(errs, diag.Errorf(diag.MalformedOperation, diag.UnitRecord,
			"package %q is not a valid package name", u.Package))
	}

	errs = append(errs, validateSequence(u)...)
	errs = append(errs, validateProducers(u)...)

	producers := u.Producers()
	for _, in := range u.InputBinds {
		errs = append(errs, validateInputBind(in)...)
	}
	for _, op := range u.Operations {
		errs = append(errs, validateOperation(op)...)
		errs = append(errs, checkProducer(producers, op.Collection, op.Seq, diag.ForOperation(op))...)
	}
	for _, out := range u.OutputBinds {
		errs = append(errs, validateOutputBind(out)...)
		errs = append(errs, checkProducer(producers, out.Collection, out.Seq, diag.ForOutputBind(out))...)
	}
	for _, c := range u.MethodCalls {
		errs = append(errs, validateMethodCall(c)...)
		errs = append(errs, checkProducer(producers, c.Collection, c.Seq, diag.ForMethodCall(c))...)
	}
	return errs
}

// validateSequence checks that every record has a distinct seq.
func validateSequence(u *ir.TranslationUnit) []error {
	var errs []error
	seen := make(map[int64]ir.Owner)
	check := func(owner ir.Owner) {
		if prev, ok := seen[owner.Seq]; ok {
			errs = append(errs, diag.Errorf(diag.MalformedOperation, diag.Record{Owner: owner},
				"seq %d already used by %s", owner.Seq, prev))
			return
		}
		seen[owner.Seq] = owner
	}
	for _, in := range u.InputBinds {
		check(in.Owner())
	}
	for _, op := range u.Operations {
		check(op.Owner())
	}
	for _, out := range u.OutputBinds {
		check(out.Owner())
	}
	for _, c := range u.MethodCalls {
		check(c.Owner())
	}
	return errs
}

// validateProducers checks that no collection name is created twice. Each
// produced collection owns its buffers, so rebinding a name (b = b.map(...))
// would alias the source and the destination of one kernel.
func validateProducers(u *ir.TranslationUnit) []error {
	type produced struct {
		name  string
		owner ir.Owner
		rec   diag.Record
	}
	var all []produced
	for _, in := range u.InputBinds {
		all = append(all, produced{in.Collection.Name, in.Owner(), diag.ForInputBind(in)})
	}
	for _, op := range u.Operations {
		if op.Destination != nil && op.Type != ir.Reduce {
			all = append(all, produced{op.Destination.Name, op.Owner(), diag.ForOperation(op)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].owner.Seq < all[j].owner.Seq })

	var errs []error
	first := make(map[string]ir.Owner)
	for _, p := range all {
		if prev, ok := first[p.name]; ok {
			errs = append(errs, diag.Errorf(diag.MalformedOperation, p.rec,
				"collection %q is already created by %s", p.name, prev))
			continue
		}
		first[p.name] = p.owner
	}
	return errs
}

func checkProducer(producers map[string]ir.Owner, coll ir.Variable, seq int64, rec diag.Record) []error {
	owner, ok := producers[coll.Name]
	if !ok {
		return []error{diag.Errorf(diag.MalformedOperation, rec, "collection %q is never created", coll.Name)}
	}
	if owner.Seq >= seq {
		return []error{diag.Errorf(diag.MalformedOperation, rec,
			"collection %q is used before %s creates it", coll.Name, owner)}
	}
	return nil
}

func validateCollection(v ir.Variable, rec diag.Record) []error {
	d := v.Domain()
	if d.Kind() != ir.KindCollection {
		return []error{diag.Errorf(diag.UnsupportedBackendType, rec, "%q is not a collection type", v.FullType())}
	}
	if d == ir.TypeArray {
		elem, ok := ir.ParseDomainType(v.TypeParameter)
		if !ok || elem.Kind() != ir.KindScalar {
			return []error{diag.Errorf(diag.UnsupportedBackendType, rec, "array element type %q is not supported", v.TypeParameter)}
		}
	} else if v.TypeParameter != "" {
		return []error{diag.Errorf(diag.MalformedOperation, rec, "%s takes no type parameter", d)}
	}
	return nil
}

func validateOperation(op ir.Operation) []error {
	rec := diag.ForOperation(op)
	if errs := validateCollection(op.Collection, rec); len(errs) > 0 {
		return errs
	}

	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, diag.Errorf(diag.MalformedOperation, rec, format, args...))
	}

	domain := op.Collection.Domain()
	elem := op.Collection.Element()

	if (op.Type == ir.Map || op.Type == ir.Filter) && domain != ir.TypeArray {
		bad("%s is only defined on Array, not %s", op.Type, domain)
	}

	args := op.Function.Arguments
	if len(args) != op.Type.Arity() {
		bad("%s takes %d argument(s), got %d", op.Type, op.Type.Arity(), len(args))
	}
	for _, a := range args {
		if a.Domain() != elem {
			bad("argument %q has type %s, want %s", a.Name, a.FullType(), elem)
		}
	}

	switch {
	case op.Type.HasDestination() && op.Destination == nil:
		bad("%s requires a destination", op.Type)
	case !op.Type.HasDestination() && op.Destination != nil:
		bad("%s has no destination", op.Type)
	case op.Destination != nil:
		errs = append(errs, validateDestination(op, elem)...)
	}

	argNames := make(map[string]bool, len(args))
	for _, a := range args {
		argNames[a.Name] = true
	}
	extNames := make(map[string]bool, len(op.Externals))
	for _, ext := range op.Externals {
		if argNames[ext.Name] {
			bad("external %q shadows a lambda argument", ext.Name)
		}
		if extNames[ext.Name] {
			bad("external %q is listed twice", ext.Name)
		}
		extNames[ext.Name] = true
		d := ext.Domain()
		if d == ir.TypeUnknown || d.Kind() == ir.KindCollection || d == ir.TypePixel {
			errs = append(errs, diag.Errorf(diag.UnsupportedBackendType, rec,
				"external %q of type %s cannot be captured", ext.Name, ext.FullType()))
		}
		if ext.IsFinal() && lambda.Assigns(op.Function.Code, ext.Name) {
			bad("body assigns final variable %q", ext.Name)
		}
	}

	if err := lambda.Balanced(lambda.Tokenize(op.Function.Code)); err != nil {
		bad("lambda body: %v", err)
	}

	if err := CheckCaptures(op); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func validateDestination(op ir.Operation, elem ir.DomainType) []error {
	rec := diag.ForOperation(op)
	dest := *op.Destination
	switch op.Type {
	case ir.Reduce:
		if dest.Domain() != elem && !(elem == ir.TypePixel && dest.Domain() == ir.TypeRGBA) {
			return []error{diag.Errorf(diag.MalformedOperation, rec,
				"reduce destination %q has type %s, want %s", dest.Name, dest.FullType(), elem)}
		}
	case ir.Map, ir.Filter:
		if dest.Domain() != ir.TypeArray {
			return []error{diag.Errorf(diag.MalformedOperation, rec,
				"%s destination %q must be an Array", op.Type, dest.Name)}
		}
		if errs := validateCollection(dest, rec); len(errs) > 0 {
			return errs
		}
		if op.Type == ir.Filter && dest.TypeParameter != op.Collection.TypeParameter {
			return []error{diag.Errorf(diag.MalformedOperation, rec,
				"filter destination %q must keep element type %s", dest.Name, op.Collection.TypeParameter)}
		}
	}
	return nil
}

// CheckCaptures reports the first free identifier of the body that is
// neither a lambda argument nor a declared external.
func CheckCaptures(op ir.Operation) error {
	bound := make([]string, 0, len(op.Function.Arguments)+len(op.Externals))
	for _, a := range op.Function.Arguments {
		bound = append(bound, a.Name)
	}
	for _, ext := range op.Externals {
		bound = append(bound, ext.Name)
	}
	free := lambda.FreeIdentifiers(op.Function.Code, bound)
	if len(free) == 0 {
		return nil
	}
	return diag.Errorf(diag.UnresolvedCapture, diag.ForOperation(op),
		"body references %s with no captured variable", quoteAll(free))
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, ", ")
}

// inputContract lists the accepted parameter type names per collection
// type, class literals excluded.
var inputContract = map[ir.DomainType][][]string{
	ir.TypeBitmapImage: {{"Bitmap"}},
	ir.TypeHDRImage:    {{"byte[]"}, {"int", "Integer"}, {"int", "Integer"}},
}

func validateInputBind(in ir.InputBind) []error {
	rec := diag.ForInputBind(in)
	if errs := validateCollection(in.Collection, rec); len(errs) > 0 {
		return errs
	}

	var params []ir.Parameter
	for _, p := range in.Parameters {
		if !p.IsClassLiteral() {
			params = append(params, p)
		}
	}

	d := in.Collection.Domain()
	want := inputContract[d]
	if d == ir.TypeArray {
		want = [][]string{hostArrayTypes(in.Collection.TypeParameter)}
	}
	if len(params) != len(want) {
		return []error{diag.Errorf(diag.MalformedOperation, rec,
			"%s takes %d constructor argument(s), got %d", d, len(want), len(params))}
	}
	for i, p := range params {
		if p.TypeName == "" {
			continue
		}
		if !contains(want[i], p.TypeName) {
			return []error{diag.Errorf(diag.MalformedOperation, rec,
				"argument %d (%s) has type %s, want %s", i, p.Text, p.TypeName, strings.Join(want[i], " or "))}
		}
	}
	return nil
}

// hostArrayTypes lists the Java array types that can back Array<elem>.
func hostArrayTypes(elem string) []string {
	d, ok := ir.ParseDomainType(elem)
	if !ok {
		return []string{elem + "[]"}
	}
	switch d {
	case ir.TypeInt16:
		return []string{"short[]"}
	case ir.TypeInt32:
		return []string{"int[]"}
	case ir.TypeFloat32:
		return []string{"float[]"}
	case ir.TypeBool:
		return []string{"boolean[]"}
	default:
		return []string{elem + "[]"}
	}
}

func validateOutputBind(out ir.OutputBind) []error {
	rec := diag.ForOutputBind(out)
	if errs := validateCollection(out.Collection, rec); len(errs) > 0 {
		return errs
	}
	d := out.Collection.Domain()
	var want []string
	if d == ir.TypeArray {
		want = hostArrayTypes(out.Collection.TypeParameter)
	} else {
		want = []string{"Bitmap"}
	}
	if !contains(want, out.Destination.TypeName) {
		return []error{diag.Errorf(diag.MalformedOperation, rec,
			"destination %q has type %s, want %s", out.Destination.Name, out.Destination.TypeName, strings.Join(want, " or "))}
	}
	return nil
}

// PlainMethods lists the collection methods lowered as plain calls.
var PlainMethods = map[ir.DomainType][]string{
	ir.TypeArray:       {"getLength"},
	ir.TypeBitmapImage: {"getWidth", "getHeight"},
	ir.TypeHDRImage:    {"getWidth", "getHeight"},
}

func validateMethodCall(c ir.MethodCall) []error {
	rec := diag.ForMethodCall(c)
	if errs := validateCollection(c.Collection, rec); len(errs) > 0 {
		return errs
	}
	if !contains(PlainMethods[c.Collection.Domain()], c.Method) {
		return []error{diag.Errorf(diag.MalformedOperation, rec,
			"%s has no method %q", c.Collection.Domain(), c.Method)}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
