package bindgen

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// FieldBinding is a readable and writable class field.
type FieldBinding struct {
	Field
	Owner     string
	Strategy  Strategy
	GetSymbol string
	SetSymbol string
}

// StaticFieldBinding is a class level value. Native code holds it, the
// engine writes Initial through SetSymbol before the first call.
type StaticFieldBinding struct {
	StaticField
	Owner     string
	Initial   Value
	GetSymbol string
	SetSymbol string
}

// ClassType is a linked class: its own declaration plus everything it
// inherits, flattened.
type ClassType struct {
	decl      *ClassDecl
	name      string
	baseClass *ClassType
	// ancestors runs from the class itself up to the root.
	ancestors []string
	// descendants holds every subclass in declaration order.
	descendants []*ClassType

	constructors  *Group
	methods       map[string]*Group
	staticMethods map[string]*Group
	fields        map[string]*FieldBinding
	staticFields  map[string]*StaticFieldBinding

	deleteSymbol  string
	shareSymbol   string
	unshareSymbol string
}

func (ct *ClassType) Name() string {
	return ct.name
}

func (ct *ClassType) Decl() *ClassDecl {
	return ct.decl
}

func (ct *ClassType) Base() string {
	if ct.baseClass == nil {
		return ""
	}
	return ct.baseClass.name
}

// Ancestors returns the class and its bases, most derived first.
func (ct *ClassType) Ancestors() []string {
	return ct.ancestors
}

// IsA reports whether the class is name or derives from it.
func (ct *ClassType) IsA(name string) bool {
	for _, a := range ct.ancestors {
		if a == name {
			return true
		}
	}
	return false
}

// Polymorphic reports whether instances may be of a declared subclass, in
// which case native pointers are resolved through TypeIDSymbol.
func (ct *ClassType) Polymorphic() bool {
	return len(ct.descendants) > 0
}

// Subclasses lists every declared subclass, most derived first.
func (ct *ClassType) Subclasses() []string {
	out := make([]string, 0, len(ct.descendants))
	for i := len(ct.descendants) - 1; i >= 0; i-- {
		out = append(out, ct.descendants[i].name)
	}
	return out
}

func (ct *ClassType) Constructible() bool {
	return ct.constructors != nil && len(ct.constructors.Candidates) > 0
}

func (ct *ClassType) Constructors() *Group {
	return ct.constructors
}

func (ct *ClassType) Method(name string) (*Group, bool) {
	g, ok := ct.methods[name]
	return g, ok
}

func (ct *ClassType) StaticMethod(name string) (*Group, bool) {
	g, ok := ct.staticMethods[name]
	return g, ok
}

func (ct *ClassType) FieldBinding(name string) (*FieldBinding, bool) {
	f, ok := ct.fields[name]
	return f, ok
}

func (ct *ClassType) StaticFieldBinding(name string) (*StaticFieldBinding, bool) {
	f, ok := ct.staticFields[name]
	return f, ok
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MethodNames lists every callable method, inherited ones included.
func (ct *ClassType) MethodNames() []string {
	return sortedKeys(ct.methods)
}

func (ct *ClassType) StaticMethodNames() []string {
	return sortedKeys(ct.staticMethods)
}

func (ct *ClassType) FieldNames() []string {
	return sortedKeys(ct.fields)
}

func (ct *ClassType) StaticFieldNames() []string {
	return sortedKeys(ct.staticFields)
}

// upcast walks the ancestor chain from ptrClass to desired. Single
// inheritance keeps the base subobject at offset zero, so the address does
// not change.
func upcast(addr uint64, ptrClass *ClassType, desired string) (uint64, error) {
	for c := ptrClass; c != nil; c = c.baseClass {
		if c.name == desired {
			return addr, nil
		}
	}
	return 0, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindTypeMismatch).
		Detail("expected null or instance of %s, got an instance of %s", desired, ptrClass.name).
		Build()
}

// Bindings is the linked, immutable form of an IR that both the generator
// and the engine work from.
type Bindings struct {
	ir      *IR
	classes map[string]*ClassType
	order   []*ClassType
}

func (b *Bindings) IR() *IR {
	return b.ir
}

func (b *Bindings) Classes() []*ClassType {
	return b.order
}

func (b *Bindings) Class(name string) (*ClassType, bool) {
	c, ok := b.classes[name]
	return c, ok
}

func (b *Bindings) Struct(name string) (*StructDecl, bool) {
	return b.ir.Struct(name)
}

func (b *Bindings) Structs() []*StructDecl {
	return b.ir.Structs
}

// Symbols lists every native symbol the bindings need.
func (b *Bindings) Symbols() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, c := range b.order {
		add(c.deleteSymbol)
		add(c.shareSymbol)
		add(c.unshareSymbol)
		if c.constructors != nil {
			for _, cand := range c.constructors.Candidates {
				add(cand.Symbol)
			}
		}
		for _, name := range c.MethodNames() {
			for _, cand := range c.methods[name].Candidates {
				add(cand.Symbol)
			}
		}
		for _, name := range c.StaticMethodNames() {
			for _, cand := range c.staticMethods[name].Candidates {
				add(cand.Symbol)
			}
		}
		for _, name := range c.FieldNames() {
			add(c.fields[name].GetSymbol)
			add(c.fields[name].SetSymbol)
		}
		for _, name := range c.StaticFieldNames() {
			add(c.staticFields[name].GetSymbol)
			add(c.staticFields[name].SetSymbol)
		}
		if c.Polymorphic() {
			add(TypeIDSymbol(c.name))
		}
	}
	return out
}

// Link validates every type in the IR and builds the flattened dispatch
// tables. Classes are linked in declaration order, which puts every base
// before its subclasses.
func Link(logger *zap.Logger, ir *IR) (*Bindings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bindings{
		ir:      ir,
		classes: map[string]*ClassType{},
	}

	for _, s := range ir.Structs {
		for i := range s.Fields {
			if _, err := Classify(ir, s.Name+"."+s.Fields[i].Name, -1, useStructField, s.Fields[i].Type); err != nil {
				return nil, err
			}
		}
	}
	if err := checkStructCycles(ir); err != nil {
		return nil, err
	}

	for _, decl := range ir.Classes {
		ct, err := b.linkClass(decl)
		if err != nil {
			return nil, err
		}
		b.classes[decl.Name] = ct
		b.order = append(b.order, ct)
		for base := ct.baseClass; base != nil; base = base.baseClass {
			base.descendants = append(base.descendants, ct)
		}
		logger.Debug("linked class",
			zap.String("class", ct.name),
			zap.Strings("ancestors", ct.ancestors),
			zap.Int("methods", len(ct.methods)),
			zap.Int("fields", len(ct.fields)),
		)
	}

	return b, nil
}

func checkStructCycles(ir *IR) error {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return bgerrors.UnmappableType(name, -1, "struct "+name, "struct contains itself by value")
		case done:
			return nil
		}
		state[name] = visiting
		s, _ := ir.Struct(name)
		for _, f := range s.Fields {
			if f.Type.Kind == KindStruct {
				if err := visit(f.Type.Name); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}
	for _, s := range ir.Structs {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bindings) classifyCallable(owner string, c *Callable) error {
	decl := owner + "." + c.Name
	if c.Name == owner {
		decl = owner + ".new"
	}
	for i := range c.Params {
		if _, err := Classify(b.ir, decl, i, useParam, c.Params[i]); err != nil {
			return err
		}
	}
	if c.Result != nil {
		if _, err := Classify(b.ir, decl, -1, useResult, *c.Result); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bindings) linkClass(decl *ClassDecl) (*ClassType, error) {
	ct := &ClassType{
		decl:          decl,
		name:          decl.Name,
		methods:       map[string]*Group{},
		staticMethods: map[string]*Group{},
		fields:        map[string]*FieldBinding{},
		staticFields:  map[string]*StaticFieldBinding{},
		deleteSymbol:  DeleteSymbol(decl.Name),
		shareSymbol:   ShareSymbol(decl.Name),
		unshareSymbol: UnshareSymbol(decl.Name),
	}

	if decl.BaseName != "" {
		base, ok := b.classes[decl.BaseName]
		if !ok {
			return nil, bgerrors.UnknownBase(decl.Name, decl.BaseName)
		}
		ct.baseClass = base
		ct.ancestors = append([]string{decl.Name}, base.ancestors...)

		// Inherit first, own declarations replace by name below.
		for name, g := range base.methods {
			ct.methods[name] = g
		}
		for name, f := range base.fields {
			ct.fields[name] = f
		}
	} else {
		ct.ancestors = []string{decl.Name}
	}

	// Constructors are never inherited.
	if len(decl.Constructors) > 0 {
		ct.constructors = &Group{Name: decl.Name}
		for i, c := range decl.Constructors {
			if err := b.classifyCallable(decl.Name, c); err != nil {
				return nil, err
			}
			ct.constructors.Candidates = append(ct.constructors.Candidates, &Candidate{
				Kind:     CandidateConstructor,
				Owner:    decl.Name,
				Callable: c,
				Index:    i,
				Symbol:   constructorSymbol(decl.Name, i),
			})
		}
	}

	own := map[string]*Group{}
	for _, m := range decl.Methods {
		if err := b.classifyCallable(decl.Name, m); err != nil {
			return nil, err
		}
		g, ok := own[m.Name]
		if !ok {
			g = &Group{Name: m.Name}
			own[m.Name] = g
		}
		g.Candidates = append(g.Candidates, &Candidate{
			Kind:     CandidateMethod,
			Owner:    decl.Name,
			Callable: m,
			Index:    len(g.Candidates),
			Symbol:   methodSymbol(decl.Name, m.Name, len(g.Candidates)),
		})
	}
	for name, g := range own {
		ct.methods[name] = g
	}

	for _, m := range decl.StaticMethods {
		if err := b.classifyCallable(decl.Name, m); err != nil {
			return nil, err
		}
		g, ok := ct.staticMethods[m.Name]
		if !ok {
			g = &Group{Name: m.Name}
			ct.staticMethods[m.Name] = g
		}
		g.Candidates = append(g.Candidates, &Candidate{
			Kind:     CandidateStatic,
			Owner:    decl.Name,
			Callable: m,
			Index:    len(g.Candidates),
			Symbol:   staticMethodSymbol(decl.Name, m.Name, len(g.Candidates)),
		})
	}

	for _, f := range decl.Fields {
		strategy, err := Classify(b.ir, decl.Name+"."+f.Name, -1, useField, f.Type)
		if err != nil {
			return nil, err
		}
		ct.fields[f.Name] = &FieldBinding{
			Field:     f,
			Owner:     decl.Name,
			Strategy:  strategy,
			GetSymbol: getterSymbol(decl.Name, f.Name),
			SetSymbol: setterSymbol(decl.Name, f.Name),
		}
	}

	// An own field hides an inherited method of the same name and the other
	// way around.
	for _, f := range decl.Fields {
		delete(ct.methods, f.Name)
	}
	for name := range own {
		if inherited, ok := ct.fields[name]; ok && inherited.Owner != decl.Name {
			delete(ct.fields, name)
		}
	}

	for _, sf := range decl.StaticFields {
		if _, err := Classify(b.ir, decl.Name+"."+sf.Name, -1, useStaticField, sf.Type); err != nil {
			return nil, err
		}
		initial, err := b.captureStatic(decl.Name, sf)
		if err != nil {
			return nil, err
		}
		ct.staticFields[sf.Name] = &StaticFieldBinding{
			StaticField: sf,
			Owner:       decl.Name,
			Initial:     initial,
			GetSymbol:   staticGetterSymbol(decl.Name, sf.Name),
			SetSymbol:   staticSetterSymbol(decl.Name, sf.Name),
		}
	}

	return ct, nil
}

// captureStatic converts the declared initial value into a wire value of
// the field type. A missing value is the zero value.
func (b *Bindings) captureStatic(class string, sf StaticField) (Value, error) {
	conv := &converter{bindings: b}
	if sf.Initial == nil {
		return conv.zero(sf.Type), nil
	}
	v, err := conv.hostToValue(sf.Initial, nil)
	if err != nil {
		return Value{}, bgerrors.New(bgerrors.PhaseLink, bgerrors.KindTypeMismatch).
			Decl(class + "." + sf.Name).
			Cause(err).
			Build()
	}
	out, ok := conv.coerce(v, sf.Type)
	if !ok {
		return Value{}, bgerrors.New(bgerrors.PhaseLink, bgerrors.KindTypeMismatch).
			Decl(class + "." + sf.Name).
			Detail("initial value %s does not fit %s", v, sf.Type).
			Build()
	}
	return out, nil
}

func (b *Bindings) String() string {
	return fmt.Sprintf("Bindings(%d classes, %d structs)", len(b.order), len(b.ir.Structs))
}
