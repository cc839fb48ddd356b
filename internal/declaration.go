package bindgen

import (
	"fmt"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Field is a named, typed member of a class or struct.
type Field struct {
	Name string
	Type TypeRef
}

// StaticField is a class level value with the value captured when it was
// declared.
type StaticField struct {
	Name    string
	Type    TypeRef
	Initial any
}

// Callable is a constructor, method or static method declaration. A nil
// Result means void.
type Callable struct {
	Name       string
	Params     []TypeRef
	ParamNames []string
	Result     *TypeRef
	IsStatic   bool
}

// Signature renders the callable as Name(params) -> result.
func (c *Callable) Signature() string {
	s := c.Name + "("
	for i := range c.Params {
		if i > 0 {
			s += ", "
		}
		s += c.Params[i].String()
	}
	s += ")"
	if c.Result != nil {
		s += " -> " + c.Result.String()
	}
	return s
}

func sameParams(a, b []TypeRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ClassDecl is a declared native class.
type ClassDecl struct {
	Name          string
	BaseName      string
	Constructors  []*Callable
	Methods       []*Callable
	StaticMethods []*Callable
	Fields        []Field
	StaticFields  []StaticField
}

// StructDecl is a plain value type without identity.
type StructDecl struct {
	Name   string
	Fields []Field
}

// IR is the validated declaration set, in declaration order.
type IR struct {
	Classes []*ClassDecl
	Structs []*StructDecl

	classes map[string]*ClassDecl
	structs map[string]*StructDecl
}

func (ir *IR) IsClass(name string) bool {
	_, ok := ir.classes[name]
	return ok
}

func (ir *IR) IsStruct(name string) bool {
	_, ok := ir.structs[name]
	return ok
}

// Class returns a declared class by name.
func (ir *IR) Class(name string) (*ClassDecl, bool) {
	c, ok := ir.classes[name]
	return c, ok
}

// Struct returns a declared struct by name.
func (ir *IR) Struct(name string) (*StructDecl, bool) {
	s, ok := ir.structs[name]
	return s, ok
}

// EntryOp is the kind of a registration entry.
type EntryOp uint8

const (
	OpClass EntryOp = iota + 1
	OpBase
	OpStruct
	OpConstructor
	OpMethod
	OpStaticMethod
	OpField
	OpStaticField
)

func (op EntryOp) String() string {
	switch op {
	case OpClass:
		return "class"
	case OpBase:
		return "base"
	case OpStruct:
		return "struct"
	case OpConstructor:
		return "constructor"
	case OpMethod:
		return "method"
	case OpStaticMethod:
		return "static method"
	case OpField:
		return "field"
	case OpStaticField:
		return "static field"
	}
	return "unknown"
}

// Entry is one registration. Class names the owning class for member
// entries, Name the member (or the base class for OpBase, or the struct for
// OpStruct).
type Entry struct {
	Op         EntryOp
	Class      string
	Name       string
	Params     []TypeRef
	ParamNames []string
	Result     *TypeRef
	Type       TypeRef
	Value      any
	Fields     []Field
}

// Registration helpers, in the order a declaration list is usually written.

func DeclareClass(name string) Entry {
	return Entry{Op: OpClass, Name: name}
}

func DeclareBase(class, base string) Entry {
	return Entry{Op: OpBase, Class: class, Name: base}
}

func DeclareStruct(name string, fields ...Field) Entry {
	return Entry{Op: OpStruct, Name: name, Fields: fields}
}

func DeclareConstructor(class string, params ...TypeRef) Entry {
	return Entry{Op: OpConstructor, Class: class, Params: params}
}

func DeclareMethod(class, name string, result *TypeRef, params ...TypeRef) Entry {
	return Entry{Op: OpMethod, Class: class, Name: name, Result: result, Params: params}
}

func DeclareStaticMethod(class, name string, result *TypeRef, params ...TypeRef) Entry {
	return Entry{Op: OpStaticMethod, Class: class, Name: name, Result: result, Params: params}
}

func DeclareField(class, name string, t TypeRef) Entry {
	return Entry{Op: OpField, Class: class, Name: name, Type: t}
}

func DeclareStaticField(class, name string, t TypeRef, initial any) Entry {
	return Entry{Op: OpStaticField, Class: class, Name: name, Type: t, Value: initial}
}

// Collector builds an IR from registration entries.
type Collector struct {
	logger *zap.Logger
	ir     *IR
	done   bool

	// memberKinds tracks, per class, whether a name is a field or a method.
	memberKinds map[string]map[string]memberKind
}

type memberKind uint8

const (
	memberField memberKind = iota + 1
	memberMethod
)

func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger: logger,
		ir: &IR{
			classes: map[string]*ClassDecl{},
			structs: map[string]*StructDecl{},
		},
		memberKinds: map[string]map[string]memberKind{},
	}
}

// Collect runs all entries through a new collector.
func Collect(logger *zap.Logger, entries []Entry) (*IR, error) {
	c := NewCollector(logger)
	for i := range entries {
		if err := c.Add(entries[i]); err != nil {
			return nil, fmt.Errorf("entry %d (%s %s): %w", i, entries[i].Op, entryName(entries[i]), err)
		}
	}
	return c.IR(), nil
}

func entryName(e Entry) string {
	if e.Class == "" {
		return e.Name
	}
	if e.Op == OpConstructor {
		return e.Class
	}
	return e.Class + "." + e.Name
}

// IR finishes collection. Entries added afterwards are rejected.
func (c *Collector) IR() *IR {
	c.done = true
	return c.ir
}

func (c *Collector) Add(e Entry) error {
	if c.done {
		return bgerrors.InvalidInput(bgerrors.PhaseCollect, "declarations were already consumed")
	}

	switch e.Op {
	case OpClass:
		return c.addClass(e.Name)
	case OpStruct:
		return c.addStruct(e.Name, e.Fields)
	}

	class, ok := c.ir.classes[e.Class]
	if !ok {
		return bgerrors.New(bgerrors.PhaseCollect, bgerrors.KindNoOpenDeclaration).
			Decl(entryName(e)).
			Detail("class %q is not declared", e.Class).
			Build()
	}

	switch e.Op {
	case OpBase:
		return c.addBase(class, e.Name)
	case OpConstructor:
		return c.addCallable(class, &class.Constructors, &Callable{
			Name:       class.Name,
			Params:     e.Params,
			ParamNames: e.ParamNames,
			Result:     constructorResult(class.Name, e.Result),
		})
	case OpMethod:
		if err := c.claim(class, e.Name, memberMethod); err != nil {
			return err
		}
		return c.addCallable(class, &class.Methods, &Callable{Name: e.Name, Params: e.Params, ParamNames: e.ParamNames, Result: e.Result})
	case OpStaticMethod:
		if err := c.claim(class, e.Name, memberMethod); err != nil {
			return err
		}
		return c.addCallable(class, &class.StaticMethods, &Callable{Name: e.Name, Params: e.Params, ParamNames: e.ParamNames, Result: e.Result, IsStatic: true})
	case OpField:
		if err := c.claimField(class, e.Name); err != nil {
			return err
		}
		class.Fields = append(class.Fields, Field{Name: e.Name, Type: e.Type})
	case OpStaticField:
		if err := c.claimField(class, e.Name); err != nil {
			return err
		}
		class.StaticFields = append(class.StaticFields, StaticField{Name: e.Name, Type: e.Type, Initial: e.Value})
	default:
		return bgerrors.InvalidInput(bgerrors.PhaseCollect, fmt.Sprintf("unknown entry op %d", e.Op))
	}

	return nil
}

// constructorResult is an exclusive pointer to the class unless the
// declaration asks for a shared handle.
func constructorResult(class string, declared *TypeRef) *TypeRef {
	if declared != nil && declared.Kind == KindShared {
		return Ref(SharedHandle(class))
	}
	return Ref(ExclusivePointer(class))
}

func (c *Collector) checkFreeName(name string) error {
	if name == "" {
		return bgerrors.InvalidInput(bgerrors.PhaseCollect, "declaration without a name")
	}
	if _, ok := c.ir.classes[name]; ok {
		return bgerrors.DuplicateDeclaration("class", name)
	}
	if _, ok := c.ir.structs[name]; ok {
		return bgerrors.DuplicateDeclaration("struct", name)
	}
	return nil
}

func (c *Collector) addClass(name string) error {
	if err := c.checkFreeName(name); err != nil {
		return err
	}
	class := &ClassDecl{Name: name}
	c.ir.classes[name] = class
	c.ir.Classes = append(c.ir.Classes, class)
	c.memberKinds[name] = map[string]memberKind{}
	c.logger.Debug("declared class", zap.String("class", name))
	return nil
}

func (c *Collector) addStruct(name string, fields []Field) error {
	if err := c.checkFreeName(name); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i := range fields {
		if seen[fields[i].Name] {
			return bgerrors.DuplicateDeclaration("field", name+"."+fields[i].Name)
		}
		seen[fields[i].Name] = true
	}
	s := &StructDecl{Name: name, Fields: append([]Field(nil), fields...)}
	c.ir.structs[name] = s
	c.ir.Structs = append(c.ir.Structs, s)
	c.logger.Debug("declared struct", zap.String("struct", name), zap.Int("fields", len(fields)))
	return nil
}

func (c *Collector) addBase(class *ClassDecl, base string) error {
	if class.BaseName != "" {
		return bgerrors.New(bgerrors.PhaseCollect, bgerrors.KindMultipleInheritance).
			Decl(class.Name).
			Detail("already derives from %s, cannot also derive from %s", class.BaseName, base).
			Build()
	}
	if base == class.Name {
		return bgerrors.New(bgerrors.PhaseCollect, bgerrors.KindInvalidInput).
			Decl(class.Name).
			Detail("a class cannot derive from itself").
			Build()
	}
	if _, ok := c.ir.classes[base]; !ok {
		return bgerrors.UnknownBase(class.Name, base)
	}
	class.BaseName = base
	return nil
}

func (c *Collector) claim(class *ClassDecl, name string, kind memberKind) error {
	if name == "" {
		return bgerrors.InvalidInput(bgerrors.PhaseCollect, "member without a name in "+class.Name)
	}
	existing, ok := c.memberKinds[class.Name][name]
	if ok && existing != kind {
		return bgerrors.NameCollision(class.Name, name)
	}
	c.memberKinds[class.Name][name] = kind
	return nil
}

func (c *Collector) claimField(class *ClassDecl, name string) error {
	if _, ok := c.memberKinds[class.Name][name]; ok {
		if c.memberKinds[class.Name][name] == memberField {
			return bgerrors.DuplicateDeclaration("field", class.Name+"."+name)
		}
	}
	return c.claim(class, name, memberField)
}

func (c *Collector) addCallable(class *ClassDecl, list *[]*Callable, callable *Callable) error {
	for _, existing := range *list {
		if existing.Name == callable.Name && sameParams(existing.Params, callable.Params) {
			return bgerrors.New(bgerrors.PhaseCollect, bgerrors.KindDuplicateDeclaration).
				Decl(class.Name + "." + callable.Name).
				Detail("overload %s is already declared", callable.Signature()).
				Build()
		}
	}
	if callable.Result != nil && callable.Result.Kind == KindPrimitive && callable.Result.Prim == TagVoid {
		callable.Result = nil
	}
	*list = append(*list, callable)
	return nil
}
