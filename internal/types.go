package bindgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// TypeKind is the shape of a declared type.
type TypeKind uint8

const (
	KindPrimitive TypeKind = iota + 1
	KindStruct
	KindExclusive
	KindShared
	KindBorrowed
	KindCallback
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindStruct:
		return "struct"
	case KindExclusive:
		return "exclusive pointer"
	case KindShared:
		return "shared handle"
	case KindBorrowed:
		return "borrowed reference"
	case KindCallback:
		return "callback"
	}
	return "unknown"
}

// TypeRef is a declared parameter, result or field type.
type TypeRef struct {
	Kind TypeKind
	// Prim is set for KindPrimitive.
	Prim Tag
	// Name is the class or struct name for every non primitive, non
	// callback kind.
	Name string
	// Params and Result describe a callback. A nil Result means void.
	Params []TypeRef
	Result *TypeRef
}

func PrimitiveType(t Tag) TypeRef { return TypeRef{Kind: KindPrimitive, Prim: t} }
func StructType(name string) TypeRef { return TypeRef{Kind: KindStruct, Name: name} }
func ExclusivePointer(name string) TypeRef { return TypeRef{Kind: KindExclusive, Name: name} }
func SharedHandle(name string) TypeRef { return TypeRef{Kind: KindShared, Name: name} }
func BorrowedReference(name string) TypeRef { return TypeRef{Kind: KindBorrowed, Name: name} }

// CallbackType describes a host function parameter. Pass a nil result for a
// void callback.
func CallbackType(result *TypeRef, params ...TypeRef) TypeRef {
	return TypeRef{Kind: KindCallback, Params: params, Result: result}
}

// Ref returns a pointer to a copy of t, for use as a result type.
func Ref(t TypeRef) *TypeRef {
	return &t
}

// IsHandle reports whether values of this type travel as handles.
func (t TypeRef) IsHandle() bool {
	return t.Kind == KindExclusive || t.Kind == KindShared || t.Kind == KindBorrowed
}

// IsValue reports whether values of this type are copied by value.
func (t TypeRef) IsValue() bool {
	return t.Kind == KindPrimitive || t.Kind == KindStruct
}

// Equal compares two types structurally.
func (t TypeRef) Equal(o TypeRef) bool {
	if t.Kind != o.Kind || t.Prim != o.Prim || t.Name != o.Name || len(t.Params) != len(o.Params) {
		return false
	}
	for i := range t.Params {
		if !t.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	if (t.Result == nil) != (o.Result == nil) {
		return false
	}
	return t.Result == nil || t.Result.Equal(*o.Result)
}

// String renders the type in declaration syntax, see ParseType.
func (t TypeRef) String() string {
	switch t.Kind {
	case KindPrimitive:
		return t.Prim.String()
	case KindStruct:
		return "struct " + t.Name
	case KindExclusive:
		if t.Prim == tagBareName {
			return t.Name
		}
		return t.Name + "*"
	case KindShared:
		return "shared_ptr<" + t.Name + ">"
	case KindBorrowed:
		return t.Name + "&"
	case KindCallback:
		params := make([]string, len(t.Params))
		for i := range t.Params {
			params[i] = t.Params[i].String()
		}
		s := "fn(" + strings.Join(params, ", ") + ")"
		if t.Result != nil {
			s += " -> " + t.Result.String()
		}
		return s
	}
	return "<invalid>"
}

var primitiveNames = map[string]Tag{
	"int8":    TagInt8,
	"int16":   TagInt16,
	"int32":   TagInt32,
	"int":     TagInt32,
	"int64":   TagInt64,
	"uint8":   TagUint8,
	"uint16":  TagUint16,
	"uint32":  TagUint32,
	"uint64":  TagUint64,
	"float32": TagFloat32,
	"float":   TagFloat32,
	"float64": TagFloat64,
	"double":  TagFloat64,
	"bool":    TagBool,
	"string":  TagString,
	"wstring": TagWString,
}

// ParseType parses the textual type syntax used in declaration files:
//
//	int32, string, wstring, ...  primitives
//	struct Point                 struct by value
//	ClassB*                      exclusive pointer
//	ClassB&                      borrowed reference
//	shared_ptr<ClassB>           shared handle
//	fn(int32, string) -> int32   callback, the result is optional
//
// A bare identifier that is not a primitive is returned as an exclusive
// pointer name with no marker; see Classify for how it is rejected.
func ParseType(s string) (TypeRef, error) {
	p := &typeParser{src: s}
	t, err := p.parse()
	if err != nil {
		return TypeRef{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return TypeRef{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return t, nil
}

// MustParseType is ParseType for static declarations, it panics on error.
func MustParseType(s string) TypeRef {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) errorf(format string, args ...any) error {
	return bgerrors.New(bgerrors.PhaseLoad, bgerrors.KindInvalidInput).
		Detail("type %q: %s", p.src, fmt.Sprintf(format, args...)).
		Build()
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *typeParser) parse() (TypeRef, error) {
	name := p.ident()
	switch name {
	case "":
		return TypeRef{}, p.errorf("expected a type at offset %d", p.pos)
	case "struct":
		structName := p.ident()
		if structName == "" {
			return TypeRef{}, p.errorf("struct without a name")
		}
		return StructType(structName), nil
	case "shared_ptr", "std::shared_ptr":
		if !p.accept("<") {
			return TypeRef{}, p.errorf("expected < after shared_ptr")
		}
		inner := p.ident()
		if inner == "" || !p.accept(">") {
			return TypeRef{}, p.errorf("malformed shared_ptr")
		}
		return SharedHandle(inner), nil
	case "fn":
		if !p.accept("(") {
			return TypeRef{}, p.errorf("expected ( after fn")
		}
		var params []TypeRef
		if !p.accept(")") {
			for {
				param, err := p.parse()
				if err != nil {
					return TypeRef{}, err
				}
				params = append(params, param)
				if p.accept(")") {
					break
				}
				if !p.accept(",") {
					return TypeRef{}, p.errorf("expected , or ) in callback parameters")
				}
			}
		}
		var result *TypeRef
		if p.accept("->") {
			r, err := p.parse()
			if err != nil {
				return TypeRef{}, err
			}
			if !(r.Kind == KindPrimitive && r.Prim == TagVoid) {
				result = &r
			}
		}
		return CallbackType(result, params...), nil
	case "void":
		return PrimitiveType(TagVoid), nil
	}

	if prim, ok := primitiveNames[name]; ok {
		return PrimitiveType(prim), nil
	}

	switch {
	case p.accept("*"):
		return ExclusivePointer(name), nil
	case p.accept("&"):
		return BorrowedReference(name), nil
	}

	// A bare class name. Kept distinguishable so Classify can name it.
	return TypeRef{Kind: KindExclusive, Name: name, Prim: tagBareName}, nil
}

// tagBareName marks a class name used without a pointer marker.
const tagBareName Tag = 0xff

// Strategy is how a classified type crosses the boundary.
type Strategy uint8

const (
	StrategyByValue Strategy = iota + 1
	StrategyCopyRecord
	StrategyExclusiveHandle
	StrategySharedHandle
	StrategyBorrowedHandle
	StrategyTrampoline
)

func (s Strategy) String() string {
	switch s {
	case StrategyByValue:
		return "by-value"
	case StrategyCopyRecord:
		return "copy-record"
	case StrategyExclusiveHandle:
		return "exclusive-handle"
	case StrategySharedHandle:
		return "shared-handle"
	case StrategyBorrowedHandle:
		return "borrowed-handle"
	case StrategyTrampoline:
		return "trampoline"
	}
	return "unknown"
}

// typeLookup answers which names are declared, and as what.
type typeLookup interface {
	IsClass(name string) bool
	IsStruct(name string) bool
}

// typeUse is where a type appears.
type typeUse uint8

const (
	useParam typeUse = iota
	useResult
	useField
	useStaticField
	useStructField
	useCallbackParam
	useCallbackResult
)

// Classify assigns the boundary strategy for t. Position is the parameter
// index for parameters and -1 otherwise.
func Classify(decls typeLookup, decl string, position int, use typeUse, t TypeRef) (Strategy, error) {
	fail := func(reason string) (Strategy, error) {
		return 0, bgerrors.UnmappableType(decl, position, t.String(), reason)
	}

	switch t.Kind {
	case KindPrimitive:
		if t.Prim == TagVoid {
			return fail("void is only valid as a result")
		}
		if _, ok := primitiveTypes[t.Prim]; !ok {
			return fail("unknown primitive")
		}
		return StrategyByValue, nil
	case KindStruct:
		if decls.IsClass(t.Name) {
			return fail(fmt.Sprintf("%s is a class and cannot be copied as a struct", t.Name))
		}
		if !decls.IsStruct(t.Name) {
			return fail(fmt.Sprintf("struct %s is not declared", t.Name))
		}
		return StrategyCopyRecord, nil
	case KindExclusive, KindShared, KindBorrowed:
		if t.Prim == tagBareName {
			if decls.IsStruct(t.Name) {
				return fail(fmt.Sprintf("%s is a struct, write struct %s", t.Name, t.Name))
			}
			return fail(fmt.Sprintf("class %s must be passed by pointer, reference or shared_ptr", t.Name))
		}
		if decls.IsStruct(t.Name) {
			return fail(fmt.Sprintf("%s is a struct and has no handle", t.Name))
		}
		if !decls.IsClass(t.Name) {
			return fail(fmt.Sprintf("class %s is not declared", t.Name))
		}
		switch use {
		case useStructField:
			return fail("struct fields cannot hold object handles")
		case useStaticField:
			return fail("static fields must be value types")
		}
		switch t.Kind {
		case KindShared:
			return StrategySharedHandle, nil
		case KindBorrowed:
			return StrategyBorrowedHandle, nil
		}
		return StrategyExclusiveHandle, nil
	case KindCallback:
		switch use {
		case useResult:
			return fail("callbacks cannot be returned")
		case useCallbackParam, useCallbackResult:
			return fail("callbacks cannot be nested")
		case useField, useStaticField, useStructField:
			return fail("callbacks cannot be stored in fields")
		}
		for i := range t.Params {
			if _, err := Classify(decls, decl, position, useCallbackParam, t.Params[i]); err != nil {
				return 0, err
			}
		}
		if t.Result != nil {
			if _, err := Classify(decls, decl, position, useCallbackResult, *t.Result); err != nil {
				return 0, err
			}
		}
		return StrategyTrampoline, nil
	}

	return fail("unknown type kind")
}

// registeredType is the codec of one primitive kind.
type registeredType interface {
	Tag() Tag
	Name() string
	GoType() string
	CppType() string
	// FromGo accepts the Go value of exactly this kind.
	FromGo(o any) (Value, error)
	ToGo(v Value) any
	NativeType() api.ValueType
	ToWireType(ctx context.Context, mod api.Module, destructors *[]*destructorFunc, v Value) (uint64, error)
	FromWireType(ctx context.Context, mod api.Module, wt uint64) (Value, error)
}

type baseType struct {
	tag  Tag
	name string
}

func (bt *baseType) Tag() Tag {
	return bt.tag
}

func (bt *baseType) Name() string {
	return bt.name
}

func (bt *baseType) NativeType() api.ValueType {
	return api.ValueTypeI32
}

var primitiveTypes = map[Tag]registeredType{}

func registerPrimitive(t registeredType) {
	primitiveTypes[t.Tag()] = t
}

// PrimitiveGoType returns the Go type name for a primitive tag.
func PrimitiveGoType(t Tag) string {
	if rt, ok := primitiveTypes[t]; ok {
		return rt.GoType()
	}
	return "any"
}

// PrimitiveCppType returns the C++ type name for a primitive tag.
func PrimitiveCppType(t Tag) string {
	if rt, ok := primitiveTypes[t]; ok {
		return rt.CppType()
	}
	return "void"
}
