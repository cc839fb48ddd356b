package generator

import (
	"fmt"
	"strings"

	bindgen "github.com/jerbob92/wazero-bindgen"
	internal "github.com/jerbob92/wazero-bindgen/internal"
)

type CppData struct {
	Source  string
	Structs []CppStruct
	Classes []CppClass
}

type CppStruct struct {
	Name  string
	Size  int
	Read  []string
	Write []string
}

type CppClass struct {
	Name   string
	Thunks []CppThunk
}

type CppThunk struct {
	Comment string
	Symbol  string
	Result  string
	Params  []string
	Body    []string
}

// GenerateCpp renders the native glue: one exported thunk per candidate,
// field accessor, static field accessor, type id and lifecycle symbol, plus
// the struct slot helpers.
func GenerateCpp(bindings *bindgen.Bindings, source string) ([]byte, error) {
	data := CppData{Source: source}

	structs, err := structOrder(bindings)
	if err != nil {
		return nil, err
	}
	for _, s := range structs {
		data.Structs = append(data.Structs, cppStruct(s))
	}

	for _, class := range bindings.Classes() {
		data.Classes = append(data.Classes, cppClass(class))
	}

	return ExecuteTemplate("bindings.cpp.tmpl", data)
}

// structOrder puts every struct after the structs it embeds.
func structOrder(bindings *bindgen.Bindings) ([]*internal.StructDecl, error) {
	var out []*internal.StructDecl
	state := map[string]int{}

	var visit func(s *internal.StructDecl) error
	visit = func(s *internal.StructDecl) error {
		switch state[s.Name] {
		case 1:
			return fmt.Errorf("struct %s contains itself", s.Name)
		case 2:
			return nil
		}
		state[s.Name] = 1
		for _, f := range s.Fields {
			if f.Type.Kind != internal.KindStruct {
				continue
			}
			dep, ok := bindings.Struct(f.Type.Name)
			if !ok {
				return fmt.Errorf("struct %s: unknown struct %s", s.Name, f.Type.Name)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[s.Name] = 2
		out = append(out, s)
		return nil
	}

	for _, s := range bindings.Structs() {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cppStruct(s *internal.StructDecl) CppStruct {
	out := CppStruct{Name: s.Name, Size: len(s.Fields)}
	if out.Size == 0 {
		out.Size = 1
	}
	for i, f := range s.Fields {
		slot := fmt.Sprintf("slots[%d]", i)
		out.Read = append(out.Read, fmt.Sprintf("v.%s = %s;", f.Name, fromSlot(f.Type, slot, "take")))
		out.Write = append(out.Write, fmt.Sprintf("%s = %s;", slot, toSlot(f.Type, "v."+f.Name)))
	}
	return out
}

func cppClass(class *internal.ClassType) CppClass {
	name := class.Name()
	self := "self"
	out := CppClass{Name: name}

	if class.Constructible() {
		for _, cand := range class.Constructors().Candidates {
			params, args := cppParams(cand.Params())
			var body string
			if cand.Result() != nil && cand.Result().Kind == internal.KindShared {
				body = fmt.Sprintf("return bindgen::share(std::make_shared<%s>(%s));", name, strings.Join(args, ", "))
			} else {
				body = fmt.Sprintf("return new %s(%s);", name, strings.Join(args, ", "))
			}
			out.Thunks = append(out.Thunks, CppThunk{
				Comment: cand.String(),
				Symbol:  cand.Symbol,
				Result:  cppResultType(cand.Result()),
				Params:  params,
				Body:    []string{body},
			})
		}
	}

	// Inherited members keep the thunk of the class that declares them.
	for _, methodName := range class.MethodNames() {
		g, _ := class.Method(methodName)
		for _, cand := range g.Candidates {
			if cand.Owner != name {
				continue
			}
			params, args := cppParams(cand.Params())
			call := fmt.Sprintf("%s->%s(%s)", self, cand.Callable.Name, strings.Join(args, ", "))
			out.Thunks = append(out.Thunks, CppThunk{
				Comment: cand.String(),
				Symbol:  cand.Symbol,
				Result:  cppResultType(cand.Result()),
				Params:  append([]string{name + "* " + self}, params...),
				Body:    []string{returnStatement(cand.Result(), call)},
			})
		}
	}

	for _, methodName := range class.StaticMethodNames() {
		g, _ := class.StaticMethod(methodName)
		for _, cand := range g.Candidates {
			if cand.Owner != name {
				continue
			}
			params, args := cppParams(cand.Params())
			call := fmt.Sprintf("%s::%s(%s)", name, cand.Callable.Name, strings.Join(args, ", "))
			out.Thunks = append(out.Thunks, CppThunk{
				Comment: cand.String(),
				Symbol:  cand.Symbol,
				Result:  cppResultType(cand.Result()),
				Params:  params,
				Body:    []string{returnStatement(cand.Result(), call)},
			})
		}
	}

	for _, fieldName := range class.FieldNames() {
		f, _ := class.FieldBinding(fieldName)
		if f.Owner != name {
			continue
		}
		member := fmt.Sprintf("%s->%s", self, f.Name)
		out.Thunks = append(out.Thunks, CppThunk{
			Comment: fmt.Sprintf("%s::%s getter", name, f.Name),
			Symbol:  f.GetSymbol,
			Result:  cppResultType(&f.Type),
			Params:  []string{name + "* " + self},
			Body:    []string{returnStatement(&f.Type, member)},
		}, CppThunk{
			Comment: fmt.Sprintf("%s::%s setter", name, f.Name),
			Symbol:  f.SetSymbol,
			Result:  "void",
			Params:  []string{name + "* " + self, cppParamType(f.Type) + " value"},
			Body:    []string{fmt.Sprintf("%s = %s;", member, argExpr(f.Type, "value"))},
		})
	}

	for _, fieldName := range class.StaticFieldNames() {
		f, _ := class.StaticFieldBinding(fieldName)
		member := name + "::" + f.Name
		out.Thunks = append(out.Thunks, CppThunk{
			Comment: fmt.Sprintf("static %s getter", member),
			Symbol:  f.GetSymbol,
			Result:  cppResultType(&f.Type),
			Body:    []string{returnStatement(&f.Type, member)},
		}, CppThunk{
			Comment: fmt.Sprintf("static %s setter", member),
			Symbol:  f.SetSymbol,
			Result:  "void",
			Params:  []string{cppParamType(f.Type) + " value"},
			Body:    []string{fmt.Sprintf("%s = %s;", member, argExpr(f.Type, "value"))},
		})
	}

	if class.Polymorphic() {
		// Most derived first, the first match is the runtime class.
		var body []string
		for _, sub := range class.Subclasses() {
			body = append(body, fmt.Sprintf("if (bindgen::is_instance<%s>(%s)) return bindgen::write_string(%q);", sub, self, sub))
		}
		body = append(body, fmt.Sprintf("return bindgen::write_string(%q);", name))
		out.Thunks = append(out.Thunks, CppThunk{
			Comment: name + " runtime class",
			Symbol:  internal.TypeIDSymbol(name),
			Result:  "char*",
			Params:  []string{name + "* " + self},
			Body:    body,
		})
	}

	out.Thunks = append(out.Thunks,
		CppThunk{
			Symbol: internal.DeleteSymbol(name),
			Result: "void",
			Params: []string{name + "* " + self},
			Body:   []string{"delete " + self + ";"},
		},
		CppThunk{
			Symbol: internal.ShareSymbol(name),
			Result: "void",
			Params: []string{name + "* " + self},
			Body:   []string{"bindgen::share_address(" + self + ");"},
		},
		CppThunk{
			Symbol: internal.UnshareSymbol(name),
			Result: "void",
			Params: []string{name + "* " + self},
			Body:   []string{"bindgen::unshare_address(" + self + ");"},
		},
	)

	return out
}

func cppParams(types []internal.TypeRef) (params []string, args []string) {
	for i, t := range types {
		name := fmt.Sprintf("a%d", i)
		params = append(params, cppParamType(t)+" "+name)
		args = append(args, argExpr(t, name))
	}
	return params, args
}

func returnStatement(t *internal.TypeRef, call string) string {
	if t == nil {
		return call + ";"
	}
	return "return " + resultExpr(*t, call) + ";"
}

func isString(t internal.TypeRef) bool {
	return t.Kind == internal.KindPrimitive && (t.Prim == internal.TagString || t.Prim == internal.TagWString)
}

// cppParamType is the C type a thunk receives a value of type t as.
func cppParamType(t internal.TypeRef) string {
	switch t.Kind {
	case internal.KindPrimitive:
		if isString(t) {
			return "const char*"
		}
		return internal.PrimitiveCppType(t.Prim)
	case internal.KindStruct:
		return "const uint64_t*"
	case internal.KindExclusive, internal.KindBorrowed:
		return t.Name + "*"
	case internal.KindShared:
		return "void*"
	case internal.KindCallback:
		return "uint32_t"
	}
	return "void*"
}

func cppResultType(t *internal.TypeRef) string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case internal.KindPrimitive:
		if isString(*t) {
			return "char*"
		}
		return internal.PrimitiveCppType(t.Prim)
	case internal.KindStruct:
		return "uint64_t*"
	}
	return cppParamType(*t)
}

// cppValueType is the C++ type native code uses for t.
func cppValueType(t internal.TypeRef) string {
	switch t.Kind {
	case internal.KindPrimitive:
		return internal.PrimitiveCppType(t.Prim)
	case internal.KindStruct:
		return t.Name
	case internal.KindExclusive:
		return t.Name + "*"
	case internal.KindBorrowed:
		return t.Name + "&"
	case internal.KindShared:
		return "std::shared_ptr<" + t.Name + ">"
	}
	return "void*"
}

// argExpr converts a thunk parameter into the argument of the native call.
func argExpr(t internal.TypeRef, name string) string {
	switch t.Kind {
	case internal.KindPrimitive:
		switch t.Prim {
		case internal.TagString:
			return "bindgen::read_string(" + name + ")"
		case internal.TagWString:
			return "bindgen::read_wstring(" + name + ")"
		}
		return name
	case internal.KindStruct:
		return "bindgen_read_" + t.Name + "(" + name + ", false)"
	case internal.KindBorrowed:
		return "*" + name
	case internal.KindShared:
		return "bindgen::shared<" + t.Name + ">(" + name + ")"
	case internal.KindCallback:
		return callbackExpr(t, name)
	}
	return name
}

// resultExpr converts the native result into what the thunk returns.
func resultExpr(t internal.TypeRef, expr string) string {
	switch t.Kind {
	case internal.KindPrimitive:
		switch t.Prim {
		case internal.TagString:
			return "bindgen::write_string(" + expr + ")"
		case internal.TagWString:
			return "bindgen::write_wstring(" + expr + ")"
		}
		return expr
	case internal.KindStruct:
		return "bindgen_write_" + t.Name + "(" + expr + ")"
	case internal.KindBorrowed:
		return "&(" + expr + ")"
	case internal.KindShared:
		return "bindgen::share(" + expr + ")"
	}
	return expr
}

// toSlot stores a native value in an 8 byte slot. Blocks written here are
// owned by the reader.
func toSlot(t internal.TypeRef, expr string) string {
	switch t.Kind {
	case internal.KindPrimitive:
		switch t.Prim {
		case internal.TagInt8, internal.TagInt16, internal.TagInt32, internal.TagBool:
			return "bindgen::slot_i32(" + expr + ")"
		case internal.TagUint8, internal.TagUint16, internal.TagUint32:
			return "bindgen::slot_u32(" + expr + ")"
		case internal.TagInt64, internal.TagUint64:
			return "bindgen::slot_i64(" + expr + ")"
		case internal.TagFloat32:
			return "bindgen::slot_f32(" + expr + ")"
		case internal.TagFloat64:
			return "bindgen::slot_f64(" + expr + ")"
		}
	}
	return "bindgen::slot_ptr(" + resultExpr(t, expr) + ")"
}

// fromSlot reads a slot. take is a C++ expression saying whether blocks
// the slot points to are handed over.
func fromSlot(t internal.TypeRef, slot string, take string) string {
	ptr := "bindgen::ptr_slot(" + slot + ")"
	switch t.Kind {
	case internal.KindPrimitive:
		switch t.Prim {
		case internal.TagBool:
			return "bindgen::i32_slot(" + slot + ") != 0"
		case internal.TagInt64, internal.TagUint64:
			return "(" + internal.PrimitiveCppType(t.Prim) + ")" + slot
		case internal.TagFloat32:
			return "bindgen::f32_slot(" + slot + ")"
		case internal.TagFloat64:
			return "bindgen::f64_slot(" + slot + ")"
		case internal.TagString:
			return "bindgen::read_string(static_cast<const char*>(" + ptr + "), " + take + ")"
		case internal.TagWString:
			return "bindgen::read_wstring(static_cast<const char*>(" + ptr + "), " + take + ")"
		}
		return "(" + internal.PrimitiveCppType(t.Prim) + ")bindgen::i32_slot(" + slot + ")"
	case internal.KindStruct:
		return "bindgen_read_" + t.Name + "(static_cast<const uint64_t*>(" + ptr + "), " + take + ")"
	case internal.KindExclusive:
		return "static_cast<" + t.Name + "*>(" + ptr + ")"
	case internal.KindBorrowed:
		return "*static_cast<" + t.Name + "*>(" + ptr + ")"
	case internal.KindShared:
		return "bindgen::shared<" + t.Name + ">(" + ptr + ")"
	}
	return ptr
}

// callbackExpr wraps a callback id into a lambda that goes through the
// trampoline.
func callbackExpr(t internal.TypeRef, id string) string {
	result := "void"
	if t.Result != nil {
		result = cppValueType(*t.Result)
	}

	params := make([]string, len(t.Params))
	slots := make([]string, len(t.Params))
	for i, p := range t.Params {
		name := fmt.Sprintf("p%d", i)
		params[i] = cppValueType(p) + " " + name
		slots[i] = toSlot(p, name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[id = %s](%s) -> %s { ", id, strings.Join(params, ", "), result)
	if len(slots) > 0 {
		fmt.Fprintf(&b, "uint64_t args[%d] = {%s}; ", len(slots), strings.Join(slots, ", "))
	} else {
		b.WriteString("uint64_t* args = nullptr; ")
	}
	b.WriteString("uint64_t ret = 0; ")
	fmt.Fprintf(&b, "_bindgen_invoke_callback(id, args, %d, &ret); ", len(slots))
	if t.Result != nil {
		fmt.Fprintf(&b, "return %s; ", fromSlot(*t.Result, "ret", "true"))
	}
	b.WriteString("}")
	return b.String()
}
