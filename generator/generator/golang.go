package generator

import (
	"bytes"
	"strconv"

	"github.com/dave/jennifer/jen"

	bindgen "github.com/jerbob92/wazero-bindgen"
	internal "github.com/jerbob92/wazero-bindgen/internal"
)

const bindgenPath = "github.com/jerbob92/wazero-bindgen"

// GenerateGo renders the typed host wrappers: a struct per class wrapping
// the object proxy, a function per overload and a Go struct per declared
// struct.
func GenerateGo(bindings *bindgen.Bindings, pkg string, source string) ([]byte, error) {
	file := jen.NewFile(pkg)
	file.HeaderComment("Code generated by wazero-bindgen. DO NOT EDIT.")
	if source != "" {
		file.HeaderComment("Source: " + source)
	}

	file.Comment("ClassBase is implemented by every generated class wrapper.")
	file.Type().Id("ClassBase").Interface(
		jen.Id("Object").Params().Op("*").Qual(bindgenPath, "Object"),
	)
	file.Line()
	file.Func().Id("objectOf").Params(jen.Id("c").Id("ClassBase")).Op("*").Qual(bindgenPath, "Object").Block(
		jen.If(jen.Id("c").Op("==").Nil()).Block(jen.Return(jen.Nil())),
		jen.Return(jen.Id("c").Dot("Object").Call()),
	)

	for _, s := range bindings.Structs() {
		generateStruct(file, s)
	}

	for _, class := range bindings.Classes() {
		generateClass(file, class)
	}

	buf := &bytes.Buffer{}
	if err := file.Render(buf); err != nil {
		return nil, err
	}
	return formatGo("bindings.go", buf.Bytes())
}

func classGoName(name string) string {
	return "Class" + generateGoName(name)
}

func structGoName(name string) string {
	return "Struct" + generateGoName(name)
}

// goType is the wrapper type for t. Object parameters accept any wrapper,
// object results are the concrete wrapper.
func goType(t internal.TypeRef, param bool) jen.Code {
	switch t.Kind {
	case internal.KindPrimitive:
		name := internal.PrimitiveGoType(t.Prim)
		if name == "WString" {
			return jen.Qual(bindgenPath, "WString")
		}
		return jen.Id(name)
	case internal.KindStruct:
		return jen.Id(structGoName(t.Name))
	case internal.KindExclusive, internal.KindShared, internal.KindBorrowed:
		if param {
			return jen.Id("ClassBase")
		}
		return jen.Op("*").Id(classGoName(t.Name))
	}
	return jen.Id("any")
}

func zeroValue(t *internal.TypeRef) jen.Code {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case internal.KindPrimitive:
		switch t.Prim {
		case internal.TagString:
			return jen.Lit("")
		case internal.TagWString:
			return jen.Qual(bindgenPath, "WString").Call(jen.Lit(""))
		case internal.TagBool:
			return jen.False()
		}
		return jen.Id(internal.PrimitiveGoType(t.Prim)).Call(jen.Lit(0))
	case internal.KindStruct:
		return jen.Id(structGoName(t.Name)).Values()
	}
	return jen.Nil()
}

// argValue converts a wrapper argument into what the engine accepts.
func argValue(t internal.TypeRef, name string) jen.Code {
	switch t.Kind {
	case internal.KindStruct:
		return jen.Id(name).Dot("Record").Call()
	case internal.KindExclusive, internal.KindShared, internal.KindBorrowed:
		return jen.Id("objectOf").Call(jen.Id(name))
	}
	return jen.Id(name)
}

// resultStatements converts the engine result held in res and returns it.
func resultStatements(g *jen.Group, t internal.TypeRef) {
	switch t.Kind {
	case internal.KindStruct:
		g.Return(jen.Id(lowerFirst(structGoName(t.Name))+"FromRecord").Call(jen.Id("res").Assert(jen.Qual(bindgenPath, "Record"))), jen.Nil())
	case internal.KindExclusive, internal.KindShared, internal.KindBorrowed:
		g.If(jen.Id("res").Op("==").Nil()).Block(jen.Return(jen.Nil(), jen.Nil()))
		g.Return(jen.Op("&").Id(classGoName(t.Name)).Values(jen.Dict{
			jen.Id("obj"): jen.Id("res").Assert(jen.Op("*").Qual(bindgenPath, "Object")),
		}), jen.Nil())
	default:
		g.Return(jen.Id("res").Assert(goType(t, false)), jen.Nil())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]|0x20) + s[1:]
}

func paramName(c *internal.Callable, i int) string {
	if i < len(c.ParamNames) && c.ParamNames[i] != "" {
		return c.ParamNames[i]
	}
	return "arg" + strconv.Itoa(i)
}

// overloadNames gives every candidate of a group its Go name. Overloads
// get their arity as suffix, same arity overloads their index as well.
func overloadNames(base string, g *internal.Group) []string {
	names := make([]string, len(g.Candidates))
	if !g.IsOverloaded() {
		names[0] = base
		return names
	}
	perArity := map[int]int{}
	for _, c := range g.Candidates {
		perArity[len(c.Params())]++
	}
	seen := map[int]int{}
	for i, c := range g.Candidates {
		n := len(c.Params())
		names[i] = base + strconv.Itoa(n)
		if perArity[n] > 1 {
			names[i] += "_" + strconv.Itoa(seen[n])
		}
		seen[n]++
	}
	return names
}

func generateStruct(file *jen.File, s *internal.StructDecl) {
	goName := structGoName(s.Name)

	file.Commentf("%s is the host copy of the native struct %s.", goName, s.Name)
	file.Type().Id(goName).StructFunc(func(g *jen.Group) {
		for _, f := range s.Fields {
			g.Id(generateGoName(f.Name)).Add(goType(f.Type, false))
		}
	})

	file.Func().Params(jen.Id("s").Id(goName)).Id("Record").Params().Qual(bindgenPath, "Record").Block(
		jen.Return(jen.Qual(bindgenPath, "NewRecord").CallFunc(func(g *jen.Group) {
			g.Lit(s.Name)
			for _, f := range s.Fields {
				g.Lit(f.Name)
				field := jen.Id("s").Dot(generateGoName(f.Name))
				if f.Type.Kind == internal.KindStruct {
					field = field.Dot("Record").Call()
				}
				g.Add(field)
			}
		})),
	)

	file.Func().Id(lowerFirst(goName)+"FromRecord").Params(jen.Id("r").Qual(bindgenPath, "Record")).Id(goName).Block(
		jen.Return(jen.Id(goName).Values(jen.DictFunc(func(d jen.Dict) {
			for _, f := range s.Fields {
				value := jen.Id("r").Dot("Get").Call(jen.Lit(f.Name))
				var converted jen.Code
				if f.Type.Kind == internal.KindStruct {
					converted = jen.Id(lowerFirst(structGoName(f.Type.Name)) + "FromRecord").Call(value.Assert(jen.Qual(bindgenPath, "Record")))
				} else {
					converted = value.Assert(goType(f.Type, false))
				}
				d[jen.Id(generateGoName(f.Name))] = converted
			}
		}))),
	)
}

func generateClass(file *jen.File, class *internal.ClassType) {
	name := class.Name()
	goName := classGoName(name)
	engineParam := jen.Id("e").Qual(bindgenPath, "Engine")
	ctxParam := jen.Id("ctx").Qual("context", "Context")

	file.Commentf("%s wraps an instance of the native class %s.", goName, name)
	file.Type().Id(goName).Struct(
		jen.Id("obj").Op("*").Qual(bindgenPath, "Object"),
	)

	file.Func().Params(jen.Id("class").Op("*").Id(goName)).Id("Object").Params().Op("*").Qual(bindgenPath, "Object").Block(
		jen.If(jen.Id("class").Op("==").Nil()).Block(jen.Return(jen.Nil())),
		jen.Return(jen.Id("class").Dot("obj")),
	)

	file.Func().Params(jen.Id("class").Op("*").Id(goName)).Id("Delete").Params(ctxParam.Clone()).Error().Block(
		jen.Return(jen.Id("class").Dot("obj").Dot("Delete").Call(jen.Id("ctx"))),
	)

	if class.Constructible() {
		g := class.Constructors()
		names := overloadNames("New"+goName, g)
		for i, cand := range g.Candidates {
			file.Func().Id(names[i]).ParamsFunc(func(p *jen.Group) {
				p.Add(engineParam.Clone())
				p.Add(ctxParam.Clone())
				callableParams(p, cand)
			}).Params(jen.Op("*").Id(goName), jen.Error()).BlockFunc(func(b *jen.Group) {
				b.List(jen.Id("obj"), jen.Err()).Op(":=").Id("e").Dot("New").CallFunc(func(c *jen.Group) {
					c.Id("ctx")
					c.Lit(name)
					callableArgs(c, cand)
				})
				b.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err()))
				b.Return(jen.Op("&").Id(goName).Values(jen.Dict{jen.Id("obj"): jen.Id("obj")}), jen.Nil())
			})
		}
	}

	for _, methodName := range class.MethodNames() {
		g, _ := class.Method(methodName)
		names := overloadNames(generateGoName(methodName), g)
		for i, cand := range g.Candidates {
			file.Func().Params(jen.Id("class").Op("*").Id(goName)).Id(names[i]).ParamsFunc(func(p *jen.Group) {
				p.Add(ctxParam.Clone())
				callableParams(p, cand)
			}).Add(callableResults(cand)).BlockFunc(func(b *jen.Group) {
				call := jen.Id("class").Dot("obj").Dot("CallMethod").CallFunc(func(c *jen.Group) {
					c.Id("ctx")
					c.Lit(methodName)
					callableArgs(c, cand)
				})
				callBody(b, cand.Result(), call)
			})
		}
	}

	for _, methodName := range class.StaticMethodNames() {
		g, _ := class.StaticMethod(methodName)
		names := overloadNames(goName+"Static"+generateGoName(methodName), g)
		for i, cand := range g.Candidates {
			file.Func().Id(names[i]).ParamsFunc(func(p *jen.Group) {
				p.Add(engineParam.Clone())
				p.Add(ctxParam.Clone())
				callableParams(p, cand)
			}).Add(callableResults(cand)).BlockFunc(func(b *jen.Group) {
				call := jen.Id("e").Dot("CallStatic").CallFunc(func(c *jen.Group) {
					c.Id("ctx")
					c.Lit(name)
					c.Lit(methodName)
					callableArgs(c, cand)
				})
				callBody(b, cand.Result(), call)
			})
		}
	}

	for _, fieldName := range class.FieldNames() {
		f, _ := class.FieldBinding(fieldName)
		fieldGoName := generateGoName(fieldName)
		t := f.Type

		file.Func().Params(jen.Id("class").Op("*").Id(goName)).Id("Get"+fieldGoName).Params(ctxParam.Clone()).
			Params(goType(t, false), jen.Error()).BlockFunc(func(b *jen.Group) {
			callBody(b, &t, jen.Id("class").Dot("obj").Dot("GetProperty").Call(jen.Id("ctx"), jen.Lit(fieldName)))
		})

		file.Func().Params(jen.Id("class").Op("*").Id(goName)).Id("Set"+fieldGoName).Params(ctxParam.Clone(), jen.Id("value").Add(goType(t, true))).
			Error().Block(
			jen.Return(jen.Id("class").Dot("obj").Dot("SetProperty").Call(jen.Id("ctx"), jen.Lit(fieldName), argValue(t, "value"))),
		)
	}

	for _, fieldName := range class.StaticFieldNames() {
		f, _ := class.StaticFieldBinding(fieldName)
		fieldGoName := generateGoName(fieldName)
		t := f.Type

		file.Func().Id(goName+"StaticGet"+fieldGoName).Params(engineParam.Clone(), ctxParam.Clone()).
			Params(goType(t, false), jen.Error()).BlockFunc(func(b *jen.Group) {
			callBody(b, &t, jen.Id("e").Dot("GetStaticProperty").Call(jen.Id("ctx"), jen.Lit(name), jen.Lit(fieldName)))
		})

		file.Func().Id(goName+"StaticSet"+fieldGoName).Params(engineParam.Clone(), ctxParam.Clone(), jen.Id("value").Add(goType(t, true))).
			Error().Block(
			jen.Return(jen.Id("e").Dot("SetStaticProperty").Call(jen.Id("ctx"), jen.Lit(name), jen.Lit(fieldName), argValue(t, "value"))),
		)
	}
}

func callableParams(p *jen.Group, cand *internal.Candidate) {
	for i, t := range cand.Params() {
		p.Id(paramName(cand.Callable, i)).Add(goType(t, true))
	}
}

func callableArgs(c *jen.Group, cand *internal.Candidate) {
	for i, t := range cand.Params() {
		c.Add(argValue(t, paramName(cand.Callable, i)))
	}
}

func callableResults(cand *internal.Candidate) jen.Code {
	if cand.Result() == nil {
		return jen.Error()
	}
	return jen.Params(goType(*cand.Result(), false), jen.Error())
}

// callBody runs call and converts its result. Void calls only return the
// error.
func callBody(b *jen.Group, result *internal.TypeRef, call *jen.Statement) {
	if result == nil {
		b.List(jen.Id("_"), jen.Err()).Op(":=").Add(call)
		b.Return(jen.Err())
		return
	}
	b.List(jen.Id("res"), jen.Err()).Op(":=").Add(call)
	b.If(jen.Err().Op("!=").Nil()).Block(jen.Return(zeroValue(result), jen.Err()))
	resultStatements(b, *result)
}
