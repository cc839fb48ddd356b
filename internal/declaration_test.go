package bindgen_test

import (
	"os"
	"path/filepath"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var int32Type = bindgen.PrimitiveType(bindgen.TagInt32)

var _ = Describe("Collector", func() {
	It("builds the IR in declaration order", func() {
		ir, err := bindgen.Collect(nil, []bindgen.Entry{
			bindgen.DeclareStruct("Point", bindgen.Field{Name: "x", Type: int32Type}),
			bindgen.DeclareClass("ClassB"),
			bindgen.DeclareClass("ClassA"),
			bindgen.DeclareConstructor("ClassA"),
			bindgen.DeclareConstructor("ClassA", int32Type),
			bindgen.DeclareMethod("ClassA", "MakeAB", bindgen.Ref(bindgen.ExclusivePointer("ClassB"))),
			bindgen.DeclareStaticMethod("ClassA", "StaticMethod", nil),
			bindgen.DeclareField("ClassA", "x", int32Type),
			bindgen.DeclareStaticField("ClassA", "count", int32Type, 1),
		})
		Expect(err).To(BeNil())

		Expect(ir.Structs).To(HaveLen(1))
		Expect(ir.Classes).To(HaveLen(2))
		Expect(ir.Classes[0].Name).To(Equal("ClassB"))

		a, ok := ir.Class("ClassA")
		Expect(ok).To(BeTrue())
		Expect(a.Constructors).To(HaveLen(2))
		Expect(a.Constructors[1].Signature()).To(Equal("ClassA(int32) -> ClassA*"))
		Expect(a.Methods[0].Signature()).To(Equal("MakeAB() -> ClassB*"))
		Expect(a.StaticMethods[0].IsStatic).To(BeTrue())
		Expect(a.StaticFields[0].Initial).To(Equal(1))
	})

	It("drops void results", func() {
		ir, err := bindgen.Collect(nil, []bindgen.Entry{
			bindgen.DeclareClass("A"),
			bindgen.DeclareMethod("A", "Run", bindgen.Ref(bindgen.PrimitiveType(bindgen.TagVoid))),
		})
		Expect(err).To(BeNil())
		Expect(ir.Classes[0].Methods[0].Result).To(BeNil())
	})

	DescribeTable("rejects invalid declaration lists",
		func(target error, entries ...bindgen.Entry) {
			_, err := bindgen.Collect(nil, entries)
			Expect(err).To(MatchError(target))
		},
		Entry("duplicate class", bgerrors.ErrDuplicateDeclaration,
			bindgen.DeclareClass("A"), bindgen.DeclareClass("A")),
		Entry("struct named like a class", bgerrors.ErrDuplicateDeclaration,
			bindgen.DeclareClass("A"), bindgen.DeclareStruct("A")),
		Entry("duplicate struct field", bgerrors.ErrDuplicateDeclaration,
			bindgen.DeclareStruct("P", bindgen.Field{Name: "x", Type: int32Type}, bindgen.Field{Name: "x", Type: int32Type})),
		Entry("duplicate overload", bgerrors.ErrDuplicateDeclaration,
			bindgen.DeclareClass("A"),
			bindgen.DeclareMethod("A", "Run", nil, int32Type),
			bindgen.DeclareMethod("A", "Run", nil, int32Type)),
		Entry("duplicate field", bgerrors.ErrDuplicateDeclaration,
			bindgen.DeclareClass("A"),
			bindgen.DeclareField("A", "x", int32Type),
			bindgen.DeclareField("A", "x", int32Type)),
		Entry("member without a class", bgerrors.ErrNoOpenDeclaration,
			bindgen.DeclareMethod("A", "Run", nil)),
		Entry("unknown base", bgerrors.ErrUnknownBase,
			bindgen.DeclareClass("A"), bindgen.DeclareBase("A", "B")),
		Entry("second base", bgerrors.ErrMultipleInheritance,
			bindgen.DeclareClass("B"), bindgen.DeclareClass("C"), bindgen.DeclareClass("A"),
			bindgen.DeclareBase("A", "B"), bindgen.DeclareBase("A", "C")),
		Entry("field and method with one name", bgerrors.ErrNameCollision,
			bindgen.DeclareClass("A"),
			bindgen.DeclareField("A", "x", int32Type),
			bindgen.DeclareMethod("A", "x", nil)),
		Entry("self base", bgerrors.ErrInvalidInput,
			bindgen.DeclareClass("A"), bindgen.DeclareBase("A", "A")),
	)

	It("rejects entries after the IR was taken", func() {
		c := bindgen.NewCollector(nil)
		Expect(c.Add(bindgen.DeclareClass("A"))).To(Succeed())
		c.IR()
		Expect(c.Add(bindgen.DeclareClass("B"))).To(MatchError(bgerrors.ErrInvalidInput))
	})
})

var _ = Describe("Declaration files", func() {
	It("declares every class before any member", func() {
		entries, err := bindgen.ParseDeclarations([]byte(`
classes:
  - name: A
    methods:
      - {name: Peer, result: "B*"}
  - name: B
    base: A
`))
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(4))
		Expect(entries[0].Op).To(Equal(bindgen.OpClass))
		Expect(entries[1].Op).To(Equal(bindgen.OpClass))
		Expect(entries[2].Op).To(Equal(bindgen.OpMethod))
		Expect(entries[3].Op).To(Equal(bindgen.OpBase))

		ir, err := bindgen.Collect(nil, entries)
		Expect(err).To(BeNil())
		Expect(ir.Classes[1].BaseName).To(Equal("A"))
	})

	It("keeps parameter names", func() {
		entries, err := bindgen.ParseDeclarations([]byte(`
classes:
  - name: A
    constructors:
      - {params: [int32, string], param_names: [x, label]}
`))
		Expect(err).To(BeNil())
		Expect(entries[1].ParamNames).To(Equal([]string{"x", "label"}))
	})

	It("converts struct static values into records", func() {
		entries, err := bindgen.ParseDeclarations([]byte(`
structs:
  - name: Point
    fields: [{name: x, type: int32}, {name: y, type: int32}]
classes:
  - name: A
    static_fields:
      - {name: origin, type: struct Point, value: {x: 1, y: 2}}
`))
		Expect(err).To(BeNil())
		last := entries[len(entries)-1]
		Expect(last.Op).To(Equal(bindgen.OpStaticField))
		Expect(last.Value).To(Equal(bindgen.NewRecord("Point", "x", 1, "y", 2)))
	})

	DescribeTable("rejects malformed files",
		func(yaml string, target error) {
			_, err := bindgen.ParseDeclarations([]byte(yaml))
			Expect(err).To(MatchError(target))
		},
		Entry("invalid YAML", "classes: [", bgerrors.ErrInvalidInput),
		Entry("bad type", `
classes:
  - name: A
    methods: [{name: Run, params: ["shared_ptr<"]}]
`, bgerrors.ErrInvalidInput),
		Entry("method without a name", `
classes:
  - name: A
    methods: [{params: [int32]}]
`, bgerrors.ErrInvalidInput),
		Entry("parameter names that do not line up", `
classes:
  - name: A
    methods: [{name: Run, params: [int32], param_names: [a, b]}]
`, bgerrors.ErrInvalidInput),
		Entry("unknown struct field in a static value", `
structs:
  - name: Point
    fields: [{name: x, type: int32}]
classes:
  - name: A
    static_fields:
      - {name: origin, type: struct Point, value: {z: 1}}
`, bgerrors.ErrNotFound),
		Entry("mapping for a primitive", `
classes:
  - name: A
    static_fields:
      - {name: n, type: int32, value: {x: 1}}
`, bgerrors.ErrTypeMismatch),
	)

	It("loads files from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "decls.yaml")
		Expect(os.WriteFile(path, []byte(canvasDeclarations), 0o644)).To(Succeed())

		entries, err := bindgen.LoadDeclarations(path)
		Expect(err).To(BeNil())
		Expect(entries).ToNot(BeEmpty())

		_, err = bindgen.LoadDeclarations(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).ToNot(BeNil())
	})
})
