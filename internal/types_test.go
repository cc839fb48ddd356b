package bindgen_test

import (
	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseType", func() {
	DescribeTable("parses the declaration syntax",
		func(src string, want bindgen.TypeRef) {
			got, err := bindgen.ParseType(src)
			Expect(err).To(BeNil())
			Expect(got.Equal(want)).To(BeTrue(), "got %s", got)
		},
		Entry("int", "int", bindgen.PrimitiveType(bindgen.TagInt32)),
		Entry("double", "double", bindgen.PrimitiveType(bindgen.TagFloat64)),
		Entry("wstring", "wstring", bindgen.PrimitiveType(bindgen.TagWString)),
		Entry("struct", "struct Point", bindgen.StructType("Point")),
		Entry("pointer", "ClassB*", bindgen.ExclusivePointer("ClassB")),
		Entry("reference", "ClassB &", bindgen.BorrowedReference("ClassB")),
		Entry("shared", "std::shared_ptr<ClassB>", bindgen.SharedHandle("ClassB")),
		Entry("callback", "fn(int32, string) -> bool",
			bindgen.CallbackType(bindgen.Ref(bindgen.PrimitiveType(bindgen.TagBool)),
				bindgen.PrimitiveType(bindgen.TagInt32), bindgen.PrimitiveType(bindgen.TagString))),
		Entry("void callback", "fn() -> void", bindgen.CallbackType(nil)),
	)

	DescribeTable("rejects malformed types",
		func(src string) {
			_, err := bindgen.ParseType(src)
			Expect(err).To(MatchError(bgerrors.ErrInvalidInput))
		},
		Entry("empty", ""),
		Entry("unterminated shared_ptr", "shared_ptr<ClassB"),
		Entry("trailing text", "int32 x"),
		Entry("struct without a name", "struct"),
		Entry("unterminated callback", "fn(int32"),
	)

	It("prints types the way they are written", func() {
		Expect(bindgen.MustParseType("shared_ptr<A>").String()).To(Equal("shared_ptr<A>"))
		Expect(bindgen.MustParseType("fn(A&) -> int32").String()).To(Equal("fn(A&) -> int32"))
		Expect(bindgen.MustParseType("A").String()).To(Equal("A"))
	})
})

var _ = Describe("Classify", func() {
	link := func(yaml string) error {
		entries, err := bindgen.ParseDeclarations([]byte(yaml))
		Expect(err).To(BeNil())
		ir, err := bindgen.Collect(nil, entries)
		Expect(err).To(BeNil())
		_, err = bindgen.Link(nil, ir)
		return err
	}

	DescribeTable("rejects types that cannot cross the boundary",
		func(yaml string, reason string) {
			err := link(yaml)
			Expect(err).To(MatchError(bgerrors.ErrUnmappableType))
			Expect(err.Error()).To(ContainSubstring(reason))
		},
		Entry("class by value", `
classes:
  - name: A
    methods:
      - {name: Take, params: [A]}
`, "must be passed by pointer"),
		Entry("struct as pointer", `
structs:
  - name: P
    fields: [{name: x, type: int32}]
classes:
  - name: A
    methods:
      - {name: Take, params: ["P*"]}
`, "has no handle"),
		Entry("undeclared class", `
classes:
  - name: A
    methods:
      - {name: Take, params: ["B*"]}
`, "not declared"),
		Entry("void parameter", `
classes:
  - name: A
    methods:
      - {name: Take, params: [void]}
`, "only valid as a result"),
		Entry("returned callback", `
classes:
  - name: A
    methods:
      - {name: Make, result: "fn() -> int32"}
`, "cannot be returned"),
		Entry("nested callback", `
classes:
  - name: A
    methods:
      - {name: Take, params: ["fn(fn() -> int32) -> int32"]}
`, "cannot be nested"),
		Entry("callback field", `
classes:
  - name: A
    fields:
      - {name: f, type: "fn() -> int32"}
`, "stored in fields"),
		Entry("object in a struct", `
structs:
  - name: P
    fields: [{name: a, type: "A*"}]
classes:
  - name: A
`, "struct fields cannot hold"),
		Entry("object static field", `
classes:
  - name: A
    static_fields:
      - {name: instance, type: "A*"}
`, "value types"),
		Entry("recursive struct", `
structs:
  - name: P
    fields: [{name: next, type: struct P}]
`, "contains itself"),
	)

	It("names the parameter position", func() {
		err := link(`
classes:
  - name: A
    methods:
      - {name: Take, params: [int32, A]}
`)
		Expect(bgerrors.KindOf(err)).To(Equal(bgerrors.KindUnmappableType))
		Expect(err.Error()).To(ContainSubstring("A.Take at param 1"))
	})
})
