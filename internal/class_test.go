package bindgen_test

import (
	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Link", func() {
	var b *bindgen.Bindings

	BeforeEach(func() {
		b = mustLink(canvasDeclarations)
	})

	It("flattens inherited members", func() {
		circle, ok := b.Class("Circle")
		Expect(ok).To(BeTrue())
		Expect(circle.Base()).To(Equal("Shape"))
		Expect(circle.Ancestors()).To(Equal([]string{"Circle", "Shape"}))
		Expect(circle.IsA("Shape")).To(BeTrue())
		Expect(circle.IsA("Canvas")).To(BeFalse())

		Expect(circle.MethodNames()).To(Equal([]string{"Area", "Name", "Radius", "Self"}))
		Expect(circle.FieldNames()).To(Equal([]string{"id"}))

		name, _ := circle.Method("Name")
		Expect(name.Candidates[0].Owner).To(Equal("Shape"))
		Expect(name.Candidates[0].Symbol).To(Equal("bindgen_Shape_Name_0"))

		area, _ := circle.Method("Area")
		Expect(area.Candidates).To(HaveLen(1))
		Expect(area.Candidates[0].Symbol).To(Equal("bindgen_Circle_Area_0"))

		id, _ := circle.FieldBinding("id")
		Expect(id.Owner).To(Equal("Shape"))
		Expect(id.GetSymbol).To(Equal("bindgen_Shape_get_id"))
	})

	It("does not inherit constructors or statics", func() {
		circle, _ := b.Class("Circle")
		Expect(circle.Constructors().Candidates).To(HaveLen(1))
		Expect(circle.StaticMethodNames()).To(BeEmpty())
	})

	It("numbers overloads per owner", func() {
		canvas, _ := b.Class("Canvas")
		Expect(canvas.Constructors().Arities()).To(Equal([]int{0, 1, 2}))

		scale, ok := canvas.StaticMethod("Scale")
		Expect(ok).To(BeTrue())
		Expect(scale.IsOverloaded()).To(BeTrue())
		Expect(scale.Candidates[0].Symbol).To(Equal("bindgen_Canvas_static_Scale_0"))
		Expect(scale.Candidates[1].Symbol).To(Equal("bindgen_Canvas_static_Scale_1"))
	})

	It("captures static field initial values", func() {
		canvas, _ := b.Class("Canvas")
		count, ok := canvas.StaticFieldBinding("count")
		Expect(ok).To(BeTrue())
		Expect(count.Initial).To(Equal(bindgen.Int32(3)))

		origin, _ := canvas.StaticFieldBinding("origin")
		Expect(origin.Initial).To(Equal(bindgen.Struct("Point", bindgen.Float64(1), bindgen.Float64(2))))
	})

	It("knows which classes have subclasses", func() {
		shape, _ := b.Class("Shape")
		circle, _ := b.Class("Circle")
		Expect(shape.Polymorphic()).To(BeTrue())
		Expect(shape.Subclasses()).To(Equal([]string{"Circle"}))
		Expect(circle.Polymorphic()).To(BeFalse())

		chain := mustLink(`
classes:
  - name: A
  - name: B
    base: A
  - name: C
    base: B
`)
		a, _ := chain.Class("A")
		Expect(a.Subclasses()).To(Equal([]string{"C", "B"}))
		Expect(chain.Symbols()).To(ContainElements("bindgen_A_typeid", "bindgen_B_typeid"))
		Expect(chain.Symbols()).ToNot(ContainElement("bindgen_C_typeid"))
	})

	It("gives static fields native accessors", func() {
		canvas, _ := b.Class("Canvas")
		count, _ := canvas.StaticFieldBinding("count")
		Expect(count.GetSymbol).To(Equal("bindgen_Canvas_static_get_count"))
		Expect(count.SetSymbol).To(Equal("bindgen_Canvas_static_set_count"))
	})

	It("lists every native symbol once", func() {
		symbols := b.Symbols()
		Expect(symbols).To(ContainElements(
			"bindgen_Shape_delete", "bindgen_Shape_share", "bindgen_Shape_unshare",
			"bindgen_Shape_new_0", "bindgen_Shape_Name_0", "bindgen_Shape_get_id", "bindgen_Shape_set_id",
			"bindgen_Circle_new_0", "bindgen_Circle_Area_0",
			"bindgen_Canvas_new_2", "bindgen_Canvas_static_AddOne_0", "bindgen_Canvas_get_primary",
			"bindgen_Shape_typeid", "bindgen_Canvas_static_get_origin", "bindgen_Canvas_static_set_origin",
		))

		seen := map[string]bool{}
		for _, s := range symbols {
			Expect(seen[s]).To(BeFalse(), "duplicate symbol %s", s)
			seen[s] = true
			Expect(bindgen.IsBindgenSymbol(s)).To(BeTrue())
		}
	})

	It("rejects initial values of the wrong type", func() {
		entries, err := bindgen.ParseDeclarations([]byte(`
classes:
  - name: A
    static_fields:
      - {name: n, type: int32, value: "three"}
`))
		Expect(err).To(BeNil())
		ir, err := bindgen.Collect(nil, entries)
		Expect(err).To(BeNil())
		_, err = bindgen.Link(nil, ir)
		Expect(err).To(MatchError(bgerrors.ErrTypeMismatch))
	})

	It("reports a base declared after its subclass", func() {
		ir, err := bindgen.Collect(nil, []bindgen.Entry{
			bindgen.DeclareClass("B"),
			bindgen.DeclareClass("A"),
			bindgen.DeclareBase("B", "A"),
		})
		Expect(err).To(BeNil())
		_, err = bindgen.Link(nil, ir)
		Expect(err).To(MatchError(bgerrors.ErrUnknownBase))
	})
})
