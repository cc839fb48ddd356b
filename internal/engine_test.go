package bindgen_test

import (
	"context"
	"errors"
	"math"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Engine", func() {
	var lib *canvasLibrary
	var engine bindgen.IEngine

	BeforeEach(func() {
		lib = newCanvasLibrary()
		bindings := mustLink(canvasDeclarations)
		Expect(lib.Missing(bindings)).To(BeEmpty())
		engine = bindgen.CreateEngine(bindgen.NewConfig().WithAutoRelease(false), bindings, lib)
	})

	AfterEach(func() {
		if CurrentSpecReport().Failed() {
			return
		}
		Expect(engine.CountCallbacks()).To(Equal(0))
	})

	When("constructing objects", func() {
		It("destroys an exclusive object exactly once", func() {
			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			Expect(shape.Ownership()).To(Equal(bindgen.Exclusive))
			Expect(engine.CountHandles()).To(Equal(1))

			Expect(shape.Delete(ctx)).To(Succeed())
			Expect(shape.IsDeleted()).To(BeTrue())
			Expect(lib.destroyed["Shape"]).To(Equal(1))
			Expect(engine.CountHandles()).To(Equal(0))
			Expect(lib.Heap().Live()).To(Equal(0))

			err = shape.Delete(ctx)
			Expect(err).To(MatchError(bgerrors.ErrDoubleRelease))
			Expect(lib.destroyed["Shape"]).To(Equal(1))
		})

		It("dispatches constructors by arity", func() {
			a, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			b, err := engine.New(ctx, "Canvas", 10)
			Expect(err).To(BeNil())

			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			c, err := engine.New(ctx, "Canvas", 10, shape)
			Expect(err).To(BeNil())

			primary, err := c.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			Expect(primary).To(BeAssignableToTypeOf(&bindgen.Object{}))
			Expect(primary.(*bindgen.Object).Class()).To(Equal("Shape"))

			for _, obj := range []*bindgen.Object{a, b, c, shape} {
				Expect(obj.Delete(ctx)).To(Succeed())
			}
			Expect(lib.destroyed["Canvas"]).To(Equal(3))
		})

		It("reports the argument types when no constructor matches", func() {
			_, err := engine.New(ctx, "Canvas", "nope")
			Expect(err).To(MatchError(bgerrors.ErrNoMatchingOverload))
			Expect(err.Error()).To(ContainSubstring("string"))
			Expect(engine.CountHandles()).To(Equal(0))
		})

		It("fails for unknown classes", func() {
			_, err := engine.New(ctx, "Triangle")
			Expect(err).To(MatchError(bgerrors.ErrNotFound))
		})
	})

	When("calling methods", func() {
		It("upcasts a subclass to the class that declared the method", func() {
			circle, err := engine.New(ctx, "Circle", 2.0)
			Expect(err).To(BeNil())
			defer circle.Delete(ctx)

			Expect(circle.IsA("Shape")).To(BeTrue())

			name, err := circle.CallMethod(ctx, "Name")
			Expect(err).To(BeNil())
			Expect(name).To(Equal("circle"))

			info := engine.Handles()
			Expect(info).To(HaveLen(1))
			Expect(lib.receivers).To(Equal([]uint64{info[0].Address}))
		})

		It("prefers the subclass override", func() {
			circle, err := engine.New(ctx, "Circle", 1.0)
			Expect(err).To(BeNil())
			defer circle.Delete(ctx)

			res, err := circle.CallMethod(ctx, "Area")
			Expect(err).To(BeNil())
			Expect(res).To(BeNumerically("~", math.Pi, 1e-9))
		})

		It("accepts subclasses where a base reference is declared", func() {
			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)
			circle, err := engine.New(ctx, "Circle", 1.0)
			Expect(err).To(BeNil())
			defer circle.Delete(ctx)

			res, err := canvas.CallMethod(ctx, "Measure", circle)
			Expect(err).To(BeNil())
			Expect(res).To(BeNumerically("~", math.Pi, 1e-9))
		})

		It("rejects objects of an unrelated class", func() {
			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			_, err = canvas.CallMethod(ctx, "Measure", canvas)
			Expect(err).To(MatchError(bgerrors.ErrNoMatchingOverload))
		})

		It("fails with an invalid handle after the object was released", func() {
			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			Expect(shape.Delete(ctx)).To(Succeed())

			_, err = shape.CallMethod(ctx, "Name")
			Expect(err).To(MatchError(bgerrors.ErrInvalidHandle))

			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)
			_, err = canvas.CallMethod(ctx, "Measure", shape)
			Expect(err).To(MatchError(bgerrors.ErrInvalidHandle))
		})
	})

	When("copying structs", func() {
		It("never shares a record with native code", func() {
			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			p := bindgen.NewRecord("Point", "x", 1.5, "y", 2.5)
			_, err = canvas.CallMethod(ctx, "SetC", p)
			Expect(err).To(BeNil())
			p.Fields["x"] = 100.0

			got, err := canvas.CallMethod(ctx, "GetC")
			Expect(err).To(BeNil())
			Expect(got).To(Equal(bindgen.NewRecord("Point", "x", 1.5, "y", 2.5)))

			got.(bindgen.Record).Fields["y"] = -1.0
			again, err := canvas.CallMethod(ctx, "GetC")
			Expect(err).To(BeNil())
			Expect(again.(bindgen.Record).Get("y")).To(Equal(2.5))
		})

		It("rejects records with missing fields", func() {
			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			_, err = canvas.CallMethod(ctx, "SetC", bindgen.NewRecord("Point", "x", 1.0))
			Expect(err).To(MatchError(bgerrors.ErrInvalidInput))
		})
	})

	When("reading fields", func() {
		It("borrows objects held by a field", func() {
			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			canvas, err := engine.New(ctx, "Canvas", 1, shape)
			Expect(err).To(BeNil())

			res, err := canvas.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			borrowed := res.(*bindgen.Object)
			Expect(borrowed.Ownership()).To(Equal(bindgen.Borrowed))

			again, err := canvas.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			Expect(again.(*bindgen.Object).ID()).To(Equal(borrowed.ID()))
			Expect(engine.CountHandles()).To(Equal(3))

			Expect(borrowed.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Shape"]).To(Equal(0))
			Expect(engine.CountHandles()).To(Equal(2))
			_, err = again.(*bindgen.Object).CallMethod(ctx, "Name")
			Expect(err).To(MatchError(bgerrors.ErrInvalidHandle))

			Expect(shape.Delete(ctx)).To(Succeed())
			Expect(canvas.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Shape"]).To(Equal(1))
			Expect(engine.Handles()).To(BeEmpty())
		})

		It("drops borrowed handles when the object they point to is destroyed", func() {
			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			canvas, err := engine.New(ctx, "Canvas", 1, shape)
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			res, err := canvas.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			borrowed := res.(*bindgen.Object)

			Expect(shape.Delete(ctx)).To(Succeed())
			Expect(engine.CountHandles()).To(Equal(1))
			_, err = borrowed.CallMethod(ctx, "Name")
			Expect(err).To(MatchError(bgerrors.ErrInvalidHandle))
		})

		It("gives objects read through a base class field their runtime class", func() {
			circle, err := engine.New(ctx, "Circle", 3.0)
			Expect(err).To(BeNil())
			defer circle.Delete(ctx)
			canvas, err := engine.New(ctx, "Canvas", 1, circle)
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			res, err := canvas.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			primary := res.(*bindgen.Object)
			Expect(primary.Class()).To(Equal("Circle"))
			Expect(primary.IsA("Shape")).To(BeTrue())

			area, err := primary.CallMethod(ctx, "Area")
			Expect(err).To(BeNil())
			Expect(area).To(BeNumerically("~", 9*math.Pi, 1e-9))

			radius, err := primary.CallMethod(ctx, "Radius")
			Expect(err).To(BeNil())
			Expect(radius).To(Equal(3.0))
		})

		It("reads and writes primitive fields through the base class", func() {
			circle, err := engine.New(ctx, "Circle", 1.0)
			Expect(err).To(BeNil())
			defer circle.Delete(ctx)

			Expect(circle.SetProperty(ctx, "id", 42)).To(Succeed())
			id, err := circle.GetProperty(ctx, "id")
			Expect(err).To(BeNil())
			Expect(id).To(Equal(int32(42)))

			err = circle.SetProperty(ctx, "id", "42")
			Expect(err).To(MatchError(bgerrors.ErrTypeMismatch))
		})

		It("returns null for an empty object field", func() {
			canvas, err := engine.New(ctx, "Canvas")
			Expect(err).To(BeNil())
			defer canvas.Delete(ctx)

			res, err := canvas.GetProperty(ctx, "primary")
			Expect(err).To(BeNil())
			Expect(res).To(BeNil())
		})
	})

	When("using static members", func() {
		It("resolves static overloads by the closest type", func() {
			res, err := engine.CallStatic(ctx, "Canvas", "Scale", 4)
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(8)))

			res, err = engine.CallStatic(ctx, "Canvas", "Scale", 1.25)
			Expect(err).To(BeNil())
			Expect(res).To(Equal(2.5))

			_, err = engine.CallStatic(ctx, "Canvas", "Scale", int8(1))
			Expect(err).To(MatchError(bgerrors.ErrAmbiguousOverload))
		})

		It("initialises static fields with their declared values", func() {
			count, err := engine.GetStaticProperty(ctx, "Canvas", "count")
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int32(3)))

			Expect(engine.SetStaticProperty(ctx, "Canvas", "count", int16(7))).To(Succeed())
			count, err = engine.GetStaticProperty(ctx, "Canvas", "count")
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int32(7)))

			origin, err := engine.GetStaticProperty(ctx, "Canvas", "origin")
			Expect(err).To(BeNil())
			Expect(origin).To(Equal(bindgen.NewRecord("Point", "x", 1.0, "y", 2.0)))

			err = engine.SetStaticProperty(ctx, "Canvas", "count", "seven")
			Expect(err).To(MatchError(bgerrors.ErrTypeMismatch))
			_, err = engine.GetStaticProperty(ctx, "Canvas", "missing")
			Expect(err).To(MatchError(bgerrors.ErrNotFound))
		})

		It("shares static fields with native code", func() {
			res, err := engine.CallStatic(ctx, "Canvas", "Bump")
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(4)))

			count, err := engine.GetStaticProperty(ctx, "Canvas", "count")
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int32(4)))

			Expect(engine.SetStaticProperty(ctx, "Canvas", "count", 10)).To(Succeed())
			Expect(lib.Static("Canvas", "count").Get().I).To(Equal(int64(10)))

			res, err = engine.CallStatic(ctx, "Canvas", "Bump")
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(11)))
		})
	})

	When("passing callbacks", func() {
		It("calls back into the host synchronously", func() {
			res, err := engine.CallStatic(ctx, "Canvas", "AddOne", func(x int32) int32 {
				return x * 2
			}, 5)
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(11)))
		})

		It("passes the context to callbacks that take one", func() {
			res, err := engine.CallStatic(ctx, "Canvas", "AddOne", func(ctx context.Context, x int32) (int32, error) {
				Expect(ctx).ToNot(BeNil())
				return x, nil
			}, 1)
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(2)))
		})

		It("surfaces callback errors as native exceptions", func() {
			failure := errors.New("callback failed")
			_, err := engine.CallStatic(ctx, "Canvas", "AddOne", func(x int32) (int32, error) {
				return 0, failure
			}, 1)
			Expect(err).To(MatchError(bgerrors.ErrNativeException))
			Expect(err.Error()).To(ContainSubstring("callback failed"))
		})

		It("borrows exclusive objects handed to a callback", func() {
			circle, err := engine.New(ctx, "Circle", 3.0)
			Expect(err).To(BeNil())
			canvas, err := engine.New(ctx, "Canvas", 1, circle)
			Expect(err).To(BeNil())

			var lent *bindgen.Object
			res, err := canvas.CallMethod(ctx, "Each", func(s *bindgen.Object) int32 {
				Expect(s.Ownership()).To(Equal(bindgen.Borrowed))
				Expect(s.Class()).To(Equal("Circle"))
				r, err := s.CallMethod(ctx, "Name")
				Expect(err).To(BeNil())
				Expect(r).To(Equal("circle"))
				lent = s
				return 7
			})
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(7)))

			// Only valid during the callback.
			Expect(engine.CountHandles()).To(Equal(2))
			_, err = lent.CallMethod(ctx, "Name")
			Expect(err).To(MatchError(bgerrors.ErrInvalidHandle))

			Expect(canvas.Delete(ctx)).To(Succeed())
			Expect(circle.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Circle"]).To(Equal(1))
		})

		It("keeps registered callbacks until they are released", func() {
			cb, err := engine.RegisterCallback(func(x int32) int32 { return x })
			Expect(err).To(BeNil())

			for i := 0; i < 3; i++ {
				res, err := engine.CallStatic(ctx, "Canvas", "AddOne", cb, int32(i))
				Expect(err).To(BeNil())
				Expect(res).To(Equal(int32(i + 1)))
			}
			Expect(engine.CountCallbacks()).To(Equal(1))
			Expect(cb.Release()).To(Succeed())
		})

		It("never reuses the id of a released callback", func() {
			_, err := engine.CallStatic(ctx, "Canvas", "Keep", func(x int32) int32 { return x * 2 })
			Expect(err).To(BeNil())
			Expect(engine.CountCallbacks()).To(Equal(0))

			_, err = engine.CallStatic(ctx, "Canvas", "Relay", func(x int32) int32 { return x * 100 }, 3)
			Expect(err).To(MatchError(bgerrors.ErrNativeException))
			Expect(err).To(MatchError(bgerrors.ErrNotFound))
		})

		It("keeps the callback type of an outer call when a nested call rebinds it", func() {
			cb, err := engine.RegisterCallback(func(x any) int32 {
				switch v := x.(type) {
				case string:
					return int32(len(v))
				case int32:
					return v * 2
				}
				return -1
			})
			Expect(err).To(BeNil())
			defer cb.Release()

			res, err := engine.CallStatic(ctx, "Canvas", "Apply", cb, func() int32 {
				n, err := engine.CallStatic(ctx, "Canvas", "Count", cb, "abcd")
				Expect(err).To(BeNil())
				return n.(int32)
			})
			Expect(err).To(BeNil())
			Expect(res).To(Equal(int32(4 + 10)))
			Expect(engine.CountCallbacks()).To(Equal(1))
		})
	})

	When("sharing objects", func() {
		It("destroys a shared object after the last of N references", func() {
			first, err := engine.CallStatic(ctx, "Canvas", "Shared")
			Expect(err).To(BeNil())
			shared := first.(*bindgen.Object)
			Expect(shared.Ownership()).To(Equal(bindgen.Shared))

			clones := []*bindgen.Object{shared}
			for i := 0; i < 4; i++ {
				clone, err := shared.Clone()
				Expect(err).To(BeNil())
				clones = append(clones, clone)
			}
			Expect(engine.CountHandles()).To(Equal(1))
			Expect(engine.Handles()[0].RefCount).To(Equal(int32(5)))
			Expect(lib.Heap().RefCount(lib.shared)).To(Equal(int32(1)))

			for i, c := range clones {
				Expect(lib.destroyed["Canvas"]).To(Equal(0))
				Expect(c.Delete(ctx)).To(Succeed(), "clone %d", i)
			}
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
			Expect(engine.CountHandles()).To(Equal(0))
		})

		It("reuses the handle when native code returns the same object again", func() {
			a, err := engine.CallStatic(ctx, "Canvas", "Shared")
			Expect(err).To(BeNil())
			b, err := engine.CallStatic(ctx, "Canvas", "Shared")
			Expect(err).To(BeNil())

			Expect(a.(*bindgen.Object).ID()).To(Equal(b.(*bindgen.Object).ID()))
			Expect(engine.Handles()[0].RefCount).To(Equal(int32(2)))
			Expect(lib.Heap().RefCount(lib.shared)).To(Equal(int32(1)))

			Expect(a.(*bindgen.Object).Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(0))
			Expect(b.(*bindgen.Object).Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
		})

		It("keeps a shared object passed to a callback and then returned alive", func() {
			var seen *bindgen.Object
			res, err := engine.CallStatic(ctx, "Canvas", "Make", func(c *bindgen.Object) int32 {
				Expect(c.Ownership()).To(Equal(bindgen.Shared))
				_, err := c.CallMethod(ctx, "GetC")
				Expect(err).To(BeNil())
				seen = c
				return 0
			})
			Expect(err).To(BeNil())
			Expect(seen.IsDeleted()).To(BeTrue())
			Expect(lib.destroyed["Canvas"]).To(Equal(0))

			made := res.(*bindgen.Object)
			Expect(made.Ownership()).To(Equal(bindgen.Shared))
			Expect(engine.CountHandles()).To(Equal(1))
			Expect(lib.Heap().RefCount(lib.made)).To(Equal(int32(1)))

			Expect(made.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
			Expect(lib.Heap().Live()).To(Equal(0))
		})

		It("keeps a shared object the callback cloned", func() {
			var kept *bindgen.Object
			res, err := engine.CallStatic(ctx, "Canvas", "Make", func(c *bindgen.Object) int32 {
				var err error
				kept, err = c.Clone()
				Expect(err).To(BeNil())
				return 0
			})
			Expect(err).To(BeNil())
			made := res.(*bindgen.Object)
			Expect(made.ID()).To(Equal(kept.ID()))
			Expect(engine.Handles()[0].RefCount).To(Equal(int32(2)))
			Expect(lib.Heap().RefCount(lib.made)).To(Equal(int32(1)))

			Expect(made.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(0))
			Expect(kept.Delete(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
		})

		It("keeps one owner when native code returns an object the host owns", func() {
			circle, err := engine.New(ctx, "Circle", 1.0)
			Expect(err).To(BeNil())

			res, err := circle.CallMethod(ctx, "Self")
			Expect(err).To(BeNil())
			self := res.(*bindgen.Object)
			Expect(self.ID()).To(Equal(circle.ID()))
			Expect(self.Class()).To(Equal("Circle"))
			Expect(engine.CountHandles()).To(Equal(1))

			Expect(circle.Delete(ctx)).To(Succeed())
			Expect(self.Delete(ctx)).To(MatchError(bgerrors.ErrDoubleRelease))
			Expect(lib.destroyed["Circle"]).To(Equal(1))
		})

		It("refuses to clone exclusive objects", func() {
			shape, err := engine.New(ctx, "Shape")
			Expect(err).To(BeNil())
			defer shape.Delete(ctx)

			_, err = shape.Clone()
			Expect(err).To(MatchError(bgerrors.ErrNotShared))
		})

		It("releases queued shared objects on the next call", func() {
			res, err := engine.CallStatic(ctx, "Canvas", "Shared")
			Expect(err).To(BeNil())

			bindgen.ScheduleRelease(engine, res.(*bindgen.Object))
			Expect(lib.destroyed["Canvas"]).To(Equal(0))

			_, err = engine.CallStatic(ctx, "Canvas", "Scale", 1)
			Expect(err).To(BeNil())
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
			Expect(engine.CountHandles()).To(Equal(0))
		})

		It("hands queued releases to the delay function", func() {
			var flush func(ctx context.Context) error
			Expect(engine.SetDelayFunction(func(fn func(ctx context.Context) error) error {
				flush = fn
				return nil
			})).To(Succeed())

			res, err := engine.CallStatic(ctx, "Canvas", "Shared")
			Expect(err).To(BeNil())
			bindgen.ScheduleRelease(engine, res.(*bindgen.Object))

			Expect(flush).ToNot(BeNil())
			Expect(flush(ctx)).To(Succeed())
			Expect(lib.destroyed["Canvas"]).To(Equal(1))
		})
	})

	It("fails cleanly without a native side", func() {
		e := bindgen.CreateEngine(nil, mustLink(canvasDeclarations), nil)
		_, err := e.New(ctx, "Shape")
		Expect(err).To(MatchError(bgerrors.ErrMissingExport))
	})
})
