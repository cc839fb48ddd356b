package bindgen_test

import (
	"fmt"
	"math"

	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/gomega"
)

const canvasDeclarations = `
structs:
  - name: Point
    fields:
      - {name: x, type: float64}
      - {name: y, type: float64}
classes:
  - name: Shape
    constructors:
      - {}
    methods:
      - name: Name
        result: string
      - name: Area
        result: float64
      - name: Self
        result: Shape*
    fields:
      - {name: id, type: int32}
  - name: Circle
    base: Shape
    constructors:
      - params: [float64]
        param_names: [radius]
    methods:
      - name: Area
        result: float64
      - name: Radius
        result: float64
  - name: Canvas
    constructors:
      - {}
      - params: [int32]
      - params: [int32, Shape*]
    methods:
      - name: SetC
        params: [struct Point]
      - name: GetC
        result: struct Point
      - name: Measure
        params: [Shape&]
        result: float64
      - name: Each
        params: ["fn(Shape*) -> int32"]
        result: int32
    static_methods:
      - name: Shared
        result: shared_ptr<Canvas>
      - name: AddOne
        params: ["fn(int32) -> int32", int32]
        result: int32
      - name: Scale
        params: [int32]
        result: int32
      - name: Scale
        params: [float64]
        result: float64
      - name: Make
        params: ["fn(shared_ptr<Canvas>) -> int32"]
        result: shared_ptr<Canvas>
      - name: Keep
        params: ["fn(int32) -> int32"]
      - name: Relay
        params: ["fn(int32) -> int32", int32]
        result: int32
      - name: Apply
        params: ["fn(int32) -> int32", "fn() -> int32"]
        result: int32
      - name: Count
        params: ["fn(string) -> int32", string]
        result: int32
      - name: Bump
        result: int32
    fields:
      - {name: primary, type: Shape*}
    static_fields:
      - {name: count, type: int32, value: 3}
      - {name: origin, type: struct Point, value: {x: 1, y: 2}}
`

type nativeShape struct {
	id     int32
	radius float64
	circle bool
}

type nativeCanvas struct {
	width   int32
	center  bindgen.Value
	primary uint64
}

// canvasLibrary is an in-process implementation of canvasDeclarations that
// records what native code saw.
type canvasLibrary struct {
	*bindgen.Library

	destroyed map[string]int
	// receivers lists the this pointers of every Shape.Name call.
	receivers []uint64
	shared    uint64
	// made is the last canvas created by Make.
	made uint64
	// kept is the callback Keep stored without retaining it.
	kept bindgen.Value
}

func mustLink(yaml string) *bindgen.Bindings {
	entries, err := bindgen.ParseDeclarations([]byte(yaml))
	Expect(err).To(BeNil())
	ir, err := bindgen.Collect(nil, entries)
	Expect(err).To(BeNil())
	b, err := bindgen.Link(nil, ir)
	Expect(err).To(BeNil())
	return b
}

func shapeOf(call *bindgen.Call, i int) *nativeShape {
	obj, err := call.Object(i)
	if err != nil {
		panic(err)
	}
	switch s := obj.(type) {
	case *nativeShape:
		return s
	}
	panic(fmt.Errorf("argument %d of %s is %T", i, call.Symbol, obj))
}

func canvasOf(call *bindgen.Call) *nativeCanvas {
	obj, err := call.Object(0)
	if err != nil {
		panic(err)
	}
	return obj.(*nativeCanvas)
}

func area(s *nativeShape) float64 {
	if !s.circle {
		return 0
	}
	return math.Pi * s.radius * s.radius
}

func newCanvasLibrary() *canvasLibrary {
	lib := &canvasLibrary{
		Library:   bindgen.NewLibrary(nil),
		destroyed: map[string]int{},
	}
	heap := lib.Heap()
	count := func(class string) func(any) {
		return func(any) {
			lib.destroyed[class]++
		}
	}

	lib.Class("Shape", count("Shape")).
		Class("Circle", count("Circle")).
		Class("Canvas", count("Canvas"))

	lib.Func("bindgen_Shape_new_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Pointer("Shape", heap.New("Shape", &nativeShape{})), nil
	})
	lib.Func("bindgen_Shape_Name_0", func(call *bindgen.Call) (bindgen.Value, error) {
		lib.receivers = append(lib.receivers, call.Args[0].U)
		if shapeOf(call, 0).circle {
			return bindgen.String("circle"), nil
		}
		return bindgen.String("shape"), nil
	})
	lib.Func("bindgen_Shape_Area_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Float64(0), nil
	})
	lib.Func("bindgen_Shape_Self_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Pointer("Shape", call.Args[0].U), nil
	})
	lib.Func("bindgen_Shape_get_id", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Int32(shapeOf(call, 0).id), nil
	})
	lib.Func("bindgen_Shape_set_id", func(call *bindgen.Call) (bindgen.Value, error) {
		shapeOf(call, 0).id = int32(call.Args[1].I)
		return bindgen.Void(), nil
	})

	lib.Func("bindgen_Circle_new_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Pointer("Circle", heap.New("Circle", &nativeShape{radius: call.Args[0].F, circle: true})), nil
	})
	lib.Func("bindgen_Circle_Area_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Float64(area(shapeOf(call, 0))), nil
	})
	lib.Func("bindgen_Circle_Radius_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Float64(shapeOf(call, 0).radius), nil
	})

	newCanvas := func(width int32, primary uint64) bindgen.Value {
		c := &nativeCanvas{
			width:   width,
			center:  bindgen.Struct("Point", bindgen.Float64(0), bindgen.Float64(0)),
			primary: primary,
		}
		return bindgen.Pointer("Canvas", heap.New("Canvas", c))
	}
	lib.Func("bindgen_Canvas_new_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return newCanvas(0, 0), nil
	})
	lib.Func("bindgen_Canvas_new_1", func(call *bindgen.Call) (bindgen.Value, error) {
		return newCanvas(int32(call.Args[0].I), 0), nil
	})
	lib.Func("bindgen_Canvas_new_2", func(call *bindgen.Call) (bindgen.Value, error) {
		return newCanvas(int32(call.Args[0].I), call.Args[1].U), nil
	})
	lib.Func("bindgen_Canvas_SetC_0", func(call *bindgen.Call) (bindgen.Value, error) {
		canvasOf(call).center = call.Args[1]
		return bindgen.Void(), nil
	})
	lib.Func("bindgen_Canvas_GetC_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return canvasOf(call).center, nil
	})
	lib.Func("bindgen_Canvas_Measure_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Float64(area(shapeOf(call, 1))), nil
	})
	lib.Func("bindgen_Canvas_Each_0", func(call *bindgen.Call) (bindgen.Value, error) {
		c := canvasOf(call)
		return call.Invoke(call.Args[1], bindgen.Pointer("Shape", c.primary))
	})
	lib.Func("bindgen_Canvas_get_primary", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Pointer("Shape", canvasOf(call).primary), nil
	})
	lib.Func("bindgen_Canvas_set_primary", func(call *bindgen.Call) (bindgen.Value, error) {
		canvasOf(call).primary = call.Args[1].U
		return bindgen.Void(), nil
	})

	lib.Func("bindgen_Canvas_static_Shared_0", func(call *bindgen.Call) (bindgen.Value, error) {
		if lib.shared == 0 {
			lib.shared = newCanvas(640, 0).U
		}
		return bindgen.SharedPointer("Canvas", lib.shared), nil
	})
	lib.Func("bindgen_Canvas_static_AddOne_0", func(call *bindgen.Call) (bindgen.Value, error) {
		res, err := call.Invoke(call.Args[0], call.Args[1])
		if err != nil {
			return bindgen.Value{}, err
		}
		return bindgen.Int32(int32(res.I) + 1), nil
	})
	lib.Func("bindgen_Canvas_static_Scale_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Int32(int32(call.Args[0].I) * 2), nil
	})
	lib.Func("bindgen_Canvas_static_Scale_1", func(call *bindgen.Call) (bindgen.Value, error) {
		return bindgen.Float64(call.Args[0].F * 2), nil
	})
	lib.Func("bindgen_Canvas_static_Make_0", func(call *bindgen.Call) (bindgen.Value, error) {
		lib.made = newCanvas(320, 0).U
		if _, err := call.Invoke(call.Args[0], bindgen.SharedPointer("Canvas", lib.made)); err != nil {
			return bindgen.Value{}, err
		}
		return bindgen.SharedPointer("Canvas", lib.made), nil
	})
	lib.Func("bindgen_Canvas_static_Keep_0", func(call *bindgen.Call) (bindgen.Value, error) {
		lib.kept = call.Args[0]
		return bindgen.Void(), nil
	})
	lib.Func("bindgen_Canvas_static_Relay_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return call.Invoke(lib.kept, call.Args[1])
	})
	lib.Func("bindgen_Canvas_static_Apply_0", func(call *bindgen.Call) (bindgen.Value, error) {
		hooked, err := call.Invoke(call.Args[1])
		if err != nil {
			return bindgen.Value{}, err
		}
		res, err := call.Invoke(call.Args[0], bindgen.Int32(5))
		if err != nil {
			return bindgen.Value{}, err
		}
		return bindgen.Int32(int32(hooked.I + res.I)), nil
	})
	lib.Func("bindgen_Canvas_static_Count_0", func(call *bindgen.Call) (bindgen.Value, error) {
		return call.Invoke(call.Args[0], call.Args[1])
	})

	counter := lib.Static("Canvas", "count")
	lib.Static("Canvas", "origin")
	lib.Func("bindgen_Canvas_static_Bump_0", func(call *bindgen.Call) (bindgen.Value, error) {
		next := bindgen.Int32(int32(counter.Get().I) + 1)
		counter.Set(next)
		return next, nil
	})

	return lib
}
