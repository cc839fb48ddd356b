package bindgen

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Wasm calling convention of the generated glue:
//
//   - primitives are passed as their wasm value type
//   - strings are a pointer to a malloc'd block holding a u32 length and the
//     data, the receiver of a block frees it
//   - objects are passed as their address, callbacks as their id
//   - structs are a pointer to a malloc'd block of 8 byte slots, one per
//     field in declaration order, each slot holding the field as it would
//     be passed
//   - native code calls back through _bindgen_invoke_callback(id, args,
//     argc, ret), args and ret being 8 byte slots

type destructorFunc struct {
	function    string
	apiFunction api.Function
	args        []uint64
}

func (df *destructorFunc) run(ctx context.Context, mod api.Module) error {
	fn := df.apiFunction
	if fn == nil {
		fn = mod.ExportedFunction(df.function)
	}
	if fn == nil {
		return fmt.Errorf("could not run destructor, %s is not exported", df.function)
	}
	_, err := fn.Call(ctx, df.args...)
	return err
}

func runDestructors(ctx context.Context, mod api.Module, destructors []*destructorFunc) error {
	for i := range destructors {
		err := destructors[i].run(ctx, mod)
		if err != nil {
			return err
		}
	}

	return nil
}

// RequiredExports are the functions a module needs besides the thunks.
var RequiredExports = []string{"malloc", "free"}

// WasmNative calls thunks exported by a wasm module.
type WasmNative struct {
	mod    api.Module
	logger *zap.Logger
}

func NewWasmNative(mod api.Module, logger *zap.Logger) *WasmNative {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WasmNative{mod: mod, logger: logger}
}

// MissingExports lists the functions the bindings need but mod does not
// export.
func MissingExports(mod api.Module, b *Bindings) []string {
	var missing []string
	for _, name := range append(append([]string{}, RequiredExports...), b.Symbols()...) {
		if mod.ExportedFunction(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func (w *WasmNative) Invoke(ctx context.Context, call NativeCall) (Value, error) {
	fn := w.mod.ExportedFunction(call.Symbol)
	if fn == nil {
		return Value{}, bgerrors.New(bgerrors.PhaseNative, bgerrors.KindMissingExport).
			Decl(call.Symbol).
			Detail("function is not exported by the module").
			Build()
	}

	destructors := []*destructorFunc{}
	params := make([]uint64, len(call.Args))
	for i := range call.Args {
		raw, err := w.toWasm(ctx, call.Args[i], &destructors)
		if err != nil {
			return Value{}, fmt.Errorf("could not lower argument %d of %s: %w", i, call.Symbol, err)
		}
		params[i] = raw
	}

	res, err := fn.Call(ctx, params...)
	if destructorErr := runDestructors(ctx, w.mod, destructors); destructorErr != nil && err == nil {
		err = destructorErr
	}
	if err != nil {
		return Value{}, err
	}

	if call.Result == nil {
		return Void(), nil
	}
	if len(res) == 0 {
		return Value{}, fmt.Errorf("%s returned no value, expected %s", call.Symbol, call.Result.Tag)
	}

	return w.fromWasm(ctx, res[0], *call.Result)
}

// toWasm lowers v to a single wasm value. With a nil destructor stack,
// allocated blocks are handed over to the native side.
func (w *WasmNative) toWasm(ctx context.Context, v Value, destructors *[]*destructorFunc) (uint64, error) {
	switch {
	case v.Tag.IsPrimitive():
		return primitiveTypes[v.Tag].ToWireType(ctx, w.mod, destructors, v)
	case v.Tag == TagPointer || v.Tag == TagCallback:
		return api.EncodeU32(uint32(v.U)), nil
	case v.Tag == TagStruct:
		size := uint32(8 * len(v.Fields))
		if size == 0 {
			size = 8
		}
		mallocRes, err := w.mod.ExportedFunction("malloc").Call(ctx, api.EncodeU32(size))
		if err != nil {
			return 0, err
		}
		block := api.DecodeU32(mallocRes[0])
		if block == 0 {
			return 0, fmt.Errorf("could not allocate %d bytes for struct %s", size, v.Class)
		}
		if destructors != nil {
			*destructors = append(*destructors, &destructorFunc{
				function: "free",
				args:     []uint64{api.EncodeU32(block)},
			})
		}
		for i := range v.Fields {
			raw, err := w.toWasm(ctx, v.Fields[i], destructors)
			if err != nil {
				return 0, fmt.Errorf("field %d of %s: %w", i, v.Class, err)
			}
			if !w.mod.Memory().WriteUint64Le(block+uint32(8*i), raw) {
				return 0, fmt.Errorf("could not write field %d of %s", i, v.Class)
			}
		}
		return api.EncodeU32(block), nil
	}

	return 0, fmt.Errorf("cannot pass %s to wasm", v.Tag)
}

// fromWasm lifts a wasm value of the given shape, freeing any block it
// points to.
func (w *WasmNative) fromWasm(ctx context.Context, raw uint64, shape Shape) (Value, error) {
	return liftWasm(ctx, w.mod, raw, shape)
}

func liftWasm(ctx context.Context, mod api.Module, raw uint64, shape Shape) (Value, error) {
	switch {
	case shape.Tag.IsPrimitive():
		return primitiveTypes[shape.Tag].FromWireType(ctx, mod, raw)
	case shape.Tag == TagPointer:
		return Value{Tag: TagPointer, Class: shape.Class, Ownership: shape.Ownership, U: uint64(api.DecodeU32(raw))}, nil
	case shape.Tag == TagCallback:
		return Value{Tag: TagCallback, U: uint64(api.DecodeU32(raw))}, nil
	case shape.Tag == TagStruct:
		block := api.DecodeU32(raw)
		out := Value{Tag: TagStruct, Class: shape.Class, Fields: make([]Value, len(shape.Fields))}
		for i := range shape.Fields {
			slot, ok := mod.Memory().ReadUint64Le(block + uint32(8*i))
			if !ok {
				return Value{}, fmt.Errorf("could not read field %d of %s", i, shape.Class)
			}
			fv, err := liftWasm(ctx, mod, slot, shape.Fields[i])
			if err != nil {
				return Value{}, err
			}
			out.Fields[i] = fv
		}
		if _, err := mod.ExportedFunction("free").Call(ctx, api.EncodeU32(block)); err != nil {
			return Value{}, err
		}
		return out, nil
	}

	return Value{}, fmt.Errorf("cannot read %s from wasm", shape.Tag)
}

// InvokeCallback is the Go side of the _bindgen_invoke_callback import.
var InvokeCallback = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	e := MustGetEngineFromContext(ctx).(*engine)

	id := uint64(api.DecodeU32(stack[0]))
	argsPtr := api.DecodeU32(stack[1])
	argc := api.DecodeU32(stack[2])
	retPtr := api.DecodeU32(stack[3])

	sig, err := e.CallbackSignature(id)
	if err != nil {
		panic(fmt.Errorf("could not invoke callback %d: %w", id, err))
	}
	if int(argc) != len(sig.Params) {
		panic(fmt.Errorf("callback %d (%s) called with %d argument(s)", id, sig, argc))
	}

	args := make([]Value, argc)
	for i := range args {
		slot, ok := mod.Memory().ReadUint64Le(argsPtr + uint32(8*i))
		if !ok {
			panic(fmt.Errorf("could not read argument %d of callback %d", i, id))
		}
		args[i], err = liftWasm(ctx, mod, slot, e.bindings.Shape(sig.Params[i]))
		if err != nil {
			panic(fmt.Errorf("could not read argument %d of callback %d: %w", i, id, err))
		}
	}

	res, err := e.InvokeCallback(ctx, id, args)
	if err != nil {
		panic(err)
	}

	if sig.Result == nil {
		return
	}

	// The result is handed over, native code frees any block in it.
	w := &WasmNative{mod: mod, logger: e.logger}
	raw, err := w.toWasm(ctx, res, nil)
	if err != nil {
		panic(fmt.Errorf("could not write result of callback %d: %w", id, err))
	}
	if !mod.Memory().WriteUint64Le(retPtr, raw) {
		panic(fmt.Errorf("could not write result of callback %d", id))
	}
})

// Throw is the Go side of the _bindgen_throw import. It aborts the thunk
// call with the exception message, the block is not freed because the
// module does not continue the call.
var Throw = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	msg := "unknown native exception"
	if ptr != 0 {
		if length, ok := mod.Memory().ReadUint32Le(ptr); ok {
			if data, ok := mod.Memory().Read(ptr+4, length); ok {
				msg = string(data)
			}
		}
	}
	panic(bgerrors.New(bgerrors.PhaseNative, bgerrors.KindNativeException).
		Detail("%s", msg).
		Build())
})
