package bindgen

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// enter marks the start of a boundary call. The outermost call writes the
// initial static field values on first use and flushes releases queued by
// finalizers.
func (e *engine) enter(ctx context.Context) (context.Context, func(), error) {
	ctx = e.Attach(ctx)
	if e.depth == 0 {
		if err := e.initStatics(ctx); err != nil {
			return ctx, func() {}, err
		}
		if err := e.FlushPendingDeletes(ctx); err != nil {
			e.logger.Warn("could not release collected shared objects", zap.Error(err))
		}
	}
	e.depth++
	return ctx, func() {
		e.depth--
	}, nil
}

// dispatch encodes the host arguments, resolves the overload and runs the
// selected thunk.
func (e *engine) dispatch(ctx context.Context, g *Group, this *Object, arguments []any) (any, error) {
	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	scope := &callScope{}
	defer e.releaseScope(scope)

	args := make([]Value, len(arguments))
	for i := range arguments {
		v, err := e.conv.hostToValue(arguments[i], scope)
		if err != nil {
			return nil, fmt.Errorf("could not encode argument %d: %w", i, err)
		}
		args[i] = v
	}

	cand, err := e.bindings.Resolve(e.logger, g, args)
	if err != nil {
		return nil, err
	}

	return e.invoke(ctx, cand, this, args, scope)
}

// invoke is the host half of a thunk call: lower every argument to its
// declared native form, call the symbol and lift the result.
func (e *engine) invoke(ctx context.Context, cand *Candidate, this *Object, args []Value, scope *callScope) (any, error) {
	params := cand.Params()
	if len(args) != len(params) {
		return nil, fmt.Errorf("function %s called with %d argument(s), expected %d arg(s)", cand, len(args), len(params))
	}

	nativeArgs := make([]Value, 0, len(params)+1)
	if cand.Kind == CandidateMethod {
		thisArg, err := e.thisPointer(this, cand.Owner)
		if err != nil {
			return nil, err
		}
		nativeArgs = append(nativeArgs, thisArg)
	}

	for i := range params {
		v, err := e.lower(args[i], params[i], scope)
		if err != nil {
			return nil, fmt.Errorf("could not get wire type of argument %d (%s): %w", i, params[i], err)
		}
		nativeArgs = append(nativeArgs, v)
	}

	res, err := e.callNative(ctx, NativeCall{
		Symbol: cand.Symbol,
		Args:   nativeArgs,
		Result: e.bindings.resultShape(cand.Result()),
	})
	if err != nil {
		return nil, err
	}

	mode := liftResult
	if cand.Kind == CandidateConstructor {
		mode = liftConstructed
	}
	return e.lift(ctx, res, cand.Result(), mode)
}

// thisPointer resolves the receiver and upcasts it to the class that
// declared the member.
func (e *engine) thisPointer(this *Object, owner string) (Value, error) {
	if err := e.checkThis(this); err != nil {
		return Value{}, err
	}
	addr, err := e.handles.Resolve(this.id)
	if err != nil {
		return Value{}, err
	}
	addr, err = upcast(addr, this.class, owner)
	if err != nil {
		return Value{}, err
	}
	return Pointer(owner, addr), nil
}

func (e *engine) callNative(ctx context.Context, call NativeCall) (Value, error) {
	if e.native == nil {
		return Value{}, bgerrors.New(bgerrors.PhaseNative, bgerrors.KindMissingExport).
			Decl(call.Symbol).
			Detail("no native side attached").
			Build()
	}

	res, err := e.native.Invoke(ctx, call)
	if err != nil {
		if bgerrors.KindOf(err) == bgerrors.KindMissingExport || bgerrors.KindOf(err) == bgerrors.KindNativeException {
			return Value{}, err
		}
		e.logger.Warn("native exception", zap.String("symbol", call.Symbol), zap.Error(err))
		return Value{}, bgerrors.NativeException(call.Symbol, err.Error(), err)
	}
	return res, nil
}

// lower converts an encoded host value into the native form of t. Callbacks
// can only be lowered within a call scope.
func (e *engine) lower(v Value, t TypeRef, scope *callScope) (Value, error) {
	switch t.Kind {
	case KindPrimitive:
		out, _, ok := convertPrimitive(v, t.Prim)
		if !ok {
			return Value{}, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, t.String(), v.TypeName())
		}
		return out, nil
	case KindStruct:
		decl, ok := e.bindings.Struct(t.Name)
		if !ok {
			return Value{}, bgerrors.NotFound(bgerrors.PhaseEncode, "struct", t.Name)
		}
		if v.Tag != TagStruct || v.Class != t.Name || len(v.Fields) != len(decl.Fields) {
			return Value{}, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, t.String(), v.TypeName())
		}
		out := Value{Tag: TagStruct, Class: t.Name, Fields: make([]Value, len(decl.Fields))}
		for i, f := range decl.Fields {
			fv, err := e.lower(v.Fields[i], f.Type, scope)
			if err != nil {
				return Value{}, fmt.Errorf("field %s.%s: %w", t.Name, f.Name, err)
			}
			out.Fields[i] = fv
		}
		return out, nil
	case KindExclusive, KindShared, KindBorrowed:
		return e.lowerHandle(v, t)
	case KindCallback:
		if v.Tag != TagCallback {
			return Value{}, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, t.String(), v.TypeName())
		}
		id, err := e.bindCallback(v.U, t, scope)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagCallback, U: id}, nil
	}

	return Value{}, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, t.String(), v.TypeName())
}

// liftMode says where a native value came from, which decides the
// ownership of object handles.
type liftMode uint8

const (
	// liftResult takes ownership as declared.
	liftResult liftMode = iota
	// liftConstructed is a constructor result.
	liftConstructed
	// liftField borrows exclusive pointers, the object owns its fields.
	liftField
	// liftCallbackArg borrows exclusive pointers, native code keeps them.
	liftCallbackArg
)

// lift converts a native value of type t into its host form, registering
// handles for objects.
func (e *engine) lift(ctx context.Context, v Value, t *TypeRef, mode liftMode) (any, error) {
	if t == nil {
		return nil, nil
	}

	switch t.Kind {
	case KindPrimitive, KindStruct:
		return e.conv.valueToHost(v, *t)
	case KindCallback:
		return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, nil, "value", t.String())
	}

	return e.liftHandle(ctx, v, *t, mode)
}
