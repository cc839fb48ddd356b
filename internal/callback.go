package bindgen

import (
	"context"
	"fmt"
	"reflect"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

type callbackHandle struct {
	fn       reflect.Value
	refCount int
	// sig is the callback type the id was bound to when it was first passed
	// to native code. It never changes afterwards.
	sig *TypeRef
}

// callbackAllocator keeps host functions that native code can call back
// into. Ids start at one and are never reused.
type callbackAllocator struct {
	next      uint64
	allocated map[uint64]*callbackHandle
}

func newCallbackAllocator() *callbackAllocator {
	return &callbackAllocator{
		next:      1,
		allocated: map[uint64]*callbackHandle{},
	}
}

func (ca *callbackAllocator) get(id uint64) (*callbackHandle, error) {
	h, ok := ca.allocated[id]
	if !ok {
		return nil, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindNotFound).
			Detail("callback %d is not registered", id).
			Value(id).
			Build()
	}
	return h, nil
}

func (ca *callbackAllocator) allocate(handle *callbackHandle) uint64 {
	id := ca.next
	ca.next++
	ca.allocated[id] = handle
	return id
}

func (ca *callbackAllocator) incref(id uint64) error {
	h, err := ca.get(id)
	if err != nil {
		return err
	}
	h.refCount++
	return nil
}

func (ca *callbackAllocator) decref(id uint64) error {
	h, err := ca.get(id)
	if err != nil {
		return err
	}
	h.refCount--
	if h.refCount == 0 {
		delete(ca.allocated, id)
	}
	return nil
}

func (ca *callbackAllocator) count() int {
	return len(ca.allocated)
}

// newCallbackHandle validates that fn is a function the trampoline can
// call: any parameters, optionally a leading context.Context, at most one
// result plus an optional trailing error.
func newCallbackHandle(fn any) (*callbackHandle, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, "func", fmt.Sprintf("%T", fn))
	}

	ft := rv.Type()
	outs := ft.NumOut()
	if outs > 0 && ft.Out(outs-1) == errorType {
		outs--
	}
	if outs > 1 {
		return nil, bgerrors.InvalidInput(bgerrors.PhaseEncode, fmt.Sprintf("callback %s returns more than one value", ft))
	}

	return &callbackHandle{fn: rv, refCount: 1}, nil
}

// Callback is a host function registered for repeated use by native code.
// It stays valid until Release.
type Callback struct {
	engine *engine
	id     uint64
}

func (c *Callback) ID() uint64 {
	return c.id
}

// Release drops the registration. Native code must not call it afterwards.
func (c *Callback) Release() error {
	if c.id == 0 {
		return bgerrors.DoubleRelease(0)
	}
	err := c.engine.callbacks.decref(c.id)
	c.id = 0
	return err
}

// callScope collects what a single boundary call allocated so it can be
// dropped when the call returns.
type callScope struct {
	callbacks []uint64
}

func (e *engine) registerScopedCallback(fn any, scope *callScope) (uint64, error) {
	if scope == nil {
		return 0, bgerrors.InvalidInput(bgerrors.PhaseEncode, "functions can only be passed as call arguments, use RegisterCallback")
	}
	h, err := newCallbackHandle(fn)
	if err != nil {
		return 0, err
	}
	id := e.callbacks.allocate(h)
	scope.callbacks = append(scope.callbacks, id)
	return id, nil
}

// bindCallback fixes the callback type of id for native code. An id that is
// already bound to another type gets a call scoped alias, so a native call
// further up the stack keeps decoding with the type it was given.
func (e *engine) bindCallback(id uint64, sig TypeRef, scope *callScope) (uint64, error) {
	h, err := e.callbacks.get(id)
	if err != nil {
		return 0, err
	}
	if h.sig == nil {
		h.sig = &sig
		return id, nil
	}
	if h.sig.Equal(sig) {
		return id, nil
	}
	if scope == nil {
		return 0, bgerrors.InvalidInput(bgerrors.PhaseEncode, "callbacks can only be passed as call arguments")
	}

	alias := e.callbacks.allocate(&callbackHandle{fn: h.fn, refCount: 1, sig: &sig})
	scope.callbacks = append(scope.callbacks, alias)
	return alias, nil
}

func (e *engine) releaseScope(scope *callScope) {
	for _, id := range scope.callbacks {
		// The native side may have retained the callback, only drop our ref.
		_ = e.callbacks.decref(id)
	}
	scope.callbacks = nil
}

func (e *engine) RegisterCallback(fn any) (*Callback, error) {
	h, err := newCallbackHandle(fn)
	if err != nil {
		return nil, err
	}
	return &Callback{engine: e, id: e.callbacks.allocate(h)}, nil
}

// RetainCallback and ReleaseCallback let native code keep a callback alive
// past the call it was passed to.
func (e *engine) RetainCallback(id uint64) error {
	return e.callbacks.incref(id)
}

func (e *engine) ReleaseCallback(id uint64) error {
	return e.callbacks.decref(id)
}

func (e *engine) CountCallbacks() int {
	return e.callbacks.count()
}

// CallbackSignature returns the callback type id was bound to.
func (e *engine) CallbackSignature(id uint64) (TypeRef, error) {
	h, err := e.callbacks.get(id)
	if err != nil {
		return TypeRef{}, err
	}
	if h.sig == nil {
		return TypeRef{}, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindInvalidInput).
			Detail("callback %d was never passed to native code", id).
			Build()
	}
	return *h.sig, nil
}

// InvokeCallback is the host half of the trampoline: native code calls a
// host function synchronously with arguments in native form and receives
// the result in native form.
func (e *engine) InvokeCallback(ctx context.Context, id uint64, args []Value) (Value, error) {
	h, err := e.callbacks.get(id)
	if err != nil {
		return Value{}, err
	}
	if h.sig == nil {
		return Value{}, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindInvalidInput).
			Detail("callback %d was never passed to native code", id).
			Build()
	}
	sig := *h.sig

	if len(args) != len(sig.Params) {
		return Value{}, bgerrors.New(bgerrors.PhaseDecode, bgerrors.KindInvalidInput).
			Detail("callback %s called with %d argument(s)", sig, len(args)).
			Build()
	}

	ctx = e.Attach(ctx)
	e.depth++
	defer func() {
		e.depth--
	}()

	hostArgs := make([]any, len(args))
	var lent []*Object
	defer func() {
		// References handed to the callback are released unless it cloned
		// them. Borrowed arguments registered for this call are only valid
		// during it.
		for _, obj := range lent {
			if !obj.deleted {
				_ = obj.Delete(ctx)
			}
		}
	}()
	firstID := e.handles.NextID()
	for i := range args {
		hostArgs[i], err = e.lift(ctx, args[i], &sig.Params[i], liftCallbackArg)
		if err != nil {
			return Value{}, fmt.Errorf("could not decode callback argument %d: %w", i, err)
		}
		obj, ok := hostArgs[i].(*Object)
		if !ok {
			continue
		}
		if obj.ownership == Shared || (obj.ownership == Borrowed && obj.id >= firstID) {
			lent = append(lent, obj)
		}
	}

	ret, err := callHostFunction(ctx, h.fn, hostArgs)
	if err != nil {
		return Value{}, err
	}

	if sig.Result == nil {
		return Void(), nil
	}

	v, err := e.conv.hostToValue(ret, nil)
	if err != nil {
		return Value{}, fmt.Errorf("could not encode callback result: %w", err)
	}
	out, err := e.lower(v, *sig.Result, nil)
	if err != nil {
		return Value{}, fmt.Errorf("could not encode callback result: %w", err)
	}
	return out, nil
}

// callHostFunction calls fn with args converted to its parameter types.
func callHostFunction(ctx context.Context, fn reflect.Value, args []any) (result any, err error) {
	ft := fn.Type()

	in := make([]reflect.Value, 0, ft.NumIn())
	offset := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}

	if ft.NumIn()-offset != len(args) {
		return nil, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindInvalidInput).
			Detail("callback %s takes %d argument(s), got %d", ft, ft.NumIn()-offset, len(args)).
			Build()
	}

	for i := range args {
		want := ft.In(i + offset)
		if args[i] == nil {
			in = append(in, reflect.Zero(want))
			continue
		}
		rv := reflect.ValueOf(args[i])
		switch {
		case rv.Type().AssignableTo(want):
		case kindClass(rv.Kind()) != 0 && kindClass(rv.Kind()) == kindClass(want.Kind()):
			rv = rv.Convert(want)
		default:
			return nil, bgerrors.TypeMismatch(bgerrors.PhaseDispatch, []string{fmt.Sprintf("param %d", i)}, want.String(), rv.Type().String())
		}
		in = append(in, rv)
	}

	defer func() {
		if r := recover(); r != nil {
			if recErr, ok := r.(error); ok {
				err = fmt.Errorf("callback panicked: %w", recErr)
				return
			}
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()

	out := fn.Call(in)
	if len(out) > 0 && ft.Out(len(out)-1) == errorType {
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// kindClass groups kinds that convert into each other without changing
// meaning: numbers, strings and bools.
func kindClass(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	}
	return 0
}
