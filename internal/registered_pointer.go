package bindgen

import (
	"context"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// lowerHandle turns a handle into the address native code expects for t,
// upcast to the declared class.
func (e *engine) lowerHandle(v Value, t TypeRef) (Value, error) {
	if v.Tag != TagHandle {
		return Value{}, bgerrors.TypeMismatch(bgerrors.PhaseEncode, nil, t.String(), v.TypeName())
	}
	out := Value{Tag: TagPointer, Class: t.Name, Ownership: ownershipOf(t)}
	if v.U == 0 {
		return out, nil
	}
	info, err := e.handles.Info(v.U)
	if err != nil {
		return Value{}, err
	}
	if t.Kind == KindShared && info.Ownership != Shared {
		return Value{}, bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindNotShared).
			Detail("%s#%d is %s, %s needs a shared object", info.Class, info.ID, info.Ownership, t).
			Build()
	}
	class, err := e.class(info.Class)
	if err != nil {
		return Value{}, err
	}
	out.U, err = upcast(info.Address, class, t.Name)
	if err != nil {
		return Value{}, err
	}
	return out, nil
}

// liftHandle registers a handle for an object pointer coming out of
// native code. The handle gets the most derived declared class of the
// object, not the class t names.
func (e *engine) liftHandle(ctx context.Context, v Value, t TypeRef, mode liftMode) (any, error) {
	if v.Tag != TagPointer {
		return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, nil, t.String(), v.TypeName())
	}
	if v.U == 0 {
		return nil, nil
	}

	declared, err := e.class(t.Name)
	if err != nil {
		return nil, err
	}

	ownership := ownershipOf(t)
	if ownership == Exclusive && (mode == liftField || mode == liftCallbackArg) {
		ownership = Borrowed
	}

	switch ownership {
	case Shared:
		// The native side handed us a reference. If the object already has
		// a handle, count it there and give the extra reference back.
		if id := e.handles.SharedID(v.U); id != 0 {
			if err := e.handles.Retain(id); err != nil {
				return nil, err
			}
			info, err := e.handles.Info(id)
			if err != nil {
				return nil, err
			}
			if _, err := e.callNative(ctx, NativeCall{
				Symbol: UnshareSymbol(info.Class),
				Args:   []Value{Pointer(info.Class, v.U)},
			}); err != nil {
				return nil, err
			}
			return e.existingObject(id, info, Shared)
		}
	case Exclusive:
		// Ownership of an object the host already owns cannot be handed
		// over twice, keep the one handle.
		if id := e.handles.ExclusiveID(v.U); id != 0 {
			info, err := e.handles.Info(id)
			if err != nil {
				return nil, err
			}
			e.logger.Debug("native code returned an object that already has a handle",
				zap.Uint64("id", id),
				zap.String("class", info.Class),
			)
			return e.existingObject(id, info, Exclusive)
		}
	}

	class, err := e.runtimeClass(ctx, v.U, declared)
	if err != nil {
		return nil, err
	}

	id, err := e.handles.Register(v.U, ownership, class)
	if err != nil {
		return nil, err
	}
	return e.newObject(id, class, ownership), nil
}

func (e *engine) existingObject(id HandleID, info HandleInfo, ownership Ownership) (*Object, error) {
	class, err := e.class(info.Class)
	if err != nil {
		return nil, err
	}
	return e.newObject(id, class, ownership), nil
}

// runtimeClass asks native code for the most derived declared class of the
// object at addr. Classes without subclasses need no call.
func (e *engine) runtimeClass(ctx context.Context, addr uint64, declared *ClassType) (*ClassType, error) {
	if !declared.Polymorphic() {
		return declared, nil
	}

	res, err := e.callNative(ctx, NativeCall{
		Symbol: TypeIDSymbol(declared.name),
		Args:   []Value{Pointer(declared.name, addr)},
		Result: &Shape{Tag: TagString},
	})
	if err != nil {
		return nil, err
	}
	if res.Tag != TagString {
		return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, []string{TypeIDSymbol(declared.name)}, "string", res.TypeName())
	}

	actual, ok := e.bindings.Class(res.S)
	if !ok {
		// A class native code knows but never declared, the declared type is
		// the closest the host can get.
		e.logger.Debug("undeclared runtime class", zap.String("class", res.S), zap.String("declared", declared.name))
		return declared, nil
	}
	if !actual.IsA(declared.name) {
		return nil, bgerrors.New(bgerrors.PhaseDecode, bgerrors.KindTypeMismatch).
			Detail("native code reports %s for a %s pointer", actual.name, declared.name).
			Build()
	}
	return actual, nil
}
