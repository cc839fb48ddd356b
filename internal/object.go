package bindgen

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Record is the host form of a struct: a copy of the native value, keyed by
// field name.
type Record struct {
	Type   string
	Fields map[string]any
}

// NewRecord builds a record from alternating field names and values.
func NewRecord(typ string, kv ...any) Record {
	r := Record{Type: typ, Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return r
}

// Get returns a field value.
func (r Record) Get(name string) any {
	return r.Fields[name]
}

// Object is the host proxy of a native object. Shared objects hold one
// reference each; Clone adds another proxy with its own reference.
type Object struct {
	engine    *engine
	id        HandleID
	class     *ClassType
	ownership Ownership
	deleted   bool
}

func (e *engine) newObject(id HandleID, class *ClassType, ownership Ownership) *Object {
	obj := &Object{
		engine:    e,
		id:        id,
		class:     class,
		ownership: ownership,
	}

	if ownership == Shared && e.config.AutoRelease() {
		runtime.SetFinalizer(obj, func(o *Object) {
			o.engine.scheduleRelease(o.id)
		})
	}

	return obj
}

func (o *Object) ID() HandleID {
	return o.id
}

// Class returns the runtime class of the object.
func (o *Object) Class() string {
	return o.class.name
}

func (o *Object) Ownership() Ownership {
	return o.ownership
}

func (o *Object) IsDeleted() bool {
	return o.deleted
}

// IsA reports whether the object is an instance of class or a subclass.
func (o *Object) IsA(class string) bool {
	return o.class.IsA(class)
}

// Delete releases the proxy's reference. Exclusive objects are destroyed,
// shared ones when the last reference goes. Borrowed handles are
// unregistered without touching the object, which also invalidates other
// proxies of the same handle.
func (o *Object) Delete(ctx context.Context) error {
	if o.deleted {
		return bgerrors.DoubleRelease(o.id)
	}

	runtime.SetFinalizer(o, nil)
	o.deleted = true

	if o.ownership == Borrowed {
		return o.engine.handles.Unregister(o.id)
	}
	return o.engine.release(ctx, o.id)
}

// Clone returns a new proxy holding another reference to a shared object.
func (o *Object) Clone() (*Object, error) {
	if o.deleted {
		return nil, bgerrors.InvalidHandle(o.id)
	}
	if o.ownership != Shared {
		return nil, bgerrors.New(bgerrors.PhaseLifetime, bgerrors.KindNotShared).
			Detail("cannot clone %s object %s#%d", o.ownership, o.class.name, o.id).
			Build()
	}
	if err := o.engine.handles.Retain(o.id); err != nil {
		return nil, err
	}
	return o.engine.newObject(o.id, o.class, Shared), nil
}

func (o *Object) CallMethod(ctx context.Context, name string, arguments ...any) (any, error) {
	return o.engine.CallMethod(ctx, o, name, arguments...)
}

func (o *Object) GetProperty(ctx context.Context, name string) (any, error) {
	return o.engine.GetProperty(ctx, o, name)
}

func (o *Object) SetProperty(ctx context.Context, name string, value any) error {
	return o.engine.SetProperty(ctx, o, name, value)
}

func (o *Object) String() string {
	state := ""
	if o.deleted {
		state = " deleted"
	}
	return fmt.Sprintf("%s#%d(%s%s)", o.class.name, o.id, o.ownership, state)
}

// converter turns host values into boundary values.
type converter struct {
	bindings *Bindings
	engine   *engine
}

// hostToValue encodes a host value. Functions are only accepted when a call
// scope is given, they become call scoped callbacks.
func (c *converter) hostToValue(o any, scope *callScope) (Value, error) {
	switch v := o.(type) {
	case nil:
		return Value{Tag: TagHandle}, nil
	case Value:
		return v, nil
	case *Object:
		if v == nil {
			return Value{Tag: TagHandle}, nil
		}
		if v.deleted {
			return Value{}, bgerrors.InvalidHandle(v.id)
		}
		if c.engine != nil {
			if _, err := c.engine.handles.Info(v.id); err != nil {
				return Value{}, err
			}
		}
		return Value{Tag: TagHandle, U: v.id, Class: v.class.name, Ownership: v.ownership}, nil
	case Record:
		return c.recordToValue(v, scope)
	case *Record:
		if v == nil {
			return Value{}, bgerrors.InvalidInput(bgerrors.PhaseEncode, "nil record")
		}
		return c.recordToValue(*v, scope)
	case *Callback:
		if v == nil || v.id == 0 {
			return Value{}, bgerrors.InvalidInput(bgerrors.PhaseEncode, "released callback")
		}
		return Value{Tag: TagCallback, U: v.id}, nil
	case float32:
		return Float32(v), nil
	case float64:
		return Float64(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case WString:
		return WStringValue(string(v)), nil
	}

	if v, ok := intFromGo(o); ok {
		return v, nil
	}

	if reflect.TypeOf(o).Kind() == reflect.Func {
		if c.engine == nil {
			return Value{}, bgerrors.InvalidInput(bgerrors.PhaseEncode, "functions cannot be used here")
		}
		id, err := c.engine.registerScopedCallback(o, scope)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagCallback, U: id}, nil
	}

	return Value{}, bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindTypeMismatch).
		Detail("values of type %T cannot cross the boundary", o).
		Build()
}

func (c *converter) recordToValue(r Record, scope *callScope) (Value, error) {
	decl, ok := c.bindings.Struct(r.Type)
	if !ok {
		return Value{}, bgerrors.NotFound(bgerrors.PhaseEncode, "struct", r.Type)
	}

	known := map[string]bool{}
	out := Value{Tag: TagStruct, Class: decl.Name, Fields: make([]Value, len(decl.Fields))}
	for i, f := range decl.Fields {
		known[f.Name] = true
		raw, ok := r.Fields[f.Name]
		if !ok {
			return Value{}, bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindInvalidInput).
				Decl(decl.Name).
				Detail("field %q is missing", f.Name).
				Build()
		}
		v, err := c.hostToValue(raw, scope)
		if err != nil {
			return Value{}, fmt.Errorf("field %s.%s: %w", decl.Name, f.Name, err)
		}
		out.Fields[i] = v
	}

	var unknown []string
	for name := range r.Fields {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Value{}, bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindInvalidInput).
			Decl(decl.Name).
			Detail("unknown fields %v", unknown).
			Build()
	}

	return out, nil
}

// coerce converts an encoded value to exactly the declared type, widening
// where allowed. Handles stay in host form.
func (c *converter) coerce(v Value, t TypeRef) (Value, bool) {
	if _, ok := c.bindings.match(t, v); !ok {
		return Value{}, false
	}

	switch t.Kind {
	case KindPrimitive:
		out, _, _ := convertPrimitive(v, t.Prim)
		return out, true
	case KindStruct:
		decl, ok := c.bindings.Struct(t.Name)
		if !ok || len(v.Fields) != len(decl.Fields) {
			return Value{}, false
		}
		out := Value{Tag: TagStruct, Class: t.Name, Fields: make([]Value, len(v.Fields))}
		for i := range decl.Fields {
			f, ok := c.coerce(v.Fields[i], decl.Fields[i].Type)
			if !ok {
				return Value{}, false
			}
			out.Fields[i] = f
		}
		return out, true
	}

	return v, true
}

// zero is the default value of a value type.
func (c *converter) zero(t TypeRef) Value {
	switch t.Kind {
	case KindPrimitive:
		return Value{Tag: t.Prim}
	case KindStruct:
		decl, ok := c.bindings.Struct(t.Name)
		if !ok {
			return Value{Tag: TagStruct, Class: t.Name}
		}
		out := Value{Tag: TagStruct, Class: t.Name, Fields: make([]Value, len(decl.Fields))}
		for i := range decl.Fields {
			out.Fields[i] = c.zero(decl.Fields[i].Type)
		}
		return out
	case KindCallback:
		return Value{Tag: TagCallback}
	}
	return Value{Tag: TagHandle}
}

// valueToHost decodes a value that holds no object references.
func (c *converter) valueToHost(v Value, t TypeRef) (any, error) {
	switch t.Kind {
	case KindPrimitive:
		rt, ok := primitiveTypes[t.Prim]
		if !ok || v.Tag != t.Prim {
			return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, nil, t.String(), v.TypeName())
		}
		return rt.ToGo(v), nil
	case KindStruct:
		decl, ok := c.bindings.Struct(t.Name)
		if !ok {
			return nil, bgerrors.NotFound(bgerrors.PhaseDecode, "struct", t.Name)
		}
		if v.Tag != TagStruct || v.Class != t.Name || len(v.Fields) != len(decl.Fields) {
			return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, nil, t.String(), v.TypeName())
		}
		r := Record{Type: t.Name, Fields: make(map[string]any, len(decl.Fields))}
		for i, f := range decl.Fields {
			fv, err := c.valueToHost(v.Fields[i], f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", t.Name, f.Name, err)
			}
			r.Fields[f.Name] = fv
		}
		return r, nil
	}
	return nil, bgerrors.TypeMismatch(bgerrors.PhaseDecode, nil, "value type", t.String())
}

func (e *engine) scheduleRelease(id HandleID) {
	e.pendingMu.Lock()
	e.pending = append(e.pending, id)
	first := len(e.pending) == 1
	delay := e.delayFunction
	e.pendingMu.Unlock()

	if first && delay != nil {
		err := delay(func(ctx context.Context) error {
			return e.FlushPendingDeletes(ctx)
		})
		if err != nil {
			e.logger.Warn("could not schedule pending releases", zap.Error(err))
		}
	}
}
