package bindgen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

type IEngine interface {
	Attach(ctx context.Context) context.Context
	Bindings() *Bindings
	SetNative(native Native)
	New(ctx context.Context, class string, arguments ...any) (*Object, error)
	CallMethod(ctx context.Context, this *Object, name string, arguments ...any) (any, error)
	CallStatic(ctx context.Context, class, name string, arguments ...any) (any, error)
	GetProperty(ctx context.Context, this *Object, name string) (any, error)
	SetProperty(ctx context.Context, this *Object, name string, value any) error
	GetStaticProperty(ctx context.Context, class, name string) (any, error)
	SetStaticProperty(ctx context.Context, class, name string, value any) error
	RegisterCallback(fn any) (*Callback, error)
	CountCallbacks() int
	FlushPendingDeletes(ctx context.Context) error
	SetDelayFunction(fn DelayFunction) error
	CountHandles() int
	Handles() []HandleInfo
}

// EngineKey Use this key to add the engine to your context:
// ctx = engine.Attach(ctx)
type EngineKey struct{}

type engine struct {
	config    IEngineConfig
	logger    *zap.Logger
	bindings  *Bindings
	native    Native
	conv      *converter
	handles   *HandleTable
	callbacks *callbackAllocator

	// staticsReady is set once the initial static field values were
	// written to the native side.
	staticsReady bool

	// depth counts nested boundary calls, pending releases are flushed
	// when a call starts at depth zero.
	depth int

	pendingMu     sync.Mutex
	pending       []HandleID
	delayFunction DelayFunction
}

// CreateEngine returns an engine that dispatches bindings to native.
func CreateEngine(config IEngineConfig, bindings *Bindings, native Native) IEngine {
	return createEngine(config, bindings, native)
}

func createEngine(config IEngineConfig, bindings *Bindings, native Native) *engine {
	if config == nil {
		config = NewConfig()
	}
	logger := config.Logger()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &engine{
		config:        config,
		logger:        logger,
		bindings:      bindings,
		native:        native,
		callbacks:     newCallbackAllocator(),
		delayFunction: config.DelayFunction(),
	}
	e.conv = &converter{bindings: bindings, engine: e}
	e.handles = NewHandleTable(logger, e.destroy)

	return e
}

func (e *engine) Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, EngineKey{}, e)
}

func (e *engine) Bindings() *Bindings {
	return e.bindings
}

// SetNative replaces the native side, used when it only becomes available
// after the engine was created. Static fields are initialised again on the
// next call.
func (e *engine) SetNative(native Native) {
	e.native = native
	e.staticsReady = false
}

func GetEngineFromContext(ctx context.Context) (IEngine, error) {
	raw := ctx.Value(EngineKey{})
	if raw == nil {
		return nil, fmt.Errorf("bindgen engine not found in context")
	}

	value, ok := raw.(*engine)
	if !ok {
		return nil, fmt.Errorf("context value %v not of type %T", raw, new(IEngine))
	}

	return value, nil
}

func MustGetEngineFromContext(ctx context.Context) IEngine {
	e, err := GetEngineFromContext(ctx)
	if err != nil {
		panic(fmt.Errorf("could not get bindgen engine from context: %w, make sure to create an engine with bindgen.CreateEngine() and to attach it to the context with \"ctx = engine.Attach(ctx)\"", err))
	}
	return e
}

func (e *engine) class(name string) (*ClassType, error) {
	c, ok := e.bindings.Class(name)
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseDispatch, "class", name)
	}
	return c, nil
}

func (e *engine) checkThis(this *Object) error {
	if this == nil {
		return bgerrors.InvalidInput(bgerrors.PhaseDispatch, "method called without an object")
	}
	if this.deleted {
		return bgerrors.InvalidHandle(this.id)
	}
	_, err := e.handles.Info(this.id)
	return err
}

func (e *engine) New(ctx context.Context, class string, arguments ...any) (*Object, error) {
	c, err := e.class(class)
	if err != nil {
		return nil, err
	}
	if !c.Constructible() {
		return nil, bgerrors.New(bgerrors.PhaseDispatch, bgerrors.KindNotConstructible).
			Decl(class).
			Detail("class has no constructors").
			Build()
	}

	res, err := e.dispatch(ctx, c.constructors, nil, arguments)
	if err != nil {
		return nil, fmt.Errorf("error while constructing %s: %w", class, err)
	}

	obj, ok := res.(*Object)
	if !ok || obj == nil {
		return nil, bgerrors.New(bgerrors.PhaseNative, bgerrors.KindNativeException).
			Decl(class).
			Detail("constructor returned no object").
			Build()
	}
	return obj, nil
}

func (e *engine) CallMethod(ctx context.Context, this *Object, name string, arguments ...any) (any, error) {
	if err := e.checkThis(this); err != nil {
		return nil, err
	}

	g, ok := this.class.methods[name]
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseDispatch, "method", this.class.name+"."+name)
	}

	res, err := e.dispatch(ctx, g, this, arguments)
	if err != nil {
		return nil, fmt.Errorf("error while calling %s.%s: %w", this.class.name, name, err)
	}
	return res, nil
}

func (e *engine) CallStatic(ctx context.Context, class, name string, arguments ...any) (any, error) {
	c, err := e.class(class)
	if err != nil {
		return nil, err
	}

	g, ok := c.staticMethods[name]
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseDispatch, "static method", class+"."+name)
	}

	res, err := e.dispatch(ctx, g, nil, arguments)
	if err != nil {
		return nil, fmt.Errorf("error while calling %s.%s: %w", class, name, err)
	}
	return res, nil
}

func (e *engine) GetProperty(ctx context.Context, this *Object, name string) (any, error) {
	if err := e.checkThis(this); err != nil {
		return nil, err
	}

	f, ok := this.class.fields[name]
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseDispatch, "field", this.class.name+"."+name)
	}

	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	thisArg, err := e.thisPointer(this, f.Owner)
	if err != nil {
		return nil, err
	}

	shape := e.bindings.Shape(f.Type)
	res, err := e.callNative(ctx, NativeCall{Symbol: f.GetSymbol, Args: []Value{thisArg}, Result: &shape})
	if err != nil {
		return nil, err
	}

	return e.lift(ctx, res, &f.Type, liftField)
}

func (e *engine) SetProperty(ctx context.Context, this *Object, name string, value any) error {
	if err := e.checkThis(this); err != nil {
		return err
	}

	f, ok := this.class.fields[name]
	if !ok {
		return bgerrors.NotFound(bgerrors.PhaseDispatch, "field", this.class.name+"."+name)
	}

	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	v, err := e.conv.hostToValue(value, nil)
	if err != nil {
		return err
	}
	if _, ok := e.bindings.match(f.Type, v); !ok {
		return bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindTypeMismatch).
			Decl(this.class.name + "." + name).
			Detail("expected %s, got %s", f.Type, v.TypeName()).
			Build()
	}
	arg, err := e.lower(v, f.Type, nil)
	if err != nil {
		return err
	}

	thisArg, err := e.thisPointer(this, f.Owner)
	if err != nil {
		return err
	}

	_, err = e.callNative(ctx, NativeCall{Symbol: f.SetSymbol, Args: []Value{thisArg, arg}})
	return err
}

func (e *engine) staticField(class, name string) (*StaticFieldBinding, error) {
	c, err := e.class(class)
	if err != nil {
		return nil, err
	}
	sf, ok := c.staticFields[name]
	if !ok {
		return nil, bgerrors.NotFound(bgerrors.PhaseDispatch, "static field", class+"."+name)
	}
	return sf, nil
}

func (e *engine) GetStaticProperty(ctx context.Context, class, name string) (any, error) {
	sf, err := e.staticField(class, name)
	if err != nil {
		return nil, err
	}

	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	shape := e.bindings.Shape(sf.Type)
	res, err := e.callNative(ctx, NativeCall{Symbol: sf.GetSymbol, Result: &shape})
	if err != nil {
		return nil, err
	}
	return e.conv.valueToHost(res, sf.Type)
}

func (e *engine) SetStaticProperty(ctx context.Context, class, name string, value any) error {
	sf, err := e.staticField(class, name)
	if err != nil {
		return err
	}

	v, err := e.conv.hostToValue(value, nil)
	if err != nil {
		return err
	}
	out, ok := e.conv.coerce(v, sf.Type)
	if !ok {
		return bgerrors.New(bgerrors.PhaseEncode, bgerrors.KindTypeMismatch).
			Decl(class + "." + name).
			Detail("expected %s, got %s", sf.Type, v.TypeName()).
			Build()
	}

	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	return e.writeStatic(ctx, sf, out)
}

func (e *engine) writeStatic(ctx context.Context, sf *StaticFieldBinding, v Value) error {
	arg, err := e.lower(v, sf.Type, nil)
	if err != nil {
		return err
	}
	_, err = e.callNative(ctx, NativeCall{Symbol: sf.SetSymbol, Args: []Value{arg}})
	return err
}

// initStatics writes the value every static field was declared with.
func (e *engine) initStatics(ctx context.Context) error {
	if e.staticsReady || e.native == nil {
		return nil
	}
	e.staticsReady = true

	for _, c := range e.bindings.Classes() {
		for _, name := range c.StaticFieldNames() {
			sf := c.staticFields[name]
			if err := e.writeStatic(ctx, sf, sf.Initial); err != nil {
				e.staticsReady = false
				return fmt.Errorf("could not initialise %s.%s: %w", c.name, name, err)
			}
		}
	}
	return nil
}

func (e *engine) release(ctx context.Context, id HandleID) error {
	ctx, leave, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	return e.handles.Release(ctx, id)
}

// destroy runs the native lifecycle thunk for a handle that went away.
func (e *engine) destroy(ctx context.Context, info HandleInfo) error {
	symbol := DeleteSymbol(info.Class)
	if info.Ownership == Shared {
		symbol = UnshareSymbol(info.Class)
	}
	_, err := e.callNative(ctx, NativeCall{
		Symbol: symbol,
		Args:   []Value{Pointer(info.Class, info.Address)},
	})
	return err
}

func (e *engine) CountHandles() int {
	return e.handles.Count()
}

func (e *engine) Handles() []HandleInfo {
	return e.handles.Live()
}

// FlushPendingDeletes releases every handle queued by a finalizer.
func (e *engine) FlushPendingDeletes(ctx context.Context) error {
	ctx = e.Attach(ctx)

	e.pendingMu.Lock()
	pending := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	var firstErr error
	for _, id := range pending {
		e.logger.Debug("releasing collected shared object", zap.Uint64("id", id))
		if err := e.handles.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *engine) SetDelayFunction(fn DelayFunction) error {
	e.pendingMu.Lock()
	e.delayFunction = fn
	hasPending := len(e.pending) > 0
	e.pendingMu.Unlock()

	if hasPending && fn != nil {
		return fn(func(ctx context.Context) error {
			return e.FlushPendingDeletes(ctx)
		})
	}

	return nil
}
