package bindgen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Shape is the native layout of a declared type: what a native
// implementation receives or must return.
type Shape struct {
	Tag       Tag
	Class     string
	Ownership Ownership
	Fields    []Shape
}

// Shape lays out t for the native side. Handles become pointers.
func (b *Bindings) Shape(t TypeRef) Shape {
	switch t.Kind {
	case KindPrimitive:
		return Shape{Tag: t.Prim}
	case KindStruct:
		s := Shape{Tag: TagStruct, Class: t.Name}
		if decl, ok := b.Struct(t.Name); ok {
			for _, f := range decl.Fields {
				s.Fields = append(s.Fields, b.Shape(f.Type))
			}
		}
		return s
	case KindCallback:
		return Shape{Tag: TagCallback}
	}
	return Shape{Tag: TagPointer, Class: t.Name, Ownership: ownershipOf(t)}
}

func (b *Bindings) resultShape(t *TypeRef) *Shape {
	if t == nil {
		return nil
	}
	s := b.Shape(*t)
	return &s
}

// NativeCall is one call into a native thunk. Args are in native form:
// objects are pointers, already upcast to the declared parameter class.
type NativeCall struct {
	Symbol string
	Args   []Value
	// Result is nil for void thunks.
	Result *Shape
}

// Native executes thunks. The generated glue behind a wasm module is one
// implementation, Library is an in-process one.
type Native interface {
	Invoke(ctx context.Context, call NativeCall) (Value, error)
}

// Trampoline is the host side that native code calls back into.
type Trampoline interface {
	InvokeCallback(ctx context.Context, id uint64, args []Value) (Value, error)
	CallbackSignature(id uint64) (TypeRef, error)
	RetainCallback(id uint64) error
	ReleaseCallback(id uint64) error
}

// TrampolineFromContext returns the engine attached to ctx.
func TrampolineFromContext(ctx context.Context) (Trampoline, error) {
	e, err := GetEngineFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return e.(*engine), nil
}

// NativeFunc implements one thunk in Go.
type NativeFunc func(call *Call) (Value, error)

// Library is an in-process native side: Go functions registered under thunk
// symbols, and a heap of native objects. Values always pass through a frame
// copy on the way in and out, so no Go memory is shared with the host.
type Library struct {
	mu      sync.Mutex
	logger  *zap.Logger
	heap    *Heap
	funcs   map[string]NativeFunc
	statics map[string]*StaticCell
}

func NewLibrary(logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		logger: logger,
		heap:    newHeap(logger),
		funcs:   map[string]NativeFunc{},
		statics: map[string]*StaticCell{},
	}
}

func (l *Library) Heap() *Heap {
	return l.heap
}

// Func registers fn under symbol, replacing any earlier registration.
func (l *Library) Func(symbol string, fn NativeFunc) *Library {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[symbol] = fn
	return l
}

// Class installs the lifecycle thunks of a class and its type id thunk,
// which reports the class an object was created with on the heap. The
// destructor may be nil.
func (l *Library) Class(name string, destructor func(obj any)) *Library {
	if destructor != nil {
		l.heap.setDestructor(name, destructor)
	}
	l.Func(DeleteSymbol(name), func(call *Call) (Value, error) {
		return Void(), l.heap.Free(call.Args[0].U)
	})
	l.Func(ShareSymbol(name), func(call *Call) (Value, error) {
		return Void(), l.heap.Share(call.Args[0].U)
	})
	l.Func(UnshareSymbol(name), func(call *Call) (Value, error) {
		return Void(), l.heap.Unshare(call.Args[0].U)
	})
	l.Func(TypeIDSymbol(name), func(call *Call) (Value, error) {
		class, err := l.heap.ClassOf(call.Args[0].U)
		if err != nil {
			return Value{}, err
		}
		return String(class), nil
	})
	return l
}

// StaticCell is the native storage of a static field.
type StaticCell struct {
	mu    sync.Mutex
	value Value
}

func (c *StaticCell) Get() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *StaticCell) Set(v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// Static returns the storage of a static field, installing its accessor
// thunks the first time. Native functions read and write the same cell.
func (l *Library) Static(class, field string) *StaticCell {
	key := class + "." + field
	l.mu.Lock()
	cell, ok := l.statics[key]
	if !ok {
		cell = &StaticCell{}
		l.statics[key] = cell
	}
	l.mu.Unlock()
	if ok {
		return cell
	}

	l.Func(staticGetterSymbol(class, field), func(call *Call) (Value, error) {
		return cell.Get(), nil
	})
	l.Func(staticSetterSymbol(class, field), func(call *Call) (Value, error) {
		cell.Set(call.Args[0])
		return Void(), nil
	})
	return cell
}

// Has reports whether symbol is implemented.
func (l *Library) Has(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.funcs[symbol]
	return ok
}

// Missing lists the symbols of b that the library does not implement.
func (l *Library) Missing(b *Bindings) []string {
	var missing []string
	for _, s := range b.Symbols() {
		if !l.Has(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

func (l *Library) Invoke(ctx context.Context, nc NativeCall) (result Value, err error) {
	l.mu.Lock()
	fn, ok := l.funcs[nc.Symbol]
	l.mu.Unlock()
	if !ok {
		return Value{}, bgerrors.New(bgerrors.PhaseNative, bgerrors.KindMissingExport).
			Decl(nc.Symbol).
			Detail("symbol is not implemented").
			Build()
	}

	args, err := CopyValues(nc.Args)
	if err != nil {
		return Value{}, err
	}

	call := &Call{
		ctx:    ctx,
		Symbol: nc.Symbol,
		Args:   args,
		heap:   l.heap,
	}

	// Runs after the result took its reference, so a shared object the call
	// created and returns survives its pin.
	defer func() {
		if unpinErr := call.unpin(); unpinErr != nil && err == nil {
			err = unpinErr
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			if recErr, ok := r.(error); ok {
				err = recErr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()

	res, err := fn(call)
	if err != nil {
		return Value{}, err
	}

	if nc.Result == nil {
		return Void(), nil
	}

	// A shared result hands one native reference to the host.
	if nc.Result.Tag == TagPointer && nc.Result.Ownership == Shared && res.U != 0 {
		if err := l.heap.Share(res.U); err != nil {
			return Value{}, err
		}
	}

	out, err := CopyValues([]Value{res})
	if err != nil {
		return Value{}, err
	}
	return out[0], nil
}

// Call is the context of one native thunk execution.
type Call struct {
	ctx    context.Context
	Symbol string
	Args   []Value
	heap   *Heap
	// pinned holds the shared objects this call keeps a reference to
	// until it returns.
	pinned []uint64
}

// pin keeps a shared object alive for the rest of the call, the way a
// local shared_ptr does in generated glue.
func (c *Call) pin(addr uint64) error {
	for _, p := range c.pinned {
		if p == addr {
			return nil
		}
	}
	if err := c.heap.Share(addr); err != nil {
		return err
	}
	c.pinned = append(c.pinned, addr)
	return nil
}

func (c *Call) unpin() error {
	var firstErr error
	for _, addr := range c.pinned {
		if err := c.heap.Unshare(addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pinned = nil
	return firstErr
}

func (c *Call) Context() context.Context {
	return c.ctx
}

func (c *Call) Heap() *Heap {
	return c.heap
}

// Object returns the native object behind pointer argument i.
func (c *Call) Object(i int) (any, error) {
	if i >= len(c.Args) {
		return nil, fmt.Errorf("%s has no argument %d", c.Symbol, i)
	}
	if c.Args[i].Tag != TagPointer {
		return nil, fmt.Errorf("argument %d of %s is %s, not a pointer", i, c.Symbol, c.Args[i].Tag)
	}
	if c.Args[i].U == 0 {
		return nil, nil
	}
	return c.heap.Get(c.Args[i].U)
}

// Invoke calls the host callback cb synchronously. Shared pointer arguments
// hand a native reference to the host for the duration of the call, and
// stay pinned by c until the thunk returns.
func (c *Call) Invoke(cb Value, args ...Value) (Value, error) {
	if cb.Tag != TagCallback || cb.U == 0 {
		return Value{}, fmt.Errorf("%s is not a callback", cb)
	}

	t, err := TrampolineFromContext(c.ctx)
	if err != nil {
		return Value{}, err
	}

	sig, err := t.CallbackSignature(cb.U)
	if err != nil {
		return Value{}, err
	}
	if len(sig.Params) != len(args) {
		return Value{}, fmt.Errorf("callback %s takes %d argument(s), got %d", sig, len(sig.Params), len(args))
	}
	for i := range sig.Params {
		if sig.Params[i].Kind == KindShared && args[i].U != 0 {
			if err := c.pin(args[i].U); err != nil {
				return Value{}, err
			}
			if err := c.heap.Share(args[i].U); err != nil {
				return Value{}, err
			}
		}
	}

	in, err := CopyValues(args)
	if err != nil {
		return Value{}, err
	}
	res, err := t.InvokeCallback(c.ctx, cb.U, in)
	if err != nil {
		return Value{}, err
	}
	out, err := CopyValues([]Value{res})
	if err != nil {
		return Value{}, err
	}
	return out[0], nil
}

type heapObject struct {
	class string
	value any
	refs  int32
}

// Heap holds native objects by address. Exclusive objects live until
// Free, shared ones until their native reference count drops to zero.
type Heap struct {
	mu          sync.Mutex
	logger      *zap.Logger
	next        uint64
	objects     map[uint64]*heapObject
	destructors map[string]func(obj any)
}

func newHeap(logger *zap.Logger) *Heap {
	return &Heap{
		logger:      logger,
		next:        0x1000,
		objects:     map[uint64]*heapObject{},
		destructors: map[string]func(obj any){},
	}
}

func (h *Heap) setDestructor(class string, fn func(obj any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destructors[class] = fn
}

// New stores an object and returns its address.
func (h *Heap) New(class string, value any) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := h.next
	h.next += 0x10
	h.objects[addr] = &heapObject{class: class, value: value}
	return addr
}

func (h *Heap) Get(addr uint64) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[addr]
	if !ok {
		return nil, fmt.Errorf("no object at 0x%x", addr)
	}
	return obj.value, nil
}

// ClassOf returns the class the object at addr was created with.
func (h *Heap) ClassOf(addr uint64) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[addr]
	if !ok {
		return "", fmt.Errorf("no object at 0x%x", addr)
	}
	return obj.class, nil
}

// Free destroys the object at addr, running its class destructor.
func (h *Heap) Free(addr uint64) error {
	h.mu.Lock()
	obj, ok := h.objects[addr]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("double free of 0x%x", addr)
	}
	delete(h.objects, addr)
	destructor := h.destructors[obj.class]
	h.mu.Unlock()

	if destructor != nil {
		destructor(obj.value)
	}
	return nil
}

// Share adds a native reference.
func (h *Heap) Share(addr uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[addr]
	if !ok {
		return fmt.Errorf("no object at 0x%x", addr)
	}
	obj.refs++
	return nil
}

// Unshare drops a native reference, the last one destroys the object.
func (h *Heap) Unshare(addr uint64) error {
	h.mu.Lock()
	obj, ok := h.objects[addr]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("no object at 0x%x", addr)
	}
	obj.refs--
	last := obj.refs <= 0
	h.mu.Unlock()

	if last {
		return h.Free(addr)
	}
	return nil
}

// RefCount returns the native reference count of a shared object.
func (h *Heap) RefCount(addr uint64) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj, ok := h.objects[addr]; ok {
		return obj.refs
	}
	return 0
}

// Live returns the number of objects on the heap.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}
