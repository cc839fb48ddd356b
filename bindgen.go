package bindgen

import (
	"go.uber.org/zap"

	internal "github.com/jerbob92/wazero-bindgen/internal"
)

type EngineKey = internal.EngineKey

type (
	Object     = internal.Object
	Record     = internal.Record
	Callback   = internal.Callback
	Value      = internal.Value
	WString    = internal.WString
	HandleInfo = internal.HandleInfo
	Ownership  = internal.Ownership
)

const (
	Exclusive = internal.Exclusive
	Shared    = internal.Shared
	Borrowed  = internal.Borrowed
)

// NewRecord builds a struct value from alternating field names and values.
func NewRecord(typ string, kv ...any) Record {
	return internal.NewRecord(typ, kv...)
}

type (
	Bindings = internal.Bindings
	Entry    = internal.Entry
	Field    = internal.Field
	TypeRef  = internal.TypeRef
)

// ParseType parses a declaration type such as "int32", "ClassB*" or
// "shared_ptr<ClassB>".
func ParseType(s string) (TypeRef, error) {
	return internal.ParseType(s)
}

// Link collects and links registration entries into bindings.
func Link(logger *zap.Logger, entries []Entry) (*Bindings, error) {
	ir, err := internal.Collect(logger, entries)
	if err != nil {
		return nil, err
	}
	return internal.Link(logger, ir)
}

// ParseDeclarations links the bindings described by a YAML declaration
// document.
func ParseDeclarations(logger *zap.Logger, data []byte) (*Bindings, error) {
	entries, err := internal.ParseDeclarations(data)
	if err != nil {
		return nil, err
	}
	return Link(logger, entries)
}

// LoadDeclarations links the bindings described by a YAML declaration file.
func LoadDeclarations(logger *zap.Logger, path string) (*Bindings, error) {
	entries, err := internal.LoadDeclarations(path)
	if err != nil {
		return nil, err
	}
	return Link(logger, entries)
}

type (
	Native     = internal.Native
	NativeCall = internal.NativeCall
	NativeFunc = internal.NativeFunc
	Library    = internal.Library
	Call       = internal.Call
	Heap       = internal.Heap
	StaticCell = internal.StaticCell
)

// NewLibrary returns an empty in-process native side.
func NewLibrary(logger *zap.Logger) *Library {
	return internal.NewLibrary(logger)
}

// Value constructors for native implementations.
var (
	Void          = internal.Void
	Int8          = internal.Int8
	Int16         = internal.Int16
	Int32         = internal.Int32
	Int64         = internal.Int64
	Uint8         = internal.Uint8
	Uint16        = internal.Uint16
	Uint32        = internal.Uint32
	Uint64        = internal.Uint64
	Float32       = internal.Float32
	Float64       = internal.Float64
	Bool          = internal.Bool
	String        = internal.String
	WStringValue  = internal.WStringValue
	Pointer       = internal.Pointer
	SharedPointer = internal.SharedPointer
	Struct        = internal.Struct
)

// Native symbol names of the lifecycle and type id thunks.
var (
	DeleteSymbol  = internal.DeleteSymbol
	ShareSymbol   = internal.ShareSymbol
	UnshareSymbol = internal.UnshareSymbol
	TypeIDSymbol  = internal.TypeIDSymbol
)
