package bindgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Tag identifies the kind of a value crossing the boundary.
type Tag uint8

const (
	TagVoid Tag = iota
	TagInt8
	TagInt16
	TagInt32
	TagInt64
	TagUint8
	TagUint16
	TagUint32
	TagUint64
	TagFloat32
	TagFloat64
	TagBool
	TagString
	TagWString

	// TagHandle is the host form of an object reference: a handle id.
	TagHandle
	// TagPointer is the native form of an object reference: an address.
	TagPointer
	TagStruct
	TagCallback
)

var tagNames = map[Tag]string{
	TagVoid:     "void",
	TagInt8:     "int8",
	TagInt16:    "int16",
	TagInt32:    "int32",
	TagInt64:    "int64",
	TagUint8:    "uint8",
	TagUint16:   "uint16",
	TagUint32:   "uint32",
	TagUint64:   "uint64",
	TagFloat32:  "float32",
	TagFloat64:  "float64",
	TagBool:     "bool",
	TagString:   "string",
	TagWString:  "wstring",
	TagHandle:   "handle",
	TagPointer:  "pointer",
	TagStruct:   "struct",
	TagCallback: "callback",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// IsPrimitive reports whether the tag is one of the by-value kinds.
func (t Tag) IsPrimitive() bool {
	return t >= TagInt8 && t <= TagWString
}

// Value is a single boundary value. Which fields are meaningful depends on
// Tag: I for signed integers and bool, U for unsigned integers, handle ids,
// addresses and callback ids, F for floats, S for both string kinds.
type Value struct {
	Tag       Tag
	I         int64
	U         uint64
	F         float64
	S         string
	Class     string
	Ownership Ownership
	Fields    []Value
}

func (v Value) String() string {
	switch {
	case v.Tag == TagVoid:
		return "void"
	case v.Tag >= TagInt8 && v.Tag <= TagInt64:
		return fmt.Sprintf("%s(%d)", v.Tag, v.I)
	case v.Tag >= TagUint8 && v.Tag <= TagUint64:
		return fmt.Sprintf("%s(%d)", v.Tag, v.U)
	case v.Tag == TagFloat32 || v.Tag == TagFloat64:
		return fmt.Sprintf("%s(%g)", v.Tag, v.F)
	case v.Tag == TagBool:
		return fmt.Sprintf("bool(%t)", v.I != 0)
	case v.Tag == TagString || v.Tag == TagWString:
		return fmt.Sprintf("%s(%q)", v.Tag, v.S)
	case v.Tag == TagHandle && v.U == 0:
		return "null"
	case v.Tag == TagHandle:
		return fmt.Sprintf("%s#%d(%s)", v.Class, v.U, v.Ownership)
	case v.Tag == TagPointer:
		return fmt.Sprintf("%s*(0x%x)", v.Class, v.U)
	case v.Tag == TagStruct:
		return "struct " + v.Class
	case v.Tag == TagCallback:
		return fmt.Sprintf("callback#%d", v.U)
	}
	return v.Tag.String()
}

// TypeName describes the value the way overload errors print argument lists.
func (v Value) TypeName() string {
	switch v.Tag {
	case TagHandle:
		if v.U == 0 {
			return "null"
		}
		return v.Class + "*"
	case TagPointer:
		return v.Class + "*"
	case TagStruct:
		return "struct " + v.Class
	case TagCallback:
		return "fn"
	}
	return v.Tag.String()
}

// IsNull reports whether an object reference is empty.
func (v Value) IsNull() bool {
	return (v.Tag == TagHandle || v.Tag == TagPointer) && v.U == 0
}

// Field returns the named field of a struct value, using the field order of
// decl.
func (v Value) Field(decl *StructDecl, name string) (Value, bool) {
	for i := range decl.Fields {
		if decl.Fields[i].Name == name && i < len(v.Fields) {
			return v.Fields[i], true
		}
	}
	return Value{}, false
}

func Void() Value { return Value{Tag: TagVoid} }
func Int8(v int8) Value { return Value{Tag: TagInt8, I: int64(v)} }
func Int16(v int16) Value { return Value{Tag: TagInt16, I: int64(v)} }
func Int32(v int32) Value { return Value{Tag: TagInt32, I: int64(v)} }
func Int64(v int64) Value { return Value{Tag: TagInt64, I: v} }
func Uint8(v uint8) Value { return Value{Tag: TagUint8, U: uint64(v)} }
func Uint16(v uint16) Value { return Value{Tag: TagUint16, U: uint64(v)} }
func Uint32(v uint32) Value { return Value{Tag: TagUint32, U: uint64(v)} }
func Uint64(v uint64) Value { return Value{Tag: TagUint64, U: v} }
func Float32(v float32) Value { return Value{Tag: TagFloat32, F: float64(v)} }
func Float64(v float64) Value { return Value{Tag: TagFloat64, F: v} }
func String(v string) Value { return Value{Tag: TagString, S: v} }
func WStringValue(v string) Value { return Value{Tag: TagWString, S: v} }

func Bool(v bool) Value {
	if v {
		return Value{Tag: TagBool, I: 1}
	}
	return Value{Tag: TagBool}
}

// Pointer is the native side reference to an object at addr.
func Pointer(class string, addr uint64) Value {
	return Value{Tag: TagPointer, Class: class, U: addr}
}

// SharedPointer is a pointer whose pointee is reference counted natively.
func SharedPointer(class string, addr uint64) Value {
	return Value{Tag: TagPointer, Class: class, U: addr, Ownership: Shared}
}

// Struct builds a struct value with fields in declaration order.
func Struct(name string, fields ...Value) Value {
	return Value{Tag: TagStruct, Class: name, Fields: fields}
}

// Frames
//
// A frame is a u32 value count followed by the tagged values. Every
// integer is little endian.

// EncodeFrame serializes values into a self-contained byte frame.
func EncodeFrame(values []Value) []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(values)))
	for i := range values {
		encodeValue(&buf, values[i])
	}
	return buf.Bytes()
}

// DecodeFrame parses a frame produced by EncodeFrame. The returned values
// never alias data.
func DecodeFrame(data []byte) ([]Value, error) {
	r := &frameReader{data: data}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(count) > len(data) {
		return nil, bgerrors.InvalidInput(bgerrors.PhaseDecode, fmt.Sprintf("frame claims %d values in %d bytes", count, len(data)))
	}

	values := make([]Value, count)
	for i := range values {
		values[i], err = r.value()
		if err != nil {
			return nil, fmt.Errorf("could not decode value %d: %w", i, err)
		}
	}

	if r.off != len(data) {
		return nil, bgerrors.InvalidInput(bgerrors.PhaseDecode, fmt.Sprintf("%d trailing bytes after frame", len(data)-r.off))
	}

	return values, nil
}

// CopyValues deep copies values by sending them through a frame.
func CopyValues(values []Value) ([]Value, error) {
	return DecodeFrame(EncodeFrame(values))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func encodeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Tag))
	switch v.Tag {
	case TagVoid:
	case TagInt8, TagUint8, TagBool:
		if v.Tag == TagUint8 {
			buf.WriteByte(byte(v.U))
		} else {
			buf.WriteByte(byte(v.I))
		}
	case TagInt16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.I))
		buf.Write(b[:])
	case TagUint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.U))
		buf.Write(b[:])
	case TagInt32:
		writeU32(buf, uint32(v.I))
	case TagUint32:
		writeU32(buf, uint32(v.U))
	case TagInt64:
		writeU64(buf, uint64(v.I))
	case TagUint64, TagCallback:
		writeU64(buf, v.U)
	case TagFloat32:
		writeU32(buf, math.Float32bits(float32(v.F)))
	case TagFloat64:
		writeU64(buf, math.Float64bits(v.F))
	case TagString:
		writeString(buf, v.S)
	case TagWString:
		units := encodeUTF16(v.S)
		writeU32(buf, uint32(len(units)/2))
		buf.Write(units)
	case TagHandle, TagPointer:
		writeU64(buf, v.U)
		buf.WriteByte(byte(v.Ownership))
		writeString(buf, v.Class)
	case TagStruct:
		writeString(buf, v.Class)
		writeU32(buf, uint32(len(v.Fields)))
		for i := range v.Fields {
			encodeValue(buf, v.Fields[i])
		}
	}
}

type frameReader struct {
	data []byte
	off  int
}

func (r *frameReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, bgerrors.New(bgerrors.PhaseDecode, bgerrors.KindInvalidInput).
			Detail("need %d bytes at offset %d, frame has %d", n, r.off, len(r.data)).
			Build()
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *frameReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *frameReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *frameReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *frameReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *frameReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *frameReader) value() (Value, error) {
	t, err := r.u8()
	if err != nil {
		return Value{}, err
	}

	v := Value{Tag: Tag(t)}
	switch v.Tag {
	case TagVoid:
	case TagInt8:
		b, err := r.u8()
		if err != nil {
			return v, err
		}
		v.I = int64(int8(b))
	case TagUint8:
		b, err := r.u8()
		if err != nil {
			return v, err
		}
		v.U = uint64(b)
	case TagBool:
		b, err := r.u8()
		if err != nil {
			return v, err
		}
		if b != 0 {
			v.I = 1
		}
	case TagInt16:
		n, err := r.u16()
		if err != nil {
			return v, err
		}
		v.I = int64(int16(n))
	case TagUint16:
		n, err := r.u16()
		if err != nil {
			return v, err
		}
		v.U = uint64(n)
	case TagInt32:
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		v.I = int64(int32(n))
	case TagUint32:
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		v.U = uint64(n)
	case TagInt64:
		n, err := r.u64()
		if err != nil {
			return v, err
		}
		v.I = int64(n)
	case TagUint64, TagCallback:
		n, err := r.u64()
		if err != nil {
			return v, err
		}
		v.U = n
	case TagFloat32:
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		v.F = float64(math.Float32frombits(n))
	case TagFloat64:
		n, err := r.u64()
		if err != nil {
			return v, err
		}
		v.F = math.Float64frombits(n)
	case TagString:
		v.S, err = r.str()
		if err != nil {
			return v, err
		}
	case TagWString:
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		b, err := r.take(int(n) * 2)
		if err != nil {
			return v, err
		}
		v.S, err = decodeUTF16(b)
		if err != nil {
			return v, err
		}
	case TagHandle, TagPointer:
		v.U, err = r.u64()
		if err != nil {
			return v, err
		}
		o, err := r.u8()
		if err != nil {
			return v, err
		}
		v.Ownership = Ownership(o)
		v.Class, err = r.str()
		if err != nil {
			return v, err
		}
	case TagStruct:
		v.Class, err = r.str()
		if err != nil {
			return v, err
		}
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		if int(n) > len(r.data)-r.off {
			return v, bgerrors.InvalidInput(bgerrors.PhaseDecode, fmt.Sprintf("struct %s claims %d fields", v.Class, n))
		}
		v.Fields = make([]Value, n)
		for i := range v.Fields {
			v.Fields[i], err = r.value()
			if err != nil {
				return v, fmt.Errorf("field %d of %s: %w", i, v.Class, err)
			}
		}
	default:
		return v, bgerrors.InvalidInput(bgerrors.PhaseDecode, fmt.Sprintf("unknown tag %d", t))
	}

	return v, nil
}
