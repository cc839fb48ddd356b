package bindgen

import (
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
)

type intType struct {
	baseType
	size   int32
	signed bool
}

func init() {
	registerPrimitive(&intType{baseType: baseType{tag: TagInt8, name: "int8"}, size: 1, signed: true})
	registerPrimitive(&intType{baseType: baseType{tag: TagInt16, name: "int16"}, size: 2, signed: true})
	registerPrimitive(&intType{baseType: baseType{tag: TagInt32, name: "int32"}, size: 4, signed: true})
	registerPrimitive(&intType{baseType: baseType{tag: TagInt64, name: "int64"}, size: 8, signed: true})
	registerPrimitive(&intType{baseType: baseType{tag: TagUint8, name: "uint8"}, size: 1})
	registerPrimitive(&intType{baseType: baseType{tag: TagUint16, name: "uint16"}, size: 2})
	registerPrimitive(&intType{baseType: baseType{tag: TagUint32, name: "uint32"}, size: 4})
	registerPrimitive(&intType{baseType: baseType{tag: TagUint64, name: "uint64"}, size: 8})
}

func (it *intType) GoType() string {
	return it.name
}

func (it *intType) CppType() string {
	return it.name + "_t"
}

func (it *intType) FromGo(o any) (Value, error) {
	switch it.tag {
	case TagInt8:
		if v, ok := o.(int8); ok {
			return Int8(v), nil
		}
	case TagInt16:
		if v, ok := o.(int16); ok {
			return Int16(v), nil
		}
	case TagInt32:
		if v, ok := o.(int32); ok {
			return Int32(v), nil
		}
	case TagInt64:
		if v, ok := o.(int64); ok {
			return Int64(v), nil
		}
	case TagUint8:
		if v, ok := o.(uint8); ok {
			return Uint8(v), nil
		}
	case TagUint16:
		if v, ok := o.(uint16); ok {
			return Uint16(v), nil
		}
	case TagUint32:
		if v, ok := o.(uint32); ok {
			return Uint32(v), nil
		}
	case TagUint64:
		if v, ok := o.(uint64); ok {
			return Uint64(v), nil
		}
	}

	return Value{}, fmt.Errorf("value must be of type %s, is %T", it.name, o)
}

func (it *intType) ToGo(v Value) any {
	switch it.tag {
	case TagInt8:
		return int8(v.I)
	case TagInt16:
		return int16(v.I)
	case TagInt32:
		return int32(v.I)
	case TagInt64:
		return v.I
	case TagUint8:
		return uint8(v.U)
	case TagUint16:
		return uint16(v.U)
	case TagUint32:
		return uint32(v.U)
	}
	return v.U
}

func (it *intType) NativeType() api.ValueType {
	if it.size == 8 {
		return api.ValueTypeI64
	}
	return api.ValueTypeI32
}

func (it *intType) ToWireType(ctx context.Context, mod api.Module, destructors *[]*destructorFunc, v Value) (uint64, error) {
	if it.size == 8 {
		if it.signed {
			return api.EncodeI64(v.I), nil
		}
		return v.U, nil
	}
	if it.signed {
		return api.EncodeI32(int32(v.I)), nil
	}
	return api.EncodeU32(uint32(v.U)), nil
}

func (it *intType) FromWireType(ctx context.Context, mod api.Module, value uint64) (Value, error) {
	switch it.tag {
	case TagInt8:
		return Int8(int8(api.DecodeI32(value))), nil
	case TagInt16:
		return Int16(int16(api.DecodeI32(value))), nil
	case TagInt32:
		return Int32(api.DecodeI32(value)), nil
	case TagInt64:
		return Int64(int64(value)), nil
	case TagUint8:
		return Uint8(uint8(api.DecodeU32(value))), nil
	case TagUint16:
		return Uint16(uint16(api.DecodeU32(value))), nil
	case TagUint32:
		return Uint32(api.DecodeU32(value)), nil
	}
	return Uint64(value), nil
}

// intFromGo maps any Go integer onto the narrowest matching wire kind.
// Plain int and uint become 32 bits when the value fits and 64 bits
// otherwise.
func intFromGo(o any) (Value, bool) {
	switch v := o.(type) {
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int32(int32(v)), true
		}
		return Int64(int64(v)), true
	case uint:
		if v <= math.MaxUint32 {
			return Uint32(uint32(v)), true
		}
		return Uint64(uint64(v)), true
	case uintptr:
		return Uint64(uint64(v)), true
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		for _, tag := range []Tag{TagInt8, TagInt16, TagInt32, TagInt64, TagUint8, TagUint16, TagUint32, TagUint64} {
			if val, err := primitiveTypes[tag].FromGo(o); err == nil {
				return val, true
			}
		}
	}
	return Value{}, false
}

func isSigned(t Tag) bool {
	return t >= TagInt8 && t <= TagInt64
}

func isUnsigned(t Tag) bool {
	return t >= TagUint8 && t <= TagUint64
}

func isInteger(t Tag) bool {
	return isSigned(t) || isUnsigned(t)
}

func intSize(t Tag) int32 {
	if it, ok := primitiveTypes[t].(*intType); ok {
		return it.size
	}
	return 0
}
