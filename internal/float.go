package bindgen

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

type floatType struct {
	baseType
	size int32
}

func init() {
	registerPrimitive(&floatType{baseType: baseType{tag: TagFloat32, name: "float32"}, size: 4})
	registerPrimitive(&floatType{baseType: baseType{tag: TagFloat64, name: "float64"}, size: 8})
}

func (ft *floatType) GoType() string {
	return ft.name
}

func (ft *floatType) CppType() string {
	if ft.size == 4 {
		return "float"
	}
	return "double"
}

func (ft *floatType) FromGo(o any) (Value, error) {
	if ft.size == 4 {
		if v, ok := o.(float32); ok {
			return Float32(v), nil
		}
		return Value{}, fmt.Errorf("value must be of type float32, is %T", o)
	}

	if v, ok := o.(float64); ok {
		return Float64(v), nil
	}
	return Value{}, fmt.Errorf("value must be of type float64, is %T", o)
}

func (ft *floatType) ToGo(v Value) any {
	if ft.size == 4 {
		return float32(v.F)
	}
	return v.F
}

func (ft *floatType) NativeType() api.ValueType {
	if ft.size == 4 {
		return api.ValueTypeF32
	}
	return api.ValueTypeF64
}

func (ft *floatType) ToWireType(ctx context.Context, mod api.Module, destructors *[]*destructorFunc, v Value) (uint64, error) {
	if ft.size == 4 {
		return api.EncodeF32(float32(v.F)), nil
	}
	return api.EncodeF64(v.F), nil
}

func (ft *floatType) FromWireType(ctx context.Context, mod api.Module, value uint64) (Value, error) {
	if ft.size == 4 {
		return Float32(api.DecodeF32(value)), nil
	}
	return Float64(api.DecodeF64(value)), nil
}
