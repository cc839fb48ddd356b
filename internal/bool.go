package bindgen

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

type boolType struct {
	baseType
}

func init() {
	registerPrimitive(&boolType{baseType: baseType{tag: TagBool, name: "bool"}})
}

func (bt *boolType) GoType() string {
	return "bool"
}

func (bt *boolType) CppType() string {
	return "bool"
}

func (bt *boolType) FromGo(o any) (Value, error) {
	v, ok := o.(bool)
	if !ok {
		return Value{}, fmt.Errorf("value must be of type bool, is %T", o)
	}
	return Bool(v), nil
}

func (bt *boolType) ToGo(v Value) any {
	return v.I != 0
}

func (bt *boolType) ToWireType(ctx context.Context, mod api.Module, destructors *[]*destructorFunc, v Value) (uint64, error) {
	if v.I != 0 {
		return api.EncodeI32(1), nil
	}
	return api.EncodeI32(0), nil
}

func (bt *boolType) FromWireType(ctx context.Context, mod api.Module, value uint64) (Value, error) {
	return Bool(api.DecodeI32(value) != 0), nil
}
