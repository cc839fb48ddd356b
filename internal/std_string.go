package bindgen

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"golang.org/x/text/encoding/unicode"
)

// WString marks a Go string that should cross as a UTF-16 wide string.
type WString string

type stdStringType struct {
	baseType
	// charSize is 1 for UTF-8 and 2 for UTF-16 strings.
	charSize uint32
}

func init() {
	registerPrimitive(&stdStringType{baseType: baseType{tag: TagString, name: "string"}, charSize: 1})
	registerPrimitive(&stdStringType{baseType: baseType{tag: TagWString, name: "wstring"}, charSize: 2})
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16(s string) []byte {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// The encoder replaces invalid UTF-8, it does not fail on it.
		panic(err)
	}
	return b
}

func decodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("UTF-16 data has odd length %d", len(b))
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("could not decode UTF-16 data: %w", err)
	}
	return string(out), nil
}

func (sst *stdStringType) GoType() string {
	if sst.charSize == 2 {
		return "WString"
	}
	return "string"
}

func (sst *stdStringType) CppType() string {
	if sst.charSize == 2 {
		return "std::wstring"
	}
	return "std::string"
}

func (sst *stdStringType) FromGo(o any) (Value, error) {
	if sst.charSize == 2 {
		switch v := o.(type) {
		case WString:
			return WStringValue(string(v)), nil
		}
		return Value{}, fmt.Errorf("value must be of type WString, is %T", o)
	}

	v, ok := o.(string)
	if !ok {
		return Value{}, fmt.Errorf("value must be of type string, is %T", o)
	}
	return String(v), nil
}

func (sst *stdStringType) ToGo(v Value) any {
	if sst.charSize == 2 {
		return WString(v.S)
	}
	return v.S
}

func (sst *stdStringType) payload(v Value) []byte {
	if sst.charSize == 2 {
		return encodeUTF16(v.S)
	}
	return []byte(v.S)
}

// ToWireType copies the string into a malloc'd block laid out as a u32
// length in characters followed by the data. The block is freed after the
// call through the destructor stack.
func (sst *stdStringType) ToWireType(ctx context.Context, mod api.Module, destructors *[]*destructorFunc, v Value) (uint64, error) {
	ptr, err := sst.writeBlock(ctx, mod, v)
	if err != nil {
		return 0, err
	}

	if destructors != nil {
		*destructors = append(*destructors, &destructorFunc{
			function: "free",
			args:     []uint64{api.EncodeU32(ptr)},
		})
	}

	return api.EncodeU32(ptr), nil
}

// writeBlock copies the string into memory without scheduling a free, the
// receiver of the block owns it.
func (sst *stdStringType) writeBlock(ctx context.Context, mod api.Module, v Value) (uint32, error) {
	data := sst.payload(v)

	// assumes 4-byte alignment
	mallocRes, err := mod.ExportedFunction("malloc").Call(ctx, api.EncodeU32(4+uint32(len(data))+sst.charSize))
	if err != nil {
		return 0, err
	}
	base := api.DecodeU32(mallocRes[0])
	if base == 0 {
		return 0, fmt.Errorf("could not allocate %d bytes for %s", len(data), sst.name)
	}

	if !mod.Memory().WriteUint32Le(base, uint32(len(data))/sst.charSize) {
		return 0, fmt.Errorf("could not write length of %s", sst.name)
	}

	if !mod.Memory().Write(base+4, data) {
		return 0, fmt.Errorf("could not write data of %s", sst.name)
	}

	// Null terminate so the native side can hand out c_str() without a copy.
	terminator := make([]byte, sst.charSize)
	if !mod.Memory().Write(base+4+uint32(len(data)), terminator) {
		return 0, fmt.Errorf("could not write terminator of %s", sst.name)
	}

	return base, nil
}

// FromWireType reads a block written by the native side and frees it.
func (sst *stdStringType) FromWireType(ctx context.Context, mod api.Module, value uint64) (Value, error) {
	strPointer := api.DecodeU32(value)

	length, ok := mod.Memory().ReadUint32Le(strPointer)
	if !ok {
		return Value{}, fmt.Errorf("could not read length of %s", sst.name)
	}

	data, ok := mod.Memory().Read(strPointer+4, length*sst.charSize)
	if !ok {
		return Value{}, fmt.Errorf("could not read data of %s", sst.name)
	}

	var result Value
	if sst.charSize == 2 {
		s, err := decodeUTF16(data)
		if err != nil {
			return Value{}, err
		}
		result = WStringValue(s)
	} else {
		result = String(string(data))
	}

	_, err := mod.ExportedFunction("free").Call(ctx, value)
	if err != nil {
		return Value{}, err
	}

	return result, nil
}
