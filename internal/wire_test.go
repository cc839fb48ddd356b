package bindgen_test

import (
	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
	bindgen "github.com/jerbob92/wazero-bindgen/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Frames", func() {
	It("copies every value kind", func() {
		values := []bindgen.Value{
			bindgen.Void(),
			bindgen.Int8(-3),
			bindgen.Int16(-300),
			bindgen.Int32(-70000),
			bindgen.Int64(-1 << 40),
			bindgen.Uint8(250),
			bindgen.Uint16(65000),
			bindgen.Uint32(4000000000),
			bindgen.Uint64(1 << 63),
			bindgen.Float32(1.5),
			bindgen.Float64(-2.25),
			bindgen.Bool(true),
			bindgen.String("héllo"),
			bindgen.WStringValue("wide 𝄞"),
			bindgen.SharedPointer("Canvas", 0x1000),
			bindgen.Struct("Point", bindgen.Float64(1), bindgen.Float64(2)),
		}

		copied, err := bindgen.CopyValues(values)
		Expect(err).To(BeNil())
		Expect(copied).To(Equal(values))
	})

	It("does not alias struct fields", func() {
		in := []bindgen.Value{bindgen.Struct("Point", bindgen.Float64(1), bindgen.Float64(2))}
		out, err := bindgen.CopyValues(in)
		Expect(err).To(BeNil())

		in[0].Fields[0] = bindgen.Float64(9)
		Expect(out[0].Fields[0]).To(Equal(bindgen.Float64(1)))
	})

	It("rejects truncated frames", func() {
		frame := bindgen.EncodeFrame([]bindgen.Value{bindgen.String("truncated")})
		_, err := bindgen.DecodeFrame(frame[:len(frame)-2])
		Expect(err).To(MatchError(bgerrors.ErrInvalidInput))
	})

	It("rejects trailing bytes", func() {
		frame := bindgen.EncodeFrame([]bindgen.Value{bindgen.Int32(1)})
		_, err := bindgen.DecodeFrame(append(frame, 0))
		Expect(err).To(MatchError(bgerrors.ErrInvalidInput))
	})
})
