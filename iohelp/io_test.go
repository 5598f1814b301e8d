package iohelp

import (
	"bytes"
	"testing"

	"github.com/openmdf/mdf/endian"
	"github.com/stretchr/testify/require"
)

func newRW() (*Writer, func() *Reader) {
	buf := &bytes.Buffer{}
	ws := &memWriteSeeker{buf: buf}
	w := NewWriter(ws, endian.GetLittleEndianEngine())

	return w, func() *Reader {
		return NewReader(bytes.NewReader(buf.Bytes()), endian.GetLittleEndianEngine())
	}
}

// memWriteSeeker is a minimal io.WriteSeeker over a growing byte buffer,
// sufficient for round-trip testing the primitive writers.
type memWriteSeeker struct {
	buf *bytes.Buffer
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	data := m.buf.Bytes()
	end := int(m.pos) + len(p)
	if end > len(data) {
		grown := make([]byte, end)
		copy(grown, data)
		m.buf.Reset()
		m.buf.Write(grown)
		data = m.buf.Bytes()
	}
	copy(data[m.pos:end], p)
	m.pos = int64(end)

	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(m.buf.Len()) + offset
	}

	return m.pos, nil
}

func TestPrimitiveRoundTrip(t *testing.T) {
	w, reader := newRW()
	require.NoError(t, w.WriteU8(0x12))
	require.NoError(t, w.WriteU16(0xABCD))
	require.NoError(t, w.WriteU32(0xDEADBEEF))
	require.NoError(t, w.WriteU64(0x0102030405060708))
	require.NoError(t, w.WriteI32(-42))
	require.NoError(t, w.WriteF32(3.5))
	require.NoError(t, w.WriteF64(2.718281828))
	require.NoError(t, w.WriteFixedString("hello", 8, 0))

	r := reader()
	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x12), u8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xABCD), u16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u64)

	i32, err := r.ReadI32()
	require.NoError(t, err)
	require.Equal(t, int32(-42), i32)

	f32, err := r.ReadF32()
	require.NoError(t, err)
	require.InDelta(t, float32(3.5), f32, 0.0001)

	f64, err := r.ReadF64()
	require.NoError(t, err)
	require.InDelta(t, 2.718281828, f64, 0.0000001)

	s, err := r.ReadFixedString(8, EncodingASCII)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestAlignTo8(t *testing.T) {
	w, reader := newRW()
	require.NoError(t, w.WriteU8(1))
	require.NoError(t, w.AlignTo8())
	pos, err := w.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(8), pos)

	r := reader()
	end, err := r.SeekEnd()
	require.NoError(t, err)
	require.Equal(t, int64(8), end)
}

func TestDecodeFixedStringUTF16(t *testing.T) {
	raw := []byte{'h', 0, 'i', 0, 0, 0}
	s, err := DecodeFixedString(raw, EncodingUTF16LE)
	require.NoError(t, err)
	require.Equal(t, "hi", s)
}
