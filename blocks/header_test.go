package blocks

import (
	"bytes"
	"testing"

	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/iohelp"
	"github.com/stretchr/testify/require"
)

func TestV4HeaderRoundTrip(t *testing.T) {
	buf := &memWS{}
	w := iohelp.NewWriter(buf, endian.GetLittleEndianEngine())

	total, err := WriteHeaderV4(w, "DG", []int64{100, 200}, 32)
	require.NoError(t, err)
	require.Equal(t, int64(24+16+32), total)

	r := iohelp.NewReader(bytes.NewReader(buf.data), endian.GetLittleEndianEngine())
	h, err := ReadHeaderV4(r)
	require.NoError(t, err)
	require.Equal(t, "DG", h.Tag)
	require.Equal(t, total, h.TotalLength)
	require.Equal(t, []int64{100, 200}, h.Links)

	pos, err := r.Tell()
	require.NoError(t, err)
	require.Equal(t, int64(v4HeaderFixedSize+16), pos)
}

func TestV3HeaderRoundTrip(t *testing.T) {
	buf := &memWS{}
	w := iohelp.NewWriter(buf, endian.GetLittleEndianEngine())

	total, err := WriteHeaderV3(w, "CG", []int64{42}, 10)
	require.NoError(t, err)
	require.Equal(t, int64(4+4+10), total)

	r := iohelp.NewReader(bytes.NewReader(buf.data), endian.GetLittleEndianEngine())
	h, err := ReadHeaderV3(r)
	require.NoError(t, err)
	require.Equal(t, "CG", h.Tag)
	require.Equal(t, []int64{42}, h.Links)
}

func TestReadHeaderV4BadMagic(t *testing.T) {
	buf := &memWS{}
	w := iohelp.NewWriter(buf, endian.GetLittleEndianEngine())
	require.NoError(t, w.WriteBytes([]byte("XXDG")))
	require.NoError(t, w.WriteBytes(make([]byte, 20)))

	r := iohelp.NewReader(bytes.NewReader(buf.data), endian.GetLittleEndianEngine())
	_, err := ReadHeaderV4(r)
	require.Error(t, err)
}

// memWS is a minimal growable io.WriteSeeker used across blocks package tests.
type memWS struct {
	data []byte
	pos  int64
}

func (m *memWS) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end

	return len(p), nil
}

func (m *memWS) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.data)) + offset
	}

	return m.pos, nil
}
