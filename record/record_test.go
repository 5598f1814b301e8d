package record

import (
	"encoding/binary"
	"testing"

	"github.com/openmdf/mdf/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInsertUnsignedAligned(t *testing.T) {
	ch := blocks.NewChannel("ch", blocks.DataUnsignedIntegerLE, 0, 16)
	rec := make([]byte, 4)
	require.NoError(t, Insert(rec, ch, Value{Uint: 0xBEEF}))

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xBEEF), v.Uint)
}

func TestExtractInsertSignedNegative(t *testing.T) {
	ch := blocks.NewChannel("ch", blocks.DataSignedIntegerLE, 0, 16)
	rec := make([]byte, 4)
	require.NoError(t, Insert(rec, ch, Value{Int: -42}))

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.EqualValues(t, -42, v.Int)
}

func TestExtractInsertUnalignedBits(t *testing.T) {
	ch := blocks.NewChannel("flags", blocks.DataUnsignedIntegerLE, 1, 5)
	ch.BitOffset = 3
	rec := []byte{0xFF, 0x00, 0xFF}

	require.NoError(t, Insert(rec, ch, Value{Uint: 0b10101}))
	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b10101), v.Uint)
	// the neighboring bytes must survive untouched
	assert.Equal(t, byte(0xFF), rec[0])
	assert.Equal(t, byte(0xFF), rec[2])
}

func TestExtractInsertBigEndian(t *testing.T) {
	ch := blocks.NewChannel("be", blocks.DataUnsignedIntegerBE, 0, 32)
	rec := make([]byte, 4)
	require.NoError(t, Insert(rec, ch, Value{Uint: 0x01020304}))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, rec)

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x01020304), v.Uint)
}

func TestExtractInsertFloat64(t *testing.T) {
	ch := blocks.NewChannel("f", blocks.DataFloatLE, 0, 64)
	rec := make([]byte, 8)
	require.NoError(t, Insert(rec, ch, Value{Float: 3.14159265}))

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.InDelta(t, 3.14159265, v.Float, 1e-12)
}

func TestExtractInsertFloat32(t *testing.T) {
	ch := blocks.NewChannel("f", blocks.DataFloatLE, 0, 32)
	rec := make([]byte, 4)
	require.NoError(t, Insert(rec, ch, Value{Float: 2.5}))

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v.Float, 1e-6)
}

func TestExtractInsertString(t *testing.T) {
	ch := blocks.NewChannel("name", blocks.DataStringASCII, 0, 8*8)
	rec := make([]byte, 8)
	require.NoError(t, Insert(rec, ch, Value{Str: "abc"}))

	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, "abc", v.Str)
}

func TestInvalidationBit(t *testing.T) {
	ch := blocks.NewChannel("x", blocks.DataUnsignedIntegerLE, 0, 16)
	ch.HasInvalidBit = true
	ch.InvalidBitPos = 3

	inv := make([]byte, 1)
	assert.False(t, IsInvalid(inv, ch))
	SetInvalid(inv, ch, true)
	assert.True(t, IsInvalid(inv, ch))
	SetInvalid(inv, ch, false)
	assert.False(t, IsInvalid(inv, ch))
}

func TestCanOpenDateRoundTrip(t *testing.T) {
	ch := blocks.NewChannel("date", blocks.DataCanOpenDate, 0, 7*8)
	rec := make([]byte, 7)

	want, err := extractCanOpenDate(append(make([]byte, 0), []byte{0, 0, 30, 14, 15, 6, 124}...), ch)
	require.NoError(t, err)

	require.NoError(t, Insert(rec, ch, want))
	got, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, want.Int, got.Int)
}

// TestCanOpenDateMillisecondTruncation pins the round-trip contract: the
// 7-byte date structure carries milliseconds, so nanoseconds below that
// resolution are dropped and everything else survives.
func TestCanOpenDateMillisecondTruncation(t *testing.T) {
	ch := blocks.NewChannel("date", blocks.DataCanOpenDate, 0, 7*8)

	tests := []struct {
		name string
		ns   int64
		want int64
	}{
		{"exact millisecond", 1_704_067_200_000_000_000, 1_704_067_200_000_000_000},
		{"sub-millisecond truncated", 1_700_000_000_123_456_789, 1_700_000_000_123_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := make([]byte, 7)
			require.NoError(t, Insert(rec, ch, Value{Int: tt.ns}))
			got, err := Extract(rec, ch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Int)
		})
	}
}

func TestCanOpenTimeRoundTrip(t *testing.T) {
	ch := blocks.NewChannel("time", blocks.DataCanOpenTime, 0, 6*8)
	rec := make([]byte, 6)

	require.NoError(t, Insert(rec, ch, Value{Int: canOpenEpoch.UnixNano() + int64(90_000_000_000)}))
	v, err := Extract(rec, ch)
	require.NoError(t, err)
	assert.Equal(t, canOpenEpoch.UnixNano()+int64(90_000_000_000), v.Int)
}

func TestResolveVLSD(t *testing.T) {
	var payload []byte
	for _, s := range []string{"alpha", "beta", "gamma"} {
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(s)))
		payload = append(payload, lenBuf...)
		payload = append(payload, []byte(s)...)
	}

	v, err := ResolveVLSD(payload, 1, blocks.DataStringASCII)
	require.NoError(t, err)
	assert.Equal(t, "beta", v.Str)

	_, err = ResolveVLSD(payload, 5, blocks.DataStringASCII)
	assert.Error(t, err)
}

func TestExtractShortRecordError(t *testing.T) {
	ch := blocks.NewChannel("x", blocks.DataUnsignedIntegerLE, 10, 32)
	_, err := Extract(make([]byte, 4), ch)
	assert.Error(t, err)
}
