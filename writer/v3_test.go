package writer

import (
	"testing"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/mdffile"
	"github.com/openmdf/mdf/reader"
	"github.com/openmdf/mdf/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriterV3RoundTrip writes a little-endian v3 file and reads the raw
// record region back through the v3 parser: the data link points straight
// at headerless records whose extent follows from the patched cycle count.
func TestWriterV3RoundTrip(t *testing.T) {
	buf := &memWS{}

	w, err := NewV3(buf, 7_000_000_000, false)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	ch16 := w.CreateChannel(cg, "u", blocks.DataUnsignedIntegerLE, 16)
	chF := w.CreateChannel(cg, "f", blocks.DataFloatLE, 64)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))

	for i := 0; i < 5; i++ {
		require.NoError(t, w.SetChannelValue(cg, ch16, record.Value{Uint: uint64(i * 3)}))
		require.NoError(t, w.SetChannelValue(cg, chF, record.Value{Float: float64(i) + 0.5}))
		require.NoError(t, w.SaveSample(cg, int64(i)))
	}

	require.NoError(t, w.StopMeasurement(5))
	require.NoError(t, w.FinalizeMeasurement())
	require.NoError(t, w.FinalizeMeasurement(), "finalize must be idempotent")

	f, err := mdffile.Open(&memReaderAt{data: buf.data})
	require.NoError(t, err)
	_, isV3 := f.(*mdffile.MdfV3File)
	require.True(t, isV3)
	assert.False(t, f.ID().IsMDF4())

	hd := f.Header()
	assert.Equal(t, int64(7_000_000_000), hd.StartTimeNs)
	require.Len(t, hd.DataGroups, 1)

	readCG := hd.DataGroups[0].ChannelGroups[0]
	assert.Equal(t, uint64(5), readCG.CycleCount)
	assert.Equal(t, uint32(10), readCG.RecordLength)

	r := reader.New(f)
	g, err := r.Group(hd.DataGroups[0])
	require.NoError(t, err)

	bodies, invalids, err := g.Records(readCG)
	require.NoError(t, err)
	require.Len(t, bodies, 5)

	for i := 0; i < 5; i++ {
		u, err := reader.ChannelValue(bodies, invalids, readCG.Channels[0], i)
		require.NoError(t, err)
		assert.Equal(t, uint64(i*3), u.Uint)

		fv, err := reader.ChannelValue(bodies, invalids, readCG.Channels[1], i)
		require.NoError(t, err)
		assert.Equal(t, float64(i)+0.5, fv.Float)
	}
}

// TestWriterV3RejectsInvalidationBits pins the v3 constraint: there is no
// invalidation byte range in a v3 record.
func TestWriterV3RejectsInvalidationBits(t *testing.T) {
	buf := &memWS{}

	w, err := NewV3(buf, 0, false)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	ch := w.CreateChannel(cg, "v", blocks.DataUnsignedIntegerLE, 8)
	ch.HasInvalidBit = true

	assert.Error(t, w.InitMeasurement())
}
