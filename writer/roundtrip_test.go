package writer

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/mdffile"
	"github.com/openmdf/mdf/reader"
	"github.com/openmdf/mdf/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reopen(t *testing.T, buf *memWS) *reader.Reader {
	t.Helper()

	f, err := mdffile.Open(&memReaderAt{data: buf.data})
	require.NoError(t, err)

	return reader.New(f)
}

// TestStagedSampleRoundTrip writes one master float32 channel "t" and one
// u64 channel "x" through the staged-sample API, then reads both columns
// back: t[i] == i seconds, x[i] == i, one hundred samples each.
func TestStagedSampleRoundTrip(t *testing.T) {
	buf := &memWS{}
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	w, err := New(buf, start)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	master := w.CreateMasterChannel(cg, "t", blocks.SyncTime, blocks.DataFloatLE, 32)
	master.Unit = "s"
	x := w.CreateChannel(cg, "x", blocks.DataUnsignedIntegerLE, 64)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(start))

	for i := 0; i < 100; i++ {
		require.NoError(t, w.SetChannelValue(cg, master, record.Value{Float: float64(i)}, true))
		require.NoError(t, w.SetChannelValue(cg, x, record.Value{Uint: uint64(i)}, true))
		require.NoError(t, w.SaveSample(cg, start+int64(i)*int64(time.Second)))
	}

	require.NoError(t, w.StopMeasurement(start+100*int64(time.Second)))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	assert.Equal(t, reader.StateOpen, r.State())
	require.NoError(t, r.ReadHeader())
	require.NoError(t, r.ReadMeasurementInfo())
	require.NoError(t, r.ReadEverythingButData())
	assert.Equal(t, reader.StateInfoRead, r.State())

	dgs := r.DataGroups()
	require.Len(t, dgs, 1)
	require.Len(t, dgs[0].ChannelGroups, 1)

	readCG := dgs[0].ChannelGroups[0]
	assert.Equal(t, uint64(100), readCG.CycleCount)

	g, err := r.Group(dgs[0])
	require.NoError(t, err)
	assert.Equal(t, reader.StateFullyRead, r.State())

	observers, err := r.CreateObservers(g, readCG)
	require.NoError(t, err)
	require.Len(t, observers, 2)

	mo := reader.MasterObserver(observers)
	require.NotNil(t, mo)
	assert.Equal(t, "t", mo.Channel.Name)
	assert.Equal(t, "s", mo.Channel.Unit)
	assert.Equal(t, uint64(100), mo.NofSamples())

	var xo *reader.ChannelObserver
	for _, o := range observers {
		if o.Channel.Name == "x" {
			xo = o
		}
	}
	require.NotNil(t, xo)
	assert.Equal(t, uint64(100), xo.NofSamples())

	for i := 0; i < 100; i++ {
		tv, err := mo.ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, float64(float32(i)), tv.Float)

		xv, err := xo.ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), xv.Uint)
	}
}

// TestInvalidationRoundTrip writes two float64 channels with invalidation
// bits: every value decodes, and the validity flag survives the trip.
func TestInvalidationRoundTrip(t *testing.T) {
	buf := &memWS{}
	start := int64(1_000_000_000)

	w, err := New(buf, start)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	a := w.CreateChannel(cg, "a", blocks.DataFloatLE, 64)
	b := w.CreateChannel(cg, "b", blocks.DataFloatLE, 64)
	w.EnableInvalidationBit(cg, a)
	w.EnableInvalidationBit(cg, b)
	assert.Equal(t, uint32(0), a.InvalidBitPos)
	assert.Equal(t, uint32(1), b.InvalidBitPos)

	require.NoError(t, w.InitMeasurement())
	assert.Equal(t, uint32(1), cg.InvalidBytes)
	require.NoError(t, w.StartMeasurement(start))

	for i := 0; i < 100; i++ {
		valid := i%2 == 0
		require.NoError(t, w.SetChannelValue(cg, a, record.Value{Float: float64(i) + 0.23}, valid))
		require.NoError(t, w.SetChannelValue(cg, b, record.Value{Float: float64(i) + 0.23}, valid))
		require.NoError(t, w.SaveSample(cg, start+int64(i)))
	}

	require.NoError(t, w.StopMeasurement(start+100))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	readDG := r.DataGroups()[0]
	readCG := readDG.ChannelGroups[0]

	g, err := r.Group(readDG)
	require.NoError(t, err)
	observers, err := r.CreateObservers(g, readCG)
	require.NoError(t, err)

	for _, o := range observers {
		require.Equal(t, uint64(100), o.NofSamples())
		for i := 0; i < 100; i++ {
			v, err := o.ChannelValue(i)
			require.NoError(t, err)
			assert.Equal(t, float64(i)+0.23, v.Float)
			assert.Equal(t, i%2 != 0, v.Invalid)
		}
	}
}

// TestMultiGroupRecordIDFraming interleaves two channel groups in one data
// group and checks the record-id framing demultiplexes them on read.
func TestMultiGroupRecordIDFraming(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cgA := w.CreateChannelGroup(dg, "A")
	chA := w.CreateChannel(cgA, "a", blocks.DataUnsignedIntegerLE, 16)
	cgB := w.CreateChannelGroup(dg, "B")
	chB := w.CreateChannel(cgB, "b", blocks.DataUnsignedIntegerLE, 32)

	require.NoError(t, w.InitMeasurement())
	assert.Equal(t, uint8(1), dg.RecordIDSize)
	require.NoError(t, w.StartMeasurement(0))

	for i := 0; i < 10; i++ {
		require.NoError(t, w.SetChannelValue(cgA, chA, record.Value{Uint: uint64(i)}, true))
		require.NoError(t, w.SaveSample(cgA, int64(2*i)))
		if i%2 == 0 {
			require.NoError(t, w.SetChannelValue(cgB, chB, record.Value{Uint: uint64(100 + i)}, true))
			require.NoError(t, w.SaveSample(cgB, int64(2*i+1)))
		}
	}

	require.NoError(t, w.StopMeasurement(100))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	readDG := r.DataGroups()[0]
	require.Len(t, readDG.ChannelGroups, 2)
	assert.Equal(t, uint64(10), readDG.ChannelGroups[0].CycleCount)
	assert.Equal(t, uint64(5), readDG.ChannelGroups[1].CycleCount)

	g, err := r.Group(readDG)
	require.NoError(t, err)

	obsA, err := r.CreateObservers(g, readDG.ChannelGroups[0])
	require.NoError(t, err)
	require.Equal(t, uint64(10), obsA[0].NofSamples())
	for i := 0; i < 10; i++ {
		v, err := obsA[0].ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), v.Uint)
	}

	obsB, err := r.CreateObservers(g, readDG.ChannelGroups[1])
	require.NoError(t, err)
	require.Equal(t, uint64(5), obsB[0].NofSamples())
	for i := 0; i < 5; i++ {
		v, err := obsB[0].ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(100+2*i), v.Uint)
	}
}

// TestCompressionTransparency writes the same samples with and without
// compression: the decoded observer sequences must match and the
// compressed file must be strictly smaller.
func TestCompressionTransparency(t *testing.T) {
	write := func(opts ...Option) *memWS {
		buf := &memWS{}
		w, err := New(buf, 0, opts...)
		require.NoError(t, err)

		dg := w.CreateDataGroup()
		cg := w.CreateChannelGroup(dg, "G")
		chs := make([]*blocks.Channel, 4)
		for i := range chs {
			chs[i] = w.CreateChannel(cg, string(rune('a'+i)), blocks.DataFloatLE, 64)
		}

		require.NoError(t, w.InitMeasurement())
		require.NoError(t, w.StartMeasurement(0))
		for i := 0; i < 5000; i++ {
			for _, ch := range chs {
				require.NoError(t, w.SetChannelValue(cg, ch, record.Value{Float: float64(i) + 0.23}, true))
			}
			require.NoError(t, w.SaveSample(cg, int64(i)))
		}
		require.NoError(t, w.StopMeasurement(5000))
		require.NoError(t, w.FinalizeMeasurement())

		return buf
	}

	plain := write()
	packed := write(WithCompression(0))
	assert.Less(t, len(packed.data), len(plain.data))

	readAll := func(buf *memWS) [][]float64 {
		r := reopen(t, buf)
		readDG := r.DataGroups()[0]
		g, err := r.Group(readDG)
		require.NoError(t, err)
		observers, err := r.CreateObservers(g, readDG.ChannelGroups[0])
		require.NoError(t, err)

		out := make([][]float64, len(observers))
		for ci, o := range observers {
			require.Equal(t, uint64(5000), o.NofSamples())
			col := make([]float64, 5000)
			for i := range col {
				v, err := o.ChannelValue(i)
				require.NoError(t, err)
				col[i] = v.Float
			}
			out[ci] = col
		}

		return out
	}

	plainCols := readAll(plain)
	packedCols := readAll(packed)
	require.Equal(t, plainCols, packedCols)
	assert.Equal(t, 0.23, plainCols[0][0])
	assert.Equal(t, 999+0.23, plainCols[3][999])
}

// TestVLSDStagedRoundTrip writes VLSD strings through the staged API and
// reads them back through observers, checking the SD index contract on
// the way.
func TestVLSDStagedRoundTrip(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	s := w.CreateVariableLengthChannel(cg, "s", blocks.DataStringUTF8)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))

	want := make([]string, 200)
	for i := range want {
		want[i] = "String " + string(rune('0'+i%10)) + string(rune('0'+i/10%10))
		require.NoError(t, w.SetChannelValue(cg, s, record.Value{Str: want[i]}, true))
		require.NoError(t, w.SaveSample(cg, int64(i)))
	}

	require.NoError(t, w.StopMeasurement(200))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	readDG := r.DataGroups()[0]
	g, err := r.Group(readDG)
	require.NoError(t, err)

	observers, err := r.CreateObservers(g, readDG.ChannelGroups[0])
	require.NoError(t, err)
	o := observers[0]
	require.Equal(t, uint64(200), o.NofSamples())

	var prev uint64
	for i := range want {
		v, err := o.ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, want[i], v.Str)
		assert.GreaterOrEqual(t, v.Uint, prev, "SD offsets must be monotonically non-decreasing")
		prev = v.Uint
	}
}

// TestStopTimeDropsLateSamples checks that once stopped, the worker
// drains only samples stamped at or before the stop time.
func TestStopTimeDropsLateSamples(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	ch := w.CreateChannel(cg, "v", blocks.DataUnsignedIntegerLE, 16)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))
	require.NoError(t, w.StopMeasurement(10))

	require.NoError(t, w.SetChannelValue(cg, ch, record.Value{Uint: 1}, true))
	require.NoError(t, w.SaveSample(cg, 5))
	require.NoError(t, w.SetChannelValue(cg, ch, record.Value{Uint: 2}, true))
	require.NoError(t, w.SaveSample(cg, 15))

	require.NoError(t, w.FinalizeMeasurement())
	assert.Equal(t, uint64(1), w.groups[cg].cycles)
}

// TestFinalizeIdempotent checks that a second FinalizeMeasurement leaves
// the file byte-identical, and that the unfinished-file magic is only
// cleared by finalization.
func TestFinalizeIdempotent(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	ch := w.CreateChannel(cg, "v", blocks.DataFloatLE, 64)

	require.NoError(t, w.InitMeasurement())
	assert.Equal(t, "UnFinMF ", string(buf.data[0:8]))

	require.NoError(t, w.StartMeasurement(0))
	require.NoError(t, w.SetChannelValue(cg, ch, record.Value{Float: math.Pi}, true))
	require.NoError(t, w.SaveSample(cg, 1))
	require.NoError(t, w.StopMeasurement(2))

	require.NoError(t, w.FinalizeMeasurement())
	assert.Equal(t, "MDF     ", string(buf.data[0:8]))

	snapshot := append([]byte(nil), buf.data...)
	require.NoError(t, w.FinalizeMeasurement())
	assert.True(t, bytes.Equal(snapshot, buf.data))
}

// TestAttachmentRoundTrip embeds one plain and one deflated attachment and
// reads both back through the reader, MD5-verified.
func TestAttachmentRoundTrip(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("calibration data\n"), 64)
	_, err = w.AttachFile("calib.txt", "text/plain", payload, false)
	require.NoError(t, err)
	_, err = w.AttachFile("calib2.txt", "text/plain", payload, true)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	w.CreateChannel(cg, "v", blocks.DataUnsignedIntegerLE, 8)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))
	require.NoError(t, w.StopMeasurement(1))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	ats := r.Attachments()
	require.Len(t, ats, 2)
	assert.Equal(t, "calib.txt", ats[0].FileName)
	assert.False(t, ats[0].Compressed)
	assert.True(t, ats[1].Compressed)

	for _, at := range ats {
		data, err := r.ReadAttachmentData(at)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	}

	// a corrupted checksum must be rejected
	ats[0].MD5[0] ^= 0xFF
	_, err = r.ReadAttachmentData(ats[0])
	assert.ErrorIs(t, err, errs.ErrBadChecksum)
}

// TestConversionRoundTrip writes channels carrying a linear and a
// value-range-to-text conversion and checks both survive the CC block
// encode/decode and still evaluate.
func TestConversionRoundTrip(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 0)
	require.NoError(t, err)

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	lin := w.CreateChannel(cg, "lin", blocks.DataUnsignedIntegerLE, 16)
	w.CreateConversion(lin, blocks.NewLinearConversion(1, 2))
	ranged := w.CreateChannel(cg, "ranged", blocks.DataFloatLE, 64)
	w.CreateConversion(ranged, blocks.NewValueRangeToTextConversion(
		[]float64{0, 1, 5}, []float64{1, 5, 10}, []string{"low", "mid", "hi"}, "out"))

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))

	require.NoError(t, w.SetChannelValue(cg, lin, record.Value{Uint: 5}, true))
	require.NoError(t, w.SetChannelValue(cg, ranged, record.Value{Float: 2.5}, true))
	require.NoError(t, w.SaveSample(cg, 1))

	require.NoError(t, w.StopMeasurement(2))
	require.NoError(t, w.FinalizeMeasurement())

	r := reopen(t, buf)
	readDG := r.DataGroups()[0]
	readCG := readDG.ChannelGroups[0]

	require.NotNil(t, readCG.Channels[0].Conversion)
	assert.Equal(t, blocks.ConversionLinear, readCG.Channels[0].Conversion.Type)
	require.NotNil(t, readCG.Channels[1].Conversion)
	assert.Equal(t, blocks.ConversionValueRangeToText, readCG.Channels[1].Conversion.Type)

	g, err := r.Group(readDG)
	require.NoError(t, err)
	observers, err := r.CreateObservers(g, readCG)
	require.NoError(t, err)

	linEng, err := observers[0].EngValue(0)
	require.NoError(t, err)
	assert.Equal(t, 11.0, linEng.Float)

	rangedEng, err := observers[1].EngValue(0)
	require.NoError(t, err)
	assert.True(t, rangedEng.IsText)
	assert.Equal(t, "mid", rangedEng.Text)
}

// TestHeaderMetadataRoundTrip checks that HD metadata survives the
// MD-block XML encode/decode.
func TestHeaderMetadataRoundTrip(t *testing.T) {
	buf := &memWS{}

	w, err := New(buf, 42)
	require.NoError(t, err)

	hd := w.Header()
	hd.Author = "test bench 7"
	hd.Project = "endurance run"
	hd.Comment = "cold start sweep"

	dg := w.CreateDataGroup()
	cg := w.CreateChannelGroup(dg, "G")
	w.CreateChannel(cg, "v", blocks.DataUnsignedIntegerLE, 8)

	require.NoError(t, w.InitMeasurement())
	require.NoError(t, w.StartMeasurement(0))
	require.NoError(t, w.StopMeasurement(1))
	require.NoError(t, w.FinalizeMeasurement())

	f, err := mdffile.Open(&memReaderAt{data: buf.data})
	require.NoError(t, err)

	got := f.Header()
	assert.Equal(t, "test bench 7", got.Author)
	assert.Equal(t, "endurance run", got.Project)
	assert.Equal(t, "cold start sweep", got.Comment)
	assert.Equal(t, int64(42), got.StartTimeNs)
}
