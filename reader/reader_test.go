package reader

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/convert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSingleGroup() (*blocks.DataGroup, *blocks.ChannelGroup, *blocks.Channel, *blocks.Channel) {
	dg := blocks.NewDataGroup()
	cg := blocks.NewChannelGroup("cg0")

	master := blocks.NewMasterChannel("time", blocks.SyncTime, blocks.DataFloatLE, 0, 32)
	value := blocks.NewChannel("value", blocks.DataUnsignedIntegerLE, 4, 16)

	cg.AddChannel(master)
	cg.AddChannel(value)
	cg.RecordLength = 6
	cg.CycleCount = 3

	dg.ChannelGroups = []*blocks.ChannelGroup{cg}

	return dg, cg, master, value
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func TestGroupRecordsSingleChannelGroup(t *testing.T) {
	dg, cg, master, value := buildSingleGroup()

	payload := make([]byte, 0, 18)
	for i := 0; i < 3; i++ {
		rec := make([]byte, 6)
		putFloat32(rec[0:4], float32(i)*1.5)
		binary.LittleEndian.PutUint16(rec[4:6], uint16(i*10))
		payload = append(payload, rec...)
	}

	g := newGroup(dg, payload)
	bodies, invalids, err := g.Records(cg)
	require.NoError(t, err)
	require.Len(t, bodies, 3)
	require.Len(t, invalids, 3)

	v, err := ChannelValue(bodies, invalids, value, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v.Uint)

	mv, err := ChannelValue(bodies, invalids, master, 2)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mv.Float, 1e-6)
}

func TestEngValueAppliesConversion(t *testing.T) {
	dg, cg, _, value := buildSingleGroup()
	value.Conversion = blocks.NewLinearConversion(1, 2)

	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[4:6], 5)

	g := newGroup(dg, payload)
	bodies, invalids, err := g.Records(cg)
	require.NoError(t, err)

	eng := convert.NewEngine()
	r, err := EngValue(eng, bodies, invalids, value, 0)
	require.NoError(t, err)
	assert.Equal(t, 1+2*5.0, r.Float)
}

func TestMasterValues(t *testing.T) {
	dg, cg, _, _ := buildSingleGroup()

	payload := make([]byte, 0, 18)
	for i := 0; i < 3; i++ {
		rec := make([]byte, 6)
		putFloat32(rec[0:4], float32(i))
		payload = append(payload, rec...)
	}

	g := newGroup(dg, payload)
	bodies, invalids, err := g.Records(cg)
	require.NoError(t, err)

	eng := convert.NewEngine()
	masters, err := MasterValues(eng, bodies, invalids, cg)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, masters)
}

func TestRecordsWithRecordIDFraming(t *testing.T) {
	dg := blocks.NewDataGroup()
	dg.RecordIDSize = 1

	cg0 := blocks.NewChannelGroup("a")
	cg0.RecordID = 0
	cg0.RecordLength = 2
	ch0 := blocks.NewChannel("a0", blocks.DataUnsignedIntegerLE, 0, 16)
	cg0.AddChannel(ch0)

	cg1 := blocks.NewChannelGroup("b")
	cg1.RecordID = 1
	cg1.RecordLength = 4
	ch1 := blocks.NewChannel("b0", blocks.DataUnsignedIntegerLE, 0, 32)
	cg1.AddChannel(ch1)

	dg.ChannelGroups = []*blocks.ChannelGroup{cg0, cg1}
	require.True(t, dg.NeedsRecordID())

	var payload []byte
	payload = append(payload, 0x00, 0x0A, 0x00) // cg0 record: id 0, value 10
	rec1 := make([]byte, 5)
	rec1[0] = 0x01
	binary.LittleEndian.PutUint32(rec1[1:5], 99)
	payload = append(payload, rec1...)

	g := newGroup(dg, payload)

	b0, _, err := g.Records(cg0)
	require.NoError(t, err)
	require.Len(t, b0, 1)
	v, err := ChannelValue(b0, make([][]byte, 1), ch0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v.Uint)

	b1, _, err := g.Records(cg1)
	require.NoError(t, err)
	require.Len(t, b1, 1)
	v1, err := ChannelValue(b1, make([][]byte, 1), ch1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v1.Uint)
}
