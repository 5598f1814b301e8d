package reader

import (
	"encoding/binary"
	"testing"

	"github.com/openmdf/mdf/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateObserversColumns(t *testing.T) {
	dg, cg, _, value := buildSingleGroup()
	value.Conversion = blocks.NewLinearConversion(0, 2)

	payload := make([]byte, 0, 18)
	for i := 0; i < 3; i++ {
		rec := make([]byte, 6)
		putFloat32(rec[0:4], float32(i))
		binary.LittleEndian.PutUint16(rec[4:6], uint16(i+1))
		payload = append(payload, rec...)
	}

	r := New(nil)
	g := newGroup(dg, payload)

	observers, err := r.CreateObservers(g, cg)
	require.NoError(t, err)
	require.Len(t, observers, 2)

	mo := MasterObserver(observers)
	require.NotNil(t, mo)
	assert.Equal(t, "time", mo.Channel.Name)
	assert.Equal(t, uint64(3), mo.NofSamples())

	for i := 0; i < 3; i++ {
		mv, err := mo.ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, float64(i), mv.Float)
	}

	vo := observers[1]
	eng, err := vo.EngValue(1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, eng.Float)

	_, err = vo.ChannelValue(3)
	assert.Error(t, err)
}

func TestCreateObserversInvalidation(t *testing.T) {
	dg := blocks.NewDataGroup()
	cg := blocks.NewChannelGroup("g")
	ch := blocks.NewChannel("v", blocks.DataUnsignedIntegerLE, 0, 8)
	ch.HasInvalidBit = true
	ch.InvalidBitPos = 0
	cg.AddChannel(ch)
	cg.RecordLength = 1
	cg.InvalidBytes = 1
	dg.ChannelGroups = []*blocks.ChannelGroup{cg}

	// three records of [value, invalidation-byte]; middle one invalid
	payload := []byte{10, 0, 20, 1, 30, 0}

	r := New(nil)
	observers, err := r.CreateObservers(newGroup(dg, payload), cg)
	require.NoError(t, err)

	o := observers[0]
	for i, want := range []struct {
		v       uint64
		invalid bool
	}{{10, false}, {20, true}, {30, false}} {
		got, err := o.ChannelValue(i)
		require.NoError(t, err)
		assert.Equal(t, want.v, got.Uint)
		assert.Equal(t, want.invalid, got.Invalid)
	}
}

func TestMasterObserverMasterless(t *testing.T) {
	dg := blocks.NewDataGroup()
	cg := blocks.NewChannelGroup("g")
	ch := blocks.NewChannel("v", blocks.DataUnsignedIntegerLE, 0, 8)
	cg.AddChannel(ch)
	cg.RecordLength = 1
	dg.ChannelGroups = []*blocks.ChannelGroup{cg}

	r := New(nil)
	observers, err := r.CreateObservers(newGroup(dg, []byte{1}), cg)
	require.NoError(t, err)
	assert.Nil(t, MasterObserver(observers))
}
