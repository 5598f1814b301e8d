package blocks

import (
	"math"

	"github.com/openmdf/mdf/endian"
)

// leEngine is the little-endian engine every v4 fixed-payload decoder uses;
// v4 blocks are normatively little-endian regardless of the host platform.
func leEngine() endian.EndianEngine { return endian.GetLittleEndianEngine() }

func math64(engine endian.EndianEngine, b []byte) float64 {
	return math.Float64frombits(engine.Uint64(b))
}

func putF64(engine endian.EndianEngine, b []byte, v float64) {
	engine.PutUint64(b, math.Float64bits(v))
}
