package blocks

import "github.com/openmdf/mdf/iohelp"

// ArrayType is the CA block's ca_type byte (IChannelArray::ArrayType).
type ArrayType uint8

const (
	ArrayTypeArray                ArrayType = 0
	ArrayTypeScalingAxis          ArrayType = 1
	ArrayTypeLookUp               ArrayType = 2
	ArrayTypeIntervalAxis         ArrayType = 3
	ArrayTypeClassificationResult ArrayType = 4
)

// ArrayStorage is the CA block's ca_storage byte (IChannelArray::ArrayStorage).
type ArrayStorage uint8

const (
	ArrayStorageCnTemplate ArrayStorage = 0
	ArrayStorageCgTemplate ArrayStorage = 1
	ArrayStorageDgTemplate ArrayStorage = 2
)

// CaFlag bits from the CA block's ca_flags u32 (IChannelArray::CaFlag).
const (
	CaFlagDynamicSize        uint32 = 0x0001
	CaFlagInputQuantity      uint32 = 0x0002
	CaFlagOutputQuantity     uint32 = 0x0004
	CaFlagComparisonQuantity uint32 = 0x0008
	CaFlagAxis               uint32 = 0x0010
	CaFlagFixedAxis          uint32 = 0x0020
	CaFlagInverseLayout      uint32 = 0x0040
	CaFlagLeftOpenInterval   uint32 = 0x0080
	CaFlagStandardAxis       uint32 = 0x0100
)

// ChannelArray is a CA block: the array descriptor a Channel's composition
// link points to when the channel holds an N-dimensional array rather than
// a nested CN structure. Modeled on mdflib's Ca4Block, scoped to what a
// composition reader needs: the fixed shape fields, the per-dimension size
// list, and (when CaFlagFixedAxis is set) the fixed axis values. The
// dynamic-size/input/output/comparison-quantity triple-reference link
// groups described by IChannelArray are not modeled; no composition
// resolution needs them.
type ChannelArray struct {
	Header

	Type           ArrayType
	Storage        ArrayStorage
	Dimensions     uint16
	Flags          uint32
	ByteOffsetBase int32
	InvalidBitPosBase uint32

	// DimSizes holds one element count per dimension, in ca_dim_size_list order.
	DimSizes []uint64

	// AxisValues holds the fixed axis breakpoints when CaFlagFixedAxis is
	// set: Dimensions contiguous runs, sized per DimSizes.
	AxisValues []float64

	// Composition is this CA block's nested composition (link 0): another
	// ChannelArray for a further array dimension, or a Channel list for a
	// structure nested inside an array element.
	Composition Block
	nextOffset  int64
}

func (b *ChannelArray) Kind() string { return b.Header.Tag }
func (b *ChannelArray) Hdr() *Header { return &b.Header }

// ElementCount returns the total number of array elements (the product of
// DimSizes), or 0 if no dimensions were parsed.
func (ca *ChannelArray) ElementCount() uint64 {
	if len(ca.DimSizes) == 0 {
		return 0
	}

	count := uint64(1)
	for _, d := range ca.DimSizes {
		count *= d
	}

	return count
}

// v4 CABLOCK fixed payload, after the link table (composition, plus the
// variable-count data_links/dynamic_size/input_quantity/output_quantity/
// comparison_quantity/axis_conversion/axis link groups this package does
// not resolve):
//
//	ca_type u8, ca_storage u8, ca_dim u16, ca_flags u32,
//	ca_byte_offset_base i32, ca_inv_bit_pos_base u32.
const caV4FixedSize = 16

// parseChannelArrayV4 decodes a CA block's fixed payload, dim_size_list, and
// (if CaFlagFixedAxis is set) axis_value_list, grounded on Ca4Block::Read
// in mdflib's ca4block.cpp.
func parseChannelArrayV4(h Header, payload []byte) *ChannelArray {
	ca := &ChannelArray{Header: h}
	if len(payload) < caV4FixedSize {
		return ca
	}

	engine := leEngine()
	ca.Type = ArrayType(payload[0])
	ca.Storage = ArrayStorage(payload[1])
	ca.Dimensions = engine.Uint16(payload[2:4])
	ca.Flags = engine.Uint32(payload[4:8])
	ca.ByteOffsetBase = int32(engine.Uint32(payload[8:12]))
	ca.InvalidBitPosBase = engine.Uint32(payload[12:16])

	off := caV4FixedSize
	for i := 0; i < int(ca.Dimensions) && off+8 <= len(payload); i++ {
		ca.DimSizes = append(ca.DimSizes, engine.Uint64(payload[off:off+8]))
		off += 8
	}

	if ca.Flags&CaFlagFixedAxis != 0 {
		for _, n := range ca.DimSizes {
			for i := uint64(0); i < n && off+8 <= len(payload); i++ {
				ca.AxisValues = append(ca.AxisValues, math64(engine, payload[off:off+8]))
				off += 8
			}
		}
	}

	return ca
}

// WriteChannelArrayV4 appends a v4 CA block with a single composition link
// (or none) and no further variable-count link groups, returning its offset.
func WriteChannelArrayV4(w *iohelp.Writer, ca *ChannelArray, composition int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	payloadSize := caV4FixedSize + 8*len(ca.DimSizes) + 8*len(ca.AxisValues)
	if _, err := WriteHeaderV4(w, "CA", []int64{composition}, payloadSize); err != nil {
		return 0, err
	}

	payload := make([]byte, payloadSize)
	payload[0] = byte(ca.Type)
	payload[1] = byte(ca.Storage)
	engine := leEngine()
	engine.PutUint16(payload[2:4], ca.Dimensions)
	engine.PutUint32(payload[4:8], ca.Flags)
	engine.PutUint32(payload[8:12], uint32(ca.ByteOffsetBase))
	engine.PutUint32(payload[12:16], ca.InvalidBitPosBase)

	off := caV4FixedSize
	for _, d := range ca.DimSizes {
		engine.PutUint64(payload[off:off+8], d)
		off += 8
	}
	for _, v := range ca.AxisValues {
		putF64(engine, payload[off:off+8], v)
		off += 8
	}

	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}
