package blocks

import "github.com/openmdf/mdf/iohelp"

// Channel is a CN block: one signal within a channel group, including its
// raw-value layout (byte/bit offset, bit count, data type) and optional
// conversion, source, and composition.
type Channel struct {
	Header
	nextOffset  int64
	Name        string
	DisplayName string
	Comment     string
	Unit        string

	ChannelType ChannelType
	SyncType    SyncType
	DataType    DataType

	ByteOffset uint32
	BitOffset  uint8
	BitCount   uint32
	Flags      uint32

	// HasInvalidBit and InvalidBitPos locate the channel's bit in the
	// channel group's invalidation byte range.
	HasInvalidBit bool
	InvalidBitPos uint32

	Conversion *Conversion
	Source     *SourceInfo

	// Composition holds a nested structure of channels (a nested CN list);
	// nil for a plain scalar channel or one whose composition is an array.
	Composition []*Channel

	// Array holds the CA block a composition link resolves to, for a
	// channel representing an N-dimensional array; nil otherwise.
	Array *ChannelArray

	// VLSDData is the channel's own SD/DZ/DL/HL payload, for VariableLength
	// channels that own their variable-length data directly.
	VLSDData Block

	// VLSDLinkedGroup is set instead of VLSDData when this channel's index
	// resolves into a sibling channel group declared VLSD.
	VLSDLinkedGroup *ChannelGroup

	// LengthChannel is the companion channel carrying the per-record byte
	// length for a MaxLength channel.
	LengthChannel *Channel

	// DefaultValue holds the raw bytes used when ChannelFlagDefaultValue is set.
	DefaultValue []byte
}

func (b *Channel) Kind() string { return b.Header.Tag }
func (b *Channel) Hdr() *Header { return &b.Header }

// ByteWidth returns the minimal byte width needed to hold BitCount bits.
func (c *Channel) ByteWidth() int {
	return int((c.BitCount + 7) / 8)
}

// IsAligned reports whether the channel's bit layout is byte-aligned: an
// integer channel with bitOffset 0, bitCount a multiple of 8, and at most 64 bits.
func (c *Channel) IsAligned() bool {
	return c.BitOffset == 0 && c.BitCount%8 == 0 && c.BitCount <= 64
}

// IsMaster reports whether this channel is a Master or VirtualMaster channel.
func (c *Channel) IsMaster() bool {
	return c.ChannelType == ChannelMaster || c.ChannelType == ChannelVirtualMaster
}

// NewChannel builds a fixed-length numeric/string/byte-array channel ready
// to be attached to a ChannelGroup via AddChannel.
func NewChannel(name string, dataType DataType, byteOffset uint32, bitCount uint32) *Channel {
	return &Channel{
		Name:        name,
		ChannelType: ChannelFixedLength,
		DataType:    dataType,
		ByteOffset:  byteOffset,
		BitCount:    bitCount,
	}
}

// NewMasterChannel builds a master (time/angle/distance/index) channel.
func NewMasterChannel(name string, sync SyncType, dataType DataType, byteOffset uint32, bitCount uint32) *Channel {
	ch := NewChannel(name, dataType, byteOffset, bitCount)
	ch.ChannelType = ChannelMaster
	ch.SyncType = sync

	return ch
}

// NewVariableLengthChannel builds a VLSD channel whose fixed record slot is
// a u64 index resolved through VLSDData or VLSDLinkedGroup.
func NewVariableLengthChannel(name string, dataType DataType, byteOffset uint32) *Channel {
	return &Channel{
		Name:        name,
		ChannelType: ChannelVariableLength,
		DataType:    dataType,
		ByteOffset:  byteOffset,
		BitCount:    64,
	}
}

// v4 CNBLOCK fixed payload, after the 8 links (cn_next, composition,
// tx_name, si_source, cc_conversion, data, md_unit, md_comment):
//
//	channel_type u8, sync_type u8, data_type u8, bit_offset u8,
//	byte_offset u32, bit_count u32, flags u32, invalid_bit_pos u32,
//	precision u8, reserved u8, attachment_count u16,
//	min_raw f64, max_raw f64, lower_limit f64, upper_limit f64,
//	lower_ext_limit f64, upper_ext_limit f64.
const cnV4FixedSize = 72

func parseChannelV4(h Header, payload []byte) *Channel {
	ch := &Channel{Header: h}
	if len(payload) < cnV4FixedSize {
		return ch
	}

	engine := leEngine()
	ch.ChannelType = ChannelType(payload[0])
	ch.SyncType = SyncType(payload[1])
	ch.DataType = DataType(payload[2])
	ch.BitOffset = payload[3]
	ch.ByteOffset = engine.Uint32(payload[4:8])
	ch.BitCount = engine.Uint32(payload[8:12])
	ch.Flags = engine.Uint32(payload[12:16])
	ch.InvalidBitPos = engine.Uint32(payload[16:20])
	ch.HasInvalidBit = ch.Flags&ChannelFlagInvalidValid != 0

	return ch
}

// WriteChannelV4 appends a v4 CN block and returns its offset.
func WriteChannelV4(w *iohelp.Writer, ch *Channel, next, composition, txName, siSource, ccConversion, data, mdUnit, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, composition, txName, siSource, ccConversion, data, mdUnit, mdComment}
	if _, err := WriteHeaderV4(w, "CN", links, cnV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, cnV4FixedSize)
	payload[0] = byte(ch.ChannelType)
	payload[1] = byte(ch.SyncType)
	payload[2] = byte(ch.DataType)
	payload[3] = ch.BitOffset
	engine := leEngine()
	engine.PutUint32(payload[4:8], ch.ByteOffset)
	engine.PutUint32(payload[8:12], ch.BitCount)
	flags := ch.Flags
	if ch.HasInvalidBit {
		flags |= ChannelFlagInvalidValid
	}
	engine.PutUint32(payload[12:16], flags)
	engine.PutUint32(payload[16:20], ch.InvalidBitPos)
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}
