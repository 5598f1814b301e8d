package blocks

import "github.com/openmdf/mdf/iohelp"

// ParseFileV3 reads the IdBlock and the v3 block graph reachable from it,
// mirroring ParseFileV4's recursive descent but using the 2-byte-aligned
// type+size+links32 header grammar and v3's fixed C-struct field layouts.
//
// Channel-extension (CE, acquisition-source metadata) and channel-dependency
// (CD, array composition) blocks are legacy v3-only constructs this module
// does not decode: the channel reader does not follow a CN block's CD and
// CE links, so those blocks are never read.
func ParseFileV3(r *iohelp.Reader) (*Arena, *ID, *FileHeader, error) {
	if err := r.Seek(0); err != nil {
		return nil, nil, nil, err
	}

	id, err := ReadID(r)
	if err != nil {
		return nil, nil, nil, err
	}
	r.SetEngine(id.Engine())

	arena := NewArena()
	w := &treeWalkerV3{r: r, arena: arena}

	hdBlock, err := w.read(IDSize)
	if err != nil {
		return nil, nil, nil, err
	}
	hd, _ := hdBlock.(*FileHeader)

	return arena, id, hd, nil
}

type treeWalkerV3 struct {
	r     *iohelp.Reader
	arena *Arena
}

func (w *treeWalkerV3) read(offset int64) (Block, error) {
	if offset == 0 {
		return nil, nil
	}
	if b := w.arena.Find(offset); b != nil {
		return b, nil
	}

	if err := w.r.Seek(offset); err != nil {
		return nil, err
	}
	h, err := ReadHeaderV3(w.r)
	if err != nil {
		return nil, err
	}

	payloadLen := h.TotalLength - v3HeaderFixedSize - 4*int64(len(h.Links))
	payload, err := w.r.ReadBytes(int(payloadLen))
	if err != nil {
		return nil, err
	}

	var block Block
	switch h.Tag {
	case "TX":
		block = parseText(h, payload)
	case "HD":
		block, err = w.readFileHeader(h, payload)
	case "DG":
		block, err = w.readDataGroup(h, payload)
	case "CG":
		block, err = w.readChannelGroup(h, payload)
	case "CN":
		block, err = w.readChannel(h, payload)
	case "CC":
		block = parseConversionV3(h, payload)
	default:
		block = &Opaque{Header: h, Payload: payload}
	}
	if err != nil {
		return nil, err
	}

	w.arena.Add(block)

	switch b := block.(type) {
	case *FileHeader:
		if err := w.fillFileHeader(b, h); err != nil {
			return nil, err
		}
	case *DataGroup:
		if err := w.fillDataGroup(b, h); err != nil {
			return nil, err
		}
	case *ChannelGroup:
		if err := w.fillChannelGroup(b, h); err != nil {
			return nil, err
		}
	}

	return block, nil
}

func (w *treeWalkerV3) resolveText(offset int64) string {
	if offset == 0 {
		return ""
	}
	b, err := w.read(offset)
	if err != nil {
		return ""
	}
	if t, ok := b.(*Text); ok {
		return t.Value
	}

	return ""
}

// v3 HDBLOCK fixed payload, after the 3 links (dg_first, tx_comment, reserved):
//
//	date[10], time[8], author[32], organization[32], project[32], subject[32],
//	timestamp_ns u64, utc_offset_min i16, local_time_flags u16, time_quality u16, timer_id[32].
const hdV3FixedSize = 10 + 8 + 32 + 32 + 32 + 32 + 8 + 2 + 2 + 2 + 32

func (w *treeWalkerV3) readFileHeader(h Header, payload []byte) (*FileHeader, error) {
	hd := &FileHeader{Header: h}
	if len(payload) < hdV3FixedSize {
		return hd, nil
	}

	off := 18 // date[10] + time[8] skipped as display-only duplicates of timestamp_ns; kept unparsed
	hd.Author = trimField(payload[off : off+32])
	off += 32
	hd.Department = trimField(payload[off : off+32])
	off += 32
	hd.Project = trimField(payload[off : off+32])
	off += 32
	hd.Subject = trimField(payload[off : off+32])
	off += 32

	engine := leEngine()
	hd.StartTimeNs = int64(engine.Uint64(payload[off : off+8]))
	off += 8
	hd.TZOffsetMin = int16(engine.Uint16(payload[off : off+2]))
	off += 2
	hd.LocalTime = engine.Uint16(payload[off:off+2]) != 0

	hd.Comment = w.resolveText(h.Link(1))

	return hd, nil
}

func (w *treeWalkerV3) fillFileHeader(hd *FileHeader, h Header) error {
	for off := h.Link(0); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		dg, ok := b.(*DataGroup)
		if !ok {
			break
		}
		hd.DataGroups = append(hd.DataGroups, dg)
		off = dg.nextOffset
	}

	return nil
}

// v3 DGBLOCK fixed payload, after the 4 links (dg_next, cg_first, reserved, data):
//
//	num_channel_groups u16, rec_id_size u16, reserved[4].
const dgV3FixedSize = 8

func (w *treeWalkerV3) readDataGroup(h Header, payload []byte) (*DataGroup, error) {
	dg := &DataGroup{Header: h, nextOffset: h.Link(0)}
	if len(payload) >= dgV3FixedSize {
		dg.RecordIDSize = uint8(leEngine().Uint16(payload[2:4]))
	}

	return dg, nil
}

func (w *treeWalkerV3) fillDataGroup(dg *DataGroup, h Header) error {
	for off := h.Link(1); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		cg, ok := b.(*ChannelGroup)
		if !ok {
			break
		}
		dg.ChannelGroups = append(dg.ChannelGroups, cg)
		off = cg.nextOffset
	}

	// The v3 data link points straight at raw records, no block header.
	// The region's size is not stored anywhere; it follows from the cycle
	// counters, the way Dt3Block::DataSize derives it.
	if dataOffset := h.Link(3); dataOffset != 0 {
		var size int64
		for _, cg := range dg.ChannelGroups {
			size += int64(uint64(dg.RecordIDSize)+uint64(cg.TotalRecordLength())) * int64(cg.CycleCount)
		}
		dg.Data = &DT{
			Header:        Header{Tag: "DT", Offset: dataOffset, TotalLength: size},
			PayloadOffset: dataOffset,
			PayloadLen:    size,
		}
	}

	return nil
}

// v3 CGBLOCK fixed payload, after the 3 links (cg_next, cn_first, tx_comment):
//
//	record_id u16, channel_count u16, record_size u16, cycle_count u32, flags u16, reserved u16.
const cgV3FixedSize = 14

func (w *treeWalkerV3) readChannelGroup(h Header, payload []byte) (*ChannelGroup, error) {
	cg := &ChannelGroup{Header: h, nextOffset: h.Link(0)}
	if len(payload) >= cgV3FixedSize {
		engine := leEngine()
		cg.RecordID = uint64(engine.Uint16(payload[0:2]))
		cg.RecordLength = uint32(engine.Uint16(payload[4:6]))
		cg.CycleCount = uint64(engine.Uint32(payload[6:10]))
		cg.Flags = engine.Uint16(payload[10:12])
	}
	cg.Comment = w.resolveText(h.Link(2))

	return cg, nil
}

func (w *treeWalkerV3) fillChannelGroup(cg *ChannelGroup, h Header) error {
	for off := h.Link(1); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		ch, ok := b.(*Channel)
		if !ok {
			break
		}
		cg.Channels = append(cg.Channels, ch)
		off = ch.nextOffset
	}

	return nil
}

// v3 CNBLOCK fixed payload, after the 6 links (cn_next, composition(CD),
// tx_name, cc_conversion, ce_source, tx_comment):
//
//	channel_type u16, short_name[32], description[128], bit_offset u16,
//	bit_count u16, data_type u16, value_range_valid u16, min f64, max f64,
//	sampling_rate f64.
const cnV3FixedSize = 2 + 32 + 128 + 2 + 2 + 2 + 2 + 8 + 8 + 8

func (w *treeWalkerV3) readChannel(h Header, payload []byte) (*Channel, error) {
	ch := &Channel{Header: h, nextOffset: h.Link(0)}
	if len(payload) >= cnV3FixedSize {
		engine := leEngine()
		// v3 knows two channel types: 0 = data, 1 = time master.
		if engine.Uint16(payload[0:2]) == 1 {
			ch.ChannelType = ChannelMaster
			ch.SyncType = SyncTime
		} else {
			ch.ChannelType = ChannelFixedLength
		}
		ch.Name = trimField(payload[2:34])
		ch.Comment = trimField(payload[34:162])
		bitOffset := engine.Uint16(payload[162:164])
		ch.ByteOffset = uint32(bitOffset / 8)
		ch.BitOffset = uint8(bitOffset % 8)
		ch.BitCount = uint32(engine.Uint16(payload[164:166]))
		// v3 has one file-wide byte order (the ID block's flag, already
		// selected on the reader), not a per-channel one; only the value's
		// numeric kind is read from cn_data_type here.
		ch.DataType = v3ToDataType(engine.Uint16(payload[166:168]), false)
	}

	conv, err := w.read(h.Link(3))
	if err != nil {
		return nil, err
	}
	ch.Conversion, _ = conv.(*Conversion)

	if longName := w.resolveText(h.Link(2)); longName != "" {
		ch.Name = longName
	}

	return ch, nil
}

// v3ToDataType maps the v3 signal-data-type enumeration onto the v4-shaped
// DataType this module uses internally (v3 has no separate string/byte-array
// width encoding; UnsignedInteger/SignedInteger/Float cover the common case).
func v3ToDataType(v3Type uint16, bigEndian bool) DataType {
	switch v3Type {
	case 0, 9, 13: // unsigned, BCD variants folded to unsigned
		if bigEndian {
			return DataUnsignedIntegerBE
		}
		return DataUnsignedIntegerLE
	case 1, 10:
		if bigEndian {
			return DataSignedIntegerBE
		}
		return DataSignedIntegerLE
	case 2, 3, 14, 15:
		if bigEndian {
			return DataFloatBE
		}
		return DataFloatLE
	case 7:
		return DataStringASCII
	case 8:
		return DataByteArray
	default:
		return DataUnsignedIntegerLE
	}
}

func trimField(b []byte) string {
	s, _ := iohelp.DecodeFixedString(b, iohelp.EncodingASCII)
	return s
}

// v3 CCBLOCK fixed payload, after 0 links:
//
//	value_range_valid u16, min f64, max f64, unit[20], cc_type u16, cc_size u16,
//	then cc_size * f64 params.
const ccV3FixedSize = 2 + 8 + 8 + 20 + 2 + 2

func parseConversionV3(h Header, payload []byte) *Conversion {
	c := &Conversion{Header: h}
	if len(payload) < ccV3FixedSize {
		return c
	}

	engine := leEngine()
	c.Unit = trimField(payload[18:38])
	c.Type = v3ToConversionType(engine.Uint16(payload[38:40]))
	count := int(engine.Uint16(payload[40:42]))

	off := ccV3FixedSize
	for i := 0; i < count && off+8 <= len(payload); i++ {
		c.Params = append(c.Params, math64(engine, payload[off:off+8]))
		off += 8
	}

	return c
}

// WriteFileHeaderV3 appends a v3 HD block and returns its offset.
func WriteFileHeaderV3(w *iohelp.Writer, hd *FileHeader, dgFirst, txComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{dgFirst, txComment, 0}
	if _, err := WriteHeaderV3(w, "HD", links, hdV3FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, hdV3FixedSize)
	off := 18 // date[10] + time[8] left blank
	copy(payload[off:off+32], iohelp.EncodeFixedString(hd.Author, 32, ' '))
	off += 32
	copy(payload[off:off+32], iohelp.EncodeFixedString(hd.Department, 32, ' '))
	off += 32
	copy(payload[off:off+32], iohelp.EncodeFixedString(hd.Project, 32, ' '))
	off += 32
	copy(payload[off:off+32], iohelp.EncodeFixedString(hd.Subject, 32, ' '))
	off += 32

	engine := leEngine()
	engine.PutUint64(payload[off:off+8], uint64(hd.StartTimeNs))
	off += 8
	engine.PutUint16(payload[off:off+2], uint16(hd.TZOffsetMin))
	off += 2
	if hd.LocalTime {
		engine.PutUint16(payload[off:off+2], 1)
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteDataGroupV3 appends a v3 DG block and returns its offset.
func WriteDataGroupV3(w *iohelp.Writer, dg *DataGroup, next, cgFirst, data int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, cgFirst, 0, data}
	if _, err := WriteHeaderV3(w, "DG", links, dgV3FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, dgV3FixedSize)
	leEngine().PutUint16(payload[2:4], uint16(dg.RecordIDSize))
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteChannelGroupV3 appends a v3 CG block and returns its offset.
func WriteChannelGroupV3(w *iohelp.Writer, cg *ChannelGroup, next, cnFirst, txComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, cnFirst, txComment}
	if _, err := WriteHeaderV3(w, "CG", links, cgV3FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, cgV3FixedSize)
	engine := leEngine()
	engine.PutUint16(payload[0:2], uint16(cg.RecordID))
	engine.PutUint16(payload[4:6], uint16(cg.RecordLength))
	engine.PutUint32(payload[6:10], uint32(cg.CycleCount))
	engine.PutUint16(payload[10:12], cg.Flags)
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteChannelV3 appends a v3 CN block and returns its offset.
func WriteChannelV3(w *iohelp.Writer, ch *Channel, next, ccConversion, txComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, 0, 0, ccConversion, 0, txComment}
	if _, err := WriteHeaderV3(w, "CN", links, cnV3FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, cnV3FixedSize)
	engine := leEngine()
	if ch.IsMaster() {
		engine.PutUint16(payload[0:2], 1)
	}
	copy(payload[2:34], iohelp.EncodeFixedString(ch.Name, 32, ' '))
	copy(payload[34:162], iohelp.EncodeFixedString(ch.Comment, 128, ' '))
	engine.PutUint16(payload[162:164], uint16(ch.ByteOffset)*8+uint16(ch.BitOffset))
	engine.PutUint16(payload[164:166], uint16(ch.BitCount))
	engine.PutUint16(payload[166:168], dataTypeToV3(ch.DataType))
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, nil
}

// dataTypeToV3 maps the v4-shaped DataType back onto the v3 signal-data-type
// enumeration, the inverse of v3ToDataType for the types v3 can express.
func dataTypeToV3(dt DataType) uint16 {
	switch dt {
	case DataSignedIntegerLE, DataSignedIntegerBE:
		return 1
	case DataFloatLE, DataFloatBE:
		return 2
	case DataStringASCII, DataStringUTF8:
		return 7
	case DataByteArray:
		return 8
	default:
		return 0
	}
}

func v3ToConversionType(v3Type uint16) ConversionType {
	switch v3Type {
	case 0xFFFF:
		return ConversionIdentity
	case 0:
		return ConversionLinear
	case 1:
		return ConversionTabularInterp
	case 2:
		return ConversionTabular
	case 6:
		return ConversionPolynomial
	case 7:
		return ConversionExponential
	case 8:
		return ConversionLogarithmic
	case 9:
		return ConversionRational
	case 10:
		return ConversionAlgebraic
	case 11, 12:
		return ConversionValueToText
	case 13:
		return ConversionValueRangeToText
	default:
		return ConversionIdentity
	}
}
