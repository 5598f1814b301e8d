package blocks

import (
	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/iohelp"
)

// DT is a plain data block: raw concatenated records. Its payload is read
// in place (zero-copy) by the data-block layer whenever a data group's
// root link targets a single DT directly.
type DT struct {
	Header
	PayloadOffset int64 // absolute file offset of the first payload byte
	PayloadLen    int64 // block_length - header_size
}

func (b *DT) Kind() string { return b.Header.Tag }
func (b *DT) Hdr() *Header { return &b.Header }

// SD is a VLSD signal-data block: a sequence of length:u32_le|bytes[length]
// records. Physically identical to DT; kept as a distinct type because its
// payload is never treated as raw records by the record codec.
type SD struct {
	Header
	PayloadOffset int64
	PayloadLen    int64
}

func (b *SD) Kind() string { return b.Header.Tag }
func (b *SD) Hdr() *Header { return &b.Header }

// CompressionAlgorithm selects the DZ block's transform.
type CompressionAlgorithm uint8

const (
	AlgorithmDeflate          CompressionAlgorithm = 0
	AlgorithmTransposeDeflate CompressionAlgorithm = 1
)

// DZ is a compressed wrapper over an original block type (DT, SD, RD, DV,
// or DI). Decompression is implemented in package datastream.
type DZ struct {
	Header
	OriginalType    string // "DT", "SD", "RD", "DV", "DI"
	Algorithm       CompressionAlgorithm
	ColumnCount     uint32 // transpose column width, for TransposeThenDeflate
	OriginalSize    uint64
	CompressedSize  uint64
	PayloadOffset   int64
}

func (b *DZ) Kind() string { return b.Header.Tag }
func (b *DZ) Hdr() *Header { return &b.Header }

// DL is an ordered list of data/compressed blocks, either all of equal
// length or each carrying an explicit offset into the logical stream.
type DL struct {
	Header
	EqualLength bool
	DataLinks   []int64  // child DT/DZ block offsets, in logical order
	Offsets     []uint64 // present iff !EqualLength, parallel to DataLinks
	EqualLen    uint64   // valid iff EqualLength
	NextDL      int64    // 0 if this is the last DL in the chain
}

func (b *DL) Kind() string { return b.Header.Tag }
func (b *DL) Hdr() *Header { return &b.Header }

// HL wraps one or more DLs and declares the compression algorithm used by
// its DZ leaves.
type HL struct {
	Header
	Algorithm CompressionAlgorithm
	ZeroFill  bool
	FirstDL   int64
}

func (b *HL) Kind() string { return b.Header.Tag }
func (b *HL) Hdr() *Header { return &b.Header }

// Split represents LD, DV, DI, RV, or RI blocks (v4.2+ list/value/
// invalidation split representations). They are logically equivalent to
// DT for the purposes of this module: read-through only, no separate
// invalidation-channel decode path.
type Split struct {
	Header
	PayloadOffset int64
	PayloadLen    int64
}

func (b *Split) Kind() string { return b.Header.Tag }
func (b *Split) Hdr() *Header { return &b.Header }

// v4 DZBLOCK fixed payload (after 0 links): orig_block_type[2], zip_type u8,
// reserved u8, zip_parameter u32, orig_data_length u64, data_length u64.
const dzV4FixedSize = 24

func parseDZV4(h Header, payload []byte, payloadStart int64) *DZ {
	engine := endian.GetLittleEndianEngine()
	dz := &DZ{Header: h, PayloadOffset: payloadStart + dzV4FixedSize}
	if len(payload) < dzV4FixedSize {
		return dz
	}

	dz.OriginalType = string(payload[0:2])
	dz.Algorithm = CompressionAlgorithm(payload[2])
	dz.ColumnCount = engine.Uint32(payload[4:8])
	dz.OriginalSize = engine.Uint64(payload[8:16])
	dz.CompressedSize = engine.Uint64(payload[16:24])

	return dz
}

// WriteDZV4 writes a v4 DZ block wrapping already-deflated payload, which
// the caller produced via package datastream's compressor.
func WriteDZV4(w *iohelp.Writer, originalType string, algorithm CompressionAlgorithm, columnCount uint32, originalSize uint64, compressed []byte) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	payloadSize := dzV4FixedSize + len(compressed)
	if _, err := WriteHeaderV4(w, "DZ", nil, payloadSize); err != nil {
		return 0, err
	}

	buf := make([]byte, dzV4FixedSize)
	copy(buf[0:2], originalType)
	buf[2] = byte(algorithm)
	engine := endian.GetLittleEndianEngine()
	engine.PutUint32(buf[4:8], columnCount)
	engine.PutUint64(buf[8:16], originalSize)
	engine.PutUint64(buf[16:24], uint64(len(compressed)))
	if err := w.WriteBytes(buf); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(compressed); err != nil {
		return 0, err
	}
	if err := w.AlignTo8(); err != nil {
		return 0, err
	}

	return offset, nil
}

// v4 DLBLOCK fixed payload, after the 1+dl_count links (dl_next, data...):
//
//	dl_flags u8, reserved[3], dl_count u32, then either equal_length u64
//	(if dl_flags bit 0 set) or dl_count offsets u64 (otherwise).
const dlFlagEqualLength = 0x1

func parseDLV4(h Header, payload []byte) *DL {
	dl := &DL{Header: h, NextDL: h.Link(0)}
	if len(h.Links) > 1 {
		dl.DataLinks = append([]int64(nil), h.Links[1:]...)
	}
	if len(payload) < 8 {
		return dl
	}

	engine := leEngine()
	flags := payload[0]
	dl.EqualLength = flags&dlFlagEqualLength != 0
	count := int(engine.Uint32(payload[4:8]))

	off := 8
	if dl.EqualLength {
		if off+8 <= len(payload) {
			dl.EqualLen = engine.Uint64(payload[off : off+8])
		}
	} else {
		dl.Offsets = make([]uint64, 0, count)
		for i := 0; i < count && off+8 <= len(payload); i++ {
			dl.Offsets = append(dl.Offsets, engine.Uint64(payload[off:off+8]))
			off += 8
		}
	}

	return dl
}

// WriteDLV4 appends a v4 DL block listing dataBlocks (DT/DZ offsets already
// written by the caller) and returns its offset.
func WriteDLV4(w *iohelp.Writer, next int64, dataBlocks []int64, equalLen uint64, offsets []uint64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	equalLength := offsets == nil
	payloadSize := 8
	if equalLength {
		payloadSize += 8
	} else {
		payloadSize += 8 * len(offsets)
	}

	links := append([]int64{next}, dataBlocks...)
	if _, err := WriteHeaderV4(w, "DL", links, payloadSize); err != nil {
		return 0, err
	}

	payload := make([]byte, payloadSize)
	if equalLength {
		payload[0] = dlFlagEqualLength
	}
	engine := leEngine()
	engine.PutUint32(payload[4:8], uint32(len(dataBlocks)))
	if equalLength {
		engine.PutUint64(payload[8:16], equalLen)
	} else {
		off := 8
		for _, o := range offsets {
			engine.PutUint64(payload[off:off+8], o)
			off += 8
		}
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// v4 HLBLOCK fixed payload, after the 1 link (first_dl):
//
//	hl_flags u16, hl_zip_type u8, reserved[5].
const hlV4FixedSize = 8

func parseHLV4(h Header, payload []byte) *HL {
	hl := &HL{Header: h, FirstDL: h.Link(0)}
	if len(payload) < hlV4FixedSize {
		return hl
	}

	flags := leEngine().Uint16(payload[0:2])
	hl.ZeroFill = flags&0x1 != 0
	hl.Algorithm = CompressionAlgorithm(payload[2])

	return hl
}

// WriteHLV4 appends a v4 HL block wrapping firstDL and returns its offset.
func WriteHLV4(w *iohelp.Writer, firstDL int64, algorithm CompressionAlgorithm, zeroFill bool) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	if _, err := WriteHeaderV4(w, "HL", []int64{firstDL}, hlV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, hlV4FixedSize)
	if zeroFill {
		payload[0] = 0x1
	}
	payload[2] = byte(algorithm)
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// parseSplitV4 handles LD/DV/DI/RV/RI as read-through payload blocks: this
// module does not separately decode the list/value/invalidation split
// representation, so the whole remaining payload is treated as one region.
func parseSplitV4(h Header, payloadStart int64, payloadLen int64) *Split {
	return &Split{Header: h, PayloadOffset: payloadStart, PayloadLen: payloadLen}
}

// WriteDTV4 appends a v4 DT block containing data and returns its offset.
func WriteDTV4(w *iohelp.Writer, data []byte) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	if _, err := WriteHeaderV4(w, "DT", nil, len(data)); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(data); err != nil {
		return 0, err
	}
	if err := w.AlignTo8(); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteSDV4 appends a v4 SD block containing an already-framed
// (length:u32_le|bytes) VLSD payload and returns its offset.
func WriteSDV4(w *iohelp.Writer, data []byte) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	if _, err := WriteHeaderV4(w, "SD", nil, len(data)); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(data); err != nil {
		return 0, err
	}
	if err := w.AlignTo8(); err != nil {
		return 0, err
	}

	return offset, nil
}
