// Package record implements the bit-exact record codec: extracting a
// channel's raw value from a fixed-width record slot (arbitrary byte/bit
// offset, bit count, endianness, sign) and the reverse insertion used by
// the writer, plus the invalidation-bit and VLSD-index resolution paths.
package record

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf16"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/iohelp"
)

// Value holds one channel's decoded raw value. Exactly one field is
// meaningful, selected by the channel's DataType.
type Value struct {
	Int     int64
	Uint    uint64
	Float   float64
	Str     string
	Bytes   []byte
	Invalid bool
}

// Extract decodes ch's raw value out of rec, a single fixed-length record
// (record-id and invalidation bytes already stripped by the caller).
func Extract(rec []byte, ch *blocks.Channel) (Value, error) {
	switch ch.ChannelType {
	case blocks.ChannelVariableLength:
		idx, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
		if err != nil {
			return Value{}, err
		}

		return Value{Uint: idx}, nil
	case blocks.ChannelMaxLength:
		return extractMaxLength(rec, ch)
	}

	switch {
	case ch.DataType.IsFloat():
		return extractFloat(rec, ch)
	case ch.DataType.IsString():
		return extractString(rec, ch)
	case ch.DataType == blocks.DataByteArray || ch.DataType == blocks.DataMimeSample || ch.DataType == blocks.DataMimeStream:
		return extractBytes(rec, ch)
	case ch.DataType == blocks.DataCanOpenDate:
		return extractCanOpenDate(rec, ch)
	case ch.DataType == blocks.DataCanOpenTime:
		return extractCanOpenTime(rec, ch)
	case ch.DataType.IsSigned():
		raw, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
		if err != nil {
			return Value{}, err
		}

		return Value{Int: signExtend(raw, ch.BitCount)}, nil
	default:
		raw, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
		if err != nil {
			return Value{}, err
		}

		return Value{Uint: raw}, nil
	}
}

// Insert writes v into ch's raw slot within rec, the inverse of Extract.
func Insert(rec []byte, ch *blocks.Channel, v Value) error {
	switch ch.ChannelType {
	case blocks.ChannelVariableLength:
		return insertBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, v.Uint, ch.DataType.IsBigEndian())
	case blocks.ChannelMaxLength:
		if ch.DataType.IsString() {
			return insertString(rec, ch, v.Str)
		}

		return insertBytes(rec, ch, v.Bytes)
	}

	switch {
	case ch.DataType.IsFloat():
		return insertFloat(rec, ch, v.Float)
	case ch.DataType.IsString():
		return insertString(rec, ch, v.Str)
	case ch.DataType == blocks.DataByteArray || ch.DataType == blocks.DataMimeSample || ch.DataType == blocks.DataMimeStream:
		return insertBytes(rec, ch, v.Bytes)
	case ch.DataType == blocks.DataCanOpenDate:
		return insertCanOpenDate(rec, ch, v.Int)
	case ch.DataType == blocks.DataCanOpenTime:
		return insertCanOpenTime(rec, ch, v.Int)
	case ch.DataType.IsSigned():
		return insertBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, uint64(v.Int), ch.DataType.IsBigEndian())
	default:
		return insertBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, v.Uint, ch.DataType.IsBigEndian())
	}
}

// IsInvalid reports whether ch's invalidation bit is set for this record,
// given the invalidation-byte region that follows the fixed data bytes.
func IsInvalid(invalidBytes []byte, ch *blocks.Channel) bool {
	if !ch.HasInvalidBit {
		return false
	}

	byteIdx := ch.InvalidBitPos / 8
	bitIdx := ch.InvalidBitPos % 8
	if int(byteIdx) >= len(invalidBytes) {
		return false
	}

	return invalidBytes[byteIdx]&(1<<bitIdx) != 0
}

// SetInvalid sets or clears ch's invalidation bit within invalidBytes.
func SetInvalid(invalidBytes []byte, ch *blocks.Channel, invalid bool) {
	if !ch.HasInvalidBit {
		return
	}

	byteIdx := ch.InvalidBitPos / 8
	bitIdx := ch.InvalidBitPos % 8
	if int(byteIdx) >= len(invalidBytes) {
		return
	}

	if invalid {
		invalidBytes[byteIdx] |= 1 << bitIdx
	} else {
		invalidBytes[byteIdx] &^= 1 << bitIdx
	}
}

// extractBits pulls bitCount bits starting at (byteOffset, bitOffset), bit 0
// being the least-significant bit of the byte at byteOffset, and returns
// them right-justified in a uint64. bitCount above 64 is rejected: no
// MDF scalar channel needs more, and VLSD/byte-array channels go through
// extractBytes instead.
func extractBits(rec []byte, byteOffset uint32, bitOffset uint8, bitCount uint32, bigEndian bool) (uint64, error) {
	if bitCount == 0 || bitCount > 64 {
		return 0, errs.ErrInvalidBitLayout
	}

	totalBits := int(bitOffset) + int(bitCount)
	nBytes := (totalBits + 7) / 8
	if int(byteOffset)+nBytes > len(rec) {
		return 0, errs.ErrShortRecord
	}

	buf := rec[byteOffset : int(byteOffset)+nBytes]

	var v uint64
	if bigEndian {
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
	} else {
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
	}

	v >>= bitOffset
	if bitCount < 64 {
		v &= (uint64(1) << bitCount) - 1
	}

	return v, nil
}

// insertBits is the inverse of extractBits: it clears then sets the target
// bit range within rec without disturbing neighboring channels packed into
// the same bytes.
func insertBits(rec []byte, byteOffset uint32, bitOffset uint8, bitCount uint32, value uint64, bigEndian bool) error {
	if bitCount == 0 || bitCount > 64 {
		return errs.ErrInvalidBitLayout
	}

	totalBits := int(bitOffset) + int(bitCount)
	nBytes := (totalBits + 7) / 8
	if int(byteOffset)+nBytes > len(rec) {
		return errs.ErrShortRecord
	}

	buf := rec[byteOffset : int(byteOffset)+nBytes]

	var cur uint64
	if bigEndian {
		for _, b := range buf {
			cur = cur<<8 | uint64(b)
		}
	} else {
		for i := len(buf) - 1; i >= 0; i-- {
			cur = cur<<8 | uint64(buf[i])
		}
	}

	var mask uint64
	if bitCount == 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1)<<bitCount - 1)
	}
	cur &^= mask << bitOffset
	cur |= (value & mask) << bitOffset

	if bigEndian {
		for i := len(buf) - 1; i >= 0; i-- {
			buf[i] = byte(cur)
			cur >>= 8
		}
	} else {
		for i := range buf {
			buf[i] = byte(cur)
			cur >>= 8
		}
	}

	return nil
}

// signExtend sign-extends the low bitCount bits of raw into a full int64.
func signExtend(raw uint64, bitCount uint32) int64 {
	if bitCount >= 64 {
		return int64(raw)
	}

	shift := 64 - bitCount
	return int64(raw<<shift) >> shift
}

func extractFloat(rec []byte, ch *blocks.Channel) (Value, error) {
	raw, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
	if err != nil {
		return Value{}, err
	}

	switch ch.BitCount {
	case 32:
		return Value{Float: float64(math.Float32frombits(uint32(raw)))}, nil
	case 64:
		return Value{Float: math.Float64frombits(raw)}, nil
	default:
		return Value{}, errs.ErrInvalidBitLayout
	}
}

func insertFloat(rec []byte, ch *blocks.Channel, f float64) error {
	switch ch.BitCount {
	case 32:
		return insertBits(rec, ch.ByteOffset, ch.BitOffset, 32, uint64(math.Float32bits(float32(f))), ch.DataType.IsBigEndian())
	case 64:
		return insertBits(rec, ch.ByteOffset, ch.BitOffset, 64, math.Float64bits(f), ch.DataType.IsBigEndian())
	default:
		return errs.ErrInvalidBitLayout
	}
}

func stringEncoding(dt blocks.DataType) iohelp.StringEncoding {
	switch dt {
	case blocks.DataStringUTF16LE:
		return iohelp.EncodingUTF16LE
	case blocks.DataStringUTF16BE:
		return iohelp.EncodingUTF16BE
	case blocks.DataStringUTF8:
		return iohelp.EncodingUTF8
	default:
		return iohelp.EncodingASCII
	}
}

func extractString(rec []byte, ch *blocks.Channel) (Value, error) {
	width := ch.ByteWidth()
	if int(ch.ByteOffset)+width > len(rec) {
		return Value{}, errs.ErrShortRecord
	}

	raw := rec[ch.ByteOffset : int(ch.ByteOffset)+width]
	s, err := iohelp.DecodeFixedString(raw, stringEncoding(ch.DataType))
	if err != nil {
		return Value{}, err
	}

	return Value{Str: s}, nil
}

func insertString(rec []byte, ch *blocks.Channel, s string) error {
	width := ch.ByteWidth()
	if int(ch.ByteOffset)+width > len(rec) {
		return errs.ErrShortRecord
	}

	copy(rec[ch.ByteOffset:int(ch.ByteOffset)+width], iohelp.EncodeFixedString(s, width, 0))

	return nil
}

func extractBytes(rec []byte, ch *blocks.Channel) (Value, error) {
	width := ch.ByteWidth()
	if int(ch.ByteOffset)+width > len(rec) {
		return Value{}, errs.ErrShortRecord
	}

	raw := make([]byte, width)
	copy(raw, rec[ch.ByteOffset:int(ch.ByteOffset)+width])

	return Value{Bytes: raw}, nil
}

// extractMaxLength reads a MaxLength channel's fixed-width buffer and
// truncates it to the length given by its companion length-channel; a
// channel with no LengthChannel keeps the full width.
func extractMaxLength(rec []byte, ch *blocks.Channel) (Value, error) {
	width := ch.ByteWidth()
	if int(ch.ByteOffset)+width > len(rec) {
		return Value{}, errs.ErrShortRecord
	}

	n := width
	if ch.LengthChannel != nil {
		lv, err := Extract(rec, ch.LengthChannel)
		if err != nil {
			return Value{}, err
		}
		if int(lv.Uint) < n {
			n = int(lv.Uint)
		}
	}

	raw := make([]byte, n)
	copy(raw, rec[ch.ByteOffset:int(ch.ByteOffset)+n])

	if ch.DataType.IsString() {
		s, err := iohelp.DecodeFixedString(raw, stringEncoding(ch.DataType))
		if err != nil {
			return Value{}, err
		}

		return Value{Str: s}, nil
	}

	return Value{Bytes: raw}, nil
}

func insertBytes(rec []byte, ch *blocks.Channel, b []byte) error {
	width := ch.ByteWidth()
	if int(ch.ByteOffset)+width > len(rec) {
		return errs.ErrShortRecord
	}

	n := copy(rec[ch.ByteOffset:int(ch.ByteOffset)+width], b)
	for i := n; i < width; i++ {
		rec[int(ch.ByteOffset)+i] = 0
	}

	return nil
}

// canOpenEpoch is CANopen's date/time reference point, 1984-01-01 00:00:00 UTC.
var canOpenEpoch = time.Date(1984, time.January, 1, 0, 0, 0, 0, time.UTC)

// extractCanOpenDate decodes the 7-byte CANopen date structure:
// millisecond-of-minute, minute, hour, day+weekday, month, and a
// two-digit year byte. The year byte is masked with 0x7F and pivoted the
// way mdfhelper.cpp's CanOpenDateArrayToNs does: values 0..69 are 2000..2069,
// 70..99 are 1970..1999 (years-since-1900 = year>=70 ? year : 100+year).
func extractCanOpenDate(rec []byte, ch *blocks.Channel) (Value, error) {
	if int(ch.ByteOffset)+7 > len(rec) {
		return Value{}, errs.ErrShortRecord
	}

	b := rec[ch.ByteOffset : ch.ByteOffset+7]
	ms := binary.LittleEndian.Uint16(b[0:2])
	minute := b[2] & 0x3F
	hour := b[3] & 0x1F
	day := b[4] & 0x1F
	month := b[5] & 0x3F
	twoDigitYear := int(b[6] & 0x7F)
	yearSince1900 := twoDigitYear
	if twoDigitYear < 70 {
		yearSince1900 = 100 + twoDigitYear
	}
	year := 1900 + yearSince1900

	t := time.Date(year, time.Month(month), int(day), int(hour), int(minute), 0, 0, time.UTC).
		Add(time.Duration(ms) * time.Millisecond)

	return Value{Int: t.UnixNano()}, nil
}

// insertCanOpenDate is the inverse of extractCanOpenDate: the year byte is
// always the plain two-digit year (year % 100), matching
// NsToCanOpenDateArray's `bt.tm_year % 100` (tm_year is years-since-1900, so
// this is equivalent to the calendar year mod 100).
func insertCanOpenDate(rec []byte, ch *blocks.Channel, unixNanos int64) error {
	if int(ch.ByteOffset)+7 > len(rec) {
		return errs.ErrShortRecord
	}

	t := time.Unix(0, unixNanos).UTC()
	b := rec[ch.ByteOffset : ch.ByteOffset+7]
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.Second()*1000+t.Nanosecond()/int(time.Millisecond)))
	b[2] = byte(t.Minute())
	b[3] = byte(t.Hour())
	b[4] = byte(t.Day())
	b[5] = byte(t.Month())
	b[6] = byte(t.Year() % 100)

	return nil
}

// extractCanOpenTime decodes the 6-byte CANopen time structure: 28-bit
// millisecond-of-day and a 16-bit day count since canOpenEpoch.
func extractCanOpenTime(rec []byte, ch *blocks.Channel) (Value, error) {
	if int(ch.ByteOffset)+6 > len(rec) {
		return Value{}, errs.ErrShortRecord
	}

	b := rec[ch.ByteOffset : ch.ByteOffset+6]
	ms := binary.LittleEndian.Uint32(b[0:4]) & 0x0FFFFFFF
	days := binary.LittleEndian.Uint16(b[4:6])

	t := canOpenEpoch.Add(time.Duration(days)*24*time.Hour + time.Duration(ms)*time.Millisecond)

	return Value{Int: t.UnixNano()}, nil
}

// ResolveVLSDAt decodes the length:u32_le|bytes[length] record located at
// the absolute byte offset into payload, per dt. This is the first VLSD
// addressing mode: a
// VLSD channel's own SD payload, where the fixed record's index is that
// absolute byte offset directly rather than an ordinal.
func ResolveVLSDAt(payload []byte, offset uint64, dt blocks.DataType) (Value, error) {
	if offset+4 > uint64(len(payload)) {
		return Value{}, errs.ErrShortRecord
	}

	length := uint64(binary.LittleEndian.Uint32(payload[offset : offset+4]))
	start := offset + 4
	if start+length > uint64(len(payload)) {
		return Value{}, errs.ErrShortRecord
	}

	raw := payload[start : start+length]
	if dt.IsString() {
		s, err := iohelp.DecodeFixedString(raw, stringEncoding(dt))
		if err != nil {
			return Value{}, err
		}

		return Value{Str: s}, nil
	}

	out := make([]byte, len(raw))
	copy(out, raw)

	return Value{Bytes: out}, nil
}

// ResolveVLSD looks up the record at ordinal index within a materialized
// SD-style payload (a sequence of length:u32_le|bytes[length] records) and
// decodes it per dt. This is the second VLSD addressing mode: a sibling
// channel group
// declared VLSD, whose own data-group payload is such a stream and whose
// index is a record ordinal into it, not a byte offset.
func ResolveVLSD(payload []byte, index uint64, dt blocks.DataType) (Value, error) {
	var pos uint64
	for i := uint64(0); ; i++ {
		if pos+4 > uint64(len(payload)) {
			return Value{}, errs.ErrRecordIDNotFound
		}

		length := uint64(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if pos+length > uint64(len(payload)) {
			return Value{}, errs.ErrShortRecord
		}

		if i == index {
			raw := payload[pos : pos+length]
			if dt.IsString() {
				s, err := iohelp.DecodeFixedString(raw, stringEncoding(dt))
				if err != nil {
					return Value{}, err
				}

				return Value{Str: s}, nil
			}

			out := make([]byte, len(raw))
			copy(out, raw)

			return Value{Bytes: out}, nil
		}

		pos += length
	}
}

func insertCanOpenTime(rec []byte, ch *blocks.Channel, unixNanos int64) error {
	if int(ch.ByteOffset)+6 > len(rec) {
		return errs.ErrShortRecord
	}

	elapsed := time.Unix(0, unixNanos).UTC().Sub(canOpenEpoch)
	days := uint16(elapsed / (24 * time.Hour))
	ms := uint32((elapsed % (24 * time.Hour)) / time.Millisecond)

	b := rec[ch.ByteOffset : ch.ByteOffset+6]
	binary.LittleEndian.PutUint32(b[0:4], ms&0x0FFFFFFF)
	binary.LittleEndian.PutUint16(b[4:6], days)

	return nil
}

// EncodeVLSDText encodes s per dt and frames it as a single SD record
// (length:u32_le|bytes), the write-side inverse of ResolveVLSDAt/ResolveVLSD.
func EncodeVLSDText(s string, dt blocks.DataType) []byte {
	switch dt {
	case blocks.DataStringUTF16LE:
		units := utf16.Encode([]rune(s))
		raw := make([]byte, 2*len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(raw[2*i:2*i+2], u)
		}

		return FrameVLSD(raw)
	case blocks.DataStringUTF16BE:
		units := utf16.Encode([]rune(s))
		raw := make([]byte, 2*len(units))
		for i, u := range units {
			binary.BigEndian.PutUint16(raw[2*i:2*i+2], u)
		}

		return FrameVLSD(raw)
	default:
		return FrameVLSD([]byte(s))
	}
}

// FrameVLSD prepends the u32_le length prefix an SD payload record needs.
func FrameVLSD(raw []byte) []byte {
	out := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(raw)))
	copy(out[4:], raw)

	return out
}
