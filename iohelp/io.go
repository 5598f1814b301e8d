// Package iohelp implements the byte-level read/write primitives that
// every block codec in blocks/ builds on: endian-tagged integer and float
// access, fixed-width string encode/decode, positional seek, and the
// 8-byte write alignment MDF version 4 requires.
//
// All reads fail with errs.ErrIO wrapping the underlying error on a short
// read. The block parsers in blocks/ return that error unchanged; they
// raise FormatError, with offset and tag, only for the structural checks
// they make themselves.
package iohelp

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf16"

	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/errs"
)

// Reader wraps an io.ReadSeeker with endian-aware primitive reads.
type Reader struct {
	rs     io.ReadSeeker
	engine endian.EndianEngine
}

// NewReader wraps rs for endian-tagged reads using engine.
func NewReader(rs io.ReadSeeker, engine endian.EndianEngine) *Reader {
	return &Reader{rs: rs, engine: engine}
}

// Engine returns the endian engine this reader decodes numerics with.
func (r *Reader) Engine() endian.EndianEngine { return r.engine }

// SetEngine swaps the endian engine, used once the IdBlock's byte-order
// flag has been parsed (v3 only; v4 is always little-endian).
func (r *Reader) SetEngine(engine endian.EndianEngine) { r.engine = engine }

// Tell returns the current absolute offset.
func (r *Reader) Tell() (int64, error) {
	return r.rs.Seek(0, io.SeekCurrent)
}

// Seek moves the cursor to an absolute file offset.
func (r *Reader) Seek(abs int64) error {
	_, err := r.rs.Seek(abs, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: seek to %d: %w", errs.ErrIO, abs, err)
	}

	return nil
}

// SeekEnd moves the cursor to end-of-file and returns its absolute offset.
func (r *Reader) SeekEnd() (int64, error) {
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek to end: %w", errs.ErrIO, err)
	}

	return end, nil
}

// ReadBytes reads exactly n bytes at the current position.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.rs, buf); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes: %w", errs.ErrIO, n, err)
	}

	return buf, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}

	return r.engine.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}

	return r.engine.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}

	return r.engine.Uint64(b), nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(v), nil
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}

	return math.Float64frombits(v), nil
}

// ReadFixedString reads n raw bytes and decodes them per encoding, trimming
// trailing whitespace/NUL.
func (r *Reader) ReadFixedString(n int, enc StringEncoding) (string, error) {
	raw, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}

	return DecodeFixedString(raw, enc)
}

// Writer wraps an io.WriteSeeker with endian-aware primitive writes.
type Writer struct {
	ws     io.WriteSeeker
	engine endian.EndianEngine
}

// NewWriter wraps ws for endian-tagged writes using engine.
func NewWriter(ws io.WriteSeeker, engine endian.EndianEngine) *Writer {
	return &Writer{ws: ws, engine: engine}
}

func (w *Writer) Engine() endian.EndianEngine { return w.engine }

func (w *Writer) Tell() (int64, error) {
	return w.ws.Seek(0, io.SeekCurrent)
}

func (w *Writer) Seek(abs int64) error {
	_, err := w.ws.Seek(abs, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: seek to %d: %w", errs.ErrIO, abs, err)
	}

	return nil
}

func (w *Writer) SeekEnd() (int64, error) {
	end, err := w.ws.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek to end: %w", errs.ErrIO, err)
	}

	return end, nil
}

func (w *Writer) WriteBytes(b []byte) error {
	if _, err := w.ws.Write(b); err != nil {
		return fmt.Errorf("%w: write %d bytes: %w", errs.ErrIO, len(b), err)
	}

	return nil
}

func (w *Writer) WriteU8(v uint8) error  { return w.WriteBytes([]byte{v}) }
func (w *Writer) WriteU16(v uint16) error {
	b := make([]byte, 2)
	w.engine.PutUint16(b, v)
	return w.WriteBytes(b)
}

func (w *Writer) WriteU32(v uint32) error {
	b := make([]byte, 4)
	w.engine.PutUint32(b, v)
	return w.WriteBytes(b)
}

func (w *Writer) WriteU64(v uint64) error {
	b := make([]byte, 8)
	w.engine.PutUint64(b, v)
	return w.WriteBytes(b)
}

func (w *Writer) WriteI16(v int16) error { return w.WriteU16(uint16(v)) }
func (w *Writer) WriteI32(v int32) error { return w.WriteU32(uint32(v)) }
func (w *Writer) WriteI64(v int64) error { return w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) error { return w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) error { return w.WriteU64(math.Float64bits(v)) }

// WriteFixedString writes s into an n-byte field, padded with pad. s is
// truncated if it does not fit.
func (w *Writer) WriteFixedString(s string, n int, pad byte) error {
	return w.WriteBytes(EncodeFixedString(s, n, pad))
}

// AlignTo8 writes zero bytes, if needed, so the next write starts on an
// 8-byte boundary. MDF version 4 blocks are always 8-byte aligned; version
// 3 blocks are 2-byte aligned and never need this.
func (w *Writer) AlignTo8() error {
	pos, err := w.Tell()
	if err != nil {
		return err
	}

	rem := pos % 8
	if rem == 0 {
		return nil
	}

	return w.WriteBytes(make([]byte, 8-rem))
}

// StringEncoding identifies the text encoding of a fixed-width string field.
type StringEncoding uint8

const (
	EncodingASCII StringEncoding = iota
	EncodingUTF8
	EncodingUTF16LE
	EncodingUTF16BE
)

// DecodeFixedString trims at the first NUL, then decodes per enc into UTF-8.
func DecodeFixedString(raw []byte, enc StringEncoding) (string, error) {
	switch enc {
	case EncodingASCII, EncodingUTF8:
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}

		return strings.TrimRight(string(raw), " \x00"), nil
	case EncodingUTF16LE, EncodingUTF16BE:
		if len(raw)%2 != 0 {
			raw = raw[:len(raw)-1]
		}

		units := make([]uint16, 0, len(raw)/2)
		for i := 0; i+1 < len(raw); i += 2 {
			var u uint16
			if enc == EncodingUTF16LE {
				u = uint16(raw[i]) | uint16(raw[i+1])<<8
			} else {
				u = uint16(raw[i+1]) | uint16(raw[i])<<8
			}
			if u == 0 {
				break
			}
			units = append(units, u)
		}

		return strings.TrimRight(string(utf16.Decode(units)), " "), nil
	default:
		return "", fmt.Errorf("%w: unknown string encoding %d", errs.ErrInvalidBitLayout, enc)
	}
}

// EncodeFixedString encodes s as ASCII/UTF-8, truncating it or padding it
// with pad to exactly n bytes.
func EncodeFixedString(s string, n int, pad byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = pad
	}
	copy(b, s)

	return b
}
