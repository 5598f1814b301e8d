// Package datastream implements the data-block layer: presenting a
// data group's DT/DZ/DL/HL payload as one logical byte stream, regardless
// of how many compressed or listed blocks it is actually split across on
// disk.
//
// Decompression uses klauspost/compress's zlib package: MDF4's DZ block is
// normatively RFC1950 zlib, and klauspost's implementation is
// wire-compatible with the standard library's but faster on the large
// payloads measurement files carry.
package datastream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/internal/pool"
)

// Source reads raw file bytes by absolute offset; *os.File and any
// io.ReaderAt satisfy it.
type Source interface {
	io.ReaderAt
}

// readAt reads exactly n bytes at offset.
func readAt(src Source, offset int64, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(src, offset, n), buf); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %w", errs.ErrIO, n, offset, err)
	}

	return buf, nil
}

// Materialize returns the full logical payload of a data group's data
// block (DT/DZ/DL/HL/Split), decompressing and concatenating as needed.
//
// If the block is a bare DT, the returned slice simply is that DT's
// payload, read once; no spooling buffer is allocated (the "zero-copy"
// path — in Go terms, a single read instead of a staged copy).
func Materialize(src Source, arena *blocks.Arena, data blocks.Block) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	switch b := data.(type) {
	case *blocks.DT:
		return readAt(src, b.PayloadOffset, b.PayloadLen)
	case *blocks.SD:
		return readAt(src, b.PayloadOffset, b.PayloadLen)
	case *blocks.Split:
		return readAt(src, b.PayloadOffset, b.PayloadLen)
	case *blocks.DZ:
		return inflateDZ(src, b)
	case *blocks.DL:
		return materializeDL(src, arena, b)
	case *blocks.HL:
		first := arena.Find(b.FirstDL)
		dl, ok := first.(*blocks.DL)
		if !ok {
			return nil, &errs.FormatError{Offset: b.Hdr().Offset, Tag: "HL", Err: errs.ErrInvalidLink}
		}

		return materializeDL(src, arena, dl)
	default:
		return nil, &errs.FormatError{Offset: data.Hdr().Offset, Tag: data.Kind(), Err: errs.ErrUnknownBlock}
	}
}

// materializeDL walks a DL chain (dl.NextDL) depth-first in logical order,
// inflating DZ leaves and concatenating into a spooling buffer drawn from
// the shared pool.
func materializeDL(src Source, arena *blocks.Arena, dl *blocks.DL) ([]byte, error) {
	sink := pool.GetBatchBuffer()
	defer pool.PutBatchBuffer(sink)

	for cur := dl; cur != nil; {
		for i, link := range cur.DataLinks {
			child := arena.Find(link)
			if child == nil {
				return nil, &errs.FormatError{Offset: cur.Hdr().Offset, Tag: "DL", Err: errs.ErrInvalidLink}
			}

			chunk, err := Materialize(src, arena, child)
			if err != nil {
				return nil, err
			}

			if !cur.EqualLength && i < len(cur.Offsets) {
				want := int(cur.Offsets[i])
				if want < sink.Len() {
					return nil, &errs.FormatError{Offset: cur.Hdr().Offset, Tag: "DL", Err: errs.ErrLengthMismatch}
				}
				if want > sink.Len() {
					sink.MustWrite(make([]byte, want-sink.Len()))
				}
			}

			sink.MustWrite(chunk)
		}

		next := arena.Find(cur.NextDL)
		nextDL, _ := next.(*blocks.DL)
		cur = nextDL
	}

	out := make([]byte, sink.Len())
	copy(out, sink.Bytes())

	return out, nil
}

// inflateDZ decompresses a DZ block, undoing byte-transposition if the
// block declares AlgorithmTransposeDeflate, and verifies the inflated
// length matches the block's declared original size.
func inflateDZ(src Source, dz *blocks.DZ) ([]byte, error) {
	compressed, err := readAt(src, dz.PayloadOffset, int64(dz.CompressedSize))
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &errs.FormatError{Offset: dz.Hdr().Offset, Tag: "DZ", Err: fmt.Errorf("%w: %w", errs.ErrBadCompression, err)}
	}
	defer zr.Close()

	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, &errs.FormatError{Offset: dz.Hdr().Offset, Tag: "DZ", Err: fmt.Errorf("%w: %w", errs.ErrBadCompression, err)}
	}

	if uint64(len(inflated)) != dz.OriginalSize {
		return nil, &errs.FormatError{Offset: dz.Hdr().Offset, Tag: "DZ", Err: errs.ErrLengthMismatch}
	}

	if dz.Algorithm == blocks.AlgorithmTransposeDeflate {
		inflated = untranspose(inflated, int(dz.ColumnCount))
	}

	return inflated, nil
}

// untranspose restores a column-transposed block to its original row-major
// byte order. MDF4 byte-transposition treats the inflated buffer as a
// matrix of `cols` columns (one column per byte-offset within the
// original record) and `rows = len/cols` rows, stored column-major; this
// reverses it to row-major, with any remainder bytes (tail that doesn't
// divide evenly) copied verbatim at the end.
func untranspose(data []byte, cols int) []byte {
	if cols <= 1 || len(data) == 0 {
		return data
	}

	rows := len(data) / cols
	tailStart := rows * cols
	out := make([]byte, len(data))

	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out[r*cols+c] = data[c*rows+r]
		}
	}
	copy(out[tailStart:], data[tailStart:])

	return out
}

// transpose is the write-side inverse of untranspose, used by the writer
// when compressing with AlgorithmTransposeDeflate.
func transpose(data []byte, cols int) []byte {
	if cols <= 1 || len(data) == 0 {
		return data
	}

	rows := len(data) / cols
	tailStart := rows * cols
	out := make([]byte, len(data))

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	copy(out[tailStart:], data[tailStart:])

	return out
}

// Deflate compresses data with zlib, optionally transposing into cols
// columns first (AlgorithmTransposeDeflate).
func Deflate(data []byte, algorithm blocks.CompressionAlgorithm, cols int) ([]byte, error) {
	input := data
	if algorithm == blocks.AlgorithmTransposeDeflate {
		input = transpose(data, cols)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(input); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrBadCompression, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrBadCompression, err)
	}

	return buf.Bytes(), nil
}
