// Package blocks implements the MDF block header codec and the tagged
// block registry: a sum type over the concrete v3/v4 block kinds,
// dispatched by 2- or 4-character tag, with a recursive Find(offset) that
// walks the block graph without copying.
//
// Every block type embeds Header, the fields common to all v3 and v4
// blocks once normalized into a single in-memory shape (tag, total length
// including header, and the link table of absolute file offsets).
package blocks

import (
	"fmt"
	"strings"

	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/iohelp"
)

// Header is the common prefix shared by every v3 and v4 block, normalized
// into one shape regardless of which on-disk header grammar produced it.
type Header struct {
	// Tag is the block type, e.g. "HD", "DG". v3 tags are 2 ASCII
	// characters; v4 tags are reported with their "##" prefix stripped.
	Tag string
	// Offset is this block's own absolute file offset (0 until first written).
	Offset int64
	// TotalLength is the total byte length of the block, header included.
	TotalLength int64
	// Links holds the block's link table: absolute file offsets of blocks
	// it references, in on-disk order. A link value of 0 means "no link".
	Links []int64
}

// Link returns the i'th link offset, or 0 if i is out of range.
func (h *Header) Link(i int) int64 {
	if i < 0 || i >= len(h.Links) {
		return 0
	}

	return h.Links[i]
}

const (
	v3HeaderFixedSize = 4  // type(2) + size(u16)
	v4HeaderFixedSize = 24 // "##"+type(2) + reserved(4) + length(u64) + linkCount(u64)
)

// ReadHeaderV3 reads a v3 block header at the reader's current position and
// positions the cursor at the first payload byte.
func ReadHeaderV3(r *iohelp.Reader) (Header, error) {
	start, err := r.Tell()
	if err != nil {
		return Header{}, err
	}

	tagBytes, err := r.ReadBytes(2)
	if err != nil {
		return Header{}, err
	}

	size, err := r.ReadU16()
	if err != nil {
		return Header{}, err
	}

	if int(size) < v3HeaderFixedSize {
		return Header{}, &errs.FormatError{Offset: start, Tag: string(tagBytes), Err: errs.ErrTruncatedBlock}
	}

	linkBytes := int(size) - v3HeaderFixedSize
	if linkBytes%4 != 0 {
		return Header{}, &errs.FormatError{Offset: start, Tag: string(tagBytes), Err: errs.ErrLengthMismatch}
	}

	linkCount := linkBytes / 4
	links := make([]int64, linkCount)
	for i := range links {
		v, err := r.ReadU32()
		if err != nil {
			return Header{}, err
		}
		links[i] = int64(v)
	}

	return Header{
		Tag:         string(tagBytes),
		Offset:      start,
		TotalLength: int64(size),
		Links:       links,
	}, nil
}

// ReadHeaderV4 reads a v4 block header at the reader's current position and
// positions the cursor at the first payload byte.
func ReadHeaderV4(r *iohelp.Reader) (Header, error) {
	start, err := r.Tell()
	if err != nil {
		return Header{}, err
	}

	idBytes, err := r.ReadBytes(4)
	if err != nil {
		return Header{}, err
	}

	if idBytes[0] != '#' || idBytes[1] != '#' {
		return Header{}, &errs.FormatError{Offset: start, Tag: string(idBytes), Err: errs.ErrBadMagic}
	}
	tag := string(idBytes[2:4])

	if _, err := r.ReadBytes(4); err != nil { // reserved
		return Header{}, err
	}

	length, err := r.ReadU64()
	if err != nil {
		return Header{}, err
	}

	linkCount, err := r.ReadU64()
	if err != nil {
		return Header{}, err
	}

	if length < v4HeaderFixedSize+8*linkCount {
		return Header{}, &errs.FormatError{Offset: start, Tag: tag, Err: errs.ErrLengthMismatch}
	}

	links := make([]int64, linkCount)
	for i := range links {
		v, err := r.ReadU64()
		if err != nil {
			return Header{}, err
		}
		links[i] = int64(v)
	}

	return Header{
		Tag:         tag,
		Offset:      start,
		TotalLength: int64(length),
		Links:       links,
	}, nil
}

// WriteHeaderV3 writes a v3 header for tag with the given links and payload
// size, returning the block's total length.
func WriteHeaderV3(w *iohelp.Writer, tag string, links []int64, payloadSize int) (int64, error) {
	if len(tag) != 2 {
		return 0, fmt.Errorf("%w: v3 tag must be 2 characters, got %q", errs.ErrInvalidBitLayout, tag)
	}

	total := int64(v3HeaderFixedSize + 4*len(links) + payloadSize)
	if err := w.WriteBytes([]byte(tag)); err != nil {
		return 0, err
	}
	if err := w.WriteU16(uint16(total)); err != nil {
		return 0, err
	}
	for _, l := range links {
		if err := w.WriteU32(uint32(l)); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// WriteHeaderV4 writes a v4 header for tag with the given links and payload
// size, returning the block's total length (before 8-byte alignment padding).
func WriteHeaderV4(w *iohelp.Writer, tag string, links []int64, payloadSize int) (int64, error) {
	if len(tag) != 2 {
		return 0, fmt.Errorf("%w: v4 tag must be 2 characters, got %q", errs.ErrInvalidBitLayout, tag)
	}

	total := int64(v4HeaderFixedSize + 8*len(links) + payloadSize)
	if err := w.WriteBytes([]byte("##" + strings.ToUpper(tag))); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(make([]byte, 4)); err != nil { // reserved
		return 0, err
	}
	if err := w.WriteU64(uint64(total)); err != nil {
		return 0, err
	}
	if err := w.WriteU64(uint64(len(links))); err != nil {
		return 0, err
	}
	for _, l := range links {
		if err := w.WriteU64(uint64(l)); err != nil {
			return 0, err
		}
	}

	return total, nil
}
