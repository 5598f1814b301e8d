package blocks

import "github.com/openmdf/mdf/iohelp"

// Arena holds every block parsed for one file, keyed by absolute file
// offset. Parent/child relationships are expressed as offsets (the link
// table already on each Header) rather than pointers, so a cyclic or
// self-referential link graph can never produce a pointer cycle: Find
// always resolves through the arena's map.
//
// This is the "arena-allocated block nodes with stable indices" design
// here: node identity is the file offset, not a Go pointer, which keeps
// parent/sibling traversal working even though blocks are parsed out of
// link order during a depth-first tree walk.
type Arena struct {
	byOffset map[int64]Block
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{byOffset: make(map[int64]Block)}
}

// Add registers a parsed block at its own offset.
func (a *Arena) Add(b Block) {
	if b == nil {
		return
	}
	a.byOffset[b.Hdr().Offset] = b
}

// Find performs the recursive block lookup: given an absolute file
// offset, return the previously parsed block at that offset, or nil if
// offset is 0 (no link) or was never parsed (a dangling/invalid link).
func (a *Arena) Find(offset int64) Block {
	if offset == 0 {
		return nil
	}

	return a.byOffset[offset]
}

// Len returns the number of blocks registered in the arena.
func (a *Arena) Len() int { return len(a.byOffset) }

// PeekTag reads a block's tag at offset without consuming its payload,
// then rewinds the reader. Used by ParseAt-style dispatchers to decide
// which concrete parser to invoke before committing to a full read.
func PeekTag(r *iohelp.Reader, offset int64, isV4 bool) (string, error) {
	if err := r.Seek(offset); err != nil {
		return "", err
	}

	var tag string
	if isV4 {
		h, err := ReadHeaderV4(r)
		if err != nil {
			return "", err
		}
		tag = h.Tag
	} else {
		h, err := ReadHeaderV3(r)
		if err != nil {
			return "", err
		}
		tag = h.Tag
	}

	return tag, r.Seek(offset)
}

// ReadOpaque reads a block whose tag this module does not structurally
// parse, keeping its raw payload so the file remains navigable.
func ReadOpaque(r *iohelp.Reader, isV4 bool) (*Opaque, error) {
	var h Header
	var err error
	if isV4 {
		h, err = ReadHeaderV4(r)
	} else {
		h, err = ReadHeaderV3(r)
	}
	if err != nil {
		return nil, err
	}

	payloadLen := h.TotalLength - fixedHeaderSize(isV4) - int64(len(h.Links))*linkWidth(isV4)
	payload, err := r.ReadBytes(int(payloadLen))
	if err != nil {
		return nil, err
	}

	return &Opaque{Header: h, Payload: payload}, nil
}

func linkWidth(isV4 bool) int64 {
	if isV4 {
		return 8
	}

	return 4
}

func fixedHeaderSize(isV4 bool) int64 {
	if isV4 {
		return v4HeaderFixedSize
	}

	return v3HeaderFixedSize
}
