package blocks

import (
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/iohelp"
)

// ParseFileV4 reads the IdBlock and the full v4 block graph reachable from
// it, registering every block in the returned Arena. This is the read_header
// plus read_measurement_info plus read_everything_but_data phases
// folded into one pass: data blocks (DT/DZ/DL/HL/Split) are registered but
// their payload is left on disk for package datastream to materialize on
// demand.
func ParseFileV4(r *iohelp.Reader) (*Arena, *ID, *FileHeader, error) {
	if err := r.Seek(0); err != nil {
		return nil, nil, nil, err
	}

	id, err := ReadID(r)
	if err != nil {
		return nil, nil, nil, err
	}

	arena := NewArena()
	w := &treeWalker{r: r, arena: arena}

	hdBlock, err := w.read(IDSize)
	if err != nil {
		return nil, nil, nil, err
	}
	hd, _ := hdBlock.(*FileHeader)

	return arena, id, hd, nil
}

// treeWalker carries the reader and arena through the recursive descent so
// each read call only needs its own offset.
type treeWalker struct {
	r     *iohelp.Reader
	arena *Arena
}

// read returns the block at offset, parsing it (and recursively, its
// children) on first visit and returning the cached block thereafter.
func (w *treeWalker) read(offset int64) (Block, error) {
	if offset == 0 {
		return nil, nil
	}
	if b := w.arena.Find(offset); b != nil {
		return b, nil
	}

	if err := w.r.Seek(offset); err != nil {
		return nil, err
	}
	h, err := ReadHeaderV4(w.r)
	if err != nil {
		return nil, err
	}

	payloadLen := h.TotalLength - v4HeaderFixedSize - 8*int64(len(h.Links))
	payload, err := w.r.ReadBytes(int(payloadLen))
	if err != nil {
		return nil, err
	}

	var block Block
	switch h.Tag {
	case "TX", "MD":
		block = parseText(h, payload)
	case "HD":
		block, err = w.readFileHeader(h, payload)
	case "FH":
		block, err = w.readFileHistory(h, payload)
	case "DG":
		block, err = w.readDataGroup(h, payload)
	case "CG":
		block, err = w.readChannelGroup(h, payload)
	case "CN":
		block, err = w.readChannel(h, payload)
	case "CC":
		block, err = w.readConversion(h, payload)
	case "CA":
		block, err = w.readChannelArray(h, payload)
	case "SI":
		si := parseSourceInfoV4(h, payload, func(link int64) string { return w.resolveText(link) })
		block = si
	case "AT":
		at := parseAttachmentV4(h, payload, w.resolveText(h.Link(1)), w.resolveText(h.Link(2)), w.resolveText(h.Link(3)))
		at.nextOffset = h.Link(0)
		block = at
	case "EV":
		ev := parseEventV4(h, payload, w.resolveText(h.Link(3)), w.resolveText(h.Link(4)))
		ev.nextOffset = h.Link(0)
		block = ev
	case "CH":
		chBlock := parseHierarchyV4(h, payload, w.resolveText(h.Link(2)), w.resolveText(h.Link(3)))
		chBlock.nextOffset = h.Link(0)
		block = chBlock
	case "SR":
		sr := parseSampleReductionV4(h, payload)
		sr.nextOffset = h.Link(0)
		data, derr := w.read(h.Link(1))
		sr.Data, err = data, derr
		block = sr
	case "DT":
		block = &DT{Header: h, PayloadOffset: payloadStart(offset, h), PayloadLen: payloadLen}
	case "SD":
		block = &SD{Header: h, PayloadOffset: payloadStart(offset, h), PayloadLen: payloadLen}
	case "DZ":
		block = parseDZV4(h, payload, payloadStart(offset, h))
	case "DL":
		block = parseDLV4(h, payload)
	case "HL":
		block = parseHLV4(h, payload)
	case "LD", "DV", "DI", "RV", "RI":
		block = parseSplitV4(h, payloadStart(offset, h), payloadLen)
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
	case *Channel:
		if err := w.fillChannel(b, h); err != nil {
			return nil, err
		}
	case *ChannelArray:
		if err := w.fillChannelArray(b, h); err != nil {
			return nil, err
		}
	case *Hierarchy:
		if err := w.fillHierarchy(b, h); err != nil {
			return nil, err
		}
	case *HL:
		if _, err := w.read(b.FirstDL); err != nil {
			return nil, err
		}
	case *DL:
		// Pull the chain's children into the arena so the data-block layer
		// can resolve them without re-reading headers.
		for _, link := range b.DataLinks {
			if _, err := w.read(link); err != nil {
				return nil, err
			}
		}
		if _, err := w.read(b.NextDL); err != nil {
			return nil, err
		}
	}

	return block, nil
}

func (w *treeWalker) resolveText(offset int64) string {
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

// payloadStart returns the absolute offset of the first payload byte for a
// block whose header starts at offset.
func payloadStart(offset int64, h Header) int64 {
	return offset + v4HeaderFixedSize + 8*int64(len(h.Links))
}

func (w *treeWalker) readFileHeader(h Header, payload []byte) (*FileHeader, error) {
	return parseFileHeaderV4(h, payload), nil
}

func (w *treeWalker) fillFileHeader(hd *FileHeader, h Header) error {
	applyHDComment(hd, ParseMetadata(w.resolveText(h.Link(5))))

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

	for off := h.Link(1); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		fh, ok := b.(*FileHistory)
		if !ok {
			break
		}
		hd.FileHistories = append(hd.FileHistories, fh)
		off = fh.nextOffset
	}

	for off := h.Link(3); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		at, ok := b.(*Attachment)
		if !ok {
			break
		}
		hd.Attachments = append(hd.Attachments, at)
		off = at.nextOffset
	}

	for off := h.Link(4); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		ev, ok := b.(*Event)
		if !ok {
			break
		}
		hd.Events = append(hd.Events, ev)
		off = ev.nextOffset
	}

	for off := h.Link(2); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		chBlock, ok := b.(*Hierarchy)
		if !ok {
			break
		}
		hd.Hierarchies = append(hd.Hierarchies, chBlock)
		off = chBlock.nextOffset
	}

	return nil
}

func (w *treeWalker) readFileHistory(h Header, payload []byte) (*FileHistory, error) {
	fh := parseFileHistoryV4(h, payload)
	fh.nextOffset = h.Link(0)
	fh.Comment = w.resolveText(h.Link(1))

	return fh, nil
}

func (w *treeWalker) readDataGroup(h Header, payload []byte) (*DataGroup, error) {
	dg := parseDataGroupV4(h, payload)
	dg.nextOffset = h.Link(0)
	dg.Comment = w.resolveText(h.Link(3))
	data, err := w.read(h.Link(2))
	if err != nil {
		return nil, err
	}
	dg.Data = data

	return dg, nil
}

func (w *treeWalker) fillDataGroup(dg *DataGroup, h Header) error {
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

	return nil
}

func (w *treeWalker) readChannelGroup(h Header, payload []byte) (*ChannelGroup, error) {
	cg := parseChannelGroupV4(h, payload)
	cg.nextOffset = h.Link(0)
	cg.Name = w.resolveText(h.Link(2))
	cg.Comment = w.resolveText(h.Link(5))

	src, err := w.read(h.Link(3))
	if err != nil {
		return nil, err
	}
	cg.Source, _ = src.(*SourceInfo)

	return cg, nil
}

func (w *treeWalker) fillChannelGroup(cg *ChannelGroup, h Header) error {
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

	for off := h.Link(4); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		sr, ok := b.(*SampleReduction)
		if !ok {
			break
		}
		cg.Reductions = append(cg.Reductions, sr)
		off = sr.nextOffset
	}

	return nil
}

func (w *treeWalker) readChannel(h Header, payload []byte) (*Channel, error) {
	ch := parseChannelV4(h, payload)
	ch.nextOffset = h.Link(0)
	ch.Name = w.resolveText(h.Link(2))
	ch.Unit = w.resolveText(h.Link(6))
	ch.Comment = w.resolveText(h.Link(7))

	src, err := w.read(h.Link(3))
	if err != nil {
		return nil, err
	}
	ch.Source, _ = src.(*SourceInfo)

	conv, err := w.read(h.Link(4))
	if err != nil {
		return nil, err
	}
	ch.Conversion, _ = conv.(*Conversion)

	if ch.ChannelType == ChannelVariableLength || ch.ChannelType == ChannelMaxLength {
		data, err := w.read(h.Link(5))
		if err != nil {
			return nil, err
		}
		ch.VLSDData = data
	}

	return ch, nil
}

// fillChannel resolves the composition link (link 1), which is either a CA
// array descriptor or the head of a nested CN list, never both.
func (w *treeWalker) fillChannel(ch *Channel, h Header) error {
	off := h.Link(1)
	if off == 0 {
		return nil
	}

	b, err := w.read(off)
	if err != nil {
		return err
	}

	switch first := b.(type) {
	case *ChannelArray:
		ch.Array = first
		return nil

	case *Channel:
		for {
			ch.Composition = append(ch.Composition, first)
			if first.nextOffset == 0 {
				return nil
			}
			next, err := w.read(first.nextOffset)
			if err != nil {
				return err
			}
			nextCh, ok := next.(*Channel)
			if !ok {
				return &errs.FormatError{Offset: first.nextOffset, Tag: next.Kind(), Err: errs.ErrInvalidLink}
			}
			first = nextCh
		}

	default:
		return &errs.FormatError{Offset: off, Tag: b.Kind(), Err: errs.ErrInvalidLink}
	}
}

func (w *treeWalker) readChannelArray(h Header, payload []byte) (*ChannelArray, error) {
	return parseChannelArrayV4(h, payload), nil
}

// fillChannelArray resolves a CA block's own composition link (link 0),
// which nests either a further CA (another array dimension) or a CN list
// (a structure nested inside an array element).
func (w *treeWalker) fillChannelArray(ca *ChannelArray, h Header) error {
	off := h.Link(0)
	if off == 0 {
		return nil
	}

	b, err := w.read(off)
	if err != nil {
		return err
	}
	ca.Composition = b

	return nil
}

func (w *treeWalker) fillHierarchy(chBlock *Hierarchy, h Header) error {
	for off := h.Link(1); off != 0; {
		b, err := w.read(off)
		if err != nil {
			return err
		}
		child, ok := b.(*Hierarchy)
		if !ok {
			break
		}
		chBlock.Children = append(chBlock.Children, child)
		off = child.nextOffset
	}

	return nil
}

func (w *treeWalker) readConversion(h Header, payload []byte) (*Conversion, error) {
	c := parseConversionV4(h, payload, w.resolveText(h.Link(0)), w.resolveText(h.Link(1)), w.resolveText(h.Link(2)))

	refLinks := h.Links
	if len(refLinks) > 4 {
		refLinks = refLinks[4:]
	} else {
		refLinks = nil
	}

	switch c.Type {
	case ConversionValueToText, ConversionTextToValue:
		for _, v := range c.Params {
			c.IntKeys = append(c.IntKeys, int64(v))
		}
		c.Params = nil
	case ConversionValueRangeToText:
		for i := 0; i+1 < len(c.Params); i += 2 {
			c.RangesLo = append(c.RangesLo, c.Params[i])
			c.RangesHi = append(c.RangesHi, c.Params[i+1])
		}
		c.Params = nil
	case ConversionTabular, ConversionTabularInterp:
		for i := 0; i+1 < len(c.Params); i += 2 {
			c.Keys = append(c.Keys, c.Params[i])
			c.Values = append(c.Values, c.Params[i+1])
		}
		c.Params = nil
	case ConversionAlgebraic:
		if len(refLinks) > 0 {
			ref, err := w.readConversionRef(refLinks[0])
			if err != nil {
				return nil, err
			}
			c.Formula = ref.Text
		}
		refLinks = nil
	}

	switch c.Type {
	case ConversionValueToText, ConversionValueRangeToText, ConversionTextToValue, ConversionTextToText:
		for i, link := range refLinks {
			ref, err := w.readConversionRef(link)
			if err != nil {
				return nil, err
			}
			if i == len(refLinks)-1 && len(refLinks) > len(c.IntKeys) && len(refLinks) > len(c.RangesLo) {
				c.Default = &ref
			} else {
				c.Refs = append(c.Refs, ref)
			}
		}
	}

	return c, nil
}

func (w *treeWalker) readConversionRef(link int64) (ConversionRef, error) {
	if link == 0 {
		return ConversionRef{}, nil
	}

	b, err := w.read(link)
	if err != nil {
		return ConversionRef{}, err
	}

	switch v := b.(type) {
	case *Text:
		return ConversionRef{Text: v.Value}, nil
	case *Conversion:
		return ConversionRef{Nested: v}, nil
	default:
		return ConversionRef{}, nil
	}
}
