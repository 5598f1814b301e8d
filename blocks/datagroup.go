package blocks

import "github.com/openmdf/mdf/iohelp"

// DataGroup is a DG block: the record-id framing width for its channel
// groups, the ordered channel groups themselves, and a link to the data
// payload (DT/DZ/DL/HL/LD).
type DataGroup struct {
	Header
	nextOffset    int64
	RecordIDSize  uint8 // bytes: 0, 1, 2, 4, or 8 (v3: 0 or 1 only)
	Comment       string
	ChannelGroups []*ChannelGroup
	Data          Block // DT, DZ, DL, HL, or a split (LD/DV/DI/RV/RI) block; nil if empty
}

func (b *DataGroup) Kind() string { return b.Header.Tag }
func (b *DataGroup) Hdr() *Header { return &b.Header }

// NeedsRecordID reports whether records in this group's payload are
// prefixed with a record id (true whenever more than one channel group
// shares the data group).
func (dg *DataGroup) NeedsRecordID() bool {
	return len(dg.ChannelGroups) > 1
}

// FindChannelGroup returns the channel group with the given record id, or
// nil if none matches.
func (dg *DataGroup) FindChannelGroup(recordID uint64) *ChannelGroup {
	for _, cg := range dg.ChannelGroups {
		if cg.RecordID == recordID {
			return cg
		}
	}

	return nil
}

// NewDataGroup creates an empty data group.
func NewDataGroup() *DataGroup {
	return &DataGroup{}
}

// v4 DGBLOCK fixed payload, after the 4 links (dg_next, cg_first, data,
// md_comment): rec_id_size u8, reserved[7].
const dgV4FixedSize = 8

func parseDataGroupV4(h Header, payload []byte) *DataGroup {
	dg := &DataGroup{Header: h}
	if len(payload) >= 1 {
		dg.RecordIDSize = payload[0]
	}

	return dg
}

// WriteDataGroupV4 appends a v4 DG block and returns its offset.
func WriteDataGroupV4(w *iohelp.Writer, dg *DataGroup, next, cgFirst, data, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, cgFirst, data, mdComment}
	if _, err := WriteHeaderV4(w, "DG", links, dgV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, dgV4FixedSize)
	payload[0] = dg.RecordIDSize
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}
