package blocks

import "github.com/openmdf/mdf/iohelp"

// ChannelGroup is a CG block: one record layout within a data group, the
// channels that compose it, and its cycle counter.
type ChannelGroup struct {
	Header
	nextOffset   int64
	RecordID     uint64
	Name         string
	Comment      string
	RecordLength uint32 // data_bytes
	InvalidBytes uint32 // v4 invalidation byte count; 0 for v3
	CycleCount   uint64
	Flags        uint16
	Source       *SourceInfo
	Channels     []*Channel
	Reductions   []*SampleReduction

	// VLSDLinkedMaster is set on a VLSD_CHANNEL group to the channel group
	// whose channel(s) resolve indices into this group's SD-equivalent payload.
	VLSDLinkedMaster *ChannelGroup
}

func (b *ChannelGroup) Kind() string { return b.Header.Tag }
func (b *ChannelGroup) Hdr() *Header { return &b.Header }

// IsVLSD reports whether this channel group itself stores variable-length
// payloads keyed by record index (the VLSD_CHANNEL flag).
func (cg *ChannelGroup) IsVLSD() bool { return cg.Flags&CGFlagVLSDChannel != 0 }

// TotalRecordLength returns data_bytes + invalid_bytes, the full per-sample
// record size excluding any record-id prefix.
func (cg *ChannelGroup) TotalRecordLength() uint32 {
	return cg.RecordLength + cg.InvalidBytes
}

// AddChannel appends ch to the group as given; it does not assign or change
// ch's ByteOffset/BitOffset. The writers' Create*Channel methods compute the
// offset from the group's current record length before calling it, so
// channels they create are laid out in declaration order, byte-packed.
func (cg *ChannelGroup) AddChannel(ch *Channel) *Channel {
	cg.Channels = append(cg.Channels, ch)

	return ch
}

// MasterChannel returns the group's master channel, or nil if masterless.
func (cg *ChannelGroup) MasterChannel() *Channel {
	for _, ch := range cg.Channels {
		if ch.IsMaster() {
			return ch
		}
	}

	return nil
}

// NewChannelGroup creates an empty channel group with the given name.
func NewChannelGroup(name string) *ChannelGroup {
	return &ChannelGroup{Name: name}
}

// v4 CGBLOCK fixed payload, after the 6 links (cg_next, cn_first, tx_acq_name,
// si_acq_source, sr_first, md_comment):
//
//	record_id u64, cycle_count u64, flags u16, path_separator u16,
//	reserved u32, data_bytes u32, invalidation_bytes u32.
const cgV4FixedSize = 32

func parseChannelGroupV4(h Header, payload []byte) *ChannelGroup {
	cg := &ChannelGroup{Header: h}
	if len(payload) < cgV4FixedSize {
		return cg
	}

	engine := leEngine()
	cg.RecordID = engine.Uint64(payload[0:8])
	cg.CycleCount = engine.Uint64(payload[8:16])
	cg.Flags = engine.Uint16(payload[16:18])
	cg.RecordLength = engine.Uint32(payload[24:28])
	cg.InvalidBytes = engine.Uint32(payload[28:32])

	return cg
}

// WriteChannelGroupV4 appends a v4 CG block and returns its offset.
func WriteChannelGroupV4(w *iohelp.Writer, cg *ChannelGroup, next, cnFirst, txAcqName, siAcqSource, srFirst, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{next, cnFirst, txAcqName, siAcqSource, srFirst, mdComment}
	if _, err := WriteHeaderV4(w, "CG", links, cgV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, cgV4FixedSize)
	engine := leEngine()
	engine.PutUint64(payload[0:8], cg.RecordID)
	engine.PutUint64(payload[8:16], cg.CycleCount)
	engine.PutUint16(payload[16:18], cg.Flags)
	engine.PutUint32(payload[24:28], cg.RecordLength)
	engine.PutUint32(payload[28:32], cg.InvalidBytes)
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}
