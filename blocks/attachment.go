package blocks

import "github.com/openmdf/mdf/iohelp"

// Attachment is an AT block (v4 only): a file embedded in or referenced
// from the MDF file, with an MD5 of the original payload.
type Attachment struct {
	Header
	nextOffset int64
	FileName string
	MimeType string
	Comment  string

	Embedded   bool
	Compressed bool
	MD5Valid   bool

	MD5 [16]byte

	// EmbeddedData holds the payload when Embedded is true. If Compressed
	// is also true, this is the zlib-deflated form and must be inflated by
	// the caller before comparing against MD5 (of the *original* payload).
	EmbeddedData []byte
	OriginalSize uint64
}

func (b *Attachment) Kind() string { return b.Header.Tag }
func (b *Attachment) Hdr() *Header { return &b.Header }

// Event is an EV block (v4 only): a marker in the measurement timeline.
type Event struct {
	Header
	nextOffset int64
	Name      string
	Comment   string
	EventType uint8
	SyncType  SyncType
	RangeType uint8
	Cause     uint8
	CreatorIndex uint16
	SyncValue int64
	ParentEvent *Event
	ScopeDataGroup *DataGroup
}

func (b *Event) Kind() string { return b.Header.Tag }
func (b *Event) Hdr() *Header { return &b.Header }

// Hierarchy is a CH block (v4 only): a node in the channel-hierarchy tree
// used to group related channels for display purposes.
type Hierarchy struct {
	Header
	nextOffset int64
	Name     string
	Comment  string
	HType    uint8
	Children []*Hierarchy
	Channels []*Channel
}

func (b *Hierarchy) Kind() string { return b.Header.Tag }
func (b *Hierarchy) Hdr() *Header { return &b.Header }

// SampleReduction is an SR block: precomputed mean/min/max samples at a
// fixed interval. Parsed and exposed read-through; no reduction
// computation is performed by this module.
type SampleReduction struct {
	Header
	nextOffset int64
	IntervalS float64
	Count     uint64
	Data      Block
}

func (b *SampleReduction) Kind() string { return b.Header.Tag }
func (b *SampleReduction) Hdr() *Header { return &b.Header }

// v4 ATBLOCK fixed payload, after the 4 links (at_next, tx_filename,
// tx_mimetype, md_comment):
//
//	flags u16, creator_index u16, reserved[4], md5_checksum[16],
//	original_size u64, embedded_size u64.
const atV4FixedSize = 40

func parseAttachmentV4(h Header, payload []byte, fileName, mimeType, comment string) *Attachment {
	at := &Attachment{Header: h, FileName: fileName, MimeType: mimeType, Comment: comment}
	if len(payload) < atV4FixedSize {
		return at
	}

	flags := leEngine().Uint16(payload[0:2])
	at.Embedded = flags&0x1 != 0
	at.Compressed = flags&0x2 != 0
	at.MD5Valid = flags&0x4 != 0
	copy(at.MD5[:], payload[8:24])
	at.OriginalSize = leEngine().Uint64(payload[24:32])
	embeddedSize := leEngine().Uint64(payload[32:40])
	if at.Embedded && embeddedSize > 0 && atV4FixedSize+int(embeddedSize) <= len(payload) {
		at.EmbeddedData = payload[atV4FixedSize : atV4FixedSize+int(embeddedSize)]
	}

	return at
}

// WriteAttachmentV4 appends a v4 AT block and returns its offset.
func WriteAttachmentV4(w *iohelp.Writer, at *Attachment, next, txFilename, txMimetype, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	payloadSize := atV4FixedSize + len(at.EmbeddedData)
	links := []int64{next, txFilename, txMimetype, mdComment}
	if _, err := WriteHeaderV4(w, "AT", links, payloadSize); err != nil {
		return 0, err
	}

	payload := make([]byte, atV4FixedSize)
	engine := leEngine()
	var flags uint16
	if at.Embedded {
		flags |= 0x1
	}
	if at.Compressed {
		flags |= 0x2
	}
	if at.MD5Valid {
		flags |= 0x4
	}
	engine.PutUint16(payload[0:2], flags)
	copy(payload[8:24], at.MD5[:])
	engine.PutUint64(payload[24:32], at.OriginalSize)
	engine.PutUint64(payload[32:40], uint64(len(at.EmbeddedData)))
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(at.EmbeddedData); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// v4 EVBLOCK fixed payload (0-scope, 0-attachment case), after the base
// links (ev_next, ev_parent, ev_range, tx_name, md_comment):
//
//	event_type u8, sync_type u8, range_type u8, cause u8, flags u8,
//	reserved[3], scope_count u32, attachment_count u16, creator_index u16,
//	sync_base_value i64, sync_factor f64.
const evV4FixedSize = 32

func parseEventV4(h Header, payload []byte, name, comment string) *Event {
	ev := &Event{Header: h, Name: name, Comment: comment}
	if len(payload) < evV4FixedSize {
		return ev
	}

	ev.EventType = payload[0]
	ev.SyncType = SyncType(payload[1])
	ev.RangeType = payload[2]
	ev.Cause = payload[3]
	engine := leEngine()
	ev.CreatorIndex = engine.Uint16(payload[14:16])
	ev.SyncValue = int64(engine.Uint64(payload[16:24]))

	return ev
}

// v4 CHBLOCK fixed payload (0-element case), after the base links (ch_next,
// ch_first_child, tx_name, md_comment): element_count u32, ch_type u8, reserved[3].
const chV4FixedSize = 8

func parseHierarchyV4(h Header, payload []byte, name, comment string) *Hierarchy {
	ch := &Hierarchy{Header: h, Name: name, Comment: comment}
	if len(payload) >= chV4FixedSize {
		ch.HType = payload[4]
	}

	return ch
}

// v4 SRBLOCK fixed payload, after the 2 links (sr_next, data):
//
//	cycle_count u64, interval f64, sync_type u8, reserved[7].
const srV4FixedSize = 24

func parseSampleReductionV4(h Header, payload []byte) *SampleReduction {
	sr := &SampleReduction{Header: h}
	if len(payload) < srV4FixedSize {
		return sr
	}

	engine := leEngine()
	sr.Count = engine.Uint64(payload[0:8])
	sr.IntervalS = math64(engine, payload[8:16])

	return sr
}
