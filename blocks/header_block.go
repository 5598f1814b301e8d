package blocks

import "github.com/openmdf/mdf/iohelp"

// FileHeader is the HD block: the single root of the measurement tree,
// owned directly by the file. Author/department/project/subject metadata
// is stored as fixed fields in v3 and as XML common-properties in a child
// MetaData block in v4; this module normalizes both into the same fields.
type FileHeader struct {
	Header

	Author     string
	Department string
	Project    string
	Subject    string
	Comment    string

	// StartTimeNs is the measurement start time, UTC nanoseconds since the Unix epoch.
	StartTimeNs int64
	TZOffsetMin int16
	DSTOffsetMin int16
	// LocalTime reports whether StartTimeNs is already local (v3 legacy files
	// that never declared a timezone); v4 files always store UTC.
	LocalTime bool

	StartAngleRad   float64
	StartAngleValid bool
	StartDistanceM   float64
	StartDistanceValid bool

	RecorderID    string
	RecorderIndex uint16
	MeasurementID string // v4: GUID-like measurement identifier

	DataGroups    []*DataGroup
	FileHistories []*FileHistory // v4 only
	Attachments   []*Attachment  // v4 only
	Events        []*Event       // v4 only
	Hierarchies   []*Hierarchy   // v4 only
}

func (b *FileHeader) Kind() string { return b.Header.Tag }
func (b *FileHeader) Hdr() *Header  { return &b.Header }

// NewFileHeader creates an empty HD block with the given UTC start time.
func NewFileHeader(startTimeNs int64) *FileHeader {
	return &FileHeader{StartTimeNs: startTimeNs}
}

// v4 HDBLOCK fixed payload, after the 6 links (dg_first, fh_first, ch_first,
// at_first, ev_first, md_comment):
//
//	start_time_ns u64, tz_offset_min i16, dst_offset_min i16, time_flags u8,
//	time_class u8, flags u8, reserved u8, start_angle_rad f64, start_distance_m f64.
const hdV4FixedSize = 32

// parseFileHeaderV4 decodes an HD block's fixed payload; its link-resolved
// fields (comment, data groups, file histories, ...) are filled in by the
// caller once those children have been parsed.
func parseFileHeaderV4(h Header, payload []byte) *FileHeader {
	hd := &FileHeader{Header: h}
	if len(payload) < hdV4FixedSize {
		return hd
	}

	engine := leEngine()
	hd.StartTimeNs = int64(engine.Uint64(payload[0:8]))
	hd.TZOffsetMin = int16(engine.Uint16(payload[8:10]))
	hd.DSTOffsetMin = int16(engine.Uint16(payload[10:12]))
	flags := payload[14]
	hd.StartAngleValid = flags&0x1 != 0
	hd.StartDistanceValid = flags&0x2 != 0
	hd.StartAngleRad = math64(engine, payload[16:24])
	hd.StartDistanceM = math64(engine, payload[24:32])

	return hd
}

// WriteFileHeaderV4 appends a v4 HD block and returns its offset. Callers
// provide already-written child offsets (dgFirst, fhFirst, ...) and a
// comment-block offset (0 if none).
func WriteFileHeaderV4(w *iohelp.Writer, hd *FileHeader, dgFirst, fhFirst, chFirst, atFirst, evFirst, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{dgFirst, fhFirst, chFirst, atFirst, evFirst, mdComment}
	if _, err := WriteHeaderV4(w, "HD", links, hdV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, hdV4FixedSize)
	engine := leEngine()
	engine.PutUint64(payload[0:8], uint64(hd.StartTimeNs))
	engine.PutUint16(payload[8:10], uint16(hd.TZOffsetMin))
	engine.PutUint16(payload[10:12], uint16(hd.DSTOffsetMin))
	var flags byte
	if hd.StartAngleValid {
		flags |= 0x1
	}
	if hd.StartDistanceValid {
		flags |= 0x2
	}
	payload[14] = flags
	putF64(engine, payload[16:24], hd.StartAngleRad)
	putF64(engine, payload[24:32], hd.StartDistanceM)
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// v4 FHBLOCK fixed payload, after the 2 links (fh_next, md_comment):
//
//	time_ns u64, tz_offset_min i16, dst_offset_min i16, time_flags u8, reserved[3].
const fhV4FixedSize = 16

func parseFileHistoryV4(h Header, payload []byte) *FileHistory {
	fh := &FileHistory{Header: h}
	if len(payload) < fhV4FixedSize {
		return fh
	}

	engine := leEngine()
	fh.TimeNs = int64(engine.Uint64(payload[0:8]))
	fh.TZOffsetMin = int16(engine.Uint16(payload[8:10]))
	fh.DSTOffsetMin = int16(engine.Uint16(payload[10:12]))

	return fh
}

// WriteFileHistoryV4 appends a v4 FH block and returns its offset.
func WriteFileHistoryV4(w *iohelp.Writer, fh *FileHistory, next, mdComment int64) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	if _, err := WriteHeaderV4(w, "FH", []int64{next, mdComment}, fhV4FixedSize); err != nil {
		return 0, err
	}

	payload := make([]byte, fhV4FixedSize)
	engine := leEngine()
	engine.PutUint64(payload[0:8], uint64(fh.TimeNs))
	engine.PutUint16(payload[8:10], uint16(fh.TZOffsetMin))
	engine.PutUint16(payload[10:12], uint16(fh.DSTOffsetMin))
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// FileHistory is an FH block (v4 only): one entry in the audit trail of
// tools that modified the file, with a free-text change comment.
type FileHistory struct {
	Header
	nextOffset   int64
	TimeNs       int64
	TZOffsetMin  int16
	DSTOffsetMin int16
	ToolID       string
	ToolVendor   string
	ToolVersion  string
	UserName     string
	Comment      string
}

func (b *FileHistory) Kind() string { return b.Header.Tag }
func (b *FileHistory) Hdr() *Header { return &b.Header }
